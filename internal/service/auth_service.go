package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/logcarga/armazem/internal/auth"
	"github.com/logcarga/armazem/internal/monitor"
	"github.com/logcarga/armazem/internal/repo"
	"github.com/logcarga/armazem/internal/util"
)

var (
	// ErrInvalidCredentials indica falha na autenticação.
	ErrInvalidCredentials = errors.New("credenciais inválidas")
	// ErrAccountDisabled indica conta desativada.
	ErrAccountDisabled = errors.New("conta desativada")
	// ErrContaBloqueada indica conta travada por excesso de tentativas.
	ErrContaBloqueada = errors.New("conta bloqueada temporariamente por tentativas de login")
	// ErrRefreshInvalid indica refresh token inválido ou expirado.
	ErrRefreshInvalid = errors.New("refresh token inválido")
	// ErrNoEligibleRoles indica ausência de papéis autorizados.
	ErrNoEligibleRoles = errors.New("usuário sem papel elegível")
)

type authRepository interface {
	GetUsuarioByEmail(ctx context.Context, email string) (repo.Usuario, error)
	GetUsuarioByID(ctx context.Context, id uuid.UUID) (repo.Usuario, error)
	ListTransportadorasByUsuario(ctx context.Context, usuarioID uuid.UUID) ([]repo.TransportadoraWithRole, error)
	GetClienteByEmail(ctx context.Context, email string) (repo.Cliente, error)
	GetClienteByID(ctx context.Context, id uuid.UUID) (repo.Cliente, error)
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (repo.TokenRefresh, error)
	InsertRefreshToken(ctx context.Context, arg repo.InsertRefreshTokenParams) (repo.TokenRefresh, error)
	InvalidateOtherRefreshTokens(ctx context.Context, subject uuid.UUID, audience, keepHash string) error
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	UpdateUsuario(ctx context.Context, id uuid.UUID, nome, email string) error
}

type redisCommander interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// AuthService concentra regras de autenticação e sessões.
type AuthService struct {
	repo       authRepository
	redis      redisCommander
	jwt        *auth.JWTManager
	secmon     *monitor.SecurityMonitor
	refreshTTL time.Duration
	pool       *pgxpool.Pool
}

// NewAuthService cria novo serviço. secmon pode ser nil em testes.
func NewAuthService(r *repo.Queries, pool *pgxpool.Pool, redisClient *redis.Client, jwtMgr *auth.JWTManager, secmon *monitor.SecurityMonitor, refreshTTL time.Duration) *AuthService {
	return &AuthService{repo: r, pool: pool, redis: redisClient, jwt: jwtMgr, secmon: secmon, refreshTTL: refreshTTL}
}

// JWT expõe gerenciador de JWT (útil em middlewares).
func (s *AuthService) JWT() *auth.JWTManager {
	return s.jwt
}

// LoginResult representa retorno padrão de autenticações.
type LoginResult struct {
	Audience      string
	AccessToken   string
	RefreshToken  string
	Subject       uuid.UUID
	Roles         []string
	Profile       any
	RefreshHash   string
	RefreshExpiry time.Time
}

type PasskeyCredential struct {
	ID           uuid.UUID
	UsuarioID    uuid.UUID
	CredentialID []byte
	PublicKey    []byte
	SignCount    uint32
	Transports   []string
	AAGUID       []byte
	Nickname     *string
	Cloned       bool
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

// BackofficeProfile descreve usuária(o) do backoffice.
type BackofficeProfile struct {
	ID              string                  `json:"id"`
	Nome            string                  `json:"nome"`
	Email           string                  `json:"email"`
	Transportadoras []ProfileTransportadora `json:"transportadoras"`
}

// ProfileTransportadora apresenta vínculo e papel.
type ProfileTransportadora struct {
	ID          string `json:"id"`
	RazaoSocial string `json:"razao_social"`
	Slug        string `json:"slug"`
	Papel       string `json:"papel"`
}

// ClienteProfile descreve usuário do portal do cliente.
type ClienteProfile struct {
	ID               string  `json:"id"`
	Nome             string  `json:"nome"`
	Email            *string `json:"email"`
	TransportadoraID string  `json:"transportadora_id"`
}

// LoginBackoffice autentica usuários internos. O bloqueio por tentativas
// é consultado antes de verificar a senha: conta travada nem toca o hash.
func (s *AuthService) LoginBackoffice(ctx context.Context, email, password, ip string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if s.secmon != nil && s.secmon.IsAccountLocked(email, ip) {
		restante := s.secmon.RemainingLockout(email, ip)
		return nil, fmt.Errorf("%w (tente em %s)", ErrContaBloqueada, restante.Round(time.Second))
	}

	user, err := s.repo.GetUsuarioByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Warn().Msg("login backoffice: usuário não encontrado")
			s.recordFailure(ctx, email, ip)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := auth.Verify(password, user.SenhaHash)
	if err != nil {
		log.Warn().Err(err).Msg("login backoffice: verify password failed")
		s.recordFailure(ctx, email, ip)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		log.Warn().Msg("login backoffice: senha inválida")
		s.recordFailure(ctx, email, ip)
		return nil, ErrInvalidCredentials
	}

	if s.secmon != nil {
		s.secmon.ClearFailedLogins(email, ip)
	}

	return s.loginBackofficeFromUser(ctx, user)
}

// LoginBackofficeWithUser emite sessão para usuário já autenticado
// por outro fator (passkey).
func (s *AuthService) LoginBackofficeWithUser(ctx context.Context, user repo.Usuario) (*LoginResult, error) {
	return s.loginBackofficeFromUser(ctx, user)
}

func (s *AuthService) loginBackofficeFromUser(ctx context.Context, user repo.Usuario) (*LoginResult, error) {
	if !user.Ativo {
		return nil, ErrAccountDisabled
	}

	vinculos, err := s.repo.ListTransportadorasByUsuario(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	roles := buildRolesFromVinculos(vinculos, user.SuperAdmin)
	if len(roles) == 0 {
		return nil, ErrNoEligibleRoles
	}

	token, _, err := s.jwt.GenerateAccessToken(user.ID.String(), "backoffice", roles)
	if err != nil {
		return nil, err
	}

	rawRefresh, refreshHash, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	expires := util.Now().Add(s.refreshTTL)
	if err := s.persistRefresh(ctx, user.ID, "backoffice", refreshHash, expires); err != nil {
		return nil, err
	}

	return &LoginResult{
		Audience:      "backoffice",
		AccessToken:   token,
		RefreshToken:  rawRefresh,
		Subject:       user.ID,
		Roles:         roles,
		Profile:       buildBackofficeProfile(user, vinculos),
		RefreshHash:   refreshHash,
		RefreshExpiry: expires,
	}, nil
}

func (s *AuthService) GetUsuarioByID(ctx context.Context, id uuid.UUID) (repo.Usuario, error) {
	return s.repo.GetUsuarioByID(ctx, id)
}

func (s *AuthService) GetUsuarioByEmail(ctx context.Context, email string) (repo.Usuario, error) {
	return s.repo.GetUsuarioByEmail(ctx, strings.ToLower(email))
}

func (s *AuthService) ListPasskeys(ctx context.Context, usuarioID uuid.UUID) ([]PasskeyCredential, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, usuario_id, credential_id, public_key, sign_count, transports, aaguid, nickname, cloned, created_at, updated_at
        FROM webauthn_credentials
        WHERE usuario_id = $1
        ORDER BY created_at DESC
    `, usuarioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []PasskeyCredential
	for rows.Next() {
		var (
			cred PasskeyCredential
			sign int64
		)
		if err := rows.Scan(&cred.ID, &cred.UsuarioID, &cred.CredentialID, &cred.PublicKey, &sign, &cred.Transports, &cred.AAGUID, &cred.Nickname, &cred.Cloned, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
			return nil, err
		}
		if sign < 0 {
			sign = 0
		}
		cred.SignCount = uint32(sign)
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return creds, nil
}

func (s *AuthService) GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (*PasskeyCredential, error) {
	var (
		cred PasskeyCredential
		sign int64
	)
	err := s.pool.QueryRow(ctx, `
        SELECT id, usuario_id, credential_id, public_key, sign_count, transports, aaguid, nickname, cloned, created_at, updated_at
        FROM webauthn_credentials
        WHERE credential_id = $1
    `, credentialID).Scan(&cred.ID, &cred.UsuarioID, &cred.CredentialID, &cred.PublicKey, &sign, &cred.Transports, &cred.AAGUID, &cred.Nickname, &cred.Cloned, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		return nil, err
	}
	if sign < 0 {
		sign = 0
	}
	cred.SignCount = uint32(sign)
	return &cred, nil
}

func (s *AuthService) CreatePasskey(ctx context.Context, usuarioID uuid.UUID, credentialID, publicKey []byte, signCount uint32, transports []string, aaguid []byte, nickname *string, cloned bool) (*PasskeyCredential, error) {
	var (
		cred      PasskeyCredential
		updatedAt *time.Time
		signVal   int64
	)
	err := s.pool.QueryRow(ctx, `
        INSERT INTO webauthn_credentials (usuario_id, credential_id, public_key, sign_count, transports, aaguid, nickname, cloned)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, usuario_id, credential_id, public_key, sign_count, transports, aaguid, nickname, cloned, created_at, updated_at
    `, usuarioID, credentialID, publicKey, int64(signCount), transports, aaguid, nickname, cloned).Scan(
		&cred.ID,
		&cred.UsuarioID,
		&cred.CredentialID,
		&cred.PublicKey,
		&signVal,
		&cred.Transports,
		&cred.AAGUID,
		&cred.Nickname,
		&cred.Cloned,
		&cred.CreatedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if signVal < 0 {
		signVal = 0
	}
	cred.SignCount = uint32(signVal)
	cred.UpdatedAt = updatedAt
	return &cred, nil
}

func (s *AuthService) UpdatePasskeyCounter(ctx context.Context, credentialID uuid.UUID, signCount uint32, cloned bool) error {
	cmd, err := s.pool.Exec(ctx, `
        UPDATE webauthn_credentials
        SET sign_count = $2, cloned = $3, updated_at = now()
        WHERE id = $1
    `, credentialID, int64(signCount), cloned)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// LoginCliente autentica o portal de acompanhamento de cargas.
func (s *AuthService) LoginCliente(ctx context.Context, email, password, ip string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if s.secmon != nil && s.secmon.IsAccountLocked(email, ip) {
		restante := s.secmon.RemainingLockout(email, ip)
		return nil, fmt.Errorf("%w (tente em %s)", ErrContaBloqueada, restante.Round(time.Second))
	}

	cliente, err := s.repo.GetClienteByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Warn().Msg("login cliente: usuário não encontrado")
			s.recordFailure(ctx, email, ip)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !cliente.Ativo {
		return nil, ErrAccountDisabled
	}

	if cliente.SenhaHash == nil {
		return nil, ErrInvalidCredentials
	}

	ok, err := auth.Verify(password, *cliente.SenhaHash)
	if err != nil {
		log.Warn().Err(err).Msg("login cliente: verify password failed")
		s.recordFailure(ctx, email, ip)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		log.Warn().Msg("login cliente: senha inválida")
		s.recordFailure(ctx, email, ip)
		return nil, ErrInvalidCredentials
	}

	if s.secmon != nil {
		s.secmon.ClearFailedLogins(email, ip)
	}

	roles := []string{"CLIENTE"}
	token, _, err := s.jwt.GenerateAccessToken(cliente.ID.String(), "cliente", roles)
	if err != nil {
		return nil, err
	}

	rawRefresh, refreshHash, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	expires := util.Now().Add(s.refreshTTL)
	if err := s.persistRefresh(ctx, cliente.ID, "cliente", refreshHash, expires); err != nil {
		return nil, err
	}

	return &LoginResult{
		Audience:      "cliente",
		AccessToken:   token,
		RefreshToken:  rawRefresh,
		Subject:       cliente.ID,
		Roles:         roles,
		Profile:       buildClienteProfile(cliente),
		RefreshHash:   refreshHash,
		RefreshExpiry: expires,
	}, nil
}

// Refresh troca refresh token por novos tokens.
func (s *AuthService) Refresh(ctx context.Context, audience, rawToken string) (*LoginResult, error) {
	if rawToken == "" {
		return nil, ErrRefreshInvalid
	}

	hash := auth.HashRefreshToken(rawToken)
	record, err := s.repo.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRefreshInvalid
		}
		return nil, err
	}

	if record.Revogado || time.Now().UTC().After(record.Expiracao) || record.Audience != audience {
		// Token revogado que volta a aparecer é indício de sessão roubada.
		if record.Revogado && s.secmon != nil {
			s.secmon.RecordSessionAnomaly(ctx, &record.Subject, map[string]any{
				"motivo":   "refresh revogado reutilizado",
				"audience": audience,
			})
		}
		return nil, ErrRefreshInvalid
	}

	redisKey := auth.RefreshRedisKey(audience, hash)
	status, err := s.redis.Get(ctx, redisKey).Result()
	if err == redis.Nil {
		return nil, ErrRefreshInvalid
	}
	if err != nil {
		return nil, err
	}
	if status != "active" {
		return nil, ErrRefreshInvalid
	}

	var result *LoginResult
	switch audience {
	case "backoffice":
		user, err := s.repo.GetUsuarioByID(ctx, record.Subject)
		if err != nil {
			return nil, err
		}

		vinculos, err := s.repo.ListTransportadorasByUsuario(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		roles := buildRolesFromVinculos(vinculos, user.SuperAdmin)
		if len(roles) == 0 {
			return nil, ErrNoEligibleRoles
		}

		token, _, err := s.jwt.GenerateAccessToken(user.ID.String(), audience, roles)
		if err != nil {
			return nil, err
		}

		rawRefresh, refreshHash, err := auth.GenerateRefreshToken()
		if err != nil {
			return nil, err
		}

		expires := util.Now().Add(s.refreshTTL)
		if err := s.persistRefresh(ctx, user.ID, audience, refreshHash, expires); err != nil {
			return nil, err
		}

		result = &LoginResult{
			Audience:      audience,
			AccessToken:   token,
			RefreshToken:  rawRefresh,
			Subject:       user.ID,
			Roles:         roles,
			Profile:       buildBackofficeProfile(user, vinculos),
			RefreshHash:   refreshHash,
			RefreshExpiry: expires,
		}
	case "cliente":
		cliente, err := s.repo.GetClienteByID(ctx, record.Subject)
		if err != nil {
			return nil, err
		}

		roles := []string{"CLIENTE"}
		token, _, err := s.jwt.GenerateAccessToken(cliente.ID.String(), audience, roles)
		if err != nil {
			return nil, err
		}

		rawRefresh, refreshHash, err := auth.GenerateRefreshToken()
		if err != nil {
			return nil, err
		}

		expires := util.Now().Add(s.refreshTTL)
		if err := s.persistRefresh(ctx, cliente.ID, audience, refreshHash, expires); err != nil {
			return nil, err
		}

		result = &LoginResult{
			Audience:      audience,
			AccessToken:   token,
			RefreshToken:  rawRefresh,
			Subject:       cliente.ID,
			Roles:         roles,
			Profile:       buildClienteProfile(cliente),
			RefreshHash:   refreshHash,
			RefreshExpiry: expires,
		}
	default:
		return nil, ErrRefreshInvalid
	}

	// Revoga token anterior (DB + Redis)
	if err := s.repo.RevokeRefreshToken(ctx, hash); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if err := s.redis.Del(ctx, redisKey).Err(); err != nil && err != redis.Nil {
		return nil, err
	}

	return result, nil
}

// Logout revoga refresh token atual.
func (s *AuthService) Logout(ctx context.Context, audience, rawToken string) error {
	if rawToken == "" {
		return nil
	}
	hash := auth.HashRefreshToken(rawToken)
	if err := s.repo.RevokeRefreshToken(ctx, hash); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	redisKey := auth.RefreshRedisKey(audience, hash)
	if err := s.redis.Del(ctx, redisKey).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

// GetMe retorna perfil completo para subject/audience.
func (s *AuthService) GetMe(ctx context.Context, audience string, subject uuid.UUID) (any, []string, error) {
	switch audience {
	case "backoffice":
		user, err := s.repo.GetUsuarioByID(ctx, subject)
		if err != nil {
			return nil, nil, err
		}

		vinculos, err := s.repo.ListTransportadorasByUsuario(ctx, subject)
		if err != nil {
			return nil, nil, err
		}

		roles := buildRolesFromVinculos(vinculos, user.SuperAdmin)
		if len(roles) == 0 {
			return nil, nil, ErrNoEligibleRoles
		}

		return buildBackofficeProfile(user, vinculos), roles, nil
	case "cliente":
		cliente, err := s.repo.GetClienteByID(ctx, subject)
		if err != nil {
			return nil, nil, err
		}
		return buildClienteProfile(cliente), []string{"CLIENTE"}, nil
	default:
		return nil, nil, errors.New("audience desconhecida")
	}
}

func (s *AuthService) recordFailure(ctx context.Context, email, ip string) {
	if s.secmon == nil {
		return
	}
	s.secmon.RecordFailedLogin(ctx, email, ip)
}

func (s *AuthService) persistRefresh(ctx context.Context, subject uuid.UUID, audience, hash string, expires time.Time) error {
	_, err := s.repo.InsertRefreshToken(ctx, repo.InsertRefreshTokenParams{
		ID:        uuid.New(),
		Subject:   subject,
		Audience:  audience,
		TokenHash: hash,
		Expiracao: expires,
		CriadoEm:  util.Now(),
	})
	if err != nil {
		return err
	}

	if err := s.repo.InvalidateOtherRefreshTokens(ctx, subject, audience, hash); err != nil {
		return err
	}

	return s.redis.Set(ctx, auth.RefreshRedisKey(audience, hash), "active", time.Until(expires)).Err()
}

func buildBackofficeProfile(user repo.Usuario, vinculos []repo.TransportadoraWithRole) *BackofficeProfile {
	profile := &BackofficeProfile{
		ID:    user.ID.String(),
		Nome:  user.Nome,
		Email: user.Email,
	}
	for _, v := range vinculos {
		profile.Transportadoras = append(profile.Transportadoras, ProfileTransportadora{
			ID:          v.TransportadoraID.String(),
			RazaoSocial: v.RazaoSocial,
			Slug:        v.Slug,
			Papel:       v.Papel,
		})
	}
	return profile
}

func buildClienteProfile(cliente repo.Cliente) *ClienteProfile {
	return &ClienteProfile{
		ID:               cliente.ID.String(),
		Nome:             cliente.Nome,
		Email:            cliente.Email,
		TransportadoraID: cliente.TransportadoraID.String(),
	}
}

func buildRolesFromVinculos(vinculos []repo.TransportadoraWithRole, superAdmin bool) []string {
	var roles []string
	if superAdmin {
		roles = appendIfMissing(roles, "SUPER_ADMIN")
	}
	for _, v := range vinculos {
		role := strings.ToUpper(strings.TrimSpace(v.Papel))
		if role == "" {
			continue
		}
		roles = appendIfMissing(roles, role)
	}
	return roles
}

func appendIfMissing(values []string, value string) []string {
	value = strings.ToUpper(strings.TrimSpace(value))
	if value == "" {
		return values
	}
	for _, existing := range values {
		if existing == value {
			return values
		}
	}
	return append(values, value)
}

// Identidade devolve um provedor preso ao sujeito do token, para sessões
// longas (websocket) que revalidam o cadastro via auth.Cache.
func (s *AuthService) Identidade(audience string, subject uuid.UUID) auth.IdentityProvider {
	return &identitySource{svc: s, audience: strings.ToLower(audience), subject: subject}
}

type identitySource struct {
	svc      *AuthService
	audience string
	subject  uuid.UUID
}

func (p *identitySource) CurrentUser(ctx context.Context) (auth.Principal, error) {
	if p.audience == "cliente" {
		cliente, err := p.svc.repo.GetClienteByID(ctx, p.subject)
		if err != nil {
			return auth.Principal{}, err
		}
		if !cliente.Ativo {
			return auth.Principal{}, ErrAccountDisabled
		}
		principal := auth.Principal{ID: cliente.ID, Papel: "CLIENTE"}
		if cliente.Email != nil {
			principal.Email = *cliente.Email
		}
		tid := cliente.TransportadoraID
		principal.TransportadoraID = &tid
		return principal, nil
	}

	user, err := p.svc.repo.GetUsuarioByID(ctx, p.subject)
	if err != nil {
		return auth.Principal{}, err
	}
	if !user.Ativo {
		return auth.Principal{}, ErrAccountDisabled
	}

	principal := auth.Principal{ID: user.ID, Email: user.Email}
	if user.SuperAdmin {
		principal.Papel = "SUPER_ADMIN"
		return principal, nil
	}

	vinculos, err := p.svc.repo.ListTransportadorasByUsuario(ctx, user.ID)
	if err != nil {
		return auth.Principal{}, err
	}
	if len(vinculos) == 0 {
		return auth.Principal{}, ErrNoEligibleRoles
	}
	principal.Papel = strings.ToUpper(strings.TrimSpace(vinculos[0].Papel))
	tid := vinculos[0].TransportadoraID
	principal.TransportadoraID = &tid
	return principal, nil
}
