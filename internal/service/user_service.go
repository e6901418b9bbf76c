package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/logcarga/armazem/internal/auth"
	"github.com/logcarga/armazem/internal/repo"
	"github.com/logcarga/armazem/internal/util"
)

// Papéis aceitos em vínculos usuário-transportadora.
const (
	PapelAdminTransportadora = "admin_transportadora"
	PapelOperador            = "operador"
)

var validPapeis = map[string]struct{}{
	PapelAdminTransportadora: {},
	PapelOperador:            {},
}

// ErrPapelInvalido indica papel fora do enum de vínculos.
var ErrPapelInvalido = errors.New("papel inválido")

// UserService centraliza o cadastro de usuários do backoffice.
type UserService struct {
	repo *repo.Queries
}

// NewUserService cria nova instância do serviço.
func NewUserService(r *repo.Queries) *UserService {
	return &UserService{repo: r}
}

// ListUsers retorna os usuários vinculados à transportadora.
func (s *UserService) ListUsers(ctx context.Context, transportadoraID uuid.UUID) ([]repo.Usuario, error) {
	return s.repo.ListUsuariosByTransportadora(ctx, transportadoraID)
}

// CreateUser cria um usuário ativo imediatamente, já vinculado à
// transportadora com o papel dado (sem fluxo de convite).
func (s *UserService) CreateUser(ctx context.Context, transportadoraID uuid.UUID, nome, email, papel, password string) (*repo.Usuario, error) {
	if err := util.RequireString(nome, "nome"); err != nil {
		return nil, err
	}
	if err := util.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := util.ValidatePassword(password); err != nil {
		return nil, err
	}

	papel = NormalizePapel(papel)
	if !IsValidPapel(papel) {
		return nil, ErrPapelInvalido
	}

	hash, err := auth.Hash(password)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.CreateUsuario(ctx, repo.CreateUsuarioParams{
		Nome:      strings.TrimSpace(nome),
		Email:     strings.TrimSpace(email),
		SenhaHash: hash,
		Ativo:     true,
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpsertVinculo(ctx, repo.VinculoTransportadora{
		UsuarioID:        user.ID,
		TransportadoraID: transportadoraID,
		Papel:            papel,
	}); err != nil {
		return nil, err
	}

	return &user, nil
}

// AssignRole cria ou atualiza o papel do usuário na transportadora.
func (s *UserService) AssignRole(ctx context.Context, usuarioID, transportadoraID uuid.UUID, papel string) error {
	papel = NormalizePapel(papel)
	if !IsValidPapel(papel) {
		return ErrPapelInvalido
	}
	if _, err := s.repo.GetUsuarioByID(ctx, usuarioID); err != nil {
		return err
	}
	return s.repo.UpsertVinculo(ctx, repo.VinculoTransportadora{
		UsuarioID:        usuarioID,
		TransportadoraID: transportadoraID,
		Papel:            papel,
	})
}

// RemoveRole desfaz o vínculo do usuário com a transportadora.
func (s *UserService) RemoveRole(ctx context.Context, usuarioID, transportadoraID uuid.UUID) error {
	return s.repo.RemoveVinculo(ctx, usuarioID, transportadoraID)
}

// UpdateUser atualiza nome e e-mail.
func (s *UserService) UpdateUser(ctx context.Context, id uuid.UUID, nome, email string) error {
	if err := util.RequireString(nome, "nome"); err != nil {
		return err
	}
	if err := util.ValidateEmail(email); err != nil {
		return err
	}
	return s.repo.UpdateUsuario(ctx, id, nome, email)
}

// SetActive liga ou desliga a conta do usuário.
func (s *UserService) SetActive(ctx context.Context, id uuid.UUID, ativo bool) error {
	return s.repo.SetUsuarioAtivo(ctx, id, ativo)
}

// ChangePassword troca a senha do usuário.
func (s *UserService) ChangePassword(ctx context.Context, id uuid.UUID, password string) error {
	if err := util.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := auth.Hash(password)
	if err != nil {
		return err
	}
	return s.repo.UpdateUsuarioSenha(ctx, id, hash)
}

// NormalizePapel padroniza o papel do vínculo.
func NormalizePapel(papel string) string {
	return strings.ToLower(strings.TrimSpace(papel))
}

// IsValidPapel indica se o papel é aceito em vínculos.
func IsValidPapel(papel string) bool {
	_, ok := validPapeis[papel]
	return ok
}
