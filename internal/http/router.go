package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/logcarga/armazem/internal/auth"
	"github.com/logcarga/armazem/internal/config"
	httpmiddleware "github.com/logcarga/armazem/internal/http/middleware"
	"github.com/logcarga/armazem/internal/monitor"
	"github.com/logcarga/armazem/internal/nf"
	"github.com/logcarga/armazem/internal/pedido"
	"github.com/logcarga/armazem/internal/realtime"
	"github.com/logcarga/armazem/internal/service"
	"github.com/logcarga/armazem/internal/transportadora"
)

// Deps agrupa os serviços construídos em main. Tudo que tem ciclo de vida
// (Start/Stop) chega pronto; o roteador só liga handlers.
type Deps struct {
	Cfg             *config.Config
	Pool            *pgxpool.Pool
	Redis           *redis.Client
	Auth            *service.AuthService
	Users           *service.UserService
	RBAC            *service.RBACService
	Transportadoras *transportadora.Service
	Notas           *nf.Service
	Pedidos         *pedido.Service
	Hub             *realtime.Hub
	Debugger        *realtime.Debugger
	Errors          *monitor.ErrorHandler
	Security        *monitor.SecurityMonitor
}

type Handler struct {
	cfg             *config.Config
	pool            *pgxpool.Pool
	redis           *redis.Client
	authService     *service.AuthService
	users           *service.UserService
	transportadoras *transportadora.Service
	hub             *realtime.Hub
	debugger        *realtime.Debugger
	errorHandler    *monitor.ErrorHandler
	security        *monitor.SecurityMonitor
	webauthn        *webauthn.WebAuthn
	publicLimiter   *httpmiddleware.RateLimiter
	authLimiter     *httpmiddleware.RateLimiter
	devCookies      bool
}

const (
	passkeyRegisterSessionPrefix = "webauthn:register:"
	passkeyLoginSessionPrefix    = "webauthn:login:"
	passkeySessionTTL            = 5 * time.Minute
)

// NewRouter devolve roteador configurado.
func NewRouter(deps Deps) (http.Handler, error) {
	cfg := deps.Cfg

	devCookies := false
	for _, origin := range cfg.AllowOrigins {
		if strings.Contains(origin, "localhost") {
			devCookies = true
			break
		}
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.WebAuthnRPName,
		RPID:          cfg.WebAuthnRPID,
		RPOrigins:     []string{cfg.WebAuthnRPOrigin},
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn: %w", err)
	}

	h := &Handler{
		cfg:             cfg,
		pool:            deps.Pool,
		redis:           deps.Redis,
		authService:     deps.Auth,
		users:           deps.Users,
		transportadoras: deps.Transportadoras,
		hub:             deps.Hub,
		debugger:        deps.Debugger,
		errorHandler:    deps.Errors,
		security:        deps.Security,
		webauthn:        wa,
		publicLimiter:   httpmiddleware.NewRateLimiter(cfg.RateLimitPublic.RequestsPerSecond, cfg.RateLimitPublic.Burst),
		authLimiter:     httpmiddleware.NewRateLimiter(cfg.RateLimitAuth.RequestsPerSecond, cfg.RateLimitAuth.Burst),
		devCookies:      devCookies,
	}

	nfHandler := nf.NewHandler(deps.Notas)
	pedidoHandler := pedido.NewHandler(deps.Pedidos)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(httpmiddleware.Logging)
	r.Use(httpmiddleware.Recover)
	r.Use(httpmiddleware.CORS(cfg.AllowOrigins))

	r.Group(func(public chi.Router) {
		public.Use(httpmiddleware.IPRateLimit(h.publicLimiter))

		public.Get("/health", h.Health)
		public.Get("/ready", h.Ready)
		public.Get("/transportadora", h.TransportadoraPublica)
		public.Handle("/metrics", promhttp.Handler())

		public.Route("/auth", func(auth chi.Router) {
			auth.Post("/backoffice/login", h.LoginBackoffice)
			auth.Post("/cliente/login", h.LoginCliente)
			auth.Post("/passkey/login/start", h.PasskeyLoginStart)
			auth.Post("/passkey/login/finish", h.PasskeyLoginFinish)
			auth.Post("/refresh", h.Refresh)
			auth.Post("/logout", h.Logout)
		})
	})

	r.Group(func(private chi.Router) {
		private.Use(httpmiddleware.Auth(deps.Auth.JWT()))
		private.Use(httpmiddleware.UserRateLimit(h.authLimiter, deps.Security))

		private.Get("/me", h.Me)
		private.Get("/realtime/ws", h.RealtimeWS)
		private.Route("/auth/passkey/register", func(r chi.Router) {
			r.Post("/start", h.PasskeyRegisterStart)
			r.Post("/finish", h.PasskeyRegisterFinish)
		})

		private.Group(func(operacao chi.Router) {
			operacao.Use(httpmiddleware.Scope(deps.RBAC, deps.Security))

			nf.Mount(operacao, nfHandler)
			pedido.Mount(operacao, pedidoHandler)

			operacao.Group(func(admin chi.Router) {
				admin.Use(httpmiddleware.RequireRoles(deps.Security, "SUPER_ADMIN", "ADMIN_TRANSPORTADORA"))
				admin.Route("/usuarios", func(u chi.Router) {
					u.Get("/", h.ListUsuarios)
					u.Post("/", h.CreateUsuario)
					u.Patch("/{id}", h.UpdateUsuario)
					u.Post("/{id}/papel", h.AssignPapel)
					u.Delete("/{id}/papel", h.RemovePapel)
					u.Post("/{id}/senha", h.ChangeUsuarioSenha)
					u.Post("/{id}/ativo", h.SetUsuarioAtivo)
				})
			})
		})

		private.Group(func(admin chi.Router) {
			admin.Use(httpmiddleware.RequireSuperAdmin(deps.Security))
			admin.Route("/admin", func(a chi.Router) {
				a.Route("/transportadoras", func(t chi.Router) {
					t.Get("/", h.ListTransportadoras)
					t.Post("/", h.CreateTransportadora)
					t.Get("/{id}", h.GetTransportadora)
					t.Put("/{id}/settings", h.UpdateTransportadoraSettings)
					t.Post("/{id}/ativa", h.SetTransportadoraAtiva)
				})
				a.Get("/errors/metrics", h.ErrorMetrics)
				a.Get("/realtime/events", h.RealtimeEvents)
			})
		})
	})

	return r, nil
}

// Health responde status simples.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready valida conexões com Postgres e Redis.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbErr := h.pool.Ping(ctx)
	redisErr := h.redis.Ping(ctx).Err()

	if dbErr != nil || redisErr != nil {
		WriteError(w, http.StatusServiceUnavailable, "INTERNAL", "dependências indisponíveis", map[string]any{
			"db":    errorString(dbErr),
			"redis": errorString(redisErr),
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// TransportadoraPublica resolve a transportadora pelo domínio da requisição.
// Alimenta a tela de login com nome e configurações visuais.
func (h *Handler) TransportadoraPublica(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("dominio")
	if host == "" {
		host = r.Host
	}

	t, err := h.transportadoras.Resolve(r.Context(), host)
	if err != nil {
		if errors.Is(err, transportadora.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "NOT_FOUND", "transportadora não encontrada", nil)
			return
		}
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "não foi possível resolver transportadora", nil)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"id":           t.ID,
		"slug":         t.Slug,
		"razao_social": t.RazaoSocial,
		"settings":     t.Settings,
	})
}

// LoginBackoffice realiza autenticação de operadores e administradores.
func (h *Handler) LoginBackoffice(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
		Senha string `json:"senha"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "JSON inválido", nil)
		return
	}

	if strings.TrimSpace(payload.Email) == "" || strings.TrimSpace(payload.Senha) == "" {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "email e senha são obrigatórios", nil)
		return
	}

	result, err := h.authService.LoginBackoffice(r.Context(), payload.Email, payload.Senha, clientIP(r))
	if err != nil {
		h.handleAuthError(w, err)
		return
	}

	h.writeLoginSuccess(w, result)
}

// LoginCliente autentica o portal de acompanhamento de cargas.
func (h *Handler) LoginCliente(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
		Senha string `json:"senha"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "JSON inválido", nil)
		return
	}

	if strings.TrimSpace(payload.Email) == "" || strings.TrimSpace(payload.Senha) == "" {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "email e senha são obrigatórios", nil)
		return
	}

	result, err := h.authService.LoginCliente(r.Context(), payload.Email, payload.Senha, clientIP(r))
	if err != nil {
		h.handleAuthError(w, err)
		return
	}

	h.writeLoginSuccess(w, result)
}

// Refresh rotaciona token de acesso.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	audience, token, err := getRefreshFromRequest(r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "AUTH", "refresh ausente", nil)
		return
	}

	result, err := h.authService.Refresh(r.Context(), audience, token)
	if err != nil {
		if errors.Is(err, service.ErrRefreshInvalid) {
			WriteError(w, http.StatusUnauthorized, "AUTH", "refresh inválido", nil)
			return
		}
		if errors.Is(err, service.ErrNoEligibleRoles) {
			WriteError(w, http.StatusUnauthorized, "AUTH", err.Error(), nil)
			return
		}
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "erro ao renovar sessão", nil)
		return
	}

	h.writeLoginSuccess(w, result)
}

// Logout revoga refresh token atual.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if audience, token, err := getRefreshFromRequest(r); err == nil {
		_ = h.authService.Logout(r.Context(), audience, token)
	}

	h.clearRefreshCookie(w, "backoffice")
	h.clearRefreshCookie(w, "cliente")
	WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Me retorna informações do usuário autenticado.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	subjectStr := httpmiddleware.GetSubject(r.Context())
	audience := httpmiddleware.GetAudience(r.Context())

	subject, err := uuid.Parse(subjectStr)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "AUTH", "subject inválido", nil)
		return
	}

	profile, roles, err := h.authService.GetMe(r.Context(), audience, subject)
	if err != nil {
		if errors.Is(err, service.ErrNoEligibleRoles) {
			WriteError(w, http.StatusUnauthorized, "AUTH", err.Error(), nil)
			return
		}
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "não foi possível carregar perfil", nil)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"user":  profile,
		"roles": roles,
	})
}

// RealtimeWS abre a conexão websocket amarrada à identidade do token.
// A sessão revalida a identidade contra o banco em intervalos, derrubando
// conexões de contas desativadas sem esperar o access token expirar.
func (h *Handler) RealtimeWS(w http.ResponseWriter, r *http.Request) {
	subjectStr := httpmiddleware.GetSubject(r.Context())
	audience := httpmiddleware.GetAudience(r.Context())

	subject, err := uuid.Parse(subjectStr)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "AUTH", "subject inválido", nil)
		return
	}

	session := auth.NewCache(h.authService.Identidade(audience, subject))
	h.hub.ServeSession(w, r, session)
}

func (h *Handler) handleAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		WriteError(w, http.StatusUnauthorized, "AUTH", err.Error(), nil)
	case errors.Is(err, service.ErrContaBloqueada):
		WriteError(w, http.StatusTooManyRequests, "LOCKED", err.Error(), nil)
	case errors.Is(err, service.ErrAccountDisabled):
		WriteError(w, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	case errors.Is(err, service.ErrNoEligibleRoles):
		WriteError(w, http.StatusUnauthorized, "AUTH", err.Error(), nil)
	default:
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "erro ao autenticar", nil)
	}
}

func (h *Handler) writeLoginSuccess(w http.ResponseWriter, result *service.LoginResult) {
	h.setRefreshCookie(w, result.Audience, result.RefreshToken, result.RefreshExpiry)

	WriteJSON(w, http.StatusOK, map[string]any{
		"access_token": result.AccessToken,
		"user":         result.Profile,
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

const (
	refreshCookieBackoffice = "backoffice"
	refreshCookieCliente    = "cliente"
)

func getRefreshFromRequest(r *http.Request) (string, string, error) {
	if c, err := r.Cookie(refreshCookieBackoffice); err == nil && c.Value != "" {
		return "backoffice", c.Value, nil
	}
	if c, err := r.Cookie(refreshCookieCliente); err == nil && c.Value != "" {
		return "cliente", c.Value, nil
	}
	return "", "", errors.New("refresh ausente")
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, audience, token string, expires time.Time) {
	name := refreshCookieCliente
	if audience == "backoffice" {
		name = refreshCookieBackoffice
	}
	secure := !h.devCookies
	sameSite := http.SameSiteNoneMode
	if h.devCookies {
		sameSite = http.SameSiteLaxMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter, audience string) {
	name := refreshCookieCliente
	if audience == "backoffice" {
		name = refreshCookieBackoffice
	}
	secure := !h.devCookies
	sameSite := http.SameSiteNoneMode
	if h.devCookies {
		sameSite = http.SameSiteLaxMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	})
}
