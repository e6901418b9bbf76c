package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/logcarga/armazem/internal/auth"
)

type contextKey string

const (
	ContextKeySubject        contextKey = "subject"
	ContextKeyAudience       contextKey = "audience"
	ContextKeyRoles          contextKey = "roles"
	ContextKeyTransportadora contextKey = "transportadora"
	ContextKeyCliente        contextKey = "cliente"
)

// EscalationRecorder recebe tentativas de acesso acima do papel do token.
type EscalationRecorder interface {
	RecordPermissionEscalation(ctx context.Context, userID *uuid.UUID, meta map[string]any)
}

// Auth valida JWT de acesso e injeta claims no contexto.
func Auth(jwtManager *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "AUTH", "token ausente")
				return
			}

			claims, err := jwtManager.ParseAndValidate(parts[1])
			if err != nil {
				writeError(w, http.StatusUnauthorized, "AUTH", "token inválido")
				return
			}

			if len(claims.Audience) == 0 {
				writeError(w, http.StatusUnauthorized, "AUTH", "audience inválida")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySubject, claims.Subject)
			ctx = context.WithValue(ctx, ContextKeyAudience, claims.Audience[0])
			ctx = context.WithValue(ctx, ContextKeyRoles, claims.Roles)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSubject recupera subject do contexto.
func GetSubject(ctx context.Context) string {
	val, _ := ctx.Value(ContextKeySubject).(string)
	return val
}

// GetAudience recupera audience do contexto.
func GetAudience(ctx context.Context) string {
	val, _ := ctx.Value(ContextKeyAudience).(string)
	return val
}

// GetRoles recupera roles do contexto.
func GetRoles(ctx context.Context) []string {
	val, _ := ctx.Value(ContextKeyRoles).([]string)
	return val
}

// HasRole informa se o contexto carrega um dos papéis dados.
func HasRole(ctx context.Context, wanted ...string) bool {
	roles := GetRoles(ctx)
	for _, role := range roles {
		for _, want := range wanted {
			if strings.EqualFold(role, want) {
				return true
			}
		}
	}
	return false
}

// RequireRoles garante que o usuário possua pelo menos um dos papéis
// informados. Negações contam como tentativa de escalação no monitor.
func RequireRoles(sec EscalationRecorder, requiredRoles ...string) func(http.Handler) http.Handler {
	normalized := make([]string, 0, len(requiredRoles))
	for _, role := range requiredRoles {
		role = strings.ToUpper(strings.TrimSpace(role))
		if role != "" {
			normalized = append(normalized, role)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			roles := GetRoles(r.Context())
			for _, role := range roles {
				roleUpper := strings.ToUpper(strings.TrimSpace(role))
				for _, required := range normalized {
					if roleUpper == required {
						next.ServeHTTP(w, r)
						return
					}
				}
			}

			recordEscalation(r, sec, map[string]any{"exigidos": normalized})
			writeError(w, http.StatusForbidden, "FORBIDDEN", "sem acesso")
		})
	}
}

// RequireSuperAdmin garante papel de administrador global.
func RequireSuperAdmin(sec EscalationRecorder) func(http.Handler) http.Handler {
	return RequireRoles(sec, "SUPER_ADMIN")
}

func recordEscalation(r *http.Request, sec EscalationRecorder, meta map[string]any) {
	if sec == nil {
		return
	}
	var userID *uuid.UUID
	if uid, err := uuid.Parse(GetSubject(r.Context())); err == nil {
		userID = &uid
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["rota"] = r.URL.Path
	meta["papeis"] = GetRoles(r.Context())
	sec.RecordPermissionEscalation(r.Context(), userID, meta)
}

// SetTransportadora injeta a transportadora ativa no contexto.
func SetTransportadora(ctx context.Context, transportadoraID string) context.Context {
	return context.WithValue(ctx, ContextKeyTransportadora, transportadoraID)
}

// GetTransportadora retorna a transportadora ativa do contexto.
func GetTransportadora(ctx context.Context) string {
	val, _ := ctx.Value(ContextKeyTransportadora).(string)
	return val
}

// SetCliente injeta o cliente autenticado no contexto (audience cliente).
func SetCliente(ctx context.Context, clienteID string) context.Context {
	return context.WithValue(ctx, ContextKeyCliente, clienteID)
}

// GetCliente retorna o cliente autenticado do contexto, vazio fora do portal.
func GetCliente(ctx context.Context) string {
	val, _ := ctx.Value(ContextKeyCliente).(string)
	return val
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": nil,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
