package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/logcarga/armazem/internal/service"
)

// Scope resolve a transportadora ativa para as rotas de dados.
// Backoffice escolhe a transportadora pelo header e precisa de vínculo
// (super admin circula livre). Cliente não escolhe nada: transportadora
// e cliente saem do próprio cadastro, e é isso que limita as listagens.
func Scope(rbac *service.RBACService, sec EscalationRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := GetSubject(r.Context())
			subUUID, err := uuid.Parse(subject)
			if err != nil {
				writeScopeError(w, http.StatusUnauthorized, "AUTH", "subject inválido")
				return
			}

			switch strings.ToLower(GetAudience(r.Context())) {
			case "backoffice":
				scopeBackoffice(w, r, next, rbac, sec, subUUID)
			case "cliente":
				scopeCliente(w, r, next, rbac, subUUID)
			default:
				recordEscalation(r, sec, map[string]any{"motivo": "audience desconhecida"})
				writeScopeError(w, http.StatusForbidden, "FORBIDDEN", "acesso negado")
			}
		})
	}
}

func scopeBackoffice(w http.ResponseWriter, r *http.Request, next http.Handler, rbac *service.RBACService, sec EscalationRecorder, subject uuid.UUID) {
	transportadoraID := r.Header.Get("X-Transportadora")
	if transportadoraID == "" {
		transportadoraID = r.URL.Query().Get("transportadora_id")
	}
	if transportadoraID == "" {
		writeScopeError(w, http.StatusBadRequest, "VALIDATION", "Transportadora não informada")
		return
	}

	uid, err := uuid.Parse(transportadoraID)
	if err != nil {
		writeScopeError(w, http.StatusBadRequest, "VALIDATION", "Transportadora inválida")
		return
	}

	if _, err := rbac.ValidateTransportadoraAccess(r.Context(), subject, uid); err != nil {
		if errors.Is(err, service.ErrForbidden) {
			recordEscalation(r, sec, map[string]any{"transportadora_id": uid.String()})
			writeScopeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
			return
		}
		writeScopeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}

	next.ServeHTTP(w, r.WithContext(SetTransportadora(r.Context(), uid.String())))
}

func scopeCliente(w http.ResponseWriter, r *http.Request, next http.Handler, rbac *service.RBACService, subject uuid.UUID) {
	cliente, err := rbac.ClienteScope(r.Context(), subject)
	if err != nil {
		if errors.Is(err, service.ErrForbidden) {
			writeScopeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
			return
		}
		writeScopeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}

	ctx := SetTransportadora(r.Context(), cliente.TransportadoraID.String())
	ctx = SetCliente(ctx, cliente.ID.String())
	next.ServeHTTP(w, r.WithContext(ctx))
}

func writeScopeError(w http.ResponseWriter, status int, code, message string) {
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
