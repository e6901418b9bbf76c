package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	httpmiddleware "github.com/logcarga/armazem/internal/http/middleware"
	"github.com/logcarga/armazem/internal/repo"
	"github.com/logcarga/armazem/internal/service"
	"github.com/logcarga/armazem/internal/transportadora"
)

// ListTransportadoras lista todas as empresas cadastradas.
func (h *Handler) ListTransportadoras(w http.ResponseWriter, r *http.Request) {
	items, err := h.transportadoras.List(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "não foi possível listar transportadoras", nil)
		return
	}
	WriteJSON(w, http.StatusOK, items)
}

// CreateTransportadora cadastra uma nova empresa.
func (h *Handler) CreateTransportadora(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Slug        string         `json:"slug"`
		RazaoSocial string         `json:"razao_social"`
		CNPJ        string         `json:"cnpj"`
		Dominio     string         `json:"dominio"`
		Contato     map[string]any `json:"contato"`
		Settings    map[string]any `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "JSON inválido", nil)
		return
	}
	if strings.TrimSpace(payload.RazaoSocial) == "" {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "razão social é obrigatória", nil)
		return
	}

	created, err := h.transportadoras.Create(r.Context(), transportadora.CreateInput{
		Slug:        payload.Slug,
		RazaoSocial: payload.RazaoSocial,
		CNPJ:        payload.CNPJ,
		Dominio:     payload.Dominio,
		Contato:     payload.Contato,
		Settings:    payload.Settings,
	})
	if err != nil {
		if errors.Is(err, transportadora.ErrCNPJInvalido) {
			WriteError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil)
			return
		}
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "não foi possível cadastrar transportadora", nil)
		return
	}

	WriteJSON(w, http.StatusCreated, created)
}

// GetTransportadora retorna uma transportadora por ID.
func (h *Handler) GetTransportadora(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "id inválido", nil)
		return
	}

	t, err := h.transportadoras.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, transportadora.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
			return
		}
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "não foi possível carregar transportadora", nil)
		return
	}

	WriteJSON(w, http.StatusOK, t)
}

// UpdateTransportadoraSettings substitui as configurações visuais e operacionais.
func (h *Handler) UpdateTransportadoraSettings(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "id inválido", nil)
		return
	}

	var settings map[string]any
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "JSON inválido", nil)
		return
	}

	if err := h.transportadoras.UpdateSettings(r.Context(), id, settings); err != nil {
		if errors.Is(err, transportadora.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
			return
		}
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "não foi possível salvar configurações", nil)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SetTransportadoraAtiva ativa ou desativa uma transportadora.
func (h *Handler) SetTransportadoraAtiva(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "id inválido", nil)
		return
	}

	var payload struct {
		Ativa bool `json:"ativa"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "JSON inválido", nil)
		return
	}

	if err := h.transportadoras.SetAtiva(r.Context(), id, payload.Ativa); err != nil {
		if errors.Is(err, transportadora.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
			return
		}
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "não foi possível atualizar transportadora", nil)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ErrorMetrics resume o ring buffer do tratador central de erros.
func (h *Handler) ErrorMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := h.errorHandler.Metrics()
	h.recordAdminRead(r, metrics.Total, "errors/metrics")
	WriteJSON(w, http.StatusOK, map[string]any{
		"total":          metrics.Total,
		"last_24h":       metrics.Last24h,
		"by_severity":    metrics.BySeverity,
		"top_components": metrics.TopComponents,
		"suppressed":     h.errorHandler.Suppressed(),
	})
}

// RealtimeEvents expõe os últimos eventos do canal de mudanças para depuração.
func (h *Handler) RealtimeEvents(w http.ResponseWriter, r *http.Request) {
	events := h.debugger.Snapshot()
	h.recordAdminRead(r, len(events), "realtime/events")
	WriteJSON(w, http.StatusOK, map[string]any{
		"clients": h.hub.ClientCount(),
		"events":  events,
	})
}

// recordAdminRead registra leituras de superfícies administrativas na trilha
// de segurança. Quem lê telemetria interna fica identificado.
func (h *Handler) recordAdminRead(r *http.Request, rows int, recurso string) {
	if h.security == nil {
		return
	}
	var userID *uuid.UUID
	if id, err := uuid.Parse(httpmiddleware.GetSubject(r.Context())); err == nil {
		userID = &id
	}
	h.security.RecordDataAccess(r.Context(), userID, rows, map[string]any{"recurso": recurso})
}

func (h *Handler) scopedTransportadora(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(httpmiddleware.GetTransportadora(r.Context()))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// ListUsuarios lista usuários vinculados à transportadora ativa.
func (h *Handler) ListUsuarios(w http.ResponseWriter, r *http.Request) {
	tid, ok := h.scopedTransportadora(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "transportadora não informada", nil)
		return
	}

	users, err := h.users.ListUsers(r.Context(), tid)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "não foi possível listar usuários", nil)
		return
	}

	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		out = append(out, usuarioView(u))
	}
	WriteJSON(w, http.StatusOK, out)
}

// CreateUsuario cadastra usuário e vínculo na transportadora ativa.
func (h *Handler) CreateUsuario(w http.ResponseWriter, r *http.Request) {
	tid, ok := h.scopedTransportadora(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "transportadora não informada", nil)
		return
	}

	var payload struct {
		Nome  string `json:"nome"`
		Email string `json:"email"`
		Papel string `json:"papel"`
		Senha string `json:"senha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "JSON inválido", nil)
		return
	}

	user, err := h.users.CreateUser(r.Context(), tid, payload.Nome, payload.Email, payload.Papel, payload.Senha)
	if err != nil {
		h.handleUserError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, usuarioView(*user))
}

// UpdateUsuario altera nome e email.
func (h *Handler) UpdateUsuario(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "id inválido", nil)
		return
	}

	var payload struct {
		Nome  string `json:"nome"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "JSON inválido", nil)
		return
	}

	if err := h.users.UpdateUser(r.Context(), id, payload.Nome, payload.Email); err != nil {
		h.handleUserError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AssignPapel define o papel do usuário na transportadora ativa.
func (h *Handler) AssignPapel(w http.ResponseWriter, r *http.Request) {
	tid, ok := h.scopedTransportadora(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "transportadora não informada", nil)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "id inválido", nil)
		return
	}

	var payload struct {
		Papel string `json:"papel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "JSON inválido", nil)
		return
	}

	if err := h.users.AssignRole(r.Context(), id, tid, payload.Papel); err != nil {
		h.handleUserError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RemovePapel remove o vínculo do usuário com a transportadora ativa.
func (h *Handler) RemovePapel(w http.ResponseWriter, r *http.Request) {
	tid, ok := h.scopedTransportadora(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "transportadora não informada", nil)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "id inválido", nil)
		return
	}

	if err := h.users.RemoveRole(r.Context(), id, tid); err != nil {
		h.handleUserError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ChangeUsuarioSenha redefine a senha do usuário.
func (h *Handler) ChangeUsuarioSenha(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "id inválido", nil)
		return
	}

	var payload struct {
		Senha string `json:"senha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "JSON inválido", nil)
		return
	}

	if err := h.users.ChangePassword(r.Context(), id, payload.Senha); err != nil {
		h.handleUserError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SetUsuarioAtivo ativa ou desativa o usuário.
func (h *Handler) SetUsuarioAtivo(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "id inválido", nil)
		return
	}

	var payload struct {
		Ativo bool `json:"ativo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "JSON inválido", nil)
		return
	}

	if err := h.users.SetActive(r.Context(), id, payload.Ativo); err != nil {
		h.handleUserError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleUserError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "usuário não encontrado", nil)
	case errors.Is(err, service.ErrPapelInvalido):
		WriteError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil)
	default:
		WriteError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
	}
}

func usuarioView(u repo.Usuario) map[string]any {
	return map[string]any{
		"id":          u.ID,
		"nome":        u.Nome,
		"email":       u.Email,
		"super_admin": u.SuperAdmin,
		"ativo":       u.Ativo,
		"criado_em":   u.CriadoEm,
	}
}
