package pedido

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	httpmiddleware "github.com/logcarga/armazem/internal/http/middleware"
	"github.com/logcarga/armazem/internal/nf"
)

// Handler orquestra rotas do módulo de pedidos.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/pedidos", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleSolicitar)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/confirmar", h.handleConfirmar)
		r.Post("/{id}/recusar", h.handleRecusar)
		r.Post("/{id}/liberar", h.handleLiberar)
		r.Post("/{id}/carregamento", h.handleCarregamento)
		r.Delete("/{id}", h.handleExcluir)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	userID, err := subjectAsUUID(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}

	var filter Filter
	if tid := httpmiddleware.GetTransportadora(ctx); tid != "" {
		parsed, err := uuid.Parse(tid)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "transportadora inválida", nil)
			return
		}
		filter.TransportadoraID = &parsed
	}
	if statusStr := strings.TrimSpace(r.URL.Query().Get("status")); statusStr != "" {
		if !IsValidStatus(statusStr) {
			writeError(w, http.StatusBadRequest, "VALIDATION", "status inválido", nil)
			return
		}
		filter.Status = []string{strings.ToLower(statusStr)}
	}
	// Token do portal lista só os pedidos das próprias NFs.
	if cid := httpmiddleware.GetCliente(ctx); cid != "" {
		proprio, err := uuid.Parse(cid)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
			return
		}
		filter.ClienteID = &proprio
	}

	pedidos, err := h.service.Listar(ctx, filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	logRequest(ctx, "GET /pedidos", userID, start)
	writeJSON(w, http.StatusOK, map[string]any{"pedidos": pedidos})
}

func (h *Handler) handleSolicitar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	userID, err := subjectAsUUID(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}

	var payload struct {
		NFNumero    string `json:"nf_numero"`
		Prioridade  string `json:"prioridade"`
		Responsavel string `json:"responsavel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "payload inválido", nil)
		return
	}

	input := SolicitacaoInput{
		NFNumero:    payload.NFNumero,
		Prioridade:  payload.Prioridade,
		Responsavel: payload.Responsavel,
	}
	if tid := httpmiddleware.GetTransportadora(ctx); tid != "" {
		parsed, err := uuid.Parse(tid)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "transportadora inválida", nil)
			return
		}
		input.TransportadoraID = parsed
	}

	criado, err := h.service.SolicitarCarregamento(ctx, input)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	logRequest(ctx, "POST /pedidos", userID, start)
	writeJSON(w, http.StatusCreated, map[string]any{"pedido": criado})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := subjectAsUUID(ctx); err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "pedido inválido", nil)
		return
	}

	p, err := h.service.Buscar(ctx, id)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"pedido": p})
}

func (h *Handler) handleConfirmar(w http.ResponseWriter, r *http.Request) {
	h.handleDecisao(w, r, "confirmar", h.service.Confirmar)
}

func (h *Handler) handleRecusar(w http.ResponseWriter, r *http.Request) {
	h.handleDecisao(w, r, "recusar", h.service.Recusar)
}

func (h *Handler) handleLiberar(w http.ResponseWriter, r *http.Request) {
	h.handleDecisao(w, r, "liberar", h.service.Liberar)
}

func (h *Handler) handleCarregamento(w http.ResponseWriter, r *http.Request) {
	h.handleDecisao(w, r, "carregamento", h.service.RegistrarCarregamento)
}

func (h *Handler) handleDecisao(w http.ResponseWriter, r *http.Request, label string, fn func(context.Context, uuid.UUID) (Pedido, error)) {
	ctx := r.Context()
	start := time.Now()
	userID, err := subjectAsUUID(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}
	if !podeOperar(ctx) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "sem acesso", nil)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "pedido inválido", nil)
		return
	}

	p, err := fn(ctx, id)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	logRequest(ctx, "POST /pedidos/"+label, userID, start)
	writeJSON(w, http.StatusOK, map[string]any{"pedido": p})
}

func (h *Handler) handleExcluir(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	userID, err := subjectAsUUID(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}
	if !podeOperar(ctx) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "sem acesso", nil)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "pedido inválido", nil)
		return
	}

	if err := h.service.Excluir(ctx, id, &userID); err != nil {
		handleDomainError(w, err)
		return
	}

	logRequest(ctx, "DELETE /pedidos", userID, start)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func subjectAsUUID(ctx context.Context) (uuid.UUID, error) {
	sub := httpmiddleware.GetSubject(ctx)
	return uuid.Parse(sub)
}

func podeOperar(ctx context.Context) bool {
	return httpmiddleware.HasRole(ctx, "SUPER_ADMIN", "ADMIN_TRANSPORTADORA", "OPERADOR")
}

func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, nf.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "registro não encontrado", nil)
	case errors.Is(err, ErrPedidoDuplicado):
		writeError(w, http.StatusConflict, "CONFLICT", ErrPedidoDuplicado.Error(), nil)
	case errors.Is(err, nf.ErrConflitoStatus):
		writeError(w, http.StatusConflict, "CONFLICT", nf.ErrConflitoStatus.Error(), nil)
	case errors.Is(err, ErrNFNaoArmazenada), errors.Is(err, ErrPedidoEncerrado),
		errors.Is(err, ErrPrioridadeInvalida), errors.Is(err, nf.ErrStatusInvalido):
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil)
	default:
		writeInternalError(w, err)
	}
}

func writeInternalError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("pedido handler error")
	writeError(w, http.StatusInternalServerError, "INTERNAL", "erro interno", nil)
}

func logRequest(ctx context.Context, label string, userID uuid.UUID, start time.Time) {
	logger := log.Ctx(ctx)
	if logger == nil {
		logger = &log.Logger
	}
	reqID := chimiddleware.GetReqID(ctx)
	logger.Info().Str("request_id", reqID).Str("user_id", userID.String()).Str("label", label).Dur("duration", time.Since(start)).Msg("pedido_request")
}

// Helpers de resposta JSON compatíveis com o resto do projeto.
type successEnvelope struct {
	Data  any `json:"data"`
	Error any `json:"error"`
}

type errorEnvelope struct {
	Data  any            `json:"data"`
	Error *errorResponse `json:"error"`
}

type errorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(successEnvelope{Data: payload, Error: nil})
}

func writeError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Data: nil, Error: &errorResponse{Code: code, Message: message, Details: details}})
}
