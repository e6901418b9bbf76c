package nf

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	httpmiddleware "github.com/logcarga/armazem/internal/http/middleware"
)

// maxAnexoBytes limita o corpo de upload de documentos.
const maxAnexoBytes = 10 << 20

// Handler orquestra rotas do módulo de notas fiscais.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/nfs", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/status", h.handleTransicionarStatus)
		r.Post("/{id}/separacao", h.handleAtualizarSeparacao)
		r.Get("/{id}/anexos", h.handleListAnexos)
		r.Post("/{id}/anexos", h.handleAnexar)
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
		status := Status(statusStr)
		if !status.IsValid() {
			writeError(w, http.StatusBadRequest, "VALIDATION", "status inválido", nil)
			return
		}
		filter.Status = &status
	}
	if clienteStr := r.URL.Query().Get("cliente"); clienteStr != "" {
		cid, err := uuid.Parse(clienteStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "cliente inválido", nil)
			return
		}
		filter.ClienteID = &cid
	}
	// Token do portal enxerga só as próprias NFs; parâmetro divergente é
	// negado em vez de silenciosamente corrigido.
	if cid := httpmiddleware.GetCliente(ctx); cid != "" {
		proprio, err := uuid.Parse(cid)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
			return
		}
		if filter.ClienteID != nil && *filter.ClienteID != proprio {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "sem acesso", nil)
			return
		}
		filter.ClienteID = &proprio
	}

	notas, err := h.service.Listar(ctx, filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	logRequest(ctx, "GET /nfs", userID, start)
	writeJSON(w, http.StatusOK, map[string]any{"nfs": notas})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
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

	var payload struct {
		Numero     string     `json:"numero"`
		ClienteID  *uuid.UUID `json:"cliente_id"`
		Cliente    string     `json:"cliente"`
		Produto    string     `json:"produto"`
		Quantidade int        `json:"quantidade"`
		PesoKG     float64    `json:"peso_kg"`
		Volume     int        `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "payload inválido", nil)
		return
	}

	input := CreateInput{
		Numero:     payload.Numero,
		ClienteID:  payload.ClienteID,
		Cliente:    payload.Cliente,
		Produto:    payload.Produto,
		Quantidade: payload.Quantidade,
		PesoKG:     payload.PesoKG,
		Volume:     payload.Volume,
	}
	if tid := httpmiddleware.GetTransportadora(ctx); tid != "" {
		parsed, err := uuid.Parse(tid)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "transportadora inválida", nil)
			return
		}
		input.TransportadoraID = parsed
	}

	nota, err := h.service.Criar(ctx, input)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	logRequest(ctx, "POST /nfs", userID, start)
	writeJSON(w, http.StatusCreated, map[string]any{"nf": nota})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := subjectAsUUID(ctx); err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "nf inválida", nil)
		return
	}

	nota, err := h.service.Buscar(ctx, id)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"nf": nota})
}

func (h *Handler) handleTransicionarStatus(w http.ResponseWriter, r *http.Request) {
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
		writeError(w, http.StatusBadRequest, "VALIDATION", "nf inválida", nil)
		return
	}

	var payload struct {
		De   Status `json:"de"`
		Para Status `json:"para"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "payload inválido", nil)
		return
	}
	if !payload.De.IsValid() || !payload.Para.IsValid() {
		writeError(w, http.StatusBadRequest, "VALIDATION", "status inválido", nil)
		return
	}

	nota, err := h.service.TransicionarStatus(ctx, id, payload.De, payload.Para)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	logRequest(ctx, "POST /nfs/status", userID, start)
	writeJSON(w, http.StatusOK, map[string]any{"nf": nota})
}

func (h *Handler) handleAtualizarSeparacao(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	userID, err := subjectAsUUID(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "nf inválida", nil)
		return
	}

	var payload struct {
		Status      string  `json:"status"`
		Observacoes *string `json:"observacoes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "payload inválido", nil)
		return
	}

	nova, ok := ParseSeparacaoStrict(payload.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "VALIDATION", "status de separação inválido", nil)
		return
	}

	resultado, err := h.service.AtualizarStatusSeparacao(ctx, podeOperar(ctx), id, nova, payload.Observacoes)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	logRequest(ctx, "POST /nfs/separacao", userID, start)
	writeJSON(w, http.StatusOK, resultado)
}

func (h *Handler) handleListAnexos(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := subjectAsUUID(ctx); err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "nf inválida", nil)
		return
	}

	anexos, err := h.service.ListarAnexos(ctx, id)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"anexos": anexos})
}

func (h *Handler) handleAnexar(w http.ResponseWriter, r *http.Request) {
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
		writeError(w, http.StatusBadRequest, "VALIDATION", "nf inválida", nil)
		return
	}

	nome := strings.TrimSpace(r.URL.Query().Get("nome"))
	if nome == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "nome do arquivo obrigatório", nil)
		return
	}
	tipo := r.Header.Get("Content-Type")
	if tipo == "" {
		tipo = "application/octet-stream"
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAnexoBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "VALIDATION", "arquivo excede o limite", nil)
		return
	}

	anexo, err := h.service.AnexarDocumento(ctx, id, nome, tipo, body)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	logRequest(ctx, "POST /nfs/anexos", userID, start)
	writeJSON(w, http.StatusCreated, map[string]any{"anexo": anexo})
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
	case errors.Is(err, ErrSemPermissao):
		writeError(w, http.StatusForbidden, "FORBIDDEN", ErrSemPermissao.Error(), nil)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "NF não encontrada", nil)
	case errors.Is(err, ErrConflitoStatus):
		writeError(w, http.StatusConflict, "CONFLICT", ErrConflitoStatus.Error(), nil)
	case errors.Is(err, ErrStatusInvalido), errors.Is(err, ErrSeparacaoInvalida), errors.Is(err, ErrNFNaoConfirmada):
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil)
	default:
		writeInternalError(w, err)
	}
}

func writeInternalError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("nf handler error")
	writeError(w, http.StatusInternalServerError, "INTERNAL", "erro interno", nil)
}

func logRequest(ctx context.Context, label string, userID uuid.UUID, start time.Time) {
	logger := log.Ctx(ctx)
	if logger == nil {
		logger = &log.Logger
	}
	reqID := chimiddleware.GetReqID(ctx)
	logger.Info().Str("request_id", reqID).Str("user_id", userID.String()).Str("label", label).Dur("duration", time.Since(start)).Msg("nf_request")
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
