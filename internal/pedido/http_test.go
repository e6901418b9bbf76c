package pedido

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	httpmiddleware "github.com/logcarga/armazem/internal/http/middleware"
)

// withAuthCliente replica o contexto que o middleware de escopo injeta
// para tokens do portal.
func withAuthCliente(req *http.Request, clienteID, transportadoraID uuid.UUID) *http.Request {
	ctx := req.Context()
	ctx = context.WithValue(ctx, httpmiddleware.ContextKeySubject, clienteID.String())
	ctx = context.WithValue(ctx, httpmiddleware.ContextKeyRoles, []string{"CLIENTE"})
	ctx = context.WithValue(ctx, httpmiddleware.ContextKeyAudience, "cliente")
	ctx = httpmiddleware.SetTransportadora(ctx, transportadoraID.String())
	ctx = httpmiddleware.SetCliente(ctx, clienteID.String())
	return req.WithContext(ctx)
}

func TestSolicitarPeloPortal(t *testing.T) {
	tid := uuid.New()
	clienteID := uuid.New()
	nota := nfArmazenada(tid, "NF-900")
	nota.ClienteID = &clienteID
	svc, pedidosRepo, _ := newTestEnv(nota)
	handler := NewHandler(svc)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	body, _ := json.Marshal(map[string]any{
		"nf_numero":   "NF-900",
		"prioridade":  "Alta",
		"responsavel": "Portal",
	})
	req := withAuthCliente(httptest.NewRequest(http.MethodPost, "/pedidos/", bytes.NewReader(body)), clienteID, tid)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("solicitação do portal falhou: %d %s", rec.Code, rec.Body.String())
	}
	if pedidosRepo.criarCalls != 1 {
		t.Fatalf("esperava 1 criação, houve %d", pedidosRepo.criarCalls)
	}
	for _, p := range pedidosRepo.pedidos {
		if p.TransportadoraID != tid {
			t.Fatalf("pedido fora da transportadora do cadastro: %s", p.TransportadoraID)
		}
	}
}

func TestListPortalForcaEscopoDoContexto(t *testing.T) {
	tid := uuid.New()
	clienteID := uuid.New()
	svc, pedidosRepo, _ := newTestEnv()
	handler := NewHandler(svc)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	req := withAuthCliente(httptest.NewRequest(http.MethodGet, "/pedidos/", nil), clienteID, tid)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("listagem do portal falhou: %d %s", rec.Code, rec.Body.String())
	}
	if pedidosRepo.lastFilter.ClienteID == nil || *pedidosRepo.lastFilter.ClienteID != clienteID {
		t.Fatalf("filtro deveria carregar o cliente do contexto, veio %+v", pedidosRepo.lastFilter.ClienteID)
	}
	if pedidosRepo.lastFilter.TransportadoraID == nil || *pedidosRepo.lastFilter.TransportadoraID != tid {
		t.Fatalf("filtro deveria carregar a transportadora do cadastro, veio %+v", pedidosRepo.lastFilter.TransportadoraID)
	}
}
