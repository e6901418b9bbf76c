package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/logcarga/armazem/internal/repo"
	"github.com/logcarga/armazem/internal/service"
)

type stubEscalations struct {
	users []*uuid.UUID
	metas []map[string]any
}

func (s *stubEscalations) RecordPermissionEscalation(ctx context.Context, userID *uuid.UUID, meta map[string]any) {
	s.users = append(s.users, userID)
	s.metas = append(s.metas, meta)
}

type stubRBACRepo struct {
	usuarios map[uuid.UUID]repo.Usuario
	vinculos map[uuid.UUID][]repo.TransportadoraWithRole
	clientes map[uuid.UUID]repo.Cliente
}

func (s *stubRBACRepo) GetUsuarioByID(ctx context.Context, id uuid.UUID) (repo.Usuario, error) {
	if u, ok := s.usuarios[id]; ok {
		return u, nil
	}
	return repo.Usuario{}, repo.ErrNotFound
}

func (s *stubRBACRepo) ListTransportadorasByUsuario(ctx context.Context, usuarioID uuid.UUID) ([]repo.TransportadoraWithRole, error) {
	return s.vinculos[usuarioID], nil
}

func (s *stubRBACRepo) GetClienteByID(ctx context.Context, id uuid.UUID) (repo.Cliente, error) {
	if c, ok := s.clientes[id]; ok {
		return c, nil
	}
	return repo.Cliente{}, repo.ErrNotFound
}

func requestWithClaims(subject, audience string, roles []string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/nfs", nil)
	ctx := context.WithValue(req.Context(), ContextKeySubject, subject)
	ctx = context.WithValue(ctx, ContextKeyAudience, audience)
	ctx = context.WithValue(ctx, ContextKeyRoles, roles)
	return req.WithContext(ctx)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireRolesRegistraEscalacao(t *testing.T) {
	sec := &stubEscalations{}
	handler := RequireRoles(sec, "SUPER_ADMIN")(okHandler())
	userID := uuid.New()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithClaims(userID.String(), "backoffice", []string{"OPERADOR"}))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("esperava 403, veio %d", rec.Code)
	}
	if len(sec.metas) != 1 {
		t.Fatalf("negação deveria registrar 1 escalação, houve %d", len(sec.metas))
	}
	if sec.users[0] == nil || *sec.users[0] != userID {
		t.Fatalf("escalação deveria identificar o usuário, veio %v", sec.users[0])
	}
	if sec.metas[0]["rota"] != "/nfs" {
		t.Fatalf("meta deveria carregar a rota, veio %v", sec.metas[0])
	}

	// Papel suficiente passa sem novo registro.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithClaims(userID.String(), "backoffice", []string{"super_admin"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("papel equivalente deveria passar, veio %d", rec.Code)
	}
	if len(sec.metas) != 1 {
		t.Fatalf("acesso permitido não deveria registrar escalação, houve %d", len(sec.metas))
	}
}

func TestScopeClienteInjetaEscopoDoCadastro(t *testing.T) {
	clienteID := uuid.New()
	tid := uuid.New()
	rbac := service.NewRBACService(&stubRBACRepo{
		clientes: map[uuid.UUID]repo.Cliente{
			clienteID: {ID: clienteID, TransportadoraID: tid, Ativo: true},
		},
	})

	var gotTransportadora, gotCliente string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTransportadora = GetTransportadora(r.Context())
		gotCliente = GetCliente(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	Scope(rbac, nil)(next).ServeHTTP(rec, requestWithClaims(clienteID.String(), "cliente", []string{"CLIENTE"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("cliente ativo deveria passar, veio %d: %s", rec.Code, rec.Body.String())
	}
	if gotTransportadora != tid.String() {
		t.Fatalf("transportadora deveria vir do cadastro, veio %q", gotTransportadora)
	}
	if gotCliente != clienteID.String() {
		t.Fatalf("cliente deveria vir do cadastro, veio %q", gotCliente)
	}
}

func TestScopeClienteInativoNegado(t *testing.T) {
	clienteID := uuid.New()
	rbac := service.NewRBACService(&stubRBACRepo{
		clientes: map[uuid.UUID]repo.Cliente{
			clienteID: {ID: clienteID, TransportadoraID: uuid.New(), Ativo: false},
		},
	})

	rec := httptest.NewRecorder()
	Scope(rbac, nil)(okHandler()).ServeHTTP(rec, requestWithClaims(clienteID.String(), "cliente", []string{"CLIENTE"}))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("cadastro inativo deveria ser negado, veio %d", rec.Code)
	}
}

func TestScopeAudienceDesconhecidaRegistraEscalacao(t *testing.T) {
	sec := &stubEscalations{}
	rbac := service.NewRBACService(&stubRBACRepo{})

	rec := httptest.NewRecorder()
	Scope(rbac, sec)(okHandler()).ServeHTTP(rec, requestWithClaims(uuid.NewString(), "mobile", nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("audience desconhecida deveria ser negada, veio %d", rec.Code)
	}
	if len(sec.metas) != 1 {
		t.Fatalf("negação deveria registrar escalação, houve %d", len(sec.metas))
	}
}

func TestScopeBackofficeSemVinculoRegistraEscalacao(t *testing.T) {
	sec := &stubEscalations{}
	userID := uuid.New()
	rbac := service.NewRBACService(&stubRBACRepo{
		usuarios: map[uuid.UUID]repo.Usuario{
			userID: {ID: userID, Ativo: true},
		},
	})

	req := requestWithClaims(userID.String(), "backoffice", []string{"OPERADOR"})
	req.Header.Set("X-Transportadora", uuid.NewString())
	rec := httptest.NewRecorder()
	Scope(rbac, sec)(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("usuário sem vínculo deveria ser negado, veio %d", rec.Code)
	}
	if len(sec.metas) != 1 {
		t.Fatalf("negação deveria registrar escalação, houve %d", len(sec.metas))
	}
	if _, ok := sec.metas[0]["transportadora_id"]; !ok {
		t.Fatalf("meta deveria carregar a transportadora pedida, veio %v", sec.metas[0])
	}
}
