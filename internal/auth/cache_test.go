package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type stubProvider struct {
	principal Principal
	err       error
	calls     int
}

func (s *stubProvider) CurrentUser(ctx context.Context) (Principal, error) {
	s.calls++
	if s.err != nil {
		return Principal{}, s.err
	}
	return s.principal, nil
}

func TestCacheRespeitaTTL(t *testing.T) {
	provider := &stubProvider{principal: Principal{ID: uuid.New(), Email: "op@armazem.dev"}}
	cache := NewCache(provider)

	base := time.Now()
	now := base
	cache.now = func() time.Time { return now }

	id, err := cache.CurrentUserID(context.Background())
	if err != nil {
		t.Fatalf("primeira busca falhou: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("esperava 1 busca, houve %d", provider.calls)
	}

	// Dentro do TTL nada vai à rede.
	now = base.Add(4*time.Minute + 59*time.Second)
	got, err := cache.CurrentUserID(context.Background())
	if err != nil || got != id {
		t.Fatalf("cache deveria servir a entrada: id=%s err=%v", got, err)
	}
	if provider.calls != 1 {
		t.Fatalf("não deveria rebuscar dentro do TTL, houve %d buscas", provider.calls)
	}

	// Após o TTL exatamente uma nova busca.
	now = base.Add(5*time.Minute + time.Second)
	if _, err := cache.CurrentUserID(context.Background()); err != nil {
		t.Fatalf("rebusca falhou: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("esperava 2 buscas, houve %d", provider.calls)
	}
}

func TestCacheFallbackDegradado(t *testing.T) {
	principal := Principal{ID: uuid.New(), Email: "op@armazem.dev"}
	provider := &stubProvider{principal: principal}
	cache := NewCache(provider)

	base := time.Now()
	now := base
	cache.now = func() time.Time { return now }

	if _, err := cache.CurrentUser(context.Background()); err != nil {
		t.Fatalf("primeira busca falhou: %v", err)
	}

	// TTL expira e o provedor passa a falhar.
	provider.err = errors.New("provedor fora do ar")
	now = base.Add(6 * time.Minute)

	got, err := cache.CurrentUserID(context.Background())
	if err != nil {
		t.Fatalf("fallback deveria servir identidade expirada: %v", err)
	}
	if got != principal.ID {
		t.Fatalf("id inesperado no fallback: %s", got)
	}
	fetches := provider.calls

	// Dentro da janela degradada não há nova busca.
	now = now.Add(10 * time.Second)
	if _, err := cache.CurrentUserID(context.Background()); err != nil {
		t.Fatalf("segunda leitura no fallback falhou: %v", err)
	}
	if provider.calls != fetches {
		t.Fatalf("não deveria rebuscar na janela degradada, houve %d buscas", provider.calls)
	}
}

func TestCacheSemEntradaPreviaFalha(t *testing.T) {
	provider := &stubProvider{err: errors.New("fora do ar")}
	cache := NewCache(provider)

	_, err := cache.CurrentUser(context.Background())
	if !errors.Is(err, ErrNaoAutenticado) {
		t.Fatalf("esperava ErrNaoAutenticado, veio %v", err)
	}
}

func TestForceRefreshDescartaEntrada(t *testing.T) {
	provider := &stubProvider{principal: Principal{ID: uuid.New()}}
	cache := NewCache(provider)

	if _, err := cache.CurrentUser(context.Background()); err != nil {
		t.Fatalf("busca inicial falhou: %v", err)
	}
	if _, err := cache.ForceRefresh(context.Background()); err != nil {
		t.Fatalf("refresh falhou: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("refresh deveria rebuscar, houve %d buscas", provider.calls)
	}
	if !cache.Valid() {
		t.Fatal("cache deveria estar válido após refresh")
	}
}
