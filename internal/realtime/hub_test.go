package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type stubSession struct {
	err error
}

func (s *stubSession) Check(ctx context.Context) error {
	return s.err
}

func TestServeSessionRecusaSessaoInvalida(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/realtime/ws", nil)
	hub.ServeSession(rec, req, &stubSession{err: errors.New("conta desativada")})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("sessão inválida deveria dar 401, veio %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "AUTH") {
		t.Fatalf("resposta deveria seguir o envelope de erro, veio %s", rec.Body.String())
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("sessão recusada não deveria registrar cliente, count=%d", hub.ClientCount())
	}
}

func TestServeSessionConectaSessaoValida(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeSession(w, r, &stubSession{})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("handshake falhou: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("cliente não registrado, count=%d", hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
