package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
)

type stubRedisPublisher struct {
	calls int
	fails int
}

func (s *stubRedisPublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	s.calls++
	cmd := redis.NewIntCmd(ctx)
	if s.fails > 0 {
		s.fails--
		cmd.SetErr(errors.New("conexão perdida"))
		return cmd
	}
	cmd.SetVal(1)
	return cmd
}

func TestPublicarRetentaFalhaTransitoria(t *testing.T) {
	stub := &stubRedisPublisher{fails: 1}
	p := NewPublisher(stub, "armazem:changes")

	err := p.Publicar(context.Background(), Evento{Tipo: EventInsert, Tabela: TabelaPedidos})
	if err != nil {
		t.Fatalf("falha transitória deveria ser absorvida, veio %v", err)
	}
	if stub.calls != 2 {
		t.Fatalf("esperava 2 tentativas, houve %d", stub.calls)
	}
}

func TestPublicarPropagaFalhaPersistente(t *testing.T) {
	stub := &stubRedisPublisher{fails: 10}
	p := NewPublisher(stub, "armazem:changes")

	err := p.Publicar(context.Background(), Evento{Tipo: EventUpdate, Tabela: TabelaNotasFiscais})
	if err == nil {
		t.Fatal("falha persistente deveria ser propagada")
	}
	if stub.calls != 2 {
		t.Fatalf("esperava parar em 2 tentativas, houve %d", stub.calls)
	}
}
