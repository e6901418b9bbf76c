package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type captureNotifier struct {
	notices []Notice
}

func (c *captureNotifier) Notify(ctx context.Context, notice Notice) error {
	c.notices = append(c.notices, notice)
	return nil
}

func newTestHandler(notifier Notifier) *ErrorHandler {
	return NewErrorHandler(nil, nil, nil, notifier, false, zerolog.Nop())
}

func TestHandleDeduplicaDentroDaJanela(t *testing.T) {
	notifier := &captureNotifier{}
	handler := newTestHandler(notifier)

	base := time.Now()
	now := base
	handler.now = func() time.Time { return now }

	ectx := ErrorContext{Component: "nf", Action: "listar"}
	err := errors.New("conexão recusada")

	first := handler.Handle(context.Background(), err, KindServer, ectx, SeverityMedium)
	if first == nil {
		t.Fatal("primeiro erro deveria ser processado")
	}

	now = base.Add(10 * time.Second)
	second := handler.Handle(context.Background(), err, KindServer, ectx, SeverityMedium)
	if second != nil {
		t.Fatal("erro idêntico dentro de 30s deveria ser suprimido")
	}
	if handler.Suppressed() != 1 {
		t.Fatalf("esperava 1 suprimido, houve %d", handler.Suppressed())
	}

	now = base.Add(31 * time.Second)
	third := handler.Handle(context.Background(), err, KindServer, ectx, SeverityMedium)
	if third == nil {
		t.Fatal("após a janela o erro deveria ser processado de novo")
	}

	if len(notifier.notices) != 2 {
		t.Fatalf("esperava 2 notificações, houve %d", len(notifier.notices))
	}
}

func TestHandleNaoNotificaErroTecnico(t *testing.T) {
	notifier := &captureNotifier{}
	handler := newTestHandler(notifier)

	handler.Handle(context.Background(), errors.New("dial tcp: timeout"), KindNetwork,
		ErrorContext{Component: "realtime", Action: "subscribe"}, SeverityMedium)

	if len(notifier.notices) != 0 {
		t.Fatalf("erro de rede não deveria notificar usuário, houve %d avisos", len(notifier.notices))
	}
}

func TestHandleMensagemAmigavelPorKind(t *testing.T) {
	notifier := &captureNotifier{}
	handler := newTestHandler(notifier)

	handler.Handle(context.Background(), errors.New("permission denied for table notas_fiscais"),
		KindPermission, ErrorContext{Component: "pedido", Action: "excluir"}, SeverityMedium)

	if len(notifier.notices) != 1 {
		t.Fatalf("esperava 1 aviso, houve %d", len(notifier.notices))
	}
	if notifier.notices[0].Message != "Você não tem permissão para esta operação." {
		t.Fatalf("mensagem amigável inesperada: %q", notifier.notices[0].Message)
	}
}

func TestRetryOperationPropagaErroFinal(t *testing.T) {
	handler := newTestHandler(nil)

	calls := 0
	final := errors.New("coluna inexistente")
	err := handler.RetryOperation(context.Background(), func(ctx context.Context) error {
		calls++
		return final
	}, ErrorContext{Component: "nf", Action: "atualizar"}, 2)

	if calls != 2 {
		t.Fatalf("esperava 2 tentativas, houve %d", calls)
	}
	if !errors.Is(err, final) {
		t.Fatalf("esperava o erro original, veio %v", err)
	}
}

func TestMetricsResumeRingBuffer(t *testing.T) {
	handler := newTestHandler(nil)

	handler.Handle(context.Background(), errors.New("a"), KindServer,
		ErrorContext{Component: "nf", Action: "x"}, SeverityHigh)
	handler.Handle(context.Background(), errors.New("b"), KindServer,
		ErrorContext{Component: "nf", Action: "y"}, SeverityMedium)
	handler.Handle(context.Background(), errors.New("c"), KindServer,
		ErrorContext{Component: "pedido", Action: "z"}, SeverityMedium)

	got := handler.Metrics()
	if got.Total != 3 || got.Last24h != 3 {
		t.Fatalf("totais inesperados: %+v", got)
	}
	if got.BySeverity[SeverityMedium] != 2 || got.BySeverity[SeverityHigh] != 1 {
		t.Fatalf("severidades inesperadas: %+v", got.BySeverity)
	}
	if len(got.TopComponents) == 0 || got.TopComponents[0].Component != "nf" {
		t.Fatalf("componente mais frequente deveria ser nf: %+v", got.TopComponents)
	}
}
