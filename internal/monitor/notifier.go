package monitor

import "context"

// Notifier entrega avisos amigáveis ao usuário (toast no painel).
// Falha na entrega é apenas logada, nunca propagada.
type Notifier interface {
	Notify(ctx context.Context, notice Notice) error
}

// Notice é a mensagem apresentada ao usuário.
type Notice struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// NoopNotifier descarta avisos; usado quando não há canal configurado.
type NoopNotifier struct{}

func (NoopNotifier) Notify(ctx context.Context, notice Notice) error { return nil }
