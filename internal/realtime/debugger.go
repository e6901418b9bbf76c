package realtime

import (
	"sync"
	"time"
)

const debugCap = 50

// DebugEvent retém o essencial de um evento para diagnóstico.
type DebugEvent struct {
	Tipo            EventType `json:"tipo"`
	Tabela          string    `json:"tabela"`
	RecordID        string    `json:"record_id"`
	StatusAntes     string    `json:"status_antes,omitempty"`
	StatusDepois    string    `json:"status_depois,omitempty"`
	SeparacaoAntes  string    `json:"separacao_antes,omitempty"`
	SeparacaoDepois string    `json:"separacao_depois,omitempty"`
	RecebidoEm      time.Time `json:"recebido_em"`
}

// Debugger guarda os últimos eventos recebidos, independente do caminho
// de invalidação. Serve só para troubleshooting.
type Debugger struct {
	mu     sync.Mutex
	events []DebugEvent
}

func NewDebugger() *Debugger {
	return &Debugger{}
}

func (d *Debugger) Record(event DebugEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.events = append(d.events, event)
	if len(d.events) > debugCap {
		d.events = d.events[len(d.events)-debugCap:]
	}
}

// Snapshot devolve uma cópia dos eventos retidos, do mais antigo ao mais novo.
func (d *Debugger) Snapshot() []DebugEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]DebugEvent, len(d.events))
	copy(out, d.events)
	return out
}
