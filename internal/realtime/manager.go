package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/logcarga/armazem/internal/metrics"
	"github.com/logcarga/armazem/internal/util"
)

const dedupeTTL = 500 * time.Millisecond

// Invalidator marca entradas de cache como obsoletas. Nunca escreve valores.
type Invalidator interface {
	InvalidateTable(ctx context.Context, tabela string)
}

// Broadcaster entrega notificações às views conectadas.
type Broadcaster interface {
	Broadcast(v any)
}

// ChangeNotice é o aviso enviado às views após cada evento aceito.
type ChangeNotice struct {
	Kind            string    `json:"kind"`
	Tipo            EventType `json:"tipo"`
	Tabela          string    `json:"tabela"`
	RecordID        string    `json:"record_id,omitempty"`
	StatusAntes     string    `json:"status_antes,omitempty"`
	StatusDepois    string    `json:"status_depois,omitempty"`
	SeparacaoAntes  string    `json:"separacao_antes,omitempty"`
	SeparacaoDepois string    `json:"separacao_depois,omitempty"`
}

// Manager mantém a assinatura central do canal de mudanças.
//
// Start é idempotente: chamadas repetidas não criam assinaturas duplicadas.
// Reconexão do canal é responsabilidade do transporte: o PubSub do
// go-redis reassina automaticamente após queda de conexão; este layer só
// precisa manter o callback de invalidação vivo.
type Manager struct {
	redis       *redis.Client
	channel     string
	invalidator Invalidator
	hub         Broadcaster
	debugger    *Debugger
	logger      zerolog.Logger
	now         func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time

	once   sync.Once
	cancel context.CancelFunc
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewManager(redisClient *redis.Client, channel string, invalidator Invalidator, hub Broadcaster, debugger *Debugger, logger zerolog.Logger) *Manager {
	return &Manager{
		redis:       redisClient,
		channel:     channel,
		invalidator: invalidator,
		hub:         hub,
		debugger:    debugger,
		logger:      logger,
		now:         util.Now,
		seen:        make(map[string]time.Time),
		done:        make(chan struct{}),
	}
}

// Start assina o canal e dispara o loop de consumo. Safe para chamar
// múltiplas vezes; apenas a primeira tem efeito.
func (m *Manager) Start(parent context.Context) {
	m.once.Do(func() {
		ctx, cancel := context.WithCancel(parent)
		m.cancel = cancel
		m.pubsub = m.redis.Subscribe(ctx, m.channel)
		go m.run(ctx)
		m.logger.Info().Str("channel", m.channel).Msg("realtime: assinatura central iniciada")
	})
}

// Stop libera o canal por completo: sem listeners pendurados.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	if m.pubsub != nil {
		_ = m.pubsub.Close()
	}
	<-m.done
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	ch := m.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			m.handlePayload(ctx, []byte(msg.Payload))
		}
	}
}

// handlePayload processa um evento bruto do canal.
func (m *Manager) handlePayload(ctx context.Context, payload []byte) {
	var evento Evento
	if err := json.Unmarshal(payload, &evento); err != nil {
		metrics.RealtimeEvents.WithLabelValues("unknown", "malformed").Inc()
		m.logger.Warn().Err(err).Msg("realtime: payload malformado")
		return
	}
	if evento.Tabela == "" || evento.Tipo == "" {
		metrics.RealtimeEvents.WithLabelValues("unknown", "malformed").Inc()
		return
	}

	if m.isDuplicate(evento) {
		metrics.RealtimeEvents.WithLabelValues(evento.Tabela, "duplicate").Inc()
		return
	}
	metrics.RealtimeEvents.WithLabelValues(evento.Tabela, "accepted").Inc()

	notice := ChangeNotice{
		Kind:     "change",
		Tipo:     evento.Tipo,
		Tabela:   evento.Tabela,
		RecordID: evento.recordID(),
	}

	if evento.Tabela == TabelaNotasFiscais {
		antes := decodeStatus(evento.Antes)
		depois := decodeStatus(evento.Depois)
		if antes.Status != depois.Status {
			notice.StatusAntes = antes.Status
			notice.StatusDepois = depois.Status
		}
		if antes.StatusSeparacao != depois.StatusSeparacao {
			notice.SeparacaoAntes = antes.StatusSeparacao
			notice.SeparacaoDepois = depois.StatusSeparacao
		}
	}

	if m.debugger != nil {
		m.debugger.Record(DebugEvent{
			Tipo:            evento.Tipo,
			Tabela:          evento.Tabela,
			RecordID:        notice.RecordID,
			StatusAntes:     notice.StatusAntes,
			StatusDepois:    notice.StatusDepois,
			SeparacaoAntes:  notice.SeparacaoAntes,
			SeparacaoDepois: notice.SeparacaoDepois,
			RecebidoEm:      m.now(),
		})
	}

	for _, tabela := range affectedTables(evento.Tabela) {
		m.invalidator.InvalidateTable(ctx, tabela)
	}

	if m.hub != nil {
		m.hub.Broadcast(notice)
	}
}

// isDuplicate suprime reentregas do mesmo (tabela, tipo, id) numa janela curta.
func (m *Manager) isDuplicate(evento Evento) bool {
	id := evento.recordID()
	if id == "" {
		return false
	}
	key := evento.Tabela + "|" + string(evento.Tipo) + "|" + id

	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.seen[key]; ok && now.Sub(last) < dedupeTTL {
		return true
	}
	m.seen[key] = now

	// Poda oportunista para o mapa não crescer sem limite.
	if len(m.seen) > 1024 {
		for k, last := range m.seen {
			if now.Sub(last) >= dedupeTTL {
				delete(m.seen, k)
			}
		}
	}
	return false
}

// affectedTables lista as tabelas cujas consultas podem ter mudado.
// Invalidação larga por tabela: precisão é custo, não correção.
func affectedTables(tabela string) []string {
	switch tabela {
	case TabelaNotasFiscais:
		return []string{TabelaNotasFiscais, TabelaPedidos}
	case TabelaPedidos:
		return []string{TabelaPedidos, TabelaNotasFiscais}
	default:
		return []string{tabela}
	}
}
