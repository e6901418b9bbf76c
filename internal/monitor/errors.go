package monitor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/logcarga/armazem/internal/metrics"
	"github.com/logcarga/armazem/internal/retry"
	"github.com/logcarga/armazem/internal/util"
)

const (
	dedupeWindow   = 30 * time.Second
	ringCap        = 100
	retention      = 7 * 24 * time.Hour
	pruneInterval  = 24 * time.Hour
	maxRetryDelay  = 10 * time.Second
	baseRetryDelay = time.Second
)

// ErrorContext situa o erro no código que o produziu.
type ErrorContext struct {
	Component string
	Action    string
	UserID    *uuid.UUID
	Metadata  map[string]any
}

// ErrorEntry é o registro em memória de um erro aceito.
type ErrorEntry struct {
	ID         uuid.UUID
	Hash       string
	Message    string
	Kind       Kind
	Severity   Severity
	Context    ErrorContext
	OccurredAt time.Time
	Repeats    int
}

// ErrorMetrics resume os erros retidos no ring buffer.
type ErrorMetrics struct {
	Total         int
	Last24h       int
	BySeverity    map[Severity]int
	TopComponents []ComponentCount
}

// ComponentCount conta erros por componente.
type ComponentCount struct {
	Component string
	Count     int
}

type errorSink interface {
	InsertErrorEvent(ctx context.Context, event ErrorEventRecord) error
}

type auditSink interface {
	Registrar(level, message, entityType, action string, userID *uuid.UUID, meta map[string]any)
}

// ErrorHandler classifica, deduplica e roteia erros do sistema inteiro.
// Nada aqui é fatal: o pior resultado de uma falha interna é um log a menos.
type ErrorHandler struct {
	queue            *TaskQueue
	sink             errorSink
	audit            auditSink
	notifier         Notifier
	logger           zerolog.Logger
	telemetryEnabled bool
	now              func() time.Time

	mu         sync.Mutex
	recent     map[string]time.Time
	ring       []ErrorEntry
	suppressed int

	once   sync.Once
	cancel context.CancelFunc
}

// NewErrorHandler cria o tratador central. sink e audit podem ser nil.
func NewErrorHandler(queue *TaskQueue, sink errorSink, audit auditSink, notifier Notifier, telemetryEnabled bool, logger zerolog.Logger) *ErrorHandler {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &ErrorHandler{
		queue:            queue,
		sink:             sink,
		audit:            audit,
		notifier:         notifier,
		logger:           logger,
		telemetryEnabled: telemetryEnabled,
		now:              util.Now,
		recent:           make(map[string]time.Time),
	}
}

// Start inicia a varredura periódica de retenção. Safe para chamar múltiplas vezes.
func (h *ErrorHandler) Start(parent context.Context) {
	h.once.Do(func() {
		ctx, cancel := context.WithCancel(parent)
		h.cancel = cancel
		go h.pruneLoop(ctx)
	})
}

// Stop encerra a varredura periódica.
func (h *ErrorHandler) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
}

// Handle processa um erro. Devolve nil quando o erro foi suprimido por
// deduplicação (idêntico a outro aceito nos últimos 30s).
func (h *ErrorHandler) Handle(ctx context.Context, err error, kind Kind, ectx ErrorContext, severity Severity) *ErrorEntry {
	if err == nil {
		return nil
	}

	now := h.now()
	hash := errorHash(err.Error(), ectx.Component, ectx.Action)

	h.mu.Lock()
	if last, ok := h.recent[hash]; ok && now.Sub(last) < dedupeWindow {
		h.suppressed++
		for i := len(h.ring) - 1; i >= 0; i-- {
			if h.ring[i].Hash == hash {
				h.ring[i].Repeats++
				break
			}
		}
		h.mu.Unlock()
		metrics.ErrorsSuppressed.Inc()
		return nil
	}
	h.recent[hash] = now

	entry := ErrorEntry{
		ID:         uuid.New(),
		Hash:       hash,
		Message:    err.Error(),
		Kind:       kind,
		Severity:   severity,
		Context:    ectx,
		OccurredAt: now,
	}
	h.ring = append(h.ring, entry)
	if len(h.ring) > ringCap {
		h.ring = h.ring[len(h.ring)-ringCap:]
	}
	h.mu.Unlock()

	metrics.ErrorsHandled.WithLabelValues(string(severity)).Inc()
	h.logEntry(entry)

	if (severity == SeverityHigh || severity == SeverityCritical) && h.audit != nil {
		h.audit.Registrar("error", entry.Message, entry.Context.Component, entry.Context.Action,
			entry.Context.UserID, entry.Context.Metadata)
	}

	if kind.userRelevant() {
		if nerr := h.notifier.Notify(ctx, Notice{Message: friendlyMessage(kind, ectx, err.Error()), Severity: severity}); nerr != nil {
			h.logger.Warn().Err(nerr).Msg("monitor: falha ao notificar usuário")
		}
	}

	if h.telemetryEnabled && severity != SeverityLow {
		h.persist(entry)
	}

	return &entry
}

// RetryOperation executa fn com backoff exponencial, registrando cada falha.
// A severidade só escala para high na tentativa final; o erro original é
// propagado após esgotar maxRetries.
func (h *ErrorHandler) RetryOperation(ctx context.Context, fn func(context.Context) error, ectx ErrorContext, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := fn(ctx); err != nil {
			lastErr = err
			severity := SeverityMedium
			if attempt == maxRetries {
				severity = SeverityHigh
			}
			h.Handle(ctx, err, KindUnknown, ectx, severity)

			if attempt == maxRetries {
				break
			}

			delay := baseRetryDelay << (attempt - 1)
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		return nil
	}
	return lastErr
}

// Metrics resume o conteúdo atual do ring buffer.
func (h *ErrorHandler) Metrics() ErrorMetrics {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := ErrorMetrics{
		Total:      len(h.ring),
		BySeverity: make(map[Severity]int),
	}

	cutoff := h.now().Add(-24 * time.Hour)
	byComponent := make(map[string]int)
	for _, entry := range h.ring {
		out.BySeverity[entry.Severity]++
		if entry.OccurredAt.After(cutoff) {
			out.Last24h++
		}
		byComponent[entry.Context.Component]++
	}

	for component, count := range byComponent {
		out.TopComponents = append(out.TopComponents, ComponentCount{Component: component, Count: count})
	}
	sort.Slice(out.TopComponents, func(i, j int) bool {
		if out.TopComponents[i].Count != out.TopComponents[j].Count {
			return out.TopComponents[i].Count > out.TopComponents[j].Count
		}
		return out.TopComponents[i].Component < out.TopComponents[j].Component
	})
	if len(out.TopComponents) > 5 {
		out.TopComponents = out.TopComponents[:5]
	}

	return out
}

// Suppressed informa quantos erros foram suprimidos desde a criação.
func (h *ErrorHandler) Suppressed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.suppressed
}

func (h *ErrorHandler) persist(entry ErrorEntry) {
	if h.sink == nil || h.queue == nil {
		return
	}
	record := ErrorEventRecord{
		Hash:       entry.Hash,
		Message:    entry.Message,
		Kind:       entry.Kind,
		Severity:   entry.Severity,
		Component:  entry.Context.Component,
		Action:     entry.Context.Action,
		UserID:     entry.Context.UserID,
		OccurredAt: entry.OccurredAt,
		Metadata:   entry.Context.Metadata,
	}
	h.queue.Submit("error_event", func(ctx context.Context) error {
		_, err := retry.Do(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, h.sink.InsertErrorEvent(ctx, record)
		}, retry.Options{Op: "persist_error_event", MaxRetries: 3})
		return err
	})
}

func (h *ErrorHandler) logEntry(entry ErrorEntry) {
	var event *zerolog.Event
	switch entry.Severity {
	case SeverityLow:
		event = h.logger.Info()
	case SeverityMedium:
		event = h.logger.Warn()
	default:
		event = h.logger.Error()
	}

	event.Str("component", entry.Context.Component).
		Str("action", entry.Context.Action).
		Str("kind", string(entry.Kind)).
		Str("severity", string(entry.Severity))
	if entry.Context.UserID != nil {
		event = event.Str("usuario_id", entry.Context.UserID.String())
	}
	event.Msg(entry.Message)
}

func (h *ErrorHandler) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.prune()
		}
	}
}

func (h *ErrorHandler) prune() {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.now().Add(-retention)
	kept := h.ring[:0]
	for _, entry := range h.ring {
		if entry.OccurredAt.After(cutoff) {
			kept = append(kept, entry)
		}
	}
	h.ring = kept

	for hash, last := range h.recent {
		if h.now().Sub(last) > dedupeWindow {
			delete(h.recent, hash)
		}
	}
}

func errorHash(message, component, action string) string {
	sum := sha256.Sum256([]byte(message + "|" + component + "|" + action))
	return hex.EncodeToString(sum[:8])
}

func friendlyMessage(kind Kind, ectx ErrorContext, message string) string {
	switch kind {
	case KindAuth:
		return "Sessão expirada ou credenciais inválidas. Entre novamente."
	case KindValidation:
		return "Dados inválidos. Revise o formulário e tente de novo."
	case KindPermission:
		return "Você não tem permissão para esta operação."
	case KindNotFound:
		return "Registro não encontrado. Ele pode ter sido removido."
	case KindServer:
		return "O servidor não conseguiu completar a operação. Tente novamente."
	default:
		return fmt.Sprintf("Erro em %s: %s", ectx.Component, message)
	}
}
