package monitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/logcarga/armazem/internal/metrics"
	"github.com/logcarga/armazem/internal/retry"
	"github.com/logcarga/armazem/internal/util"
)

// SecurityEventType identifica eventos relevantes de segurança.
type SecurityEventType string

const (
	EventFailedLogin          SecurityEventType = "failed_login"
	EventSuspiciousActivity   SecurityEventType = "suspicious_activity"
	EventPermissionEscalation SecurityEventType = "permission_escalation"
	EventDataAccess           SecurityEventType = "data_access"
	EventSessionAnomaly       SecurityEventType = "session_anomaly"
)

const (
	lockoutDuration   = 15 * time.Minute
	lockoutThreshold  = 5
	logThrottleWindow = 5 * time.Second
	attemptsRetention = 24 * time.Hour
	sweepInterval     = time.Hour
)

// LoginStatus resume o estado de bloqueio após uma falha de login.
type LoginStatus struct {
	Locked    bool
	Remaining time.Duration
}

type securitySink interface {
	InsertSecurityEvent(ctx context.Context, event SecurityEventRecord) error
}

type loginAttempts struct {
	count int
	last  time.Time
}

// SecurityMonitor contabiliza falhas de login por chave (ip ou email) e
// registra eventos de segurança com throttling de log.
// O bloqueio aqui é dissuasão de UX; a fronteira real é o servidor de auth.
type SecurityMonitor struct {
	queue  *TaskQueue
	sink   securitySink
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	attempts map[string]*loginAttempts
	throttle map[string]time.Time

	once   sync.Once
	cancel context.CancelFunc
}

// NewSecurityMonitor cria o monitor. sink pode ser nil (sem persistência remota).
func NewSecurityMonitor(queue *TaskQueue, sink securitySink, logger zerolog.Logger) *SecurityMonitor {
	return &SecurityMonitor{
		queue:    queue,
		sink:     sink,
		logger:   logger,
		now:      util.Now,
		attempts: make(map[string]*loginAttempts),
		throttle: make(map[string]time.Time),
	}
}

// Start inicia a varredura horária de contadores ociosos.
func (m *SecurityMonitor) Start(parent context.Context) {
	m.once.Do(func() {
		ctx, cancel := context.WithCancel(parent)
		m.cancel = cancel
		go m.sweepLoop(ctx)
	})
}

// Stop encerra a varredura.
func (m *SecurityMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// RecordFailedLogin contabiliza a falha e devolve o estado de bloqueio.
// Passada a janela de bloqueio desde a última falha, o contador é zerado
// antes de incrementar.
func (m *SecurityMonitor) RecordFailedLogin(ctx context.Context, email, ip string) LoginStatus {
	key := attemptKey(email, ip)
	now := m.now()

	m.mu.Lock()
	entry, ok := m.attempts[key]
	if !ok {
		entry = &loginAttempts{}
		m.attempts[key] = entry
	}
	if now.Sub(entry.last) > lockoutDuration {
		entry.count = 0
	}
	entry.count++
	entry.last = now
	count := entry.count
	m.mu.Unlock()

	severity := SeverityMedium
	if count > lockoutThreshold {
		severity = SeverityHigh
		if count == lockoutThreshold+1 {
			metrics.LoginLockouts.Inc()
		}
	}

	meta := map[string]any{"tentativas": count}
	m.recordEvent(ctx, EventFailedLogin, severity, nil, &email, ipPtr(ip), meta)

	if count > lockoutThreshold {
		return LoginStatus{Locked: true, Remaining: lockoutDuration}
	}
	return LoginStatus{}
}

// IsAccountLocked informa se a chave está bloqueada neste instante.
func (m *SecurityMonitor) IsAccountLocked(email, ip string) bool {
	key := attemptKey(email, ip)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.attempts[key]
	if !ok {
		return false
	}
	return entry.count > lockoutThreshold && m.now().Sub(entry.last) < lockoutDuration
}

// RemainingLockout devolve quanto falta para o bloqueio expirar.
func (m *SecurityMonitor) RemainingLockout(email, ip string) time.Duration {
	key := attemptKey(email, ip)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.attempts[key]
	if !ok || entry.count <= lockoutThreshold {
		return 0
	}
	remaining := lockoutDuration - m.now().Sub(entry.last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ClearFailedLogins zera o contador após login bem-sucedido.
func (m *SecurityMonitor) ClearFailedLogins(email, ip string) {
	key := attemptKey(email, ip)
	m.mu.Lock()
	delete(m.attempts, key)
	m.mu.Unlock()
}

// RecordSuspiciousActivity registra comportamento anômalo do cliente.
func (m *SecurityMonitor) RecordSuspiciousActivity(ctx context.Context, userID *uuid.UUID, meta map[string]any) {
	m.recordEvent(ctx, EventSuspiciousActivity, SeverityMedium, userID, nil, nil, meta)
}

// RecordPermissionEscalation registra tentativa de acesso acima do papel.
func (m *SecurityMonitor) RecordPermissionEscalation(ctx context.Context, userID *uuid.UUID, meta map[string]any) {
	m.recordEvent(ctx, EventPermissionEscalation, SeverityHigh, userID, nil, nil, meta)
}

// RecordDataAccess registra leitura de dados; volume alto escala a severidade.
func (m *SecurityMonitor) RecordDataAccess(ctx context.Context, userID *uuid.UUID, rows int, meta map[string]any) {
	severity := SeverityLow
	if rows > 1000 {
		severity = SeverityMedium
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["linhas"] = rows
	m.recordEvent(ctx, EventDataAccess, severity, userID, nil, nil, meta)
}

// RecordSessionAnomaly registra sessão com características inesperadas.
func (m *SecurityMonitor) RecordSessionAnomaly(ctx context.Context, userID *uuid.UUID, meta map[string]any) {
	m.recordEvent(ctx, EventSessionAnomaly, SeverityMedium, userID, nil, nil, meta)
}

// recordEvent aplica throttling de log por (tipo, usuário) e persiste
// remotamente apenas high/critical, em segundo plano.
func (m *SecurityMonitor) recordEvent(ctx context.Context, eventType SecurityEventType, severity Severity, userID *uuid.UUID, email, ip *string, meta map[string]any) {
	throttleKey := string(eventType)
	if userID != nil {
		throttleKey += ":" + userID.String()
	} else if email != nil {
		throttleKey += ":" + strings.ToLower(*email)
	}

	now := m.now()
	m.mu.Lock()
	last, seen := m.throttle[throttleKey]
	throttled := seen && now.Sub(last) < logThrottleWindow
	if !throttled {
		m.throttle[throttleKey] = now
	}
	m.mu.Unlock()

	if !throttled {
		event := m.logger.Warn()
		if severity == SeverityHigh || severity == SeverityCritical {
			event = m.logger.Error()
		}
		event.Str("tipo", string(eventType)).Str("severidade", string(severity))
		if email != nil {
			event = event.Str("email", *email)
		}
		if userID != nil {
			event = event.Str("usuario_id", userID.String())
		}
		event.Msg("security: evento registrado")
	}

	if severity != SeverityHigh && severity != SeverityCritical {
		return
	}
	if m.sink == nil || m.queue == nil {
		return
	}

	record := SecurityEventRecord{
		Type:       eventType,
		Severity:   severity,
		UserID:     userID,
		UserEmail:  email,
		IP:         ip,
		OccurredAt: now,
		Metadata:   meta,
	}
	m.queue.Submit("security_event", func(ctx context.Context) error {
		_, err := retry.Do(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, m.sink.InsertSecurityEvent(ctx, record)
		}, retry.Options{Op: "persist_security_event", MaxRetries: 3})
		return err
	})
}

func (m *SecurityMonitor) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *SecurityMonitor) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-attemptsRetention)
	for key, entry := range m.attempts {
		if entry.last.Before(cutoff) {
			delete(m.attempts, key)
		}
	}
	for key, last := range m.throttle {
		if last.Before(cutoff) {
			delete(m.throttle, key)
		}
	}
}

func attemptKey(email, ip string) string {
	if ip != "" {
		return ip
	}
	return strings.ToLower(strings.TrimSpace(email))
}

func ipPtr(ip string) *string {
	if ip == "" {
		return nil
	}
	return &ip
}
