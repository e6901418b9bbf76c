package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestSecurityMonitor() *SecurityMonitor {
	return NewSecurityMonitor(nil, nil, zerolog.Nop())
}

func TestLockoutAposSeisFalhas(t *testing.T) {
	m := newTestSecurityMonitor()

	base := time.Now()
	now := base
	m.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		now = base.Add(time.Duration(i) * 10 * time.Second)
		m.RecordFailedLogin(ctx, "cliente@armazem.dev", "")
	}

	if !m.IsAccountLocked("cliente@armazem.dev", "") {
		t.Fatal("conta deveria estar bloqueada após 6 falhas")
	}
	if m.RemainingLockout("cliente@armazem.dev", "") <= 0 {
		t.Fatal("bloqueio deveria ter tempo restante")
	}
}

func TestLockoutExpiraEContadorReinicia(t *testing.T) {
	m := newTestSecurityMonitor()

	base := time.Now()
	now := base
	m.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		m.RecordFailedLogin(ctx, "cliente@armazem.dev", "")
	}
	if !m.IsAccountLocked("cliente@armazem.dev", "") {
		t.Fatal("pré-condição: conta bloqueada")
	}

	// Passada a janela desde a última falha, a próxima falha zera o contador.
	now = base.Add(16 * time.Minute)
	status := m.RecordFailedLogin(ctx, "cliente@armazem.dev", "")
	if status.Locked {
		t.Fatal("falha após a janela não deveria bloquear")
	}
	if m.IsAccountLocked("cliente@armazem.dev", "") {
		t.Fatal("conta deveria estar desbloqueada após reinício do contador")
	}
}

func TestChavePorIPTemPrecedencia(t *testing.T) {
	m := newTestSecurityMonitor()
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		m.RecordFailedLogin(ctx, "a@armazem.dev", "10.0.0.1")
	}

	if !m.IsAccountLocked("qualquer@armazem.dev", "10.0.0.1") {
		t.Fatal("bloqueio deveria ser por IP quando presente")
	}
	if m.IsAccountLocked("a@armazem.dev", "") {
		t.Fatal("sem IP a chave é o email, que não acumulou falhas")
	}
}

func TestClearFailedLoginsZeraContador(t *testing.T) {
	m := newTestSecurityMonitor()
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		m.RecordFailedLogin(ctx, "op@armazem.dev", "")
	}
	m.ClearFailedLogins("op@armazem.dev", "")

	if m.IsAccountLocked("op@armazem.dev", "") {
		t.Fatal("login bem-sucedido deveria zerar o bloqueio")
	}
}

func TestThrottleSuprimeEventoRepetido(t *testing.T) {
	m := newTestSecurityMonitor()

	base := time.Now()
	now := base
	m.now = func() time.Time { return now }

	ctx := context.Background()
	userID := uuid.New()

	m.RecordSuspiciousActivity(ctx, &userID, map[string]any{"motivo": "rate_limit"})

	key := string(EventSuspiciousActivity) + ":" + userID.String()
	m.mu.Lock()
	first := m.throttle[key]
	m.mu.Unlock()
	if !first.Equal(base) {
		t.Fatalf("primeiro evento deveria marcar o throttle em %v, marcou %v", base, first)
	}

	// Dentro da janela de 5s o evento repetido não renova a marca.
	now = base.Add(3 * time.Second)
	m.RecordSuspiciousActivity(ctx, &userID, map[string]any{"motivo": "rate_limit"})

	m.mu.Lock()
	during := m.throttle[key]
	m.mu.Unlock()
	if !during.Equal(first) {
		t.Fatal("evento dentro da janela deveria ser suprimido")
	}

	// Passada a janela, o evento volta a ser registrado.
	now = base.Add(6 * time.Second)
	m.RecordSuspiciousActivity(ctx, &userID, map[string]any{"motivo": "rate_limit"})

	m.mu.Lock()
	after := m.throttle[key]
	m.mu.Unlock()
	if !after.Equal(now) {
		t.Fatal("evento fora da janela deveria renovar a marca do throttle")
	}
}

func TestThrottleSeparaUsuarios(t *testing.T) {
	m := newTestSecurityMonitor()

	base := time.Now()
	m.now = func() time.Time { return base }

	ctx := context.Background()
	alice := uuid.New()
	bruno := uuid.New()

	m.RecordSessionAnomaly(ctx, &alice, nil)
	m.RecordSessionAnomaly(ctx, &bruno, nil)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.throttle) != 2 {
		t.Fatalf("usuários distintos deveriam ter chaves de throttle próprias, há %d", len(m.throttle))
	}
}

func TestSweepRemoveContadoresOciosos(t *testing.T) {
	m := newTestSecurityMonitor()

	base := time.Now()
	now := base
	m.now = func() time.Time { return now }

	m.RecordFailedLogin(context.Background(), "op@armazem.dev", "")

	now = base.Add(25 * time.Hour)
	m.sweep()

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.attempts) != 0 {
		t.Fatalf("contadores ociosos deveriam ser removidos, restam %d", len(m.attempts))
	}
}
