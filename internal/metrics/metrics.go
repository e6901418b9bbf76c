// Package metrics expõe contadores Prometheus do serviço.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetryAttempts conta tentativas do executor de retry por resultado.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "armazem",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Total de tentativas do executor de retry por resultado",
		},
		[]string{"outcome"},
	)

	// RetryRecoveries conta operações que só tiveram sucesso após nova tentativa.
	RetryRecoveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "armazem",
			Subsystem: "retry",
			Name:      "recoveries_total",
			Help:      "Operações que falharam ao menos uma vez antes de suceder",
		},
	)

	// ErrorsHandled conta erros aceitos pelo tratador central, por severidade.
	ErrorsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "armazem",
			Subsystem: "errors",
			Name:      "handled_total",
			Help:      "Erros processados pelo tratador central por severidade",
		},
		[]string{"severity"},
	)

	// ErrorsSuppressed conta erros suprimidos pela janela de deduplicação.
	ErrorsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "armazem",
			Subsystem: "errors",
			Name:      "suppressed_total",
			Help:      "Erros idênticos suprimidos dentro da janela de deduplicação",
		},
	)

	// RealtimeEvents conta eventos recebidos no canal realtime, por tabela e resultado.
	RealtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "armazem",
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Eventos de mudança recebidos por tabela e resultado",
		},
		[]string{"table", "outcome"},
	)

	// RealtimeClients mede conexões websocket ativas.
	RealtimeClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "armazem",
			Subsystem: "realtime",
			Name:      "clients",
			Help:      "Conexões websocket ativas no hub",
		},
	)

	// TaskQueueDropped conta tarefas de log remoto descartadas por fila cheia.
	TaskQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "armazem",
			Subsystem: "taskqueue",
			Name:      "dropped_total",
			Help:      "Tarefas em segundo plano descartadas por fila cheia",
		},
	)

	// TaskQueueProcessed conta tarefas de log remoto executadas, por resultado.
	TaskQueueProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "armazem",
			Subsystem: "taskqueue",
			Name:      "processed_total",
			Help:      "Tarefas em segundo plano executadas por resultado",
		},
		[]string{"outcome"},
	)

	// CacheRequests conta acessos ao cache de consultas por resultado (hit/miss).
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "armazem",
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Acessos ao cache de consultas por resultado",
		},
		[]string{"outcome"},
	)

	// LoginLockouts conta bloqueios de conta aplicados pelo monitor de segurança.
	LoginLockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "armazem",
			Subsystem: "security",
			Name:      "lockouts_total",
			Help:      "Bloqueios temporários aplicados após falhas de login",
		},
	)
)
