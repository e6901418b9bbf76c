package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/logcarga/armazem/internal/metrics"
)

// Task é uma operação de logging remoto executada em segundo plano.
type Task func(ctx context.Context) error

type queuedTask struct {
	name string
	fn   Task
}

// TaskQueue executa tarefas fire-and-forget com fila limitada.
// Fila cheia descarta a tarefa; o descarte é observável por métrica e log,
// mas nunca propaga ao chamador.
type TaskQueue struct {
	tasks  chan queuedTask
	logger zerolog.Logger

	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTaskQueue cria fila com a capacidade informada.
func NewTaskQueue(size int, logger zerolog.Logger) *TaskQueue {
	if size <= 0 {
		size = 64
	}
	return &TaskQueue{
		tasks:  make(chan queuedTask, size),
		logger: logger,
	}
}

// Start inicia o worker. Safe para chamar múltiplas vezes.
func (q *TaskQueue) Start(parent context.Context) {
	q.once.Do(func() {
		ctx, cancel := context.WithCancel(parent)
		q.cancel = cancel
		q.wg.Add(1)
		go q.run(ctx)
	})
}

// Stop encerra o worker e aguarda a tarefa corrente.
func (q *TaskQueue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Submit enfileira sem bloquear; devolve false quando a fila está cheia.
func (q *TaskQueue) Submit(name string, fn Task) bool {
	select {
	case q.tasks <- queuedTask{name: name, fn: fn}:
		return true
	default:
		metrics.TaskQueueDropped.Inc()
		q.logger.Warn().Str("task", name).Msg("taskqueue: fila cheia, tarefa descartada")
		return false
	}
}

func (q *TaskQueue) run(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-q.tasks:
			taskCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := task.fn(taskCtx)
			cancel()

			if err != nil {
				metrics.TaskQueueProcessed.WithLabelValues("failure").Inc()
				q.logger.Warn().Str("task", task.name).Err(err).
					Msg("taskqueue: tarefa remota falhou")
				continue
			}
			metrics.TaskQueueProcessed.WithLabelValues("success").Inc()
		}
	}
}
