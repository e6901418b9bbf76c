// Package audit grava trilha de auditoria sem bloquear o caminho da requisição.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/logcarga/armazem/internal/monitor"
	"github.com/logcarga/armazem/internal/retry"
	"github.com/logcarga/armazem/internal/util"
)

// Repository persiste entradas na tabela auditoria.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Entry é uma linha da trilha de auditoria.
type Entry struct {
	Level      string
	Message    string
	EntityType string
	Action     string
	UserID     *uuid.UUID
	OccurredAt time.Time
	Metadata   map[string]any
}

func (r *Repository) Insert(ctx context.Context, entry Entry) error {
	const query = `
        INSERT INTO auditoria (nivel, mensagem, entidade, acao, usuario_id, ocorrido_em, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::jsonb, '{}'::jsonb))
    `

	var metadata any
	if entry.Metadata != nil {
		metadata = entry.Metadata
	}

	_, err := r.pool.Exec(ctx, query,
		entry.Level, entry.Message, entry.EntityType, entry.Action,
		entry.UserID, entry.OccurredAt, metadata)
	return err
}

type inserter interface {
	Insert(ctx context.Context, entry Entry) error
}

// Service enfileira entradas de auditoria na fila de tarefas em segundo plano.
// Falhas de persistência são contadas e logadas pela fila, nunca propagadas.
type Service struct {
	repo  inserter
	queue *monitor.TaskQueue
	now   func() time.Time
}

func NewService(repo inserter, queue *monitor.TaskQueue) *Service {
	return &Service{repo: repo, queue: queue, now: util.Now}
}

// Registrar grava a entrada de forma assíncrona (fire-and-forget).
func (s *Service) Registrar(level, message, entityType, action string, userID *uuid.UUID, meta map[string]any) {
	if s == nil || s.repo == nil || s.queue == nil {
		return
	}
	entry := Entry{
		Level:      level,
		Message:    message,
		EntityType: entityType,
		Action:     action,
		UserID:     userID,
		OccurredAt: s.now(),
		Metadata:   meta,
	}
	s.queue.Submit("audit_entry", func(ctx context.Context) error {
		_, err := retry.Do(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.repo.Insert(ctx, entry)
		}, retry.Options{Op: "persist_audit_entry", MaxRetries: 3})
		return err
	})
}
