package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persiste eventos de erro e de segurança para análise posterior.
// Apenas severidades high/critical chegam aqui; o resto fica em memória.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SecurityEventRecord é a forma persistida de um evento de segurança.
type SecurityEventRecord struct {
	Type       SecurityEventType
	Severity   Severity
	UserID     *uuid.UUID
	UserEmail  *string
	IP         *string
	UserAgent  *string
	OccurredAt time.Time
	Metadata   map[string]any
}

// ErrorEventRecord é a forma persistida de um erro high/critical.
type ErrorEventRecord struct {
	Hash       string
	Message    string
	Kind       Kind
	Severity   Severity
	Component  string
	Action     string
	UserID     *uuid.UUID
	OccurredAt time.Time
	Metadata   map[string]any
}

func (r *Repository) InsertSecurityEvent(ctx context.Context, event SecurityEventRecord) error {
	const query = `
        INSERT INTO eventos_seguranca (tipo, severidade, usuario_id, usuario_email, ip, user_agent, ocorrido_em, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8::jsonb, '{}'::jsonb))
    `

	var metadata any
	if event.Metadata != nil {
		metadata = event.Metadata
	}

	_, err := r.pool.Exec(ctx, query,
		string(event.Type), string(event.Severity), event.UserID, event.UserEmail,
		event.IP, event.UserAgent, event.OccurredAt, metadata)
	return err
}

func (r *Repository) InsertErrorEvent(ctx context.Context, event ErrorEventRecord) error {
	const query = `
        INSERT INTO eventos_erro (hash, mensagem, tipo, severidade, componente, acao, usuario_id, ocorrido_em, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9::jsonb, '{}'::jsonb))
    `

	var metadata any
	if event.Metadata != nil {
		metadata = event.Metadata
	}

	_, err := r.pool.Exec(ctx, query,
		event.Hash, event.Message, string(event.Kind), string(event.Severity),
		event.Component, event.Action, event.UserID, event.OccurredAt, metadata)
	return err
}
