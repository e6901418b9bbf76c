package transportadora

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provê acesso ao armazenamento de transportadoras.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository cria um novo repositório de transportadoras.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id, slug, razao_social, cnpj, dominio, contato, settings, ativa, criada_em, atualizada_em`

// GetByID busca transportadora pelo identificador.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Transportadora, error) {
	const query = `
        SELECT ` + columns + `
        FROM transportadoras
        WHERE id = $1
    `
	return scanTransportadora(r.pool.QueryRow(ctx, query, id))
}

// GetBySlug busca transportadora pelo slug.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*Transportadora, error) {
	const query = `
        SELECT ` + columns + `
        FROM transportadoras
        WHERE slug = $1
    `
	return scanTransportadora(r.pool.QueryRow(ctx, query, slug))
}

// GetByDominio busca transportadora pelo domínio normalizado.
func (r *Repository) GetByDominio(ctx context.Context, dominio string) (*Transportadora, error) {
	const query = `
        SELECT ` + columns + `
        FROM transportadoras
        WHERE dominio = $1
    `
	return scanTransportadora(r.pool.QueryRow(ctx, query, dominio))
}

// List devolve todas as transportadoras ordenadas por criação.
func (r *Repository) List(ctx context.Context) ([]Transportadora, error) {
	const query = `
        SELECT ` + columns + `
        FROM transportadoras
        ORDER BY criada_em DESC
    `

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transportadoras []Transportadora
	for rows.Next() {
		t, err := scanTransportadora(rows)
		if err != nil {
			return nil, err
		}
		transportadoras = append(transportadoras, *t)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return transportadoras, nil
}

// Create insere uma nova transportadora e devolve os dados persistidos.
func (r *Repository) Create(ctx context.Context, input CreateInput) (*Transportadora, error) {
	const query = `
        INSERT INTO transportadoras (slug, razao_social, cnpj, dominio, contato, settings, ativa)
        VALUES ($1, $2, $3, $4, $5, $6, true)
        RETURNING ` + columns + `
    `

	contatoJSON, err := jsonMarshalMap(input.Contato)
	if err != nil {
		return nil, err
	}
	settingsJSON, err := jsonMarshalMap(input.Settings)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, query,
		strings.TrimSpace(strings.ToLower(input.Slug)),
		strings.TrimSpace(input.RazaoSocial),
		input.CNPJ,
		strings.TrimSpace(strings.ToLower(input.Dominio)),
		contatoJSON,
		settingsJSON,
	)

	return scanTransportadora(row)
}

// UpdateSettings atualiza apenas o campo settings e o timestamp.
func (r *Repository) UpdateSettings(ctx context.Context, id uuid.UUID, settings map[string]any) error {
	const query = `
        UPDATE transportadoras
        SET settings = $2,
            atualizada_em = $3
        WHERE id = $1
    `

	settingsJSON, err := jsonMarshalMap(settings)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, query, id, settingsJSON, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAtiva liga ou desliga a transportadora.
func (r *Repository) SetAtiva(ctx context.Context, id uuid.UUID, ativa bool) error {
	const query = `
        UPDATE transportadoras
        SET ativa = $2,
            atualizada_em = now()
        WHERE id = $1
    `

	tag, err := r.pool.Exec(ctx, query, id, ativa)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTransportadora(row pgx.Row) (*Transportadora, error) {
	var (
		t           Transportadora
		contatoRaw  []byte
		settingsRaw []byte
	)

	if err := row.Scan(&t.ID, &t.Slug, &t.RazaoSocial, &t.CNPJ, &t.Dominio, &contatoRaw, &settingsRaw, &t.Ativa, &t.CriadaEm, &t.AtualizadaEm); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	contato, err := decodeJSONMap(contatoRaw)
	if err != nil {
		return nil, err
	}
	settings, err := decodeJSONMap(settingsRaw)
	if err != nil {
		return nil, err
	}

	t.Contato = contato
	t.Settings = settings

	return &t, nil
}

func decodeJSONMap(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return map[string]any{}, nil
	}
	return result, nil
}

func jsonMarshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}
