package nf

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implementa NotasRepository sobre Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const nfColumns = `id, numero, transportadora_id, cliente_id, cliente, produto, quantidade,
        peso_kg, volume, status, status_separacao, observacoes, criada_em, atualizada_em`

func scanNota(row pgx.Row) (NotaFiscal, error) {
	var nota NotaFiscal
	err := row.Scan(
		&nota.ID, &nota.Numero, &nota.TransportadoraID, &nota.ClienteID, &nota.Cliente,
		&nota.Produto, &nota.Quantidade, &nota.PesoKG, &nota.Volume,
		&nota.Status, &nota.StatusSeparacao, &nota.Observacoes,
		&nota.CriadaEm, &nota.AtualizadaEm,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return NotaFiscal{}, ErrNotFound
	}
	return nota, err
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (NotaFiscal, error) {
	query := fmt.Sprintf(`SELECT %s FROM notas_fiscais WHERE id = $1`, nfColumns)
	return scanNota(r.pool.QueryRow(ctx, query, id))
}

func (r *Repository) GetByNumero(ctx context.Context, transportadoraID uuid.UUID, numero string) (NotaFiscal, error) {
	query := fmt.Sprintf(`SELECT %s FROM notas_fiscais WHERE transportadora_id = $1 AND numero = $2`, nfColumns)
	return scanNota(r.pool.QueryRow(ctx, query, transportadoraID, strings.TrimSpace(numero)))
}

func (r *Repository) List(ctx context.Context, filter Filter) ([]NotaFiscal, error) {
	query := fmt.Sprintf(`SELECT %s FROM notas_fiscais`, nfColumns)
	var conditions []string
	var args []any

	if filter.TransportadoraID != nil {
		args = append(args, *filter.TransportadoraID)
		conditions = append(conditions, fmt.Sprintf("transportadora_id = $%d", len(args)))
	}
	if filter.ClienteID != nil {
		args = append(args, *filter.ClienteID)
		conditions = append(conditions, fmt.Sprintf("cliente_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY criada_em DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notas []NotaFiscal
	for rows.Next() {
		nota, err := scanNota(rows)
		if err != nil {
			return nil, err
		}
		notas = append(notas, nota)
	}
	return notas, rows.Err()
}

func (r *Repository) Create(ctx context.Context, input CreateInput) (NotaFiscal, error) {
	query := fmt.Sprintf(`
        INSERT INTO notas_fiscais (numero, transportadora_id, cliente_id, cliente, produto, quantidade, peso_kg, volume, status, status_separacao)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'ARMAZENADA', 'pendente')
        RETURNING %s`, nfColumns)

	return scanNota(r.pool.QueryRow(ctx, query,
		strings.TrimSpace(input.Numero), input.TransportadoraID, input.ClienteID,
		strings.TrimSpace(input.Cliente), strings.TrimSpace(input.Produto),
		input.Quantidade, input.PesoKG, input.Volume))
}

// UpdateStatus é compare-and-swap: só escreve se o status atual ainda for `de`.
// Nenhuma linha afetada vira ErrNotFound; o serviço traduz para conflito.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, de, para Status) (NotaFiscal, error) {
	query := fmt.Sprintf(`
        UPDATE notas_fiscais SET status = $1, atualizada_em = now()
        WHERE id = $2 AND status = $3
        RETURNING %s`, nfColumns)

	return scanNota(r.pool.QueryRow(ctx, query, para, id, de))
}

// AtualizarSeparacao chama a função do banco que valida e aplica o
// sub-estado de separação, devolvendo a linha atualizada.
func (r *Repository) AtualizarSeparacao(ctx context.Context, id uuid.UUID, nova Separacao, obs *string) (NotaFiscal, error) {
	query := fmt.Sprintf(`SELECT %s FROM atualizar_status_separacao($1, $2, $3)`, nfColumns)
	return scanNota(r.pool.QueryRow(ctx, query, id, nova, obs))
}

func (r *Repository) AddAnexo(ctx context.Context, anexo Anexo) (Anexo, error) {
	const query = `
        INSERT INTO nf_anexos (nf_id, nome, caminho, tamanho, tipo, enviado_em)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, nf_id, nome, caminho, tamanho, tipo, enviado_em`

	var out Anexo
	err := r.pool.QueryRow(ctx, query,
		anexo.NFID, anexo.Nome, anexo.Caminho, anexo.Tamanho, anexo.Tipo, anexo.EnviadoEm,
	).Scan(&out.ID, &out.NFID, &out.Nome, &out.Caminho, &out.Tamanho, &out.Tipo, &out.EnviadoEm)
	return out, err
}

func (r *Repository) ListAnexos(ctx context.Context, nfID uuid.UUID) ([]Anexo, error) {
	const query = `
        SELECT id, nf_id, nome, caminho, tamanho, tipo, enviado_em
        FROM nf_anexos WHERE nf_id = $1 ORDER BY enviado_em DESC`

	rows, err := r.pool.Query(ctx, query, nfID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var anexos []Anexo
	for rows.Next() {
		var anexo Anexo
		if err := rows.Scan(&anexo.ID, &anexo.NFID, &anexo.Nome, &anexo.Caminho,
			&anexo.Tamanho, &anexo.Tipo, &anexo.EnviadoEm); err != nil {
			return nil, err
		}
		anexos = append(anexos, anexo)
	}
	return anexos, rows.Err()
}
