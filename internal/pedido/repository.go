package pedido

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/logcarga/armazem/internal/db"
)

// Repository provê acesso à tabela de pedidos de liberação.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository cria instância do repositório.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const pedidoColumns = `id, transportadora_id, nf_id, nf_numero, cliente, prioridade, responsavel,
        status, data_solicitacao, data_liberacao, data_carregamento`

func scanPedido(row pgx.Row) (Pedido, error) {
	var p Pedido
	err := row.Scan(
		&p.ID, &p.TransportadoraID, &p.NFID, &p.NFNumero, &p.Cliente,
		&p.Prioridade, &p.Responsavel, &p.Status,
		&p.DataSolicitacao, &p.DataLiberacao, &p.DataCarregamento,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Pedido{}, ErrNotFound
	}
	return p, err
}

// GetByID busca um pedido específico.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Pedido, error) {
	query := fmt.Sprintf(`SELECT %s FROM pedidos_liberacao WHERE id = $1`, pedidoColumns)
	return scanPedido(r.pool.QueryRow(ctx, query, id))
}

// FindAberto localiza pedido em aberto para a NF, se houver.
func (r *Repository) FindAberto(ctx context.Context, transportadoraID uuid.UUID, nfNumero string) (Pedido, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM pedidos_liberacao
        WHERE transportadora_id = $1 AND nf_numero = $2 AND status = 'aberto'`, pedidoColumns)
	return scanPedido(r.pool.QueryRow(ctx, query, transportadoraID, strings.TrimSpace(nfNumero)))
}

// List devolve pedidos pelo filtro, mais recentes primeiro.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Pedido, error) {
	query := fmt.Sprintf(`SELECT %s FROM pedidos_liberacao`, pedidoColumns)
	var conditions []string
	var args []any

	if filter.TransportadoraID != nil {
		args = append(args, *filter.TransportadoraID)
		conditions = append(conditions, fmt.Sprintf("transportadora_id = $%d", len(args)))
	}
	if filter.ClienteID != nil {
		args = append(args, *filter.ClienteID)
		conditions = append(conditions, fmt.Sprintf("nf_id IN (SELECT id FROM notas_fiscais WHERE cliente_id = $%d)", len(args)))
	}
	if len(filter.Status) > 0 {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY data_solicitacao DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pedidos []Pedido
	for rows.Next() {
		p, err := scanPedido(rows)
		if err != nil {
			return nil, err
		}
		pedidos = append(pedidos, p)
	}
	return pedidos, rows.Err()
}

// CriarComSolicitacao insere o pedido e move a NF para SOLICITADA na
// mesma transação. O UPDATE é compare-and-swap sobre ARMAZENADA: zero
// linhas afetadas significa que outra submissão chegou antes.
func (r *Repository) CriarComSolicitacao(ctx context.Context, p Pedido) (Pedido, error) {
	var out Pedido
	err := db.WithTx(ctx, r.pool, func(pctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(pctx, `
            UPDATE notas_fiscais SET status = 'SOLICITADA', atualizada_em = now()
            WHERE id = $1 AND status = 'ARMAZENADA'`, p.NFID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNFNaoArmazenada
		}

		query := fmt.Sprintf(`
            INSERT INTO pedidos_liberacao (transportadora_id, nf_id, nf_numero, cliente, prioridade, responsavel, status, data_solicitacao)
            VALUES ($1, $2, $3, $4, $5, $6, 'aberto', $7)
            RETURNING %s`, pedidoColumns)

		out, err = scanPedido(tx.QueryRow(pctx, query,
			p.TransportadoraID, p.NFID, strings.TrimSpace(p.NFNumero),
			strings.TrimSpace(p.Cliente), p.Prioridade, strings.TrimSpace(p.Responsavel),
			p.DataSolicitacao))
		return err
	})
	if err != nil {
		return Pedido{}, err
	}
	return out, nil
}

// Encerrar fecha o pedido aberto com o status final dado.
func (r *Repository) Encerrar(ctx context.Context, id uuid.UUID, status string) (Pedido, error) {
	query := fmt.Sprintf(`
        UPDATE pedidos_liberacao SET status = $1
        WHERE id = $2 AND status = 'aberto'
        RETURNING %s`, pedidoColumns)
	return scanPedido(r.pool.QueryRow(ctx, query, status, id))
}

// Liberar registra a data de liberação da carga.
func (r *Repository) Liberar(ctx context.Context, id uuid.UUID) (Pedido, error) {
	query := fmt.Sprintf(`
        UPDATE pedidos_liberacao SET data_liberacao = now()
        WHERE id = $1
        RETURNING %s`, pedidoColumns)
	return scanPedido(r.pool.QueryRow(ctx, query, id))
}

// RegistrarCarregamento marca a data de carregamento efetivo.
func (r *Repository) RegistrarCarregamento(ctx context.Context, id uuid.UUID) (Pedido, error) {
	query := fmt.Sprintf(`
        UPDATE pedidos_liberacao SET data_carregamento = now()
        WHERE id = $1
        RETURNING %s`, pedidoColumns)
	return scanPedido(r.pool.QueryRow(ctx, query, id))
}

// Delete remove o pedido.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM pedidos_liberacao WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
