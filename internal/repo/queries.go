package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queries concentra o acesso SQL das tabelas de identidade e sessão.
type Queries struct {
	pool *pgxpool.Pool
}

// New cria o pacote de queries sobre o pool.
func New(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

// QueryRowContext expõe consulta direta para casos pontuais.
func (q *Queries) QueryRowContext(ctx context.Context, sql string, args ...any) pgx.Row {
	return q.pool.QueryRow(ctx, sql, args...)
}

const usuarioColumns = `id, nome, email, senha_hash, super_admin, ativo, criado_em`

func scanUsuario(row pgx.Row) (Usuario, error) {
	var u Usuario
	err := row.Scan(&u.ID, &u.Nome, &u.Email, &u.SenhaHash, &u.SuperAdmin, &u.Ativo, &u.CriadoEm)
	if errors.Is(err, pgx.ErrNoRows) {
		return Usuario{}, ErrNotFound
	}
	return u, err
}

// GetUsuarioByEmail busca usuário pelo e-mail normalizado.
func (q *Queries) GetUsuarioByEmail(ctx context.Context, email string) (Usuario, error) {
	const query = `SELECT ` + usuarioColumns + ` FROM usuarios WHERE lower(email) = lower($1)`
	return scanUsuario(q.pool.QueryRow(ctx, query, strings.TrimSpace(email)))
}

// GetUsuarioByID busca usuário pelo identificador.
func (q *Queries) GetUsuarioByID(ctx context.Context, id uuid.UUID) (Usuario, error) {
	const query = `SELECT ` + usuarioColumns + ` FROM usuarios WHERE id = $1`
	return scanUsuario(q.pool.QueryRow(ctx, query, id))
}

// CreateUsuario insere um usuário do backoffice.
func (q *Queries) CreateUsuario(ctx context.Context, arg CreateUsuarioParams) (Usuario, error) {
	const query = `
        INSERT INTO usuarios (nome, email, senha_hash, super_admin, ativo)
        VALUES ($1, lower($2), $3, $4, $5)
        RETURNING ` + usuarioColumns
	return scanUsuario(q.pool.QueryRow(ctx, query,
		strings.TrimSpace(arg.Nome), strings.TrimSpace(arg.Email), arg.SenhaHash, arg.SuperAdmin, arg.Ativo))
}

// UpdateUsuario atualiza nome e e-mail.
func (q *Queries) UpdateUsuario(ctx context.Context, id uuid.UUID, nome, email string) error {
	const query = `UPDATE usuarios SET nome = $2, email = lower($3) WHERE id = $1`
	tag, err := q.pool.Exec(ctx, query, id, strings.TrimSpace(nome), strings.TrimSpace(email))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUsuarioAtivo liga ou desliga a conta.
func (q *Queries) SetUsuarioAtivo(ctx context.Context, id uuid.UUID, ativo bool) error {
	tag, err := q.pool.Exec(ctx, `UPDATE usuarios SET ativo = $2 WHERE id = $1`, id, ativo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateUsuarioSenha troca o hash de senha.
func (q *Queries) UpdateUsuarioSenha(ctx context.Context, id uuid.UUID, senhaHash string) error {
	tag, err := q.pool.Exec(ctx, `UPDATE usuarios SET senha_hash = $2 WHERE id = $1`, id, senhaHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsuariosByTransportadora devolve usuários vinculados à transportadora.
func (q *Queries) ListUsuariosByTransportadora(ctx context.Context, transportadoraID uuid.UUID) ([]Usuario, error) {
	const query = `
        SELECT u.id, u.nome, u.email, u.senha_hash, u.super_admin, u.ativo, u.criado_em
        FROM usuarios u
        JOIN usuarios_transportadoras ut ON ut.usuario_id = u.id
        WHERE ut.transportadora_id = $1
        ORDER BY u.nome`

	rows, err := q.pool.Query(ctx, query, transportadoraID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usuarios []Usuario
	for rows.Next() {
		u, err := scanUsuario(rows)
		if err != nil {
			return nil, err
		}
		usuarios = append(usuarios, u)
	}
	return usuarios, rows.Err()
}

// ListTransportadorasByUsuario devolve os vínculos do usuário com papel.
func (q *Queries) ListTransportadorasByUsuario(ctx context.Context, usuarioID uuid.UUID) ([]TransportadoraWithRole, error) {
	const query = `
        SELECT t.id, t.razao_social, t.slug, ut.papel
        FROM usuarios_transportadoras ut
        JOIN transportadoras t ON t.id = ut.transportadora_id
        WHERE ut.usuario_id = $1
        ORDER BY t.razao_social`

	rows, err := q.pool.Query(ctx, query, usuarioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vinculos []TransportadoraWithRole
	for rows.Next() {
		var v TransportadoraWithRole
		if err := rows.Scan(&v.TransportadoraID, &v.RazaoSocial, &v.Slug, &v.Papel); err != nil {
			return nil, err
		}
		vinculos = append(vinculos, v)
	}
	return vinculos, rows.Err()
}

// UpsertVinculo cria ou atualiza o papel do usuário na transportadora.
func (q *Queries) UpsertVinculo(ctx context.Context, arg VinculoTransportadora) error {
	const query = `
        INSERT INTO usuarios_transportadoras (usuario_id, transportadora_id, papel)
        VALUES ($1, $2, $3)
        ON CONFLICT (usuario_id, transportadora_id) DO UPDATE SET papel = EXCLUDED.papel`
	_, err := q.pool.Exec(ctx, query, arg.UsuarioID, arg.TransportadoraID, strings.ToLower(strings.TrimSpace(arg.Papel)))
	return err
}

// RemoveVinculo desfaz o vínculo do usuário com a transportadora.
func (q *Queries) RemoveVinculo(ctx context.Context, usuarioID, transportadoraID uuid.UUID) error {
	tag, err := q.pool.Exec(ctx,
		`DELETE FROM usuarios_transportadoras WHERE usuario_id = $1 AND transportadora_id = $2`,
		usuarioID, transportadoraID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const clienteColumns = `id, nome, email, senha_hash, transportadora_id, ativo, criado_em`

func scanCliente(row pgx.Row) (Cliente, error) {
	var c Cliente
	err := row.Scan(&c.ID, &c.Nome, &c.Email, &c.SenhaHash, &c.TransportadoraID, &c.Ativo, &c.CriadoEm)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cliente{}, ErrNotFound
	}
	return c, err
}

// GetClienteByEmail busca cliente pelo e-mail.
func (q *Queries) GetClienteByEmail(ctx context.Context, email string) (Cliente, error) {
	const query = `SELECT ` + clienteColumns + ` FROM clientes WHERE lower(email) = lower($1)`
	return scanCliente(q.pool.QueryRow(ctx, query, strings.TrimSpace(email)))
}

// GetClienteByID busca cliente pelo identificador.
func (q *Queries) GetClienteByID(ctx context.Context, id uuid.UUID) (Cliente, error) {
	const query = `SELECT ` + clienteColumns + ` FROM clientes WHERE id = $1`
	return scanCliente(q.pool.QueryRow(ctx, query, id))
}

const refreshColumns = `id, subject, audience, token_hash, expiracao, criado_em, revogado`

// GetRefreshTokenByHash busca token de refresh pelo hash.
func (q *Queries) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (TokenRefresh, error) {
	const query = `SELECT ` + refreshColumns + ` FROM tokens_refresh WHERE token_hash = $1`
	var t TokenRefresh
	err := q.pool.QueryRow(ctx, query, tokenHash).
		Scan(&t.ID, &t.Subject, &t.Audience, &t.TokenHash, &t.Expiracao, &t.CriadoEm, &t.Revogado)
	if errors.Is(err, pgx.ErrNoRows) {
		return TokenRefresh{}, ErrNotFound
	}
	return t, err
}

// InsertRefreshToken registra um novo token de refresh.
func (q *Queries) InsertRefreshToken(ctx context.Context, arg InsertRefreshTokenParams) (TokenRefresh, error) {
	const query = `
        INSERT INTO tokens_refresh (id, subject, audience, token_hash, expiracao, criado_em, revogado)
        VALUES ($1, $2, $3, $4, $5, $6, false)
        RETURNING ` + refreshColumns
	var t TokenRefresh
	err := q.pool.QueryRow(ctx, query, arg.ID, arg.Subject, arg.Audience, arg.TokenHash, arg.Expiracao, arg.CriadoEm).
		Scan(&t.ID, &t.Subject, &t.Audience, &t.TokenHash, &t.Expiracao, &t.CriadoEm, &t.Revogado)
	return t, err
}

// InvalidateOtherRefreshTokens revoga os demais tokens do subject na audience.
func (q *Queries) InvalidateOtherRefreshTokens(ctx context.Context, subject uuid.UUID, audience, keepHash string) error {
	const query = `
        UPDATE tokens_refresh SET revogado = true
        WHERE subject = $1 AND audience = $2 AND token_hash <> $3 AND NOT revogado`
	_, err := q.pool.Exec(ctx, query, subject, audience, keepHash)
	return err
}

// RevokeRefreshToken revoga o token com o hash dado.
func (q *Queries) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	tag, err := q.pool.Exec(ctx, `UPDATE tokens_refresh SET revogado = true WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
