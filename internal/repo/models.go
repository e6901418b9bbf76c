package repo

import (
	"time"

	"github.com/google/uuid"
)

// Usuario representa colaborador do backoffice (operação e administração).
type Usuario struct {
	ID         uuid.UUID
	Nome       string
	Email      string
	SenhaHash  string
	SuperAdmin bool
	Ativo      bool
	CriadoEm   time.Time
}

// Cliente representa usuário do portal de acompanhamento de cargas.
type Cliente struct {
	ID               uuid.UUID
	Nome             string
	Email            *string
	SenhaHash        *string
	TransportadoraID uuid.UUID
	Ativo            bool
	CriadoEm         time.Time
}

// VinculoTransportadora liga usuário à transportadora com papel.
type VinculoTransportadora struct {
	UsuarioID        uuid.UUID
	TransportadoraID uuid.UUID
	Papel            string
}

// TokenRefresh modela tabela de refresh tokens.
type TokenRefresh struct {
	ID        uuid.UUID
	Subject   uuid.UUID
	Audience  string
	TokenHash string
	Expiracao time.Time
	CriadoEm  time.Time
	Revogado  bool
}

// TransportadoraWithRole agrega transportadora com papel do usuário.
type TransportadoraWithRole struct {
	TransportadoraID uuid.UUID
	RazaoSocial      string
	Slug             string
	Papel            string
}

// InsertRefreshTokenParams são os campos do insert de refresh token.
type InsertRefreshTokenParams struct {
	ID        uuid.UUID
	Subject   uuid.UUID
	Audience  string
	TokenHash string
	Expiracao time.Time
	CriadoEm  time.Time
}

// CreateUsuarioParams são os campos do cadastro de usuário.
type CreateUsuarioParams struct {
	Nome       string
	Email      string
	SenhaHash  string
	SuperAdmin bool
	Ativo      bool
}
