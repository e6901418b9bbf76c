// Package transportadora cadastra as empresas atendidas pelo armazém.
package transportadora

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("transportadora não encontrada")
	ErrCNPJInvalido = errors.New("CNPJ inválido")
)

// Transportadora representa uma empresa cliente da operação.
type Transportadora struct {
	ID           uuid.UUID      `json:"id"`
	Slug         string         `json:"slug"`
	RazaoSocial  string         `json:"razao_social"`
	CNPJ         string         `json:"cnpj"`
	Dominio      string         `json:"dominio"`
	Contato      map[string]any `json:"contato"`
	Settings     map[string]any `json:"settings"`
	Ativa        bool           `json:"ativa"`
	CriadaEm     time.Time      `json:"criada_em"`
	AtualizadaEm time.Time      `json:"atualizada_em"`
}

// CreateInput contém os campos do cadastro de transportadora.
type CreateInput struct {
	Slug        string
	RazaoSocial string
	CNPJ        string
	Dominio     string
	Contato     map[string]any
	Settings    map[string]any
}
