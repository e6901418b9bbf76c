// Package nf concentra o ciclo de vida das notas fiscais no armazém.
package nf

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indica NF inexistente.
	ErrNotFound = errors.New("nota fiscal não encontrada")
	// ErrStatusInvalido indica transição de status não permitida.
	ErrStatusInvalido = errors.New("transição de status não permitida")
)

// Status é a fase principal da NF no armazém.
type Status string

const (
	StatusArmazenada Status = "ARMAZENADA"
	StatusSolicitada Status = "SOLICITADA"
	StatusConfirmada Status = "CONFIRMADA"
)

// IsValid informa se o valor é um status conhecido.
func (s Status) IsValid() bool {
	switch s {
	case StatusArmazenada, StatusSolicitada, StatusConfirmada:
		return true
	}
	return false
}

// NotaFiscal é o registro rastreado pelo armazém.
type NotaFiscal struct {
	ID               uuid.UUID  `json:"id"`
	Numero           string     `json:"numero"`
	TransportadoraID uuid.UUID  `json:"transportadora_id"`
	ClienteID        *uuid.UUID `json:"cliente_id,omitempty"`
	Cliente          string     `json:"cliente"`
	Produto          string     `json:"produto"`
	Quantidade       int        `json:"quantidade"`
	PesoKG           float64    `json:"peso_kg"`
	Volume           int        `json:"volume"`
	Status           Status     `json:"status"`
	StatusSeparacao  Separacao  `json:"status_separacao"`
	Observacoes      *string    `json:"observacoes,omitempty"`
	CriadaEm         time.Time  `json:"criada_em"`
	AtualizadaEm     time.Time  `json:"atualizada_em"`
}

// Anexo é um documento vinculado à NF (canhoto, foto da carga, laudo).
type Anexo struct {
	ID        uuid.UUID `json:"id"`
	NFID      uuid.UUID `json:"nf_id"`
	Nome      string    `json:"nome"`
	Caminho   string    `json:"caminho"`
	Tamanho   int64     `json:"tamanho"`
	Tipo      string    `json:"tipo"`
	EnviadoEm time.Time `json:"enviado_em"`
}

// CreateInput contém os campos do cadastro de NF pelo armazém.
type CreateInput struct {
	Numero           string
	TransportadoraID uuid.UUID
	ClienteID        *uuid.UUID
	Cliente          string
	Produto          string
	Quantidade       int
	PesoKG           float64
	Volume           int
}

// Filter restringe listagens.
type Filter struct {
	TransportadoraID *uuid.UUID
	ClienteID        *uuid.UUID
	Status           *Status
}
