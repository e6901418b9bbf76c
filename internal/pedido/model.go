// Package pedido cobre as solicitações de carregamento sobre NFs armazenadas.
package pedido

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("pedido não encontrado")
	ErrPedidoDuplicado    = errors.New("já existe um pedido em aberto para esta NF")
	ErrNFNaoArmazenada    = errors.New("a NF precisa estar ARMAZENADA para solicitar carregamento")
	ErrPedidoEncerrado    = errors.New("pedido já foi encerrado")
	ErrPrioridadeInvalida = errors.New("prioridade inválida")
)

const (
	StatusAberto     = "aberto"
	StatusConfirmado = "confirmado"
	StatusRecusado   = "recusado"

	PrioridadeAlta  = "Alta"
	PrioridadeMedia = "Média"
	PrioridadeBaixa = "Baixa"
)

var (
	validStatuses = map[string]struct{}{
		StatusAberto:     {},
		StatusConfirmado: {},
		StatusRecusado:   {},
	}
	validPrioridades = map[string]struct{}{
		PrioridadeAlta:  {},
		PrioridadeMedia: {},
		PrioridadeBaixa: {},
	}
	prioridadeAliases = map[string]string{
		"alta":   PrioridadeAlta,
		"media":  PrioridadeMedia,
		"média":  PrioridadeMedia,
		"baixa":  PrioridadeBaixa,
		"high":   PrioridadeAlta,
		"normal": PrioridadeMedia,
		"low":    PrioridadeBaixa,
	}
)

// Pedido representa uma solicitação de carregamento de uma NF.
type Pedido struct {
	ID               uuid.UUID  `json:"id"`
	TransportadoraID uuid.UUID  `json:"transportadora_id"`
	NFID             uuid.UUID  `json:"nf_id"`
	NFNumero         string     `json:"nf_numero"`
	Cliente          string     `json:"cliente"`
	Prioridade       string     `json:"prioridade"`
	Responsavel      string     `json:"responsavel"`
	Status           string     `json:"status"`
	DataSolicitacao  time.Time  `json:"data_solicitacao"`
	DataLiberacao    *time.Time `json:"data_liberacao,omitempty"`
	DataCarregamento *time.Time `json:"data_carregamento,omitempty"`
}

// SolicitacaoInput encapsula os campos da abertura de pedido.
type SolicitacaoInput struct {
	TransportadoraID uuid.UUID
	NFNumero         string
	Prioridade       string
	Responsavel      string
}

// Filter restringe listagens.
type Filter struct {
	TransportadoraID *uuid.UUID
	ClienteID        *uuid.UUID
	Status           []string
}

// NormalizePrioridade padroniza a prioridade; vazio vira Média.
func NormalizePrioridade(prioridade string) string {
	prioridade = strings.TrimSpace(prioridade)
	if prioridade == "" {
		return PrioridadeMedia
	}
	if canonical, ok := prioridadeAliases[strings.ToLower(prioridade)]; ok {
		return canonical
	}
	return prioridade
}

// IsValidPrioridade indica se a prioridade é aceita.
func IsValidPrioridade(prioridade string) bool {
	_, ok := validPrioridades[prioridade]
	return ok
}

// IsValidStatus indica se o status é aceito.
func IsValidStatus(status string) bool {
	_, ok := validStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}
