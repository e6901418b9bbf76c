// Package realtime propaga mudanças do banco para os painéis abertos.
//
// O fluxo é: mutação → PUBLISH no canal Redis → Manager classifica e
// deduplica → invalida o cache de consultas → broadcast para as views
// via websocket. A releitura é idempotente, então eventos duplicados ou
// fora de ordem custam no máximo uma recarga redundante.
package realtime

import "encoding/json"

// EventType é a operação que originou o evento.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Tabelas observadas pelo canal centralizado.
const (
	TabelaNotasFiscais = "notas_fiscais"
	TabelaPedidos      = "pedidos_liberacao"
	TabelaAnexos       = "nf_anexos"
)

// Evento é o payload publicado no canal de mudanças.
// Antes/Depois carregam o registro serializado quando o emissor dispõe dele.
type Evento struct {
	Tipo   EventType       `json:"tipo"`
	Tabela string          `json:"tabela"`
	Antes  json.RawMessage `json:"antes,omitempty"`
	Depois json.RawMessage `json:"depois,omitempty"`
}

// recordID extrai o id do registro para deduplicação.
func (e Evento) recordID() string {
	var registro struct {
		ID string `json:"id"`
	}
	if len(e.Depois) > 0 && json.Unmarshal(e.Depois, &registro) == nil && registro.ID != "" {
		return registro.ID
	}
	if len(e.Antes) > 0 && json.Unmarshal(e.Antes, &registro) == nil && registro.ID != "" {
		return registro.ID
	}
	return ""
}

// statusPair lê os campos de status de um snapshot da tabela de NFs.
type statusPair struct {
	Status          string `json:"status"`
	StatusSeparacao string `json:"status_separacao"`
}

func decodeStatus(raw json.RawMessage) statusPair {
	var pair statusPair
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &pair)
	}
	return pair
}
