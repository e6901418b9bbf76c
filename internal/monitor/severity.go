package monitor

// Severity classifica o impacto de um erro ou evento de segurança.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Kind marca a natureza do erro no ponto de lançamento, em vez de
// inferir depois por busca de substring na mensagem.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindNetwork    Kind = "network"
	KindValidation Kind = "validation"
	KindPermission Kind = "permission"
	KindNotFound   Kind = "not_found"
	KindServer     Kind = "server"
	KindUnknown    Kind = "unknown"
)

// userRelevant indica se o erro merece notificação ao usuário.
// Falhas de rede e erros não classificados são ruído técnico.
func (k Kind) userRelevant() bool {
	switch k {
	case KindAuth, KindValidation, KindPermission, KindNotFound, KindServer:
		return true
	default:
		return false
	}
}
