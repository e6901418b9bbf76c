package nf

// Separacao é o sub-estado de picking de uma NF confirmada.
type Separacao string

const (
	SeparacaoPendente     Separacao = "pendente"
	SeparacaoEmSeparacao  Separacao = "em_separacao"
	SeparacaoConcluida    Separacao = "separacao_concluida"
	SeparacaoComPendencia Separacao = "separacao_com_pendencia"
	SeparacaoEmViagem     Separacao = "em_viagem"
	SeparacaoEntregue     Separacao = "entregue"
)

// transicoes é a tabela explícita de transições permitidas.
// O fluxo é estritamente para frente; pendência pode ser resolvida
// antes do embarque ou seguir viagem como está.
var transicoes = map[Separacao][]Separacao{
	SeparacaoPendente:     {SeparacaoEmSeparacao},
	SeparacaoEmSeparacao:  {SeparacaoConcluida, SeparacaoComPendencia},
	SeparacaoConcluida:    {SeparacaoEmViagem},
	SeparacaoComPendencia: {SeparacaoConcluida, SeparacaoEmViagem},
	SeparacaoEmViagem:     {SeparacaoEntregue},
	SeparacaoEntregue:     {},
}

// ParseSeparacao normaliza a entrada; valor desconhecido vira pendente.
func ParseSeparacao(value string) Separacao {
	switch Separacao(value) {
	case SeparacaoEmSeparacao, SeparacaoConcluida, SeparacaoComPendencia,
		SeparacaoEmViagem, SeparacaoEntregue:
		return Separacao(value)
	default:
		return SeparacaoPendente
	}
}

// ParseSeparacaoStrict valida a entrada sem aplicar fallback; ok=false
// para valor fora do enum. Usado na borda HTTP, onde entrada ruim deve
// virar erro de validação em vez de pendente silencioso.
func ParseSeparacaoStrict(value string) (Separacao, bool) {
	switch Separacao(value) {
	case SeparacaoPendente, SeparacaoEmSeparacao, SeparacaoConcluida,
		SeparacaoComPendencia, SeparacaoEmViagem, SeparacaoEntregue:
		return Separacao(value), true
	default:
		return "", false
	}
}

// PodeTransitar consulta a tabela de transições.
func PodeTransitar(de, para Separacao) bool {
	for _, next := range transicoes[de] {
		if next == para {
			return true
		}
	}
	return false
}

// SeparacaoConfig descreve como a view apresenta cada estado.
type SeparacaoConfig struct {
	Label     string `json:"label"`
	Icone     string `json:"icone"`
	Variante  string `json:"variante"`
	Descricao string `json:"descricao"`
}

var separacaoConfigs = map[Separacao]SeparacaoConfig{
	SeparacaoPendente: {
		Label:     "Pendente",
		Icone:     "clock",
		Variante:  "secondary",
		Descricao: "Aguardando início da separação",
	},
	SeparacaoEmSeparacao: {
		Label:     "Em separação",
		Icone:     "package-search",
		Variante:  "default",
		Descricao: "Itens sendo separados no armazém",
	},
	SeparacaoConcluida: {
		Label:     "Separação concluída",
		Icone:     "package-check",
		Variante:  "success",
		Descricao: "Carga separada e pronta para embarque",
	},
	SeparacaoComPendencia: {
		Label:     "Separação com pendência",
		Icone:     "alert-triangle",
		Variante:  "warning",
		Descricao: "Separação finalizada com divergências",
	},
	SeparacaoEmViagem: {
		Label:     "Em viagem",
		Icone:     "truck",
		Variante:  "default",
		Descricao: "Carga em trânsito até o destino",
	},
	SeparacaoEntregue: {
		Label:     "Entregue",
		Icone:     "check-circle",
		Variante:  "success",
		Descricao: "Carga entregue ao destinatário",
	},
}

// ConfigSeparacao é total sobre o enum; entrada desconhecida cai em pendente.
func ConfigSeparacao(status Separacao) SeparacaoConfig {
	if config, ok := separacaoConfigs[status]; ok {
		return config
	}
	return separacaoConfigs[SeparacaoPendente]
}
