package nf

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

type stubNotasRepo struct {
	notas map[uuid.UUID]NotaFiscal

	updateStatusCalls      int
	atualizarSeparacaoErro error
	atualizarCalls         int
}

func newStubNotasRepo(notas ...NotaFiscal) *stubNotasRepo {
	repo := &stubNotasRepo{notas: make(map[uuid.UUID]NotaFiscal)}
	for _, nota := range notas {
		repo.notas[nota.ID] = nota
	}
	return repo
}

func (s *stubNotasRepo) GetByID(ctx context.Context, id uuid.UUID) (NotaFiscal, error) {
	nota, ok := s.notas[id]
	if !ok {
		return NotaFiscal{}, ErrNotFound
	}
	return nota, nil
}

func (s *stubNotasRepo) GetByNumero(ctx context.Context, transportadoraID uuid.UUID, numero string) (NotaFiscal, error) {
	for _, nota := range s.notas {
		if nota.TransportadoraID == transportadoraID && nota.Numero == numero {
			return nota, nil
		}
	}
	return NotaFiscal{}, ErrNotFound
}

func (s *stubNotasRepo) List(ctx context.Context, filter Filter) ([]NotaFiscal, error) {
	var out []NotaFiscal
	for _, nota := range s.notas {
		if filter.TransportadoraID != nil && nota.TransportadoraID != *filter.TransportadoraID {
			continue
		}
		if filter.ClienteID != nil && (nota.ClienteID == nil || *nota.ClienteID != *filter.ClienteID) {
			continue
		}
		if filter.Status != nil && nota.Status != *filter.Status {
			continue
		}
		out = append(out, nota)
	}
	return out, nil
}

func (s *stubNotasRepo) Create(ctx context.Context, input CreateInput) (NotaFiscal, error) {
	nota := NotaFiscal{
		ID:               uuid.New(),
		Numero:           input.Numero,
		TransportadoraID: input.TransportadoraID,
		Cliente:          input.Cliente,
		Produto:          input.Produto,
		Quantidade:       input.Quantidade,
		Status:           StatusArmazenada,
		StatusSeparacao:  SeparacaoPendente,
	}
	s.notas[nota.ID] = nota
	return nota, nil
}

func (s *stubNotasRepo) UpdateStatus(ctx context.Context, id uuid.UUID, de, para Status) (NotaFiscal, error) {
	s.updateStatusCalls++
	nota, ok := s.notas[id]
	if !ok || nota.Status != de {
		return NotaFiscal{}, ErrNotFound
	}
	nota.Status = para
	s.notas[id] = nota
	return nota, nil
}

func (s *stubNotasRepo) AtualizarSeparacao(ctx context.Context, id uuid.UUID, nova Separacao, obs *string) (NotaFiscal, error) {
	s.atualizarCalls++
	if s.atualizarSeparacaoErro != nil {
		return NotaFiscal{}, s.atualizarSeparacaoErro
	}
	nota, ok := s.notas[id]
	if !ok {
		return NotaFiscal{}, ErrNotFound
	}
	nota.StatusSeparacao = nova
	s.notas[id] = nota
	return nota, nil
}

func (s *stubNotasRepo) AddAnexo(ctx context.Context, anexo Anexo) (Anexo, error) {
	anexo.ID = uuid.New()
	return anexo, nil
}

func (s *stubNotasRepo) ListAnexos(ctx context.Context, nfID uuid.UUID) ([]Anexo, error) {
	return nil, nil
}

func newTestService(repo *stubNotasRepo) *Service {
	svc := NewService(repo, nil, nil, nil, nil, nil)
	svc.delayFn = func(d time.Duration, f func()) { f() }
	return svc
}

func notaConfirmada(sep Separacao) NotaFiscal {
	return NotaFiscal{
		ID:              uuid.New(),
		Numero:          "NF-100",
		Status:          StatusConfirmada,
		StatusSeparacao: sep,
	}
}

func TestAtualizarSeparacaoMesmoEstadoNaoEscreve(t *testing.T) {
	nota := notaConfirmada(SeparacaoEmSeparacao)
	repo := newStubNotasRepo(nota)
	svc := newTestService(repo)

	resultado, err := svc.AtualizarStatusSeparacao(context.Background(), true, nota.ID, SeparacaoEmSeparacao, nil)
	if err != nil {
		t.Fatalf("esperava no-op sem erro, veio %v", err)
	}
	if !resultado.NoOp {
		t.Fatal("esperava NoOp=true")
	}
	if repo.atualizarCalls != 0 {
		t.Fatalf("no-op não deveria chamar o repositório, chamou %d vez(es)", repo.atualizarCalls)
	}
	if !strings.Contains(resultado.Mensagem, "já está") {
		t.Fatalf("mensagem informativa inesperada: %q", resultado.Mensagem)
	}
}

func TestAtualizarSeparacaoTransicaoValida(t *testing.T) {
	nota := notaConfirmada(SeparacaoEmSeparacao)
	repo := newStubNotasRepo(nota)
	svc := newTestService(repo)

	resultado, err := svc.AtualizarStatusSeparacao(context.Background(), true, nota.ID, SeparacaoConcluida, nil)
	if err != nil {
		t.Fatalf("transição válida falhou: %v", err)
	}
	if resultado.NoOp {
		t.Fatal("transição real não é no-op")
	}
	if resultado.NF.StatusSeparacao != SeparacaoConcluida {
		t.Fatalf("status esperado %s, veio %s", SeparacaoConcluida, resultado.NF.StatusSeparacao)
	}
}

func TestAtualizarSeparacaoTransicaoInvalida(t *testing.T) {
	casos := []struct {
		de, para Separacao
	}{
		{SeparacaoPendente, SeparacaoConcluida},
		{SeparacaoEmViagem, SeparacaoEmSeparacao},
		{SeparacaoEntregue, SeparacaoEmViagem},
		{SeparacaoConcluida, SeparacaoEmSeparacao},
	}
	for _, caso := range casos {
		nota := notaConfirmada(caso.de)
		repo := newStubNotasRepo(nota)
		svc := newTestService(repo)

		_, err := svc.AtualizarStatusSeparacao(context.Background(), true, nota.ID, caso.para, nil)
		if !errors.Is(err, ErrSeparacaoInvalida) {
			t.Fatalf("%s → %s deveria ser rejeitada, veio %v", caso.de, caso.para, err)
		}
		if repo.atualizarCalls != 0 {
			t.Fatalf("%s → %s não deveria tocar o repositório", caso.de, caso.para)
		}
	}
}

func TestAtualizarSeparacaoExigeNFConfirmada(t *testing.T) {
	nota := notaConfirmada(SeparacaoPendente)
	nota.Status = StatusArmazenada
	repo := newStubNotasRepo(nota)
	svc := newTestService(repo)

	_, err := svc.AtualizarStatusSeparacao(context.Background(), true, nota.ID, SeparacaoEmSeparacao, nil)
	if !errors.Is(err, ErrNFNaoConfirmada) {
		t.Fatalf("esperava ErrNFNaoConfirmada, veio %v", err)
	}
}

func TestAtualizarSeparacaoSemPermissao(t *testing.T) {
	nota := notaConfirmada(SeparacaoPendente)
	repo := newStubNotasRepo(nota)
	svc := newTestService(repo)

	_, err := svc.AtualizarStatusSeparacao(context.Background(), false, nota.ID, SeparacaoEmSeparacao, nil)
	if !errors.Is(err, ErrSemPermissao) {
		t.Fatalf("esperava ErrSemPermissao, veio %v", err)
	}
	if repo.atualizarCalls != 0 {
		t.Fatal("chamada sem permissão não deveria tocar o repositório")
	}
}

func TestTransicionarStatusConflito(t *testing.T) {
	nota := NotaFiscal{ID: uuid.New(), Numero: "NF-200", Status: StatusConfirmada}
	repo := newStubNotasRepo(nota)
	svc := newTestService(repo)

	// O chamador acha que a NF ainda está SOLICITADA, mas outra submissão
	// já a confirmou.
	_, err := svc.TransicionarStatus(context.Background(), nota.ID, StatusSolicitada, StatusConfirmada)
	if !errors.Is(err, ErrConflitoStatus) {
		t.Fatalf("esperava ErrConflitoStatus, veio %v", err)
	}
	if repo.updateStatusCalls != 0 {
		t.Fatal("conflito detectado na releitura não deveria chegar ao UPDATE")
	}
}

func TestTransicionarStatusForaDaTabela(t *testing.T) {
	nota := NotaFiscal{ID: uuid.New(), Numero: "NF-201", Status: StatusArmazenada}
	repo := newStubNotasRepo(nota)
	svc := newTestService(repo)

	_, err := svc.TransicionarStatus(context.Background(), nota.ID, StatusArmazenada, StatusConfirmada)
	if !errors.Is(err, ErrStatusInvalido) {
		t.Fatalf("ARMAZENADA → CONFIRMADA deveria ser rejeitada, veio %v", err)
	}
}

func TestTransicionarStatusRecusaVoltaParaArmazenada(t *testing.T) {
	nota := NotaFiscal{ID: uuid.New(), Numero: "NF-202", Status: StatusSolicitada}
	repo := newStubNotasRepo(nota)
	svc := newTestService(repo)

	depois, err := svc.TransicionarStatus(context.Background(), nota.ID, StatusSolicitada, StatusArmazenada)
	if err != nil {
		t.Fatalf("recusa falhou: %v", err)
	}
	if depois.Status != StatusArmazenada {
		t.Fatalf("esperava ARMAZENADA, veio %s", depois.Status)
	}
}

func TestConfigSeparacaoTotal(t *testing.T) {
	estados := []Separacao{
		SeparacaoPendente, SeparacaoEmSeparacao, SeparacaoConcluida,
		SeparacaoComPendencia, SeparacaoEmViagem, SeparacaoEntregue,
	}
	for _, estado := range estados {
		config := ConfigSeparacao(estado)
		if config.Label == "" || config.Icone == "" {
			t.Fatalf("config incompleta para %s: %+v", estado, config)
		}
	}

	if got := ConfigSeparacao(Separacao("zzz")); got.Label != "Pendente" {
		t.Fatalf("estado desconhecido deveria cair em pendente, veio %+v", got)
	}
}

func TestParseSeparacao(t *testing.T) {
	if got := ParseSeparacao("em_viagem"); got != SeparacaoEmViagem {
		t.Fatalf("esperava em_viagem, veio %s", got)
	}
	if got := ParseSeparacao("qualquer coisa"); got != SeparacaoPendente {
		t.Fatalf("desconhecido deveria virar pendente, veio %s", got)
	}
	if _, ok := ParseSeparacaoStrict("qualquer coisa"); ok {
		t.Fatal("parse estrito deveria rejeitar valor fora do enum")
	}
}
