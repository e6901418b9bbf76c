package pedido

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/logcarga/armazem/internal/nf"
)

type stubPedidosRepo struct {
	pedidos map[uuid.UUID]Pedido
	notas   *stubNotasRepo

	criarCalls     int
	encerrarFalhas int
	lastFilter     Filter
}

func newStubPedidosRepo() *stubPedidosRepo {
	return &stubPedidosRepo{pedidos: make(map[uuid.UUID]Pedido)}
}

func (s *stubPedidosRepo) GetByID(ctx context.Context, id uuid.UUID) (Pedido, error) {
	p, ok := s.pedidos[id]
	if !ok {
		return Pedido{}, ErrNotFound
	}
	return p, nil
}

func (s *stubPedidosRepo) FindAberto(ctx context.Context, transportadoraID uuid.UUID, nfNumero string) (Pedido, error) {
	for _, p := range s.pedidos {
		if p.TransportadoraID == transportadoraID && p.NFNumero == nfNumero && p.Status == StatusAberto {
			return p, nil
		}
	}
	return Pedido{}, ErrNotFound
}

func (s *stubPedidosRepo) List(ctx context.Context, filter Filter) ([]Pedido, error) {
	s.lastFilter = filter
	var out []Pedido
	for _, p := range s.pedidos {
		if filter.TransportadoraID != nil && p.TransportadoraID != *filter.TransportadoraID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// CriarComSolicitacao espelha o contrato do repositório real: o insert e o
// CAS ARMAZENADA→SOLICITADA da NF acontecem juntos.
func (s *stubPedidosRepo) CriarComSolicitacao(ctx context.Context, p Pedido) (Pedido, error) {
	s.criarCalls++
	nota, ok := s.notas.notas[p.NFID]
	if !ok || nota.Status != nf.StatusArmazenada {
		return Pedido{}, ErrNFNaoArmazenada
	}
	nota.Status = nf.StatusSolicitada
	s.notas.notas[p.NFID] = nota
	p.ID = uuid.New()
	p.Status = StatusAberto
	s.pedidos[p.ID] = p
	return p, nil
}

func (s *stubPedidosRepo) Encerrar(ctx context.Context, id uuid.UUID, status string) (Pedido, error) {
	if s.encerrarFalhas > 0 {
		s.encerrarFalhas--
		return Pedido{}, errors.New("conexão perdida")
	}
	p, ok := s.pedidos[id]
	if !ok || p.Status != StatusAberto {
		return Pedido{}, ErrNotFound
	}
	p.Status = status
	s.pedidos[id] = p
	return p, nil
}

func (s *stubPedidosRepo) Liberar(ctx context.Context, id uuid.UUID) (Pedido, error) {
	p, ok := s.pedidos[id]
	if !ok {
		return Pedido{}, ErrNotFound
	}
	now := time.Now()
	p.DataLiberacao = &now
	s.pedidos[id] = p
	return p, nil
}

func (s *stubPedidosRepo) RegistrarCarregamento(ctx context.Context, id uuid.UUID) (Pedido, error) {
	p, ok := s.pedidos[id]
	if !ok {
		return Pedido{}, ErrNotFound
	}
	now := time.Now()
	p.DataCarregamento = &now
	s.pedidos[id] = p
	return p, nil
}

func (s *stubPedidosRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := s.pedidos[id]; !ok {
		return ErrNotFound
	}
	delete(s.pedidos, id)
	return nil
}

// stubNotasRepo alimenta um nf.Service real, que cumpre o papel de
// NotasGateway com a tabela de transições de verdade.
type stubNotasRepo struct {
	notas map[uuid.UUID]nf.NotaFiscal
}

func newStubNotasRepo(notas ...nf.NotaFiscal) *stubNotasRepo {
	repo := &stubNotasRepo{notas: make(map[uuid.UUID]nf.NotaFiscal)}
	for _, nota := range notas {
		repo.notas[nota.ID] = nota
	}
	return repo
}

func (s *stubNotasRepo) GetByID(ctx context.Context, id uuid.UUID) (nf.NotaFiscal, error) {
	nota, ok := s.notas[id]
	if !ok {
		return nf.NotaFiscal{}, nf.ErrNotFound
	}
	return nota, nil
}

func (s *stubNotasRepo) GetByNumero(ctx context.Context, transportadoraID uuid.UUID, numero string) (nf.NotaFiscal, error) {
	for _, nota := range s.notas {
		if nota.TransportadoraID == transportadoraID && nota.Numero == numero {
			return nota, nil
		}
	}
	return nf.NotaFiscal{}, nf.ErrNotFound
}

func (s *stubNotasRepo) List(ctx context.Context, filter nf.Filter) ([]nf.NotaFiscal, error) {
	return nil, nil
}

func (s *stubNotasRepo) Create(ctx context.Context, input nf.CreateInput) (nf.NotaFiscal, error) {
	nota := nf.NotaFiscal{ID: uuid.New(), Numero: input.Numero, Status: nf.StatusArmazenada}
	s.notas[nota.ID] = nota
	return nota, nil
}

func (s *stubNotasRepo) UpdateStatus(ctx context.Context, id uuid.UUID, de, para nf.Status) (nf.NotaFiscal, error) {
	nota, ok := s.notas[id]
	if !ok || nota.Status != de {
		return nf.NotaFiscal{}, nf.ErrNotFound
	}
	nota.Status = para
	s.notas[id] = nota
	return nota, nil
}

func (s *stubNotasRepo) AtualizarSeparacao(ctx context.Context, id uuid.UUID, nova nf.Separacao, obs *string) (nf.NotaFiscal, error) {
	return nf.NotaFiscal{}, errors.New("não usado")
}

func (s *stubNotasRepo) AddAnexo(ctx context.Context, anexo nf.Anexo) (nf.Anexo, error) {
	return anexo, nil
}

func (s *stubNotasRepo) ListAnexos(ctx context.Context, nfID uuid.UUID) ([]nf.Anexo, error) {
	return nil, nil
}

func newTestEnv(notas ...nf.NotaFiscal) (*Service, *stubPedidosRepo, *stubNotasRepo) {
	notasRepo := newStubNotasRepo(notas...)
	notasSvc := nf.NewService(notasRepo, nil, nil, nil, nil, nil)
	pedidosRepo := newStubPedidosRepo()
	pedidosRepo.notas = notasRepo
	svc := NewService(pedidosRepo, notasSvc, nil, nil, nil)
	return svc, pedidosRepo, notasRepo
}

func nfArmazenada(transportadoraID uuid.UUID, numero string) nf.NotaFiscal {
	return nf.NotaFiscal{
		ID:               uuid.New(),
		Numero:           numero,
		TransportadoraID: transportadoraID,
		Cliente:          "ACME",
		Status:           nf.StatusArmazenada,
	}
}

func TestSolicitarCarregamentoDuplicado(t *testing.T) {
	tid := uuid.New()
	nota := nfArmazenada(tid, "NF-100")
	nota2 := nfArmazenada(tid, "NF-101")
	svc, repo, _ := newTestEnv(nota, nota2)

	input := SolicitacaoInput{TransportadoraID: tid, NFNumero: "NF-101", Prioridade: "Alta", Responsavel: "João"}

	// Pedido pré-existente em aberto para a mesma NF.
	repo.pedidos[uuid.New()] = Pedido{
		ID:               uuid.New(),
		TransportadoraID: tid,
		NFNumero:         "NF-101",
		Status:           StatusAberto,
	}

	_, err := svc.SolicitarCarregamento(context.Background(), input)
	if !errors.Is(err, ErrPedidoDuplicado) {
		t.Fatalf("esperava ErrPedidoDuplicado, veio %v", err)
	}
	if repo.criarCalls != 0 {
		t.Fatal("guarda de duplicidade não deveria chegar à escrita")
	}
}

func TestSolicitarCarregamentoNFNaoArmazenada(t *testing.T) {
	tid := uuid.New()
	nota := nfArmazenada(tid, "NF-200")
	nota.Status = nf.StatusConfirmada
	svc, repo, _ := newTestEnv(nota)

	_, err := svc.SolicitarCarregamento(context.Background(), SolicitacaoInput{
		TransportadoraID: tid, NFNumero: "NF-200", Responsavel: "Maria",
	})
	if !errors.Is(err, ErrNFNaoArmazenada) {
		t.Fatalf("esperava ErrNFNaoArmazenada, veio %v", err)
	}
	if repo.criarCalls != 0 {
		t.Fatal("guarda de status não deveria chegar à escrita")
	}
}

func TestSolicitarCarregamentoPrioridadeNormalizada(t *testing.T) {
	tid := uuid.New()
	nota := nfArmazenada(tid, "NF-300")
	svc, _, _ := newTestEnv(nota)

	criado, err := svc.SolicitarCarregamento(context.Background(), SolicitacaoInput{
		TransportadoraID: tid, NFNumero: "NF-300", Prioridade: "media", Responsavel: "Ana",
	})
	if err != nil {
		t.Fatalf("solicitação falhou: %v", err)
	}
	if criado.Prioridade != PrioridadeMedia {
		t.Fatalf("esperava prioridade %s, veio %s", PrioridadeMedia, criado.Prioridade)
	}

	_, err = svc.SolicitarCarregamento(context.Background(), SolicitacaoInput{
		TransportadoraID: tid, NFNumero: "NF-300", Prioridade: "urgente", Responsavel: "Ana",
	})
	if !errors.Is(err, ErrPrioridadeInvalida) {
		t.Fatalf("prioridade fora do enum deveria falhar, veio %v", err)
	}
}

func TestCicloCompletoConfirmacao(t *testing.T) {
	tid := uuid.New()
	nota := nfArmazenada(tid, "NF-400")
	svc, _, notasRepo := newTestEnv(nota)

	criado, err := svc.SolicitarCarregamento(context.Background(), SolicitacaoInput{
		TransportadoraID: tid, NFNumero: "NF-400", Prioridade: "Alta", Responsavel: "Carlos",
	})
	if err != nil {
		t.Fatalf("solicitação falhou: %v", err)
	}
	if got := notasRepo.notas[nota.ID].Status; got != nf.StatusSolicitada {
		t.Fatalf("NF deveria estar SOLICITADA, veio %s", got)
	}

	confirmado, err := svc.Confirmar(context.Background(), criado.ID)
	if err != nil {
		t.Fatalf("confirmação falhou: %v", err)
	}
	if confirmado.Status != StatusConfirmado {
		t.Fatalf("pedido deveria estar confirmado, veio %s", confirmado.Status)
	}
	if got := notasRepo.notas[nota.ID].Status; got != nf.StatusConfirmada {
		t.Fatalf("NF deveria estar CONFIRMADA, veio %s", got)
	}

	// Decisão repetida sobre pedido encerrado.
	if _, err := svc.Confirmar(context.Background(), criado.ID); !errors.Is(err, ErrPedidoEncerrado) {
		t.Fatalf("esperava ErrPedidoEncerrado, veio %v", err)
	}
}

func TestRecusaDevolveNFParaArmazenada(t *testing.T) {
	tid := uuid.New()
	nota := nfArmazenada(tid, "NF-500")
	svc, _, notasRepo := newTestEnv(nota)

	criado, err := svc.SolicitarCarregamento(context.Background(), SolicitacaoInput{
		TransportadoraID: tid, NFNumero: "NF-500", Responsavel: "Bia",
	})
	if err != nil {
		t.Fatalf("solicitação falhou: %v", err)
	}

	recusado, err := svc.Recusar(context.Background(), criado.ID)
	if err != nil {
		t.Fatalf("recusa falhou: %v", err)
	}
	if recusado.Status != StatusRecusado {
		t.Fatalf("pedido deveria estar recusado, veio %s", recusado.Status)
	}
	if got := notasRepo.notas[nota.ID].Status; got != nf.StatusArmazenada {
		t.Fatalf("NF deveria voltar para ARMAZENADA, veio %s", got)
	}

	// NF liberada: nova solicitação é aceita.
	if _, err := svc.SolicitarCarregamento(context.Background(), SolicitacaoInput{
		TransportadoraID: tid, NFNumero: "NF-500", Responsavel: "Bia",
	}); err != nil {
		t.Fatalf("nova solicitação após recusa deveria passar: %v", err)
	}
}

func TestConfirmacaoConcorrenteCAS(t *testing.T) {
	tid := uuid.New()
	nota := nfArmazenada(tid, "NF-600")
	svc, pedidosRepo, notasRepo := newTestEnv(nota)

	criado, err := svc.SolicitarCarregamento(context.Background(), SolicitacaoInput{
		TransportadoraID: tid, NFNumero: "NF-600", Responsavel: "Rui",
	})
	if err != nil {
		t.Fatalf("solicitação falhou: %v", err)
	}

	// Outra aba já moveu a NF de volta (recusa fora deste pedido).
	atual := notasRepo.notas[nota.ID]
	atual.Status = nf.StatusArmazenada
	notasRepo.notas[nota.ID] = atual

	if _, err := svc.Confirmar(context.Background(), criado.ID); !errors.Is(err, nf.ErrConflitoStatus) {
		t.Fatalf("esperava ErrConflitoStatus, veio %v", err)
	}
	if got := pedidosRepo.pedidos[criado.ID].Status; got != StatusAberto {
		t.Fatalf("pedido não deveria ter sido encerrado, veio %s", got)
	}
}

func TestConfirmarRetomaAposFalhaParcial(t *testing.T) {
	tid := uuid.New()
	nota := nfArmazenada(tid, "NF-800")
	svc, pedidosRepo, notasRepo := newTestEnv(nota)

	criado, err := svc.SolicitarCarregamento(context.Background(), SolicitacaoInput{
		TransportadoraID: tid, NFNumero: "NF-800", Responsavel: "Eva",
	})
	if err != nil {
		t.Fatalf("solicitação falhou: %v", err)
	}

	// A NF muda mas o encerramento cai no meio do caminho.
	pedidosRepo.encerrarFalhas = 1
	if _, err := svc.Confirmar(context.Background(), criado.ID); err == nil {
		t.Fatal("primeira confirmação deveria propagar a falha do encerramento")
	}
	if got := notasRepo.notas[nota.ID].Status; got != nf.StatusConfirmada {
		t.Fatalf("NF deveria ter ficado CONFIRMADA, veio %s", got)
	}
	if got := pedidosRepo.pedidos[criado.ID].Status; got != StatusAberto {
		t.Fatalf("pedido deveria seguir aberto, veio %s", got)
	}

	// A nova tentativa absorve o conflito da NF já movida e encerra.
	confirmado, err := svc.Confirmar(context.Background(), criado.ID)
	if err != nil {
		t.Fatalf("nova tentativa deveria concluir, veio %v", err)
	}
	if confirmado.Status != StatusConfirmado {
		t.Fatalf("pedido deveria estar confirmado, veio %s", confirmado.Status)
	}
}

func TestExcluirPedido(t *testing.T) {
	tid := uuid.New()
	nota := nfArmazenada(tid, "NF-700")
	svc, pedidosRepo, _ := newTestEnv(nota)

	criado, err := svc.SolicitarCarregamento(context.Background(), SolicitacaoInput{
		TransportadoraID: tid, NFNumero: "NF-700", Responsavel: "Lia",
	})
	if err != nil {
		t.Fatalf("solicitação falhou: %v", err)
	}

	userID := uuid.New()
	if err := svc.Excluir(context.Background(), criado.ID, &userID); err != nil {
		t.Fatalf("exclusão falhou: %v", err)
	}
	if _, ok := pedidosRepo.pedidos[criado.ID]; ok {
		t.Fatal("pedido deveria ter sido removido")
	}
}
