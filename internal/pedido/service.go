package pedido

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/logcarga/armazem/internal/audit"
	"github.com/logcarga/armazem/internal/cache"
	"github.com/logcarga/armazem/internal/nf"
	"github.com/logcarga/armazem/internal/realtime"
	"github.com/logcarga/armazem/internal/util"
)

// PedidosRepository é o acesso a dados do módulo de pedidos.
type PedidosRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (Pedido, error)
	FindAberto(ctx context.Context, transportadoraID uuid.UUID, nfNumero string) (Pedido, error)
	List(ctx context.Context, filter Filter) ([]Pedido, error)
	CriarComSolicitacao(ctx context.Context, p Pedido) (Pedido, error)
	Encerrar(ctx context.Context, id uuid.UUID, status string) (Pedido, error)
	Liberar(ctx context.Context, id uuid.UUID) (Pedido, error)
	RegistrarCarregamento(ctx context.Context, id uuid.UUID) (Pedido, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// NotasGateway é a fatia do serviço de NFs que os pedidos consomem.
type NotasGateway interface {
	BuscarPorNumero(ctx context.Context, transportadoraID uuid.UUID, numero string) (nf.NotaFiscal, error)
	TransicionarStatus(ctx context.Context, id uuid.UUID, de, para nf.Status) (nf.NotaFiscal, error)
}

// Service reúne as regras do ciclo de solicitação de carregamento.
type Service struct {
	repo      PedidosRepository
	notas     NotasGateway
	cache     *cache.Store
	publisher *realtime.Publisher
	audit     *audit.Service
	now       func() time.Time
}

// NewService cria o serviço; cache, publisher e audit podem ser nil em testes.
func NewService(repo PedidosRepository, notas NotasGateway, cacheStore *cache.Store, publisher *realtime.Publisher, auditSvc *audit.Service) *Service {
	return &Service{
		repo:      repo,
		notas:     notas,
		cache:     cacheStore,
		publisher: publisher,
		audit:     auditSvc,
		now:       util.Now,
	}
}

// SolicitarCarregamento abre um pedido sobre uma NF armazenada.
// As duas guardas (duplicidade e status da NF) rejeitam antes de
// qualquer escrita; a inserção e a mudança de status da NF acontecem
// na mesma transação.
func (s *Service) SolicitarCarregamento(ctx context.Context, input SolicitacaoInput) (Pedido, error) {
	if err := util.RequireString(input.NFNumero, "número da NF"); err != nil {
		return Pedido{}, err
	}
	if err := util.RequireString(input.Responsavel, "responsável"); err != nil {
		return Pedido{}, err
	}
	prioridade := NormalizePrioridade(input.Prioridade)
	if !IsValidPrioridade(prioridade) {
		return Pedido{}, fmt.Errorf("%w: %q", ErrPrioridadeInvalida, input.Prioridade)
	}

	nota, err := s.notas.BuscarPorNumero(ctx, input.TransportadoraID, input.NFNumero)
	if err != nil {
		return Pedido{}, err
	}
	if nota.Status != nf.StatusArmazenada {
		return Pedido{}, fmt.Errorf("%w (status atual: %s)", ErrNFNaoArmazenada, nota.Status)
	}

	if _, err := s.repo.FindAberto(ctx, input.TransportadoraID, input.NFNumero); err == nil {
		return Pedido{}, ErrPedidoDuplicado
	} else if !errors.Is(err, ErrNotFound) {
		return Pedido{}, err
	}

	criado, err := s.repo.CriarComSolicitacao(ctx, Pedido{
		TransportadoraID: input.TransportadoraID,
		NFID:             nota.ID,
		NFNumero:         input.NFNumero,
		Cliente:          nota.Cliente,
		Prioridade:       prioridade,
		Responsavel:      input.Responsavel,
		DataSolicitacao:  s.now(),
	})
	if err != nil {
		return Pedido{}, err
	}

	s.publishChange(ctx, realtime.Evento{
		Tipo:   realtime.EventInsert,
		Tabela: realtime.TabelaPedidos,
		Depois: realtime.Snapshot(criado),
	})
	s.invalidate(ctx)
	if s.audit != nil {
		s.audit.Registrar("info", fmt.Sprintf("Carregamento solicitado para NF %s", criado.NFNumero),
			"pedido", "solicitar", nil, map[string]any{"pedido_id": criado.ID.String()})
	}
	return criado, nil
}

// Confirmar aceita o pedido: NF SOLICITADA → CONFIRMADA e pedido encerrado
// como confirmado. O compare-and-swap na NF segura submissões concorrentes.
func (s *Service) Confirmar(ctx context.Context, id uuid.UUID) (Pedido, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Pedido{}, err
	}
	if p.Status != StatusAberto {
		return Pedido{}, ErrPedidoEncerrado
	}

	if err := s.transicionarNF(ctx, p, nf.StatusSolicitada, nf.StatusConfirmada); err != nil {
		return Pedido{}, err
	}

	encerrado, err := s.repo.Encerrar(ctx, id, StatusConfirmado)
	if err != nil {
		return Pedido{}, err
	}

	s.publishUpdate(ctx, p, encerrado)
	s.invalidate(ctx)
	if s.audit != nil {
		s.audit.Registrar("info", fmt.Sprintf("Pedido da NF %s confirmado", p.NFNumero),
			"pedido", "confirmar", nil, map[string]any{"pedido_id": id.String()})
	}
	return encerrado, nil
}

// Recusar devolve a NF para ARMAZENADA e encerra o pedido como recusado.
func (s *Service) Recusar(ctx context.Context, id uuid.UUID) (Pedido, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Pedido{}, err
	}
	if p.Status != StatusAberto {
		return Pedido{}, ErrPedidoEncerrado
	}

	if err := s.transicionarNF(ctx, p, nf.StatusSolicitada, nf.StatusArmazenada); err != nil {
		return Pedido{}, err
	}

	encerrado, err := s.repo.Encerrar(ctx, id, StatusRecusado)
	if err != nil {
		return Pedido{}, err
	}

	s.publishUpdate(ctx, p, encerrado)
	s.invalidate(ctx)
	if s.audit != nil {
		s.audit.Registrar("info", fmt.Sprintf("Pedido da NF %s recusado", p.NFNumero),
			"pedido", "recusar", nil, map[string]any{"pedido_id": id.String()})
	}
	return encerrado, nil
}

// transicionarNF move a NF da decisão. Um encerramento que falhou depois
// da NF já ter mudado deixa o pedido aberto com a NF em `para`; na nova
// tentativa o conflito de CAS é absorvido e o fluxo segue para encerrar.
func (s *Service) transicionarNF(ctx context.Context, p Pedido, de, para nf.Status) error {
	_, err := s.notas.TransicionarStatus(ctx, p.NFID, de, para)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nf.ErrConflitoStatus) {
		return err
	}
	nota, berr := s.notas.BuscarPorNumero(ctx, p.TransportadoraID, p.NFNumero)
	if berr != nil || nota.Status != para {
		return err
	}
	return nil
}

// Liberar registra a data de liberação da carga.
func (s *Service) Liberar(ctx context.Context, id uuid.UUID) (Pedido, error) {
	antes, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Pedido{}, err
	}

	liberado, err := s.repo.Liberar(ctx, id)
	if err != nil {
		return Pedido{}, err
	}

	s.publishUpdate(ctx, antes, liberado)
	s.invalidate(ctx)
	return liberado, nil
}

// RegistrarCarregamento marca o carregamento efetivo da carga.
func (s *Service) RegistrarCarregamento(ctx context.Context, id uuid.UUID) (Pedido, error) {
	antes, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Pedido{}, err
	}

	carregado, err := s.repo.RegistrarCarregamento(ctx, id)
	if err != nil {
		return Pedido{}, err
	}

	s.publishUpdate(ctx, antes, carregado)
	s.invalidate(ctx)
	return carregado, nil
}

// Excluir remove o pedido. Operação restrita à equipe da transportadora;
// fica registrada com severidade alta na auditoria.
func (s *Service) Excluir(ctx context.Context, id uuid.UUID, userID *uuid.UUID) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.publishChange(ctx, realtime.Evento{
		Tipo:   realtime.EventDelete,
		Tabela: realtime.TabelaPedidos,
		Antes:  realtime.Snapshot(p),
	})
	s.invalidate(ctx)
	if s.audit != nil {
		s.audit.Registrar("high", fmt.Sprintf("Pedido da NF %s excluído", p.NFNumero),
			"pedido", "excluir", userID, map[string]any{"pedido_id": id.String()})
	}
	return nil
}

// Listar devolve pedidos pelo filtro, com cache read-through.
func (s *Service) Listar(ctx context.Context, filter Filter) ([]Pedido, error) {
	if s.cache == nil {
		return s.repo.List(ctx, filter)
	}

	var pedidos []Pedido
	err := s.cache.Load(ctx, realtime.TabelaPedidos, filterShape(filter), &pedidos, func(ctx context.Context) (any, error) {
		return s.repo.List(ctx, filter)
	})
	return pedidos, err
}

// Buscar devolve o pedido pelo id.
func (s *Service) Buscar(ctx context.Context, id uuid.UUID) (Pedido, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) publishUpdate(ctx context.Context, antes, depois Pedido) {
	s.publishChange(ctx, realtime.Evento{
		Tipo:   realtime.EventUpdate,
		Tabela: realtime.TabelaPedidos,
		Antes:  realtime.Snapshot(antes),
		Depois: realtime.Snapshot(depois),
	})
}

func (s *Service) publishChange(ctx context.Context, evento realtime.Evento) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publicar(ctx, evento); err != nil {
		log.Warn().Err(err).Msg("pedido: evento de mudança não publicado")
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	s.cache.InvalidateTable(ctx, realtime.TabelaPedidos)
}

func filterShape(filter Filter) string {
	shape := "lista"
	if filter.TransportadoraID != nil {
		shape += ":t=" + filter.TransportadoraID.String()
	}
	if filter.ClienteID != nil {
		shape += ":c=" + filter.ClienteID.String()
	}
	for _, status := range filter.Status {
		shape += ":s=" + status
	}
	return shape
}
