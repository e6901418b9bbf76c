package nf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/logcarga/armazem/internal/audit"
	"github.com/logcarga/armazem/internal/cache"
	"github.com/logcarga/armazem/internal/monitor"
	"github.com/logcarga/armazem/internal/realtime"
	"github.com/logcarga/armazem/internal/storage"
	"github.com/logcarga/armazem/internal/util"
)

var (
	// ErrSemPermissao indica chamador sem papel de edição.
	ErrSemPermissao = errors.New("sem permissão para atualizar a separação")
	// ErrNFNaoConfirmada indica separação sobre NF fora de CONFIRMADA.
	ErrNFNaoConfirmada = errors.New("separação só se aplica a NF confirmada")
	// ErrSeparacaoInvalida indica transição fora da tabela.
	ErrSeparacaoInvalida = errors.New("transição de separação não permitida")
	// ErrConflitoStatus indica escrita concorrente sobre o status da NF.
	ErrConflitoStatus = errors.New("status da NF mudou, recarregue e tente de novo")
)

// statusTransicoes é a tabela do ciclo principal: avanço monotônico,
// exceto a recusa explícita que devolve a NF para ARMAZENADA.
var statusTransicoes = map[Status][]Status{
	StatusArmazenada: {StatusSolicitada},
	StatusSolicitada: {StatusConfirmada, StatusArmazenada},
	StatusConfirmada: {},
}

// reinvalidateDelay cobre a corrida entre o refresh otimista local e o
// evento realtime da mesma mutação. Reinvalidar é idempotente.
const reinvalidateDelay = 100 * time.Millisecond

// NotasRepository é o acesso a dados do módulo de NFs.
type NotasRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (NotaFiscal, error)
	GetByNumero(ctx context.Context, transportadoraID uuid.UUID, numero string) (NotaFiscal, error)
	List(ctx context.Context, filter Filter) ([]NotaFiscal, error)
	Create(ctx context.Context, input CreateInput) (NotaFiscal, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, de, para Status) (NotaFiscal, error)
	AtualizarSeparacao(ctx context.Context, id uuid.UUID, nova Separacao, obs *string) (NotaFiscal, error)
	AddAnexo(ctx context.Context, anexo Anexo) (Anexo, error)
	ListAnexos(ctx context.Context, nfID uuid.UUID) ([]Anexo, error)
}

// ResultadoSeparacao descreve o desfecho de uma atualização de separação.
type ResultadoSeparacao struct {
	NoOp     bool       `json:"noop"`
	Mensagem string     `json:"mensagem"`
	NF       NotaFiscal `json:"nf"`
}

// Service reúne as regras do módulo de NFs.
type Service struct {
	repo      NotasRepository
	cache     *cache.Store
	publisher *realtime.Publisher
	errs      *monitor.ErrorHandler
	audit     *audit.Service
	uploader  storage.Uploader
	now       func() time.Time
	delayFn   func(d time.Duration, f func())
}

// NewService cria o serviço; cache, publisher, errs, audit e uploader
// podem ser nil em testes.
func NewService(repo NotasRepository, cacheStore *cache.Store, publisher *realtime.Publisher, errs *monitor.ErrorHandler, auditSvc *audit.Service, uploader storage.Uploader) *Service {
	return &Service{
		repo:      repo,
		cache:     cacheStore,
		publisher: publisher,
		errs:      errs,
		audit:     auditSvc,
		uploader:  uploader,
		now:       util.Now,
		delayFn:   func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// Criar cadastra uma NF recém-recebida no armazém (status inicial ARMAZENADA).
func (s *Service) Criar(ctx context.Context, input CreateInput) (NotaFiscal, error) {
	if err := util.RequireString(input.Numero, "número da NF"); err != nil {
		return NotaFiscal{}, err
	}
	if err := util.RequireString(input.Cliente, "cliente"); err != nil {
		return NotaFiscal{}, err
	}
	if err := util.RequireString(input.Produto, "produto"); err != nil {
		return NotaFiscal{}, err
	}
	if input.Quantidade <= 0 {
		return NotaFiscal{}, errors.New("quantidade deve ser positiva")
	}

	nota, err := s.repo.Create(ctx, input)
	if err != nil {
		return NotaFiscal{}, err
	}

	s.publishChange(ctx, EventoInsert(nota))
	s.invalidate(ctx)
	if s.audit != nil {
		s.audit.Registrar("info", fmt.Sprintf("NF %s cadastrada", nota.Numero),
			"nota_fiscal", "criar", nil, map[string]any{"nf_id": nota.ID.String()})
	}
	return nota, nil
}

// Listar devolve NFs pelo filtro, com cache read-through por forma de consulta.
func (s *Service) Listar(ctx context.Context, filter Filter) ([]NotaFiscal, error) {
	if s.cache == nil {
		return s.repo.List(ctx, filter)
	}

	var notas []NotaFiscal
	err := s.cache.Load(ctx, realtime.TabelaNotasFiscais, filterShape(filter), &notas, func(ctx context.Context) (any, error) {
		return s.repo.List(ctx, filter)
	})
	return notas, err
}

// Buscar devolve a NF pelo id.
func (s *Service) Buscar(ctx context.Context, id uuid.UUID) (NotaFiscal, error) {
	return s.repo.GetByID(ctx, id)
}

// BuscarPorNumero devolve a NF pelo número dentro da transportadora.
func (s *Service) BuscarPorNumero(ctx context.Context, transportadoraID uuid.UUID, numero string) (NotaFiscal, error) {
	return s.repo.GetByNumero(ctx, transportadoraID, numero)
}

// TransicionarStatus move o ciclo principal da NF com compare-and-swap:
// a escrita só acontece se o status atual ainda for `de`, o que elimina
// corrida de submissão dupla sobre a mesma NF.
func (s *Service) TransicionarStatus(ctx context.Context, id uuid.UUID, de, para Status) (NotaFiscal, error) {
	permitido := false
	for _, next := range statusTransicoes[de] {
		if next == para {
			permitido = true
			break
		}
	}
	if !permitido {
		return NotaFiscal{}, fmt.Errorf("%w: %s → %s", ErrStatusInvalido, de, para)
	}

	antes, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return NotaFiscal{}, err
	}
	if antes.Status != de {
		return NotaFiscal{}, ErrConflitoStatus
	}

	depois, err := s.repo.UpdateStatus(ctx, id, de, para)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// A linha existia acima; o CAS falhou porque o status mudou.
			return NotaFiscal{}, ErrConflitoStatus
		}
		return NotaFiscal{}, err
	}

	s.publishChange(ctx, EventoUpdate(antes, depois))
	s.invalidate(ctx)
	return depois, nil
}

// AtualizarStatusSeparacao persiste o sub-estado de separação via RPC.
// canEdit vem do chamador: a checagem de papel acontece na borda HTTP.
func (s *Service) AtualizarStatusSeparacao(ctx context.Context, canEdit bool, nfID uuid.UUID, nova Separacao, obs *string) (*ResultadoSeparacao, error) {
	if !canEdit {
		return nil, ErrSemPermissao
	}

	nota, err := s.repo.GetByID(ctx, nfID)
	if err != nil {
		return nil, err
	}
	if nota.Status != StatusConfirmada {
		return nil, fmt.Errorf("%w (status atual: %s)", ErrNFNaoConfirmada, nota.Status)
	}

	atual := nota.StatusSeparacao
	if nova == atual {
		config := ConfigSeparacao(atual)
		return &ResultadoSeparacao{
			NoOp:     true,
			Mensagem: fmt.Sprintf("Status já está em %q, nada a fazer", config.Label),
			NF:       nota,
		}, nil
	}

	if !PodeTransitar(atual, nova) {
		return nil, fmt.Errorf("%w: %s → %s", ErrSeparacaoInvalida, atual, nova)
	}

	atualizada, err := s.repo.AtualizarSeparacao(ctx, nfID, nova, obs)
	if err != nil {
		if s.errs != nil {
			s.errs.Handle(ctx, err, monitor.KindServer,
				monitor.ErrorContext{Component: "nf", Action: "atualizar_separacao"}, monitor.SeverityMedium)
		}
		return nil, fmt.Errorf("não foi possível atualizar o status: %w", err)
	}

	s.publishChange(ctx, EventoUpdate(nota, atualizada))
	if s.audit != nil {
		s.audit.Registrar("info", fmt.Sprintf("NF %s: separação %s → %s", nota.Numero, atual, nova),
			"nota_fiscal", "atualizar_separacao", nil, map[string]any{"nf_id": nfID.String()})
	}

	// Invalida agora e de novo após um intervalo curto, cobrindo a corrida
	// entre o refresh otimista e o evento realtime. Idempotente.
	s.invalidate(ctx)
	s.delayFn(reinvalidateDelay, func() {
		s.invalidate(context.Background())
	})

	return &ResultadoSeparacao{NF: atualizada}, nil
}

// AnexarDocumento sobe o arquivo para o bucket e vincula à NF.
func (s *Service) AnexarDocumento(ctx context.Context, nfID uuid.UUID, nome, tipo string, body []byte) (Anexo, error) {
	if err := util.RequireString(nome, "nome do arquivo"); err != nil {
		return Anexo{}, err
	}
	if len(body) == 0 {
		return Anexo{}, errors.New("arquivo vazio")
	}

	nota, err := s.repo.GetByID(ctx, nfID)
	if err != nil {
		return Anexo{}, err
	}

	key := fmt.Sprintf("nf/%s/%s", nota.ID, nome)
	result, err := s.uploader.Upload(ctx, storage.UploadInput{
		Key:         key,
		Body:        body,
		ContentType: tipo,
	})
	if err != nil {
		if s.errs != nil {
			s.errs.Handle(ctx, err, monitor.KindServer,
				monitor.ErrorContext{Component: "nf", Action: "anexar"}, monitor.SeverityMedium)
		}
		return Anexo{}, fmt.Errorf("não foi possível enviar o anexo: %w", err)
	}

	anexo, err := s.repo.AddAnexo(ctx, Anexo{
		NFID:      nfID,
		Nome:      nome,
		Caminho:   result.URL,
		Tamanho:   int64(len(body)),
		Tipo:      tipo,
		EnviadoEm: s.now(),
	})
	if err != nil {
		return Anexo{}, err
	}

	s.publishChange(ctx, realtime.Evento{
		Tipo:   realtime.EventInsert,
		Tabela: realtime.TabelaAnexos,
		Depois: realtime.Snapshot(anexo),
	})
	return anexo, nil
}

// ListarAnexos devolve os documentos da NF.
func (s *Service) ListarAnexos(ctx context.Context, nfID uuid.UUID) ([]Anexo, error) {
	return s.repo.ListAnexos(ctx, nfID)
}

func (s *Service) publishChange(ctx context.Context, evento realtime.Evento) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publicar(ctx, evento); err != nil {
		log.Warn().Err(err).Msg("nf: evento de mudança não publicado")
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	s.cache.InvalidateTable(ctx, realtime.TabelaNotasFiscais)
}

// EventoInsert monta o evento de criação de NF.
func EventoInsert(nota NotaFiscal) realtime.Evento {
	return realtime.Evento{
		Tipo:   realtime.EventInsert,
		Tabela: realtime.TabelaNotasFiscais,
		Depois: realtime.Snapshot(nota),
	}
}

// EventoUpdate monta o evento de atualização com snapshots antes/depois.
func EventoUpdate(antes, depois NotaFiscal) realtime.Evento {
	return realtime.Evento{
		Tipo:   realtime.EventUpdate,
		Tabela: realtime.TabelaNotasFiscais,
		Antes:  realtime.Snapshot(antes),
		Depois: realtime.Snapshot(depois),
	}
}

func filterShape(filter Filter) string {
	shape := "lista"
	if filter.TransportadoraID != nil {
		shape += ":t=" + filter.TransportadoraID.String()
	}
	if filter.ClienteID != nil {
		shape += ":c=" + filter.ClienteID.String()
	}
	if filter.Status != nil {
		shape += ":s=" + string(*filter.Status)
	}
	return shape
}
