package transportadora

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service contém as regras de cadastro e resolução de transportadoras.
type Service struct {
	repo     *Repository
	cache    sync.Map
	cacheTTL time.Duration
}

// cachedEntry armazena dados no cache em memória.
type cachedEntry struct {
	transportadora Transportadora
	expireAt       time.Time
}

// NewService cria uma nova instância de Service.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo, cacheTTL: 2 * time.Minute}
}

// Resolve encontra a transportadora pelo host informado.
func (s *Service) Resolve(ctx context.Context, host string) (*Transportadora, error) {
	normalized := normalizeDominio(host)
	if normalized == "" {
		return nil, ErrNotFound
	}

	if v, ok := s.cache.Load(normalized); ok {
		entry := v.(cachedEntry)
		if time.Now().Before(entry.expireAt) {
			copia := entry.transportadora
			return &copia, nil
		}
		s.cache.Delete(normalized)
	}

	t, err := s.repo.GetByDominio(ctx, normalized)
	if err != nil {
		return nil, err
	}

	s.cache.Store(normalized, cachedEntry{transportadora: *t, expireAt: time.Now().Add(s.cacheTTL)})

	copia := *t
	return &copia, nil
}

// Create registra uma nova transportadora.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Transportadora, error) {
	input.Slug = normalizeSlug(input.Slug)
	input.Dominio = normalizeDominio(input.Dominio)
	cnpj, err := NormalizeCNPJ(input.CNPJ)
	if err != nil {
		return nil, err
	}
	input.CNPJ = cnpj
	if input.Settings == nil {
		input.Settings = map[string]any{}
	}
	if input.Contato == nil {
		input.Contato = map[string]any{}
	}

	t, err := s.repo.Create(ctx, input)
	if err != nil {
		return nil, err
	}

	if t.Dominio != "" {
		s.cache.Store(t.Dominio, cachedEntry{transportadora: *t, expireAt: time.Now().Add(s.cacheTTL)})
	}
	return t, nil
}

// UpdateSettings substitui o JSON de configuração da transportadora.
func (s *Service) UpdateSettings(ctx context.Context, id uuid.UUID, settings map[string]any) error {
	if settings == nil {
		settings = map[string]any{}
	}

	if err := s.repo.UpdateSettings(ctx, id, settings); err != nil {
		return err
	}

	// Limpa cache forçando refetch na próxima resolução.
	s.cache.Range(func(key, value any) bool {
		entry := value.(cachedEntry)
		if entry.transportadora.ID == id {
			s.cache.Delete(key)
			return false
		}
		return true
	})

	return nil
}

// List devolve todas as transportadoras.
func (s *Service) List(ctx context.Context) ([]Transportadora, error) {
	transportadoras, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	// Atualiza cache com o snapshot atual.
	for _, t := range transportadoras {
		if t.Dominio == "" {
			continue
		}
		s.cache.Store(t.Dominio, cachedEntry{transportadora: t, expireAt: time.Now().Add(s.cacheTTL)})
	}

	return transportadoras, nil
}

// Get devolve a transportadora pelo id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Transportadora, error) {
	return s.repo.GetByID(ctx, id)
}

// GetBySlug devolve a transportadora pelo slug.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*Transportadora, error) {
	return s.repo.GetBySlug(ctx, normalizeSlug(slug))
}

// SetAtiva liga ou desliga a transportadora.
func (s *Service) SetAtiva(ctx context.Context, id uuid.UUID, ativa bool) error {
	return s.repo.SetAtiva(ctx, id, ativa)
}

// NormalizeCNPJ remove a máscara e valida os dígitos verificadores.
func NormalizeCNPJ(cnpj string) (string, error) {
	var digits strings.Builder
	for _, r := range cnpj {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	normalized := digits.String()
	if len(normalized) != 14 {
		return "", fmt.Errorf("%w: %q", ErrCNPJInvalido, cnpj)
	}

	// CNPJ com todos os dígitos iguais passa no cálculo mas é inválido.
	allEqual := true
	for i := 1; i < len(normalized); i++ {
		if normalized[i] != normalized[0] {
			allEqual = false
			break
		}
	}
	if allEqual {
		return "", fmt.Errorf("%w: %q", ErrCNPJInvalido, cnpj)
	}

	if !checkCNPJDigit(normalized, 12) || !checkCNPJDigit(normalized, 13) {
		return "", fmt.Errorf("%w: %q", ErrCNPJInvalido, cnpj)
	}

	return normalized, nil
}

func checkCNPJDigit(cnpj string, position int) bool {
	weights := []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	offset := len(weights) - position
	sum := 0
	for i := 0; i < position; i++ {
		sum += int(cnpj[i]-'0') * weights[i+offset]
	}
	digit := sum % 11
	if digit < 2 {
		digit = 0
	} else {
		digit = 11 - digit
	}
	return int(cnpj[position]-'0') == digit
}

func normalizeDominio(dominio string) string {
	dominio = strings.TrimSpace(strings.ToLower(dominio))
	dominio = strings.TrimSuffix(dominio, ".")
	if idx := strings.Index(dominio, ":"); idx != -1 {
		dominio = dominio[:idx]
	}
	return dominio
}

func normalizeSlug(slug string) string {
	slug = strings.TrimSpace(strings.ToLower(slug))
	slug = strings.ReplaceAll(slug, " ", "-")
	return slug
}
