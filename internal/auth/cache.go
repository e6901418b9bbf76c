package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/logcarga/armazem/internal/retry"
	"github.com/logcarga/armazem/internal/util"
)

var (
	// ErrNaoAutenticado indica ausência de identidade válida.
	ErrNaoAutenticado = errors.New("usuário não autenticado")
)

// Principal é a identidade autenticada corrente.
type Principal struct {
	ID               uuid.UUID
	Email            string
	Papel            string
	TransportadoraID *uuid.UUID
}

// IdentityProvider resolve a identidade junto ao provedor (banco/sessão).
type IdentityProvider interface {
	CurrentUser(ctx context.Context) (Principal, error)
}

const (
	cacheTTL      = 5 * time.Minute
	cacheFallback = 30 * time.Second
)

// Cache memoiza a identidade corrente para evitar consultas repetidas.
// Uma entrada expirada ainda é servida por uma janela curta quando o
// provedor falha, tolerando instabilidade transitória sem falhar duro.
type Cache struct {
	provider IdentityProvider
	now      func() time.Time

	mu        sync.Mutex
	principal *Principal
	expiresAt time.Time
}

// NewCache cria cache vazio ligado ao provedor.
func NewCache(provider IdentityProvider) *Cache {
	return &Cache{provider: provider, now: util.Now}
}

// CurrentUser devolve a identidade em cache ou busca uma nova.
func (c *Cache) CurrentUser(ctx context.Context) (Principal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.principal != nil && now.Before(c.expiresAt) {
		return *c.principal, nil
	}

	principal, err := retry.DoAuth(ctx, "identidade", func(ctx context.Context) (Principal, error) {
		return c.provider.CurrentUser(ctx)
	})
	if err != nil {
		if c.principal != nil {
			// Entrada expirada segue válida por uma janela degradada.
			c.expiresAt = now.Add(cacheFallback)
			log.Warn().Err(err).Str("email", c.principal.Email).
				Msg("auth: provedor indisponível, servindo identidade expirada")
			return *c.principal, nil
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrNaoAutenticado, err)
	}

	c.principal = &principal
	c.expiresAt = now.Add(cacheTTL)
	return principal, nil
}

// Check valida a identidade corrente, sem expor o principal. Serve de
// revalidação periódica para sessões longas (websocket).
func (c *Cache) Check(ctx context.Context) error {
	_, err := c.CurrentUser(ctx)
	return err
}

// CurrentUserID devolve apenas o id da identidade corrente.
func (c *Cache) CurrentUserID(ctx context.Context) (uuid.UUID, error) {
	principal, err := c.CurrentUser(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return principal.ID, nil
}

// ForceRefresh limpa e rebusca. Usar após login ou troca de papel.
func (c *Cache) ForceRefresh(ctx context.Context) (Principal, error) {
	c.Clear()
	return c.CurrentUser(ctx)
}

// Clear descarta a entrada atual.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.principal = nil
	c.expiresAt = time.Time{}
}

// Valid informa se há entrada dentro do TTL.
func (c *Cache) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.principal != nil && c.now().Before(c.expiresAt)
}
