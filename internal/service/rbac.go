package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/logcarga/armazem/internal/repo"
)

var (
	// ErrForbidden indica ausência de permissão.
	ErrForbidden = errors.New("acesso negado")
)

type rbacRepository interface {
	GetUsuarioByID(ctx context.Context, id uuid.UUID) (repo.Usuario, error)
	ListTransportadorasByUsuario(ctx context.Context, usuarioID uuid.UUID) ([]repo.TransportadoraWithRole, error)
	GetClienteByID(ctx context.Context, id uuid.UUID) (repo.Cliente, error)
}

// RBACService opera regras de escopo e papéis.
type RBACService struct {
	repo rbacRepository
}

// NewRBACService cria nova instância.
func NewRBACService(r rbacRepository) *RBACService {
	return &RBACService{repo: r}
}

// ValidateTransportadoraAccess garante que o usuário possua vínculo com a
// transportadora solicitada. Super admin circula livre.
func (s *RBACService) ValidateTransportadoraAccess(ctx context.Context, usuarioID uuid.UUID, transportadoraID uuid.UUID) (repo.TransportadoraWithRole, error) {
	user, err := s.repo.GetUsuarioByID(ctx, usuarioID)
	if err != nil {
		return repo.TransportadoraWithRole{}, err
	}
	if user.SuperAdmin {
		return repo.TransportadoraWithRole{TransportadoraID: transportadoraID, Papel: "super_admin"}, nil
	}

	vinculos, err := s.repo.ListTransportadorasByUsuario(ctx, usuarioID)
	if err != nil {
		return repo.TransportadoraWithRole{}, err
	}
	for _, v := range vinculos {
		if v.TransportadoraID == transportadoraID {
			return v, nil
		}
	}
	return repo.TransportadoraWithRole{}, ErrForbidden
}

// ClienteScope resolve o escopo do portal: o cliente enxerga somente a
// transportadora e as cargas do próprio cadastro, nunca o que pedir por
// parâmetro. Cadastro inativo ou inexistente nega o acesso.
func (s *RBACService) ClienteScope(ctx context.Context, clienteID uuid.UUID) (repo.Cliente, error) {
	cliente, err := s.repo.GetClienteByID(ctx, clienteID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return repo.Cliente{}, ErrForbidden
		}
		return repo.Cliente{}, err
	}
	if !cliente.Ativo {
		return repo.Cliente{}, ErrForbidden
	}
	return cliente, nil
}
