package nf

import (
	"github.com/go-chi/chi/v5"
)

// Mount adiciona as rotas de NF no router.
func Mount(r chi.Router, handler *Handler) {
	handler.RegisterRoutes(r)
}
