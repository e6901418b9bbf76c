package http

import (
	"bytes"
	"testing"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"

	"github.com/logcarga/armazem/internal/repo"
	"github.com/logcarga/armazem/internal/service"
)

func TestNewWebAuthnUserMapeiaCredenciais(t *testing.T) {
	user := repo.Usuario{
		ID:    uuid.New(),
		Nome:  "Operador Teste",
		Email: "operador@example.com",
	}
	aaguid := []byte{0x01, 0x02, 0x03}
	passkeys := []service.PasskeyCredential{
		{
			CredentialID: []byte("cred-1"),
			PublicKey:    []byte("chave-1"),
			SignCount:    7,
			Transports:   []string{"internal"},
			AAGUID:       aaguid,
			Cloned:       true,
		},
	}

	waUser := newWebAuthnUser(user, passkeys)

	if got := waUser.WebAuthnName(); got != user.Email {
		t.Fatalf("nome esperado %q, obtido %q", user.Email, got)
	}
	if got := waUser.WebAuthnDisplayName(); got != user.Nome {
		t.Fatalf("display esperado %q, obtido %q", user.Nome, got)
	}
	if got := waUser.WebAuthnID(); !bytes.Equal(got, user.ID[:]) {
		t.Fatalf("id webauthn deveria ser o uuid cru, obtido %v", got)
	}

	creds := waUser.WebAuthnCredentials()
	if len(creds) != 1 {
		t.Fatalf("esperada 1 credencial, obtidas %d", len(creds))
	}
	cred := creds[0]
	if !bytes.Equal(cred.ID, []byte("cred-1")) || !bytes.Equal(cred.PublicKey, []byte("chave-1")) {
		t.Fatal("credential id e chave pública deveriam ser copiados do registro")
	}
	if cred.Authenticator.SignCount != 7 {
		t.Fatalf("sign count esperado 7, obtido %d", cred.Authenticator.SignCount)
	}
	if !cred.Authenticator.CloneWarning {
		t.Fatal("flag de clone deveria acompanhar o registro")
	}
	if !bytes.Equal(cred.Authenticator.AAGUID, aaguid) {
		t.Fatal("aaguid deveria acompanhar o registro")
	}
}

func TestNewWebAuthnUserSemCredenciais(t *testing.T) {
	waUser := newWebAuthnUser(repo.Usuario{ID: uuid.New()}, nil)
	if len(waUser.WebAuthnCredentials()) != 0 {
		t.Fatal("usuário sem passkeys não deveria ter credenciais")
	}
}

func TestToTransportsNormaliza(t *testing.T) {
	got := toTransports([]string{" USB ", "cable", "internal"})
	want := []protocol.AuthenticatorTransport{protocol.USB, protocol.Hybrid, protocol.Internal}
	if len(got) != len(want) {
		t.Fatalf("esperados %d transportes, obtidos %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transporte %d esperado %q, obtido %q", i, want[i], got[i])
		}
	}
	if toTransports(nil) != nil {
		t.Fatal("lista vazia deveria virar nil")
	}
}
