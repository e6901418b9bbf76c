package transportadora

import (
	"errors"
	"testing"
)

func TestNormalizeCNPJ(t *testing.T) {
	got, err := NormalizeCNPJ("11.222.333/0001-81")
	if err != nil {
		t.Fatalf("CNPJ válido rejeitado: %v", err)
	}
	if got != "11222333000181" {
		t.Fatalf("esperava máscara removida, veio %q", got)
	}

	invalidos := []string{
		"11.222.333/0001-80", // dígito verificador errado
		"11111111111111",     // todos iguais
		"123",                // curto demais
		"",
	}
	for _, cnpj := range invalidos {
		if _, err := NormalizeCNPJ(cnpj); !errors.Is(err, ErrCNPJInvalido) {
			t.Fatalf("%q deveria ser inválido, veio %v", cnpj, err)
		}
	}
}

func TestNormalizeDominio(t *testing.T) {
	casos := map[string]string{
		"Armazem.Logcarga.Com.br:8080": "armazem.logcarga.com.br",
		"  exemplo.com.  ":             "exemplo.com",
	}
	for entrada, esperado := range casos {
		if got := normalizeDominio(entrada); got != esperado {
			t.Fatalf("normalizeDominio(%q) = %q, esperava %q", entrada, got, esperado)
		}
	}
}

func TestNormalizeSlug(t *testing.T) {
	if got := normalizeSlug("  Trans Norte  "); got != "trans-norte" {
		t.Fatalf("slug inesperado: %q", got)
	}
}
