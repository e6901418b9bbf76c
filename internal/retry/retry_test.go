package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDoPropagaUltimoErroAposEsgotarTentativas(t *testing.T) {
	calls := 0
	fn := func(ctx context.Context) (string, error) {
		calls++
		return "", fmt.Errorf("falha %d", calls)
	}

	_, err := Do(context.Background(), fn, Options{MaxRetries: 3, InitialDelay: 10 * time.Millisecond})
	if calls != 3 {
		t.Fatalf("esperava 3 tentativas, houve %d", calls)
	}
	if err == nil || err.Error() != "falha 3" {
		t.Fatalf("esperava erro da última tentativa, veio %v", err)
	}
}

func TestDoRecuperaAposFalhaUnica(t *testing.T) {
	calls := 0
	fn := func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("transiente")
		}
		return 42, nil
	}

	got, err := Do(context.Background(), fn, Options{MaxRetries: 3, InitialDelay: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("erro inesperado: %v", err)
	}
	if got != 42 {
		t.Fatalf("resultado inesperado: %d", got)
	}
	if calls != 2 {
		t.Fatalf("esperava sucesso na segunda tentativa, houve %d chamadas", calls)
	}
}

func TestWithTimeoutEstouraPrazo(t *testing.T) {
	fn := func(ctx context.Context) (bool, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	_, err := WithTimeout(context.Background(), 20*time.Millisecond, "lenta", fn)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("esperava TimeoutError, veio %v", err)
	}
}

func TestDoRespeitaCancelamento(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	fn := func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("sempre falha")
	}

	_, err := Do(ctx, fn, Options{MaxRetries: 5, InitialDelay: time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("esperava context.Canceled, veio %v", err)
	}
	if calls != 1 {
		t.Fatalf("não deveria tentar de novo após cancelamento, houve %d chamadas", calls)
	}
}
