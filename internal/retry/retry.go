// Package retry executa operações com timeout por tentativa e backoff exponencial.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/logcarga/armazem/internal/metrics"
)

// TimeoutError indica que a operação estourou o prazo da tentativa.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: tempo esgotado após %s", e.Op, e.Timeout)
	}
	return fmt.Sprintf("tempo esgotado após %s", e.Timeout)
}

// Options parametriza o executor. Zero values recebem os defaults abaixo.
type Options struct {
	Op                string
	MaxRetries        int
	Timeout           time.Duration
	BackoffMultiplier float64
	InitialDelay      time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 2
	}
	if o.Timeout <= 0 {
		o.Timeout = 3 * time.Second
	}
	if o.BackoffMultiplier <= 0 {
		o.BackoffMultiplier = 1.5
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = time.Second
	}
	return o
}

// Do executa fn até MaxRetries vezes, cada tentativa limitada por Timeout.
// O erro da última tentativa é propagado; sucesso tardio é logado como recuperação.
func Do[T any](ctx context.Context, fn func(context.Context) (T, error), opts Options) (T, error) {
	var zero T
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		result, err := WithTimeout(ctx, opts.Timeout, opts.Op, fn)
		if err == nil {
			metrics.RetryAttempts.WithLabelValues("success").Inc()
			if attempt > 1 {
				metrics.RetryRecoveries.Inc()
				log.Info().Str("op", opts.Op).Int("attempt", attempt).
					Msg("retry: operação recuperada após falha")
			}
			return result, nil
		}

		lastErr = err
		metrics.RetryAttempts.WithLabelValues("failure").Inc()

		if attempt == opts.MaxRetries {
			break
		}

		delay := backoffDelay(opts.InitialDelay, opts.BackoffMultiplier, attempt)
		log.Warn().Str("op", opts.Op).Int("attempt", attempt).Dur("delay", delay).
			Err(err).Msg("retry: tentativa falhou, aguardando")

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}

// DoAuth é o preset para chamadas sensíveis a identidade.
func DoAuth[T any](ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	return Do(ctx, fn, Options{
		Op:           op,
		MaxRetries:   3,
		Timeout:      3 * time.Second,
		InitialDelay: 500 * time.Millisecond,
	})
}

// WithTimeout executa fn limitada por d, sem retry.
// A goroutine da chamada pode continuar após o timeout; o resultado tardio é descartado.
func WithTimeout[T any](ctx context.Context, d time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	ch := make(chan outcome, 1)

	go func() {
		value, err := fn(callCtx)
		ch <- outcome{value: value, err: err}
	}()

	select {
	case out := <-ch:
		return out.value, out.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &TimeoutError{Op: op, Timeout: d}
	}
}

func backoffDelay(initial time.Duration, multiplier float64, attempt int) time.Duration {
	delay := float64(initial)
	for i := 1; i < attempt; i++ {
		delay *= multiplier
	}
	return time.Duration(delay)
}
