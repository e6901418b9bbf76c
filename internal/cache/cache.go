// Package cache implementa o cache de consultas invalidável por tabela.
//
// Disciplina: quem escreve no banco nunca corrige o valor em cache na mão.
// Apenas invalida a tabela e deixa a próxima leitura repopular. Releitura é
// idempotente, então invalidar duas vezes em sequência custa no máximo uma
// ida ao banco (singleflight).
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/logcarga/armazem/internal/metrics"
)

const defaultTTL = 60 * time.Second

type redisCommander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// Store guarda resultados de consulta por (tabela, forma da consulta).
type Store struct {
	redis  redisCommander
	ttl    time.Duration
	flight singleflight.Group
}

// New cria o cache com TTL default de 60s por entrada.
func New(redisClient redisCommander, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{redis: redisClient, ttl: ttl}
}

func entryKey(tabela, shape string) string {
	return "q:" + tabela + ":" + shape
}

func registryKey(tabela string) string {
	return "qkeys:" + tabela
}

// Load devolve o valor em cache ou executa loader e memoiza o resultado.
// Cargas concorrentes da mesma chave são deduplicadas: no máximo uma ida
// ao banco em voo por chave.
func (s *Store) Load(ctx context.Context, tabela, shape string, dest any, loader func(context.Context) (any, error)) error {
	key := entryKey(tabela, shape)

	if s.redis != nil {
		if data, err := s.redis.Get(ctx, key).Bytes(); err == nil {
			if json.Unmarshal(data, dest) == nil {
				metrics.CacheRequests.WithLabelValues("hit").Inc()
				return nil
			}
		}
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()

	payload, err, _ := s.flight.Do(key, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if s.redis != nil {
			if err := s.redis.Set(ctx, key, data, s.ttl).Err(); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("cache: falha ao memoizar")
			} else if err := s.redis.SAdd(ctx, registryKey(tabela), key).Err(); err != nil {
				log.Warn().Err(err).Str("tabela", tabela).Msg("cache: falha ao registrar chave")
			}
		}
		return data, nil
	})
	if err != nil {
		return err
	}

	return json.Unmarshal(payload.([]byte), dest)
}

// InvalidateTable descarta todas as formas de consulta da tabela.
// Falha de invalidação é apenas logada: o TTL corrige o atraso.
func (s *Store) InvalidateTable(ctx context.Context, tabela string) {
	if s.redis == nil {
		return
	}

	keys, err := s.redis.SMembers(ctx, registryKey(tabela)).Result()
	if err != nil {
		log.Warn().Err(err).Str("tabela", tabela).Msg("cache: falha ao listar chaves para invalidar")
		return
	}
	keys = append(keys, registryKey(tabela))
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		log.Warn().Err(err).Str("tabela", tabela).Msg("cache: falha ao invalidar")
	}
}
