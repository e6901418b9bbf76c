package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/logcarga/armazem/internal/retry"
)

// redisPublisher é a fatia do cliente Redis que o publisher usa.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Publisher emite eventos de mudança após escritas bem-sucedidas.
// É o substituto do change-feed do banco: quem muta, publica.
type Publisher struct {
	redis   redisPublisher
	channel string
}

func NewPublisher(redisClient redisPublisher, channel string) *Publisher {
	return &Publisher{redis: redisClient, channel: channel}
}

// Publicar envia o evento para o canal, com nova tentativa em falha
// transitória. Falha definitiva não deve derrubar a mutação que a
// originou; o chamador apenas loga.
func (p *Publisher) Publicar(ctx context.Context, evento Evento) error {
	if p == nil || p.redis == nil {
		return nil
	}

	payload, err := json.Marshal(evento)
	if err != nil {
		return err
	}

	_, err = retry.Do(ctx, func(ctx context.Context) (int64, error) {
		return p.redis.Publish(ctx, p.channel, payload).Result()
	}, retry.Options{
		Op:           "realtime_publish",
		MaxRetries:   2,
		Timeout:      2 * time.Second,
		InitialDelay: 100 * time.Millisecond,
	})
	if err != nil {
		log.Warn().Err(err).Str("tabela", evento.Tabela).Str("tipo", string(evento.Tipo)).
			Msg("realtime: falha ao publicar evento")
		return err
	}
	return nil
}

// Snapshot serializa um registro para compor Antes/Depois do evento.
func Snapshot(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
