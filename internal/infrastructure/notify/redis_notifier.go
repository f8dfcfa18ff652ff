// Package notify publica los eventos de rechazo o error del motor de
// cumplimiento. La publicación es fire-and-forget: jamás bloquea ni aborta el
// ciclo de una factura.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/facturia/verifactu-api/internal/application/compliance"
	"github.com/facturia/verifactu-api/pkg/config"
)

var _ compliance.Notifier = (*RedisNotifier)(nil)

// RedisNotifier publica eventos en un canal pub/sub de Redis.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

// NewRedisNotifier crea el notificador. Devuelve nil si Redis no está
// configurado (addr vacío); el llamador cae entonces al notificador por log.
func NewRedisNotifier(cfg config.RedisConfig, logger zerolog.Logger) (*RedisNotifier, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisNotifier{client: client, channel: cfg.Channel, logger: logger}, nil
}

// Notify publica el evento serializado en JSON. Un fallo se registra y se sigue.
func (n *RedisNotifier) Notify(ctx context.Context, event compliance.NotificationEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error().Err(err).Msg("serializar evento de notificación")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		n.logger.Warn().Err(err).Str("invoice_id", event.InvoiceID).
			Msg("no se pudo publicar la notificación en redis")
	}
}

// Close cierra la conexión.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
