package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/cataloghq/fulfillment/internal/fulfillment"
	kafkax "github.com/cataloghq/fulfillment/internal/kafka"
	"github.com/cataloghq/fulfillment/internal/pgstore"
	"github.com/cataloghq/fulfillment/internal/redisx"
)

// Service turns the order event stream into a durable status audit trail.
// Redis dedup short-circuits redeliveries; the unique event id on the log
// table catches anything that slips past the cache.
type Service struct {
	Repo        *pgstore.Repo
	Redis       *redis.Client
	ServiceName string
}

func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	var env fulfillment.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, "audit", env.EventID)
	if exists, _ := redisx.Exists(ctx, s.Redis, dkey); exists {
		return nil
	}

	switch env.EventType {
	case fulfillment.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[fulfillment.OrderCreatedPayload](env.Payload)
		if err != nil {
			return err
		}
		if err := s.Repo.InsertStatusLog(ctx, env.EventID, p.OrderID,
			"", string(fulfillment.StatusPending), env.OccurredAt); err != nil {
			return err
		}
	case fulfillment.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[fulfillment.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return err
		}
		if err := s.Repo.InsertStatusLog(ctx, env.EventID, p.OrderID,
			string(p.From), string(p.To), env.OccurredAt); err != nil {
			return err
		}
	case fulfillment.EventOrderDeleted:
		p, err := kafkax.UnwrapPayload[fulfillment.OrderDeletedPayload](env.Payload)
		if err != nil {
			return err
		}
		if err := s.Repo.InsertStatusLog(ctx, env.EventID, p.OrderID,
			string(fulfillment.StatusPending), "DELETED", env.OccurredAt); err != nil {
			return err
		}
	default:
		log.Debug().Str("type", env.EventType).Msg("ignoring event")
		return nil
	}

	_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	return nil
}
