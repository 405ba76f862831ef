package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkax "github.com/ariefcatur/go-worklist-sync/internal/kafka"
	"github.com/ariefcatur/go-worklist-sync/internal/orders"
	"github.com/ariefcatur/go-worklist-sync/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Deduper interface {
	// Claim reports true the first time key is seen.
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type HintWriter interface {
	Mark(ctx context.Context, userID string, at time.Time) error
}

// Service turns committed table changes into per-worker sync hints.
type Service struct {
	Dedup       Deduper
	Hints       HintWriter
	ServiceName string
	Log         *zap.Logger
}

// HandleRowChanged is installed as the consumer handler for both table topics.
func (s *Service) HandleRowChanged(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message; committing it keeps the partition moving
		s.Log.Warn("undecodable envelope", zap.ByteString("key", m.Key), zap.Error(err))
		return nil
	}
	switch env.EventType {
	case orders.EventRowInserted, orders.EventRowReplaced, orders.EventRowDeleted, orders.EventOrderCancelled:
	default:
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	first, err := s.Dedup.Claim(ctx, dkey)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.RowChangedPayload](env.Payload)
	if err != nil {
		s.Log.Warn("undecodable payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	at := p.UpdatedAt
	if at.IsZero() {
		at = env.OccurredAt
	}
	for _, uid := range p.UserIDs {
		if err := s.Hints.Mark(ctx, uid, at); err != nil {
			// let the redelivery retry the whole event
			_ = s.Dedup.Release(ctx, dkey)
			return fmt.Errorf("mark hint for %s: %w", uid, err)
		}
	}
	s.Log.Debug("sync hints marked",
		zap.String("event_type", env.EventType),
		zap.String("table", p.Table),
		zap.String("row_id", p.RowID),
		zap.Strings("users", p.UserIDs))
	return nil
}
