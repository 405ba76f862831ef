package kafka

import (
	"strconv"
	"time"

	"github.com/ariefcatur/go-worklist-sync/internal/orders"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type publisher interface {
	Publish(key, value []byte, headers ...kafka.Header)
}

// RowEvents publishes committed table writes, one producer per table topic.
type RowEvents struct {
	Orders    publisher
	Customers publisher
	Service   string
}

func (e *RowEvents) RowChanged(eventType string, p orders.RowChangedPayload, traceID string) {
	pub := e.Orders
	if p.Table == orders.TableCustomers {
		pub = e.Customers
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.Service,
		TraceID:       traceID,
		CorrelationID: p.RowID,
		Payload:       MustMarshal(p),
	}
	pub.Publish(orders.PartitionKey(p.RowID), MustMarshal(ev),
		kafka.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(ev.EventVersion))},
	)
}
