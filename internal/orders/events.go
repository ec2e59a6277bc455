package orders

import (
	"encoding/json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"strconv"
	"time"
)

const (
	EventOrderCreated        = "OrderCreated"
	EventOrderStatusChanged  = "OrderStatusChanged"
	EventPaymentSucceeded    = "PaymentSucceeded"
	EventPaymentFailed       = "PaymentFailed"
	EventReconciliationFault = "ReconciliationFault"
)

const envelopeVersion = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload tipe per event ----

type ItemPrice struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
	UnitPrice int64 `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID     string      `json:"order_id"`
	UserID      string      `json:"user_id"`
	Items       []ItemPrice `json:"items"`
	TotalAmount int64       `json:"total_amount"`
	FinalAmount int64       `json:"final_amount"`
	Currency    string      `json:"currency"`
}

type StatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
	Event   Event  `json:"event"`
	Version int    `json:"version"`
}

type PaymentSucceededPayload struct {
	OrderID       string `json:"order_id"`
	OutTradeNo    string `json:"out_trade_no"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
}

type PaymentFailedPayload struct {
	OrderID    string `json:"order_id"`
	OutTradeNo string `json:"out_trade_no"`
	TradeState string `json:"trade_state"`
}

type ReconciliationFaultPayload struct {
	OrderID    string         `json:"order_id,omitempty"`
	OutTradeNo string         `json:"out_trade_no"`
	Kind       string         `json:"kind"`
	Detail     map[string]any `json:"detail,omitempty"`
}

type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header) error
}

// Emitter publishes envelopes after the owning transaction committed.
// Publishing is best effort; a nil Emitter is a no-op.
type Emitter struct {
	pub      Publisher
	producer string
	log      zerolog.Logger
}

func NewEmitter(pub Publisher, producer string, log zerolog.Logger) *Emitter {
	return &Emitter{pub: pub, producer: producer, log: log.With().Str("component", "events").Logger()}
}

func (e *Emitter) Emit(topic, eventType, correlationID string, payload any) {
	if e == nil || e.pub == nil {
		return
	}
	p, err := json.Marshal(payload)
	if err != nil {
		e.log.Error().Err(err).Str("event_type", eventType).Msg("marshal payload")
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  envelopeVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.producer,
		CorrelationID: correlationID,
		Payload:       p,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		e.log.Error().Err(err).Str("event_type", eventType).Msg("marshal envelope")
		return
	}
	err = e.pub.Publish(topic, PartitionKey(correlationID), b,
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(envelopeVersion))},
	)
	if err != nil {
		e.log.Warn().Err(err).Str("event_type", eventType).Str("correlation_id", correlationID).Msg("publish event")
	}
}

func (e *Emitter) OrderCreated(o *Order) {
	items := make([]ItemPrice, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemPrice{ProductID: it.ProductID, Qty: it.Quantity, UnitPrice: it.UnitPrice})
	}
	e.Emit(TopicOrderCreated, EventOrderCreated, o.ID, OrderCreatedPayload{
		OrderID:     o.ID,
		UserID:      o.UserID,
		Items:       items,
		TotalAmount: o.TotalAmount,
		FinalAmount: o.FinalAmount,
		Currency:    o.Currency,
	})
}

func (e *Emitter) StatusChanged(o *Order, from Status, ev Event) {
	e.Emit(TopicOrderStatus, EventOrderStatusChanged, o.ID, StatusChangedPayload{
		OrderID: o.ID, From: from, To: o.Status, Event: ev, Version: o.Version,
	})
}
