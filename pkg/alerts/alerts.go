package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const defaultPublishTimeout = 5 * time.Second

// Kind names the condition an operator is paged about.
type Kind string

const (
	KindWebhookUnresolved     Kind = "webhook_unresolved"
	KindWebhookAmountMatch    Kind = "webhook_amount_match"
	KindWebhookApplyFailed    Kind = "webhook_apply_failed"
	KindPaymentAfterTerminal  Kind = "payment_after_terminal"
	KindTransitionFailed      Kind = "transition_failed"
	KindRefundFailed          Kind = "refund_failed"
	KindJobFailed             Kind = "job_failed"
	KindOutboxEventTerminated Kind = "outbox_event_terminated"
)

// Alert is a single operational notification. Err is rendered into Error.
type Alert struct {
	Kind       Kind           `json:"kind"`
	Message    string         `json:"message"`
	OrderID    *uint64        `json:"order_id,omitempty"`
	Error      string         `json:"error,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Err        error          `json:"-"`
}

// Notifier delivers alerts best effort. Implementations never fail the caller.
type Notifier interface {
	Notify(ctx context.Context, alert Alert)
}

// ForOrder is a small helper for the common order-scoped alert.
func ForOrder(kind Kind, orderID uint64, message string, err error) Alert {
	id := orderID
	return Alert{Kind: kind, OrderID: &id, Message: message, Err: err}
}

func (a Alert) normalized() Alert {
	if a.OccurredAt.IsZero() {
		a.OccurredAt = time.Now().UTC()
	}
	if a.Err != nil && a.Error == "" {
		a.Error = a.Err.Error()
	}
	return a
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logg *logger.Logger
}

func NewLogNotifier(logg *logger.Logger) *LogNotifier {
	return &LogNotifier{logg: logg}
}

func (n *LogNotifier) Notify(ctx context.Context, alert Alert) {
	if n == nil || n.logg == nil {
		return
	}
	alert = alert.normalized()
	fields := map[string]any{"alert_kind": alert.Kind}
	if alert.OrderID != nil {
		fields["order_id"] = *alert.OrderID
	}
	for k, v := range alert.Fields {
		fields[k] = v
	}
	n.logg.Error(n.logg.WithFields(ctx, fields), fmt.Sprintf("alert: %s", alert.Message), alert.Err)
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) *gcppubsub.PublishResult
}

// PubSubNotifier publishes alerts as JSON to the alerts topic.
type PubSubNotifier struct {
	pub     publisher
	logg    *logger.Logger
	timeout time.Duration
}

// NewPubSubNotifier publishes through pub. A nil publisher turns the notifier
// into a no-op.
func NewPubSubNotifier(pub *gcppubsub.Publisher, logg *logger.Logger) *PubSubNotifier {
	n := &PubSubNotifier{logg: logg, timeout: defaultPublishTimeout}
	if pub != nil {
		n.pub = pub
	}
	return n
}

func (n *PubSubNotifier) Notify(ctx context.Context, alert Alert) {
	if n == nil || n.pub == nil {
		return
	}
	msg, err := Message(alert)
	if err != nil {
		n.logPublishError(ctx, alert, err)
		return
	}
	publishCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if _, err := n.pub.Publish(publishCtx, msg).Get(publishCtx); err != nil {
		n.logPublishError(ctx, alert, err)
	}
}

func (n *PubSubNotifier) logPublishError(ctx context.Context, alert Alert, err error) {
	if n.logg == nil {
		return
	}
	n.logg.Error(n.logg.WithField(ctx, "alert_kind", alert.Kind), "failed to publish alert", err)
}

// Message renders alert as a Pub/Sub message.
func Message(alert Alert) (*gcppubsub.Message, error) {
	alert = alert.normalized()
	data, err := json.Marshal(alert)
	if err != nil {
		return nil, err
	}
	attrs := map[string]string{"kind": string(alert.Kind)}
	if alert.OrderID != nil {
		attrs["order_id"] = fmt.Sprintf("%d", *alert.OrderID)
	}
	return &gcppubsub.Message{Data: data, Attributes: attrs}, nil
}

// Fanout sends every alert to each notifier in order.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, alert Alert) {
	for _, n := range f {
		if n != nil {
			n.Notify(ctx, alert)
		}
	}
}

// Nop drops every alert.
type Nop struct{}

func (Nop) Notify(context.Context, Alert) {}
