// Package cache notifies the search-result cache when a user's committed
// relationships change.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Invalidator drops cached search results of a user.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID, reason string) error
}

// Nop is used when no cache is configured.
type Nop struct{}

func (Nop) InvalidateUser(context.Context, string, string) error { return nil }

// Event is the message published on every invalidation.
type Event struct {
	UserID string    `json:"user_id"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Invalidation reasons.
const (
	ReasonDiscovery = "discovery_commit"
	ReasonApproval  = "review_approval"
	ReasonPurge     = "graph_purge"
)

// NATSInvalidator publishes invalidation events to a NATS subject.
type NATSInvalidator struct {
	nc      *nats.Conn
	subject string
}

// NewNATSInvalidator publishes on subject through nc.
func NewNATSInvalidator(nc *nats.Conn, subject string) *NATSInvalidator {
	return &NATSInvalidator{nc: nc, subject: subject}
}

// Connect dials NATS and returns an invalidator bound to subject.
func Connect(url, subject string) (*NATSInvalidator, error) {
	nc, err := nats.Connect(url,
		nats.Name("contactgraph"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("cache: connect nats %s: %w", url, err)
	}
	return NewNATSInvalidator(nc, subject), nil
}

// Close drains the connection.
func (n *NATSInvalidator) Close() error {
	return n.nc.Drain()
}

// InvalidateUser publishes an Event. Trace context from ctx travels in the
// message headers.
func (n *NATSInvalidator) InvalidateUser(ctx context.Context, userID, reason string) error {
	data, err := json.Marshal(Event{UserID: userID, Reason: reason, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	msg := &nats.Msg{Subject: n.subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("cache: publish %s: %w", n.subject, err)
	}
	return nil
}

// BestEffort invalidates and logs any failure. It never fails the caller.
func BestEffort(ctx context.Context, inv Invalidator, log *zap.Logger, userID, reason string) {
	if inv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := inv.InvalidateUser(ctx, userID, reason); err != nil && log != nil {
		log.Warn("Search cache invalidation failed",
			zap.String("user_id", userID),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}
