package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// CartClearer resets the cart identified by its remote handle.
type CartClearer interface {
	ClearByHandle(ctx context.Context, handle string) error
}

// checkoutCompleted is the payload published by the checkout pipeline
// once an order is placed for a cart.
type checkoutCompleted struct {
	CartHandle string `json:"cart_handle"`
	OrderID    string `json:"order_id"`
}

// Listener consumes checkout-completion events and clears the matching
// local cart so the session does not keep showing purchased items.
type Listener struct {
	reader  *kafka.Reader
	clearer CartClearer
	log     logrus.FieldLogger
}

func NewListener(clearer CartClearer, log logrus.FieldLogger, brokers ...string) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    "checkout-completed",
		GroupID:  "storefront-consumer",
		MaxBytes: 10e6, // 10MB
	})
	return &Listener{reader: reader, clearer: clearer, log: log}
}

func (l *Listener) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.WithError(err).Warn("failed to read checkout event")
			continue
		}
		if err := l.handleMessage(ctx, m.Value); err != nil {
			l.log.WithError(err).Warn("failed to handle checkout event")
		}
	}
}

func (l *Listener) Close() error {
	return l.reader.Close()
}

func (l *Listener) handleMessage(ctx context.Context, value []byte) error {
	var event checkoutCompleted
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("failed to parse checkout event: %w", err)
	}
	if event.CartHandle == "" {
		return fmt.Errorf("checkout event missing cart_handle")
	}

	if err := l.clearer.ClearByHandle(ctx, event.CartHandle); err != nil {
		return fmt.Errorf("failed to clear cart %s: %w", event.CartHandle, err)
	}
	l.log.WithFields(logrus.Fields{
		"cart_handle": event.CartHandle,
		"order_id":    event.OrderID,
	}).Info("cart cleared after checkout")
	return nil
}
