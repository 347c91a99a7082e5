// Package transport delivers outbound email.
package transport

import (
	"context"

	"github.com/vocalmail/vocalmail/internal/model"
)

// Transport sends one message and reports a delivery receipt.
type Transport interface {
	// Name identifies the transport in receipts and logs.
	Name() string
	Send(ctx context.Context, to, subject, body string) (*model.DeliveryReceipt, error)
}
