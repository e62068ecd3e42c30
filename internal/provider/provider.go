// internal/provider/provider.go

// Package provider abstracts the outbound message channels. Each provider
// validates the destination before the network call, so a bad address is a
// permanent error that never consumes a send attempt against the backend.
package provider

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"

	apperrors "reengage-engine/internal/common/errors"
	"reengage-engine/internal/models"
)

// Payload is one fully rendered message ready to hand to a channel backend.
// Subject is only meaningful for email.
type Payload struct {
	To      string
	Subject string
	Body    string
}

// Result is the provider's acknowledgement of an accepted message.
// ExternalID is the provider-side identifier later echoed by webhook events.
type Result struct {
	ExternalID string
}

// ChannelProvider sends one message on one channel. Implementations must
// honor ctx cancellation and classify failures as transient or permanent
// through the error taxonomy.
type ChannelProvider interface {
	Channel() models.Channel
	Send(ctx context.Context, payload Payload) (*Result, error)
}

// classifySendError maps a backend failure onto the taxonomy. Timeouts and
// server-side faults are transient; a client fault means the request itself
// was rejected and a retry would fail the same way.
func classifySendError(channel models.Channel, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.NewProviderTransientError(string(channel), err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient {
		return apperrors.NewProviderPermanentError(string(channel), apiErr.Error())
	}
	return apperrors.NewProviderTransientError(string(channel), err)
}
