// internal/provider/mock.go
package provider

import (
	"context"

	"github.com/google/uuid"

	"reengage-engine/internal/common/logger"
	"reengage-engine/internal/models"
)

// MockProvider logs instead of sending. Used in local and test environments
// when comms.mock_mode is on, so the full dispatch and reconciliation paths
// run without real provider credentials.
type MockProvider struct {
	channel models.Channel
	logger  logger.Logger
}

func NewMockProvider(channel models.Channel, log logger.Logger) *MockProvider {
	return &MockProvider{
		channel: channel,
		logger:  log.WithFields(map[string]interface{}{"provider": "mock-" + string(channel)}),
	}
}

func (p *MockProvider) Channel() models.Channel {
	return p.channel
}

func (p *MockProvider) Send(ctx context.Context, payload Payload) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifySendError(p.channel, err)
	}

	externalID := "mock-" + uuid.New().String()
	p.logger.Info("mock send", map[string]interface{}{
		"channel":    p.channel,
		"to":         payload.To,
		"subject":    payload.Subject,
		"bodyChars":  len(payload.Body),
		"externalId": externalID,
	})
	return &Result{ExternalID: externalID}, nil
}
