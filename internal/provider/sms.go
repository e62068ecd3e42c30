// internal/provider/sms.go
package provider

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"

	apperrors "reengage-engine/internal/common/errors"
	"reengage-engine/internal/common/logger"
	"reengage-engine/internal/models"
)

// SNSService is the slice of the SNS client the SMS provider uses, defined
// here so tests can substitute a mock.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SMSProvider struct {
	client   SNSService
	senderID string
	logger   logger.Logger
}

func NewSMSProvider(client SNSService, senderID string, log logger.Logger) *SMSProvider {
	return &SMSProvider{
		client:   client,
		senderID: senderID,
		logger:   log.WithFields(map[string]interface{}{"provider": "sns-sms"}),
	}
}

func (p *SMSProvider) Channel() models.Channel {
	return models.ChannelSMS
}

func (p *SMSProvider) Send(ctx context.Context, payload Payload) (*Result, error) {
	to, err := NormalizeUSPhone(payload.To)
	if err != nil {
		return nil, err
	}

	attrs := map[string]snstypes.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if p.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(p.senderID),
		}
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(to),
		Message:           aws.String(payload.Body),
		MessageAttributes: attrs,
	})
	if err != nil {
		return nil, classifySendError(models.ChannelSMS, err)
	}

	externalID := uuid.New().String()
	if out.MessageId != nil {
		externalID = *out.MessageId
	}
	p.logger.Debug("sms accepted", map[string]interface{}{"externalId": externalID})
	return &Result{ExternalID: externalID}, nil
}

// NormalizeUSPhone converts a US phone number in common local formats to
// E.164. Anything that is not a ten digit US number (with optional leading 1
// or +1) is rejected as permanently undeliverable.
func NormalizeUSPhone(raw string) (string, error) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	d := digits.String()
	switch {
	case len(d) == 10:
		return "+1" + d, nil
	case len(d) == 11 && d[0] == '1':
		return "+" + d, nil
	}
	return "", apperrors.NewProviderPermanentError(string(models.ChannelSMS),
		"destination is not a US phone number: "+raw)
}
