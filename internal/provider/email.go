// internal/provider/email.go
package provider

import (
	"context"
	"html"
	"net/mail"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/google/uuid"

	apperrors "reengage-engine/internal/common/errors"
	"reengage-engine/internal/common/logger"
	"reengage-engine/internal/models"
)

// SESService is the slice of the SES client the email provider uses, defined
// here so tests can substitute a mock.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type EmailProvider struct {
	client    SESService
	fromEmail string
	logger    logger.Logger
}

func NewEmailProvider(client SESService, fromEmail string, log logger.Logger) *EmailProvider {
	return &EmailProvider{
		client:    client,
		fromEmail: fromEmail,
		logger:    log.WithFields(map[string]interface{}{"provider": "ses-email"}),
	}
}

func (p *EmailProvider) Channel() models.Channel {
	return models.ChannelEmail
}

func (p *EmailProvider) Send(ctx context.Context, payload Payload) (*Result, error) {
	if _, err := mail.ParseAddress(payload.To); err != nil {
		return nil, apperrors.NewProviderPermanentError(string(models.ChannelEmail),
			"invalid destination address: "+payload.To)
	}

	out, err := p.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{
			ToAddresses: []string{payload.To},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(payload.Subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(payload.Body)},
				Html: &sestypes.Content{Data: aws.String(wrapHTML(payload.Body))},
			},
		},
		Source: aws.String(p.fromEmail),
	})
	if err != nil {
		return nil, classifySendError(models.ChannelEmail, err)
	}

	externalID := uuid.New().String()
	if out.MessageId != nil {
		externalID = *out.MessageId
	}
	p.logger.Debug("email accepted", map[string]interface{}{"externalId": externalID})
	return &Result{ExternalID: externalID}, nil
}

// wrapHTML turns the plain text body into a minimal HTML alternative,
// preserving line breaks.
func wrapHTML(body string) string {
	escaped := html.EscapeString(body)
	escaped = strings.ReplaceAll(escaped, "\n", "<br>\n")
	return "<html><body><p>" + escaped + "</p></body></html>"
}
