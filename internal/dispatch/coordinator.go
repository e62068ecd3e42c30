// internal/dispatch/coordinator.go

// Package dispatch executes campaign sends. One Submit call owns the whole
// campaign lifecycle: win the draft->sending race, freeze the recipient
// snapshot, fan the messages out over a bounded worker pool, and settle the
// campaign counters when every message has reached a terminal state.
package dispatch

import (
	"context"
	"sync"
	"time"

	apperrors "reengage-engine/internal/common/errors"
	"reengage-engine/internal/common/logger"
	"reengage-engine/internal/common/metrics"
	"reengage-engine/internal/models"
	"reengage-engine/internal/provider"
	"reengage-engine/internal/template"
)

type CampaignStore interface {
	GetByID(ctx context.Context, id int64) (*models.Campaign, error)
	TransitionToSending(ctx context.Context, id int64) error
	SetTotalRecipients(ctx context.Context, id int64, total int) error
	FinishDispatch(ctx context.Context, id int64, status models.CampaignStatus) error
}

type MessageStore interface {
	CreatePending(ctx context.Context, m *models.OutreachMessage) (*models.OutreachMessage, error)
	MarkSent(ctx context.Context, id int64, externalID string, at time.Time) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	MarkBlocked(ctx context.Context, id int64, reason string) error
}

type PatientStore interface {
	GetByID(ctx context.Context, id int64) (*models.Patient, error)
	HasOptOut(ctx context.Context, patientID int64) (bool, error)
}

// RecipientResolver produces the frozen recipient snapshot for a campaign.
type RecipientResolver interface {
	Resolve(ctx context.Context, campaign *models.Campaign) ([]models.QueueItem, error)
}

// ContactRecorder stamps the queue item after a successful send.
type ContactRecorder interface {
	RecordContactAttempt(ctx context.Context, id int64, at time.Time) (*models.QueueItem, error)
}

// Options tune the fan-out behavior per coordinator.
type Options struct {
	Concurrency     int
	MaxAttempts     int
	RetryBackoff    time.Duration
	ProviderTimeout time.Duration
}

type Coordinator struct {
	campaigns CampaignStore
	messages  MessageStore
	patients  PatientStore
	resolver  RecipientResolver
	queue     ContactRecorder
	providers map[models.Channel]provider.ChannelProvider
	opts      Options
	logger    logger.Logger

	// sleep is swapped out in tests so retry backoff does not slow them down.
	sleep func(time.Duration)
}

func NewCoordinator(
	campaigns CampaignStore,
	messages MessageStore,
	patients PatientStore,
	resolver RecipientResolver,
	queue ContactRecorder,
	providers []provider.ChannelProvider,
	opts Options,
	log logger.Logger,
) *Coordinator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	byChannel := make(map[models.Channel]provider.ChannelProvider, len(providers))
	for _, p := range providers {
		byChannel[p.Channel()] = p
	}

	return &Coordinator{
		campaigns: campaigns,
		messages:  messages,
		patients:  patients,
		resolver:  resolver,
		queue:     queue,
		providers: byChannel,
		opts:      opts,
		logger:    log.WithFields(map[string]interface{}{"component": "dispatch-coordinator"}),
		sleep:     time.Sleep,
	}
}

type job struct {
	message *models.OutreachMessage
	item    models.QueueItem
}

// Submit runs a campaign dispatch to completion. Exactly one caller wins the
// draft->sending transition; everyone else gets AlreadySending and should
// treat it as the winner's success. A campaign with zero eligible recipients
// still completes as sent.
func (c *Coordinator) Submit(ctx context.Context, campaignID int64) error {
	campaign, err := c.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}

	prov, ok := c.providers[campaign.Channel]
	if !ok {
		return apperrors.NewValidationError("no provider configured for channel: " + string(campaign.Channel))
	}

	if err := c.campaigns.TransitionToSending(ctx, campaignID); err != nil {
		return err
	}

	// The campaign is committed to sending. Detach from the caller's
	// lifetime so a client disconnect or proxy timeout cannot cancel the
	// fan-out mid-flight; per-send timeouts still apply below.
	ctx = context.WithoutCancel(ctx)

	recipients, err := c.resolver.Resolve(ctx, campaign)
	if err != nil {
		c.finish(ctx, campaignID, models.CampaignFailed)
		return err
	}
	if err := c.campaigns.SetTotalRecipients(ctx, campaignID, len(recipients)); err != nil {
		c.finish(ctx, campaignID, models.CampaignFailed)
		return err
	}

	jobs := c.createMessages(ctx, campaign, recipients)
	c.fanOut(ctx, campaign, prov, jobs)

	c.finish(ctx, campaignID, models.CampaignSent)
	c.logger.Info("campaign dispatch complete", map[string]interface{}{
		"campaignId": campaignID,
		"recipients": len(recipients),
	})
	return nil
}

// createMessages materializes one pending message row per recipient. The
// unique (campaign_id, patient_id) constraint makes this idempotent; a
// recipient whose row cannot be created is skipped rather than sinking the
// whole campaign.
func (c *Coordinator) createMessages(ctx context.Context, campaign *models.Campaign, recipients []models.QueueItem) []job {
	jobs := make([]job, 0, len(recipients))
	for _, item := range recipients {
		body, subject := c.render(ctx, campaign, &item)
		msg, err := c.messages.CreatePending(ctx, &models.OutreachMessage{
			CampaignID:  campaign.ID,
			QueueItemID: item.ID,
			PatientID:   item.PatientID,
			Channel:     campaign.Channel,
			Recipient:   item.Address(campaign.Channel),
			MessageBody: body,
			Subject:     subject,
		})
		if err != nil {
			c.logger.Error("pending message creation failed", map[string]interface{}{
				"campaignId": campaign.ID,
				"patientId":  item.PatientID,
				"error":      err,
			})
			continue
		}
		jobs = append(jobs, job{message: msg, item: item})
	}
	return jobs
}

// render fills the template from the queue snapshot, preferring the live
// patient record for name parts the snapshot does not carry.
func (c *Coordinator) render(ctx context.Context, campaign *models.Campaign, item *models.QueueItem) (string, string) {
	fields := template.Fields{CalledName: item.Contact.CalledName}
	if patient, err := c.patients.GetByID(ctx, item.PatientID); err == nil {
		fields.FirstName = patient.FirstName
		fields.LastName = patient.LastName
		if fields.CalledName == "" {
			fields.CalledName = patient.CalledName
		}
	}
	return template.Render(campaign.MessageTemplate, fields), template.Render(campaign.Subject, fields)
}

func (c *Coordinator) fanOut(ctx context.Context, campaign *models.Campaign, prov provider.ChannelProvider, jobs []job) {
	work := make(chan job)
	var wg sync.WaitGroup

	for i := 0; i < c.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range work {
				c.process(ctx, campaign, prov, j)
			}
		}()
	}

	for _, j := range jobs {
		work <- j
	}
	close(work)
	wg.Wait()
}

// process drives one message to a terminal state. Every failure is scoped to
// this message; the campaign keeps going.
func (c *Coordinator) process(ctx context.Context, campaign *models.Campaign, prov provider.ChannelProvider, j job) {
	channel := string(campaign.Channel)

	blocked, reason, err := c.recheckEligibility(ctx, j.item.PatientID)
	if err != nil {
		c.failMessage(ctx, j, channel, err)
		return
	}
	if blocked {
		if err := c.messages.MarkBlocked(ctx, j.message.ID, reason); err != nil {
			c.logger.Error("mark blocked failed", map[string]interface{}{
				"messageId": j.message.ID,
				"error":     err,
			})
			return
		}
		metrics.MessagesBlocked.WithLabelValues(channel).Inc()
		c.logger.Info("message blocked at send time", map[string]interface{}{
			"messageId": j.message.ID,
			"patientId": j.item.PatientID,
			"reason":    reason,
		})
		return
	}

	start := time.Now()
	result, err := c.sendWithRetry(ctx, prov, provider.Payload{
		To:      j.message.Recipient,
		Subject: j.message.Subject,
		Body:    j.message.MessageBody,
	})
	metrics.SendDuration.WithLabelValues(channel).Observe(time.Since(start).Seconds())
	if err != nil {
		c.failMessage(ctx, j, channel, err)
		return
	}

	now := time.Now().UTC()
	if err := c.messages.MarkSent(ctx, j.message.ID, result.ExternalID, now); err != nil {
		c.logger.Error("mark sent failed", map[string]interface{}{
			"messageId": j.message.ID,
			"error":     err,
		})
		return
	}
	if _, err := c.queue.RecordContactAttempt(ctx, j.item.ID, now); err != nil {
		c.logger.Error("contact attempt record failed", map[string]interface{}{
			"queueItemId": j.item.ID,
			"error":       err,
		})
	}
	metrics.MessagesSent.WithLabelValues(channel).Inc()
}

// recheckEligibility is the send-time gate. The resolver snapshot can be
// minutes old by the time a worker picks the message up, and a do-not-contact
// flag set in between must win.
func (c *Coordinator) recheckEligibility(ctx context.Context, patientID int64) (bool, string, error) {
	patient, err := c.patients.GetByID(ctx, patientID)
	if err != nil {
		return false, "", err
	}
	if patient.IsDNC {
		return true, "patient is on the do-not-contact list", nil
	}
	optedOut, err := c.patients.HasOptOut(ctx, patientID)
	if err != nil {
		return false, "", err
	}
	if optedOut {
		return true, "patient has a prior opt-out reply", nil
	}
	return false, "", nil
}

// sendWithRetry retries transient provider failures with linear backoff.
// Permanent errors and exhausted retries both surface to the caller, who
// marks the message failed.
func (c *Coordinator) sendWithRetry(ctx context.Context, prov provider.ChannelProvider, payload provider.Payload) (*provider.Result, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, c.opts.ProviderTimeout)
		result, err := prov.Send(sendCtx, payload)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !apperrors.IsProviderTransient(err) {
			return nil, err
		}
		if attempt < c.opts.MaxAttempts {
			c.sleep(time.Duration(attempt) * c.opts.RetryBackoff)
		}
	}
	return nil, lastErr
}

func (c *Coordinator) failMessage(ctx context.Context, j job, channel string, cause error) {
	errorCode := "SEND_FAILED"
	if apperrors.IsProviderPermanent(cause) {
		errorCode = string(apperrors.ErrCodeProviderPermanent)
	} else if apperrors.IsProviderTransient(cause) {
		errorCode = string(apperrors.ErrCodeProviderTransient)
	}

	if err := c.messages.MarkFailed(ctx, j.message.ID, cause.Error()); err != nil {
		c.logger.Error("mark failed failed", map[string]interface{}{
			"messageId": j.message.ID,
			"error":     err,
		})
		return
	}
	metrics.MessagesFailed.WithLabelValues(channel, errorCode).Inc()
	c.logger.Warn("message failed", map[string]interface{}{
		"messageId": j.message.ID,
		"patientId": j.item.PatientID,
		"errorCode": errorCode,
		"error":     cause,
	})
}

func (c *Coordinator) finish(ctx context.Context, campaignID int64, status models.CampaignStatus) {
	if err := c.campaigns.FinishDispatch(ctx, campaignID, status); err != nil {
		c.logger.Error("campaign finalization failed", map[string]interface{}{
			"campaignId": campaignID,
			"status":     status,
			"error":      err,
		})
	}
}
