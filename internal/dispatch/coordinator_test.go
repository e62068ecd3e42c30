// internal/dispatch/coordinator_test.go

package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "reengage-engine/internal/common/errors"
	"reengage-engine/internal/common/logger"
	"reengage-engine/internal/models"
	"reengage-engine/internal/provider"
)

type mockCampaignStore struct {
	mu              sync.Mutex
	campaign        *models.Campaign
	transitionErr   error
	onTransition    func()
	totalRecipients int
	finishedWith    models.CampaignStatus
	transitions     int
}

func (m *mockCampaignStore) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	if m.campaign == nil {
		return nil, apperrors.NewNotFoundError("campaign", id)
	}
	copied := *m.campaign
	return &copied, nil
}

func (m *mockCampaignStore) TransitionToSending(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions++
	if m.transitionErr == nil && m.onTransition != nil {
		m.onTransition()
	}
	return m.transitionErr
}

func (m *mockCampaignStore) SetTotalRecipients(ctx context.Context, id int64, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRecipients = total
	return nil
}

func (m *mockCampaignStore) FinishDispatch(ctx context.Context, id int64, status models.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishedWith = status
	return nil
}

type mockMessageStore struct {
	mu      sync.Mutex
	nextID  int64
	created []models.OutreachMessage
	sent    map[int64]string
	failed  map[int64]string
	blocked map[int64]string
}

func newMockMessageStore() *mockMessageStore {
	return &mockMessageStore{
		sent:    map[int64]string{},
		failed:  map[int64]string{},
		blocked: map[int64]string{},
	}
}

func (m *mockMessageStore) CreatePending(ctx context.Context, msg *models.OutreachMessage) (*models.OutreachMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	copied := *msg
	copied.ID = m.nextID
	copied.Status = models.MessagePending
	m.created = append(m.created, copied)
	return &copied, nil
}

func (m *mockMessageStore) MarkSent(ctx context.Context, id int64, externalID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[id] = externalID
	return nil
}

func (m *mockMessageStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[id] = errMsg
	return nil
}

func (m *mockMessageStore) MarkBlocked(ctx context.Context, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked[id] = reason
	return nil
}

type mockPatientStore struct {
	mu       sync.Mutex
	patients map[int64]*models.Patient
	optOuts  map[int64]bool
}

func (m *mockPatientStore) GetByID(ctx context.Context, id int64) (*models.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("patient", id)
	}
	copied := *p
	return &copied, nil
}

func (m *mockPatientStore) HasOptOut(ctx context.Context, patientID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.optOuts[patientID], nil
}

type mockResolver struct {
	recipients []models.QueueItem
	err        error
}

func (m *mockResolver) Resolve(ctx context.Context, campaign *models.Campaign) ([]models.QueueItem, error) {
	return m.recipients, m.err
}

type mockContactRecorder struct {
	mu    sync.Mutex
	calls []int64
}

func (m *mockContactRecorder) RecordContactAttempt(ctx context.Context, id int64, at time.Time) (*models.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, id)
	return &models.QueueItem{ID: id, Status: models.QueueContacted}, nil
}

type mockProvider struct {
	mu       sync.Mutex
	channel  models.Channel
	sendFunc func(attempt int, payload provider.Payload) (*provider.Result, error)
	calls    int
	payloads []provider.Payload
}

func (m *mockProvider) Channel() models.Channel { return m.channel }

func (m *mockProvider) Send(ctx context.Context, payload provider.Payload) (*provider.Result, error) {
	m.mu.Lock()
	m.calls++
	attempt := m.calls
	m.payloads = append(m.payloads, payload)
	m.mu.Unlock()
	return m.sendFunc(attempt, payload)
}

func okProvider(channel models.Channel) *mockProvider {
	return &mockProvider{
		channel: channel,
		sendFunc: func(attempt int, payload provider.Payload) (*provider.Result, error) {
			return &provider.Result{ExternalID: "ext-1"}, nil
		},
	}
}

type fixture struct {
	campaigns *mockCampaignStore
	messages  *mockMessageStore
	patients  *mockPatientStore
	resolver  *mockResolver
	queue     *mockContactRecorder
	provider  *mockProvider
}

func newFixture(campaign *models.Campaign, recipients []models.QueueItem, prov *mockProvider) *fixture {
	patients := &mockPatientStore{patients: map[int64]*models.Patient{}, optOuts: map[int64]bool{}}
	for _, item := range recipients {
		patients.patients[item.PatientID] = &models.Patient{
			ID:        item.PatientID,
			FirstName: "Dana",
			LastName:  "Reyes",
		}
	}
	return &fixture{
		campaigns: &mockCampaignStore{campaign: campaign},
		messages:  newMockMessageStore(),
		patients:  patients,
		resolver:  &mockResolver{recipients: recipients},
		queue:     &mockContactRecorder{},
		provider:  prov,
	}
}

func (f *fixture) coordinator(opts Options) *Coordinator {
	c := NewCoordinator(f.campaigns, f.messages, f.patients, f.resolver, f.queue,
		[]provider.ChannelProvider{f.provider}, opts, logger.NewNoOpLogger())
	c.sleep = func(time.Duration) {}
	return c
}

func smsCampaign() *models.Campaign {
	return &models.Campaign{
		ID:              1,
		Name:            "spring reactivation",
		Channel:         models.ChannelSMS,
		MessageTemplate: "Hi {called_name}, we miss you!",
		Status:          models.CampaignDraft,
	}
}

func smsRecipients(n int) []models.QueueItem {
	items := make([]models.QueueItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, models.QueueItem{
			ID:        int64(100 + i),
			PatientID: int64(10 + i),
			Status:    models.QueuePending,
			Contact:   models.ContactSnapshot{CellPhone: "5035551234"},
		})
	}
	return items
}

func TestSubmit_HappyPath(t *testing.T) {
	f := newFixture(smsCampaign(), smsRecipients(3), okProvider(models.ChannelSMS))
	c := f.coordinator(Options{Concurrency: 2, MaxAttempts: 3, ProviderTimeout: time.Second})

	err := c.Submit(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, 1, f.campaigns.transitions)
	assert.Equal(t, 3, f.campaigns.totalRecipients)
	assert.Equal(t, models.CampaignSent, f.campaigns.finishedWith)
	assert.Len(t, f.messages.created, 3)
	assert.Len(t, f.messages.sent, 3)
	assert.Empty(t, f.messages.failed)
	assert.Empty(t, f.messages.blocked)
	assert.Len(t, f.queue.calls, 3)
}

func TestSubmit_RendersTemplateFromPatientRecord(t *testing.T) {
	f := newFixture(smsCampaign(), smsRecipients(1), okProvider(models.ChannelSMS))
	f.patients.patients[10].CalledName = "Dee"
	c := f.coordinator(Options{Concurrency: 1, MaxAttempts: 1, ProviderTimeout: time.Second})

	require.NoError(t, c.Submit(context.Background(), 1))

	require.Len(t, f.provider.payloads, 1)
	assert.Equal(t, "Hi Dee, we miss you!", f.provider.payloads[0].Body)
	assert.Equal(t, "5035551234", f.provider.payloads[0].To)
}

func TestSubmit_AlreadySendingPassesThrough(t *testing.T) {
	f := newFixture(smsCampaign(), smsRecipients(1), okProvider(models.ChannelSMS))
	f.campaigns.transitionErr = apperrors.NewAlreadySendingError(1)
	c := f.coordinator(Options{Concurrency: 1, MaxAttempts: 1, ProviderTimeout: time.Second})

	err := c.Submit(context.Background(), 1)

	require.Error(t, err)
	assert.True(t, apperrors.IsAlreadySending(err))
	assert.Empty(t, f.messages.created)
	assert.Zero(t, f.provider.calls)
}

func TestSubmit_UnknownCampaign(t *testing.T) {
	f := newFixture(nil, nil, okProvider(models.ChannelSMS))
	c := f.coordinator(Options{Concurrency: 1, MaxAttempts: 1, ProviderTimeout: time.Second})

	err := c.Submit(context.Background(), 42)

	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Zero(t, f.campaigns.transitions)
}

func TestSubmit_ZeroRecipientsStillCompletes(t *testing.T) {
	f := newFixture(smsCampaign(), nil, okProvider(models.ChannelSMS))
	c := f.coordinator(Options{Concurrency: 2, MaxAttempts: 1, ProviderTimeout: time.Second})

	err := c.Submit(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, 0, f.campaigns.totalRecipients)
	assert.Equal(t, models.CampaignSent, f.campaigns.finishedWith)
	assert.Zero(t, f.provider.calls)
}

func TestSubmit_SendTimeGateBlocksWithoutProviderCall(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{"dnc set after snapshot", func(f *fixture) { f.patients.patients[10].IsDNC = true }},
		{"opt out after snapshot", func(f *fixture) { f.patients.optOuts[10] = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(smsCampaign(), smsRecipients(1), okProvider(models.ChannelSMS))
			tt.setup(f)
			c := f.coordinator(Options{Concurrency: 1, MaxAttempts: 1, ProviderTimeout: time.Second})

			require.NoError(t, c.Submit(context.Background(), 1))

			assert.Zero(t, f.provider.calls)
			assert.Len(t, f.messages.blocked, 1)
			assert.Empty(t, f.messages.sent)
			assert.Empty(t, f.queue.calls)
			assert.Equal(t, models.CampaignSent, f.campaigns.finishedWith)
		})
	}
}

func TestSubmit_TransientErrorRetriesThenSucceeds(t *testing.T) {
	prov := &mockProvider{
		channel: models.ChannelSMS,
		sendFunc: func(attempt int, payload provider.Payload) (*provider.Result, error) {
			if attempt < 3 {
				return nil, apperrors.NewProviderTransientError("sms", context.DeadlineExceeded)
			}
			return &provider.Result{ExternalID: "ext-ok"}, nil
		},
	}
	f := newFixture(smsCampaign(), smsRecipients(1), prov)
	c := f.coordinator(Options{Concurrency: 1, MaxAttempts: 3, RetryBackoff: time.Millisecond, ProviderTimeout: time.Second})

	require.NoError(t, c.Submit(context.Background(), 1))

	assert.Equal(t, 3, prov.calls)
	assert.Len(t, f.messages.sent, 1)
	assert.Equal(t, "ext-ok", f.messages.sent[1])
	assert.Empty(t, f.messages.failed)
}

func TestSubmit_TransientErrorExhaustsRetries(t *testing.T) {
	prov := &mockProvider{
		channel: models.ChannelSMS,
		sendFunc: func(attempt int, payload provider.Payload) (*provider.Result, error) {
			return nil, apperrors.NewProviderTransientError("sms", context.DeadlineExceeded)
		},
	}
	f := newFixture(smsCampaign(), smsRecipients(1), prov)
	c := f.coordinator(Options{Concurrency: 1, MaxAttempts: 3, RetryBackoff: time.Millisecond, ProviderTimeout: time.Second})

	require.NoError(t, c.Submit(context.Background(), 1))

	assert.Equal(t, 3, prov.calls)
	assert.Len(t, f.messages.failed, 1)
	assert.Empty(t, f.messages.sent)
	assert.Empty(t, f.queue.calls)
	assert.Equal(t, models.CampaignSent, f.campaigns.finishedWith)
}

func TestSubmit_PermanentErrorFailsImmediately(t *testing.T) {
	prov := &mockProvider{
		channel: models.ChannelSMS,
		sendFunc: func(attempt int, payload provider.Payload) (*provider.Result, error) {
			return nil, apperrors.NewProviderPermanentError("sms", "bad destination")
		},
	}
	f := newFixture(smsCampaign(), smsRecipients(1), prov)
	c := f.coordinator(Options{Concurrency: 1, MaxAttempts: 3, RetryBackoff: time.Millisecond, ProviderTimeout: time.Second})

	require.NoError(t, c.Submit(context.Background(), 1))

	assert.Equal(t, 1, prov.calls)
	assert.Len(t, f.messages.failed, 1)
}

func TestSubmit_OneFailureDoesNotSinkTheCampaign(t *testing.T) {
	prov := &mockProvider{
		channel: models.ChannelSMS,
		sendFunc: func(attempt int, payload provider.Payload) (*provider.Result, error) {
			if payload.To == "badnumber" {
				return nil, apperrors.NewProviderPermanentError("sms", "bad destination")
			}
			return &provider.Result{ExternalID: "ext-1"}, nil
		},
	}
	recipients := smsRecipients(3)
	recipients[1].Contact.CellPhone = "badnumber"
	f := newFixture(smsCampaign(), recipients, prov)
	c := f.coordinator(Options{Concurrency: 1, MaxAttempts: 1, ProviderTimeout: time.Second})

	require.NoError(t, c.Submit(context.Background(), 1))

	assert.Len(t, f.messages.sent, 2)
	assert.Len(t, f.messages.failed, 1)
	assert.Equal(t, models.CampaignSent, f.campaigns.finishedWith)
}

// contextCheckingProvider fails any send whose context is already dead, the
// way a real SDK client does.
type contextCheckingProvider struct {
	mu      sync.Mutex
	channel models.Channel
	calls   int
}

func (p *contextCheckingProvider) Channel() models.Channel { return p.channel }

func (p *contextCheckingProvider) Send(ctx context.Context, payload provider.Payload) (*provider.Result, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &provider.Result{ExternalID: "ext-1"}, nil
}

func TestSubmit_CallerDisconnectDoesNotAbortDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(smsCampaign(), smsRecipients(3), okProvider(models.ChannelSMS))
	// Simulate the HTTP client going away the instant the campaign is
	// committed to sending.
	f.campaigns.onTransition = cancel

	prov := &contextCheckingProvider{channel: models.ChannelSMS}
	c := NewCoordinator(f.campaigns, f.messages, f.patients, f.resolver, f.queue,
		[]provider.ChannelProvider{prov},
		Options{Concurrency: 2, MaxAttempts: 3, ProviderTimeout: time.Second},
		logger.NewNoOpLogger())
	c.sleep = func(time.Duration) {}

	err := c.Submit(ctx, 1)

	require.NoError(t, err)
	assert.Equal(t, 3, prov.calls)
	assert.Len(t, f.messages.sent, 3)
	assert.Empty(t, f.messages.failed)
	assert.Equal(t, models.CampaignSent, f.campaigns.finishedWith)
}
