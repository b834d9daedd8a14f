package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/agendazap/backend/internal/billing/domain"
	"github.com/agendazap/backend/internal/billing/repository"
)

// --- Mocks ---

type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) Insert(ctx context.Context, q repository.Querier, sub *domain.Subscription) (*domain.Subscription, error) {
	args := m.Called(ctx, q, sub)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Subscription), args.Error(1)
}
func (m *MockSubscriptionRepository) GetByStripeID(ctx context.Context, q repository.Querier, stripeSubscriptionID string) (*domain.Subscription, error) {
	args := m.Called(ctx, q, stripeSubscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Subscription), args.Error(1)
}
func (m *MockSubscriptionRepository) GetActiveByTenant(ctx context.Context, q repository.Querier, tenantID uuid.UUID) (*domain.Subscription, error) {
	args := m.Called(ctx, q, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Subscription), args.Error(1)
}
func (m *MockSubscriptionRepository) UpsertByStripeID(ctx context.Context, q repository.Querier, sub *domain.Subscription) error {
	args := m.Called(ctx, q, sub)
	return args.Error(0)
}
func (m *MockSubscriptionRepository) MarkCanceled(ctx context.Context, q repository.Querier, stripeSubscriptionID string, canceledAt time.Time) error {
	args := m.Called(ctx, q, stripeSubscriptionID, canceledAt)
	return args.Error(0)
}

type MockTenantBillingRepository struct {
	mock.Mock
}

func (m *MockTenantBillingRepository) Get(ctx context.Context, q repository.Querier, tenantID uuid.UUID) (*domain.TenantBilling, error) {
	args := m.Called(ctx, q, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TenantBilling), args.Error(1)
}
func (m *MockTenantBillingRepository) SetCheckoutResult(ctx context.Context, q repository.Querier, tenantID uuid.UUID, customerID, subscriptionID, planID string, trialEndsAt time.Time) error {
	args := m.Called(ctx, q, tenantID, customerID, subscriptionID, planID, trialEndsAt)
	return args.Error(0)
}
func (m *MockTenantBillingRepository) SetCustomerID(ctx context.Context, q repository.Querier, tenantID uuid.UUID, customerID string) error {
	args := m.Called(ctx, q, tenantID, customerID)
	return args.Error(0)
}
func (m *MockTenantBillingRepository) SetSubscriptionStatus(ctx context.Context, q repository.Querier, tenantID uuid.UUID, status domain.SubscriptionStatus) error {
	args := m.Called(ctx, q, tenantID, status)
	return args.Error(0)
}
func (m *MockTenantBillingRepository) SetSubscriptionStatusByStripeSubscription(ctx context.Context, q repository.Querier, stripeSubscriptionID string, status domain.SubscriptionStatus) error {
	args := m.Called(ctx, q, stripeSubscriptionID, status)
	return args.Error(0)
}
func (m *MockTenantBillingRepository) SetPlan(ctx context.Context, q repository.Querier, tenantID uuid.UUID, planID string) error {
	args := m.Called(ctx, q, tenantID, planID)
	return args.Error(0)
}

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Insert(ctx context.Context, q repository.Querier, record *domain.PaymentRecord) (*domain.PaymentRecord, error) {
	args := m.Called(ctx, q, record)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentRecord), args.Error(1)
}
func (m *MockPaymentRepository) ListBySubscription(ctx context.Context, q repository.Querier, stripeSubscriptionID string, limit, offset int) ([]domain.PaymentRecord, error) {
	args := m.Called(ctx, q, stripeSubscriptionID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PaymentRecord), args.Error(1)
}

type MockWebhookEventRepository struct {
	mock.Mock
}

func (m *MockWebhookEventRepository) InsertIfAbsent(ctx context.Context, q repository.Querier, event *domain.WebhookEvent) (bool, error) {
	args := m.Called(ctx, q, event)
	return args.Bool(0), args.Error(1)
}

type MockPaymentProcessor struct {
	mock.Mock
}

func (m *MockPaymentProcessor) CreateCustomer(ctx context.Context, tenantID uuid.UUID, email string) (string, error) {
	args := m.Called(ctx, tenantID, email)
	return args.String(0), args.Error(1)
}
func (m *MockPaymentProcessor) CreateCheckoutSession(ctx context.Context, params domain.CheckoutSessionParams) (string, error) {
	args := m.Called(ctx, params)
	return args.String(0), args.Error(1)
}
func (m *MockPaymentProcessor) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	args := m.Called(ctx, customerID, returnURL)
	return args.String(0), args.Error(1)
}
func (m *MockPaymentProcessor) GetSubscription(ctx context.Context, subscriptionID string) (*domain.ProcessorSubscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ProcessorSubscription), args.Error(1)
}
func (m *MockPaymentProcessor) UpdateSubscriptionItemPrice(ctx context.Context, subscriptionID, itemID, planID string) error {
	args := m.Called(ctx, subscriptionID, itemID, planID)
	return args.Error(0)
}
func (m *MockPaymentProcessor) CancelSubscriptionAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	args := m.Called(ctx, subscriptionID)
	return args.Error(0)
}
func (m *MockPaymentProcessor) CancelSubscriptionNow(ctx context.Context, subscriptionID string) error {
	args := m.Called(ctx, subscriptionID)
	return args.Error(0)
}
func (m *MockPaymentProcessor) ConstructWebhookEvent(payload []byte, signature string) (*domain.Event, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Event), args.Error(1)
}
func (m *MockPaymentProcessor) ParseCheckoutSession(data json.RawMessage) (*domain.ProcessorCheckoutSession, error) {
	args := m.Called(data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ProcessorCheckoutSession), args.Error(1)
}
func (m *MockPaymentProcessor) ParseSubscription(data json.RawMessage) (*domain.ProcessorSubscription, error) {
	args := m.Called(data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ProcessorSubscription), args.Error(1)
}
func (m *MockPaymentProcessor) ParseInvoice(data json.RawMessage) (*domain.ProcessorInvoice, error) {
	args := m.Called(data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ProcessorInvoice), args.Error(1)
}

// --- Test setup ---

type billingTestComponents struct {
	service       *Service
	mockSubs      *MockSubscriptionRepository
	mockTenants   *MockTenantBillingRepository
	mockPayments  *MockPaymentRepository
	mockEvents    *MockWebhookEventRepository
	mockProcessor *MockPaymentProcessor
}

func setupBillingTest(t *testing.T) billingTestComponents {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockSubs := new(MockSubscriptionRepository)
	mockTenants := new(MockTenantBillingRepository)
	mockPayments := new(MockPaymentRepository)
	mockEvents := new(MockWebhookEventRepository)
	mockProcessor := new(MockPaymentProcessor)

	service := NewService(mockSubs, mockTenants, mockPayments, mockEvents, nil, mockProcessor,
		URLs{
			CheckoutSuccess: "https://app.example.com/billing/success",
			CheckoutCancel:  "https://app.example.com/billing/cancel",
			PortalReturn:    "https://app.example.com/settings/billing",
		}, logger)

	return billingTestComponents{
		service: service, mockSubs: mockSubs, mockTenants: mockTenants,
		mockPayments: mockPayments, mockEvents: mockEvents, mockProcessor: mockProcessor,
	}
}

// --- Checkout and portal ---

func TestCreateCheckoutSession_CreatesCustomerOnFirstUse(t *testing.T) {
	comps := setupBillingTest(t)
	tenantID := uuid.New()

	comps.mockTenants.On("Get", mock.Anything, mock.Anything, tenantID).
		Return(&domain.TenantBilling{TenantID: tenantID}, nil).Once()
	comps.mockProcessor.On("CreateCustomer", mock.Anything, tenantID, "owner@salon.example").
		Return("cus_123", nil).Once()
	comps.mockTenants.On("SetCustomerID", mock.Anything, mock.Anything, tenantID, "cus_123").
		Return(nil).Once()
	comps.mockProcessor.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(p domain.CheckoutSessionParams) bool {
		return p.CustomerID == "cus_123" && p.PlanID == "professional" && p.TrialDays == 7
	})).Return("https://checkout.stripe.com/session/abc", nil).Once()

	url, err := comps.service.CreateCheckoutSession(context.Background(), tenantID, "owner@salon.example", "professional")

	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/session/abc", url)
	comps.mockProcessor.AssertExpectations(t)
	comps.mockTenants.AssertExpectations(t)
}

func TestCreateCheckoutSession_ReusesExistingCustomer(t *testing.T) {
	comps := setupBillingTest(t)
	tenantID := uuid.New()
	customerID := "cus_existing"

	comps.mockTenants.On("Get", mock.Anything, mock.Anything, tenantID).
		Return(&domain.TenantBilling{TenantID: tenantID, StripeCustomerID: &customerID}, nil).Once()
	comps.mockProcessor.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(p domain.CheckoutSessionParams) bool {
		return p.CustomerID == customerID
	})).Return("https://checkout.stripe.com/session/def", nil).Once()

	_, err := comps.service.CreateCheckoutSession(context.Background(), tenantID, "owner@salon.example", "basic")

	require.NoError(t, err)
	comps.mockProcessor.AssertNotCalled(t, "CreateCustomer", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateCheckoutSession_UnknownPlan(t *testing.T) {
	comps := setupBillingTest(t)

	_, err := comps.service.CreateCheckoutSession(context.Background(), uuid.New(), "owner@salon.example", "platinum")

	assert.ErrorIs(t, err, domain.ErrUnknownPlan)
	comps.mockTenants.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateBillingPortalSession_NoCustomer(t *testing.T) {
	comps := setupBillingTest(t)
	tenantID := uuid.New()

	comps.mockTenants.On("Get", mock.Anything, mock.Anything, tenantID).
		Return(&domain.TenantBilling{TenantID: tenantID}, nil).Once()

	_, err := comps.service.CreateBillingPortalSession(context.Background(), tenantID)

	assert.ErrorIs(t, err, domain.ErrNoSubscription)
	comps.mockProcessor.AssertNotCalled(t, "CreateBillingPortalSession", mock.Anything, mock.Anything, mock.Anything)
}

// --- Cancellation and plan changes ---

func TestCancelSubscription_SetsCancelFlag(t *testing.T) {
	comps := setupBillingTest(t)
	tenantID := uuid.New()
	sub := &domain.Subscription{
		TenantID:             tenantID,
		StripeSubscriptionID: "sub_123",
		Status:               domain.StatusActive,
	}

	comps.mockSubs.On("GetActiveByTenant", mock.Anything, mock.Anything, tenantID).Return(sub, nil).Once()
	comps.mockProcessor.On("CancelSubscriptionAtPeriodEnd", mock.Anything, "sub_123").Return(nil).Once()
	comps.mockSubs.On("UpsertByStripeID", mock.Anything, mock.Anything, mock.MatchedBy(func(s *domain.Subscription) bool {
		return s.StripeSubscriptionID == "sub_123" && s.CancelAtPeriodEnd
	})).Return(nil).Once()

	updated, err := comps.service.CancelSubscription(context.Background(), tenantID)

	require.NoError(t, err)
	assert.True(t, updated.CancelAtPeriodEnd)
	assert.Equal(t, domain.StatusActive, updated.Status)
	comps.mockSubs.AssertExpectations(t)
}

func TestCancelSubscriptionImmediately_MarksCanceled(t *testing.T) {
	comps := setupBillingTest(t)
	tenantID := uuid.New()
	sub := &domain.Subscription{TenantID: tenantID, StripeSubscriptionID: "sub_456", Status: domain.StatusActive}

	comps.mockSubs.On("GetActiveByTenant", mock.Anything, mock.Anything, tenantID).Return(sub, nil).Once()
	comps.mockProcessor.On("CancelSubscriptionNow", mock.Anything, "sub_456").Return(nil).Once()
	comps.mockSubs.On("MarkCanceled", mock.Anything, mock.Anything, "sub_456", mock.AnythingOfType("time.Time")).Return(nil).Once()
	comps.mockTenants.On("SetSubscriptionStatus", mock.Anything, mock.Anything, tenantID, domain.StatusCanceled).Return(nil).Once()

	err := comps.service.CancelSubscriptionImmediately(context.Background(), tenantID)

	require.NoError(t, err)
	comps.mockSubs.AssertExpectations(t)
	comps.mockTenants.AssertExpectations(t)
}

func TestCancelSubscription_NoActiveSubscription(t *testing.T) {
	comps := setupBillingTest(t)
	tenantID := uuid.New()

	comps.mockSubs.On("GetActiveByTenant", mock.Anything, mock.Anything, tenantID).
		Return(nil, domain.ErrNoSubscription).Once()

	_, err := comps.service.CancelSubscription(context.Background(), tenantID)

	assert.ErrorIs(t, err, domain.ErrNoSubscription)
	comps.mockProcessor.AssertNotCalled(t, "CancelSubscriptionAtPeriodEnd", mock.Anything, mock.Anything)
}

func TestChangeSubscriptionPlan_SwapsSingleItem(t *testing.T) {
	comps := setupBillingTest(t)
	tenantID := uuid.New()
	sub := &domain.Subscription{TenantID: tenantID, StripeSubscriptionID: "sub_789", PlanID: "basic", Status: domain.StatusActive}

	comps.mockSubs.On("GetActiveByTenant", mock.Anything, mock.Anything, tenantID).Return(sub, nil).Once()
	comps.mockProcessor.On("GetSubscription", mock.Anything, "sub_789").Return(&domain.ProcessorSubscription{
		ID:     "sub_789",
		Status: domain.StatusActive,
		Items:  []domain.ProcessorSubscriptionItem{{ID: "si_1", PriceID: "price_basic", PlanID: "basic"}},
	}, nil).Once()
	comps.mockProcessor.On("UpdateSubscriptionItemPrice", mock.Anything, "sub_789", "si_1", "professional").Return(nil).Once()
	comps.mockSubs.On("UpsertByStripeID", mock.Anything, mock.Anything, mock.MatchedBy(func(s *domain.Subscription) bool {
		return s.PlanID == "professional"
	})).Return(nil).Once()
	comps.mockTenants.On("SetPlan", mock.Anything, mock.Anything, tenantID, "professional").Return(nil).Once()

	updated, err := comps.service.ChangeSubscriptionPlan(context.Background(), tenantID, "professional")

	require.NoError(t, err)
	assert.Equal(t, "professional", updated.PlanID)
	comps.mockProcessor.AssertExpectations(t)
}

func TestChangeSubscriptionPlan_NoBillableItem(t *testing.T) {
	comps := setupBillingTest(t)
	tenantID := uuid.New()
	sub := &domain.Subscription{TenantID: tenantID, StripeSubscriptionID: "sub_empty", PlanID: "basic"}

	comps.mockSubs.On("GetActiveByTenant", mock.Anything, mock.Anything, tenantID).Return(sub, nil).Once()
	comps.mockProcessor.On("GetSubscription", mock.Anything, "sub_empty").Return(&domain.ProcessorSubscription{
		ID: "sub_empty", Status: domain.StatusActive,
	}, nil).Once()

	_, err := comps.service.ChangeSubscriptionPlan(context.Background(), tenantID, "professional")

	assert.ErrorIs(t, err, domain.ErrNoBillableItem)
	comps.mockProcessor.AssertNotCalled(t, "UpdateSubscriptionItemPrice", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestChangeSubscriptionPlan_SamePlanIsNoOp(t *testing.T) {
	comps := setupBillingTest(t)
	tenantID := uuid.New()
	sub := &domain.Subscription{TenantID: tenantID, StripeSubscriptionID: "sub_same", PlanID: "basic"}

	comps.mockSubs.On("GetActiveByTenant", mock.Anything, mock.Anything, tenantID).Return(sub, nil).Once()

	updated, err := comps.service.ChangeSubscriptionPlan(context.Background(), tenantID, "basic")

	require.NoError(t, err)
	assert.Equal(t, "basic", updated.PlanID)
	comps.mockProcessor.AssertNotCalled(t, "GetSubscription", mock.Anything, mock.Anything)
}

// --- Webhooks ---

func TestHandleWebhook_InvalidSignature_MutatesNothing(t *testing.T) {
	comps := setupBillingTest(t)
	payload := []byte(`{"id":"evt_1"}`)

	comps.mockProcessor.On("ConstructWebhookEvent", payload, "bad-sig").
		Return(nil, domain.ErrInvalidSignature).Once()

	err := comps.service.HandleWebhook(context.Background(), payload, "bad-sig")

	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	comps.mockEvents.AssertNotCalled(t, "InsertIfAbsent", mock.Anything, mock.Anything, mock.Anything)
	comps.mockSubs.AssertNotCalled(t, "UpsertByStripeID", mock.Anything, mock.Anything, mock.Anything)
	comps.mockPayments.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleWebhook_RedeliveredEvent_SkippedIdempotently(t *testing.T) {
	comps := setupBillingTest(t)
	payload := []byte(`{"id":"evt_replay"}`)
	event := &domain.Event{
		ID:   "evt_replay",
		Type: "customer.subscription.deleted",
		Kind: domain.EventSubscriptionDeleted,
		Data: json.RawMessage(`{}`),
	}

	comps.mockProcessor.On("ConstructWebhookEvent", payload, "sig").Return(event, nil).Once()
	comps.mockEvents.On("InsertIfAbsent", mock.Anything, mock.Anything, mock.MatchedBy(func(e *domain.WebhookEvent) bool {
		return e.EventID == "evt_replay"
	})).Return(true, nil).Once()

	err := comps.service.HandleWebhook(context.Background(), payload, "sig")

	require.NoError(t, err)
	comps.mockProcessor.AssertNotCalled(t, "ParseSubscription", mock.Anything)
	comps.mockSubs.AssertNotCalled(t, "MarkCanceled", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleWebhook_UnknownEventType_IsNoOp(t *testing.T) {
	comps := setupBillingTest(t)
	payload := []byte(`{"id":"evt_odd"}`)
	event := &domain.Event{ID: "evt_odd", Type: "customer.tax_id.created", Kind: domain.EventUnknown}

	comps.mockProcessor.On("ConstructWebhookEvent", payload, "sig").Return(event, nil).Once()
	comps.mockEvents.On("InsertIfAbsent", mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Once()

	err := comps.service.HandleWebhook(context.Background(), payload, "sig")

	require.NoError(t, err)
	comps.mockSubs.AssertNotCalled(t, "UpsertByStripeID", mock.Anything, mock.Anything, mock.Anything)
	comps.mockPayments.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleWebhook_CheckoutWithoutMetadata_DroppedSilently(t *testing.T) {
	comps := setupBillingTest(t)
	payload := []byte(`{"id":"evt_checkout"}`)
	event := &domain.Event{
		ID:   "evt_checkout",
		Type: "checkout.session.completed",
		Kind: domain.EventCheckoutCompleted,
		Data: json.RawMessage(`{"id":"cs_1"}`),
	}

	comps.mockProcessor.On("ConstructWebhookEvent", payload, "sig").Return(event, nil).Once()
	comps.mockEvents.On("InsertIfAbsent", mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Once()
	comps.mockProcessor.On("ParseCheckoutSession", event.Data).
		Return(&domain.ProcessorCheckoutSession{ID: "cs_1"}, nil).Once()

	err := comps.service.HandleWebhook(context.Background(), payload, "sig")

	require.NoError(t, err)
	comps.mockTenants.AssertNotCalled(t, "SetCheckoutResult",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleWebhook_CheckoutCompleted_RecordsResult(t *testing.T) {
	comps := setupBillingTest(t)
	tenantID := uuid.New()
	trialEnd := time.Now().UTC().Add(7 * 24 * time.Hour).Truncate(time.Second)
	payload := []byte(`{"id":"evt_checkout_ok"}`)
	event := &domain.Event{
		ID:   "evt_checkout_ok",
		Type: "checkout.session.completed",
		Kind: domain.EventCheckoutCompleted,
		Data: json.RawMessage(`{"id":"cs_2"}`),
	}

	comps.mockProcessor.On("ConstructWebhookEvent", payload, "sig").Return(event, nil).Once()
	comps.mockEvents.On("InsertIfAbsent", mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Once()
	comps.mockProcessor.On("ParseCheckoutSession", event.Data).Return(&domain.ProcessorCheckoutSession{
		ID:             "cs_2",
		CustomerID:     "cus_9",
		SubscriptionID: "sub_9",
		TenantID:       tenantID.String(),
		PlanID:         "professional",
	}, nil).Once()
	comps.mockProcessor.On("GetSubscription", mock.Anything, "sub_9").Return(&domain.ProcessorSubscription{
		ID:         "sub_9",
		CustomerID: "cus_9",
		Status:     domain.StatusTrialing,
		TrialEnd:   &trialEnd,
		Items:      []domain.ProcessorSubscriptionItem{{ID: "si_9", PriceID: "price_pro", PlanID: "professional"}},
	}, nil).Once()
	comps.mockSubs.On("UpsertByStripeID", mock.Anything, mock.Anything, mock.MatchedBy(func(s *domain.Subscription) bool {
		return s.TenantID == tenantID && s.StripeSubscriptionID == "sub_9" && s.PlanID == "professional" &&
			s.Status == domain.StatusTrialing
	})).Return(nil).Once()
	comps.mockTenants.On("SetCheckoutResult", mock.Anything, mock.Anything,
		tenantID, "cus_9", "sub_9", "professional", trialEnd).Return(nil).Once()

	err := comps.service.HandleWebhook(context.Background(), payload, "sig")

	require.NoError(t, err)
	comps.mockSubs.AssertExpectations(t)
	comps.mockTenants.AssertExpectations(t)
}

func TestHandleWebhook_CheckoutWithoutSubscriptionID_InsertsTrialingMirror(t *testing.T) {
	comps := setupBillingTest(t)
	tenantID := uuid.New()
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	comps.service.now = func() time.Time { return fixed }
	payload := []byte(`{"id":"evt_checkout_nosub"}`)
	event := &domain.Event{
		ID:   "evt_checkout_nosub",
		Type: "checkout.session.completed",
		Kind: domain.EventCheckoutCompleted,
		Data: json.RawMessage(`{"id":"cs_3"}`),
	}

	comps.mockProcessor.On("ConstructWebhookEvent", payload, "sig").Return(event, nil).Once()
	comps.mockEvents.On("InsertIfAbsent", mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Once()
	comps.mockProcessor.On("ParseCheckoutSession", event.Data).Return(&domain.ProcessorCheckoutSession{
		ID:         "cs_3",
		CustomerID: "cus_11",
		TenantID:   tenantID.String(),
		PlanID:     "professional",
	}, nil).Once()
	comps.mockSubs.On("Insert", mock.Anything, mock.Anything, mock.MatchedBy(func(s *domain.Subscription) bool {
		return s.TenantID == tenantID && s.Status == domain.StatusTrialing &&
			s.PlanID == "professional" && s.StripeCustomerID == "cus_11" &&
			s.TrialEnd != nil && s.TrialEnd.Equal(fixed.AddDate(0, 0, 7))
	})).Return(&domain.Subscription{}, nil).Once()
	comps.mockTenants.On("SetCheckoutResult", mock.Anything, mock.Anything,
		tenantID, "cus_11", "", "professional", fixed.AddDate(0, 0, 7)).Return(nil).Once()

	err := comps.service.HandleWebhook(context.Background(), payload, "sig")

	require.NoError(t, err)
	comps.mockSubs.AssertExpectations(t)
	comps.mockTenants.AssertExpectations(t)
	comps.mockProcessor.AssertNotCalled(t, "GetSubscription", mock.Anything, mock.Anything)
}

func TestHandleWebhook_SubscriptionUpdated_UnmappedPriceKeepsKnownPlan(t *testing.T) {
	comps := setupBillingTest(t)
	tenantID := uuid.New()
	payload := []byte(`{"id":"evt_upd"}`)
	event := &domain.Event{
		ID:   "evt_upd",
		Type: "customer.subscription.updated",
		Kind: domain.EventSubscriptionUpdated,
		Data: json.RawMessage(`{"id":"sub_known"}`),
	}

	comps.mockProcessor.On("ConstructWebhookEvent", payload, "sig").Return(event, nil).Once()
	comps.mockEvents.On("InsertIfAbsent", mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Once()
	// The event's price is missing from the catalog map, so the item carries
	// no plan; the mirror's previously resolved plan must survive the upsert.
	comps.mockProcessor.On("ParseSubscription", event.Data).Return(&domain.ProcessorSubscription{
		ID:         "sub_known",
		CustomerID: "cus_known",
		Status:     domain.StatusActive,
		Items:      []domain.ProcessorSubscriptionItem{{ID: "si_k", PriceID: "price_legacy"}},
	}, nil).Once()
	comps.mockSubs.On("GetByStripeID", mock.Anything, mock.Anything, "sub_known").Return(&domain.Subscription{
		TenantID:             tenantID,
		StripeSubscriptionID: "sub_known",
		PlanID:               "professional",
		Status:               domain.StatusActive,
	}, nil).Once()
	comps.mockSubs.On("UpsertByStripeID", mock.Anything, mock.Anything, mock.MatchedBy(func(s *domain.Subscription) bool {
		return s.StripeSubscriptionID == "sub_known" && s.PlanID == "professional" && s.TenantID == tenantID
	})).Return(nil).Once()
	comps.mockTenants.On("SetSubscriptionStatusByStripeSubscription", mock.Anything, mock.Anything, "sub_known", domain.StatusActive).Return(nil).Once()

	err := comps.service.HandleWebhook(context.Background(), payload, "sig")

	require.NoError(t, err)
	comps.mockSubs.AssertExpectations(t)
}

func TestHandleWebhook_SubscriptionDeleted_MarksCanceled(t *testing.T) {
	comps := setupBillingTest(t)
	canceledAt := time.Now().UTC().Truncate(time.Second)
	payload := []byte(`{"id":"evt_del"}`)
	event := &domain.Event{
		ID:   "evt_del",
		Type: "customer.subscription.deleted",
		Kind: domain.EventSubscriptionDeleted,
		Data: json.RawMessage(`{"id":"sub_dead"}`),
	}

	comps.mockProcessor.On("ConstructWebhookEvent", payload, "sig").Return(event, nil).Once()
	comps.mockEvents.On("InsertIfAbsent", mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Once()
	comps.mockProcessor.On("ParseSubscription", event.Data).Return(&domain.ProcessorSubscription{
		ID:         "sub_dead",
		Status:     domain.StatusCanceled,
		CanceledAt: &canceledAt,
	}, nil).Once()
	comps.mockSubs.On("MarkCanceled", mock.Anything, mock.Anything, "sub_dead", canceledAt).Return(nil).Once()
	comps.mockTenants.On("SetSubscriptionStatusByStripeSubscription", mock.Anything, mock.Anything, "sub_dead", domain.StatusCanceled).Return(nil).Once()

	err := comps.service.HandleWebhook(context.Background(), payload, "sig")

	require.NoError(t, err)
	comps.mockSubs.AssertExpectations(t)
	comps.mockTenants.AssertExpectations(t)
}

func TestHandleWebhook_PaymentSucceeded_RecordsAuditOnly(t *testing.T) {
	comps := setupBillingTest(t)
	payload := []byte(`{"id":"evt_pay"}`)
	event := &domain.Event{
		ID:   "evt_pay",
		Type: "invoice.payment_succeeded",
		Kind: domain.EventPaymentSucceeded,
		Data: json.RawMessage(`{"id":"in_1"}`),
	}

	comps.mockProcessor.On("ConstructWebhookEvent", payload, "sig").Return(event, nil).Once()
	comps.mockEvents.On("InsertIfAbsent", mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Once()
	comps.mockProcessor.On("ParseInvoice", event.Data).Return(&domain.ProcessorInvoice{
		ID:             "in_1",
		SubscriptionID: "sub_pay",
		AmountCents:    19700,
		Currency:       "brl",
	}, nil).Once()
	comps.mockPayments.On("Insert", mock.Anything, mock.Anything, mock.MatchedBy(func(r *domain.PaymentRecord) bool {
		return r.InvoiceID == "in_1" && r.SubscriptionID == "sub_pay" &&
			r.AmountCents == 19700 && r.Status == domain.PaymentSucceeded
	})).Return(&domain.PaymentRecord{}, nil).Once()

	err := comps.service.HandleWebhook(context.Background(), payload, "sig")

	require.NoError(t, err)
	comps.mockPayments.AssertExpectations(t)
	// A $0 trial-start invoice must not clobber the trialing status the
	// checkout handler just wrote.
	comps.mockTenants.AssertNotCalled(t, "SetSubscriptionStatusByStripeSubscription",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleWebhook_PaymentFailed_MovesToPastDue(t *testing.T) {
	comps := setupBillingTest(t)
	payload := []byte(`{"id":"evt_fail"}`)
	event := &domain.Event{
		ID:   "evt_fail",
		Type: "invoice.payment_failed",
		Kind: domain.EventPaymentFailed,
		Data: json.RawMessage(`{"id":"in_2"}`),
	}

	comps.mockProcessor.On("ConstructWebhookEvent", payload, "sig").Return(event, nil).Once()
	comps.mockEvents.On("InsertIfAbsent", mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Once()
	comps.mockProcessor.On("ParseInvoice", event.Data).Return(&domain.ProcessorInvoice{
		ID:             "in_2",
		SubscriptionID: "sub_pay",
		AmountCents:    19700,
		Currency:       "brl",
	}, nil).Once()
	comps.mockPayments.On("Insert", mock.Anything, mock.Anything, mock.MatchedBy(func(r *domain.PaymentRecord) bool {
		return r.Status == domain.PaymentFailed
	})).Return(&domain.PaymentRecord{}, nil).Once()
	comps.mockProcessor.On("GetSubscription", mock.Anything, "sub_pay").Return(&domain.ProcessorSubscription{
		ID:     "sub_pay",
		Status: domain.StatusPastDue,
	}, nil).Once()
	comps.mockTenants.On("SetSubscriptionStatusByStripeSubscription", mock.Anything, mock.Anything, "sub_pay", domain.StatusPastDue).Return(nil).Once()

	err := comps.service.HandleWebhook(context.Background(), payload, "sig")

	require.NoError(t, err)
	comps.mockTenants.AssertExpectations(t)
}

func TestHandleWebhook_PaymentFailed_SubscriptionStillActive_NoDemotion(t *testing.T) {
	comps := setupBillingTest(t)
	payload := []byte(`{"id":"evt_retry"}`)
	event := &domain.Event{
		ID:   "evt_retry",
		Type: "invoice.payment_failed",
		Kind: domain.EventPaymentFailed,
		Data: json.RawMessage(`{"id":"in_3"}`),
	}

	comps.mockProcessor.On("ConstructWebhookEvent", payload, "sig").Return(event, nil).Once()
	comps.mockEvents.On("InsertIfAbsent", mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Once()
	comps.mockProcessor.On("ParseInvoice", event.Data).Return(&domain.ProcessorInvoice{
		ID:             "in_3",
		SubscriptionID: "sub_pay",
		AmountCents:    19700,
		Currency:       "brl",
	}, nil).Once()
	comps.mockPayments.On("Insert", mock.Anything, mock.Anything, mock.MatchedBy(func(r *domain.PaymentRecord) bool {
		return r.InvoiceID == "in_3" && r.Status == domain.PaymentFailed
	})).Return(&domain.PaymentRecord{}, nil).Once()
	// Stripe keeps the subscription active during the first retry window;
	// the tenant must not be demoted until it actually reports past_due.
	comps.mockProcessor.On("GetSubscription", mock.Anything, "sub_pay").Return(&domain.ProcessorSubscription{
		ID:     "sub_pay",
		Status: domain.StatusActive,
	}, nil).Once()

	err := comps.service.HandleWebhook(context.Background(), payload, "sig")

	require.NoError(t, err)
	comps.mockPayments.AssertExpectations(t)
	comps.mockProcessor.AssertExpectations(t)
	comps.mockTenants.AssertNotCalled(t, "SetSubscriptionStatusByStripeSubscription",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleWebhook_HandlerFailure_StillReturnsNil(t *testing.T) {
	comps := setupBillingTest(t)
	payload := []byte(`{"id":"evt_hfail"}`)
	event := &domain.Event{
		ID:   "evt_hfail",
		Type: "customer.subscription.deleted",
		Kind: domain.EventSubscriptionDeleted,
		Data: json.RawMessage(`{"id":"sub_x"}`),
	}

	comps.mockProcessor.On("ConstructWebhookEvent", payload, "sig").Return(event, nil).Once()
	comps.mockEvents.On("InsertIfAbsent", mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Once()
	comps.mockProcessor.On("ParseSubscription", event.Data).Return(nil, errors.New("malformed payload")).Once()

	err := comps.service.HandleWebhook(context.Background(), payload, "sig")

	assert.NoError(t, err)
}
