package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustgate/internal/audit"
	"trustgate/internal/escalation/models"
	escstore "trustgate/internal/escalation/store"
	verifierpkg "trustgate/internal/otc/verifier"
	"trustgate/pkg/domain"
	dErrors "trustgate/pkg/domain-errors"
	"trustgate/pkg/requestcontext"
	"trustgate/pkg/sentinel"
)

// fakeVerifier accepts a single code per subject and reports the configured
// role, standing in for the full OTC flow.
type fakeVerifier struct {
	codes map[string]string
	roles map[string]domain.Role
}

func (v *fakeVerifier) Verify(_ context.Context, subjectID, submittedCode string) (*verifierpkg.Result, error) {
	if v.codes[subjectID] != submittedCode {
		return nil, dErrors.New(dErrors.CodeInvalidCode, "invalid or expired code")
	}
	return &verifierpkg.Result{SubjectID: subjectID, Role: v.roles[subjectID]}, nil
}

type engineFixture struct {
	svc      *Service
	store    *escstore.InMemoryStore
	audit    *audit.InMemoryStore
	verifier *fakeVerifier
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	store := escstore.NewInMemoryStore()
	auditStore := audit.NewInMemoryStore()
	verifier := &fakeVerifier{
		codes: map[string]string{"ceoA": "123!@#", "vendor1": "abcd1234"},
		roles: map[string]domain.Role{"ceoA": domain.RoleCEO, "vendor1": domain.RoleVendor},
	}

	svc, err := New(store, verifier, audit.NewLedger(auditStore))
	require.NoError(t, err)
	return &engineFixture{svc: svc, store: store, audit: auditStore, verifier: verifier}
}

func (f *engineFixture) create(t *testing.T, ctx context.Context) string {
	t.Helper()
	id, err := f.svc.Create(ctx, CreateRequest{
		TransactionRef: "txn-42",
		TenantID:       "ceoA",
		VendorID:       "vendor1",
		BuyerID:        "buyer1",
		AmountMinor:    250_000_00,
		Reason:         models.ReasonHighValue,
		FlaggedBy:      "risk-engine",
	})
	require.NoError(t, err)
	return id
}

func TestCreate_StartsPending(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	id := f.create(t, ctx)

	esc, err := f.store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, esc.Status)
	assert.Equal(t, "ceoA", esc.TenantID)
	assert.False(t, esc.ExpiresAt.IsZero())

	events, err := f.audit.Query(ctx, audit.Filter{Action: audit.ActionEscalationCreated}, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ResourceID)
}

func TestCreate_Validation(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.svc.Create(context.Background(), CreateRequest{TenantID: "ceoA", Reason: models.ReasonHighValue})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = f.svc.Create(context.Background(), CreateRequest{
		TransactionRef: "txn-1", TenantID: "ceoA", Reason: models.Reason("BECAUSE"),
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = f.svc.Create(context.Background(), CreateRequest{
		TransactionRef: "txn-1", TenantID: "ceoA", Reason: models.ReasonHighValue, AmountMinor: -1,
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func TestDecide_ApproveThenTerminal(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	id := f.create(t, ctx)

	updated, err := f.svc.Decide(ctx, DecideRequest{
		EscalationID:  id,
		NewStatus:     models.StatusApproved,
		DecidedBy:     "ceoA",
		DecisionNotes: "verified shipment",
		OTCCode:       "123!@#",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, updated.Status)
	assert.Equal(t, "ceoA", updated.DecidedBy)

	// A second decision finds the record terminal.
	_, err = f.svc.Decide(ctx, DecideRequest{
		EscalationID: id,
		NewStatus:    models.StatusRejected,
		DecidedBy:    "ceoA",
		OTCCode:      "123!@#",
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func TestDecide_ReauthenticationGate(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	id := f.create(t, ctx)

	_, err := f.svc.Decide(ctx, DecideRequest{
		EscalationID: id,
		NewStatus:    models.StatusApproved,
		DecidedBy:    "ceoA",
		OTCCode:      "wrong",
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	// The failed decision must not have touched the record.
	esc, err := f.store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, esc.Status)
}

func TestDecide_RequiresCEORole(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	id := f.create(t, ctx)

	_, err := f.svc.Decide(ctx, DecideRequest{
		EscalationID: id,
		NewStatus:    models.StatusApproved,
		DecidedBy:    "vendor1",
		OTCCode:      "abcd1234",
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	esc, err := f.store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, esc.Status)
}

func TestDecide_WrongTenant(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	id := f.create(t, ctx)

	f.verifier.codes["ceoB"] = "999!@#"
	f.verifier.roles["ceoB"] = domain.RoleCEO

	_, err := f.svc.Decide(ctx, DecideRequest{
		EscalationID: id,
		NewStatus:    models.StatusApproved,
		DecidedBy:    "ceoB",
		OTCCode:      "999!@#",
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestDecide_RejectsInvalidDecision(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.svc.Decide(context.Background(), DecideRequest{
		EscalationID: "whatever",
		NewStatus:    models.StatusExpired,
		DecidedBy:    "ceoA",
		OTCCode:      "123!@#",
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
}

// conflictStore simulates losing the conditional write to a concurrent
// decision between the read and the transition.
type conflictStore struct {
	escstore.Store
}

func (s *conflictStore) TransitionIfPending(context.Context, string, escstore.Transition) (*models.Escalation, error) {
	return nil, sentinel.ErrConflict
}

func TestDecide_LostRaceSurfacesConflict(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	id := f.create(t, ctx)

	svc, err := New(&conflictStore{Store: f.store}, f.verifier, audit.NewLedger(audit.NewInMemoryStore()))
	require.NoError(t, err)

	_, err = svc.Decide(ctx, DecideRequest{
		EscalationID: id,
		NewStatus:    models.StatusApproved,
		DecidedBy:    "ceoA",
		OTCCode:      "123!@#",
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestExpireStale(t *testing.T) {
	f := newEngineFixture(t)
	now := time.Now()
	ctx := requestcontext.WithTime(context.Background(), now)

	staleID := f.create(t, requestcontext.WithTime(context.Background(), now.Add(-48*time.Hour)))
	freshID := f.create(t, ctx)

	expired, err := f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	stale, err := f.store.FindByID(ctx, staleID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, stale.Status)

	fresh, err := f.store.FindByID(ctx, freshID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, fresh.Status)

	// A second sweep is a no-op.
	expired, err = f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, expired)
}

func TestSummary(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	first := f.create(t, ctx)
	f.create(t, ctx)

	_, err := f.svc.Decide(ctx, DecideRequest{
		EscalationID: first,
		NewStatus:    models.StatusRejected,
		DecidedBy:    "ceoA",
		OTCCode:      "123!@#",
	})
	require.NoError(t, err)

	summary, err := f.svc.Summary(ctx, "ceoA")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts[models.StatusPending])
	assert.Equal(t, 1, summary.Counts[models.StatusRejected])
	assert.Equal(t, 1, summary.PendingCount)
	assert.Equal(t, int64(250_000_00), summary.PendingTotalMinor)
	assert.Equal(t, int64(250_000_00), summary.PendingAvgMinor)
}

func TestSummary_EmptyTenantYieldsZeroes(t *testing.T) {
	f := newEngineFixture(t)

	summary, err := f.svc.Summary(context.Background(), "ceoZ")
	require.NoError(t, err)
	assert.Zero(t, summary.PendingCount)
	assert.Zero(t, summary.PendingTotalMinor)
	assert.Zero(t, summary.PendingAvgMinor)
	assert.Empty(t, summary.Counts)
}
