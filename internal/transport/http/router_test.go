package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustgate/internal/audit"
	"trustgate/internal/directory"
	escalation "trustgate/internal/escalation/service"
	escstore "trustgate/internal/escalation/store"
	"trustgate/internal/notify"
	"trustgate/internal/otc/codes"
	"trustgate/internal/otc/issuer"
	otcstore "trustgate/internal/otc/store"
	"trustgate/internal/otc/verifier"
	"trustgate/internal/platform/logger"
	"trustgate/internal/session"
	transport "trustgate/internal/transport/http"
	"trustgate/pkg/domain"
)

// captureDispatcher hands dispatched code payloads back to the test.
type captureDispatcher struct {
	sent chan string
}

func (d *captureDispatcher) Send(_ context.Context, _ domain.DeliveryChannel, _ string, payload notify.Payload) notify.Result {
	d.sent <- payload.Body
	return notify.Result{Success: true}
}

func (d *captureDispatcher) nextCode(t *testing.T) string {
	t.Helper()
	select {
	case code := <-d.sent:
		return code
	case <-time.After(2 * time.Second):
		t.Fatal("no code was dispatched")
		return ""
	}
}

type apiFixture struct {
	server     *httptest.Server
	dispatcher *captureDispatcher
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	log := logger.New()
	dispatcher := &captureDispatcher{sent: make(chan string, 8)}
	hasher := codes.NewHasher("test-pepper")
	ledger := audit.NewLedger(audit.NewInMemoryStore())

	principals := directory.NewInMemoryStore()
	principals.Seed(directory.Principal{SubjectID: "ceoA", Role: domain.RoleCEO, TenantID: "ceoA", ContactChannel: "ceo@example.com"})
	principals.Seed(directory.Principal{SubjectID: "vendor1", Role: domain.RoleVendor, TenantID: "ceoA", ContactChannel: "+15550001111"})

	codeStore := otcstore.NewInMemoryStore()
	iss, err := issuer.New(principals, codeStore, hasher, ledger, issuer.WithDispatcher(dispatcher))
	require.NoError(t, err)
	ver, err := verifier.New(codeStore, hasher, ledger)
	require.NoError(t, err)
	sessions, err := session.New("test-signing-key", "trustgate-test", ledger)
	require.NoError(t, err)
	engine, err := escalation.New(escstore.NewInMemoryStore(), ver, ledger)
	require.NoError(t, err)

	handler := transport.NewHandler(iss, ver, sessions, engine, ledger, log)
	server := httptest.NewServer(transport.NewRouter(handler))
	t.Cleanup(server.Close)

	return &apiFixture{server: server, dispatcher: dispatcher}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.server.URL+path, buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp, decoded
}

// login runs the full OTC round trip and returns a session token.
func (f *apiFixture) login(t *testing.T, subjectID string, role domain.Role) string {
	t.Helper()

	resp, _ := f.do(t, http.MethodPost, "/otc/request", "", map[string]string{
		"subject_id": subjectID,
		"role":       string(role),
		"channel":    "email",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	code := f.dispatcher.nextCode(t)
	resp, body := f.do(t, http.MethodPost, "/otc/verify", "", map[string]string{
		"subject_id": subjectID,
		"code":       code,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	resp, body := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestVerify_WrongCodeIsGeneric401(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/otc/request", "", map[string]string{
		"subject_id": "vendor1", "role": "vendor", "channel": "sms",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	f.dispatcher.nextCode(t)

	resp, body := f.do(t, http.MethodPost, "/otc/verify", "", map[string]string{
		"subject_id": "vendor1", "code": "definitely-wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid or expired code", body["error_description"])
}

func TestEscalationRoutesRequireSession(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/escalations", "", map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/escalations", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEscalationListRequiresCEORole(t *testing.T) {
	f := newAPIFixture(t)
	vendorToken := f.login(t, "vendor1", domain.RoleVendor)

	resp, _ := f.do(t, http.MethodGet, "/escalations", vendorToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestFullApprovalFlow(t *testing.T) {
	f := newAPIFixture(t)

	vendorToken := f.login(t, "vendor1", domain.RoleVendor)
	resp, body := f.do(t, http.MethodPost, "/escalations", vendorToken, map[string]any{
		"transaction_ref": "txn-9000",
		"tenant_id":       "ceoA",
		"vendor_id":       "vendor1",
		"buyer_id":        "buyer1",
		"amount_minor":    500_000_00,
		"reason":          "HIGH_VALUE",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	escalationID, _ := body["escalation_id"].(string)
	require.NotEmpty(t, escalationID)

	ceoToken := f.login(t, "ceoA", domain.RoleCEO)

	resp, body = f.do(t, http.MethodGet, "/escalations", ceoToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	escalations, _ := body["escalations"].([]any)
	require.Len(t, escalations, 1)

	// A decision needs a fresh code, not the session alone.
	resp, _ = f.do(t, http.MethodPost, "/escalations/"+escalationID+"/decision", ceoToken, map[string]string{
		"decision": "APPROVED",
		"otc_code": "stale-or-guessed",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/otc/request", "", map[string]string{
		"subject_id": "ceoA", "role": "ceo", "channel": "email",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	freshCode := f.dispatcher.nextCode(t)

	resp, body = f.do(t, http.MethodPost, "/escalations/"+escalationID+"/decision", ceoToken, map[string]string{
		"decision": "APPROVED",
		"notes":    "verified with counterparty",
		"otc_code": freshCode,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "APPROVED", body["status"])
	assert.Equal(t, "ceoA", body["decided_by"])

	resp, body = f.do(t, http.MethodGet, "/escalations/summary", ceoToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	counts, _ := body["counts"].(map[string]any)
	assert.Equal(t, float64(1), counts["APPROVED"])
	assert.Equal(t, float64(0), body["pending_count"])

	resp, body = f.do(t, http.MethodGet, "/audit/events?action=ESCALATION_APPROVED", ceoToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events, _ := body["events"].([]any)
	require.NotEmpty(t, events)
}

func TestDecisionConflictAfterApproval(t *testing.T) {
	f := newAPIFixture(t)

	vendorToken := f.login(t, "vendor1", domain.RoleVendor)
	resp, body := f.do(t, http.MethodPost, "/escalations", vendorToken, map[string]any{
		"transaction_ref": "txn-1",
		"tenant_id":       "ceoA",
		"amount_minor":    100,
		"reason":          "COUNTERPARTY_FLAGGED",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	escalationID := body["escalation_id"].(string)

	ceoToken := f.login(t, "ceoA", domain.RoleCEO)

	decide := func(decision string) int {
		resp, _ := f.do(t, http.MethodPost, "/otc/request", "", map[string]string{
			"subject_id": "ceoA", "role": "ceo", "channel": "email",
		})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		code := f.dispatcher.nextCode(t)

		resp, _ = f.do(t, http.MethodPost, "/escalations/"+escalationID+"/decision", ceoToken, map[string]string{
			"decision": decision,
			"otc_code": code,
		})
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, decide("REJECTED"))
	assert.Equal(t, http.StatusConflict, decide("APPROVED"))
}
