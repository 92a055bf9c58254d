package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	app "github.com/Meridian-Network/rewards_core/internal/app"
	"github.com/Meridian-Network/rewards_core/internal/app/config"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{}, nil)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() { _ = application.Stop(context.Background()) })
	return NewHandler(application)
}

func marshal(t *testing.T, payload any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func do(handler http.Handler, method, path string, body *bytes.Reader) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestHandlerLedgerFlow(t *testing.T) {
	handler := newTestHandler(t)

	resp := do(handler, http.MethodPost, "/ledger/entries", marshal(t, map[string]any{
		"account_id":      "alice",
		"amount_delta":    500,
		"reason":          "manual_topup",
		"idempotency_key": "topup-1",
	}))
	require.Equal(t, http.StatusCreated, resp.Code)
	body := resp.Body.String()
	assert.True(t, gjson.Get(body, "Applied").Bool())
	assert.EqualValues(t, 500, gjson.Get(body, "NewBalance").Int())

	// repeated key returns the original outcome with 200
	resp = do(handler, http.MethodPost, "/ledger/entries", marshal(t, map[string]any{
		"account_id":      "alice",
		"amount_delta":    500,
		"reason":          "manual_topup",
		"idempotency_key": "topup-1",
	}))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, gjson.Get(resp.Body.String(), "Applied").Bool())

	resp = do(handler, http.MethodGet, "/accounts/alice/balance", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.EqualValues(t, 500, gjson.Get(resp.Body.String(), "balance").Int())

	resp = do(handler, http.MethodGet, "/accounts/alice/entries", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.EqualValues(t, 1, gjson.Get(resp.Body.String(), "#").Int())
}

func TestHandlerErrorMapping(t *testing.T) {
	handler := newTestHandler(t)

	// overdraft -> 422
	resp := do(handler, http.MethodPost, "/ledger/entries", marshal(t, map[string]any{
		"account_id":      "bob",
		"amount_delta":    -10,
		"reason":          "consumption",
		"idempotency_key": "spend-1",
	}))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.NotEmpty(t, gjson.Get(resp.Body.String(), "error").String())

	// bad reason -> 400
	resp = do(handler, http.MethodPost, "/ledger/entries", marshal(t, map[string]any{
		"account_id":      "bob",
		"amount_delta":    10,
		"reason":          "tip",
		"idempotency_key": "spend-2",
	}))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	// self referral -> 409
	resp = do(handler, http.MethodPost, "/referrals", marshal(t, map[string]any{
		"referee_id":  "bob",
		"referrer_id": "bob",
	}))
	assert.Equal(t, http.StatusConflict, resp.Code)

	// unknown referral edge -> 404
	resp = do(handler, http.MethodDelete, "/referrals/nobody", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	// unknown pool -> 404
	resp = do(handler, http.MethodGet, "/pools/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	// unknown account balance -> 404
	resp = do(handler, http.MethodGet, "/accounts/nobody/balance", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestHandlerReferralFlow(t *testing.T) {
	handler := newTestHandler(t)

	resp := do(handler, http.MethodPost, "/referrals", marshal(t, map[string]any{
		"referee_id":  "bob",
		"referrer_id": "alice",
	}))
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "active", gjson.Get(resp.Body.String(), "Status").String())

	// second referrer for the same referee conflicts
	resp = do(handler, http.MethodPost, "/referrals", marshal(t, map[string]any{
		"referee_id":  "bob",
		"referrer_id": "carol",
	}))
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = do(handler, http.MethodGet, "/accounts/alice/referrals", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.EqualValues(t, 1, gjson.Get(resp.Body.String(), "#").Int())

	resp = do(handler, http.MethodDelete, "/referrals/bob", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "revoked", gjson.Get(resp.Body.String(), "Status").String())
}

func TestHandlerTransactionFlow(t *testing.T) {
	handler := newTestHandler(t)

	// chain: buyer <- upline; upline needs a level with a commission rate,
	// which the default table grants at silver (1000 contribution, team 3)
	for i := 0; i < 3; i++ {
		resp := do(handler, http.MethodPost, "/referrals", marshal(t, map[string]any{
			"referee_id":  fmt.Sprintf("ref-%d", i),
			"referrer_id": "upline",
		}))
		require.Equal(t, http.StatusCreated, resp.Code)
	}
	resp := do(handler, http.MethodPost, "/accounts/upline/membership/adjust", marshal(t, map[string]any{
		"delta": 1500,
	}))
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "silver", gjson.Get(resp.Body.String(), "NewLevel").String())

	resp = do(handler, http.MethodPost, "/referrals", marshal(t, map[string]any{
		"referee_id":  "buyer",
		"referrer_id": "upline",
	}))
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = do(handler, http.MethodPost, "/transactions", marshal(t, map[string]any{
		"payer_id":        "buyer",
		"amount":          1000,
		"idempotency_key": "tx-1",
	}))
	require.Equal(t, http.StatusCreated, resp.Code)
	body := resp.Body.String()
	require.EqualValues(t, 1, gjson.Get(body, "commissions.Credits.#").Int())
	assert.Equal(t, "upline", gjson.Get(body, "commissions.Credits.0.UserID").String())
	assert.EqualValues(t, 100, gjson.Get(body, "commissions.Credits.0.Amount").Int())

	resp = do(handler, http.MethodGet, "/accounts/upline/balance", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.EqualValues(t, 100, gjson.Get(resp.Body.String(), "balance").Int())
}

func TestHandlerTransactionRetryKeepsContribution(t *testing.T) {
	handler := newTestHandler(t)

	payload := marshal(t, map[string]any{
		"payer_id":        "buyer",
		"amount":          1000,
		"idempotency_key": "tx-retry",
	})
	resp := do(handler, http.MethodPost, "/transactions", payload)
	require.Equal(t, http.StatusCreated, resp.Code)
	require.EqualValues(t, 1000, gjson.Get(resp.Body.String(), "membership.Contribution").Int())
	level := gjson.Get(resp.Body.String(), "membership.NewLevel").String()

	// a replayed transaction must not bump the contribution again
	resp = do(handler, http.MethodPost, "/transactions", marshal(t, map[string]any{
		"payer_id":        "buyer",
		"amount":          1000,
		"idempotency_key": "tx-retry",
	}))
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.EqualValues(t, 1000, gjson.Get(resp.Body.String(), "membership.Contribution").Int())
	assert.Equal(t, level, gjson.Get(resp.Body.String(), "membership.NewLevel").String())

	resp = do(handler, http.MethodPost, "/accounts/buyer/membership/evaluate", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.EqualValues(t, 1000, gjson.Get(resp.Body.String(), "Contribution").Int())
}

func TestHandlerPoolFlow(t *testing.T) {
	handler := newTestHandler(t)

	resp := do(handler, http.MethodPost, "/pools/p1/accrue", marshal(t, map[string]any{
		"amount":          1000,
		"idempotency_key": "acc-1",
	}))
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.True(t, gjson.Get(resp.Body.String(), "applied").Bool())

	// duplicate accrual is acknowledged without applying
	resp = do(handler, http.MethodPost, "/pools/p1/accrue", marshal(t, map[string]any{
		"amount":          1000,
		"idempotency_key": "acc-1",
	}))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, gjson.Get(resp.Body.String(), "applied").Bool())

	for _, user := range []string{"h1", "h2"} {
		resp = do(handler, http.MethodPost, "/pools/p1/holders", marshal(t, map[string]any{
			"user_id": user,
		}))
		require.Equal(t, http.StatusNoContent, resp.Code)
	}

	resp = do(handler, http.MethodGet, "/pools/p1/holdings", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.EqualValues(t, 2, gjson.Get(resp.Body.String(), "#").Int())

	resp = do(handler, http.MethodPost, "/pools/p1/distribute", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	body := resp.Body.String()
	assert.EqualValues(t, 1000, gjson.Get(body, "SnapshotBalance").Int())
	assert.EqualValues(t, 2, gjson.Get(body, "Shares.#").Int())

	resp = do(handler, http.MethodGet, "/pools/p1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.EqualValues(t, 1, gjson.Get(resp.Body.String(), "DistributionRound").Int())
}

func TestHandlerHealth(t *testing.T) {
	handler := newTestHandler(t)
	resp := do(handler, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", gjson.Get(resp.Body.String(), "status").String())
}

func TestHandlerUnavailableConfig(t *testing.T) {
	// an invalid snapshot leaves the provider empty, so money-moving
	// operations must surface as retryable 503s rather than hard failures
	application, err := app.New(app.Stores{}, app.Options{Config: config.Static(config.Snapshot{})}, nil)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() { _ = application.Stop(context.Background()) })
	handler := NewHandler(application)

	resp := do(handler, http.MethodPost, "/ledger/entries", marshal(t, map[string]any{
		"account_id":      "alice",
		"amount_delta":    500,
		"reason":          "manual_topup",
		"idempotency_key": "topup-1",
	}))
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, "1", resp.Header().Get("Retry-After"))
	assert.NotEmpty(t, gjson.Get(resp.Body.String(), "error").String())
}
