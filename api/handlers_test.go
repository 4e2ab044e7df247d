/*
handlers_test.go - HTTP tests for the API

Tests for:
- Contract intake, lookup and filters
- Preview / close flow and the one-shot close (409)
- Violation guards after close
- Expenses and xlsx downloads
- API key roles and security headers
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stay-engine/generic"
	"github.com/warp/stay-engine/report"
	"github.com/warp/stay-engine/store/sqlite"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2024, 3, 7, 15, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, opts RouterOptions) (*Handler, http.Handler) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reports := report.NewService(store, store, nil, logger)
	reports.Now = func() time.Time { return testNow }

	h := NewHandler(store, reports, logger)
	h.Now = func() time.Time { return testNow }
	h.Closeout.Now = h.Now
	h.Ping = store.Ping

	opts.Logger = logger
	return h, NewRouter(h, opts)
}

func do(t *testing.T, srv http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// createC1 creates C-1: 2024-03-01 → 2024-03-11, 20 per night, deposit 100.
func createC1(t *testing.T, srv http.Handler) ContractDTO {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/contracts", map[string]any{
		"code":            "C-1",
		"unit_id":         "A-12",
		"client_name":     "Ana Souza",
		"client_email":    "ana@example.com",
		"client_phone":    "11 9999-0000",
		"start_date":      "2024-03-01",
		"end_date":        "2024-03-11",
		"price_per_night": 20,
		"deposit":         100,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[ContractDTO](t, rec)
}

// =============================================================================
// CONTRACTS
// =============================================================================

func TestCreateContract(t *testing.T) {
	_, srv := newTestServer(t, RouterOptions{})

	c := createC1(t, srv)
	assert.Equal(t, "C-1", c.Code)
	assert.Equal(t, 10, c.TotalNights)
	assert.Equal(t, int64(200), c.TotalPrice)
	assert.Equal(t, "1199990000", c.ClientPhone)
	assert.False(t, c.IsClosed)

	rec := do(t, srv, http.MethodGet, "/api/contracts/C-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, c, decodeBody[ContractDTO](t, rec))
}

func TestCreateContract_Rejects(t *testing.T) {
	_, srv := newTestServer(t, RouterOptions{})
	createC1(t, srv)

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{
			name:   "duplicate code",
			body:   map[string]any{"code": "C-1", "unit_id": "B", "start_date": "2024-04-01", "end_date": "2024-04-03"},
			status: http.StatusConflict,
		},
		{
			name:   "bad date format",
			body:   map[string]any{"code": "C-2", "unit_id": "B", "start_date": "01/04/2024", "end_date": "2024-04-03"},
			status: http.StatusBadRequest,
		},
		{
			name:   "end before start",
			body:   map[string]any{"code": "C-2", "unit_id": "B", "start_date": "2024-04-03", "end_date": "2024-04-03"},
			status: http.StatusBadRequest,
		},
		{
			name:   "negative deposit",
			body:   map[string]any{"code": "C-2", "unit_id": "B", "start_date": "2024-04-01", "end_date": "2024-04-03", "deposit": -1},
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown field",
			body:   map[string]any{"code": "C-2", "unit_id": "B", "start_date": "2024-04-01", "end_date": "2024-04-03", "nights": 2},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/contracts", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestCreateContract_FieldErrorDetails(t *testing.T) {
	_, srv := newTestServer(t, RouterOptions{})

	rec := do(t, srv, http.MethodPost, "/api/contracts", map[string]any{
		"code": "C-2", "unit_id": "B", "start_date": "2024-04-03", "end_date": "2024-04-01",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, map[string]any{"end_date": "must be after start_date"}, resp.Details)
}

func TestGetContract_NotFound(t *testing.T) {
	_, srv := newTestServer(t, RouterOptions{})

	rec := do(t, srv, http.MethodGet, "/api/contracts/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListContracts_Filters(t *testing.T) {
	_, srv := newTestServer(t, RouterOptions{})
	createC1(t, srv)

	// C-0 ended before testNow and is still open.
	rec := do(t, srv, http.MethodPost, "/api/contracts", map[string]any{
		"code": "C-0", "unit_id": "B-1", "start_date": "2024-02-20", "end_date": "2024-03-01", "price_per_night": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	codes := func(path string) []string {
		rec := do(t, srv, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out []string
		for _, c := range decodeBody[[]ContractDTO](t, rec) {
			out = append(out, c.Code)
		}
		return out
	}

	assert.Equal(t, []string{"C-1", "C-0"}, codes("/api/contracts"))
	assert.Equal(t, []string{"C-1", "C-0"}, codes("/api/contracts?status=open"))
	assert.Empty(t, codes("/api/contracts?status=closed"))
	assert.Equal(t, []string{"C-0"}, codes("/api/contracts?status=overdue"))
	assert.Equal(t, []string{"C-0"}, codes("/api/contracts/overdue"))
	assert.Equal(t, []string{"C-1"}, codes("/api/contracts/active"))
	assert.Equal(t, []string{"C-0"}, codes("/api/contracts/active?on=2024-02-25"))

	rec = do(t, srv, http.MethodGet, "/api/contracts?status=weird", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, srv, http.MethodGet, "/api/contracts/active?on=tomorrow", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// CLOSEOUT
// =============================================================================

func TestCloseout_PreviewThenCloseOnce(t *testing.T) {
	_, srv := newTestServer(t, RouterOptions{})
	createC1(t, srv)

	// GIVEN: a 30 damage violation
	rec := do(t, srv, http.MethodPost, "/api/contracts/C-1/violations", map[string]any{
		"type": "damage", "description": "broken lamp", "amount": 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN: previewing a regular checkout
	rec = do(t, srv, http.MethodPost, "/api/contracts/C-1/settlement/preview", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decodeBody[SettlementDTO](t, rec)

	// THEN: the deposit covers the penalty and nothing is written
	assert.Equal(t, "2024-03-11", preview.ActualEnd)
	assert.Equal(t, int64(70), preview.Result.RefundAmount)
	assert.Equal(t, int64(0), preview.Result.ExtraDueAmount)
	rec = do(t, srv, http.MethodGet, "/api/contracts/C-1", nil)
	assert.False(t, decodeBody[ContractDTO](t, rec).IsClosed)

	// WHEN: closing
	rec = do(t, srv, http.MethodPost, "/api/contracts/C-1/close", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decodeBody[CloseResponse](t, rec)

	// THEN: the stored settlement matches the preview
	assert.True(t, closed.Contract.IsClosed)
	assert.Equal(t, "2024-03-11", closed.Contract.ActualEndDate)
	assert.Equal(t, int64(70), closed.Contract.RefundAmount)
	assert.Equal(t, preview.Result, closed.Settlement.Result)
	assert.NotEmpty(t, closed.Contract.ClosedAt)

	// AND: a second close is a conflict
	rec = do(t, srv, http.MethodPost, "/api/contracts/C-1/close", map[string]any{})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// AND: violations are frozen
	rec = do(t, srv, http.MethodPost, "/api/contracts/C-1/violations", map[string]any{"type": "late", "amount": 5})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCloseout_EarlyTenant(t *testing.T) {
	_, srv := newTestServer(t, RouterOptions{})
	createC1(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/contracts/C-1/close", map[string]any{
		"early_checkout": true, "initiator": "tenant", "reason": "job offer",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decodeBody[CloseResponse](t, rec)

	assert.Equal(t, "2024-03-07", closed.Contract.ActualEndDate)
	assert.True(t, closed.Contract.EarlyCheckout)
	assert.Equal(t, "tenant", closed.Contract.Initiator)
	assert.Equal(t, "job offer", closed.Contract.EarlyReason)
	assert.Equal(t, 6, closed.Settlement.Result.LivedNights)
}

func TestCloseout_RejectsBadDecisions(t *testing.T) {
	_, srv := newTestServer(t, RouterOptions{})
	createC1(t, srv)

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"unknown initiator", map[string]any{"early_checkout": true, "initiator": "agent"}, http.StatusBadRequest},
		{"early without initiator", map[string]any{"early_checkout": true}, http.StatusBadRequest},
		{"manual refund for tenant", map[string]any{"early_checkout": true, "initiator": "tenant", "manual_refund": 10}, http.StatusBadRequest},
		{"negative manual refund", map[string]any{"early_checkout": true, "initiator": "landlord", "manual_refund": -5}, http.StatusBadRequest},
		{"bad end date", map[string]any{"actual_end_date": "soon"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/contracts/C-1/settlement/preview", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, srv, http.MethodPost, "/api/contracts/nope/close", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// VIOLATIONS
// =============================================================================

func TestViolations_Lifecycle(t *testing.T) {
	_, srv := newTestServer(t, RouterOptions{})
	createC1(t, srv)

	add := func(amount int64) ViolationDTO {
		rec := do(t, srv, http.MethodPost, "/api/contracts/C-1/violations", map[string]any{"type": "noise", "amount": amount})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return decodeBody[ViolationDTO](t, rec)
	}
	v1 := add(40)
	v2 := add(25)

	rec := do(t, srv, http.MethodPost, "/api/violations/"+v1.ID+"/resolve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[ViolationDTO](t, rec).Resolved)

	rec = do(t, srv, http.MethodDelete, "/api/violations/"+v2.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/contracts/C-1/violations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]ViolationDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, v1.ID, list[0].ID)

	// Resolved violations no longer reduce the refund.
	rec = do(t, srv, http.MethodPost, "/api/contracts/C-1/settlement/preview", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(100), decodeBody[SettlementDTO](t, rec).Result.RefundAmount)

	rec = do(t, srv, http.MethodDelete, "/api/violations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, srv, http.MethodGet, "/api/contracts/nope/violations", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// EXPENSES AND REPORTS
// =============================================================================

func TestExpenses(t *testing.T) {
	_, srv := newTestServer(t, RouterOptions{})

	rec := do(t, srv, http.MethodPost, "/api/expenses", map[string]any{
		"date": "2024-02-10", "description": "cleaning", "amount": "12.5", "payment_method": "cash",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[ExpenseDTO](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "12.50", created.Amount)

	rec = do(t, srv, http.MethodPost, "/api/expenses", map[string]any{
		"date": "2024-02-11", "description": "cleaning", "amount": "5", "payment_method": "card",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/expenses", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []ExpenseDTO{created}, decodeBody[[]ExpenseDTO](t, rec))
}

func TestFinanceReport(t *testing.T) {
	_, srv := newTestServer(t, RouterOptions{})
	createC1(t, srv)

	rec := do(t, srv, http.MethodGet, "/api/reports/finance?as_of=2024-03-31", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "A-12")

	rec = do(t, srv, http.MethodGet, "/api/reports/finance?as_of=31-03-2024", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkbookDownloads(t *testing.T) {
	_, srv := newTestServer(t, RouterOptions{})
	createC1(t, srv)

	for _, path := range []string{
		"/api/reports/finance.xlsx?as_of=2024-03-31",
		"/api/reports/stats.xlsx",
		"/api/reports/expenses.xlsx",
	} {
		t.Run(path, func(t *testing.T) {
			rec := do(t, srv, http.MethodGet, path, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, report.ContentType, rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment;")

			f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
			require.NoError(t, err)
			defer f.Close()
			assert.NotEmpty(t, f.GetSheetList())
		})
	}
}

func TestFinanceReport_RefreshedAfterClose(t *testing.T) {
	h, srv := newTestServer(t, RouterOptions{})
	createC1(t, srv)

	first, err := h.Reports.Finance(context.Background(), generic.MustParseDate("2024-03-31"))
	require.NoError(t, err)

	rec := do(t, srv, http.MethodPost, "/api/contracts/C-1/close", map[string]any{
		"early_checkout": true, "initiator": "tenant",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	second, err := h.Reports.Finance(context.Background(), generic.MustParseDate("2024-03-31"))
	require.NoError(t, err)
	assert.NotEqual(t, first.Rows, second.Rows, "early checkout shortens the stay")
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestAPIKeyRoles(t *testing.T) {
	_, srv := newTestServer(t, RouterOptions{AdminKeys: []string{"adm"}, ViewerKeys: []string{"view"}})

	rec := do(t, srv, http.MethodGet, "/api/contracts", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/contracts", nil, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/contracts", nil, "X-API-Key", "view")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/expenses", map[string]any{
		"date": "2024-02-10", "description": "x", "amount": "1", "payment_method": "cash",
	}, "X-API-Key", "view")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/expenses", map[string]any{
		"date": "2024-02-10", "description": "x", "amount": "1", "payment_method": "cash",
	}, "Authorization", "Bearer adm")
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Health stays outside auth.
	rec = do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	_, srv := newTestServer(t, RouterOptions{})

	rec := do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestNotFoundRoute(t *testing.T) {
	_, srv := newTestServer(t, RouterOptions{})

	rec := do(t, srv, http.MethodGet, "/api/nothing-here", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "route not found", decodeBody[ErrorResponse](t, rec).Error)
}

// =============================================================================
// SCHEDULER
// =============================================================================

func TestOverdueScheduler_Check(t *testing.T) {
	h, srv := newTestServer(t, RouterOptions{})
	createC1(t, srv)

	s := NewOverdueScheduler(h.Store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	s.Now = func() time.Time { return testNow }
	overdue, err := s.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, overdue)

	s.Now = func() time.Time { return time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC) }
	overdue, err = s.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "C-1", overdue[0].Code)

	last, at := s.Last()
	assert.Len(t, last, 1)
	assert.Equal(t, 12, at.Day())
}

func TestOverdueScheduler_StartStop(t *testing.T) {
	h, _ := newTestServer(t, RouterOptions{})

	s := NewOverdueScheduler(h.Store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.CheckInterval = time.Millisecond
	s.Start()
	s.Start()
	require.Eventually(t, func() bool {
		_, at := s.Last()
		return !at.IsZero()
	}, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()
}
