/*
handlers.go - HTTP API handlers for the stay engine

PURPOSE:
  Exposes contract intake, violations, closeout and reports via REST. Handles
  HTTP request/response and JSON, and delegates to the rental, closeout and
  report packages.

ENDPOINTS:
  Contracts:
    GET    /api/contracts                        List (?status=open|closed|overdue)
    POST   /api/contracts                        Create
    GET    /api/contracts/active                 Active on ?on= (default today)
    GET    /api/contracts/overdue                Open past planned end
    GET    /api/contracts/{code}                 Details
    POST   /api/contracts/{code}/settlement/preview  Compute, no write
    POST   /api/contracts/{code}/close           Compute and commit once

  Violations:
    GET    /api/contracts/{code}/violations      List
    POST   /api/contracts/{code}/violations      Add
    DELETE /api/violations/{id}                  Rescind
    POST   /api/violations/{id}/resolve          Mark resolved

  Expenses:
    GET    /api/expenses                         List, newest first
    POST   /api/expenses                         Add

  Reports:
    GET    /api/reports/finance                  JSON (?as_of=)
    GET    /api/reports/finance.xlsx             Workbook (?as_of=)
    GET    /api/reports/stats.xlsx               Summary + contracts
    GET    /api/reports/expenses.xlsx            Expenses by month

REQUEST FLOW:
  1. Decode JSON
  2. Validate shape (validator tags on the DTO)
  3. Call domain logic
  4. Serialize response
  5. Map errors via writeDomainError

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 404: Contract / violation not found
  - 409: Contract already closed, duplicate code
  - 500: Internal errors (details logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/warp/stay-engine/closeout"
	"github.com/warp/stay-engine/generic"
	"github.com/warp/stay-engine/rental"
	"github.com/warp/stay-engine/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      rental.Store
	Closeout   *closeout.Service
	Violations *rental.ViolationService
	Reports    *report.Service
	Logger     *slog.Logger
	Now        func() time.Time

	// Ping checks the database for /healthz. Optional.
	Ping func(ctx context.Context) error
}

// NewHandler wires the services around one store. Closing or creating a
// contract invalidates cached reports.
func NewHandler(store rental.Store, reports *report.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		Store:      store,
		Closeout:   closeout.NewService(store, logger),
		Violations: rental.NewViolationService(store),
		Reports:    reports,
		Logger:     logger,
		Now:        time.Now,
	}
	h.Closeout.OnClosed = func(ctx context.Context, _ rental.Contract) {
		h.Reports.Invalidate(ctx)
	}
	return h
}

func (h *Handler) today() generic.Date { return generic.DateOf(h.Now()) }

// Health reports liveness and database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CONTRACT ENDPOINTS
// =============================================================================

// ListContracts returns contracts, newest start first, optionally filtered by
// status.
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := h.Store.ListContracts(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	today := h.today()
	var keep func(rental.Contract) bool
	switch status := r.URL.Query().Get("status"); status {
	case "":
	case "open":
		keep = func(c rental.Contract) bool { return !c.IsClosed }
	case "closed":
		keep = func(c rental.Contract) bool { return c.IsClosed }
	case "overdue":
		keep = func(c rental.Contract) bool { return c.IsOverdue(today) }
	default:
		writeError(w, http.StatusBadRequest, "invalid status", fmt.Errorf("unknown status %q", status))
		return
	}

	writeJSON(w, http.StatusOK, toContractDTOs(filterContracts(contracts, keep)))
}

// ListActiveContracts returns open contracts whose stay covers ?on= (today by
// default).
func (h *Handler) ListActiveContracts(w http.ResponseWriter, r *http.Request) {
	on, ok := h.dateParam(w, r, "on")
	if !ok {
		return
	}
	contracts, err := h.Store.ListContracts(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTOs(filterContracts(contracts, func(c rental.Contract) bool {
		return c.IsActiveOn(on)
	})))
}

// ListOverdueContracts returns open contracts past their planned end.
func (h *Handler) ListOverdueContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := h.Store.ListContracts(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTOs(OverdueContracts(contracts, h.today())))
}

// CreateContract validates the intake form and stores the contract.
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req CreateContractRequest
	if !h.decode(w, r, &req) {
		return
	}

	start, err := generic.ParseDate(req.StartDate)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	end, err := generic.ParseDate(req.EndDate)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	c, err := rental.NewContract(rental.ContractInput{
		Code:           req.Code,
		UnitID:         req.UnitID,
		ClientName:     req.ClientName,
		ClientDocument: req.ClientDocument,
		ClientAddress:  req.ClientAddress,
		ClientEmail:    req.ClientEmail,
		ClientPhone:    req.ClientPhone,
		CheckoutTime:   req.CheckoutTime,
		StartDate:      start,
		PlannedEndDate: end,
		PricePerNight:  req.PricePerNight,
		TotalPrice:     req.TotalPrice,
		Deposit:        req.Deposit,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	c.CreatedAt = h.Now().UTC()

	if err := h.Store.CreateContract(r.Context(), c); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.Reports.Invalidate(r.Context())

	h.Logger.Info("contract created", "code", c.Code, "unit", c.UnitID, "nights", c.TotalNights)
	writeJSON(w, http.StatusCreated, toContractDTO(c))
}

// GetContract returns one contract.
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	c, err := h.Store.GetContract(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(c))
}

// =============================================================================
// CLOSEOUT ENDPOINTS
// =============================================================================

// PreviewSettlement computes the settlement without persisting anything.
func (h *Handler) PreviewSettlement(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	d, ok := h.decision(w, r)
	if !ok {
		return
	}

	out, err := h.Closeout.Preview(r.Context(), code, d)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(code, out))
}

// CloseContract commits the settlement. A second close gets 409.
func (h *Handler) CloseContract(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	d, ok := h.decision(w, r)
	if !ok {
		return
	}

	closed, out, err := h.Closeout.Close(r.Context(), code, d)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CloseResponse{
		Contract:   toContractDTO(closed),
		Settlement: toSettlementDTO(code, out),
	})
}

func (h *Handler) decision(w http.ResponseWriter, r *http.Request) (rental.CloseoutDecision, bool) {
	var req CloseoutRequest
	if !h.decode(w, r, &req) {
		return rental.CloseoutDecision{}, false
	}
	d, err := req.decision()
	if err != nil {
		h.writeDomainError(w, r, err)
		return rental.CloseoutDecision{}, false
	}
	return d, true
}

// =============================================================================
// VIOLATION ENDPOINTS
// =============================================================================

// ListViolations returns a contract's violations, oldest first.
func (h *Handler) ListViolations(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if _, err := h.Store.GetContract(r.Context(), code); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	vs, err := h.Store.ListViolations(r.Context(), code)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]ViolationDTO, 0, len(vs))
	for _, v := range vs {
		out = append(out, toViolationDTO(v))
	}
	writeJSON(w, http.StatusOK, out)
}

// AddViolation records a penalty against an open contract.
func (h *Handler) AddViolation(w http.ResponseWriter, r *http.Request) {
	var req AddViolationRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.Violations.Add(r.Context(), rental.ViolationInput{
		ContractCode: chi.URLParam(r, "code"),
		Type:         req.Type,
		Description:  req.Description,
		Amount:       req.Amount,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toViolationDTO(v))
}

// RescindViolation deletes a violation recorded in error.
func (h *Handler) RescindViolation(w http.ResponseWriter, r *http.Request) {
	if err := h.Violations.Rescind(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResolveViolation marks a violation as settled outside the deposit.
func (h *Handler) ResolveViolation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Violations.Resolve(r.Context(), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	v, err := h.Store.GetViolation(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toViolationDTO(v))
}

// =============================================================================
// EXPENSE ENDPOINTS
// =============================================================================

// ListExpenses returns expenses, newest first.
func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	es, err := h.Store.ListExpenses(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]ExpenseDTO, 0, len(es))
	for _, e := range es {
		out = append(out, toExpenseDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateExpense records an operating expense.
func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var req CreateExpenseRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := generic.ParseDate(req.Date)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	e, err := rental.NewExpense(d, req.Description, req.Amount, rental.PaymentMethod(req.PaymentMethod))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	e.ID = uuid.NewString()
	e.CreatedAt = h.Now().UTC()

	if err := h.Store.AddExpense(r.Context(), e); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseDTO(e))
}

// =============================================================================
// REPORT ENDPOINTS
// =============================================================================

// FinanceReport returns the monthly allocation as JSON.
func (h *Handler) FinanceReport(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.dateParam(w, r, "as_of")
	if !ok {
		return
	}
	rep, err := h.Reports.Finance(r.Context(), asOf)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// FinanceWorkbook returns the monthly allocation as xlsx.
func (h *Handler) FinanceWorkbook(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.dateParam(w, r, "as_of")
	if !ok {
		return
	}
	rep, err := h.Reports.Finance(r.Context(), asOf)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeWorkbook(w, r, "finance_"+asOf.String()+".xlsx", func(out io.Writer) error {
		return report.WriteFinanceWorkbook(out, rep)
	})
}

// StatsWorkbook returns the summary and contract list as xlsx.
func (h *Handler) StatsWorkbook(w http.ResponseWriter, r *http.Request) {
	summary, contracts, err := h.Reports.Stats(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeWorkbook(w, r, "contracts_stats.xlsx", func(out io.Writer) error {
		return report.WriteStatsWorkbook(out, summary, contracts)
	})
}

// ExpensesWorkbook returns expenses grouped by month as xlsx.
func (h *Handler) ExpensesWorkbook(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.Reports.ExpenseList(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeWorkbook(w, r, "expenses_report.xlsx", func(out io.Writer) error {
		return report.WriteExpensesWorkbook(out, expenses)
	})
}

// writeWorkbook renders into memory first so a rendering error can still be
// reported as a 500.
func (h *Handler) writeWorkbook(w http.ResponseWriter, r *http.Request, filename string, render func(io.Writer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		h.writeDomainError(w, r, fmt.Errorf("render %s: %w", filename, err))
		return
	}
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// =============================================================================
// HELPERS
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. On failure the response
// has been written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
			writeError(w, http.StatusBadRequest, "validation failed", nil, details)
			return false
		}
		writeError(w, http.StatusBadRequest, "validation failed", err)
		return false
	}
	return true
}

// dateParam parses an optional YYYY-MM-DD query parameter, defaulting to today.
func (h *Handler) dateParam(w http.ResponseWriter, r *http.Request, name string) (generic.Date, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return h.today(), true
	}
	d, err := generic.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name, err)
		return generic.Date{}, false
	}
	return d, true
}

// writeDomainError maps domain errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *generic.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "validation failed", nil, map[string]string{verr.Field: verr.Message})
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, "invalid input", err)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found", err)
	case generic.IsConflict(err):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		h.Logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error, details ...any) {
	resp := ErrorResponse{Error: message}
	switch {
	case len(details) > 0:
		resp.Details = details[0]
	case err != nil:
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func filterContracts(cs []rental.Contract, keep func(rental.Contract) bool) []rental.Contract {
	if keep == nil {
		return cs
	}
	var out []rental.Contract
	for _, c := range cs {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}
