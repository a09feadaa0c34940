/*
handlers.go - HTTP API handlers for the voucher engine

PURPOSE:
  Exposes the voucher lifecycle engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to voucher.Engine.

ENDPOINTS:
  Vouchers (read):
    GET    /api/vouchers                 Full snapshot, newest first
    GET    /api/vouchers/search          Filter, sort, paginate
    GET    /api/vouchers/stats           Dashboard counters
    GET    /api/vouchers/export          CSV or XLSX download of a filtered view
    GET    /api/vouchers/code/{code}     Lookup by code with redemption links
    GET    /api/vouchers/{id}            Single voucher
    POST   /api/vouchers/print           Print sheet for selected IDs

  Vouchers (write):
    POST   /api/vouchers                 Generate vouchers
    POST   /api/vouchers/batch           Generate vouchers (alias)
    POST   /api/vouchers/activate        Bulk activate
    POST   /api/vouchers/suspend         Bulk suspend
    POST   /api/vouchers/expire          Bulk expire
    POST   /api/vouchers/archive         Bulk archive
    PUT    /api/vouchers/{code}/expiration  Move one voucher's expiry

  Vouchers (admin):
    POST   /api/vouchers/delete          Bulk delete
    DELETE /api/vouchers/{id}            Delete one voucher

  Session:
    GET    /api/auth/verify              Echo the verified caller

  Scenarios:
    GET    /api/scenarios                List demo scenarios
    POST   /api/scenarios/load           Load a demo scenario

REQUEST FLOW:
  1. Authenticate (middleware.go), check role for the route
  2. Parse and validate input
  3. Call the engine
  4. Serialize response
  5. Map errors with writeEngineError

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401/403: Missing token, insufficient role
  - 404: Voucher not found
  - 409: Invalid transition, locked expiry, code space exhausted
  - 422: Nothing to export or print
  - 503: Store unavailable
  - 500: Internal errors

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
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/superlink/voucher-engine/auth"
	"github.com/superlink/voucher-engine/export"
	"github.com/superlink/voucher-engine/voucher"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine     *voucher.Engine
	Authorizer *auth.Authorizer
	Verifier   *auth.Verifier // nil disables token checks
	Print      export.PrintConfig
	Logger     *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler with default print branding.
func NewHandler(engine *voucher.Engine, authorizer *auth.Authorizer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:     engine,
		Authorizer: authorizer,
		Print:      export.DefaultPrintConfig(),
		Logger:     logger,
	}
}

// =============================================================================
// READ ENDPOINTS
// =============================================================================

// ListVouchers returns every voucher, newest first.
func (h *Handler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	vs, err := h.Engine.Snapshot(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, VoucherListResponse{Vouchers: toVoucherDTOs(vs)})
}

// SearchVouchers runs the query engine.
func (h *Handler) SearchVouchers(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r, h.Engine.Location())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	res, err := h.Engine.Query(r.Context(), q)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{
		Vouchers:   toVoucherDTOs(res.Vouchers),
		Total:      res.Total,
		Page:       res.Page,
		PageSize:   res.PageSize,
		TotalPages: res.TotalPages,
	})
}

// GetStats returns dashboard counters.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Engine.Stats(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(stats))
}

// GetVoucher returns one voucher by ID.
func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	v, err := h.Engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVoucherDTO(v))
}

// LookupVoucher returns one voucher by code, with redemption links.
func (h *Handler) LookupVoucher(w http.ResponseWriter, r *http.Request) {
	v, err := h.Engine.Lookup(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	redeem, qr := h.Print.RedeemLinks(v.Code)
	writeJSON(w, http.StatusOK, LookupDTO{VoucherDTO: toVoucherDTO(v), RedeemURL: redeem, QRImageURL: qr})
}

// ExportVouchers streams the filtered, unpaginated view as CSV or XLSX.
func (h *Handler) ExportVouchers(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	q, err := parseQuery(r, h.Engine.Location())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	vs, err := h.Engine.Matching(r.Context(), q)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, vs); err != nil {
		h.writeEngineError(w, err)
		return
	}

	name := export.FileName(format, h.Engine.Now().In(h.Engine.Location()))
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// PrintVouchers renders an HTML print sheet for the selected IDs.
func (h *Handler) PrintVouchers(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.VoucherIDs) == 0 {
		h.writeEngineError(w, export.ErrNothingToPrint)
		return
	}
	vs, err := h.Engine.Select(r.Context(), req.VoucherIDs)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WritePrintSheet(&buf, vs, h.Print); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// =============================================================================
// WRITE ENDPOINTS
// =============================================================================

// GenerateVouchers creates Count Pending vouchers.
func (h *Handler) GenerateVouchers(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	opts, err := h.generateOptions(req)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	created, err := h.Engine.Generate(r.Context(), opts)
	var conflict *voucher.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, GenerateResponse{
			Message:  fmt.Sprintf("Generated %d of %d voucher(s).", len(created), req.Count),
			Vouchers: toVoucherDTOs(created),
			Warning:  err.Error(),
		})
		return
	case err != nil:
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, GenerateResponse{
		Message:  fmt.Sprintf("Successfully generated %d new voucher(s).", len(created)),
		Vouchers: toVoucherDTOs(created),
	})
}

func (h *Handler) generateOptions(req GenerateRequest) (voucher.GenerateOptions, error) {
	opts := voucher.GenerateOptions{Count: req.Count, DeviceLimit: 1, Batch: req.Batch}
	if req.DeviceLimit != nil {
		opts.DeviceLimit = *req.DeviceLimit
	}

	speed, err := voucher.ParseSpeedLimit(req.SpeedLimit)
	if err != nil {
		return opts, err
	}
	opts.SpeedLimit = speed

	switch {
	case req.Expiration != "":
		exp, err := voucher.ParseExpiration(req.Expiration, h.Engine.Location())
		if err != nil {
			return opts, err
		}
		opts.ExpiresAt = &exp
	case req.Validity != "":
		validity, err := voucher.ParseValidity(req.Validity)
		if err != nil {
			return opts, err
		}
		opts.Validity = validity
	}
	return opts, nil
}

// ApplyOperation returns a handler running op over the body's voucherIds.
func (h *Handler) ApplyOperation(op voucher.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		res, err := h.Engine.Apply(r.Context(), op, req.VoucherIDs)
		if err != nil {
			h.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBatchResponse(res))
	}
}

// DeleteVouchers permanently removes the body's voucherIds.
func (h *Handler) DeleteVouchers(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.deleteIDs(w, r.Context(), req.VoucherIDs)
}

// DeleteVoucher permanently removes one voucher.
func (h *Handler) DeleteVoucher(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.Engine.Delete(r.Context(), []string{id})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if res.Failed > 0 {
		h.writeEngineError(w, res.Items[0].Err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResponse(res))
}

func (h *Handler) deleteIDs(w http.ResponseWriter, ctx context.Context, ids []string) {
	res, err := h.Engine.Delete(ctx, ids)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResponse(res))
}

// UpdateExpiration moves one voucher's expiry.
func (h *Handler) UpdateExpiration(w http.ResponseWriter, r *http.Request) {
	var req UpdateExpiryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	exp, err := voucher.ParseExpiration(req.Expiration, h.Engine.Location())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	v, err := h.Engine.UpdateExpiry(r.Context(), chi.URLParam(r, "code"), exp)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVoucherDTO(v))
}

// =============================================================================
// SESSION / HEALTH
// =============================================================================

// VerifySession echoes the authenticated principal.
func (h *Handler) VerifySession(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}
	writeJSON(w, http.StatusOK, AuthVerifyResponse{Valid: true, UserID: p.UserID, Role: p.Role, TenantID: p.TenantID})
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Readyz reports whether the store answers.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Engine.Store().(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine, export and auth errors to HTTP responses.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	var (
		status int
		resp   ErrorResponse
	)
	switch {
	case errors.Is(err, export.ErrNothingToExport):
		status, resp = http.StatusUnprocessableEntity, ErrorResponse{Error: export.NothingToExportNotice, Code: "nothing_to_export"}
	case errors.Is(err, export.ErrNothingToPrint):
		status, resp = http.StatusUnprocessableEntity, ErrorResponse{Error: "No vouchers selected for printing.", Code: "nothing_to_print"}
	case voucher.IsClientError(err):
		status, resp = http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Code: "validation_error", Details: err.Error()}
	case voucher.IsNotFound(err):
		status, resp = http.StatusNotFound, ErrorResponse{Error: "Voucher not found", Code: "not_found", Details: err.Error()}
	case errors.Is(err, voucher.ErrInvalidTransition):
		status, resp = http.StatusConflict, ErrorResponse{Error: "Invalid status transition", Code: "invalid_transition", Details: err.Error()}
	case errors.Is(err, voucher.ErrExpiryLocked):
		status, resp = http.StatusConflict, ErrorResponse{Error: "Expiry can no longer change", Code: "expiry_locked", Details: err.Error()}
	case voucher.IsConflict(err):
		status, resp = http.StatusConflict, ErrorResponse{Error: "Conflict", Code: "conflict", Details: err.Error()}
	case errors.Is(err, auth.ErrForbidden):
		status, resp = http.StatusForbidden, ErrorResponse{Error: "Forbidden", Code: "forbidden", Details: err.Error()}
	case voucher.IsRetryable(err):
		h.Logger.Error("store unavailable", zap.Error(err))
		status, resp = http.StatusServiceUnavailable, ErrorResponse{Error: "Storage unavailable", Code: "storage_unavailable"}
	default:
		h.Logger.Error("unhandled error", zap.Error(err))
		status, resp = http.StatusInternalServerError, ErrorResponse{Error: "Internal server error", Code: "internal"}
	}
	writeJSON(w, status, resp)
}

// parseQuery reads listing parameters from the URL. Both "sort"/"sortBy"
// and "direction"/"order" are accepted.
func parseQuery(r *http.Request, loc *time.Location) (voucher.Query, error) {
	params := r.URL.Query()
	var (
		q   voucher.Query
		err error
	)

	if q.View, err = voucher.ParseView(params.Get("view")); err != nil {
		return q, err
	}
	if q.Status, err = voucher.ParseStatusFilter(params.Get("status")); err != nil {
		return q, err
	}
	q.Search = firstParam(params, "q", "search")
	if q.SortBy, err = voucher.ParseSortField(firstParam(params, "sort", "sortBy")); err != nil {
		return q, err
	}
	if q.Direction, err = voucher.ParseDirection(firstParam(params, "direction", "order")); err != nil {
		return q, err
	}

	if s := params.Get("from"); s != "" {
		from, err := voucher.ParseDate(s, loc)
		if err != nil {
			return q, &voucher.ValidationError{Field: "from", Message: err.Error()}
		}
		q.From = &from
	}
	if s := params.Get("to"); s != "" {
		to, err := voucher.ParseDate(s, loc)
		if err != nil {
			return q, &voucher.ValidationError{Field: "to", Message: err.Error()}
		}
		q.To = &to
	}

	if q.Page, err = intParam(params.Get("page"), "page"); err != nil {
		return q, err
	}
	if q.PageSize, err = intParam(params.Get("pageSize"), "pageSize"); err != nil {
		return q, err
	}
	return q, nil
}

func firstParam(params url.Values, keys ...string) string {
	for _, k := range keys {
		if v := params.Get(k); v != "" {
			return v
		}
	}
	return ""
}

func intParam(s, field string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &voucher.ValidationError{Field: field, Message: "must be an integer"}
	}
	if n < 1 {
		return 0, &voucher.ValidationError{Field: field, Message: "must be at least 1"}
	}
	return n, nil
}
