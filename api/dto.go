/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's domain model from the external API contract. Field names are
  camelCase to match the portal frontend.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Vouchers:
    VoucherDTO, VoucherListResponse, SearchResponse, LookupDTO

  Generation:
    GenerateRequest, GenerateResponse

  Batch operations:
    BatchRequest, BatchResponse, BatchItemDTO

  Expiry:
    UpdateExpiryRequest

  Stats / Auth / Scenarios:
    StatsDTO, AuthVerifyResponse, ScenarioDTO, LoadScenarioRequest

VALIDATION:
  DTOs are pure data carriers. Parsing into engine types happens in the
  handlers; field rules live in voucher.GenerateOptions.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/superlink/voucher-engine/voucher"
)

// =============================================================================
// VOUCHERS
// =============================================================================

// VoucherDTO represents a voucher in API responses.
type VoucherDTO struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Status      string    `json:"status"`
	Batch       string    `json:"batch,omitempty"`
	Validity    string    `json:"validity"`
	SpeedLimit  string    `json:"speedLimit"`
	RateLimit   string    `json:"rateLimit,omitempty"`
	DeviceLimit int       `json:"deviceLimit"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func toVoucherDTO(v voucher.Voucher) VoucherDTO {
	return VoucherDTO{
		ID:          v.ID,
		Code:        v.Code,
		Status:      string(v.Status),
		Batch:       v.Batch,
		Validity:    v.Validity.String(),
		SpeedLimit:  v.SpeedLimit.String(),
		RateLimit:   v.SpeedLimit.RateLimit(),
		DeviceLimit: v.DeviceLimit,
		CreatedAt:   v.CreatedAt.UTC(),
		ExpiresAt:   v.ExpiresAt.UTC(),
	}
}

func toVoucherDTOs(vs []voucher.Voucher) []VoucherDTO {
	out := make([]VoucherDTO, len(vs))
	for i, v := range vs {
		out[i] = toVoucherDTO(v)
	}
	return out
}

// VoucherListResponse is the full snapshot.
type VoucherListResponse struct {
	Vouchers []VoucherDTO `json:"vouchers"`
}

// SearchResponse is one page of a server-side query.
type SearchResponse struct {
	Vouchers   []VoucherDTO `json:"vouchers"`
	Total      int          `json:"total"`
	Page       int          `json:"page"`
	PageSize   int          `json:"pageSize"`
	TotalPages int          `json:"totalPages"`
}

// LookupDTO is a voucher plus its redemption links.
type LookupDTO struct {
	VoucherDTO
	RedeemURL  string `json:"redeemUrl"`
	QRImageURL string `json:"qrImageUrl"`
}

// =============================================================================
// GENERATION
// =============================================================================

// GenerateRequest is the body of POST /vouchers.
// Validity ("7d", "12h") or Expiration ("2026-03-01" or RFC 3339) is required.
type GenerateRequest struct {
	Count       int    `json:"count"`
	Validity    string `json:"validity,omitempty"`
	Expiration  string `json:"expiration,omitempty"`
	SpeedLimit  string `json:"speedLimit,omitempty"`
	DeviceLimit *int   `json:"deviceLimit,omitempty"`
	Batch       string `json:"batch,omitempty"`
}

// GenerateResponse lists the created vouchers. Warning is set when the code
// space ran out before Count vouchers were minted.
type GenerateResponse struct {
	Message  string       `json:"message"`
	Vouchers []VoucherDTO `json:"vouchers"`
	Warning  string       `json:"warning,omitempty"`
}

// =============================================================================
// BATCH OPERATIONS
// =============================================================================

// BatchRequest is the body of every bulk endpoint.
type BatchRequest struct {
	VoucherIDs []string `json:"voucherIds"`
}

// BatchItemDTO is the outcome for one ID.
type BatchItemDTO struct {
	ID      string `json:"id"`
	Status  string `json:"status"` // succeeded | failed
	Changed bool   `json:"changed"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// BatchResponse summarizes a bulk operation.
type BatchResponse struct {
	Operation string         `json:"operation"`
	Message   string         `json:"message"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Changed   int            `json:"changed"`
	Results   []BatchItemDTO `json:"results"`
}

func toBatchResponse(r voucher.BatchResult) BatchResponse {
	items := make([]BatchItemDTO, len(r.Items))
	for i, it := range r.Items {
		status := "succeeded"
		if !it.Succeeded {
			status = "failed"
		}
		items[i] = BatchItemDTO{
			ID:      it.ID,
			Status:  status,
			Changed: it.Changed,
			From:    string(it.From),
			To:      string(it.To),
			Reason:  it.Reason(),
		}
	}
	return BatchResponse{
		Operation: string(r.Operation),
		Message:   r.Summary(),
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
		Changed:   r.Changed,
		Results:   items,
	}
}

// UpdateExpiryRequest is the body of PUT /vouchers/{code}/expiration.
type UpdateExpiryRequest struct {
	Expiration string `json:"expiration"`
}

// =============================================================================
// STATS / AUTH / SCENARIOS
// =============================================================================

// StatsDTO holds dashboard counters.
type StatsDTO struct {
	Total        int `json:"total"`
	Active       int `json:"active"`
	Pending      int `json:"pending"`
	Expired      int `json:"expired"`
	Suspended    int `json:"suspended"`
	Archived     int `json:"archived"`
	ExpiringSoon int `json:"expiringSoon"`
}

func toStatsDTO(s voucher.Stats) StatsDTO {
	return StatsDTO{
		Total:        s.Total,
		Active:       s.Active,
		Pending:      s.Pending,
		Expired:      s.Expired,
		Suspended:    s.Suspended,
		Archived:     s.Archived,
		ExpiringSoon: s.ExpiringSoon,
	}
}

// AuthVerifyResponse echoes the verified caller.
type AuthVerifyResponse struct {
	Valid    bool   `json:"valid"`
	UserID   string `json:"userId"`
	Role     string `json:"role"`
	TenantID string `json:"tenantId,omitempty"`
}

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
