/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	voucher data for demos and manual testing. Every voucher is created
	through the engine, so codes, IDs and transitions follow the same rules
	as live traffic.

AVAILABLE SCENARIOS:

	hotspot-demo:    50 vouchers spread over the last 30 days, mixed statuses
	promo-campaign:  Labelled promo batches plus a few unlabelled vouchers
	empty:           Clears every voucher

HOW SCENARIOS WORK:
 1. Reset the store (vouchers and retired codes)
 2. Generate vouchers with the engine pinned to a past clock (Engine.At)
 3. Apply lifecycle operations at a later past instant

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "hotspot-demo"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler type
  - voucher/engine.go: Engine.At
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/superlink/voucher-engine/voucher"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const (
	ScenarioHotspotDemo   = "hotspot-demo"
	ScenarioPromoCampaign = "promo-campaign"
	ScenarioEmpty         = "empty"
)

var scenarios = []ScenarioDTO{
	{
		ID:          ScenarioHotspotDemo,
		Name:        "Hotspot Demo",
		Description: "50 vouchers created over the last 30 days with mixed statuses, speeds and batches",
	},
	{
		ID:          ScenarioPromoCampaign,
		Name:        "Promo Campaign",
		Description: "Promo1, Promo2 and VIP-Lounge batches plus unlabelled walk-in vouchers",
	},
	{
		ID:          ScenarioEmpty,
		Name:        "Empty",
		Description: "No vouchers",
	},
}

// ErrUnknownScenario is returned for an unrecognised scenario ID.
var ErrUnknownScenario = errors.New("unknown scenario")

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, ErrUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		h.writeEngineError(w, err)
		return
	}

	stats, err := h.Engine.Stats(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  fmt.Sprintf("Scenario %q loaded", req.ScenarioID),
		"scenario": req.ScenarioID,
		"stats":    toStatsDTO(stats),
	})
}

// LoadScenarioByID resets the store and loads the named scenario.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	var load func(context.Context) error
	switch id {
	case ScenarioHotspotDemo:
		load = h.loadHotspotDemoScenario
	case ScenarioPromoCampaign:
		load = h.loadPromoCampaignScenario
	case ScenarioEmpty:
		load = func(context.Context) error { return nil }
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScenario, id)
	}

	resetter, ok := h.Engine.Store().(voucher.Resetter)
	if !ok {
		return errors.New("store does not support reset")
	}
	if err := resetter.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	if err := load(ctx); err != nil {
		return fmt.Errorf("failed to load scenario %s: %w", id, err)
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()

	h.Logger.Info("scenario loaded", zap.String("scenario", id))
	return nil
}

// =============================================================================
// HOTSPOT DEMO
// =============================================================================

var (
	demoValidities = []voucher.Validity{voucher.Days(1), voucher.Days(7), voucher.Days(30), voucher.Validity(12 * time.Hour), voucher.Days(14)}
	demoSpeeds     = []string{"5 Mbps", "10 Mbps", "", "512 Kbps", "1 Gbps"}
	demoBatches    = []string{"Lobby", "Cafe", "", "Conference", "Weekend-Promo"}
	demoStatuses   = []voucher.Status{voucher.StatusActive, voucher.StatusPending, voucher.StatusExpired, voucher.StatusSuspended}
)

// loadHotspotDemoScenario creates 50 vouchers backdated across 30 days.
// Each voucher reaches its status through real transitions one hour after
// creation.
func (h *Handler) loadHotspotDemoScenario(ctx context.Context) error {
	const count = 50
	now := h.Engine.Now()
	step := 30 * 24 * time.Hour / count

	for i := 0; i < count; i++ {
		createdAt := now.Add(-time.Duration(i+1) * step)
		speed, err := voucher.ParseSpeedLimit(demoSpeeds[i%len(demoSpeeds)])
		if err != nil {
			return err
		}

		created, err := h.Engine.At(createdAt).Generate(ctx, voucher.GenerateOptions{
			Count:       1,
			Validity:    demoValidities[i%len(demoValidities)],
			SpeedLimit:  speed,
			DeviceLimit: 1 + i%3,
			Batch:       demoBatches[i%len(demoBatches)],
		})
		if err != nil {
			return err
		}

		if err := h.advance(ctx, createdAt.Add(time.Hour), voucherIDsOf(created), demoStatuses[i%len(demoStatuses)]); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// PROMO CAMPAIGN
// =============================================================================

type promoBatch struct {
	label    string
	count    int
	validity voucher.Validity
	speed    string
	devices  int
	status   voucher.Status
	age      time.Duration
}

var promoBatches = []promoBatch{
	{label: "Promo1", count: 20, validity: voucher.Days(7), speed: "10 Mbps", devices: 1, status: voucher.StatusActive, age: 2 * 24 * time.Hour},
	{label: "Promo2", count: 15, validity: voucher.Days(3), speed: "5 Mbps", devices: 1, status: voucher.StatusPending, age: 6 * time.Hour},
	{label: "VIP-Lounge", count: 5, validity: voucher.Days(30), speed: "50 Mbps", devices: 3, status: voucher.StatusActive, age: 10 * 24 * time.Hour},
	{label: "Promo1", count: 4, validity: voucher.Days(7), speed: "10 Mbps", devices: 1, status: voucher.StatusSuspended, age: 3 * 24 * time.Hour},
	{label: "", count: 6, validity: voucher.Days(1), speed: "", devices: 2, status: voucher.StatusPending, age: 2 * time.Hour},
}

func (h *Handler) loadPromoCampaignScenario(ctx context.Context) error {
	now := h.Engine.Now()
	for _, b := range promoBatches {
		speed, err := voucher.ParseSpeedLimit(b.speed)
		if err != nil {
			return err
		}
		createdAt := now.Add(-b.age)
		created, err := h.Engine.At(createdAt).Generate(ctx, voucher.GenerateOptions{
			Count:       b.count,
			Validity:    b.validity,
			SpeedLimit:  speed,
			DeviceLimit: b.devices,
			Batch:       b.label,
		})
		if err != nil {
			return err
		}
		if err := h.advance(ctx, createdAt.Add(time.Hour), voucherIDsOf(created), b.status); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// advance moves freshly generated Pending vouchers to target at instant at.
func (h *Handler) advance(ctx context.Context, at time.Time, ids []string, target voucher.Status) error {
	var ops []voucher.Operation
	switch target {
	case voucher.StatusPending:
		return nil
	case voucher.StatusActive:
		ops = []voucher.Operation{voucher.OpActivate}
	case voucher.StatusSuspended:
		ops = []voucher.Operation{voucher.OpActivate, voucher.OpSuspend}
	case voucher.StatusExpired:
		ops = []voucher.Operation{voucher.OpExpire}
	case voucher.StatusArchived:
		ops = []voucher.Operation{voucher.OpExpire, voucher.OpArchive}
	}

	engine := h.Engine.At(at)
	for _, op := range ops {
		res, err := engine.Apply(ctx, op, ids)
		if err != nil {
			return err
		}
		if res.Failed > 0 {
			return fmt.Errorf("%s: %s", op, res.Summary())
		}
	}
	return nil
}

func voucherIDsOf(vs []voucher.Voucher) []string {
	ids := make([]string, len(vs))
	for i, v := range vs {
		ids[i] = v.ID
	}
	return ids
}
