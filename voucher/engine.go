/*
engine.go - Voucher engine facade

PURPOSE:
  Ties the code generator, the state machine, the batch coordinator and the
  query engine to a TxStore. This is the only type the HTTP layer talks to.

OPERATIONS:
  Generate:          Mint N Pending vouchers in one transaction
  Apply:             Activate, Suspend, Expire or Archive a set of IDs
  Delete:            Remove a set of IDs and retire their codes
  UpdateExpiry:      Move one voucher's expiry (outside the state machine)
  Get / Lookup:      Single voucher by ID or code
  Snapshot:          Every voucher, newest first
  Query / Matching:  Filtered, sorted (and paginated) listings
  Select:            An explicit subset, for printing
  Stats:             Dashboard counters
  PurgeRetiredCodes: Drop code tombstones older than the retention window

CLOCK:
  All reads observe vouchers at e.now(). At(t) returns a copy pinned to t,
  used to backfill demo data and to make tests deterministic.

NOTIFICATIONS:
  After a successful commit the engine publishes an Event to its Notifier.
  Notification failures are logged, never returned.
*/
package voucher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds engine tuning knobs. Zero values take defaults.
type Config struct {
	CodeAlphabet       string
	CodeLength         int
	CodeMaxAttempts    int
	CodeRetention      time.Duration
	MaxBatchSize       int
	MaxPageSize        int
	ExpiringSoonWindow time.Duration
	Location           *time.Location
	NodeID             int64
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		CodeAlphabet:       DefaultAlphabet,
		CodeLength:         DefaultCodeLength,
		CodeMaxAttempts:    DefaultMaxAttempts,
		CodeRetention:      90 * day,
		MaxBatchSize:       1000,
		MaxPageSize:        MaxPageSize,
		ExpiringSoonWindow: 7 * day,
		Location:           time.UTC,
		NodeID:             1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CodeAlphabet == "" {
		c.CodeAlphabet = d.CodeAlphabet
	}
	if c.CodeLength == 0 {
		c.CodeLength = d.CodeLength
	}
	if c.CodeMaxAttempts == 0 {
		c.CodeMaxAttempts = d.CodeMaxAttempts
	}
	if c.CodeRetention == 0 {
		c.CodeRetention = d.CodeRetention
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	if c.MaxPageSize == 0 {
		c.MaxPageSize = d.MaxPageSize
	}
	if c.ExpiringSoonWindow == 0 {
		c.ExpiringSoonWindow = d.ExpiringSoonWindow
	}
	if c.Location == nil {
		c.Location = d.Location
	}
	return c
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// EventType identifies what happened.
type EventType string

const (
	EventGenerated     EventType = "vouchers.generated"
	EventActivated     EventType = "vouchers.activated"
	EventSuspended     EventType = "vouchers.suspended"
	EventExpired       EventType = "vouchers.expired"
	EventArchived      EventType = "vouchers.archived"
	EventDeleted       EventType = "vouchers.deleted"
	EventExpiryUpdated EventType = "vouchers.expiry_updated"
)

var operationEvents = map[Operation]EventType{
	OpActivate: EventActivated,
	OpSuspend:  EventSuspended,
	OpExpire:   EventExpired,
	OpArchive:  EventArchived,
	OpDelete:   EventDeleted,
}

// Event is a user-facing notification about a completed operation.
type Event struct {
	Type       EventType
	Title      string
	Message    string
	Count      int
	Failed     int
	Batch      string
	VoucherIDs []string
	At         time.Time
}

// Notifier receives events after each committed operation.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }

// =============================================================================
// ENGINE
// =============================================================================

// Engine is the voucher lifecycle engine.
type Engine struct {
	store    TxStore
	codes    *CodeGenerator
	ids      *snowflake.Node
	notifier Notifier
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time
}

// Option customizes an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	logger   *zap.Logger
	notifier Notifier
	clock    func() time.Time
	random   io.Reader
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option { return func(o *engineOptions) { o.logger = l } }

// WithNotifier sets the notification sink.
func WithNotifier(n Notifier) Option { return func(o *engineOptions) { o.notifier = n } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(o *engineOptions) { o.clock = now } }

// WithRandom replaces the code generator's randomness source.
func WithRandom(r io.Reader) Option { return func(o *engineOptions) { o.random = r } }

// NewEngine builds an engine over store.
func NewEngine(store TxStore, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("voucher engine requires a store")
	}
	cfg = cfg.withDefaults()

	o := engineOptions{logger: zap.NewNop(), notifier: nopNotifier{}, clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	codes, err := NewCodeGenerator(cfg.CodeAlphabet, cfg.CodeLength, cfg.CodeMaxAttempts, o.random)
	if err != nil {
		return nil, fmt.Errorf("invalid code settings: %w", err)
	}
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("invalid node id: %w", err)
	}

	return &Engine{
		store:    store,
		codes:    codes,
		ids:      node,
		notifier: o.notifier,
		logger:   o.logger,
		cfg:      cfg,
		now:      o.clock,
	}, nil
}

// At returns a copy of the engine whose clock is fixed at t.
func (e *Engine) At(t time.Time) *Engine {
	cp := *e
	cp.now = func() time.Time { return t }
	return &cp
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time { return e.now() }

// Location returns the location used for day-granularity filters.
func (e *Engine) Location() *time.Location { return e.cfg.Location }

// Store returns the underlying store.
func (e *Engine) Store() TxStore { return e.store }

// =============================================================================
// WRITES
// =============================================================================

// Generate mints opts.Count Pending vouchers. On a ConflictError the vouchers
// minted before the generator gave up are committed and returned with it.
func (e *Engine) Generate(ctx context.Context, opts GenerateOptions) ([]Voucher, error) {
	if err := opts.Validate(e.cfg.MaxBatchSize); err != nil {
		return nil, err
	}

	now := e.now()
	expiresAt := now.Add(opts.Validity.Duration())
	validity := opts.Validity
	if opts.ExpiresAt != nil {
		expiresAt = *opts.ExpiresAt
		validity = Validity(expiresAt.Sub(now))
	}
	if !expiresAt.After(now) {
		return nil, &ValidationError{Field: "expiration", Message: "must be in the future"}
	}

	var created []Voucher
	var conflict error
	err := e.store.WithTx(ctx, func(s Store) error {
		created = created[:0]
		retiredSince := now.Add(-e.cfg.CodeRetention)
		codes, genErr := e.codes.Generate(opts.Count, func(code string) (bool, error) {
			return s.CodeExists(ctx, code, retiredSince)
		})

		for _, code := range codes {
			v := Voucher{
				ID:          e.ids.Generate().String(),
				Code:        code,
				Status:      StatusPending,
				Batch:       opts.Batch,
				Validity:    validity,
				SpeedLimit:  opts.SpeedLimit,
				DeviceLimit: opts.DeviceLimit,
				CreatedAt:   now,
				ExpiresAt:   expiresAt,
			}
			if err := s.Upsert(ctx, v); err != nil {
				return storageErr("insert voucher", err)
			}
			created = append(created, v)
		}

		var cerr *ConflictError
		if errors.As(genErr, &cerr) {
			conflict = genErr
			return nil
		}
		return storageErr("check code", genErr)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("vouchers generated",
		zap.Int("requested", opts.Count),
		zap.Int("created", len(created)),
		zap.String("batch", opts.Batch),
		zap.String("validity", validity.String()),
	)
	if len(created) > 0 {
		e.notify(ctx, Event{
			Type:       EventGenerated,
			Title:      "Vouchers Generated",
			Message:    fmt.Sprintf("Successfully generated %d new voucher(s).", len(created)),
			Count:      len(created),
			Batch:      opts.Batch,
			VoucherIDs: voucherIDs(created),
			At:         now,
		})
	}
	return created, conflict
}

// Apply runs a lifecycle operation over ids.
func (e *Engine) Apply(ctx context.Context, op Operation, ids []string) (BatchResult, error) {
	if _, ok := op.Target(); !ok {
		return BatchResult{}, &ValidationError{Field: "operation", Message: fmt.Sprintf("%q is not a lifecycle operation", op)}
	}
	now := e.now()
	return e.batch(ctx, op, ids, transitionItem(op, now), now)
}

// Delete removes ids permanently and retires their codes.
func (e *Engine) Delete(ctx context.Context, ids []string) (BatchResult, error) {
	now := e.now()
	return e.batch(ctx, OpDelete, ids, deleteItem(now), now)
}

func (e *Engine) batch(ctx context.Context, op Operation, ids []string, fn itemFunc, now time.Time) (BatchResult, error) {
	ids, err := normalizeIDs(ids)
	if err != nil {
		return BatchResult{}, err
	}

	var result BatchResult
	err = e.store.WithTx(ctx, func(s Store) error {
		r, err := runBatch(ctx, s, op, ids, fn)
		result = r
		return err
	})
	if err != nil {
		e.logger.Error("batch operation failed", zap.String("operation", string(op)), zap.Int("ids", len(ids)), zap.Error(err))
		return BatchResult{}, storageErr(string(op)+" batch", err)
	}

	e.logger.Info("batch operation applied",
		zap.String("operation", string(op)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("changed", result.Changed),
	)
	if result.Changed > 0 {
		e.notify(ctx, Event{
			Type:       operationEvents[op],
			Title:      "Vouchers " + cases.Title(language.English).String(op.PastTense()),
			Message:    result.Summary(),
			Count:      result.Succeeded,
			Failed:     result.Failed,
			VoucherIDs: result.ChangedIDs(),
			At:         now,
		})
	}
	return result, nil
}

// UpdateExpiry moves the expiry of the voucher owning code. Expired and
// Archived vouchers are locked; the new expiry must follow CreatedAt.
func (e *Engine) UpdateExpiry(ctx context.Context, code string, expiresAt time.Time) (Voucher, error) {
	code = NormalizeCode(code)
	if code == "" {
		return Voucher{}, &ValidationError{Field: "code", Message: "code is required"}
	}
	now := e.now()

	var updated Voucher
	err := e.store.WithTx(ctx, func(s Store) error {
		v, err := s.GetByCode(ctx, code)
		if err != nil {
			return storageErr("load voucher", err)
		}
		if st := v.EffectiveStatus(now); st == StatusExpired || st == StatusArchived {
			return &ExpiryLockedError{Code: code, Status: st}
		}
		if !expiresAt.After(v.CreatedAt) {
			return &ValidationError{Field: "expiration", Message: "must be after the voucher's creation time"}
		}

		v.ExpiresAt = expiresAt
		v.Validity = Validity(expiresAt.Sub(v.CreatedAt))
		if err := s.Upsert(ctx, v); err != nil {
			return storageErr("update voucher", err)
		}
		updated = v
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}

	e.logger.Info("voucher expiry updated", zap.String("code", code), zap.Time("expiresAt", expiresAt))
	e.notify(ctx, Event{
		Type:       EventExpiryUpdated,
		Title:      "Expiry Updated",
		Message:    fmt.Sprintf("Voucher %s now expires %s.", code, expiresAt.In(e.cfg.Location).Format(time.DateOnly)),
		Count:      1,
		VoucherIDs: []string{updated.ID},
		At:         now,
	})
	return updated.Observed(now), nil
}

// =============================================================================
// READS
// =============================================================================

// Get returns one voucher by ID.
func (e *Engine) Get(ctx context.Context, id string) (Voucher, error) {
	v, err := e.store.Get(ctx, id)
	if err != nil {
		return Voucher{}, storageErr("get voucher", err)
	}
	return v.Observed(e.now()), nil
}

// Lookup returns one voucher by code.
func (e *Engine) Lookup(ctx context.Context, code string) (Voucher, error) {
	v, err := e.store.GetByCode(ctx, NormalizeCode(code))
	if err != nil {
		return Voucher{}, storageErr("lookup voucher", err)
	}
	return v.Observed(e.now()), nil
}

// Snapshot returns every voucher, newest first.
func (e *Engine) Snapshot(ctx context.Context) ([]Voucher, error) {
	now := e.now()
	all, err := e.observed(ctx, now)
	if err != nil {
		return nil, err
	}
	Sort(all, SortCreatedAt, Descending)
	return all, nil
}

// Query returns one page of vouchers matching q.
func (e *Engine) Query(ctx context.Context, q Query) (QueryResult, error) {
	q, err := q.normalize(e.cfg.MaxPageSize)
	if err != nil {
		return QueryResult{}, err
	}
	matched, err := e.matching(ctx, q)
	if err != nil {
		return QueryResult{}, err
	}
	return Paginate(matched, q.Page, q.PageSize), nil
}

// Matching returns every voucher matching q, sorted, without pagination.
func (e *Engine) Matching(ctx context.Context, q Query) ([]Voucher, error) {
	q.Page, q.PageSize = 1, 1
	q, err := q.normalize(e.cfg.MaxPageSize)
	if err != nil {
		return nil, err
	}
	return e.matching(ctx, q)
}

func (e *Engine) matching(ctx context.Context, q Query) ([]Voucher, error) {
	now := e.now()
	all, err := e.observed(ctx, now)
	if err != nil {
		return nil, err
	}
	matched := Filter(all, q, now, e.cfg.Location)
	Sort(matched, q.SortBy, q.Direction)
	return matched, nil
}

// Select returns the vouchers with the given IDs, in input order.
func (e *Engine) Select(ctx context.Context, ids []string) ([]Voucher, error) {
	ids, err := normalizeIDs(ids)
	if err != nil {
		return nil, err
	}
	now := e.now()
	out := make([]Voucher, 0, len(ids))
	for _, id := range ids {
		v, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, storageErr("get voucher", err)
		}
		out = append(out, v.Observed(now))
	}
	return out, nil
}

// Stats returns dashboard counters.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	all, err := e.store.List(ctx)
	if err != nil {
		return Stats{}, storageErr("list vouchers", err)
	}
	return ComputeStats(all, e.now(), e.cfg.ExpiringSoonWindow), nil
}

// PurgeRetiredCodes drops code tombstones older than the retention window.
func (e *Engine) PurgeRetiredCodes(ctx context.Context) (int, error) {
	cutoff := e.now().Add(-e.cfg.CodeRetention)
	n, err := e.store.PurgeRetiredCodes(ctx, cutoff)
	if err != nil {
		return 0, storageErr("purge retired codes", err)
	}
	if n > 0 {
		e.logger.Info("retired codes purged", zap.Int("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

func (e *Engine) observed(ctx context.Context, now time.Time) ([]Voucher, error) {
	all, err := e.store.List(ctx)
	if err != nil {
		return nil, storageErr("list vouchers", err)
	}
	out := slices.Clone(all)
	for i := range out {
		out[i] = out[i].Observed(now)
	}
	return out, nil
}

func (e *Engine) notify(ctx context.Context, ev Event) {
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.logger.Warn("notification failed", zap.String("event", string(ev.Type)), zap.Error(err))
	}
}

func voucherIDs(vs []Voucher) []string {
	ids := make([]string, len(vs))
	for i, v := range vs {
		ids[i] = v.ID
	}
	return ids
}

