package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingRegistry  = errors.New("syncer: registry is required")
	errMissingTransport = errors.New("syncer: transport is required")
	// ErrRoundInFlight signals that a sync round is already running; the new
	// trigger is a no-op rather than a concurrent round.
	ErrRoundInFlight = errors.New("syncer: sync round already in flight")
	noOpLogger       = zap.NewNop()
)

// RoundResponse is what the server returns for one sync round.
type RoundResponse struct {
	NewSyncTimestamp int64      `json:"newSyncTimestamp"`
	ServerChanges    []Envelope `json:"serverChanges"`
}

// Transport carries one sync round to the remote store.
type Transport interface {
	Round(ctx context.Context, watermark int64, changes []Envelope) (RoundResponse, error)
}

// Result is the structured outcome of a round. Expected failures (network,
// authorization) surface in Error with Success false and the watermark
// unchanged; they are never raised as panics.
type Result struct {
	Success   bool
	Error     error
	Watermark int64
	Pushed    int
	Applied   int
	Skipped   int
}

// EngineConfig assembles an Engine.
type EngineConfig struct {
	Registry  *Registry
	Transport Transport
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Engine reconciles the registered local tables against the remote store. One
// round pushes every pending record as a full snapshot, merges the server's
// changes under last-write-wins, and only then acknowledges the push. A failed
// round leaves every record pending and the watermark untouched, so retrying
// is always safe.
type Engine struct {
	registry  *Registry
	transport Transport
	logger    *zap.Logger
	clock     func() time.Time

	running    sync.Mutex
	cancelLock sync.Mutex
	cancel     context.CancelFunc
}

// NewEngine validates the configuration and constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	if cfg.Transport == nil {
		return nil, errMissingTransport
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		registry:  cfg.Registry,
		transport: cfg.Transport,
		logger:    logger,
		clock:     clock,
	}, nil
}

// Run executes one sync round starting from the supplied watermark and returns
// the watermark the caller should persist. The watermark is an explicit in/out
// value: the engine holds no hidden sync position of its own.
//
// Only one round runs at a time; a trigger while a round is in flight returns
// ErrRoundInFlight without touching any state.
func (e *Engine) Run(ctx context.Context, watermark int64) Result {
	if !e.running.TryLock() {
		return Result{Success: false, Error: ErrRoundInFlight, Watermark: watermark}
	}
	defer e.running.Unlock()

	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.setCancel(cancel)
	defer e.setCancel(nil)

	pending, err := e.collectPending(roundCtx)
	if err != nil {
		e.logger.Error("collecting pending changes failed", zap.Error(err))
		return Result{Success: false, Error: err, Watermark: watermark}
	}

	response, err := e.transport.Round(roundCtx, watermark, pending)
	if err != nil {
		e.logger.Warn("sync round rejected",
			zap.Int64("watermark", watermark),
			zap.Int("pushed", len(pending)),
			zap.Error(err))
		return Result{Success: false, Error: err, Watermark: watermark}
	}

	applied, skipped := e.applyServerChanges(roundCtx, response.ServerChanges)

	if err := e.acknowledgePush(roundCtx, pending); err != nil {
		return Result{Success: false, Error: err, Watermark: watermark}
	}

	e.logger.Info("sync round complete",
		zap.Int64("watermark", response.NewSyncTimestamp),
		zap.Int("pushed", len(pending)),
		zap.Int("applied", applied),
		zap.Int("skipped", skipped))

	return Result{
		Success:   true,
		Watermark: response.NewSyncTimestamp,
		Pushed:    len(pending),
		Applied:   applied,
		Skipped:   skipped,
	}
}

// Abort cancels the in-flight round, if any. A superseding sync trigger calls
// this before starting its own round.
func (e *Engine) Abort() {
	e.cancelLock.Lock()
	defer e.cancelLock.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) setCancel(cancel context.CancelFunc) {
	e.cancelLock.Lock()
	defer e.cancelLock.Unlock()
	e.cancel = cancel
}

func (e *Engine) collectPending(ctx context.Context) ([]Envelope, error) {
	var pending []Envelope
	for _, table := range e.registry.All() {
		changes, err := table.PendingChanges(ctx)
		if err != nil {
			return nil, err
		}
		pending = append(pending, changes...)
	}
	return pending, nil
}

// applyServerChanges merges incoming envelopes one by one. A malformed
// envelope or an unknown table skips that envelope and logs it; the rest of
// the round proceeds.
func (e *Engine) applyServerChanges(ctx context.Context, changes []Envelope) (applied, skipped int) {
	for _, change := range changes {
		meta, err := change.Meta()
		if err != nil {
			e.logger.Warn("skipping malformed server envelope",
				zap.String("table", change.Table),
				zap.Error(err))
			skipped++
			continue
		}
		table, ok := e.registry.Lookup(change.Table)
		if !ok {
			e.logger.Warn("skipping envelope for unknown table",
				zap.String("table", change.Table),
				zap.String("uuid", meta.UUID))
			skipped++
			continue
		}
		if err := table.ApplyRemote(ctx, change); err != nil {
			e.logger.Warn("skipping envelope that failed to apply",
				zap.String("table", change.Table),
				zap.String("uuid", meta.UUID),
				zap.Error(err))
			skipped++
			continue
		}
		applied++
	}
	return applied, skipped
}

func (e *Engine) acknowledgePush(ctx context.Context, pushed []Envelope) error {
	for _, envelope := range pushed {
		table, ok := e.registry.Lookup(envelope.Table)
		if !ok {
			continue
		}
		if err := table.AcknowledgePush(ctx, envelope); err != nil {
			e.logger.Error("acknowledging pushed envelope failed",
				zap.String("table", envelope.Table),
				zap.Error(err))
			return err
		}
	}
	return nil
}
