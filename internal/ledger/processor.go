// Package ledger runs the long-lived command processor: it consumes signed
// command envelopes from a stream, executes them one at a time against the
// engine and appends a result record for each.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wagerwars/internal/command"
	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// Defaults for Config fields left zero.
const (
	DefaultCommandStream = "commands"
	DefaultResultStream  = "results"
	DefaultLeaderKey     = "ledger:leader"
	DefaultBatchSize     = 64
	DefaultPollInterval  = 250 * time.Millisecond
	DefaultDedupTTL      = 24 * time.Hour
	DefaultLeaderTTL     = 15 * time.Second
	DefaultRateWindow    = time.Minute
)

// Envelope rejections recorded in the results stream.
var (
	ErrMalformedEnvelope = &domain.Error{Kind: domain.KindValidation, Code: "malformed_envelope", Message: "envelope could not be decoded"}
	ErrBadSignature      = &domain.Error{Kind: domain.KindAuthorization, Code: "bad_signature", Message: "envelope signature does not match its signer"}
	ErrSignerThrottled   = &domain.Error{Kind: domain.KindState, Code: "rate_limited", Message: "signer exceeded its command rate"}
)

// Executor runs one command for a caller.
type Executor interface {
	Execute(ctx context.Context, caller string, cmd domain.Command) (any, error)
}

// Verifier recovers the signer of an envelope.
type Verifier interface {
	Recover(env domain.Envelope) (string, error)
}

// Chain reads and advances the ledger height.
type Chain interface {
	Height(ctx context.Context) (uint64, error)
	AdvanceHeight(ctx context.Context, blocks uint64) (uint64, error)
}

// Observer receives one call per processed stream entry. outcome is "ok",
// "duplicate" or the engine error code.
type Observer interface {
	ObserveCommand(name, outcome string, elapsed time.Duration)
}

// Config tunes the processor.
type Config struct {
	CommandStream string
	ResultStream  string
	LeaderKey     string
	BatchSize     int
	PollInterval  time.Duration
	DedupTTL      time.Duration
	LeaderTTL     time.Duration
	RateLimit     int // commands per signer per RateWindow; 0 disables
	RateWindow    time.Duration
	BlockInterval time.Duration // height ticker period; 0 disables
}

func (c Config) withDefaults() Config {
	if c.CommandStream == "" {
		c.CommandStream = DefaultCommandStream
	}
	if c.ResultStream == "" {
		c.ResultStream = DefaultResultStream
	}
	if c.LeaderKey == "" {
		c.LeaderKey = DefaultLeaderKey
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = DefaultDedupTTL
	}
	if c.LeaderTTL <= 0 {
		c.LeaderTTL = DefaultLeaderTTL
	}
	if c.RateWindow <= 0 {
		c.RateWindow = DefaultRateWindow
	}
	return c
}

// Deps are the processor's collaborators. Limiter and Observer may be nil.
type Deps struct {
	Bus      domain.SignalBus
	Locks    domain.LockManager
	Limiter  domain.RateLimiter
	Executor Executor
	Verifier Verifier
	Chain    Chain
	Observer Observer
	Logger   *slog.Logger
}

// Processor is the single writer of the ledger command stream.
type Processor struct {
	d      Deps
	cfg    Config
	dedup  *Dedup
	lastID string
	logger *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(d Deps, cfg Config) *Processor {
	cfg = cfg.withDefaults()
	return &Processor{
		d:      d,
		cfg:    cfg,
		dedup:  NewDedup(cfg.DedupTTL),
		lastID: "0",
		logger: d.Logger.With(slog.String("component", "ledger_processor")),
	}
}

// LastID returns the id of the last command stream entry processed.
func (p *Processor) LastID() string { return p.lastID }

// Run waits for leadership, resumes after the last answered entry and then
// processes commands until ctx is cancelled or leadership is lost.
func (p *Processor) Run(ctx context.Context) error {
	lease, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	if err := p.Resume(ctx); err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "ledger processor started",
		slog.String("stream", p.cfg.CommandStream),
		slog.String("resume_after", p.lastID),
	)
	defer p.logger.Info("ledger processor stopped")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.keepLease(gctx, lease) })
	g.Go(func() error { return p.consume(gctx) })
	if p.cfg.BlockInterval > 0 {
		g.Go(func() error { return p.tickHeight(gctx) })
	}
	return g.Wait()
}

// acquire retries until the leader lock is held or ctx ends.
func (p *Processor) acquire(ctx context.Context) (domain.Lease, error) {
	for {
		lease, err := p.d.Locks.Acquire(ctx, p.cfg.LeaderKey, p.cfg.LeaderTTL)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("ledger: acquire %s: %w", p.cfg.LeaderKey, err)
		}
		p.logger.DebugContext(ctx, "waiting for leadership", slog.String("key", p.cfg.LeaderKey))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.cfg.LeaderTTL / 2):
		}
	}
}

func (p *Processor) keepLease(ctx context.Context, lease domain.Lease) error {
	ticker := time.NewTicker(p.cfg.LeaderTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := lease.Refresh(ctx, p.cfg.LeaderTTL); err != nil {
				return fmt.Errorf("ledger: leadership lost: %w", err)
			}
		}
	}
}

func (p *Processor) consume(ctx context.Context) error {
	cleanup := time.NewTicker(p.cfg.DedupTTL / 4)
	defer cleanup.Stop()
	for {
		n, err := p.ProcessBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.WarnContext(ctx, "stream read failed", slog.String("error", err.Error()))
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleanup.C:
			p.dedup.Cleanup()
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

func (p *Processor) tickHeight(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.BlockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.d.Chain.AdvanceHeight(ctx, 1); err != nil {
				p.logger.WarnContext(ctx, "height tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Resume replays the results stream to find the last answered command
// entry and to re-seed duplicate detection.
func (p *Processor) Resume(ctx context.Context) error {
	after := "0"
	for {
		msgs, err := p.d.Bus.StreamRead(ctx, p.cfg.ResultStream, after, p.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("ledger: resume from %s: %w", p.cfg.ResultStream, err)
		}
		if len(msgs) == 0 {
			return nil
		}
		for _, m := range msgs {
			after = m.ID
			var res domain.Result
			if err := json.Unmarshal(m.Payload, &res); err != nil {
				p.logger.WarnContext(ctx, "skipping unreadable result",
					slog.String("id", m.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if res.StreamID != "" {
				p.lastID = res.StreamID
			}
			if res.EnvelopeID != "" && executed(res) {
				p.dedup.Record(res.EnvelopeID)
			}
		}
	}
}

// executed reports whether a result came from a dispatched command. Envelopes
// rejected before dispatch never ran, so a resubmission must still execute.
func executed(res domain.Result) bool {
	switch res.ErrorCode {
	case ErrSignerThrottled.Code, ErrBadSignature.Code, ErrMalformedEnvelope.Code:
		return false
	}
	return true
}

// ProcessBatch handles the next batch of command entries and returns how
// many were consumed.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	msgs, err := p.d.Bus.StreamRead(ctx, p.cfg.CommandStream, p.lastID, p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("ledger: read %s: %w", p.cfg.CommandStream, err)
	}
	for _, m := range msgs {
		p.process(ctx, m)
		p.lastID = m.ID
	}
	return len(msgs), nil
}

func (p *Processor) process(ctx context.Context, m domain.StreamMessage) {
	start := time.Now()

	var env domain.Envelope
	if err := json.Unmarshal(m.Payload, &env); err != nil || env.ID == "" {
		reason := "missing envelope id"
		if err != nil {
			reason = err.Error()
		}
		env = domain.Envelope{ID: m.ID}
		p.finish(ctx, m, env, "", nil, fmt.Errorf("%w: %s", ErrMalformedEnvelope, reason), start)
		return
	}

	log := p.logger.With(
		slog.String("envelope_id", env.ID),
		slog.String("command", env.Command.Name),
	)

	caller, err := p.d.Verifier.Recover(env)
	if err != nil {
		log.WarnContext(ctx, "envelope rejected", slog.String("error", err.Error()))
		p.finish(ctx, m, env, "", nil, fmt.Errorf("%w: %w", ErrBadSignature, err), start)
		return
	}

	if p.dedup.Seen(env.ID) {
		log.InfoContext(ctx, "duplicate envelope dropped", slog.String("caller", caller))
		p.observe(env.Command.Name, "duplicate", start)
		return
	}

	if p.d.Limiter != nil && p.cfg.RateLimit > 0 {
		ok, err := p.d.Limiter.Allow(ctx, "signer:"+caller, p.cfg.RateLimit, p.cfg.RateWindow)
		if err != nil {
			log.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		} else if !ok {
			p.finish(ctx, m, env, caller, nil, ErrSignerThrottled, start)
			return
		}
	}

	v, err := p.d.Executor.Execute(ctx, caller, env.Command)
	p.dedup.Record(env.ID)
	p.finish(ctx, m, env, caller, v, err, start)
}

// finish appends the result record and reports the outcome.
func (p *Processor) finish(ctx context.Context, m domain.StreamMessage, env domain.Envelope, caller string, v any, err error, start time.Time) {
	height, hErr := p.d.Chain.Height(ctx)
	if hErr != nil {
		p.logger.WarnContext(ctx, "height read failed", slog.String("error", hErr.Error()))
	}

	res := command.Result(env, caller, height, v, err)
	res.StreamID = m.ID

	payload, mErr := json.Marshal(res)
	if mErr != nil {
		p.logger.ErrorContext(ctx, "result encode failed",
			slog.String("envelope_id", env.ID),
			slog.String("error", mErr.Error()),
		)
	} else if aErr := p.d.Bus.StreamAppend(ctx, p.cfg.ResultStream, payload); aErr != nil {
		p.logger.WarnContext(ctx, "result append failed",
			slog.String("envelope_id", env.ID),
			slog.String("error", aErr.Error()),
		)
	}

	outcome := "ok"
	if err != nil {
		outcome = res.ErrorCode
	}
	p.observe(env.Command.Name, outcome, start)
}

func (p *Processor) observe(name, outcome string, start time.Time) {
	if p.d.Observer != nil {
		p.d.Observer.ObserveCommand(name, outcome, time.Since(start))
	}
}
