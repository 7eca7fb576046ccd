// Package engine implements the Checking-Point Engine's poll/fanout/
// dispatch pipeline of §4.3: one poll-to-dispatch pass per registered
// source, fanned out across the applicable CPs for each item with
// priority ordering and stop-on-match short-circuiting.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/agentoven/monitor-core/internal/retry"
	"github.com/agentoven/monitor-core/pkg/checkpoint"
	"github.com/agentoven/monitor-core/pkg/monitoring"
)

// ResultHandler receives every CheckResult produced for an item, in
// priority order, whether or not it stopped the fanout. cp is the CP
// that produced result, so a handler can route ImmediateActions/
// AfterProcess without its own registry lookup.
type ResultHandler func(ctx context.Context, cp checkpoint.CheckingPoint, data *monitoring.Data, result *monitoring.CheckResult)

// Source is a pollable origin of monitoring.Data items. Concrete
// sources (webhook buffers, log tailers, queue consumers) satisfy this
// with their own Fetch semantics, kept separate from any one CP's
// Fetch so a source can feed several CPs in one poll.
type Source interface {
	Name() string
	Poll(ctx context.Context, params map[string]interface{}) ([]*monitoring.Data, error)
}

// Config bounds the Engine's concurrency and per-item retry behavior.
type Config struct {
	// MaxConcurrentItems bounds how many items are fanned out across
	// CPs at once, process-wide.
	MaxConcurrentItems int64
	// PerCPRetry is independent of the MCP client's own retry budget;
	// it governs retrying a CP's Evaluate call itself, per §4.3's
	// "per-CP retry budget independent of the MCP client's."
	PerCPRetry retry.Config
	// EvaluateTimeout bounds one CP's Evaluate call when the CP's own
	// Timeout() is unset or reports zero.
	EvaluateTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentItems: 32,
		PerCPRetry:         retry.DefaultConfig(),
		EvaluateTimeout:    30 * time.Second,
	}
}

// Engine owns the registry and drives one poll-to-dispatch pass per
// Source, per §4.3. At most one poll per source is in flight at a
// time; fanout across a poll's items is bounded by a semaphore.
type Engine struct {
	registry *checkpoint.Registry
	cfg      Config
	onResult ResultHandler

	sem *semaphore.Weighted

	pollMu  sync.Mutex
	polling map[string]bool
}

func New(registry *checkpoint.Registry, cfg Config, onResult ResultHandler) *Engine {
	if cfg.MaxConcurrentItems <= 0 {
		cfg.MaxConcurrentItems = 32
	}
	return &Engine{
		registry: registry,
		cfg:      cfg,
		onResult: onResult,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrentItems),
		polling:  make(map[string]bool),
	}
}

// PollOnce runs a single poll-fanout-dispatch pass for source. If a
// poll for this source name is already in flight, PollOnce returns
// immediately without error — at-most-one-in-flight per §4.3.
func (e *Engine) PollOnce(ctx context.Context, src Source, params map[string]interface{}) error {
	if !e.tryBeginPoll(src.Name()) {
		log.Debug().Str("source", src.Name()).Msg("engine: poll already in flight, skipping")
		return nil
	}
	defer e.endPoll(src.Name())

	items, err := src.Poll(ctx, params)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, item := range items {
		item := item
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return ctx.Err()
		}
		wg.Add(1)
		go func() {
			defer e.sem.Release(1)
			defer wg.Done()
			e.processItem(ctx, item)
		}()
	}
	wg.Wait()
	return nil
}

func (e *Engine) tryBeginPoll(name string) bool {
	e.pollMu.Lock()
	defer e.pollMu.Unlock()
	if e.polling[name] {
		return false
	}
	e.polling[name] = true
	return true
}

func (e *Engine) endPoll(name string) {
	e.pollMu.Lock()
	defer e.pollMu.Unlock()
	delete(e.polling, name)
}

// processItem runs the item through every applicable CP in priority
// order, stopping early when a CP both matches (ShouldAct) and sets
// StopOnMatch, per §9's resolved per-item scope for stop-on-match.
func (e *Engine) processItem(ctx context.Context, data *monitoring.Data) {
	data.Status = monitoring.StatusProcessing

	cps := e.registry.ApplicableFor(data)
	for _, cp := range cps {
		result, err := e.evaluate(ctx, cp, data)
		if err != nil {
			data.AddError(err.Error())
			log.Warn().Err(err).Str("cp", cp.Name()).Str("item", data.ID).Msg("engine: evaluate failed")
			continue
		}

		if e.onResult != nil {
			e.onResult(ctx, cp, data, result)
		}

		if result.ShouldAct && cp.StopOnMatch() {
			break
		}
	}

	if !data.Terminal() {
		if len(data.Errors) > 0 {
			data.MarkTerminal(monitoring.StatusFailed)
		} else {
			data.MarkTerminal(monitoring.StatusCompleted)
		}
	}
}

// evaluate calls cp.Evaluate under cp's own timeout (or the Engine's
// default) with an independent retry budget.
func (e *Engine) evaluate(ctx context.Context, cp checkpoint.CheckingPoint, data *monitoring.Data) (*monitoring.CheckResult, error) {
	timeout := cp.Timeout()
	if timeout <= 0 {
		timeout = e.cfg.EvaluateTimeout
	}

	var result *monitoring.CheckResult
	err := retry.Do(ctx, e.cfg.PerCPRetry, "cp_evaluate:"+cp.Name(), func(attemptCtx context.Context, attempt int) error {
		attemptCtx, cancel := context.WithTimeout(attemptCtx, timeout)
		defer cancel()
		r, evalErr := cp.Evaluate(attemptCtx, data)
		if evalErr != nil {
			return evalErr
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
