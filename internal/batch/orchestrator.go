// Package batch resolves many fields in fixed-size concurrent groups and reports progress
// after each one.
package batch

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Daily-Wins/dw-chromegpt/internal/apply"
	"github.com/Daily-Wins/dw-chromegpt/internal/assistant"
	apperrors "github.com/Daily-Wins/dw-chromegpt/internal/common/errors"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/logger"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/metrics"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/observability"
	"github.com/Daily-Wins/dw-chromegpt/internal/credentials"
	"github.com/Daily-Wins/dw-chromegpt/internal/models"
	"github.com/Daily-Wins/dw-chromegpt/internal/progress"
	"github.com/Daily-Wins/dw-chromegpt/internal/resolver"
)

const (
	DefaultConcurrency = 5
	DefaultGroupDelay  = 200 * time.Millisecond
)

// FieldResolver is satisfied by *resolver.Resolver.
type FieldResolver interface {
	Resolve(ctx context.Context, field models.FieldDescriptor, session resolver.Asker) models.ResolutionResult
}

// SessionFactory builds the session client for one batch from a credentials snapshot.
type SessionFactory func(creds credentials.Credentials) (resolver.Asker, error)

// AssistantSessions is the production SessionFactory.
func AssistantSessions(cfg assistant.Config, log logger.Logger, opts ...assistant.Option) SessionFactory {
	return func(creds credentials.Credentials) (resolver.Asker, error) {
		client, err := assistant.NewClient(cfg, creds, log, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

type Config struct {
	Concurrency int
	GroupDelay  time.Duration
	// MaxFields rejects larger batches; zero means unlimited.
	MaxFields int
}

// Request is one fill-form call. Concurrency overrides Config.Concurrency when positive.
type Request struct {
	BatchID     string                   `json:"batchId,omitempty"`
	Fields      []models.FieldDescriptor `json:"fields"`
	Concurrency int                      `json:"concurrency,omitempty"`
}

type Orchestrator struct {
	cfg         Config
	resolver    FieldResolver
	credentials credentials.Provider
	sessions    SessionFactory
	progress    progress.Reporter
	logger      logger.Logger
	obs         *observability.Observability
	sleep       assistant.SleepFunc
}

type Option func(*Orchestrator)

// WithProgress sets where progress events go. The default drops them.
func WithProgress(r progress.Reporter) Option {
	return func(o *Orchestrator) { o.progress = r }
}

// WithSleep replaces the inter-group delay, mainly for tests.
func WithSleep(sleep assistant.SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

func WithObservability(obs *observability.Observability) Option {
	return func(o *Orchestrator) { o.obs = obs }
}

func NewOrchestrator(cfg Config, r FieldResolver, creds credentials.Provider, sessions SessionFactory, log logger.Logger, opts ...Option) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.GroupDelay < 0 {
		cfg.GroupDelay = 0
	}
	o := &Orchestrator{
		cfg:         cfg,
		resolver:    r,
		credentials: creds,
		sessions:    sessions,
		progress:    progress.Nop,
		logger:      log.WithFields(map[string]interface{}{"component": "batch"}),
		sleep:       assistant.ContextSleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ResolveAll resolves fields with the configured concurrency and a generated batch id.
func (o *Orchestrator) ResolveAll(ctx context.Context, fields []models.FieldDescriptor, applyFn apply.Func) (models.BatchResult, error) {
	return o.Run(ctx, Request{Fields: fields}, applyFn)
}

// Run resolves every field of req. The only errors it returns are batch-fatal: missing
// credentials (CONFIG_ERROR) and an oversized request. Everything else ends up in the
// per-field results, so FilledCount+FailedCount == TotalCount on success.
func (o *Orchestrator) Run(ctx context.Context, req Request, applyFn apply.Func) (models.BatchResult, error) {
	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.New().String()
	}
	concurrency := o.cfg.Concurrency
	if req.Concurrency > 0 {
		concurrency = req.Concurrency
	}
	fields := req.Fields
	log := o.logger.WithFields(map[string]interface{}{"batchId": batchID})

	if o.cfg.MaxFields > 0 && len(fields) > o.cfg.MaxFields {
		return models.BatchResult{}, apperrors.NewInputValidationError(
			fmt.Sprintf("batch has %d fields, limit is %d", len(fields), o.cfg.MaxFields))
	}

	// Credentials are read once; later changes only affect the next batch.
	creds, err := credentials.Require(ctx, o.credentials)
	if err != nil {
		log.Error("batch aborted before any field", map[string]interface{}{"error": err.Error()})
		metrics.BatchesCompleted.WithLabelValues("config_error").Inc()
		return models.BatchResult{}, err
	}
	session, err := o.sessions(creds)
	if err != nil {
		metrics.BatchesCompleted.WithLabelValues("config_error").Inc()
		return models.BatchResult{}, err
	}

	ctx, span := o.obs.StartSpan(ctx, "batch.Run",
		attribute.String("batch.id", batchID),
		attribute.Int("batch.fields", len(fields)),
		attribute.Int("batch.concurrency", concurrency),
	)

	started := time.Now()
	t := newTally(batchID, len(fields))
	groups := partition(len(fields), concurrency)

	log.Info("batch started", map[string]interface{}{
		"fields":      len(fields),
		"groups":      len(groups),
		"concurrency": concurrency,
	})

	for gi, g := range groups {
		if gi > 0 && o.cfg.GroupDelay > 0 {
			// The batch never aborts; a cancelled context only shortens the wait.
			_ = o.sleep(ctx, o.cfg.GroupDelay)
		}

		var wg sync.WaitGroup
		for i := g.start; i < g.end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				field := fields[i]
				result := o.resolveOne(ctx, field, session)
				result = o.applyOne(field, result, applyFn)
				t.record(ctx, i, result, o.progress, o.logger)
			}(i)
		}
		wg.Wait()
	}

	result := t.result()
	o.finish(ctx, log, result, time.Since(started))
	observability.EndSpan(span, nil)
	return result, nil
}

// resolveOne converts a panic anywhere in the resolution into a failed result.
func (o *Orchestrator) resolveOne(ctx context.Context, field models.FieldDescriptor, session resolver.Asker) (result models.ResolutionResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("field resolution panicked", map[string]interface{}{
				"field": field.Name,
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
			result = failed(field.Name, apperrors.NewInternalError(fmt.Sprintf("panic: %v", r)))
		}
	}()
	return o.resolver.Resolve(ctx, field, session)
}

func (o *Orchestrator) applyOne(field models.FieldDescriptor, result models.ResolutionResult, applyFn apply.Func) (out models.ResolutionResult) {
	if applyFn == nil || !result.Filled() {
		return result
	}
	out = result
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("applying value panicked", map[string]interface{}{"field": field.Name, "panic": fmt.Sprint(r)})
			out = failed(field.Name, apperrors.NewInternalError(fmt.Sprintf("apply panic: %v", r)))
		}
	}()
	if err := applyFn(field, result.Value); err != nil {
		o.logger.Warn("failed to apply value", map[string]interface{}{"field": field.Name, "error": err.Error()})
		return failed(field.Name, err)
	}
	return out
}

func (o *Orchestrator) finish(ctx context.Context, log logger.Logger, result models.BatchResult, elapsed time.Duration) {
	label := "complete"
	switch {
	case result.TotalCount == 0:
		label = "empty"
	case result.FilledCount == 0:
		label = "none_filled"
	case result.FailedCount > 0:
		label = "partial"
	}
	metrics.BatchesCompleted.WithLabelValues(label).Inc()
	metrics.BatchFields.Observe(float64(result.TotalCount))
	o.obs.RecordBatch(ctx, result.FilledCount, result.FailedCount)

	log.Info("batch finished", map[string]interface{}{
		"filled":    result.FilledCount,
		"failed":    result.FailedCount,
		"noValue":   result.NoValueCount,
		"total":     result.TotalCount,
		"elapsedMs": elapsed.Milliseconds(),
	})
}

func failed(fieldName string, err error) models.ResolutionResult {
	return models.ResolutionResult{
		FieldName:    fieldName,
		Outcome:      models.OutcomeFailed,
		ErrorMessage: err.Error(),
		ErrorCode:    string(apperrors.Code(err)),
	}
}

type group struct{ start, end int }

// partition splits n items into consecutive groups of at most size.
func partition(n, size int) []group {
	if size < 1 {
		size = 1
	}
	groups := make([]group, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		groups = append(groups, group{start, end})
	}
	return groups
}

// tally holds the running counts of a batch.
type tally struct {
	mu        sync.Mutex
	batchID   string
	total     int
	completed int
	filled    int
	failed    int
	noValue   int
	results   []models.ResolutionResult
	values    map[string]interface{}
}

func newTally(batchID string, total int) *tally {
	return &tally{
		batchID: batchID,
		total:   total,
		results: make([]models.ResolutionResult, total),
		values:  make(map[string]interface{}),
	}
}

// record stores r and reports the new totals while still holding the lock, so reporters
// see monotonically increasing counts.
// record stores r and reports progress. A panicking reporter is logged and skipped; the
// field keeps its outcome.
func (t *tally) record(ctx context.Context, i int, r models.ResolutionResult, reporter progress.Reporter, log logger.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.results[i] = r
	t.completed++
	if r.Filled() {
		t.filled++
		t.values[r.FieldName] = r.Value
	} else {
		t.failed++
		if r.Outcome == models.OutcomeNoValue {
			t.noValue++
		}
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error("progress reporter panicked", map[string]interface{}{
				"batchId": t.batchID,
				"field":   r.FieldName,
				"panic":   fmt.Sprint(p),
			})
		}
	}()
	reporter.Report(ctx, models.ProgressEvent{
		BatchID:    t.batchID,
		FieldName:  r.FieldName,
		Outcome:    r.Outcome,
		Completed:  t.completed,
		Filled:     t.filled,
		Failed:     t.failed,
		Total:      t.total,
		Percentage: percentage(t.completed, t.total),
	})
}

func (t *tally) result() models.BatchResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return models.BatchResult{
		BatchID:      t.batchID,
		FilledCount:  t.filled,
		FailedCount:  t.failed,
		TotalCount:   t.total,
		NoValueCount: t.noValue,
		Values:       t.values,
		Results:      t.results,
	}
}

func percentage(completed, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}
