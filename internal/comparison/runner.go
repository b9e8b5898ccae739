// Package comparison runs one trial: every requested model generates SQL for
// the same question, each candidate is sanitized per target database, accepted
// candidates are executed, and the assembled record is appended to the store.
package comparison

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/llmsql/llmsql/internal/nl2sql"
	"github.com/llmsql/llmsql/internal/observability"
	"github.com/llmsql/llmsql/internal/query"
	"github.com/llmsql/llmsql/internal/record"
	"github.com/llmsql/llmsql/internal/sanitize"
	"github.com/llmsql/llmsql/internal/schema"
)

var (
	ErrInvalidRequest  = errors.New("invalid comparison request")
	ErrAllModelsFailed = errors.New("all model backends failed")
)

type Request struct {
	Text string
	// Empty Models means every registered model; empty Databases means every
	// registered database.
	Models      []nl2sql.ModelID
	Databases   []query.DatabaseID
	Schema      *schema.Context
	ExpectedSQL string
}

type Options struct {
	GenerationTimeout time.Duration
	GenerationRetries int
	RetryBackoff      time.Duration
	RowLimit          int
	ExecutionTimeout  time.Duration

	// MaxConcurrentExecutions caps in-flight executions per database; sized
	// to the engine connection pool so one trial never waits on itself for
	// a connection. Zero means unlimited.
	MaxConcurrentExecutions int
	Sanitizer               sanitize.Policy
	Examples                []nl2sql.Example
}

type Runner struct {
	models     *nl2sql.Registry
	databases  *query.Registry
	schemas    *schema.Provider
	store      record.Store
	sanitizers map[schema.Dialect]*sanitize.Sanitizer
	opts       Options
	logger     *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewRunner wires the registries together. store may be nil, in which case
// records are assembled but not persisted.
func NewRunner(models *nl2sql.Registry, databases *query.Registry, schemas *schema.Provider, store record.Store, logger *slog.Logger, opts Options) (*Runner, error) {
	if models == nil || models.Len() == 0 {
		return nil, fmt.Errorf("at least one model backend is required")
	}
	if databases == nil || databases.Len() == 0 {
		return nil, fmt.Errorf("at least one database engine is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.GenerationRetries < 0 {
		opts.GenerationRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 250 * time.Millisecond
	}

	sanitizers := map[schema.Dialect]*sanitize.Sanitizer{}
	for _, id := range databases.IDs() {
		engine, err := databases.Get(id)
		if err != nil {
			return nil, err
		}
		dialect := engine.Dialect()
		if _, ok := sanitizers[dialect]; ok {
			continue
		}
		policy := opts.Sanitizer
		policy.Dialect = dialect
		sanitizers[dialect] = sanitize.New(policy)
	}

	return &Runner{
		models:     models,
		databases:  databases,
		schemas:    schemas,
		store:      store,
		sanitizers: sanitizers,
		opts:       opts,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}, nil
}

func (r *Runner) Models() []nl2sql.ModelID {
	return r.models.IDs()
}

func (r *Runner) Databases() []query.DatabaseID {
	return r.databases.IDs()
}

// trial is the mutable state of one Run. Nothing in it is shared with other
// trials.
type trial struct {
	rec     record.Record
	models  []nl2sql.Backend
	engines []query.Engine
}

func (t *trial) enter(stage record.Stage, at time.Time, detail string) {
	t.rec.Stages = append(t.rec.Stages, record.StageTransition{Stage: stage, At: at, Detail: detail})
}

// Run executes one trial. It fails only when the request is invalid or every
// model failed to generate; in the latter case the returned record describes
// each failure and nothing is appended. A store failure returns the complete
// record together with an error wrapping record.ErrPersistence.
func (r *Runner) Run(ctx context.Context, req Request) (record.Record, error) {
	t, err := r.receive(ctx, req)
	if err != nil {
		observability.ObserveTrial("rejected")
		return record.Record{}, err
	}
	logger := r.logger.With("trial_id", t.rec.TrialID, "trace_id", observability.TraceIDFromContext(ctx))

	t.enter(record.StageGenerating, r.now(), "")
	causes, err := r.generateAll(ctx, t, logger)
	if err != nil {
		return r.abandon(t, logger, err)
	}
	if len(causes) == len(t.models) {
		t.enter(record.StageFailed, r.now(), "every model failed to generate")
		observability.ObserveTrial("failed")
		aggregated := multierror.Append(nil, causes...)
		logger.Warn("trial failed", "models", len(t.models), "error", aggregated.Error())
		return t.rec, fmt.Errorf("%w: %w", ErrAllModelsFailed, aggregated)
	}

	t.enter(record.StageSanitizing, r.now(), "")
	accepted := r.sanitizeAll(t)

	t.enter(record.StageExecuting, r.now(), fmt.Sprintf("%d accepted candidate executions", accepted))
	if err := r.executeAll(ctx, t, logger); err != nil {
		return r.abandon(t, logger, err)
	}

	t.enter(record.StageCompleted, r.now(), "")
	observability.ObserveTrial("completed")

	if r.store == nil {
		return t.rec, nil
	}
	id, err := r.store.Append(ctx, t.rec)
	if err != nil {
		observability.IncrementRecordAppendFailures()
		logger.Error("append comparison record", "error", err)
		if !errors.Is(err, record.ErrPersistence) {
			err = fmt.Errorf("%w: %v", record.ErrPersistence, err)
		}
		return t.rec, err
	}
	t.rec.ID = id
	logger.Info("trial completed", "record_id", id, "models", len(t.models), "databases", len(t.engines))
	return t.rec, nil
}

// abandon ends a trial whose caller went away. Nothing is persisted.
func (r *Runner) abandon(t *trial, logger *slog.Logger, err error) (record.Record, error) {
	t.enter(record.StageFailed, r.now(), "trial abandoned: "+err.Error())
	observability.ObserveTrial("abandoned")
	logger.Warn("trial abandoned", "error", err)
	return t.rec, fmt.Errorf("trial abandoned: %w", err)
}

func (r *Runner) receive(ctx context.Context, req Request) (*trial, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", ErrInvalidRequest)
	}

	modelIDs := make([]nl2sql.ModelID, 0, len(req.Models))
	for _, id := range req.Models {
		modelIDs = append(modelIDs, nl2sql.ParseModelID(string(id)))
	}
	modelIDs = dedupe(modelIDs)
	if len(modelIDs) == 0 {
		modelIDs = r.models.IDs()
	}
	models := make([]nl2sql.Backend, 0, len(modelIDs))
	for _, id := range modelIDs {
		backend, err := r.models.Get(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		models = append(models, backend)
	}

	databaseIDs := make([]query.DatabaseID, 0, len(req.Databases))
	for _, id := range req.Databases {
		databaseIDs = append(databaseIDs, query.ParseDatabaseID(string(id)))
	}
	databaseIDs = dedupe(databaseIDs)
	if len(databaseIDs) == 0 {
		databaseIDs = r.databases.IDs()
	}
	engines := make([]query.Engine, 0, len(databaseIDs))
	for _, id := range databaseIDs {
		engine, err := r.databases.Get(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		engines = append(engines, engine)
	}

	if req.Schema != nil && !req.Schema.IsEmpty() {
		if err := req.Schema.Validate(); err != nil {
			return nil, fmt.Errorf("%w: schema: %v", ErrInvalidRequest, err)
		}
	}

	t := &trial{
		models:  models,
		engines: engines,
		rec: record.Record{
			TrialID:   r.newID(),
			CreatedAt: r.now(),
			Request: record.Request{
				Text:        text,
				Models:      modelIDs,
				Databases:   databaseIDs,
				ExpectedSQL: strings.TrimSpace(req.ExpectedSQL),
			},
		},
	}
	t.enter(record.StageReceived, t.rec.CreatedAt, "")

	source := r.schemas.Source(req.Schema)
	resolved, err := r.schemas.Resolve(ctx, req.Schema, engines[0])
	if err != nil {
		// Models still get the question; an empty schema is recorded as such.
		r.logger.Warn("resolve schema", "trial_id", t.rec.TrialID, "error", err)
		source = "unavailable"
	}
	t.rec.Request.Schema = resolved
	t.rec.Request.SchemaSource = source
	return t, nil
}

// generateAll calls every model concurrently and waits for all of them. A
// slow model never cancels a fast one. It returns one cause per failed model,
// or ctx's error when the caller gave up while models were still working.
func (r *Runner) generateAll(ctx context.Context, t *trial, logger *slog.Logger) ([]error, error) {
	request := nl2sql.Request{
		Text:     t.rec.Request.Text,
		Schema:   t.rec.Request.Schema,
		Dialect:  promptDialect(t.engines),
		Examples: r.opts.Examples,
	}

	outcomes := make([]record.ModelOutcome, len(t.models))
	errs := make([]error, len(t.models))
	var group errgroup.Group
	for i, backend := range t.models {
		group.Go(func() error {
			candidate, attempts, err := r.generate(ctx, backend, request)
			outcomes[i] = record.ModelOutcome{ModelID: backend.ID(), Attempts: attempts}
			if err != nil {
				errs[i] = fmt.Errorf("model %s: %w", backend.ID(), err)
				outcomes[i].GenerationError = &record.Failure{Kind: nl2sql.FailureKind(err), Message: err.Error()}
				logger.Warn("model generation failed", "model", backend.ID(), "attempts", attempts, "error", err)
				return ctx.Err()
			}
			outcomes[i].Candidate = &candidate
			return nil
		})
	}
	abandoned := group.Wait()

	t.rec.Models = outcomes
	var causes []error
	for _, err := range errs {
		if err != nil {
			causes = append(causes, err)
		}
	}
	return causes, abandoned
}

// generate retries only unavailable backends; timeouts and bad replies are
// final for the trial.
func (r *Runner) generate(ctx context.Context, backend nl2sql.Backend, request nl2sql.Request) (nl2sql.Candidate, int, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.opts.RetryBackoff
	policy.MaxElapsedTime = 0

	var (
		candidate nl2sql.Candidate
		attempts  int
	)
	operation := func() error {
		attempts++
		callCtx := ctx
		if r.opts.GenerationTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.opts.GenerationTimeout)
			defer cancel()
		}
		start := time.Now()
		result, err := backend.Generate(callCtx, request)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, nl2sql.ErrGenerationTimeout) {
			err = fmt.Errorf("%w: %v", nl2sql.ErrGenerationTimeout, err)
		}
		outcome := "ok"
		if err != nil {
			outcome = nl2sql.FailureKind(err)
		}
		observability.ObserveGeneration(string(backend.ID()), outcome, time.Since(start))
		if err != nil {
			if errors.Is(err, nl2sql.ErrBackendUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		candidate = result
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.opts.GenerationRetries)), ctx))
	if err != nil {
		return nl2sql.Candidate{}, attempts, err
	}
	return candidate, attempts, nil
}

// sanitizeAll fills one target per (model, database) and returns how many
// candidates were accepted.
func (r *Runner) sanitizeAll(t *trial) int {
	accepted := 0
	for i := range t.rec.Models {
		outcome := &t.rec.Models[i]
		if outcome.Candidate == nil {
			continue
		}
		outcome.Targets = make([]record.TargetOutcome, len(t.engines))
		for j, engine := range t.engines {
			verdict := r.sanitizers[engine.Dialect()].Check(outcome.Candidate.SQL)
			observability.ObserveSanitizerVerdict(string(verdict.Reason))
			outcome.Targets[j] = record.TargetOutcome{DatabaseID: engine.ID(), Verdict: verdict}
			if verdict.Accepted {
				accepted++
			}
		}
	}
	return accepted
}

// executeAll runs every accepted candidate. Databases proceed independently;
// within one database at most MaxConcurrentExecutions statements are in
// flight. Each execution has its own deadline inside the engine and failures
// stay with their target. The returned error is ctx's, when the caller gave up.
func (r *Runner) executeAll(ctx context.Context, t *trial, logger *slog.Logger) error {
	var databases errgroup.Group
	for j, engine := range t.engines {
		databases.Go(func() error {
			var group errgroup.Group
			if r.opts.MaxConcurrentExecutions > 0 {
				group.SetLimit(r.opts.MaxConcurrentExecutions)
			}
			for i := range t.rec.Models {
				outcome := &t.rec.Models[i]
				if j >= len(outcome.Targets) || !outcome.Targets[j].Verdict.Accepted {
					continue
				}
				target := &outcome.Targets[j]
				group.Go(func() error {
					if err := ctx.Err(); err != nil {
						return err
					}
					start := time.Now()
					result, err := engine.Execute(ctx, query.Request{
						SQL:      target.Verdict.NormalizedStatement,
						RowLimit: r.opts.RowLimit,
						Timeout:  r.opts.ExecutionTimeout,
					})
					var execution record.Execution
					if err != nil {
						execution = record.Failed(err)
						logger.Info("candidate execution failed", "model", outcome.ModelID, "database", engine.ID(), "kind", execution.Failure.Kind)
					} else {
						execution = record.Succeeded(result)
					}
					observability.ObserveExecution(string(engine.ID()), executionOutcome(execution), time.Since(start))
					target.Execution = &execution
					return ctx.Err()
				})
			}
			return group.Wait()
		})
	}
	return databases.Wait()
}

func executionOutcome(execution record.Execution) string {
	if execution.OK() {
		return "ok"
	}
	return execution.Failure.Kind
}

// promptDialect names a dialect only when every target shares it.
func promptDialect(engines []query.Engine) schema.Dialect {
	if len(engines) == 0 {
		return ""
	}
	dialect := engines[0].Dialect()
	for _, engine := range engines[1:] {
		if engine.Dialect() != dialect {
			return ""
		}
	}
	return dialect
}

func dedupe[T comparable](ids []T) []T {
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
