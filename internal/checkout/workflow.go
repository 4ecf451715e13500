package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/bucket"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/ledger"
)

const instrumentationName = "github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/checkout"

// State is a step of the checkout state machine.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateGating     State = "gating"
	StateExtracting State = "extracting"
	StateClearing   State = "clearing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Outcome is the caller-facing classification of a finished checkout.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeInsufficientFunds Outcome = "insufficient_funds"
	OutcomeFailure           Outcome = "failure"
)

// Result describes a finished run. State is always Completed or Failed.
type Result struct {
	ID        string
	State     State
	Outcome   Outcome
	Err       error
	Shortfall int64
	Remaining int64
	Charged   int64
	Warning   *ReconciliationWarning
}

// Ledger is the slice of the token ledger the workflow needs.
type Ledger interface {
	Balance(ctx context.Context) (ledger.Balance, error)
	Extract(ctx context.Context, amount int64) (ledger.ExtractResult, error)
}

// Bucket is the store being checked out.
type Bucket interface {
	Begin(ctx context.Context) (*bucket.Txn, error)
}

// Deps wires a Workflow.
type Deps struct {
	Ledger       Ledger
	Logger       *zap.Logger
	Meter        metric.Meter
	IDGenerator  func() string
	OnTransition func(from, to State)
}

// Workflow runs rental checkouts: validate the bucket, read a fresh balance, gate, debit, clear.
type Workflow struct {
	ledger       Ledger
	logger       *zap.Logger
	newID        func() string
	onTransition func(from, to State)
	tracer       trace.Tracer
	runs         metric.Int64Counter
	charged      metric.Int64Counter
}

var errLedgerRequired = errors.New("checkout: ledger is required")

// NewWorkflow constructs a Workflow.
func NewWorkflow(deps Deps) (*Workflow, error) {
	if deps.Ledger == nil {
		return nil, errLedgerRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	runs, err := meter.Int64Counter("storefront.checkout.runs",
		metric.WithDescription("Checkout runs by outcome"))
	if err != nil {
		return nil, fmt.Errorf("checkout: create runs counter: %w", err)
	}
	charged, err := meter.Int64Counter("storefront.checkout.tokens_charged",
		metric.WithDescription("Tokens debited by completed checkouts"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, fmt.Errorf("checkout: create charged counter: %w", err)
	}

	return &Workflow{
		ledger:       deps.Ledger,
		logger:       logger,
		newID:        newID,
		onTransition: deps.OnTransition,
		tracer:       otel.Tracer(instrumentationName),
		runs:         runs,
		charged:      charged,
	}, nil
}

// WithLedger returns a copy that debits through l. Handlers use it to bind a shared workflow to the
// shopper's token-scoped ledger client.
func (w *Workflow) WithLedger(l Ledger) *Workflow {
	clone := *w
	if l != nil {
		clone.ledger = l
	}
	return &clone
}

type run struct {
	w      *Workflow
	logger *zap.Logger
	span   trace.Span
	state  State
	result Result
}

func (r *run) enter(next State) {
	from := r.state
	r.state = next
	r.span.AddEvent(string(next))
	r.logger.Debug("checkout transition", zap.String("from", string(from)), zap.String("to", string(next)))
	if r.w.onTransition != nil {
		r.w.onTransition(from, next)
	}
}

func (r *run) fail(outcome Outcome, err error) Result {
	r.enter(StateFailed)
	r.result.State = StateFailed
	r.result.Outcome = outcome
	r.result.Err = err
	return r.result
}

// Run checks out the bucket. Balance read, debit and clear happen strictly in that order while
// the bucket is held, so no other change to it can interleave. On any failure the bucket is left
// exactly as it was. Nothing is retried.
func (w *Workflow) Run(ctx context.Context, store Bucket) Result {
	id := w.newID()
	ctx, span := w.tracer.Start(ctx, "checkout.run", trace.WithAttributes(attribute.String("checkout.id", id)))
	defer span.End()

	r := &run{
		w:      w,
		logger: w.logger.With(zap.String("checkout_id", id)),
		span:   span,
		state:  StateIdle,
		result: Result{ID: id},
	}

	result := r.execute(ctx, store)

	attrs := metric.WithAttributes(attribute.String("outcome", string(result.Outcome)))
	w.runs.Add(ctx, 1, attrs)
	if result.State == StateCompleted {
		w.charged.Add(ctx, result.Charged)
	}

	span.SetAttributes(
		attribute.String("checkout.outcome", string(result.Outcome)),
		attribute.Int64("checkout.charged", result.Charged),
	)
	switch {
	case result.Outcome == OutcomeFailure:
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	case result.Warning != nil:
		span.SetStatus(codes.Error, "reconciliation required")
	default:
		span.SetStatus(codes.Ok, "")
	}
	return result
}

func (r *run) execute(ctx context.Context, store Bucket) Result {
	r.enter(StateValidating)
	txn, err := store.Begin(ctx)
	if err != nil {
		return r.fail(OutcomeFailure, err)
	}
	defer txn.Release()

	snap := txn.Snapshot()
	if snap.Empty() {
		return r.fail(OutcomeFailure, ErrEmptyBucket)
	}
	// A total that does not match its lines, or went negative, must never reach the gate.
	if err := snap.Validate(); err != nil {
		return r.fail(OutcomeFailure, err)
	}
	total := snap.TotalCost

	r.enter(StateGating)
	balance, err := r.w.ledger.Balance(ctx)
	if err != nil {
		return r.fail(OutcomeFailure, err)
	}
	r.result.Remaining = balance.RemainingLimit

	decision := Evaluate(total, balance.RemainingLimit)
	if !decision.CanProceed {
		r.result.Shortfall = decision.Shortfall
		return r.fail(OutcomeInsufficientFunds, &InsufficientFundsError{
			Total:     total,
			Remaining: balance.RemainingLimit,
			Shortfall: decision.Shortfall,
		})
	}

	// A zero-cost bucket admits without a debit; the ledger rejects amounts below one.
	if total > 0 {
		r.enter(StateExtracting)
		extracted, err := r.w.ledger.Extract(ctx, total)
		if err != nil {
			return r.fail(OutcomeFailure, err)
		}
		if !extracted.Success {
			r.result.Remaining = extracted.Remaining
			return r.fail(OutcomeFailure, &ExtractionError{Amount: total, Message: extracted.Message})
		}
		r.result.Remaining = extracted.Remaining
		r.result.Charged = total
	}

	r.enter(StateClearing)
	// Tokens are spent at this point; a cancelled request must not leave the bucket behind.
	if err := txn.Clear(context.WithoutCancel(ctx)); err != nil {
		warning := &ReconciliationWarning{Charged: r.result.Charged, Err: err}
		r.result.Warning = warning
		r.logger.Warn("checkout completed but bucket clear failed; reconciliation required",
			zap.Int64("charged", r.result.Charged),
			zap.Int64s("toy_ids", snap.ToyIDs()),
			zap.Error(err),
		)
	}

	r.enter(StateCompleted)
	r.result.State = StateCompleted
	r.result.Outcome = OutcomeSuccess
	r.logger.Info("checkout completed",
		zap.Int64("charged", r.result.Charged),
		zap.Int64("remaining", r.result.Remaining),
		zap.Int("items", snap.TotalItems),
	)
	return r.result
}
