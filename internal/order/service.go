package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultAuthorizeTimeout = 10 * time.Second
	commitTimeout           = 5 * time.Second
)

type SubmitCommand struct {
	OrderID              string
	Principal            Principal
	CreditCardID         string
	DestinationAccountID string
}

// Result is the outcome of a submission attempt. On failure Errors holds
// exactly one message and Order is the order as it was found (nil when it
// does not exist).
type Result struct {
	Order   *Order
	Errors  []string
	Failure *Error
}

func (r *Result) Succeeded() bool {
	return r.Failure == nil
}

type Service struct {
	repo             Repository
	locker           Locker
	authorizer       Authorizer
	logger           *slog.Logger
	tracer           trace.Tracer
	metrics          Metrics
	now              func() time.Time
	authorizeTimeout time.Duration
	permissions      PermissionGuard
	states           StateGuard
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuthorizeTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.authorizeTimeout = d
		}
	}
}

func NewService(repo Repository, locker Locker, authorizer Authorizer, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:             repo,
		locker:           locker,
		authorizer:       authorizer,
		logger:           logger,
		tracer:           otel.Tracer("gozon/checkout/order"),
		metrics:          noopMetrics{},
		now:              time.Now,
		authorizeTimeout: DefaultAuthorizeTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get loads an order the principal is allowed to see.
func (s *Service) Get(ctx context.Context, id string, p Principal) (*Order, error) {
	o, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.permissions.Allow(o, p) {
		return nil, permissionDenied()
	}
	return o, nil
}

type submission struct {
	cmd   SubmitCommand
	order *Order
}

type step struct {
	name string
	run  func(ctx context.Context, sub *submission) *Error
}

// pipeline is evaluated in order and stops at the first failure, so a
// payment is never attempted for an order that failed a guard.
func (s *Service) pipeline() []step {
	return []step{
		{name: "permission", run: s.checkPermission},
		{name: "state", run: s.checkState},
		{name: "authorize", run: s.authorize},
	}
}

// Submit moves a pending order to submitted after authorizing its total
// with the payment provider. Expected failures are reported through the
// Result; the returned error is reserved for infrastructure failures.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "order.Submit", trace.WithAttributes(
		attribute.String("order.id", cmd.OrderID),
		attribute.String("principal.type", string(cmd.Principal.Type)),
	))
	defer span.End()

	release, err := s.locker.Lock(ctx, cmd.OrderID)
	if err != nil {
		return nil, s.abort(span, fmt.Errorf("lock order %s: %w", cmd.OrderID, err))
	}
	defer release()

	o, err := s.repo.FindByID(ctx, cmd.OrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return s.fail(span, nil, notFound(cmd.OrderID)), nil
		}
		return nil, s.abort(span, fmt.Errorf("load order %s: %w", cmd.OrderID, err))
	}

	sub := &submission{cmd: cmd, order: o}
	for _, st := range s.pipeline() {
		if failure := s.runStep(ctx, st, sub); failure != nil {
			return s.fail(span, o, failure), nil
		}
	}

	submitted, err := o.Submit(cmd.CreditCardID, cmd.DestinationAccountID, s.now())
	if err != nil {
		return nil, s.abort(span, err)
	}

	// the charge is authorized at this point; a caller going away must not
	// leave it without a commit
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	if err := s.repo.CommitSubmission(commitCtx, submitted); err != nil {
		if !errors.Is(err, ErrConcurrentModification) {
			return nil, s.abort(span, fmt.Errorf("commit submission %s: %w", o.ID, err))
		}
		current := o
		if reloaded, rerr := s.repo.FindByID(commitCtx, o.ID); rerr == nil {
			current = reloaded
		}
		s.logger.Error("authorized order lost commit race", "order_id", o.ID, "state", current.State.String())
		return s.fail(span, current, concurrentModification(current.State)), nil
	}

	s.logger.Info("order submitted",
		"order_id", submitted.ID,
		"user_id", submitted.UserID,
		"amount_cents", submitted.ItemsTotalCents,
		"state_expires_at", submitted.StateExpiresAt,
	)
	s.metrics.ObserveSubmission("submitted")
	span.SetAttributes(attribute.String("order.state", submitted.State.String()))
	return &Result{Order: submitted, Errors: []string{}}, nil
}

func (s *Service) runStep(ctx context.Context, st step, sub *submission) *Error {
	ctx, span := s.tracer.Start(ctx, "order.Submit."+st.name)
	defer span.End()

	failure := st.run(ctx, sub)
	if failure != nil {
		span.SetStatus(codes.Error, failure.Kind.String())
	}
	return failure
}

func (s *Service) checkPermission(_ context.Context, sub *submission) *Error {
	if !s.permissions.Allow(sub.order, sub.cmd.Principal) {
		return permissionDenied()
	}
	return nil
}

func (s *Service) checkState(_ context.Context, sub *submission) *Error {
	if !s.states.Allow(sub.order) {
		return invalidState(sub.order.State)
	}
	return nil
}

func (s *Service) authorize(ctx context.Context, sub *submission) *Error {
	authCtx, cancel := context.WithTimeout(ctx, s.authorizeTimeout)
	defer cancel()

	started := time.Now()
	err := s.authorizer.AuthorizeCharge(authCtx, sub.order.Clone(), sub.order.ItemsTotalCents)
	s.metrics.ObserveAuthorization(time.Since(started), err)
	if err == nil {
		return nil
	}

	var declined *DeclinedError
	switch {
	case errors.As(err, &declined):
		return paymentFailed(declined.Reason, err)
	case errors.Is(err, context.DeadlineExceeded):
		return paymentFailed("Payment authorization timed out", err)
	case errors.Is(err, context.Canceled):
		return paymentFailed("Payment authorization canceled", err)
	default:
		return paymentFailed("Payment authorization failed", err)
	}
}

func (s *Service) fail(span trace.Span, o *Order, failure *Error) *Result {
	span.SetAttributes(attribute.String("submission.failure", failure.Kind.String()))
	s.metrics.ObserveSubmission(failure.Kind.String())

	args := []any{"order_id", "", "kind", failure.Kind.String(), "message", failure.Message}
	if o != nil {
		args[1] = o.ID
	}
	if failure.Err != nil {
		args = append(args, "err", failure.Err)
	}
	s.logger.Warn("order submission rejected", args...)

	return &Result{Order: o, Errors: []string{failure.Message}, Failure: failure}
}

func (s *Service) abort(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "submission aborted")
	s.metrics.ObserveSubmission("error")
	return err
}
