package order_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gozon/checkout/internal/lock"
	"gozon/checkout/internal/order"
	"gozon/checkout/internal/storage"
)

var (
	owner    = order.Principal{Type: order.PrincipalUser, UserID: "user-1", PartnerIDs: []string{"partner-1"}}
	stranger = order.Principal{Type: order.PrincipalUser, UserID: "random-user-id-on-another-order", PartnerIDs: []string{"partner-1"}}
	fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
)

type authorizer struct {
	calls   atomic.Int32
	mu      sync.Mutex
	amounts []int64
	err     error
	delay   time.Duration
	// block makes the call wait for context cancellation.
	block bool
}

func (a *authorizer) AuthorizeCharge(ctx context.Context, o *order.Order, amountCents int64) error {
	a.calls.Add(1)
	a.mu.Lock()
	a.amounts = append(a.amounts, amountCents)
	a.mu.Unlock()

	if a.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	return a.err
}

type repoFunc struct {
	*storage.Memory
	find func(ctx context.Context, id string) (*order.Order, error)
}

func (r *repoFunc) FindByID(ctx context.Context, id string) (*order.Order, error) {
	if r.find != nil {
		return r.find(ctx, id)
	}
	return r.Memory.FindByID(ctx, id)
}

// ctxRepo fails like a database driver once the context is done.
type ctxRepo struct {
	*storage.Memory
}

func (r ctxRepo) CommitSubmission(ctx context.Context, submitted *order.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.Memory.CommitSubmission(ctx, submitted)
}

type cancelingAuthorizer struct {
	cancel context.CancelFunc
	calls  int
}

func (a *cancelingAuthorizer) AuthorizeCharge(context.Context, *order.Order, int64) error {
	a.calls++
	a.cancel()
	return nil
}

type noLock struct{}

func (noLock) Lock(context.Context, string) (func(), error) { return func() {}, nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPendingOrder(state order.State) *order.Order {
	return &order.Order{
		ID:              "order-1",
		UserID:          "user-1",
		PartnerID:       "partner-1",
		State:           state,
		ItemsTotalCents: 4200,
		StateUpdatedAt:  fixedNow.Add(-time.Hour),
		CreatedAt:       fixedNow.Add(-time.Hour),
		UpdatedAt:       fixedNow.Add(-time.Hour),
	}
}

func newService(repo order.Repository, auth order.Authorizer, opts ...order.Option) *order.Service {
	opts = append([]order.Option{order.WithClock(func() time.Time { return fixedNow })}, opts...)
	return order.NewService(repo, lock.NewLocal(), auth, discardLogger(), opts...)
}

func submitCmd(p order.Principal) order.SubmitCommand {
	return order.SubmitCommand{
		OrderID:              "order-1",
		Principal:            p,
		CreditCardID:         "cc-1",
		DestinationAccountID: "destination_account",
	}
}

func TestSubmitWithoutPermission(t *testing.T) {
	repo := storage.NewMemory(newPendingOrder(order.StatePending))
	auth := &authorizer{}
	svc := newService(repo, auth)

	res, err := svc.Submit(context.Background(), submitCmd(stranger))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(res.Errors) != 1 || res.Errors[0] != "Not permitted" {
		t.Fatalf("errors: got %v", res.Errors)
	}
	if res.Failure.Kind != order.KindPermissionDenied {
		t.Fatalf("kind: got %s", res.Failure.Kind)
	}
	if auth.calls.Load() != 0 {
		t.Fatalf("authorizer called %d times", auth.calls.Load())
	}

	stored, _ := repo.FindByID(context.Background(), "order-1")
	if stored.State != order.StatePending || stored.CreditCardID != nil {
		t.Fatalf("order mutated: %+v", stored)
	}
}

func TestSubmitChecksPermissionBeforeState(t *testing.T) {
	repo := storage.NewMemory(newPendingOrder(order.StateApproved))
	auth := &authorizer{}
	svc := newService(repo, auth)

	res, err := svc.Submit(context.Background(), submitCmd(stranger))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(res.Errors) != 1 || res.Errors[0] != "Not permitted" {
		t.Fatalf("errors: got %v", res.Errors)
	}
}

func TestSubmitFromNonPendingState(t *testing.T) {
	states := []order.State{
		order.StateAbandoned,
		order.StateSubmitted,
		order.StateApproved,
		order.StateRejected,
		order.StateFulfilled,
		order.StateCanceled,
	}
	for _, s := range states {
		t.Run(s.String(), func(t *testing.T) {
			repo := storage.NewMemory(newPendingOrder(s))
			auth := &authorizer{}
			svc := newService(repo, auth)

			res, err := svc.Submit(context.Background(), submitCmd(owner))
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			want := "Invalid action on this " + s.String() + " order"
			if len(res.Errors) != 1 || res.Errors[0] != want {
				t.Fatalf("errors: got %v want [%s]", res.Errors, want)
			}
			if res.Failure.Kind != order.KindInvalidState {
				t.Fatalf("kind: got %s", res.Failure.Kind)
			}
			if res.Order == nil || res.Order.State != s {
				t.Fatalf("result order: got %+v", res.Order)
			}
			if auth.calls.Load() != 0 {
				t.Fatalf("authorizer called for %s order", s)
			}
			if len(repo.Submitted()) != 0 {
				t.Fatalf("unexpected commit")
			}
		})
	}
}

func TestSubmitApprovedOrderScenario(t *testing.T) {
	repo := storage.NewMemory(newPendingOrder(order.StateApproved))
	svc := newService(repo, &authorizer{})

	res, err := svc.Submit(context.Background(), submitCmd(owner))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Errors[0] != "Invalid action on this approved order" {
		t.Fatalf("errors: got %v", res.Errors)
	}
	stored, _ := repo.FindByID(context.Background(), "order-1")
	if stored.State != order.StateApproved {
		t.Fatalf("state: got %s", stored.State)
	}
}

func TestSubmitSuccess(t *testing.T) {
	repo := storage.NewMemory(newPendingOrder(order.StatePending))
	auth := &authorizer{}
	svc := newService(repo, auth)

	res, err := svc.Submit(context.Background(), submitCmd(owner))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Succeeded() || len(res.Errors) != 0 {
		t.Fatalf("expected success, got %v", res.Errors)
	}
	if res.Errors == nil {
		t.Fatalf("errors must be an empty list, not nil")
	}
	if res.Order.ID != "order-1" || res.Order.State.Symbol() != "SUBMITTED" {
		t.Fatalf("result order: %+v", res.Order)
	}

	if auth.calls.Load() != 1 || auth.amounts[0] != 4200 {
		t.Fatalf("authorizer: calls=%d amounts=%v", auth.calls.Load(), auth.amounts)
	}

	stored, _ := repo.FindByID(context.Background(), "order-1")
	if stored.State != order.StateSubmitted {
		t.Fatalf("state: got %s", stored.State)
	}
	if *stored.CreditCardID != "cc-1" || *stored.DestinationAccountID != "destination_account" {
		t.Fatalf("payment fields: %v %v", *stored.CreditCardID, *stored.DestinationAccountID)
	}
	if !stored.StateUpdatedAt.Equal(fixedNow) {
		t.Fatalf("state updated at: got %v want %v", stored.StateUpdatedAt, fixedNow)
	}
	if got := stored.StateExpiresAt.Sub(stored.StateUpdatedAt); got != 2*24*time.Hour {
		t.Fatalf("expiry: got %v want 2 days", got)
	}
}

func TestSubmitTwiceDoesNotChargeAgain(t *testing.T) {
	repo := storage.NewMemory(newPendingOrder(order.StatePending))
	auth := &authorizer{}
	svc := newService(repo, auth)

	if res, err := svc.Submit(context.Background(), submitCmd(owner)); err != nil || !res.Succeeded() {
		t.Fatalf("first submit: %v %v", res, err)
	}

	cmd := submitCmd(owner)
	cmd.CreditCardID = "cc-2"
	res, err := svc.Submit(context.Background(), cmd)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if res.Failure == nil || res.Failure.Kind != order.KindInvalidState {
		t.Fatalf("expected invalid state, got %+v", res)
	}
	if res.Errors[0] != "Invalid action on this submitted order" {
		t.Fatalf("errors: got %v", res.Errors)
	}
	if auth.calls.Load() != 1 {
		t.Fatalf("authorizer called %d times", auth.calls.Load())
	}
	stored, _ := repo.FindByID(context.Background(), "order-1")
	if *stored.CreditCardID != "cc-1" {
		t.Fatalf("credit card overwritten: %s", *stored.CreditCardID)
	}
}

func TestSubmitPaymentDeclined(t *testing.T) {
	repo := storage.NewMemory(newPendingOrder(order.StatePending))
	auth := &authorizer{err: &order.DeclinedError{Reason: "Insufficient funds"}}
	svc := newService(repo, auth)

	res, err := svc.Submit(context.Background(), submitCmd(owner))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Failure == nil || res.Failure.Kind != order.KindPaymentFailed {
		t.Fatalf("expected payment failure, got %+v", res)
	}
	if len(res.Errors) != 1 || res.Errors[0] != "Insufficient funds" {
		t.Fatalf("errors: got %v", res.Errors)
	}
	stored, _ := repo.FindByID(context.Background(), "order-1")
	if stored.State != order.StatePending || stored.CreditCardID != nil {
		t.Fatalf("order mutated: %+v", stored)
	}
}

func TestSubmitPaymentError(t *testing.T) {
	repo := storage.NewMemory(newPendingOrder(order.StatePending))
	svc := newService(repo, &authorizer{err: errors.New("connection refused")})

	res, err := svc.Submit(context.Background(), submitCmd(owner))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Failure.Kind != order.KindPaymentFailed || res.Errors[0] != "Payment authorization failed" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSubmitAuthorizationTimeout(t *testing.T) {
	repo := storage.NewMemory(newPendingOrder(order.StatePending))
	auth := &authorizer{block: true}
	svc := newService(repo, auth, order.WithAuthorizeTimeout(20*time.Millisecond))

	res, err := svc.Submit(context.Background(), submitCmd(owner))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Failure.Kind != order.KindPaymentFailed || res.Errors[0] != "Payment authorization timed out" {
		t.Fatalf("unexpected result: %+v", res.Errors)
	}
	if len(repo.Submitted()) != 0 {
		t.Fatalf("timed out submission was committed")
	}

	// a clean retry goes through
	auth.block = false
	res, err = svc.Submit(context.Background(), submitCmd(owner))
	if err != nil || !res.Succeeded() {
		t.Fatalf("retry: %+v %v", res, err)
	}
	if auth.calls.Load() != 2 {
		t.Fatalf("authorizer calls: got %d want 2", auth.calls.Load())
	}
}

func TestSubmitNotFound(t *testing.T) {
	auth := &authorizer{}
	svc := newService(storage.NewMemory(), auth)

	res, err := svc.Submit(context.Background(), submitCmd(owner))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Failure.Kind != order.KindNotFound || res.Order != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !errors.Is(res.Failure, order.ErrOrderNotFound) {
		t.Fatalf("failure should wrap ErrOrderNotFound")
	}
	if auth.calls.Load() != 0 {
		t.Fatalf("authorizer called")
	}
}

func TestSubmitStoreFailureIsReturned(t *testing.T) {
	boom := errors.New("connection reset")
	repo := &repoFunc{
		Memory: storage.NewMemory(),
		find:   func(context.Context, string) (*order.Order, error) { return nil, boom },
	}
	svc := newService(repo, &authorizer{})

	res, err := svc.Submit(context.Background(), submitCmd(owner))
	if !errors.Is(err, boom) || res != nil {
		t.Fatalf("expected store error, got %v %v", res, err)
	}
}

func TestSubmitByPartnerPrincipal(t *testing.T) {
	repo := storage.NewMemory(newPendingOrder(order.StatePending))
	svc := newService(repo, &authorizer{})

	partner := order.Principal{Type: order.PrincipalPartner, PartnerIDs: []string{"partner-1"}}
	res, err := svc.Submit(context.Background(), submitCmd(partner))
	if err != nil || !res.Succeeded() {
		t.Fatalf("partner submit: %+v %v", res, err)
	}
}

func TestConcurrentSubmissionsChargeOnce(t *testing.T) {
	repo := storage.NewMemory(newPendingOrder(order.StatePending))
	auth := &authorizer{delay: 5 * time.Millisecond}
	svc := newService(repo, auth)

	const attempts = 8
	results := make(chan *order.Result, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Submit(context.Background(), submitCmd(owner))
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	succeeded, rejected := 0, 0
	for res := range results {
		switch {
		case res.Succeeded():
			succeeded++
		case res.Failure.Kind == order.KindInvalidState || res.Failure.Kind == order.KindConcurrentModification:
			rejected++
		default:
			t.Fatalf("unexpected failure: %+v", res.Failure)
		}
	}
	if succeeded != 1 || rejected != attempts-1 {
		t.Fatalf("succeeded=%d rejected=%d", succeeded, rejected)
	}
	if auth.calls.Load() != 1 {
		t.Fatalf("authorizer called %d times", auth.calls.Load())
	}
	if len(repo.Submitted()) != 1 {
		t.Fatalf("commits: got %d", len(repo.Submitted()))
	}
}

func TestSubmitLosingCommitRace(t *testing.T) {
	mem := storage.NewMemory(newPendingOrder(order.StatePending))
	stale := newPendingOrder(order.StatePending)
	calls := 0
	repo := &repoFunc{
		Memory: mem,
		find: func(ctx context.Context, id string) (*order.Order, error) {
			calls++
			if calls == 1 {
				// another instance submits between our load and commit
				next, _ := stale.Submit("cc-other", "acct-other", fixedNow)
				if err := mem.CommitSubmission(ctx, next); err != nil {
					t.Fatalf("seed commit: %v", err)
				}
				return stale.Clone(), nil
			}
			return mem.FindByID(ctx, id)
		},
	}
	svc := order.NewService(repo, noLock{}, &authorizer{}, discardLogger(), order.WithClock(func() time.Time { return fixedNow }))

	res, err := svc.Submit(context.Background(), submitCmd(owner))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Failure == nil || res.Failure.Kind != order.KindConcurrentModification {
		t.Fatalf("expected concurrent modification, got %+v", res)
	}
	if !errors.Is(res.Failure, order.ErrConcurrentModification) {
		t.Fatalf("failure should wrap ErrConcurrentModification")
	}
	if res.Errors[0] != "Invalid action on this submitted order" {
		t.Fatalf("errors: got %v", res.Errors)
	}
	stored, _ := mem.FindByID(context.Background(), "order-1")
	if *stored.CreditCardID != "cc-other" {
		t.Fatalf("winner overwritten: %s", *stored.CreditCardID)
	}
}

func TestGetChecksPermission(t *testing.T) {
	repo := storage.NewMemory(newPendingOrder(order.StatePending))
	svc := newService(repo, &authorizer{})

	if _, err := svc.Get(context.Background(), "order-1", owner); err != nil {
		t.Fatalf("owner Get: %v", err)
	}

	_, err := svc.Get(context.Background(), "order-1", stranger)
	var failure *order.Error
	if !errors.As(err, &failure) || failure.Kind != order.KindPermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}

	if _, err := svc.Get(context.Background(), "missing", owner); !errors.Is(err, order.ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubmitCommitsAfterCallerGoesAway(t *testing.T) {
	mem := storage.NewMemory(newPendingOrder(order.StatePending))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	auth := &cancelingAuthorizer{cancel: cancel}
	svc := newService(ctxRepo{Memory: mem}, auth)

	res, err := svc.Submit(ctx, submitCmd(owner))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("expected success, got %v", res.Errors)
	}
	if auth.calls != 1 {
		t.Fatalf("authorizer calls: got %d", auth.calls)
	}
	stored, _ := mem.FindByID(context.Background(), "order-1")
	if stored.State != order.StateSubmitted {
		t.Fatalf("state: got %s want submitted", stored.State)
	}
}
