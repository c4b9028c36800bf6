package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/viralforge/cashback-activation-service/internal/domain"
	"github.com/viralforge/cashback-activation-service/internal/ports"
)

// Store is a single-process implementation of every repository port.
// One mutex covers all tables so multi-table operations are atomic.
type Store struct {
	mu sync.RWMutex

	users           map[string]domain.User
	usersBySubject  map[string]string
	activations     map[string]domain.Activation
	clicks          []domain.ClickLog
	purchases       map[string]domain.Purchase
	purchaseByActID map[string]string
	payouts         map[string]domain.Payout
	outbox          map[string]ports.OutboxRecord
	outboxOrder     []string
}

func NewStore() *Store {
	return &Store{
		users:           map[string]domain.User{},
		usersBySubject:  map[string]string{},
		activations:     map[string]domain.Activation{},
		purchases:       map[string]domain.Purchase{},
		purchaseByActID: map[string]string{},
		payouts:         map[string]domain.Payout{},
		outbox:          map[string]ports.OutboxRecord{},
	}
}

type Repositories struct {
	Users       ports.UserRepository
	Activations ports.ActivationRepository
	Clicks      ports.ClickRepository
	Settlements ports.SettlementRepository
	Payouts     ports.PayoutRepository
	Outbox      ports.OutboxRepository
}

func NewRepositories(store *Store) Repositories {
	return Repositories{
		Users:       &userRepository{store: store},
		Activations: &activationRepository{store: store},
		Clicks:      &clickRepository{store: store},
		Settlements: &settlementRepository{store: store},
		Payouts:     &payoutRepository{store: store},
		Outbox:      &outboxRepository{store: store},
	}
}

// Clicks returns a copy of the recorded click logs.
func (s *Store) Clicks() []domain.ClickLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ClickLog, len(s.clicks))
	copy(out, s.clicks)
	return out
}

// OutboxEvents returns the event types currently held in the outbox, oldest first.
func (s *Store) OutboxEvents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.outboxOrder))
	for _, id := range s.outboxOrder {
		out = append(out, s.outbox[id].EventType)
	}
	return out
}

type userRepository struct {
	store *Store
}

func (r *userRepository) GetBySubject(_ context.Context, subjectID string) (domain.User, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	id, ok := r.store.usersBySubject[subjectID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return r.store.users[id], nil
}

func (r *userRepository) GetOrCreate(_ context.Context, subjectID string, now, holdUntil time.Time) (domain.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if id, ok := r.store.usersBySubject[subjectID]; ok {
		return r.store.users[id], nil
	}
	user := domain.User{
		UserID:         uuid.NewString(),
		SubjectID:      subjectID,
		Balance:        decimal.Zero,
		TotalEarned:    decimal.Zero,
		FraudHoldUntil: holdUntil,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.store.users[user.UserID] = user
	r.store.usersBySubject[subjectID] = user.UserID
	return user, nil
}

func (r *userRepository) FlagFraud(_ context.Context, userID, reason string, at time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	user, ok := r.store.users[userID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if user.IsFraudFlagged {
		return false, nil
	}
	user.IsFraudFlagged = true
	user.FraudReason = reason
	user.UpdatedAt = at
	r.store.users[userID] = user
	return true, nil
}

type activationRepository struct {
	store *Store
}

func (r *activationRepository) ExistsSince(_ context.Context, subjectID, productID string, since time.Time) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.existsSinceLocked(subjectID, productID, since), nil
}

func (s *Store) existsSinceLocked(subjectID, productID string, since time.Time) bool {
	for _, a := range s.activations {
		if a.SubjectID == subjectID && a.ProductID == productID && !a.ActivatedAt.Before(since) {
			return true
		}
	}
	return false
}

func (r *activationRepository) CountBySubjectSince(_ context.Context, subjectID string, since time.Time) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	n := 0
	for _, a := range r.store.activations {
		if a.SubjectID == subjectID && !a.ActivatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *activationRepository) CountByIPSince(_ context.Context, ipAddress string, since time.Time) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	n := 0
	for _, a := range r.store.activations {
		if a.IPAddress == ipAddress && !a.ActivatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *activationRepository) CreateWithinWindow(_ context.Context, activation domain.Activation, windowStart time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.existsSinceLocked(activation.SubjectID, activation.ProductID, windowStart) {
		return domain.ErrDuplicateActivation
	}
	user, ok := r.store.users[activation.UserID]
	if !ok {
		return domain.ErrNotFound
	}
	r.store.activations[activation.ActivationID] = activation
	activatedAt := activation.ActivatedAt
	user.ActivationCount++
	user.LastActivationAt = &activatedAt
	user.UpdatedAt = activatedAt
	r.store.users[user.UserID] = user
	return nil
}

func (r *activationRepository) SetRedirectToken(_ context.Context, activationID, token string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	a, ok := r.store.activations[activationID]
	if !ok {
		return domain.ErrActivationNotFound
	}
	if a.RedirectToken != "" {
		return nil
	}
	a.RedirectToken = token
	r.store.activations[activationID] = a
	return nil
}

func (r *activationRepository) GetByID(_ context.Context, activationID string) (domain.Activation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	a, ok := r.store.activations[activationID]
	if !ok {
		return domain.Activation{}, domain.ErrActivationNotFound
	}
	return a, nil
}

func (r *activationRepository) ExpirePending(_ context.Context, now time.Time, limit int) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	n := 0
	for id, a := range r.store.activations {
		if limit > 0 && n >= limit {
			break
		}
		if a.Status == domain.ActivationPending && !a.ExpiresAt.After(now) {
			a.Status = domain.ActivationExpired
			r.store.activations[id] = a
			n++
		}
	}
	return n, nil
}

func (r *activationRepository) PurgeBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	n := 0
	for id, a := range r.store.activations {
		if a.ActivatedAt.Before(cutoff) {
			delete(r.store.activations, id)
			n++
		}
	}
	return n, nil
}

type clickRepository struct {
	store *Store
}

func (r *clickRepository) Append(_ context.Context, click domain.ClickLog) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.clicks = append(r.store.clicks, click)
	return nil
}

func (r *clickRepository) PurgeBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	kept := r.store.clicks[:0]
	for _, c := range r.store.clicks {
		if !c.ClickedAt.Before(cutoff) {
			kept = append(kept, c)
		}
	}
	n := len(r.store.clicks) - len(kept)
	r.store.clicks = kept
	return n, nil
}

type settlementRepository struct {
	store *Store
}

func (r *settlementRepository) Settle(_ context.Context, params ports.SettlementParams) (domain.Purchase, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p := params.Purchase
	if existingID, ok := r.store.purchaseByActID[p.ActivationID]; ok {
		return r.store.purchases[existingID], domain.ErrDuplicatePurchase
	}
	activation, ok := r.store.activations[p.ActivationID]
	if !ok {
		return domain.Purchase{}, domain.ErrActivationNotFound
	}
	user, ok := r.store.users[p.UserID]
	if !ok {
		return domain.Purchase{}, domain.ErrNotFound
	}

	r.store.purchases[p.PurchaseID] = p
	r.store.purchaseByActID[p.ActivationID] = p.PurchaseID
	activation.Status = domain.ActivationCompleted
	r.store.activations[activation.ActivationID] = activation
	if params.Credit.IsPositive() {
		user.Balance = user.Balance.Add(params.Credit)
		user.TotalEarned = user.TotalEarned.Add(params.Credit)
		user.UpdatedAt = p.CreatedAt
		r.store.users[user.UserID] = user
	}
	return p, nil
}

func (r *settlementRepository) GetByActivation(_ context.Context, activationID string) (domain.Purchase, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	id, ok := r.store.purchaseByActID[activationID]
	if !ok {
		return domain.Purchase{}, domain.ErrNotFound
	}
	return r.store.purchases[id], nil
}

type payoutRepository struct {
	store *Store
}

func (r *payoutRepository) Reserve(_ context.Context, payout domain.Payout) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	user, ok := r.store.users[payout.UserID]
	if !ok {
		return domain.ErrNotFound
	}
	if user.Balance.LessThan(payout.Amount) {
		return domain.ErrInsufficientBalance
	}
	user.Balance = user.Balance.Sub(payout.Amount)
	user.PayoutMethod = string(payout.Method)
	user.PayoutIdentifier = payout.PayoutIdentifier
	user.UpdatedAt = payout.RequestedAt
	r.store.users[user.UserID] = user
	r.store.payouts[payout.PayoutID] = payout
	return nil
}

func (r *payoutRepository) MarkProcessing(_ context.Context, payoutID string, at time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.payouts[payoutID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if p.Status != domain.PayoutPending {
		return false, nil
	}
	p.Status = domain.PayoutProcessing
	p.ProcessingStartedAt = &at
	r.store.payouts[payoutID] = p
	return true, nil
}

func (r *payoutRepository) Complete(_ context.Context, payoutID, transactionID string, at time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.payouts[payoutID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if p.Status.IsTerminal() {
		return false, nil
	}
	p.Status = domain.PayoutCompleted
	p.TransactionID = transactionID
	p.ProcessedAt = &at
	r.store.payouts[payoutID] = p
	return true, nil
}

func (r *payoutRepository) FailAndRefund(_ context.Context, payoutID, reason string, at time.Time) (bool, error) {
	return r.failAndRefund(payoutID, reason, at, func(p domain.Payout) bool { return !p.Status.IsTerminal() })
}

func (r *payoutRepository) RefundStale(_ context.Context, payoutID, reason string, at time.Time, cutoffs domain.StaleCutoffs) (bool, error) {
	return r.failAndRefund(payoutID, reason, at, cutoffs.Covers)
}

func (r *payoutRepository) failAndRefund(payoutID, reason string, at time.Time, eligible func(domain.Payout) bool) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.payouts[payoutID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !eligible(p) {
		return false, nil
	}
	user, ok := r.store.users[p.UserID]
	if !ok {
		return false, domain.ErrNotFound
	}
	p.Status = domain.PayoutFailed
	p.FailureReason = reason
	p.ProcessedAt = &at
	p.RefundedAt = &at
	r.store.payouts[payoutID] = p
	user.Balance = user.Balance.Add(p.Amount)
	user.UpdatedAt = at
	r.store.users[user.UserID] = user
	return true, nil
}

func (r *payoutRepository) Get(_ context.Context, payoutID string) (domain.Payout, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	p, ok := r.store.payouts[payoutID]
	if !ok {
		return domain.Payout{}, domain.ErrNotFound
	}
	return p, nil
}

func (r *payoutRepository) SumOpenByUser(_ context.Context, userID string) (decimal.Decimal, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	sum := decimal.Zero
	for _, p := range r.store.payouts {
		if p.UserID == userID && !p.Status.IsTerminal() {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}

func (r *payoutRepository) ListStale(_ context.Context, cutoffs domain.StaleCutoffs, limit int) ([]domain.Payout, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.Payout, 0)
	for _, p := range r.store.payouts {
		if cutoffs.Covers(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
