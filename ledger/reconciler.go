/*
Package ledger implements the account ledger reconciler.

PURPOSE:
  Recompute, from scratch, a patient's consumption, payments, credit and
  balance from the persisted Session/Payment/Refund facts. The stored
  snapshot is a cache; this recomputation is the source of truth and must
  be idempotent: identical inputs yield an identical snapshot.

CREDIT MODEL:
  Available credit is the money the clinic holds without a matching
  consumed service:
    + advance payments (no target)
    + payments against sessions still in scheduled state
    + per-session excess over the billable amount, for occurred sessions
    - credit draws
    - general-credit refunds
  Credit draws are consumption of this pool, never a source of it; the
  reserved credit_draw funding method is excluded from every other
  aggregate.

DEBT MODEL:
  Outstanding debt is summed per billable unit: occurred sessions with a
  direct billable amount, plus projects and monthly plans past the
  planned state. Per unit: max(0, billed - net paid toward the unit).
  Balance = available credit - debt.

SEE ALSO:
  - validate.go: the standalone read-only integrity sweep
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/praxia/clinic-engine/clinic"
	"github.com/praxia/clinic-engine/metrics"
)

// Reconciler recomputes patient ledgers.
type Reconciler struct {
	store clinic.TxStore
	locks *clinic.KeyedMutex
	log   zerolog.Logger
	now   func() time.Time
}

func New(store clinic.TxStore, locks *clinic.KeyedMutex, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		store: store,
		locks: locks,
		log:   log.With().Str("component", "ledger").Logger(),
		now:   time.Now,
	}
}

// =============================================================================
// RECOMPUTE
// =============================================================================

// Recompute rebuilds the patient's snapshot from persisted facts and
// upserts the cache, all against the given store. Mutating operations
// call this inside their own transaction so the caller never observes a
// stale ledger.
func (r *Reconciler) Recompute(ctx context.Context, st clinic.Store, patient clinic.PatientID) (*clinic.AccountSnapshot, error) {
	snap, err := r.compute(ctx, st, patient)
	if err != nil {
		return nil, err
	}
	if err := st.PutSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("storing snapshot: %w", err)
	}
	metrics.RecomputesTotal.Inc()
	return snap, nil
}

// RecomputeLocked is the standalone entry point: it takes the per-patient
// lock and runs the recompute in its own transaction.
func (r *Reconciler) RecomputeLocked(ctx context.Context, patient clinic.PatientID) (*clinic.AccountSnapshot, error) {
	unlock := r.locks.Lock("patient:" + string(patient))
	defer unlock()

	var snap *clinic.AccountSnapshot
	err := r.store.WithTx(ctx, func(st clinic.Store) error {
		var err error
		snap, err = r.Recompute(ctx, st, patient)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Snapshot returns the cached snapshot, recomputing on a cache miss.
func (r *Reconciler) Snapshot(ctx context.Context, patient clinic.PatientID) (*clinic.AccountSnapshot, error) {
	snap, err := r.store.GetSnapshot(ctx, patient)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, clinic.ErrNotFound) {
		return nil, err
	}
	return r.RecomputeLocked(ctx, patient)
}

// AvailableCredit recomputes and returns just the credit figure. Used by
// the payment processor inside its draw transaction.
func (r *Reconciler) AvailableCredit(ctx context.Context, st clinic.Store, patient clinic.PatientID) (clinic.Money, error) {
	snap, err := r.compute(ctx, st, patient)
	if err != nil {
		return clinic.MoneyZero, err
	}
	return snap.AvailableCredit, nil
}

// =============================================================================
// THE COMPONENT PATH
// =============================================================================

// facts is everything the recomputation reads, fetched once.
type facts struct {
	sessions []*clinic.Session
	projects []*clinic.Project
	plans    []*clinic.MonthlyPlan
	payments []*clinic.Payment
	refunds  []*clinic.Refund
}

func loadFacts(ctx context.Context, st clinic.Store, patient clinic.PatientID) (*facts, error) {
	f := &facts{}
	var err error
	if f.sessions, err = st.ListSessionsByPatient(ctx, patient); err != nil {
		return nil, fmt.Errorf("loading sessions: %w", err)
	}
	if f.projects, err = st.ListProjectsByPatient(ctx, patient); err != nil {
		return nil, fmt.Errorf("loading projects: %w", err)
	}
	if f.plans, err = st.ListPlansByPatient(ctx, patient); err != nil {
		return nil, fmt.Errorf("loading plans: %w", err)
	}
	if f.payments, err = st.ListPaymentsByPatient(ctx, patient); err != nil {
		return nil, fmt.Errorf("loading payments: %w", err)
	}
	if f.refunds, err = st.ListRefundsByPatient(ctx, patient); err != nil {
		return nil, fmt.Errorf("loading refunds: %w", err)
	}
	return f, nil
}

func (f *facts) session(id clinic.SessionID) *clinic.Session {
	for _, s := range f.sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// paidTowardSession sums non-voided payments attached to the session,
// credit draws included: a draw transfers pooled credit onto the unit.
func (f *facts) paidTowardSession(id clinic.SessionID) clinic.Money {
	total := clinic.MoneyZero
	for _, p := range f.payments {
		if p.Voided || p.SessionID == nil || *p.SessionID != id {
			continue
		}
		total = total.Add(p.Amount)
	}
	return total
}

// countedTowardSession is paidTowardSession restricted to payments that
// inject money (non-draw); used for the excess-to-credit aggregate so a
// draw can never mint credit.
func (f *facts) countedTowardSession(id clinic.SessionID) clinic.Money {
	total := clinic.MoneyZero
	for _, p := range f.payments {
		if !p.Counts() || p.SessionID == nil || *p.SessionID != id {
			continue
		}
		total = total.Add(p.Amount)
	}
	return total
}

// netPaidTowardProject is payments minus refunds for the project.
func (f *facts) netPaidTowardProject(id clinic.ProjectID) clinic.Money {
	total := clinic.MoneyZero
	for _, p := range f.payments {
		if p.Voided || p.ProjectID == nil || *p.ProjectID != id {
			continue
		}
		total = total.Add(p.Amount)
	}
	for _, rf := range f.refunds {
		if rf.ProjectID != nil && *rf.ProjectID == id {
			total = total.Sub(rf.Amount)
		}
	}
	return total
}

func (f *facts) netPaidTowardPlan(id clinic.PlanID) clinic.Money {
	total := clinic.MoneyZero
	for _, p := range f.payments {
		if p.Voided || p.PlanID == nil || *p.PlanID != id {
			continue
		}
		total = total.Add(p.Amount)
	}
	for _, rf := range f.refunds {
		if rf.PlanID != nil && *rf.PlanID == id {
			total = total.Sub(rf.Amount)
		}
	}
	return total
}

func (r *Reconciler) compute(ctx context.Context, st clinic.Store, patient clinic.PatientID) (*clinic.AccountSnapshot, error) {
	f, err := loadFacts(ctx, st, patient)
	if err != nil {
		return nil, err
	}
	snap := computeFromFacts(patient, f)
	snap.ComputedAt = r.now()
	return snap, nil
}

// computeFromFacts is the pure core: same facts in, same snapshot out.
func computeFromFacts(patient clinic.PatientID, f *facts) *clinic.AccountSnapshot {
	// (1) Advance payments.
	advances := clinic.MoneyZero
	for _, p := range f.payments {
		if p.Counts() && p.IsAdvance() {
			advances = advances.Add(p.Amount)
		}
	}

	// (2) Payments against sessions still scheduled.
	scheduledPaid := clinic.MoneyZero
	for _, p := range f.payments {
		if !p.Counts() || p.SessionID == nil {
			continue
		}
		if s := f.session(*p.SessionID); s != nil && s.State == clinic.SessionScheduled {
			scheduledPaid = scheduledPaid.Add(p.Amount)
		}
	}

	// (3) Excess over the billable amount, per occurred session. Only
	// money-injecting payments can produce excess.
	excess := clinic.MoneyZero
	for _, s := range f.sessions {
		if !s.State.HasOccurred() || s.ProjectID != nil || !s.Amount.IsPositive() {
			continue
		}
		paid := f.countedTowardSession(s.ID)
		if over := paid.Sub(s.Amount); over.IsPositive() {
			excess = excess.Add(over)
		}
	}

	// (4) Credit draws.
	draws := clinic.MoneyZero
	for _, p := range f.payments {
		if !p.Voided && p.IsCreditDraw() {
			draws = draws.Add(p.Amount)
		}
	}

	// General-credit refunds draw the pool down like a draw does.
	generalRefunds := clinic.MoneyZero
	for _, rf := range f.refunds {
		if rf.IsGeneral() {
			generalRefunds = generalRefunds.Add(rf.Amount)
		}
	}

	// (5) The credit pool.
	credit := advances.Add(scheduledPaid).Add(excess).Sub(draws).Sub(generalRefunds)

	// (6) Total consumed.
	consumed := clinic.MoneyZero
	for _, s := range f.sessions {
		if s.State.HasOccurred() {
			consumed = consumed.Add(s.Amount)
		}
	}
	for _, p := range f.projects {
		if stateInProject(p.State) {
			consumed = consumed.Add(p.Price)
		}
	}
	for _, p := range f.plans {
		if stateInPlan(p.State) {
			consumed = consumed.Add(p.Price)
		}
	}

	// (7) Total paid: every non-voided inflow, draws excluded.
	totalPaid := clinic.MoneyZero
	for _, p := range f.payments {
		if p.Counts() {
			totalPaid = totalPaid.Add(p.Amount)
		}
	}

	// (8) Outstanding debt per billable unit.
	debt := clinic.MoneyZero
	for _, s := range f.sessions {
		if !s.State.HasOccurred() || s.ProjectID != nil || !s.Amount.IsPositive() {
			continue
		}
		if owed := s.Amount.Sub(f.paidTowardSession(s.ID)); owed.IsPositive() {
			debt = debt.Add(owed)
		}
	}
	for _, p := range f.projects {
		if !stateInProject(p.State) {
			continue
		}
		if owed := p.Price.Sub(f.netPaidTowardProject(p.ID)); owed.IsPositive() {
			debt = debt.Add(owed)
		}
	}
	for _, p := range f.plans {
		if !stateInPlan(p.State) {
			continue
		}
		if owed := p.Price.Sub(f.netPaidTowardPlan(p.ID)); owed.IsPositive() {
			debt = debt.Add(owed)
		}
	}

	return &clinic.AccountSnapshot{
		PatientID:       patient,
		TotalConsumed:   consumed,
		TotalPaid:       totalPaid,
		AvailableCredit: credit,
		Debt:            debt,
		Balance:         credit.Sub(debt),
	}
}

func stateInProject(s clinic.ProjectState) bool {
	for _, c := range clinic.ConsumedProjectStates {
		if s == c {
			return true
		}
	}
	return false
}

func stateInPlan(s clinic.PlanState) bool {
	for _, c := range clinic.ConsumedPlanStates {
		if s == c {
			return true
		}
	}
	return false
}

// =============================================================================
// THE REPLAY PATH
// =============================================================================

// replayCredit derives available credit a second way: a chronological
// walk over payment and refund events maintaining a running credit pool,
// attributing per-session excess marginally as each payment lands. The
// integrity sweep compares this against the component path.
func replayCredit(f *facts) clinic.Money {
	type event struct {
		at      time.Time
		payment *clinic.Payment
		refund  *clinic.Refund
	}
	var events []event
	for _, p := range f.payments {
		if p.Voided {
			continue
		}
		events = append(events, event{at: p.Audit.CreatedAt, payment: p})
	}
	for _, rf := range f.refunds {
		if rf.IsGeneral() {
			events = append(events, event{at: rf.Audit.CreatedAt, refund: rf})
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].at.Before(events[j].at) })

	credit := clinic.MoneyZero
	runningPaid := make(map[clinic.SessionID]clinic.Money)

	for _, ev := range events {
		if ev.refund != nil {
			credit = credit.Sub(ev.refund.Amount)
			continue
		}
		p := ev.payment
		switch {
		case p.IsCreditDraw():
			credit = credit.Sub(p.Amount)
		case p.IsAdvance():
			credit = credit.Add(p.Amount)
		case p.SessionID != nil:
			s := f.session(*p.SessionID)
			if s == nil {
				continue
			}
			if s.State == clinic.SessionScheduled {
				credit = credit.Add(p.Amount)
				continue
			}
			if !s.State.HasOccurred() || s.ProjectID != nil || !s.Amount.IsPositive() {
				continue
			}
			before := runningPaid[s.ID]
			after := before.Add(p.Amount)
			runningPaid[s.ID] = after
			credit = credit.Add(marginalExcess(before, after, s.Amount))
		default:
			// Project/plan payments never feed the credit pool; their
			// overages are settled through refunds or price adjustment.
		}
	}
	return credit
}

// marginalExcess is the credit contributed by one payment: the growth of
// max(0, paid-billed) caused by it.
func marginalExcess(before, after, billed clinic.Money) clinic.Money {
	overBefore := before.Sub(billed)
	if overBefore.IsNegative() {
		overBefore = clinic.MoneyZero
	}
	overAfter := after.Sub(billed)
	if overAfter.IsNegative() {
		overAfter = clinic.MoneyZero
	}
	return overAfter.Sub(overBefore)
}

// =============================================================================
// PER-UNIT BALANCES
// =============================================================================

// UnitBalance is the read-computed standing of one billable unit.
type UnitBalance struct {
	Billed      clinic.Money
	Paid        clinic.Money
	Outstanding clinic.Money // max(0, Billed - Paid)
}

func unitBalance(billed, paid clinic.Money) UnitBalance {
	out := billed.Sub(paid)
	if out.IsNegative() {
		out = clinic.MoneyZero
	}
	return UnitBalance{Billed: billed, Paid: paid, Outstanding: out}
}

// SessionBalance reports how much is still owed on one session. Computed
// from current facts on every call, never cached.
func (r *Reconciler) SessionBalance(ctx context.Context, id clinic.SessionID) (*UnitBalance, error) {
	sess, err := r.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	payments, err := r.store.ListPaymentsBySession(ctx, id)
	if err != nil {
		return nil, err
	}
	paid := clinic.MoneyZero
	for _, p := range payments {
		if !p.Voided {
			paid = paid.Add(p.Amount)
		}
	}
	b := unitBalance(sess.Amount, paid)
	return &b, nil
}

// ProjectBalance reports the net standing of a project: payments minus
// refunds against the contracted price.
func (r *Reconciler) ProjectBalance(ctx context.Context, id clinic.ProjectID) (*UnitBalance, error) {
	proj, err := r.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	f := &facts{}
	if f.payments, err = r.store.ListPaymentsByProject(ctx, id); err != nil {
		return nil, err
	}
	if f.refunds, err = r.store.ListRefundsByProject(ctx, id); err != nil {
		return nil, err
	}
	b := unitBalance(proj.Price, f.netPaidTowardProject(id))
	return &b, nil
}

// PlanBalance is ProjectBalance for a monthly plan.
func (r *Reconciler) PlanBalance(ctx context.Context, id clinic.PlanID) (*UnitBalance, error) {
	plan, err := r.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	f := &facts{}
	if f.payments, err = r.store.ListPaymentsByPlan(ctx, id); err != nil {
		return nil, err
	}
	if f.refunds, err = r.store.ListRefundsByPlan(ctx, id); err != nil {
		return nil, err
	}
	b := unitBalance(plan.Price, f.netPaidTowardPlan(id))
	return &b, nil
}
