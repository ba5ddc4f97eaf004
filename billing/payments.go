/*
Package billing implements the payment processor and the void/refund
orchestration.

PURPOSE:
  Register payments (cash and/or credit draw) against sessions, projects,
  monthly plans, or the general account; void payments with dependency
  guards; issue refunds; and apply the operator's disposition of
  collected money when a session's billing is zeroed.

KEY CONCEPTS IN THIS FILE (payments.go):
  - RegisterPayment: split cash/draw creation with the credit check and
    the draw write in one locked transaction
  - Pay-in-full: the payment retroactively defines the target's price,
    recording the prior price for audit
  - Void: flips the flag, never deletes; blocked when dependent credit
    draws or refunds would be left unbacked

SEE ALSO:
  - disposition.go: zero-billing payment dispositions and reattachment
  - refunds.go: refund registration with net-paid ceilings
  - projects.go: project/plan lifecycle and cost adjustment
*/
package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/praxia/clinic-engine/clinic"
	"github.com/praxia/clinic-engine/ledger"
	"github.com/praxia/clinic-engine/metrics"
)

// Processor registers, voids and dispositions payments.
type Processor struct {
	store  clinic.TxStore
	locks  *clinic.KeyedMutex
	ledger *ledger.Reconciler
	log    zerolog.Logger
	now    func() time.Time
}

func NewProcessor(store clinic.TxStore, locks *clinic.KeyedMutex, rec *ledger.Reconciler, log zerolog.Logger) *Processor {
	return &Processor{
		store:  store,
		locks:  locks,
		ledger: rec,
		log:    log.With().Str("component", "billing").Logger(),
		now:    time.Now,
	}
}

// =============================================================================
// REGISTRATION
// =============================================================================

// PaymentRequest describes one registration: a cash amount, a credit-draw
// amount, or both, against at most one target.
type PaymentRequest struct {
	PatientID        clinic.PatientID
	CashAmount       clinic.Money
	CreditDrawAmount clinic.Money
	Method           clinic.FundingMethod // required when CashAmount > 0
	TargetKind       clinic.TargetKind
	TargetID         string
	Date             clinic.DayDate
	Concept          string
	Notes            string

	// PayInFull retroactively sets the target's price to (previously paid
	// + this payment). Narrow escape hatch for sessions and projects
	// without an exact preset price; the prior price is recorded.
	PayInFull bool

	Actor string
}

// PaymentReceipt is the outcome of one registration: up to two payment
// rows and the fresh ledger snapshot.
type PaymentReceipt struct {
	Cash     *clinic.Payment
	Draw     *clinic.Payment
	Snapshot *clinic.AccountSnapshot
}

// RegisterPayment validates and records the payment(s), drawing credit
// atomically against the freshly recomputed balance.
func (pr *Processor) RegisterPayment(ctx context.Context, req PaymentRequest) (*PaymentReceipt, error) {
	if err := pr.validateRequest(&req); err != nil {
		return nil, err
	}

	unlock := pr.locks.Lock("patient:" + string(req.PatientID))
	defer unlock()

	receipt := &PaymentReceipt{}
	err := pr.store.WithTx(ctx, func(st clinic.Store) error {
		target, err := pr.resolveTarget(ctx, st, &req)
		if err != nil {
			return err
		}

		// The credit check and the draw write share this transaction;
		// the per-patient lock spans the whole sequence.
		if req.CreditDrawAmount.IsPositive() {
			available, err := pr.ledger.AvailableCredit(ctx, st, req.PatientID)
			if err != nil {
				return err
			}
			if req.CreditDrawAmount.GreaterThan(available) {
				return &clinic.InsufficientCreditError{
					PatientID: req.PatientID,
					Requested: req.CreditDrawAmount,
					Available: available,
				}
			}
		}

		now := pr.now()
		if req.CashAmount.IsPositive() {
			p := pr.buildPayment(&req, target, req.CashAmount, req.Method, now)
			if err := st.CreatePayment(ctx, p); err != nil {
				return err
			}
			receipt.Cash = p
		}
		if req.CreditDrawAmount.IsPositive() {
			p := pr.buildPayment(&req, target, req.CreditDrawAmount, clinic.MethodCreditDraw, now)
			if err := st.CreatePayment(ctx, p); err != nil {
				return err
			}
			receipt.Draw = p
		}

		if req.PayInFull {
			if err := pr.applyPayInFull(ctx, st, &req, target, now); err != nil {
				return err
			}
		}

		receipt.Snapshot, err = pr.ledger.Recompute(ctx, st, req.PatientID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if receipt.Cash != nil {
		metrics.PaymentsTotal.WithLabelValues("cash").Inc()
	}
	if receipt.Draw != nil {
		metrics.PaymentsTotal.WithLabelValues("credit_draw").Inc()
	}

	ev := pr.log.Info().
		Str("patient", string(req.PatientID)).
		Str("target", string(req.TargetKind)+":"+req.TargetID)
	if receipt.Cash != nil {
		ev = ev.Str("receipt", receipt.Cash.ReceiptNo).Str("cash", req.CashAmount.String())
	}
	if receipt.Draw != nil {
		ev = ev.Str("draw_receipt", receipt.Draw.ReceiptNo).Str("draw", req.CreditDrawAmount.String())
	}
	ev.Msg("payment registered")
	return receipt, nil
}

func (pr *Processor) validateRequest(req *PaymentRequest) error {
	if req.PatientID == "" {
		return &clinic.FieldError{Field: "patient", Reason: "patient is required"}
	}
	if req.CashAmount.IsNegative() || req.CreditDrawAmount.IsNegative() {
		return &clinic.FieldError{Field: "amount", Reason: "amounts cannot be negative"}
	}
	if !req.CashAmount.IsPositive() && !req.CreditDrawAmount.IsPositive() {
		return &clinic.FieldError{Field: "amount", Reason: "at least one of cash or credit-draw amount must be positive"}
	}
	if req.CashAmount.IsPositive() {
		if req.Method == "" {
			return &clinic.FieldError{Field: "method", Reason: "funding method is required for a cash amount"}
		}
		if req.Method == clinic.MethodCreditDraw {
			return &clinic.FieldError{Field: "method", Reason: "the credit-draw method is reserved for credit draws"}
		}
	}
	if req.TargetKind != clinic.TargetNone && req.TargetID == "" {
		return &clinic.FieldError{Field: "targetID", Reason: "target id is required for a targeted payment"}
	}
	if req.PayInFull && req.TargetKind != clinic.TargetSession && req.TargetKind != clinic.TargetProject {
		return &clinic.FieldError{Field: "payInFull", Reason: "pay-in-full applies only to sessions and projects"}
	}
	if req.Date.IsZero() {
		req.Date = clinic.DateOf(pr.now())
	}
	return nil
}

// paymentTarget is the resolved target of a registration.
type paymentTarget struct {
	session *clinic.Session
	project *clinic.Project
	plan    *clinic.MonthlyPlan
}

func (pr *Processor) resolveTarget(ctx context.Context, st clinic.Store, req *PaymentRequest) (*paymentTarget, error) {
	t := &paymentTarget{}
	switch req.TargetKind {
	case clinic.TargetNone:
		return t, nil
	case clinic.TargetSession:
		sess, err := st.GetSession(ctx, clinic.SessionID(req.TargetID))
		if err != nil {
			return nil, err
		}
		if sess.PatientID != req.PatientID {
			return nil, &clinic.FieldError{Field: "target", Reason: "session belongs to another patient"}
		}
		if sess.State.ZeroesBilling() {
			return nil, &clinic.FieldError{Field: "target", Reason: "session state " + string(sess.State) + " bills nothing"}
		}
		t.session = sess
	case clinic.TargetProject:
		proj, err := st.GetProject(ctx, clinic.ProjectID(req.TargetID))
		if err != nil {
			return nil, err
		}
		if proj.PatientID != req.PatientID {
			return nil, &clinic.FieldError{Field: "target", Reason: "project belongs to another patient"}
		}
		t.project = proj
	case clinic.TargetPlan:
		plan, err := st.GetPlan(ctx, clinic.PlanID(req.TargetID))
		if err != nil {
			return nil, err
		}
		if plan.PatientID != req.PatientID {
			return nil, &clinic.FieldError{Field: "target", Reason: "plan belongs to another patient"}
		}
		t.plan = plan
	default:
		return nil, &clinic.FieldError{Field: "targetKind", Reason: "unknown target kind " + string(req.TargetKind)}
	}
	return t, nil
}

func (pr *Processor) buildPayment(req *PaymentRequest, target *paymentTarget, amount clinic.Money, method clinic.FundingMethod, now time.Time) *clinic.Payment {
	p := &clinic.Payment{
		ID:        clinic.PaymentID(uuid.NewString()),
		PatientID: req.PatientID,
		Date:      req.Date,
		Amount:    amount,
		Method:    method,
		Concept:   req.Concept,
		Notes:     req.Notes,
		Audit:     clinic.NewAudit(req.Actor, now),
	}
	if target.session != nil {
		id := target.session.ID
		p.SessionID = &id
	}
	if target.project != nil {
		id := target.project.ID
		p.ProjectID = &id
	}
	if target.plan != nil {
		id := target.plan.ID
		p.PlanID = &id
	}
	return p
}

// applyPayInFull sets the target's price to the total now paid toward it,
// recording the prior price. The rows created earlier in this transaction
// are already visible here, so the totals include this payment.
func (pr *Processor) applyPayInFull(ctx context.Context, st clinic.Store, req *PaymentRequest, target *paymentTarget, now time.Time) error {
	switch {
	case target.session != nil:
		payments, err := st.ListPaymentsBySession(ctx, target.session.ID)
		if err != nil {
			return err
		}
		total := clinic.MoneyZero
		for _, p := range payments {
			if !p.Voided {
				total = total.Add(p.Amount)
			}
		}
		if target.session.OriginalAmount == nil {
			prior := target.session.Amount
			target.session.OriginalAmount = &prior
		}
		target.session.Amount = total
		target.session.Audit.Touch(req.Actor, now)
		pr.log.Info().
			Str("session", string(target.session.ID)).
			Str("prior", target.session.OriginalAmount.String()).
			Str("new", total.String()).
			Msg("session price redefined by pay-in-full")
		return st.UpdateSession(ctx, target.session)

	case target.project != nil:
		net, err := netPaidProject(ctx, st, target.project.ID)
		if err != nil {
			return err
		}
		if target.project.OriginalPrice == nil {
			prior := target.project.Price
			target.project.OriginalPrice = &prior
		}
		target.project.Price = net
		target.project.Audit.Touch(req.Actor, now)
		pr.log.Info().
			Str("project", string(target.project.ID)).
			Str("prior", target.project.OriginalPrice.String()).
			Str("new", net.String()).
			Msg("project price redefined by pay-in-full")
		return st.UpdateProject(ctx, target.project)
	}
	return &clinic.FieldError{Field: "payInFull", Reason: "pay-in-full requires a session or project target"}
}

// =============================================================================
// VOID
// =============================================================================

// Void flips the voided flag, stamps actor and timestamp, and recomputes
// the ledger. The row is never deleted. Blocked when the void would
// leave credit draws unbacked or a project/plan refunded beyond its net
// payments.
func (pr *Processor) Void(ctx context.Context, id clinic.PaymentID, actor, reason string) (*clinic.Payment, error) {
	if reason == "" {
		return nil, &clinic.FieldError{Field: "reason", Reason: "a void reason is required"}
	}
	if actor == "" {
		return nil, &clinic.FieldError{Field: "actor", Reason: "the voiding actor is required"}
	}

	p, err := pr.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := pr.locks.Lock("patient:" + string(p.PatientID))
	defer unlock()

	var voided *clinic.Payment
	err = pr.store.WithTx(ctx, func(st clinic.Store) error {
		p, err := st.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		if p.Voided {
			return &clinic.FieldError{Field: "payment", Reason: "payment is already voided"}
		}

		if err := pr.checkVoidGuards(ctx, st, p); err != nil {
			return err
		}

		now := pr.now()
		p.Voided = true
		p.VoidReason = reason
		p.VoidedBy = actor
		p.VoidedAt = &now
		p.Audit.Touch(actor, now)
		if err := st.UpdatePayment(ctx, p); err != nil {
			return err
		}

		snap, err := pr.ledger.Recompute(ctx, st, p.PatientID)
		if err != nil {
			return err
		}
		// Final backstop: a void that leaves the credit pool overdrawn
		// is rolled back even if the guard scan missed the dependency.
		if snap.AvailableCredit.IsNegative() {
			return &clinic.GuardError{
				Operation: "void payment " + string(p.ID),
				Reason:    "voiding would overdraw credit already consumed by credit draws",
			}
		}
		voided = p
		return nil
	})
	if err != nil {
		if errors.Is(err, clinic.ErrGuarded) {
			metrics.VoidsTotal.WithLabelValues("guarded").Inc()
		}
		return nil, err
	}
	metrics.VoidsTotal.WithLabelValues("voided").Inc()

	pr.log.Info().
		Str("payment", string(voided.ID)).
		Str("actor", actor).
		Str("reason", reason).
		Msg("payment voided")
	return voided, nil
}

// checkVoidGuards rejects voids with dependent records: credit draws
// recorded after a credit-source payment, and refunds that would exceed
// the remaining net payments of a project or plan.
func (pr *Processor) checkVoidGuards(ctx context.Context, st clinic.Store, p *clinic.Payment) error {
	// A credit-source payment (advance, or attached to a still-scheduled
	// session) may have been consumed by later draws.
	if sourcesCredit(ctx, st, p) {
		draws, err := st.ListCreditDrawsAfter(ctx, p.PatientID, p.Audit.CreatedAt)
		if err != nil {
			return err
		}
		if len(draws) > 0 {
			available, err := pr.ledger.AvailableCredit(ctx, st, p.PatientID)
			if err != nil {
				return err
			}
			if available.Sub(p.Amount).IsNegative() {
				ids := make([]string, len(draws))
				for i, d := range draws {
					ids[i] = string(d.ID)
				}
				return &clinic.GuardError{
					Operation: "void payment " + string(p.ID),
					Reason:    "credit sourced by this payment was already drawn; void the draws first",
					Dependent: ids,
				}
			}
		}
	}

	// Project/plan: the refunds already issued must stay covered.
	switch {
	case p.ProjectID != nil:
		net, err := netPaidProject(ctx, st, *p.ProjectID)
		if err != nil {
			return err
		}
		if net.Sub(p.Amount).IsNegative() {
			return &clinic.GuardError{
				Operation: "void payment " + string(p.ID),
				Reason:    "voiding would leave the project refunded beyond its net payments",
			}
		}
	case p.PlanID != nil:
		net, err := netPaidPlan(ctx, st, *p.PlanID)
		if err != nil {
			return err
		}
		if net.Sub(p.Amount).IsNegative() {
			return &clinic.GuardError{
				Operation: "void payment " + string(p.ID),
				Reason:    "voiding would leave the plan refunded beyond its net payments",
			}
		}
	}
	return nil
}

// sourcesCredit reports whether the payment currently feeds the credit
// pool: an advance, or money against a session still scheduled.
func sourcesCredit(ctx context.Context, st clinic.Store, p *clinic.Payment) bool {
	if !p.Counts() {
		return false
	}
	if p.IsAdvance() {
		return true
	}
	if p.SessionID == nil {
		return false
	}
	sess, err := st.GetSession(ctx, *p.SessionID)
	if err != nil {
		return false
	}
	return sess.State == clinic.SessionScheduled
}

// =============================================================================
// SHARED NET-PAID HELPERS
// =============================================================================

func netPaidProject(ctx context.Context, st clinic.Store, id clinic.ProjectID) (clinic.Money, error) {
	payments, err := st.ListPaymentsByProject(ctx, id)
	if err != nil {
		return clinic.MoneyZero, err
	}
	refunds, err := st.ListRefundsByProject(ctx, id)
	if err != nil {
		return clinic.MoneyZero, err
	}
	net := clinic.MoneyZero
	for _, p := range payments {
		if !p.Voided {
			net = net.Add(p.Amount)
		}
	}
	for _, r := range refunds {
		net = net.Sub(r.Amount)
	}
	return net, nil
}

func netPaidPlan(ctx context.Context, st clinic.Store, id clinic.PlanID) (clinic.Money, error) {
	payments, err := st.ListPaymentsByPlan(ctx, id)
	if err != nil {
		return clinic.MoneyZero, err
	}
	refunds, err := st.ListRefundsByPlan(ctx, id)
	if err != nil {
		return clinic.MoneyZero, err
	}
	net := clinic.MoneyZero
	for _, p := range payments {
		if !p.Voided {
			net = net.Add(p.Amount)
		}
	}
	for _, r := range refunds {
		net = net.Sub(r.Amount)
	}
	return net, nil
}
