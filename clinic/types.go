/*
Package clinic provides the core domain types for the scheduling and
account-ledger engine.

PURPOSE:
  This package contains the shared vocabulary of the system: sessions,
  projects, monthly plans, payments, refunds, and the money type they all
  share. The schedule, ledger, and billing packages build on these types;
  clinic itself has no behavior beyond invariant checks on the types.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: fixed-point monetary amount (decimal.Decimal, never float)
  - Session: one patient-professional encounter with a lifecycle state
  - Project / MonthlyPlan: fixed-price bundles of sessions
  - Payment / Refund: monetary inflows and outflows, append-only
  - Typed IDs: prevent mixing patient/professional/session identifiers

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal; tolerance is one cent
  2. Append-only payments: voiding flips a flag, rows are never deleted
  3. Auditability: every mutable row carries creator/modifier stamps
  4. Derived values are computed, not cached, unless the ledger caches them
     with the same invalidation points as its own recompute triggers

SEE ALSO:
  - time.go: calendar dates, clock times, half-open time slots
  - errors.go: sentinel and structured error types
  - store.go: persistence interfaces
*/
package clinic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point monetary amounts
// =============================================================================

// Money is a fixed-point monetary amount. It is an alias rather than a
// wrapper so decimal arithmetic stays directly available to callers.
type Money = decimal.Decimal

// MoneyTolerance is the maximum discrepancy the integrity sweep accepts:
// one minimum currency unit.
var MoneyTolerance = decimal.NewFromFloat(0.01)

// M parses a decimal literal. It is intended for constants and tests;
// a malformed literal yields zero.
func M(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// MoneyZero is the zero amount.
var MoneyZero = decimal.Zero

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PatientID string
type ProfessionalID string
type BranchID string
type ServiceID string
type SessionID string
type ProjectID string
type PlanID string
type PaymentID string
type RefundID string

// =============================================================================
// SESSION - One scheduled patient-professional encounter
// =============================================================================

type SessionState string

const (
	SessionScheduled     SessionState = "scheduled"
	SessionCompleted     SessionState = "completed"
	SessionCompletedLate SessionState = "completed_late"
	SessionNoShow        SessionState = "no_show"
	SessionExcused       SessionState = "excused"
	SessionCancelled     SessionState = "cancelled"
	SessionRescheduled   SessionState = "rescheduled"
)

// CommittedStates are the lifecycle states that still occupy a time slot
// for conflict purposes. A no-show session is billable but its slot is in
// the past and cannot conflict with a new booking on the same interval;
// the original system also scanned only these three states.
var CommittedStates = []SessionState{SessionScheduled, SessionCompleted, SessionCompletedLate}

// OccurredStates are the states whose billable amount counts as consumed.
var OccurredStates = []SessionState{SessionCompleted, SessionCompletedLate, SessionNoShow}

// ZeroBillingStates force the billable amount to zero on transition.
var ZeroBillingStates = []SessionState{SessionExcused, SessionCancelled, SessionRescheduled}

func (s SessionState) IsTerminal() bool  { return s != SessionScheduled }
func (s SessionState) IsCommitted() bool { return stateIn(s, CommittedStates) }
func (s SessionState) HasOccurred() bool { return stateIn(s, OccurredStates) }
func (s SessionState) ZeroesBilling() bool {
	return stateIn(s, ZeroBillingStates)
}

func stateIn(s SessionState, set []SessionState) bool {
	for _, c := range set {
		if s == c {
			return true
		}
	}
	return false
}

// Session is one scheduled encounter. Time-slot fields are immutable after
// creation: changing date/time goes through cancel+rebook so the conflict
// history stays intact.
type Session struct {
	ID             SessionID
	PatientID      PatientID
	ProfessionalID ProfessionalID
	BranchID       BranchID
	ServiceID      ServiceID

	// At most one of ProjectID/PlanID is set. A project-funded session
	// bills nothing directly.
	ProjectID *ProjectID
	PlanID    *PlanID

	Date DayDate
	Slot TimeSlot

	State  SessionState
	Amount Money // billable amount, >= 0
	// OriginalAmount is recorded the first time a pay-in-full payment
	// retroactively redefines the billable amount; nil until then.
	OriginalAmount *Money
	Notes          string

	// Reschedule bookkeeping. The replacement session is a separate row
	// booked through the scheduler; these fields only record the intent.
	RescheduledDate   *DayDate
	RescheduledStart  *ClockTime
	RescheduleReason  string
	ReplacementBooked bool

	// Late-arrival bookkeeping.
	ActualStart *ClockTime
	MinutesLate int

	Audit Audit
}

// Validate checks the construction invariants of a session.
func (s *Session) Validate() error {
	if s.PatientID == "" || s.ProfessionalID == "" || s.BranchID == "" || s.ServiceID == "" {
		return &FieldError{Field: "session", Reason: "patient, professional, branch and service are required"}
	}
	if !s.Slot.Valid() {
		return &FieldError{Field: "slot", Reason: "end time must be after start time"}
	}
	if s.Amount.IsNegative() {
		return &FieldError{Field: "amount", Reason: "billable amount cannot be negative"}
	}
	if s.ProjectID != nil && s.PlanID != nil {
		return &FieldError{Field: "funding", Reason: "a session cannot be funded by both a project and a monthly plan"}
	}
	if s.ProjectID != nil && !s.Amount.IsZero() {
		return &FieldError{Field: "amount", Reason: "a project-funded session bills nothing directly"}
	}
	return nil
}

// =============================================================================
// PROJECT / MONTHLY PLAN - Fixed-price bundles
// =============================================================================

type ProjectState string

const (
	ProjectPlanned    ProjectState = "planned"
	ProjectInProgress ProjectState = "in_progress"
	ProjectFinished   ProjectState = "finished"
	ProjectCancelled  ProjectState = "cancelled"
)

func (s ProjectState) IsTerminal() bool { return s == ProjectFinished || s == ProjectCancelled }

// ConsumedProjectStates are the project states whose contracted price counts
// as consumed in the ledger. Planned projects are a future commitment and
// stay out of the current-consumption view.
var ConsumedProjectStates = []ProjectState{ProjectInProgress, ProjectFinished, ProjectCancelled}

// Project is a fixed-price bundle of sessions with variable duration,
// e.g. a multi-session evaluation.
type Project struct {
	ID        ProjectID
	PatientID PatientID
	Name      string
	Price     Money
	// OriginalPrice is recorded the first time the price is retroactively
	// adjusted (pay-in-full or finalize-with-adjust); nil until then.
	OriginalPrice *Money
	State         ProjectState
	StartDate     DayDate
	EstimatedEnd  *DayDate
	ActualEnd     *DayDate
	Audit         Audit
}

type PlanState string

const (
	PlanActive    PlanState = "active"
	PlanPaused    PlanState = "paused"
	PlanCompleted PlanState = "completed"
	PlanCancelled PlanState = "cancelled"
)

func (s PlanState) IsTerminal() bool { return s == PlanCompleted || s == PlanCancelled }

// ConsumedPlanStates mirror ConsumedProjectStates for monthly plans.
var ConsumedPlanStates = []PlanState{PlanActive, PlanPaused, PlanCompleted, PlanCancelled}

// MonthlyPlan is a fixed-price bundle scoped to one calendar month.
type MonthlyPlan struct {
	ID            PlanID
	PatientID     PatientID
	Year          int
	Month         time.Month
	Price         Money
	OriginalPrice *Money
	State         PlanState
	Audit         Audit
}

// =============================================================================
// PAYMENT - Monetary inflow, append-only except the voided flag
// =============================================================================

// FundingMethod identifies how a payment was funded.
type FundingMethod string

const (
	MethodCash     FundingMethod = "cash"
	MethodTransfer FundingMethod = "transfer"
	MethodQR       FundingMethod = "qr"

	// MethodCreditDraw is the reserved sentinel for payments that consume
	// previously accumulated credit. It is excluded from every "how much
	// was paid / how much credit exists" aggregate and counted only as
	// credit usage; anything else double-counts.
	MethodCreditDraw FundingMethod = "credit_draw"
)

// TargetKind says what a payment or refund is applied to.
type TargetKind string

const (
	TargetNone    TargetKind = ""
	TargetSession TargetKind = "session"
	TargetProject TargetKind = "project"
	TargetPlan    TargetKind = "plan"
)

// Payment is a monetary inflow. Rows are append-only: the only permitted
// mutation is flipping the voided flag (with audit stamps), or detaching
// the session reference through an explicit disposition.
type Payment struct {
	ID        PaymentID
	ReceiptNo string // REC-/CRE- sequence, store-issued
	PatientID PatientID

	// Exactly one of the references is set, or none for a general
	// account credit (an advance payment).
	SessionID *SessionID
	ProjectID *ProjectID
	PlanID    *PlanID

	Date    DayDate
	Amount  Money // > 0
	Method  FundingMethod
	Concept string
	Notes   string

	Voided     bool
	VoidReason string
	VoidedBy   string
	VoidedAt   *time.Time

	// TransferPending marks a payment left attached to a dead session,
	// awaiting manual reattachment to a replacement booking.
	TransferPending bool

	Audit Audit
}

// Target returns the kind of unit this payment is applied to.
func (p *Payment) Target() TargetKind {
	switch {
	case p.SessionID != nil:
		return TargetSession
	case p.ProjectID != nil:
		return TargetProject
	case p.PlanID != nil:
		return TargetPlan
	default:
		return TargetNone
	}
}

// IsAdvance reports whether the payment is a general account credit.
func (p *Payment) IsAdvance() bool { return p.Target() == TargetNone }

// IsCreditDraw reports whether the payment consumes credit rather than
// injecting new money.
func (p *Payment) IsCreditDraw() bool { return p.Method == MethodCreditDraw }

// Counts reports whether the payment participates in paid/credit aggregates:
// not voided and not a credit draw.
func (p *Payment) Counts() bool { return !p.Voided && !p.IsCreditDraw() }

// Validate checks the construction invariants of a payment.
func (p *Payment) Validate() error {
	if p.PatientID == "" {
		return &FieldError{Field: "patient", Reason: "patient is required"}
	}
	if !p.Amount.IsPositive() {
		return &FieldError{Field: "amount", Reason: "payment amount must be greater than zero"}
	}
	refs := 0
	if p.SessionID != nil {
		refs++
	}
	if p.ProjectID != nil {
		refs++
	}
	if p.PlanID != nil {
		refs++
	}
	if refs > 1 {
		return &FieldError{Field: "target", Reason: "a payment can target at most one session, project or plan"}
	}
	if p.Method == "" {
		return &FieldError{Field: "method", Reason: "funding method is required"}
	}
	return nil
}

// =============================================================================
// REFUND - Monetary outflow, immutable once created
// =============================================================================

// Refund is money returned to the patient against a project, a monthly plan,
// or the general credit balance. Refunds are immutable.
type Refund struct {
	ID        RefundID
	ReceiptNo string // DEV- sequence, store-issued
	PatientID PatientID

	// One of ProjectID/PlanID, or neither for a general-credit refund.
	ProjectID *ProjectID
	PlanID    *PlanID

	Date   DayDate
	Amount Money // > 0
	Reason string
	Method FundingMethod
	Notes  string

	Audit Audit
}

// IsGeneral reports whether the refund draws down general credit rather
// than a specific project or plan.
func (r *Refund) IsGeneral() bool { return r.ProjectID == nil && r.PlanID == nil }

// =============================================================================
// DISPOSITION - Handling of collected money when billing is zeroed
// =============================================================================

// DispositionChoice is the operator's explicit decision on what happens to
// non-voided payments attached to a session whose billing is being zeroed.
type DispositionChoice string

const (
	// DispositionNone means no choice was supplied; the transition is
	// rejected with a guard error if live payments exist.
	DispositionNone DispositionChoice = ""

	// DispositionConvertToCredit detaches the payments from the session so
	// they become general advance payments.
	DispositionConvertToCredit DispositionChoice = "convert_to_credit"

	// DispositionVoidWithRefund voids the payments with a system-generated
	// reason. The physical refund to the patient is an out-of-band manual
	// step the operator must confirm separately.
	DispositionVoidWithRefund DispositionChoice = "void_with_refund_obligation"

	// DispositionTransferPending leaves the payments attached to the dead
	// session, flagged as awaiting reattachment to a replacement booking.
	DispositionTransferPending DispositionChoice = "transfer_pending"
)

func (c DispositionChoice) Valid() bool {
	switch c {
	case DispositionConvertToCredit, DispositionVoidWithRefund, DispositionTransferPending:
		return true
	}
	return false
}

// =============================================================================
// AUDIT - Creator/modifier stamps carried by every mutable row
// =============================================================================

type Audit struct {
	CreatedBy  string
	CreatedAt  time.Time
	ModifiedBy string
	ModifiedAt time.Time
}

// NewAudit initializes the audit fields for a new row.
func NewAudit(actor string, now time.Time) Audit {
	return Audit{CreatedBy: actor, CreatedAt: now, ModifiedBy: actor, ModifiedAt: now}
}

// Touch updates the modifier fields.
func (a *Audit) Touch(actor string, now time.Time) {
	a.ModifiedBy = actor
	a.ModifiedAt = now
}

// =============================================================================
// DIRECTORY RECORDS - Patients, professionals, branches, services
// =============================================================================

// Patient is the minimal patient record the engine needs; demographics live
// with the excluded admin surfaces. PriceOverrides is the patient's own
// contracted price list, taking precedence over service list prices.
type Patient struct {
	ID             PatientID
	Name           string
	Active         bool
	Branches       []BranchID
	PriceOverrides map[ServiceID]Money
}

func (p *Patient) AssignedTo(branch BranchID) bool {
	for _, b := range p.Branches {
		if b == branch {
			return true
		}
	}
	return false
}

// Professional is the minimal professional record: which services they offer
// and which branches they work at.
type Professional struct {
	ID       ProfessionalID
	Name     string
	Active   bool
	Branches []BranchID
	Services []ServiceID
}

func (p *Professional) WorksAt(branch BranchID) bool {
	for _, b := range p.Branches {
		if b == branch {
			return true
		}
	}
	return false
}

func (p *Professional) Offers(service ServiceID) bool {
	for _, s := range p.Services {
		if s == service {
			return true
		}
	}
	return false
}

// Branch is a clinic location.
type Branch struct {
	ID     BranchID
	Name   string
	Active bool
}

// Service is a therapy/consultation type with a default duration.
// DefaultPrice is the list price; nil means the service cannot be booked
// until someone sets one (or a patient-level override covers it).
type Service struct {
	ID              ServiceID
	Name            string
	DurationMinutes int
	Active          bool
	DefaultPrice    *Money
}
