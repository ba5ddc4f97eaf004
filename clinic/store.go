/*
clinic/store.go - Persistence interfaces

PURPOSE:
  One Store interface covers every aggregate the engine persists. The
  sqlite implementation is the production path; the in-memory one backs
  tests. TxStore adds transactional execution: the callback receives a
  Store whose writes commit or roll back atomically.

CONVENTIONS:
  - Get* returns a NotFoundError (wrapping ErrNotFound) for missing rows
  - Create* assigns receipt numbers where the type carries one
  - List* results are ordered as documented per method; callers rely on it
  - All methods take a context and honor its cancellation
*/
package clinic

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Full persistence surface
// =============================================================================

type Store interface {
	SessionStore
	ProjectStore
	PlanStore
	PaymentStore
	RefundStore
	DirectoryStore
	LedgerStore
}

// TxStore is a Store that can execute a function transactionally. If fn
// returns an error the transaction rolls back and the error is returned.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// SESSIONS
// =============================================================================

type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id SessionID) (*Session, error)
	// UpdateSession persists state, billing and bookkeeping fields; the
	// slot fields are immutable and implementations ignore changes there.
	UpdateSession(ctx context.Context, s *Session) error

	// ListCommittedSessions returns committed-state sessions on the given
	// date for the patient or the professional (either filter may be
	// empty), ordered by start time.
	ListCommittedSessions(ctx context.Context, date DayDate, patient PatientID, professional ProfessionalID) ([]*Session, error)

	// ListSessionsByPatient returns every session of the patient ordered
	// by (date, start).
	ListSessionsByPatient(ctx context.Context, patient PatientID) ([]*Session, error)

	// ListSessionsByProject returns the sessions funded by a project,
	// ordered by (date, start).
	ListSessionsByProject(ctx context.Context, project ProjectID) ([]*Session, error)

	// ListSessionsByPlan returns the sessions funded by a monthly plan,
	// ordered by (date, start).
	ListSessionsByPlan(ctx context.Context, plan PlanID) ([]*Session, error)
}

// =============================================================================
// PROJECTS / MONTHLY PLANS
// =============================================================================

type ProjectStore interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id ProjectID) (*Project, error)
	UpdateProject(ctx context.Context, p *Project) error
	ListProjectsByPatient(ctx context.Context, patient PatientID) ([]*Project, error)
}

type PlanStore interface {
	CreatePlan(ctx context.Context, p *MonthlyPlan) error
	GetPlan(ctx context.Context, id PlanID) (*MonthlyPlan, error)
	UpdatePlan(ctx context.Context, p *MonthlyPlan) error
	ListPlansByPatient(ctx context.Context, patient PatientID) ([]*MonthlyPlan, error)
}

// =============================================================================
// PAYMENTS / REFUNDS
// =============================================================================

type PaymentStore interface {
	// CreatePayment assigns the receipt number (REC- for money inflows,
	// CRE- for credit draws) before persisting.
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	// UpdatePayment persists the voided/transfer flags, target reference
	// and audit stamps; amount, method and date are immutable.
	UpdatePayment(ctx context.Context, p *Payment) error

	// ListPaymentsByPatient returns every payment of the patient ordered
	// by (date, created_at); voided rows included.
	ListPaymentsByPatient(ctx context.Context, patient PatientID) ([]*Payment, error)
	ListPaymentsBySession(ctx context.Context, session SessionID) ([]*Payment, error)
	ListPaymentsByProject(ctx context.Context, project ProjectID) ([]*Payment, error)
	ListPaymentsByPlan(ctx context.Context, plan PlanID) ([]*Payment, error)

	// ListCreditDrawsAfter returns non-voided credit-draw payments of the
	// patient created at or after the given instant, ordered by creation.
	// Used by the void guard.
	ListCreditDrawsAfter(ctx context.Context, patient PatientID, after time.Time) ([]*Payment, error)
}

type RefundStore interface {
	// CreateRefund assigns the DEV- receipt number before persisting.
	CreateRefund(ctx context.Context, r *Refund) error
	GetRefund(ctx context.Context, id RefundID) (*Refund, error)
	ListRefundsByPatient(ctx context.Context, patient PatientID) ([]*Refund, error)
	ListRefundsByProject(ctx context.Context, project ProjectID) ([]*Refund, error)
	ListRefundsByPlan(ctx context.Context, plan PlanID) ([]*Refund, error)
}

// =============================================================================
// DIRECTORY - Patients, professionals, branches, services
// =============================================================================

type DirectoryStore interface {
	PutPatient(ctx context.Context, p *Patient) error
	GetPatient(ctx context.Context, id PatientID) (*Patient, error)
	ListPatients(ctx context.Context) ([]*Patient, error)

	PutProfessional(ctx context.Context, p *Professional) error
	GetProfessional(ctx context.Context, id ProfessionalID) (*Professional, error)

	PutBranch(ctx context.Context, b *Branch) error
	GetBranch(ctx context.Context, id BranchID) (*Branch, error)

	PutService(ctx context.Context, s *Service) error
	GetService(ctx context.Context, id ServiceID) (*Service, error)
}

// =============================================================================
// LEDGER SNAPSHOTS
// =============================================================================

// AccountSnapshot is the cached result of a full ledger recompute for one
// patient. It is derived data: the payments/sessions/refunds rows remain
// the source of truth.
type AccountSnapshot struct {
	PatientID       PatientID
	TotalConsumed   Money
	TotalPaid       Money
	AvailableCredit Money
	Debt            Money
	Balance         Money
	ComputedAt      time.Time
}

type LedgerStore interface {
	// PutSnapshot upserts the cached snapshot for a patient.
	PutSnapshot(ctx context.Context, s *AccountSnapshot) error
	// GetSnapshot returns the cached snapshot; ErrNotFound if the patient
	// has never been recomputed.
	GetSnapshot(ctx context.Context, patient PatientID) (*AccountSnapshot, error)
}
