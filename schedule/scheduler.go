/*
Package schedule implements the appointment conflict scheduler and the
session lifecycle manager.

PURPOSE:
  Decide whether a proposed session can be booked without double-booking
  the patient or the professional, expand recurrence rules into previewed
  candidate lists, commit caller-selected subsets with per-date re-checks,
  and own every lifecycle transition of a booked session.

KEY CONCEPTS IN THIS FILE (scheduler.go):
  - CheckAvailability: two-sided overlap scan over committed sessions
  - Book: eligibility + price + locked check-then-insert + recompute
  - AvailabilityResult: every conflict, never just the first

CONCURRENCY:
  Availability checks and previews are lock-free reads. Book serializes
  on (patient, date) and (professional, date) keys spanning the whole
  check-then-insert sequence, and re-checks inside the transaction. The
  storage layer keeps a uniqueness backstop on (patient, date, start).

SEE ALSO:
  - series.go: recurrence preview and partial-success commit
  - lifecycle.go: state transitions and the billing-zeroing guard
*/
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/praxia/clinic-engine/clinic"
	"github.com/praxia/clinic-engine/metrics"
	"github.com/praxia/clinic-engine/pricing"
)

// Recomputer refreshes a patient's ledger snapshot inside the caller's
// transaction. Implemented by ledger.Reconciler.
type Recomputer interface {
	Recompute(ctx context.Context, st clinic.Store, patient clinic.PatientID) (*clinic.AccountSnapshot, error)
}

// Scheduler books sessions and answers availability questions.
type Scheduler struct {
	store       clinic.TxStore
	locks       *clinic.KeyedMutex
	pricing     pricing.Pricing
	eligibility pricing.Eligibility
	ledger      Recomputer
	log         zerolog.Logger
	now         func() time.Time
}

func NewScheduler(store clinic.TxStore, locks *clinic.KeyedMutex, pr pricing.Pricing, el pricing.Eligibility, ledger Recomputer, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:       store,
		locks:       locks,
		pricing:     pr,
		eligibility: el,
		ledger:      ledger,
		log:         log.With().Str("component", "scheduler").Logger(),
		now:         time.Now,
	}
}

// =============================================================================
// AVAILABILITY
// =============================================================================

// Conflict describes one committed session blocking a proposed slot.
type Conflict struct {
	SessionID      clinic.SessionID
	PatientID      clinic.PatientID
	ProfessionalID clinic.ProfessionalID
	BranchID       clinic.BranchID
	ServiceID      clinic.ServiceID
	Date           clinic.DayDate
	Slot           clinic.TimeSlot
	State          clinic.SessionState
}

// AvailabilityResult is the full two-sided verdict for one proposed slot.
type AvailabilityResult struct {
	Available             bool
	PatientConflicts      []Conflict
	ProfessionalConflicts []Conflict
}

// CheckAvailability scans the patient's and the professional's committed
// sessions on the date for half-open overlap with the proposed slot. Every
// conflicting session is reported, not just the first. Read-only.
func (s *Scheduler) CheckAvailability(ctx context.Context, patient clinic.PatientID, professional clinic.ProfessionalID, date clinic.DayDate, slot clinic.TimeSlot, exclude clinic.SessionID) (*AvailabilityResult, error) {
	return checkAvailability(ctx, s.store, patient, professional, date, slot, exclude)
}

// checkAvailability runs against any Store so the commit path can reuse it
// inside a transaction.
func checkAvailability(ctx context.Context, st clinic.Store, patient clinic.PatientID, professional clinic.ProfessionalID, date clinic.DayDate, slot clinic.TimeSlot, exclude clinic.SessionID) (*AvailabilityResult, error) {
	if !slot.Valid() {
		return nil, &clinic.FieldError{Field: "slot", Reason: "end time must be after start time"}
	}

	res := &AvailabilityResult{Available: true}

	patientSessions, err := st.ListCommittedSessions(ctx, date, patient, "")
	if err != nil {
		return nil, fmt.Errorf("listing patient sessions: %w", err)
	}
	for _, sess := range patientSessions {
		if sess.ID == exclude {
			continue
		}
		if slot.Overlaps(sess.Slot) {
			res.PatientConflicts = append(res.PatientConflicts, conflictOf(sess))
		}
	}

	proSessions, err := st.ListCommittedSessions(ctx, date, "", professional)
	if err != nil {
		return nil, fmt.Errorf("listing professional sessions: %w", err)
	}
	for _, sess := range proSessions {
		if sess.ID == exclude {
			continue
		}
		if slot.Overlaps(sess.Slot) {
			res.ProfessionalConflicts = append(res.ProfessionalConflicts, conflictOf(sess))
		}
	}

	res.Available = len(res.PatientConflicts) == 0 && len(res.ProfessionalConflicts) == 0
	return res, nil
}

func conflictOf(s *clinic.Session) Conflict {
	return Conflict{
		SessionID:      s.ID,
		PatientID:      s.PatientID,
		ProfessionalID: s.ProfessionalID,
		BranchID:       s.BranchID,
		ServiceID:      s.ServiceID,
		Date:           s.Date,
		Slot:           s.Slot,
		State:          s.State,
	}
}

// firstConflictError converts an unavailable result into a ConflictError
// naming the first blocking session; the full result stays available to
// callers that want every hit.
func firstConflictError(res *AvailabilityResult, date clinic.DayDate, slot clinic.TimeSlot) error {
	if len(res.PatientConflicts) > 0 {
		c := res.PatientConflicts[0]
		return &clinic.ConflictError{
			Party: "patient", PartyID: string(c.PatientID),
			Date: date, Requested: slot,
			BlockingID: c.SessionID, Blocking: c.Slot,
		}
	}
	c := res.ProfessionalConflicts[0]
	return &clinic.ConflictError{
		Party: "professional", PartyID: string(c.ProfessionalID),
		Date: date, Requested: slot,
		BlockingID: c.SessionID, Blocking: c.Slot,
	}
}

// =============================================================================
// BOOKING
// =============================================================================

// BookRequest describes one session to create.
type BookRequest struct {
	PatientID      clinic.PatientID
	ProfessionalID clinic.ProfessionalID
	BranchID       clinic.BranchID
	ServiceID      clinic.ServiceID
	ProjectID      *clinic.ProjectID
	PlanID         *clinic.PlanID
	Date           clinic.DayDate
	Start          clinic.ClockTime
	// DurationMinutes overrides the service default when > 0.
	DurationMinutes int
	Notes           string
	Actor           string
}

// Book creates one session: eligibility check, price lookup, then a
// locked check-then-insert with a ledger recompute in the same
// transaction.
func (s *Scheduler) Book(ctx context.Context, req BookRequest) (*clinic.Session, error) {
	sess, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.LockAll(
		bookingKey("patient", string(req.PatientID), req.Date),
		bookingKey("professional", string(req.ProfessionalID), req.Date),
	)
	defer unlock()

	err = s.store.WithTx(ctx, func(st clinic.Store) error {
		res, err := checkAvailability(ctx, st, req.PatientID, req.ProfessionalID, req.Date, sess.Slot, "")
		if err != nil {
			return err
		}
		if !res.Available {
			return firstConflictError(res, req.Date, sess.Slot)
		}
		if err := st.CreateSession(ctx, sess); err != nil {
			return err
		}
		_, err = s.ledger.Recompute(ctx, st, req.PatientID)
		return err
	})
	if err != nil {
		if errors.Is(err, clinic.ErrConflict) {
			metrics.BookingsTotal.WithLabelValues("conflict").Inc()
		} else {
			metrics.BookingsTotal.WithLabelValues("rejected").Inc()
		}
		return nil, err
	}
	metrics.BookingsTotal.WithLabelValues("created").Inc()

	s.log.Info().
		Str("session", string(sess.ID)).
		Str("patient", string(sess.PatientID)).
		Str("professional", string(sess.ProfessionalID)).
		Str("date", sess.Date.String()).
		Str("slot", sess.Slot.String()).
		Msg("session booked")
	return sess, nil
}

// prepare validates the request and builds the unsaved session, including
// the billable-amount policy: zero when project-funded, the contracted
// price otherwise.
func (s *Scheduler) prepare(ctx context.Context, req BookRequest) (*clinic.Session, error) {
	if err := s.eligibility.Check(ctx, req.PatientID, req.ProfessionalID, req.ServiceID, req.BranchID); err != nil {
		return nil, err
	}

	duration := req.DurationMinutes
	if duration <= 0 {
		svc, err := s.store.GetService(ctx, req.ServiceID)
		if err != nil {
			return nil, err
		}
		duration = svc.DurationMinutes
	}
	if duration <= 0 {
		return nil, &clinic.FieldError{Field: "duration", Reason: "session duration must be positive"}
	}

	amount := clinic.MoneyZero
	if req.ProjectID == nil {
		price, err := s.pricing.Get(ctx, req.PatientID, req.ServiceID)
		if err != nil {
			return nil, err
		}
		amount = price
	} else {
		if _, err := s.store.GetProject(ctx, *req.ProjectID); err != nil {
			return nil, err
		}
	}
	if req.PlanID != nil {
		if _, err := s.store.GetPlan(ctx, *req.PlanID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	sess := &clinic.Session{
		ID:             clinic.SessionID(uuid.NewString()),
		PatientID:      req.PatientID,
		ProfessionalID: req.ProfessionalID,
		BranchID:       req.BranchID,
		ServiceID:      req.ServiceID,
		ProjectID:      req.ProjectID,
		PlanID:         req.PlanID,
		Date:           req.Date,
		Slot:           clinic.SlotFrom(req.Start, duration),
		State:          clinic.SessionScheduled,
		Amount:         amount,
		Notes:          req.Notes,
		Audit:          clinic.NewAudit(req.Actor, now),
	}
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	return sess, nil
}

func bookingKey(party, id string, date clinic.DayDate) string {
	return fmt.Sprintf("book:%s:%s:%s", party, id, date)
}
