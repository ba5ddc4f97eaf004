/*
schedule/lifecycle.go - Session state transitions

PURPOSE:
  Owns the state machine of a booked session. Scheduled is the only
  non-terminal state; every outcome is final for that session row. A
  rescheduled session never mutates into its replacement: a new row is
  booked separately so the payment history of the old slot survives.

TRANSITION RULES:
  - excused / cancelled / rescheduled zero the billable amount
  - completed_late records the actual start; lateness >= 0 whole minutes
  - rescheduled records the intended new date/time and a reason
  - zeroing billing while non-voided payments are attached requires an
    explicit payment disposition; without one the call fails with a
    guard error listing the live payments
*/
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/praxia/clinic-engine/clinic"
	"github.com/praxia/clinic-engine/metrics"
)

// Dispositioner applies the operator's chosen handling of payments
// attached to a session whose billing is being zeroed. Implemented by
// billing.Processor.
type Dispositioner interface {
	ApplyDisposition(ctx context.Context, st clinic.Store, session *clinic.Session, choice clinic.DispositionChoice, actor string) error
}

// Lifecycle manages session state transitions.
type Lifecycle struct {
	store       clinic.TxStore
	locks       *clinic.KeyedMutex
	ledger      Recomputer
	disposition Dispositioner
	log         zerolog.Logger
	now         func() time.Time
}

func NewLifecycle(store clinic.TxStore, locks *clinic.KeyedMutex, ledger Recomputer, disposition Dispositioner, log zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		store:       store,
		locks:       locks,
		ledger:      ledger,
		disposition: disposition,
		log:         log.With().Str("component", "lifecycle").Logger(),
		now:         time.Now,
	}
}

// TransitionRequest carries the target state plus its state-specific
// fields.
type TransitionRequest struct {
	SessionID clinic.SessionID
	To        clinic.SessionState

	// For completed_late.
	ActualStart *clinic.ClockTime

	// For rescheduled.
	NewDate  *clinic.DayDate
	NewStart *clinic.ClockTime
	Reason   string

	// Disposition is required when moving to a zero-billing state while
	// non-voided payments are attached.
	Disposition clinic.DispositionChoice

	Notes string
	Actor string
}

// Transition applies one lifecycle move and recomputes the patient's
// ledger in the same transaction.
func (l *Lifecycle) Transition(ctx context.Context, req TransitionRequest) (*clinic.Session, error) {
	sess, err := l.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock("patient:" + string(sess.PatientID))
	defer unlock()

	var updated *clinic.Session
	err = l.store.WithTx(ctx, func(st clinic.Store) error {
		// Re-read inside the transaction; the pre-lock read only located
		// the patient for the lock key.
		sess, err := st.GetSession(ctx, req.SessionID)
		if err != nil {
			return err
		}
		if err := l.apply(ctx, st, sess, req); err != nil {
			return err
		}
		if err := st.UpdateSession(ctx, sess); err != nil {
			return err
		}
		if _, err := l.ledger.Recompute(ctx, st, sess.PatientID); err != nil {
			return err
		}
		updated = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.TransitionsTotal.WithLabelValues(string(updated.State)).Inc()

	l.log.Info().
		Str("session", string(updated.ID)).
		Str("state", string(updated.State)).
		Msg("session transitioned")
	return updated, nil
}

func (l *Lifecycle) apply(ctx context.Context, st clinic.Store, sess *clinic.Session, req TransitionRequest) error {
	if sess.State.IsTerminal() {
		return &clinic.TransitionError{
			Entity: "session", ID: string(sess.ID),
			From: string(sess.State), To: string(req.To),
		}
	}
	if req.To == clinic.SessionScheduled {
		return &clinic.TransitionError{
			Entity: "session", ID: string(sess.ID),
			From: string(sess.State), To: string(req.To),
		}
	}

	switch req.To {
	case clinic.SessionCompleted:
		// Amount stays as billed.

	case clinic.SessionCompletedLate:
		if req.ActualStart == nil {
			return &clinic.FieldError{Field: "actualStart", Reason: "actual start time is required for a late completion"}
		}
		late := req.ActualStart.Sub(sess.Slot.Start)
		if late < 0 {
			return &clinic.FieldError{Field: "actualStart", Reason: "actual start cannot precede the scheduled start"}
		}
		sess.ActualStart = req.ActualStart
		sess.MinutesLate = late

	case clinic.SessionNoShow:
		// Still billable.

	case clinic.SessionExcused, clinic.SessionCancelled, clinic.SessionRescheduled:
		if req.To == clinic.SessionRescheduled {
			if req.NewDate == nil || req.NewStart == nil {
				return &clinic.FieldError{Field: "reschedule", Reason: "new date and start time are required"}
			}
			if req.Reason == "" {
				return &clinic.FieldError{Field: "reason", Reason: "a reschedule reason is required"}
			}
			sess.RescheduledDate = req.NewDate
			sess.RescheduledStart = req.NewStart
			sess.RescheduleReason = req.Reason
		}
		if err := l.settlePayments(ctx, st, sess, req); err != nil {
			return err
		}
		sess.Amount = clinic.MoneyZero

	default:
		return &clinic.TransitionError{
			Entity: "session", ID: string(sess.ID),
			From: string(sess.State), To: string(req.To),
		}
	}

	sess.State = req.To
	if req.Notes != "" {
		sess.Notes = req.Notes
	}
	sess.Audit.Touch(req.Actor, l.now())
	return nil
}

// settlePayments enforces the zero-billing guard: live payments demand an
// explicit disposition before the transition may persist.
func (l *Lifecycle) settlePayments(ctx context.Context, st clinic.Store, sess *clinic.Session, req TransitionRequest) error {
	payments, err := st.ListPaymentsBySession(ctx, sess.ID)
	if err != nil {
		return err
	}
	var live []string
	for _, p := range payments {
		if !p.Voided {
			live = append(live, string(p.ID))
		}
	}
	if len(live) == 0 {
		return nil
	}

	if req.Disposition == clinic.DispositionNone {
		return &clinic.GuardError{
			Operation: fmt.Sprintf("transition to %s", req.To),
			Reason:    "session has non-voided payments attached; a payment disposition is required",
			Dependent: live,
		}
	}
	if !req.Disposition.Valid() {
		return &clinic.FieldError{Field: "disposition", Reason: "unknown disposition " + string(req.Disposition)}
	}
	return l.disposition.ApplyDisposition(ctx, st, sess, req.Disposition, req.Actor)
}
