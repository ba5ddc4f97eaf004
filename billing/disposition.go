/*
billing/disposition.go - Zero-billing payment dispositions

PURPOSE:
  When a session moves to excused, cancelled or rescheduled while it
  still has non-voided payments attached, the operator must choose what
  happens to the money. The three choices:

  convert_to_credit            detach the payments so they become general
                               advance payments feeding the credit pool
  void_with_refund_obligation  void the payments with a system-generated
                               reason; the physical refund is an out-of-
                               band manual step the operator confirms
                               separately
  transfer_pending             leave the payments attached to the dead
                               session, flagged for manual reattachment
                               to the replacement booking

  Credit draws attached to the session are voided under the first two
  choices: detaching a draw would drain the pool with nothing consumed,
  and a draw never carries a cash refund obligation.

ApplyDisposition runs inside the lifecycle transition's transaction; the
reattachment path runs standalone.
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/praxia/clinic-engine/clinic"
)

// ApplyDisposition applies the operator's choice to every non-voided
// payment attached to the session. Runs inside the caller's transaction;
// the lifecycle manager recomputes the ledger afterwards.
func (pr *Processor) ApplyDisposition(ctx context.Context, st clinic.Store, sess *clinic.Session, choice clinic.DispositionChoice, actor string) error {
	payments, err := st.ListPaymentsBySession(ctx, sess.ID)
	if err != nil {
		return err
	}
	now := pr.now()

	applied := 0
	for _, p := range payments {
		if p.Voided {
			continue
		}
		switch choice {
		case clinic.DispositionConvertToCredit:
			if p.IsCreditDraw() {
				pr.voidSystem(p, fmt.Sprintf("credit draw released on %s of session %s", sess.State, sess.ID), actor, now)
			} else {
				p.SessionID = nil
				p.TransferPending = false
				p.Concept = fmt.Sprintf("account credit (converted from session %s)", sess.ID)
				p.Audit.Touch(actor, now)
			}

		case clinic.DispositionVoidWithRefund:
			if p.IsCreditDraw() {
				pr.voidSystem(p, fmt.Sprintf("credit draw released on %s of session %s", sess.State, sess.ID), actor, now)
			} else {
				pr.voidSystem(p, fmt.Sprintf("voided on %s of session %s; physical refund to be confirmed manually", sess.State, sess.ID), actor, now)
			}

		case clinic.DispositionTransferPending:
			p.TransferPending = true
			if p.Notes != "" {
				p.Notes += "; "
			}
			p.Notes += fmt.Sprintf("awaiting reattachment after %s of session %s", sess.State, sess.ID)
			p.Audit.Touch(actor, now)

		default:
			return &clinic.FieldError{Field: "disposition", Reason: "unknown disposition " + string(choice)}
		}
		if err := st.UpdatePayment(ctx, p); err != nil {
			return err
		}
		applied++
	}

	pr.log.Info().
		Str("session", string(sess.ID)).
		Str("choice", string(choice)).
		Int("payments", applied).
		Msg("disposition applied")
	return nil
}

func (pr *Processor) voidSystem(p *clinic.Payment, reason, actor string, now time.Time) {
	p.Voided = true
	p.VoidReason = reason
	p.VoidedBy = actor
	p.VoidedAt = &now
	p.Audit.Touch(actor, now)
}

// =============================================================================
// REATTACHMENT
// =============================================================================

// ReattachPending moves a transfer-pending payment from its dead session
// onto a committed replacement session of the same patient, closing the
// surfaced inconsistency window.
func (pr *Processor) ReattachPending(ctx context.Context, paymentID clinic.PaymentID, newSession clinic.SessionID, actor string) (*clinic.Payment, error) {
	p, err := pr.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	unlock := pr.locks.Lock("patient:" + string(p.PatientID))
	defer unlock()

	var updated *clinic.Payment
	err = pr.store.WithTx(ctx, func(st clinic.Store) error {
		p, err := st.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Voided {
			return &clinic.FieldError{Field: "payment", Reason: "payment is voided"}
		}
		if !p.TransferPending {
			return &clinic.FieldError{Field: "payment", Reason: "payment is not awaiting reattachment"}
		}
		sess, err := st.GetSession(ctx, newSession)
		if err != nil {
			return err
		}
		if sess.PatientID != p.PatientID {
			return &clinic.FieldError{Field: "session", Reason: "replacement session belongs to another patient"}
		}
		if !sess.State.IsCommitted() {
			return &clinic.FieldError{Field: "session", Reason: "replacement session is not in a committed state"}
		}

		id := sess.ID
		p.SessionID = &id
		p.TransferPending = false
		if p.Notes != "" {
			p.Notes += "; "
		}
		p.Notes += "reattached to session " + string(sess.ID)
		p.Audit.Touch(actor, pr.now())
		if err := st.UpdatePayment(ctx, p); err != nil {
			return err
		}
		if _, err := pr.ledger.Recompute(ctx, st, p.PatientID); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	pr.log.Info().
		Str("payment", string(updated.ID)).
		Str("session", string(newSession)).
		Msg("pending payment reattached")
	return updated, nil
}

// ListStalePending returns non-voided transfer-pending payments older
// than maxAge, for operator attention. maxAge <= 0 lists every pending
// payment. How long a payment may stay pending is an operational policy,
// not an enforced invariant; the window is deliberately surfaced rather
// than silently resolved.
func (pr *Processor) ListStalePending(ctx context.Context, patient clinic.PatientID, maxAge time.Duration) ([]*clinic.Payment, error) {
	payments, err := pr.store.ListPaymentsByPatient(ctx, patient)
	if err != nil {
		return nil, err
	}
	cutoff := pr.now().Add(-maxAge)
	var out []*clinic.Payment
	for _, p := range payments {
		if p.Voided || !p.TransferPending {
			continue
		}
		if maxAge > 0 && p.Audit.ModifiedAt.After(cutoff) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
