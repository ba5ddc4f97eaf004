package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxia/clinic-engine/billing"
	"github.com/praxia/clinic-engine/clinic"
)

func ct(h, m int) *clinic.ClockTime { v := clinic.NewClockTime(h, m); return &v }
func dd(y, m, d int) *clinic.DayDate {
	v := clinic.NewDayDate(y, time.Month(m), d)
	return &v
}

func TestTransition_Completed(t *testing.T) {
	f := newFixture(t)
	sess := f.book(t, "p1", "dr1", day, clinic.NewClockTime(9, 0))

	updated, err := f.lifecycle.Transition(context.Background(), TransitionRequest{
		SessionID: sess.ID, To: clinic.SessionCompleted, Actor: "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, clinic.SessionCompleted, updated.State)
	assert.True(t, updated.Amount.Equal(clinic.M("100")), "completion keeps the billed amount")
}

func TestTransition_CompletedLateRecordsMinutes(t *testing.T) {
	// GIVEN a 09:00 session where the patient arrived 09:25
	f := newFixture(t)
	ctx := context.Background()
	sess := f.book(t, "p1", "dr1", day, clinic.NewClockTime(9, 0))

	// Missing actual start is rejected
	_, err := f.lifecycle.Transition(ctx, TransitionRequest{
		SessionID: sess.ID, To: clinic.SessionCompletedLate, Actor: "tester",
	})
	assert.ErrorIs(t, err, clinic.ErrValidation)

	// An actual start before the scheduled start is rejected
	_, err = f.lifecycle.Transition(ctx, TransitionRequest{
		SessionID: sess.ID, To: clinic.SessionCompletedLate, ActualStart: ct(8, 45), Actor: "tester",
	})
	assert.ErrorIs(t, err, clinic.ErrValidation)

	// WHEN the actual start is recorded
	updated, err := f.lifecycle.Transition(ctx, TransitionRequest{
		SessionID: sess.ID, To: clinic.SessionCompletedLate, ActualStart: ct(9, 25), Actor: "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, 25, updated.MinutesLate)
	assert.True(t, updated.Amount.Equal(clinic.M("100")))
}

func TestTransition_TerminalIsFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.book(t, "p1", "dr1", day, clinic.NewClockTime(9, 0))
	_, err := f.lifecycle.Transition(ctx, TransitionRequest{
		SessionID: sess.ID, To: clinic.SessionNoShow, Actor: "tester",
	})
	require.NoError(t, err)

	_, err = f.lifecycle.Transition(ctx, TransitionRequest{
		SessionID: sess.ID, To: clinic.SessionCompleted, Actor: "tester",
	})
	assert.ErrorIs(t, err, clinic.ErrInvalidTransition)
}

func TestTransition_ZeroBillingForcesAmountToZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, to := range []clinic.SessionState{clinic.SessionExcused, clinic.SessionCancelled} {
		sess := f.book(t, "p1", "dr1", day, clinic.NewClockTime(9, 0))
		updated, err := f.lifecycle.Transition(ctx, TransitionRequest{
			SessionID: sess.ID, To: to, Actor: "tester",
		})
		require.NoError(t, err)
		assert.True(t, updated.Amount.IsZero(), "state %s must bill zero", to)
	}
}

func TestTransition_RescheduledRequiresNewSlotAndReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.book(t, "p1", "dr1", day, clinic.NewClockTime(9, 0))

	_, err := f.lifecycle.Transition(ctx, TransitionRequest{
		SessionID: sess.ID, To: clinic.SessionRescheduled, Actor: "tester",
	})
	assert.ErrorIs(t, err, clinic.ErrValidation)

	updated, err := f.lifecycle.Transition(ctx, TransitionRequest{
		SessionID: sess.ID, To: clinic.SessionRescheduled,
		NewDate: dd(2026, 3, 17), NewStart: ct(11, 0), Reason: "patient request",
		Actor: "tester",
	})
	require.NoError(t, err)
	assert.True(t, updated.Amount.IsZero())
	assert.Equal(t, "2026-03-17", updated.RescheduledDate.String())

	// The replacement is a separate booking, never an in-place mutation
	replacement := f.book(t, "p1", "dr1", clinic.NewDayDate(2026, 3, 17), clinic.NewClockTime(11, 0))
	assert.NotEqual(t, sess.ID, replacement.ID)
}

func TestTransition_GuardedWhenPaymentsAttached(t *testing.T) {
	// GIVEN a scheduled session with a live payment
	f := newFixture(t)
	ctx := context.Background()
	sess := f.book(t, "p1", "dr1", day, clinic.NewClockTime(9, 0))
	receipt, err := f.billing.RegisterPayment(ctx, billing.PaymentRequest{
		PatientID: "p1", CashAmount: clinic.M("100"), Method: clinic.MethodCash,
		TargetKind: clinic.TargetSession, TargetID: string(sess.ID), Actor: "tester",
	})
	require.NoError(t, err)

	// WHEN cancelling without a disposition
	_, err = f.lifecycle.Transition(ctx, TransitionRequest{
		SessionID: sess.ID, To: clinic.SessionCancelled, Actor: "tester",
	})

	// THEN the transition is rejected naming the live payment
	require.ErrorIs(t, err, clinic.ErrGuarded)
	var guard *clinic.GuardError
	require.ErrorAs(t, err, &guard)
	assert.Contains(t, guard.Dependent, string(receipt.Cash.ID))

	// AND the session is untouched
	got, err := f.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, clinic.SessionScheduled, got.State)
}

func TestTransition_ConvertToCreditDisposition(t *testing.T) {
	// GIVEN a scheduled session paid 100
	f := newFixture(t)
	ctx := context.Background()
	sess := f.book(t, "p1", "dr1", day, clinic.NewClockTime(9, 0))
	receipt, err := f.billing.RegisterPayment(ctx, billing.PaymentRequest{
		PatientID: "p1", CashAmount: clinic.M("100"), Method: clinic.MethodCash,
		TargetKind: clinic.TargetSession, TargetID: string(sess.ID), Actor: "tester",
	})
	require.NoError(t, err)

	// WHEN cancelling with convert_to_credit
	_, err = f.lifecycle.Transition(ctx, TransitionRequest{
		SessionID: sess.ID, To: clinic.SessionCancelled,
		Disposition: clinic.DispositionConvertToCredit, Actor: "tester",
	})
	require.NoError(t, err)

	// THEN the payment becomes a general advance and the credit survives
	p, err := f.store.GetPayment(ctx, receipt.Cash.ID)
	require.NoError(t, err)
	assert.Nil(t, p.SessionID)
	assert.False(t, p.Voided)

	snap, err := f.ledger.Snapshot(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, snap.AvailableCredit.Equal(clinic.M("100")), "credit = %s", snap.AvailableCredit)
}

func TestTransition_VoidWithRefundDisposition(t *testing.T) {
	// GIVEN a scheduled session paid 100
	f := newFixture(t)
	ctx := context.Background()
	sess := f.book(t, "p1", "dr1", day, clinic.NewClockTime(9, 0))
	receipt, err := f.billing.RegisterPayment(ctx, billing.PaymentRequest{
		PatientID: "p1", CashAmount: clinic.M("100"), Method: clinic.MethodCash,
		TargetKind: clinic.TargetSession, TargetID: string(sess.ID), Actor: "tester",
	})
	require.NoError(t, err)

	// WHEN excusing with void_with_refund_obligation
	_, err = f.lifecycle.Transition(ctx, TransitionRequest{
		SessionID: sess.ID, To: clinic.SessionExcused,
		Disposition: clinic.DispositionVoidWithRefund, Actor: "tester",
	})
	require.NoError(t, err)

	// THEN the payment row survives, voided with a system reason, and the
	// money leaves the ledger entirely
	p, err := f.store.GetPayment(ctx, receipt.Cash.ID)
	require.NoError(t, err)
	assert.True(t, p.Voided)
	assert.Contains(t, p.VoidReason, string(sess.ID))

	snap, err := f.ledger.Snapshot(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, snap.AvailableCredit.IsZero())
	assert.True(t, snap.TotalPaid.IsZero())
}

func TestTransition_TransferPendingDisposition(t *testing.T) {
	// GIVEN a scheduled session paid 100
	f := newFixture(t)
	ctx := context.Background()
	sess := f.book(t, "p1", "dr1", day, clinic.NewClockTime(9, 0))
	receipt, err := f.billing.RegisterPayment(ctx, billing.PaymentRequest{
		PatientID: "p1", CashAmount: clinic.M("100"), Method: clinic.MethodCash,
		TargetKind: clinic.TargetSession, TargetID: string(sess.ID), Actor: "tester",
	})
	require.NoError(t, err)

	// WHEN rescheduling with transfer_pending
	_, err = f.lifecycle.Transition(ctx, TransitionRequest{
		SessionID: sess.ID, To: clinic.SessionRescheduled,
		NewDate: dd(2026, 3, 17), NewStart: ct(11, 0), Reason: "illness",
		Disposition: clinic.DispositionTransferPending, Actor: "tester",
	})
	require.NoError(t, err)

	// THEN the payment stays attached to the dead session, flagged
	p, err := f.store.GetPayment(ctx, receipt.Cash.ID)
	require.NoError(t, err)
	require.NotNil(t, p.SessionID)
	assert.Equal(t, sess.ID, *p.SessionID)
	assert.True(t, p.TransferPending)

	// WHEN the replacement is booked and the payment reattached
	replacement := f.book(t, "p1", "dr1", clinic.NewDayDate(2026, 3, 17), clinic.NewClockTime(11, 0))
	moved, err := f.billing.ReattachPending(ctx, p.ID, replacement.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, replacement.ID, *moved.SessionID)
	assert.False(t, moved.TransferPending)

	// THEN the money now counts toward the replacement (still scheduled,
	// so it feeds the credit pool again)
	snap, err := f.ledger.Snapshot(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, snap.AvailableCredit.Equal(clinic.M("100")))
}
