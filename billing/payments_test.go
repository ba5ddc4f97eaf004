package billing

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxia/clinic-engine/clinic"
	"github.com/praxia/clinic-engine/ledger"
	"github.com/praxia/clinic-engine/store/memory"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

type fixture struct {
	store *memory.Store
	proc  *Processor
	rec   *ledger.Reconciler
	seq   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	locks := clinic.NewKeyedMutex()
	log := zerolog.Nop()
	rec := ledger.New(st, locks, log)
	f := &fixture{store: st, proc: NewProcessor(st, locks, rec, log), rec: rec}

	require.NoError(t, st.PutPatient(context.Background(), &clinic.Patient{
		ID: "p1", Name: "Ana", Active: true, Branches: []clinic.BranchID{"b1"},
	}))
	return f
}

func (f *fixture) tick() time.Time {
	f.seq++
	return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC).Add(time.Duration(f.seq) * time.Minute)
}

func (f *fixture) addSession(t *testing.T, id string, state clinic.SessionState, amount string) *clinic.Session {
	t.Helper()
	s := &clinic.Session{
		ID: clinic.SessionID(id), PatientID: "p1", ProfessionalID: "dr1",
		BranchID: "b1", ServiceID: "svc1",
		Date:  clinic.NewDayDate(2026, 3, 10),
		Slot:  clinic.SlotFrom(clinic.NewClockTime(9, 0).Add(f.seq*90), 60),
		State: state, Amount: clinic.M(amount),
		Audit: clinic.NewAudit("tester", f.tick()),
	}
	require.NoError(t, f.store.CreateSession(context.Background(), s))
	return s
}

func (f *fixture) advance(t *testing.T, amount string) *clinic.Payment {
	t.Helper()
	receipt, err := f.proc.RegisterPayment(context.Background(), PaymentRequest{
		PatientID: "p1", CashAmount: clinic.M(amount), Method: clinic.MethodCash, Actor: "tester",
	})
	require.NoError(t, err)
	return receipt.Cash
}

// =============================================================================
// REGISTRATION
// =============================================================================

func TestRegisterPayment_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Neither amount positive
	_, err := f.proc.RegisterPayment(ctx, PaymentRequest{PatientID: "p1", Actor: "tester"})
	assert.ErrorIs(t, err, clinic.ErrValidation)

	// Cash without a method
	_, err = f.proc.RegisterPayment(ctx, PaymentRequest{
		PatientID: "p1", CashAmount: clinic.M("10"), Actor: "tester",
	})
	assert.ErrorIs(t, err, clinic.ErrValidation)

	// The sentinel method is reserved for draws
	_, err = f.proc.RegisterPayment(ctx, PaymentRequest{
		PatientID: "p1", CashAmount: clinic.M("10"), Method: clinic.MethodCreditDraw, Actor: "tester",
	})
	assert.ErrorIs(t, err, clinic.ErrValidation)

	// Targeted payment without a target id
	_, err = f.proc.RegisterPayment(ctx, PaymentRequest{
		PatientID: "p1", CashAmount: clinic.M("10"), Method: clinic.MethodCash,
		TargetKind: clinic.TargetSession, Actor: "tester",
	})
	assert.ErrorIs(t, err, clinic.ErrValidation)
}

func TestRegisterPayment_IssuesReceiptsAndRecomputes(t *testing.T) {
	// GIVEN a general advance payment
	f := newFixture(t)
	p := f.advance(t, "50")

	// THEN it carries a REC receipt and the snapshot already reflects it
	assert.Contains(t, p.ReceiptNo, "REC-")
	snap, err := f.store.GetSnapshot(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, snap.AvailableCredit.Equal(clinic.M("50")))
}

func TestRegisterPayment_CreditDrawInOrderRejection(t *testing.T) {
	// GIVEN 50 of available credit
	f := newFixture(t)
	ctx := context.Background()
	f.advance(t, "50")
	sess := f.addSession(t, "s1", clinic.SessionCompleted, "100")

	// WHEN drawing 30, then 30 again
	first, err := f.proc.RegisterPayment(ctx, PaymentRequest{
		PatientID: "p1", CreditDrawAmount: clinic.M("30"),
		TargetKind: clinic.TargetSession, TargetID: string(sess.ID), Actor: "tester",
	})
	require.NoError(t, err)
	assert.Contains(t, first.Draw.ReceiptNo, "CRE-")

	_, err = f.proc.RegisterPayment(ctx, PaymentRequest{
		PatientID: "p1", CreditDrawAmount: clinic.M("30"),
		TargetKind: clinic.TargetSession, TargetID: string(sess.ID), Actor: "tester",
	})

	// THEN exactly the request beyond the threshold is rejected, and the
	// error reports what is actually available
	require.ErrorIs(t, err, clinic.ErrInsufficientCredit)
	var short *clinic.InsufficientCreditError
	require.ErrorAs(t, err, &short)
	assert.True(t, short.Available.Equal(clinic.M("20")), "available = %s", short.Available)
	assert.True(t, short.Requested.Equal(clinic.M("30")))

	// AND a smaller draw still passes
	_, err = f.proc.RegisterPayment(ctx, PaymentRequest{
		PatientID: "p1", CreditDrawAmount: clinic.M("20"),
		TargetKind: clinic.TargetSession, TargetID: string(sess.ID), Actor: "tester",
	})
	require.NoError(t, err)

	snap, err := f.store.GetSnapshot(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, snap.AvailableCredit.IsZero())
}

func TestRegisterPayment_MixedCashAndDraw(t *testing.T) {
	// GIVEN 40 of credit and a completed session billed 100
	f := newFixture(t)
	ctx := context.Background()
	f.advance(t, "40")
	sess := f.addSession(t, "s1", clinic.SessionCompleted, "100")

	// WHEN paying 60 cash plus a 40 draw in one registration
	receipt, err := f.proc.RegisterPayment(ctx, PaymentRequest{
		PatientID: "p1", CashAmount: clinic.M("60"), CreditDrawAmount: clinic.M("40"),
		Method: clinic.MethodTransfer,
		TargetKind: clinic.TargetSession, TargetID: string(sess.ID), Actor: "tester",
	})
	require.NoError(t, err)

	// THEN two rows exist and the session is settled
	require.NotNil(t, receipt.Cash)
	require.NotNil(t, receipt.Draw)
	assert.Equal(t, clinic.MethodCreditDraw, receipt.Draw.Method)
	assert.True(t, receipt.Snapshot.Debt.IsZero())
	assert.True(t, receipt.Snapshot.AvailableCredit.IsZero())
}

func TestRegisterPayment_PayInFullRedefinesSessionPrice(t *testing.T) {
	// GIVEN a completed session without an exact preset price, billed 100
	f := newFixture(t)
	ctx := context.Background()
	sess := f.addSession(t, "s1", clinic.SessionCompleted, "100")
	_, err := f.proc.RegisterPayment(ctx, PaymentRequest{
		PatientID: "p1", CashAmount: clinic.M("80"), Method: clinic.MethodCash,
		TargetKind: clinic.TargetSession, TargetID: string(sess.ID), Actor: "tester",
	})
	require.NoError(t, err)

	// WHEN a closing payment of 40 is registered as pay-in-full
	receipt, err := f.proc.RegisterPayment(ctx, PaymentRequest{
		PatientID: "p1", CashAmount: clinic.M("40"), Method: clinic.MethodCash,
		TargetKind: clinic.TargetSession, TargetID: string(sess.ID),
		PayInFull: true, Actor: "tester",
	})
	require.NoError(t, err)

	// THEN the billable amount becomes the 120 actually paid, the prior
	// price is recorded, and nothing is owed
	got, err := f.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(clinic.M("120")))
	require.NotNil(t, got.OriginalAmount)
	assert.True(t, got.OriginalAmount.Equal(clinic.M("100")))
	assert.True(t, receipt.Snapshot.Debt.IsZero())
	assert.True(t, receipt.Snapshot.AvailableCredit.IsZero(), "a redefined price leaves no excess")
}

// =============================================================================
// VOID
// =============================================================================

func TestVoid_FlipsFlagAndKeepsRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.addSession(t, "s1", clinic.SessionCompleted, "100")
	receipt, err := f.proc.RegisterPayment(ctx, PaymentRequest{
		PatientID: "p1", CashAmount: clinic.M("100"), Method: clinic.MethodCash,
		TargetKind: clinic.TargetSession, TargetID: string(sess.ID), Actor: "tester",
	})
	require.NoError(t, err)

	voided, err := f.proc.Void(ctx, receipt.Cash.ID, "admin", "registered twice")
	require.NoError(t, err)
	assert.True(t, voided.Voided)
	assert.Equal(t, "admin", voided.VoidedBy)
	require.NotNil(t, voided.VoidedAt)

	// The row survives and the ledger reflects the reversal
	got, err := f.store.GetPayment(ctx, receipt.Cash.ID)
	require.NoError(t, err)
	assert.True(t, got.Voided)
	snap, err := f.store.GetSnapshot(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, snap.TotalPaid.IsZero())
	assert.True(t, snap.Debt.Equal(clinic.M("100")))

	// Voiding twice is rejected
	_, err = f.proc.Void(ctx, receipt.Cash.ID, "admin", "again")
	assert.ErrorIs(t, err, clinic.ErrValidation)
}

func TestVoid_RequiresReason(t *testing.T) {
	f := newFixture(t)
	p := f.advance(t, "50")
	_, err := f.proc.Void(context.Background(), p.ID, "admin", "")
	assert.ErrorIs(t, err, clinic.ErrValidation)
}

func TestVoid_BlockedByDependentCreditDraw(t *testing.T) {
	// GIVEN an advance of 50 fully drawn against a completed session
	f := newFixture(t)
	ctx := context.Background()
	adv := f.advance(t, "50")
	sess := f.addSession(t, "s1", clinic.SessionCompleted, "100")
	draw, err := f.proc.RegisterPayment(ctx, PaymentRequest{
		PatientID: "p1", CreditDrawAmount: clinic.M("50"),
		TargetKind: clinic.TargetSession, TargetID: string(sess.ID), Actor: "tester",
	})
	require.NoError(t, err)

	// WHEN voiding the advance that backs the draw
	_, err = f.proc.Void(ctx, adv.ID, "admin", "mistake")

	// THEN the void is blocked naming the dependent draw
	require.ErrorIs(t, err, clinic.ErrGuarded)
	var guard *clinic.GuardError
	require.ErrorAs(t, err, &guard)
	assert.Contains(t, guard.Dependent, string(draw.Draw.ID))

	// WHEN the draw is voided first, the advance unblocks
	_, err = f.proc.Void(ctx, draw.Draw.ID, "admin", "rolling back")
	require.NoError(t, err)
	_, err = f.proc.Void(ctx, adv.ID, "admin", "mistake")
	require.NoError(t, err)
}

func TestVoid_BlockedByProjectRefund(t *testing.T) {
	// GIVEN a project paid 200 with 150 already refunded
	f := newFixture(t)
	ctx := context.Background()
	proj, err := f.proc.CreateProject(ctx, ProjectRequest{
		PatientID: "p1", Name: "evaluation", Price: clinic.M("500"),
		StartDate: clinic.NewDayDate(2026, 3, 1), Actor: "tester",
	})
	require.NoError(t, err)
	receipt, err := f.proc.RegisterPayment(ctx, PaymentRequest{
		PatientID: "p1", CashAmount: clinic.M("200"), Method: clinic.MethodCash,
		TargetKind: clinic.TargetProject, TargetID: string(proj.ID), Actor: "tester",
	})
	require.NoError(t, err)
	_, err = f.proc.RegisterRefund(ctx, RefundRequest{
		PatientID: "p1", ProjectID: &proj.ID, Amount: clinic.M("150"),
		Reason: "scope reduced", Method: clinic.MethodCash, Actor: "tester",
	})
	require.NoError(t, err)

	// WHEN voiding the payment the refund depends on
	_, err = f.proc.Void(ctx, receipt.Cash.ID, "admin", "mistake")

	// THEN the void is blocked
	assert.ErrorIs(t, err, clinic.ErrGuarded)
}

// =============================================================================
// REFUNDS
// =============================================================================

func TestRegisterRefund_CeilingsAndReceipts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proj, err := f.proc.CreateProject(ctx, ProjectRequest{
		PatientID: "p1", Name: "evaluation", Price: clinic.M("500"),
		StartDate: clinic.NewDayDate(2026, 3, 1), Actor: "tester",
	})
	require.NoError(t, err)
	_, err = f.proc.RegisterPayment(ctx, PaymentRequest{
		PatientID: "p1", CashAmount: clinic.M("200"), Method: clinic.MethodCash,
		TargetKind: clinic.TargetProject, TargetID: string(proj.ID), Actor: "tester",
	})
	require.NoError(t, err)

	// A refund beyond net payments is rejected
	_, err = f.proc.RegisterRefund(ctx, RefundRequest{
		PatientID: "p1", ProjectID: &proj.ID, Amount: clinic.M("250"),
		Reason: "overcharge", Method: clinic.MethodCash, Actor: "tester",
	})
	assert.ErrorIs(t, err, clinic.ErrValidation)

	// Within the ceiling it lands with a DEV receipt
	refund, err := f.proc.RegisterRefund(ctx, RefundRequest{
		PatientID: "p1", ProjectID: &proj.ID, Amount: clinic.M("100"),
		Reason: "overcharge", Method: clinic.MethodCash, Actor: "tester",
	})
	require.NoError(t, err)
	assert.Contains(t, refund.ReceiptNo, "DEV-")

	// A general refund is capped by available credit
	_, err = f.proc.RegisterRefund(ctx, RefundRequest{
		PatientID: "p1", Amount: clinic.M("10"),
		Reason: "goodwill", Method: clinic.MethodCash, Actor: "tester",
	})
	assert.ErrorIs(t, err, clinic.ErrInsufficientCredit)
}

func TestRegisterRefund_GeneralDrawsDownCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.advance(t, "80")

	refund, err := f.proc.RegisterRefund(ctx, RefundRequest{
		PatientID: "p1", Amount: clinic.M("30"),
		Reason: "patient moved away", Method: clinic.MethodTransfer, Actor: "tester",
	})
	require.NoError(t, err)
	assert.True(t, refund.IsGeneral())

	snap, err := f.store.GetSnapshot(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, snap.AvailableCredit.Equal(clinic.M("50")))
}

// =============================================================================
// PROJECT LIFECYCLE
// =============================================================================

func TestFinalizeProject_AdjustCostClosesBalance(t *testing.T) {
	// GIVEN the 500-project scenario: 200 + 200 paid, 100 refunded
	f := newFixture(t)
	ctx := context.Background()
	proj, err := f.proc.CreateProject(ctx, ProjectRequest{
		PatientID: "p1", Name: "evaluation", Price: clinic.M("500"),
		StartDate: clinic.NewDayDate(2026, 3, 1), Actor: "tester",
	})
	require.NoError(t, err)
	_, err = f.proc.StartProject(ctx, proj.ID, "tester")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = f.proc.RegisterPayment(ctx, PaymentRequest{
			PatientID: "p1", CashAmount: clinic.M("200"), Method: clinic.MethodCash,
			TargetKind: clinic.TargetProject, TargetID: string(proj.ID), Actor: "tester",
		})
		require.NoError(t, err)
	}
	_, err = f.proc.RegisterRefund(ctx, RefundRequest{
		PatientID: "p1", ProjectID: &proj.ID, Amount: clinic.M("100"),
		Reason: "one evaluation dropped", Method: clinic.MethodCash, Actor: "tester",
	})
	require.NoError(t, err)

	bal, err := f.rec.ProjectBalance(ctx, proj.ID)
	require.NoError(t, err)
	assert.True(t, bal.Paid.Equal(clinic.M("300")))
	assert.True(t, bal.Outstanding.Equal(clinic.M("200")))

	// WHEN finalizing with cost adjustment
	finished, err := f.proc.FinalizeProject(ctx, proj.ID, true, "tester")
	require.NoError(t, err)

	// THEN the price becomes the 300 net paid, the prior 500 is recorded,
	// and the outstanding balance closes at zero
	assert.Equal(t, clinic.ProjectFinished, finished.State)
	assert.True(t, finished.Price.Equal(clinic.M("300")))
	require.NotNil(t, finished.OriginalPrice)
	assert.True(t, finished.OriginalPrice.Equal(clinic.M("500")))

	snap, err := f.store.GetSnapshot(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, snap.Debt.IsZero())
}

func TestProjectTerminalGuardedByScheduledSessions(t *testing.T) {
	// GIVEN an in-progress project owning a scheduled session
	f := newFixture(t)
	ctx := context.Background()
	proj, err := f.proc.CreateProject(ctx, ProjectRequest{
		PatientID: "p1", Name: "evaluation", Price: clinic.M("500"),
		StartDate: clinic.NewDayDate(2026, 3, 1), Actor: "tester",
	})
	require.NoError(t, err)
	_, err = f.proc.StartProject(ctx, proj.ID, "tester")
	require.NoError(t, err)

	sess := f.addSession(t, "s1", clinic.SessionScheduled, "0")
	sess.ProjectID = &proj.ID
	require.NoError(t, f.store.UpdateSession(ctx, sess))

	// WHEN finalizing
	_, err = f.proc.FinalizeProject(ctx, proj.ID, false, "tester")

	// THEN the terminal move is blocked naming the session
	require.ErrorIs(t, err, clinic.ErrGuarded)
	var guard *clinic.GuardError
	require.ErrorAs(t, err, &guard)
	assert.Contains(t, guard.Dependent, string(sess.ID))
}
