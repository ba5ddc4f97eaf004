/*
sqlite_test.go - Unit tests for the SQLite store

PURPOSE:
	Tests the persistence behaviors the services rely on:
	- Round-trips preserve every field, including nullable ones
	- The slot backstop index rejects a second committed session on the
	  same (patient, date, start) and frees it once the holder is terminal
	- Receipt sequences issue REC-/CRE-/DEV- numbers independently
	- WithTx rolls everything back when the callback fails

All tests run against ":memory:" databases.
*/
package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxia/clinic-engine/clinic"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testSession(patient clinic.PatientID, date clinic.DayDate, start clinic.ClockTime) *clinic.Session {
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	return &clinic.Session{
		ID:             clinic.SessionID(uuid.NewString()),
		PatientID:      patient,
		ProfessionalID: "prof-1",
		BranchID:       "branch-1",
		ServiceID:      "svc-speech",
		Date:           date,
		Slot:           clinic.SlotFrom(start, 60),
		State:          clinic.SessionScheduled,
		Amount:         clinic.M("100"),
		Audit:          clinic.NewAudit("reception", now),
	}
}

func dd(y int, m time.Month, d int) clinic.DayDate { return clinic.NewDayDate(y, m, d) }

func ct(h, m int) clinic.ClockTime { return clinic.ClockTime(h*60 + m) }

func TestSession_RoundTrip(t *testing.T) {
	// GIVEN: A session with every optional field populated
	// WHEN: Creating and re-reading it
	// THEN: All fields should survive the round trip

	store := setupStore(t)
	ctx := context.Background()

	sess := testSession("pat-1", dd(2026, time.March, 10), ct(9, 0))
	projectID := clinic.ProjectID("proj-1")
	sess.ProjectID = &projectID
	sess.Amount = clinic.MoneyZero
	original := clinic.M("120.50")
	sess.OriginalAmount = &original
	actual := ct(9, 25)
	sess.ActualStart = &actual
	sess.MinutesLate = 25
	sess.Notes = "bring previous report"

	require.NoError(t, store.CreateSession(ctx, sess))

	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, sess.PatientID, got.PatientID)
	assert.Equal(t, sess.Date, got.Date)
	assert.Equal(t, sess.Slot, got.Slot)
	assert.Equal(t, clinic.SessionScheduled, got.State)
	require.NotNil(t, got.ProjectID)
	assert.Equal(t, projectID, *got.ProjectID)
	assert.True(t, got.Amount.IsZero())
	require.NotNil(t, got.OriginalAmount)
	assert.True(t, original.Equal(*got.OriginalAmount))
	require.NotNil(t, got.ActualStart)
	assert.Equal(t, actual, *got.ActualStart)
	assert.Equal(t, 25, got.MinutesLate)
	assert.Equal(t, "bring previous report", got.Notes)
	assert.Equal(t, "reception", got.Audit.CreatedBy)
}

func TestSession_SlotBackstopIndex(t *testing.T) {
	// GIVEN: A scheduled session at (pat-1, 2026-03-10, 09:00)
	// WHEN: Inserting a second committed session on the same start
	// THEN: The insert should fail with ErrDuplicateSlot

	store := setupStore(t)
	ctx := context.Background()
	day := dd(2026, time.March, 10)

	require.NoError(t, store.CreateSession(ctx, testSession("pat-1", day, ct(9, 0))))

	err := store.CreateSession(ctx, testSession("pat-1", day, ct(9, 0)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, clinic.ErrDuplicateSlot))

	// A different patient on the same start is fine.
	require.NoError(t, store.CreateSession(ctx, testSession("pat-2", day, ct(9, 0))))
}

func TestSession_TerminalStateFreesSlot(t *testing.T) {
	// GIVEN: A session cancelled after booking
	// WHEN: Booking the same (patient, date, start) again
	// THEN: The backstop index should no longer block it

	store := setupStore(t)
	ctx := context.Background()
	day := dd(2026, time.March, 10)

	first := testSession("pat-1", day, ct(9, 0))
	require.NoError(t, store.CreateSession(ctx, first))

	first.State = clinic.SessionCancelled
	first.Amount = clinic.MoneyZero
	require.NoError(t, store.UpdateSession(ctx, first))

	require.NoError(t, store.CreateSession(ctx, testSession("pat-1", day, ct(9, 0))))
}

func TestListCommittedSessions_FiltersAndOrder(t *testing.T) {
	// GIVEN: Committed and terminal sessions across two patients on one date
	// WHEN: Listing committed sessions with a patient filter
	// THEN: Only that patient's committed sessions return, ordered by start

	store := setupStore(t)
	ctx := context.Background()
	day := dd(2026, time.March, 10)

	late := testSession("pat-1", day, ct(11, 0))
	require.NoError(t, store.CreateSession(ctx, late))
	early := testSession("pat-1", day, ct(9, 0))
	require.NoError(t, store.CreateSession(ctx, early))
	require.NoError(t, store.CreateSession(ctx, testSession("pat-2", day, ct(10, 0))))

	cancelled := testSession("pat-1", day, ct(13, 0))
	require.NoError(t, store.CreateSession(ctx, cancelled))
	cancelled.State = clinic.SessionCancelled
	require.NoError(t, store.UpdateSession(ctx, cancelled))

	got, err := store.ListCommittedSessions(ctx, day, "pat-1", "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, early.ID, got[0].ID)
	assert.Equal(t, late.ID, got[1].ID)
}

func TestPayment_ReceiptSequences(t *testing.T) {
	// GIVEN: A fresh store
	// WHEN: Creating cash payments, credit draws and a refund
	// THEN: Each kind should number independently from 1

	store := setupStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	day := dd(2026, time.March, 10)

	newPayment := func(method clinic.FundingMethod) *clinic.Payment {
		return &clinic.Payment{
			ID:        clinic.PaymentID(uuid.NewString()),
			PatientID: "pat-1",
			Date:      day,
			Amount:    clinic.M("50"),
			Method:    method,
			Audit:     clinic.NewAudit("reception", now),
		}
	}

	cash1 := newPayment(clinic.MethodCash)
	require.NoError(t, store.CreatePayment(ctx, cash1))
	assert.Equal(t, "REC-000001", cash1.ReceiptNo)

	draw := newPayment(clinic.MethodCreditDraw)
	require.NoError(t, store.CreatePayment(ctx, draw))
	assert.Equal(t, "CRE-000001", draw.ReceiptNo)

	cash2 := newPayment(clinic.MethodTransfer)
	require.NoError(t, store.CreatePayment(ctx, cash2))
	assert.Equal(t, "REC-000002", cash2.ReceiptNo)

	refund := &clinic.Refund{
		ID:        clinic.RefundID(uuid.NewString()),
		PatientID: "pat-1",
		Date:      day,
		Amount:    clinic.M("20"),
		Reason:    "service not rendered",
		Method:    clinic.MethodCash,
		Audit:     clinic.NewAudit("reception", now),
	}
	require.NoError(t, store.CreateRefund(ctx, refund))
	assert.Equal(t, "DEV-000001", refund.ReceiptNo)
}

func TestPayment_VoidRoundTrip(t *testing.T) {
	// GIVEN: A persisted payment
	// WHEN: Flipping the voided flag and re-reading
	// THEN: Void metadata should survive; amount stays untouched

	store := setupStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

	p := &clinic.Payment{
		ID:        clinic.PaymentID(uuid.NewString()),
		PatientID: "pat-1",
		Date:      dd(2026, time.March, 10),
		Amount:    clinic.M("80"),
		Method:    clinic.MethodQR,
		Concept:   "initial consult",
		Audit:     clinic.NewAudit("reception", now),
	}
	require.NoError(t, store.CreatePayment(ctx, p))

	voidedAt := now.Add(time.Hour)
	p.Voided = true
	p.VoidReason = "duplicate entry"
	p.VoidedBy = "admin"
	p.VoidedAt = &voidedAt
	p.Audit.Touch("admin", voidedAt)
	require.NoError(t, store.UpdatePayment(ctx, p))

	got, err := store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Voided)
	assert.Equal(t, "duplicate entry", got.VoidReason)
	assert.Equal(t, "admin", got.VoidedBy)
	require.NotNil(t, got.VoidedAt)
	assert.True(t, voidedAt.Equal(*got.VoidedAt))
	assert.True(t, clinic.M("80").Equal(got.Amount))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction creating a session
	// WHEN: The callback returns an error
	// THEN: The session should not be visible afterward

	store := setupStore(t)
	ctx := context.Background()

	sess := testSession("pat-1", dd(2026, time.March, 10), ct(9, 0))
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(st clinic.Store) error {
		if err := st.CreateSession(ctx, sess); err != nil {
			return err
		}
		// Visible inside the transaction.
		if _, err := st.GetSession(ctx, sess.ID); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetSession(ctx, sess.ID)
	assert.True(t, errors.Is(err, clinic.ErrNotFound))
}

func TestSnapshot_Upsert(t *testing.T) {
	// GIVEN: A stored snapshot
	// WHEN: Writing a newer one for the same patient
	// THEN: The read returns the newer values

	store := setupStore(t)
	ctx := context.Background()

	first := &clinic.AccountSnapshot{
		PatientID:       "pat-1",
		TotalConsumed:   clinic.M("100"),
		TotalPaid:       clinic.M("60"),
		AvailableCredit: clinic.MoneyZero,
		Debt:            clinic.M("40"),
		Balance:         clinic.M("-40"),
		ComputedAt:      time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.PutSnapshot(ctx, first))

	second := *first
	second.TotalPaid = clinic.M("100")
	second.Debt = clinic.MoneyZero
	second.Balance = clinic.MoneyZero
	second.ComputedAt = first.ComputedAt.Add(time.Hour)
	require.NoError(t, store.PutSnapshot(ctx, &second))

	got, err := store.GetSnapshot(ctx, "pat-1")
	require.NoError(t, err)
	assert.True(t, got.TotalPaid.Equal(clinic.M("100")))
	assert.True(t, got.Debt.IsZero())
	assert.True(t, second.ComputedAt.Equal(got.ComputedAt))
}

func TestDirectory_RoundTrip(t *testing.T) {
	// GIVEN: Directory records with branch/service memberships
	// WHEN: Upserting and re-reading them
	// THEN: Memberships should survive, and upserts overwrite in place

	store := setupStore(t)
	ctx := context.Background()

	pro := &clinic.Professional{
		ID:       "prof-1",
		Name:     "G. Ruiz",
		Active:   true,
		Branches: []clinic.BranchID{"branch-1", "branch-2"},
		Services: []clinic.ServiceID{"svc-speech"},
	}
	require.NoError(t, store.PutProfessional(ctx, pro))

	got, err := store.GetProfessional(ctx, "prof-1")
	require.NoError(t, err)
	assert.Equal(t, pro.Branches, got.Branches)
	assert.Equal(t, pro.Services, got.Services)

	pro.Active = false
	require.NoError(t, store.PutProfessional(ctx, pro))
	got, err = store.GetProfessional(ctx, "prof-1")
	require.NoError(t, err)
	assert.False(t, got.Active)

	listPrice := clinic.M("140")
	require.NoError(t, store.PutService(ctx, &clinic.Service{
		ID: "svc-psico", Name: "Psychotherapy", DurationMinutes: 45, Active: true,
		DefaultPrice: &listPrice,
	}))
	svc, err := store.GetService(ctx, "svc-psico")
	require.NoError(t, err)
	require.NotNil(t, svc.DefaultPrice)
	assert.True(t, svc.DefaultPrice.Equal(clinic.M("140")))

	svc.DefaultPrice = nil
	require.NoError(t, store.PutService(ctx, svc))
	svc, err = store.GetService(ctx, "svc-psico")
	require.NoError(t, err)
	assert.Nil(t, svc.DefaultPrice)

	require.NoError(t, store.PutPatient(ctx, &clinic.Patient{
		ID: "pat-1", Name: "Ana Diaz", Active: true,
		Branches:       []clinic.BranchID{"branch-1"},
		PriceOverrides: map[clinic.ServiceID]clinic.Money{"svc-psico": clinic.M("120.50")},
	}))
	pat, err := store.GetPatient(ctx, "pat-1")
	require.NoError(t, err)
	require.Len(t, pat.PriceOverrides, 1)
	assert.True(t, pat.PriceOverrides["svc-psico"].Equal(clinic.M("120.50")))

	_, err = store.GetPatient(ctx, "missing")
	assert.True(t, errors.Is(err, clinic.ErrNotFound))
}
