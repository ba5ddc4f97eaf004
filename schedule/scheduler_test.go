package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxia/clinic-engine/billing"
	"github.com/praxia/clinic-engine/clinic"
	"github.com/praxia/clinic-engine/ledger"
	"github.com/praxia/clinic-engine/pricing"
	"github.com/praxia/clinic-engine/store/memory"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

type fixture struct {
	store     *memory.Store
	scheduler *Scheduler
	lifecycle *Lifecycle
	billing   *billing.Processor
	ledger    *ledger.Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	locks := clinic.NewKeyedMutex()
	log := zerolog.Nop()

	rec := ledger.New(st, locks, log)
	proc := billing.NewProcessor(st, locks, rec, log)

	prices := pricing.NewTable()
	prices.SetDefault("svc1", clinic.M("100"))
	elig := &pricing.DirectoryEligibility{Store: st}

	f := &fixture{
		store:     st,
		scheduler: NewScheduler(st, locks, prices, elig, rec, log),
		lifecycle: NewLifecycle(st, locks, rec, proc, log),
		billing:   proc,
		ledger:    rec,
	}

	require.NoError(t, st.PutBranch(ctx, &clinic.Branch{ID: "b1", Name: "centro", Active: true}))
	require.NoError(t, st.PutService(ctx, &clinic.Service{ID: "svc1", Name: "therapy", DurationMinutes: 60, Active: true}))
	require.NoError(t, st.PutPatient(ctx, &clinic.Patient{ID: "p1", Name: "Ana", Active: true, Branches: []clinic.BranchID{"b1"}}))
	require.NoError(t, st.PutPatient(ctx, &clinic.Patient{ID: "p2", Name: "Luis", Active: true, Branches: []clinic.BranchID{"b1"}}))
	require.NoError(t, st.PutProfessional(ctx, &clinic.Professional{
		ID: "dr1", Name: "Dr. Rios", Active: true,
		Branches: []clinic.BranchID{"b1"}, Services: []clinic.ServiceID{"svc1"},
	}))
	require.NoError(t, st.PutProfessional(ctx, &clinic.Professional{
		ID: "dr2", Name: "Dr. Vega", Active: true,
		Branches: []clinic.BranchID{"b1"}, Services: []clinic.ServiceID{"svc1"},
	}))
	return f
}

func (f *fixture) book(t *testing.T, patient, professional string, date clinic.DayDate, start clinic.ClockTime) *clinic.Session {
	t.Helper()
	sess, err := f.scheduler.Book(context.Background(), BookRequest{
		PatientID:      clinic.PatientID(patient),
		ProfessionalID: clinic.ProfessionalID(professional),
		BranchID:       "b1",
		ServiceID:      "svc1",
		Date:           date,
		Start:          start,
		Actor:          "tester",
	})
	require.NoError(t, err)
	return sess
}

var day = clinic.NewDayDate(2026, 3, 10)

// =============================================================================
// AVAILABILITY & BOOKING
// =============================================================================

func TestBook_RejectsOverlapNamingBlocker(t *testing.T) {
	// GIVEN session A for patient P at 09:00-10:00
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "p1", "dr1", day, clinic.NewClockTime(9, 0))

	// WHEN booking 09:30-10:30 for the same patient with another professional
	_, err := f.scheduler.Book(ctx, BookRequest{
		PatientID: "p1", ProfessionalID: "dr2", BranchID: "b1", ServiceID: "svc1",
		Date: day, Start: clinic.NewClockTime(9, 30), Actor: "tester",
	})

	// THEN the booking is rejected and the conflict names session A with
	// its exact window
	require.ErrorIs(t, err, clinic.ErrConflict)
	var conflict *clinic.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, a.ID, conflict.BlockingID)
	assert.Equal(t, "patient", conflict.Party)
	assert.Equal(t, "09:00-10:00", conflict.Blocking.String())
	assert.Equal(t, "09:30-10:30", conflict.Requested.String())
}

func TestBook_BackToBackSlotsDoNotConflict(t *testing.T) {
	// GIVEN a 09:00-10:00 session
	f := newFixture(t)
	f.book(t, "p1", "dr1", day, clinic.NewClockTime(9, 0))

	// THEN 10:00-11:00 books cleanly for both the same patient and the
	// same professional (half-open intervals touch, never overlap)
	f.book(t, "p1", "dr1", day, clinic.NewClockTime(10, 0))
}

func TestBook_ProfessionalSideConflict(t *testing.T) {
	// GIVEN dr1 busy 09:00-10:00 with patient p1
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, "p1", "dr1", day, clinic.NewClockTime(9, 0))

	// WHEN a different patient requests dr1 at an overlapping slot
	_, err := f.scheduler.Book(ctx, BookRequest{
		PatientID: "p2", ProfessionalID: "dr1", BranchID: "b1", ServiceID: "svc1",
		Date: day, Start: clinic.NewClockTime(9, 30), Actor: "tester",
	})

	// THEN it is the professional check that rejects
	var conflict *clinic.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "professional", conflict.Party)
}

func TestBook_TerminalSessionsFreeTheirSlot(t *testing.T) {
	// GIVEN a cancelled session at 09:00-10:00
	f := newFixture(t)
	sess := f.book(t, "p1", "dr1", day, clinic.NewClockTime(9, 0))
	_, err := f.lifecycle.Transition(context.Background(), TransitionRequest{
		SessionID: sess.ID, To: clinic.SessionCancelled, Actor: "tester",
	})
	require.NoError(t, err)

	// THEN the slot can be booked again
	f.book(t, "p1", "dr1", day, clinic.NewClockTime(9, 30))
}

func TestBook_SetsContractedPrice(t *testing.T) {
	f := newFixture(t)
	sess := f.book(t, "p1", "dr1", day, clinic.NewClockTime(9, 0))
	assert.True(t, sess.Amount.Equal(clinic.M("100")))
	assert.Equal(t, clinic.SessionScheduled, sess.State)
	assert.Equal(t, 60, sess.Slot.Minutes())
}

func TestBook_EligibilityRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Professional not offering the service
	require.NoError(t, f.store.PutService(ctx, &clinic.Service{ID: "svc2", Name: "speech", DurationMinutes: 45, Active: true}))
	_, err := f.scheduler.Book(ctx, BookRequest{
		PatientID: "p1", ProfessionalID: "dr1", BranchID: "b1", ServiceID: "svc2",
		Date: day, Start: clinic.NewClockTime(9, 0), Actor: "tester",
	})
	assert.ErrorIs(t, err, clinic.ErrValidation)

	// Unknown patient
	_, err = f.scheduler.Book(ctx, BookRequest{
		PatientID: "ghost", ProfessionalID: "dr1", BranchID: "b1", ServiceID: "svc1",
		Date: day, Start: clinic.NewClockTime(9, 0), Actor: "tester",
	})
	assert.ErrorIs(t, err, clinic.ErrNotFound)
}

func TestBook_ConcurrentOverlapOnlyOneWins(t *testing.T) {
	// GIVEN ten concurrent attempts to book the same patient slot
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.scheduler.Book(ctx, BookRequest{
				PatientID: "p1", ProfessionalID: "dr1", BranchID: "b1", ServiceID: "svc1",
				Date: day, Start: clinic.NewClockTime(9, 0), Actor: "tester",
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	// THEN exactly one succeeds
	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, clinic.ErrConflict)
		}
	}
	assert.Equal(t, 1, successes)
}

// =============================================================================
// SERIES PREVIEW & COMMIT
// =============================================================================

func seriesSpec() SeriesSpec {
	return SeriesSpec{
		PatientID: "p1", ProfessionalID: "dr1", BranchID: "b1", ServiceID: "svc1",
		From: clinic.NewDayDate(2026, 3, 2), To: clinic.NewDayDate(2026, 3, 15),
		Weekdays: []time.Weekday{time.Monday, time.Wednesday},
		Start:    clinic.NewClockTime(9, 0),
	}
}

func TestPreviewSeries_ExpandsWeekdays(t *testing.T) {
	// GIVEN Mondays and Wednesdays across two weeks
	f := newFixture(t)
	verdicts, err := f.scheduler.PreviewSeries(context.Background(), seriesSpec())
	require.NoError(t, err)

	// THEN four candidate dates come back, all available
	require.Len(t, verdicts, 4)
	assert.Equal(t, "2026-03-02", verdicts[0].Date.String())
	assert.Equal(t, "2026-03-04", verdicts[1].Date.String())
	assert.Equal(t, "2026-03-09", verdicts[2].Date.String())
	assert.Equal(t, "2026-03-11", verdicts[3].Date.String())
	for _, v := range verdicts {
		assert.True(t, v.Available)
		assert.Equal(t, "09:00-10:00", v.Slot.String())
	}
}

func TestPreviewSeries_MatchesCheckAvailability(t *testing.T) {
	// GIVEN an existing session blocking one of the candidate dates
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, "p1", "dr2", clinic.NewDayDate(2026, 3, 4), clinic.NewClockTime(9, 30))

	spec := seriesSpec()
	verdicts, err := f.scheduler.PreviewSeries(ctx, spec)
	require.NoError(t, err)

	// THEN every per-date verdict equals what CheckAvailability reports
	for _, v := range verdicts {
		res, err := f.scheduler.CheckAvailability(ctx, spec.PatientID, spec.ProfessionalID, v.Date, v.Slot, "")
		require.NoError(t, err)
		assert.Equal(t, res.Available, v.Available, "date %s", v.Date)
		assert.Equal(t, res.PatientConflicts, v.PatientConflicts)
		assert.Equal(t, res.ProfessionalConflicts, v.ProfessionalConflicts)
	}
}

func TestPreviewSeries_IsSideEffectFree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.scheduler.PreviewSeries(ctx, seriesSpec())
	require.NoError(t, err)
	_, err = f.scheduler.PreviewSeries(ctx, seriesSpec())
	require.NoError(t, err)

	sessions, err := f.store.ListSessionsByPatient(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestCommitSeries_PartialSuccess(t *testing.T) {
	// GIVEN one selected date blocked by an existing session
	f := newFixture(t)
	ctx := context.Background()
	blocker := f.book(t, "p1", "dr2", clinic.NewDayDate(2026, 3, 4), clinic.NewClockTime(9, 30))

	selected := []clinic.DayDate{
		clinic.NewDayDate(2026, 3, 2),
		clinic.NewDayDate(2026, 3, 4),
		clinic.NewDayDate(2026, 3, 9),
	}

	// WHEN committing only the selected subset
	result, err := f.scheduler.CommitSeries(ctx, seriesSpec(), selected, "tester")
	require.NoError(t, err)

	// THEN the clean dates are created and the blocked one is reported,
	// not aborting its siblings
	assert.Len(t, result.Created, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "2026-03-04", result.Failed[0].Date.String())
	assert.ErrorIs(t, result.Failed[0].Err, clinic.ErrConflict)
	assert.Contains(t, result.Failed[0].Reason, string(blocker.ID))

	// AND only the selected dates exist, never auto-created extras
	sessions, err := f.store.ListSessionsByPatient(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, sessions, 3) // blocker + 2 created
}
