package clinic

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sid(s string) *SessionID  { v := SessionID(s); return &v }
func prid(s string) *ProjectID { v := ProjectID(s); return &v }
func plid(s string) *PlanID    { v := PlanID(s); return &v }

func TestSessionStateSets(t *testing.T) {
	// Committed states occupy a slot for conflict purposes
	assert.True(t, SessionScheduled.IsCommitted())
	assert.True(t, SessionCompleted.IsCommitted())
	assert.True(t, SessionCompletedLate.IsCommitted())
	assert.False(t, SessionNoShow.IsCommitted())
	assert.False(t, SessionCancelled.IsCommitted())

	// Occurred states consume their billable amount
	assert.True(t, SessionNoShow.HasOccurred())
	assert.True(t, SessionCompleted.HasOccurred())
	assert.False(t, SessionScheduled.HasOccurred())
	assert.False(t, SessionExcused.HasOccurred())

	// Excused, cancelled and rescheduled bill nothing
	assert.True(t, SessionExcused.ZeroesBilling())
	assert.True(t, SessionCancelled.ZeroesBilling())
	assert.True(t, SessionRescheduled.ZeroesBilling())
	assert.False(t, SessionNoShow.ZeroesBilling())
}

func TestSessionValidate(t *testing.T) {
	base := func() *Session {
		return &Session{
			PatientID:      "p1",
			ProfessionalID: "dr1",
			BranchID:       "b1",
			ServiceID:      "svc1",
			Date:           NewDayDate(2026, 3, 10),
			Slot:           NewTimeSlot(NewClockTime(9, 0), NewClockTime(10, 0)),
			State:          SessionScheduled,
			Amount:         M("100"),
		}
	}

	assert.NoError(t, base().Validate())

	s := base()
	s.Slot = NewTimeSlot(NewClockTime(10, 0), NewClockTime(9, 0))
	assert.ErrorIs(t, s.Validate(), ErrValidation)

	s = base()
	s.Amount = M("-1")
	assert.ErrorIs(t, s.Validate(), ErrValidation)

	// A session cannot be double-funded
	s = base()
	s.ProjectID = prid("proj1")
	s.PlanID = plid("plan1")
	assert.ErrorIs(t, s.Validate(), ErrValidation)

	// A project-funded session bills nothing directly
	s = base()
	s.ProjectID = prid("proj1")
	assert.ErrorIs(t, s.Validate(), ErrValidation)
	s.Amount = MoneyZero
	assert.NoError(t, s.Validate())
}

func TestPaymentValidateAndClassify(t *testing.T) {
	p := &Payment{PatientID: "p1", Amount: M("50"), Method: MethodCash}
	assert.NoError(t, p.Validate())
	assert.True(t, p.IsAdvance())
	assert.True(t, p.Counts())

	// Zero and negative amounts are rejected
	p = &Payment{PatientID: "p1", Amount: MoneyZero, Method: MethodCash}
	assert.ErrorIs(t, p.Validate(), ErrValidation)

	// Multiple targets are rejected
	p = &Payment{PatientID: "p1", Amount: M("50"), Method: MethodCash,
		SessionID: sid("s1"), ProjectID: prid("pr1")}
	assert.ErrorIs(t, p.Validate(), ErrValidation)

	// A credit draw never counts toward paid/credit aggregates
	p = &Payment{PatientID: "p1", Amount: M("50"), Method: MethodCreditDraw, SessionID: sid("s1")}
	assert.NoError(t, p.Validate())
	assert.True(t, p.IsCreditDraw())
	assert.False(t, p.Counts())

	// Neither does a voided payment
	p = &Payment{PatientID: "p1", Amount: M("50"), Method: MethodCash, Voided: true}
	assert.False(t, p.Counts())
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	// GIVEN two goroutines incrementing under the same key
	km := NewKeyedMutex()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("patient:p1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	// THEN no increment is lost
	assert.Equal(t, 50, counter)
}

func TestKeyedMutexLockAllDeduplicates(t *testing.T) {
	km := NewKeyedMutex()
	unlock := km.LockAll("a", "b", "a")
	unlock()

	// Re-acquiring after release must not deadlock
	unlock = km.LockAll("b", "a")
	unlock()
}
