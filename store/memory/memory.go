/*
Package memory provides an in-memory clinic.TxStore.

PURPOSE:
  Backs unit tests and local experiments with the exact store semantics
  of the sqlite implementation: receipt numbering, the unique slot index,
  ordering guarantees, and transactional rollback. Everything lives in
  maps under one RWMutex.

TRANSACTIONS:
  WithTx snapshots the whole state, runs the callback against the same
  store, and restores the snapshot if the callback fails. Single-writer
  semantics, which is also what sqlite gives us.
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/praxia/clinic-engine/clinic"
)

// Store is an in-memory implementation of clinic.TxStore.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	sessions map[clinic.SessionID]*clinic.Session
	projects map[clinic.ProjectID]*clinic.Project
	plans    map[clinic.PlanID]*clinic.MonthlyPlan
	payments map[clinic.PaymentID]*clinic.Payment
	refunds  map[clinic.RefundID]*clinic.Refund

	patients      map[clinic.PatientID]*clinic.Patient
	professionals map[clinic.ProfessionalID]*clinic.Professional
	branches      map[clinic.BranchID]*clinic.Branch
	services      map[clinic.ServiceID]*clinic.Service

	snapshots map[clinic.PatientID]*clinic.AccountSnapshot

	// slotIndex enforces the (patient, date, start) uniqueness the sqlite
	// schema expresses as a unique index.
	slotIndex map[string]clinic.SessionID

	recSeq int
	creSeq int
	devSeq int
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		sessions:      make(map[clinic.SessionID]*clinic.Session),
		projects:      make(map[clinic.ProjectID]*clinic.Project),
		plans:         make(map[clinic.PlanID]*clinic.MonthlyPlan),
		payments:      make(map[clinic.PaymentID]*clinic.Payment),
		refunds:       make(map[clinic.RefundID]*clinic.Refund),
		patients:      make(map[clinic.PatientID]*clinic.Patient),
		professionals: make(map[clinic.ProfessionalID]*clinic.Professional),
		branches:      make(map[clinic.BranchID]*clinic.Branch),
		services:      make(map[clinic.ServiceID]*clinic.Service),
		snapshots:     make(map[clinic.PatientID]*clinic.AccountSnapshot),
		slotIndex:     make(map[string]clinic.SessionID),
	}
}

var _ clinic.TxStore = (*Store)(nil)

// =============================================================================
// TRANSACTIONS
// =============================================================================

type memSnapshot struct {
	sessions  map[clinic.SessionID]*clinic.Session
	projects  map[clinic.ProjectID]*clinic.Project
	plans     map[clinic.PlanID]*clinic.MonthlyPlan
	payments  map[clinic.PaymentID]*clinic.Payment
	refunds   map[clinic.RefundID]*clinic.Refund
	snapshots map[clinic.PatientID]*clinic.AccountSnapshot
	slotIndex map[string]clinic.SessionID
	recSeq    int
	creSeq    int
	devSeq    int
}

func (s *Store) snapshot() *memSnapshot {
	snap := &memSnapshot{
		sessions:  make(map[clinic.SessionID]*clinic.Session, len(s.sessions)),
		projects:  make(map[clinic.ProjectID]*clinic.Project, len(s.projects)),
		plans:     make(map[clinic.PlanID]*clinic.MonthlyPlan, len(s.plans)),
		payments:  make(map[clinic.PaymentID]*clinic.Payment, len(s.payments)),
		refunds:   make(map[clinic.RefundID]*clinic.Refund, len(s.refunds)),
		snapshots: make(map[clinic.PatientID]*clinic.AccountSnapshot, len(s.snapshots)),
		slotIndex: make(map[string]clinic.SessionID, len(s.slotIndex)),
		recSeq:    s.recSeq,
		creSeq:    s.creSeq,
		devSeq:    s.devSeq,
	}
	for k, v := range s.sessions {
		snap.sessions[k] = copySession(v)
	}
	for k, v := range s.projects {
		snap.projects[k] = copyProject(v)
	}
	for k, v := range s.plans {
		snap.plans[k] = copyPlan(v)
	}
	for k, v := range s.payments {
		snap.payments[k] = copyPayment(v)
	}
	for k, v := range s.refunds {
		snap.refunds[k] = copyRefund(v)
	}
	for k, v := range s.snapshots {
		c := *v
		snap.snapshots[k] = &c
	}
	for k, v := range s.slotIndex {
		snap.slotIndex[k] = v
	}
	return snap
}

func (s *Store) restore(snap *memSnapshot) {
	s.sessions = snap.sessions
	s.projects = snap.projects
	s.plans = snap.plans
	s.payments = snap.payments
	s.refunds = snap.refunds
	s.snapshots = snap.snapshots
	s.slotIndex = snap.slotIndex
	s.recSeq = snap.recSeq
	s.creSeq = snap.creSeq
	s.devSeq = snap.devSeq
}

// WithTx runs fn against the store, rolling every write back if fn fails.
// Transactions are serialized: one writer at a time, like sqlite.
func (s *Store) WithTx(ctx context.Context, fn func(clinic.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := s.snapshot()
	s.mu.Unlock()

	err := fn(s)
	if err != nil {
		s.mu.Lock()
		s.restore(snap)
		s.mu.Unlock()
	}
	return err
}

// =============================================================================
// SESSIONS
// =============================================================================

func slotKey(patient clinic.PatientID, date clinic.DayDate, start clinic.ClockTime) string {
	return fmt.Sprintf("%s|%s|%d", patient, date, start)
}

func (s *Store) CreateSession(ctx context.Context, sess *clinic.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return &clinic.FieldError{Field: "id", Reason: "session id already exists"}
	}
	key := slotKey(sess.PatientID, sess.Date, sess.Slot.Start)
	if other, taken := s.slotIndex[key]; taken {
		if existing := s.sessions[other]; existing != nil && existing.State.IsCommitted() {
			return fmt.Errorf("session %s: %w", other, clinic.ErrDuplicateSlot)
		}
	}
	s.sessions[sess.ID] = copySession(sess)
	s.slotIndex[key] = sess.ID
	return nil
}

func (s *Store) GetSession(ctx context.Context, id clinic.SessionID) (*clinic.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, &clinic.NotFoundError{Kind: "session", ID: string(id)}
	}
	return copySession(sess), nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *clinic.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[sess.ID]
	if !ok {
		return &clinic.NotFoundError{Kind: "session", ID: string(sess.ID)}
	}
	updated := copySession(sess)
	// Slot fields are immutable.
	updated.Date = existing.Date
	updated.Slot = existing.Slot
	s.sessions[sess.ID] = updated
	return nil
}

func (s *Store) ListCommittedSessions(ctx context.Context, date clinic.DayDate, patient clinic.PatientID, professional clinic.ProfessionalID) ([]*clinic.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*clinic.Session
	for _, sess := range s.sessions {
		if sess.Date != date || !sess.State.IsCommitted() {
			continue
		}
		if patient != "" && sess.PatientID != patient {
			continue
		}
		if professional != "" && sess.ProfessionalID != professional {
			continue
		}
		out = append(out, copySession(sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot.Start < out[j].Slot.Start })
	return out, nil
}

func (s *Store) ListSessionsByPatient(ctx context.Context, patient clinic.PatientID) ([]*clinic.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*clinic.Session
	for _, sess := range s.sessions {
		if sess.PatientID == patient {
			out = append(out, copySession(sess))
		}
	}
	sortSessions(out)
	return out, nil
}

func (s *Store) ListSessionsByProject(ctx context.Context, project clinic.ProjectID) ([]*clinic.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*clinic.Session
	for _, sess := range s.sessions {
		if sess.ProjectID != nil && *sess.ProjectID == project {
			out = append(out, copySession(sess))
		}
	}
	sortSessions(out)
	return out, nil
}

func (s *Store) ListSessionsByPlan(ctx context.Context, plan clinic.PlanID) ([]*clinic.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*clinic.Session
	for _, sess := range s.sessions {
		if sess.PlanID != nil && *sess.PlanID == plan {
			out = append(out, copySession(sess))
		}
	}
	sortSessions(out)
	return out, nil
}

func sortSessions(list []*clinic.Session) {
	sort.Slice(list, func(i, j int) bool {
		if c := list[i].Date.Compare(list[j].Date); c != 0 {
			return c < 0
		}
		return list[i].Slot.Start < list[j].Slot.Start
	})
}

// =============================================================================
// PROJECTS / PLANS
// =============================================================================

func (s *Store) CreateProject(ctx context.Context, p *clinic.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[p.ID]; exists {
		return &clinic.FieldError{Field: "id", Reason: "project id already exists"}
	}
	s.projects[p.ID] = copyProject(p)
	return nil
}

func (s *Store) GetProject(ctx context.Context, id clinic.ProjectID) (*clinic.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, &clinic.NotFoundError{Kind: "project", ID: string(id)}
	}
	return copyProject(p), nil
}

func (s *Store) UpdateProject(ctx context.Context, p *clinic.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; !ok {
		return &clinic.NotFoundError{Kind: "project", ID: string(p.ID)}
	}
	s.projects[p.ID] = copyProject(p)
	return nil
}

func (s *Store) ListProjectsByPatient(ctx context.Context, patient clinic.PatientID) ([]*clinic.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*clinic.Project
	for _, p := range s.projects {
		if p.PatientID == patient {
			out = append(out, copyProject(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (s *Store) CreatePlan(ctx context.Context, p *clinic.MonthlyPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.plans[p.ID]; exists {
		return &clinic.FieldError{Field: "id", Reason: "plan id already exists"}
	}
	s.plans[p.ID] = copyPlan(p)
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id clinic.PlanID) (*clinic.MonthlyPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, &clinic.NotFoundError{Kind: "plan", ID: string(id)}
	}
	return copyPlan(p), nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *clinic.MonthlyPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[p.ID]; !ok {
		return &clinic.NotFoundError{Kind: "plan", ID: string(p.ID)}
	}
	s.plans[p.ID] = copyPlan(p)
	return nil
}

func (s *Store) ListPlansByPatient(ctx context.Context, patient clinic.PatientID) ([]*clinic.MonthlyPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*clinic.MonthlyPlan
	for _, p := range s.plans {
		if p.PatientID == patient {
			out = append(out, copyPlan(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Month < out[j].Month
	})
	return out, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) CreatePayment(ctx context.Context, p *clinic.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.payments[p.ID]; exists {
		return &clinic.FieldError{Field: "id", Reason: "payment id already exists"}
	}
	if p.ReceiptNo == "" {
		if p.IsCreditDraw() {
			s.creSeq++
			p.ReceiptNo = fmt.Sprintf("CRE-%06d", s.creSeq)
		} else {
			s.recSeq++
			p.ReceiptNo = fmt.Sprintf("REC-%06d", s.recSeq)
		}
	}
	s.payments[p.ID] = copyPayment(p)
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id clinic.PaymentID) (*clinic.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, &clinic.NotFoundError{Kind: "payment", ID: string(id)}
	}
	return copyPayment(p), nil
}

func (s *Store) UpdatePayment(ctx context.Context, p *clinic.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.payments[p.ID]
	if !ok {
		return &clinic.NotFoundError{Kind: "payment", ID: string(p.ID)}
	}
	updated := copyPayment(p)
	// Monetary fields are immutable.
	updated.Amount = existing.Amount
	updated.Method = existing.Method
	updated.Date = existing.Date
	s.payments[p.ID] = updated
	return nil
}

func (s *Store) ListPaymentsByPatient(ctx context.Context, patient clinic.PatientID) ([]*clinic.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*clinic.Payment
	for _, p := range s.payments {
		if p.PatientID == patient {
			out = append(out, copyPayment(p))
		}
	}
	sortPayments(out)
	return out, nil
}

func (s *Store) ListPaymentsBySession(ctx context.Context, session clinic.SessionID) ([]*clinic.Payment, error) {
	return s.listPaymentsWhere(func(p *clinic.Payment) bool {
		return p.SessionID != nil && *p.SessionID == session
	})
}

func (s *Store) ListPaymentsByProject(ctx context.Context, project clinic.ProjectID) ([]*clinic.Payment, error) {
	return s.listPaymentsWhere(func(p *clinic.Payment) bool {
		return p.ProjectID != nil && *p.ProjectID == project
	})
}

func (s *Store) ListPaymentsByPlan(ctx context.Context, plan clinic.PlanID) ([]*clinic.Payment, error) {
	return s.listPaymentsWhere(func(p *clinic.Payment) bool {
		return p.PlanID != nil && *p.PlanID == plan
	})
}

func (s *Store) ListCreditDrawsAfter(ctx context.Context, patient clinic.PatientID, after time.Time) ([]*clinic.Payment, error) {
	return s.listPaymentsWhere(func(p *clinic.Payment) bool {
		return p.PatientID == patient && p.IsCreditDraw() && !p.Voided && !p.Audit.CreatedAt.Before(after)
	})
}

func (s *Store) listPaymentsWhere(pred func(*clinic.Payment) bool) ([]*clinic.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*clinic.Payment
	for _, p := range s.payments {
		if pred(p) {
			out = append(out, copyPayment(p))
		}
	}
	sortPayments(out)
	return out, nil
}

func sortPayments(list []*clinic.Payment) {
	sort.Slice(list, func(i, j int) bool {
		if c := list[i].Date.Compare(list[j].Date); c != 0 {
			return c < 0
		}
		return list[i].Audit.CreatedAt.Before(list[j].Audit.CreatedAt)
	})
}

// =============================================================================
// REFUNDS
// =============================================================================

func (s *Store) CreateRefund(ctx context.Context, r *clinic.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.refunds[r.ID]; exists {
		return &clinic.FieldError{Field: "id", Reason: "refund id already exists"}
	}
	if r.ReceiptNo == "" {
		s.devSeq++
		r.ReceiptNo = fmt.Sprintf("DEV-%06d", s.devSeq)
	}
	s.refunds[r.ID] = copyRefund(r)
	return nil
}

func (s *Store) GetRefund(ctx context.Context, id clinic.RefundID) (*clinic.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.refunds[id]
	if !ok {
		return nil, &clinic.NotFoundError{Kind: "refund", ID: string(id)}
	}
	return copyRefund(r), nil
}

func (s *Store) ListRefundsByPatient(ctx context.Context, patient clinic.PatientID) ([]*clinic.Refund, error) {
	return s.listRefundsWhere(func(r *clinic.Refund) bool { return r.PatientID == patient })
}

func (s *Store) ListRefundsByProject(ctx context.Context, project clinic.ProjectID) ([]*clinic.Refund, error) {
	return s.listRefundsWhere(func(r *clinic.Refund) bool {
		return r.ProjectID != nil && *r.ProjectID == project
	})
}

func (s *Store) ListRefundsByPlan(ctx context.Context, plan clinic.PlanID) ([]*clinic.Refund, error) {
	return s.listRefundsWhere(func(r *clinic.Refund) bool {
		return r.PlanID != nil && *r.PlanID == plan
	})
}

func (s *Store) listRefundsWhere(pred func(*clinic.Refund) bool) ([]*clinic.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*clinic.Refund
	for _, r := range s.refunds {
		if pred(r) {
			out = append(out, copyRefund(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Date.Compare(out[j].Date); c != 0 {
			return c < 0
		}
		return out[i].Audit.CreatedAt.Before(out[j].Audit.CreatedAt)
	})
	return out, nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func copyPatient(p *clinic.Patient) *clinic.Patient {
	c := *p
	c.Branches = append([]clinic.BranchID(nil), p.Branches...)
	if p.PriceOverrides != nil {
		c.PriceOverrides = make(map[clinic.ServiceID]clinic.Money, len(p.PriceOverrides))
		for k, v := range p.PriceOverrides {
			c.PriceOverrides[k] = v
		}
	}
	return &c
}

func (s *Store) PutPatient(ctx context.Context, p *clinic.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = copyPatient(p)
	return nil
}

func (s *Store) GetPatient(ctx context.Context, id clinic.PatientID) (*clinic.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, &clinic.NotFoundError{Kind: "patient", ID: string(id)}
	}
	return copyPatient(p), nil
}

func (s *Store) ListPatients(ctx context.Context) ([]*clinic.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*clinic.Patient
	for _, p := range s.patients {
		out = append(out, copyPatient(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) PutProfessional(ctx context.Context, p *clinic.Professional) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	c.Branches = append([]clinic.BranchID(nil), p.Branches...)
	c.Services = append([]clinic.ServiceID(nil), p.Services...)
	s.professionals[p.ID] = &c
	return nil
}

func (s *Store) GetProfessional(ctx context.Context, id clinic.ProfessionalID) (*clinic.Professional, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.professionals[id]
	if !ok {
		return nil, &clinic.NotFoundError{Kind: "professional", ID: string(id)}
	}
	c := *p
	c.Branches = append([]clinic.BranchID(nil), p.Branches...)
	c.Services = append([]clinic.ServiceID(nil), p.Services...)
	return &c, nil
}

func (s *Store) PutBranch(ctx context.Context, b *clinic.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *b
	s.branches[b.ID] = &c
	return nil
}

func (s *Store) GetBranch(ctx context.Context, id clinic.BranchID) (*clinic.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.branches[id]
	if !ok {
		return nil, &clinic.NotFoundError{Kind: "branch", ID: string(id)}
	}
	c := *b
	return &c, nil
}

func copyService(sv *clinic.Service) *clinic.Service {
	c := *sv
	if sv.DefaultPrice != nil {
		price := *sv.DefaultPrice
		c.DefaultPrice = &price
	}
	return &c
}

func (s *Store) PutService(ctx context.Context, sv *clinic.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[sv.ID] = copyService(sv)
	return nil
}

func (s *Store) GetService(ctx context.Context, id clinic.ServiceID) (*clinic.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sv, ok := s.services[id]
	if !ok {
		return nil, &clinic.NotFoundError{Kind: "service", ID: string(id)}
	}
	return copyService(sv), nil
}

// =============================================================================
// LEDGER SNAPSHOTS
// =============================================================================

func (s *Store) PutSnapshot(ctx context.Context, snap *clinic.AccountSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *snap
	s.snapshots[snap.PatientID] = &c
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, patient clinic.PatientID) (*clinic.AccountSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[patient]
	if !ok {
		return nil, &clinic.NotFoundError{Kind: "account snapshot", ID: string(patient)}
	}
	c := *snap
	return &c, nil
}

// =============================================================================
// DEEP COPIES
// =============================================================================

func copySession(s *clinic.Session) *clinic.Session {
	c := *s
	c.ProjectID = copyPtr(s.ProjectID)
	c.PlanID = copyPtr(s.PlanID)
	c.OriginalAmount = copyPtr(s.OriginalAmount)
	c.RescheduledDate = copyPtr(s.RescheduledDate)
	c.RescheduledStart = copyPtr(s.RescheduledStart)
	c.ActualStart = copyPtr(s.ActualStart)
	return &c
}

func copyProject(p *clinic.Project) *clinic.Project {
	c := *p
	c.OriginalPrice = copyPtr(p.OriginalPrice)
	c.EstimatedEnd = copyPtr(p.EstimatedEnd)
	c.ActualEnd = copyPtr(p.ActualEnd)
	return &c
}

func copyPlan(p *clinic.MonthlyPlan) *clinic.MonthlyPlan {
	c := *p
	c.OriginalPrice = copyPtr(p.OriginalPrice)
	return &c
}

func copyPayment(p *clinic.Payment) *clinic.Payment {
	c := *p
	c.SessionID = copyPtr(p.SessionID)
	c.ProjectID = copyPtr(p.ProjectID)
	c.PlanID = copyPtr(p.PlanID)
	c.VoidedAt = copyPtr(p.VoidedAt)
	return &c
}

func copyRefund(r *clinic.Refund) *clinic.Refund {
	c := *r
	c.ProjectID = copyPtr(r.ProjectID)
	c.PlanID = copyPtr(r.PlanID)
	return &c
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
