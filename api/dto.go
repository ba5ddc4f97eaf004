/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

WIRE FORMATS:
  - Dates:   "YYYY-MM-DD"
  - Times:   "HH:MM" (24h)
  - Money:   decimal strings, e.g. "120.50"
  - Slots:   start + duration in minutes on requests; start/end on responses

VALIDATION:
  Validation is done in handlers and the services, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - server.go: Route definitions
*/
package api

import (
	"github.com/praxia/clinic-engine/clinic"
	"github.com/praxia/clinic-engine/ledger"
	"github.com/praxia/clinic-engine/schedule"
)

// =============================================================================
// SESSIONS / SCHEDULING
// =============================================================================

// SessionDTO represents a session in API responses.
type SessionDTO struct {
	ID             string `json:"id"`
	PatientID      string `json:"patient_id"`
	ProfessionalID string `json:"professional_id"`
	BranchID       string `json:"branch_id"`
	ServiceID      string `json:"service_id"`
	ProjectID      string `json:"project_id,omitempty"`
	PlanID         string `json:"plan_id,omitempty"`
	Date           string `json:"date"`
	Start          string `json:"start"`
	End            string `json:"end"`
	State          string `json:"state"`
	Amount         string `json:"amount"`
	OriginalAmount string `json:"original_amount,omitempty"`
	Notes          string `json:"notes,omitempty"`
	MinutesLate    int    `json:"minutes_late,omitempty"`
	ActualStart    string `json:"actual_start,omitempty"`
	RescheduledTo  string `json:"rescheduled_to,omitempty"`
}

// BookSessionRequest is the request to book one session.
type BookSessionRequest struct {
	PatientID       string `json:"patient_id"`
	ProfessionalID  string `json:"professional_id"`
	BranchID        string `json:"branch_id"`
	ServiceID       string `json:"service_id"`
	ProjectID       string `json:"project_id,omitempty"`
	PlanID          string `json:"plan_id,omitempty"`
	Date            string `json:"date"`
	Start           string `json:"start"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Notes           string `json:"notes,omitempty"`
	Actor           string `json:"actor"`
}

// CheckAvailabilityRequest asks whether a slot is free for both parties.
type CheckAvailabilityRequest struct {
	PatientID        string `json:"patient_id"`
	ProfessionalID   string `json:"professional_id"`
	Date             string `json:"date"`
	Start            string `json:"start"`
	DurationMinutes  int    `json:"duration_minutes"`
	ExcludeSessionID string `json:"exclude_session_id,omitempty"`
}

// ConflictDTO names one committed session blocking a proposed slot.
type ConflictDTO struct {
	SessionID      string `json:"session_id"`
	PatientID      string `json:"patient_id"`
	ProfessionalID string `json:"professional_id"`
	Date           string `json:"date"`
	Start          string `json:"start"`
	End            string `json:"end"`
	State          string `json:"state"`
}

// AvailabilityDTO is the two-sided verdict for one slot.
type AvailabilityDTO struct {
	Available             bool          `json:"available"`
	PatientConflicts      []ConflictDTO `json:"patient_conflicts"`
	ProfessionalConflicts []ConflictDTO `json:"professional_conflicts"`
}

// TransitionRequest moves a session to a terminal state.
type TransitionRequest struct {
	To          string `json:"to"`
	ActualStart string `json:"actual_start,omitempty"`
	NewDate     string `json:"new_date,omitempty"`
	NewStart    string `json:"new_start,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Disposition string `json:"disposition,omitempty"`
	Notes       string `json:"notes,omitempty"`
	Actor       string `json:"actor"`
}

// =============================================================================
// SERIES
// =============================================================================

// SeriesRequest is the shared shape of preview and commit calls. Weekdays
// are 0=Sunday through 6=Saturday. Commit additionally selects dates.
type SeriesRequest struct {
	PatientID       string   `json:"patient_id"`
	ProfessionalID  string   `json:"professional_id"`
	BranchID        string   `json:"branch_id"`
	ServiceID       string   `json:"service_id"`
	ProjectID       string   `json:"project_id,omitempty"`
	PlanID          string   `json:"plan_id,omitempty"`
	From            string   `json:"from"`
	To              string   `json:"to"`
	Weekdays        []int    `json:"weekdays"`
	Start           string   `json:"start"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	Selected        []string `json:"selected,omitempty"`
	Actor           string   `json:"actor,omitempty"`
}

// DateVerdictDTO is the preview result for one candidate date.
type DateVerdictDTO struct {
	Date                  string        `json:"date"`
	Start                 string        `json:"start"`
	End                   string        `json:"end"`
	Available             bool          `json:"available"`
	PatientConflicts      []ConflictDTO `json:"patient_conflicts,omitempty"`
	ProfessionalConflicts []ConflictDTO `json:"professional_conflicts,omitempty"`
}

// SeriesResultDTO reports a partial-success commit.
type SeriesResultDTO struct {
	Created []string         `json:"created"`
	Failed  []DateFailureDTO `json:"failed"`
}

type DateFailureDTO struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

// =============================================================================
// PAYMENTS / REFUNDS
// =============================================================================

// PaymentDTO represents a payment in API responses.
type PaymentDTO struct {
	ID              string `json:"id"`
	ReceiptNo       string `json:"receipt_no"`
	PatientID       string `json:"patient_id"`
	SessionID       string `json:"session_id,omitempty"`
	ProjectID       string `json:"project_id,omitempty"`
	PlanID          string `json:"plan_id,omitempty"`
	Date            string `json:"date"`
	Amount          string `json:"amount"`
	Method          string `json:"method"`
	Concept         string `json:"concept,omitempty"`
	Voided          bool   `json:"voided"`
	VoidReason      string `json:"void_reason,omitempty"`
	TransferPending bool   `json:"transfer_pending,omitempty"`
}

// RegisterPaymentRequest records a cash amount, a credit draw, or both.
type RegisterPaymentRequest struct {
	PatientID        string `json:"patient_id"`
	CashAmount       string `json:"cash_amount,omitempty"`
	CreditDrawAmount string `json:"credit_draw_amount,omitempty"`
	Method           string `json:"method,omitempty"`
	TargetKind       string `json:"target_kind,omitempty"`
	TargetID         string `json:"target_id,omitempty"`
	Date             string `json:"date,omitempty"`
	Concept          string `json:"concept,omitempty"`
	Notes            string `json:"notes,omitempty"`
	PayInFull        bool   `json:"pay_in_full,omitempty"`
	Actor            string `json:"actor"`
}

// PaymentReceiptDTO is the outcome of one registration.
type PaymentReceiptDTO struct {
	Cash     *PaymentDTO  `json:"cash,omitempty"`
	Draw     *PaymentDTO  `json:"draw,omitempty"`
	Snapshot *SnapshotDTO `json:"snapshot"`
}

// VoidPaymentRequest voids one payment.
type VoidPaymentRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// ReattachRequest resolves a transfer-pending payment onto a replacement
// session.
type ReattachRequest struct {
	NewSessionID string `json:"new_session_id"`
	Actor        string `json:"actor"`
}

// RegisterRefundRequest records a refund. Leave project/plan empty for a
// general-credit refund.
type RegisterRefundRequest struct {
	PatientID string `json:"patient_id"`
	ProjectID string `json:"project_id,omitempty"`
	PlanID    string `json:"plan_id,omitempty"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
	Method    string `json:"method,omitempty"`
	Date      string `json:"date,omitempty"`
	Notes     string `json:"notes,omitempty"`
	Actor     string `json:"actor"`
}

// RefundDTO represents a refund in API responses.
type RefundDTO struct {
	ID        string `json:"id"`
	ReceiptNo string `json:"receipt_no"`
	PatientID string `json:"patient_id"`
	ProjectID string `json:"project_id,omitempty"`
	PlanID    string `json:"plan_id,omitempty"`
	Date      string `json:"date"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
}

// =============================================================================
// PROJECTS / PLANS
// =============================================================================

// ProjectDTO represents a project in API responses.
type ProjectDTO struct {
	ID            string `json:"id"`
	PatientID     string `json:"patient_id"`
	Name          string `json:"name"`
	Price         string `json:"price"`
	OriginalPrice string `json:"original_price,omitempty"`
	State         string `json:"state"`
	StartDate     string `json:"start_date"`
	EstimatedEnd  string `json:"estimated_end,omitempty"`
	ActualEnd     string `json:"actual_end,omitempty"`
}

// CreateProjectRequest creates a project in planned state.
type CreateProjectRequest struct {
	PatientID    string `json:"patient_id"`
	Name         string `json:"name"`
	Price        string `json:"price"`
	StartDate    string `json:"start_date"`
	EstimatedEnd string `json:"estimated_end,omitempty"`
	Actor        string `json:"actor"`
}

// ProjectTransitionRequest moves a project between lifecycle states.
type ProjectTransitionRequest struct {
	To         string `json:"to"`
	AdjustCost bool   `json:"adjust_cost,omitempty"`
	Actor      string `json:"actor"`
}

// PlanDTO represents a monthly plan in API responses.
type PlanDTO struct {
	ID            string `json:"id"`
	PatientID     string `json:"patient_id"`
	Year          int    `json:"year"`
	Month         int    `json:"month"`
	Price         string `json:"price"`
	OriginalPrice string `json:"original_price,omitempty"`
	State         string `json:"state"`
}

// CreatePlanRequest creates a monthly plan in active state.
type CreatePlanRequest struct {
	PatientID string `json:"patient_id"`
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	Price     string `json:"price"`
	Actor     string `json:"actor"`
}

// PlanTransitionRequest moves a plan between lifecycle states.
type PlanTransitionRequest struct {
	To    string `json:"to"`
	Actor string `json:"actor"`
}

// =============================================================================
// LEDGER
// =============================================================================

// SnapshotDTO is a patient's account snapshot.
type SnapshotDTO struct {
	PatientID       string `json:"patient_id"`
	TotalConsumed   string `json:"total_consumed"`
	TotalPaid       string `json:"total_paid"`
	AvailableCredit string `json:"available_credit"`
	Debt            string `json:"debt"`
	Balance         string `json:"balance"`
	ComputedAt      string `json:"computed_at"`
}

// DiscrepancyDTO is one integrity-sweep finding.
type DiscrepancyDTO struct {
	PatientID string `json:"patient_id"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
}

// ValidationReportDTO is the sweep result.
type ValidationReportDTO struct {
	Clean         bool             `json:"clean"`
	Discrepancies []DiscrepancyDTO `json:"discrepancies"`
}

// =============================================================================
// DIRECTORY
// =============================================================================

// PatientDTO represents a patient directory record. PriceOverrides maps
// service IDs to the patient's contracted prices, as decimal strings.
type PatientDTO struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Active         bool              `json:"active"`
	Branches       []string          `json:"branches"`
	PriceOverrides map[string]string `json:"price_overrides,omitempty"`
}

// ProfessionalDTO represents a professional directory record.
type ProfessionalDTO struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Active   bool     `json:"active"`
	Branches []string `json:"branches"`
	Services []string `json:"services"`
}

// BranchDTO represents a clinic location.
type BranchDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// ServiceDTO represents a therapy/consultation type. DefaultPrice is the
// list price as a decimal string; empty means no list price is set and the
// scheduler prices bookings from patient overrides only.
type ServiceDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Active          bool   `json:"active"`
	DefaultPrice    string `json:"default_price,omitempty"`
}

// ErrorResponse is the JSON shape of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// DOMAIN -> DTO CONVERSIONS
// =============================================================================

func toSessionDTO(s *clinic.Session) SessionDTO {
	dto := SessionDTO{
		ID:             string(s.ID),
		PatientID:      string(s.PatientID),
		ProfessionalID: string(s.ProfessionalID),
		BranchID:       string(s.BranchID),
		ServiceID:      string(s.ServiceID),
		Date:           s.Date.String(),
		Start:          s.Slot.Start.String(),
		End:            s.Slot.End.String(),
		State:          string(s.State),
		Amount:         s.Amount.String(),
		Notes:          s.Notes,
		MinutesLate:    s.MinutesLate,
	}
	if s.ProjectID != nil {
		dto.ProjectID = string(*s.ProjectID)
	}
	if s.PlanID != nil {
		dto.PlanID = string(*s.PlanID)
	}
	if s.OriginalAmount != nil {
		dto.OriginalAmount = s.OriginalAmount.String()
	}
	if s.ActualStart != nil {
		dto.ActualStart = s.ActualStart.String()
	}
	if s.RescheduledDate != nil && s.RescheduledStart != nil {
		dto.RescheduledTo = s.RescheduledDate.String() + " " + s.RescheduledStart.String()
	}
	return dto
}

func toConflictDTOs(cs []schedule.Conflict) []ConflictDTO {
	out := make([]ConflictDTO, len(cs))
	for i, c := range cs {
		out[i] = ConflictDTO{
			SessionID:      string(c.SessionID),
			PatientID:      string(c.PatientID),
			ProfessionalID: string(c.ProfessionalID),
			Date:           c.Date.String(),
			Start:          c.Slot.Start.String(),
			End:            c.Slot.End.String(),
			State:          string(c.State),
		}
	}
	return out
}

func toPaymentDTO(p *clinic.Payment) *PaymentDTO {
	if p == nil {
		return nil
	}
	dto := &PaymentDTO{
		ID:              string(p.ID),
		ReceiptNo:       p.ReceiptNo,
		PatientID:       string(p.PatientID),
		Date:            p.Date.String(),
		Amount:          p.Amount.String(),
		Method:          string(p.Method),
		Concept:         p.Concept,
		Voided:          p.Voided,
		VoidReason:      p.VoidReason,
		TransferPending: p.TransferPending,
	}
	if p.SessionID != nil {
		dto.SessionID = string(*p.SessionID)
	}
	if p.ProjectID != nil {
		dto.ProjectID = string(*p.ProjectID)
	}
	if p.PlanID != nil {
		dto.PlanID = string(*p.PlanID)
	}
	return dto
}

func toRefundDTO(r *clinic.Refund) RefundDTO {
	dto := RefundDTO{
		ID:        string(r.ID),
		ReceiptNo: r.ReceiptNo,
		PatientID: string(r.PatientID),
		Date:      r.Date.String(),
		Amount:    r.Amount.String(),
		Reason:    r.Reason,
	}
	if r.ProjectID != nil {
		dto.ProjectID = string(*r.ProjectID)
	}
	if r.PlanID != nil {
		dto.PlanID = string(*r.PlanID)
	}
	return dto
}

func toProjectDTO(p *clinic.Project) ProjectDTO {
	dto := ProjectDTO{
		ID:        string(p.ID),
		PatientID: string(p.PatientID),
		Name:      p.Name,
		Price:     p.Price.String(),
		State:     string(p.State),
		StartDate: p.StartDate.String(),
	}
	if p.OriginalPrice != nil {
		dto.OriginalPrice = p.OriginalPrice.String()
	}
	if p.EstimatedEnd != nil {
		dto.EstimatedEnd = p.EstimatedEnd.String()
	}
	if p.ActualEnd != nil {
		dto.ActualEnd = p.ActualEnd.String()
	}
	return dto
}

func toPlanDTO(p *clinic.MonthlyPlan) PlanDTO {
	dto := PlanDTO{
		ID:        string(p.ID),
		PatientID: string(p.PatientID),
		Year:      p.Year,
		Month:     int(p.Month),
		Price:     p.Price.String(),
		State:     string(p.State),
	}
	if p.OriginalPrice != nil {
		dto.OriginalPrice = p.OriginalPrice.String()
	}
	return dto
}

func toSnapshotDTO(s *clinic.AccountSnapshot) *SnapshotDTO {
	if s == nil {
		return nil
	}
	return &SnapshotDTO{
		PatientID:       string(s.PatientID),
		TotalConsumed:   s.TotalConsumed.String(),
		TotalPaid:       s.TotalPaid.String(),
		AvailableCredit: s.AvailableCredit.String(),
		Debt:            s.Debt.String(),
		Balance:         s.Balance.String(),
		ComputedAt:      s.ComputedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func toDiscrepancyDTOs(ds []ledger.Discrepancy) []DiscrepancyDTO {
	out := make([]DiscrepancyDTO, len(ds))
	for i, d := range ds {
		out[i] = DiscrepancyDTO{
			PatientID: string(d.PatientID),
			Kind:      d.Kind,
			Detail:    d.Detail,
			Expected:  d.Expected.String(),
			Actual:    d.Actual.String(),
		}
	}
	return out
}
