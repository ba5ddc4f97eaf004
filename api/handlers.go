/*
handlers.go - HTTP API handlers for the scheduling and ledger engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the schedule/billing/ledger services.

ENDPOINTS:
  Scheduling:
    POST   /api/availability/check          Two-sided slot check
    POST   /api/series/preview              Expand a recurrence rule
    POST   /api/series/commit               Book selected series dates
    POST   /api/sessions                    Book one session
    GET    /api/sessions/{id}               Session details
    POST   /api/sessions/{id}/transition    Lifecycle transition

  Billing:
    POST   /api/payments                    Register cash and/or draw
    GET    /api/payments/{id}               Payment details
    POST   /api/payments/{id}/void          Void with dependency guards
    POST   /api/payments/{id}/reattach      Resolve transfer-pending
    POST   /api/refunds                     Register a refund
    POST   /api/projects                    Create project
    POST   /api/projects/{id}/transition    Project lifecycle
    POST   /api/plans                       Create monthly plan
    POST   /api/plans/{id}/transition       Plan lifecycle

  Ledger:
    GET    /api/patients/{id}/ledger        Account snapshot
    GET    /api/patients/{id}/pending       Stale transfer-pending payments
    GET    /api/ledgers/validate            Read-only integrity sweep

  Directory: thin CRUD for patients/professionals/branches/services.

ERROR HANDLING:
  Domain errors map to HTTP status by sentinel:
  - 400: ErrValidation
  - 404: ErrNotFound
  - 409: ErrConflict, ErrDuplicateSlot, ErrInvalidTransition, ErrGuarded
  - 422: ErrInsufficientCredit
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/praxia/clinic-engine/billing"
	"github.com/praxia/clinic-engine/clinic"
	"github.com/praxia/clinic-engine/ledger"
	"github.com/praxia/clinic-engine/schedule"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     clinic.TxStore
	Scheduler *schedule.Scheduler
	Lifecycle *schedule.Lifecycle
	Billing   *billing.Processor
	Ledger    *ledger.Reconciler

	// PendingAge is the advisory staleness threshold for transfer-pending
	// payments; zero means everything pending is reported.
	PendingAge time.Duration

	Log zerolog.Logger
}

// =============================================================================
// SCHEDULING HANDLERS
// =============================================================================

// CheckAvailability runs the two-sided overlap scan for one proposed slot.
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	var req CheckAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := clinic.ParseDayDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}
	start, err := clinic.ParseClockTime(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start time (use HH:MM)", err)
		return
	}

	res, err := h.Scheduler.CheckAvailability(r.Context(),
		clinic.PatientID(req.PatientID), clinic.ProfessionalID(req.ProfessionalID),
		date, clinic.SlotFrom(start, req.DurationMinutes),
		clinic.SessionID(req.ExcludeSessionID))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityDTO{
		Available:             res.Available,
		PatientConflicts:      toConflictDTOs(res.PatientConflicts),
		ProfessionalConflicts: toConflictDTOs(res.ProfessionalConflicts),
	})
}

// BookSession books one session.
func (h *Handler) BookSession(w http.ResponseWriter, r *http.Request) {
	var req BookSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := clinic.ParseDayDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}
	start, err := clinic.ParseClockTime(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start time (use HH:MM)", err)
		return
	}

	sess, err := h.Scheduler.Book(r.Context(), schedule.BookRequest{
		PatientID:       clinic.PatientID(req.PatientID),
		ProfessionalID:  clinic.ProfessionalID(req.ProfessionalID),
		BranchID:        clinic.BranchID(req.BranchID),
		ServiceID:       clinic.ServiceID(req.ServiceID),
		ProjectID:       projectIDPtr(req.ProjectID),
		PlanID:          planIDPtr(req.PlanID),
		Date:            date,
		Start:           start,
		DurationMinutes: req.DurationMinutes,
		Notes:           req.Notes,
		Actor:           req.Actor,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSessionDTO(sess))
}

// GetSession returns one session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Store.GetSession(r.Context(), clinic.SessionID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(sess))
}

// TransitionSession applies one lifecycle move.
func (h *Handler) TransitionSession(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	treq := schedule.TransitionRequest{
		SessionID:   clinic.SessionID(chi.URLParam(r, "id")),
		To:          clinic.SessionState(req.To),
		Reason:      req.Reason,
		Disposition: clinic.DispositionChoice(req.Disposition),
		Notes:       req.Notes,
		Actor:       req.Actor,
	}
	if req.ActualStart != "" {
		t, err := clinic.ParseClockTime(req.ActualStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid actual start time (use HH:MM)", err)
			return
		}
		treq.ActualStart = &t
	}
	if req.NewDate != "" {
		d, err := clinic.ParseDayDate(req.NewDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid new date (use YYYY-MM-DD)", err)
			return
		}
		treq.NewDate = &d
	}
	if req.NewStart != "" {
		t, err := clinic.ParseClockTime(req.NewStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid new start time (use HH:MM)", err)
			return
		}
		treq.NewStart = &t
	}

	sess, err := h.Lifecycle.Transition(r.Context(), treq)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(sess))
}

// PreviewSeries expands a recurrence rule without writing anything.
func (h *Handler) PreviewSeries(w http.ResponseWriter, r *http.Request) {
	spec, _, ok := h.decodeSeries(w, r)
	if !ok {
		return
	}

	verdicts, err := h.Scheduler.PreviewSeries(r.Context(), spec)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]DateVerdictDTO, len(verdicts))
	for i, v := range verdicts {
		dtos[i] = DateVerdictDTO{
			Date:                  v.Date.String(),
			Start:                 v.Slot.Start.String(),
			End:                   v.Slot.End.String(),
			Available:             v.Available,
			PatientConflicts:      toConflictDTOs(v.PatientConflicts),
			ProfessionalConflicts: toConflictDTOs(v.ProfessionalConflicts),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CommitSeries books the caller-selected subset of a previewed series.
// Partial success: per-date failures are reported, not rolled up.
func (h *Handler) CommitSeries(w http.ResponseWriter, r *http.Request) {
	spec, req, ok := h.decodeSeries(w, r)
	if !ok {
		return
	}
	if len(req.Selected) == 0 {
		writeError(w, http.StatusBadRequest, "No dates selected", nil)
		return
	}
	selected := make([]clinic.DayDate, len(req.Selected))
	for i, s := range req.Selected {
		d, err := clinic.ParseDayDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid selected date (use YYYY-MM-DD)", err)
			return
		}
		selected[i] = d
	}

	res, err := h.Scheduler.CommitSeries(r.Context(), spec, selected, req.Actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dto := SeriesResultDTO{Created: make([]string, len(res.Created)), Failed: make([]DateFailureDTO, len(res.Failed))}
	for i, id := range res.Created {
		dto.Created[i] = string(id)
	}
	for i, f := range res.Failed {
		dto.Failed[i] = DateFailureDTO{Date: f.Date.String(), Reason: f.Reason}
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) decodeSeries(w http.ResponseWriter, r *http.Request) (schedule.SeriesSpec, SeriesRequest, bool) {
	var req SeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return schedule.SeriesSpec{}, req, false
	}

	from, err := clinic.ParseDayDate(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
		return schedule.SeriesSpec{}, req, false
	}
	to, err := clinic.ParseDayDate(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
		return schedule.SeriesSpec{}, req, false
	}
	start, err := clinic.ParseClockTime(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start time (use HH:MM)", err)
		return schedule.SeriesSpec{}, req, false
	}
	weekdays := make([]time.Weekday, len(req.Weekdays))
	for i, wd := range req.Weekdays {
		if wd < 0 || wd > 6 {
			writeError(w, http.StatusBadRequest, "Invalid weekday (0=Sunday .. 6=Saturday)", nil)
			return schedule.SeriesSpec{}, req, false
		}
		weekdays[i] = time.Weekday(wd)
	}

	return schedule.SeriesSpec{
		PatientID:       clinic.PatientID(req.PatientID),
		ProfessionalID:  clinic.ProfessionalID(req.ProfessionalID),
		BranchID:        clinic.BranchID(req.BranchID),
		ServiceID:       clinic.ServiceID(req.ServiceID),
		ProjectID:       projectIDPtr(req.ProjectID),
		PlanID:          planIDPtr(req.PlanID),
		From:            from,
		To:              to,
		Weekdays:        weekdays,
		Start:           start,
		DurationMinutes: req.DurationMinutes,
	}, req, true
}

// =============================================================================
// BILLING HANDLERS
// =============================================================================

// RegisterPayment records a cash payment, a credit draw, or both.
func (h *Handler) RegisterPayment(w http.ResponseWriter, r *http.Request) {
	var req RegisterPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cash, err := parseOptionalMoney(req.CashAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid cash amount", err)
		return
	}
	draw, err := parseOptionalMoney(req.CreditDrawAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid credit draw amount", err)
		return
	}
	date, err := parseOptionalDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}

	receipt, err := h.Billing.RegisterPayment(r.Context(), billing.PaymentRequest{
		PatientID:        clinic.PatientID(req.PatientID),
		CashAmount:       cash,
		CreditDrawAmount: draw,
		Method:           clinic.FundingMethod(req.Method),
		TargetKind:       clinic.TargetKind(req.TargetKind),
		TargetID:         req.TargetID,
		Date:             date,
		Concept:          req.Concept,
		Notes:            req.Notes,
		PayInFull:        req.PayInFull,
		Actor:            req.Actor,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, PaymentReceiptDTO{
		Cash:     toPaymentDTO(receipt.Cash),
		Draw:     toPaymentDTO(receipt.Draw),
		Snapshot: toSnapshotDTO(receipt.Snapshot),
	})
}

// GetPayment returns one payment, voided or not.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetPayment(r.Context(), clinic.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// VoidPayment voids one payment, subject to the dependency guards.
func (h *Handler) VoidPayment(w http.ResponseWriter, r *http.Request) {
	var req VoidPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Billing.Void(r.Context(), clinic.PaymentID(chi.URLParam(r, "id")), req.Actor, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// ReattachPayment resolves a transfer-pending payment onto a replacement
// session.
func (h *Handler) ReattachPayment(w http.ResponseWriter, r *http.Request) {
	var req ReattachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Billing.ReattachPending(r.Context(),
		clinic.PaymentID(chi.URLParam(r, "id")),
		clinic.SessionID(req.NewSessionID), req.Actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// RegisterRefund records a refund against a project, a plan, or the
// general credit balance.
func (h *Handler) RegisterRefund(w http.ResponseWriter, r *http.Request) {
	var req RegisterRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseOptionalMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	date, err := parseOptionalDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}

	refund, err := h.Billing.RegisterRefund(r.Context(), billing.RefundRequest{
		PatientID: clinic.PatientID(req.PatientID),
		ProjectID: projectIDPtr(req.ProjectID),
		PlanID:    planIDPtr(req.PlanID),
		Amount:    amount,
		Reason:    req.Reason,
		Method:    clinic.FundingMethod(req.Method),
		Date:      date,
		Notes:     req.Notes,
		Actor:     req.Actor,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRefundDTO(refund))
}

// CreateProject creates a project in planned state.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	price, err := parseOptionalMoney(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid price", err)
		return
	}
	start, err := clinic.ParseDayDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start date (use YYYY-MM-DD)", err)
		return
	}
	var estimated *clinic.DayDate
	if req.EstimatedEnd != "" {
		d, err := clinic.ParseDayDate(req.EstimatedEnd)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid estimated end (use YYYY-MM-DD)", err)
			return
		}
		estimated = &d
	}

	proj, err := h.Billing.CreateProject(r.Context(), billing.ProjectRequest{
		PatientID:    clinic.PatientID(req.PatientID),
		Name:         req.Name,
		Price:        price,
		StartDate:    start,
		EstimatedEnd: estimated,
		Actor:        req.Actor,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectDTO(proj))
}

// TransitionProject moves a project between lifecycle states.
func (h *Handler) TransitionProject(w http.ResponseWriter, r *http.Request) {
	var req ProjectTransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := clinic.ProjectID(chi.URLParam(r, "id"))
	var proj *clinic.Project
	var err error
	switch clinic.ProjectState(req.To) {
	case clinic.ProjectInProgress:
		proj, err = h.Billing.StartProject(r.Context(), id, req.Actor)
	case clinic.ProjectFinished:
		proj, err = h.Billing.FinalizeProject(r.Context(), id, req.AdjustCost, req.Actor)
	case clinic.ProjectCancelled:
		proj, err = h.Billing.CancelProject(r.Context(), id, req.Actor)
	default:
		writeError(w, http.StatusBadRequest, "Unknown project state "+req.To, nil)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(proj))
}

// CreatePlan creates a monthly plan in active state.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	price, err := parseOptionalMoney(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid price", err)
		return
	}

	plan, err := h.Billing.CreatePlan(r.Context(), billing.PlanRequest{
		PatientID: clinic.PatientID(req.PatientID),
		Year:      req.Year,
		Month:     req.Month,
		Price:     price,
		Actor:     req.Actor,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlanDTO(plan))
}

// TransitionPlan moves a monthly plan between lifecycle states.
func (h *Handler) TransitionPlan(w http.ResponseWriter, r *http.Request) {
	var req PlanTransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	plan, err := h.Billing.TransitionPlan(r.Context(),
		clinic.PlanID(chi.URLParam(r, "id")), clinic.PlanState(req.To), req.Actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(plan))
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetLedger returns the patient's account snapshot, recomputing on a
// cache miss.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Ledger.Snapshot(r.Context(), clinic.PatientID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

// ListPendingPayments reports the patient's stale transfer-pending
// payments. Advisory only.
func (h *Handler) ListPendingPayments(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Billing.ListStalePending(r.Context(),
		clinic.PatientID(chi.URLParam(r, "id")), h.PendingAge)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]*PaymentDTO, len(pending))
	for i, p := range pending {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ValidateLedgers runs the read-only integrity sweep over every patient.
func (h *Handler) ValidateLedgers(w http.ResponseWriter, r *http.Request) {
	findings, err := h.Ledger.ValidateAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ledger sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ValidationReportDTO{
		Clean:         len(findings) == 0,
		Discrepancies: toDiscrepancyDTOs(findings),
	})
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

// PutPatient upserts one patient directory record.
func (h *Handler) PutPatient(w http.ResponseWriter, r *http.Request) {
	var dto PatientDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if dto.ID == "" || dto.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}
	overrides, err := parsePriceOverrides(dto.PriceOverrides)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid price override", err)
		return
	}
	p := &clinic.Patient{
		ID:             clinic.PatientID(dto.ID),
		Name:           dto.Name,
		Active:         dto.Active,
		Branches:       branchIDs(dto.Branches),
		PriceOverrides: overrides,
	}
	if err := h.Store.PutPatient(r.Context(), p); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetPatient returns one patient.
func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetPatient(r.Context(), clinic.PatientID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PatientDTO{
		ID: string(p.ID), Name: p.Name, Active: p.Active,
		Branches:       branchStrings(p.Branches),
		PriceOverrides: priceOverrideStrings(p.PriceOverrides),
	})
}

// ListPatients returns the whole patient directory.
func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.Store.ListPatients(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]PatientDTO, len(patients))
	for i, p := range patients {
		dtos[i] = PatientDTO{
			ID: string(p.ID), Name: p.Name, Active: p.Active,
			Branches:       branchStrings(p.Branches),
			PriceOverrides: priceOverrideStrings(p.PriceOverrides),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PutProfessional upserts one professional directory record.
func (h *Handler) PutProfessional(w http.ResponseWriter, r *http.Request) {
	var dto ProfessionalDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if dto.ID == "" || dto.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}
	services := make([]clinic.ServiceID, len(dto.Services))
	for i, s := range dto.Services {
		services[i] = clinic.ServiceID(s)
	}
	p := &clinic.Professional{
		ID:       clinic.ProfessionalID(dto.ID),
		Name:     dto.Name,
		Active:   dto.Active,
		Branches: branchIDs(dto.Branches),
		Services: services,
	}
	if err := h.Store.PutProfessional(r.Context(), p); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// PutBranch upserts one branch.
func (h *Handler) PutBranch(w http.ResponseWriter, r *http.Request) {
	var dto BranchDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if dto.ID == "" || dto.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}
	b := &clinic.Branch{ID: clinic.BranchID(dto.ID), Name: dto.Name, Active: dto.Active}
	if err := h.Store.PutBranch(r.Context(), b); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// PutService upserts one service.
func (h *Handler) PutService(w http.ResponseWriter, r *http.Request) {
	var dto ServiceDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if dto.ID == "" || dto.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}
	sv := &clinic.Service{
		ID:              clinic.ServiceID(dto.ID),
		Name:            dto.Name,
		DurationMinutes: dto.DurationMinutes,
		Active:          dto.Active,
	}
	if dto.DefaultPrice != "" {
		price, err := decimal.NewFromString(dto.DefaultPrice)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid default price", err)
			return
		}
		sv.DefaultPrice = &price
	}
	if err := h.Store.PutService(r.Context(), sv); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a service-layer error to its HTTP status by
// sentinel.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, clinic.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, clinic.ErrValidation):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, clinic.ErrInsufficientCredit):
		writeError(w, http.StatusUnprocessableEntity, "Insufficient credit", err)
	case errors.Is(err, clinic.ErrConflict), errors.Is(err, clinic.ErrDuplicateSlot):
		writeError(w, http.StatusConflict, "Schedule conflict", err)
	case errors.Is(err, clinic.ErrInvalidTransition), errors.Is(err, clinic.ErrGuarded):
		writeError(w, http.StatusConflict, "Operation not allowed", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func parseOptionalMoney(s string) (clinic.Money, error) {
	if s == "" {
		return clinic.MoneyZero, nil
	}
	return decimal.NewFromString(s)
}

func parseOptionalDate(s string) (clinic.DayDate, error) {
	if s == "" {
		return clinic.DayDate{}, nil
	}
	return clinic.ParseDayDate(s)
}

func projectIDPtr(s string) *clinic.ProjectID {
	if s == "" {
		return nil
	}
	id := clinic.ProjectID(s)
	return &id
}

func planIDPtr(s string) *clinic.PlanID {
	if s == "" {
		return nil
	}
	id := clinic.PlanID(s)
	return &id
}

func branchIDs(ss []string) []clinic.BranchID {
	out := make([]clinic.BranchID, len(ss))
	for i, s := range ss {
		out[i] = clinic.BranchID(s)
	}
	return out
}

func branchStrings(ids []clinic.BranchID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func parsePriceOverrides(in map[string]string) (map[clinic.ServiceID]clinic.Money, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[clinic.ServiceID]clinic.Money, len(in))
	for svc, raw := range in {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", svc, err)
		}
		out[clinic.ServiceID(svc)] = price
	}
	return out, nil
}

func priceOverrideStrings(in map[clinic.ServiceID]clinic.Money) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for svc, price := range in {
		out[string(svc)] = price.String()
	}
	return out
}
