/*
billing/refunds.go - Refund registration

PURPOSE:
  Refunds are immutable monetary outflows. A refund against a project or
  plan reduces its net-paid figure and can never exceed it; a general
  refund draws down the patient's available credit and can never exceed
  that. Every refund triggers a ledger recompute in its own transaction.
*/
package billing

import (
	"context"

	"github.com/google/uuid"

	"github.com/praxia/clinic-engine/clinic"
	"github.com/praxia/clinic-engine/metrics"
)

func refundTarget(r *clinic.Refund) string {
	switch {
	case r.ProjectID != nil:
		return "project"
	case r.PlanID != nil:
		return "plan"
	default:
		return "general"
	}
}

// RefundRequest describes one refund. Leave both ProjectID and PlanID
// empty for a general-credit refund.
type RefundRequest struct {
	PatientID clinic.PatientID
	ProjectID *clinic.ProjectID
	PlanID    *clinic.PlanID
	Amount    clinic.Money
	Reason    string
	Method    clinic.FundingMethod
	Date      clinic.DayDate
	Notes     string
	Actor     string
}

// RegisterRefund validates the ceiling, records the refund and recomputes
// the ledger.
func (pr *Processor) RegisterRefund(ctx context.Context, req RefundRequest) (*clinic.Refund, error) {
	if req.PatientID == "" {
		return nil, &clinic.FieldError{Field: "patient", Reason: "patient is required"}
	}
	if !req.Amount.IsPositive() {
		return nil, &clinic.FieldError{Field: "amount", Reason: "refund amount must be greater than zero"}
	}
	if req.Reason == "" {
		return nil, &clinic.FieldError{Field: "reason", Reason: "a refund reason is required"}
	}
	if req.ProjectID != nil && req.PlanID != nil {
		return nil, &clinic.FieldError{Field: "target", Reason: "a refund targets at most one of project or plan"}
	}
	if req.Date.IsZero() {
		req.Date = clinic.DateOf(pr.now())
	}

	unlock := pr.locks.Lock("patient:" + string(req.PatientID))
	defer unlock()

	var refund *clinic.Refund
	err := pr.store.WithTx(ctx, func(st clinic.Store) error {
		switch {
		case req.ProjectID != nil:
			proj, err := st.GetProject(ctx, *req.ProjectID)
			if err != nil {
				return err
			}
			if proj.PatientID != req.PatientID {
				return &clinic.FieldError{Field: "target", Reason: "project belongs to another patient"}
			}
			net, err := netPaidProject(ctx, st, *req.ProjectID)
			if err != nil {
				return err
			}
			if req.Amount.GreaterThan(net) {
				return &clinic.FieldError{Field: "amount", Reason: "refund exceeds the project's net payments"}
			}

		case req.PlanID != nil:
			plan, err := st.GetPlan(ctx, *req.PlanID)
			if err != nil {
				return err
			}
			if plan.PatientID != req.PatientID {
				return &clinic.FieldError{Field: "target", Reason: "plan belongs to another patient"}
			}
			net, err := netPaidPlan(ctx, st, *req.PlanID)
			if err != nil {
				return err
			}
			if req.Amount.GreaterThan(net) {
				return &clinic.FieldError{Field: "amount", Reason: "refund exceeds the plan's net payments"}
			}

		default:
			// General refund: ceiling is the available credit, checked
			// in the same transaction as the write.
			available, err := pr.ledger.AvailableCredit(ctx, st, req.PatientID)
			if err != nil {
				return err
			}
			if req.Amount.GreaterThan(available) {
				return &clinic.InsufficientCreditError{
					PatientID: req.PatientID,
					Requested: req.Amount,
					Available: available,
				}
			}
		}

		refund = &clinic.Refund{
			ID:        clinic.RefundID(uuid.NewString()),
			PatientID: req.PatientID,
			ProjectID: req.ProjectID,
			PlanID:    req.PlanID,
			Date:      req.Date,
			Amount:    req.Amount,
			Reason:    req.Reason,
			Method:    req.Method,
			Notes:     req.Notes,
			Audit:     clinic.NewAudit(req.Actor, pr.now()),
		}
		if err := st.CreateRefund(ctx, refund); err != nil {
			return err
		}
		_, err := pr.ledger.Recompute(ctx, st, req.PatientID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RefundsTotal.WithLabelValues(refundTarget(refund)).Inc()

	pr.log.Info().
		Str("refund", string(refund.ID)).
		Str("receipt", refund.ReceiptNo).
		Str("patient", string(req.PatientID)).
		Str("amount", req.Amount.String()).
		Msg("refund registered")
	return refund, nil
}
