/*
billing/projects.go - Project and monthly-plan lifecycle

PURPOSE:
  Projects and monthly plans are fixed-price bundles whose contracted
  price counts as consumed once they leave the planned state. Neither may
  reach a terminal state while it still owns scheduled sessions.
  Finalizing a project with cost adjustment retroactively sets the price
  to its net payments, recording the prior price.
*/
package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/praxia/clinic-engine/clinic"
)

// =============================================================================
// PROJECTS
// =============================================================================

// ProjectRequest describes a new project.
type ProjectRequest struct {
	PatientID    clinic.PatientID
	Name         string
	Price        clinic.Money
	StartDate    clinic.DayDate
	EstimatedEnd *clinic.DayDate
	Actor        string
}

func (pr *Processor) CreateProject(ctx context.Context, req ProjectRequest) (*clinic.Project, error) {
	if req.PatientID == "" {
		return nil, &clinic.FieldError{Field: "patient", Reason: "patient is required"}
	}
	if req.Name == "" {
		return nil, &clinic.FieldError{Field: "name", Reason: "a project name is required"}
	}
	if req.Price.IsNegative() {
		return nil, &clinic.FieldError{Field: "price", Reason: "project price cannot be negative"}
	}

	proj := &clinic.Project{
		ID:           clinic.ProjectID(uuid.NewString()),
		PatientID:    req.PatientID,
		Name:         req.Name,
		Price:        req.Price,
		State:        clinic.ProjectPlanned,
		StartDate:    req.StartDate,
		EstimatedEnd: req.EstimatedEnd,
		Audit:        clinic.NewAudit(req.Actor, pr.now()),
	}

	unlock := pr.locks.Lock("patient:" + string(req.PatientID))
	defer unlock()

	err := pr.store.WithTx(ctx, func(st clinic.Store) error {
		if err := st.CreateProject(ctx, proj); err != nil {
			return err
		}
		_, err := pr.ledger.Recompute(ctx, st, req.PatientID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return proj, nil
}

// StartProject moves a planned project to in_progress, making its price a
// consumed figure.
func (pr *Processor) StartProject(ctx context.Context, id clinic.ProjectID, actor string) (*clinic.Project, error) {
	return pr.transitionProject(ctx, id, clinic.ProjectInProgress, false, actor)
}

// FinalizeProject moves a project to finished. With adjustCost, the
// contracted price is set to the project's net payments first, recording
// the prior price, so the outstanding balance closes at zero.
func (pr *Processor) FinalizeProject(ctx context.Context, id clinic.ProjectID, adjustCost bool, actor string) (*clinic.Project, error) {
	return pr.transitionProject(ctx, id, clinic.ProjectFinished, adjustCost, actor)
}

// CancelProject moves a project to cancelled.
func (pr *Processor) CancelProject(ctx context.Context, id clinic.ProjectID, actor string) (*clinic.Project, error) {
	return pr.transitionProject(ctx, id, clinic.ProjectCancelled, false, actor)
}

func (pr *Processor) transitionProject(ctx context.Context, id clinic.ProjectID, to clinic.ProjectState, adjustCost bool, actor string) (*clinic.Project, error) {
	proj, err := pr.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := pr.locks.Lock("patient:" + string(proj.PatientID))
	defer unlock()

	var updated *clinic.Project
	err = pr.store.WithTx(ctx, func(st clinic.Store) error {
		proj, err := st.GetProject(ctx, id)
		if err != nil {
			return err
		}
		if proj.State.IsTerminal() {
			return &clinic.TransitionError{Entity: "project", ID: string(id), From: string(proj.State), To: string(to)}
		}
		if to == clinic.ProjectInProgress && proj.State != clinic.ProjectPlanned {
			return &clinic.TransitionError{Entity: "project", ID: string(id), From: string(proj.State), To: string(to)}
		}

		if to.IsTerminal() {
			if err := pr.guardNoScheduled(ctx, st, "project", string(id), func() ([]*clinic.Session, error) {
				return st.ListSessionsByProject(ctx, id)
			}); err != nil {
				return err
			}
		}

		now := pr.now()
		if adjustCost {
			net, err := netPaidProject(ctx, st, id)
			if err != nil {
				return err
			}
			if proj.OriginalPrice == nil {
				prior := proj.Price
				proj.OriginalPrice = &prior
			}
			proj.Price = net
			pr.log.Info().
				Str("project", string(id)).
				Str("prior", proj.OriginalPrice.String()).
				Str("new", net.String()).
				Msg("project cost adjusted at finalization")
		}

		proj.State = to
		if to == clinic.ProjectFinished || to == clinic.ProjectCancelled {
			d := clinic.DateOf(now)
			proj.ActualEnd = &d
		}
		proj.Audit.Touch(actor, now)
		if err := st.UpdateProject(ctx, proj); err != nil {
			return err
		}
		if _, err := pr.ledger.Recompute(ctx, st, proj.PatientID); err != nil {
			return err
		}
		updated = proj
		return nil
	})
	if err != nil {
		return nil, err
	}

	pr.log.Info().
		Str("project", string(updated.ID)).
		Str("state", string(updated.State)).
		Msg("project transitioned")
	return updated, nil
}

// =============================================================================
// MONTHLY PLANS
// =============================================================================

// PlanRequest describes a new monthly plan.
type PlanRequest struct {
	PatientID clinic.PatientID
	Year      int
	Month     int
	Price     clinic.Money
	Actor     string
}

func (pr *Processor) CreatePlan(ctx context.Context, req PlanRequest) (*clinic.MonthlyPlan, error) {
	if req.PatientID == "" {
		return nil, &clinic.FieldError{Field: "patient", Reason: "patient is required"}
	}
	if req.Month < 1 || req.Month > 12 {
		return nil, &clinic.FieldError{Field: "month", Reason: "month must be between 1 and 12"}
	}
	if req.Price.IsNegative() {
		return nil, &clinic.FieldError{Field: "price", Reason: "plan price cannot be negative"}
	}

	plan := &clinic.MonthlyPlan{
		ID:        clinic.PlanID(uuid.NewString()),
		PatientID: req.PatientID,
		Year:      req.Year,
		Month:     time.Month(req.Month),
		Price:     req.Price,
		State:     clinic.PlanActive,
		Audit:     clinic.NewAudit(req.Actor, pr.now()),
	}

	unlock := pr.locks.Lock("patient:" + string(req.PatientID))
	defer unlock()

	err := pr.store.WithTx(ctx, func(st clinic.Store) error {
		if err := st.CreatePlan(ctx, plan); err != nil {
			return err
		}
		_, err := pr.ledger.Recompute(ctx, st, req.PatientID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// TransitionPlan moves a plan between its states, enforcing the same
// no-scheduled-sessions guard on terminal moves as projects.
func (pr *Processor) TransitionPlan(ctx context.Context, id clinic.PlanID, to clinic.PlanState, actor string) (*clinic.MonthlyPlan, error) {
	plan, err := pr.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := pr.locks.Lock("patient:" + string(plan.PatientID))
	defer unlock()

	var updated *clinic.MonthlyPlan
	err = pr.store.WithTx(ctx, func(st clinic.Store) error {
		plan, err := st.GetPlan(ctx, id)
		if err != nil {
			return err
		}
		if plan.State.IsTerminal() {
			return &clinic.TransitionError{Entity: "plan", ID: string(id), From: string(plan.State), To: string(to)}
		}
		if to.IsTerminal() {
			if err := pr.guardNoScheduled(ctx, st, "plan", string(id), func() ([]*clinic.Session, error) {
				return st.ListSessionsByPlan(ctx, id)
			}); err != nil {
				return err
			}
		}

		plan.State = to
		plan.Audit.Touch(actor, pr.now())
		if err := st.UpdatePlan(ctx, plan); err != nil {
			return err
		}
		if _, err := pr.ledger.Recompute(ctx, st, plan.PatientID); err != nil {
			return err
		}
		updated = plan
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// guardNoScheduled rejects terminal transitions while scheduled sessions
// are still owned by the bundle.
func (pr *Processor) guardNoScheduled(ctx context.Context, st clinic.Store, kind, id string, list func() ([]*clinic.Session, error)) error {
	sessions, err := list()
	if err != nil {
		return err
	}
	var scheduled []string
	for _, s := range sessions {
		if s.State == clinic.SessionScheduled {
			scheduled = append(scheduled, string(s.ID))
		}
	}
	if len(scheduled) > 0 {
		return &clinic.GuardError{
			Operation: "close " + kind + " " + id,
			Reason:    "scheduled sessions still attached; complete or cancel them first",
			Dependent: scheduled,
		}
	}
	return nil
}
