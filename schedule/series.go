/*
schedule/series.go - Recurrence preview and partial-success commit

PURPOSE:
  Expand a recurrence rule (date range x weekday set x time of day) into
  candidate dates, classify each as bookable or conflicting without side
  effects, and commit the caller-selected subset with a fresh per-date
  availability re-check. Preview output must match what committing the
  same dates immediately would produce; commit never trusts a preview.

PARTIAL SUCCESS:
  Commit creates a session per successful date and collects failures per
  date; one failing date never aborts its siblings.
*/
package schedule

import (
	"context"
	"time"

	"github.com/praxia/clinic-engine/clinic"
)

// SeriesSpec is a recurrence rule.
type SeriesSpec struct {
	PatientID      clinic.PatientID
	ProfessionalID clinic.ProfessionalID
	BranchID       clinic.BranchID
	ServiceID      clinic.ServiceID
	ProjectID      *clinic.ProjectID
	PlanID         *clinic.PlanID

	From     clinic.DayDate
	To       clinic.DayDate // inclusive
	Weekdays []time.Weekday
	Start    clinic.ClockTime
	// DurationMinutes overrides the service default when > 0.
	DurationMinutes int
}

// DateVerdict is the preview result for one candidate date.
type DateVerdict struct {
	Date                  clinic.DayDate
	Slot                  clinic.TimeSlot
	Available             bool
	PatientConflicts      []Conflict
	ProfessionalConflicts []Conflict
}

// SeriesResult reports a partial-success commit.
type SeriesResult struct {
	Created []clinic.SessionID
	Failed  []DateFailure
}

type DateFailure struct {
	Date   clinic.DayDate
	Reason string
	Err    error
}

// resolve computes the slot from start plus duration and validates the rule.
func (spec *SeriesSpec) resolve(ctx context.Context, st clinic.Store) (clinic.TimeSlot, error) {
	if spec.To.Before(spec.From) {
		return clinic.TimeSlot{}, &clinic.FieldError{Field: "dateRange", Reason: "end date before start date"}
	}
	if len(spec.Weekdays) == 0 {
		return clinic.TimeSlot{}, &clinic.FieldError{Field: "weekdays", Reason: "at least one weekday is required"}
	}
	duration := spec.DurationMinutes
	if duration <= 0 {
		svc, err := st.GetService(ctx, spec.ServiceID)
		if err != nil {
			return clinic.TimeSlot{}, err
		}
		duration = svc.DurationMinutes
	}
	if duration <= 0 {
		return clinic.TimeSlot{}, &clinic.FieldError{Field: "duration", Reason: "session duration must be positive"}
	}
	return clinic.SlotFrom(spec.Start, duration), nil
}

// dates expands the rule into its candidate dates in calendar order.
func (spec *SeriesSpec) dates() []clinic.DayDate {
	wanted := make(map[time.Weekday]bool, len(spec.Weekdays))
	for _, wd := range spec.Weekdays {
		wanted[wd] = true
	}
	var out []clinic.DayDate
	for d := spec.From; !d.After(spec.To); d = d.AddDays(1) {
		if wanted[d.Weekday()] {
			out = append(out, d)
		}
	}
	return out
}

// PreviewSeries expands the rule and classifies every candidate date.
// Side-effect-free; callable any number of times.
func (s *Scheduler) PreviewSeries(ctx context.Context, spec SeriesSpec) ([]DateVerdict, error) {
	slot, err := spec.resolve(ctx, s.store)
	if err != nil {
		return nil, err
	}

	var verdicts []DateVerdict
	for _, date := range spec.dates() {
		res, err := checkAvailability(ctx, s.store, spec.PatientID, spec.ProfessionalID, date, slot, "")
		if err != nil {
			return nil, err
		}
		verdicts = append(verdicts, DateVerdict{
			Date:                  date,
			Slot:                  slot,
			Available:             res.Available,
			PatientConflicts:      res.PatientConflicts,
			ProfessionalConflicts: res.ProfessionalConflicts,
		})
	}
	return verdicts, nil
}

// CommitSeries books the caller-selected dates one by one, re-validating
// each at commit time. Only the listed dates are created; "available"
// dates the operator did not select are never auto-booked. Failures are
// collected per date.
func (s *Scheduler) CommitSeries(ctx context.Context, spec SeriesSpec, selected []clinic.DayDate, actor string) (*SeriesResult, error) {
	if len(selected) == 0 {
		return nil, &clinic.FieldError{Field: "selectedDates", Reason: "at least one date must be selected"}
	}
	if _, err := spec.resolve(ctx, s.store); err != nil {
		return nil, err
	}

	result := &SeriesResult{}
	for _, date := range selected {
		sess, err := s.Book(ctx, BookRequest{
			PatientID:       spec.PatientID,
			ProfessionalID:  spec.ProfessionalID,
			BranchID:        spec.BranchID,
			ServiceID:       spec.ServiceID,
			ProjectID:       spec.ProjectID,
			PlanID:          spec.PlanID,
			Date:            date,
			Start:           spec.Start,
			DurationMinutes: spec.DurationMinutes,
			Actor:           actor,
		})
		if err != nil {
			result.Failed = append(result.Failed, DateFailure{Date: date, Reason: err.Error(), Err: err})
			continue
		}
		result.Created = append(result.Created, sess.ID)
	}

	s.log.Info().
		Str("patient", string(spec.PatientID)).
		Int("created", len(result.Created)).
		Int("failed", len(result.Failed)).
		Msg("series committed")
	return result, nil
}
