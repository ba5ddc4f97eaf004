/*
ledger/validate.go - Standalone read-only integrity sweep

PURPOSE:
  Walk every patient, recompute the ledger fresh, derive available credit
  a second way through the chronological replay path, and report any
  account where the two paths disagree beyond one minimum currency unit,
  where credit has gone negative, or where the stored snapshot has
  drifted from the recomputation. Advisory and non-destructive: the sweep
  never writes and never blocks normal operation.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/praxia/clinic-engine/clinic"
	"github.com/praxia/clinic-engine/metrics"
)

// Discrepancy is one integrity finding for one patient.
type Discrepancy struct {
	PatientID clinic.PatientID
	Kind      string
	Detail    string
	Expected  clinic.Money
	Actual    clinic.Money
}

func (d Discrepancy) String() string {
	return fmt.Sprintf("%s [%s]: %s (expected %s, actual %s)",
		d.PatientID, d.Kind, d.Detail, d.Expected, d.Actual)
}

const (
	DiscrepancyCreditPaths    = "credit_path_mismatch"
	DiscrepancyNegativeCredit = "negative_credit"
	DiscrepancyStaleSnapshot  = "stale_snapshot"
)

// ValidateAll runs the integrity sweep over every patient. Read-only.
func (r *Reconciler) ValidateAll(ctx context.Context) ([]Discrepancy, error) {
	patients, err := r.store.ListPatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing patients: %w", err)
	}

	var findings []Discrepancy
	for _, p := range patients {
		ds, err := r.validateOne(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("validating patient %s: %w", p.ID, err)
		}
		findings = append(findings, ds...)
	}
	for _, d := range findings {
		metrics.DiscrepanciesFound.WithLabelValues(d.Kind).Inc()
	}

	r.log.Info().
		Int("patients", len(patients)).
		Int("discrepancies", len(findings)).
		Msg("ledger sweep finished")
	return findings, nil
}

// ValidatePatient runs the sweep for a single patient.
func (r *Reconciler) ValidatePatient(ctx context.Context, patient clinic.PatientID) ([]Discrepancy, error) {
	return r.validateOne(ctx, patient)
}

func (r *Reconciler) validateOne(ctx context.Context, patient clinic.PatientID) ([]Discrepancy, error) {
	f, err := loadFacts(ctx, r.store, patient)
	if err != nil {
		return nil, err
	}
	fresh := computeFromFacts(patient, f)
	findings := factFindings(patient, fresh, f)

	// Stored snapshot drift. A missing snapshot is not a finding: the
	// patient may simply never have had a mutating operation.
	stored, err := r.store.GetSnapshot(ctx, patient)
	if err != nil {
		if errors.Is(err, clinic.ErrNotFound) {
			return findings, nil
		}
		return nil, err
	}
	for _, cmp := range []struct {
		name     string
		stored   clinic.Money
		computed clinic.Money
	}{
		{"available_credit", stored.AvailableCredit, fresh.AvailableCredit},
		{"total_consumed", stored.TotalConsumed, fresh.TotalConsumed},
		{"total_paid", stored.TotalPaid, fresh.TotalPaid},
		{"debt", stored.Debt, fresh.Debt},
		{"balance", stored.Balance, fresh.Balance},
	} {
		if cmp.stored.Sub(cmp.computed).Abs().GreaterThan(clinic.MoneyTolerance) {
			findings = append(findings, Discrepancy{
				PatientID: patient,
				Kind:      DiscrepancyStaleSnapshot,
				Detail:    "stored " + cmp.name + " has drifted from recomputation",
				Expected:  cmp.computed,
				Actual:    cmp.stored,
			})
		}
	}
	return findings, nil
}

// factFindings runs the checks that need only the fact set, no store reads.
func factFindings(patient clinic.PatientID, fresh *clinic.AccountSnapshot, f *facts) []Discrepancy {
	var findings []Discrepancy

	// Cross-path agreement: component credit vs chronological replay.
	replayed := replayCredit(f)
	if fresh.AvailableCredit.Sub(replayed).Abs().GreaterThan(clinic.MoneyTolerance) {
		findings = append(findings, Discrepancy{
			PatientID: patient,
			Kind:      DiscrepancyCreditPaths,
			Detail:    "component-path credit disagrees with chronological replay",
			Expected:  fresh.AvailableCredit,
			Actual:    replayed,
		})
	}

	// Credit must never be negative in a consistent state.
	if fresh.AvailableCredit.IsNegative() {
		findings = append(findings, Discrepancy{
			PatientID: patient,
			Kind:      DiscrepancyNegativeCredit,
			Detail:    "available credit is negative",
			Expected:  clinic.MoneyZero,
			Actual:    fresh.AvailableCredit,
		})
	}
	return findings
}
