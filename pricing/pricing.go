/*
Package pricing provides the contracted-price and eligibility capabilities
the scheduler consumes.

PURPOSE:
  Price lists and staffing rules live outside the engine. The scheduler
  only needs two questions answered: "what does this patient pay for this
  service" and "may this professional deliver this service to this patient
  at this branch". Both are small interfaces so deployments can plug in
  their own sources. DirectoryPricing and DirectoryEligibility are the
  production implementations, backed by the engine's own directory
  records; Table is a static in-memory alternative.
*/
package pricing

import (
	"context"

	"github.com/praxia/clinic-engine/clinic"
)

// Pricing answers per-patient-per-service contracted prices.
type Pricing interface {
	// Get returns the price the patient pays for one session of the
	// service. A missing entry is a validation error, not a zero price.
	Get(ctx context.Context, patient clinic.PatientID, service clinic.ServiceID) (clinic.Money, error)
}

// Eligibility answers whether a booking combination is allowed at all.
type Eligibility interface {
	// Check returns nil when the professional offers the service at the
	// branch and the patient is assigned to the branch; a FieldError
	// naming the failing leg otherwise.
	Check(ctx context.Context, patient clinic.PatientID, professional clinic.ProfessionalID, service clinic.ServiceID, branch clinic.BranchID) error
}

// =============================================================================
// STATIC PRICE TABLE
// =============================================================================

// Table is a Pricing backed by an in-memory table with per-patient
// overrides over per-service defaults.
type Table struct {
	defaults  map[clinic.ServiceID]clinic.Money
	overrides map[clinic.PatientID]map[clinic.ServiceID]clinic.Money
}

func NewTable() *Table {
	return &Table{
		defaults:  make(map[clinic.ServiceID]clinic.Money),
		overrides: make(map[clinic.PatientID]map[clinic.ServiceID]clinic.Money),
	}
}

// SetDefault sets the list price of a service.
func (t *Table) SetDefault(service clinic.ServiceID, price clinic.Money) {
	t.defaults[service] = price
}

// SetOverride sets a patient-specific contracted price.
func (t *Table) SetOverride(patient clinic.PatientID, service clinic.ServiceID, price clinic.Money) {
	m, ok := t.overrides[patient]
	if !ok {
		m = make(map[clinic.ServiceID]clinic.Money)
		t.overrides[patient] = m
	}
	m[service] = price
}

func (t *Table) Get(ctx context.Context, patient clinic.PatientID, service clinic.ServiceID) (clinic.Money, error) {
	if m, ok := t.overrides[patient]; ok {
		if price, ok := m[service]; ok {
			return price, nil
		}
	}
	if price, ok := t.defaults[service]; ok {
		return price, nil
	}
	return clinic.MoneyZero, &clinic.FieldError{Field: "service", Reason: "no contracted price for service " + string(service)}
}

var _ Pricing = (*Table)(nil)

// =============================================================================
// DIRECTORY-BACKED PRICING
// =============================================================================

// DirectoryPricing resolves contracted prices from the directory records:
// the patient's own price list first, the service list price second. Prices
// maintained through the directory survive restarts with the rest of the
// store, unlike a Table.
type DirectoryPricing struct {
	Store clinic.DirectoryStore
}

func (d *DirectoryPricing) Get(ctx context.Context, patient clinic.PatientID, service clinic.ServiceID) (clinic.Money, error) {
	pat, err := d.Store.GetPatient(ctx, patient)
	if err != nil {
		return clinic.MoneyZero, err
	}
	if price, ok := pat.PriceOverrides[service]; ok {
		return price, nil
	}
	svc, err := d.Store.GetService(ctx, service)
	if err != nil {
		return clinic.MoneyZero, err
	}
	if svc.DefaultPrice == nil {
		return clinic.MoneyZero, &clinic.FieldError{Field: "service", Reason: "no contracted price for service " + string(service)}
	}
	return *svc.DefaultPrice, nil
}

var _ Pricing = (*DirectoryPricing)(nil)

// =============================================================================
// DIRECTORY-BACKED ELIGIBILITY
// =============================================================================

// DirectoryEligibility checks eligibility against the engine's own
// directory records.
type DirectoryEligibility struct {
	Store clinic.DirectoryStore
}

func (d *DirectoryEligibility) Check(ctx context.Context, patient clinic.PatientID, professional clinic.ProfessionalID, service clinic.ServiceID, branch clinic.BranchID) error {
	pat, err := d.Store.GetPatient(ctx, patient)
	if err != nil {
		return err
	}
	if !pat.Active {
		return &clinic.FieldError{Field: "patient", Reason: "patient is inactive"}
	}
	if !pat.AssignedTo(branch) {
		return &clinic.FieldError{Field: "branch", Reason: "patient is not assigned to this branch"}
	}

	pro, err := d.Store.GetProfessional(ctx, professional)
	if err != nil {
		return err
	}
	if !pro.Active {
		return &clinic.FieldError{Field: "professional", Reason: "professional is inactive"}
	}
	if !pro.WorksAt(branch) {
		return &clinic.FieldError{Field: "branch", Reason: "professional does not work at this branch"}
	}
	if !pro.Offers(service) {
		return &clinic.FieldError{Field: "service", Reason: "professional does not offer this service"}
	}

	br, err := d.Store.GetBranch(ctx, branch)
	if err != nil {
		return err
	}
	if !br.Active {
		return &clinic.FieldError{Field: "branch", Reason: "branch is inactive"}
	}

	svc, err := d.Store.GetService(ctx, service)
	if err != nil {
		return err
	}
	if !svc.Active {
		return &clinic.FieldError{Field: "service", Reason: "service is inactive"}
	}
	return nil
}

var _ Eligibility = (*DirectoryEligibility)(nil)
