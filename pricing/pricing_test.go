/*
pricing_test.go - Contracted-price resolution

PURPOSE:
	Covers both Pricing implementations:
	- Table: static defaults with per-patient overrides
	- DirectoryPricing: patient price list over service list price,
	  resolved live from the directory records
*/
package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxia/clinic-engine/clinic"
	"github.com/praxia/clinic-engine/store/memory"
)

func TestTable_OverrideWinsOverDefault(t *testing.T) {
	// GIVEN: A service default and a patient-specific override
	// WHEN: Resolving for the overridden patient and for another one
	// THEN: The override applies only to its patient

	table := NewTable()
	table.SetDefault("svc-speech", clinic.M("100"))
	table.SetOverride("pat-1", "svc-speech", clinic.M("80"))

	ctx := context.Background()
	price, err := table.Get(ctx, "pat-1", "svc-speech")
	require.NoError(t, err)
	assert.True(t, price.Equal(clinic.M("80")))

	price, err = table.Get(ctx, "pat-2", "svc-speech")
	require.NoError(t, err)
	assert.True(t, price.Equal(clinic.M("100")))
}

func TestTable_MissingEntryIsValidationError(t *testing.T) {
	// GIVEN: An empty table
	// WHEN: Resolving any price
	// THEN: A validation error, never a silent zero

	_, err := NewTable().Get(context.Background(), "pat-1", "svc-speech")
	assert.True(t, errors.Is(err, clinic.ErrValidation))
}

func TestDirectoryPricing_ResolvesFromRecords(t *testing.T) {
	// GIVEN: A priced service and one patient with a contracted override
	// WHEN: Resolving for both patients
	// THEN: The override wins for its owner, the list price for the other

	store := memory.New()
	ctx := context.Background()
	listPrice := clinic.M("140")
	require.NoError(t, store.PutService(ctx, &clinic.Service{
		ID: "svc-psico", Name: "Psychotherapy", DurationMinutes: 45, Active: true,
		DefaultPrice: &listPrice,
	}))
	require.NoError(t, store.PutPatient(ctx, &clinic.Patient{
		ID: "pat-1", Name: "Ana Diaz", Active: true,
		PriceOverrides: map[clinic.ServiceID]clinic.Money{"svc-psico": clinic.M("120")},
	}))
	require.NoError(t, store.PutPatient(ctx, &clinic.Patient{ID: "pat-2", Name: "Luis Sosa", Active: true}))

	d := &DirectoryPricing{Store: store}

	price, err := d.Get(ctx, "pat-1", "svc-psico")
	require.NoError(t, err)
	assert.True(t, price.Equal(clinic.M("120")))

	price, err = d.Get(ctx, "pat-2", "svc-psico")
	require.NoError(t, err)
	assert.True(t, price.Equal(clinic.M("140")))
}

func TestDirectoryPricing_UnpricedServiceFails(t *testing.T) {
	// GIVEN: A service without a list price and a patient without overrides
	// WHEN: Resolving the price
	// THEN: A validation error naming the service

	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.PutService(ctx, &clinic.Service{
		ID: "svc-eval", Name: "Initial evaluation", DurationMinutes: 30, Active: true,
	}))
	require.NoError(t, store.PutPatient(ctx, &clinic.Patient{ID: "pat-1", Name: "Ana Diaz", Active: true}))

	_, err := (&DirectoryPricing{Store: store}).Get(ctx, "pat-1", "svc-eval")
	assert.True(t, errors.Is(err, clinic.ErrValidation))
	assert.Contains(t, err.Error(), "no contracted price")
}

func TestDirectoryPricing_UnknownPatientFails(t *testing.T) {
	// GIVEN: An empty directory
	// WHEN: Resolving for an unknown patient
	// THEN: Not-found propagates

	_, err := (&DirectoryPricing{Store: memory.New()}).Get(context.Background(), "missing", "svc-eval")
	assert.True(t, errors.Is(err, clinic.ErrNotFound))
}
