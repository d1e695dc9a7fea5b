package workflow_test

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/invoice_bridge/models"
	"bitbucket.org/mmdatafocus/invoice_bridge/workflow"
	"github.com/shopspring/decimal"
)

var clock = time.Date(2024, 1, 14, 16, 45, 30, 0, time.UTC)

func payment(day string, amount int64) models.InvoicePayment {
	d, err := time.Parse("2006-01-02", day)
	if err != nil {
		panic(err)
	}
	return models.InvoicePayment{
		PaymentDate: d,
		Amount:      decimal.NewFromInt(amount),
		Method:      models.PaymentMethodCash,
	}
}

func TestResolveActivationFirstTransitionSetsDates(t *testing.T) {
	change := workflow.ResolveActivation(
		models.InvoiceKindFictive, models.InvoiceKindStandard,
		nil,
		[]models.InvoicePayment{payment("2024-01-14", 50)},
		clock,
	)
	if !change.SetDates {
		t.Fatal("fictive to standard with no prior activation must set the dates")
	}
	want := time.Date(2024, 1, 14, 16, 45, 30, 0, time.UTC)
	if !change.At.Equal(want) {
		t.Fatalf("realization = %s, want payment date with current clock %s", change.At, want)
	}
}

func TestResolveActivationUsesEarliestPayment(t *testing.T) {
	change := workflow.ResolveActivation(
		models.InvoiceKindFictive, models.InvoiceKindStandard,
		nil,
		[]models.InvoicePayment{payment("2024-01-20", 10), payment("2024-01-12", 40)},
		clock,
	)
	if change.At.Year() != 2024 || change.At.Month() != 1 || change.At.Day() != 12 {
		t.Fatalf("realization = %s, want the earliest payment's day 2024-01-12", change.At)
	}
}

func TestResolveActivationFallsBackToNow(t *testing.T) {
	change := workflow.ResolveActivation(
		models.InvoiceKindFictive, models.InvoiceKindStandard,
		nil, nil, clock,
	)
	if !change.SetDates || !change.At.Equal(clock) {
		t.Fatalf("no usable payment date: realization = %s, want now %s", change.At, clock)
	}
}

func TestResolveActivationIsALatch(t *testing.T) {
	already := time.Date(2024, 1, 14, 12, 0, 0, 0, time.UTC)

	// re-saving an already-activated invoice never moves the dates
	change := workflow.ResolveActivation(
		models.InvoiceKindStandard, models.InvoiceKindStandard,
		&already,
		[]models.InvoicePayment{payment("2024-01-20", 10)},
		clock.AddDate(0, 0, 6),
	)
	if change.SetDates || change.Clear {
		t.Fatalf("standard to standard must not touch dates, got %+v", change)
	}

	// even a fresh fictive-to-standard transition respects an existing latch
	change = workflow.ResolveActivation(
		models.InvoiceKindFictive, models.InvoiceKindStandard,
		&already, nil, clock,
	)
	if change.SetDates {
		t.Fatal("an existing activation date must never be overwritten")
	}
}

func TestResolveActivationReversionClears(t *testing.T) {
	already := time.Date(2024, 1, 14, 12, 0, 0, 0, time.UTC)
	change := workflow.ResolveActivation(
		models.InvoiceKindStandard, models.InvoiceKindFictive,
		&already, []models.InvoicePayment{}, clock,
	)
	if !change.Clear {
		t.Fatal("standard to fictive must clear the activation date")
	}
	if change.SetDates {
		t.Fatal("a clearing transition must not also set dates")
	}
}

func TestResolveActivationNoOpTransitions(t *testing.T) {
	cases := []struct {
		name     string
		prev     models.InvoiceKind
		next     models.InvoiceKind
		existing *time.Time
	}{
		{"fictive stays fictive", models.InvoiceKindFictive, models.InvoiceKindFictive, nil},
		{"standard from birth reverts with nothing to clear", models.InvoiceKindStandard, models.InvoiceKindFictive, nil},
		{"proforma involved", models.InvoiceKindProforma, models.InvoiceKindStandard, nil},
	}
	for _, tc := range cases {
		change := workflow.ResolveActivation(tc.prev, tc.next, tc.existing, nil, clock)
		if change.SetDates || change.Clear {
			t.Errorf("%s: expected no date mutation, got %+v", tc.name, change)
		}
	}
}

// The Scenario-B shape end to end: a draft becomes paid four days later and
// both dates land on the payment day with the update's time of day.
func TestResolveActivationDraftThenPaid(t *testing.T) {
	updateClock := time.Date(2024, 1, 14, 10, 30, 0, 0, time.UTC)
	change := workflow.ResolveActivation(
		models.InvoiceKindFictive, models.InvoiceKindStandard,
		nil,
		[]models.InvoicePayment{payment("2024-01-14", 50)},
		updateClock,
	)
	if !change.SetDates {
		t.Fatal("expected the latch to fire")
	}
	if change.At.Format("2006-01-02") != "2024-01-14" {
		t.Fatalf("realization day = %s, want 2024-01-14", change.At.Format("2006-01-02"))
	}
	if change.At.Hour() != 10 || change.At.Minute() != 30 {
		t.Fatalf("realization clock = %s, want the update's 10:30", change.At)
	}
}
