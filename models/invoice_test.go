package models_test

import (
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/invoice_bridge/models"
	"github.com/shopspring/decimal"
)

func TestNormalizeRecomputesBalance(t *testing.T) {
	invoice := &models.Invoice{
		InvoiceNumber: "FV/1",
		TotalAmount:   decimal.NewFromInt(100),
		PaidAmount:    decimal.NewFromInt(40),
		BalanceAmount: decimal.NewFromInt(999), // stale, must be ignored
	}
	invoice.Normalize()
	if !invoice.BalanceAmount.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("balance = %s, want recomputed 60", invoice.BalanceAmount)
	}
	if invoice.Kind != models.InvoiceKindStandard {
		t.Fatalf("kind = %s, want standard for paid > 0", invoice.Kind)
	}
}

func TestNormalizePaymentsAreAuthoritative(t *testing.T) {
	invoice := &models.Invoice{
		TotalAmount: decimal.NewFromInt(100),
		PaidAmount:  decimal.NewFromInt(10), // contradicts payment rows
		Payments: []models.InvoicePayment{
			{Amount: decimal.NewFromInt(60), Method: models.PaymentMethodCash},
		},
	}
	invoice.Normalize()
	if !invoice.PaidAmount.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("paid = %s, want 60 summed from payments", invoice.PaidAmount)
	}
	if !invoice.BalanceAmount.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("balance = %s, want 40", invoice.BalanceAmount)
	}
}

func TestNormalizeEmptyPaymentsClearsPaid(t *testing.T) {
	// a payment was removed: the slice is present but empty
	invoice := &models.Invoice{
		Kind:        models.InvoiceKindStandard,
		TotalAmount: decimal.NewFromInt(100),
		PaidAmount:  decimal.NewFromInt(50),
		Payments:    []models.InvoicePayment{},
	}
	invoice.Normalize()
	if !invoice.PaidAmount.IsZero() {
		t.Fatalf("paid = %s, want 0 after last payment removed", invoice.PaidAmount)
	}
	if invoice.Kind != models.InvoiceKindFictive {
		t.Fatalf("kind = %s, want fictive once nothing is paid", invoice.Kind)
	}
}

func TestNormalizeNilPaymentsKeepsStatedPaid(t *testing.T) {
	// legacy records state a paid amount without itemized payments
	invoice := &models.Invoice{
		TotalAmount: decimal.NewFromInt(30),
		PaidAmount:  decimal.NewFromInt(30),
	}
	invoice.Normalize()
	if !invoice.PaidAmount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("paid = %s, want stated 30 kept", invoice.PaidAmount)
	}
	if invoice.Kind != models.InvoiceKindStandard {
		t.Fatalf("kind = %s, want standard", invoice.Kind)
	}
}

func TestDeriveKind(t *testing.T) {
	if got := models.DeriveKind(decimal.NewFromInt(1), models.InvoiceKindFictive); got != models.InvoiceKindStandard {
		t.Errorf("paid > 0: kind = %s, want standard", got)
	}
	if got := models.DeriveKind(decimal.Zero, models.InvoiceKindStandard); got != models.InvoiceKindFictive {
		t.Errorf("paid = 0: kind = %s, want fictive", got)
	}
	if got := models.DeriveKind(decimal.NewFromInt(100), models.InvoiceKindProforma); got != models.InvoiceKindProforma {
		t.Errorf("proforma is externally set and never auto-reassigned, got %s", got)
	}
}

func TestRuleViolations(t *testing.T) {
	invoice := &models.Invoice{
		Kind:           models.InvoiceKindFictive,
		WorkflowStatus: models.WorkflowStatusUnfinished,
		SubtotalAmount: decimal.NewFromInt(-5),
		Items: []models.InvoiceItem{
			{Name: "Widget", Quantity: decimal.Zero},
		},
	}
	rules := invoice.RuleViolations()
	if len(rules) == 0 {
		t.Fatal("expected violations for missing number, negative subtotal and zero-quantity item")
	}
	assertRule := func(fragment string) {
		t.Helper()
		for _, rule := range rules {
			if strings.Contains(rule, fragment) {
				return
			}
		}
		t.Errorf("no rule mentioning %q in %v", fragment, rules)
	}
	assertRule("subtotal_amount must not be negative")
	assertRule("item 1: quantity must be positive")
}

// A nameless line item is skipped (and logged) at insert time; it must not
// block the rest of the invoice from persisting.
func TestRuleViolationsIgnoreSkippableItems(t *testing.T) {
	invoice := &models.Invoice{
		InvoiceNumber:  "FV/2024/044",
		Kind:           models.InvoiceKindFictive,
		WorkflowStatus: models.WorkflowStatusUnfinished,
		Items: []models.InvoiceItem{
			{Name: "", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(5)},
			{Name: "Good", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(3)},
		},
	}
	invoice.Normalize()
	if rules := invoice.RuleViolations(); len(rules) != 0 {
		t.Fatalf("nameless item must not reject the invoice, got %v", rules)
	}
}

func TestRuleViolationsCleanInvoice(t *testing.T) {
	invoice := &models.Invoice{
		InvoiceNumber:  "FV/2024/010",
		BuyerName:      "ACME",
		Kind:           models.InvoiceKindStandard,
		WorkflowStatus: models.WorkflowStatusCompleted,
		TotalAmount:    decimal.NewFromInt(10),
		PaidAmount:     decimal.NewFromInt(10),
	}
	invoice.Normalize()
	if rules := invoice.RuleViolations(); len(rules) != 0 {
		t.Fatalf("unexpected violations: %v", rules)
	}
}
