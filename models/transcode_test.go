package models_test

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/invoice_bridge/metastore"
	"bitbucket.org/mmdatafocus/invoice_bridge/models"
	"github.com/shopspring/decimal"
)

func TestDecodeItemAcceptsEverySpelling(t *testing.T) {
	legacy := models.DecodeItem(map[string]any{"name": "Widget", "qty": 3, "price": 10})
	canonical := models.DecodeItem(map[string]any{"name": "Widget", "quantity": 3, "unit_price": 10})

	if !legacy.Quantity.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("qty alias: quantity = %s, want 3", legacy.Quantity)
	}
	if !legacy.UnitPrice.Equal(canonical.UnitPrice) || !legacy.Quantity.Equal(canonical.Quantity) {
		t.Fatalf("alias and canonical spellings decoded differently: %+v vs %+v", legacy, canonical)
	}
	if !legacy.Total.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("derived total = %s, want 30", legacy.Total)
	}
}

func TestDecodeItemDefaults(t *testing.T) {
	item := models.DecodeItem(map[string]any{"name": "Bare"})
	if !item.Quantity.Equal(decimal.NewFromInt(1)) {
		t.Errorf("default quantity = %s, want 1", item.Quantity)
	}
	if !item.UnitPrice.IsZero() {
		t.Errorf("default unit price = %s, want 0", item.UnitPrice)
	}
	if !item.Total.IsZero() {
		t.Errorf("total = %s, want 0 (price is zero, nothing to derive)", item.Total)
	}
}

func TestDecodeItemExplicitTotalWins(t *testing.T) {
	item := models.DecodeItem(map[string]any{"name": "Bundle", "quantity": 2, "unit_price": 10, "line_total": 15})
	if !item.Total.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("total = %s, want explicit 15 over derived 20", item.Total)
	}
}

func TestDecodeItemsSortOrderFallsBackToPosition(t *testing.T) {
	items := models.DecodeItems(`[{"name":"a"},{"name":"b"},{"name":"c","position":9}]`)
	if len(items) != 3 {
		t.Fatalf("decoded %d items, want 3", len(items))
	}
	if items[1].SortOrder != 1 {
		t.Errorf("item without sort order: SortOrder = %d, want index 1", items[1].SortOrder)
	}
	if items[2].SortOrder != 9 {
		t.Errorf("item with explicit position: SortOrder = %d, want 9", items[2].SortOrder)
	}
}

func TestDecodeItemsToleratesSingleObject(t *testing.T) {
	items := models.DecodeItems(`{"name":"Lone","qty":2,"price":"4.50"}`)
	if len(items) != 1 {
		t.Fatalf("decoded %d items, want 1", len(items))
	}
	if !items[0].Total.Equal(decimal.NewFromInt(9)) {
		t.Errorf("total = %s, want 9", items[0].Total)
	}
}

func TestDecodePaymentTruncatesDateAndMapsMethod(t *testing.T) {
	payment := models.DecodePayment(map[string]any{
		"date":   "2024-03-05 14:30:00",
		"type":   "bank_transfer",
		"amount": "120.50",
	})
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	if !payment.PaymentDate.Equal(want) {
		t.Errorf("payment date = %s, want %s (calendar day only)", payment.PaymentDate, want)
	}
	if payment.Method != models.PaymentMethodTransfer {
		t.Errorf("method = %s, want transfer", payment.Method)
	}
	if !payment.Amount.Equal(decimal.NewFromFloat(120.50)) {
		t.Errorf("amount = %s, want 120.50", payment.Amount)
	}
}

func TestDecodePaymentUnknownMethodBecomesOther(t *testing.T) {
	payment := models.DecodePayment(map[string]any{"method": "blik", "amount": 5, "date": "2024-01-01"})
	if payment.Method != models.PaymentMethodOther {
		t.Fatalf("method = %s, want other", payment.Method)
	}
}

func TestDecodeInvoiceFieldsAliasesAndDefaults(t *testing.T) {
	invoice := models.DecodeInvoiceFields(map[string]string{
		"number":        "FV/2024/001",
		"customer_name": "ACME sp. z o.o.",
		"gross_amount":  "100.00",
		"amount_paid":   "100.00",
	})
	if invoice.InvoiceNumber != "FV/2024/001" {
		t.Errorf("invoice number = %q", invoice.InvoiceNumber)
	}
	if invoice.BuyerName != "ACME sp. z o.o." {
		t.Errorf("buyer name = %q", invoice.BuyerName)
	}
	if invoice.WorkflowStatus != models.WorkflowStatusUnfinished {
		t.Errorf("workflow status = %s, want default unfinished", invoice.WorkflowStatus)
	}
	// no payments key at all: the stated paid amount is authoritative
	if invoice.Kind != models.InvoiceKindStandard {
		t.Errorf("kind = %s, want standard (paid > 0)", invoice.Kind)
	}
	if !invoice.BalanceAmount.IsZero() {
		t.Errorf("balance = %s, want 0", invoice.BalanceAmount)
	}
}

func TestDecodeInvoiceFieldsEmptyIsFictiveDraft(t *testing.T) {
	invoice := models.DecodeInvoiceFields(map[string]string{})
	if invoice.Kind != models.InvoiceKindFictive {
		t.Errorf("kind = %s, want fictive", invoice.Kind)
	}
	if invoice.WorkflowStatus != models.WorkflowStatusUnfinished {
		t.Errorf("workflow status = %s, want unfinished", invoice.WorkflowStatus)
	}
	if invoice.ActivationDate != nil {
		t.Errorf("activation date = %v, want nil", invoice.ActivationDate)
	}
}

func TestDecodeInvoiceFieldsPaymentsDriveKind(t *testing.T) {
	invoice := models.DecodeInvoiceFields(map[string]string{
		"invoice_number":  "FV/2024/002",
		"total_amount":    "50.00",
		"payment_history": `[{"amount": 50, "date": "2024-01-10", "method": "cash"}]`,
	})
	if !invoice.PaidAmount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("paid = %s, want 50 summed from payments", invoice.PaidAmount)
	}
	if invoice.Kind != models.InvoiceKindStandard {
		t.Fatalf("kind = %s, want standard", invoice.Kind)
	}
}

func TestDecodeInvoiceFromStore(t *testing.T) {
	ctx := context.Background()
	store := metastore.NewMemStore()
	createdAt := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

	id, err := store.CreateEntity(ctx, metastore.NewEntity{
		RecordType: models.HostRecordTypeInvoice,
		Title:      "FV/2024/003",
		CreatedAt:  createdAt,
		Fields: map[string]string{
			"invoice_number": "FV/2024/003",
			"buyer_name":     "Beta Ltd",
			"total":          "10",
		},
	})
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	invoice, err := models.DecodeInvoiceFromStore(ctx, store, id)
	if err != nil {
		t.Fatalf("DecodeInvoiceFromStore: %v", err)
	}
	if invoice == nil {
		t.Fatal("invoice is nil for an existing host record")
	}
	if invoice.OldPostId != id {
		t.Errorf("OldPostId = %d, want %d", invoice.OldPostId, id)
	}
	if !invoice.CreatedAt.Equal(createdAt) {
		t.Errorf("CreatedAt = %s, want host record %s", invoice.CreatedAt, createdAt)
	}

	missing, err := models.DecodeInvoiceFromStore(ctx, store, id+100)
	if err != nil || missing != nil {
		t.Fatalf("missing record: got (%v, %v), want (nil, nil)", missing, err)
	}

	otherId, _ := store.CreateEntity(ctx, metastore.NewEntity{RecordType: "page"})
	wrongType, err := models.DecodeInvoiceFromStore(ctx, store, otherId)
	if err != nil || wrongType != nil {
		t.Fatalf("wrong record type: got (%v, %v), want (nil, nil)", wrongType, err)
	}
}

func TestEncodeInvoiceWritesCanonicalKeysOnly(t *testing.T) {
	activation := time.Date(2024, 1, 14, 12, 0, 0, 0, time.UTC)
	invoice := &models.Invoice{
		InvoiceNumber:  "FV/2024/004",
		BuyerName:      "Gamma",
		Kind:           models.InvoiceKindStandard,
		WorkflowStatus: models.WorkflowStatusCompleted,
		TotalAmount:    decimal.NewFromInt(100),
		PaidAmount:     decimal.NewFromInt(100),
		ActivationDate: &activation,
	}
	fields := models.EncodeInvoice(invoice)

	if fields["invoice_number"] != "FV/2024/004" {
		t.Errorf("invoice_number = %q", fields["invoice_number"])
	}
	if fields["total_amount"] != "100.00" {
		t.Errorf("total_amount = %q, want fixed 2-decimal form", fields["total_amount"])
	}
	for _, forbidden := range []string{"number", "total", "activation_date", models.MetaKeyMigrated} {
		if _, ok := fields[forbidden]; ok {
			t.Errorf("encoded map must not contain %q", forbidden)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := models.DecodeInvoiceFields(map[string]string{
		"invoice_number": "FV/2024/005",
		"buyer_name":     "Delta",
		"total":          "33.30",
		"items":          `[{"name":"thing","qty":3,"price":"11.10"}]`,
		"payments":       `[{"amount":"33.30","date":"2024-02-01","method":"cash"}]`,
	})
	decoded := models.DecodeInvoiceFields(models.EncodeInvoice(original))

	if decoded.InvoiceNumber != original.InvoiceNumber {
		t.Errorf("invoice number changed across round trip: %q", decoded.InvoiceNumber)
	}
	if !decoded.TotalAmount.Equal(original.TotalAmount) || !decoded.PaidAmount.Equal(original.PaidAmount) {
		t.Errorf("amounts changed across round trip: total %s paid %s", decoded.TotalAmount, decoded.PaidAmount)
	}
	if len(decoded.Items) != 1 || !decoded.Items[0].Total.Equal(original.Items[0].Total) {
		t.Errorf("items changed across round trip: %+v", decoded.Items)
	}
}
