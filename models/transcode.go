package models

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"bitbucket.org/mmdatafocus/invoice_bridge/metastore"
	"bitbucket.org/mmdatafocus/invoice_bridge/utils"
	"github.com/shopspring/decimal"
)

// DecodeInvoiceFields maps a raw meta field map onto an Invoice, accepting
// any historical key spelling and applying the documented defaults.
// The result is normalized (balance and kind recomputed) but not validated.
func DecodeInvoiceFields(fields map[string]string) *Invoice {
	invoice := &Invoice{}

	if v, ok := lookupMeta(fields, FieldInvoiceNumber); ok {
		invoice.InvoiceNumber = v
	}
	if v, ok := lookupMeta(fields, FieldBuyerName); ok {
		invoice.BuyerName = v
	}
	if v, ok := lookupMeta(fields, FieldBuyerTaxId); ok {
		invoice.BuyerTaxId = v
	}
	if v, ok := lookupMeta(fields, FieldBuyerAddress); ok {
		invoice.BuyerAddress = v
	}
	if v, ok := lookupMeta(fields, FieldBuyerPhone); ok {
		invoice.BuyerPhone = v
	}
	if v, ok := lookupMeta(fields, FieldBuyerEmail); ok {
		invoice.BuyerEmail = v
	}
	if v, ok := lookupMeta(fields, FieldNotes); ok {
		invoice.Notes = v
	}

	invoice.Kind = InvoiceKindFictive
	if v, ok := lookupMeta(fields, FieldKind); ok && InvoiceKind(v).Valid() {
		invoice.Kind = InvoiceKind(v)
	}
	invoice.WorkflowStatus = WorkflowStatusUnfinished
	if v, ok := lookupMeta(fields, FieldWorkflowStatus); ok && WorkflowStatus(v).Valid() {
		invoice.WorkflowStatus = WorkflowStatus(v)
	}

	invoice.SubtotalAmount = metaDecimal(fields, FieldSubtotal)
	invoice.TaxAmount = metaDecimal(fields, FieldTax)
	invoice.DiscountAmount = metaDecimal(fields, FieldDiscount)
	invoice.TotalAmount = metaDecimal(fields, FieldTotal)
	invoice.PaidAmount = metaDecimal(fields, FieldPaid)

	if v, ok := lookupMeta(fields, FieldCreatedBy); ok {
		if id, err := strconv.Atoi(v); err == nil {
			invoice.CreatedBy = id
		}
	}
	if v, ok := lookupMeta(fields, FieldActivationDate); ok {
		if t, parsed := utils.ParseFlexibleTime(v); parsed {
			invoice.ActivationDate = &t
		}
	}

	if raw, ok := lookupMeta(fields, FieldItems); ok {
		invoice.Items = DecodeItems(raw)
	}
	if raw, ok := lookupMeta(fields, FieldPayments); ok {
		invoice.Payments = DecodePayments(raw)
	}

	invoice.Normalize()
	return invoice
}

func metaDecimal(fields map[string]string, canonical string) decimal.Decimal {
	if v, ok := lookupMeta(fields, canonical); ok {
		if d, parsed := utils.ParseFlexibleDecimal(v); parsed {
			return d
		}
	}
	return decimal.Zero
}

// DecodeItems parses the serialized item list, tolerating both a JSON
// array and the single-object form older versions wrote.
func DecodeItems(raw string) []InvoiceItem {
	var rawItems []map[string]any
	if err := json.Unmarshal([]byte(raw), &rawItems); err != nil {
		var single map[string]any
		if err := json.Unmarshal([]byte(raw), &single); err != nil {
			return nil
		}
		rawItems = []map[string]any{single}
	}
	items := make([]InvoiceItem, 0, len(rawItems))
	for i, m := range rawItems {
		item := DecodeItem(m)
		if item.SortOrder == 0 {
			item.SortOrder = i
		}
		items = append(items, item)
	}
	return items
}

// DecodeItem maps one raw item object onto an InvoiceItem. Quantity
// defaults to 1, price to 0; a missing or zero total is derived as
// quantity x price when both are positive.
func DecodeItem(m map[string]any) InvoiceItem {
	item := InvoiceItem{
		Quantity:  decimal.NewFromInt(1),
		UnitPrice: decimal.Zero,
	}
	if v, ok := lookupAny(m, itemFieldAliases, "product_id"); ok {
		item.ProductId = anyToInt(v)
	}
	if v, ok := lookupAny(m, itemFieldAliases, "name"); ok {
		item.Name = anyToString(v)
	}
	if v, ok := lookupAny(m, itemFieldAliases, "sku"); ok {
		item.Sku = anyToString(v)
	}
	if v, ok := lookupAny(m, itemFieldAliases, "quantity"); ok {
		if d, parsed := anyToDecimal(v); parsed {
			item.Quantity = d
		}
	}
	if v, ok := lookupAny(m, itemFieldAliases, "unit_price"); ok {
		if d, parsed := anyToDecimal(v); parsed {
			item.UnitPrice = d
		}
	}
	if v, ok := lookupAny(m, itemFieldAliases, "total"); ok {
		if d, parsed := anyToDecimal(v); parsed {
			item.Total = d
		}
	}
	if v, ok := lookupAny(m, itemFieldAliases, "warranty_code"); ok {
		item.WarrantyCode = anyToString(v)
	}
	if v, ok := lookupAny(m, itemFieldAliases, "notes"); ok {
		item.Notes = anyToString(v)
	}
	if v, ok := lookupAny(m, itemFieldAliases, "sort_order"); ok {
		item.SortOrder = anyToInt(v)
	}
	if v, ok := lookupAny(m, itemFieldAliases, "reserved_until"); ok {
		if t, parsed := utils.ParseFlexibleTime(anyToString(v)); parsed {
			item.ReservedUntil = &t
		}
	}
	item.Normalize()
	return item
}

func DecodePayments(raw string) []InvoicePayment {
	var rawPayments []map[string]any
	if err := json.Unmarshal([]byte(raw), &rawPayments); err != nil {
		var single map[string]any
		if err := json.Unmarshal([]byte(raw), &single); err != nil {
			return nil
		}
		rawPayments = []map[string]any{single}
	}
	payments := make([]InvoicePayment, 0, len(rawPayments))
	for _, m := range rawPayments {
		payments = append(payments, DecodePayment(m))
	}
	return payments
}

// DecodePayment maps one raw payment object onto an InvoicePayment. Any
// datetime-looking date is truncated to its calendar day.
func DecodePayment(m map[string]any) InvoicePayment {
	payment := InvoicePayment{Method: PaymentMethodOther}
	if v, ok := lookupAny(m, paymentFieldAliases, "payment_date"); ok {
		if t, parsed := utils.ParseFlexibleTime(anyToString(v)); parsed {
			payment.PaymentDate = t
		}
	}
	if v, ok := lookupAny(m, paymentFieldAliases, "method"); ok {
		payment.Method = NormalizePaymentMethod(anyToString(v))
	}
	if v, ok := lookupAny(m, paymentFieldAliases, "amount"); ok {
		if d, parsed := anyToDecimal(v); parsed {
			payment.Amount = d
		}
	}
	if v, ok := lookupAny(m, paymentFieldAliases, "transaction_ref"); ok {
		payment.TransactionRef = anyToString(v)
	}
	if v, ok := lookupAny(m, paymentFieldAliases, "notes"); ok {
		payment.Notes = anyToString(v)
	}
	if v, ok := lookupAny(m, paymentFieldAliases, "recorded_by"); ok {
		payment.RecordedBy = anyToInt(v)
	}
	payment.Normalize()
	return payment
}

// DecodeInvoiceFromStore reads an invoice straight from the meta store for
// use while the relational tables are not yet populated. Returns nil (no
// error) when the host record does not exist or is of the wrong type.
func DecodeInvoiceFromStore(ctx context.Context, store metastore.Store, entityId int) (*Invoice, error) {
	record, err := store.GetEntity(ctx, entityId)
	if err != nil {
		return nil, err
	}
	if record == nil || record.RecordType != HostRecordTypeInvoice {
		return nil, nil
	}
	fields, err := store.GetAllFields(ctx, entityId)
	if err != nil {
		return nil, err
	}
	invoice := DecodeInvoiceFields(fields)
	invoice.OldPostId = entityId
	invoice.CreatedAt = record.CreatedAt
	return invoice, nil
}

// EncodeInvoice emits the canonical meta field map, canonical key names
// only. The activation field and the migrated marker are handled by their
// owners (lifecycle mirror and migration engine), never here.
func EncodeInvoice(invoice *Invoice) map[string]string {
	fields := map[string]string{
		FieldInvoiceNumber:  invoice.InvoiceNumber,
		FieldBuyerName:      invoice.BuyerName,
		FieldBuyerTaxId:     invoice.BuyerTaxId,
		FieldBuyerAddress:   invoice.BuyerAddress,
		FieldBuyerPhone:     invoice.BuyerPhone,
		FieldBuyerEmail:     invoice.BuyerEmail,
		FieldKind:           string(invoice.Kind),
		FieldWorkflowStatus: string(invoice.WorkflowStatus),
		FieldSubtotal:       invoice.SubtotalAmount.StringFixed(2),
		FieldTax:            invoice.TaxAmount.StringFixed(2),
		FieldDiscount:       invoice.DiscountAmount.StringFixed(2),
		FieldTotal:          invoice.TotalAmount.StringFixed(2),
		FieldPaid:           invoice.PaidAmount.StringFixed(2),
		FieldNotes:          invoice.Notes,
		FieldCreatedBy:      strconv.Itoa(invoice.CreatedBy),
	}
	if items, err := json.Marshal(encodeItems(invoice.Items)); err == nil {
		fields[FieldItems] = string(items)
	}
	if payments, err := json.Marshal(encodePayments(invoice.Payments)); err == nil {
		fields[FieldPayments] = string(payments)
	}
	return fields
}

func encodeItems(items []InvoiceItem) []map[string]any {
	encoded := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m := map[string]any{
			"product_id": item.ProductId,
			"name":       item.Name,
			"sku":        item.Sku,
			"quantity":   item.Quantity.String(),
			"unit_price": item.UnitPrice.String(),
			"total":      item.Total.String(),
			"sort_order": item.SortOrder,
		}
		if item.WarrantyCode != "" {
			m["warranty_code"] = item.WarrantyCode
		}
		if item.Notes != "" {
			m["notes"] = item.Notes
		}
		if item.ReservedUntil != nil {
			m["reserved_until"] = item.ReservedUntil.Format("2006-01-02 15:04:05")
		}
		encoded = append(encoded, m)
	}
	return encoded
}

func encodePayments(payments []InvoicePayment) []map[string]any {
	encoded := make([]map[string]any, 0, len(payments))
	for _, payment := range payments {
		m := map[string]any{
			"payment_date": payment.PaymentDate.Format("2006-01-02"),
			"method":       string(payment.Method),
			"amount":       payment.Amount.String(),
			"recorded_by":  payment.RecordedBy,
		}
		if payment.TransactionRef != "" {
			m["transaction_ref"] = payment.TransactionRef
		}
		if payment.Notes != "" {
			m["notes"] = payment.Notes
		}
		encoded = append(encoded, m)
	}
	return encoded
}

func anyToString(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case json.Number:
		return value.String()
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int:
		return strconv.Itoa(value)
	case nil:
		return ""
	default:
		return fmt.Sprint(value)
	}
}

func anyToInt(v any) int {
	switch value := v.(type) {
	case float64:
		return int(value)
	case int:
		return value
	case json.Number:
		if n, err := value.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return 0
}

func anyToDecimal(v any) (decimal.Decimal, bool) {
	switch value := v.(type) {
	case float64:
		return decimal.NewFromFloat(value), true
	case int:
		return decimal.NewFromInt(int64(value)), true
	case json.Number:
		if d, err := decimal.NewFromString(value.String()); err == nil {
			return d, true
		}
	case string:
		return utils.ParseFlexibleDecimal(value)
	}
	return decimal.Zero, false
}
