package models

// Canonical meta field keys. Every semantic field has exactly one canonical
// spelling (always written) and a fixed list of historical aliases
// (decode-only). The alias policy lives here and nowhere else.

const (
	FieldInvoiceNumber  = "invoice_number"
	FieldBuyerName      = "buyer_name"
	FieldBuyerTaxId     = "buyer_tax_id"
	FieldBuyerAddress   = "buyer_address"
	FieldBuyerPhone     = "buyer_phone"
	FieldBuyerEmail     = "buyer_email"
	FieldKind           = "kind"
	FieldWorkflowStatus = "workflow_status"
	FieldSubtotal       = "subtotal_amount"
	FieldTax            = "tax_amount"
	FieldDiscount       = "discount_amount"
	FieldTotal          = "total_amount"
	FieldPaid           = "paid_amount"
	FieldNotes          = "notes"
	FieldCreatedBy      = "created_by"
	FieldActivationDate = "activation_date"
	FieldItems          = "items"
	FieldPayments       = "payments"
)

// invoiceFieldAliases maps each canonical invoice meta key to every
// spelling ever written by a deployed version, canonical first.
var invoiceFieldAliases = map[string][]string{
	FieldInvoiceNumber:  {FieldInvoiceNumber, "number", "doc_number"},
	FieldBuyerName:      {FieldBuyerName, "customer_name", "client_name"},
	FieldBuyerTaxId:     {FieldBuyerTaxId, "tax_id", "nip"},
	FieldBuyerAddress:   {FieldBuyerAddress, "address"},
	FieldBuyerPhone:     {FieldBuyerPhone, "phone"},
	FieldBuyerEmail:     {FieldBuyerEmail, "email"},
	FieldKind:           {FieldKind, "invoice_kind", "doc_type"},
	FieldWorkflowStatus: {FieldWorkflowStatus, "status"},
	FieldSubtotal:       {FieldSubtotal, "subtotal", "net_amount"},
	FieldTax:            {FieldTax, "tax", "vat_amount"},
	FieldDiscount:       {FieldDiscount, "discount"},
	FieldTotal:          {FieldTotal, "total", "gross_amount"},
	FieldPaid:           {FieldPaid, "paid", "amount_paid"},
	FieldNotes:          {FieldNotes, "note"},
	FieldCreatedBy:      {FieldCreatedBy, "author_id"},
	FieldActivationDate: {FieldActivationDate, "realized_at"},
	FieldItems:          {FieldItems, "line_items", "products"},
	FieldPayments:       {FieldPayments, "payment_history"},
}

// itemFieldAliases covers the keys found inside the serialized item list.
var itemFieldAliases = map[string][]string{
	"product_id":     {"product_id", "item_id"},
	"name":           {"name", "product_name", "title"},
	"sku":            {"sku", "product_sku"},
	"quantity":       {"quantity", "qty"},
	"unit_price":     {"unit_price", "price"},
	"total":          {"total", "line_total"},
	"warranty_code":  {"warranty_code", "warranty"},
	"notes":          {"notes", "note"},
	"sort_order":     {"sort_order", "position", "menu_order"},
	"reserved_until": {"reserved_until", "reservation_expiry"},
}

// paymentFieldAliases covers the keys found inside the serialized payment
// list.
var paymentFieldAliases = map[string][]string{
	"payment_date":    {"payment_date", "date"},
	"method":          {"method", "payment_method", "type"},
	"amount":          {"amount", "value"},
	"transaction_ref": {"transaction_ref", "transaction_id", "ref"},
	"notes":           {"notes", "note"},
	"recorded_by":     {"recorded_by", "user_id"},
}

// InvoiceFieldAliases returns every accepted spelling of a canonical
// invoice meta key, canonical first.
func InvoiceFieldAliases(canonical string) []string {
	return invoiceFieldAliases[canonical]
}

func lookupMeta(fields map[string]string, canonical string) (string, bool) {
	for _, key := range invoiceFieldAliases[canonical] {
		if value, ok := fields[key]; ok {
			return value, true
		}
	}
	return "", false
}

func lookupAny(m map[string]any, aliases map[string][]string, canonical string) (any, bool) {
	for _, key := range aliases[canonical] {
		if value, ok := m[key]; ok {
			return value, true
		}
	}
	return nil, false
}
