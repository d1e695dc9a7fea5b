package models

import "github.com/shopspring/decimal"

// HostRecordTypeInvoice is the record type invoices live under in the
// meta store.
const HostRecordTypeInvoice = "invoice"

// MetaKeyMigrated marks a host record whose relational counterpart exists.
// Its value is the migration timestamp; only presence matters.
const MetaKeyMigrated = "_bridge_migrated"

type InvoiceKind string

const (
	InvoiceKindStandard InvoiceKind = "standard"
	InvoiceKindFictive  InvoiceKind = "fictive"
	InvoiceKindProforma InvoiceKind = "proforma"
)

func (k InvoiceKind) Valid() bool {
	switch k {
	case InvoiceKindStandard, InvoiceKindFictive, InvoiceKindProforma:
		return true
	}
	return false
}

// DeriveKind computes the kind a persisted invoice must carry.
// Proforma is an externally-set exception and is never auto-assigned;
// everything else follows the paid amount.
func DeriveKind(paidAmount decimal.Decimal, requested InvoiceKind) InvoiceKind {
	if requested == InvoiceKindProforma {
		return InvoiceKindProforma
	}
	if paidAmount.IsPositive() {
		return InvoiceKindStandard
	}
	return InvoiceKindFictive
}

type WorkflowStatus string

const (
	WorkflowStatusUnfinished WorkflowStatus = "unfinished"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusCancelled  WorkflowStatus = "cancelled"
	WorkflowStatusReserved   WorkflowStatus = "reserved"
)

func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusUnfinished, WorkflowStatusCompleted, WorkflowStatusCancelled, WorkflowStatusReserved:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodTransfer    PaymentMethod = "transfer"
	PaymentMethodCash        PaymentMethod = "cash"
	PaymentMethodConsignment PaymentMethod = "consignment"
	PaymentMethodCredit      PaymentMethod = "credit"
	PaymentMethodOther       PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodTransfer, PaymentMethodCash, PaymentMethodConsignment, PaymentMethodCredit, PaymentMethodOther:
		return true
	}
	return false
}

// NormalizePaymentMethod maps any historical method spelling to the
// enumerated set, defaulting to "other".
func NormalizePaymentMethod(raw string) PaymentMethod {
	switch PaymentMethod(raw) {
	case PaymentMethodTransfer, PaymentMethodCash, PaymentMethodConsignment, PaymentMethodCredit, PaymentMethodOther:
		return PaymentMethod(raw)
	}
	switch raw {
	case "bank_transfer", "wire", "przelew":
		return PaymentMethodTransfer
	case "gotowka", "money":
		return PaymentMethodCash
	}
	return PaymentMethodOther
}

// Migration status marker values, persisted as opaque settings.
type MigrationStatus string

const (
	MigrationStatusPending   MigrationStatus = "pending"
	MigrationStatusRunning   MigrationStatus = "running"
	MigrationStatusCompleted MigrationStatus = "completed"
)
