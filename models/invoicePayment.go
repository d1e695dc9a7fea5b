package models

import (
	"context"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/invoice_bridge/config"
	"bitbucket.org/mmdatafocus/invoice_bridge/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type InvoicePayment struct {
	ID             int             `gorm:"primary_key" json:"id"`
	InvoiceId      int             `gorm:"index;not null" json:"invoice_id"`
	PaymentDate    time.Time       `gorm:"type:date" json:"payment_date"`
	Method         PaymentMethod   `gorm:"type:enum('transfer','cash','consignment','credit','other');not null;default:'other'" json:"method"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"amount"`
	TransactionRef string          `gorm:"size:255" json:"transaction_ref"`
	Notes          string          `gorm:"type:text" json:"notes"`
	RecordedBy     int             `gorm:"default:0" json:"recorded_by"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// Normalize truncates any datetime-looking payment date to its calendar
// day (defined behavior, not an error) and fixes scale and method.
func (p *InvoicePayment) Normalize() {
	p.PaymentDate = utils.ConvertToDate(p.PaymentDate)
	p.Amount = utils.MoneyRound(p.Amount)
	p.Method = NormalizePaymentMethod(string(p.Method))
}

func (p *InvoicePayment) RuleViolations() []string {
	var rules []string
	if !p.Amount.IsPositive() {
		rules = append(rules, "amount must be positive")
	}
	if !p.Method.Valid() {
		rules = append(rules, "method must be one of [transfer cash consignment credit other]")
	}
	if p.PaymentDate.IsZero() {
		rules = append(rules, "payment_date is required")
	}
	return rules
}

// insertPayments writes payments one by one, keeping input order so the
// earliest-payment derivation stays stable.
func insertPayments(tx *gorm.DB, invoiceId int, payments []InvoicePayment) ([]InvoicePayment, error) {
	inserted := make([]InvoicePayment, 0, len(payments))
	for _, payment := range payments {
		payment.ID = 0
		payment.InvoiceId = invoiceId
		if err := tx.Create(&payment).Error; err != nil {
			return nil, err
		}
		inserted = append(inserted, payment)
	}
	return inserted, nil
}

// ListPaymentsByInvoice returns payments oldest first. Pre-migration the
// id is the host record id and the payments come decoded from the meta
// store, same as the invoice reads.
func ListPaymentsByInvoice(ctx context.Context, invoiceId int) ([]InvoicePayment, error) {
	if !TablesReady(ctx) {
		invoice, err := DecodeInvoiceFromStore(ctx, MetaStore(), invoiceId)
		if err != nil {
			return nil, err
		}
		if invoice == nil {
			return nil, utils.ErrorRecordNotFound
		}
		payments := invoice.Payments
		sort.SliceStable(payments, func(i, j int) bool {
			return payments[i].PaymentDate.Before(payments[j].PaymentDate)
		})
		return payments, nil
	}

	db := config.GetDB()
	var payments []InvoicePayment
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceId).
		Order("payment_date ASC, id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

type PaymentMethodBreakdown struct {
	Method PaymentMethod   `json:"method"`
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// GetPaymentBreakdown groups received payments by method over an optional
// date range.
func GetPaymentBreakdown(ctx context.Context, from *time.Time, to *time.Time) ([]PaymentMethodBreakdown, error) {
	if !TablesReady(ctx) {
		return legacyPaymentBreakdown(ctx, from, to)
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&InvoicePayment{})
	if from != nil {
		dbCtx = dbCtx.Where("payment_date >= ?", utils.ConvertToDate(*from))
	}
	if to != nil {
		dbCtx = dbCtx.Where("payment_date <= ?", utils.ConvertToDate(*to))
	}
	var rows []PaymentMethodBreakdown
	err := dbCtx.
		Select("method, COUNT(*) AS count, COALESCE(SUM(amount),0) AS amount").
		Group("method").
		Order("amount DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func legacyPaymentBreakdown(ctx context.Context, from *time.Time, to *time.Time) ([]PaymentMethodBreakdown, error) {
	matched, err := legacyMatchedInvoices(ctx, InvoiceFilter{})
	if err != nil {
		return nil, err
	}
	grouped := make(map[PaymentMethod]*PaymentMethodBreakdown)
	for _, inv := range matched {
		for _, p := range inv.Payments {
			if from != nil && p.PaymentDate.Before(utils.ConvertToDate(*from)) {
				continue
			}
			if to != nil && p.PaymentDate.After(utils.ConvertToDate(*to)) {
				continue
			}
			row, ok := grouped[p.Method]
			if !ok {
				row = &PaymentMethodBreakdown{Method: p.Method}
				grouped[p.Method] = row
			}
			row.Count++
			row.Amount = row.Amount.Add(p.Amount)
		}
	}
	rows := make([]PaymentMethodBreakdown, 0, len(grouped))
	for _, row := range grouped {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Amount.GreaterThan(rows[j].Amount)
	})
	return rows, nil
}

// OrphanedPaymentCount counts payments whose invoice no longer exists.
func OrphanedPaymentCount(ctx context.Context) (int64, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&InvoicePayment{}).
		Where("NOT EXISTS (SELECT 1 FROM invoices WHERE invoices.id = invoice_payments.invoice_id)").
		Count(&count).Error
	return count, err
}
