package models

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/invoice_bridge/config"
	"bitbucket.org/mmdatafocus/invoice_bridge/metastore"
	"bitbucket.org/mmdatafocus/invoice_bridge/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// effectiveDate is the coalescing rule every date filter and ordering uses:
// activation date when the invoice has been realized, creation date otherwise.
const effectiveDate = "COALESCE(invoices.activation_date, invoices.created_at)"

type Invoice struct {
	ID             int              `gorm:"primary_key" json:"id"`
	OldPostId      int              `gorm:"uniqueIndex;not null" json:"old_post_id"`
	InvoiceNumber  string           `gorm:"size:255;uniqueIndex;not null" json:"invoice_number" validate:"required"`
	BuyerName      string           `gorm:"size:255" json:"buyer_name" validate:"required"`
	BuyerTaxId     string           `gorm:"size:100" json:"buyer_tax_id"`
	BuyerAddress   string           `gorm:"size:255" json:"buyer_address"`
	BuyerPhone     string           `gorm:"size:50" json:"buyer_phone"`
	BuyerEmail     string           `gorm:"size:100" json:"buyer_email" validate:"omitempty,email"`
	CustomerId     *int             `gorm:"index;default:null" json:"customer_id"`
	Kind           InvoiceKind      `gorm:"type:enum('standard','fictive','proforma');not null;default:'fictive'" json:"kind" validate:"oneof=standard fictive proforma"`
	WorkflowStatus WorkflowStatus   `gorm:"type:enum('unfinished','completed','cancelled','reserved');not null;default:'unfinished'" json:"workflow_status" validate:"oneof=unfinished completed cancelled reserved"`
	SubtotalAmount decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"subtotal_amount"`
	TaxAmount      decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"tax_amount"`
	DiscountAmount decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"discount_amount"`
	TotalAmount    decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"total_amount"`
	PaidAmount     decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"paid_amount"`
	BalanceAmount  decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"balance_amount"`
	Notes          string           `gorm:"type:text" json:"notes"`
	CreatedBy      int              `gorm:"default:0" json:"created_by"`
	CreatedAt      time.Time        `json:"created_at"` // mutated by the activation latch, so no autoCreateTime
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
	ActivationDate *time.Time       `gorm:"default:null" json:"activation_date"`
	Items          []InvoiceItem    `gorm:"foreignKey:InvoiceId" json:"items"`
	Payments       []InvoicePayment `gorm:"foreignKey:InvoiceId" json:"payments"`
}

type InvoiceFilter struct {
	Kind           InvoiceKind    `json:"kind"`
	WorkflowStatus WorkflowStatus `json:"workflow_status"`
	Search         string         `json:"search"`
	DateFrom       *time.Time     `json:"date_from"`
	DateTo         *time.Time     `json:"date_to"`
}

type InvoicePage struct {
	Invoices []*Invoice `json:"invoices"`
	Total    int64      `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

type InvoiceTotalsSummary struct {
	Count          int64           `json:"count"`
	SubtotalAmount decimal.Decimal `json:"subtotal_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	BalanceAmount  decimal.Decimal `json:"balance_amount"`
}

// BuyerDetails is the snapshot handed to customer matching.
type BuyerDetails struct {
	Name    string `json:"name"`
	TaxId   string `json:"tax_id"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

func (inv *Invoice) Buyer() BuyerDetails {
	return BuyerDetails{
		Name:    inv.BuyerName,
		TaxId:   inv.BuyerTaxId,
		Address: inv.BuyerAddress,
		Phone:   inv.BuyerPhone,
		Email:   inv.BuyerEmail,
	}
}

// Normalize fixes everything an input is never trusted for: 2-decimal
// scale, the recomputed balance, the derived kind, item totals, payment
// dates. Runs before validation on every write path.
func (inv *Invoice) Normalize() {
	inv.SubtotalAmount = utils.MoneyRound(inv.SubtotalAmount)
	inv.TaxAmount = utils.MoneyRound(inv.TaxAmount)
	inv.DiscountAmount = utils.MoneyRound(inv.DiscountAmount)
	inv.TotalAmount = utils.MoneyRound(inv.TotalAmount)
	inv.PaidAmount = utils.MoneyRound(inv.PaidAmount)

	// A non-nil payments slice is authoritative for the paid amount; nil
	// means the caller had no payment detail (legacy records), keep as given.
	if inv.Payments != nil {
		sum := decimal.Zero
		for _, p := range inv.Payments {
			sum = sum.Add(p.Amount)
		}
		inv.PaidAmount = utils.MoneyRound(sum)
	}

	inv.BalanceAmount = inv.TotalAmount.Sub(inv.PaidAmount).Round(2)
	inv.Kind = DeriveKind(inv.PaidAmount, inv.Kind)

	for i := range inv.Items {
		inv.Items[i].Normalize()
	}
	for i := range inv.Payments {
		inv.Payments[i].Normalize()
	}
}

// RuleViolations returns every business rule the invoice breaks, empty when
// clean. Write paths refuse to persist on a non-empty result.
func (inv *Invoice) RuleViolations() []string {
	rules := utils.CollectRuleViolations(inv)
	for name, amount := range map[string]decimal.Decimal{
		"subtotal_amount": inv.SubtotalAmount,
		"tax_amount":      inv.TaxAmount,
		"discount_amount": inv.DiscountAmount,
		"total_amount":    inv.TotalAmount,
		"paid_amount":     inv.PaidAmount,
	} {
		if amount.IsNegative() {
			rules = append(rules, name+" must not be negative")
		}
	}
	for i, item := range inv.Items {
		if item.Name == "" {
			// dropped at insert time with a logged skip, never blocks
			// the invoice itself
			continue
		}
		for _, rule := range item.RuleViolations() {
			rules = append(rules, fmt.Sprintf("item %d: %s", i+1, rule))
		}
	}
	for i, payment := range inv.Payments {
		for _, rule := range payment.RuleViolations() {
			rules = append(rules, fmt.Sprintf("payment %d: %s", i+1, rule))
		}
	}
	return rules
}

// numberCacheKeys lists the distinct invoice-number cache entries a write
// must drop: the current number plus any stored one it replaced.
func numberCacheKeys(current string, previous ...string) []string {
	keys := []string{current}
	for _, p := range previous {
		if p != "" && p != current {
			keys = append(keys, p)
		}
	}
	return keys
}

func invalidateInvoiceCache(inv *Invoice, previousNumbers ...string) {
	utils.RemoveRedisItem[Invoice](inv.ID)
	for _, number := range numberCacheKeys(inv.InvoiceNumber, previousNumbers...) {
		utils.RemoveRedisKeyed[Invoice]("number", number)
	}
	utils.RemoveRedisKeyed[Invoice]("old_post", fmt.Sprint(inv.OldPostId))
}

// GetInvoice reads one invoice with its items and payments: cache first,
// relational store next, meta store while the tables cannot answer. In the
// fallback, id is the host record id (the shared identity pre-migration).
func GetInvoice(ctx context.Context, id int) (*Invoice, error) {
	cached, err := utils.RetrieveRedis[Invoice](id)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	if !TablesReady(ctx) {
		return legacyInvoiceRead(ctx, id)
	}

	db := config.GetDB()
	var invoice Invoice
	err = db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("sort_order ASC, id ASC") }).
		Preload("Payments", func(tx *gorm.DB) *gorm.DB { return tx.Order("payment_date ASC, id ASC") }).
		First(&invoice, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := utils.StoreRedis[Invoice](&invoice, invoice.ID); err != nil {
		return nil, err
	}
	return &invoice, nil
}

func GetInvoiceByNumber(ctx context.Context, number string) (*Invoice, error) {
	cached, err := utils.RetrieveRedisKeyed[Invoice]("number", number)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	if !TablesReady(ctx) {
		return legacyInvoiceReadByField(ctx, FieldInvoiceNumber, number)
	}

	db := config.GetDB()
	var invoice Invoice
	err = db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("sort_order ASC, id ASC") }).
		Preload("Payments", func(tx *gorm.DB) *gorm.DB { return tx.Order("payment_date ASC, id ASC") }).
		Where("invoice_number = ?", number).
		First(&invoice).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := utils.StoreRedisKeyed[Invoice](&invoice, "number", number); err != nil {
		return nil, err
	}
	return &invoice, nil
}

func GetInvoiceByHostRecord(ctx context.Context, oldPostId int) (*Invoice, error) {
	cached, err := utils.RetrieveRedisKeyed[Invoice]("old_post", fmt.Sprint(oldPostId))
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	if !TablesReady(ctx) {
		return legacyInvoiceRead(ctx, oldPostId)
	}

	db := config.GetDB()
	var invoice Invoice
	err = db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("sort_order ASC, id ASC") }).
		Preload("Payments", func(tx *gorm.DB) *gorm.DB { return tx.Order("payment_date ASC, id ASC") }).
		Where("old_post_id = ?", oldPostId).
		First(&invoice).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := utils.StoreRedisKeyed[Invoice](&invoice, "old_post", fmt.Sprint(oldPostId)); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// FindInvoiceRowByOldPostId reads the relational table directly, skipping
// cache and legacy fallback. Returns (nil, nil) when no row exists.
func FindInvoiceRowByOldPostId(ctx context.Context, oldPostId int) (*Invoice, error) {
	db := config.GetDB()
	var invoice Invoice
	err := db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("sort_order ASC, id ASC") }).
		Preload("Payments", func(tx *gorm.DB) *gorm.DB { return tx.Order("payment_date ASC, id ASC") }).
		Where("old_post_id = ?", oldPostId).
		First(&invoice).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func legacyInvoiceRead(ctx context.Context, hostRecordId int) (*Invoice, error) {
	invoice, err := DecodeInvoiceFromStore(ctx, MetaStore(), hostRecordId)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, utils.ErrorRecordNotFound
	}
	return invoice, nil
}

func legacyInvoiceReadByField(ctx context.Context, canonicalKey string, value string) (*Invoice, error) {
	store := MetaStore()
	// every historical spelling of the field is a candidate key
	for _, alias := range InvoiceFieldAliases(canonicalKey) {
		ids, err := store.QueryEntities(ctx, metastore.EntityQuery{
			RecordType: HostRecordTypeInvoice,
			EqualKey:   alias,
			EqualValue: value,
			Limit:      1,
		})
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			return legacyInvoiceRead(ctx, ids[0])
		}
	}
	return nil, utils.ErrorRecordNotFound
}

func applyInvoiceFilter(dbCtx *gorm.DB, filter InvoiceFilter) *gorm.DB {
	if filter.Kind != "" {
		dbCtx = dbCtx.Where("invoices.kind = ?", filter.Kind)
	}
	if filter.WorkflowStatus != "" {
		dbCtx = dbCtx.Where("invoices.workflow_status = ?", filter.WorkflowStatus)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		dbCtx = dbCtx.Where("invoices.invoice_number LIKE ? OR invoices.buyer_name LIKE ?", pattern, pattern)
	}
	if filter.DateFrom != nil {
		dbCtx = dbCtx.Where(effectiveDate+" >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		dbCtx = dbCtx.Where(effectiveDate+" <= ?", *filter.DateTo)
	}
	return dbCtx
}

// ListInvoices pages through invoices in effective-date order, newest first.
func ListInvoices(ctx context.Context, filter InvoiceFilter, page int, pageSize int) (*InvoicePage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 25
	}

	if !TablesReady(ctx) {
		return legacyListInvoices(ctx, filter, page, pageSize)
	}

	db := config.GetDB()
	dbCtx := applyInvoiceFilter(db.WithContext(ctx).Model(&Invoice{}), filter)

	var total int64
	if err := dbCtx.Count(&total).Error; err != nil {
		return nil, err
	}

	var invoices []*Invoice
	err := dbCtx.
		Order(effectiveDate + " DESC, invoices.id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return &InvoicePage{Invoices: invoices, Total: total, Page: page, PageSize: pageSize}, nil
}

// legacyMatchedInvoices decodes every invoice host record and keeps the
// ones the filter accepts, newest effective date first. All legacy reads
// that span the whole set go through here.
func legacyMatchedInvoices(ctx context.Context, filter InvoiceFilter) ([]*Invoice, error) {
	store := MetaStore()
	ids, err := store.QueryEntities(ctx, metastore.EntityQuery{RecordType: HostRecordTypeInvoice})
	if err != nil {
		return nil, err
	}
	var matched []*Invoice
	for _, id := range ids {
		invoice, err := DecodeInvoiceFromStore(ctx, store, id)
		if err != nil {
			return nil, err
		}
		if invoice == nil {
			continue
		}
		if matchesFilter(invoice, filter) {
			matched = append(matched, invoice)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return effectiveOf(matched[i]).After(effectiveOf(matched[j]))
	})
	return matched, nil
}

func legacyListInvoices(ctx context.Context, filter InvoiceFilter, page int, pageSize int) (*InvoicePage, error) {
	matched, err := legacyMatchedInvoices(ctx, filter)
	if err != nil {
		return nil, err
	}
	total := int64(len(matched))
	start := (page - 1) * pageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return &InvoicePage{Invoices: matched[start:end], Total: total, Page: page, PageSize: pageSize}, nil
}

func effectiveOf(inv *Invoice) time.Time {
	if inv.ActivationDate != nil {
		return *inv.ActivationDate
	}
	return inv.CreatedAt
}

func matchesFilter(inv *Invoice, filter InvoiceFilter) bool {
	if filter.Kind != "" && inv.Kind != filter.Kind {
		return false
	}
	if filter.WorkflowStatus != "" && inv.WorkflowStatus != filter.WorkflowStatus {
		return false
	}
	if filter.Search != "" &&
		!strings.Contains(inv.InvoiceNumber, filter.Search) &&
		!strings.Contains(inv.BuyerName, filter.Search) {
		return false
	}
	effective := effectiveOf(inv)
	if filter.DateFrom != nil && effective.Before(*filter.DateFrom) {
		return false
	}
	if filter.DateTo != nil && effective.After(*filter.DateTo) {
		return false
	}
	return true
}

// CreateInvoice validates and persists a new invoice with its items and
// payments in one transaction. A duplicate invoice number or host record
// reference is a rejected write.
func CreateInvoice(ctx context.Context, invoice *Invoice) error {
	invoice.Normalize()
	if rules := invoice.RuleViolations(); len(rules) > 0 {
		return &utils.ValidationError{Entity: "invoice " + invoice.InvoiceNumber, Rules: rules}
	}
	if err := utils.ValidateUnique[Invoice](ctx, "invoice_number", invoice.InvoiceNumber, 0); err != nil {
		return err
	}
	if invoice.OldPostId > 0 {
		if err := utils.ValidateUnique[Invoice](ctx, "old_post_id", invoice.OldPostId, 0); err != nil {
			return err
		}
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now()
	}

	db := config.GetDB()
	items := invoice.Items
	payments := invoice.Payments
	invoice.Items = nil
	invoice.Payments = nil
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(invoice).Error; err != nil {
			return err
		}
		inserted, err := bulkInsertItems(tx, invoice.ID, items)
		if err != nil {
			return err
		}
		invoice.Items = inserted
		createdPayments, err := insertPayments(tx, invoice.ID, payments)
		if err != nil {
			return err
		}
		invoice.Payments = createdPayments
		return nil
	})
	if err != nil {
		invoice.Items = items
		invoice.Payments = payments
		return err
	}

	invalidateInvoiceCache(invoice)
	return nil
}

// UpdateInvoice revalidates and persists an existing invoice, replacing its
// items and payments. The host record reference never changes.
func UpdateInvoice(ctx context.Context, invoice *Invoice) error {
	if invoice.ID == 0 {
		return utils.ErrorRecordNotFound
	}
	if err := utils.ValidateResourceId[Invoice](ctx, invoice.ID); err != nil {
		return err
	}
	invoice.Normalize()
	if rules := invoice.RuleViolations(); len(rules) > 0 {
		return &utils.ValidationError{Entity: "invoice " + invoice.InvoiceNumber, Rules: rules}
	}
	if err := utils.ValidateUnique[Invoice](ctx, "invoice_number", invoice.InvoiceNumber, invoice.ID); err != nil {
		return err
	}

	db := config.GetDB()

	// A renumbered invoice leaves its old number key in the cache; capture
	// the stored number so both get dropped after the write.
	var stored struct{ InvoiceNumber string }
	if err := db.WithContext(ctx).Model(&Invoice{}).
		Select("invoice_number").
		Where("id = ?", invoice.ID).
		Scan(&stored).Error; err != nil {
		return err
	}

	items := invoice.Items
	payments := invoice.Payments
	invoice.Items = nil
	invoice.Payments = nil
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("*").Omit("old_post_id").Updates(invoice).Error; err != nil {
			return err
		}
		if err := tx.Where("invoice_id = ?", invoice.ID).Delete(&InvoiceItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("invoice_id = ?", invoice.ID).Delete(&InvoicePayment{}).Error; err != nil {
			return err
		}
		inserted, err := bulkInsertItems(tx, invoice.ID, items)
		if err != nil {
			return err
		}
		invoice.Items = inserted
		createdPayments, err := insertPayments(tx, invoice.ID, payments)
		if err != nil {
			return err
		}
		invoice.Payments = createdPayments
		return nil
	})
	if err != nil {
		invoice.Items = items
		invoice.Payments = payments
		return err
	}

	invalidateInvoiceCache(invoice, stored.InvoiceNumber)
	return nil
}

// DeleteInvoice hard-deletes an invoice, cascading to its items and
// payments first. Administrative use only.
func DeleteInvoice(ctx context.Context, id int) error {
	db := config.GetDB()
	var invoice Invoice
	if err := db.WithContext(ctx).First(&invoice, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorRecordNotFound
		}
		return err
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("invoice_id = ?", id).Delete(&InvoicePayment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("invoice_id = ?", id).Delete(&InvoiceItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Invoice{}, id).Error
	})
	if err != nil {
		return err
	}

	invalidateInvoiceCache(&invoice)
	return nil
}

// GetInvoiceTotalsSummary aggregates monetary totals over the filtered set,
// honoring the effective-date rule for any supplied date range.
func GetInvoiceTotalsSummary(ctx context.Context, filter InvoiceFilter) (*InvoiceTotalsSummary, error) {
	if !TablesReady(ctx) {
		return legacyInvoiceTotalsSummary(ctx, filter)
	}

	db := config.GetDB()
	var summary InvoiceTotalsSummary
	dbCtx := applyInvoiceFilter(db.WithContext(ctx).Model(&Invoice{}), filter)
	err := dbCtx.Select(
		"COUNT(*) AS count, " +
			"COALESCE(SUM(subtotal_amount),0) AS subtotal_amount, " +
			"COALESCE(SUM(tax_amount),0) AS tax_amount, " +
			"COALESCE(SUM(total_amount),0) AS total_amount, " +
			"COALESCE(SUM(paid_amount),0) AS paid_amount, " +
			"COALESCE(SUM(balance_amount),0) AS balance_amount").
		Scan(&summary).Error
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func legacyInvoiceTotalsSummary(ctx context.Context, filter InvoiceFilter) (*InvoiceTotalsSummary, error) {
	matched, err := legacyMatchedInvoices(ctx, filter)
	if err != nil {
		return nil, err
	}
	summary := &InvoiceTotalsSummary{Count: int64(len(matched))}
	for _, inv := range matched {
		summary.SubtotalAmount = summary.SubtotalAmount.Add(inv.SubtotalAmount)
		summary.TaxAmount = summary.TaxAmount.Add(inv.TaxAmount)
		summary.TotalAmount = summary.TotalAmount.Add(inv.TotalAmount)
		summary.PaidAmount = summary.PaidAmount.Add(inv.PaidAmount)
		summary.BalanceAmount = summary.BalanceAmount.Add(inv.BalanceAmount)
	}
	return summary, nil
}

func CountInvoicesByKind(ctx context.Context) (map[InvoiceKind]int64, error) {
	if !TablesReady(ctx) {
		matched, err := legacyMatchedInvoices(ctx, InvoiceFilter{})
		if err != nil {
			return nil, err
		}
		counts := make(map[InvoiceKind]int64, 3)
		for _, inv := range matched {
			counts[inv.Kind]++
		}
		return counts, nil
	}

	db := config.GetDB()
	var rows []struct {
		Kind  InvoiceKind
		Count int64
	}
	err := db.WithContext(ctx).Model(&Invoice{}).
		Select("kind, COUNT(*) AS count").
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[InvoiceKind]int64, len(rows))
	for _, row := range rows {
		counts[row.Kind] = row.Count
	}
	return counts, nil
}
