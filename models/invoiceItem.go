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

type InvoiceItem struct {
	ID            int             `gorm:"primary_key" json:"id"`
	InvoiceId     int             `gorm:"index;not null" json:"invoice_id"`
	ProductId     int             `gorm:"default:0" json:"product_id"`
	Name          string          `gorm:"size:255;not null" json:"name"`
	Sku           string          `gorm:"size:100" json:"sku"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,2);default:1" json:"quantity"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"unit_price"`
	Total         decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"total"`
	WarrantyCode  string          `gorm:"size:100" json:"warranty_code"`
	Notes         string          `gorm:"type:text" json:"notes"`
	SortOrder     int             `gorm:"default:0" json:"sort_order"`
	ReservedUntil *time.Time      `gorm:"default:null" json:"reserved_until"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// Normalize fixes scale and derives the line total when the source did not
// carry one: quantity x unit price, unless explicitly overridden.
func (item *InvoiceItem) Normalize() {
	item.Quantity = utils.MoneyRound(item.Quantity)
	item.UnitPrice = utils.MoneyRound(item.UnitPrice)
	item.Total = utils.MoneyRound(item.Total)
	if item.Total.IsZero() && item.Quantity.IsPositive() && item.UnitPrice.IsPositive() {
		item.Total = item.Quantity.Mul(item.UnitPrice).Round(2)
	}
}

func (item *InvoiceItem) RuleViolations() []string {
	var rules []string
	if item.Name == "" {
		rules = append(rules, "name is required")
	}
	if !item.Quantity.IsPositive() {
		rules = append(rules, "quantity must be positive")
	}
	if item.UnitPrice.IsNegative() {
		rules = append(rules, "unit_price must not be negative")
	}
	return rules
}

// insertableItems keeps the rows bulkInsertItems may persist, dropping any
// with an empty required name. Every skip is logged, never silent.
func insertableItems(invoiceId int, items []InvoiceItem) []InvoiceItem {
	logger := config.GetLogger()
	insertable := make([]InvoiceItem, 0, len(items))
	for _, item := range items {
		if item.Name == "" {
			config.LogError(logger, "invoiceItem.go", "insertableItems", "skipping item with empty name",
				map[string]interface{}{"invoice_id": invoiceId, "product_id": item.ProductId},
				utils.NewValidationError("invoice item", "name is required"))
			continue
		}
		item.ID = 0
		item.InvoiceId = invoiceId
		insertable = append(insertable, item)
	}
	return insertable
}

// bulkInsertItems writes a whole item set in one INSERT.
func bulkInsertItems(tx *gorm.DB, invoiceId int, items []InvoiceItem) ([]InvoiceItem, error) {
	insertable := insertableItems(invoiceId, items)
	if len(insertable) == 0 {
		return insertable, nil
	}
	if err := tx.Create(&insertable).Error; err != nil {
		return nil, err
	}
	return insertable, nil
}

// ListItemsByInvoice returns the display sequence: sort order ascending,
// ties broken by id. Pre-migration the id is the host record id and the
// items come decoded from the meta store.
func ListItemsByInvoice(ctx context.Context, invoiceId int) ([]InvoiceItem, error) {
	if !TablesReady(ctx) {
		invoice, err := DecodeInvoiceFromStore(ctx, MetaStore(), invoiceId)
		if err != nil {
			return nil, err
		}
		if invoice == nil {
			return nil, utils.ErrorRecordNotFound
		}
		items := invoice.Items
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].SortOrder < items[j].SortOrder
		})
		return items, nil
	}

	db := config.GetDB()
	var items []InvoiceItem
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceId).
		Order("sort_order ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// OrphanedItemCount counts items whose invoice no longer exists. Orphans
// are an integrity violation surfaced by verification, never dropped.
func OrphanedItemCount(ctx context.Context) (int64, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&InvoiceItem{}).
		Where("NOT EXISTS (SELECT 1 FROM invoices WHERE invoices.id = invoice_items.invoice_id)").
		Count(&count).Error
	return count, err
}
