package migrate

import (
	"context"

	"bitbucket.org/mmdatafocus/invoice_bridge/config"
	"bitbucket.org/mmdatafocus/invoice_bridge/models"
)

// GormRepository backs the engine with the models package.
type GormRepository struct{}

func (GormRepository) FindByHostRecord(ctx context.Context, oldPostId int) (*models.Invoice, error) {
	return models.FindInvoiceRowByOldPostId(ctx, oldPostId)
}

func (GormRepository) Create(ctx context.Context, invoice *models.Invoice) error {
	return models.CreateInvoice(ctx, invoice)
}

func (GormRepository) Update(ctx context.Context, invoice *models.Invoice) error {
	return models.UpdateInvoice(ctx, invoice)
}

// TruncateAll resets the relational side. Foreign key checks are toggled
// off because children are truncated alongside their parents anyway.
func (GormRepository) TruncateAll(ctx context.Context) error {
	db := config.GetDB().WithContext(ctx)
	if err := db.Exec("SET FOREIGN_KEY_CHECKS = 0").Error; err != nil {
		return err
	}
	for _, table := range []string{"invoice_payments", "invoice_items", "invoices"} {
		if err := db.Exec("TRUNCATE TABLE " + table).Error; err != nil {
			return err
		}
	}
	return db.Exec("SET FOREIGN_KEY_CHECKS = 1").Error
}

func (GormRepository) OrphanCounts(ctx context.Context) (int64, int64, error) {
	items, err := models.OrphanedItemCount(ctx)
	if err != nil {
		return 0, 0, err
	}
	payments, err := models.OrphanedPaymentCount(ctx)
	if err != nil {
		return 0, 0, err
	}
	return items, payments, nil
}
