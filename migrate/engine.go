package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/invoice_bridge/config"
	"bitbucket.org/mmdatafocus/invoice_bridge/metastore"
	"bitbucket.org/mmdatafocus/invoice_bridge/models"
	"bitbucket.org/mmdatafocus/invoice_bridge/utils"
)

var moduleName string = "migrate"

// Engine moves invoice host records into the relational tables batch by
// batch. Every collaborator sits behind an interface so the state machine
// runs in tests without MySQL or Redis.
type Engine struct {
	meta         metastore.Store
	repo         InvoiceRepository
	state        StateStore
	logger       *logrus.Logger
	verifySample int
	now          func() time.Time
}

func NewEngine(meta metastore.Store, repo InvoiceRepository, state StateStore, logger *logrus.Logger) *Engine {
	return &Engine{
		meta:         meta,
		repo:         repo,
		state:        state,
		logger:       logger,
		verifySample: config.VerificationSampleSize(),
		now:          time.Now,
	}
}

// RunBatch migrates up to batchSize not-yet-migrated invoices. One bad
// record never sinks the batch; its error is reported and the loop moves on.
// Safe to call repeatedly: already-marked records are never reselected.
func (e *Engine) RunBatch(ctx context.Context, batchSize int) (*BatchResult, error) {
	funcName := "RunBatch"
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	if err := e.state.Set(ctx, StateKeyStatus, string(models.MigrationStatusRunning)); err != nil {
		return nil, &utils.TransportError{Op: "persist migration status", Err: err}
	}

	ids, err := e.meta.QueryEntities(ctx, metastore.EntityQuery{
		RecordType: models.HostRecordTypeInvoice,
		MissingKey: models.MetaKeyMigrated,
		Limit:      batchSize,
	})
	if err != nil {
		config.LogError(e.logger, moduleName, funcName, "selecting pending invoices", batchSize, err)
		return nil, &utils.TransportError{Op: "select pending invoices", Err: err}
	}

	result := &BatchResult{RunId: uuid.NewString()}
	for _, id := range ids {
		one := e.migrateEntitySafe(ctx, id)
		if one.Success {
			result.MigratedCount++
			continue
		}
		result.ErrorCount++
		result.Errors = append(result.Errors, entityError(id, one))
	}

	progress, err := e.Progress(ctx)
	if err != nil {
		return nil, err
	}
	result.Progress = *progress
	result.Completed = progress.Remaining == 0

	if result.Completed {
		if err := e.state.Set(ctx, StateKeyStatus, string(models.MigrationStatusCompleted)); err != nil {
			return nil, &utils.TransportError{Op: "persist migration status", Err: err}
		}
	}
	if snapshot, err := json.Marshal(progress); err == nil {
		if err := e.state.Set(ctx, StateKeyProgress, string(snapshot)); err != nil {
			config.LogError(e.logger, moduleName, funcName, "persisting progress snapshot", progress, err)
		}
	}

	e.logger.WithFields(logrus.Fields{
		"run_id":    result.RunId,
		"migrated":  result.MigratedCount,
		"errors":    result.ErrorCount,
		"remaining": progress.Remaining,
	}).Info("migration batch finished")
	return result, nil
}

func entityError(id int, one MigrateOneResult) EntityError {
	if len(one.ValidationErrors) > 0 {
		return EntityError{
			EntityId: id,
			Kind:     "validation",
			Message:  fmt.Sprintf("%v", one.ValidationErrors),
		}
	}
	return EntityError{EntityId: id, Kind: "transport", Message: one.ErrorDetail}
}

// migrateEntitySafe confines a panic from one record to that record.
func (e *Engine) migrateEntitySafe(ctx context.Context, entityId int) (result MigrateOneResult) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			config.LogError(e.logger, moduleName, "migrateEntitySafe", "recovered while migrating invoice", entityId, err)
			result = MigrateOneResult{ErrorDetail: err.Error()}
		}
	}()
	return e.MigrateOne(ctx, entityId)
}

// MigrateOne decodes a single host record, writes it relationally and sets
// the migrated marker. Idempotent: an existing relational row for the same
// host record is updated in place.
func (e *Engine) MigrateOne(ctx context.Context, entityId int) MigrateOneResult {
	funcName := "MigrateOne"

	invoice, err := models.DecodeInvoiceFromStore(ctx, e.meta, entityId)
	if err != nil {
		config.LogError(e.logger, moduleName, funcName, "decoding host record", entityId, err)
		return MigrateOneResult{ErrorDetail: err.Error()}
	}
	if invoice == nil {
		return MigrateOneResult{ErrorDetail: fmt.Sprintf("host record %d missing or not an invoice", entityId)}
	}

	existing, err := e.repo.FindByHostRecord(ctx, entityId)
	if err != nil {
		config.LogError(e.logger, moduleName, funcName, "checking relational row", entityId, err)
		return MigrateOneResult{ErrorDetail: err.Error()}
	}

	if existing != nil {
		invoice.ID = existing.ID
		err = e.repo.Update(ctx, invoice)
	} else {
		err = e.repo.Create(ctx, invoice)
	}
	if err != nil {
		var validationErr *utils.ValidationError
		if errors.As(err, &validationErr) {
			return MigrateOneResult{ValidationErrors: validationErr.Rules}
		}
		config.LogError(e.logger, moduleName, funcName, "writing relational row", entityId, err)
		return MigrateOneResult{ErrorDetail: err.Error()}
	}

	marker := fmt.Sprint(e.now().Unix())
	if err := e.meta.SetField(ctx, entityId, models.MetaKeyMigrated, marker); err != nil {
		config.LogError(e.logger, moduleName, funcName, "setting migrated marker", entityId, err)
		return MigrateOneResult{ErrorDetail: err.Error()}
	}
	return MigrateOneResult{Success: true}
}

// Status reads the persisted migration phase, pending when none was ever
// stored.
func (e *Engine) Status(ctx context.Context) (models.MigrationStatus, error) {
	value, ok, err := e.state.Get(ctx, StateKeyStatus)
	if err != nil {
		return "", &utils.TransportError{Op: "read migration status", Err: err}
	}
	if !ok {
		return models.MigrationStatusPending, nil
	}
	return models.MigrationStatus(value), nil
}

// Progress counts live instead of trusting the persisted snapshot, so it
// stays correct across restarts and concurrent writers to the host store.
func (e *Engine) Progress(ctx context.Context) (*Progress, error) {
	total, err := e.meta.CountEntities(ctx, metastore.EntityQuery{
		RecordType: models.HostRecordTypeInvoice,
	})
	if err != nil {
		return nil, &utils.TransportError{Op: "count invoices", Err: err}
	}
	migrated, err := e.meta.CountEntities(ctx, metastore.EntityQuery{
		RecordType: models.HostRecordTypeInvoice,
		HavingKey:  models.MetaKeyMigrated,
	})
	if err != nil {
		return nil, &utils.TransportError{Op: "count migrated invoices", Err: err}
	}

	progress := &Progress{Total: total, Migrated: migrated, Remaining: total - migrated}
	if total == 0 {
		progress.Percentage = 100
	} else {
		progress.Percentage = math.Round(float64(migrated)/float64(total)*10000) / 100
	}
	return progress, nil
}

// Rollback empties the relational tables, clears every migrated marker and
// resets the migration to pending. The host store content itself is never
// touched beyond the markers.
func (e *Engine) Rollback(ctx context.Context) error {
	funcName := "Rollback"

	if err := e.repo.TruncateAll(ctx); err != nil {
		config.LogError(e.logger, moduleName, funcName, "truncating relational tables", nil, err)
		return &utils.TransportError{Op: "truncate relational tables", Err: err}
	}

	for {
		ids, err := e.meta.QueryEntities(ctx, metastore.EntityQuery{
			RecordType: models.HostRecordTypeInvoice,
			HavingKey:  models.MetaKeyMigrated,
			Limit:      500,
		})
		if err != nil {
			return &utils.TransportError{Op: "select migrated invoices", Err: err}
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			if err := e.meta.DeleteField(ctx, id, models.MetaKeyMigrated); err != nil {
				config.LogError(e.logger, moduleName, funcName, "clearing migrated marker", id, err)
				return &utils.TransportError{Op: "clear migrated marker", Err: err}
			}
		}
	}

	if err := e.state.Set(ctx, StateKeyStatus, string(models.MigrationStatusPending)); err != nil {
		return &utils.TransportError{Op: "persist migration status", Err: err}
	}
	if err := e.state.Delete(ctx, StateKeyProgress); err != nil {
		return &utils.TransportError{Op: "drop progress snapshot", Err: err}
	}
	if err := config.ClearRedis(ctx); err != nil {
		config.LogError(e.logger, moduleName, funcName, "flushing cache after rollback", nil, err)
	}

	e.logger.Info("migration rolled back, status reset to pending")
	return nil
}

// Verify re-decodes a random sample of migrated records and diffs them
// against their relational rows, then checks for orphaned child rows.
func (e *Engine) Verify(ctx context.Context) (*VerifyReport, error) {
	report := &VerifyReport{Status: VerifyStatusOk, Issues: []string{}}

	ids, err := e.meta.QueryEntities(ctx, metastore.EntityQuery{
		RecordType: models.HostRecordTypeInvoice,
		HavingKey:  models.MetaKeyMigrated,
		Random:     true,
		Limit:      e.verifySample,
	})
	if err != nil {
		return nil, &utils.TransportError{Op: "sample migrated invoices", Err: err}
	}

	for _, id := range ids {
		decoded, err := models.DecodeInvoiceFromStore(ctx, e.meta, id)
		if err != nil {
			report.Status = VerifyStatusError
			report.Issues = append(report.Issues, fmt.Sprintf("host record %d: %v", id, err))
			continue
		}
		if decoded == nil {
			report.Issues = append(report.Issues, fmt.Sprintf("host record %d carries marker but is gone", id))
			continue
		}
		row, err := e.repo.FindByHostRecord(ctx, id)
		if err != nil {
			report.Status = VerifyStatusError
			report.Issues = append(report.Issues, fmt.Sprintf("host record %d: %v", id, err))
			continue
		}
		if row == nil {
			report.Issues = append(report.Issues, fmt.Sprintf("host record %d marked migrated but has no relational row", id))
			continue
		}
		if row.InvoiceNumber != decoded.InvoiceNumber {
			report.Issues = append(report.Issues, fmt.Sprintf(
				"host record %d: invoice number %q differs from source %q", id, row.InvoiceNumber, decoded.InvoiceNumber))
		}
		if row.BuyerName != decoded.BuyerName {
			report.Issues = append(report.Issues, fmt.Sprintf(
				"host record %d: buyer name %q differs from source %q", id, row.BuyerName, decoded.BuyerName))
		}
	}

	orphanItems, orphanPayments, err := e.repo.OrphanCounts(ctx)
	if err != nil {
		return nil, &utils.TransportError{Op: "count orphaned rows", Err: err}
	}
	if orphanItems > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("%d invoice items reference no invoice", orphanItems))
	}
	if orphanPayments > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("%d payments reference no invoice", orphanPayments))
	}

	if report.Status == VerifyStatusOk && len(report.Issues) > 0 {
		report.Status = VerifyStatusWarning
	}
	return report, nil
}
