package migrate

import (
	"context"

	"bitbucket.org/mmdatafocus/invoice_bridge/models"
)

const DefaultBatchSize = 50

// State keys, persisted as opaque string settings.
const (
	StateKeyStatus   = "bridge_migration_status"
	StateKeyProgress = "bridge_migration_progress"
)

// StateStore is the narrow persistence interface the engine's status and
// progress snapshot go through. Production wires models.SettingsStore;
// tests use a map.
type StateStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

// InvoiceRepository is the relational side of the migration, kept behind
// an interface so the batch state machine is testable without a database.
type InvoiceRepository interface {
	// FindByHostRecord answers from the relational table only, nil when
	// absent. The engine must not see meta-store fallback reads here.
	FindByHostRecord(ctx context.Context, oldPostId int) (*models.Invoice, error)
	Create(ctx context.Context, invoice *models.Invoice) error
	Update(ctx context.Context, invoice *models.Invoice) error
	TruncateAll(ctx context.Context) error
	OrphanCounts(ctx context.Context) (items int64, payments int64, err error)
}

type Progress struct {
	Total      int64   `json:"total"`
	Migrated   int64   `json:"migrated"`
	Remaining  int64   `json:"remaining"`
	Percentage float64 `json:"percentage"`
}

type EntityError struct {
	EntityId int    `json:"entity_id"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

type BatchResult struct {
	RunId         string        `json:"run_id"`
	MigratedCount int           `json:"migrated_count"`
	ErrorCount    int           `json:"error_count"`
	Errors        []EntityError `json:"errors,omitempty"`
	Progress      Progress      `json:"progress"`
	Completed     bool          `json:"completed"`
}

type MigrateOneResult struct {
	Success          bool     `json:"success"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
	ErrorDetail      string   `json:"error_detail,omitempty"`
}

const (
	VerifyStatusOk      = "ok"
	VerifyStatusWarning = "warning"
	VerifyStatusError   = "error"
)

type VerifyReport struct {
	Status string   `json:"status"`
	Issues []string `json:"issues"`
}
