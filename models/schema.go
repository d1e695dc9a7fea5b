package models

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/invoice_bridge/config"
	"bitbucket.org/mmdatafocus/invoice_bridge/utils"
	"gorm.io/gorm"
)

// SchemaVersion is the monotonic marker persisted after a fully successful
// reconciliation. Bump it whenever column or index declarations change.
const SchemaVersion = 3

const settingSchemaVersion = "bridge_schema_version"

// ColumnSpec declares one column of a target table. Type and Default are
// raw SQL fragments taken from the declarations below, never from input.
type ColumnSpec struct {
	Name    string
	Type    string
	Default string
}

type IndexSpec struct {
	Name    string
	Columns []string
	Unique  bool
}

type TableSpec struct {
	Name    string
	Columns []ColumnSpec
	Indexes []IndexSpec
}

// BridgeSchema is the declared shape of the normalized tables. The
// reconciler only ever adds what is missing: no drops, no renames, no type
// changes of existing columns.
var BridgeSchema = []TableSpec{
	{
		Name: "invoices",
		Columns: []ColumnSpec{
			{Name: "id", Type: "bigint NOT NULL AUTO_INCREMENT PRIMARY KEY"},
			{Name: "old_post_id", Type: "bigint NOT NULL", Default: "0"},
			{Name: "invoice_number", Type: "varchar(255) NOT NULL"},
			{Name: "buyer_name", Type: "varchar(255)"},
			{Name: "buyer_tax_id", Type: "varchar(100)"},
			{Name: "buyer_address", Type: "varchar(255)"},
			{Name: "buyer_phone", Type: "varchar(50)"},
			{Name: "buyer_email", Type: "varchar(100)"},
			{Name: "customer_id", Type: "bigint NULL"},
			{Name: "kind", Type: "enum('standard','fictive','proforma') NOT NULL", Default: "'fictive'"},
			{Name: "workflow_status", Type: "enum('unfinished','completed','cancelled','reserved') NOT NULL", Default: "'unfinished'"},
			{Name: "subtotal_amount", Type: "decimal(20,2) NOT NULL", Default: "0"},
			{Name: "tax_amount", Type: "decimal(20,2) NOT NULL", Default: "0"},
			{Name: "discount_amount", Type: "decimal(20,2) NOT NULL", Default: "0"},
			{Name: "total_amount", Type: "decimal(20,2) NOT NULL", Default: "0"},
			{Name: "paid_amount", Type: "decimal(20,2) NOT NULL", Default: "0"},
			{Name: "balance_amount", Type: "decimal(20,2) NOT NULL", Default: "0"},
			{Name: "notes", Type: "text"},
			{Name: "created_by", Type: "bigint", Default: "0"},
			{Name: "created_at", Type: "datetime(3) NULL"},
			{Name: "updated_at", Type: "datetime(3) NULL"},
			{Name: "activation_date", Type: "datetime(3) NULL"},
		},
		Indexes: []IndexSpec{
			{Name: "idx_invoices_number", Columns: []string{"invoice_number"}, Unique: true},
			{Name: "idx_invoices_old_post", Columns: []string{"old_post_id"}, Unique: true},
			{Name: "idx_invoices_customer", Columns: []string{"customer_id"}},
		},
	},
	{
		Name: "invoice_items",
		Columns: []ColumnSpec{
			{Name: "id", Type: "bigint NOT NULL AUTO_INCREMENT PRIMARY KEY"},
			{Name: "invoice_id", Type: "bigint NOT NULL"},
			{Name: "product_id", Type: "bigint", Default: "0"},
			{Name: "name", Type: "varchar(255) NOT NULL"},
			{Name: "sku", Type: "varchar(100)"},
			{Name: "quantity", Type: "decimal(20,2) NOT NULL", Default: "1"},
			{Name: "unit_price", Type: "decimal(20,2) NOT NULL", Default: "0"},
			{Name: "total", Type: "decimal(20,2) NOT NULL", Default: "0"},
			{Name: "warranty_code", Type: "varchar(100)"},
			{Name: "notes", Type: "text"},
			{Name: "sort_order", Type: "int NOT NULL", Default: "0"},
			{Name: "reserved_until", Type: "datetime(3) NULL"},
			{Name: "created_at", Type: "datetime(3) NULL"},
		},
		Indexes: []IndexSpec{
			{Name: "idx_invoice_items_invoice", Columns: []string{"invoice_id"}},
		},
	},
	{
		Name: "invoice_payments",
		Columns: []ColumnSpec{
			{Name: "id", Type: "bigint NOT NULL AUTO_INCREMENT PRIMARY KEY"},
			{Name: "invoice_id", Type: "bigint NOT NULL"},
			{Name: "payment_date", Type: "date NULL"},
			{Name: "method", Type: "enum('transfer','cash','consignment','credit','other') NOT NULL", Default: "'other'"},
			{Name: "amount", Type: "decimal(20,2) NOT NULL", Default: "0"},
			{Name: "transaction_ref", Type: "varchar(255)"},
			{Name: "notes", Type: "text"},
			{Name: "recorded_by", Type: "bigint", Default: "0"},
			{Name: "created_at", Type: "datetime(3) NULL"},
		},
		Indexes: []IndexSpec{
			{Name: "idx_invoice_payments_invoice", Columns: []string{"invoice_id"}},
		},
	},
	{
		Name: "customers",
		Columns: []ColumnSpec{
			{Name: "id", Type: "bigint NOT NULL AUTO_INCREMENT PRIMARY KEY"},
			{Name: "name", Type: "varchar(255) NOT NULL"},
			{Name: "tax_id", Type: "varchar(100)"},
			{Name: "address", Type: "varchar(255)"},
			{Name: "phone", Type: "varchar(50)"},
			{Name: "email", Type: "varchar(100)"},
			{Name: "created_at", Type: "datetime(3) NULL"},
			{Name: "updated_at", Type: "datetime(3) NULL"},
		},
		Indexes: []IndexSpec{
			{Name: "idx_customers_tax_id", Columns: []string{"tax_id"}},
		},
	},
}

// MissingColumns computes the gap between declared and live columns,
// preserving declaration order. Existing columns are never touched.
func MissingColumns(declared []ColumnSpec, live []string) []ColumnSpec {
	present := make(map[string]bool, len(live))
	for _, name := range live {
		present[strings.ToLower(name)] = true
	}
	var missing []ColumnSpec
	for _, col := range declared {
		if !present[strings.ToLower(col.Name)] {
			missing = append(missing, col)
		}
	}
	return missing
}

func createTableSQL(spec TableSpec) string {
	defs := make([]string, 0, len(spec.Columns))
	for _, col := range spec.Columns {
		defs = append(defs, columnDDL(col))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` (%s)", spec.Name, strings.Join(defs, ", "))
}

func addColumnSQL(table string, col ColumnSpec) string {
	return fmt.Sprintf("ALTER TABLE `%s` ADD COLUMN %s", table, columnDDL(col))
}

func createIndexSQL(table string, idx IndexSpec) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	cols := make([]string, 0, len(idx.Columns))
	for _, c := range idx.Columns {
		cols = append(cols, "`"+c+"`")
	}
	return fmt.Sprintf("CREATE %sINDEX `%s` ON `%s` (%s)", unique, idx.Name, table, strings.Join(cols, ", "))
}

func columnDDL(col ColumnSpec) string {
	ddl := fmt.Sprintf("`%s` %s", col.Name, col.Type)
	if col.Default != "" {
		ddl += " DEFAULT " + col.Default
	}
	return ddl
}

func liveColumns(db *gorm.DB, table string) ([]string, error) {
	types, err := db.Migrator().ColumnTypes(table)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, t.Name())
	}
	return names, nil
}

// ReconcileSchema closes the gap between the declared table shapes and the
// live database with additive DDL only. Index creation failures are logged
// and ignored (an equivalent index may pre-exist under another name); a
// column-addition failure withholds the version marker so the next run
// retries exactly the columns still missing.
// schemaVersionCurrent reports whether a stored marker makes reconciliation
// a no-op. Unparseable markers force a full pass.
func schemaVersionCurrent(stored string) bool {
	v, err := strconv.Atoi(stored)
	return err == nil && v >= SchemaVersion
}

func ReconcileSchema(ctx context.Context) error {
	db := config.GetDB()
	logger := config.GetLogger()

	// The settings table carries the version marker itself.
	if err := db.WithContext(ctx).AutoMigrate(&ServiceSetting{}); err != nil {
		return &utils.SchemaError{Table: ServiceSetting{}.TableName(), Err: err}
	}

	if stored, ok, err := GetSetting(ctx, settingSchemaVersion); err != nil {
		return &utils.SchemaError{Table: ServiceSetting{}.TableName(), Err: err}
	} else if ok && schemaVersionCurrent(stored) {
		// nothing to reconcile, no DDL leaves this point
		return nil
	}

	for _, spec := range BridgeSchema {
		if !db.Migrator().HasTable(spec.Name) {
			if err := db.WithContext(ctx).Exec(createTableSQL(spec)).Error; err != nil {
				return &utils.SchemaError{Table: spec.Name, Err: err}
			}
		}

		// Gap check runs even right after CREATE: fresh installs and
		// upgrades from an older shape share this code path.
		live, err := liveColumns(db, spec.Name)
		if err != nil {
			return &utils.SchemaError{Table: spec.Name, Err: err}
		}
		for _, col := range MissingColumns(spec.Columns, live) {
			if err := db.WithContext(ctx).Exec(addColumnSQL(spec.Name, col)).Error; err != nil {
				return &utils.SchemaError{Table: spec.Name, Column: col.Name, Err: err}
			}
		}

		for _, idx := range spec.Indexes {
			if db.Migrator().HasIndex(spec.Name, idx.Name) {
				continue
			}
			if err := db.WithContext(ctx).Exec(createIndexSQL(spec.Name, idx)).Error; err != nil {
				config.LogError(logger, "schema.go", "ReconcileSchema", "create index "+idx.Name, spec.Name, err)
			}
		}
	}

	return SetSetting(ctx, settingSchemaVersion, strconv.Itoa(SchemaVersion))
}

// TablesReady reports whether the relational tables can answer reads.
// Absent or empty tables send repository reads to the meta store instead.
func TablesReady(ctx context.Context) bool {
	db := config.GetDB()
	if db == nil || !db.Migrator().HasTable("invoices") {
		return false
	}
	var count int64
	if err := db.WithContext(ctx).Model(&Invoice{}).Count(&count).Error; err != nil {
		return false
	}
	return count > 0
}
