package migrate_test

import (
	"context"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/invoice_bridge/metastore"
	"bitbucket.org/mmdatafocus/invoice_bridge/migrate"
	"bitbucket.org/mmdatafocus/invoice_bridge/models"
	"bitbucket.org/mmdatafocus/invoice_bridge/utils"
	"github.com/sirupsen/logrus"
)

type fakeRepo struct {
	rows        map[int]*models.Invoice // keyed by host record id
	nextId      int
	panicFor    map[int]bool
	orphanItems int64
	truncations int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[int]*models.Invoice{}, panicFor: map[int]bool{}}
}

func (r *fakeRepo) FindByHostRecord(ctx context.Context, oldPostId int) (*models.Invoice, error) {
	row, ok := r.rows[oldPostId]
	if !ok {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (r *fakeRepo) Create(ctx context.Context, invoice *models.Invoice) error {
	if r.panicFor[invoice.OldPostId] {
		panic("storage exploded")
	}
	invoice.Normalize()
	if rules := invoice.RuleViolations(); len(rules) > 0 {
		return &utils.ValidationError{Entity: "invoice " + invoice.InvoiceNumber, Rules: rules}
	}
	r.nextId++
	invoice.ID = r.nextId
	copied := *invoice
	r.rows[invoice.OldPostId] = &copied
	return nil
}

func (r *fakeRepo) Update(ctx context.Context, invoice *models.Invoice) error {
	invoice.Normalize()
	if rules := invoice.RuleViolations(); len(rules) > 0 {
		return &utils.ValidationError{Entity: "invoice " + invoice.InvoiceNumber, Rules: rules}
	}
	copied := *invoice
	r.rows[invoice.OldPostId] = &copied
	return nil
}

func (r *fakeRepo) TruncateAll(ctx context.Context) error {
	r.rows = map[int]*models.Invoice{}
	r.truncations++
	return nil
}

func (r *fakeRepo) OrphanCounts(ctx context.Context) (int64, int64, error) {
	return r.orphanItems, 0, nil
}

type fakeState struct{ m map[string]string }

func newFakeState() *fakeState { return &fakeState{m: map[string]string{}} }

func (s *fakeState) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *fakeState) Set(ctx context.Context, key string, value string) error {
	s.m[key] = value
	return nil
}

func (s *fakeState) Delete(ctx context.Context, key string) error {
	delete(s.m, key)
	return nil
}

func seedInvoice(t *testing.T, store *metastore.MemStore, fields map[string]string) int {
	t.Helper()
	id, err := store.CreateEntity(context.Background(), metastore.NewEntity{
		RecordType: models.HostRecordTypeInvoice,
		Title:      fields["invoice_number"],
		Fields:     fields,
	})
	if err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
	return id
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestRunBatchMigratesAndIsolatesBadRecords(t *testing.T) {
	ctx := context.Background()
	store := metastore.NewMemStore()
	repo := newFakeRepo()
	state := newFakeState()
	engine := migrate.NewEngine(store, repo, state, quietLogger())

	good1 := seedInvoice(t, store, map[string]string{
		"invoice_number": "FV/1", "buyer_name": "A", "total": "10", "paid": "10",
	})
	bad := seedInvoice(t, store, map[string]string{
		"buyer_name": "B", "total": "20", // no invoice number anywhere
	})
	good2 := seedInvoice(t, store, map[string]string{
		"number": "FV/3", "customer_name": "C", "gross_amount": "30",
	})

	result, err := engine.RunBatch(ctx, 10)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if result.MigratedCount != 2 || result.ErrorCount != 1 {
		t.Fatalf("migrated=%d errors=%d, want 2 and 1", result.MigratedCount, result.ErrorCount)
	}
	if len(result.Errors) != 1 || result.Errors[0].EntityId != bad || result.Errors[0].Kind != "validation" {
		t.Fatalf("errors = %+v, want one validation error for %d", result.Errors, bad)
	}
	if result.Completed {
		t.Fatal("batch must not report completed while a record remains unmigrated")
	}
	if result.Progress.Total != 3 || result.Progress.Migrated != 2 || result.Progress.Remaining != 1 {
		t.Fatalf("progress = %+v", result.Progress)
	}

	for _, id := range []int{good1, good2} {
		if _, ok, _ := store.GetField(ctx, id, models.MetaKeyMigrated); !ok {
			t.Errorf("host record %d is missing its migrated marker", id)
		}
		if repo.rows[id] == nil {
			t.Errorf("host record %d has no relational row", id)
		}
	}
	if _, ok, _ := store.GetField(ctx, bad, models.MetaKeyMigrated); ok {
		t.Error("failed record must not be marked migrated")
	}
	if status := state.m[migrate.StateKeyStatus]; status != string(models.MigrationStatusRunning) {
		t.Errorf("status = %q, want running", status)
	}
}

func TestRunBatchIsIdempotentAndResumable(t *testing.T) {
	ctx := context.Background()
	store := metastore.NewMemStore()
	repo := newFakeRepo()
	state := newFakeState()
	engine := migrate.NewEngine(store, repo, state, quietLogger())

	bad := seedInvoice(t, store, map[string]string{"buyer_name": "B"})
	seedInvoice(t, store, map[string]string{"invoice_number": "FV/1", "buyer_name": "A"})

	if _, err := engine.RunBatch(ctx, 10); err != nil {
		t.Fatalf("first RunBatch: %v", err)
	}
	firstRows := len(repo.rows)

	// second run reselects only the failed record
	result, err := engine.RunBatch(ctx, 10)
	if err != nil {
		t.Fatalf("second RunBatch: %v", err)
	}
	if result.MigratedCount != 0 || result.ErrorCount != 1 {
		t.Fatalf("second run migrated=%d errors=%d, want 0 and 1", result.MigratedCount, result.ErrorCount)
	}
	if len(repo.rows) != firstRows {
		t.Fatalf("rows = %d after rerun, want unchanged %d", len(repo.rows), firstRows)
	}

	// fixing the record lets the run complete
	if err := store.SetField(ctx, bad, "invoice_number", "FV/2"); err != nil {
		t.Fatalf("fix record: %v", err)
	}
	result, err = engine.RunBatch(ctx, 10)
	if err != nil {
		t.Fatalf("third RunBatch: %v", err)
	}
	if !result.Completed {
		t.Fatal("expected completion after the last record migrated")
	}
	if status := state.m[migrate.StateKeyStatus]; status != string(models.MigrationStatusCompleted) {
		t.Fatalf("status = %q, want completed", status)
	}
	if result.Progress.Percentage != 100 {
		t.Fatalf("percentage = %v, want 100", result.Progress.Percentage)
	}
}

func TestRunBatchRecoversFromPanic(t *testing.T) {
	ctx := context.Background()
	store := metastore.NewMemStore()
	repo := newFakeRepo()
	engine := migrate.NewEngine(store, repo, newFakeState(), quietLogger())

	boom := seedInvoice(t, store, map[string]string{"invoice_number": "FV/1", "buyer_name": "A"})
	seedInvoice(t, store, map[string]string{"invoice_number": "FV/2", "buyer_name": "B"})
	repo.panicFor[boom] = true

	result, err := engine.RunBatch(ctx, 10)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if result.MigratedCount != 1 || result.ErrorCount != 1 {
		t.Fatalf("migrated=%d errors=%d, want 1 and 1", result.MigratedCount, result.ErrorCount)
	}
	if !strings.Contains(result.Errors[0].Message, "panic") {
		t.Fatalf("error message = %q, want recovered panic detail", result.Errors[0].Message)
	}
}

func TestRunBatchRespectsBatchSize(t *testing.T) {
	ctx := context.Background()
	store := metastore.NewMemStore()
	repo := newFakeRepo()
	engine := migrate.NewEngine(store, repo, newFakeState(), quietLogger())

	seedInvoice(t, store, map[string]string{"invoice_number": "FV/1", "buyer_name": "A"})
	seedInvoice(t, store, map[string]string{"invoice_number": "FV/2", "buyer_name": "B"})
	seedInvoice(t, store, map[string]string{"invoice_number": "FV/3", "buyer_name": "C"})

	result, err := engine.RunBatch(ctx, 2)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if result.MigratedCount != 2 {
		t.Fatalf("migrated = %d, want batch size 2", result.MigratedCount)
	}
	if result.Completed {
		t.Fatal("must not report completed with one record left")
	}
}

func TestMigrateOneUpdatesExistingRow(t *testing.T) {
	ctx := context.Background()
	store := metastore.NewMemStore()
	repo := newFakeRepo()
	engine := migrate.NewEngine(store, repo, newFakeState(), quietLogger())

	id := seedInvoice(t, store, map[string]string{"invoice_number": "FV/1", "buyer_name": "Before"})
	if result := engine.MigrateOne(ctx, id); !result.Success {
		t.Fatalf("first MigrateOne: %+v", result)
	}
	relationalId := repo.rows[id].ID

	if err := store.SetField(ctx, id, "buyer_name", "After"); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if result := engine.MigrateOne(ctx, id); !result.Success {
		t.Fatalf("second MigrateOne: %+v", result)
	}
	if repo.rows[id].ID != relationalId {
		t.Fatalf("relational id changed on re-migration: %d -> %d", relationalId, repo.rows[id].ID)
	}
	if repo.rows[id].BuyerName != "After" {
		t.Fatalf("buyer name = %q, want re-migrated value", repo.rows[id].BuyerName)
	}
	if len(repo.rows) != 1 {
		t.Fatalf("rows = %d, want the single updated row", len(repo.rows))
	}
}

// A legacy record carrying one junk line item migrates anyway: the nameless
// item is skipped at insert time, it never rejects the whole invoice.
func TestMigrateOneSkipsNamelessItems(t *testing.T) {
	ctx := context.Background()
	store := metastore.NewMemStore()
	repo := newFakeRepo()
	engine := migrate.NewEngine(store, repo, newFakeState(), quietLogger())

	id := seedInvoice(t, store, map[string]string{
		"invoice_number": "FV/JUNK",
		"items":          `[{"name":"","qty":1,"price":"5"},{"name":"Good","qty":1,"price":"5"}]`,
	})
	result := engine.MigrateOne(ctx, id)
	if !result.Success {
		t.Fatalf("MigrateOne: %+v, want the invoice persisted despite the nameless item", result)
	}
	if _, ok, _ := store.GetField(ctx, id, models.MetaKeyMigrated); !ok {
		t.Fatal("migrated marker not set")
	}
	if repo.rows[id] == nil {
		t.Fatal("invoice row missing")
	}
}

func TestMigrateOneMissingHostRecord(t *testing.T) {
	ctx := context.Background()
	engine := migrate.NewEngine(metastore.NewMemStore(), newFakeRepo(), newFakeState(), quietLogger())

	result := engine.MigrateOne(ctx, 42)
	if result.Success {
		t.Fatal("migrating a nonexistent host record must fail")
	}
	if !strings.Contains(result.ErrorDetail, "42") {
		t.Fatalf("error detail = %q, want the record id named", result.ErrorDetail)
	}
}

func TestStatusDefaultsToPending(t *testing.T) {
	engine := migrate.NewEngine(metastore.NewMemStore(), newFakeRepo(), newFakeState(), quietLogger())
	status, err := engine.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != models.MigrationStatusPending {
		t.Fatalf("status = %q, want pending before any run", status)
	}
}

func TestProgressEmptyStoreIsComplete(t *testing.T) {
	engine := migrate.NewEngine(metastore.NewMemStore(), newFakeRepo(), newFakeState(), quietLogger())
	progress, err := engine.Progress(context.Background())
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if progress.Total != 0 || progress.Percentage != 100 {
		t.Fatalf("progress = %+v, want empty store reported as 100%%", progress)
	}
}

func TestRollbackClearsEverything(t *testing.T) {
	ctx := context.Background()
	store := metastore.NewMemStore()
	repo := newFakeRepo()
	state := newFakeState()
	engine := migrate.NewEngine(store, repo, state, quietLogger())

	id1 := seedInvoice(t, store, map[string]string{"invoice_number": "FV/1", "buyer_name": "A"})
	id2 := seedInvoice(t, store, map[string]string{"invoice_number": "FV/2", "buyer_name": "B"})
	if _, err := engine.RunBatch(ctx, 10); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	if err := engine.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if repo.truncations != 1 {
		t.Fatalf("truncations = %d, want 1", repo.truncations)
	}
	if len(repo.rows) != 0 {
		t.Fatalf("rows = %d after rollback, want none", len(repo.rows))
	}
	for _, id := range []int{id1, id2} {
		if _, ok, _ := store.GetField(ctx, id, models.MetaKeyMigrated); ok {
			t.Errorf("host record %d still carries the migrated marker", id)
		}
		if fields, _ := store.GetAllFields(ctx, id); fields["invoice_number"] == "" {
			t.Errorf("host record %d lost its source data", id)
		}
	}
	if status := state.m[migrate.StateKeyStatus]; status != string(models.MigrationStatusPending) {
		t.Fatalf("status = %q, want pending", status)
	}
	if _, ok := state.m[migrate.StateKeyProgress]; ok {
		t.Fatal("progress snapshot must be dropped on rollback")
	}

	// the whole set migrates again from scratch
	result, err := engine.RunBatch(ctx, 10)
	if err != nil {
		t.Fatalf("RunBatch after rollback: %v", err)
	}
	if result.MigratedCount != 2 || !result.Completed {
		t.Fatalf("re-migration = %+v, want both records migrated", result)
	}
}

func TestVerifyReportsDivergence(t *testing.T) {
	ctx := context.Background()
	store := metastore.NewMemStore()
	repo := newFakeRepo()
	engine := migrate.NewEngine(store, repo, newFakeState(), quietLogger())

	id1 := seedInvoice(t, store, map[string]string{"invoice_number": "FV/1", "buyer_name": "A"})
	id2 := seedInvoice(t, store, map[string]string{"invoice_number": "FV/2", "buyer_name": "B"})
	if _, err := engine.RunBatch(ctx, 10); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	report, err := engine.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.Status != migrate.VerifyStatusOk || len(report.Issues) != 0 {
		t.Fatalf("clean migration reported %+v", report)
	}

	// a relational row drifts from its source
	repo.rows[id1].BuyerName = "tampered"
	// another marked row loses its relational side entirely
	delete(repo.rows, id2)
	repo.orphanItems = 3

	report, err = engine.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify after tampering: %v", err)
	}
	if report.Status != migrate.VerifyStatusWarning {
		t.Fatalf("status = %q, want warning", report.Status)
	}
	if len(report.Issues) != 3 {
		t.Fatalf("issues = %v, want buyer mismatch, missing row and orphan count", report.Issues)
	}
}
