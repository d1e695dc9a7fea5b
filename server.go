package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/invoice_bridge/config"
	"bitbucket.org/mmdatafocus/invoice_bridge/metastore"
	"bitbucket.org/mmdatafocus/invoice_bridge/migrate"
	"bitbucket.org/mmdatafocus/invoice_bridge/models"
	"bitbucket.org/mmdatafocus/invoice_bridge/utils"
	"bitbucket.org/mmdatafocus/invoice_bridge/workflow"
)

const defaultPort = "8080"

// migrationLockKey serializes batch and rollback runs across replicas.
const migrationLockKey = "lock:invoice-migration"

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// withMigrationLock rejects a second concurrent batch/rollback with 409
// instead of queueing it. Lock TTL covers the longest expected batch.
func withMigrationLock(logger *logrus.Logger, next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		locker := config.GetRedisLock()
		if locker == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lock service not ready"})
			return
		}
		lock, err := locker.Obtain(c.Request.Context(), migrationLockKey, 10*time.Minute, nil)
		if err == redislock.ErrNotObtained {
			c.JSON(http.StatusConflict, gin.H{"error": "another migration run is in progress"})
			return
		}
		if err != nil {
			config.LogError(logger, "server.go", "withMigrationLock", "obtaining migration lock", migrationLockKey, err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not obtain migration lock"})
			return
		}
		defer func() {
			if releaseErr := lock.Release(c.Request.Context()); releaseErr != nil && releaseErr != redislock.ErrLockNotHeld {
				logger.WithFields(logrus.Fields{
					"field": "withMigrationLock",
					"key":   migrationLockKey,
				}).Warn("failed to release migration lock: " + releaseErr.Error())
			}
		}()
		next(c)
	}
}

func writeModelError(c *gin.Context, err error) {
	var validationErr *utils.ValidationError
	var integrityErr *utils.IntegrityError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error(), "rules": validationErr.Rules})
	case errors.As(err, &integrityErr):
		c.JSON(http.StatusConflict, gin.H{"error": integrityErr.Error()})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func runBatchHandler(engine *migrate.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		batchSize, _ := strconv.Atoi(c.DefaultQuery("batch_size", "0"))
		result, err := engine.RunBatch(c.Request.Context(), batchSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func migrateOneHandler(engine *migrate.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid host record id"})
			return
		}
		result := engine.MigrateOne(c.Request.Context(), id)
		status := http.StatusOK
		if !result.Success {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, result)
	}
}

func progressHandler(engine *migrate.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		progress, err := engine.Progress(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		status, err := engine.Status(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "progress": progress})
	}
}

func rollbackHandler(engine *migrate.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Query("confirm") != "true" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rollback requires confirm=true"})
			return
		}
		if err := engine.Rollback(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": string(models.MigrationStatusPending)})
	}
}

func verifyHandler(engine *migrate.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := engine.Verify(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func createInvoiceHandler(lifecycle *workflow.LifecycleService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var invoice models.Invoice
		if err := c.ShouldBindJSON(&invoice); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := lifecycle.CreateInvoice(c.Request.Context(), &invoice); err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, invoice)
	}
}

func updateInvoiceHandler(lifecycle *workflow.LifecycleService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}
		var invoice models.Invoice
		if err := c.ShouldBindJSON(&invoice); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		invoice.ID = id
		if err := lifecycle.UpdateInvoice(c.Request.Context(), &invoice); err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

func deleteInvoiceHandler(lifecycle *workflow.LifecycleService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}
		if err := lifecycle.DeleteInvoice(c.Request.Context(), id); err != nil {
			writeModelError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func getInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}
		invoice, err := models.GetInvoice(c.Request.Context(), id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

func getInvoiceByNumberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		number := strings.TrimSpace(c.Param("number"))
		if number == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invoice number required"})
			return
		}
		invoice, err := models.GetInvoiceByNumber(c.Request.Context(), number)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

func parseInvoiceFilter(c *gin.Context) models.InvoiceFilter {
	filter := models.InvoiceFilter{
		Kind:           models.InvoiceKind(c.Query("kind")),
		WorkflowStatus: models.WorkflowStatus(c.Query("workflow_status")),
		Search:         strings.TrimSpace(c.Query("search")),
	}
	if from, ok := utils.ParseFlexibleTime(c.Query("date_from")); ok {
		filter.DateFrom = &from
	}
	if to, ok := utils.ParseFlexibleTime(c.Query("date_to")); ok {
		filter.DateTo = &to
	}
	return filter
}

func listInvoicesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
		result, err := models.ListInvoices(c.Request.Context(), parseInvoiceFilter(c), page, pageSize)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func invoiceSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := models.GetInvoiceTotalsSummary(c.Request.Context(), parseInvoiceFilter(c))
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func paymentBreakdownHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := parseInvoiceFilter(c)
		breakdown, err := models.GetPaymentBreakdown(c.Request.Context(), filter.DateFrom, filter.DateTo)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, breakdown)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// customErrorLogger logs only requests that collected errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server before the dependencies are ready; until then
	// app endpoints return 503.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	engine := migrate.NewEngine(lazyMetaStore{}, migrate.GormRepository{}, models.SettingsStore{}, logger)
	lifecycle := workflow.NewLifecycleService(lazyMetaStore{}, models.NoopMatcher{}, logger)

	r.POST("/migration/batch", withMigrationLock(logger, runBatchHandler(engine)))
	r.POST("/migration/invoice/:id", migrateOneHandler(engine))
	r.GET("/migration/progress", progressHandler(engine))
	r.POST("/migration/rollback", withMigrationLock(logger, rollbackHandler(engine)))
	r.GET("/migration/verify", verifyHandler(engine))

	r.POST("/invoices", createInvoiceHandler(lifecycle))
	r.GET("/invoices", listInvoicesHandler())
	r.GET("/invoices/summary", invoiceSummaryHandler())
	r.GET("/invoices/by-number/:number", getInvoiceByNumberHandler())
	r.GET("/invoices/:id", getInvoiceHandler())
	r.PUT("/invoices/:id", updateInvoiceHandler(lifecycle))
	r.DELETE("/invoices/:id", deleteInvoiceHandler(lifecycle))
	r.GET("/payments/breakdown", paymentBreakdownHandler())

	r.NoRoute(customNotFoundHandler)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	store := metastore.NewSQLStore(db)
	models.UseMetaStore(store)
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	// Schema reconciliation can run DDL; allow pushing it to a separate job.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := store.EnsureTables(); err != nil {
			logger.WithFields(logrus.Fields{"field": "schema"}).Panic("host record table setup failed: " + err.Error())
		}
		if err := models.ReconcileSchema(context.Background()); err != nil {
			logger.WithFields(logrus.Fields{"field": "schema"}).Panic("schema reconciliation failed: " + err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "schema"}).Warn("SKIP_MIGRATIONS=true; skipping schema reconciliation on startup")
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("invoice bridge listening on port ", port)

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// lazyMetaStore defers to models.MetaStore() on every call so the engine
// and lifecycle can be constructed before the database connection exists.
type lazyMetaStore struct{}

func (lazyMetaStore) GetField(ctx context.Context, entityId int, key string) (string, bool, error) {
	return models.MetaStore().GetField(ctx, entityId, key)
}

func (lazyMetaStore) SetField(ctx context.Context, entityId int, key string, value string) error {
	return models.MetaStore().SetField(ctx, entityId, key, value)
}

func (lazyMetaStore) DeleteField(ctx context.Context, entityId int, key string) error {
	return models.MetaStore().DeleteField(ctx, entityId, key)
}

func (lazyMetaStore) GetAllFields(ctx context.Context, entityId int) (map[string]string, error) {
	return models.MetaStore().GetAllFields(ctx, entityId)
}

func (lazyMetaStore) GetEntity(ctx context.Context, entityId int) (*metastore.HostRecord, error) {
	return models.MetaStore().GetEntity(ctx, entityId)
}

func (lazyMetaStore) QueryEntities(ctx context.Context, q metastore.EntityQuery) ([]int, error) {
	return models.MetaStore().QueryEntities(ctx, q)
}

func (lazyMetaStore) CountEntities(ctx context.Context, q metastore.EntityQuery) (int64, error) {
	return models.MetaStore().CountEntities(ctx, q)
}

func (lazyMetaStore) CreateEntity(ctx context.Context, entity metastore.NewEntity) (int, error) {
	return models.MetaStore().CreateEntity(ctx, entity)
}

func (lazyMetaStore) DeleteEntity(ctx context.Context, entityId int) error {
	return models.MetaStore().DeleteEntity(ctx, entityId)
}

func (lazyMetaStore) SetEntityCreatedAt(ctx context.Context, entityId int, createdAt time.Time) error {
	return models.MetaStore().SetEntityCreatedAt(ctx, entityId, createdAt)
}
