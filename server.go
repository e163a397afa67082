package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mmdatafocus/mes_backend/config"
	"github.com/mmdatafocus/mes_backend/models"
	"github.com/mmdatafocus/mes_backend/utils"
	"github.com/mmdatafocus/mes_backend/workflow"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// httpStatusForError maps workflow errors onto the API's error taxonomy:
// 404 unknown resource, 409 retryable conflict, 422 semantic violation,
// 400 everything else the caller can fix.
func httpStatusForError(err error) int {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, utils.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, utils.ErrPolicyNotFound):
		// Plant configuration error, not a caller mistake.
		return http.StatusInternalServerError
	case errors.Is(err, utils.ErrInsufficientQuantity),
		errors.Is(err, utils.ErrInsufficientAvailable),
		errors.Is(err, utils.ErrNegativeResult),
		errors.Is(err, utils.ErrSequenceExhausted),
		errors.Is(err, utils.ErrCycleDetected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func abortWithError(c *gin.Context, err error) {
	cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
	c.JSON(httpStatusForError(err), gin.H{
		"error":          err.Error(),
		"correlation_id": cid,
	})
}

// plantMiddleware requires the x-plant-id header on every API route and puts
// it (plus the optional caller identity) into the request context.
func plantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		plantId := c.GetHeader("x-plant-id")
		if plantId == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "x-plant-id header is required"})
			return
		}
		ctx := utils.SetPlantIdInContext(c.Request.Context(), plantId)
		if userName := c.GetHeader("x-user-name"); userName != "" {
			ctx = utils.SetUserNameInContext(ctx, userName)
		}
		if userId, err := strconv.Atoi(c.GetHeader("x-user-id")); err == nil {
			ctx = utils.SetUserIdInContext(ctx, userId)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// bindJSON decodes and validates a request body; binding-tag violations come
// back as a per-field map.
func bindJSON(c *gin.Context, out interface{}) bool {
	err := c.ShouldBindJSON(out)
	if err == nil {
		return true
	}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation failed",
			"fields": utils.ProcessValidationErrors(validationErrors),
		})
		return false
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	return false
}

func confirmHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		var input models.NewConfirmation
		if !bindJSON(c, &input) {
			return
		}
		confirmation, err := workflow.ConfirmProduction(c.Request.Context(), logger, &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, confirmation)
	}
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func rejectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		confirmationId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid confirmation id"})
			return
		}
		var req rejectRequest
		if !bindJSON(c, &req) {
			return
		}
		confirmation, err := workflow.RejectConfirmation(c.Request.Context(), logger, confirmationId, req.Reason)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, confirmation)
	}
}

func getConfirmationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		confirmationId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid confirmation id"})
			return
		}
		plantId, _ := utils.GetPlantIdFromContext(c.Request.Context())
		confirmation, err := models.GetConfirmation(config.GetDB().WithContext(c.Request.Context()), plantId, confirmationId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, confirmation)
	}
}

type allocateRequest struct {
	OrderLineId int             `json:"order_line_id" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity" binding:"required"`
}

func allocateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		batchId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch id"})
			return
		}
		var req allocateRequest
		if !bindJSON(c, &req) {
			return
		}
		allocation, err := workflow.AllocateBatch(c.Request.Context(), logger, batchId, req.OrderLineId, req.Quantity)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, allocation)
	}
}

func releaseAllocationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		allocationId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid allocation id"})
			return
		}
		allocation, err := workflow.ReleaseAllocation(c.Request.Context(), logger, allocationId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, allocation)
	}
}

type adjustRequest struct {
	NewQuantity    decimal.Decimal `json:"new_quantity" binding:"required"`
	AdjustmentType string          `json:"adjustment_type" binding:"required"`
	Reason         string          `json:"reason" binding:"required"`
}

func adjustHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		batchId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch id"})
			return
		}
		var req adjustRequest
		if !bindJSON(c, &req) {
			return
		}
		adjustmentType, err := models.ParseAdjustmentType(req.AdjustmentType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		adjustment, err := workflow.AdjustBatchQuantity(c.Request.Context(), logger, batchId, req.NewQuantity, adjustmentType, req.Reason)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, adjustment)
	}
}

func genealogyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		batchId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch id"})
			return
		}
		plantId, _ := utils.GetPlantIdFromContext(c.Request.Context())
		db := config.GetDB().WithContext(c.Request.Context())

		batch, err := models.GetBatch(db, plantId, batchId)
		if err != nil {
			abortWithError(c, err)
			return
		}

		direction := c.DefaultQuery("direction", "both")
		response := gin.H{"batch": batch}
		if direction == "ancestors" || direction == "both" {
			ancestors, err := workflow.AncestorsOf(db, plantId, batchId)
			if err != nil {
				abortWithError(c, err)
				return
			}
			parentEdges, err := models.GetParentRelations(db, plantId, batchId)
			if err != nil {
				abortWithError(c, err)
				return
			}
			response["ancestors"] = ancestors
			response["parent_edges"] = parentEdges
		}
		if direction == "descendants" || direction == "both" {
			descendants, err := workflow.DescendantsOf(db, plantId, batchId)
			if err != nil {
				abortWithError(c, err)
				return
			}
			childEdges, err := models.GetChildRelations(db, plantId, batchId)
			if err != nil {
				abortWithError(c, err)
				return
			}
			response["descendants"] = descendants
			response["child_edges"] = childEdges
		}
		c.JSON(http.StatusOK, response)
	}
}

func availabilityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		batchId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch id"})
			return
		}
		availability, err := workflow.GetBatchAvailability(c.Request.Context(), batchId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, availability)
	}
}

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

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Header("x-correlation-id", cid)
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe and scrapes.
		if c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-plant-id", "x-user-name", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "x-correlation-id")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api/v1", plantMiddleware())
	api.POST("/confirmations", confirmHandler())
	api.GET("/confirmations/:id", getConfirmationHandler())
	api.POST("/confirmations/:id/reject", rejectHandler())
	api.POST("/batches/:id/allocations", allocateHandler())
	api.POST("/allocations/:id/release", releaseAllocationHandler())
	api.POST("/batches/:id/adjustments", adjustHandler())
	api.GET("/batches/:id/genealogy", genealogyHandler())
	api.GET("/batches/:id/availability", availabilityHandler())

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start audit outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
