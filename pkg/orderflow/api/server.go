package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/randalmurphal/orderflow/pkg/orderflow"
	"github.com/randalmurphal/orderflow/pkg/orderflow/alerting"
	oferrors "github.com/randalmurphal/orderflow/pkg/orderflow/errors"
	"github.com/randalmurphal/orderflow/pkg/orderflow/event"
	"github.com/randalmurphal/orderflow/pkg/orderflow/failure"
	"github.com/randalmurphal/orderflow/pkg/orderflow/order"
	"github.com/randalmurphal/orderflow/pkg/orderflow/query"
)

// OrderService places and reads orders. *orderflow.Engine satisfies it.
type OrderService interface {
	Start(ctx context.Context, payload order.Payload, opts ...orderflow.StartOption) (*order.Order, error)
	Get(ctx context.Context, orderID string) (*order.Order, error)
	Resume(ctx context.Context, orderID string) (*order.Order, error)
	Fail(ctx context.Context, orderID, reason string) (*order.Order, error)
}

// AlarmStatuses reports alarm state. *alerting.Watcher satisfies it.
type AlarmStatuses interface {
	Statuses() []alerting.Status
}

// Config wires the server. Orders and Bus are required.
type Config struct {
	Orders   OrderService
	Bus      failure.Publisher
	Failures failure.Queue
	Alarms   AlarmStatuses

	// Queries serves /orders/:id/queries/:name when set.
	Queries *query.Executor

	// Lister serves /orders/summary and /orders/stuck when set.
	Lister query.Lister

	// RequestTimeout bounds each request. Default: 10s
	RequestTimeout time.Duration

	// Logger records requests. Default: slog.Default()
	Logger *slog.Logger
}

// Server is the HTTP surface.
type Server struct {
	cfg    Config
	logger *slog.Logger
	router *gin.Engine
}

// NewServer builds the router.
// Panics if Orders or Bus is nil.
func NewServer(cfg Config) *Server {
	if cfg.Orders == nil || cfg.Bus == nil {
		panic("api: Orders and Bus are required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{cfg: cfg, logger: logger}
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests, s.timeout)

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.POST("/orders", s.createOrder)
	r.GET("/orders/:id", s.getOrder)
	r.POST("/orders/:id/resume", s.resumeOrder)
	r.POST("/orders/:id/fail", s.failOrder)
	if cfg.Queries != nil {
		r.GET("/orders/:id/queries/:name", s.queryOrder)
	}
	if cfg.Lister != nil {
		r.GET("/orders/summary", s.summary)
		r.GET("/orders/stuck", s.stuck)
	}
	r.POST("/events", s.publishEvent)

	if cfg.Failures != nil {
		f := r.Group("/failures")
		f.GET("", s.listFailures)
		f.POST("/redrive", s.redriveFailures)
		f.GET("/:id", s.getFailure)
		f.POST("/:id/redrive", s.redriveFailure)
		f.DELETE("/:id", s.deleteFailure)
	}
	if cfg.Alarms != nil {
		r.GET("/alarms", func(c *gin.Context) { c.JSON(http.StatusOK, cfg.Alarms.Statuses()) })
	}

	s.router = r
	return s
}

// Handler returns the http.Handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Info("http request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.FullPath()),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("duration", time.Since(start)),
	)
}

func (s *Server) timeout(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

type createOrderReq struct {
	OrderID      string       `json:"orderId"`
	RestaurantID string       `json:"restaurantId"`
	UserID       string       `json:"userId"`
	Items        []order.Item `json:"items"`
}

func (s *Server) createOrder(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}

	var opts []orderflow.StartOption
	if req.OrderID != "" {
		opts = append(opts, orderflow.WithOrderID(req.OrderID))
	}
	payload := order.Payload{RestaurantID: req.RestaurantID, UserID: req.UserID, Items: req.Items}

	o, err := s.cfg.Orders.Start(c.Request.Context(), payload, opts...)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, o)
	case o != nil:
		// Stored but its first step did not finish; Resume completes it.
		s.logger.Warn("order stored with pending step", slog.String("order_id", o.ID), slog.String("error", err.Error()))
		c.JSON(http.StatusAccepted, gin.H{"order": o, "error": err.Error()})
	default:
		s.fail(c, err)
	}
}

func (s *Server) getOrder(c *gin.Context) {
	o, err := s.cfg.Orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) resumeOrder(c *gin.Context) {
	o, err := s.cfg.Orders.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type failOrderReq struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) failOrder(c *gin.Context) {
	var req failOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	o, err := s.cfg.Orders.Fail(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) queryOrder(c *gin.Context) {
	args := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			args[key] = values[0]
		}
	}
	v, err := s.cfg.Queries.Execute(c.Request.Context(), c.Param("id"), c.Param("name"), args)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": c.Param("name"), "orderId": c.Param("id"), "value": v})
}

func (s *Server) summary(c *gin.Context) {
	counts, err := query.Summary(c.Request.Context(), s.cfg.Lister)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (s *Server) stuck(c *gin.Context) {
	age := 15 * time.Minute
	if v := c.Query("age"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "age must be a non-negative duration"})
			return
		}
		age = d
	}
	orders, err := query.Stuck(c.Request.Context(), s.cfg.Lister, age, time.Now())
	if err != nil {
		s.fail(c, err)
		return
	}
	if orders == nil {
		orders = []*order.Order{}
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) publishEvent(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	evt, err := event.UnmarshalCloudEvent(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.cfg.Bus.Publish(c.Request.Context(), evt); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": evt.ID})
}

func (s *Server) listFailures(c *gin.Context) {
	max, err := queryInt(c, "max", 10)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	records, err := s.cfg.Failures.Receive(c.Request.Context(), max)
	if err != nil {
		s.fail(c, err)
		return
	}
	if records == nil {
		records = []failure.Record{}
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) getFailure(c *gin.Context) {
	rec, err := s.cfg.Failures.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) redriveFailure(c *gin.Context) {
	evt, err := failure.Redrive(c.Request.Context(), s.cfg.Failures, s.cfg.Bus, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": evt.ID, "causationId": evt.CausationID})
}

func (s *Server) redriveFailures(c *gin.Context) {
	max, err := queryInt(c, "max", 10)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := failure.RedriveAll(c.Request.Context(), s.cfg.Failures, s.cfg.Bus, max)
	resp := gin.H{"redriven": n}
	if err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusAccepted, resp)
}

func (s *Server) deleteFailure(c *gin.Context) {
	if err := s.cfg.Failures.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var valErr *oferrors.ValidationError
	switch {
	case errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrNotFound), errors.Is(err, failure.ErrNotFound),
		errors.Is(err, query.ErrQueryNotFound), errors.Is(err, query.ErrTargetNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrExists), errors.Is(err, orderflow.ErrOrderTerminal):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), oferrors.IsRetryable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &oferrors.ValidationError{Field: key, Message: "must be a non-negative integer"}
	}
	return n, nil
}
