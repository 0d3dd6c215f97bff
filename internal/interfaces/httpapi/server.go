package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bundlerelay/internal/config"
	"bundlerelay/internal/domain"
)

type FeeEstimator interface {
	EstimateFee(ctx context.Context, params domain.FeeParams) (domain.FeeEstimate, error)
}

type Populator interface {
	PopulateTransactions(ctx context.Context, from common.Address, fragments []domain.TransactionFragment) ([]domain.PopulatedTransaction, error)
}

type BundleService interface {
	Submit(ctx context.Context, key string, txs []domain.SignedTransaction) (domain.BundleAttempt, error)
	Get(ctx context.Context, id string) (domain.BundleAttempt, bool, error)
	List(ctx context.Context, key string, limit int) ([]domain.BundleAttempt, error)
	Cancel(id string) bool
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type RPCStatus interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type Dependencies struct {
	Fees      FeeEstimator
	Populator Populator
	Bundles   BundleService
	Store     Pinger
	RPC       RPCStatus
	Tokens    *config.TokenRegistry
	Network   config.Network
	// PremiumMultiplier applies when a fee request leaves it unset.
	PremiumMultiplier float64
	Metrics           *Metrics
	Logger            *zap.Logger
}

type Server struct {
	deps      Dependencies
	buildInfo BuildInfo
	echo      *echo.Echo
}

func NewServer(deps Dependencies, buildInfo BuildInfo) (*Server, error) {
	if deps.Fees == nil || deps.Populator == nil || deps.Bundles == nil || deps.Store == nil || deps.RPC == nil {
		return nil, errors.New("http server dependencies must not be nil")
	}
	if deps.Tokens == nil {
		deps.Tokens = config.NewTokenRegistry(nil)
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.PremiumMultiplier == 0 {
		deps.PremiumMultiplier = 1
	}
	s := &Server{deps: deps, buildInfo: buildInfo}
	s.echo = s.routes()
	return s, nil
}

func (s *Server) MetricsObserver() *Metrics {
	return s.deps.Metrics
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.deps.Metrics.middleware())
	e.Use(s.requestLogger())

	e.GET("/healthz", s.handleHealth)
	e.GET("/readyz", s.handleReady)
	e.GET("/version", s.handleVersion)
	e.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))

	e.POST("/fees/estimate", s.handleEstimateFee)
	e.POST("/bundles/build", s.handleBuildBundle)
	e.POST("/bundles/populate", s.handlePopulate)
	e.POST("/bundles", s.handleSubmitBundle)
	e.GET("/bundles", s.handleListBundles)
	e.GET("/bundles/:id", s.handleGetBundle)
	e.DELETE("/bundles/:id", s.handleCancelBundle)
	return e
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.Store.Ping(ctx); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "db not ready")
	}
	block, err := s.deps.RPC.LatestBlockNumber(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "rpc not ready")
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ready", "latest_block": block})
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, s.buildInfo)
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	message := "internal error"
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Code
		message = fmt.Sprint(httpErr.Message)
	} else {
		s.deps.Logger.Sugar().Errorw("unhandled http error", "path", c.Path(), "error", err)
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, errorResponse{Error: message})
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			s.deps.Logger.Sugar().Debugw("http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration", time.Since(start),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			return err
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain failures onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrMissingField),
		errors.Is(err, domain.ErrInvalidMultiplier),
		errors.Is(err, domain.ErrUnsupportedToken),
		errors.Is(err, domain.ErrUnsupportedNetwork),
		errors.Is(err, domain.ErrEmptyBundle),
		errors.Is(err, domain.ErrInvalidDecimals):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSimulationFailed),
		errors.Is(err, domain.ErrSignatureMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrOracleUnavailable),
		errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrSubmissionRejected):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, domain.ErrRetryDeadline):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func domainError(err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		return err
	}
	return echo.NewHTTPError(status, err.Error())
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.Errorf("invalid limit %q", raw)
	}
	return limit, nil
}
