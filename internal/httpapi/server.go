package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/jobdedup/internal/posting"
	"horse.fit/jobdedup/internal/store"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

type Options struct {
	Addr               string
	CORSAllowedOrigins []string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	Now                func() time.Time
}

type Server struct {
	store  store.Store
	logger zerolog.Logger
	opts   Options
	echo   *echo.Echo
}

type postingDetail struct {
	Posting posting.CanonicalPosting `json:"posting"`
	Company *posting.Company         `json:"company,omitempty"`
}

func NewServer(s store.Store, logger zerolog.Logger, opts Options) *Server {
	if strings.TrimSpace(opts.Addr) == "" {
		opts.Addr = ":8080"
	}
	if len(opts.CORSAllowedOrigins) == 0 {
		opts.CORSAllowedOrigins = []string{"*"}
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	srv := &Server{store: s, logger: logger, opts: opts}
	srv.echo = srv.routes()
	return srv
}

// Handler exposes the routed echo instance, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.CORSAllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/postings", s.handlePostings)
	api.GET("/postings/:id", s.handlePostingDetail)
	api.GET("/raw", s.handleRaw)
	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("server is not initialized")
	}

	httpServer := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.echo,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := s.echo.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", s.opts.Addr).Msg("jobdedup api server started")

	if err := s.echo.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("jobdedup api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	status := "ok"
	code := http.StatusOK
	if err := s.store.Ping(c.Request().Context()); err != nil {
		s.logger.Warn().Err(err).Msg("health check store ping failed")
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	return successWithStatus(c, code, map[string]any{
		"service": "jobdedup",
		"store":   status,
		"time":    s.opts.Now().UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.store.Stats(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handlePostings(c echo.Context) error {
	filter, problems := parseCanonicalFilter(c)
	if len(problems) > 0 {
		return failValidation(c, problems)
	}

	page, err := s.store.ListCanonical(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("query postings failed")
		return internalError(c, "Failed to load postings")
	}

	return success(c, map[string]any{
		"items":      page.Items,
		"pagination": pagination(page.Page, page.PageSize, page.Total),
		"filters": map[string]any{
			"from":       optionalTime(filter.From),
			"to":         optionalTime(filter.To),
			"min_trust":  filter.MinTrust,
			"q":          filter.Query,
			"company":    filter.Company,
			"location":   filter.Location,
			"min_salary": filter.MinSalary,
			"remote":     filter.Remote,
			"status":     filter.Status,
		},
	})
}

func (s *Server) handlePostingDetail(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return failValidation(c, map[string]string{"id": "is required"})
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return failNotFound(c, "Posting not found")
	}
	id = parsed.String()

	ctx := c.Request().Context()
	found, err := s.store.GetCanonical(ctx, id)
	if err != nil {
		if errors.Is(err, posting.ErrNotFound) {
			return failNotFound(c, "Posting not found")
		}
		s.logger.Error().Err(err).Str("id", id).Msg("query posting failed")
		return internalError(c, "Failed to load posting")
	}

	detail := postingDetail{Posting: found}
	if found.CompanyKey != "" {
		company, err := s.store.GetCompany(ctx, found.CompanyKey)
		switch {
		case err == nil:
			detail.Company = &company
		case errors.Is(err, posting.ErrNotFound):
		default:
			s.logger.Warn().Err(err).Str("company_key", found.CompanyKey).Msg("query company profile failed")
		}
	}
	return success(c, detail)
}

func (s *Server) handleRaw(c echo.Context) error {
	problems := map[string]string{}
	page, pageSize := parsePaging(c, problems)

	from, err := parseTimeFilter(c.QueryParam("fetched_from"), false)
	if err != nil {
		problems["fetched_from"] = "must be RFC3339 or YYYY-MM-DD"
	}
	to, err := parseTimeFilter(c.QueryParam("fetched_to"), true)
	if err != nil {
		problems["fetched_to"] = "must be RFC3339 or YYYY-MM-DD"
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		problems["time_range"] = "fetched_from must be <= fetched_to"
	}
	if len(problems) > 0 {
		return failValidation(c, problems)
	}

	filter := store.RawFilter{
		Source:      strings.TrimSpace(c.QueryParam("source")),
		SourceID:    strings.TrimSpace(c.QueryParam("source_id")),
		FetchedFrom: from,
		FetchedTo:   to,
		Page:        page,
		PageSize:    pageSize,
	}
	result, err := s.store.ListRaw(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("query raw postings failed")
		return internalError(c, "Failed to load raw postings")
	}

	return success(c, map[string]any{
		"items":      result.Items,
		"pagination": pagination(result.Page, result.PageSize, result.Total),
	})
}

func parseCanonicalFilter(c echo.Context) (store.CanonicalFilter, map[string]string) {
	problems := map[string]string{}
	page, pageSize := parsePaging(c, problems)

	from, err := parseTimeFilter(c.QueryParam("from"), false)
	if err != nil {
		problems["from"] = "must be RFC3339 or YYYY-MM-DD"
	}
	to, err := parseTimeFilter(c.QueryParam("to"), true)
	if err != nil {
		problems["to"] = "must be RFC3339 or YYYY-MM-DD"
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		problems["time_range"] = "from must be <= to"
	}

	filter := store.CanonicalFilter{
		From:     from,
		To:       to,
		Query:    strings.TrimSpace(c.QueryParam("q")),
		Company:  strings.TrimSpace(c.QueryParam("company")),
		Location: strings.TrimSpace(c.QueryParam("location")),
		Status:   strings.TrimSpace(strings.ToLower(c.QueryParam("status"))),
		Page:     page,
		PageSize: pageSize,
	}

	if raw := strings.TrimSpace(c.QueryParam("min_trust")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			problems["min_trust"] = "must be a number between 0 and 1"
		} else {
			filter.MinTrust = &v
		}
	}
	if raw := strings.TrimSpace(c.QueryParam("min_salary")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			problems["min_salary"] = "must be a non-negative number"
		} else {
			filter.MinSalary = v
		}
	}
	if raw := strings.TrimSpace(c.QueryParam("remote")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			problems["remote"] = "must be true or false"
		} else {
			filter.Remote = &v
		}
	}
	switch filter.Status {
	case "", posting.StatusActive, posting.StatusInactive:
	default:
		problems["status"] = "must be active or inactive"
	}
	return filter, problems
}

func parsePaging(c echo.Context, problems map[string]string) (int, int) {
	page, err := parsePositiveInt(c.QueryParam("page"), 1, 1, 1_000_000)
	if err != nil {
		problems["page"] = err.Error()
	}
	pageSize, err := parsePositiveInt(c.QueryParam("page_size"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		problems["page_size"] = err.Error()
	}
	return page, pageSize
}

func pagination(page, pageSize int, total int64) map[string]any {
	totalPages := 0
	if total > 0 && pageSize > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return map[string]any{
		"page":        page,
		"page_size":   pageSize,
		"total_items": total,
		"total_pages": totalPages,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

// parseTimeFilter accepts RFC3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func parseTimeFilter(raw string, endOfDay bool) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, nil
	}

	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return ts.UTC(), nil
	}

	if day, err := time.Parse("2006-01-02", trimmed); err == nil {
		utc := day.UTC()
		if endOfDay {
			utc = utc.Add(24 * time.Hour)
		}
		return utc, nil
	}

	return time.Time{}, fmt.Errorf("invalid time format")
}
