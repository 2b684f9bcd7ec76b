package api

import (
	"context"
	"errors"
	"time"

	models "MarketPulse/internal/domain/models"
	"MarketPulse/internal/service/cache"
	qmetrics "MarketPulse/internal/service/metrics"
	"MarketPulse/internal/usecase"
	xhttp "MarketPulse/pkg/http"
	xlogger "MarketPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Monitor is the read side of the market monitor.
type Monitor interface {
	Statuses() []models.MarketStatus
	MarketStatus(key string) (models.MarketStatus, error)
	Composite() models.CompositeSnapshot
	Resolve(key string, at time.Time) (models.Resolution, error)
	Market(key string) (models.MarketConfig, bool)
	Running() bool
	Pending() int
}

type HolidayLister interface {
	Holidays(m models.MarketConfig, year int) []models.Holiday
}

// HistoryReader serves past transitions. Nil disables the transitions route.
type HistoryReader interface {
	History(ctx context.Context, market string, from, to time.Time, limit int) ([]models.TransitionEvent, error)
}

type historyKey struct {
	market   string
	from, to int64
	limit    int
}

// MarketsEchoHandler serves market status, holidays, history and the composite.
type MarketsEchoHandler struct {
	logger   *xlogger.Logger
	monitor  Monitor
	calendar HolidayLister
	history  HistoryReader
	metrics  *qmetrics.QueryMetrics
	now      func() time.Time

	historyTTL time.Duration
	recent     *cache.Memo[historyKey, []models.TransitionEvent]
}

func NewMarketsEchoHandler(
	logger *xlogger.Logger,
	monitor Monitor,
	calendar HolidayLister,
	history HistoryReader,
	metrics *qmetrics.QueryMetrics,
) *MarketsEchoHandler {
	return &MarketsEchoHandler{
		logger:     logger.Component("api"),
		monitor:    monitor,
		calendar:   calendar,
		history:    history,
		metrics:    metrics,
		now:        time.Now,
		historyTTL: 10 * time.Second,
		recent:     cache.NewMemo[historyKey, []models.TransitionEvent](),
	}
}

func (h *MarketsEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/markets", h.List)
	g.GET("/markets/:key/status", h.Status)
	g.GET("/markets/:key/holidays", h.Holidays)
	if h.history != nil {
		g.GET("/markets/:key/transitions", h.Transitions)
	}
	g.GET("/composite", h.Composite)
}

type statusRequest struct {
	Key string `param:"key" validate:"required"`
	At  string `query:"at" validate:"omitempty,instant"`
}

type holidaysRequest struct {
	Key  string `param:"key" validate:"required"`
	Year int    `query:"year" validate:"omitempty,gte=1900,lte=2200"`
}

type transitionsRequest struct {
	Key   string `param:"key" validate:"required"`
	From  string `query:"from" validate:"omitempty,instant"`
	To    string `query:"to" validate:"omitempty,instant"`
	Limit int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

// resolutionResponse is a status evaluated at a caller-chosen instant.
type resolutionResponse struct {
	MarketKey          string           `json:"market_key"`
	At                 time.Time        `json:"at"`
	Status             models.Status    `json:"status"`
	Phase              models.Phase     `json:"phase"`
	NextEvent          models.EventKind `json:"next_event,omitempty"`
	NextEventAt        time.Time        `json:"next_event_at"`
	SecondsToNextEvent int64            `json:"seconds_to_next_event"`
	TradingDay         bool             `json:"trading_day"`
	IsHolidayToday     bool             `json:"is_holiday_today"`
	HolidayName        string           `json:"holiday_name,omitempty"`
	OpenAt             *time.Time       `json:"open_at,omitempty"`
	CloseAt            *time.Time       `json:"close_at,omitempty"`
	Error              string           `json:"error,omitempty"`
}

type holidaysResponse struct {
	MarketKey string           `json:"market_key"`
	Year      int              `json:"year"`
	Holidays  []models.Holiday `json:"holidays"`
}

type healthResponse struct {
	Running bool `json:"running"`
	Armed   int  `json:"armed"`
}

func (h *MarketsEchoHandler) List(c echo.Context) error {
	start := time.Now()
	rows := h.monitor.Statuses()
	h.metrics.Observe("markets", start, false)
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// Status answers from committed state, or from a fresh resolve when at is given.
func (h *MarketsEchoHandler) Status(c echo.Context) error {
	start := time.Now()
	req := &statusRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		h.metrics.Observe("status", start, true)
		return xhttp.BadRequestResponse(c, verr)
	}

	if req.At == "" {
		st, err := h.monitor.MarketStatus(req.Key)
		h.metrics.Observe("status", start, err != nil)
		if err != nil {
			return h.marketError(c, req.Key, err)
		}
		return xhttp.SuccessResponse(c, st)
	}

	at, _ := xhttp.ParseTime(req.At)
	res, err := h.monitor.Resolve(req.Key, at)
	h.metrics.Observe("status", start, err != nil)
	if errors.Is(err, usecase.ErrUnknownMarket) {
		return h.marketError(c, req.Key, err)
	}
	return xhttp.SuccessResponse(c, newResolutionResponse(req.Key, at, res, err))
}

func (h *MarketsEchoHandler) Holidays(c echo.Context) error {
	start := time.Now()
	req := &holidaysRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		h.metrics.Observe("holidays", start, true)
		return xhttp.BadRequestResponse(c, verr)
	}
	cfg, ok := h.monitor.Market(req.Key)
	if !ok {
		h.metrics.Observe("holidays", start, true)
		return h.marketError(c, req.Key, usecase.ErrUnknownMarket)
	}
	year := req.Year
	if year == 0 {
		loc := cfg.Location
		if loc == nil {
			loc = time.UTC
		}
		year = h.now().In(loc).Year()
	}
	list := h.calendar.Holidays(cfg, year)
	h.metrics.Observe("holidays", start, false)
	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=3600")
	return xhttp.SuccessResponse(c, holidaysResponse{MarketKey: cfg.Key, Year: year, Holidays: list})
}

// Transitions lists recorded events, newest window last. Defaults to the past 7 days.
func (h *MarketsEchoHandler) Transitions(c echo.Context) error {
	start := time.Now()
	req := &transitionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		h.metrics.Observe("transitions", start, true)
		return xhttp.BadRequestResponse(c, verr)
	}
	if _, ok := h.monitor.Market(req.Key); !ok {
		h.metrics.Observe("transitions", start, true)
		return h.marketError(c, req.Key, usecase.ErrUnknownMarket)
	}

	// minute granularity keeps the memo key stable across polls
	to := h.now().UTC().Truncate(time.Minute)
	if req.To != "" {
		to, _ = xhttp.ParseTime(req.To)
	}
	from := to.Add(-7 * 24 * time.Hour)
	if req.From != "" {
		t, _ := xhttp.ParseTime(req.From)
		if !t.Before(to) {
			h.metrics.Observe("transitions", start, true)
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from", "from must be a time before to"))
		}
		from = t
	}

	key := historyKey{market: req.Key, from: from.Unix(), to: to.Unix(), limit: req.Limit}
	rows, ok := h.recent.Get(key)
	if !ok {
		h.recent.DeleteExpired()
		var err error
		rows, err = h.history.History(c.Request().Context(), req.Key, from, to, req.Limit)
		if err != nil {
			h.metrics.Observe("transitions", start, true)
			h.logger.Error("history query failed", xlogger.Market(req.Key), xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("history for %s unavailable", req.Key).WithError(err))
		}
		h.recent.Set(key, rows, h.historyTTL)
	}
	h.metrics.Observe("transitions", start, false)
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *MarketsEchoHandler) Composite(c echo.Context) error {
	start := time.Now()
	snap := h.monitor.Composite()
	h.metrics.Observe("composite", start, false)
	return xhttp.SuccessResponse(c, snap)
}

// Health is 503 until the monitor is running. A monitor that runs with no
// armed market is degraded and also reports 503.
func (h *MarketsEchoHandler) Health(c echo.Context) error {
	body := healthResponse{Running: h.monitor.Running(), Armed: h.monitor.Pending()}
	if !body.Running {
		return xhttp.ServiceUnavailableResponse(c, body)
	}
	if body.Armed == 0 && len(h.monitor.Statuses()) > 0 {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("monitor is running but no market is armed"))
	}
	return xhttp.SuccessResponse(c, body)
}

func (h *MarketsEchoHandler) marketError(c echo.Context, key string, err error) error {
	if errors.Is(err, usecase.ErrUnknownMarket) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("market %q is not scheduled", key).WithParam("market", key))
	}
	h.logger.Error("status query failed", xlogger.Market(key), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("status for %s: %v", key, err))
}

func newResolutionResponse(key string, at time.Time, res models.Resolution, err error) resolutionResponse {
	out := resolutionResponse{
		MarketKey:          key,
		At:                 at.UTC(),
		Status:             res.Status(),
		Phase:              res.Phase,
		NextEvent:          res.NextEvent,
		NextEventAt:        res.NextEventAt,
		SecondsToNextEvent: models.CeilSeconds(res.Until),
		TradingDay:         res.TradingDay,
		IsHolidayToday:     res.IsHolidayToday,
		HolidayName:        res.HolidayName,
	}
	if res.TradingDay {
		open, closeAt := res.OpenAt, res.CloseAt
		out.OpenAt, out.CloseAt = &open, &closeAt
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// Ensure the handler satisfies the server's route registration contract.
var _ xhttp.Handler = (*MarketsEchoHandler)(nil)
