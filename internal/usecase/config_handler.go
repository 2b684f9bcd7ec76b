package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	pkgkafka "MarketPulse/pkg/kafka"
	"MarketPulse/pkg/logger"
	pkgmetrics "MarketPulse/pkg/metrics"
)

// Syncer re-reads the market set.
type Syncer interface {
	Sync(ctx context.Context) error
}

// ConfigChangeHandler consumes config-change notifications and resyncs the
// monitor. The payload only carries metadata; the config source stays the
// source of truth.
type ConfigChangeHandler struct {
	topic   string
	syncer  Syncer
	metrics domrepo.Metrics
	log     *logger.Logger
}

func NewConfigChangeHandler(topic string, syncer Syncer, metrics domrepo.Metrics, log *logger.Logger) *ConfigChangeHandler {
	if log == nil {
		log = logger.NewNop()
	}
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	return &ConfigChangeHandler{topic: topic, syncer: syncer, metrics: metrics, log: log.Component("config_handler")}
}

func (h *ConfigChangeHandler) Topic() string { return h.topic }

// incoming message schema: {reason, markets, at}
func (h *ConfigChangeHandler) Handle(ctx context.Context, b []byte) error {
	var msg struct {
		Reason  string   `json:"reason"`
		Markets []string `json:"markets"`
		At      int64    `json:"at"`
	}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &msg); err != nil {
			h.metrics.RecordError("", "consumer_unmarshal")
			return err
		}
	}
	if msg.At > 0 {
		h.metrics.RecordLatency("config_change_lag", time.Since(time.Unix(msg.At, 0)).Seconds())
	}

	start := time.Now()
	err := h.syncer.Sync(ctx)
	h.metrics.RecordLatency("config_sync", time.Since(start).Seconds())
	if err == nil {
		h.log.Info("market config resynced", logger.String("reason", msg.Reason), logger.Strings("markets", msg.Markets))
		return nil
	}

	if errors.Is(err, ErrMonitorNotStarted) {
		h.log.Info("config change ignored, monitor not running", logger.String("reason", msg.Reason))
		return nil
	}

	// bad config will not get better by redelivery
	var cerr *models.ConfigError
	if errors.As(err, &cerr) || errors.Is(err, ErrMonitorStopped) {
		h.log.Error("config change rejected, keeping current markets", logger.Error(err))
		return nil
	}
	return err
}

var _ pkgkafka.MessageHandler = (*ConfigChangeHandler)(nil)
