package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/lolify/internal/service/graph"
)

// QuotaReader reads the account's publishing limit.
type QuotaReader interface {
	Quota(ctx context.Context) (*graph.Quota, error)
}

// QuotaMonitor periodically logs the content publishing quota.
type QuotaMonitor struct {
	reader   QuotaReader
	logger   *zap.Logger
	interval time.Duration
	done     chan struct{}
}

func NewQuotaMonitor(reader QuotaReader, logger *zap.Logger, interval time.Duration) *QuotaMonitor {
	return &QuotaMonitor{
		reader:   reader,
		logger:   logger,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins checking the quota. A non-positive interval disables it.
func (m *QuotaMonitor) Start(ctx context.Context) {
	if m.interval <= 0 {
		m.logger.Info("Quota monitor disabled")
		return
	}

	ticker := time.NewTicker(m.interval)
	go func() {
		defer ticker.Stop()
		m.logger.Info("Starting quota monitor", zap.Duration("interval", m.interval))
		m.check(ctx)
		for {
			select {
			case <-m.done:
				m.logger.Info("Quota monitor stopped")
				return
			case <-ctx.Done():
				m.logger.Info("Quota monitor stopped due to context cancellation")
				return
			case <-ticker.C:
				m.check(ctx)
			}
		}
	}()
}

func (m *QuotaMonitor) Stop() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

func (m *QuotaMonitor) check(ctx context.Context) {
	quota, err := m.reader.Quota(ctx)
	if err != nil {
		m.logger.Error("Failed to check publishing quota", zap.Error(err))
		return
	}
	if quota.Exhausted() {
		m.logger.Warn("Publishing quota exhausted",
			zap.Int("quota_usage", quota.Usage),
			zap.Int("quota_total", quota.Total))
		return
	}
	m.logger.Debug("Publishing quota checked",
		zap.Int("quota_usage", quota.Usage),
		zap.Int("quota_total", quota.Total))
}
