package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/class-attendance/internal/attendance"
	"github.com/kozaktomas/class-attendance/internal/config"
	"github.com/kozaktomas/class-attendance/internal/database/postgres"
	"github.com/kozaktomas/class-attendance/internal/detector"
	"github.com/kozaktomas/class-attendance/internal/metrics"
	"github.com/kozaktomas/class-attendance/internal/recognition"
	"go.uber.org/zap"
)

// backend is everything a server-side command needs.
type backend struct {
	pool     *postgres.Pool
	detector *detector.Client
	metrics  *metrics.Metrics
	service  *attendance.Service
}

func (b *backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
}

// openBackend connects to PostgreSQL, applies migrations and builds the
// attendance service.
func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	logger.Info("connecting to PostgreSQL")
	pool, err := postgres.Open(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	b := &backend{pool: pool}

	factory, err := recognition.NewFactory(cfg.Match.Strategy, logger)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.metrics, err = metrics.New()
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	b.detector = detector.NewClient(cfg.Detector.URL, cfg.Detector.Timeout, logger)

	b.service, err = attendance.NewService(attendance.Deps{
		Identities: postgres.NewIdentityRepository(pool),
		Attendance: postgres.NewAttendanceRepository(pool),
		UnknownLog: postgres.NewUnknownFaceRepository(pool),
		Detector:   b.detector,
		Factory:    factory,
		Match:      cfg.Match,
		CacheTTL:   cfg.CacheTTL,
		Logger:     logger,
		Metrics:    b.metrics,
	})
	if err != nil {
		b.Close()
		return nil, err
	}
	logger.Info("attendance service ready",
		zap.String("matcher", cfg.Match.Strategy),
		zap.Float64("threshold", cfg.Match.Threshold),
		zap.String("detector", b.detector.BaseURL()))
	return b, nil
}
