package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/docbuild/docworker/config"
	"github.com/docbuild/docworker/internal/mocks"
)

func reaperTestConfig() config.ReaperConfig {
	cfg := config.ReaperConfig{
		Interval:        time.Minute,
		StuckThreshold:  2 * time.Hour,
		CompletedMaxAge: 24 * time.Hour,
		BatchSize:       100,
	}
	cfg.Sanitize()
	return cfg
}

func TestSweepReclaimsAndPurges(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cfg := reaperTestConfig()
	repo := mocks.NewMockReaperRepository(ctrl)
	repo.EXPECT().ReclaimStuck(gomock.Any(), cfg.StuckThreshold, cfg.BatchSize).Return(int64(3), nil)
	repo.EXPECT().DeleteOldJobs(gomock.Any(), cfg.CompletedMaxAge, cfg.BatchSize).Return(int64(7), nil)

	NewReaper(repo, cfg, nil).Sweep(context.Background())
}

func TestSweepContinuesPastReclaimFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cfg := reaperTestConfig()
	repo := mocks.NewMockReaperRepository(ctrl)
	repo.EXPECT().ReclaimStuck(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), errors.New("lock held"))
	repo.EXPECT().DeleteOldJobs(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), nil)

	NewReaper(repo, cfg, nil).Sweep(context.Background())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockReaperRepository(ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewReaper(repo, reaperTestConfig(), nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
