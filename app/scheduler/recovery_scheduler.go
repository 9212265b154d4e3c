// Package scheduler
package scheduler

import (
	"context"
	"io"
	"log"
	"os"
	"time"

	businessflow "github.com/parsclinic/clinic-core/business_flow"
	"github.com/parsclinic/clinic-core/config"
	"github.com/parsclinic/clinic-core/repository"
	"github.com/parsclinic/clinic-core/utils"
	"gopkg.in/natefinch/lumberjack.v2"
)

// RecoveryScheduler periodically resolves completion sagas stuck mid-flight
// and purges expired time-bucketed sequence counters.
type RecoveryScheduler struct {
	recoveryFlow businessflow.RecoveryFlow
	seqRepo      repository.SequenceCounterRepository
	logger       *log.Logger
	cfg          config.WorkflowConfig
}

func NewRecoveryScheduler(
	recoveryFlow businessflow.RecoveryFlow,
	seqRepo repository.SequenceCounterRepository,
	workflowCfg config.WorkflowConfig,
	loggingCfg config.LoggingConfig,
) *RecoveryScheduler {
	if workflowCfg.RecoveryInterval <= 0 {
		workflowCfg.RecoveryInterval = time.Minute
	}
	if workflowCfg.PurgeInterval <= 0 {
		workflowCfg.PurgeInterval = 24 * time.Hour
	}

	s := &RecoveryScheduler{
		recoveryFlow: recoveryFlow,
		seqRepo:      seqRepo,
		cfg:          workflowCfg,
	}
	s.initSchedulerLogger(loggingCfg)

	return s
}

// initSchedulerLogger configures a logger that writes to both stdout and a
// size-rotated persistent file.
func (s *RecoveryScheduler) initSchedulerLogger(loggingCfg config.LoggingConfig) {
	if loggingCfg.SchedulerLogPath == "" {
		s.logger = log.New(os.Stdout, "scheduler ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
		return
	}
	rotator := &lumberjack.Logger{
		Filename:   loggingCfg.SchedulerLogPath,
		MaxSize:    loggingCfg.MaxSize,
		MaxBackups: loggingCfg.MaxBackups,
		MaxAge:     loggingCfg.MaxAge,
		Compress:   loggingCfg.Compress,
	}
	mw := io.MultiWriter(os.Stdout, rotator)
	// log.Logger is goroutine-safe; include timestamps with microseconds and UTC
	s.logger = log.New(mw, "scheduler ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
}

// Start launches the scheduler loops in background goroutines and returns a stop function
func (s *RecoveryScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(s.cfg.RecoveryInterval)
		defer ticker.Stop()

		s.runRecoveryOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runRecoveryOnce(ctx)
			}
		}
	}()

	go s.startCounterPurgeWorker(ctx)

	return cancel
}

func (s *RecoveryScheduler) runRecoveryOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RecoveryMaxElapsed+30*time.Second)
	defer cancel()

	report, err := s.recoveryFlow.RecoverStuckSagas(runCtx)
	if err != nil {
		s.logger.Printf("scheduler: saga recovery pass failed: %v", err)
		return
	}
	if report.Scanned == 0 {
		return
	}
	s.logger.Printf("scheduler: saga recovery pass scanned=%d forward=%d compensated=%d failed=%d",
		report.Scanned, report.ForwardRecovered, report.Compensated, report.Failed)
}

// startCounterPurgeWorker deletes expired daily and monthly sequence counters.
// Counters only gate allocation within their own period, so rows past the
// retention window are dead weight.
func (s *RecoveryScheduler) startCounterPurgeWorker(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PurgeInterval)
	defer ticker.Stop()

	s.purgeExpiredCounters(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purgeExpiredCounters(ctx)
		}
	}
}

func (s *RecoveryScheduler) purgeExpiredCounters(ctx context.Context) {
	purgeCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	cutoff := utils.UTCNow().Add(-s.cfg.CounterRetention)
	deleted, err := s.seqRepo.PurgeExpired(purgeCtx, cutoff)
	if err != nil {
		s.logger.Printf("scheduler: counter purge failed: %v", err)
		return
	}
	if deleted > 0 {
		s.logger.Printf("scheduler: purged %d expired sequence counters", deleted)
	}
}
