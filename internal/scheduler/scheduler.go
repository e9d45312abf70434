package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/pydea-rs/tayadex-backend/internal/indexer"
	"github.com/pydea-rs/tayadex-backend/internal/service"
	"github.com/pydea-rs/tayadex-backend/pkg/logger"
	"github.com/robfig/cron/v3"
)

type RoundRunner interface {
	RunRound(ctx context.Context) (*indexer.RoundResult, error)
}

type QueueDrainer interface {
	DrainOnce(ctx context.Context) (bool, error)
}

type ReferralDistributor interface {
	DistributeReferrals(ctx context.Context) (*service.DistributionResult, error)
}

type PendingRequeuer interface {
	RequeuePending(ctx context.Context) (int, error)
}

type Options struct {
	ScanInterval     time.Duration
	DrainInterval    time.Duration
	RecoveryInterval time.Duration
	// ReferralCron uses the six field format with seconds.
	ReferralCron    string
	IndexerEnabled  bool
	ReferralEnabled bool
}

type Scheduler struct {
	cron      *cron.Cron
	opts      Options
	indexer   RoundRunner
	drainer   QueueDrainer
	referrals ReferralDistributor
	recovery  PendingRequeuer

	ctx    context.Context
	cancel context.CancelFunc
}

func New(opts Options, ix RoundRunner, drainer QueueDrainer, referrals ReferralDistributor, recovery PendingRequeuer) *Scheduler {
	cronLogger := logger.CronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		opts:      opts,
		indexer:   ix,
		drainer:   drainer,
		referrals: referrals,
		recovery:  recovery,
	}
}

func every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

func (s *Scheduler) register() error {
	skip := cron.NewChain(cron.SkipIfStillRunning(logger.CronLogger{}))

	if s.opts.IndexerEnabled {
		// 扫描自带 Idle/Scanning 状态，重叠触发会被直接跳过
		if _, err := s.cron.AddFunc(every(s.opts.ScanInterval), s.scan); err != nil {
			return fmt.Errorf("register scan job: %w", err)
		}
		if _, err := s.cron.AddJob(every(s.opts.DrainInterval), skip.Then(cron.FuncJob(s.drain))); err != nil {
			return fmt.Errorf("register drain job: %w", err)
		}
		if s.recovery != nil && s.opts.RecoveryInterval > 0 {
			if _, err := s.cron.AddJob(every(s.opts.RecoveryInterval), skip.Then(cron.FuncJob(s.requeue))); err != nil {
				return fmt.Errorf("register recovery job: %w", err)
			}
		}
	}

	if s.opts.ReferralEnabled {
		if _, err := s.cron.AddJob(s.opts.ReferralCron, skip.Then(cron.FuncJob(s.distribute))); err != nil {
			return fmt.Errorf("register referral job: %w", err)
		}
	}
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.register(); err != nil {
		s.cancel()
		return err
	}

	s.cron.Start()
	logger.WithFields(map[string]interface{}{
		"jobs":     len(s.cron.Entries()),
		"scan":     s.opts.ScanInterval.String(),
		"drain":    s.opts.DrainInterval.String(),
		"referral": s.opts.ReferralCron,
	}).Info("Scheduler started")
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("Scheduler stopped")
}

func (s *Scheduler) context() context.Context {
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Scheduler) scan() {
	if _, err := s.indexer.RunRound(s.context()); err != nil {
		logger.WithError(err).Error("索引轮次失败")
	}
}

// drain 每次触发只处理一个任务，失败的任务在下一次触发时重试
func (s *Scheduler) drain() {
	if _, err := s.drainer.DrainOnce(s.context()); err != nil {
		logger.WithError(err).Error("队列处理失败")
	}
}

func (s *Scheduler) requeue() {
	if _, err := s.recovery.RequeuePending(s.context()); err != nil {
		logger.WithError(err).Error("未处理交易重新入队失败")
	}
}

func (s *Scheduler) distribute() {
	result, err := s.referrals.DistributeReferrals(s.context())
	if err != nil {
		logger.WithError(err).Error("推荐奖励发放失败")
		return
	}
	logger.WithFields(map[string]interface{}{
		"until":    result.Until,
		"policies": result.Policies,
		"payouts":  result.Payouts,
		"failures": result.Failures,
		"total":    result.Total,
	}).Info("推荐奖励发放完成")
}

// TriggerRound runs one indexer round outside the schedule.
func (s *Scheduler) TriggerRound(ctx context.Context) (*indexer.RoundResult, error) {
	return s.indexer.RunRound(ctx)
}

func (s *Scheduler) TriggerReferrals(ctx context.Context) (*service.DistributionResult, error) {
	return s.referrals.DistributeReferrals(ctx)
}
