package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/neurolancer/backend/internal/goroutine"
	"github.com/neurolancer/backend/internal/logger"
	"github.com/neurolancer/backend/internal/models"
)

// DigestSender рассылает накопленные сводки уведомлений.
type DigestSender interface {
	SendDigest(ctx context.Context, frequency string) (int, error)
}

// DigestScheduler запускает ежедневные и еженедельные сводки по cron-расписанию.
type DigestScheduler struct {
	cron    *cron.Cron
	sender  DigestSender
	timeout time.Duration
}

// NewDigestScheduler регистрирует задания. Пустое расписание отключает соответствующую сводку.
func NewDigestScheduler(sender DigestSender, dailySpec, weeklySpec string) (*DigestScheduler, error) {
	s := &DigestScheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		sender:  sender,
		timeout: 5 * time.Minute,
	}

	for frequency, spec := range map[string]string{
		models.FrequencyDaily:  dailySpec,
		models.FrequencyWeekly: weeklySpec,
	} {
		if spec == "" {
			continue
		}
		frequency := frequency
		if _, err := s.cron.AddFunc(spec, func() { s.Run(context.Background(), frequency) }); err != nil {
			return nil, fmt.Errorf("scheduler: некорректное расписание %s %q: %w", frequency, spec, err)
		}
	}

	return s, nil
}

// Start запускает планировщик и останавливает его при отмене ctx.
func (s *DigestScheduler) Start(ctx context.Context) {
	s.cron.Start()
	logger.Log.WithField("jobs", len(s.cron.Entries())).Info("планировщик сводок запущен")

	goroutine.SafeGo(func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		logger.Log.Info("планировщик сводок остановлен")
	})
}

// Run выполняет одну рассылку сводки.
func (s *DigestScheduler) Run(ctx context.Context, frequency string) {
	defer goroutine.DefaultRecoveryHandler.Recover("digest " + frequency)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	sent, err := s.sender.SendDigest(ctx, frequency)
	log := logger.Log.WithField("frequency", frequency).WithField("sent", sent).WithField("took", time.Since(started).String())
	if err != nil {
		log.WithError(err).Error("ошибка рассылки сводки")
		return
	}
	log.Info("сводка разослана")
}
