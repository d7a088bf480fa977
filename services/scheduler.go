// services/scheduler.go
package services

import (
	"context"
	"time"

	"rewards-ledger/logger"

	"github.com/go-co-op/gocron/v2"
)

// StartLedgerScheduler runs the periodic ledger jobs: every minute pending
// deposits older than depositTTL are failed, and at 00:05 ledger time the
// daily report is exported when exporter is set. The caller shuts the
// scheduler down.
func StartLedgerScheduler(deposits *DepositProcessor, exporter *ReportExporter, depositTTL time.Duration, loc *time.Location) (gocron.Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	sched, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			if _, err := deposits.ExpireStale(context.Background(), depositTTL); err != nil {
				logger.Errorf("[Scheduler] Deposit expiry failed: %v", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	if exporter != nil {
		_, err = sched.NewJob(
			gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 5, 0))),
			gocron.NewTask(func() {
				if _, err := exporter.Export(context.Background()); err != nil {
					logger.Errorf("[Scheduler] Report export failed: %v", err)
				}
			}),
		)
		if err != nil {
			return nil, err
		}
	}

	sched.Start()
	logger.Infof("Ledger scheduler started (deposit ttl %s, report export %t)", depositTTL, exporter != nil)
	return sched, nil
}
