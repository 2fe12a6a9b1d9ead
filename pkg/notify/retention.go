package notify

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/perchsocial/perch/pkg/observability"
)

// RetentionJob periodically prunes completed delivery log entries
type RetentionJob struct {
	cron *cron.Cron
}

// NewRetentionJob schedules pruning of entries completed longer than
// retentionAge ago, on the given cron schedule (e.g. "@hourly").
func NewRetentionJob(store *DeliveryLogStore, schedule string, retentionAge time.Duration, logger *observability.Logger) (*RetentionJob, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if pruned := store.Prune(retentionAge); pruned > 0 {
			logger.WithField("pruned", pruned).Debug("pruned delivery log entries")
		}
	})
	if err != nil {
		return nil, err
	}
	return &RetentionJob{cron: c}, nil
}

// Start begins the schedule
func (j *RetentionJob) Start() {
	j.cron.Start()
}

// Stop halts the schedule, waiting for a running prune to finish
func (j *RetentionJob) Stop() {
	<-j.cron.Stop().Done()
}
