// internal/example/jobs.go
package example

import (
	"context"

	"github.com/dalemusser/nural/cron"
	"github.com/dalemusser/nural/pipeline"
	"go.uber.org/zap"
)

// statsJob logs the account count every five minutes.
func statsJob(d deps) cron.JobConfig {
	log := d.logger.Named("jobs")
	return cron.JobConfig{
		Name:     "user-stats",
		Schedule: "@every 5m",
		Task: func(_ context.Context, ec *pipeline.Context) error {
			users, err := d.users.Get()
			if err != nil {
				return err
			}
			log.Info("user stats",
				zap.String("job", ec.HandlerName()),
				zap.Int("users", users.Count()))
			return nil
		},
	}
}
