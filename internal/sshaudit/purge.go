package sshaudit

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// StartPurgeJob runs PurgeOlderThan with the configured retention on the
// given cron schedule ("@every 1h", "0 3 * * *", ...). Stop the returned
// scheduler at shutdown.
func (a *Auditor) StartPurgeJob(schedule string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := a.PurgeOlderThan(0); err != nil {
			log.Printf("[ssh-audit] scheduled purge: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule audit purge %q: %w", schedule, err)
	}
	c.Start()
	log.Printf("[ssh-audit] purge scheduled %s, retention %d days", schedule, a.retentionDays)
	return c, nil
}
