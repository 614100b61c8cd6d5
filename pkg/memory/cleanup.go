package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultCleanupSchedule = "@hourly"

// Cleaner enforces the retention policy: sessions idle past the
// retention window are deleted, then the oldest sessions beyond
// MaxSessions are evicted. Runs on demand or on a cron schedule.
type Cleaner struct {
	manager  *Manager
	schedule string
	cron     *cron.Cron
}

// NewCleaner builds a cleaner for the manager. An empty schedule uses
// the hourly default.
func NewCleaner(manager *Manager, schedule string) *Cleaner {
	if schedule == "" {
		schedule = defaultCleanupSchedule
	}
	return &Cleaner{manager: manager, schedule: schedule}
}

// Start schedules periodic cleanup until Stop is called. Starting an
// already started cleaner is a no-op.
func (c *Cleaner) Start() error {
	if c.cron != nil {
		return nil
	}

	runner := cron.New()
	_, err := runner.AddFunc(c.schedule, func() {
		if _, err := c.RunOnce(context.Background()); err != nil {
			log.Printf("[Cleaner] Warning: scheduled cleanup: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cleanup %q: %w", c.schedule, err)
	}
	runner.Start()
	c.cron = runner

	log.Printf("[Cleaner] Scheduled cleanup %s", c.schedule)
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (c *Cleaner) Stop() {
	if c.cron == nil {
		return
	}
	<-c.cron.Stop().Done()
	c.cron = nil
}

// RunOnce applies the retention policy now and reports how many
// sessions were removed. A zero RetentionDays or MaxSessions disables
// the respective bound.
func (c *Cleaner) RunOnce(ctx context.Context) (int, error) {
	cfg := c.manager.Config()
	if cfg.RetentionDays <= 0 && cfg.MaxSessions <= 0 {
		return 0, nil
	}

	infos, err := c.manager.Sessions(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	keep := infos
	if cfg.RetentionDays > 0 {
		cutoff := time.Now().Add(-time.Duration(cfg.RetentionDays) * 24 * time.Hour)
		keep = make([]SessionInfo, 0, len(infos))
		for _, info := range infos {
			if !info.LastActive.Before(cutoff) {
				keep = append(keep, info)
				continue
			}
			if err := c.manager.DeleteSession(ctx, info.SessionID); err != nil {
				return removed, err
			}
			log.Printf("[Cleaner] Removed session %s (idle since %s)",
				info.SessionID, info.LastActive.Format(time.RFC3339))
			removed++
		}
	}

	if cfg.MaxSessions > 0 && len(keep) > cfg.MaxSessions {
		sort.Slice(keep, func(i, j int) bool {
			return keep[i].LastActive.Before(keep[j].LastActive)
		})
		for _, info := range keep[:len(keep)-cfg.MaxSessions] {
			if err := c.manager.DeleteSession(ctx, info.SessionID); err != nil {
				return removed, err
			}
			log.Printf("[Cleaner] Evicted session %s over the session limit", info.SessionID)
			removed++
		}
	}

	return removed, nil
}
