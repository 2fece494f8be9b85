package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/crewline/internal/models"
	"github.com/zulandar/crewline/internal/transport"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// Digest periodically sends each integration owner a usage summary.
type Digest struct {
	db        *gorm.DB
	transport transport.Transport
	cronExpr  string
}

// NewDigest creates a Digest on the given schedule.
func NewDigest(db *gorm.DB, tr transport.Transport, cronExpr string) *Digest {
	return &Digest{db: db, transport: tr, cronExpr: cronExpr}
}

// Run fires the digest on its cron schedule until ctx is cancelled. Returns
// immediately when the expression does not parse.
func (d *Digest) Run(ctx context.Context) {
	wait := nextCronDuration(d.cronExpr)
	if wait == 0 {
		log.Printf("notify: digest schedule %q invalid, digest disabled", d.cronExpr)
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.fire(ctx)
			if next := nextCronDuration(d.cronExpr); next > 0 {
				timer.Reset(next)
			} else {
				return
			}
		}
	}
}

// fire sends one digest round to every active integration owner with any
// activity. Best-effort per integration.
func (d *Digest) fire(ctx context.Context) {
	var integrations []models.Integration
	if err := d.db.WithContext(ctx).Where("active = ?", true).Find(&integrations).Error; err != nil {
		log.Printf("notify: digest load integrations: %v", err)
		return
	}
	for i := range integrations {
		integ := &integrations[i]
		if integ.TasksSent == 0 {
			continue
		}
		if err := d.transport.SendText(ctx, integ.OwnerChatID, FormatDigest(integ)); err != nil {
			log.Printf("notify: digest to %s: %v", integ.OwnerChatID, err)
		}
	}
}

// FormatDigest renders one integration's summary line block.
func FormatDigest(integ *models.Integration) string {
	name := integ.Name
	if name == "" {
		name = integ.Platform
	}
	return fmt.Sprintf("📊 %s\nSent: %d\nCompleted: %d\nAvg response: %.0f min",
		name, integ.TasksSent, integ.TasksCompleted, integ.AvgResponseMins)
}
