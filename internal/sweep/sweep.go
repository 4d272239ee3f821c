// Package sweep periodically nudges requesters whose intake dialog went
// quiet. A session in active dialog that has seen no activity past the idle
// threshold gets one reminder in its thread; it is not reminded again until
// the requester speaks up.
package sweep

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/waybill/waybill/internal/intake"
	"github.com/waybill/waybill/internal/models"
)

const msgIdleReminder = "Just checking in! This request is still open and waiting on a few answers. " +
	"Reply here to pick up where we left off, or say \"cancel\" if it is no longer needed."

// Sweeper finds idle intake sessions and reminds their requesters.
type Sweeper struct {
	db        *gorm.DB
	adapter   intake.Adapter
	cronExpr  string
	idleAfter time.Duration
	out       io.Writer
}

// SweeperOpts holds parameters for creating a Sweeper.
type SweeperOpts struct {
	DB        *gorm.DB
	Adapter   intake.Adapter
	Cron      string        // 5-field cron expression for the sweep schedule
	IdleAfter time.Duration // how long a session may sit quiet before a reminder
	Out       io.Writer     // defaults to os.Stdout
}

// New creates a Sweeper.
func New(opts SweeperOpts) (*Sweeper, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("sweep: db is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("sweep: adapter is required")
	}
	if opts.IdleAfter <= 0 {
		return nil, fmt.Errorf("sweep: idle threshold must be positive")
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	return &Sweeper{
		db:        opts.DB,
		adapter:   opts.Adapter,
		cronExpr:  opts.Cron,
		idleAfter: opts.IdleAfter,
		out:       out,
	}, nil
}

// Run executes sweeps on the cron schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	var timer *time.Timer
	if s.cronExpr != "" {
		if d := nextCronDuration(s.cronExpr); d > 0 {
			timer = time.NewTimer(d)
		}
	}
	if timer == nil {
		fmt.Fprintf(s.out, "sweep: no valid schedule, sweeper idle\n")
		<-ctx.Done()
		return
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if n, err := s.Sweep(ctx); err != nil {
				log.Printf("sweep: %v", err)
			} else if n > 0 {
				fmt.Fprintf(s.out, "sweep: reminded %d idle session(s)\n", n)
			}
			if d := nextCronDuration(s.cronExpr); d > 0 {
				timer.Reset(d)
			}
		}
	}
}

// Sweep runs one pass and returns how many sessions were reminded. A
// session qualifies when it is in active dialog, its last activity is older
// than the idle threshold, and it has not been reminded since that
// activity.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.idleAfter)

	var idle []models.IntakeSession
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{models.StatusGathering, models.StatusConfirming}).
		Where("last_activity < ?", cutoff).
		Where("reminded_at IS NULL OR reminded_at < last_activity").
		Find(&idle).Error
	if err != nil {
		return 0, fmt.Errorf("sweep: query idle sessions: %w", err)
	}

	reminded := 0
	for i := range idle {
		sess := &idle[i]
		if err := s.remind(ctx, sess); err != nil {
			log.Printf("sweep: remind session %d: %v", sess.ID, err)
			continue
		}
		reminded++
	}
	return reminded, nil
}

func (s *Sweeper) remind(ctx context.Context, sess *models.IntakeSession) error {
	err := s.adapter.Send(ctx, intake.OutboundMessage{
		ChannelID: sess.ChannelID,
		ThreadID:  sess.ThreadID,
		Text:      msgIdleReminder,
	})
	if err != nil {
		return fmt.Errorf("send reminder: %w", err)
	}

	// Mark before anything else can re-qualify the row. The reminder is
	// one-shot until the requester's next message bumps LastActivity.
	now := time.Now()
	err = s.db.WithContext(ctx).Model(sess).Update("reminded_at", now).Error
	if err != nil {
		return fmt.Errorf("mark reminded: %w", err)
	}
	return nil
}
