package intake

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/waybill/waybill/internal/config"
	"gorm.io/gorm"
)

// Daemon is the main intake process. It connects to a chat platform via an
// Adapter, builds the Machine, and pumps inbound messages into it until the
// context is cancelled.
type Daemon struct {
	db        *gorm.DB
	cfg       *config.Config
	adapter   Adapter
	extractor Extractor
	ticketer  Ticketer
	out       io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	DB        *gorm.DB
	Config    *config.Config
	Adapter   Adapter
	Extractor Extractor
	Ticketer  Ticketer
	Out       io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("intake: daemon: db is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("intake: daemon: config is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("intake: daemon: adapter is required")
	}
	if opts.Extractor == nil {
		return nil, fmt.Errorf("intake: daemon: extractor is required")
	}
	if opts.Ticketer == nil {
		return nil, fmt.Errorf("intake: daemon: ticketer is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		db:        opts.DB,
		cfg:       opts.Config,
		adapter:   opts.Adapter,
		extractor: opts.Extractor,
		ticketer:  opts.Ticketer,
		out:       out,
	}, nil
}

// Run starts the intake daemon. It connects the adapter, builds the Machine,
// and blocks until the context is cancelled. On shutdown it closes the
// adapter gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Waybill connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("intake: connect: %w", err)
	}

	// Extract bot user ID if the adapter supports it.
	var botUserID string
	if bui, ok := d.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	machine, err := NewMachine(MachineOpts{
		DB:              d.db,
		Adapter:         d.adapter,
		Extractor:       d.extractor,
		Ticketer:        d.ticketer,
		BotUserID:       botUserID,
		RequiredFields:  fieldViews(d.cfg.Intake.Fields),
		DebounceDelay:   time.Duration(d.cfg.Intake.DebounceMs) * time.Millisecond,
		SubstantiveMin:  d.cfg.Intake.SubstantiveMinRunes,
		MinThreadAge:    time.Duration(d.cfg.Intake.MinThreadAgeSec) * time.Second,
		HistoryLimit:    d.cfg.Intake.HistoryLimit,
		ReviewChannel:   d.cfg.Intake.ReviewChannel,
		FallbackChannel: d.cfg.Intake.FallbackChannel,
		Out:             d.out,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("intake: build machine: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("intake: listen: %w", err)
	}

	fmt.Fprintf(d.out, "Waybill online\n")

	// Main event loop. HandleInbound blocks for its debounce window, so
	// each message gets its own goroutine; ordering within a thread is
	// resolved by the debouncer, not by arrival order here.
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Waybill shutting down...\n")
			if err := d.adapter.Close(); err != nil {
				log.Printf("intake: close adapter: %v", err)
			}
			fmt.Fprintf(d.out, "Waybill stopped\n")
			return nil

		case msg, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Waybill inbound channel closed\n")
				return nil
			}
			go machine.HandleInbound(ctx, msg)
		}
	}
}

// fieldViews converts configured field specs to the machine's view type.
func fieldViews(specs []config.FieldSpec) []FieldSpecView {
	out := make([]FieldSpecView, 0, len(specs))
	for _, fs := range specs {
		out = append(out, FieldSpecView{Key: fs.Key, Question: fs.Question})
	}
	return out
}
