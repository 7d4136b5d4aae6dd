package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/messaging"
)

// DefaultPollInterval is how often the Poller refreshes while the app is visible.
const DefaultPollInterval = 3 * time.Second

// RefreshFunc fetches the authenticated user's full message set.
type RefreshFunc func(ctx context.Context) ([]messaging.Message, error)

// Poller keeps a View in sync with the server by polling at a fixed interval.
//
// It refreshes immediately on start and whenever the app returns to the
// foreground, skips ticks while hidden, and stops when its context is
// cancelled. All refreshes run on the Run goroutine so a slow response can
// never overwrite a newer one.
type Poller struct {
	view     *View
	refresh  RefreshFunc
	interval time.Duration
	logger   core.Logger

	mu      sync.Mutex
	visible bool
	kick    chan struct{}
}

// NewPoller creates a Poller updating view via refresh. A non-positive
// interval falls back to DefaultPollInterval.
func NewPoller(view *View, refresh RefreshFunc, interval time.Duration, logger core.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Poller{
		view:     view,
		refresh:  refresh,
		interval: interval,
		logger:   logger,
		visible:  true,
		kick:     make(chan struct{}, 1),
	}
}

// SetVisible records whether the app is in the foreground. Returning to the
// foreground triggers an immediate refresh.
func (p *Poller) SetVisible(visible bool) {
	p.mu.Lock()
	wasVisible := p.visible
	p.visible = visible
	p.mu.Unlock()

	if visible && !wasVisible {
		select {
		case p.kick <- struct{}{}:
		default: // a refresh is already queued
		}
	}
}

// Run polls until ctx is cancelled. It always returns ctx.Err().
func (p *Poller) Run(ctx context.Context) error {
	p.doRefresh(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.kick:
			p.doRefresh(ctx)
		case <-ticker.C:
			p.doRefresh(ctx)
		}
	}
}

func (p *Poller) doRefresh(ctx context.Context) {
	p.mu.Lock()
	visible := p.visible
	p.mu.Unlock()
	if !visible {
		return
	}

	msgs, err := p.refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn(fmt.Sprintf("refreshing messages: %v", err), err)
		}
		return
	}
	p.view.Replace(msgs)
}
