// Package poller drives the periodic background refresh of the channel
// directory and the active message timeline.
package poller

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"sealchat-gateway/internal/directory"
	"sealchat-gateway/internal/timeline"
)

// staleThreshold is how many consecutive refresh failures mark the
// gateway's view of the network as stale.
const staleThreshold = 3

type Poller struct {
	dir  *directory.Directory
	sync *timeline.Synchronizer

	channelInterval time.Duration
	messageInterval time.Duration

	channelFailures atomic.Int64
}

func New(dir *directory.Directory, sync *timeline.Synchronizer, channelInterval, messageInterval time.Duration) *Poller {
	return &Poller{
		dir:             dir,
		sync:            sync,
		channelInterval: channelInterval,
		messageInterval: messageInterval,
	}
}

// Run blocks until ctx is cancelled, ticking both refresh loops.
func (p *Poller) Run(ctx context.Context) error {
	channelTicker := time.NewTicker(p.channelInterval)
	defer channelTicker.Stop()
	messageTicker := time.NewTicker(p.messageInterval)
	defer messageTicker.Stop()

	log.Printf("[POLLER] started (channels every %s, messages every %s)", p.channelInterval, p.messageInterval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[POLLER] stopped")
			return ctx.Err()
		case <-channelTicker.C:
			p.tickChannels(ctx)
		case <-messageTicker.C:
			p.tickMessages(ctx)
		}
	}
}

func (p *Poller) tickChannels(ctx context.Context) {
	if err := p.dir.Refresh(ctx); err != nil {
		n := p.channelFailures.Add(1)
		log.Printf("[POLLER] channel refresh failed (%d consecutive): %v", n, err)
		return
	}
	p.channelFailures.Store(0)
}

func (p *Poller) tickMessages(ctx context.Context) {
	channelID := p.sync.ActiveChannel()
	if channelID == "" {
		return
	}
	// Poll errors never disturb the timeline; the synchronizer only
	// counts them so staleness can be reported.
	_ = p.sync.FetchIncremental(ctx, channelID)
}

// Stale reports whether either refresh loop has failed enough times in
// a row that the served view should be treated as out of date.
func (p *Poller) Stale() bool {
	return p.channelFailures.Load() >= staleThreshold || p.sync.ConsecutivePollFailures() >= staleThreshold
}
