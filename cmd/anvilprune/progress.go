package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/anvilprune/anvilprune/internal/logging"
	"github.com/anvilprune/anvilprune/internal/prune"
)

const progressInterval = 2 * time.Second

// progress logs how far a sweep has come. It writes at most one line per
// interval, plus one for the last container.
type progress struct {
	log      *logging.Logger
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	total     int
	done      int
	failed    int
	reclaimed int64
	last      time.Time
}

func newProgress(log *logging.Logger, interval time.Duration) *progress {
	return &progress{log: log, interval: interval, now: time.Now}
}

func (p *progress) Discovered(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = n
	p.last = p.now()
}

func (p *progress) ContainerDone(r prune.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	if r.Err != nil {
		p.failed++
	} else {
		p.reclaimed += r.BytesReclaimed
	}

	now := p.now()
	if p.done < p.total && now.Sub(p.last) < p.interval {
		return
	}
	p.last = now

	percent := 100.0
	if p.total > 0 {
		percent = float64(p.done) / float64(p.total) * 100
	}
	p.log.Infof("progress", map[string]any{
		"progress":  fmt.Sprintf("%d/%d", p.done, p.total),
		"percent":   fmt.Sprintf("%.1f", percent),
		"failed":    p.failed,
		"reclaimed": formatBytes(p.reclaimed),
	})
}
