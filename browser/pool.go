// Package browser manages a bounded pool of long-lived browser processes
// that lease out one page at a time.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Laza223/axxen-scraper-sub001/antidetect"
)

// ErrPoolExhausted is returned when no instance frees up within the acquire
// timeout.
var ErrPoolExhausted = errors.New("browser pool exhausted")

// ErrPoolClosed is returned by Acquire after Shutdown.
var ErrPoolClosed = errors.New("browser pool is shut down")

// Page is one leased browser tab.
type Page interface {
	Run(ctx context.Context, actions ...chromedp.Action) error
	Close() error
}

// Process is one running browser.
type Process interface {
	NewPage(ctx context.Context, fp antidetect.Fingerprint) (Page, error)
	Close() error
}

// Launcher starts browser processes.
type Launcher interface {
	Launch(ctx context.Context, fp antidetect.Fingerprint) (Process, error)
}

// Lease is a page handed out by Acquire. Return it with Release.
type Lease struct {
	InstanceID  string
	Page        Page
	Fingerprint antidetect.Fingerprint
}

// PoolConfig sizes and times the pool.
type PoolConfig struct {
	MinBrowsers         int
	MaxBrowsers         int
	MaxPagesPerBrowser  int
	BrowserTTL          time.Duration
	IdleTimeout         time.Duration
	AcquireTimeout      time.Duration
	AcquirePoll         time.Duration
	MaintenanceInterval time.Duration
}

// Stats is a point-in-time view of the pool. Available + InUse == Total.
type Stats struct {
	Total            int
	Available        int
	InUse            int
	TotalPagesOpened int64
}

type instance struct {
	id          string
	proc        Process
	fingerprint antidetect.Fingerprint
	createdAt   time.Time
	lastUsed    time.Time
	pagesOpened int
	inUse       bool
}

// Pool is a bounded set of browser instances, each used by at most one
// caller at a time.
type Pool struct {
	cfg      PoolConfig
	launcher Launcher
	profile  antidetect.Provider
	logger   *logrus.Logger
	now      func() time.Time

	mu          sync.Mutex
	instances   []*instance
	launching   int
	initialized bool
	closed      bool

	totalPages atomic.Int64
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewPool creates an empty pool; call Initialize to warm it up.
func NewPool(cfg PoolConfig, launcher Launcher, profile antidetect.Provider, logger *logrus.Logger) *Pool {
	if cfg.MaxBrowsers < 1 {
		cfg.MaxBrowsers = 1
	}
	if cfg.MinBrowsers > cfg.MaxBrowsers {
		cfg.MinBrowsers = cfg.MaxBrowsers
	}
	if cfg.MaxPagesPerBrowser < 1 {
		cfg.MaxPagesPerBrowser = 1
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.AcquirePoll <= 0 {
		cfg.AcquirePoll = 500 * time.Millisecond
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Pool{
		cfg:      cfg,
		launcher: launcher,
		profile:  profile,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Initialize launches MinBrowsers instances and starts the maintenance loop.
// Calling it again is a no-op.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if p.initialized {
		p.mu.Unlock()
		return nil
	}
	p.initialized = true
	missing := p.cfg.MinBrowsers - len(p.instances)
	p.launching += max(missing, 0)
	p.mu.Unlock()

	var errs []error
	for i := 0; i < missing; i++ {
		inst, err := p.launch(ctx)
		p.mu.Lock()
		p.launching--
		if err == nil {
			p.instances = append(p.instances, inst)
		}
		p.mu.Unlock()
		if err != nil {
			errs = append(errs, err)
		}
	}

	p.wg.Add(1)
	go p.maintain()

	p.logger.WithFields(logrus.Fields{
		"min_browsers": p.cfg.MinBrowsers,
		"max_browsers": p.cfg.MaxBrowsers,
	}).Info("Browser pool initialized")
	return errors.Join(errs...)
}

// Acquire leases a page. It waits up to AcquireTimeout for capacity and then
// fails with ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	deadline := p.now().Add(p.cfg.AcquireTimeout)
	for {
		inst, launch, err := p.claim()
		if err != nil {
			return nil, err
		}
		if launch {
			inst, err = p.launchClaimed(ctx)
			if err != nil {
				return nil, err
			}
		}
		if inst != nil {
			return p.openPage(ctx, inst)
		}

		if !p.now().Before(deadline) {
			stats := p.Stats()
			return nil, fmt.Errorf("%w: %d/%d instances in use after %s", ErrPoolExhausted, stats.InUse, p.cfg.MaxBrowsers, p.cfg.AcquireTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.cfg.AcquirePoll):
		}
	}
}

// claim marks a free instance as in use, or reserves a launch slot.
func (p *Pool) claim() (*instance, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false, ErrPoolClosed
	}
	for _, inst := range p.instances {
		if !inst.inUse && inst.pagesOpened < p.cfg.MaxPagesPerBrowser {
			p.markInUseLocked(inst)
			return inst, false, nil
		}
	}
	if len(p.instances)+p.launching < p.cfg.MaxBrowsers {
		p.launching++
		return nil, true, nil
	}
	return nil, false, nil
}

func (p *Pool) launchClaimed(ctx context.Context) (*instance, error) {
	inst, err := p.launch(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.launching--
	if err != nil {
		return nil, err
	}
	if p.closed {
		go p.closeInstance(inst, "pool shut down during launch")
		return nil, ErrPoolClosed
	}
	p.markInUseLocked(inst)
	p.instances = append(p.instances, inst)
	return inst, nil
}

func (p *Pool) markInUseLocked(inst *instance) {
	inst.inUse = true
	inst.lastUsed = p.now()
	inst.pagesOpened++
	p.totalPages.Add(1)
}

func (p *Pool) openPage(ctx context.Context, inst *instance) (*Lease, error) {
	page, err := inst.proc.NewPage(ctx, inst.fingerprint)
	if err != nil {
		p.Release(inst.id, nil)
		return nil, fmt.Errorf("open page on %s: %w", inst.id, err)
	}
	return &Lease{InstanceID: inst.id, Page: page, Fingerprint: inst.fingerprint}, nil
}

// Release closes page best-effort and frees the instance. Instances that
// reached MaxPagesPerBrowser are recycled.
func (p *Pool) Release(instanceID string, page Page) {
	if page != nil {
		if err := page.Close(); err != nil {
			p.logger.WithError(err).WithField("instance_id", instanceID).Debug("Page close failed")
		}
	}

	p.mu.Lock()
	var spent *instance
	for i, inst := range p.instances {
		if inst.id != instanceID {
			continue
		}
		inst.inUse = false
		inst.lastUsed = p.now()
		if inst.pagesOpened >= p.cfg.MaxPagesPerBrowser {
			spent = inst
			p.instances = append(p.instances[:i], p.instances[i+1:]...)
		}
		break
	}
	closed := p.closed
	p.mu.Unlock()

	if spent != nil {
		p.closeInstance(spent, "page cap reached")
		if !closed {
			p.replenish(context.Background())
		}
	}
}

// Stats returns pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Total: len(p.instances), TotalPagesOpened: p.totalPages.Load()}
	for _, inst := range p.instances {
		if inst.inUse {
			s.InUse++
		}
	}
	s.Available = s.Total - s.InUse
	return s
}

// Shutdown stops maintenance and closes every instance. Safe to call more
// than once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	instances := p.instances
	p.instances = nil
	p.mu.Unlock()

	close(p.stopCh)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("Browser pool maintenance did not stop before shutdown deadline")
	}

	for _, inst := range instances {
		p.closeInstance(inst, "shutdown")
	}
	p.logger.WithField("closed", len(instances)).Info("Browser pool shut down")
	return nil
}

func (p *Pool) maintain() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweep(p.now())
		}
	}
}

// sweep recycles free instances past BrowserTTL and closes free instances
// idle past IdleTimeout while the pool is above MinBrowsers.
func (p *Pool) sweep(now time.Time) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	var expired, idle []*instance
	kept := p.instances[:0]
	size := len(p.instances)
	for _, inst := range p.instances {
		switch {
		case inst.inUse:
			kept = append(kept, inst)
		case p.cfg.BrowserTTL > 0 && now.Sub(inst.createdAt) > p.cfg.BrowserTTL:
			expired = append(expired, inst)
			size--
		case p.cfg.IdleTimeout > 0 && now.Sub(inst.lastUsed) > p.cfg.IdleTimeout && size > p.cfg.MinBrowsers:
			idle = append(idle, inst)
			size--
		default:
			kept = append(kept, inst)
		}
	}
	p.instances = kept
	p.mu.Unlock()

	for _, inst := range expired {
		p.closeInstance(inst, "ttl expired")
	}
	for _, inst := range idle {
		p.closeInstance(inst, "idle timeout")
	}
	if len(expired) > 0 {
		p.replenishUpTo(context.Background(), len(expired))
	}
}

// replenish launches instances until the pool is back at MinBrowsers.
func (p *Pool) replenish(ctx context.Context) {
	p.replenishUpTo(ctx, p.cfg.MinBrowsers)
}

func (p *Pool) replenishUpTo(ctx context.Context, limit int) {
	for i := 0; i < limit; i++ {
		p.mu.Lock()
		if p.closed || len(p.instances)+p.launching >= p.cfg.MinBrowsers {
			p.mu.Unlock()
			return
		}
		p.launching++
		p.mu.Unlock()

		inst, err := p.launch(ctx)
		p.mu.Lock()
		p.launching--
		if err == nil && !p.closed {
			p.instances = append(p.instances, inst)
			inst = nil
		}
		p.mu.Unlock()
		if err != nil {
			p.logger.WithError(err).Warn("Failed to replace browser instance")
			return
		}
		if inst != nil {
			p.closeInstance(inst, "pool shut down during launch")
		}
	}
}

func (p *Pool) launch(ctx context.Context) (*instance, error) {
	fp := antidetect.NewFingerprint(p.profile)
	proc, err := p.launcher.Launch(ctx, fp)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	now := p.now()
	inst := &instance{
		id:          uuid.NewString(),
		proc:        proc,
		fingerprint: fp,
		createdAt:   now,
		lastUsed:    now,
	}
	p.logger.WithField("instance_id", inst.id).Debug("Browser instance launched")
	return inst, nil
}

func (p *Pool) closeInstance(inst *instance, reason string) {
	if err := inst.proc.Close(); err != nil {
		p.logger.WithError(err).WithField("instance_id", inst.id).Warn("Browser close failed")
	}
	p.logger.WithFields(logrus.Fields{
		"instance_id":  inst.id,
		"reason":       reason,
		"pages_opened": inst.pagesOpened,
	}).Debug("Browser instance closed")
}
