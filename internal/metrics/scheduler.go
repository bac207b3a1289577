package metrics

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gluk-w/sshdeck/internal/eventbus"
	"github.com/gluk-w/sshdeck/internal/logutil"
	"github.com/gluk-w/sshdeck/internal/models"
)

// DefaultInterval is the refresh period for connected servers.
const DefaultInterval = 5 * time.Second

// ServerLister enumerates known servers.
type ServerLister interface {
	ListServers() ([]models.Server, error)
}

// IdentityFinder picks a connected identity for a server.
type IdentityFinder interface {
	ConnectedIdentity(serverID string) (string, bool)
}

// UpdateEvent is published after a server's sample was refreshed.
type UpdateEvent struct {
	ServerID string  `json:"serverId"`
	Sample   *Sample `json:"metrics"`
}

// Scheduler refreshes every connected server on a fixed interval.
type Scheduler struct {
	collector *Collector
	servers   ServerLister
	conns     IdentityFinder
	interval  time.Duration

	updates eventbus.Bus[UpdateEvent]

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler returns a stopped scheduler. A non-positive interval uses
// DefaultInterval.
func NewScheduler(collector *Collector, servers ServerLister, conns IdentityFinder, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		collector: collector,
		servers:   servers,
		conns:     conns,
		interval:  interval,
	}
}

// OnUpdate registers fn for refreshed samples.
func (s *Scheduler) OnUpdate(fn func(UpdateEvent)) (unsubscribe func()) {
	return s.updates.Subscribe(fn)
}

// Start begins periodic collection. A run still in progress when the next
// tick fires causes that tick to be skipped.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	logger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	s.ctx, s.cancel = context.WithCancel(context.Background())
	ctx := s.ctx
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() { s.CollectOnce(ctx) }); err != nil {
		s.cancel()
		return fmt.Errorf("schedule metrics collection: %w", err)
	}
	c.Start()
	s.cron = c
	log.Printf("[metrics] collecting every %s", s.interval)
	return nil
}

// Stop halts the timer, cancels in-flight samples and waits for the running
// job to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
}

// CollectOnce samples every connected server. Failures are logged and
// skipped.
func (s *Scheduler) CollectOnce(ctx context.Context) {
	servers, err := s.servers.ListServers()
	if err != nil {
		log.Printf("[metrics] list servers: %v", err)
		return
	}
	for _, srv := range servers {
		if ctx.Err() != nil {
			return
		}
		identity, ok := s.conns.ConnectedIdentity(srv.ID)
		if !ok {
			continue
		}
		sample, err := s.collector.Sample(ctx, identity)
		if err != nil {
			log.Printf("[metrics] skipping %s: %v", logutil.SanitizeForLog(srv.Name), err)
			continue
		}
		s.updates.Publish(UpdateEvent{ServerID: srv.ID, Sample: sample})
	}
}
