package console

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/gluk-w/sshdeck/internal/database"
	"github.com/gluk-w/sshdeck/internal/eventbus"
	"github.com/gluk-w/sshdeck/internal/logutil"
	"github.com/gluk-w/sshdeck/internal/metrics"
	"github.com/gluk-w/sshdeck/internal/models"
	"github.com/gluk-w/sshdeck/internal/proxyresolver"
	"github.com/gluk-w/sshdeck/internal/proxytunnel"
	"github.com/gluk-w/sshdeck/internal/sshaudit"
	"github.com/gluk-w/sshdeck/internal/sshmanager"
)

// Store is the slice of the persistence layer the console needs.
type Store interface {
	GetServer(id string) (models.Server, error)
	ListServers() ([]models.Server, error)
	ListGroups() ([]models.Group, error)
	ListProxies() ([]models.Proxy, error)
	UpdateServerStatus(id string, status models.ServerStatus, lastConnected *time.Time) (models.Server, error)
	DeleteServer(id string) error
	DeleteGroup(id string, force bool) error
}

// Options wires optional collaborators. Nil fields get defaults, except
// Auditor and Gauges which are simply skipped.
type Options struct {
	Manager         *sshmanager.Manager
	Negotiator      *proxytunnel.Negotiator
	Auditor         *sshaudit.Auditor
	Gauges          *metrics.Gauges
	MetricsInterval time.Duration
}

// Service implements the console operations on top of the session manager.
type Service struct {
	store      Store
	manager    *sshmanager.Manager
	negotiator *proxytunnel.Negotiator
	resolver   *proxyresolver.Resolver
	collector  *metrics.Collector
	scheduler  *metrics.Scheduler
	auditor    *sshaudit.Auditor
	gauges     *metrics.Gauges
	limiter    *connectLimiter

	serverBus eventbus.Bus[ServerStatusEvent]

	mu          sync.Mutex
	connectedAt map[string]time.Time
	purge       *cron.Cron

	unsubscribe func()
}

func New(store Store, opts Options) *Service {
	if opts.Negotiator == nil {
		opts.Negotiator = proxytunnel.New()
	}
	if opts.Manager == nil {
		opts.Manager = sshmanager.NewManager(sshmanager.Config{Tunneler: opts.Negotiator})
	}
	collector := metrics.NewCollector(opts.Manager, metrics.NewCache(), opts.Gauges)
	s := &Service{
		store:       store,
		manager:     opts.Manager,
		negotiator:  opts.Negotiator,
		resolver:    proxyresolver.New(store),
		collector:   collector,
		scheduler:   metrics.NewScheduler(collector, store, opts.Manager.Registry(), opts.MetricsInterval),
		auditor:     opts.Auditor,
		gauges:      opts.Gauges,
		limiter:     newConnectLimiter(),
		connectedAt: make(map[string]time.Time),
	}
	s.unsubscribe = s.manager.OnStatusChange(s.onSessionStatus)
	return s
}

// Start begins periodic metrics collection and audit retention.
func (s *Service) Start() error {
	if err := s.scheduler.Start(); err != nil {
		return err
	}
	if s.auditor == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.purge != nil {
		return nil
	}
	logger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc("@daily", func() { s.auditor.PurgeOlderThan(0) }); err != nil {
		return fmt.Errorf("schedule audit purge: %w", err)
	}
	c.Start()
	s.purge = c
	go s.auditor.PurgeOlderThan(0)
	return nil
}

// Close stops background work and disconnects every session.
func (s *Service) Close() {
	s.scheduler.Stop()
	s.mu.Lock()
	purge := s.purge
	s.purge = nil
	s.mu.Unlock()
	if purge != nil {
		<-purge.Stop().Done()
	}
	s.manager.CloseAll()
	s.unsubscribe()
}

// Connect opens a session for serverID under identity (the server id when
// empty). The nearest enabled proxy in the server's group chain is used. It
// reports whether the shell opened; on failure the error is also stored on
// the identity's session record. Attempts are throttled per server and a
// throttled attempt returns a *RateLimitedError.
func (s *Service) Connect(ctx context.Context, serverID, identity string) (bool, error) {
	srv, err := s.store.GetServer(serverID)
	if err != nil {
		return false, fmt.Errorf("load server %s: %w", serverID, err)
	}
	key := identity
	if key == "" {
		key = srv.ID
	}
	if err := s.limiter.allow(srv.ID); err != nil {
		log.Printf("[console] %v", err)
		s.manager.RecordFailure(srv.ID, key, err)
		return false, err
	}

	proxy, err := s.resolver.Resolve(srv)
	if err != nil {
		return false, fmt.Errorf("resolve proxy for %s: %w", serverID, err)
	}
	via := ""
	if proxy != nil {
		via = proxy.Name
		log.Printf("[console] connecting %s via %s proxy %s", logutil.SanitizeForLog(srv.Name), proxy.Type, logutil.SanitizeForLog(proxy.Name))
	}

	if err := s.manager.Connect(ctx, srv, key, proxy); err != nil {
		s.limiter.failure(srv.ID)
		if s.auditor != nil {
			s.auditor.LogConnectionFailed(srv.ID, key, srv.Username, err.Error())
		}
		if !s.manager.HasActiveConnections(srv.ID) {
			s.setStatus(srv.ID, models.StatusError, nil)
		}
		return false, err
	}

	s.limiter.success(srv.ID)
	now := time.Now()
	s.mu.Lock()
	s.connectedAt[key] = now
	s.mu.Unlock()
	if s.auditor != nil {
		s.auditor.LogConnection(srv.ID, key, srv.Username, via)
	}
	s.setStatus(srv.ID, models.StatusRunning, &now)
	s.updateSessionGauge()
	return true, nil
}

// Disconnect closes identity (the server id when empty). It reports whether
// a live session was closed; closing nothing is not an error.
func (s *Service) Disconnect(serverID, identity string) bool {
	return s.manager.Disconnect(serverID, identity)
}

// onSessionStatus keeps the stored server status in step with sessions that
// go away, whether closed by Disconnect or dropped by the remote end.
func (s *Service) onSessionStatus(e sshmanager.StatusEvent) {
	if e.Status != sshmanager.StatusDisconnected {
		return
	}
	s.mu.Lock()
	since, ok := s.connectedAt[e.Identity]
	delete(s.connectedAt, e.Identity)
	s.mu.Unlock()

	if s.auditor != nil {
		var ms int64
		if ok {
			ms = time.Since(since).Milliseconds()
		}
		s.auditor.LogDisconnection(e.ServerID, e.Identity, "", ms)
	}
	if !s.manager.HasActiveConnections(e.ServerID) {
		s.setStatus(e.ServerID, models.StatusStopped, nil)
	}
	s.updateSessionGauge()
}

func (s *Service) setStatus(serverID string, status models.ServerStatus, lastConnected *time.Time) {
	srv, err := s.store.UpdateServerStatus(serverID, status, lastConnected)
	if err != nil {
		log.Printf("[console] update status of %s to %s: %v", logutil.SanitizeForLog(serverID), status, err)
		return
	}
	s.serverBus.Publish(ServerStatusEvent{Server: Redact(srv), Timestamp: time.Now()})
}

func (s *Service) updateSessionGauge() {
	if s.gauges == nil {
		return
	}
	n := 0
	for _, r := range s.manager.Connections() {
		if r.Connected {
			n++
		}
	}
	s.gauges.SetSessions(n)
}

// ExecuteCommand runs command on identity over its own exec channel.
func (s *Service) ExecuteCommand(ctx context.Context, identity, command string) sshmanager.CommandResult {
	start := time.Now()
	res := s.manager.ExecuteCommand(ctx, identity, command)
	if rec, ok := s.manager.Status(identity); ok && s.auditor != nil {
		code := -1
		if res.ExitCode != nil {
			code = *res.ExitCode
		}
		s.auditor.LogCommand(rec.ServerID, identity, logutil.Preview(command, 500), code, time.Since(start).Milliseconds())
	}
	return res
}

// Sample collects metrics from identity now and caches them under its
// server id.
func (s *Service) Sample(ctx context.Context, identity string) (*metrics.Sample, error) {
	return s.collector.Sample(ctx, identity)
}

// CachedSample returns the last successful sample for serverID.
func (s *Service) CachedSample(serverID string) (*metrics.Sample, bool) {
	return s.collector.Cache().Get(serverID)
}

// IsConnected reports whether id is a live identity, or a server with at
// least one live identity.
func (s *Service) IsConnected(id string) bool {
	return s.manager.IsConnected(id) || s.manager.HasActiveConnections(id)
}

func (s *Service) HasActiveConnections(serverID string) bool {
	return s.manager.HasActiveConnections(serverID)
}

func (s *Service) Status(identity string) (sshmanager.SessionRecord, bool) {
	return s.manager.Status(identity)
}

func (s *Service) Connections() []sshmanager.SessionRecord {
	return s.manager.Connections()
}

func (s *Service) SendTerminalData(identity string, data []byte) bool {
	return s.manager.SendTerminalData(identity, data)
}

func (s *Service) ResizeTerminal(identity string, cols, rows int) bool {
	return s.manager.ResizeTerminal(identity, cols, rows)
}

func (s *Service) Scrollback(identity string) ([]byte, bool) {
	return s.manager.Scrollback(identity)
}

// AttachTerminal returns identity's scrollback and streams the output that
// follows it to fn.
func (s *Service) AttachTerminal(identity string, fn func([]byte)) (history []byte, unsubscribe func(), ok bool) {
	return s.manager.AttachTerminal(identity, fn)
}

// SubscribeTerminal streams identity's shell output to fn.
func (s *Service) SubscribeTerminal(identity string, fn func([]byte)) (unsubscribe func()) {
	return s.manager.SubscribeTerminal(identity, fn)
}

// OnSessionStatus registers fn for per-identity connection events.
func (s *Service) OnSessionStatus(fn func(sshmanager.StatusEvent)) (unsubscribe func()) {
	return s.manager.OnStatusChange(fn)
}

// OnServerStatus registers fn for stored server status changes.
func (s *Service) OnServerStatus(fn func(ServerStatusEvent)) (unsubscribe func()) {
	return s.serverBus.Subscribe(fn)
}

// OnMetrics registers fn for samples taken by the periodic collector.
func (s *Service) OnMetrics(fn func(metrics.UpdateEvent)) (unsubscribe func()) {
	return s.scheduler.OnUpdate(fn)
}

// NewIdentity returns a fresh identity for an additional terminal of
// serverID.
func (s *Service) NewIdentity(serverID string) string {
	return serverID + "#" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// GetAllGroups returns the group hierarchy with servers attached and
// credentials removed.
func (s *Service) GetAllGroups() ([]*models.Group, error) {
	groups, err := s.store.ListGroups()
	if err != nil {
		return nil, err
	}
	servers, err := s.store.ListServers()
	if err != nil {
		return nil, err
	}
	for i := range servers {
		servers[i] = Redact(servers[i])
	}
	return database.GroupTree(groups, servers), nil
}

// RemoveServer disconnects every identity of serverID and deletes it.
func (s *Service) RemoveServer(serverID string) error {
	s.disconnectServer(serverID)
	if err := s.store.DeleteServer(serverID); err != nil {
		return err
	}
	s.forget(serverID)
	return nil
}

// RemoveGroup deletes a group. With force, servers anywhere below it are
// disconnected and deleted too.
func (s *Service) RemoveGroup(groupID string, force bool) error {
	var doomed []string
	if force {
		groups, err := s.store.ListGroups()
		if err != nil {
			return err
		}
		servers, err := s.store.ListServers()
		if err != nil {
			return err
		}
		below := subtree(groups, groupID)
		for _, srv := range servers {
			if below[srv.GroupID] {
				doomed = append(doomed, srv.ID)
			}
		}
	}
	for _, id := range doomed {
		s.disconnectServer(id)
	}
	if err := s.store.DeleteGroup(groupID, force); err != nil {
		return err
	}
	for _, id := range doomed {
		s.forget(id)
	}
	return nil
}

// TestProxy checks that proxy can open a tunnel to targetHost:targetPort.
func (s *Service) TestProxy(ctx context.Context, proxy models.Proxy, targetHost string, targetPort int) error {
	return s.negotiator.Test(ctx, proxy, targetHost, targetPort)
}

func (s *Service) disconnectServer(serverID string) {
	for _, identity := range s.manager.Registry().Identities(serverID) {
		s.manager.Disconnect(serverID, identity)
	}
}

// forget drops per-server state kept outside the store.
func (s *Service) forget(serverID string) {
	s.limiter.forget(serverID)
	s.collector.Cache().Delete(serverID)
	if s.gauges != nil {
		s.gauges.Forget(serverID)
	}
}

// subtree returns groupID and the ids of every group below it.
func subtree(groups []models.Group, groupID string) map[string]bool {
	children := make(map[string][]string)
	for _, g := range groups {
		children[g.ParentID] = append(children[g.ParentID], g.ID)
	}
	out := map[string]bool{groupID: true}
	queue := []string{groupID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			if !out[c] {
				out[c] = true
				queue = append(queue, c)
			}
		}
	}
	return out
}
