// File: server/server.go
// Author: momentics <momentics@gmail.com>
//
// The event-driven server core: owns the listening socket and the readiness
// facility, accepts connections, and dispatches readiness events to worker
// threads. The reactor thread is the only mutator of the connection table's
// membership; a read-write lock lets broadcast and counting run elsewhere.

package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/control"
	"github.com/momentics/hioload-tcp/internal/concurrency"
	"github.com/momentics/hioload-tcp/pool"
	"github.com/momentics/hioload-tcp/reactor"
)

const (
	eventBatchSize = 100
	waitTimeoutMs  = 1000

	// cleanupInterval paces the inactivity sweep from the run loop.
	cleanupInterval = 30 * time.Second
	// DefaultIdleTimeout is how long a connection may stay silent before a
	// sweep closes it.
	DefaultIdleTimeout = 300 * time.Second
)

// Config carries the startup parameters.
type Config struct {
	Port           int
	MaxConnections int
	ThreadCount    int
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{Port: 8080, MaxConnections: 1000, ThreadCount: 4}
}

// Server is the reactor facade. Create with New, install a handler, then
// Start and Run. Stop may be called from any goroutine (or signal wiring).
type Server struct {
	cfg Config

	lnFd    int
	port    int
	poller  reactor.EventReactor
	exec    api.Executor
	ownExec *concurrency.Executor

	mu    sync.RWMutex
	conns map[int]*Conn

	handler     Handler
	running     int32
	idleTimeout time.Duration
	peakConns   int64

	tracker  *pool.MemoryTracker
	metrics  *serverMetrics
	registry *control.Registry
}

// New builds a Server from cfg. Non-positive MaxConnections and ThreadCount
// fall back to defaults; Port 0 binds an ephemeral port (see Port).
func New(cfg Config, opts ...Option) *Server {
	def := DefaultConfig()
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.ThreadCount <= 0 {
		cfg.ThreadCount = def.ThreadCount
	}
	s := &Server{
		cfg:         cfg,
		lnFd:        -1,
		conns:       make(map[int]*Conn),
		idleTimeout: DefaultIdleTimeout,
		tracker:     pool.DefaultTracker(),
		registry:    control.NewRegistry(),
	}
	for _, o := range opts {
		o(s)
	}
	s.metrics = sharedMetrics(s.tracker)
	return s
}

// SetMessageHandler installs the per-frame callback. It is held by the
// server and shared by every connection; install it before Start.
func (s *Server) SetMessageHandler(h Handler) { s.handler = h }

// Start binds the listening socket, creates the readiness facility and the
// worker executor. Startup failures are returned; nothing is left half-open.
func (s *Server) Start() error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return api.ErrServerRunning
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		return fmt.Errorf("socket create: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		atomic.StoreInt32(&s.running, 0)
		return fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: s.cfg.Port}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		atomic.StoreInt32(&s.running, 0)
		return fmt.Errorf("bind port %d: %w", s.cfg.Port, err)
	}
	if err := unix.Listen(fd, s.cfg.MaxConnections); err != nil {
		unix.Close(fd)
		atomic.StoreInt32(&s.running, 0)
		return fmt.Errorf("listen: %w", err)
	}
	bound, err := unix.Getsockname(fd)
	if err == nil {
		if in4, ok := bound.(*unix.SockaddrInet4); ok {
			s.port = in4.Port
		}
	}

	poller, err := reactor.NewReactor()
	if err != nil {
		unix.Close(fd)
		atomic.StoreInt32(&s.running, 0)
		return fmt.Errorf("reactor create: %w", err)
	}
	if err := poller.Add(fd, reactor.EventRead); err != nil {
		poller.Close()
		unix.Close(fd)
		atomic.StoreInt32(&s.running, 0)
		return fmt.Errorf("register listener: %w", err)
	}

	s.lnFd = fd
	s.poller = poller
	if s.exec == nil {
		s.ownExec = concurrency.NewExecutor(s.cfg.ThreadCount)
		s.exec = s.ownExec
	}

	logrus.WithFields(logrus.Fields{
		"port":            s.port,
		"max_connections": s.cfg.MaxConnections,
		"workers":         s.exec.NumWorkers(),
	}).Info("server started")
	return nil
}

// Port returns the bound port, which differs from the configured one when
// port 0 was requested.
func (s *Server) Port() int { return s.port }

// Run drives the event loop until Stop. It performs the teardown itself so
// the connection table is only ever touched from the reactor thread.
func (s *Server) Run() {
	events := make([]reactor.Event, eventBatchSize)
	lastSweep := time.Now()

	for atomic.LoadInt32(&s.running) == 1 {
		n, err := s.poller.Wait(events, waitTimeoutMs)
		if err != nil {
			logrus.WithError(err).Error("readiness wait failed")
			break
		}
		for i := 0; i < n; i++ {
			if events[i].Fd == s.lnFd {
				s.acceptLoop()
				continue
			}
			s.dispatch(events[i])
		}
		if time.Since(lastSweep) >= cleanupInterval {
			s.CleanupInactive(s.idleTimeout)
			s.publishSnapshot()
			lastSweep = time.Now()
		}
	}
	s.teardown()
}

// Stop requests a cooperative shutdown: the running flag flips and the
// readiness wait is broken promptly. Idempotent.
func (s *Server) Stop() {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return
	}
	if s.poller != nil {
		_ = s.poller.Wakeup()
	}
}

// Shutdown implements api.GracefulShutdown.
func (s *Server) Shutdown() error {
	s.Stop()
	return nil
}

func (s *Server) teardown() {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[int]*Conn)
	s.mu.Unlock()

	for _, c := range conns {
		_ = s.poller.Remove(c.Fd())
		c.Close()
	}
	if s.ownExec != nil {
		s.ownExec.Close()
	}
	if s.lnFd >= 0 {
		unix.Close(s.lnFd)
		s.lnFd = -1
	}
	if s.poller != nil {
		s.poller.Close()
	}
	s.metrics.connectionsActive.Set(0)
	logrus.Info("server stopped")
}

// acceptLoop accepts until the listener reports EAGAIN, per edge-triggered
// semantics.
func (s *Server) acceptLoop() {
	for {
		nfd, sa, err := unix.Accept(s.lnFd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR || err == unix.ECONNABORTED {
				continue
			}
			logrus.WithError(err).Error("accept failed")
			continue
		}
		if err := unix.SetNonblock(nfd, true); err != nil {
			unix.Close(nfd)
			continue
		}
		_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

		if s.ConnectionCount() >= s.cfg.MaxConnections {
			logrus.WithField("fd", nfd).Warn("connection limit reached, rejecting")
			unix.Close(nfd)
			continue
		}
		if s.tracker.Exceeded() {
			logrus.WithField("bytes", s.tracker.Current()).
				Warn("memory ceiling exceeded, rejecting connection")
			unix.Close(nfd)
			continue
		}

		peer := peerString(sa)
		c := newConn(nfd, peer, s.tracker, s.handler, s.armWrite, s.disarmWrite, s.metrics)
		if err := s.poller.Add(nfd, reactor.EventRead|reactor.EventHup); err != nil {
			logrus.WithError(err).WithField("fd", nfd).Error("register connection failed")
			c.Close()
			continue
		}

		s.mu.Lock()
		s.conns[nfd] = c
		count := len(s.conns)
		s.mu.Unlock()
		if int64(count) > atomic.LoadInt64(&s.peakConns) {
			atomic.StoreInt64(&s.peakConns, int64(count))
			s.metrics.connectionsPeak.Set(float64(count))
		}
		s.metrics.connectionsTotal.Inc()
		s.metrics.connectionsActive.Set(float64(count))
		logrus.WithFields(logrus.Fields{"fd": nfd, "peer": peer}).Debug("accepted connection")
	}
}

func peerString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%s:%d", net.IP(a.Addr[:]), a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%s]:%d", net.IP(a.Addr[:]), a.Port)
	default:
		return "unknown"
	}
}

// dispatch routes one readiness event. Hangup schedules cleanup on the
// reactor thread; read and write steps go to the worker pool.
func (s *Server) dispatch(ev reactor.Event) {
	s.mu.RLock()
	c := s.conns[ev.Fd]
	s.mu.RUnlock()
	if c == nil {
		return
	}
	if !c.Connected() || ev.Ready&reactor.EventHup != 0 {
		s.cleanup(c)
		return
	}
	if ev.Ready&reactor.EventRead != 0 {
		if err := s.exec.Submit(c.HandleRead); err != nil {
			s.cleanup(c)
			return
		}
	}
	if ev.Ready&reactor.EventWrite != 0 {
		if err := s.exec.Submit(c.HandleWrite); err != nil {
			s.cleanup(c)
		}
	}
}

// cleanup removes the connection from the table, deregisters the socket and
// closes it.
func (s *Server) cleanup(c *Conn) {
	s.mu.Lock()
	if s.conns[c.Fd()] != c {
		s.mu.Unlock()
		return
	}
	delete(s.conns, c.Fd())
	count := len(s.conns)
	s.mu.Unlock()

	_ = s.poller.Remove(c.Fd())
	c.Close()
	s.metrics.connectionsActive.Set(float64(count))
}

// armWrite adds write interest for a connection whose outbound queue just
// became non-empty. Called from worker or application threads; epoll_ctl is
// thread-safe.
func (s *Server) armWrite(c *Conn) {
	_ = s.poller.Modify(c.Fd(), reactor.EventRead|reactor.EventWrite|reactor.EventHup)
}

// disarmWrite drops write interest once the flush drained the queue, so an
// always-writable socket does not busy-spin the loop.
func (s *Server) disarmWrite(c *Conn) {
	_ = s.poller.Modify(c.Fd(), reactor.EventRead|reactor.EventHup)
}

// Broadcast enqueues a copy of payload on every live connection. The
// payload must already carry its delimiter. Cross-connection order is
// unspecified.
func (s *Server) Broadcast(payload []byte) {
	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if err := c.SendRaw(payload); err != nil {
			logrus.WithFields(logrus.Fields{"fd": c.Fd(), "peer": c.Peer()}).
				WithError(err).Debug("broadcast enqueue failed")
		}
	}
}

// SendToClient enqueues payload on the connection identified by fd. The
// payload must already carry its delimiter.
func (s *Server) SendToClient(fd int, payload []byte) error {
	s.mu.RLock()
	c := s.conns[fd]
	s.mu.RUnlock()
	if c == nil {
		return api.ErrConnClosed
	}
	return c.SendRaw(payload)
}

// ConnectionCount returns the number of tracked connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// PeakConnectionCount returns the highest concurrent connection count seen.
func (s *Server) PeakConnectionCount() int {
	return int(atomic.LoadInt64(&s.peakConns))
}

// CleanupInactive closes every connection silent for longer than timeout,
// and reaps connections that already closed themselves on a worker thread.
func (s *Server) CleanupInactive(timeout time.Duration) {
	deadline := time.Now().Add(-timeout)

	s.mu.Lock()
	var victims []*Conn
	for fd, c := range s.conns {
		if !c.Connected() || c.LastActivity().Before(deadline) {
			delete(s.conns, fd)
			victims = append(victims, c)
		}
	}
	count := len(s.conns)
	s.mu.Unlock()

	for _, c := range victims {
		_ = s.poller.Remove(c.Fd())
		if c.Connected() {
			logrus.WithFields(logrus.Fields{"fd": c.Fd(), "peer": c.Peer()}).
				Info("closing inactive connection")
		}
		c.Close()
	}
	if len(victims) > 0 {
		s.metrics.connectionsActive.Set(float64(count))
	}
}

// Snapshot reports the server's runtime counters, including the summed
// free/acquired counts of every connection's outbound pool.
func (s *Server) Snapshot() control.Snapshot {
	var free int
	var acquired int64
	s.mu.RLock()
	count := len(s.conns)
	for _, c := range s.conns {
		f, a := c.PoolCounters()
		free += f
		acquired += a
	}
	s.mu.RUnlock()

	s.metrics.poolFreeBuffers.Set(float64(free))
	s.metrics.poolAcquiredBuffers.Set(float64(acquired))

	return control.Snapshot{
		Connections:     count,
		PeakConnections: s.PeakConnectionCount(),
		CurrentBytes:    s.tracker.Current(),
		PeakBytes:       s.tracker.Peak(),
		FreeBuffers:     free,
		AcquiredBuffers: acquired,
		Updated:         time.Now(),
	}
}

// Registry exposes the metrics snapshot registry updated by the run loop.
func (s *Server) Registry() *control.Registry { return s.registry }

func (s *Server) publishSnapshot() {
	s.registry.Update(s.Snapshot())
}
