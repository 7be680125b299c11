// Package daemon is example wiring, not a required piece of packio itself:
// it shows the Dispatcher and the Server Acceptor assembled into a small
// long-lived process — packiod — listening on a Unix domain socket,
// watching its root directory for changes, and pushing those changes to
// every connected client as a notification.
package daemon

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/firi/packio/codec"
	"github.com/firi/packio/codec/jsonrpc"
	"github.com/firi/packio/dispatch"
	"github.com/firi/packio/internal/logger"
	"github.com/firi/packio/rpcsession"
)

// Daemon owns one Unix socket, one Dispatcher, and every ServerSession
// currently connected to it.
type Daemon struct {
	root         string
	socketPath   string
	log          *logger.FileLogger
	watcher      *FileWatcher
	listener     net.Listener
	disp         *dispatch.Dispatcher
	idleTimer    *time.Timer
	idleTimeout  time.Duration
	shutdown     chan struct{}
	shutdownOnce sync.Once
	startTime    time.Time

	mu       sync.Mutex
	sessions map[*rpcsession.ServerSession]struct{}
	accepted int
}

// Run starts packiod against root and blocks until it shuts down (idle
// timeout, signal, or an explicit "shutdown" call).
func Run(root string) {
	d := &Daemon{
		root:        root,
		socketPath:  SocketPath(root),
		disp:        dispatch.New(),
		shutdown:    make(chan struct{}),
		startTime:   time.Now(),
		sessions:    make(map[*rpcsession.ServerSession]struct{}),
		idleTimeout: idleTimeoutFromEnv(),
	}

	if err := d.setupLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer d.log.Close()

	d.log.Info("starting packiod for root: %s", root)

	if err := d.checkExistingDaemon(); err != nil {
		d.log.Error("checking existing daemon: %v", err)
		os.Exit(1)
	}
	if err := WriteLockFile(root, os.Getpid(), d.socketPath); err != nil {
		d.log.Error("writing lock file: %v", err)
		os.Exit(1)
	}
	defer RemoveLockFile(root)

	d.registerProcedures()

	var err error
	d.watcher, err = NewFileWatcher(root, d.onFilesChanged, d.log)
	if err != nil {
		d.log.Error("failed to start file watcher: %v", err)
	} else {
		defer d.watcher.Stop()
	}

	d.resetIdleTimer()
	d.setupSignalHandlers()

	if err := d.startSocketServer(); err != nil {
		d.log.Error("failed to start socket server: %v", err)
		os.Exit(1)
	}

	d.log.Info("packiod started, listening on %s", d.socketPath)
	<-d.shutdown
	d.log.Info("packiod shutting down")
}

// triggerShutdown closes d.shutdown exactly once. Idle timeout, a signal,
// and the "shutdown" RPC can all reach this independently (and even
// concurrently, e.g. a signal arriving right after a shutdown call); only
// the first one actually closes the channel.
func (d *Daemon) triggerShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdown) })
}

func idleTimeoutFromEnv() time.Duration {
	if s := os.Getenv("PACKIOD_IDLE_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return 30 * time.Minute
}

func (d *Daemon) setupLogging() error {
	if err := TruncateLogFile(d.root, 10*1024*1024); err != nil {
		return err
	}
	log, err := logger.NewFileLogger(LogPath(d.root), logger.LevelDebug)
	if err != nil {
		return err
	}
	d.log = log
	return nil
}

func (d *Daemon) checkExistingDaemon() error {
	info, err := ReadLockFile(d.root)
	if err != nil {
		return err
	}
	if info == nil {
		return nil
	}

	if IsProcessAlive(info.PID) {
		if IsStale(info) {
			d.log.Info("existing daemon is stale, stopping it")
			syscall.Kill(info.PID, syscall.SIGTERM)
			time.Sleep(100 * time.Millisecond)
		} else {
			return fmt.Errorf("daemon already running with PID %d", info.PID)
		}
	} else {
		d.log.Info("found stale lock file, cleaning up")
	}

	CleanupSocket(info.SocketPath)
	RemoveLockFile(d.root)
	return nil
}

func (d *Daemon) resetIdleTimer() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(d.idleTimeout, func() {
		d.log.Info("idle timeout reached, shutting down")
		d.triggerShutdown()
	})
}

func (d *Daemon) setupSignalHandlers() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigChan
		d.log.Info("received signal: %v", sig)
		d.triggerShutdown()
	}()
}

func (d *Daemon) startSocketServer() error {
	CleanupSocket(d.socketPath)
	listener, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return err
	}
	d.listener = listener

	acceptor := rpcsession.NewAcceptor(listener, jsonrpc.Dialect{}, d.disp,
		rpcsession.WithServerLogger(d.log),
		rpcsession.WithServerOnClose(d.onSessionClosed),
	)
	go func() {
		defer CleanupSocket(d.socketPath)
		err := acceptor.AcceptForever(d.onSession)
		select {
		case <-d.shutdown:
		default:
			d.log.Error("accept loop stopped: %v", err)
		}
	}()
	return nil
}

func (d *Daemon) onSession(s *rpcsession.ServerSession) {
	d.resetIdleTimer()

	d.mu.Lock()
	d.accepted++
	d.sessions[s] = struct{}{}
	id := d.accepted
	d.mu.Unlock()

	d.log.Info("client %d connected", id)
}

func (d *Daemon) onSessionClosed(s *rpcsession.ServerSession) {
	d.mu.Lock()
	delete(d.sessions, s)
	d.mu.Unlock()
}

// registerProcedures wires the daemon's own control-plane procedures into
// the Dispatcher. Application procedures are registered by whatever
// embeds this package; these three ship so that any packiod instance is
// independently operable.
func (d *Daemon) registerProcedures() {
	d.disp.Add("status", func() map[string]any {
		d.mu.Lock()
		defer d.mu.Unlock()
		return map[string]any{
			"pid":         os.Getpid(),
			"root":        d.root,
			"uptime":      time.Since(d.startTime).String(),
			"connections": len(d.sessions),
			"accepted":    d.accepted,
			"idleTimeout": d.idleTimeout.String(),
		}
	}, dispatch.Options{})

	d.disp.Add("logs", func() string {
		return d.log.GetLogs(logger.LevelDebug)
	}, dispatch.Options{})

	d.disp.Add("shutdown", func() string {
		go func() {
			time.Sleep(100 * time.Millisecond)
			d.triggerShutdown()
		}()
		return "shutting down"
	}, dispatch.Options{})
}

func (d *Daemon) onFilesChanged(files []string) {
	d.log.Info("files changed: %v", files)

	converted := make([]any, len(files))
	for i, f := range files {
		converted[i] = f
	}
	args := codec.Args{List: []any{converted}}

	d.mu.Lock()
	sessions := make([]*rpcsession.ServerSession, 0, len(d.sessions))
	for s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.Unlock()

	for _, s := range sessions {
		if err := s.Notify("workspace/filesChanged", args); err != nil {
			d.log.Debug("notify session of file change: %v", err)
		}
	}
}
