// Package server implements the USB/IP daemon's TCP listener (spec.md
// §4.F): accept loop, bounded concurrency, idle-connection reaping, and
// per-connection data/error callbacks. Framing above the raw socket is
// the caller's responsibility — this package moves bytes, nothing more.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/beriberikix/usbipd-mac/internal/hook"
	"github.com/beriberikix/usbipd-mac/usbiperr"
)

// Server is a single-port TCP listener with an Idle → Running → Stopping
// → Idle lifecycle (spec.md §4.F). Zero value is ready to use.
type Server struct {
	MaxConnections    int           // admission cap; <=0 means unbounded
	ConnectionTimeout time.Duration // idle timeout per connection; <=0 disables it
	Logger            *slog.Logger

	mu       sync.Mutex
	running  bool
	listener net.Listener
	sem      *semaphore.Weighted
	group    *errgroup.Group
	cancel   context.CancelFunc

	connMu      sync.Mutex
	connections map[string]*ClientConnection

	onClientConnected    hook.Slot[func(*ClientConnection)]
	onClientDisconnected hook.Slot[func(*ClientConnection)]
}

// OnClientConnected installs the callback fired once a connection is
// accepted and admitted (i.e. past the maxConnections gate).
func (s *Server) OnClientConnected(fn func(*ClientConnection)) { s.onClientConnected.Set(fn) }

// OnClientDisconnected installs the callback fired once, after a
// connection's read loop exits for any reason.
func (s *Server) OnClientDisconnected(fn func(*ClientConnection)) { s.onClientDisconnected.Set(fn) }

// IsRunning reports whether the server currently holds an open listener.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start binds port and begins accepting connections in the background.
// Returns AlreadyRunning if called while already running.
func (s *Server) Start(port uint16) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return usbiperr.New(usbiperr.KindAlreadyRunning, "server already running")
	}

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(int(port)))
	if err != nil {
		s.mu.Unlock()
		return usbiperr.Wrap(usbiperr.KindBindFailed, fmt.Sprintf("failed to bind port %d", port), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	s.listener = ln
	s.cancel = cancel
	s.group = g
	s.running = true
	if s.MaxConnections > 0 {
		s.sem = semaphore.NewWeighted(int64(s.MaxConnections))
	} else {
		s.sem = nil
	}
	s.connMu.Lock()
	s.connections = make(map[string]*ClientConnection)
	s.connMu.Unlock()
	s.mu.Unlock()

	g.Go(func() error {
		return s.acceptLoop(gctx, ln)
	})

	s.logger().Info("server started", "port", port)
	return nil
}

// Stop closes the listener and every open connection, and waits for the
// accept loop and in-flight connection goroutines to exit. Returns
// NotRunning if called while not running.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return usbiperr.New(usbiperr.KindNotRunning, "server is not running")
	}
	ln := s.listener
	cancel := s.cancel
	g := s.group
	s.running = false
	s.mu.Unlock()

	cancel()
	_ = ln.Close()

	s.connMu.Lock()
	conns := make([]*ClientConnection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.connMu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}

	_ = g.Wait()
	s.logger().Info("server stopped")
	return nil
}

// ConnectionCount returns the number of currently admitted connections.
func (s *Server) ConnectionCount() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.connections)
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return usbiperr.Wrap(usbiperr.KindConnectionFailed, "accept failed", err)
			}
		}

		if s.sem != nil && !s.sem.TryAcquire(1) {
			s.logger().Warn("rejecting connection, at capacity", "remote", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}

		cc := newClientConnection(conn)
		s.connMu.Lock()
		s.connections[cc.id] = cc
		s.connMu.Unlock()

		s.group.Go(func() error {
			s.serveConnection(cc)
			return nil
		})
	}
}

func (s *Server) serveConnection(cc *ClientConnection) {
	defer func() {
		_ = cc.Close()
		s.connMu.Lock()
		delete(s.connections, cc.id)
		s.connMu.Unlock()
		if s.sem != nil {
			s.sem.Release(1)
		}
		if fn, ok := s.onClientDisconnected.Get(); ok {
			fn(cc)
		}
	}()

	if fn, ok := s.onClientConnected.Get(); ok {
		fn(cc)
	}

	buf := make([]byte, 64*1024)
	for {
		if s.ConnectionTimeout > 0 {
			_ = cc.conn.SetReadDeadline(time.Now().Add(s.ConnectionTimeout))
		}
		n, err := cc.conn.Read(buf)
		if n > 0 {
			if fn, ok := cc.onDataReceived.Get(); ok {
				fn(append([]byte(nil), buf[:n]...))
			}
		}
		if err != nil {
			// A clean peer close (io.EOF) is a disconnect, not a
			// transport error: only the disconnect hook fires for it.
			if errors.Is(err, io.EOF) {
				return
			}
			if fn, ok := cc.onError.Get(); ok {
				fn(usbiperr.Wrap(usbiperr.KindConnectionFailed, "connection "+cc.id+" read failed", err))
			}
			return
		}
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
