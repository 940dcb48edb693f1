// Package coordinator wires discovery, the request processor, the
// monitor, and the TCP server into the daemon's single start/stop
// sequence (spec.md §4.G).
package coordinator

import (
	"log/slog"

	"github.com/beriberikix/usbipd-mac/config"
	"github.com/beriberikix/usbipd-mac/discovery"
	"github.com/beriberikix/usbipd-mac/internal/hook"
	"github.com/beriberikix/usbipd-mac/monitor"
	"github.com/beriberikix/usbipd-mac/request"
	"github.com/beriberikix/usbipd-mac/server"
	"github.com/beriberikix/usbipd-mac/usbiperr"
)

// Coordinator owns the daemon's component graph and lifecycle. Start
// wires discovery notifications before the server, so no connection can
// race ahead of a populated device set; Stop tears down in the reverse
// order, best-effort.
type Coordinator struct {
	Config    config.Config
	Discovery discovery.Discovery
	Claims    request.ClaimManager
	Logger    *slog.Logger

	processor *request.Processor
	monitor   *monitor.Monitor
	server    *server.Server

	deviceEvent hook.Slot[func(monitor.Event)]
}

// New wires a Coordinator from its dependencies. Claims may be nil. The
// monitor's connect/disconnect events are logged unconditionally (spec.md
// §4.G step 2) — use OnDeviceEvent to add a further subscriber rather
// than reaching into Monitor() directly, which would replace this
// logging subscription since the monitor only holds one callback.
func New(cfg config.Config, d discovery.Discovery, claims request.ClaimManager, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		Config:    cfg,
		Discovery: d,
		Claims:    claims,
		Logger:    logger,
		processor: request.New(d, claims, cfg),
		monitor:   monitor.New(d),
		server: &server.Server{
			MaxConnections:    cfg.MaxConnections,
			ConnectionTimeout: cfg.ConnectionTimeout,
			Logger:            logger,
		},
	}
	c.monitor.OnDeviceEvent(c.handleDeviceEvent)
	return c
}

// Monitor exposes the wired device monitor, e.g. so a caller can check
// which devices are currently known. Installing a new subscriber
// through it replaces the coordinator's own logging subscription;
// prefer OnDeviceEvent for additional subscribers.
func (c *Coordinator) Monitor() *monitor.Monitor { return c.monitor }

// OnDeviceEvent installs an additional subscriber invoked after the
// coordinator's own device-event logging.
func (c *Coordinator) OnDeviceEvent(fn func(monitor.Event)) { c.deviceEvent.Set(fn) }

func (c *Coordinator) handleDeviceEvent(e monitor.Event) {
	c.Logger.Info("device "+e.Kind.String(), "busID", e.Device.BusID, "deviceID", e.Device.DeviceID)
	if fn, ok := c.deviceEvent.Get(); ok {
		fn(e)
	}
}

// Server exposes the wired TCP server, e.g. so a caller can check
// IsRunning or ConnectionCount.
func (c *Coordinator) Server() *server.Server { return c.server }

// Start brings up device monitoring, then the TCP listener, wiring each
// accepted connection's data/error callbacks to the request processor.
// Returns InitializationFailed wrapping the first failure.
func (c *Coordinator) Start() error {
	if err := c.monitor.StartMonitoring(); err != nil {
		return usbiperr.Wrap(usbiperr.KindInitializationFailed, "failed to start device monitoring", err)
	}

	c.server.OnClientConnected(func(cc *server.ClientConnection) {
		c.Logger.Info("client connected", "conn", cc.ID(), "remote", cc.RemoteAddr())

		cc.OnDataReceived(func(data []byte) {
			resp, err := c.processor.ProcessRequest(data)
			if err != nil {
				c.Logger.Warn("request failed, closing connection", "conn", cc.ID(), "error", err)
				_ = cc.Close()
				return
			}
			if err := cc.Send(resp); err != nil {
				c.Logger.Warn("failed to send response", "conn", cc.ID(), "error", err)
			}
		})

		cc.OnError(func(err error) {
			c.Logger.Debug("connection error", "conn", cc.ID(), "error", err)
		})
	})

	c.server.OnClientDisconnected(func(cc *server.ClientConnection) {
		c.Logger.Info("client disconnected", "conn", cc.ID())
	})

	if err := c.server.Start(c.Config.Port); err != nil {
		c.monitor.StopMonitoring()
		return usbiperr.Wrap(usbiperr.KindInitializationFailed, "failed to start TCP server", err)
	}

	return nil
}

// Stop tears down the server then device monitoring, best-effort: a
// server.Stop failure does not prevent monitor shutdown.
func (c *Coordinator) Stop() error {
	var firstErr error
	if err := c.server.Stop(); err != nil {
		firstErr = err
	}
	c.monitor.StopMonitoring()
	return firstErr
}
