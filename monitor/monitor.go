// Package monitor tracks the attached-device set and emits connect/
// disconnect events to a single subscriber (spec.md §4.H), de-duplicating
// against a discovery backend that may redeliver the same device.
package monitor

import (
	"sync"

	"github.com/beriberikix/usbipd-mac/device"
	"github.com/beriberikix/usbipd-mac/discovery"
	"github.com/beriberikix/usbipd-mac/internal/hook"
)

// EventKind distinguishes a Connected from a Disconnected notification.
type EventKind int

const (
	Connected EventKind = iota
	Disconnected
)

func (k EventKind) String() string {
	if k == Connected {
		return "connected"
	}
	return "disconnected"
}

// Event is delivered to the subscriber installed with OnDeviceEvent.
type Event struct {
	Kind   EventKind
	Device device.Device
}

// Monitor wraps a Discovery backend with a de-duplicated known-device
// set, so a backend that redelivers an already-known device does not
// produce a spurious Connected event. Construct it with New; the zero
// value has no Discovery and no known-device set and is not usable.
type Monitor struct {
	discovery discovery.Discovery

	mu      sync.Mutex
	known   map[string]struct{}
	running bool

	onEvent hook.Slot[func(Event)]
}

// New returns a Monitor layered over d.
func New(d discovery.Discovery) *Monitor {
	return &Monitor{discovery: d, known: make(map[string]struct{})}
}

// OnDeviceEvent installs the single subscriber for connect/disconnect
// events. Events may arrive on any goroutine.
func (m *Monitor) OnDeviceEvent(fn func(Event)) { m.onEvent.Set(fn) }

// StartMonitoring seeds the known-device set from the backend's current
// snapshot and begins listening for hotplug events. Idempotent.
func (m *Monitor) StartMonitoring() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	m.discovery.OnDeviceConnected(m.handleConnected)
	m.discovery.OnDeviceDisconnected(m.handleDisconnected)

	devices, err := m.discovery.DiscoverDevices()
	if err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return err
	}
	m.mu.Lock()
	for _, d := range devices {
		m.known[d.Key()] = struct{}{}
	}
	m.mu.Unlock()

	return m.discovery.StartNotifications()
}

// StopMonitoring stops event delivery and clears the known-device set.
// Safe to call when not running.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.known = make(map[string]struct{})
	m.mu.Unlock()

	m.discovery.StopNotifications()
}

func (m *Monitor) handleConnected(d device.Device) {
	m.mu.Lock()
	if _, seen := m.known[d.Key()]; seen {
		m.mu.Unlock()
		return
	}
	m.known[d.Key()] = struct{}{}
	m.mu.Unlock()

	if fn, ok := m.onEvent.Get(); ok {
		fn(Event{Kind: Connected, Device: d})
	}
}

func (m *Monitor) handleDisconnected(d device.Device) {
	m.mu.Lock()
	if _, seen := m.known[d.Key()]; !seen {
		m.mu.Unlock()
		return
	}
	delete(m.known, d.Key())
	m.mu.Unlock()

	if fn, ok := m.onEvent.Get(); ok {
		fn(Event{Kind: Disconnected, Device: d})
	}
}
