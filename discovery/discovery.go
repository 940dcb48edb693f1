// Package discovery abstracts the host's USB enumeration facility
// (spec.md §4.D). Callers depend on the Discovery interface, not on any
// concrete platform backend, so the request processor and monitor can be
// exercised against a test double.
package discovery

import (
	"sync"

	"github.com/beriberikix/usbipd-mac/device"
	"github.com/beriberikix/usbipd-mac/internal/hook"
)

// Discovery enumerates attached USB devices and, once notifications are
// started, delivers connect/disconnect events.
type Discovery interface {
	// DiscoverDevices returns a snapshot of currently attached devices.
	DiscoverDevices() ([]device.Device, error)

	// GetDevice looks up a single device by its (busID, deviceID) pair.
	// An empty busID or deviceID always resolves to "not found".
	GetDevice(busID, deviceID string) (device.Device, bool)

	// StartNotifications begins asynchronous device-event delivery. It
	// is idempotent.
	StartNotifications() error

	// StopNotifications ends event delivery. It is safe to call when
	// not started and never returns an error.
	StopNotifications()

	// OnDeviceConnected/OnDeviceDisconnected install the single
	// callback invoked for each event. Callbacks may arrive on any
	// goroutine.
	OnDeviceConnected(func(device.Device))
	OnDeviceDisconnected(func(device.Device))
}

// registry is the common bookkeeping every Discovery backend needs: a
// snapshot of known devices plus the two event hooks. Backends embed it
// and fill DiscoverDevices/StartNotifications/StopNotifications
// themselves.
type registry struct {
	mu      sync.RWMutex
	devices map[string]device.Device

	onConnected    hook.Slot[func(device.Device)]
	onDisconnected hook.Slot[func(device.Device)]
}

func newRegistry() *registry {
	return &registry{devices: make(map[string]device.Device)}
}

func (r *registry) snapshot() []device.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]device.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

func (r *registry) get(busID, deviceID string) (device.Device, bool) {
	if busID == "" || deviceID == "" {
		return device.Device{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[busID+":"+deviceID]
	return d, ok
}

func (r *registry) replace(devices []device.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make(map[string]device.Device, len(devices))
	for _, d := range devices {
		r.devices[d.Key()] = d
	}
}

func (r *registry) add(d device.Device) {
	r.mu.Lock()
	r.devices[d.Key()] = d
	r.mu.Unlock()
	if fn, ok := r.onConnected.Get(); ok {
		fn(d)
	}
}

func (r *registry) remove(d device.Device) {
	r.mu.Lock()
	delete(r.devices, d.Key())
	r.mu.Unlock()
	if fn, ok := r.onDisconnected.Get(); ok {
		fn(d)
	}
}

func (r *registry) onDeviceConnected(fn func(device.Device))    { r.onConnected.Set(fn) }
func (r *registry) onDeviceDisconnected(fn func(device.Device)) { r.onDisconnected.Set(fn) }
