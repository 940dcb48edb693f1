package discovery

import "github.com/beriberikix/usbipd-mac/device"

// Mock is a test double satisfying Discovery, expressed as a plain
// capability implementation rather than a mocked concrete type — the
// replacement spec.md §9 calls for, for the source's "inheritance of
// mocks" pattern. Used by the request, monitor and coordinator packages'
// tests.
type Mock struct {
	*registry

	DiscoverErr          error
	StartNotificationsErr error
	StartCalls           int
	StopCalls            int
}

// NewMock returns a Mock seeded with the given devices.
func NewMock(devices ...device.Device) *Mock {
	m := &Mock{registry: newRegistry()}
	m.replace(devices)
	return m
}

func (m *Mock) DiscoverDevices() ([]device.Device, error) {
	if m.DiscoverErr != nil {
		return nil, m.DiscoverErr
	}
	return m.snapshot(), nil
}

func (m *Mock) GetDevice(busID, deviceID string) (device.Device, bool) {
	return m.get(busID, deviceID)
}

func (m *Mock) StartNotifications() error {
	m.StartCalls++
	return m.StartNotificationsErr
}

func (m *Mock) StopNotifications() { m.StopCalls++ }

func (m *Mock) OnDeviceConnected(fn func(device.Device))    { m.onDeviceConnected(fn) }
func (m *Mock) OnDeviceDisconnected(fn func(device.Device)) { m.onDeviceDisconnected(fn) }

// Connect simulates a hotplug connect event, for tests driving the
// monitor/coordinator wiring.
func (m *Mock) Connect(d device.Device) { m.add(d) }

// Disconnect simulates a hotplug disconnect event.
func (m *Mock) Disconnect(d device.Device) { m.remove(d) }
