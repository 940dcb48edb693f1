//go:build !darwin

package discovery

import (
	"github.com/beriberikix/usbipd-mac/device"
	"github.com/beriberikix/usbipd-mac/usbiperr"
)

// IOKitDiscovery is a stub on non-darwin platforms: the daemon's device
// discovery bridge is IOKit-specific (spec.md §1 scopes this core to
// macOS). It compiles so the rest of the module type-checks and tests
// on any GOOS, the same role the teacher's Windows/Linux stand-ins play
// for APIs that only make sense on one platform.
type IOKitDiscovery struct{}

func New() *IOKitDiscovery { return &IOKitDiscovery{} }

func (d *IOKitDiscovery) DiscoverDevices() ([]device.Device, error) {
	return nil, usbiperr.New(usbiperr.KindFailedToCreateMatchingDictionary, "IOKit device discovery is only available on darwin")
}

func (d *IOKitDiscovery) GetDevice(busID, deviceID string) (device.Device, bool) {
	return device.Device{}, false
}

func (d *IOKitDiscovery) StartNotifications() error {
	return usbiperr.New(usbiperr.KindFailedToCreateNotificationPort, "IOKit notifications are only available on darwin")
}

func (d *IOKitDiscovery) StopNotifications() {}

func (d *IOKitDiscovery) OnDeviceConnected(fn func(device.Device))    {}
func (d *IOKitDiscovery) OnDeviceDisconnected(fn func(device.Device)) {}
