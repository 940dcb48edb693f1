//go:build darwin

package discovery

/*
#cgo LDFLAGS: -framework IOKit -framework CoreFoundation
#include <IOKit/IOKitLib.h>
#include <IOKit/usb/IOUSBLib.h>
#include <IOKit/IOCFPlugIn.h>
#include <CoreFoundation/CoreFoundation.h>

#ifndef kIOMainPortDefault
  #ifdef kIOMasterPortDefault
    #define kIOMainPortDefault kIOMasterPortDefault
  #else
    #define kIOMainPortDefault 0
  #endif
#endif

#pragma clang diagnostic push
#pragma clang diagnostic ignored "-Wdeprecated-declarations"

// GetIntProperty reads an integer IORegistry property. ok is 0 when the
// property is absent or not a CFNumber, matching spec.md §4.D's "missing
// or wrong type" skip rule.
int GetIntProperty(io_service_t service, const char *key, int *ok) {
	CFStringRef keyRef = CFStringCreateWithCString(kCFAllocatorDefault, key, kCFStringEncodingUTF8);
	CFNumberRef valueRef = (CFNumberRef)IORegistryEntryCreateCFProperty(service, keyRef, kCFAllocatorDefault, 0);
	CFRelease(keyRef);
	*ok = 0;
	if (valueRef == NULL) {
		return 0;
	}
	int value = 0;
	if (CFGetTypeID(valueRef) == CFNumberGetTypeID() && CFNumberGetValue(valueRef, kCFNumberIntType, &value)) {
		*ok = 1;
	}
	CFRelease(valueRef);
	return value;
}

// GetStringProperty reads a string IORegistry property into buffer,
// returning 0 when the property is absent.
int GetStringProperty(io_service_t service, const char *key, char *buffer, int bufferLen) {
	CFStringRef keyRef = CFStringCreateWithCString(kCFAllocatorDefault, key, kCFStringEncodingUTF8);
	CFStringRef valueRef = (CFStringRef)IORegistryEntryCreateCFProperty(service, keyRef, kCFAllocatorDefault, 0);
	CFRelease(keyRef);
	if (valueRef == NULL) {
		return 0;
	}
	Boolean result = CFStringGetCString(valueRef, buffer, bufferLen, kCFStringEncodingUTF8);
	CFRelease(valueRef);
	return result ? 1 : 0;
}

// CreateUSBMatchingDict builds the matching dictionary for every USB
// device attached to the host. Returns NULL on allocation failure.
CFMutableDictionaryRef CreateUSBMatchingDict() {
	CFMutableDictionaryRef dict = IOServiceMatching(kIOUSBDeviceClassName);
	if (dict == NULL) {
		dict = IOServiceMatching("IOUSBHostDevice");
	}
	return dict;
}

io_iterator_t CreateUSBIterator() {
	io_iterator_t iterator = 0;
	CFMutableDictionaryRef matchingDict = CreateUSBMatchingDict();
	if (matchingDict == NULL) {
		return 0;
	}
	kern_return_t kr = IOServiceGetMatchingServices(kIOMainPortDefault, matchingDict, &iterator);
	if (kr != KERN_SUCCESS) {
		return 0;
	}
	return iterator;
}

io_service_t GetNextUSBDevice(io_iterator_t iterator) {
	return IOIteratorNext(iterator);
}

void ReleaseIterator(io_iterator_t iterator) {
	if (iterator != 0) {
		IOObjectRelease(iterator);
	}
}

void ReleaseService(io_service_t service) {
	if (service != 0) {
		IOObjectRelease(service);
	}
}

extern void goDeviceAdded(io_iterator_t iterator);
extern void goDeviceRemoved(io_iterator_t iterator);

// notificationContext bundles the pieces that must outlive the call that
// created them: the notification port, its run loop source, and the two
// live iterators IOKit requires callers to drain.
typedef struct {
	IONotificationPortRef port;
	io_iterator_t addedIter;
	io_iterator_t removedIter;
	CFRunLoopRef runLoop;
} notificationContext;

static void addedCallback(void *refcon, io_iterator_t iterator) {
	goDeviceAdded(iterator);
}

static void removedCallback(void *refcon, io_iterator_t iterator) {
	goDeviceRemoved(iterator);
}

// StartNotificationPort creates a notification port, registers matching
// and terminating notifications for USB devices, and runs the resulting
// run loop on the calling OS thread until StopNotificationPort signals
// it to stop. ctx receives the created handles so the caller can drain
// the initial iterator contents (IOKit requires this even when the
// caller does not care about the pre-existing device set).
int StartNotificationPort(notificationContext *ctx) {
	ctx->port = IONotificationPortCreate(kIOMainPortDefault);
	if (ctx->port == NULL) {
		return -1;
	}

	CFMutableDictionaryRef addedDict = CreateUSBMatchingDict();
	CFRetain(addedDict);
	CFMutableDictionaryRef removedDict = CreateUSBMatchingDict();

	kern_return_t kr = IOServiceAddMatchingNotification(
		ctx->port, kIOMatchedNotification, addedDict,
		addedCallback, NULL, &ctx->addedIter);
	if (kr != KERN_SUCCESS) {
		IONotificationPortDestroy(ctx->port);
		return kr;
	}
	kr = IOServiceAddMatchingNotification(
		ctx->port, kIOTerminatedNotification, removedDict,
		removedCallback, NULL, &ctx->removedIter);
	if (kr != KERN_SUCCESS) {
		IOObjectRelease(ctx->addedIter);
		IONotificationPortDestroy(ctx->port);
		return kr;
	}

	// Drain both iterators once: IOKit arms the notification only after
	// the iterator returned by AddMatchingNotification is exhausted.
	goDeviceAdded(ctx->addedIter);
	goDeviceRemoved(ctx->removedIter);

	ctx->runLoop = CFRunLoopGetCurrent();
	CFRunLoopAddSource(ctx->runLoop, IONotificationPortGetRunLoopSource(ctx->port), kCFRunLoopDefaultMode);
	CFRunLoopRun();
	return 0;
}

void StopNotificationPort(notificationContext *ctx) {
	if (ctx->runLoop != NULL) {
		CFRunLoopStop(ctx->runLoop);
	}
}

void DestroyNotificationPort(notificationContext *ctx) {
	if (ctx->addedIter != 0) {
		IOObjectRelease(ctx->addedIter);
	}
	if (ctx->removedIter != 0) {
		IOObjectRelease(ctx->removedIter);
	}
	if (ctx->port != NULL) {
		IONotificationPortDestroy(ctx->port);
	}
}

#pragma clang diagnostic pop
*/
import "C"

import (
	"strconv"
	"sync"
	"unsafe"

	"github.com/beriberikix/usbipd-mac/device"
	"github.com/beriberikix/usbipd-mac/usbiperr"
)

// IOKitDiscovery enumerates USB devices via IOKit and watches for
// hotplug events through an IONotificationPort. It is the macOS
// implementation of Discovery.
type IOKitDiscovery struct {
	*registry

	mu      sync.Mutex
	running bool
	ctx     *C.notificationContext
	done    chan struct{}
}

// New returns a darwin Discovery backed by IOKit.
func New() *IOKitDiscovery {
	return &IOKitDiscovery{registry: newRegistry()}
}

// DiscoverDevices enumerates every USB device currently attached.
func (d *IOKitDiscovery) DiscoverDevices() ([]device.Device, error) {
	devices, err := enumerate()
	if err != nil {
		return nil, err
	}
	d.replace(devices)
	return devices, nil
}

// GetDevice looks up a device the most recent DiscoverDevices call (or a
// connect event) observed.
func (d *IOKitDiscovery) GetDevice(busID, deviceID string) (device.Device, bool) {
	return d.get(busID, deviceID)
}

// OnDeviceConnected installs the connect callback.
func (d *IOKitDiscovery) OnDeviceConnected(fn func(device.Device)) { d.onDeviceConnected(fn) }

// OnDeviceDisconnected installs the disconnect callback.
func (d *IOKitDiscovery) OnDeviceDisconnected(fn func(device.Device)) { d.onDeviceDisconnected(fn) }

// StartNotifications creates the notification port and runs its run
// loop on a dedicated goroutine. Idempotent.
func (d *IOKitDiscovery) StartNotifications() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	activeDiscoveryMu.Lock()
	activeDiscovery = d
	activeDiscoveryMu.Unlock()

	ctx := &C.notificationContext{}
	started := make(chan error, 1)
	d.done = make(chan struct{})
	go func() {
		// IOKit run loops must run on the thread that created the
		// notification port.
		result := C.StartNotificationPort(ctx)
		if result != 0 {
			started <- usbiperr.IoKit(int32(result), "failed to create notification port")
		} else {
			started <- nil
		}
		close(d.done)
	}()

	if err := <-started; err != nil {
		return err
	}
	d.ctx = ctx
	d.running = true
	return nil
}

// StopNotifications stops the run loop and releases IOKit resources. It
// never returns an error and is safe to call when not started.
func (d *IOKitDiscovery) StopNotifications() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	C.StopNotificationPort(d.ctx)
	<-d.done
	C.DestroyNotificationPort(d.ctx)
	d.ctx = nil
	d.running = false

	activeDiscoveryMu.Lock()
	if activeDiscovery == d {
		activeDiscovery = nil
	}
	activeDiscoveryMu.Unlock()
}

// activeDiscovery is the single IOKitDiscovery whose notification
// callbacks are currently armed. IOKit's C callback signature carries no
// user context pointer we can thread through cgo cleanly for a
// single-purpose daemon, so the callbacks below look it up here; only
// one Discovery is ever started at a time in this process.
var (
	activeDiscoveryMu sync.Mutex
	activeDiscovery   *IOKitDiscovery
)

//export goDeviceAdded
func goDeviceAdded(iterator C.io_iterator_t) {
	drainIterator(iterator, func(d device.Device) {
		activeDiscoveryMu.Lock()
		disc := activeDiscovery
		activeDiscoveryMu.Unlock()
		if disc != nil {
			disc.add(d)
		}
	})
}

//export goDeviceRemoved
func goDeviceRemoved(iterator C.io_iterator_t) {
	drainIterator(iterator, func(d device.Device) {
		activeDiscoveryMu.Lock()
		disc := activeDiscovery
		activeDiscoveryMu.Unlock()
		if disc != nil {
			disc.remove(d)
		}
	})
}

func drainIterator(iterator C.io_iterator_t, onEach func(device.Device)) {
	for {
		service := C.GetNextUSBDevice(iterator)
		if service == 0 {
			return
		}
		d, ok := extractDevice(service)
		C.ReleaseService(service)
		if ok {
			onEach(d)
		}
	}
}

func enumerate() ([]device.Device, error) {
	iterator := C.CreateUSBIterator()
	if iterator == 0 {
		return nil, usbiperr.New(usbiperr.KindFailedToCreateMatchingDictionary, "failed to create USB matching dictionary")
	}
	defer C.ReleaseIterator(iterator)

	var devices []device.Device
	seenBuses := map[string]int{}
	for {
		service := C.GetNextUSBDevice(iterator)
		if service == 0 {
			break
		}
		d, ok := extractDevice(service)
		C.ReleaseService(service)
		if !ok {
			continue
		}
		// deviceID is a small counter within the bus, per spec.md §4.C.
		seenBuses[d.BusID]++
		d.DeviceID = strconv.Itoa(seenBuses[d.BusID])
		devices = append(devices, d)
	}
	return devices, nil
}

// extractDevice reads the required and optional properties off an
// io_service_t, returning ok=false when a required property (vendorID,
// productID) is missing or the wrong type — spec.md §4.D's silent-skip
// rule.
func extractDevice(service C.io_service_t) (device.Device, bool) {
	var ok C.int

	vendorID := C.GetIntProperty(service, C.CString("idVendor"), &ok)
	if ok == 0 {
		return device.Device{}, false
	}
	productID := C.GetIntProperty(service, C.CString("idProduct"), &ok)
	if ok == 0 {
		return device.Device{}, false
	}

	locationID := C.GetIntProperty(service, C.CString("locationID"), &ok)
	var busID string
	if ok != 0 {
		busID = device.BusIDFromLocationID(uint32(locationID))
	}

	deviceClass := C.GetIntProperty(service, C.CString("bDeviceClass"), &ok)
	if ok == 0 {
		deviceClass = 0
	}
	deviceSubClass := C.GetIntProperty(service, C.CString("bDeviceSubClass"), &ok)
	if ok == 0 {
		deviceSubClass = 0
	}
	deviceProtocol := C.GetIntProperty(service, C.CString("bDeviceProtocol"), &ok)
	if ok == 0 {
		deviceProtocol = 0
	}
	speedCode := C.GetIntProperty(service, C.CString("Device Speed"), &ok)
	speed := device.SpeedUnknown
	if ok != 0 {
		speed = macSpeedToDeviceSpeed(int(speedCode))
	}

	d := device.Device{
		BusID:          busID,
		Path:           "iokit:" + strconv.Itoa(int(locationID)),
		BusNum:         uint32(locationID) >> 24,
		Speed:          speed,
		VendorID:       uint16(vendorID),
		ProductID:      uint16(productID),
		DeviceClass:    uint8(deviceClass),
		DeviceSubClass: uint8(deviceSubClass),
		DeviceProtocol: uint8(deviceProtocol),
	}

	if s, ok := readStringProperty(service, "USB Vendor Name"); ok {
		d.Manufacturer = &s
	}
	if s, ok := readStringProperty(service, "USB Product Name"); ok {
		d.Product = &s
	}
	if s, ok := readStringProperty(service, "USB Serial Number"); ok {
		d.SerialNumber = &s
	}

	return d, true
}

func readStringProperty(service C.io_service_t, key string) (string, bool) {
	buf := make([]byte, 256)
	ckey := C.CString(key)
	ok := C.GetStringProperty(service, ckey, (*C.char)(unsafe.Pointer(&buf[0])), C.int(len(buf)))
	if ok == 0 {
		return "", false
	}
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n]), true
}

// macSpeedToDeviceSpeed maps IOKit's kUSBDeviceSpeed* constants to the
// closed Speed enumeration.
func macSpeedToDeviceSpeed(code int) device.Speed {
	switch code {
	case 0:
		return device.SpeedLow
	case 1:
		return device.SpeedFull
	case 2:
		return device.SpeedHigh
	case 3:
		return device.SpeedSuper
	default:
		return device.SpeedUnknown
	}
}

