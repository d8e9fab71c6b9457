// Package driver defines the set of interfaces the renderer uses to reach a
// GPU implementation. It models a single-queue device with explicit resource
// states, asynchronous command execution relative to recording, and optional
// hardware ray tracing.
package driver

import (
	"errors"
	"sync"
)

// Driver is the interface that provides methods for loading and unloading an
// underlying device implementation. Open is idempotent: further calls on the
// same receiver return the same GPU instance.
type Driver interface {
	// Open initializes the driver and returns its device.
	Open() (GPU, error)

	// Name returns the name of the driver. It must not cause the
	// driver to be opened.
	Name() string

	// Close deinitializes the driver. Closing a driver that is not
	// open has no effect.
	Close()
}

var (
	// ErrNoDevice means that no suitable device could be found.
	ErrNoDevice = errors.New("driver: no suitable device found")

	// ErrNoDeviceMemory means that device memory could not be allocated.
	ErrNoDeviceMemory = errors.New("driver: out of device memory")

	// ErrNoRayTracing means a hardware ray tracing operation was
	// requested on a device that does not support it.
	ErrNoRayTracing = errors.New("driver: device does not support hardware ray tracing")

	// ErrReleased means an operation referenced a released resource.
	ErrReleased = errors.New("driver: resource already released")
)

// Drivers returns the registered drivers. Client code imports specific
// backend packages for their registration side effect.
func Drivers() []Driver {
	mu.Lock()
	defer mu.Unlock()
	out := make([]Driver, len(drivers))
	copy(out, drivers)
	return out
}

// Register registers a driver. Backend implementations are expected to call
// Register exactly once, from an init function. A driver with a duplicate
// name replaces the earlier registration.
func Register(drv Driver) {
	mu.Lock()
	defer mu.Unlock()
	for i := range drivers {
		if drivers[i].Name() == drv.Name() {
			drivers[i] = drv
			return
		}
	}
	drivers = append(drivers, drv)
}

var (
	mu      sync.Mutex
	drivers = make([]Driver, 0, 1)
)
