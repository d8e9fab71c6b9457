// Package soft provides a pure-Go software implementation of the driver
// interfaces. Acceleration structure builds run as CPU bounding-volume
// hierarchy construction and ray dispatches execute built-in kernels, which
// makes the backend suitable both as a reference device and for tests.
//
// The backend registers itself under the name "soft" on import. Hardware
// ray tracing is reported as supported by default; opening the driver via
// NewDriver with ray tracing disabled exercises a device without it.
package soft

import (
	"github.com/helios-render/helios/driver"
)

const driverName = "soft"

type softDriver struct {
	name       string
	rayTracing bool
	gpu        *softGPU
}

// NewDriver creates an unregistered software driver instance. Tests use
// this to open devices with specific capability sets.
func NewDriver(rayTracing bool) driver.Driver {
	name := driverName
	if !rayTracing {
		name = driverName + "-nort"
	}
	return &softDriver{name: name, rayTracing: rayTracing}
}

func (d *softDriver) Name() string {
	return d.name
}

func (d *softDriver) Open() (driver.GPU, error) {
	if d.gpu != nil {
		return d.gpu, nil
	}
	d.gpu = newGPU(d)
	return d.gpu, nil
}

func (d *softDriver) Close() {
	if d.gpu != nil {
		d.gpu.Destroy()
		d.gpu = nil
	}
}

func init() {
	driver.Register(&softDriver{name: driverName, rayTracing: true})
}
