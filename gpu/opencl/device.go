//go:build opencl

package opencl

import (
	"fmt"

	"github.com/jgillich/go-opencl/cl"
)

type deviceRef = *cl.Device

var deviceKinds = []struct {
	clType  cl.DeviceType
	devType DeviceType
}{
	{cl.DeviceTypeCPU, CpuDevice},
	{cl.DeviceTypeGPU, GpuDevice},
	{cl.DeviceTypeAccelerator, OtherDevice},
}

// Get information about supported opencl platforms and devices.
func GetPlatformInfo() ([]PlatformInfo, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, fmt.Errorf("opencl: could not enumerate platforms: %w", err)
	}

	infoList := make([]PlatformInfo, len(platforms))
	for pIdx, p := range platforms {
		info := &infoList[pIdx]
		info.Profile = p.Profile()
		info.Version = p.Version()
		info.Name = p.Name()
		info.Vendor = p.Vendor()
		info.Extensions = p.Extensions()
		info.Devices = make([]*Device, 0)

		for _, kind := range deviceKinds {
			devices, err := p.GetDevices(kind.clType)
			if err == cl.ErrDeviceNotFound {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("opencl platform (%s): could not enumerate %s devices: %w", info.Name, kind.devType, err)
			}
			for _, d := range devices {
				info.Devices = append(info.Devices, newDevice(d, kind.devType))
			}
		}
	}

	return infoList, nil
}

func newDevice(d *cl.Device, devType DeviceType) *Device {
	dev := &Device{
		Name:         d.Name(),
		Vendor:       d.Vendor(),
		Type:         devType,
		ComputeUnits: d.MaxComputeUnits(),
		ClockSpeed:   d.MaxClockFrequency(),
		ref:          d,
	}

	// Rough speed estimate: compute units * clock speed
	dev.Speed = dev.ComputeUnits * dev.ClockSpeed / 1000
	return dev
}
