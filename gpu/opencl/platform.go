package opencl

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrUnavailable = errors.New("opencl: support not enabled; rebuild with -tags opencl")
	ErrNoDevice    = errors.New("opencl: no matching device")
	ErrBuild       = errors.New("opencl: program build failed")
)

type DeviceType uint8

// Supported device types.
const (
	CpuDevice   DeviceType = 1 << iota
	GpuDevice              = 1 << iota
	OtherDevice            = 1 << iota
	AllDevices             = 0xFF
)

var (
	indentRegex = regexp.MustCompile("(?m)^")
)

func (dt DeviceType) String() string {
	switch dt {
	case CpuDevice:
		return "CPU"
	case GpuDevice:
		return "GPU"
	case OtherDevice:
		return "Other"
	case AllDevices:
		return "All"
	}
	return fmt.Sprintf("DeviceType(%d)", uint8(dt))
}

// Parse a device type mask from its command line form (cpu, gpu, other or all).
func ParseDeviceType(name string) (DeviceType, error) {
	switch strings.ToLower(name) {
	case "cpu":
		return CpuDevice, nil
	case "gpu":
		return GpuDevice, nil
	case "other":
		return OtherDevice, nil
	case "", "all":
		return AllDevices, nil
	}
	return 0, fmt.Errorf("opencl: unknown device type %q", name)
}

// An opencl device.
type Device struct {
	Name   string
	Vendor string
	Type   DeviceType

	ComputeUnits int
	ClockSpeed   int

	// Speed estimate in GFlops.
	Speed int

	ref deviceRef
}

// Implements Stringer.
func (d Device) String() string {
	return fmt.Sprintf(
		"Name: %s\nType: %s\nSpecs: %d computation units, %d Mhz clock, %d GFlops approximate speed",
		d.Name,
		d.Type,
		d.ComputeUnits,
		d.ClockSpeed,
		d.Speed,
	)
}

// Information about a system's opencl platform and supported devices.
type PlatformInfo struct {
	Profile    string
	Version    string
	Name       string
	Vendor     string
	Extensions string
	Devices    []*Device
}

func (pl PlatformInfo) String() string {
	var buf bytes.Buffer

	buf.WriteString(
		fmt.Sprintf(
			"Version:    %s\nName:       %s\nVendor:     %s\nExtensions: %s\nDevices:\n",
			pl.Version,
			pl.Name,
			pl.Vendor,
			pl.Extensions,
		),
	)

	for dIdx, d := range pl.Devices {
		buf.WriteString(fmt.Sprintf("  Device %02d:\n", dIdx))
		buf.WriteString(indentRegex.ReplaceAllString(d.String(), "    "))
		buf.WriteString("\n\n")
	}

	return buf.String()
}

// Scan all available opencl platforms and select devices that match the
// given query. Devices are returned fastest first.
func SelectDevices(typeMask DeviceType, matchName string) ([]*Device, error) {
	platforms, err := GetPlatformInfo()
	if err != nil {
		return nil, err
	}
	list := make([]*Device, 0)
	for _, p := range platforms {
		for _, d := range p.Devices {
			// Match type
			if d.Type&typeMask != d.Type {
				continue
			}

			// Match name
			if matchName != "" && !strings.Contains(d.Name, matchName) {
				continue
			}

			list = append(list, d)
		}
	}

	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].Speed > list[j-1].Speed; j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
	return list, nil
}

// Config selects the device used by a provider.
type Config struct {
	DeviceType DeviceType

	// Substring matched against device names; empty matches any device.
	DeviceName string

	// Wait for every dispatch to complete so kernel timings are accurate.
	Profile bool
}

// Get the default provider configuration: the fastest device of any type.
func DefaultConfig() Config {
	return Config{DeviceType: AllDevices}
}
