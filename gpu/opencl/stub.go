//go:build !opencl

package opencl

import "github.com/achilleasa/polaris-denoise/gpu"

type deviceRef struct{}

// Provider is unavailable without the opencl build tag.
type Provider struct {
	gpu.Provider
}

func GetPlatformInfo() ([]PlatformInfo, error) {
	return nil, ErrUnavailable
}

func New(cfg Config) (*Provider, error) {
	return nil, ErrUnavailable
}
