package appmon

import "errors"

// ErrSamplerUnavailable is returned when no foreground-window API is
// wired for the current platform.
var ErrSamplerUnavailable = errors.New("appmon: foreground sampler unavailable")

// WindowInfo is one foreground-window observation.
type WindowInfo struct {
	PID     int32
	Process string
	Title   string
}

// Sampler reads the current foreground window and its owning process.
// The OS capability is an input to the agent; platform integrations
// supply the real implementation and tests supply fakes.
type Sampler interface {
	Sample() (WindowInfo, error)
}

type unsupportedSampler struct{}

func (unsupportedSampler) Sample() (WindowInfo, error) {
	return WindowInfo{}, ErrSamplerUnavailable
}

// NewPlatformSampler returns the sampler for the current platform, or an
// unavailable stub where no window system integration exists.
func NewPlatformSampler() Sampler {
	return unsupportedSampler{}
}
