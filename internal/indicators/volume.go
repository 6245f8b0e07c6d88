package indicators

import "github.com/kryptotron/engine/internal/domain"

// VolumeClass classifies the most recent bar's volume relative to its
// 20-bar average.
type VolumeClass string

const (
	VolumeSurge  VolumeClass = "surge"
	VolumeDry    VolumeClass = "dry"
	VolumeNormal VolumeClass = "normal"
)

// VolumeResult is the last volume ratio and its classification.
type VolumeResult struct {
	Ratio float64
	Class VolumeClass
}

// Volume computes volume_ratio = last volume / 20-bar average volume, and
// classifies it surge (>2), dry (<0.5), or normal otherwise.
func Volume(volumes []float64) (VolumeResult, error) {
	if len(volumes) < 20 {
		return VolumeResult{}, domain.ErrInsufficientData
	}
	window := volumes[len(volumes)-20:]
	var sum float64
	for _, v := range window {
		sum += v
	}
	avg := sum / 20
	if avg == 0 {
		return VolumeResult{}, domain.ErrInsufficientData
	}
	ratio := volumes[len(volumes)-1] / avg

	class := VolumeNormal
	switch {
	case ratio > 2:
		class = VolumeSurge
	case ratio < 0.5:
		class = VolumeDry
	}
	return VolumeResult{Ratio: ratio, Class: class}, nil
}
