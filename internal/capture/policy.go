package capture

import "math"

// EncodePolicy holds the post-processing parameters for one (format, fullPage) pair.
type EncodePolicy struct {
	// QualityMultiplier scales the base quality before encoding.
	QualityMultiplier float64
	// BaseQuality applies when the request leaves quality unset.
	BaseQuality int
	Progressive bool
	// Effort is the WebP compression method (0-6).
	Effort int
	// CompressionLevel is the PNG zlib level (0-9).
	CompressionLevel int
	// ResizeTolerance is the pixel difference tolerated before resizing.
	ResizeTolerance int
	AllowEnlarge    bool
}

type policyKey struct {
	format   Format
	fullPage bool
}

var encodePolicies = map[policyKey]EncodePolicy{
	{FormatPNG, true}:   {QualityMultiplier: 1.0, BaseQuality: 95, CompressionLevel: 3, ResizeTolerance: 100, AllowEnlarge: true},
	{FormatPNG, false}:  {QualityMultiplier: 0.9, BaseQuality: 90, CompressionLevel: 6},
	{FormatJPEG, true}:  {QualityMultiplier: 1.0, BaseQuality: 95, Progressive: true, ResizeTolerance: 100, AllowEnlarge: true},
	{FormatJPEG, false}: {QualityMultiplier: 0.9, BaseQuality: 90, Progressive: true},
	{FormatWebP, true}:  {QualityMultiplier: 1.0, BaseQuality: 95, Effort: 6, ResizeTolerance: 100, AllowEnlarge: true},
	{FormatWebP, false}: {QualityMultiplier: 0.9, BaseQuality: 90, Effort: 4},
}

// PolicyFor returns the encode policy for a normalized request.
func PolicyFor(format Format, fullPage bool) EncodePolicy {
	if p, ok := encodePolicies[policyKey{format, fullPage}]; ok {
		return p
	}
	return encodePolicies[policyKey{FormatPNG, fullPage}]
}

// EffectiveQuality resolves the encoder quality: the requested or base
// quality scaled by the policy multiplier, capped at 100.
func EffectiveQuality(requested int, p EncodePolicy) int {
	base := requested
	if base == 0 {
		base = p.BaseQuality
	}
	return min(100, int(math.Round(float64(base)*p.QualityMultiplier)))
}

// needsResize reports whether a requested dimension differs from the source
// by more than the policy tolerance. Zero requested dimensions never trigger.
func needsResize(srcW, srcH, width, height int, p EncodePolicy) bool {
	differs := func(want, got int) bool {
		if want == 0 {
			return false
		}
		d := want - got
		if d < 0 {
			d = -d
		}
		return d > p.ResizeTolerance
	}
	return differs(width, srcW) || differs(height, srcH)
}
