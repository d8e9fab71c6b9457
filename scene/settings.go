package scene

type ToneMapOp uint8

// Supported tone-mapping operators.
const (
	ToneMapNone ToneMapOp = iota
	ToneMapReinhard
	ToneMapACES
)

func (op ToneMapOp) String() string {
	switch op {
	case ToneMapNone:
		return "none"
	case ToneMapReinhard:
		return "reinhard"
	case ToneMapACES:
		return "aces"
	}
	return "unknown"
}

// Per-scene render settings.
type Settings struct {
	// Samples per pixel.
	SamplesPerPixel uint32

	// Number of indirect bounces.
	NumBounces uint32

	// Exposure applied during tone mapping.
	Exposure float32

	// Tone-mapping operator selection.
	ToneMap ToneMapOp

	// Denoiser toggle and temporal stabilization factor in [0,1];
	// higher values weigh history more strongly.
	DenoiserEnabled       bool
	DenoiserStabilization float32

	// Shadow term multiplier in [0,1]; 0 disables shadows.
	ShadowStrength float32

	// Output gamma.
	Gamma float32
}

// Settings that produce a reasonable image without tuning.
func DefaultSettings() Settings {
	return Settings{
		SamplesPerPixel:       16,
		NumBounces:            3,
		Exposure:              1,
		ToneMap:               ToneMapReinhard,
		DenoiserStabilization: 0.8,
		ShadowStrength:        1,
		Gamma:                 2.2,
	}
}

// Sanitize the settings bag. Non-finite or out-of-range values are clamped
// to safe fallbacks. Returns true when any field was adjusted.
func (s *Settings) Sanitize() bool {
	adjusted := false

	if s.SamplesPerPixel == 0 {
		s.SamplesPerPixel = 1
		adjusted = true
	}
	if s.NumBounces == 0 {
		s.NumBounces = 1
		adjusted = true
	}
	if clampInPlace(&s.Exposure, 0.01, 100, 1) {
		adjusted = true
	}
	if s.ToneMap > ToneMapACES {
		s.ToneMap = ToneMapNone
		adjusted = true
	}
	if clampInPlace(&s.DenoiserStabilization, 0, 1, 0.8) {
		adjusted = true
	}
	if clampInPlace(&s.ShadowStrength, 0, 1, 1) {
		adjusted = true
	}
	if clampInPlace(&s.Gamma, 0.1, 10, 2.2) {
		adjusted = true
	}

	return adjusted
}
