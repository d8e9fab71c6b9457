package scene

import (
	"math"

	"github.com/helios-render/helios/types"
)

// A PBR surface material shared by procedural objects and mesh instances.
type Material struct {
	// Base color in linear space, [0,1] per channel.
	Albedo types.Vec3

	// Surface roughness, [0,1].
	Roughness float32

	// Metalness, [0,1].
	Metallic float32

	// Emitted radiance. Non-negative, unbounded above.
	Emissive types.Vec3
}

// Create a fully rough diffuse material.
func NewDiffuseMaterial(albedo types.Vec3) Material {
	return Material{
		Albedo:    albedo,
		Roughness: 1,
	}
}

// Sanitize material parameters arriving from the host boundary. Non-finite
// or out-of-range values are clamped to safe fallbacks so they never reach
// GPU buffers as NaN/Inf. Returns true when any component was adjusted.
func (m *Material) Sanitize() bool {
	adjusted := false

	for i := 0; i < 3; i++ {
		if clampInPlace(&m.Albedo[i], 0, 1, 0.5) {
			adjusted = true
		}
		if clampInPlace(&m.Emissive[i], 0, math.MaxFloat32, 0) {
			adjusted = true
		}
	}
	if clampInPlace(&m.Roughness, 0, 1, 1) {
		adjusted = true
	}
	if clampInPlace(&m.Metallic, 0, 1, 0) {
		adjusted = true
	}

	return adjusted
}

// Clamp *v into [min, max], substituting fallback for non-finite input.
// Returns true if *v was changed.
func clampInPlace(v *float32, min, max, fallback float32) bool {
	f := float64(*v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		*v = fallback
		return true
	}
	if *v < min {
		*v = min
		return true
	}
	if *v > max {
		*v = max
		return true
	}
	return false
}
