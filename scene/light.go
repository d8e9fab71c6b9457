package scene

import (
	"math"

	"github.com/helios-render/helios/types"
)

// A point light source.
type Light struct {
	Position types.Vec3

	// Light color in linear space.
	Color types.Vec3

	// Radiant intensity multiplier.
	Intensity float32

	// Source radius used for soft shadows; zero yields hard shadows.
	Radius float32
}

// Create a white point light.
func NewPointLight(position types.Vec3, intensity float32) Light {
	return Light{
		Position:  position,
		Color:     types.Vec3{1, 1, 1},
		Intensity: intensity,
	}
}

// Sanitize light parameters arriving from the host boundary. Returns true
// when any component was adjusted.
func (l *Light) Sanitize() bool {
	adjusted := false
	for i := 0; i < 3; i++ {
		if clampInPlace(&l.Position[i], -math.MaxFloat32, math.MaxFloat32, 0) {
			adjusted = true
		}
		if clampInPlace(&l.Color[i], 0, 1, 1) {
			adjusted = true
		}
	}
	if clampInPlace(&l.Intensity, 0, math.MaxFloat32, 1) {
		adjusted = true
	}
	if clampInPlace(&l.Radius, 0, math.MaxFloat32, 0) {
		adjusted = true
	}
	return adjusted
}
