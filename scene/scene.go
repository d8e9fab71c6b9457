package scene

import (
	"fmt"

	"github.com/helios-render/helios/log"
	"github.com/helios-render/helios/types"
)

// The in-memory description of renderable content. Pure data; the scene
// never talks to the GPU. The scene owns the mesh cache and the instance
// list; the acceleration structure builder observes both but owns neither.
type Scene struct {
	Camera *Camera

	// Procedural objects.
	Objects []Object

	// Mesh assets keyed by stable name.
	MeshCache map[string]*MeshCacheEntry

	// Placed mesh instances. Replaced wholesale on scene updates.
	MeshInstances []MeshInstance

	Lights   []Light
	Settings Settings

	// Background color used below the sky gradient horizon.
	BgColor types.Vec3

	logger log.Logger
}

func NewScene() *Scene {
	return &Scene{
		Objects:       make([]Object, 0),
		MeshCache:     make(map[string]*MeshCacheEntry),
		MeshInstances: make([]MeshInstance, 0),
		Lights:        make([]Light, 0),
		Settings:      DefaultSettings(),
		logger:        log.Nop(),
	}
}

// Attach a logger used for boundary sanitization diagnostics.
func (s *Scene) SetLogger(logger log.Logger) {
	if logger == nil {
		logger = log.Nop()
	}
	s.logger = logger
}

// Attach a camera to the scene.
func (s *Scene) SetCamera(camera *Camera) {
	s.Camera = camera
}

// Add a procedural object to the scene. Shape and material parameters are
// sanitized at this boundary so non-finite values never reach GPU buffers.
func (s *Scene) AddObject(obj Object) {
	if obj.Sanitize() {
		s.logger.Warningf("scene: clamped out-of-range parameters on %s object %d", obj.Kind, len(s.Objects))
	}
	s.Objects = append(s.Objects, obj)
}

// Add a light to the scene.
func (s *Scene) AddLight(light Light) {
	if light.Sanitize() {
		s.logger.Warningf("scene: clamped out-of-range parameters on light %d", len(s.Lights))
	}
	s.Lights = append(s.Lights, light)
}

// Register a mesh asset under the given name, replacing any prior entry.
func (s *Scene) SetMeshCacheEntry(name string, entry *MeshCacheEntry) error {
	if name == "" {
		return fmt.Errorf("scene: mesh cache entry requires a non-empty name")
	}
	if entry == nil || len(entry.Vertices) == 0 || len(entry.Indices) == 0 {
		return fmt.Errorf("scene: mesh cache entry %q has empty geometry", name)
	}
	s.MeshCache[name] = entry
	return nil
}

// Replace the full mesh instance list. Instances are sanitized at this
// boundary; instance transforms with non-finite components are clamped.
func (s *Scene) ReplaceMeshInstances(instances []MeshInstance) {
	s.MeshInstances = s.MeshInstances[:0]
	for i := range instances {
		inst := instances[i]
		if inst.Sanitize() {
			s.logger.Warningf("scene: clamped out-of-range parameters on mesh instance %d (%s)", i, inst.MeshName)
		}
		s.MeshInstances = append(s.MeshInstances, inst)
	}
}

// The set of mesh names currently registered in the cache. Used by the
// builder's stale-entry removal.
func (s *Scene) ValidMeshNames() map[string]struct{} {
	names := make(map[string]struct{}, len(s.MeshCache))
	for name := range s.MeshCache {
		names[name] = struct{}{}
	}
	return names
}

// Drop all scene content. Mesh cache entries are released as well; a full
// scene reload follows a Clear.
func (s *Scene) Clear() {
	s.Objects = s.Objects[:0]
	s.MeshInstances = s.MeshInstances[:0]
	s.Lights = s.Lights[:0]
	s.MeshCache = make(map[string]*MeshCacheEntry)
}

// Sanitize object shape parameters in place. Returns true when any
// component was adjusted.
func (o *Object) Sanitize() bool {
	adjusted := o.Material.Sanitize()

	for i := 0; i < 3; i++ {
		if clampInPlace(&o.Origin[i], -1e9, 1e9, 0) {
			adjusted = true
		}
		if clampInPlace(&o.Normal[i], -1, 1, 0) {
			adjusted = true
		}
		if clampInPlace(&o.HalfExtents[i], 0, 1e9, 0) {
			adjusted = true
		}
		for a := 0; a < 3; a++ {
			if clampInPlace(&o.Axis[a][i], -1, 1, 0) {
				adjusted = true
			}
		}
	}
	if clampInPlace(&o.Radius, 0, 1e9, 0) {
		adjusted = true
	}

	return adjusted
}

// Sanitize mesh instance placement in place. Returns true when any
// component was adjusted.
func (mi *MeshInstance) Sanitize() bool {
	adjusted := mi.Material.Sanitize()

	for i := 0; i < 3; i++ {
		if clampInPlace(&mi.Position[i], -1e9, 1e9, 0) {
			adjusted = true
		}
		if clampInPlace(&mi.Rotation[i], -360000, 360000, 0) {
			adjusted = true
		}
		if clampInPlace(&mi.Scale[i], 1e-6, 1e9, 1) {
			adjusted = true
		}
	}

	return adjusted
}
