package reader

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/helios-render/helios/log"
	"github.com/helios-render/helios/scene"
	"github.com/helios-render/helios/types"
)

// The on-disk scene document. All fields are optional except the camera;
// defaults match scene.DefaultSettings.
type sceneDoc struct {
	BgColor []float32 `toml:"bg_color"`

	Camera struct {
		Position []float32 `toml:"position"`
		LookAt   []float32 `toml:"look_at"`
		Up       []float32 `toml:"up"`
		FOV      float32   `toml:"fov"`
	} `toml:"camera"`

	Settings struct {
		SamplesPerPixel uint32  `toml:"samples_per_pixel"`
		NumBounces      uint32  `toml:"num_bounces"`
		Exposure        float32 `toml:"exposure"`
		ToneMap         string  `toml:"tone_map"`
		Denoiser        bool    `toml:"denoiser"`
		Stabilization   float32 `toml:"stabilization"`
		ShadowStrength  float32 `toml:"shadow_strength"`
		Gamma           float32 `toml:"gamma"`
	} `toml:"settings"`

	Objects []struct {
		Kind        string      `toml:"kind"`
		Origin      []float32   `toml:"origin"`
		Radius      float32     `toml:"radius"`
		Normal      []float32   `toml:"normal"`
		HalfExtents []float32   `toml:"half_extents"`
		Rotation    []float32   `toml:"rotation"`
		Material    materialDoc `toml:"material"`
	} `toml:"objects"`

	Lights []struct {
		Position  []float32 `toml:"position"`
		Color     []float32 `toml:"color"`
		Intensity float32   `toml:"intensity"`
		Radius    float32   `toml:"radius"`
	} `toml:"lights"`

	Meshes []struct {
		Name string `toml:"name"`
		Path string `toml:"path"`
	} `toml:"meshes"`

	Instances []struct {
		Mesh     string      `toml:"mesh"`
		Position []float32   `toml:"position"`
		Rotation []float32   `toml:"rotation"`
		Scale    []float32   `toml:"scale"`
		Material materialDoc `toml:"material"`
	} `toml:"instances"`
}

type materialDoc struct {
	Albedo    []float32 `toml:"albedo"`
	Roughness float32   `toml:"roughness"`
	Metallic  float32   `toml:"metallic"`
	Emissive  []float32 `toml:"emissive"`
}

// ReadScene loads a TOML scene description, resolving referenced OBJ
// meshes relative to the current working directory or as URLs.
func ReadScene(path string, logger log.Logger) (*scene.Scene, error) {
	if logger == nil {
		logger = log.Nop()
	}

	var doc sceneDoc
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("reader: parse scene %s: %v", path, err)
	}

	sc := scene.NewScene()
	sc.SetLogger(logger)
	sc.BgColor = vec3Or(doc.BgColor, types.Vec3{})

	fov := doc.Camera.FOV
	if fov == 0 {
		fov = 45
	}
	camera := scene.NewCamera(fov)
	camera.Position = vec3Or(doc.Camera.Position, types.Vec3{0, 0, 0})
	camera.LookAt = vec3Or(doc.Camera.LookAt, types.Vec3{0, 0, -1})
	camera.Up = vec3Or(doc.Camera.Up, types.Vec3{0, 1, 0})
	sc.SetCamera(camera)

	applySettings(&sc.Settings, &doc)

	for i, o := range doc.Objects {
		mat := toMaterial(o.Material)
		switch o.Kind {
		case "sphere":
			sc.AddObject(scene.NewSphere(vec3Or(o.Origin, types.Vec3{}), o.Radius, mat))
		case "plane":
			normal := vec3Or(o.Normal, types.Vec3{0, 1, 0})
			sc.AddObject(scene.NewPlane(vec3Or(o.Origin, types.Vec3{}), normal, mat))
		case "box":
			origin := vec3Or(o.Origin, types.Vec3{})
			half := vec3Or(o.HalfExtents, types.Vec3{1, 1, 1})
			rot := vec3Or(o.Rotation, types.Vec3{})
			if rot == (types.Vec3{}) {
				sc.AddObject(scene.NewAxisAlignedBox(origin, half, mat))
			} else {
				sc.AddObject(scene.NewBox(origin, half, rotationAxes(rot), mat))
			}
		default:
			return nil, fmt.Errorf("reader: object %d has unknown kind %q", i, o.Kind)
		}
	}

	for _, l := range doc.Lights {
		light := scene.NewPointLight(vec3Or(l.Position, types.Vec3{}), l.Intensity)
		light.Color = vec3Or(l.Color, types.Vec3{1, 1, 1})
		light.Radius = l.Radius
		sc.AddLight(light)
	}

	for _, m := range doc.Meshes {
		entry, err := ReadWavefront(m.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("reader: load mesh %q: %v", m.Name, err)
		}
		if err := sc.SetMeshCacheEntry(m.Name, entry); err != nil {
			return nil, err
		}
	}

	instances := make([]scene.MeshInstance, 0, len(doc.Instances))
	for _, in := range doc.Instances {
		inst := scene.NewMeshInstance(in.Mesh, vec3Or(in.Position, types.Vec3{}), toMaterial(in.Material))
		inst.Rotation = vec3Or(in.Rotation, types.Vec3{})
		inst.Scale = vec3Or(in.Scale, types.Vec3{1, 1, 1})
		instances = append(instances, inst)
	}
	sc.ReplaceMeshInstances(instances)

	logger.Noticef("loaded scene %s: %d objects, %d lights, %d meshes, %d instances",
		path, len(sc.Objects), len(sc.Lights), len(sc.MeshCache), len(sc.MeshInstances))
	return sc, nil
}

func applySettings(set *scene.Settings, doc *sceneDoc) {
	s := doc.Settings
	if s.SamplesPerPixel != 0 {
		set.SamplesPerPixel = s.SamplesPerPixel
	}
	if s.NumBounces != 0 {
		set.NumBounces = s.NumBounces
	}
	if s.Exposure != 0 {
		set.Exposure = s.Exposure
	}
	switch s.ToneMap {
	case "":
	case "none":
		set.ToneMap = scene.ToneMapNone
	case "reinhard":
		set.ToneMap = scene.ToneMapReinhard
	case "aces":
		set.ToneMap = scene.ToneMapACES
	}
	set.DenoiserEnabled = s.Denoiser
	if s.Stabilization != 0 {
		set.DenoiserStabilization = s.Stabilization
	}
	if s.ShadowStrength != 0 {
		set.ShadowStrength = s.ShadowStrength
	}
	if s.Gamma != 0 {
		set.Gamma = s.Gamma
	}
	set.Sanitize()
}

func toMaterial(doc materialDoc) scene.Material {
	mat := scene.NewDiffuseMaterial(vec3Or(doc.Albedo, types.Vec3{0.8, 0.8, 0.8}))
	if doc.Roughness != 0 {
		mat.Roughness = doc.Roughness
	}
	mat.Metallic = doc.Metallic
	mat.Emissive = vec3Or(doc.Emissive, types.Vec3{})
	return mat
}

// Box axes from Euler rotation in degrees, roll-pitch-yaw order.
func rotationAxes(rot types.Vec3) [3]types.Vec3 {
	m := mgl32.HomogRotate3DY(mgl32.DegToRad(rot[1])).
		Mul4(mgl32.HomogRotate3DX(mgl32.DegToRad(rot[0]))).
		Mul4(mgl32.HomogRotate3DZ(mgl32.DegToRad(rot[2])))
	var axes [3]types.Vec3
	for j := 0; j < 3; j++ {
		axes[j] = types.Vec3{m.At(0, j), m.At(1, j), m.At(2, j)}
	}
	return axes
}

func vec3Or(v []float32, def types.Vec3) types.Vec3 {
	if len(v) < 3 {
		return def
	}
	return types.Vec3{v[0], v[1], v[2]}
}
