package soft

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/helios-render/helios/layout"
	"github.com/helios-render/helios/types"
)

// Decoded per-dispatch state: frame constants plus every table the bound
// slots carry. Built once per dispatch, then shared by all pixels.
type dispatchState struct {
	gpu *softGPU
	fc  layout.FrameConstants

	spheres   []layout.PackedSphere
	planes    []layout.PackedPlane
	boxes     []layout.PackedBox
	lights    []layout.PackedLight
	info      []layout.PackedInstanceInfo
	meshMats  []layout.PackedMaterial
	triangles []layout.PackedTriangle

	instances []tlasInstance
}

func (g *softGPU) dispatchState() (*dispatchState, error) {
	st := &dispatchState{gpu: g}

	consts, ok := g.binds.buffers[layout.SlotConstants]
	if !ok {
		return nil, fmt.Errorf("soft device: dispatch without frame constants bound")
	}
	if err := layout.Decode(consts.data, &st.fc); err != nil {
		return nil, fmt.Errorf("soft device: decode frame constants: %v", err)
	}

	var err error
	if st.spheres, err = decodeTable[layout.PackedSphere](g, layout.SlotSpheres, int(st.fc.SphereCount)); err != nil {
		return nil, err
	}
	if st.planes, err = decodeTable[layout.PackedPlane](g, layout.SlotPlanes, int(st.fc.PlaneCount)); err != nil {
		return nil, err
	}
	if st.boxes, err = decodeTable[layout.PackedBox](g, layout.SlotBoxes, int(st.fc.BoxCount)); err != nil {
		return nil, err
	}
	if st.lights, err = decodeTable[layout.PackedLight](g, layout.SlotLights, int(st.fc.LightCount)); err != nil {
		return nil, err
	}
	if st.triangles, err = decodeTable[layout.PackedTriangle](g, layout.SlotTriangles, int(st.fc.TriangleCount)); err != nil {
		return nil, err
	}

	procCount := int(st.fc.SphereCount + st.fc.PlaneCount + st.fc.BoxCount)
	if st.info, err = decodeTable[layout.PackedInstanceInfo](g, layout.SlotInstanceInfo, procCount); err != nil {
		return nil, err
	}

	if matBuf, ok := g.binds.buffers[layout.SlotMeshMaterials]; ok {
		recSize := binary.Size(layout.PackedMaterial{})
		count := len(matBuf.data) / recSize
		st.meshMats = make([]layout.PackedMaterial, count)
		if count > 0 {
			if err := layout.Decode(matBuf.data[:count*recSize], &st.meshMats); err != nil {
				return nil, fmt.Errorf("soft device: decode mesh materials: %v", err)
			}
		}
	}

	if tl, ok := g.binds.tlas[layout.SlotTLAS]; ok {
		st.instances = tl.instances
	}
	return st, nil
}

// Decode count records of T from a bound slot. A missing slot is legal
// only when no records are expected.
func decodeTable[T any](g *softGPU, slot, count int) ([]T, error) {
	if count == 0 {
		return nil, nil
	}
	buf, ok := g.binds.buffers[slot]
	if !ok {
		return nil, fmt.Errorf("soft device: dispatch expects %d records in unbound slot %d", count, slot)
	}
	var zero T
	recSize := binary.Size(zero)
	if count*recSize > len(buf.data) {
		return nil, fmt.Errorf("soft device: slot %d buffer %s too small for %d records", slot, buf.name, count)
	}
	out := make([]T, count)
	if err := layout.Decode(buf.data[:count*recSize], &out); err != nil {
		return nil, fmt.Errorf("soft device: decode slot %d: %v", slot, err)
	}
	return out, nil
}

// Intersect the procedural shape behind a bounding-volume slot. Planes are
// accepted only inside their proxy volume; the proxy bounds come straight
// from the structure's stored boxes.
func (st *dispatchState) intersectShape(inst *tlasInstance, slot int32, ray softRay, tMax float32) (float32, types.Vec3, bool) {
	if int(slot) >= len(st.info) {
		return 0, types.Vec3{}, false
	}
	rec := st.info[slot]
	switch rec.Tag {
	case layout.TagSphere:
		s := st.spheres[rec.Index]
		return intersectSphere(s.CenterRadius.Vec3(), s.CenterRadius[3], ray, tMax)
	case layout.TagPlane:
		p := st.planes[rec.Index]
		return intersectPlane(p.NormalDist.Vec3(), p.NormalDist[3], true, inst.blas.built.boxes[slot], ray, tMax)
	case layout.TagBox:
		b := st.boxes[rec.Index]
		axis := [3]types.Vec3{b.Axis0.Vec3(), b.Axis1.Vec3(), b.Axis2.Vec3()}
		half := types.Vec3{b.Axis0[3], b.Axis1[3], b.Axis2[3]}
		return intersectBox(b.Center.Vec3(), axis, half, ray, tMax)
	}
	return 0, types.Vec3{}, false
}

// Material lookup for a resolved hit. Procedural geometry carries its
// material in the shape record; triangle geometry is looked up by
// instance identifier in the mesh-material table.
func (st *dispatchState) hitMaterial(inst *tlasInstance, prim int32) layout.PackedMaterial {
	if len(inst.blas.built.tris) != 0 {
		if int(inst.instanceID) < len(st.meshMats) {
			return st.meshMats[inst.instanceID]
		}
		return layout.PackedMaterial{Albedo: types.Vec4{1, 0, 1, 1}}
	}
	rec := st.info[prim]
	switch rec.Tag {
	case layout.TagSphere:
		return st.spheres[rec.Index].Material
	case layout.TagPlane:
		return st.planes[rec.Index].Material
	case layout.TagBox:
		return st.boxes[rec.Index].Material
	}
	return layout.PackedMaterial{}
}

// Background radiance for a missed ray: a vertical gradient from the
// configured base color up to a pale blue sky.
func (st *dispatchState) skyColor(dir types.Vec3) types.Vec3 {
	base := st.fc.BgColor.Vec3()
	if base.Len() < 1e-6 {
		base = types.Vec3{1, 1, 1}
	}
	t := 0.5 * (dir[1] + 1)
	sky := types.Vec3{0.5, 0.7, 1.0}
	return lerpVec3(base, sky, t)
}

// Primary ray through pixel (px, py) with sub-pixel offsets in [0,1).
func (st *dispatchState) primaryRay(px, py int, ox, oy float32, width, height int) softRay {
	u := (float32(px) + ox) / float32(width)
	v := (float32(py) + oy) / float32(height)
	top := lerpVec3(st.fc.FrustumTL.Vec3(), st.fc.FrustumTR.Vec3(), u)
	bottom := lerpVec3(st.fc.FrustumBL.Vec3(), st.fc.FrustumBR.Vec3(), u)
	return softRay{
		origin: st.fc.EyePos.Vec3(),
		dir:    lerpVec3(top, bottom, v).Normalize(),
	}
}

// One shaded sample: emissive plus shadowed direct lighting, with mirror
// bounces for metallic surfaces routed to the specular channel. Returns
// diffuse radiance, specular radiance and the primary hit distance.
func (st *dispatchState) shadeSample(ray softRay, shapeFn intersectShapeFn) (types.Vec3, types.Vec3, float32) {
	var diffuse, specular types.Vec3
	throughput := types.Vec3{1, 1, 1}
	hitDist := float32(0)

	for bounce := uint32(0); ; bounce++ {
		hit, ok := traceClosest(st.instances, ray, layout.MaskPrimary, noHitDist, shapeFn)
		if !ok {
			contribution := throughput.MulVec(st.skyColor(ray.dir))
			if bounce == 0 {
				diffuse = contribution
			} else {
				specular = specular.Add(contribution)
			}
			break
		}
		if bounce == 0 {
			hitDist = hit.t
		}

		inst := &st.instances[hit.instance]
		mat := st.hitMaterial(inst, hit.prim)
		point := ray.origin.Add(ray.dir.Mul(hit.t))
		normal := worldNormal(inst, hit.normal)
		if normal.Dot(ray.dir) > 0 {
			normal = normal.Mul(-1)
		}

		albedo := mat.Albedo.Vec3()
		local := mat.Emissive.Vec3()
		for li := range st.lights {
			local = local.Add(st.directLight(point, normal, albedo, &st.lights[li], shapeFn))
		}

		contribution := throughput.MulVec(local)
		if bounce == 0 {
			diffuse = contribution
		} else {
			specular = specular.Add(contribution)
		}

		metallic := mat.Emissive[3]
		if metallic <= 0 || bounce >= st.fc.NumBounces {
			break
		}
		throughput = throughput.MulVec(albedo.Mul(metallic))
		ray = softRay{
			origin: point.Add(normal.Mul(rayEpsilon * 10)),
			dir:    reflect(ray.dir, normal),
		}
	}
	return diffuse, specular, hitDist
}

// Shadowed lambertian contribution of one point light.
func (st *dispatchState) directLight(point, normal, albedo types.Vec3, light *layout.PackedLight, shapeFn intersectShapeFn) types.Vec3 {
	toLight := light.PositionRadius.Vec3().Sub(point)
	dist := toLight.Len()
	if dist < 1e-5 {
		return types.Vec3{}
	}
	dir := toLight.Mul(1 / dist)
	ndotl := normal.Dot(dir)
	if ndotl <= 0 {
		return types.Vec3{}
	}

	visibility := float32(1)
	shadowRay := softRay{origin: point.Add(normal.Mul(rayEpsilon * 10)), dir: dir}
	if traceOccluded(st.instances, shadowRay, layout.MaskShadow, dist-rayEpsilon, shapeFn) {
		visibility = 1 - st.fc.ShadowStrength
	}
	if visibility <= 0 {
		return types.Vec3{}
	}

	atten := light.ColorIntensity[3] / (1 + dist*dist*0.01)
	return albedo.MulVec(light.ColorIntensity.Vec3()).Mul(ndotl * atten * visibility)
}

// execRayDispatch runs the ray-traced path for every pixel and fills the
// radiance and geometry buffers the denoiser and tone mapper consume.
func (g *softGPU) execRayDispatch(width, height int) error {
	if g.pipeline == nil || g.pipeline.compute {
		return fmt.Errorf("soft device: ray dispatch without a ray pipeline bound")
	}
	st, err := g.dispatchState()
	if err != nil {
		return err
	}

	diffuseImg, err := g.boundImage(layout.SlotDiffuseRadiance)
	if err != nil {
		return err
	}
	specularImg, err := g.boundImage(layout.SlotSpecularRadiance)
	if err != nil {
		return err
	}
	normalImg := g.binds.images[layout.SlotGBufferNormal]
	depthImg := g.binds.images[layout.SlotGBufferDepth]
	motionImg := g.binds.images[layout.SlotGBufferMotion]

	shapeFn := st.intersectShape
	spp := int(st.fc.SamplesPerPixel)
	if spp < 1 {
		spp = 1
	}

	for py := 0; py < height; py++ {
		for px := 0; px < width; px++ {
			var diffuse, specular types.Vec3
			var hitDist float32
			rng := newRNG(st.fc.Seed, uint32(py*width+px))

			for s := 0; s < spp; s++ {
				ox, oy := float32(0.5), float32(0.5)
				if spp > 1 {
					ox, oy = rng.next(), rng.next()
				}
				ray := st.primaryRay(px, py, ox, oy, width, height)
				d, sp, t := st.shadeSample(ray, shapeFn)
				diffuse = diffuse.Add(d)
				specular = specular.Add(sp)
				if s == 0 {
					hitDist = t
				}
			}
			inv := 1 / float32(spp)
			diffuse = diffuse.Mul(inv)
			specular = specular.Mul(inv)

			writePixelF32(diffuseImg, px, py, [4]float32{diffuse[0], diffuse[1], diffuse[2], hitDist})
			writePixelF32(specularImg, px, py, [4]float32{specular[0], specular[1], specular[2], hitDist})

			if normalImg != nil || depthImg != nil || motionImg != nil {
				centerRay := st.primaryRay(px, py, 0.5, 0.5, width, height)
				var n types.Vec3
				if hit, ok := traceClosest(st.instances, centerRay, layout.MaskPrimary, noHitDist, shapeFn); ok {
					n = worldNormal(&st.instances[hit.instance], hit.normal)
				}
				if normalImg != nil {
					writePixelF32(normalImg, px, py, [4]float32{n[0], n[1], n[2], 0})
				}
				if depthImg != nil {
					writePixelF32(depthImg, px, py, [4]float32{hitDist})
				}
				if motionImg != nil {
					writePixelF32(motionImg, px, py, [4]float32{0, 0})
				}
			}
		}
	}
	return nil
}

// execCompute runs whichever built-in kernel the bound pipeline names.
func (g *softGPU) execCompute(x, y, z int) error {
	if g.pipeline == nil || !g.pipeline.compute {
		return fmt.Errorf("soft device: compute dispatch without a compute pipeline bound")
	}
	if x <= 0 || y <= 0 || z <= 0 {
		return fmt.Errorf("soft device: compute dispatch of %dx%dx%d groups", x, y, z)
	}
	switch g.pipeline.kernel {
	case layout.KernelBruteForceTrace:
		return g.execBruteForce()
	case layout.KernelToneMap:
		return g.execToneMap()
	case layout.KernelDenoiseTemporal:
		return g.execDenoise()
	}
	return fmt.Errorf("soft device: unknown kernel %q", g.pipeline.kernel)
}

// The compute fallback: no acceleration structures, every shape tested per
// pixel, planes treated as infinite, flattened world-space triangles from
// the triangle table.
func (g *softGPU) execBruteForce() error {
	st, err := g.dispatchState()
	if err != nil {
		return err
	}
	diffuseImg, err := g.boundImage(layout.SlotDiffuseRadiance)
	if err != nil {
		return err
	}

	width, height := diffuseImg.width, diffuseImg.height
	for py := 0; py < height; py++ {
		for px := 0; px < width; px++ {
			ray := st.primaryRay(px, py, 0.5, 0.5, width, height)
			color, hitDist := st.shadeBruteForce(ray, 0)
			writePixelF32(diffuseImg, px, py, [4]float32{color[0], color[1], color[2], hitDist})
		}
	}
	return nil
}

type bruteHit struct {
	t      float32
	normal types.Vec3
	mat    layout.PackedMaterial
}

func (st *dispatchState) intersectBruteForce(ray softRay, tMax float32) (bruteHit, bool) {
	best := bruteHit{t: tMax}
	found := false
	for i := range st.spheres {
		s := &st.spheres[i]
		if t, n, ok := intersectSphere(s.CenterRadius.Vec3(), s.CenterRadius[3], ray, best.t); ok {
			best, found = bruteHit{t: t, normal: n, mat: s.Material}, true
		}
	}
	for i := range st.planes {
		p := &st.planes[i]
		if t, n, ok := intersectPlane(p.NormalDist.Vec3(), p.NormalDist[3], false, types.AABB{}, ray, best.t); ok {
			best, found = bruteHit{t: t, normal: n, mat: p.Material}, true
		}
	}
	for i := range st.boxes {
		b := &st.boxes[i]
		axis := [3]types.Vec3{b.Axis0.Vec3(), b.Axis1.Vec3(), b.Axis2.Vec3()}
		half := types.Vec3{b.Axis0[3], b.Axis1[3], b.Axis2[3]}
		if t, n, ok := intersectBox(b.Center.Vec3(), axis, half, ray, best.t); ok {
			best, found = bruteHit{t: t, normal: n, mat: b.Material}, true
		}
	}
	for i := range st.triangles {
		tr := &st.triangles[i]
		tri := softTriangle{v0: tr.V0.Vec3(), v1: tr.V1.Vec3(), v2: tr.V2.Vec3(), normal: tr.Normal.Vec3()}
		if t, ok := intersectTriangle(&tri, ray, best.t); ok {
			best, found = bruteHit{t: t, normal: tri.normal, mat: tr.Material}, true
		}
	}
	return best, found
}

func (st *dispatchState) shadeBruteForce(ray softRay, depth uint32) (types.Vec3, float32) {
	hit, ok := st.intersectBruteForce(ray, noHitDist)
	if !ok {
		return st.skyColor(ray.dir), 0
	}

	point := ray.origin.Add(ray.dir.Mul(hit.t))
	normal := hit.normal
	if normal.Dot(ray.dir) > 0 {
		normal = normal.Mul(-1)
	}
	albedo := hit.mat.Albedo.Vec3()

	color := hit.mat.Emissive.Vec3()
	for li := range st.lights {
		light := &st.lights[li]
		toLight := light.PositionRadius.Vec3().Sub(point)
		dist := toLight.Len()
		if dist < 1e-5 {
			continue
		}
		dir := toLight.Mul(1 / dist)
		ndotl := normal.Dot(dir)
		if ndotl <= 0 {
			continue
		}
		visibility := float32(1)
		shadowRay := softRay{origin: point.Add(normal.Mul(rayEpsilon * 10)), dir: dir}
		if _, blocked := st.intersectBruteForce(shadowRay, dist-rayEpsilon); blocked {
			visibility = 1 - st.fc.ShadowStrength
		}
		if visibility <= 0 {
			continue
		}
		atten := light.ColorIntensity[3] / (1 + dist*dist*0.01)
		color = color.Add(albedo.MulVec(light.ColorIntensity.Vec3()).Mul(ndotl * atten * visibility))
	}

	metallic := hit.mat.Emissive[3]
	if metallic > 0 && depth < st.fc.NumBounces {
		bounce := softRay{origin: point.Add(normal.Mul(rayEpsilon * 10)), dir: reflect(ray.dir, normal)}
		reflected, _ := st.shadeBruteForce(bounce, depth+1)
		color = color.Add(reflected.MulVec(albedo.Mul(metallic)))
	}
	return color, hit.t
}

// Tone mapping: combine radiance channels, apply exposure and the selected
// operator, gamma encode and write 8-bit output honoring the row pitch.
func (g *softGPU) execToneMap() error {
	consts, ok := g.binds.buffers[layout.SlotConstants]
	if !ok {
		return fmt.Errorf("soft device: tone map without frame constants bound")
	}
	var fc layout.FrameConstants
	if err := layout.Decode(consts.data, &fc); err != nil {
		return fmt.Errorf("soft device: decode frame constants: %v", err)
	}

	diffuseImg, err := g.boundImage(layout.SlotDiffuseRadiance)
	if err != nil {
		return err
	}
	target, err := g.boundImage(layout.SlotTarget)
	if err != nil {
		return err
	}
	specularImg := g.binds.images[layout.SlotSpecularRadiance]

	gamma := fc.Gamma
	if gamma <= 0 {
		gamma = 2.2
	}
	invGamma := 1 / gamma

	for py := 0; py < target.height; py++ {
		for px := 0; px < target.width; px++ {
			pix := readPixelF32(diffuseImg, px, py)
			color := types.Vec3{pix[0], pix[1], pix[2]}
			if specularImg != nil {
				sp := readPixelF32(specularImg, px, py)
				color = color.Add(types.Vec3{sp[0], sp[1], sp[2]})
			}
			color = color.Mul(fc.Exposure)

			switch fc.ToneMapOp {
			case layout.ToneMapReinhard:
				for i := 0; i < 3; i++ {
					color[i] = color[i] / (1 + color[i])
				}
			case layout.ToneMapACES:
				for i := 0; i < 3; i++ {
					color[i] = acesFit(color[i])
				}
			}

			row := target.data[py*target.rowPitch:]
			for i := 0; i < 3; i++ {
				v := float32(math.Pow(float64(clamp01(color[i])), float64(invGamma)))
				row[px*4+i] = byte(v*255 + 0.5)
			}
			row[px*4+3] = 255
		}
	}
	return nil
}

// Temporal accumulation: blend the current radiance toward the history
// buffers and refresh the history with the blend result.
func (g *softGPU) execDenoise() error {
	consts, ok := g.binds.buffers[layout.SlotConstants]
	if !ok {
		return fmt.Errorf("soft device: denoise without frame constants bound")
	}
	var fc layout.FrameConstants
	if err := layout.Decode(consts.data, &fc); err != nil {
		return fmt.Errorf("soft device: decode frame constants: %v", err)
	}

	pairs := [][2]int{
		{layout.SlotDiffuseRadiance, layout.SlotHistoryDiffuse},
		{layout.SlotSpecularRadiance, layout.SlotHistorySpecular},
	}
	blend := clamp01(fc.Stabilization)
	if fc.FrameIndex == 0 {
		blend = 0
	}

	for _, pair := range pairs {
		current, err := g.boundImage(pair[0])
		if err != nil {
			return err
		}
		history, err := g.boundImage(pair[1])
		if err != nil {
			return err
		}
		for py := 0; py < current.height; py++ {
			for px := 0; px < current.width; px++ {
				cur := readPixelF32(current, px, py)
				old := readPixelF32(history, px, py)
				var out [4]float32
				for i := 0; i < 3; i++ {
					out[i] = cur[i]*(1-blend) + old[i]*blend
				}
				out[3] = cur[3]
				writePixelF32(current, px, py, out)
				writePixelF32(history, px, py, out)
			}
		}
	}
	return nil
}

func (g *softGPU) boundImage(slot int) (*softImage, error) {
	im, ok := g.binds.images[slot]
	if !ok || im.released {
		return nil, fmt.Errorf("soft device: dispatch requires a live image in slot %d", slot)
	}
	return im, nil
}

func readPixelF32(im *softImage, px, py int) [4]float32 {
	var out [4]float32
	off := py*im.rowPitch + px*im.format.PixelSize()
	lanes := im.format.PixelSize() / 4
	for i := 0; i < lanes && i < 4; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(im.data[off+i*4:]))
	}
	return out
}

func writePixelF32(im *softImage, px, py int, v [4]float32) {
	off := py*im.rowPitch + px*im.format.PixelSize()
	lanes := im.format.PixelSize() / 4
	for i := 0; i < lanes && i < 4; i++ {
		binary.LittleEndian.PutUint32(im.data[off+i*4:], math.Float32bits(v[i]))
	}
}

// Transform an object-space normal to world space through the inverse
// transpose of the instance transform.
func worldNormal(inst *tlasInstance, n types.Vec3) types.Vec3 {
	v := inst.invWorld.Transpose().Mul4x1(mgl32.Vec4{n[0], n[1], n[2], 0})
	return types.Vec3{v[0], v[1], v[2]}.Normalize()
}

func reflect(dir, normal types.Vec3) types.Vec3 {
	return dir.Sub(normal.Mul(2 * dir.Dot(normal))).Normalize()
}

func lerpVec3(a, b types.Vec3, t float32) types.Vec3 {
	return a.Mul(1 - t).Add(b.Mul(t))
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func acesFit(x float32) float32 {
	return clamp01(x * (2.51*x + 0.03) / (x*(2.43*x+0.59) + 0.14))
}

// Deterministic per-pixel random stream.
type rngState struct{ s uint32 }

func newRNG(seed, pixel uint32) *rngState {
	s := seed ^ (pixel * 0x9e3779b9)
	if s == 0 {
		s = 0x6d2b79f5
	}
	return &rngState{s: s}
}

func (r *rngState) next() float32 {
	r.s ^= r.s << 13
	r.s ^= r.s >> 17
	r.s ^= r.s << 5
	return float32(r.s>>8) / float32(1<<24)
}
