package reader

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/helios-render/helios/log"
	"github.com/helios-render/helios/scene"
	"github.com/helios-render/helios/types"
)

type wavefrontReader struct {
	logger log.Logger

	// List of parsed vertices and normals.
	vertexList []types.Vec3
	normalList []types.Vec3

	// Output geometry, merged across all objects and groups in the file.
	vertices []scene.MeshVertex
	indices  []uint32

	// Dedup map from (vertex index, normal index) pairs to emitted
	// vertex slots.
	vertIndex map[[2]int]uint32

	// Emitted vertices that still need a normal derived from face data.
	missingNormals bool

	// An error stack that provides additional error information when
	// scene files include other files.
	errStack []string
}

func newWavefrontReader(logger log.Logger) *wavefrontReader {
	if logger == nil {
		logger = log.Nop()
	}
	return &wavefrontReader{
		logger:    logger,
		vertIndex: make(map[[2]int]uint32),
	}
}

// ReadWavefront parses a Wavefront OBJ file or URL into a mesh cache
// entry. All objects and groups in the file merge into a single entry;
// vertices without normals get smooth normals accumulated from the faces
// that reference them.
func ReadWavefront(path string, logger log.Logger) (*scene.MeshCacheEntry, error) {
	res, err := newResource(path, nil)
	if err != nil {
		return nil, err
	}
	defer res.Close()
	return newWavefrontReader(logger).read(res)
}

func (r *wavefrontReader) read(res *resource) (*scene.MeshCacheEntry, error) {
	r.logger.Noticef("parsing mesh from %s", res.Path())
	start := time.Now()

	if err := r.parse(res); err != nil {
		return nil, err
	}
	if len(r.indices) == 0 {
		return nil, r.emitError(res.Path(), 0, "no triangles defined")
	}
	if r.missingNormals {
		r.deriveNormals()
	}

	r.logger.Noticef("parsed %d triangles from %s in %d ms", len(r.indices)/3, res.Path(), time.Since(start).Nanoseconds()/1e6)
	return scene.NewMeshCacheEntry(r.vertices, r.indices), nil
}

func (r *wavefrontReader) parse(res *resource) error {
	scanner := bufio.NewScanner(res)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)

		switch fields[0] {
		case "v":
			v, err := parseVec3(fields[1:])
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err)
			}
			r.vertexList = append(r.vertexList, v)
		case "vn":
			v, err := parseVec3(fields[1:])
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err)
			}
			r.normalList = append(r.normalList, v)
		case "f":
			if err := r.parseFace(fields[1:]); err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err)
			}
		case "call", "include":
			if len(fields) != 2 {
				return r.emitError(res.Path(), lineNum, "unsupported syntax for %s", fields[0])
			}
			incRes, err := newResource(fields[1], res)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err)
			}
			r.pushFrame(fmt.Sprintf("referenced from %s:%d", res.Path(), lineNum))
			err = r.parse(incRes)
			incRes.Close()
			if err != nil {
				return err
			}
			r.popFrame()
		default:
			// o, g, s, vt, mtllib, usemtl: grouping, uv and material
			// statements carry no geometry and are skipped; materials
			// come from mesh instances, not the OBJ file.
		}
	}
	return scanner.Err()
}

// Parse a face statement, triangulating polygons as a fan around the
// first vertex.
func (r *wavefrontReader) parseFace(fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("face requires at least 3 vertices; got %d", len(fields))
	}
	slots := make([]uint32, len(fields))
	for i, field := range fields {
		slot, err := r.resolveVertex(field)
		if err != nil {
			return err
		}
		slots[i] = slot
	}
	for i := 1; i+1 < len(slots); i++ {
		r.indices = append(r.indices, slots[0], slots[i], slots[i+1])
	}
	return nil
}

// Resolve one face vertex reference of the form v, v/vt, v//vn or
// v/vt/vn. Negative indices count backwards from the current list end.
func (r *wavefrontReader) resolveVertex(field string) (uint32, error) {
	parts := strings.Split(field, "/")

	vi, err := resolveIndex(parts[0], len(r.vertexList))
	if err != nil {
		return 0, fmt.Errorf("vertex reference %q: %s", field, err)
	}

	ni := -1
	if len(parts) == 3 && parts[2] != "" {
		ni, err = resolveIndex(parts[2], len(r.normalList))
		if err != nil {
			return 0, fmt.Errorf("normal reference %q: %s", field, err)
		}
	}

	key := [2]int{vi, ni}
	if slot, exists := r.vertIndex[key]; exists {
		return slot, nil
	}

	// Vertices without a normal reference carry a sentinel in W until
	// the derivation pass fills them in.
	normal := types.Vec4{0, 0, 0, -1}
	if ni >= 0 {
		normal = r.normalList[ni].Vec4(0)
	} else {
		r.missingNormals = true
	}
	slot := uint32(len(r.vertices))
	r.vertices = append(r.vertices, scene.MeshVertex{
		Position: r.vertexList[vi].Vec4(0),
		Normal:   normal,
	})
	r.vertIndex[key] = slot
	return slot, nil
}

// Fill in zero normals by accumulating face normals onto their vertices.
func (r *wavefrontReader) deriveNormals() {
	for t := 0; t+2 < len(r.indices); t += 3 {
		i0, i1, i2 := r.indices[t], r.indices[t+1], r.indices[t+2]
		v0 := r.vertices[i0].Position.Vec3()
		e1 := r.vertices[i1].Position.Vec3().Sub(v0)
		e2 := r.vertices[i2].Position.Vec3().Sub(v0)
		face := e1.Cross(e2)
		for _, i := range []uint32{i0, i1, i2} {
			if r.vertices[i].Normal[3] != -1 {
				continue
			}
			r.vertices[i].Normal[0] += face[0]
			r.vertices[i].Normal[1] += face[1]
			r.vertices[i].Normal[2] += face[2]
		}
	}
	for i := range r.vertices {
		if r.vertices[i].Normal[3] != -1 {
			continue
		}
		n := r.vertices[i].Normal.Vec3()
		if n.Len() > 0 {
			n = n.Normalize()
		}
		r.vertices[i].Normal = n.Vec4(0)
	}
}

func resolveIndex(token string, listLen int) (int, error) {
	idx, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("not an index: %q", token)
	}
	if idx < 0 {
		idx = listLen + idx
	} else {
		idx--
	}
	if idx < 0 || idx >= listLen {
		return 0, fmt.Errorf("index %s out of range [1, %d]", token, listLen)
	}
	return idx, nil
}

func parseVec3(fields []string) (types.Vec3, error) {
	if len(fields) < 3 {
		return types.Vec3{}, fmt.Errorf("expected 3 components; got %d", len(fields))
	}
	var v types.Vec3
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return types.Vec3{}, fmt.Errorf("component %d: %s", i, err)
		}
		v[i] = float32(f)
	}
	return v, nil
}

// Generate an error message that also includes any data in the error stack.
func (r *wavefrontReader) emitError(file string, line int, msgFormat string, args ...interface{}) error {
	msg := fmt.Sprintf(msgFormat, args...)
	errMsg := strings.Trim(
		fmt.Sprintf("[%s: %d] error: %s\n%s", file, line, msg, strings.Join(r.errStack, "\n")),
		"\n",
	)
	return fmt.Errorf("%s", errMsg)
}

// Push a frame to the error stack.
func (r *wavefrontReader) pushFrame(msg string) {
	r.errStack = append([]string{msg}, r.errStack...)
}

// Pop a frame from the error stack.
func (r *wavefrontReader) popFrame() {
	r.errStack = r.errStack[1:]
}
