package mesh

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/achilleasa/kdtracer/asset"
	"github.com/achilleasa/kdtracer/log"
	"github.com/achilleasa/kdtracer/types"
	"github.com/pkg/errors"
)

type wavefrontReader struct {
	logger log.Logger

	// The mesh being parsed.
	mesh *Mesh

	// Maps material names to their index in the mesh material list.
	matNameToIndex map[string]int

	// Currently selected material or -1 if no usemtl statement has been seen.
	curMaterial int

	// An error stack that provides additional error information when
	// files include other files.
	errStack []string
}

// Load a mesh from a local or remote Wavefront OBJ file.
func ReadFile(path string) (*Mesh, error) {
	res, err := asset.NewResource(path, nil)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	return Read(res)
}

// Parse a Wavefront OBJ mesh from a resource. The following statements are
// supported: v, vt, vn, f, o, g, usemtl, mtllib, call and instance. Any other
// statement is ignored.
func Read(res *asset.Resource) (*Mesh, error) {
	r := &wavefrontReader{
		logger:         log.New("wavefront reader"),
		mesh:           New(res.LocalPath()),
		matNameToIndex: make(map[string]int),
		curMaterial:    -1,
	}

	r.logger.Noticef(`parsing mesh from "%s"`, res.Path())
	start := time.Now()

	if err := r.parse(res); err != nil {
		return nil, err
	}
	r.mesh.Finalize()

	r.logger.Noticef(
		"parsed mesh in %d ms; vertices: %d, groups: %d, instances: %d, triangles: %d",
		time.Since(start).Nanoseconds()/1e6,
		len(r.mesh.Positions), len(r.mesh.Groups), len(r.mesh.Instances), r.mesh.NumTriangles(),
	)
	return r.mesh, nil
}

// Generate an error message that also includes any data in the error stack.
func (r *wavefrontReader) emitError(file string, line int, msgFormat string, args ...interface{}) error {
	msg := fmt.Sprintf(msgFormat, args...)

	var errMsg string
	if file != "" {
		errMsg = fmt.Sprintf("[%s: %d] error: %s\n%s", file, line, msg, strings.Join(r.errStack, "\n"))
	} else {
		errMsg = fmt.Sprintf("error: %s\n%s", msg, strings.Join(r.errStack, "\n"))
	}

	return errors.New(strings.Trim(errMsg, "\n"))
}

// Push a frame to the error stack.
func (r *wavefrontReader) pushFrame(msg string) {
	r.errStack = append([]string{msg}, r.errStack...)
}

// Pop a frame from the error stack.
func (r *wavefrontReader) popFrame() {
	r.errStack = r.errStack[1:]
}

// Select the material with the given name. Material indices are assigned in
// order of first use.
func (r *wavefrontReader) selectMaterial(name string) {
	index, exists := r.matNameToIndex[name]
	if !exists {
		r.mesh.Materials = append(r.mesh.Materials, name)
		index = len(r.mesh.Materials) - 1
		r.matNameToIndex[name] = index
	}
	r.curMaterial = index
}

// Get the group that receives new faces, creating a default one if needed.
func (r *wavefrontReader) currentGroup() *Group {
	if len(r.mesh.Groups) == 0 {
		return r.mesh.AddGroup(DefaultGroupName)
	}
	return r.mesh.Groups[len(r.mesh.Groups)-1]
}

func (r *wavefrontReader) parse(res *asset.Resource) error {
	var lineNum int

	// Included files use 1-based indices relative to their own attribute
	// lists. Track the list lengths at the point of inclusion so positive
	// indices can be mapped to the global lists.
	relVertexOffset := len(r.mesh.Positions)
	relUVOffset := len(r.mesh.UVs)
	relNormalOffset := len(r.mesh.Normals)

	scanner := bufio.NewScanner(res)
	for scanner.Scan() {
		lineNum++
		lineTokens := strings.Fields(scanner.Text())
		if len(lineTokens) == 0 || strings.HasPrefix(lineTokens[0], "#") {
			continue
		}

		switch lineTokens[0] {
		case "call":
			if len(lineTokens) != 2 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "call"; expected 1 argument; got %d`, len(lineTokens)-1)
			}

			r.pushFrame(fmt.Sprintf("referenced from %s:%d [call]", res.Path(), lineNum))
			incRes, err := asset.NewResource(lineTokens[1], res)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			err = r.parse(incRes)
			incRes.Close()
			if err != nil {
				return err
			}
			r.popFrame()
		case "mtllib":
			if len(lineTokens) < 2 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "mtllib"; expected at least 1 argument; got %d`, len(lineTokens)-1)
			}
			r.mesh.MaterialLibs = append(r.mesh.MaterialLibs, lineTokens[1:]...)
		case "usemtl":
			if len(lineTokens) != 2 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "usemtl"; expected 1 argument; got %d`, len(lineTokens)-1)
			}
			r.selectMaterial(lineTokens[1])
		case "v":
			v, err := parseVec3(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			r.mesh.Positions = append(r.mesh.Positions, v)
		case "vn":
			v, err := parseVec3(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			r.mesh.Normals = append(r.mesh.Normals, v)
		case "vt":
			v, err := parseVec2(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			r.mesh.UVs = append(r.mesh.UVs, v)
		case "g", "o":
			if len(lineTokens) < 2 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "%s"; expected 1 argument for object name; got %d`, lineTokens[0], len(lineTokens)-1)
			}

			r.verifyLastParsedGroup()
			r.mesh.AddGroup(lineTokens[1])
		case "f":
			faces, err := r.parseFace(lineTokens, relVertexOffset, relUVOffset, relNormalOffset)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}

			group := r.currentGroup()
			group.Faces = append(group.Faces, faces...)
		case "instance":
			instance, err := r.parseInstance(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			r.mesh.Instances = append(r.mesh.Instances, instance)
		}
	}

	if err := scanner.Err(); err != nil {
		return r.emitError(res.Path(), lineNum, "%s", err.Error())
	}

	r.verifyLastParsedGroup()
	return nil
}

// Drop the last parsed group if it contains no faces.
func (r *wavefrontReader) verifyLastParsedGroup() {
	lastIndex := len(r.mesh.Groups) - 1
	if lastIndex >= 0 && len(r.mesh.Groups[lastIndex].Faces) == 0 {
		r.logger.Warningf(`dropping group "%s" as it contains no faces`, r.mesh.Groups[lastIndex].Name)
		r.mesh.Groups = r.mesh.Groups[:lastIndex]
	}
}

// Parse instance definition. Definitions use the following format:
// instance group_name tX tY tZ yaw pitch roll sX sY sZ
// where:
// - tX, tY, tZ       : translation vector
// - yaw, pitch, roll : rotation angles in degrees
// - sX, sY, sZ       : scale
func (r *wavefrontReader) parseInstance(lineTokens []string) (Instance, error) {
	if len(lineTokens) != 11 {
		return Instance{}, errors.Errorf(`unsupported syntax for "instance"; expected 10 arguments: group_name tX tY tZ yaw pitch roll sX sY sZ; got %d`, len(lineTokens)-1)
	}

	groupName := lineTokens[1]
	groupIndex := r.mesh.GroupIndex(groupName)
	if groupIndex == -1 {
		return Instance{}, errors.Errorf(`unknown group with name "%s"`, groupName)
	}
	if len(r.mesh.Groups[groupIndex].Faces) == 0 {
		return Instance{}, errors.Errorf(`group "%s" contains no faces`, groupName)
	}

	var args [9]float32
	for index := range args {
		v, err := strconv.ParseFloat(lineTokens[index+2], 32)
		if err != nil {
			return Instance{}, errors.Wrapf(err, "could not parse instance argument %d", index+2)
		}
		args[index] = float32(v)
	}

	translation := types.XYZ(args[0], args[1], args[2])
	rotation := types.XYZ(args[3], args[4], args[5])
	scale := types.XYZ(args[6], args[7], args[8])
	if scale[0] == 0 || scale[1] == 0 || scale[2] == 0 {
		return Instance{}, errors.Errorf("instance scale components must be non-zero; got %v", scale)
	}

	return Instance{
		Group:     groupIndex,
		Transform: InstanceTransform(translation, rotation, scale),
	}, nil
}

// Parse face definition. Each face definitions consists of 3 or 4 arguments,
// one for each vertex. Each one of the vertex arguments is comprised of
// 1, 2 or 3 args separated by a slash character. The following formats are
// supported:
// - vertexIndex
// - vertexIndex/uvIndex
// - vertexIndex//normalIndex
// - vertexIndex/uvIndex/normalIndex
//
// Indices start from 1 and may be negative to indicate an offset off the end
// of the vertex/uv/normal list. Quads are split into triangles (0, 1, 2) and
// (0, 2, 3).
func (r *wavefrontReader) parseFace(lineTokens []string, relVertexOffset, relUVOffset, relNormalOffset int) ([]Face, error) {
	if len(lineTokens) < 4 || len(lineTokens) > 5 {
		return nil, errors.Errorf(`unsupported syntax for "f"; expected 3 arguments for triangular face or 4 arguments for a quad face; got %d. Select the triangulation option in your exporter`, len(lineTokens)-1)
	}

	var pos, uv, normal [4]int
	expIndices := 0
	for arg := 0; arg < len(lineTokens)-1; arg++ {
		vTokens := strings.Split(lineTokens[arg+1], "/")
		if len(vTokens) > 3 {
			return nil, errors.Errorf("face argument %d contains too many indices", arg)
		}

		// The first arg defines the format for the following args
		if arg == 0 {
			expIndices = len(vTokens)
		} else if len(vTokens) != expIndices {
			return nil, errors.Errorf("expected each face argument to contain %d indices; arg %d contains %d indices", expIndices, arg, len(vTokens))
		}

		// Faces must at least define a vertex coord
		if vTokens[0] == "" {
			return nil, errors.Errorf("face argument %d does not include a vertex index", arg)
		}

		var err error
		pos[arg], err = selectFaceCoordIndex(vTokens[0], len(r.mesh.Positions), relVertexOffset)
		if err != nil {
			return nil, errors.Wrapf(err, "could not parse vertex coord for face argument %d", arg)
		}

		uv[arg] = -1
		if expIndices > 1 && vTokens[1] != "" {
			uv[arg], err = selectFaceCoordIndex(vTokens[1], len(r.mesh.UVs), relUVOffset)
			if err != nil {
				return nil, errors.Wrapf(err, "could not parse tex coord for face argument %d", arg)
			}
		}

		normal[arg] = -1
		if expIndices > 2 && vTokens[2] != "" {
			normal[arg], err = selectFaceCoordIndex(vTokens[2], len(r.mesh.Normals), relNormalOffset)
			if err != nil {
				return nil, errors.Wrapf(err, "could not parse normal coord for face argument %d", arg)
			}
		}
	}

	if r.curMaterial == -1 {
		r.selectMaterial(DefaultMaterialName)
	}

	indiceList := [][3]int{{0, 1, 2}}
	if len(lineTokens) == 5 {
		indiceList = append(indiceList, [3]int{0, 2, 3})
	}

	faces := make([]Face, 0, len(indiceList))
	for _, indices := range indiceList {
		f := Face{Material: r.curMaterial}
		for triIndex, selectIndex := range indices {
			f.Pos[triIndex] = pos[selectIndex]
			f.UV[triIndex] = uv[selectIndex]
			f.Normal[triIndex] = normal[selectIndex]
		}
		faces = append(faces, f)
	}

	return faces, nil
}

// Given an index for a face coord type (vertex, normal, tex) calculate the
// proper offset into the coord list. Wavefront format can also use negative
// indices to reference elements from the end of the coord list.
func selectFaceCoordIndex(indexToken string, coordListLen int, relOffset int) (int, error) {
	index, err := strconv.ParseInt(indexToken, 10, 32)
	if err != nil {
		return -1, err
	}

	var offset int
	switch {
	case index < 0:
		offset = coordListLen + int(index)
	case index > 0:
		offset = relOffset + int(index-1)
	default:
		return -1, errors.New("index 0 is not valid")
	}
	if offset < 0 || offset >= coordListLen {
		return -1, errors.New("index out of bounds")
	}
	return offset, nil
}

// Parse a Vec3 row.
func parseVec3(lineTokens []string) (types.Vec3, error) {
	if len(lineTokens) < 4 {
		return types.Vec3{}, errors.Errorf(`unsupported syntax for "%s"; expected 3 arguments; got %d`, lineTokens[0], len(lineTokens)-1)
	}

	v := types.Vec3{}
	for tokIdx := 1; tokIdx <= 3; tokIdx++ {
		coord, err := strconv.ParseFloat(lineTokens[tokIdx], 32)
		if err != nil {
			return v, err
		}
		v[tokIdx-1] = float32(coord)
	}
	return v, nil
}

// Parse a Vec2 row. A third (w) coordinate, if present, is ignored.
func parseVec2(lineTokens []string) (types.Vec2, error) {
	if len(lineTokens) < 3 {
		return types.Vec2{}, errors.Errorf(`unsupported syntax for "%s"; expected 2 arguments; got %d`, lineTokens[0], len(lineTokens)-1)
	}

	v := types.Vec2{}
	for tokIdx := 1; tokIdx <= 2; tokIdx++ {
		coord, err := strconv.ParseFloat(lineTokens[tokIdx], 32)
		if err != nil {
			return v, err
		}
		v[tokIdx-1] = float32(coord)
	}
	return v, nil
}
