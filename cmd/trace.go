package cmd

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/achilleasa/kdtracer/asset/mesh"
	"github.com/achilleasa/kdtracer/kdtree"
	"github.com/achilleasa/kdtracer/types"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
)

// Rays are processed in batches of this size by each worker.
const traceBatchSize = 256

// The outcome of tracing a single ray.
type traceResult struct {
	ray    kdtree.Ray
	result kdtree.Result
}

// Trace rays against a mesh and print the closest hits.
func TraceRays(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() < 1 || ctx.NArg() > 2 {
		return errors.New("expected a mesh file argument and an optional ray file argument")
	}

	var rays []kdtree.Ray
	for index, spec := range ctx.StringSlice("ray") {
		ray, err := parseRay(spec)
		if err != nil {
			return errors.Wrapf(err, "invalid --ray argument %d", index)
		}
		rays = append(rays, ray)
	}

	if ctx.NArg() == 2 {
		rayFile := ctx.Args().Get(1)
		f, err := os.Open(rayFile)
		if err != nil {
			return errors.Wrap(err, "could not open ray file")
		}
		fileRays, err := readRays(f, rayFile)
		f.Close()
		if err != nil {
			return err
		}
		rays = append(rays, fileRays...)
	}

	if len(rays) == 0 {
		return errors.New("no rays specified; use --ray or supply a ray file")
	}

	policy := cacheAsk
	if ctx.Bool("yes") {
		policy = cacheAlways
	}
	m, tree, err := loadTree(ctx.Args().First(), treeOptions(ctx, newPromptObserver(policy)))
	if err != nil {
		return err
	}

	results, err := traceRays(context.Background(), tree, rays, ctx.Int("workers"))
	if err != nil {
		return err
	}

	logger.Noticef("traced %d rays\n%s", len(results), resultTable(m, results))
	return nil
}

// Parse a ray definition with 6 comma or whitespace separated components:
// ox oy oz dx dy dz. The direction is normalized.
func parseRay(spec string) (kdtree.Ray, error) {
	fields := strings.FieldsFunc(spec, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) != 6 {
		return kdtree.Ray{}, errors.Errorf("expected 6 ray components: ox oy oz dx dy dz; got %d", len(fields))
	}

	var v [6]float32
	for index, field := range fields {
		f, err := strconv.ParseFloat(field, 32)
		if err != nil {
			return kdtree.Ray{}, errors.Wrapf(err, "could not parse ray component %d", index)
		}
		v[index] = float32(f)
	}

	origin := types.XYZ(v[0], v[1], v[2])
	dir := types.XYZ(v[3], v[4], v[5]).Normalize()
	if dir == (types.Vec3{}) || !origin.IsFinite() || !dir.IsFinite() {
		return kdtree.Ray{}, errors.New("ray origin and direction must be finite and the direction must be non-zero")
	}

	return kdtree.NewRay(origin, dir), nil
}

// Read one ray per line. Empty lines and lines starting with # are skipped.
func readRays(r io.Reader, name string) ([]kdtree.Ray, error) {
	var rays []kdtree.Ray
	lineNum := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		ray, err := parseRay(line)
		if err != nil {
			return nil, errors.Wrapf(err, "[%s: %d] error", name, lineNum)
		}
		rays = append(rays, ray)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "could not read rays from %q", name)
	}
	return rays, nil
}

// Trace rays concurrently using up to workers goroutines. Results are returned
// in input order.
func traceRays(ctx context.Context, tree *kdtree.Tree, rays []kdtree.Ray, workers int) ([]traceResult, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]traceResult, len(rays))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for start := 0; start < len(rays); start += traceBatchSize {
		start := start
		end := start + traceBatchSize
		if end > len(rays) {
			end = len(rays)
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				out := &results[i]
				out.ray = rays[i]
				if tree.IntersectRay(&out.ray, &out.result) {
					tree.InterpolateTriangleAttributes(&out.result, kdtree.AttrUV|kdtree.AttrNormal)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Render trace results as a table.
func resultTable(m *mesh.Mesh, results []traceResult) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"#", "Origin", "Direction", "Distance", "Triangle", "Material", "UV", "Normal", "Tests"})

	hits := 0
	tests := 0
	for index, res := range results {
		tests += res.ray.TrianglesTested
		row := []string{
			strconv.Itoa(index),
			fmtVec(res.ray.Origin[:]),
			fmtVec(res.ray.Dir[:]),
			"-", "-", "-", "-", "-",
			strconv.Itoa(res.ray.TrianglesTested),
		}

		if res.result.Hit() {
			hits++
			row[3] = strconv.FormatFloat(float64(res.result.Distance), 'f', 4, 32)
			row[4] = strconv.Itoa(int(res.result.TriangleID))
			row[5] = materialName(m, int(res.result.Material))
			row[6] = fmtVec(res.result.UV[:])
			row[7] = fmtVec(res.result.ShadingNormal[:])
		}
		table.Append(row)
	}

	avgTests := 0.0
	if len(results) > 0 {
		avgTests = float64(tests) / float64(len(results))
	}
	table.SetFooter([]string{"", "", "", "", "", "", "", fmt.Sprintf("%d/%d hits", hits, len(results)), fmt.Sprintf("avg %.1f", avgTests)})
	table.Render()

	return buf.String()
}

func materialName(m *mesh.Mesh, index int) string {
	if m == nil || index < 0 || index >= len(m.Materials) {
		return strconv.Itoa(index)
	}
	return m.Materials[index]
}
