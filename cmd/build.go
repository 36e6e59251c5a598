package cmd

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"github.com/achilleasa/kdtracer/asset/mesh"
	"github.com/achilleasa/kdtracer/kdtree"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// Map the tree command line flags to tree options.
func treeOptions(ctx *cli.Context, observer kdtree.BuildObserver) kdtree.Options {
	opts := kdtree.DefaultOptions()
	opts.MaxTrianglesPerLeaf = ctx.Int("leaf-size")
	opts.MaxDepth = ctx.Int("max-depth")
	opts.UseCache = !ctx.Bool("no-cache")
	opts.CachePath = ctx.String("cache-file")
	opts.Observer = observer
	return opts
}

// Load a mesh and build its KD-tree.
func loadTree(meshFile string, opts kdtree.Options) (*mesh.Mesh, *kdtree.Tree, error) {
	m, err := mesh.ReadFile(meshFile)
	if err != nil {
		return nil, nil, err
	}

	tree := kdtree.New(opts)
	if err = tree.Build(m); err != nil {
		return nil, nil, errors.Wrapf(err, "could not build KD-tree for %q", meshFile)
	}
	return m, tree, nil
}

// Build (or load from the cache) the KD-tree for one or more mesh files.
func BuildTree(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() == 0 {
		return errors.New("missing mesh file argument")
	}
	if ctx.String("cache-file") != "" && ctx.NArg() > 1 {
		return errors.New("--cache-file can only be used with a single mesh file")
	}

	policy := cacheAsk
	if ctx.Bool("yes") {
		policy = cacheAlways
	}
	opts := treeOptions(ctx, newPromptObserver(policy))

	for _, meshFile := range ctx.Args() {
		_, tree, err := loadTree(meshFile, opts)
		if err != nil {
			return err
		}

		logger.Noticef("KD-tree statistics for %q\n%s", meshFile, tree.Stats())
	}

	return nil
}

// Display mesh and KD-tree information. A cached tree is used if available
// but the command never writes a cache file.
func ShowInfo(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() != 1 {
		return errors.New("missing mesh file argument")
	}
	meshFile := ctx.Args().First()

	m, tree, err := loadTree(meshFile, treeOptions(ctx, newPromptObserver(cacheNever)))
	if err != nil {
		return err
	}

	logger.Noticef("mesh information for %q\n%s", meshFile, meshStats(m, tree.CachePath(m)))
	logger.Noticef("KD-tree statistics\n%s", tree.Stats())
	return nil
}

// Render mesh statistics as a table.
func meshStats(m *mesh.Mesh, cachePath string) string {
	bbox := m.BBox()

	cacheStatus := "disabled"
	if cachePath != "" {
		cacheStatus = "missing"
		if info, err := os.Stat(cachePath); err == nil {
			cacheStatus = fmt.Sprintf("%d bytes", info.Size())
		}
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"Stat", "Value"})
	table.Append([]string{"Vertices", strconv.Itoa(len(m.Positions))})
	table.Append([]string{"UVs", strconv.Itoa(len(m.UVs))})
	table.Append([]string{"Normals", strconv.Itoa(len(m.Normals))})
	table.Append([]string{"Groups", strconv.Itoa(len(m.Groups))})
	table.Append([]string{"Instances", strconv.Itoa(len(m.Instances))})
	table.Append([]string{"Materials", strconv.Itoa(len(m.Materials))})
	table.Append([]string{"Triangles", strconv.Itoa(m.NumTriangles())})
	table.Append([]string{"BBox min", fmtVec(bbox[0][:])})
	table.Append([]string{"BBox max", fmtVec(bbox[1][:])})
	table.SetFooter([]string{"Cache", fmt.Sprintf("%s (%s)", cachePath, cacheStatus)})
	table.Render()

	return buf.String()
}

func fmtVec(v []float32) string {
	var buf bytes.Buffer
	buf.WriteByte('(')
	for i, c := range v {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(strconv.FormatFloat(float64(c), 'g', 5, 32))
	}
	buf.WriteByte(')')
	return buf.String()
}
