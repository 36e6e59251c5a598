package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/achilleasa/kdtracer/cmd"
	"github.com/achilleasa/kdtracer/kdtree"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	treeFlags := []cli.Flag{
		cli.IntFlag{
			Name:  "leaf-size",
			Value: kdtree.DefaultMaxTrianglesPerLeaf,
			Usage: "max number of triangles in a KD-tree leaf",
		},
		cli.IntFlag{
			Name:  "max-depth",
			Value: kdtree.DefaultMaxDepth,
			Usage: "max KD-tree depth",
		},
		cli.BoolFlag{
			Name:  "no-cache",
			Usage: "do not load or store the KD-tree cache",
		},
		cli.StringFlag{
			Name:  "cache-file",
			Usage: "override the cache file location (defaults to mesh_file" + kdtree.CacheFileExtension + ")",
		},
	}
	cacheWriteFlag := cli.BoolFlag{
		Name:  "yes, y",
		Usage: "write the KD-tree cache without asking",
	}

	app := cli.NewApp()
	app.Name = "kdtracer"
	app.Usage = "build KD-trees for triangle meshes and trace rays against them"
	app.Version = "0.0.1"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "build",
			Usage: "build the KD-tree for one or more meshes",
			Description: `
Parse each mesh from a wavefront obj file and build a KD-tree to accelerate
ray intersection tests. If a cached tree built with the same settings from
the same mesh exists it is loaded instead.

Built trees can be written to a cache file next to the mesh.`,
			ArgsUsage: "mesh_file1.obj mesh_file2.obj ...",
			Flags:     append(treeFlags, cacheWriteFlag),
			Action:    cmd.BuildTree,
		},
		{
			Name:      "info",
			Usage:     "display mesh and KD-tree statistics",
			ArgsUsage: "mesh_file.obj",
			Flags:     treeFlags,
			Action:    cmd.ShowInfo,
		},
		{
			Name:  "trace",
			Usage: "trace rays against a mesh",
			Description: `
Trace one or more rays against a mesh and display the closest hit for each
one. Rays are specified with the --ray flag and/or a ray file containing one
ray per line, each one defined as 6 comma or space separated values:

  ox oy oz dx dy dz`,
			ArgsUsage: "mesh_file.obj [ray_file]",
			Flags: append(
				treeFlags,
				cacheWriteFlag,
				cli.StringSliceFlag{
					Name:  "ray, r",
					Value: &cli.StringSlice{},
					Usage: "a ray to trace specified as ox,oy,oz,dx,dy,dz",
				},
				cli.IntFlag{
					Name:  "workers",
					Value: runtime.NumCPU(),
					Usage: "number of concurrent tracing workers",
				},
			),
			Action: cmd.TraceRays,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
		os.Exit(1)
	}
}
