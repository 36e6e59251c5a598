package cmd

import (
	"github.com/achilleasa/kdtracer/log"
	"github.com/urfave/cli"
)

var logger = log.New("kdtracer")

func setupLogging(ctx *cli.Context) {
	log.SetLevel(log.LevelFromVerbosity(ctx.GlobalBool("v"), ctx.GlobalBool("vv")))
}
