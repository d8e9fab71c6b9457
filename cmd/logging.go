package cmd

import (
	"github.com/urfave/cli"

	"github.com/helios-render/helios/log"
)

var logger = log.New("helios")

func setupLogging(ctx *cli.Context) {
	level := log.Notice
	if ctx.GlobalBool("v") {
		level = log.Info
	}
	if ctx.GlobalBool("vv") {
		level = log.Debug
	}
	log.Setup(log.Config{Level: level})
}
