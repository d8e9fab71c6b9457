package main

import (
	"os"

	"github.com/urfave/cli"

	"github.com/helios-render/helios/cmd"
	_ "github.com/helios-render/helios/driver/soft"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "helios"
	app.Usage = "render scenes using hybrid hardware/compute ray tracing"
	app.Version = "0.1.0"
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
			Name:   "list-devices",
			Usage:  "list registered device drivers",
			Action: cmd.ListDevices,
		},
		{
			Name:  "render",
			Usage: "render scene",
			Subcommands: []cli.Command{
				{
					Name:        "frame",
					Usage:       "render single frame",
					Description: `Render a single frame from a TOML scene description and write it out as PNG.`,
					ArgsUsage:   "scene.toml",
					Flags: []cli.Flag{
						cli.IntFlag{
							Name:  "width",
							Value: 512,
							Usage: "frame width",
						},
						cli.IntFlag{
							Name:  "height",
							Value: 512,
							Usage: "frame height",
						},
						cli.IntFlag{
							Name:  "spp",
							Usage: "samples per pixel (overrides scene settings)",
						},
						cli.IntFlag{
							Name:  "num-bounces",
							Usage: "number of indirect bounces (overrides scene settings)",
						},
						cli.Float64Flag{
							Name:  "exposure",
							Usage: "camera exposure for tone-mapping (overrides scene settings)",
						},
						cli.StringFlag{
							Name:  "driver",
							Usage: "device driver to render with; defaults to the first registered",
						},
						cli.BoolFlag{
							Name:  "force-fallback",
							Usage: "use the compute fallback even when the device supports ray tracing",
						},
						cli.StringFlag{
							Name:  "out, o",
							Value: "frame.png",
							Usage: "image filename for the rendered frame",
						},
					},
					Action: cmd.RenderFrame,
				},
			},
		},
	}

	app.Run(os.Args)
}
