package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/helios-render/helios/driver"
	"github.com/helios-render/helios/renderer"
	"github.com/helios-render/helios/scene/reader"
)

// Render a still frame to a PNG file.
func RenderFrame(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() != 1 {
		return errors.New("missing scene file argument")
	}
	sc, err := reader.ReadScene(ctx.Args().First(), logger)
	if err != nil {
		return err
	}

	// Flag overrides on top of the scene's own settings.
	if spp := ctx.Int("spp"); spp > 0 {
		sc.Settings.SamplesPerPixel = uint32(spp)
	}
	if bounces := ctx.Int("num-bounces"); bounces > 0 {
		sc.Settings.NumBounces = uint32(bounces)
	}
	if exposure := ctx.Float64("exposure"); exposure > 0 {
		sc.Settings.Exposure = float32(exposure)
	}

	drv, err := findDriver(ctx.String("driver"))
	if err != nil {
		return err
	}
	gpu, err := drv.Open()
	if err != nil {
		return err
	}
	defer drv.Close()

	r, err := renderer.New(gpu, sc, renderer.Options{
		FrameW:        uint32(ctx.Int("width")),
		FrameH:        uint32(ctx.Int("height")),
		ForceFallback: ctx.Bool("force-fallback"),
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	logger.Notice("rendering frame")
	start := time.Now()
	if err = r.Render(); err != nil {
		return err
	}
	frame, err := r.ReadbackFrame()
	if err != nil {
		return err
	}
	logger.Noticef("rendered frame in %d ms", time.Since(start).Nanoseconds()/1e6)

	displayFrameStats(r.Stats())

	out := ctx.String("out")
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("could not create %s: %s", out, err)
	}
	defer f.Close()
	if err = png.Encode(f, frame); err != nil {
		return fmt.Errorf("could not encode %s: %s", out, err)
	}
	logger.Noticef("wrote frame to %s", out)
	return nil
}

// Locate a registered driver by name. An empty name selects the first
// registered driver.
func findDriver(name string) (driver.Driver, error) {
	drivers := driver.Drivers()
	if len(drivers) == 0 {
		return nil, driver.ErrNoDevice
	}
	if name == "" {
		return drivers[0], nil
	}
	for _, drv := range drivers {
		if drv.Name() == name {
			return drv, nil
		}
	}
	return nil, fmt.Errorf("no driver registered under %q", name)
}

func displayFrameStats(stats renderer.FrameStats) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Path", "Instances", "Accel rebuilt", "Render time"})
	table.Append([]string{
		stats.Path.String(),
		fmt.Sprintf("%d", stats.Instances),
		fmt.Sprintf("%t", stats.AccelRebuilt),
		stats.RenderTime.String(),
	})
	table.Render()
	logger.Noticef("frame statistics\n%s", buf.String())
}
