package cmd

import (
	"bytes"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/helios-render/helios/driver"
)

// List registered device drivers and their capabilities.
func ListDevices(ctx *cli.Context) error {
	setupLogging(ctx)

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Driver", "Device", "Ray tracing", "Tier"})

	for _, drv := range driver.Drivers() {
		gpu, err := drv.Open()
		if err != nil {
			table.Append([]string{drv.Name(), fmt.Sprintf("error: %s", err), "", ""})
			continue
		}
		feats := gpu.Features()
		table.Append([]string{
			drv.Name(),
			feats.DeviceName,
			fmt.Sprintf("%t", feats.RayTracing),
			fmt.Sprintf("%d", feats.RayTracingTier),
		})
		drv.Close()
	}

	table.Render()
	logger.Noticef("registered drivers\n%s", buf.String())
	return nil
}
