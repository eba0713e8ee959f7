package cmd

import (
	"bytes"
	"fmt"

	"github.com/achilleasa/polaris-denoise/renderer"
	"github.com/olekukonko/tablewriter"
)

func displayFrameStats(stats renderer.FrameStats) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Kernel", "Dispatches", "Invocations", "Time"})
	for _, stat := range stats.Kernels {
		table.Append([]string{
			stat.Kernel,
			fmt.Sprintf("%d", stat.Dispatches),
			fmt.Sprintf("%d", stat.Invocations),
			stat.Time.String(),
		})
	}
	table.SetFooter([]string{"", "", "TOTAL", stats.RenderTime.String()})

	table.Render()
	logger.Noticef(
		"frame %d statistics (denoiser %s, history %t, trace %s, denoise %s)\n%s",
		stats.FrameIndex, stats.Denoiser, stats.HasHistory, stats.TraceTime, stats.DenoiseTime, buf.String(),
	)
}
