package resultsink

import (
	"strconv"

	"github.com/pterm/pterm"
)

// WriteConsoleTable renders rows as a pterm table to stdout (or wherever
// pterm's default writer points), for interactive runs that don't redirect
// output to a file.
func WriteConsoleTable(rows []Row) error {
	data := make(pterm.TableData, 0, len(rows)+1)
	data = append(data, header)

	for _, r := range rows {
		data = append(data, []string{
			r.IP,
			strconv.Itoa(r.Sent),
			strconv.Itoa(r.Received),
			formatPercent(r.LossRate),
			strconv.FormatFloat(r.MeanDelayMS, 'f', 2, 64),
			strconv.FormatFloat(r.SpeedMBs, 'f', 2, 64),
			r.Pop,
		})
	}

	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
