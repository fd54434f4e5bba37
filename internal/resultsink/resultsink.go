// Package resultsink implements the Result Sink boundary: the core
// pipeline only ever appends finished rows to a plain ordered container;
// how those rows are rendered (CSV file, console table) is this
// package's concern, not the pipeline's.
package resultsink

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Row is one endpoint's combined Stage A + Stage B outcome, in the exact
// column order spec.md §6 mandates for CSV output.
type Row struct {
	IP          string
	Sent        int
	Received    int
	LossRate    float64 // 0..1
	MeanDelayMS float64
	SpeedMBs    float64
	Pop         string
}

// header is the CSV header row, verbatim from spec.md §6 — a wire
// contract, not UI text.
var header = []string{"IP 地址", "已发送", "已接收", "丢包率", "平均延迟", "下载速度(MB/s)", "数据中心"}

// WriteCSV writes rows to w in spec.md §6's column order, including the
// header.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(header); err != nil {
		return fmt.Errorf("resultsink: write header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.IP,
			strconv.Itoa(r.Sent),
			strconv.Itoa(r.Received),
			formatPercent(r.LossRate),
			strconv.FormatFloat(r.MeanDelayMS, 'f', 2, 64),
			strconv.FormatFloat(r.SpeedMBs, 'f', 2, 64),
			r.Pop,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("resultsink: write row: %w", err)
		}
	}
	if err := cw.Error(); err != nil {
		return fmt.Errorf("resultsink: flush: %w", err)
	}
	return nil
}

func formatPercent(rate float64) string {
	return strconv.FormatFloat(rate*100, 'f', 2, 64) + "%"
}
