package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// renderTable draws rows under headers. A non-empty footer is rendered as a
// summary row spanning the table.
func renderTable(headers []string, rows [][]string, aligns []columnAlignment, footer string) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(toRow(headers, columns))
	for _, row := range rows {
		tw.AppendRow(toRow(row, columns))
	}
	if footer != "" {
		summary := make(table.Row, columns)
		for i := range summary {
			summary[i] = footer
		}
		tw.AppendFooter(summary, table.RowConfig{AutoMerge: true})
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func toRow(values []string, columns int) table.Row {
	r := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		if i < len(values) {
			r[i] = values[i]
		} else {
			r[i] = ""
		}
	}
	return r
}
