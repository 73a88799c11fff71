package cli

import (
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"go.hackfix.me/docmig/migration"
	"go.hackfix.me/docmig/xtime"
)

var listHeader = []string{"Name", "Status", "Created", "Applied"}

// renderViews writes the migration list as a borderless table, one row per
// migration in sequence key order. Creation times are shown in the local time
// zone, and application times relative to now.
func renderViews(w io.Writer, views []migration.View, now time.Time) error {
	data := make([][]string, len(views))
	for i, v := range views {
		applied := "-"
		if v.Record != nil {
			applied = xtime.Ago(v.Record.AppliedAt, now)
		}
		data[i] = []string{
			v.Name(), string(v.Status),
			v.SequenceKey().Local().Format(time.DateTime), applied,
		}
	}

	table := tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewBlueprint(
			tw.Rendition{
				Borders: tw.BorderNone,
				Symbols: tw.NewSymbols(tw.StyleASCII),
				Settings: tw.Settings{
					Lines: tw.Lines{
						ShowHeaderLine: tw.Off,
						ShowFooterLine: tw.Off,
						ShowTop:        tw.Off,
						ShowBottom:     tw.Off,
					},
					Separators: tw.Separators{
						ShowHeader:     tw.Off,
						ShowFooter:     tw.Off,
						BetweenRows:    tw.Off,
						BetweenColumns: tw.Off,
					},
				},
			},
		)),
		tablewriter.WithConfig(tablewriter.Config{
			Header: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignLeft},
			},
			// Names can be up to 200 characters long, and must be shown in
			// full so that they can be copied into up and down commands.
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
	)

	table.Header(listHeader)
	if err := table.Bulk(data); err != nil {
		return err //nolint:wrapcheck // This is wrapped by the caller.
	}

	return table.Render() //nolint:wrapcheck // This is wrapped by the caller.
}
