package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/barnettlynn/desfire/picc"
)

var (
	colorHeader = text.Colors{text.FgCyan, text.Bold}
	colorLabel  = text.Colors{text.FgYellow}
	colorValue  = text.Colors{text.FgWhite}
)

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	style := table.StyleRounded
	style.Color.Header = colorHeader
	style.Options.SeparateRows = false
	t.SetStyle(style)
	if title != "" {
		t.SetTitle(title)
	}
	return t
}

func printKeyValueTable(title string, rows [][2]string) {
	t := newTable(title)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 18},
		{Number: 2, Colors: colorValue, WidthMin: 30},
	})
	for _, r := range rows {
		t.AppendRow(table.Row{r[0], r[1]})
	}
	t.Render()
}

func printApplicationIDs(aids []picc.AID) {
	t := newTable("APPLICATIONS")
	t.AppendHeader(table.Row{"#", "AID"})
	for i, aid := range aids {
		t.AppendRow(table.Row{i, fmt.Sprintf("%06X", uint32(aid))})
	}
	t.Render()
}

func printFileSettings(fileNo byte, fs *picc.FileSettings) {
	rows := [][2]string{
		{"File no.", fmt.Sprintf("%02X", fileNo)},
		{"Type", fmt.Sprintf("%02X", fs.FileType)},
		{"Comm mode", fmt.Sprintf("%02X", fs.FileOption&0x03)},
		{"SDM enabled", fmt.Sprintf("%v", fs.FileOption&0x40 != 0)},
		{"Read", fmt.Sprintf("%X", fs.AccessRights.Read)},
		{"Write", fmt.Sprintf("%X", fs.AccessRights.Write)},
		{"ReadWrite", fmt.Sprintf("%X", fs.AccessRights.ReadWrite)},
		{"ChangeAR", fmt.Sprintf("%X", fs.AccessRights.ChangeAccessRights)},
		{"Size", fmt.Sprintf("%d", fs.Size)},
	}
	printKeyValueTable("FILE SETTINGS", rows)
}
