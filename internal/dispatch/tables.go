package dispatch

import "strings"

// TableMode selects how markdown tables are rewritten before a flush.
// Chat providers vary wildly here: some render pipes as-is (preserve),
// some garble them unless monospaced (code), some support no formatting
// at all (plain).
type TableMode string

const (
	TableModeCode     TableMode = "code"     // wrap tables in a code fence
	TableModePlain    TableMode = "plain"    // flatten rows to "col: value" lines
	TableModePreserve TableMode = "preserve" // pass through untouched
)

// TableModeFor resolves the per-channel table mode from config, defaulting
// to preserve.
func TableModeFor(channel string, modes map[string]string) TableMode {
	switch TableMode(modes[channel]) {
	case TableModeCode:
		return TableModeCode
	case TableModePlain:
		return TableModePlain
	default:
		return TableModePreserve
	}
}

// RewriteTables applies mode to every markdown table in text. Tables
// inside fenced code blocks are left alone.
func RewriteTables(text string, mode TableMode) string {
	if mode == TableModePreserve || !strings.Contains(text, "|") {
		return text
	}

	var out []string
	lines := strings.Split(text, "\n")
	inFence := false

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			out = append(out, line)
			continue
		}
		if inFence || !isTableRow(line) {
			out = append(out, line)
			continue
		}

		// Collect the full table: consecutive pipe rows.
		start := i
		for i < len(lines) && isTableRow(lines[i]) {
			i++
		}
		table := lines[start:i]
		i--

		// A lone pipe line with no separator row is not a table.
		if len(table) < 2 || !isSeparatorRow(table[1]) {
			out = append(out, table...)
			continue
		}

		switch mode {
		case TableModeCode:
			out = append(out, "```")
			out = append(out, table...)
			out = append(out, "```")
		case TableModePlain:
			out = append(out, flattenTable(table)...)
		}
	}
	return strings.Join(out, "\n")
}

func isTableRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "|") && strings.Count(trimmed, "|") >= 2
}

func isSeparatorRow(line string) bool {
	trimmed := strings.Trim(strings.TrimSpace(line), "|")
	if trimmed == "" {
		return false
	}
	for _, cell := range strings.Split(trimmed, "|") {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			return false
		}
		for _, r := range cell {
			if r != '-' && r != ':' {
				return false
			}
		}
	}
	return true
}

// flattenTable renders "header: value" lines per data row, one blank line
// between rows.
func flattenTable(table []string) []string {
	headers := splitCells(table[0])
	var out []string
	for rowIdx, row := range table[2:] {
		if rowIdx > 0 {
			out = append(out, "")
		}
		for colIdx, cell := range splitCells(row) {
			if colIdx < len(headers) && headers[colIdx] != "" {
				out = append(out, headers[colIdx]+": "+cell)
			} else {
				out = append(out, cell)
			}
		}
	}
	return out
}

func splitCells(row string) []string {
	trimmed := strings.Trim(strings.TrimSpace(row), "|")
	cells := strings.Split(trimmed, "|")
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	return out
}
