package dispatch

import (
	"strings"
	"testing"
)

const sampleTable = `before
| Name | Role |
|------|------|
| ada  | eng  |
| bob  | ops  |
after`

func TestRewriteTables_Preserve(t *testing.T) {
	if got := RewriteTables(sampleTable, TableModePreserve); got != sampleTable {
		t.Errorf("preserve mode changed the text:\n%s", got)
	}
}

func TestRewriteTables_CodeWrapsInFence(t *testing.T) {
	got := RewriteTables(sampleTable, TableModeCode)
	if strings.Count(got, "```") != 2 {
		t.Fatalf("want exactly one fence pair, got:\n%s", got)
	}
	fenceStart := strings.Index(got, "```")
	fenceEnd := strings.LastIndex(got, "```")
	inner := got[fenceStart:fenceEnd]
	if !strings.Contains(inner, "| ada  | eng  |") {
		t.Errorf("table rows should sit inside the fence:\n%s", got)
	}
	if !strings.HasPrefix(got, "before") || !strings.HasSuffix(got, "after") {
		t.Errorf("surrounding prose was disturbed:\n%s", got)
	}
}

func TestRewriteTables_PlainFlattensRows(t *testing.T) {
	got := RewriteTables(sampleTable, TableModePlain)
	if strings.Contains(got, "|") {
		t.Errorf("plain mode left pipes behind:\n%s", got)
	}
	for _, want := range []string{"Name: ada", "Role: eng", "Name: bob", "Role: ops"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}

func TestRewriteTables_LeavesFencedTablesAlone(t *testing.T) {
	text := "```\n| a | b |\n|---|---|\n| 1 | 2 |\n```"
	if got := RewriteTables(text, TableModePlain); got != text {
		t.Errorf("table inside a code fence was rewritten:\n%s", got)
	}
}

func TestRewriteTables_PipeLineWithoutSeparatorIsNotATable(t *testing.T) {
	text := "a | b | c\n| just one line |  x |"
	if got := RewriteTables(text, TableModeCode); got != text {
		t.Errorf("non-table pipe lines were rewritten:\n%s", got)
	}
}

func TestTableModeFor(t *testing.T) {
	modes := map[string]string{"whatsapp": "code", "zalo": "plain"}
	tests := []struct {
		channel string
		want    TableMode
	}{
		{"whatsapp", TableModeCode},
		{"zalo", TableModePlain},
		{"telegram", TableModePreserve},
	}
	for _, tt := range tests {
		if got := TableModeFor(tt.channel, modes); got != tt.want {
			t.Errorf("TableModeFor(%s) = %s, want %s", tt.channel, got, tt.want)
		}
	}
}
