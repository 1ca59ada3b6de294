package csvparser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReaderDelimiters(t *testing.T) {
	tests := []struct {
		name      string
		delimiter string
		input     string
	}{
		{"comma", ",", "Project,Amount\nApollo,100\n"},
		{"pipe", "|", "Project|Amount\nApollo|100\n"},
		{"tab word", "tab", "Project\tAmount\nApollo\t100\n"},
		{"escaped tab", "\\t", "Project\tAmount\nApollo\t100\n"},
		{"semicolon", ";", "Project;Amount\nApollo;100\n"},
		{"default", "", "Project,Amount\nApollo,100\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := ParseReader(strings.NewReader(tt.input), Settings{Delimiter: tt.delimiter, HeaderRows: 1})
			require.NoError(t, err)
			require.Equal(t, 1, table.Len())
			assert.Equal(t, []string{"Apollo", "100"}, table.Rows[0].Cells)
			assert.Equal(t, []string{"Project", "Amount"}, table.Header)
		})
	}
}

func TestParseReaderKeepsCellsVerbatim(t *testing.T) {
	input := "Project,Region,Amount\n" +
		"Apollo, East ,100\n" +
		",,\n" +
		"Gemini\n" +
		"Mercury,West,5\n"

	table, err := ParseReader(strings.NewReader(input), DefaultSettings())
	require.NoError(t, err)

	require.Equal(t, 3, table.Len())
	assert.Equal(t, " East ", table.Rows[0].Cell(1))
	assert.Equal(t, 4, table.Rows[1].Number, "blank line 3 is skipped")
	assert.Equal(t, "", table.Rows[1].Cell(2), "short rows are allowed")
	assert.Equal(t, 5, table.Rows[2].Number)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.csv")
	require.NoError(t, os.WriteFile(path, []byte("Export\nProject|Amount\nApollo|1\n"), 0o644))

	table, err := Parse(path, Settings{Delimiter: "pipe", HeaderRows: 2})
	require.NoError(t, err)
	assert.Equal(t, path, table.Source)
	assert.Equal(t, []string{"Project", "Amount"}, table.Header)
	require.Equal(t, 1, table.Len())
	assert.Equal(t, 3, table.Rows[0].Number)

	_, err = Parse(filepath.Join(t.TempDir(), "missing.csv"), DefaultSettings())
	assert.Error(t, err)
}
