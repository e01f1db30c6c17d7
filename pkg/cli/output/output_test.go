package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_Render(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	table := NewTableTo(&buf, []string{"ID", "CONFIG", "STATUS"})
	table.AddRow([]string{"1", "core", "DONE"})
	table.AddRow([]string{"12", "application", "BUILDING"})
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "ID  CONFIG"))
	assert.Equal(t, "--  -----------  --------  ", lines[1])
	assert.True(t, strings.HasPrefix(lines[3], "12  application  BUILDING"))
	assert.Equal(t, 2, table.Len())
}

func TestFormatStatus(t *testing.T) {
	assert.Equal(t, "✅ DONE", FormatStatus("DONE"))
	assert.Equal(t, "🛑 CANCELLED", FormatStatus("CANCELLED"))
	assert.Equal(t, "❓ UNKNOWN", FormatStatus("UNKNOWN"))
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "[█████░░░░░]  50%", ProgressBar(50, 10))
	assert.Equal(t, "[░░░░░░░░░░]   0%", ProgressBar(-5, 10))
	assert.Equal(t, "[██████████] 100%", ProgressBar(120, 10))
}
