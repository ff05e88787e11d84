package builtin_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simage-ai/convoengine/internal/tools/builtin"
)

func writeCSV(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestCSVTableLoaderInfersColumnTypes(t *testing.T) {
	path := writeCSV(t, "name,amount\nalice,10\nbob,20\n")

	tbl, err := builtin.CSVTableLoader{}.Load(path)
	require.NoError(t, err)

	cols := tbl.Columns()
	require.Len(t, cols, 2)
	assert.Equal(t, "string", cols[0].Type)
	assert.Equal(t, "number", cols[1].Type)
	assert.Len(t, tbl.Rows(), 2)
}

func TestCSVTableLoaderEmptyFile(t *testing.T) {
	path := writeCSV(t, "")
	tbl, err := builtin.CSVTableLoader{}.Load(path)
	require.NoError(t, err)
	assert.Empty(t, tbl.Rows())
}

func TestCSVTableEvalAggregates(t *testing.T) {
	path := writeCSV(t, "name,amount\nalice,10\nbob,30\n")
	tbl, err := builtin.CSVTableLoader{}.Load(path)
	require.NoError(t, err)

	out, err := tbl.Eval(`df['amount'].sum()`)
	require.NoError(t, err)
	assert.Equal(t, "40", out)

	out, err = tbl.Eval(`df['amount'].mean()`)
	require.NoError(t, err)
	assert.Equal(t, "20", out)

	out, err = tbl.Eval(`len(df)`)
	require.NoError(t, err)
	assert.Equal(t, "2", out)
}

func TestCSVTableEvalHeadLimitsRows(t *testing.T) {
	path := writeCSV(t, "n\n1\n2\n3\n4\n5\n6\n")
	tbl, err := builtin.CSVTableLoader{}.Load(path)
	require.NoError(t, err)

	out, err := tbl.Eval(`df.head(2)`)
	require.NoError(t, err)
	assert.Equal(t, "n\n1\n2\n", out)
}

func TestCSVTableEvalUnrecognizedFallsBackToDump(t *testing.T) {
	path := writeCSV(t, "n\n1\n2\n")
	tbl, err := builtin.CSVTableLoader{}.Load(path)
	require.NoError(t, err)

	out, err := tbl.Eval(`df.describe()`)
	require.NoError(t, err)
	assert.Equal(t, "n\n1\n2\n", out)
}
