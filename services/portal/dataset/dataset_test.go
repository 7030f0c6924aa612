package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDataset(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "projects.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AllRowsComplete(t *testing.T) {
	path := writeDataset(t, strings.Join([]string{
		"id,name,category,tasks",
		"1,Alpha,Infrastructure,Deploy sensors",
		"2,Beta,Research,Collect samples",
		"3,Gamma,Operations,Train staff",
	}, "\n"))

	ds, err := Load(path, 0)
	require.NoError(t, err)

	assert.Len(t, ds.Records, 3)
	assert.Equal(t, "Alpha", ds.Records[0].Name)
	assert.Equal(t, "Operations", ds.Records[2].Category)
}

func TestLoad_DiscardsRowsMissingRequiredFields(t *testing.T) {
	path := writeDataset(t, strings.Join([]string{
		"id,name,category,tasks",
		"1,Alpha,Infrastructure,Deploy sensors",
		"2,,Research,Collect samples", // missing name
		"3,Gamma,Operations,Train staff",
		"4,Delta,Analytics,Model data",
		"5,Epsilon,Field,  ", // tasks whitespace only
	}, "\n"))

	ds, err := Load(path, 0)
	require.NoError(t, err)

	require.Len(t, ds.Records, 3)
	assert.Equal(t, []string{"1", "3", "4"},
		[]string{ds.Records[0].ID, ds.Records[1].ID, ds.Records[2].ID})
}

func TestLoad_HeaderMatchingIsCaseInsensitive(t *testing.T) {
	path := writeDataset(t, strings.Join([]string{
		"ID,Name,CATEGORY,Tasks,Owner",
		"1,Alpha,Infrastructure,Deploy sensors,ops-team",
	}, "\n"))

	ds, err := Load(path, 0)
	require.NoError(t, err)

	require.Len(t, ds.Records, 1)
	assert.Equal(t, "Alpha", ds.Records[0].Name)
	// Extra columns land in the verbatim field map.
	assert.Equal(t, "ops-team", ds.Records[0].Fields["owner"])
}

func TestLoad_ToleratesVariableLengthRows(t *testing.T) {
	path := writeDataset(t, strings.Join([]string{
		"id,name,category,tasks,notes",
		"1,Alpha,Infrastructure,Deploy sensors", // short row, notes absent
		"2,Beta,Research,Collect samples,extra notes",
	}, "\n"))

	ds, err := Load(path, 0)
	require.NoError(t, err)
	assert.Len(t, ds.Records, 2)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.csv"), 0)
	assert.Error(t, err)
}

func TestFlatten_FormatAndOrder(t *testing.T) {
	records := []Record{
		{ID: "1", Name: "Alpha", Category: "Infra", Tasks: "Deploy"},
		{ID: "2", Name: "Beta", Category: "Research", Tasks: "Sample"},
	}

	text := Flatten(records)

	lines := strings.Split(text, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "ID: 1 | Name: Alpha | Category: Infra | Tasks: Deploy", lines[0])
	assert.Equal(t, "ID: 2 | Name: Beta | Category: Research | Tasks: Sample", lines[1])
}

func TestLoad_TextEqualsFlattenOfRecords(t *testing.T) {
	path := writeDataset(t, strings.Join([]string{
		"id,name,category,tasks",
		"1,Alpha,Infrastructure,Deploy sensors",
		"2,Beta,Research,Collect samples",
	}, "\n"))

	ds, err := Load(path, 0)
	require.NoError(t, err)
	assert.Equal(t, Flatten(ds.Records), ds.Text)
}

func TestLoad_ClampsOversizeTextOnRecordBoundary(t *testing.T) {
	var rows []string
	rows = append(rows, "id,name,category,tasks")
	for i := 0; i < 50; i++ {
		rows = append(rows, "1,ProjectWithALongName,CategoryName,Lots of long task text here")
	}
	path := writeDataset(t, strings.Join(rows, "\n"))

	ds, err := Load(path, 512)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(ds.Text), 512)
	assert.NotEmpty(t, ds.Text)
	// The cut lands between records, never inside one.
	assert.True(t, strings.HasSuffix(ds.Text, "Lots of long task text here"))
}

func TestStore_ReplaceSwapsSnapshot(t *testing.T) {
	store := NewStore(Empty("initial"))
	assert.Empty(t, store.Current().Records)

	store.Replace(&Dataset{Records: []Record{{ID: "1"}}, Text: "ID: 1"})
	assert.Len(t, store.Current().Records, 1)

	// Nil replacement is ignored.
	store.Replace(nil)
	assert.Len(t, store.Current().Records, 1)
}
