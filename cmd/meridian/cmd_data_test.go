package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	portalconfig "github.com/MeridianWorks/MeridianPortal/services/portal/config"
)

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "projects.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestValidateDataset_CountsKeptAndSkipped(t *testing.T) {
	path := writeTempCSV(t,
		"id,name,category,tasks\n"+
			"1,Ingest,pipeline,build\n"+
			"2,,pipeline,test\n"+ // missing name, dropped
			"3,Portal,web,deploy\n")

	result, err := validateDataset(path, portalconfig.DefaultMaxContextBytes)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Kept)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 3, result.Total)
	assert.Positive(t, result.Bytes)
}

func TestValidateDataset_MissingFile(t *testing.T) {
	_, err := validateDataset(filepath.Join(t.TempDir(), "nope.csv"), portalconfig.DefaultMaxContextBytes)
	assert.Error(t, err)
}

func TestValidateDataset_MalformedCSV(t *testing.T) {
	path := writeTempCSV(t, "id,name,category,tasks\n\"unterminated\n")

	_, err := validateDataset(path, portalconfig.DefaultMaxContextBytes)
	assert.Error(t, err)
}

func TestDatasetPath_ArgumentOverridesConfig(t *testing.T) {
	assert.Equal(t, "/tmp/override.csv", datasetPath([]string{"/tmp/override.csv"}))
}
