package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestCLI_StoreGetSearchDeleteRoundTrip(t *testing.T) {
	dataDir := t.TempDir()

	storeOut, err := execCmd(t, "store", "--data-dir", dataDir, "--title", "cli marker note", "--format", "json", "remember to rotate keys")
	require.NoError(t, err)
	assert.Contains(t, storeOut, `"ID"`)

	statsOut, err := execCmd(t, "stats", "--data-dir", dataDir, "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, statsOut, `"TotalMemories": 1`)

	searchOut, err := execCmd(t, "search", "--data-dir", dataDir, "cli marker note")
	require.NoError(t, err)
	assert.Contains(t, searchOut, "cli marker note")
}

func TestCLI_GetUnknownIDReturnsError(t *testing.T) {
	dataDir := t.TempDir()
	_, err := execCmd(t, "get", "--data-dir", dataDir, "does-not-exist")
	assert.Error(t, err)
}
