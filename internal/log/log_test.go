package log

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelsAndName(t *testing.T) {
	var buf bytes.Buffer
	Init("siteseeing-test")
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	SetLevel(InfoLevel)
	Debugf("hidden %d", 1)
	Infof("shown %d", 2)
	Resultf("saved %s", "a.png")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "shown 2")
	require.Contains(t, out, "app=siteseeing-test")
	require.Contains(t, out, "result=true")

	buf.Reset()
	SetLevel(DebugLevel)
	defer SetLevel(InfoLevel)
	Debugln("now", "visible")
	require.Contains(t, buf.String(), "now visible")
}

func TestEnableFile(t *testing.T) {
	dir := t.TempDir()
	Init("filetest")

	cfg := DefaultFileConfig()
	cfg.Dir = dir
	require.NoError(t, EnableFile(cfg))
	Warnf("written to %s", "file")
	require.NoError(t, Close())

	data, err := os.ReadFile(filepath.Join(dir, "filetest.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), "written to file")
	require.NoError(t, Close())
}
