package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stan.json")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestEvalCommand(t *testing.T) {
	cfg := writeConfig(t, `{"log": {"level": "warn"}}`)
	out, err := execute(t, "eval", "-c", cfg, "testdata/sum.json")
	require.NoError(t, err)

	for _, want := range []string{
		"subscribe sum\n",
		"notify sum\n",
		"get sum = 7\n",
		"get a = 8\n",
		"sum: 5 steps passed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestEvalCommandFailure(t *testing.T) {
	cfg := writeConfig(t, `{}`)
	_, err := execute(t, "eval", "-c", cfg, "testdata/failing.json")
	require.Error(t, err)
	require.Contains(t, err.Error(), "S014")
}

func TestEvalCommandEngineFlag(t *testing.T) {
	cfg := writeConfig(t, `{}`)
	_, err := execute(t, "eval", "-c", cfg, "--engine", "lisp", "testdata/sum.json")
	require.Error(t, err)
	require.Contains(t, err.Error(), "S010")
}

func TestEvalCommandBadConfig(t *testing.T) {
	cfg := writeConfig(t, `{"log": {"format": "xml"}}`)
	_, err := execute(t, "eval", "-c", cfg, "testdata/sum.json")
	require.Error(t, err)
	require.Contains(t, err.Error(), "S010")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	require.Equal(t, version+"\n", out)
}
