package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSetup_FileOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "converse.log")

	closer, err := Setup(&Config{Level: "debug", FilePath: path, Console: false})
	require.NoError(t, err)
	defer closer.Close()

	_, err = os.Stat(path)
	require.NoError(t, err, "log file should exist")
}

func TestSetup_NilConfigUsesDefaults(t *testing.T) {
	closer, err := Setup(nil)
	require.NoError(t, err)
	require.NoError(t, closer.Close())
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
