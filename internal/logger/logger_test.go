package logger

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestLevels(t *testing.T) {
	tests := []struct {
		name  string
		debug bool
		env   string
		want  log.Level
	}{
		{name: "default", want: log.WarnLevel},
		{name: "verbose", debug: true, want: log.DebugLevel},
		{name: "env wins", debug: true, env: "error", want: log.ErrorLevel},
		{name: "bad env", env: "loud", want: log.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvLevel, tt.env)
			var buf bytes.Buffer
			InitWriter(&buf, tt.debug, true)
			assert.Equal(t, tt.want, log.GetLevel())
		})
	}
}

func TestPrefix(t *testing.T) {
	t.Setenv(EnvLevel, "")
	var buf bytes.Buffer
	InitWriter(&buf, false, true)

	log.Info("hidden")
	log.Warn("shown", "n", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "SNAPMIR")
	assert.Contains(t, buf.String(), "shown n=1")
}
