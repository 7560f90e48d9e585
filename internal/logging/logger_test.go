package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	clog "github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoggingHelpers_WriteToBuffer swaps L with a buffer-backed logger and
// restores it afterwards.
func TestLoggingHelpers_WriteToBuffer(t *testing.T) {
	var buf bytes.Buffer
	prev := L
	L = clog.New(&buf)
	L.SetLevel(clog.DebugLevel)
	defer func() { L = prev }()

	Debugf("hello %s", "dbg")
	Infof("info %d", 1)
	Warnf("warn")
	Errorf("err %v", "E")

	out := buf.String()
	assert.Contains(t, out, "hello dbg")
	assert.Contains(t, out, "info 1")
	assert.Contains(t, out, "warn")
	assert.Contains(t, out, "err E")
}

func TestSetOutput_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	prev := L
	defer func() { L = prev }()

	SetOutput(&buf, "warn", "text")
	Infof("hidden")
	Warnf("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestSetOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	prev := L
	defer func() { L = prev }()

	SetOutput(&buf, "bogus", "json")
	With("job", "job:backup:1:x").Info("settled")

	line := strings.TrimSpace(buf.String())
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	assert.Equal(t, "settled", decoded["msg"])
	assert.Equal(t, "job:backup:1:x", decoded["job"])
}
