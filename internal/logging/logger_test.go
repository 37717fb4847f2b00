package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("info", "text", &buf).Info("workflow_step", "step", "pause_sync")
	assert.Contains(t, buf.String(), "msg=workflow_step")
	assert.Contains(t, buf.String(), "step=pause_sync")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("info", "JSON", &buf).Info("task_finished", "outcome", "success")
	assert.Contains(t, buf.String(), `"msg":"task_finished"`)
	assert.Contains(t, buf.String(), `"outcome":"success"`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("warning", "text", &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	NewWithWriter("bogus", "text", &buf).Debug("debug hidden at default level")
	assert.Empty(t, buf.String())
}
