package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONInProduction(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(false, buf)
	For("ledger").WithField("scope", "c1").Info("appended")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "appended", line["message"])
	assert.Equal(t, "ledger", line["component"])
	assert.Equal(t, "c1", line["scope"])
}

func TestInit_DebugEnablesDebugLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(true, buf)
	Log().Debug("visible")
	assert.Contains(t, buf.String(), "visible")

	buf.Reset()
	Init(false, buf)
	Log().Debug("hidden")
	assert.Empty(t, buf.String())
}
