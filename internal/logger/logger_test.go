package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_Levels(t *testing.T) {
	var prod, dev bytes.Buffer

	NewWithWriter("prod", &prod).Debug("hidden")
	NewWithWriter("dev", &dev).Debug("shown", "sale_id", "s-1")

	assert.Empty(t, prod.String())

	var rec map[string]any
	require.NoError(t, json.Unmarshal(dev.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "s-1", rec["sale_id"])
}
