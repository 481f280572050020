package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)

	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, "meetbot configuration", schema["title"])

	raw := string(data)
	for _, key := range []string{"wait_for_admission", "max_recording_duration", "inactivity_limit", "activate_inactivity_detection_after", "chunk_interval"} {
		assert.Contains(t, raw, key)
	}
}

func TestSchemaValidator(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)

	valid := map[string]interface{}{
		"session": map[string]interface{}{"wait_for_admission": 3.0},
	}
	assert.NoError(t, v.Validate(valid))

	wrongType := map[string]interface{}{
		"session": map[string]interface{}{"wait_for_admission": "three"},
	}
	err = v.Validate(wrongType)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wait_for_admission")

	badBackend := map[string]interface{}{
		"storage": map[string]interface{}{"backend": "ftp"},
	}
	assert.Error(t, v.Validate(badBackend))
}
