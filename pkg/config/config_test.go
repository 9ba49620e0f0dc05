package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cradlehq/cradle/pkg/types"
)

func validValues() map[string]string {
	return map[string]string{
		KeyEndpoint:   "unix:///var/run/docker.sock",
		KeyHostname:   "challenges.example.com",
		KeyExpiration: "3600",
		KeyMaxMemory:  "512m",
		KeyMaxCPU:     "0.5",
		KeyAssignment: "user",
	}
}

func TestFromValues(t *testing.T) {
	snap, err := FromValues(validValues())
	require.NoError(t, err)

	assert.Equal(t, "unix:///var/run/docker.sock", snap.Endpoint)
	assert.Equal(t, "challenges.example.com", snap.Hostname)
	assert.Equal(t, time.Hour, snap.Expiration)
	assert.Equal(t, "512m", snap.Limits.Memory)
	assert.Equal(t, "0.5", snap.Limits.CPU)
	assert.Equal(t, types.AssignmentUser, snap.Assignment)
}

func TestFromValuesRejectsPartialDocuments(t *testing.T) {
	for _, key := range RequiredKeys {
		t.Run("missing "+key, func(t *testing.T) {
			values := validValues()
			delete(values, key)

			_, err := FromValues(values)
			assert.ErrorIs(t, err, ErrIncomplete)
		})
	}
}

func TestFromValuesValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric expiration", KeyExpiration, "soon"},
		{"zero expiration", KeyExpiration, "0"},
		{"negative expiration", KeyExpiration, "-60"},
		{"unknown assignment mode", KeyAssignment, "everyone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := validValues()
			values[tt.key] = tt.value

			_, err := FromValues(values)
			assert.ErrorIs(t, err, ErrIncomplete)
		})
	}
}

func TestValuesRoundTrip(t *testing.T) {
	snap, err := FromValues(validValues())
	require.NoError(t, err)
	assert.Equal(t, validValues(), snap.Values())
}
