package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input    string
		expected ByteSize
	}{
		{"1024", 1024},
		{"500B", 500},
		{"1KB", KB},
		{"50MB", 50 * MB},
		{"1.5GB", ByteSize(1.5 * float64(GB))},
		{"2 TB", 2 * TB},
		{"512kib", 512 * KB},
		{"10mb", 10 * MB},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseByteSize_Invalid(t *testing.T) {
	for _, input := range []string{"", "abc", "-5MB", "10XB", "MB"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseByteSize(input)
			assert.Error(t, err)
		})
	}
}

func TestByteSize_String(t *testing.T) {
	assert.Equal(t, "50MB", (50 * MB).String())
	assert.Equal(t, "1GB", GB.String())
	assert.Equal(t, "1536B", ByteSize(1536).String())
	assert.Equal(t, "2KB", ByteSize(2048).String())
}

func TestByteSize_JSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(50 * MB)
	require.NoError(t, err)
	assert.Equal(t, `"50MB"`, string(data))

	var b ByteSize
	require.NoError(t, json.Unmarshal([]byte(`"50MB"`), &b))
	assert.Equal(t, 50*MB, b)

	require.NoError(t, json.Unmarshal([]byte(`1048576`), &b))
	assert.Equal(t, MB, b)
}
