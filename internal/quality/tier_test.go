package quality

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLadder(t *testing.T) {
	ladder := DefaultLadder()
	require.NotEmpty(t, ladder)

	for i := 1; i < len(ladder); i++ {
		assert.Greater(t, ladder[i].Bitrate, ladder[i-1].Bitrate, "ladder ascends by bitrate")
	}
	assert.Equal(t, "240p", ladder[0].Name)
	assert.Equal(t, "1080p", ladder[len(ladder)-1].Name)
}

func TestLoadLadder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	content := `
- name: hd
  bitrate: 5000000
  height: 1080
- name: sd
  bitrate: 800000
  height: 480
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tiers, err := LoadLadder(path)
	require.NoError(t, err)
	require.Len(t, tiers, 2)

	// Sorted ascending regardless of file order.
	assert.Equal(t, "sd", tiers[0].Name)
	assert.Equal(t, "hd", tiers[1].Name)
}

func TestLoadLadder_Missing(t *testing.T) {
	_, err := LoadLadder(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadLadder_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty table", `[]`},
		{"missing name", "- bitrate: 100\n  height: 240\n"},
		{"zero bitrate", "- name: x\n  bitrate: 0\n  height: 240\n"},
		{"duplicate name", "- name: x\n  bitrate: 100\n- name: x\n  bitrate: 200\n"},
		{"not yaml", `{{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tiers.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := LoadLadder(path)
			assert.Error(t, err)
		})
	}
}
