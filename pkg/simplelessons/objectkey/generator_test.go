package objectkey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomGenerator(t *testing.T) {
	g := NewRandomGenerator()

	t.Run("format", func(t *testing.T) {
		key := g.GenerateKey("templates")
		assert.True(t, strings.HasPrefix(key, "templates/"))
		assert.True(t, strings.HasSuffix(key, ".html"))

		folder, id, err := Parse(key)
		require.NoError(t, err)
		assert.Equal(t, "templates", folder)
		assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", id.String())
	})

	t.Run("unique", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 1000; i++ {
			key := g.GenerateKey("lessons")
			require.False(t, seen[key], "duplicate key %s", key)
			seen[key] = true
		}
	})

	t.Run("folder sanitized", func(t *testing.T) {
		tests := []struct {
			folder string
			prefix string
		}{
			{"/lessons/", "lessons/"},
			{"", "default/"},
			{"../etc", "etc/"},
			{"my folder", "my_folder/"},
		}
		for _, tt := range tests {
			key := g.GenerateKey(tt.folder)
			assert.Contains(t, key, tt.prefix)
			assert.NotContains(t, key, "..")
		}
	})
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid", "lessons/0b9f4b8e-55d4-4b43-a0a4-8f0b1c9e3d21.html", false},
		{"no folder", "0b9f4b8e-55d4-4b43-a0a4-8f0b1c9e3d21.html", true},
		{"wrong extension", "lessons/0b9f4b8e-55d4-4b43-a0a4-8f0b1c9e3d21.txt", true},
		{"not a uuid", "lessons/abc.html", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInFolder(t *testing.T) {
	key := NewRandomGenerator().GenerateKey("templates")
	assert.True(t, InFolder(key, "templates"))
	assert.False(t, InFolder(key, "lessons"))
	assert.False(t, InFolder("templates/readme.md", "templates"))
}
