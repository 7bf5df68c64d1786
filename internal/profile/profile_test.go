package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func writeProfile(t *testing.T, root, dir, name string) {
	t.Helper()
	prefs := `{"profile":{}}`
	if name != "" {
		prefs = `{"profile":{"name":"` + name + `"}}`
	}
	writeFile(t, filepath.Join(root, dir, "Preferences"), prefs)
}

func TestEntry_Label(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Work (Profile 1)", Entry{Dir: "Profile 1", Name: "Work"}.Label())
	assert.Equal(t, "Default", Entry{Dir: "Default", Name: "Default"}.Label())
	assert.Equal(t, "Profile 2", Entry{Dir: "Profile 2"}.Label())
	assert.Equal(t, "", Entry{}.Label())
}

func TestDefaultRoot(t *testing.T) {
	t.Parallel()

	never := func(string) bool { return false }
	always := func(string) bool { return true }

	assert.Equal(t, filepath.Join("/home/u", ".config", "chromium"), DefaultRoot("linux", "/home/u", never))
	assert.Equal(t, filepath.Join("/home/u", ".config", "google-chrome"), DefaultRoot("linux", "/home/u", always))
	assert.Equal(t, filepath.Join("/Users/u", "Library", "Application Support", "Google", "Chrome"), DefaultRoot("darwin", "/Users/u", never))
}

func TestStore_List(t *testing.T) {
	t.Parallel()

	// Given
	root := t.TempDir()
	writeProfile(t, root, "Default", "Person 1")
	writeProfile(t, root, "Profile 1", "Work")
	writeProfile(t, root, "Profile 2", "")
	writeFile(t, filepath.Join(root, "Profile 3", "Preferences"), "{not json")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Crashpad"), 0755))
	writeFile(t, filepath.Join(root, "Local State"), `{
		"profile": {
			"info_cache": {
				"Default": {"name": "Personal"},
				"Profile 2": {"name": ""},
				"Profile 9": {"name": "Ghost"}
			}
		}
	}`)

	// When
	entries := NewStore(root, nil).List()

	// Then
	assert.Equal(t, []Entry{
		{Dir: "Default", Name: "Personal"},
		{Dir: "Profile 1", Name: "Work"},
		{Dir: "Profile 2", Name: "Profile 2"},
		{Dir: "Profile 3", Name: "Profile 3"},
	}, entries)
}

func TestStore_List_UnreadableRoot(t *testing.T) {
	t.Parallel()

	entries := NewStore(filepath.Join(t.TempDir(), "missing"), nil).List()

	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestStore_LastUsedDir(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		localState string
		want       string
	}{
		{"last used", `{"profile":{"last_used":"Profile 4","last_active_profiles":["Profile 2"]}}`, "Profile 4"},
		{"recency list", `{"profile":{"last_active_profiles":["Profile 2","Profile 1"]}}`, "Profile 2"},
		{"neither", `{"profile":{}}`, DefaultDir},
		{"malformed", `nope`, DefaultDir},
		{"missing", "", DefaultDir},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			root := t.TempDir()
			if tt.localState != "" {
				writeFile(t, filepath.Join(root, "Local State"), tt.localState)
			}
			assert.Equal(t, tt.want, NewStore(root, nil).LastUsedDir())
		})
	}
}
