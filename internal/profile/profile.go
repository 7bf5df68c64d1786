// Package profile discovers the browser's installed user profiles, resolves a
// requested profile to its directory, and mirrors profile data into an
// isolated working directory.
package profile

import (
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// DefaultDir is the directory of the browser's default profile.
const DefaultDir = "Default"

const (
	preferencesFile = "Preferences"
	localStateFile  = "Local State"
)

// Entry is one installed profile. Dir is unique within a Store; Name is the
// display name and need not be.
type Entry struct {
	Dir  string `json:"dir"`
	Name string `json:"name"`
}

// Label renders the entry the way users refer to it: "Name (Dir)", or just
// one of them when they are the same.
func (e Entry) Label() string {
	switch {
	case e.Name == "" && e.Dir == "":
		return ""
	case e.Name == "":
		return e.Dir
	case e.Dir == "" || e.Name == e.Dir:
		return e.Name
	}
	return e.Name + " (" + e.Dir + ")"
}

// DefaultRoot returns the platform's browser user-data directory under home.
// exists reports whether a path is present; it is only consulted on Linux to
// prefer Google Chrome over Chromium.
func DefaultRoot(goos, home string, exists func(string) bool) string {
	switch goos {
	case "linux":
		chrome := filepath.Join(home, ".config", "google-chrome")
		if exists != nil && exists(chrome) {
			return chrome
		}
		return filepath.Join(home, ".config", "chromium")
	case "windows":
		return filepath.Join(home, "AppData", "Local", "Google", "Chrome", "User Data")
	}
	return filepath.Join(home, "Library", "Application Support", "Google", "Chrome")
}

// Store reads profile metadata from a browser user-data directory.
type Store struct {
	Root   string
	Logger *zap.Logger
}

// NewStore returns a store rooted at root.
func NewStore(root string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{Root: root, Logger: logger}
}

type preferences struct {
	Profile struct {
		Name *string `json:"name"`
	} `json:"profile"`
}

type localState struct {
	Profile struct {
		LastUsed           string   `json:"last_used"`
		LastActiveProfiles []string `json:"last_active_profiles"`
		InfoCache          map[string]struct {
			Name string `json:"name"`
		} `json:"info_cache"`
	} `json:"profile"`
}

// List returns every subdirectory of Root holding a Preferences file, in
// directory order. An unreadable root yields an empty list.
func (s *Store) List() []Entry {
	dirs, err := os.ReadDir(s.Root)
	if err != nil {
		s.logger().Debug("profile root unreadable", zap.String("root", s.Root), zap.Error(err))
		return []Entry{}
	}

	entries := []Entry{}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		prefPath := filepath.Join(s.Root, d.Name(), preferencesFile)
		if _, err := os.Stat(prefPath); err != nil {
			continue
		}

		name := d.Name()
		var pref preferences
		if err := readJSON(prefPath, &pref); err != nil {
			s.logger().Debug("unreadable preferences", zap.String("path", prefPath), zap.Error(err))
		} else if pref.Profile.Name != nil && *pref.Profile.Name != "" {
			name = *pref.Profile.Name
		}
		entries = append(entries, Entry{Dir: d.Name(), Name: name})
	}

	if state, ok := s.localState(); ok {
		for i := range entries {
			if info, ok := state.Profile.InfoCache[entries[i].Dir]; ok && info.Name != "" {
				entries[i].Name = info.Name
			}
		}
	}

	return entries
}

// LastUsedDir returns the most recently active profile directory recorded in
// Local State, falling back to DefaultDir.
func (s *Store) LastUsedDir() string {
	state, ok := s.localState()
	if !ok {
		return DefaultDir
	}
	if state.Profile.LastUsed != "" {
		return state.Profile.LastUsed
	}
	if len(state.Profile.LastActiveProfiles) > 0 && state.Profile.LastActiveProfiles[0] != "" {
		return state.Profile.LastActiveProfiles[0]
	}
	return DefaultDir
}

func (s *Store) localState() (*localState, bool) {
	path := filepath.Join(s.Root, localStateFile)
	var state localState
	if err := readJSON(path, &state); err != nil {
		if !os.IsNotExist(err) {
			s.logger().Debug("unreadable local state", zap.String("path", path), zap.Error(err))
		}
		return nil, false
	}
	return &state, true
}

func (s *Store) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
