package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Supported response languages.
const (
	LanguageEnglish = "english"
	LanguageDutch   = "dutch"
)

// FloatingIcon is the position and visibility of the in-page assistant icon.
type FloatingIcon struct {
	Visible bool `json:"visible"`
	X       int  `json:"x"`
	Y       int  `json:"y"`
}

// Preferences are user settings kept alongside the session.
type Preferences struct {
	Language          string       `json:"language"`
	ShowFloatingPopup bool         `json:"showFloatingPopup"`
	FloatingIcon      FloatingIcon `json:"floatingIcon"`
}

// DefaultPreferences returns the settings of a fresh install.
func DefaultPreferences() Preferences {
	return Preferences{
		Language:          LanguageEnglish,
		ShowFloatingPopup: true,
		FloatingIcon:      FloatingIcon{Visible: true},
	}
}

// PreferenceKeys lists the keys accepted by Get and Set.
var PreferenceKeys = []string{"language", "showFloatingPopup", "floatingIcon.visible", "floatingIcon.x", "floatingIcon.y"}

// Get returns the value of a single preference as text.
func (p Preferences) Get(key string) (string, error) {
	switch key {
	case "language":
		return p.Language, nil
	case "showFloatingPopup":
		return strconv.FormatBool(p.ShowFloatingPopup), nil
	case "floatingIcon.visible":
		return strconv.FormatBool(p.FloatingIcon.Visible), nil
	case "floatingIcon.x":
		return strconv.Itoa(p.FloatingIcon.X), nil
	case "floatingIcon.y":
		return strconv.Itoa(p.FloatingIcon.Y), nil
	default:
		return "", fmt.Errorf("unknown preference %q", key)
	}
}

// Set parses value and assigns it to key.
func (p *Preferences) Set(key, value string) error {
	var err error
	switch key {
	case "language":
		lang := strings.ToLower(strings.TrimSpace(value))
		if lang != LanguageEnglish && lang != LanguageDutch {
			return fmt.Errorf("unsupported language %q (want english or dutch)", value)
		}
		p.Language = lang
	case "showFloatingPopup":
		p.ShowFloatingPopup, err = strconv.ParseBool(value)
	case "floatingIcon.visible":
		p.FloatingIcon.Visible, err = strconv.ParseBool(value)
	case "floatingIcon.x":
		p.FloatingIcon.X, err = strconv.Atoi(value)
	case "floatingIcon.y":
		p.FloatingIcon.Y, err = strconv.Atoi(value)
	default:
		return fmt.Errorf("unknown preference %q", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value %q for %s: %w", value, key, err)
	}
	return nil
}

// PreferencesStore reads and writes Preferences as a JSON file.
type PreferencesStore struct {
	Path string
}

// NewPreferencesStore returns a store at <user config dir>/edulab/preferences.json.
func NewPreferencesStore() (*PreferencesStore, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return nil, err
	}
	return &PreferencesStore{Path: filepath.Join(dir, "preferences.json")}, nil
}

// Load returns the stored preferences. A missing file yields the defaults,
// and fields absent from the file keep their default values.
func (p *PreferencesStore) Load() (Preferences, error) {
	prefs := DefaultPreferences()
	data, err := os.ReadFile(p.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return prefs, nil
	}
	if err != nil {
		return prefs, fmt.Errorf("failed to read preferences: %w", err)
	}
	if err := json.Unmarshal(data, &prefs); err != nil {
		return DefaultPreferences(), fmt.Errorf("failed to decode preferences: %w", err)
	}
	if prefs.Language == "" {
		prefs.Language = LanguageEnglish
	}
	return prefs, nil
}

// Save writes prefs.
func (p *PreferencesStore) Save(prefs Preferences) error {
	data, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.Path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(p.Path, data, 0600); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	return nil
}
