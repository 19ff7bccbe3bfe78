package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/edulab/internal/api"
	"github.com/teemow/edulab/internal/messages"
	"github.com/teemow/edulab/internal/session"
)

func TestLoadClientEnvVars(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		for _, name := range []string{"EDULAB_BACKEND_URL", "EDULAB_EXTENSION_ID", "EDULAB_SESSION_STORE", "GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "ALLOWED_DOMAINS"} {
			t.Setenv(name, "")
		}
		var cfg ClientConfig
		loadClientEnvVars(&cfg)
		assert.Equal(t, ClientConfig{BackendURL: api.DefaultBaseURL}, cfg)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("EDULAB_BACKEND_URL", "https://edulab.example.org")
		t.Setenv("EDULAB_EXTENSION_ID", "ext-a")
		t.Setenv("EDULAB_SESSION_STORE", "file")
		t.Setenv("GOOGLE_CLIENT_ID", "client.apps.googleusercontent.com")
		t.Setenv("GOOGLE_CLIENT_SECRET", "shh")
		t.Setenv("ALLOWED_DOMAINS", "vu.nl, student.vu.nl")

		var cfg ClientConfig
		loadClientEnvVars(&cfg)
		assert.Equal(t, ClientConfig{
			BackendURL:         "https://edulab.example.org",
			ExtensionID:        "ext-a",
			GoogleClientID:     "client.apps.googleusercontent.com",
			GoogleClientSecret: "shh",
			SessionStore:       "file",
			AllowedDomains:     []string{"vu.nl", "student.vu.nl"},
		}, cfg)
	})

	t.Run("flags win", func(t *testing.T) {
		t.Setenv("EDULAB_BACKEND_URL", "https://edulab.example.org")
		cfg := ClientConfig{BackendURL: "http://localhost:4000"}
		loadClientEnvVars(&cfg)
		assert.Equal(t, "http://localhost:4000", cfg.BackendURL)
	})
}

func TestPageReader(t *testing.T) {
	dir := t.TempDir()
	lecture := filepath.Join(dir, "lecture.md")
	require.NoError(t, os.WriteFile(lecture, []byte("\n  Photosynthesis converts light.  \n"), 0600))
	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte(" \n"), 0600))
	binary := filepath.Join(dir, "image.bin")
	require.NoError(t, os.WriteFile(binary, []byte{0xff, 0xfe, 0x00}, 0600))

	read := pageReader(strings.NewReader("Cells divide by mitosis."))

	t.Run("file", func(t *testing.T) {
		page, err := read(context.Background(), messages.GetPageContent{Source: lecture})
		require.NoError(t, err)
		assert.Equal(t, "lecture.md", page.Title)
		assert.True(t, strings.HasPrefix(page.URL, "file://"))
		assert.Equal(t, "Photosynthesis converts light.", page.Text)
	})

	t.Run("stdin", func(t *testing.T) {
		page, err := read(context.Background(), messages.GetPageContent{Source: "-"})
		require.NoError(t, err)
		assert.Equal(t, messages.PageContent{Title: "stdin", Text: "Cells divide by mitosis."}, page)
	})

	for name, source := range map[string]string{
		"missing file": filepath.Join(dir, "missing.txt"),
		"empty file":   empty,
		"binary file":  binary,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := read(context.Background(), messages.GetPageContent{Source: source})
			assert.Error(t, err)
		})
	}
}

func TestSetPreference(t *testing.T) {
	store := &session.PreferencesStore{Path: filepath.Join(t.TempDir(), "edulab", "preferences.json")}

	require.NoError(t, setPreference(store, "language", "Dutch"))
	require.NoError(t, setPreference(store, "floatingIcon.x", "120"))
	assert.Error(t, setPreference(store, "language", "french"))
	assert.Error(t, setPreference(store, "theme", "dark"))

	prefs, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, session.LanguageDutch, prefs.Language)
	assert.Equal(t, 120, prefs.FloatingIcon.X)
	assert.True(t, prefs.ShowFloatingPopup)
}

func TestClientAppBus(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	app, err := newClientApp(context.Background(), ClientConfig{SessionStore: session.StoreMemory}, strings.NewReader("Course notes"))
	require.NoError(t, err)
	defer app.Close()

	status, err := messages.Send[messages.CheckAuth, messages.AuthStatus](context.Background(), app.bus, messages.KindCheckAuth, messages.CheckAuth{})
	require.NoError(t, err)
	assert.False(t, status.Authenticated)

	page, err := messages.Send[messages.GetPageContent, messages.PageContent](context.Background(), app.bus, messages.KindGetPageContent, messages.GetPageContent{})
	require.NoError(t, err)
	assert.Equal(t, "Course notes", page.Text)

	assert.Equal(t, session.LanguageEnglish, app.language())
}
