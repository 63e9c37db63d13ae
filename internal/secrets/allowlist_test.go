package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempAllowlist(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "allowlist.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAllowlists(t *testing.T) {
	t.Run("missing files are skipped", func(t *testing.T) {
		al, err := LoadAllowlists(t.TempDir(), filepath.Join(t.TempDir(), "nope.toml"))
		require.NoError(t, err)
		assert.Empty(t, al.Paths)
		assert.Empty(t, al.Regexes)
	})

	t.Run("empty locations are skipped", func(t *testing.T) {
		al, err := LoadAllowlists("", "")
		require.NoError(t, err)
		assert.Empty(t, al.Regexes)
	})

	t.Run("merges project and user lists", func(t *testing.T) {
		projectDir := t.TempDir()
		project := filepath.Join(projectDir, ProjectAllowlistName)
		require.NoError(t, os.WriteFile(project, []byte(`
[allowlist]
paths = ["testdata/.*"]
regexes = ["EXAMPLE_KEY"]
`), 0o644))

		user := writeTempAllowlist(t, `
[allowlist]
regexes = ["DEMO_TOKEN"]
`)

		al, err := LoadAllowlists(projectDir, user)
		require.NoError(t, err)
		assert.Equal(t, []string{"testdata/.*"}, al.Paths)
		assert.Equal(t, []string{"EXAMPLE_KEY", "DEMO_TOKEN"}, al.Regexes)
	})

	t.Run("invalid TOML", func(t *testing.T) {
		path := writeTempAllowlist(t, "[allowlist\nbroken")
		_, err := LoadAllowlists("", path)
		assert.ErrorIs(t, err, ErrInvalidTOML)
	})

	t.Run("invalid regex", func(t *testing.T) {
		path := writeTempAllowlist(t, `
[allowlist]
regexes = ["[unclosed"]
`)
		_, err := LoadAllowlists("", path)
		assert.ErrorIs(t, err, ErrInvalidRegex)
	})
}

func TestScrubWithAllowlist(t *testing.T) {
	// The allowlisted fragment appears inside the key value, so both the
	// regex and the derived stopword suppress it.
	allowedKey := "sk-proj-demoallowedkey000111222333444555666777"
	path := writeTempAllowlist(t, `
[allowlist]
regexes = ["demoallowedkey"]
`)

	s, err := New(Config{Enabled: true, AllowlistPath: path}, nil)
	require.NoError(t, err)

	content := "allowed: " + allowedKey + "\nreal: " + sampleKey + "\n"
	result := s.Scrub(content)

	assert.Contains(t, result.Scrubbed, allowedKey, "allowlisted key must survive")
	assert.NotContains(t, result.Scrubbed, sampleKey, "real key must be redacted")
}
