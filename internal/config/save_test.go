package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveRepositories_NewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	repos := []RepositoryConfig{
		{Name: "central", URL: "https://x/r.xml", Expiration: 10 * time.Minute, Tolerant: true, ReferralDepth: 1},
		{Name: "local", URL: "r.xml", Watch: true},
	}
	require.NoError(t, SaveRepositories(path, repos))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	cfg := loadYAML(t, string(data))
	assert.Equal(t, repos, cfg.Repositories)
}

func TestSaveRepositories_PreservesOtherSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	require.NoError(t, SaveRepositories(path, []RepositoryConfig{{Name: "a", URL: "a.xml"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "# How repositories are combined")
	assert.Contains(t, content, "failure_policy: propagate")

	cfg := loadYAML(t, content)
	require.Len(t, cfg.Repositories, 1)
	assert.Equal(t, "a", cfg.Repositories[0].Name)
	assert.True(t, cfg.Document.Strict)
}

func TestSaveRepositories_AppendsMissingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serve:\n  addr: :9000\n"), 0o600))

	require.NoError(t, SaveRepositories(path, []RepositoryConfig{{Name: "a", URL: "a.xml"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	cfg := loadYAML(t, string(data))
	assert.Equal(t, ":9000", cfg.Serve.Addr)
	assert.Len(t, cfg.Repositories, 1)
}

func TestSaveRepositories_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("repositories: [\n"), 0o600))

	require.ErrorContains(t, SaveRepositories(path, nil), "parsing config")
}

func TestAddAndRemoveRepository(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	existing := []RepositoryConfig{{Name: "a", URL: "a.xml"}}

	require.NoError(t, AddRepository(path, RepositoryConfig{Name: "b", URL: "https://x/b.xml"}, existing))
	require.ErrorContains(t, AddRepository(path, RepositoryConfig{Name: "a", URL: "c.xml"}, existing), "duplicate")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	cfg := loadYAML(t, string(data))
	require.Len(t, cfg.Repositories, 2)

	require.NoError(t, RemoveRepository(path, "a", cfg.Repositories))
	require.ErrorContains(t, RemoveRepository(path, "zzz", cfg.Repositories), "not found")

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	cfg = loadYAML(t, string(data))
	require.Len(t, cfg.Repositories, 1)
	assert.Equal(t, "b", cfg.Repositories[0].Name)
}
