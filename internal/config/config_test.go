package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) EnvFunc {
	return func(key string) string { return m[key] }
}

func writeProjectFile(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName), []byte(body), 0o644))
}

func TestResolve_EnvironmentOnly(t *testing.T) {
	profile, err := Resolve("", envMap(map[string]string{
		"REMOTE_HOST_NAME": "buildbox",
		"LOCAL_PATH":       "/home/me/project",
		"REMOTE_PATH":      "/home/dev/project",
		"BUILD_COMMAND":    "make all",
	}))
	require.NoError(t, err)

	assert.Equal(t, "buildbox", profile.RemoteAlias)
	assert.Equal(t, "/home/me/project", profile.LocalRoot)
	assert.Equal(t, "/home/dev/project", profile.RemoteRoot)
	assert.Equal(t, "make all", profile.BuildCommand)
	assert.Empty(t, profile.RclonePath)
	assert.True(t, profile.Complete())
}

func TestResolve_ProjectFileWinsOverEnvironment(t *testing.T) {
	dir := t.TempDir()
	writeProjectFile(t, dir, `{
		"REMOTE_HOST_NAME": "from-file",
		"LOCAL_PATH": "/file/local"
	}`)

	profile, err := Resolve(dir, envMap(map[string]string{
		"REMOTE_HOST_NAME": "from-env",
		"LOCAL_PATH":       "/env/local",
		"REMOTE_PATH":      "/env/remote",
	}))
	require.NoError(t, err)

	assert.Equal(t, "from-file", profile.RemoteAlias)
	assert.Equal(t, "/file/local", profile.LocalRoot)
	assert.Equal(t, "/env/remote", profile.RemoteRoot, "env fills fields the file omits")
	assert.Equal(t, dir, profile.ProjectPath)
}

func TestResolve_MissingProjectFileFallsBackToEnv(t *testing.T) {
	dir := t.TempDir()

	profile, err := Resolve(dir, envMap(map[string]string{"REMOTE_HOST_NAME": "env-host"}))
	require.NoError(t, err)
	assert.Equal(t, "env-host", profile.RemoteAlias)
	assert.Equal(t, dir, profile.ProjectPath)
}

func TestResolve_PlaceholderProjectPathIsIgnored(t *testing.T) {
	for _, path := range []string{"${workspaceFolder}", "$(ProjectDir)", "/tmp/${env:HOME}"} {
		profile, err := Resolve(path, envMap(map[string]string{"REMOTE_HOST_NAME": "h"}))
		require.NoError(t, err, "path %s", path)
		assert.Empty(t, profile.ProjectPath)
		assert.Equal(t, "h", profile.RemoteAlias)
	}
}

func TestResolve_MalformedJSON(t *testing.T) {
	dir := t.TempDir()
	writeProjectFile(t, dir, `{not json`)

	_, err := Resolve(dir, envMap(nil))
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Path, ProjectFileName)
}

func TestResolve_UnknownKeysRejected(t *testing.T) {
	dir := t.TempDir()
	writeProjectFile(t, dir, `{"REMOTE_HOST": "typo"}`)

	_, err := Resolve(dir, envMap(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REMOTE_HOST")
}

func TestProfileMissing(t *testing.T) {
	p := &Profile{}
	assert.Equal(t, []string{"REMOTE_HOST_NAME", "LOCAL_PATH", "REMOTE_PATH"}, p.Missing())
	assert.False(t, p.Complete())

	p.RemoteAlias = "h"
	p.LocalRoot = "/l"
	assert.Equal(t, []string{"REMOTE_PATH"}, p.Missing())

	p.RemoteRoot = "/r"
	assert.True(t, p.Complete())
	assert.NoError(t, p.RequireComplete())

	// BuildCommand is optional for completeness.
	assert.Empty(t, p.BuildCommand)
}

func TestRequireComplete_NamesMissingFields(t *testing.T) {
	p := &Profile{LocalRoot: "/l"}
	err := p.RequireComplete()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REMOTE_HOST_NAME")
	assert.Contains(t, err.Error(), "REMOTE_PATH")
	assert.NotContains(t, err.Error(), "LOCAL_PATH")
}
