// Package config resolves the connection profile for a cloudbuilder
// session by merging the project configuration file with environment
// variables. Project-file values win over the environment; the merged
// profile is immutable for the lifetime of the session.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ProjectFileName is the well-known project configuration file, looked
// up directly under the project root.
const ProjectFileName = ".cloudbuilder.json"

// SyncRulesFileName is the filter rules file, looked up under the local
// root at sync time.
const SyncRulesFileName = ".sync_rules"

// EnvFunc looks up an environment variable by its exact name.
type EnvFunc func(key string) string

// OSEnv is the default environment source.
var OSEnv EnvFunc = os.Getenv

// ConfigError reports malformed configuration input, such as a project
// file that is not valid JSON or carries unknown keys. Missing optional
// fields are not errors; they surface through Missing().
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// projectFile mirrors .cloudbuilder.json. Unknown keys are rejected so
// typos fail at resolution time rather than at point of use.
type projectFile struct {
	RemoteHostName string `json:"REMOTE_HOST_NAME"`
	RcloneExePath  string `json:"RCLONE_EXE_PATH"`
	LocalPath      string `json:"LOCAL_PATH"`
	RemotePath     string `json:"REMOTE_PATH"`
	BuildCommand   string `json:"BUILD_COMMAND"`
}

// Profile is the resolved connection profile. Construct it once per
// session with Resolve; never mutate it afterwards.
type Profile struct {
	// RemoteAlias names the rclone remote; it must match an entry in
	// rclone.conf exactly (case-sensitive).
	RemoteAlias string

	// LocalRoot and RemoteRoot define the path mapping domain.
	LocalRoot  string
	RemoteRoot string

	// BuildCommand is the remote build command, empty when unset.
	BuildCommand string

	// RclonePath is an explicit rclone executable path; empty means
	// "rclone" from PATH.
	RclonePath string

	// ProjectPath is the directory the project file was searched in.
	ProjectPath string
}

// Missing returns the required fields that are empty, in a stable order.
func (p *Profile) Missing() []string {
	var missing []string
	if p.RemoteAlias == "" {
		missing = append(missing, "REMOTE_HOST_NAME")
	}
	if p.LocalRoot == "" {
		missing = append(missing, "LOCAL_PATH")
	}
	if p.RemoteRoot == "" {
		missing = append(missing, "REMOTE_PATH")
	}
	return missing
}

// Complete reports whether the profile can serve state-mutating
// operations (sync, upload, exec). Incomplete profiles still answer
// read-only introspection.
func (p *Profile) Complete() bool { return len(p.Missing()) == 0 }

// RequireComplete returns a ConfigError naming the missing fields when
// the profile cannot serve mutating operations.
func (p *Profile) RequireComplete() error {
	if missing := p.Missing(); len(missing) > 0 {
		return &ConfigError{Err: fmt.Errorf("profile incomplete, missing %s", strings.Join(missing, ", "))}
	}
	return nil
}

// Resolve builds a Profile from the project file under projectPath
// merged over env. An empty projectPath, a projectPath containing an
// unexpanded placeholder like ${workspaceFolder}, or a missing project
// file all fall back to the environment alone. Resolve is a pure
// function of the file and environment state.
func Resolve(projectPath string, env EnvFunc) (*Profile, error) {
	if env == nil {
		env = OSEnv
	}

	file, usedPath, err := loadProjectFile(projectPath)
	if err != nil {
		return nil, err
	}

	pick := func(fileVal, envKey string) string {
		if fileVal != "" {
			return fileVal
		}
		return env(envKey)
	}

	return &Profile{
		RemoteAlias:  pick(file.RemoteHostName, "REMOTE_HOST_NAME"),
		LocalRoot:    pick(file.LocalPath, "LOCAL_PATH"),
		RemoteRoot:   pick(file.RemotePath, "REMOTE_PATH"),
		BuildCommand: pick(file.BuildCommand, "BUILD_COMMAND"),
		RclonePath:   pick(file.RcloneExePath, "RCLONE_EXE_PATH"),
		ProjectPath:  usedPath,
	}, nil
}

// loadProjectFile reads .cloudbuilder.json under projectPath. A missing
// file is not an error; malformed JSON or unknown keys are.
func loadProjectFile(projectPath string) (projectFile, string, error) {
	var pf projectFile

	if projectPath == "" {
		return pf, "", nil
	}
	// IDE variable placeholders mean the launcher never substituted the
	// project directory; treat as unset.
	if strings.Contains(projectPath, "${") || strings.Contains(projectPath, "$(") {
		return pf, "", nil
	}

	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return pf, "", nil
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return pf, "", nil
	}

	path := filepath.Join(abs, ProjectFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return pf, abs, nil
	}
	if err != nil {
		return pf, abs, &ConfigError{Path: path, Err: err}
	}

	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&pf); err != nil {
		return projectFile{}, abs, &ConfigError{Path: path, Err: err}
	}
	return pf, abs, nil
}
