package rclone

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/ini.v1"
)

// Remote is one resolved remote definition from rclone.conf. Password
// is already revealed; callers must keep it out of logs and payloads.
type Remote struct {
	Name     string
	Type     string
	Host     string
	Port     int
	User     string
	Password string
}

// DefaultSSHPort applies when an sftp remote omits the port key.
const DefaultSSHPort = 22

// ConfigPath locates rclone.conf using the same search order rclone
// itself uses, so both tools always agree on which remotes exist.
func ConfigPath() (string, error) {
	if p := os.Getenv("RCLONE_CONFIG"); p != "" {
		return p, nil
	}

	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "rclone.conf"))
	}
	if appData := os.Getenv("APPDATA"); appData != "" {
		candidates = append(candidates, filepath.Join(appData, "rclone", "rclone.conf"))
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "rclone", "rclone.conf"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".config", "rclone", "rclone.conf"),
			filepath.Join(home, ".rclone.conf"),
		)
	}
	candidates = append(candidates, ".rclone.conf")

	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", errors.New("rclone.conf not found; run `rclone config` to create a remote")
}

// LookupRemote reads rclone.conf and returns the named remote with its
// password revealed. confPath may be empty, in which case the standard
// search order applies.
func LookupRemote(alias, confPath string) (*Remote, error) {
	if confPath == "" {
		var err error
		confPath, err = ConfigPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := ini.LoadSources(ini.LoadOptions{Insensitive: false}, confPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", confPath, err)
	}

	section, err := cfg.GetSection(alias)
	if err != nil {
		return nil, fmt.Errorf("remote %q not defined in %s", alias, confPath)
	}

	remote := &Remote{
		Name: alias,
		Type: section.Key("type").String(),
		Host: section.Key("host").String(),
		User: section.Key("user").String(),
		Port: DefaultSSHPort,
	}
	if raw := section.Key("port").String(); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("remote %q has invalid port %q", alias, raw)
		}
		remote.Port = port
	}
	if obscured := section.Key("pass").String(); obscured != "" {
		plain, err := Reveal(obscured)
		if err != nil {
			return nil, fmt.Errorf("remote %q: %w", alias, err)
		}
		remote.Password = plain
	}
	return remote, nil
}
