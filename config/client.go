package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultClientConfigPath = "~/.config/qbox/feed.toml"
	defaultServerURL        = "http://127.0.0.1:8080"
	defaultSort             = "newest"
)

// ClientConfig is the terminal feed client's configuration.
type ClientConfig struct {
	ServerURL string
	RoomCode  string
	// StudentTag is the pseudonymous identity; empty means generate one.
	StudentTag string
	// LecturerToken enables moderation keys when set.
	LecturerToken string
	Sort          string
}

// LoadClient parses the TOML client config at path, falling back to defaults when the file is missing.
func LoadClient(path string) (ClientConfig, error) {
	cfg := ClientConfig{ServerURL: defaultServerURL, Sort: defaultSort}

	resolved, err := expandPath(path, defaultClientConfigPath)
	if err != nil {
		return ClientConfig{}, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return ClientConfig{}, fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		ServerURL     string `toml:"server_url"`
		RoomCode      string `toml:"room_code"`
		StudentTag    string `toml:"student_tag"`
		LecturerToken string `toml:"lecturer_token"`
		Sort          string `toml:"sort"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return ClientConfig{}, fmt.Errorf("parse config: %w", err)
	}

	if v := strings.TrimRight(strings.TrimSpace(raw.ServerURL), "/"); v != "" {
		cfg.ServerURL = v
	}
	cfg.RoomCode = strings.ToUpper(strings.TrimSpace(raw.RoomCode))
	cfg.StudentTag = strings.TrimSpace(raw.StudentTag)
	cfg.LecturerToken = strings.TrimSpace(raw.LecturerToken)
	switch s := strings.TrimSpace(raw.Sort); s {
	case "newest", "oldest", "upvotes":
		cfg.Sort = s
	case "":
	default:
		return ClientConfig{}, fmt.Errorf("parse config: unknown sort %q", s)
	}
	return cfg, nil
}

func expandPath(path, fallback string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = fallback
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
