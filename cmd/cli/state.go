package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// stateFile is the credential and pinned tenant kept between invocations.
type stateFile struct {
	Token    string `json:"token,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
}

func statePath() string {
	if p := os.Getenv("FLEETDESK_SESSION"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fleetdesk", "session.json")
}

func loadState() (*stateFile, error) {
	var st stateFile
	data, err := os.ReadFile(statePath())
	if errors.Is(err, os.ErrNotExist) {
		return &st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("corrupt session file %s: %w", statePath(), err)
	}
	return &st, nil
}

func (s *stateFile) save() error {
	path := statePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func removeState() error {
	err := os.Remove(statePath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
