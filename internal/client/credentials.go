package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const credFileName = "credentials.json"

// Credentials is what a signed-in CLI keeps between runs.
type Credentials struct {
	Token     string    `json:"token"`
	Email     string    `json:"email,omitempty"`
	Source    string    `json:"source"` // "env" | "file"
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// CredentialStore persists the session token in a file only its owner can
// read. A non-empty Override takes precedence over the file.
type CredentialStore struct {
	Path     string
	Override string
}

// DefaultCredentialStore stores credentials in ~/.veo/credentials.json.
func DefaultCredentialStore(override string) (*CredentialStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("home: %w", err)
	}
	return &CredentialStore{
		Path:     filepath.Join(home, ".veo", credFileName),
		Override: override,
	}, nil
}

// Load returns the stored credentials, or nil when signed out.
func (s *CredentialStore) Load() (*Credentials, error) {
	if token := stripBearer(strings.TrimSpace(s.Override)); token != "" {
		return &Credentials{Token: token, Source: "env"}, nil
	}

	b, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(b, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	creds.Token = stripBearer(creds.Token)
	if creds.Token == "" {
		return nil, nil
	}
	return &creds, nil
}

// Save writes creds with mode 0600, creating the directory with 0700.
func (s *CredentialStore) Save(creds Credentials) error {
	creds.Token = stripBearer(strings.TrimSpace(creds.Token))
	if creds.Token == "" {
		return errors.New("empty token")
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	creds.Source = "file"
	if creds.CreatedAt.IsZero() {
		creds.CreatedAt = time.Now()
	}
	b, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.WriteFile(s.Path, b, 0o600); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Delete removes the credentials file. A missing file is not an error.
func (s *CredentialStore) Delete() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}

func stripBearer(s string) string {
	if strings.HasPrefix(strings.ToLower(s), "bearer ") {
		return strings.TrimSpace(s[7:])
	}
	return s
}
