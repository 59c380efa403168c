// Package identity keeps the per-profile client identity on disk.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/cwrk-planet/pad/internal/domain"
)

// LoadOrCreate returns the identity stored at path, creating and saving a new
// one when the file does not exist. A file with an empty id is replaced; an
// empty label is filled in and saved.
func LoadOrCreate(path string) (domain.Identity, error) {
	id, err := load(path)
	switch {
	case err == nil && id.ID != "":
		if id.Label != "" {
			return id, nil
		}
		id.Label = guestLabel(id.ID)
	case err == nil, errors.Is(err, os.ErrNotExist):
		id = New()
	default:
		return domain.Identity{}, err
	}

	if err := save(path, id); err != nil {
		return domain.Identity{}, err
	}
	return id, nil
}

// New generates a fresh identity with a guest label derived from the id.
func New() domain.Identity {
	id := uuid.NewString()
	return domain.Identity{ID: id, Label: guestLabel(id)}
}

func guestLabel(id string) string {
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 4 {
		short = short[:4]
	}
	return "guest-" + short
}

func load(path string) (domain.Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Identity{}, err
	}
	var id domain.Identity
	if err := yaml.Unmarshal(data, &id); err != nil {
		return domain.Identity{}, fmt.Errorf("identity: parse %s: %w", path, err)
	}
	id.ID = strings.TrimSpace(id.ID)
	id.Label = strings.TrimSpace(id.Label)
	return id, nil
}

func save(path string, id domain.Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("identity: mkdir: %w", err)
	}
	data, err := yaml.Marshal(id)
	if err != nil {
		return fmt.Errorf("identity: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("identity: write %s: %w", path, err)
	}
	return nil
}
