// Package secrets resolves credentials referenced by agent profiles, such as
// the basic-auth username and password for a tool server.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a named secret cannot be resolved.
var ErrNotFound = errors.New("secret not found")

// Credentials is a username/password pair.
type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Store resolves named credentials.
type Store interface {
	// BasicCredentials returns the credentials stored under name.
	// Returns ErrNotFound when the secret does not exist.
	BasicCredentials(ctx context.Context, name string) (Credentials, error)
}

// FileStore reads one YAML credentials document per secret from a directory.
// The secret "tool-server-auth" maps to <dir>/tool-server-auth.yaml.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) BasicCredentials(_ context.Context, name string) (Credentials, error) {
	if name == "" || name != filepath.Base(name) {
		return Credentials{}, fmt.Errorf("invalid secret name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name+".yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return Credentials{}, fmt.Errorf("read secret %s: %w", name, err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("parse secret %s: %w", name, err)
	}
	if creds.Username == "" || creds.Password == "" {
		return Credentials{}, fmt.Errorf("secret %s is missing username or password", name)
	}
	return creds, nil
}

// EnvStore resolves credentials from environment variables. The secret
// "tool-server-auth" maps to SHEPHERD_SECRET_TOOL_SERVER_AUTH_USERNAME and
// SHEPHERD_SECRET_TOOL_SERVER_AUTH_PASSWORD.
type EnvStore struct{}

func (EnvStore) BasicCredentials(_ context.Context, name string) (Credentials, error) {
	key := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
	creds := Credentials{
		Username: os.Getenv("SHEPHERD_SECRET_" + key + "_USERNAME"),
		Password: os.Getenv("SHEPHERD_SECRET_" + key + "_PASSWORD"),
	}
	if creds.Username == "" || creds.Password == "" {
		return Credentials{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return creds, nil
}

// Chain tries each store in order, returning the first hit.
type Chain []Store

func (c Chain) BasicCredentials(ctx context.Context, name string) (Credentials, error) {
	for _, store := range c {
		creds, err := store.BasicCredentials(ctx, name)
		if err == nil {
			return creds, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Credentials{}, err
		}
	}
	return Credentials{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}
