// Package credential resolves secrets for external services through an
// ordered chain of sources: key file, process environment, OS keyring.
//
// The first source that produces a non-empty value wins, and the store
// reports which source it was. The keyring is only consulted on demand so
// that headless deployments without a secret-service backend keep working
// as long as their secrets come from a file or the environment.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
)

// Source identifies where a secret was resolved from.
type Source string

const (
	SourceKeyFile Source = "key_file"
	SourceEnv     Source = "env"
	SourceKeyring Source = "keyring"
)

// keyringService is the service name used for OS keyring entries.
const keyringService = "agentvault"

var (
	// ErrNotFound is returned when no configured source holds the secret.
	ErrNotFound = errors.New("credential not found in any configured source")

	// ErrSourceUnavailable is returned when the keyring is requested but
	// the platform backend cannot be opened.
	ErrSourceUnavailable = errors.New("credential source unavailable")
)

// Config controls which sources the store consults and how env lookups
// are prefixed.
type Config struct {
	KeyFilePath    string
	UseEnvVars     bool
	UseKeyring     bool
	EnvPrefix      string // default "AGENTVAULT_KEY_"
	OAuthEnvPrefix string // default "AGENTVAULT_OAUTH_"
}

// Store resolves secrets by service identifier.
type Store struct {
	cfg Config

	loadOnce sync.Once
	fileKeys map[string]string
	loadErr  error

	// keyringGet is swappable for tests; defaults to keyring.Get.
	keyringGet func(service, user string) (string, error)
}

// New creates a Store. Zero-value prefixes are filled with the defaults.
func New(cfg Config) *Store {
	if cfg.EnvPrefix == "" {
		cfg.EnvPrefix = "AGENTVAULT_KEY_"
	}
	if cfg.OAuthEnvPrefix == "" {
		cfg.OAuthEnvPrefix = "AGENTVAULT_OAUTH_"
	}
	return &Store{cfg: cfg, keyringGet: keyring.Get}
}

// Resolve returns the secret for serviceID and the source it came from.
// Sources are tried in order: key file, environment, keyring.
func (s *Store) Resolve(serviceID string) (string, Source, error) {
	if serviceID == "" {
		return "", "", fmt.Errorf("service id is required")
	}
	norm := normalize(serviceID)

	if s.cfg.KeyFilePath != "" {
		keys, err := s.fileEntries()
		if err != nil {
			return "", "", err
		}
		if v, ok := keys[norm]; ok && v != "" {
			return v, SourceKeyFile, nil
		}
	}

	if s.cfg.UseEnvVars {
		if v := os.Getenv(s.cfg.EnvPrefix + strings.ToUpper(norm)); v != "" {
			return v, SourceEnv, nil
		}
	}

	if s.cfg.UseKeyring {
		v, err := s.keyringGet(keyringService, norm)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return "", "", fmt.Errorf("%w: %s", ErrNotFound, serviceID)
			}
			return "", "", fmt.Errorf("%w: keyring: %v", ErrSourceUnavailable, err)
		}
		if v != "" {
			return v, SourceKeyring, nil
		}
	}

	return "", "", fmt.Errorf("%w: %s", ErrNotFound, serviceID)
}

// ResolveOAuth returns the (client_id, client_secret) pair for serviceID.
// File entries use the keys "{service}_client_id" / "{service}_client_secret";
// env lookups use "{OAuthEnvPrefix}{SERVICE}_CLIENT_ID" / "..._CLIENT_SECRET".
// Both halves must come from the same source.
func (s *Store) ResolveOAuth(serviceID string) (clientID, clientSecret string, src Source, err error) {
	if serviceID == "" {
		return "", "", "", fmt.Errorf("service id is required")
	}
	norm := normalize(serviceID)

	if s.cfg.KeyFilePath != "" {
		keys, ferr := s.fileEntries()
		if ferr != nil {
			return "", "", "", ferr
		}
		id, secret := keys[norm+"_client_id"], keys[norm+"_client_secret"]
		if id != "" && secret != "" {
			return id, secret, SourceKeyFile, nil
		}
	}

	if s.cfg.UseEnvVars {
		upper := strings.ToUpper(norm)
		id := os.Getenv(s.cfg.OAuthEnvPrefix + upper + "_CLIENT_ID")
		secret := os.Getenv(s.cfg.OAuthEnvPrefix + upper + "_CLIENT_SECRET")
		if id != "" && secret != "" {
			return id, secret, SourceEnv, nil
		}
	}

	if s.cfg.UseKeyring {
		id, idErr := s.keyringGet(keyringService, norm+"_client_id")
		secret, secErr := s.keyringGet(keyringService, norm+"_client_secret")
		if idErr == nil && secErr == nil && id != "" && secret != "" {
			return id, secret, SourceKeyring, nil
		}
		for _, e := range []error{idErr, secErr} {
			if e != nil && !errors.Is(e, keyring.ErrNotFound) {
				return "", "", "", fmt.Errorf("%w: keyring: %v", ErrSourceUnavailable, e)
			}
		}
	}

	return "", "", "", fmt.Errorf("%w: oauth credentials for %s", ErrNotFound, serviceID)
}

// fileEntries loads and caches the key file. The file may be JSON
// ({"service": "secret", ...}) or dotenv (SERVICE=secret per line);
// the format is detected from the first non-space byte.
func (s *Store) fileEntries() (map[string]string, error) {
	s.loadOnce.Do(func() {
		data, err := os.ReadFile(s.cfg.KeyFilePath)
		if err != nil {
			s.loadErr = fmt.Errorf("read key file %s: %w", s.cfg.KeyFilePath, err)
			return
		}

		entries := make(map[string]string)
		trimmed := strings.TrimSpace(string(data))
		if strings.HasPrefix(trimmed, "{") {
			var raw map[string]string
			if err := json.Unmarshal(data, &raw); err != nil {
				s.loadErr = fmt.Errorf("parse key file %s: %w", s.cfg.KeyFilePath, err)
				return
			}
			for k, v := range raw {
				entries[normalize(k)] = v
			}
		} else {
			raw, err := godotenv.Unmarshal(string(data))
			if err != nil {
				s.loadErr = fmt.Errorf("parse key file %s: %w", s.cfg.KeyFilePath, err)
				return
			}
			for k, v := range raw {
				entries[normalize(k)] = v
			}
		}
		s.fileKeys = entries
	})
	return s.fileKeys, s.loadErr
}

// normalize lower-cases a service identifier for case-insensitive lookup.
func normalize(serviceID string) string {
	return strings.ToLower(strings.TrimSpace(serviceID))
}
