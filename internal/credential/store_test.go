package credential

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"
)

func writeKeyFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolve_keyFileJSON(t *testing.T) {
	path := writeKeyFile(t, "keys.json", `{"openai": "sk-file-123", "Anthropic": "sk-file-456"}`)
	s := New(Config{KeyFilePath: path, UseEnvVars: true})

	secret, src, err := s.Resolve("openai")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if secret != "sk-file-123" || src != SourceKeyFile {
		t.Errorf("got (%q, %q), want (sk-file-123, key_file)", secret, src)
	}

	// Case-insensitive lookup.
	secret, _, err = s.Resolve("ANTHROPIC")
	if err != nil {
		t.Fatalf("Resolve upper-case: %v", err)
	}
	if secret != "sk-file-456" {
		t.Errorf("got %q, want sk-file-456", secret)
	}
}

func TestResolve_keyFileDotenv(t *testing.T) {
	path := writeKeyFile(t, "keys.env", "OPENAI=sk-env-file\n# comment\nOTHER=x\n")
	s := New(Config{KeyFilePath: path})

	secret, src, err := s.Resolve("openai")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if secret != "sk-env-file" || src != SourceKeyFile {
		t.Errorf("got (%q, %q), want (sk-env-file, key_file)", secret, src)
	}
}

func TestResolve_fileWinsOverEnv(t *testing.T) {
	path := writeKeyFile(t, "keys.json", `{"svc": "from-file"}`)
	t.Setenv("AGENTVAULT_KEY_SVC", "from-env")
	s := New(Config{KeyFilePath: path, UseEnvVars: true})

	secret, src, err := s.Resolve("svc")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if secret != "from-file" || src != SourceKeyFile {
		t.Errorf("got (%q, %q), want file to win over env", secret, src)
	}
}

func TestResolve_envFallback(t *testing.T) {
	t.Setenv("AGENTVAULT_KEY_MISTRAL", "sk-env-only")
	s := New(Config{UseEnvVars: true})

	secret, src, err := s.Resolve("mistral")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if secret != "sk-env-only" || src != SourceEnv {
		t.Errorf("got (%q, %q), want (sk-env-only, env)", secret, src)
	}
}

func TestResolve_keyringOnDemand(t *testing.T) {
	s := New(Config{UseEnvVars: true, UseKeyring: true})
	s.keyringGet = func(service, user string) (string, error) {
		if service != "agentvault" || user != "vaulted" {
			return "", keyring.ErrNotFound
		}
		return "sk-ring", nil
	}

	secret, src, err := s.Resolve("vaulted")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if secret != "sk-ring" || src != SourceKeyring {
		t.Errorf("got (%q, %q), want (sk-ring, keyring)", secret, src)
	}
}

func TestResolve_keyringBackendUnavailable(t *testing.T) {
	s := New(Config{UseKeyring: true})
	s.keyringGet = func(service, user string) (string, error) {
		return "", errors.New("no dbus session")
	}

	_, _, err := s.Resolve("anything")
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestResolve_notFound(t *testing.T) {
	s := New(Config{UseEnvVars: true})
	_, _, err := s.Resolve("no-such-service")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResolveOAuth_env(t *testing.T) {
	t.Setenv("AGENTVAULT_OAUTH_ACME_CLIENT_ID", "cid-1")
	t.Setenv("AGENTVAULT_OAUTH_ACME_CLIENT_SECRET", "cs-1")
	s := New(Config{UseEnvVars: true})

	id, secret, src, err := s.ResolveOAuth("acme")
	if err != nil {
		t.Fatalf("ResolveOAuth: %v", err)
	}
	if id != "cid-1" || secret != "cs-1" || src != SourceEnv {
		t.Errorf("got (%q, %q, %q)", id, secret, src)
	}
}

func TestResolveOAuth_pairMustBeComplete(t *testing.T) {
	t.Setenv("AGENTVAULT_OAUTH_HALF_CLIENT_ID", "cid-only")
	s := New(Config{UseEnvVars: true})

	if _, _, _, err := s.ResolveOAuth("half"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for incomplete pair", err)
	}
}

func TestResolveOAuth_keyFile(t *testing.T) {
	path := writeKeyFile(t, "keys.json",
		`{"acme_client_id": "cid-f", "acme_client_secret": "cs-f"}`)
	s := New(Config{KeyFilePath: path})

	id, secret, src, err := s.ResolveOAuth("acme")
	if err != nil {
		t.Fatalf("ResolveOAuth: %v", err)
	}
	if id != "cid-f" || secret != "cs-f" || src != SourceKeyFile {
		t.Errorf("got (%q, %q, %q)", id, secret, src)
	}
}
