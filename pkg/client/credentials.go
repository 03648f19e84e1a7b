package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// AgentCredentials holds the agent identity issued at onboarding. It is
// written to disk by 'avt onboard' and read back by NewFromCredentialsFile.
type AgentCredentials struct {
	// DID is the agent's decentralized identifier, did:cos:<uuid>.
	DID string `json:"did"`

	// ClientID identifies the agent at the OAuth2 token endpoint.
	ClientID string `json:"client_id"`

	// ClientSecret authenticates the agent. Keep this secret; the registry
	// stores only a hash and cannot recover it.
	ClientSecret string `json:"client_secret"`
}

// LoadCredentialsFile reads an agent credentials JSON file.
//
//	creds, err := client.LoadCredentialsFile(os.ExpandEnv("$HOME/.avt/credentials.json"))
func LoadCredentialsFile(path string) (*AgentCredentials, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var creds AgentCredentials
	if err := json.Unmarshal(b, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials %q: %w", path, err)
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("credentials %q are missing client_id or client_secret", path)
	}
	return &creds, nil
}

// SaveCredentialsFile writes agent credentials as owner-readable JSON,
// creating parent directories as needed.
func SaveCredentialsFile(path string, creds *AgentCredentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	b, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// NewFromCredentialsFile creates an agent-authenticated SDK client by
// loading the credentials written by 'avt onboard' from path.
//
// Additional options can be appended:
//
//	c, err := client.NewFromCredentialsFile(
//	    "https://registry.agentvault.io",
//	    os.ExpandEnv("$HOME/.avt/credentials.json"),
//	    client.WithTimeout(30*time.Second),
//	)
func NewFromCredentialsFile(baseURL, path string, opts ...Option) (*Client, error) {
	creds, err := LoadCredentialsFile(path)
	if err != nil {
		return nil, err
	}
	return New(baseURL, append([]Option{WithClientCredentials(creds.ClientID, creds.ClientSecret)}, opts...)...)
}

// WithCredentialsFile is the functional-option form of
// NewFromCredentialsFile. Use it when combining credential loading with
// other New() options:
//
//	c, err := client.New(baseURL,
//	    client.WithCredentialsFile(credsPath),
//	    client.WithTimeout(30*time.Second),
//	)
func WithCredentialsFile(path string) Option {
	return func(c *Client) error {
		creds, err := LoadCredentialsFile(path)
		if err != nil {
			return err
		}
		return WithClientCredentials(creds.ClientID, creds.ClientSecret)(c)
	}
}
