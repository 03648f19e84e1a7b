package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/agentvault/agentvault/internal/credential"
	"github.com/agentvault/agentvault/pkg/client"
	"github.com/agentvault/agentvault/pkg/did"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	registryURL string
	cfgFile     string
	credsFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "avt",
	Short: "AgentVault platform CLI",
	Long: `avt is the command-line interface for AgentVault.

It manages developer sessions, agent registrations, AVT token transfers,
and A2A tasks against an AgentVault registry.

Developer commands (login, whoami, agents, onboard) use the session saved
by 'avt login'. Agent commands (balance, transfer, transactions, task)
authenticate with OAuth client credentials, resolved in order from
--credentials, ~/.avt/credentials.json, and the shared credential store
(key file, AGENTVAULT_OAUTH_AVT_* environment variables, OS keyring).

Exit codes: 0 success, 1 failure, 2 task requires input or was canceled.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.avt")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if registryURL == "" {
			registryURL = viper.GetString("registry_url")
		}
		if registryURL == "" {
			registryURL = "https://registry.agentvault.io"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.avt/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&registryURL, "registry", "", "AgentVault registry URL (default https://registry.agentvault.io)")
	rootCmd.PersistentFlags().StringVar(&credsFile, "credentials", "", "agent credentials file (default ~/.avt/credentials.json)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(onboardCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(transactionsCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── clients ──────────────────────────────────────────────────────────────────

func avtDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".avt"), nil
}

// sessionClient builds a client authenticated with the developer session
// token saved by 'avt login'.
func sessionClient() (*client.Client, error) {
	dir, err := avtDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "session"))
	if err != nil {
		return nil, fmt.Errorf("not logged in: run 'avt login' first")
	}
	return client.New(registryURL, client.WithBearerToken(strings.TrimSpace(string(data))))
}

func saveSession(token string) error {
	dir, err := avtDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, "session")
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// agentClient builds a client authenticated with agent OAuth credentials.
// Resolution order: --credentials flag, ~/.avt/credentials.json, then the
// shared credential store (key file, environment, OS keyring).
func agentClient() (*client.Client, error) {
	if credsFile != "" {
		return client.NewFromCredentialsFile(registryURL, credsFile)
	}

	if dir, err := avtDir(); err == nil {
		path := filepath.Join(dir, "credentials.json")
		if _, err := os.Stat(path); err == nil {
			return client.NewFromCredentialsFile(registryURL, path)
		}
	}

	store := credential.New(credential.Config{
		KeyFilePath: viper.GetString("key_file"),
		UseEnvVars:  true,
		UseKeyring:  true,
	})
	clientID, clientSecret, _, err := store.ResolveOAuth("avt")
	if err != nil {
		return nil, fmt.Errorf("no agent credentials: run 'avt onboard', pass --credentials, or set AGENTVAULT_OAUTH_AVT_CLIENT_ID and AGENTVAULT_OAUTH_AVT_CLIENT_SECRET")
	}
	return client.New(registryURL, client.WithClientCredentials(clientID, clientSecret))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── login ────────────────────────────────────────────────────────────────────

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in as a developer and save the session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		stdin := bufio.NewReader(os.Stdin)
		if loginEmail == "" {
			fmt.Print("Email: ")
			line, _ := stdin.ReadString('\n')
			loginEmail = strings.TrimSpace(line)
		}
		if loginPassword == "" {
			fmt.Print("Password: ")
			line, _ := stdin.ReadString('\n')
			loginPassword = strings.TrimSpace(line)
		}
		if loginEmail == "" || loginPassword == "" {
			return fmt.Errorf("email and password are required")
		}

		c, err := client.New(registryURL)
		if err != nil {
			return err
		}
		ctx := context.Background()
		dev, err := c.Login(ctx, loginEmail, loginPassword)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		token, err := c.Token(ctx)
		if err != nil {
			return err
		}
		if err := saveSession(token); err != nil {
			return err
		}

		fmt.Printf("✓ Logged in as %s (%s)\n", dev.Name, dev.Email)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Developer account email (prompted when omitted)")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password (prompted when omitted)")
}

// ── whoami ───────────────────────────────────────────────────────────────────

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the developer account behind the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := sessionClient()
		if err != nil {
			return err
		}
		dev, err := c.Me(context.Background())
		if err != nil {
			return fmt.Errorf("fetch account: %w", err)
		}

		fmt.Printf("Name:  %s\n", dev.Name)
		fmt.Printf("Email: %s\n", dev.Email)
		fmt.Printf("Role:  %s\n", dev.Role)
		fmt.Printf("ID:    %s\n", dev.ID)
		return nil
	},
}

// ── keys ─────────────────────────────────────────────────────────────────────

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys for your developer account",
}

var (
	keysCreateName      string
	keysCreateScopes    string
	keysCreateExpiresIn time.Duration
)

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Mint a new API key",
	Long: `create mints a long-lived API key tied to your developer account.

The key is printed exactly once; the registry stores only a hash. Pass it
in the X-Api-Key header (or to automation via client.WithAPIKey) wherever
a developer session token would work:

  avt keys create --name "ci pipeline" --expires-in 2160h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := sessionClient()
		if err != nil {
			return err
		}

		var scopes []string
		for _, s := range strings.Split(keysCreateScopes, ",") {
			if s = strings.TrimSpace(s); s != "" {
				scopes = append(scopes, s)
			}
		}

		key, plain, err := c.CreateAPIKey(context.Background(), keysCreateName, scopes, keysCreateExpiresIn)
		if err != nil {
			return fmt.Errorf("create api key: %w", err)
		}

		fmt.Printf("✓ API key created\n\n")
		fmt.Printf("  %s\n\n", plain)
		fmt.Printf("  Key ID: %s\n", key.KeyID)
		if key.ExpiresAt != nil {
			fmt.Printf("  Expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
		}
		fmt.Println("\nStore it now; it cannot be shown again.")
		return nil
	},
}

var keysListFormat string

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := sessionClient()
		if err != nil {
			return err
		}
		keys, err := c.ListAPIKeys(context.Background())
		if err != nil {
			return fmt.Errorf("list api keys: %w", err)
		}

		if keysListFormat == "json" {
			return printJSON(keys)
		}
		if len(keys) == 0 {
			fmt.Println("No API keys.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PREFIX\tNAME\tSCOPES\tSTATUS\tCREATED\tID")
		for _, k := range keys {
			status := "active"
			switch {
			case k.RevokedAt != nil:
				status = "revoked"
			case k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now()):
				status = "expired"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				k.Prefix, k.Name, strings.Join(k.Scopes, ","), status,
				k.CreatedAt.Format("2006-01-02"), k.KeyID)
		}
		return w.Flush()
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := sessionClient()
		if err != nil {
			return err
		}
		if err := c.RevokeAPIKey(context.Background(), args[0]); err != nil {
			return fmt.Errorf("revoke api key: %w", err)
		}
		fmt.Printf("✓ API key %s revoked\n", args[0])
		return nil
	},
}

func init() {
	keysCreateCmd.Flags().StringVar(&keysCreateName, "name", "", "Human-readable key label")
	keysCreateCmd.Flags().StringVar(&keysCreateScopes, "scopes", "", "Comma-separated scope list")
	keysCreateCmd.Flags().DurationVar(&keysCreateExpiresIn, "expires-in", 0, "Key lifetime (e.g. 720h); no expiry when omitted")

	keysListCmd.Flags().StringVar(&keysListFormat, "format", "text", "Output format: text or json")

	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysRevokeCmd)
}

// ── onboard ──────────────────────────────────────────────────────────────────

var (
	onboardName   string
	onboardType   string
	onboardToken  string
	onboardOutput string
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Obtain agent OAuth credentials via the bootstrap flow",
	Long: `onboard registers a new agent under your account and exchanges a
single-use bootstrap token for its long-lived credentials (a DID plus an
OAuth client_id/client_secret pair).

Without --token it first requests a fresh bootstrap token using your
developer session, so run 'avt login' beforehand. The registry returns the
client_secret exactly once; onboard writes it to ~/.avt/credentials.json
(override with --output) with 0600 permissions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		token := onboardToken
		if token == "" {
			sc, err := sessionClient()
			if err != nil {
				return err
			}
			grant, err := sc.RequestBootstrapToken(ctx, onboardType)
			if err != nil {
				return fmt.Errorf("request bootstrap token: %w", err)
			}
			fmt.Printf("Bootstrap token issued (expires %s)\n", grant.ExpiresAt.Format(time.RFC3339))
			token = grant.Token
		}

		c, err := client.New(registryURL)
		if err != nil {
			return err
		}
		creds, err := c.Onboard(ctx, token, onboardName)
		if err != nil {
			return fmt.Errorf("onboard: %w", err)
		}

		output := onboardOutput
		if output == "" {
			dir, err := avtDir()
			if err != nil {
				return err
			}
			output = filepath.Join(dir, "credentials.json")
		}
		if err := client.SaveCredentialsFile(output, creds); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}

		fmt.Printf("✓ Agent onboarded\n\n")
		fmt.Printf("  DID:       %s\n", creds.DID)
		fmt.Printf("  Client ID: %s\n", creds.ClientID)
		fmt.Printf("  Saved to:  %s\n\n", output)
		fmt.Println("Next: avt balance to check the agent's ledger profile")
		return nil
	},
}

func init() {
	onboardCmd.Flags().StringVar(&onboardName, "name", "", "Name for the new agent (required)")
	onboardCmd.Flags().StringVar(&onboardType, "type", "", "Agent type recorded on the bootstrap token")
	onboardCmd.Flags().StringVar(&onboardToken, "token", "", "Pre-issued bootstrap token (skips the developer-session request)")
	onboardCmd.Flags().StringVar(&onboardOutput, "output", "", "Credentials output path (default ~/.avt/credentials.json)")
	onboardCmd.MarkFlagRequired("name") //nolint:errcheck
}

// ── agents ───────────────────────────────────────────────────────────────────

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage agents registered under your developer account",
}

var (
	agentsListFormat string
	agentsListLimit  int
	agentsListOffset int
)

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your registered agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := sessionClient()
		if err != nil {
			return err
		}
		agents, err := c.ListAgents(context.Background(), agentsListLimit, agentsListOffset)
		if err != nil {
			return fmt.Errorf("list agents: %w", err)
		}

		if agentsListFormat == "json" {
			return printJSON(agents)
		}
		if len(agents) == 0 {
			fmt.Println("No agents registered.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tSTATUS\tDID\tID")
		for _, a := range agents {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.Name, a.AgentType, a.Status, a.DID, a.ID)
		}
		return w.Flush()
	},
}

var agentsGetFormat string

var agentsGetCmd = &cobra.Command{
	Use:   "get <agent-id>",
	Short: "Show one agent card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := sessionClient()
		if err != nil {
			return err
		}
		a, err := c.GetAgent(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get agent: %w", err)
		}

		if agentsGetFormat == "json" {
			return printJSON(a)
		}
		fmt.Printf("Name:         %s\n", a.Name)
		fmt.Printf("DID:          %s\n", a.DID)
		fmt.Printf("Type:         %s\n", a.AgentType)
		fmt.Printf("Status:       %s\n", a.Status)
		if a.Description != "" {
			fmt.Printf("Description:  %s\n", a.Description)
		}
		if len(a.Capabilities) > 0 {
			fmt.Printf("Capabilities: %s\n", strings.Join(a.Capabilities, ", "))
		}
		if len(a.Endpoints) > 0 {
			fmt.Printf("Endpoints:    %s\n", strings.Join(a.Endpoints, ", "))
		}
		fmt.Printf("ID:           %s\n", a.ID)
		fmt.Printf("Created:      %s\n", a.CreatedAt.Format(time.RFC3339))
		return nil
	},
}

var (
	agentsRegName         string
	agentsRegType         string
	agentsRegDescription  string
	agentsRegEndpoint     string
	agentsRegCapabilities string
)

var agentsRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new agent under your developer account",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := sessionClient()
		if err != nil {
			return err
		}

		reg := client.AgentRegistration{
			Name:        agentsRegName,
			Description: agentsRegDescription,
			AgentType:   agentsRegType,
			Endpoints:   []string{agentsRegEndpoint},
			AuthSchemes: []client.AuthScheme{{Scheme: "none"}},
		}
		for _, capability := range strings.Split(agentsRegCapabilities, ",") {
			if capability = strings.TrimSpace(capability); capability != "" {
				reg.Capabilities = append(reg.Capabilities, capability)
			}
		}

		a, err := c.RegisterAgent(context.Background(), reg)
		if err != nil {
			return fmt.Errorf("register agent: %w", err)
		}

		fmt.Printf("✓ Agent registered\n\n")
		fmt.Printf("  DID: %s\n", a.DID)
		fmt.Printf("  ID:  %s\n\n", a.ID)
		fmt.Println("Next: avt onboard to issue OAuth credentials for an agent")
		return nil
	},
}

var agentsDeleteForce bool

var agentsDeleteCmd = &cobra.Command{
	Use:   "delete <agent-id>",
	Short: "Delete an agent registration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := sessionClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		a, err := c.GetAgent(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get agent: %w", err)
		}

		fmt.Printf("\nAgent to delete:\n\n")
		fmt.Printf("  Name:   %s\n", a.Name)
		fmt.Printf("  DID:    %s\n", a.DID)
		fmt.Printf("  Status: %s\n\n", a.Status)

		if !agentsDeleteForce {
			fmt.Print("This action cannot be undone. Confirm deletion? [y/N]: ")
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			if strings.ToLower(strings.TrimSpace(answer)) != "y" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		if err := c.DeleteAgent(ctx, args[0]); err != nil {
			return fmt.Errorf("delete agent: %w", err)
		}
		fmt.Printf("✓ Agent deleted: %s\n", a.DID)
		return nil
	},
}

func init() {
	agentsListCmd.Flags().StringVar(&agentsListFormat, "format", "text", "Output format: text or json")
	agentsListCmd.Flags().IntVar(&agentsListLimit, "limit", 20, "Maximum number of agents to return")
	agentsListCmd.Flags().IntVar(&agentsListOffset, "offset", 0, "Pagination offset")

	agentsGetCmd.Flags().StringVar(&agentsGetFormat, "format", "text", "Output format: text or json")

	agentsRegisterCmd.Flags().StringVar(&agentsRegName, "name", "", "Agent name")
	agentsRegisterCmd.Flags().StringVar(&agentsRegType, "type", "", "Agent type (e.g. assistant, tool, orchestrator)")
	agentsRegisterCmd.Flags().StringVar(&agentsRegDescription, "description", "", "Agent description")
	agentsRegisterCmd.Flags().StringVar(&agentsRegEndpoint, "endpoint", "", "Agent transport endpoint URL")
	agentsRegisterCmd.Flags().StringVar(&agentsRegCapabilities, "capabilities", "", "Comma-separated capability list (e.g. ocr,translate)")
	_ = agentsRegisterCmd.MarkFlagRequired("name")
	_ = agentsRegisterCmd.MarkFlagRequired("endpoint")

	agentsDeleteCmd.Flags().BoolVar(&agentsDeleteForce, "force", false, "Skip confirmation prompt")

	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsGetCmd)
	agentsCmd.AddCommand(agentsRegisterCmd)
	agentsCmd.AddCommand(agentsDeleteCmd)
}

// ── discover ─────────────────────────────────────────────────────────────────

var (
	discoverFormat    string
	discoverType      string
	discoverStatus    string
	discoverCaps      string
	discoverSort      string
	discoverLimit     int
	discoverOffset    int
	discoverFederated bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover [query]",
	Short: "Search the public agent catalog",
	Long: `discover searches the public catalog of active agents.

With --federated the search fans out to peer registries and merges their
results, marking each hit with its origin registry:

  avt discover "invoice ocr" --capabilities ocr,pdf --federated`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := client.DiscoveryQuery{
			AgentType:        discoverType,
			Status:           discoverStatus,
			Sort:             discoverSort,
			Limit:            discoverLimit,
			Offset:           discoverOffset,
			IncludeFederated: discoverFederated,
		}
		if len(args) == 1 {
			q.Query = args[0]
		}
		for _, capability := range strings.Split(discoverCaps, ",") {
			if capability = strings.TrimSpace(capability); capability != "" {
				q.Capabilities = append(q.Capabilities, capability)
			}
		}

		c, err := client.New(registryURL)
		if err != nil {
			return err
		}
		result, err := c.Discover(context.Background(), q)
		if err != nil {
			return fmt.Errorf("discover: %w", err)
		}

		if discoverFormat == "json" {
			return printJSON(result)
		}
		if len(result.Agents) == 0 {
			fmt.Println("No agents matched.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tCAPABILITIES\tDID\tORIGIN")
		for _, a := range result.Agents {
			origin := "local"
			if a.IsFederated {
				origin = a.OriginRegistryName
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				a.Name, a.AgentType, strings.Join(a.Capabilities, ","), a.DID, origin)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Printf("\n%d of %d agents", len(result.Agents), result.Total)
		if fs := result.Federation; fs != nil {
			fmt.Printf("  (peers: %d queried, %d ok, %d failed, %d cache hits)",
				fs.PeersQueried, fs.PeersSuccessful, fs.PeersFailed, fs.CacheHits)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverFormat, "format", "text", "Output format: text or json")
	discoverCmd.Flags().StringVar(&discoverType, "type", "", "Filter by agent type")
	discoverCmd.Flags().StringVar(&discoverStatus, "status", "", "Filter by status (active agents when empty)")
	discoverCmd.Flags().StringVar(&discoverCaps, "capabilities", "", "Comma-separated capabilities the agent must have")
	discoverCmd.Flags().StringVar(&discoverSort, "sort", "", "Sort order: name, created_at, or updated_at")
	discoverCmd.Flags().IntVar(&discoverLimit, "limit", 20, "Maximum number of agents to return")
	discoverCmd.Flags().IntVar(&discoverOffset, "offset", 0, "Pagination offset")
	discoverCmd.Flags().BoolVar(&discoverFederated, "federated", false, "Include results from peer registries")
}

// ── balance ──────────────────────────────────────────────────────────────────

var balanceFormat string

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the agent's AVT ledger profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := agentClient()
		if err != nil {
			return err
		}
		profile, err := c.Balance(context.Background())
		if err != nil {
			return fmt.Errorf("fetch balance: %w", err)
		}

		if balanceFormat == "json" {
			return printJSON(profile)
		}
		fmt.Printf("Agent:      %s\n", profile.AgentDID)
		fmt.Printf("Balance:    %s AVT\n", profile.Balance.String())
		fmt.Printf("Staked:     %s AVT\n", profile.StakedTotal.String())
		fmt.Printf("Reputation: %d\n", profile.ReputationScore)
		fmt.Printf("Status:     %s\n", profile.Status)
		return nil
	},
}

func init() {
	balanceCmd.Flags().StringVar(&balanceFormat, "format", "text", "Output format: text or json")
}

// ── transfer ─────────────────────────────────────────────────────────────────

var (
	transferTo      string
	transferAmount  string
	transferMessage string
	transferKey     string
	transferForce   bool
)

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Send AVT tokens to another agent",
	Long: `transfer moves tokens from your agent's balance to another agent.

Every transfer carries an idempotency key; retrying with the same key
returns the original transaction instead of spending twice. A fresh key is
generated unless --idempotency-key is supplied:

  avt transfer --to did:cos:7c9e6679-7425-40de-944b-e07fc1f90ae7 --amount 12.50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !did.IsValid(transferTo) {
			return fmt.Errorf("invalid receiver DID %q", transferTo)
		}
		amount, err := decimal.NewFromString(transferAmount)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", transferAmount, err)
		}

		c, err := agentClient()
		if err != nil {
			return err
		}

		if !transferForce {
			fmt.Printf("Send %s AVT to %s? [y/N]: ", amount.String(), transferTo)
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			if strings.ToLower(strings.TrimSpace(answer)) != "y" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		key := transferKey
		if key == "" {
			key = uuid.NewString()
		}
		result, err := c.Transfer(context.Background(), client.TransferRequest{
			ReceiverDID:    transferTo,
			Amount:         amount,
			Message:        transferMessage,
			IdempotencyKey: key,
		})
		if err != nil {
			return fmt.Errorf("transfer: %w", err)
		}

		tx := result.Transaction
		if result.Replayed {
			fmt.Printf("✓ Transfer already completed (idempotent replay)\n\n")
		} else {
			fmt.Printf("✓ Transfer complete\n\n")
		}
		fmt.Printf("  Transaction: %s\n", tx.TxID)
		fmt.Printf("  Amount:      %s AVT (fee %s)\n", tx.Amount.String(), tx.FeeAmount.String())
		fmt.Printf("  Receiver:    %s\n", tx.ReceiverDID)
		return nil
	},
}

func init() {
	transferCmd.Flags().StringVar(&transferTo, "to", "", "Receiver agent DID (did:cos:...)")
	transferCmd.Flags().StringVar(&transferAmount, "amount", "", "Amount of AVT to send (decimal string, e.g. 12.50)")
	transferCmd.Flags().StringVar(&transferMessage, "message", "", "Message attached to the transaction")
	transferCmd.Flags().StringVar(&transferKey, "idempotency-key", "", "Idempotency key (generated when omitted)")
	transferCmd.Flags().BoolVar(&transferForce, "force", false, "Skip confirmation prompt")

	_ = transferCmd.MarkFlagRequired("to")
	_ = transferCmd.MarkFlagRequired("amount")
}

// ── transactions ─────────────────────────────────────────────────────────────

var (
	transactionsFormat string
	transactionsLimit  int
	transactionsOffset int
)

var transactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "List the agent's ledger transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := agentClient()
		if err != nil {
			return err
		}
		txs, err := c.Transactions(context.Background(), transactionsLimit, transactionsOffset)
		if err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}

		if transactionsFormat == "json" {
			return printJSON(txs)
		}
		if len(txs) == 0 {
			fmt.Println("No transactions.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTYPE\tAMOUNT\tFEE\tSENDER\tRECEIVER\tSTATUS")
		for _, tx := range txs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				tx.Timestamp.Format("2006-01-02 15:04"), tx.Type, tx.Amount.String(),
				tx.FeeAmount.String(), tx.SenderDID, tx.ReceiverDID, tx.Status)
		}
		return w.Flush()
	},
}

func init() {
	transactionsCmd.Flags().StringVar(&transactionsFormat, "format", "text", "Output format: text or json")
	transactionsCmd.Flags().IntVar(&transactionsLimit, "limit", 20, "Maximum number of transactions to return")
	transactionsCmd.Flags().IntVar(&transactionsOffset, "offset", 0, "Pagination offset")
}

// ── task ─────────────────────────────────────────────────────────────────────

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Submit and track A2A tasks",
}

var (
	taskSendID   string
	taskSendText string
	taskSendWait bool
)

var taskSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Submit a new task or continue an existing one",
	Long: `send submits a user message to the task engine.

Without --task a new task is created; with --task the message continues an
existing task, e.g. one waiting in INPUT_REQUIRED:

  avt task send --text "summarize https://example.com/report.pdf" --wait
  avt task send --task 7d9f... --text "the second quarter"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := agentClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		ref, err := c.SendTask(ctx, taskSendID, client.TextMessage(taskSendText))
		if err != nil {
			return fmt.Errorf("send task: %w", err)
		}
		fmt.Printf("Task %s  %s\n", ref.TaskID, ref.State)

		if !taskSendWait {
			return nil
		}
		return watchTask(ctx, c, ref.TaskID)
	},
}

var taskGetFormat string

var taskGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Show a task's state, messages, and artifacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := agentClient()
		if err != nil {
			return err
		}
		task, err := c.GetTask(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get task: %w", err)
		}

		if taskGetFormat == "json" {
			if err := printJSON(task); err != nil {
				return err
			}
		} else {
			fmt.Printf("Task:    %s\n", task.TaskID)
			fmt.Printf("State:   %s\n", task.State)
			fmt.Printf("Created: %s\n", task.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Updated: %s\n", task.UpdatedAt.Format(time.RFC3339))
			for _, m := range task.Messages {
				fmt.Printf("\n[%s]\n", m.Role)
				for _, p := range m.Parts {
					if p.Type == "text" {
						fmt.Printf("  %s\n", p.Content)
					} else {
						fmt.Printf("  (%s part)\n", p.Type)
					}
				}
			}
			if len(task.Artifacts) > 0 {
				fmt.Println()
				for id, a := range task.Artifacts {
					fmt.Printf("Artifact %s  %s\n", id, a.Type)
				}
			}
		}

		if task.State == client.TaskInputRequired || task.State == client.TaskCanceled {
			os.Exit(2)
		}
		return nil
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a running task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := agentClient()
		if err != nil {
			return err
		}
		ok, err := c.CancelTask(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("cancel task: %w", err)
		}
		if !ok {
			return fmt.Errorf("task %s could not be canceled", args[0])
		}
		fmt.Printf("✓ Task %s canceled\n", args[0])
		return nil
	},
}

var taskSubscribeCmd = &cobra.Command{
	Use:   "subscribe <task-id>",
	Short: "Stream task events until the task settles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := agentClient()
		if err != nil {
			return err
		}
		return watchTask(context.Background(), c, args[0])
	},
}

func init() {
	taskSendCmd.Flags().StringVar(&taskSendID, "task", "", "Existing task ID to continue (new task when omitted)")
	taskSendCmd.Flags().StringVar(&taskSendText, "text", "", "Message text to send")
	taskSendCmd.Flags().BoolVar(&taskSendWait, "wait", false, "Stream events until the task settles")
	_ = taskSendCmd.MarkFlagRequired("text")

	taskGetCmd.Flags().StringVar(&taskGetFormat, "format", "text", "Output format: text or json")

	taskCmd.AddCommand(taskSendCmd)
	taskCmd.AddCommand(taskGetCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskSubscribeCmd)
}

var errStopWatch = errors.New("stop watching")

// watchTask streams lifecycle events until the task settles: reaching a
// terminal state or pausing in INPUT_REQUIRED. It then maps the final state
// to the documented exit codes (0 completed, 1 failed, 2 requires input or
// canceled).
func watchTask(ctx context.Context, c *client.Client, taskID string) error {
	var last string
	err := c.SubscribeTask(ctx, taskID, func(ev client.TaskEvent) error {
		stamp := ev.Timestamp.Format("15:04:05")
		switch ev.Type {
		case "status_update":
			last = ev.State
			fmt.Printf("%s  %s\n", stamp, ev.State)
			if client.IsTerminalState(ev.State) || ev.State == client.TaskInputRequired {
				return errStopWatch
			}
		case "message":
			if ev.Message == nil {
				break
			}
			for _, p := range ev.Message.Parts {
				if p.Type == "text" {
					fmt.Printf("%s  [%s] %s\n", stamp, ev.Message.Role, p.Content)
				}
			}
		case "artifact_update":
			if ev.Artifact != nil {
				fmt.Printf("%s  artifact %s (%s)\n", stamp, ev.Artifact.ID, ev.Artifact.Type)
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWatch) {
		return fmt.Errorf("subscribe: %w", err)
	}

	switch last {
	case client.TaskCompleted:
		return nil
	case client.TaskFailed:
		return fmt.Errorf("task %s failed", taskID)
	case client.TaskInputRequired:
		fmt.Printf("\nTask is waiting for input. Continue it with:\n")
		fmt.Printf("  avt task send --task %s --text \"...\"\n", taskID)
		os.Exit(2)
	case client.TaskCanceled:
		os.Exit(2)
	}
	if last == "" {
		return fmt.Errorf("event stream for task %s ended without a status update", taskID)
	}
	return fmt.Errorf("event stream ended while task %s was still %s", taskID, last)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the avt CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("avt %s (AgentVault)\n", version)
	},
}
