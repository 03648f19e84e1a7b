// Package client is the AgentVault Go SDK.
//
// It provides everything a developer needs to work against an AgentVault
// registry: developer sessions, agent onboarding, catalog discovery, token
// ledger operations, and the A2A task protocol, all in one coherent API.
//
// # Connecting as an agent (most common case)
//
// After onboarding ('avt onboard' or Client.Onboard), your client
// credentials live in ~/.avt/credentials.json. Load them in one call:
//
//	c, err := client.NewFromCredentialsFile(
//	    "https://registry.agentvault.io",
//	    os.ExpandEnv("$HOME/.avt/credentials.json"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Bearer tokens are fetched from the OAuth2 token endpoint on first use and
// refreshed automatically before expiry.
//
// # Moving tokens
//
// Transfers are safely retryable when an idempotency key is supplied;
// retrying after a timeout can never double-spend:
//
//	res, err := c.Transfer(ctx, client.TransferRequest{
//	    ReceiverDID:    "did:cos:9e1b...",
//	    Amount:         decimal.NewFromInt(25),
//	    Message:        "invoice #1042",
//	    IdempotencyKey: uuid.NewString(),
//	})
//
// # Working with tasks
//
// Tasks speak JSON-RPC 2.0 over POST /api/v1/a2a. SendTask creates or
// continues a task; SubscribeTask streams its lifecycle events until the
// task reaches a terminal state:
//
//	ref, _ := c.SendTask(ctx, "", client.TaskMessage{
//	    Role:  "user",
//	    Parts: []client.TaskPart{{Type: "text", Content: "summarize this"}},
//	})
//	err = c.SubscribeTask(ctx, ref.TaskID, func(ev client.TaskEvent) error {
//	    fmt.Println(ev.Type, ev.State)
//	    return nil
//	})
//
// # Developer sessions
//
// Catalog management uses developer sessions rather than agent credentials:
//
//	c, _ := client.New("https://registry.agentvault.io")
//	dev, err := c.Login(ctx, "dev@example.com", "s3cret...")
//	agent, err := c.RegisterAgent(ctx, client.AgentRegistration{...})
//
// Login stores the session token on the Client; pass a pre-obtained token
// with WithBearerToken instead when running non-interactively.
//
// # Discovery
//
// Discovery is available to any authenticated principal and can fan out to
// federated peer registries:
//
//	res, err := c.Discover(ctx, client.DiscoveryQuery{
//	    Capabilities:     []string{"translation"},
//	    IncludeFederated: true,
//	})
package client
