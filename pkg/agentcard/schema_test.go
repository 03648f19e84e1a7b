package agentcard_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/agentvault/agentvault/pkg/agentcard"
)

func validCardJSON() []byte {
	return []byte(`{
		"schemaVersion": "1.0",
		"humanReadableId": "acme/summarizer",
		"name": "Summarizer",
		"description": "Summarizes documents",
		"url": "https://agents.acme.example/summarizer",
		"provider": {"organization": "Acme", "url": "https://acme.example"},
		"capabilities": {"a2aVersion": "0.2", "streaming": true},
		"authSchemes": [
			{"scheme": "apiKey", "serviceIdentifier": "X-Api-Key"},
			{"scheme": "oauth2", "serviceIdentifier": "acme", "tokenUrl": "https://auth.acme.example/token", "scopes": ["tasks"]}
		]
	}`)
}

func TestParseValidCard(t *testing.T) {
	card, err := agentcard.Parse(validCardJSON())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if card.HumanReadableID != "acme/summarizer" {
		t.Errorf("humanReadableId = %q", card.HumanReadableID)
	}
	if !card.Capabilities.Streaming || card.Capabilities.A2AVersion != "0.2" {
		t.Errorf("capabilities = %+v", card.Capabilities)
	}
	if len(card.AuthSchemes) != 2 || card.AuthSchemes[0].Scheme != agentcard.SchemeAPIKey {
		t.Errorf("authSchemes = %+v", card.AuthSchemes)
	}
}

func TestParseIgnoresUnknownFields(t *testing.T) {
	data := []byte(strings.Replace(string(validCardJSON()),
		`"schemaVersion": "1.0",`,
		`"schemaVersion": "1.0", "futureField": {"nested": true}, "x-vendor": 7,`, 1))
	if _, err := agentcard.Parse(data); err != nil {
		t.Fatalf("unknown fields rejected: %v", err)
	}
}

func TestEncodeDecodeIdentity(t *testing.T) {
	card, err := agentcard.Parse(validCardJSON())
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := json.Marshal(card)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := agentcard.Parse(encoded)
	if err != nil {
		t.Fatal(err)
	}

	reencoded, err := json.Marshal(decoded)
	if err != nil {
		t.Fatal(err)
	}
	if string(encoded) != string(reencoded) {
		t.Errorf("round trip not identity:\n first = %s\nsecond = %s", encoded, reencoded)
	}
}

func TestValidateRejections(t *testing.T) {
	mutate := func(f func(*agentcard.Card)) []byte {
		card, err := agentcard.Parse(validCardJSON())
		if err != nil {
			t.Fatal(err)
		}
		f(card)
		data, _ := json.Marshal(card)
		return data
	}

	cases := []struct {
		name string
		data []byte
		want string
	}{
		{
			name: "missing schema version",
			data: mutate(func(c *agentcard.Card) { c.SchemaVersion = "" }),
			want: "schemaVersion",
		},
		{
			name: "missing human readable id",
			data: mutate(func(c *agentcard.Card) { c.HumanReadableID = "" }),
			want: "humanReadableId",
		},
		{
			name: "relative url",
			data: mutate(func(c *agentcard.Card) { c.URL = "/summarizer" }),
			want: "absolute",
		},
		{
			name: "missing provider org",
			data: mutate(func(c *agentcard.Card) { c.Provider.Organization = "" }),
			want: "provider.organization",
		},
		{
			name: "missing a2a version",
			data: mutate(func(c *agentcard.Card) { c.Capabilities.A2AVersion = "" }),
			want: "a2aVersion",
		},
		{
			name: "no auth schemes",
			data: mutate(func(c *agentcard.Card) { c.AuthSchemes = nil }),
			want: "auth scheme",
		},
		{
			name: "oauth2 without token url",
			data: mutate(func(c *agentcard.Card) { c.AuthSchemes[1].TokenURL = "" }),
			want: "tokenUrl",
		},
		{
			name: "apiKey without service identifier",
			data: mutate(func(c *agentcard.Card) { c.AuthSchemes[0].ServiceIdentifier = "" }),
			want: "serviceIdentifier",
		},
		{
			name: "unknown scheme",
			data: mutate(func(c *agentcard.Card) { c.AuthSchemes[0].Scheme = "magic" }),
			want: "unknown scheme",
		},
		{
			name: "not json",
			data: []byte(`{`),
			want: "decode",
		},
	}
	for _, tc := range cases {
		_, err := agentcard.Parse(tc.data)
		if err == nil {
			t.Errorf("%s: accepted", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: err = %v, want mention of %q", tc.name, err, tc.want)
		}
	}
}
