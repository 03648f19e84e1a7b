//go:build ignore

// probe-peers.go checks candidate federation peers before you register
// them. A peer is useful to federated discovery only if it serves a
// service card at /.well-known/agent.json and answers /api/v1/health;
// this script probes both on every URL you give it and prints a report.
//
// Run it directly, it is not part of the build:
//
//	go run scripts/probe-peers.go https://registry-a.example.com https://registry-b.example.com
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Every AgentVault-compatible registry serves these two paths.
var probePaths = []string{
	"/.well-known/agent.json",
	"/api/v1/health",
}

type result struct {
	base    string
	path    string
	status  int
	body    string // first 300 bytes of the response
	err     string
	latency time.Duration
}

func probe(client *http.Client, base, path string) result {
	url := strings.TrimRight(base, "/") + path
	res := result{base: base, path: path}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		res.err = err.Error()
		return res
	}
	req.Header.Set("User-Agent", "agentvault-peer-probe/1.0")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	res.latency = time.Since(start)
	if err != nil {
		res.err = err.Error()
		return res
	}
	defer resp.Body.Close()

	res.status = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	snip := strings.TrimSpace(string(body))
	if len(snip) > 300 {
		snip = snip[:300]
	}
	res.body = snip
	return res
}

func isJSON(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

// cardSummary pulls the human-readable bits out of a service card body.
func cardSummary(body string) string {
	var card struct {
		Name          string `json:"name"`
		SchemaVersion string `json:"schemaVersion"`
		Provider      struct {
			Organization string `json:"organization"`
		} `json:"provider"`
	}
	if err := json.Unmarshal([]byte(body), &card); err != nil {
		return ""
	}
	if card.Name == "" {
		return ""
	}
	summary := card.Name
	if card.Provider.Organization != "" {
		summary += " by " + card.Provider.Organization
	}
	if card.SchemaVersion != "" {
		summary += " (schema " + card.SchemaVersion + ")"
	}
	return summary
}

func main() {
	targets := os.Args[1:]
	if len(targets) == 0 {
		fmt.Fprintln(os.Stderr, "usage: go run scripts/probe-peers.go <registry-url> [<registry-url> ...]")
		os.Exit(1)
	}

	client := &http.Client{
		Timeout: 8 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	type job struct{ base, path string }
	jobs := make(chan job)
	results := make(chan result)

	workers := 8
	if len(targets) < workers {
		workers = len(targets)
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- probe(client, j.base, j.path)
			}
		}()
	}
	go func() {
		for _, base := range targets {
			for _, path := range probePaths {
				jobs <- job{base: base, path: path}
			}
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	total := len(targets) * len(probePaths)
	byBase := make(map[string]map[string]result)
	done := 0
	for res := range results {
		done++
		fmt.Printf("\r  probing... %d/%d", done, total)
		if byBase[res.base] == nil {
			byBase[res.base] = make(map[string]result)
		}
		byBase[res.base][res.path] = res
	}
	fmt.Println()

	bases := make([]string, 0, len(byBase))
	for base := range byBase {
		bases = append(bases, base)
	}
	sort.Strings(bases)

	fmt.Println()
	fmt.Println("══════════════════════════════════════════════════════════")
	fmt.Println("  PEER PROBE REPORT")
	fmt.Println("══════════════════════════════════════════════════════════")

	healthy := 0
	for _, base := range bases {
		card := byBase[base]["/.well-known/agent.json"]
		health := byBase[base]["/api/v1/health"]

		ok := card.status == http.StatusOK && isJSON(card.body) &&
			health.status == http.StatusOK
		mark := "✗"
		if ok {
			mark = "✓"
			healthy++
		}
		fmt.Printf("\n%s %s\n", mark, base)

		if card.err != "" {
			fmt.Printf("    card:    error: %s\n", card.err)
		} else if summary := cardSummary(card.body); summary != "" {
			fmt.Printf("    card:    %d %s  %v\n", card.status, summary, card.latency.Round(time.Millisecond))
		} else {
			fmt.Printf("    card:    %d (no parsable service card)  %v\n", card.status, card.latency.Round(time.Millisecond))
		}

		if health.err != "" {
			fmt.Printf("    health:  error: %s\n", health.err)
		} else {
			fmt.Printf("    health:  %d  %v\n", health.status, health.latency.Round(time.Millisecond))
			if health.status != http.StatusOK && health.body != "" {
				fmt.Printf("             %s\n", health.body)
			}
		}
	}

	fmt.Println()
	fmt.Println("══════════════════════════════════════════════════════════")
	fmt.Printf("  %d/%d peers ready for federation\n", healthy, len(bases))
	fmt.Println("══════════════════════════════════════════════════════════")
}
