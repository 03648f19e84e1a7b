package activity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenesisHash anchors the chain. The genesis entry's hash is this constant
// rather than a computed value, so every deployment shares the same root.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one record in the platform activity feed.
type Entry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"`   // agent DID, dispute ID, peer ID
	Action    string    `json:"action"`    // agent.registered, teg.transfer.completed, ...
	Actor     string    `json:"actor"`     // DID or developer ID that caused the event
	DataHash  string    `json:"data_hash"` // SHA-256 of the event payload
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// hashEntry computes the chain hash for a non-genesis entry.
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.Subject, e.Action, e.Actor, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
