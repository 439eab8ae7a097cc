// Package auditlog implements the per-tenant, append-only audit log.
// Every ingest, read, consent change, and review decision is recorded here.
// Entries form a Merkle-style hash chain so tampering with a row (or
// reordering, or deleting one from the middle) is detectable by Verify,
// without requiring the log itself to be immutable at the storage layer.
//
// Two implementations of Log are provided: MemoryLog for tests, and
// PostgresLog for the per-tenant audit_log table created by
// internal/tenant's namespace DDL.
package auditlog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenesisHash anchors the chain for a tenant with no audit entries yet.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one row of the audit log.
type Entry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agent_id"`
	Action    string    `json:"action"`   // ingest, read, consent_grant, consent_revoke, review
	Resource  string    `json:"resource"` // resource pattern acted on, e.g. "profile", "tables/workouts"
	DataHash  string    `json:"data_hash"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.AgentID, e.Action, e.Resource, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
