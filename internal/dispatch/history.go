package dispatch

import (
	"time"

	"github.com/google/uuid"
	"github.com/yolocage/gatekeeper/internal/localdb"
)

const hookHistoryCollection = "hook_runs"
const outputExcerptLimit = 4096

// HookRunRecord is a best-effort, non-decisive
// diagnostic trail of pre-push hook executions, independent from the audit
// log's wire contract.
type HookRunRecord struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	CallerAddress string    `json:"caller_address"`
	Branch        string    `json:"branch"`
	Commands      []string  `json:"commands"`
	Success       bool      `json:"success"`
	OutputExcerpt string    `json:"output_excerpt"`
}

// appendHookRecord indexes a hook run into db. db may be nil (index
// unavailable); the append is always best-effort and its failure never
// changes the dispatch decision already made.
func appendHookRecord(db *localdb.DB, caller, branch string, commands []string, success bool, output string) {
	if db == nil {
		return
	}
	if len(output) > outputExcerptLimit {
		output = output[:outputExcerptLimit]
	}
	rec := HookRunRecord{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		CallerAddress: caller,
		Branch:        branch,
		Commands:      commands,
		Success:       success,
		OutputExcerpt: output,
	}
	_ = db.Append(hookHistoryCollection, rec)
}

// RecentHookRuns returns up to limit of the most recently appended hook
// run records, newest first. An unavailable index degrades this to an
// empty slice, never an error surfaced to a dispatch decision.
func RecentHookRuns(db *localdb.DB, limit int) ([]HookRunRecord, error) {
	out := []HookRunRecord{}
	if db == nil {
		return out, nil
	}
	if err := db.Recent(hookHistoryCollection, limit, &out); err != nil {
		return nil, err
	}
	return out, nil
}
