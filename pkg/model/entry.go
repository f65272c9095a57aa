package model

import (
	"encoding/json"
	"fmt"
)

// Entry identifies one queued, running, or finished experiment and its
// provenance. The stash revision is the primary key: it is unique among all
// entries simultaneously present in any queue state, and it is the join key
// used to correlate an entry across the stash, the broker, and the persisted
// run info record.
type Entry struct {
	RootDir     string `json:"root_dir"`
	SCMRoot     string `json:"scm_root"`
	QueueRef    string `json:"queue_ref"`
	StashRev    string `json:"stash_rev"`
	BaselineRev string `json:"baseline_rev"`
	Branch      string `json:"branch,omitempty"`
	Name        string `json:"name,omitempty"`
	HeadRev     string `json:"head_rev,omitempty"`
}

// Equal reports whether two entries identify the same experiment.
// Identity is the stash revision alone.
func (e Entry) Equal(other Entry) bool {
	return e.StashRev == other.StashRev
}

// ShortRev returns the abbreviated stash revision used in user-facing output.
func (e Entry) ShortRev() string {
	return ShortRev(e.StashRev)
}

// Encode serializes the entry for transport as broker task arguments.
// Decoding the result with DecodeEntry yields an identical entry.
func (e Entry) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEntry deserializes an entry previously produced by Encode.
func DecodeEntry(data []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	return e, nil
}

// ShortRev abbreviates a revision to seven characters.
func ShortRev(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
