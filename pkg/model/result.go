package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ExecResult is the terminal outcome of one executed entry: the experiment
// ref the run produced and the content hash of its artifact.
type ExecResult struct {
	Ref  string `json:"ref"`
	Hash string `json:"hash"`
}

// RunInfo is the per-revision info record the executor persists outside the
// queue engine. The queue engine only reads and writes it through
// LoadRunInfo and Save.
type RunInfo struct {
	Rev         string `json:"rev"`
	BaselineRev string `json:"baseline_rev,omitempty"`
	PID         int    `json:"pid,omitempty"`
	WorkDir     string `json:"workdir,omitempty"`
	Collected   bool   `json:"collected"`
	ResultRef   string `json:"result_ref,omitempty"`
	ResultHash  string `json:"result_hash,omitempty"`
	ArtifactURI string `json:"artifact_uri,omitempty"`
}

// Result returns the collected result, or nil if the run has not produced
// one yet.
func (i *RunInfo) Result() *ExecResult {
	if i.ResultRef == "" && i.ResultHash == "" {
		return nil
	}
	return &ExecResult{Ref: i.ResultRef, Hash: i.ResultHash}
}

// LoadRunInfo reads a run info record from path. A missing file is reported
// as-is (errors.Is(err, fs.ErrNotExist)): the record is not created until
// execution begins, and callers distinguish "not written yet" from a
// corrupted record, which surfaces as a decode error.
func LoadRunInfo(path string) (*RunInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info RunInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode run info %s: %w", path, err)
	}
	return &info, nil
}

// Save writes the record to path, creating parent directories as needed.
func (i *RunInfo) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(i)
	if err != nil {
		return fmt.Errorf("encode run info: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
