package model

// JobSpec describes the work to be queued: the command to reproduce an
// experiment and where to run it. The spec is recorded in the stash when the
// job is put on a queue and travels to workers alongside the Entry.
type JobSpec struct {
	Name        string            `json:"name,omitempty"`
	Command     []string          `json:"command"`
	WorkDir     string            `json:"workdir,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	BaselineRev string            `json:"baseline_rev,omitempty"`
	Branch      string            `json:"branch,omitempty"`

	// Output is the artifact path (relative to WorkDir) whose content hash
	// becomes the result hash. When empty, the run's captured stdout is
	// hashed instead.
	Output string `json:"output,omitempty"`
}
