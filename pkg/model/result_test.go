package model

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestRunInfo_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "a94a8fe", "info.json")

	info := &RunInfo{
		Rev:         "a94a8fe5ccb19ba61c4c0873d391e987982fbbd3",
		BaselineRev: "de9f2c7fd25e1b3afad3e85a0bd17d9b100db4b3",
		PID:         4321,
		Collected:   true,
		ResultRef:   "refs/replay/de9f2c7/soft-lion",
		ResultHash:  "9c56cc51b374c3ba189210d5b6d4bf57790d351c",
	}
	if err := info.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := LoadRunInfo(path)
	if err != nil {
		t.Fatalf("LoadRunInfo: %v", err)
	}
	if *got != *info {
		t.Errorf("loaded %+v, want %+v", got, info)
	}
}

func TestLoadRunInfo_Missing(t *testing.T) {
	_, err := LoadRunInfo(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing record: got %v, want fs.ErrNotExist", err)
	}
}

func TestLoadRunInfo_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadRunInfo(path)
	if err == nil {
		t.Fatal("LoadRunInfo accepted a corrupt record")
	}
	if errors.Is(err, fs.ErrNotExist) {
		t.Error("corrupt record must not be reported as missing")
	}
}

func TestRunInfo_Result(t *testing.T) {
	info := &RunInfo{Rev: "a94a8fe"}
	if info.Result() != nil {
		t.Error("Result() should be nil before the run produces one")
	}

	info.ResultRef = "refs/replay/de9f2c7/soft-lion"
	info.ResultHash = "9c56cc51"
	res := info.Result()
	if res == nil {
		t.Fatal("Result() = nil after ref and hash are set")
	}
	if res.Ref != info.ResultRef || res.Hash != info.ResultHash {
		t.Errorf("Result() = %+v, want ref %q hash %q", res, info.ResultRef, info.ResultHash)
	}
}
