package model

import "testing"

func sampleEntry() Entry {
	return Entry{
		RootDir:     "/repo",
		SCMRoot:     "/repo",
		QueueRef:    "refs/replay/queue",
		StashRev:    "a94a8fe5ccb19ba61c4c0873d391e987982fbbd3",
		BaselineRev: "de9f2c7fd25e1b3afad3e85a0bd17d9b100db4b3",
		Branch:      "tune-lr",
		Name:        "soft-lion",
		HeadRev:     "de9f2c7fd25e1b3afad3e85a0bd17d9b100db4b3",
	}
}

func TestEntry_EncodeRoundTrip(t *testing.T) {
	e := sampleEntry()

	data, err := e.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeEntry(data)
	if err != nil {
		t.Fatalf("DecodeEntry: %v", err)
	}
	if got != e {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestEntry_EncodeRoundTrip_OptionalFieldsEmpty(t *testing.T) {
	e := Entry{
		RootDir:     "/repo",
		SCMRoot:     "/repo",
		QueueRef:    "refs/replay/queue",
		StashRev:    "a94a8fe5ccb19ba61c4c0873d391e987982fbbd3",
		BaselineRev: "de9f2c7fd25e1b3afad3e85a0bd17d9b100db4b3",
	}

	data, err := e.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeEntry(data)
	if err != nil {
		t.Fatalf("DecodeEntry: %v", err)
	}
	if got != e {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestDecodeEntry_Invalid(t *testing.T) {
	if _, err := DecodeEntry([]byte("{not json")); err == nil {
		t.Error("DecodeEntry accepted malformed input")
	}
}

func TestEntry_Equal(t *testing.T) {
	a := sampleEntry()

	b := a
	b.Name = "other-name"
	b.Branch = ""
	if !a.Equal(b) {
		t.Error("entries with the same stash rev must be equal")
	}

	c := a
	c.StashRev = "ffffffffffffffffffffffffffffffffffffffff"
	if a.Equal(c) {
		t.Error("entries with different stash revs must not be equal")
	}
}

func TestShortRev(t *testing.T) {
	tests := []struct {
		rev  string
		want string
	}{
		{"a94a8fe5ccb19ba61c4c0873d391e987982fbbd3", "a94a8fe"},
		{"a94a8fe", "a94a8fe"},
		{"abc", "abc"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ShortRev(tt.rev); got != tt.want {
			t.Errorf("ShortRev(%q) = %q, want %q", tt.rev, got, tt.want)
		}
	}
}
