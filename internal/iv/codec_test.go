package iv_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"inertiavault/internal/iv"
)

func TestSerialize_Envelope(t *testing.T) {
	snap := &iv.Snapshot{
		ID:        "snap-1",
		JobID:     "job-1",
		Seq:       4,
		CreatedAt: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Entries: []*iv.Entry{{
			Path:        "a/b.txt",
			ContentHash: "abc",
			Size:        3,
			Blocks:      []iv.BlockRef{{Hash: "abc", Size: 3}},
		}},
	}
	data, err := iv.Serialize(snap)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}

	var env struct {
		Kind    string `json:"kind"`
		Version int    `json:"version"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("envelope is not JSON: %v", err)
	}
	if env.Kind != "snapshot" || env.Version != iv.CodecVersion {
		t.Errorf("envelope = %+v", env)
	}

	v, err := iv.Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	got, ok := v.(*iv.Snapshot)
	if !ok {
		t.Fatalf("Deserialize() = %T", v)
	}
	if got.Seq != 4 || !got.CreatedAt.Equal(snap.CreatedAt) || got.Lookup("a/b.txt") == nil {
		t.Errorf("decoded snapshot = %+v", got)
	}
}

func TestSerialize_Kinds(t *testing.T) {
	for _, v := range []any{&iv.Job{Name: "j"}, &iv.RunRecord{ID: "r"}, &iv.LogEntry{Message: "m"}} {
		data, err := iv.Serialize(v)
		if err != nil {
			t.Fatalf("Serialize(%T) error = %v", v, err)
		}
		back, err := iv.Deserialize(data)
		if err != nil {
			t.Fatalf("Deserialize(%T) error = %v", v, err)
		}
		if typeName(back) != typeName(v) {
			t.Errorf("Deserialize() = %T, want %T", back, v)
		}
	}
	if _, err := iv.Serialize(struct{}{}); err == nil {
		t.Error("Serialize(struct{}) succeeded")
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *iv.Job:
		return "job"
	case *iv.RunRecord:
		return "run"
	case *iv.LogEntry:
		return "log"
	}
	return "?"
}

func TestDeserialize_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", "{"},
		{"unknown kind", `{"kind":"tape","version":1,"data":{}}`},
		{"future version", `{"kind":"job","version":2,"data":{}}`},
		{"bad payload", `{"kind":"job","version":1,"data":[1,2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := iv.Deserialize([]byte(tt.doc)); !errors.Is(err, iv.ErrConfiguration) {
				t.Errorf("Deserialize() = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestManifestName(t *testing.T) {
	got := iv.ManifestName(&iv.Snapshot{ID: "snap-1", JobID: "job-1"})
	if got != "job-1/snap-1.json" {
		t.Errorf("ManifestName() = %q", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 Bytes"},
		{-5, "0 Bytes"},
		{500, "500 Bytes"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{10*1024*1024 + 512*1024, "10.5 MB"},
		{3 * 1024 * 1024 * 1024, "3 GB"},
		{2048 * 1024 * 1024 * 1024 * 1024, "2048 TB"},
	}
	for _, tt := range tests {
		if got := iv.FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
