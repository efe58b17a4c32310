package iv

import (
	"encoding/json"
	"fmt"
)

// CodecVersion is the envelope version written by Serialize.
const CodecVersion = 1

const (
	kindJob      = "job"
	kindSnapshot = "snapshot"
	kindRun      = "run"
	kindLog      = "log"
)

type envelope struct {
	Kind    string          `json:"kind"`
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// Serialize encodes a Job, Snapshot, RunRecord or LogEntry into a
// self-describing JSON document.
func Serialize(v any) ([]byte, error) {
	var kind string
	switch v.(type) {
	case *Job:
		kind = kindJob
	case *Snapshot:
		kind = kindSnapshot
	case *RunRecord:
		kind = kindRun
	case *LogEntry:
		kind = kindLog
	default:
		return nil, fmt.Errorf("cannot serialize %T", v)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", kind, err)
	}
	return json.MarshalIndent(envelope{Kind: kind, Version: CodecVersion, Data: data}, "", "  ")
}

// Deserialize decodes a document written by Serialize and returns a *Job,
// *Snapshot, *RunRecord or *LogEntry. Unknown kinds and versions are
// configuration errors.
func Deserialize(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed document: %v", ErrConfiguration, err)
	}
	if env.Version != CodecVersion {
		return nil, fmt.Errorf("%w: unsupported %s version %d", ErrConfiguration, env.Kind, env.Version)
	}

	var v any
	switch env.Kind {
	case kindJob:
		v = &Job{}
	case kindSnapshot:
		v = &Snapshot{}
	case kindRun:
		v = &RunRecord{}
	case kindLog:
		v = &LogEntry{}
	default:
		return nil, fmt.Errorf("%w: unknown document kind %q", ErrConfiguration, env.Kind)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrConfiguration, env.Kind, err)
	}
	return v, nil
}

// ManifestName is the destination name of a snapshot's manifest.
func ManifestName(snapshot *Snapshot) string {
	return snapshot.JobID + "/" + snapshot.ID + ".json"
}
