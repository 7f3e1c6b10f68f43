package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
)

// timeLayout sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

// encodeSnapshot serializes wc without its audit trail, which is stored
// row by row. The checksum covers the serialized snapshot.
func encodeSnapshot(wc *core.WorkflowContext) (snapshot []byte, checksum string, err error) {
	c := wc.Clone()
	c.ToolCalls = nil
	snapshot, err = json.Marshal(c)
	if err != nil {
		return nil, "", fmt.Errorf("marshaling workflow snapshot: %w", err)
	}
	return snapshot, checksumOf(snapshot), nil
}

func decodeSnapshot(id core.WorkflowID, snapshot []byte, checksum string) (*core.WorkflowContext, error) {
	if checksum != "" && checksumOf(snapshot) != checksum {
		return nil, core.ErrState(core.CodeStateCorrupted, fmt.Sprintf("checksum mismatch for workflow %s", id))
	}
	var wc core.WorkflowContext
	if err := json.Unmarshal(snapshot, &wc); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted, fmt.Sprintf("decoding workflow %s", id)).WithCause(err)
	}
	if wc.PhaseResults == nil {
		wc.PhaseResults = make(map[core.Phase]*core.PhaseResult)
	}
	if wc.RetryCounts == nil {
		wc.RetryCounts = make(map[core.Phase]int)
	}
	if wc.Errors == nil {
		wc.Errors = []core.ErrorRecord{}
	}
	wc.ToolCalls = []core.ToolCallRecord{}
	return &wc, nil
}

func checksumOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func failureKind(r core.ToolCallRecord) string {
	if r.Failure == nil {
		return ""
	}
	return string(r.Failure.Kind)
}

// pendingCalls returns the calls with a sequence number above stored.
func pendingCalls(wc *core.WorkflowContext, stored int) []core.ToolCallRecord {
	var out []core.ToolCallRecord
	for _, r := range wc.ToolCalls {
		if r.Seq > stored {
			out = append(out, r)
		}
	}
	return out
}
