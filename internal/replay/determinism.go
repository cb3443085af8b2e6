package replay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashSnapshot produces a stable SHA-256 digest of a snapshot's JSON
// encoding, used by determinism tests to assert that two independently
// run ticks with identical seeds and command streams produce
// byte-identical replay output without diffing the full payload.
// Grounded on the teacher's snapshot_service.go CaptureState/VerifyState
// pre/post-hash comparison, generalized from a single before/after pair to
// a per-tick stream.
func HashSnapshot(snap Snapshot) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
