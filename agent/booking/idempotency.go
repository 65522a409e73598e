package booking

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
)

// IdempotencyKey is stable for a (session, step) pair so a retried create
// is recognised remotely as the same request.
func IdempotencyKey(sessionID string, step Step) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(sessionID) + "\x00" + string(step)))
	return "bk-" + hex.EncodeToString(sum[:16])
}

// Fingerprint hashes the canonical JSON of args. Key order and number
// formatting do not affect it.
func Fingerprint(args map[string]any) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal step arguments: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize step arguments: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
