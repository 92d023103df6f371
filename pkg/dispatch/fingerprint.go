package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint derives the deduplication key of a request. Arguments are
// encoded as canonical JSON (object keys sorted), so argument order does not
// matter and nil and empty arguments are the same.
func Fingerprint(agentID, toolName string, args map[string]any, connectionID string) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	payload, err := json.Marshal([]any{agentID, toolName, args, connectionID})
	if err != nil {
		return "", fmt.Errorf("%w: arguments are not JSON encodable: %v", ErrInvalidRequest, err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
