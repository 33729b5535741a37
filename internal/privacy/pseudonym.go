// Package privacy derives stable display labels for reporters so lawyers
// never see a member's real identity.
package privacy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/unionlegal/platform/internal/shared/types"
)

const labelPrefix = "member-"

// Pseudonymizer maps actor ids to deterministic labels.
// With a key the label is an HMAC-SHA256 digest; without one it embeds the id.
type Pseudonymizer struct {
	key []byte
}

// NewPseudonymizer creates a pseudonymizer. An empty key selects the plain
// "member-{id}" label.
func NewPseudonymizer(key string) *Pseudonymizer {
	if key == "" {
		return &Pseudonymizer{}
	}
	return &Pseudonymizer{key: []byte(key)}
}

// Label returns the display label for actorID.
func (p *Pseudonymizer) Label(actorID types.ID) string {
	if p == nil || len(p.key) == 0 {
		return labelPrefix + actorID.String()
	}

	mac := hmac.New(sha256.New, p.key)
	mac.Write([]byte(actorID))
	return labelPrefix + hex.EncodeToString(mac.Sum(nil))[:12]
}
