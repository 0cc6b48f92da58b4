package reactor

import (
	"crypto/rand"
	"encoding/hex"
)

// generatePeerID produces an opaque random identifier for a server that
// was not given an explicit --id. Peer ids are not authenticated or
// guaranteed unique; a collision would silently corrupt routing, same
// as the original source's os.urandom(10)-derived id.
func generatePeerID() string {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
