package retrieve

import (
	"encoding/hex"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/glosshq/gloss/internal/filter"
)

// maxScopeKeyLen is the longest key we hand to a cache backend verbatim.
// Memcached-style backends cap keys at 250 bytes; anything longer is hashed
// to a fixed-width digest. The digest covers the full tuple including the
// user, so hashing never merges two users' entries.
const maxScopeKeyLen = 200

// scopeKey builds the cache key for one retrieval: the document, every filter
// dimension, and the requesting user. User identity is always part of the
// key; cross-user isolation rests entirely on this composition.
func scopeKey(prefix string, documentID, userID uuid.UUID, f filter.Filters) string {
	raw := prefix + ":v1:doc=" + documentID.String() +
		";" + f.KeyFragment() +
		";user=" + userID.String()
	if len(raw) <= maxScopeKeyLen {
		return raw
	}
	sum := blake2b.Sum256([]byte(raw))
	return prefix + ":v1:" + hex.EncodeToString(sum[:])
}
