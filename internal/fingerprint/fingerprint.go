// ─────────────────────────────────────────────────────────────────────────────
// [Package]: fingerprint — deterministic test-object identities
//
// The multi-producer reclamation stress tests need to confirm each of
// M*L test objects is reclaimed exactly once; pointer identity is
// unreliable once an object has been reclaimed and its memory potentially
// reused, so tests tag each object with a fingerprint derived here instead.
// ─────────────────────────────────────────────────────────────────────────────

package fingerprint

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// ID is a 128-bit deterministic identity derived from a seed.
type ID [16]byte

// Of derives a deterministic fingerprint for test object number seed. Two
// calls with the same seed always produce the same ID; this lets
// concurrent producers generate collision-free identities without
// coordinating amongst themselves (each producer uses a disjoint seed
// range).
func Of(seed uint64) ID {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)
	sum := sha3.Sum256(buf[:])
	var id ID
	copy(id[:], sum[:16])
	return id
}
