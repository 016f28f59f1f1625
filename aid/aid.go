// Package aid implements arke entity identifiers: 26-character,
// lexicographically sortable, time-ordered tokens (ULIDs), plus the
// network namespacing and shard mapping derived from them.
package aid

import (
	"errors"
	"strings"
	"time"

	"github.com/Arke-Institute/arke-ipfs-api-sub001/arke_errors"
	"github.com/oklog/ulid/v2"
)

// Network is the logical namespace an identifier belongs to. Main and
// test entities never share a storage subtree.
type Network string

const (
	Main Network = "main"
	Test Network = "test"
)

// Crockford base32, the ULID alphabet. I, L, O and U are excluded,
// which is what makes the test prefix collision-free.
const Encoding = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// TestPrefix marks test-network identifiers. 'U' is not in the
// alphabet, so no generated token can ever start with it.
const TestPrefix = "UU"

const IDLen = 26

var ErrBadID = errors.New("aid: malformed identifier")
var ErrBadNetwork = errors.New("aid: unknown network")

// ID is a 26-character entity identifier. The first 10 characters
// encode the creation time at millisecond resolution (coarse, and
// temporally clustered; never used for sharding), the remaining 16
// are random.
type ID string

const BadID = ID("")

func ParseNetwork(s string) (Network, error) {
	switch Network(s) {
	case Main, "":
		return Main, nil
	case Test:
		return Test, nil
	}
	return Main, ErrBadNetwork
}

// New issues a fresh identifier on the given network.
func New(network Network) ID {
	u := ulid.Make().String()
	if network == Test {
		return ID(TestPrefix + u[len(TestPrefix):])
	}
	return ID(u)
}

// NewAt issues an identifier with an explicit creation time.
func NewAt(network Network, t time.Time) ID {
	u := ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
	if network == Test {
		return ID(TestPrefix + u[len(TestPrefix):])
	}
	return ID(u)
}

func Parse(s string) (ID, error) {
	id := ID(s)
	if !id.Valid() {
		return BadID, ErrBadID
	}
	return id, nil
}

func (id ID) Valid() bool {
	if len(id) != IDLen {
		return false
	}
	body := string(id)
	if strings.HasPrefix(body, TestPrefix) {
		body = body[len(TestPrefix):]
	}
	for i := 0; i < len(body); i++ {
		if !strings.ContainsRune(Encoding, rune(body[i])) {
			return false
		}
	}
	return true
}

func (id ID) String() string { return string(id) }

// Network reports the namespace the identifier was issued on.
func (id ID) Network() Network {
	if strings.HasPrefix(string(id), TestPrefix) {
		return Test
	}
	return Main
}

// Time decodes the embedded creation time. Resolution is coarse and
// test identifiers lose their two leading time characters, so this is
// informational only.
func (id ID) Time() time.Time {
	s := string(id)
	if strings.HasPrefix(s, TestPrefix) {
		s = "00" + s[len(TestPrefix):]
	}
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}

// ValidateNetwork rejects an identifier that does not belong to the
// caller's declared network. Checked before any write is attempted.
func ValidateNetwork(id ID, network Network) error {
	if !id.Valid() {
		return ErrBadID
	}
	if id.Network() != network {
		return arke_errors.ErrNetworkMismatch
	}
	return nil
}

// ShardPath maps an identifier to its two-level storage bucket. The
// last four characters are used: the leading characters are a
// timestamp and would cluster hot entities into a handful of
// directories. 32^4 possible buckets, uniformly distributed.
func (id ID) ShardPath() (bucket1, bucket2 string) {
	s := string(id)
	return s[len(s)-4 : len(s)-2], s[len(s)-2:]
}

// ShardPath is the function form of ID.ShardPath.
func ShardPath(id ID) (string, string) {
	return id.ShardPath()
}
