package gateway

import (
	"fmt"

	"github.com/spaolacci/murmur3"
)

// KeySeed is the fixed seed for all key and cookie hashing. Two lookups of
// the same (bucket, path) strings always derive the same Key.
const KeySeed uint32 = 8675309

// Key is the cache identity of a handle: a seeded 64-bit hash per
// component of the (bucket, object-path) pair. Keys are immutable once a
// handle is constructed.
//
// Hash collisions are an accepted residual risk: two distinct paths with
// colliding components alias to the same cache slot. This is a documented
// limitation, not something the cache defends against.
type Key struct {
	Bucket uint64
	Object uint64
}

// Hash64 is the seeded component hash used for key derivation and readdir
// cookies.
func Hash64(s string) uint64 {
	return murmur3.Sum64WithSeed([]byte(s), KeySeed)
}

// DeriveKey derives a key from a bucket name and a bucket-relative object
// path. Each component is hashed over its own bytes.
func DeriveKey(bucket, objectPath string) Key {
	return Key{
		Bucket: Hash64(bucket),
		Object: Hash64(objectPath),
	}
}

// DeriveChildKey derives the key of a child when the parent's hash context
// is already known, avoiding recomputation of the bucket component. The
// bucket component of a child key is the parent's object component; the
// object component hashes the child's full bucket-relative path.
func DeriveChildKey(parentObjectHash uint64, childFullPath string) Key {
	return Key{
		Bucket: parentObjectHash,
		Object: Hash64(childFullPath),
	}
}

// Less orders keys bucket-major. The index relies on this total order.
func (k Key) Less(other Key) bool {
	if k.Bucket != other.Bucket {
		return k.Bucket < other.Bucket
	}
	return k.Object < other.Object
}

// Equal reports exact pair equality.
func (k Key) Equal(other Key) bool {
	return k == other
}

func (k Key) String() string {
	return fmt.Sprintf("<%d,%d>", k.Bucket, k.Object)
}
