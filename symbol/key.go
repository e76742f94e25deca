package symbol

import (
	"fmt"
	"strconv"
)

// OwnerID identifies the host object a set of symbols belongs to
// (a data layer, typically). It is a lookup key, not an ownership relation.
type OwnerID string

// Size is a requested symbol size in pixels.
type Size struct {
	W, H int
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool { return s.W > 0 && s.H > 0 }

// Bytes is the RGBA footprint of an image of this size.
func (s Size) Bytes() int64 {
	if !s.Valid() {
		return 0
	}
	return int64(s.W) * int64(s.H) * 4
}

func (s Size) String() string { return strconv.Itoa(s.W) + "x" + strconv.Itoa(s.H) }

// Key uniquely identifies one renderable unit: symbol Hash of Size belonging
// to Owner. Keys are comparable values; two owners never share a key because
// the owner is part of it.
type Key struct {
	Owner OwnerID
	Hash  uint64
	Size  Size
}

// String renders the key as <owner>_<hash>_<w>x<h>.
func (k Key) String() string {
	return fmt.Sprintf("%s_%016x_%s", k.Owner, k.Hash, k.Size)
}

// IsZero reports whether the key carries no symbol hash (nothing captured yet).
func (k Key) IsZero() bool { return k.Hash == 0 }
