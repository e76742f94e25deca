// Package symbol holds the vocabulary shared by every legendcache component:
// owner identifiers, cache keys, owned render styles, the capability
// interfaces a host descriptor may implement, and the error kinds.
//
// Host descriptors are never owned by this module. They may be replaced or
// destroyed by the host at any moment, so every call into one goes through
// Guard, and nothing derived from a descriptor outlives the call that
// produced it except an owned Style or image.
package symbol
