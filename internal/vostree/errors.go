package vostree

import "errors"

// ErrZombie is returned by OpenObjectTree when the object has been marked
// for destruction but is still referenced elsewhere (pinned in the object
// reference cache), so its tree structure has not been torn down yet.
var ErrZombie = errors.New("vostree: object is a zombie pending destroy")
