package checksum

import "errors"

// ErrUnknownFamily is returned by NewService for an unregistered family name.
var ErrUnknownFamily = errors.New("checksum: unknown family")

// ErrMismatch is returned by payload verification when a stored digest does
// not match the fetched value, signalling on-media corruption.
var ErrMismatch = errors.New("checksum: digest mismatch")

// ErrCorruptPayload is returned by DecodePayload when the wire format is
// malformed (truncated or length-inconsistent).
var ErrCorruptPayload = errors.New("checksum: corrupt payload")
