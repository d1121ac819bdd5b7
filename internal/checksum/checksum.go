// Package checksum implements the pluggable checksum service (C7):
// vos_common.c's vos_csum_compute resets a checksum context, feeds it the
// iovs being stored (skipping nil or zero-length ones), and finalizes it
// into a digest that travels with the record and is returned verbatim on
// fetch. Two families are wired here instead of the original's mchecksum
// plugin mechanism: a stdlib crc64 and cespare/xxhash/v2's xxhash.
package checksum

import (
    "hash"
    "hash/crc64"
    "os"

    "github.com/cespare/xxhash/v2"
)

// Hasher is the minimal digest contract the checksum service needs; both
// families below are backed by a stdlib-compatible hash.Hash64.
type Hasher interface {
    hash.Hash64
}

// Family names a checksum algorithm selectable via VOS_CHECKSUM.
type Family string

const (
    FamilyCRC64  Family = "crc64"
    FamilyXXHash Family = "xxhash"

    // FamilyNone disables checksumming: Compute always returns a nil
    // digest and Verify always reports a match. Selected by DefaultFamily
    // when VOS_CHECKSUM names a tag that is not registered below.
    FamilyNone Family = "none"
)

// EnvVar is the environment variable vos_common.c's vos_mod_init reads to
// pick a checksum family when the caller did not pass an explicit option.
const EnvVar = "VOS_CHECKSUM"

var factories = map[Family]func() Hasher{
    FamilyCRC64:  func() Hasher { return crc64.New(crc64.MakeTable(crc64.ISO)) },
    FamilyXXHash: func() Hasher { return xxhash.New() },
}

// DefaultFamily returns the family named by VOS_CHECKSUM, FamilyCRC64 if
// the variable is unset, or FamilyNone if it names a tag that is not
// registered: an unrecognized tag disables checksums rather than silently
// falling back to a working family.
func DefaultFamily() Family {
    v := os.Getenv(EnvVar)
    if v == "" {
        return FamilyCRC64
    }
    if _, ok := factories[Family(v)]; ok {
        return Family(v)
    }
    return FamilyNone
}

// Service computes and verifies checksums for one family. It is stateless
// across calls: each Compute starts a fresh Hasher, matching
// vos_csum_compute's reset-then-update-then-get sequence.
type Service struct {
    family  Family
    newHash func() Hasher
}

// NewService constructs a Service for family, or an error if the family is
// not registered. FamilyNone is always accepted: it is the explicit
// disabled state, not a registered hash.
func NewService(family Family) (*Service, error) {
    if family == FamilyNone {
        return &Service{family: FamilyNone}, nil
    }
    f, ok := factories[family]
    if !ok {
        return nil, ErrUnknownFamily
    }
    return &Service{family: family, newHash: f}, nil
}

// Family reports which algorithm this service computes.
func (s *Service) Family() Family { return s.family }

// Compute returns the digest of data. A nil or zero-length data, matching
// vos_csum_compute's iov-skipping behaviour, yields a nil checksum rather
// than the hash of the empty string — there is nothing to protect. A
// FamilyNone service always yields a nil checksum: checksumming is disabled.
func (s *Service) Compute(data []byte) []byte {
    if s.family == FamilyNone || len(data) == 0 {
        return nil
    }
    h := s.newHash()
    h.Reset()
    h.Write(data)
    sum := h.Sum64()
    buf := make([]byte, 8)
    for i := 0; i < 8; i++ {
        buf[7-i] = byte(sum)
        sum >>= 8
    }
    return buf
}

// Verify reports whether data's checksum matches the stored digest exactly.
// A FamilyNone service always reports a match: there is nothing to verify.
func (s *Service) Verify(data, digest []byte) bool {
    if s.family == FamilyNone {
        return true
    }
    computed := s.Compute(data)
    if len(computed) != len(digest) {
        return len(computed) == 0 && len(digest) == 0
    }
    for i := range computed {
        if computed[i] != digest[i] {
            return false
        }
    }
    return true
}
