package checksum

import "encoding/binary"

// EncodePayload wraps a record's value together with its checksum digest
// into the single byte blob the index/epoch-tree class stores, so the
// digest travels with the value and is returned verbatim on fetch instead
// of being recomputed.
func EncodePayload(value, digest []byte) []byte {
    buf := make([]byte, 4+len(value)+2+len(digest))
    binary.BigEndian.PutUint32(buf, uint32(len(value)))
    off := 4
    copy(buf[off:], value)
    off += len(value)
    binary.BigEndian.PutUint16(buf[off:], uint16(len(digest)))
    off += 2
    copy(buf[off:], digest)
    return buf
}

// DecodePayload splits a stored payload back into its value and digest.
func DecodePayload(buf []byte) (value, digest []byte, err error) {
    if len(buf) < 4 {
        return nil, nil, ErrCorruptPayload
    }
    vlen := int(binary.BigEndian.Uint32(buf))
    if len(buf) < 4+vlen+2 {
        return nil, nil, ErrCorruptPayload
    }
    value = append([]byte(nil), buf[4:4+vlen]...)
    off := 4 + vlen
    dlen := int(binary.BigEndian.Uint16(buf[off:]))
    off += 2
    if len(buf) != off+dlen {
        return nil, nil, ErrCorruptPayload
    }
    digest = append([]byte(nil), buf[off:off+dlen]...)
    return value, digest, nil
}
