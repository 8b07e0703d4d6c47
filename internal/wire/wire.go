// Package wire implements the LNP/CNAM resolver's request/reply datagram
// codec: a fixed 6-byte common prefix followed by a type-specific body, and
// four reply shapes (provisional, tagged success, tagged error, cnam).
//
// All integers are little-endian on the wire, per the protocol's own
// invariant (not RFC 1035 — this is not a DNS message).
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// RequestType is the 8-bit discriminator in the common prefix.
type RequestType uint8

const (
	TypeTagged RequestType = 0
	TypeCNAM   RequestType = 1
)

func (t RequestType) String() string {
	switch t {
	case TypeTagged:
		return "tagged"
	case TypeCNAM:
		return "cnam"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// commonPrefixSize is req_id(4) + db_id(1) + type(1).
const commonPrefixSize = 6

// Request is a decoded datagram. Payload holds the phone number for tagged
// requests and the raw JSON object bytes for cnam requests.
type Request struct {
	ReqID   uint32
	DBID    uint8
	Type    RequestType
	RawType uint8 // the wire byte, even when it maps to no known RequestType
	Payload []byte
}

// PeekReqID extracts the request id from the first 4 bytes of a datagram,
// if present. It lets a caller recover the id of a datagram too malformed
// to decode fully; the resolver itself does not call it.
func PeekReqID(buf []byte) (uint32, bool) {
	if len(buf) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf[:4]), true
}

// ParseRequest decodes a datagram per the common-prefix + type-specific body
// layout described in the package doc. Any length field that, combined with
// its offset, would exceed the datagram length yields a *wire.ResolverError
// with CodeInvalidRequest, as does an unrecognized request type.
func ParseRequest(buf []byte) (Request, error) {
	var req Request

	if len(buf) >= 4 {
		req.ReqID = binary.LittleEndian.Uint32(buf[:4])
	}

	if len(buf) < commonPrefixSize {
		return req, NewResolverError(CodeInvalidRequest, "malformed request")
	}

	req.DBID = buf[4]
	req.RawType = buf[5]

	switch RequestType(req.RawType) {
	case TypeTagged:
		req.Type = TypeTagged
		if len(buf) < commonPrefixSize+1 {
			return req, NewResolverError(CodeInvalidRequest, "malformed request")
		}
		numberLen := int(buf[commonPrefixSize])
		start := commonPrefixSize + 1
		if start+numberLen > len(buf) {
			return req, NewResolverError(CodeInvalidRequest, "malformed request")
		}
		req.Payload = buf[start : start+numberLen]
		return req, nil

	case TypeCNAM:
		req.Type = TypeCNAM
		if len(buf) < commonPrefixSize+4 {
			return req, NewResolverError(CodeInvalidRequest, "malformed request")
		}
		payloadLen := binary.LittleEndian.Uint32(buf[commonPrefixSize : commonPrefixSize+4])
		start := commonPrefixSize + 4
		end := uint64(start) + uint64(payloadLen)
		if end > uint64(len(buf)) {
			return req, NewResolverError(CodeInvalidRequest, "malformed request")
		}
		req.Payload = buf[start:end]
		return req, nil

	default:
		return req, NewResolverError(CodeInvalidRequest, "unknown request type")
	}
}

// Provisional encodes the 4-byte provisional reply: the echoed request id.
func Provisional(reqID uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, reqID)
	return b
}

// maxU8Len clamps a byte length to fit in a u8 length prefix. The protocol
// has no documented behavior for an oversized field; truncation keeps the
// reply well-formed rather than silently corrupting the length prefix.
func maxU8Len(b []byte) []byte {
	if len(b) > 255 {
		return b[:255]
	}
	return b
}

// TaggedSuccess encodes a tagged success reply (code 0).
// lrn and tag are concatenated into the data section, lrn first.
func TaggedSuccess(reqID uint32, lrn, tag string) []byte {
	lrnB := maxU8Len([]byte(lrn))
	tagB := maxU8Len([]byte(tag))
	data := append(append([]byte{}, lrnB...), tagB...)
	if len(data) > 255 {
		data = data[:255]
		if len(lrnB) > len(data) {
			lrnB = data
		}
	}

	out := make([]byte, 0, 4+1+1+1+len(data))
	var idb [4]byte
	binary.LittleEndian.PutUint32(idb[:], reqID)
	out = append(out, idb[:]...)
	out = append(out, byte(CodeNoError))
	out = append(out, byte(len(data)))
	out = append(out, byte(len(lrnB)))
	out = append(out, data...)
	return out
}

// TaggedErrorReply encodes a tagged error reply with the given code and
// human-readable description.
func TaggedErrorReply(reqID uint32, code ErrorCode, desc string) []byte {
	descB := maxU8Len([]byte(desc))
	out := make([]byte, 0, 4+1+1+len(descB))
	var idb [4]byte
	binary.LittleEndian.PutUint32(idb[:], reqID)
	out = append(out, idb[:]...)
	out = append(out, byte(code))
	out = append(out, byte(len(descB)))
	out = append(out, descB...)
	return out
}

// CNAMReply encodes a cnam reply (success or error) carrying an arbitrary
// JSON body.
func CNAMReply(reqID uint32, body []byte) []byte {
	out := make([]byte, 0, 4+4+len(body))
	var idb [4]byte
	binary.LittleEndian.PutUint32(idb[:], reqID)
	out = append(out, idb[:]...)
	var lenb [4]byte
	binary.LittleEndian.PutUint32(lenb[:], uint32(len(body)))
	out = append(out, lenb[:]...)
	out = append(out, body...)
	return out
}

// cnamErrorBody is the JSON shape of a cnam error body:
// {"error":{"code":N,"reason":"..."}}
type cnamErrorBody struct {
	Error cnamErrorDetail `json:"error"`
}

type cnamErrorDetail struct {
	Code   uint8  `json:"code"`
	Reason string `json:"reason"`
}

// CNAMErrorBody builds the JSON body for a cnam error reply.
func CNAMErrorBody(code ErrorCode, reason string) []byte {
	b, err := json.Marshal(cnamErrorBody{Error: cnamErrorDetail{Code: uint8(code), Reason: reason}})
	if err != nil {
		// json.Marshal on this fixed shape cannot fail; fall back defensively.
		return []byte(`{"error":{"code":1,"reason":"internal error"}}`)
	}
	return b
}

// EncodeErrorReply shapes an error reply matching the request type: tagged
// for TypeTagged (and for any unrecognized type, per spec), cnam JSON for
// TypeCNAM.
func EncodeErrorReply(reqID uint32, reqType RequestType, err error) []byte {
	code := CodeGeneralError
	reason := "internal error"
	if err != nil {
		code = CodeOf(err)
		reason = ReasonOf(err)
	}
	if reqType == TypeCNAM {
		return CNAMReply(reqID, CNAMErrorBody(code, reason))
	}
	return TaggedErrorReply(reqID, code, reason)
}
