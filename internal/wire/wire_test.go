package wire

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTagged(reqID uint32, dbID byte, number string) []byte {
	b := make([]byte, 0, 7+len(number))
	var idb [4]byte
	binary.LittleEndian.PutUint32(idb[:], reqID)
	b = append(b, idb[:]...)
	b = append(b, dbID, byte(TypeTagged), byte(len(number)))
	b = append(b, number...)
	return b
}

func buildCNAM(reqID uint32, dbID byte, payload string) []byte {
	b := make([]byte, 0, 10+len(payload))
	var idb [4]byte
	binary.LittleEndian.PutUint32(idb[:], reqID)
	b = append(b, idb[:]...)
	b = append(b, dbID, byte(TypeCNAM))
	var lenb [4]byte
	binary.LittleEndian.PutUint32(lenb[:], uint32(len(payload)))
	b = append(b, lenb[:]...)
	b = append(b, payload...)
	return b
}

func TestParseRequestTagged(t *testing.T) {
	buf := buildTagged(7, 3, "12025550123")

	req, err := ParseRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), req.ReqID)
	assert.Equal(t, byte(3), req.DBID)
	assert.Equal(t, TypeTagged, req.Type)
	assert.Equal(t, "12025550123", string(req.Payload))
}

func TestParseRequestCNAM(t *testing.T) {
	payload := `{"number":"12025550123"}`
	buf := buildCNAM(42, 1, payload)

	req, err := ParseRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), req.ReqID)
	assert.Equal(t, TypeCNAM, req.Type)
	assert.Equal(t, payload, string(req.Payload))
}

func TestParseRequestUnknownDBIDSucceeds(t *testing.T) {
	// The wire layer doesn't know about driver registration: an unrecognized
	// db_id is still a well-formed datagram. That failure belongs to the
	// dispatcher, not the codec.
	buf := buildTagged(1, 0xFF, "5551234567")

	req, err := ParseRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), req.DBID)
}

func TestParseRequestTooShortForPrefix(t *testing.T) {
	buf := []byte{0x02, 0x00, 0x00} // only 3 bytes, no db_id/type

	req, err := ParseRequest(buf)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidRequest, CodeOf(err))
	// Even a truncated buffer can't yield a req_id here (<4 bytes).
	assert.Equal(t, uint32(0), req.ReqID)
}

func TestParseRequestTaggedNumberLenOverruns(t *testing.T) {
	buf := buildTagged(2, 1, "1")
	buf[6] = 0xFF // number_len now claims 255 bytes we don't have

	req, err := ParseRequest(buf)
	require.Error(t, err)
	assert.Equal(t, uint32(2), req.ReqID)
	assert.Equal(t, CodeInvalidRequest, CodeOf(err))
	assert.Equal(t, "malformed request", ReasonOf(err))
}

func TestParseRequestCNAMPayloadLenOverruns(t *testing.T) {
	buf := buildCNAM(9, 1, "{}")
	binary.LittleEndian.PutUint32(buf[6:10], 0xFFFFFFFF)

	req, err := ParseRequest(buf)
	require.Error(t, err)
	assert.Equal(t, uint32(9), req.ReqID)
	assert.Equal(t, CodeInvalidRequest, CodeOf(err))
}

func TestParseRequestUnknownType(t *testing.T) {
	buf := buildTagged(5, 1, "123")
	buf[5] = 0x7F // neither tagged nor cnam

	req, err := ParseRequest(buf)
	require.Error(t, err)
	assert.Equal(t, uint32(5), req.ReqID)
	assert.Equal(t, CodeInvalidRequest, CodeOf(err))
}

func TestParseRequestRoundTripsAnyLength(t *testing.T) {
	for n := 0; n < 40; n++ {
		number := make([]byte, n)
		for i := range number {
			number[i] = byte('0' + i%10)
		}
		buf := buildTagged(uint32(n+1), 2, string(number))
		req, err := ParseRequest(buf)
		require.NoError(t, err)
		assert.Equal(t, string(number), string(req.Payload))
	}
}

func TestProvisionalReply(t *testing.T) {
	b := Provisional(0x01020304)
	require.Len(t, b, 4)
	assert.Equal(t, uint32(0x01020304), binary.LittleEndian.Uint32(b))
}

func TestTaggedSuccessReply(t *testing.T) {
	b := TaggedSuccess(7, "12025550199", "wireless")

	reqID := binary.LittleEndian.Uint32(b[0:4])
	code := b[4]
	dataLen := int(b[5])
	lrnLen := int(b[6])

	assert.Equal(t, uint32(7), reqID)
	assert.Equal(t, byte(CodeNoError), code)
	assert.Equal(t, len("12025550199")+len("wireless"), dataLen)
	assert.Equal(t, len("12025550199"), lrnLen)

	data := b[7 : 7+dataLen]
	assert.Equal(t, "12025550199", string(data[:lrnLen]))
	assert.Equal(t, "wireless", string(data[lrnLen:]))
}

func TestTaggedErrorReplyUnknownDatabase(t *testing.T) {
	b := TaggedErrorReply(1, CodeGeneralResolvingError, "unknown database id")

	reqID := binary.LittleEndian.Uint32(b[0:4])
	code := b[4]
	descLen := int(b[5])
	desc := string(b[6 : 6+descLen])

	assert.Equal(t, uint32(1), reqID)
	assert.Equal(t, byte(CodeGeneralResolvingError), code)
	assert.Equal(t, "unknown database id", desc)
}

func TestTaggedErrorReplyMalformedRequest(t *testing.T) {
	b := TaggedErrorReply(2, CodeInvalidRequest, "malformed request")

	reqID := binary.LittleEndian.Uint32(b[0:4])
	code := b[4]
	descLen := int(b[5])
	desc := string(b[6 : 6+descLen])

	assert.Equal(t, uint32(2), reqID)
	assert.Equal(t, byte(CodeInvalidRequest), code)
	assert.Equal(t, "malformed request", desc)
}

func TestCNAMReplyRoundTrip(t *testing.T) {
	body := []byte(`{"name":"ACME CORP"}`)
	b := CNAMReply(99, body)

	reqID := binary.LittleEndian.Uint32(b[0:4])
	bodyLen := binary.LittleEndian.Uint32(b[4:8])
	got := b[8 : 8+bodyLen]

	assert.Equal(t, uint32(99), reqID)
	assert.Equal(t, body, got)
}

func TestCNAMErrorBodyShape(t *testing.T) {
	b := CNAMErrorBody(CodeDriverResolvingError, "driver timed out")

	var decoded cnamErrorBody
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, uint8(CodeDriverResolvingError), decoded.Error.Code)
	assert.Equal(t, "driver timed out", decoded.Error.Reason)
}

func TestEncodeErrorReplyShapesByRequestType(t *testing.T) {
	err := NewResolverError(CodeDriverResolvingError, "driver resolving error")

	tagged := EncodeErrorReply(3, TypeTagged, err)
	assert.Equal(t, byte(CodeDriverResolvingError), tagged[4])

	cnam := EncodeErrorReply(3, TypeCNAM, err)
	bodyLen := binary.LittleEndian.Uint32(cnam[4:8])
	var decoded cnamErrorBody
	require.NoError(t, json.Unmarshal(cnam[8:8+bodyLen], &decoded))
	assert.Equal(t, uint8(CodeDriverResolvingError), decoded.Error.Code)
}
