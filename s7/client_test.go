package s7

import (
	"encoding/binary"
	"math"
	"testing"
)

// mockTransport is an in-memory stand-in for *tcpTransport, letting the
// chunking math in readArea/writeArea and the continuation logic in
// readSZL be exercised without a real socket.
type mockTransport struct {
	pdu       int
	requests  [][]byte
	onRequest func(req []byte) ([]byte, error)
}

func (m *mockTransport) exchange(req []byte) ([]byte, error) {
	cp := append([]byte(nil), req...)
	m.requests = append(m.requests, cp)
	return m.onRequest(cp)
}

func (m *mockTransport) getPDULength() int { return m.pdu }
func (m *mockTransport) close() error      { return nil }
func (m *mockTransport) isConnected() bool { return true }

// readResponse builds a minimal valid read-response frame carrying data.
func readResponse(data []byte) []byte {
	resp := make([]byte, 25+len(data))
	resp[21] = 0xFF
	copy(resp[25:], data)
	return resp
}

// writeResponse builds a minimal valid write-response frame.
func writeResponse() []byte {
	resp := make([]byte, 22)
	resp[21] = 0xFF
	return resp
}

// TestReadAreaChunksByPDULength verifies readArea issues
// ceil(size/maxElements) requests, where maxElements = (pdu-18)/wordSize,
// and reassembles the chunks in order.
func TestReadAreaChunksByPDULength(t *testing.T) {
	const pdu = 22 // maxElements = (22-18)/1 = 4 for byte-wide reads
	const size = 10
	wantChunks := 3 // ceil(10/4) = 3 (4+4+2)

	var nextByte byte
	mock := &mockTransport{pdu: pdu}
	mock.onRequest = func(req []byte) ([]byte, error) {
		count := int(binary.BigEndian.Uint16(req[23:25]))
		data := make([]byte, count)
		for i := range data {
			data[i] = nextByte
			nextByte++
		}
		return readResponse(data), nil
	}

	c := &Client{t: mock}
	got, err := c.readArea(AreaDB, 1, 0, -1, size)
	if err != nil {
		t.Fatalf("readArea: %v", err)
	}
	if len(mock.requests) != wantChunks {
		t.Fatalf("issued %d requests, want %d", len(mock.requests), wantChunks)
	}
	if len(got) != size {
		t.Fatalf("len(got) = %d, want %d", len(got), size)
	}
	for i, b := range got {
		if b != byte(i) {
			t.Fatalf("got[%d] = %d, want %d (chunks not reassembled in order)", i, b, i)
		}
	}
}

// TestReadAreaSingleChunkWhenPDUFits verifies no chunking occurs when the
// whole read fits within one PDU.
func TestReadAreaSingleChunkWhenPDUFits(t *testing.T) {
	const pdu = 480
	mock := &mockTransport{pdu: pdu}
	mock.onRequest = func(req []byte) ([]byte, error) {
		count := int(binary.BigEndian.Uint16(req[23:25]))
		return readResponse(make([]byte, count)), nil
	}

	c := &Client{t: mock}
	if _, err := c.readArea(AreaDB, 1, 0, -1, 16); err != nil {
		t.Fatalf("readArea: %v", err)
	}
	if len(mock.requests) != 1 {
		t.Fatalf("issued %d requests, want 1", len(mock.requests))
	}
}

// TestReadAreaPropagatesCPUError verifies a non-0xFF response status is
// surfaced as a CPU error rather than silently truncating the result.
func TestReadAreaPropagatesCPUError(t *testing.T) {
	mock := &mockTransport{pdu: 480}
	mock.onRequest = func(req []byte) ([]byte, error) {
		resp := make([]byte, 25)
		resp[21] = 0x0A // CPU error code
		return resp, nil
	}

	c := &Client{t: mock}
	if _, err := c.readArea(AreaDB, 1, 0, -1, 4); err == nil {
		t.Fatal("expected error for non-0xFF response status")
	}
}

// TestWriteAreaChunksByPDULength verifies writeArea issues
// ceil(size/maxElements) requests, where maxElements = (pdu-35)/wordSize.
func TestWriteAreaChunksByPDULength(t *testing.T) {
	const pdu = 39 // maxElements = (39-35)/1 = 4 for byte-wide writes
	const size = 10
	wantChunks := 3 // ceil(10/4) = 3

	mock := &mockTransport{pdu: pdu}
	var written []byte
	mock.onRequest = func(req []byte) ([]byte, error) {
		count := int(binary.BigEndian.Uint16(req[23:25]))
		written = append(written, req[sizeHeaderWrite:sizeHeaderWrite+count]...)
		return writeResponse(), nil
	}

	c := &Client{t: mock}
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	if err := c.writeArea(AreaDB, 1, 0, -1, data); err != nil {
		t.Fatalf("writeArea: %v", err)
	}
	if len(mock.requests) != wantChunks {
		t.Fatalf("issued %d requests, want %d", len(mock.requests), wantChunks)
	}
	if len(written) != size {
		t.Fatalf("wrote %d bytes, want %d", len(written), size)
	}
	for i, b := range written {
		if b != byte(i) {
			t.Fatalf("written[%d] = %d, want %d", i, b, i)
		}
	}
}

// TestReadSZLAppendsAndSumsContinuations verifies a multi-part SZL query
// appends each continuation's payload (rather than overwriting it) and
// sums each continuation's length header (rather than doubling it).
func TestReadSZLAppendsAndSumsContinuations(t *testing.T) {
	mock := &mockTransport{pdu: 480}
	call := 0
	mock.onRequest = func(req []byte) ([]byte, error) {
		call++
		resp := make([]byte, 45)
		resp[29] = 0xFF // first-response status ok

		switch call {
		case 1:
			binary.BigEndian.PutUint16(resp[31:33], 12) // dataLen = 12-8 = 4
			binary.BigEndian.PutUint16(resp[37:39], 1)
			binary.BigEndian.PutUint16(resp[39:41], 4) // lengthHeader contribution: 4
			copy(resp[41:45], []byte{1, 2, 3, 4})
			resp[26] = 1 // more data follows
			resp[24] = 7 // seq-in to echo
		case 2:
			if req[24] != 7 {
				t.Fatalf("continuation did not echo seq-in: got %d, want 7", req[24])
			}
			binary.BigEndian.PutUint16(resp[31:33], 10) // dataLen = 10-8 = 2
			binary.BigEndian.PutUint16(resp[37:39], 1)
			binary.BigEndian.PutUint16(resp[39:41], 2) // lengthHeader contribution: 2
			copy(resp[41:43], []byte{5, 6})
			resp[26] = 0 // done
		default:
			t.Fatalf("unexpected third exchange call")
		}
		return resp, nil
	}

	c := &Client{t: mock}
	result, err := c.readSZL(0x001C, 0)
	if err != nil {
		t.Fatalf("readSZL: %v", err)
	}
	if call != 2 {
		t.Fatalf("made %d exchange calls, want 2", call)
	}
	want := []byte{1, 2, 3, 4, 5, 6}
	if len(result.data) != len(want) {
		t.Fatalf("result.data = %v, want %v", result.data, want)
	}
	for i, b := range result.data {
		if b != want[i] {
			t.Fatalf("result.data[%d] = %d, want %d (continuations must append, not overwrite)", i, b, want[i])
		}
	}
	if result.lengthHeader != 6 {
		t.Fatalf("result.lengthHeader = %d, want 6 (continuations must sum, not double)", result.lengthHeader)
	}
}

func TestWireAreaMapping(t *testing.T) {
	cases := []struct {
		area     Area
		wantCode byte
		wantWL   byte
	}{
		{AreaDB, AreaDataBausteine, WLByte},
		{AreaI, AreaProcessInput, WLByte},
		{AreaQ, AreaProcessOutput, WLByte},
		{AreaM, AreaMerker, WLByte},
		{AreaT, AreaTimer, WLTimer},
		{AreaC, AreaCounter, WLCounter},
	}
	for _, c := range cases {
		code, wl := wireArea(c.area)
		if code != c.wantCode || wl != c.wantWL {
			t.Errorf("wireArea(%v) = (0x%02x, 0x%02x), want (0x%02x, 0x%02x)", c.area, code, wl, c.wantCode, c.wantWL)
		}
	}
}

func TestEncodeValueRoundTrips(t *testing.T) {
	b, err := encodeValue(TypeReal, float32(53.5))
	if err != nil {
		t.Fatalf("encodeValue(REAL): %v", err)
	}
	bits := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	if got := math.Float32frombits(bits); got != 53.5 {
		t.Fatalf("round-tripped float = %v, want 53.5", got)
	}

	b, err = encodeValue(TypeDInt, int64(-42))
	if err != nil {
		t.Fatalf("encodeValue(DINT): %v", err)
	}
	if len(b) != 4 {
		t.Fatalf("len = %d, want 4", len(b))
	}

	if _, err := encodeValue(TypeBool, "not a bool"); err == nil {
		t.Fatal("expected error converting string to bool")
	}
}

func TestCPUStatusString(t *testing.T) {
	if CPUStatusRun.String() != "run" {
		t.Fatalf("CPUStatusRun.String() = %q", CPUStatusRun.String())
	}
	if CPUStatusStop.String() != "stop" {
		t.Fatalf("CPUStatusStop.String() = %q", CPUStatusStop.String())
	}
	if CPUStatusUnknown.String() != "unknown" {
		t.Fatalf("CPUStatusUnknown.String() = %q", CPUStatusUnknown.String())
	}
}

func TestSZLString(t *testing.T) {
	data := make([]byte, 40)
	copy(data[10:], []byte("S7-1500  "))
	if got := szlString(data, 10, 19); got != "S7-1500" {
		t.Fatalf("szlString = %q, want %q", got, "S7-1500")
	}
	if got := szlString(data, 0, 0); got != "" {
		t.Fatalf("szlString(empty range) = %q, want empty", got)
	}
}
