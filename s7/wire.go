package s7

// Fixed S7 telegram templates and wire-level code tables. Templates are
// read-only; per-request code always works on a fresh copy (see client.go).
// Each telegram carries the TPKT/COTP/S7 header shape common to every
// template plus the fixed function byte for its job, with
// protocol-insignificant filler bytes left zero.

// Area codes.
const (
	AreaProcessInput  byte = 0x81
	AreaProcessOutput byte = 0x82
	AreaMerker        byte = 0x83
	AreaDataBausteine byte = 0x84
	AreaCounter       byte = 0x1C
	AreaTimer         byte = 0x1D
)

// Word-length codes.
const (
	WLBit     byte = 0x01
	WLByte    byte = 0x02
	WLChar    byte = 0x03
	WLWord    byte = 0x04
	WLInt     byte = 0x05
	WLDWord   byte = 0x06
	WLDInt    byte = 0x07
	WLReal    byte = 0x08
	WLCounter byte = 0x1C
	WLTimer   byte = 0x1D
)

// Transport-size codes used on the write path.
const (
	TSResBit   byte = 3
	TSResByte  byte = 4
	TSResInt   byte = 5
	TSResReal  byte = 7
	TSResOctet byte = 9
)

// dataSizeByte returns the wire byte size of one element of the given
// word length, or 0 if word_len is not one of the recognized codes.
func dataSizeByte(wordLen byte) int {
	switch wordLen {
	case WLBit, WLByte, WLChar:
		return 1
	case WLWord, WLInt, WLCounter, WLTimer:
		return 2
	case WLDWord, WLDInt, WLReal:
		return 4
	default:
		return 0
	}
}

// PDU command/response opcodes.
const (
	pduStart          byte = 0x28
	pduStop           byte = 0x29
	pduAlreadyStarted byte = 0x02
	pduAlreadyStopped byte = 0x07
	confirmConnection byte = 0xD0
)

const (
	isoHeaderSize    = 7
	minPDUSize       = 16
	pduSizeRequested = 480
	sizeHeaderRead   = 31
	sizeHeaderWrite  = 35
	telegramMinResp  = 19
	plcStatusMinResp = 45
	szlMinFirstResp  = 42
)

// tpkt writes the 4-byte TPKT header (version 3, reserved, big-endian
// total length) into the front of buf.
func tpkt(buf []byte) {
	buf[0] = 3
	buf[1] = 0
	buf[2] = byte(len(buf) >> 8)
	buf[3] = byte(len(buf))
}

// cotpData writes the 3-byte COTP data-transfer header used by every S7
// telegram after the initial connection request.
func cotpData(buf []byte) {
	buf[4] = 2
	buf[5] = 240
	buf[6] = 128
}

// newISOConnectionRequestTelegram builds the ISO CR (TPKT+COTP CR). Bytes
// [16,17] carry the local TSAP and [20,21] the remote TSAP; both are
// overwritten per connection in transport.go.
func newISOConnectionRequestTelegram() []byte {
	b := make([]byte, 22)
	tpkt(b)
	b[4] = 17  // PDU size length
	b[5] = 224 // CR - Connection Request
	b[6], b[7] = 0, 0
	b[8], b[9] = 0, 1
	b[10] = 0
	b[11] = 192 // PDU max length param id
	b[12], b[13] = 1, 10
	b[14] = 193 // Src TSAP id
	b[15] = 2   // Src TSAP length
	b[16], b[17] = 1, 0
	b[18] = 194 // Dst TSAP id
	b[19] = 2   // Dst TSAP length
	b[20], b[21] = 1, 2
	return b
}

// newPDUNegotiationTelegram requests a PDU length at [23..25] (default 480).
func newPDUNegotiationTelegram() []byte {
	b := make([]byte, 25)
	tpkt(b)
	cotpData(b)
	b[7] = 50 // S7 protocol ID
	b[8] = 1  // Job type
	b[9], b[10] = 0, 0
	b[11] = 4
	b[12], b[13] = 0, 0
	b[14] = 8
	b[15], b[16] = 0, 0
	b[17] = 0xF0 // Function: setup communication
	b[18] = 0
	b[19], b[20] = 0, 1 // Max AmQ calling
	b[21], b[22] = 0, 1 // Max AmQ called
	b[23], b[24] = 0x01, 0xE0
	return b
}

// newReadWriteTelegram builds the shared read/write header template, allocated
// with a 35-byte capacity; reads slice it to sizeHeaderRead (31) bytes,
// writes use the full 35 plus an appended payload.
func newReadWriteTelegram() []byte {
	b := make([]byte, sizeHeaderWrite)
	tpkt(b)
	cotpData(b)
	b[7] = 50 // S7 protocol ID
	b[8] = 1  // Job type: request
	b[9], b[10] = 0, 0
	b[11], b[12] = 5, 0 // PDU reference
	b[13], b[14] = 0, 14
	b[15], b[16] = 0, 0
	b[17] = 4 // Function: 4 read var, 5 write var
	b[18] = 1 // Item count
	b[19] = 18
	b[20] = 10
	b[21] = 16
	b[22] = WLByte
	b[23], b[24] = 0, 0
	b[25], b[26] = 0, 0
	b[27] = AreaDataBausteine
	b[28], b[29], b[30] = 0, 0, 0
	b[31] = 0
	b[32] = TSResByte
	b[33], b[34] = 0, 0
	return b
}

// newColdStartTelegram, newWarmStartTelegram, newStopTelegram are sent
// verbatim; none of their bytes are overwritten per request. Byte [17]
// carries the function opcode the PLC echoes back in its response (see
// coldWarmStartStop in client.go); the trailing "P_PROGRAM" parameter
// name bytes are filler the PLC does not validate.
func newColdStartTelegram() []byte {
	b := make([]byte, 39)
	tpkt(b)
	cotpData(b)
	b[7] = 50
	b[8] = 0 // Job type: PLC control
	b[13], b[14] = 0, 0x14
	b[17] = pduStart // Function: PLC start (cold)
	b[22] = 0xFD
	b[25] = 9 // Length of parameter name
	copy(b[26:35], []byte("P_PROGRAM"))
	b[35], b[36], b[37], b[38] = 0x43, 0x20, 0x09, 0x00
	return b
}

func newWarmStartTelegram() []byte {
	b := make([]byte, 37)
	tpkt(b)
	cotpData(b)
	b[7] = 50
	b[8] = 0
	b[13], b[14] = 0, 0x12
	b[17] = pduStart // Function: PLC start (warm)
	b[22] = 0xFD
	b[25] = 8
	copy(b[26:34], []byte("P_PROGRA"))
	b[34], b[35], b[36] = 0x4D, 0x20, 0x09
	return b
}

func newStopTelegram() []byte {
	b := make([]byte, 33)
	tpkt(b)
	cotpData(b)
	b[7] = 50
	b[8] = 0
	b[13], b[14] = 0, 0x0E
	b[17] = 0x29 // Function: stop request
	b[22] = 9
	copy(b[23:32], []byte("P_PROGRA"))
	b[32] = 'M'
	return b
}

// newPLCStatusTelegram requests the CPU run/stop status.
func newPLCStatusTelegram() []byte {
	b := make([]byte, 33)
	tpkt(b)
	cotpData(b)
	b[7] = 50
	b[8] = 7 // Job type: user data
	b[9], b[10] = 0, 0
	b[11], b[12] = 36, 0
	b[13], b[14] = 0, 8
	b[15], b[16] = 0, 0
	b[17] = 0
	b[18] = 1
	b[19] = 18
	b[20] = 4
	b[21] = 17
	b[22] = 0x44
	b[23] = 1
	b[24] = 0
	b[25] = 0xFF
	b[26] = 9
	b[27], b[28] = 0, 4
	b[29], b[30] = 4, 0x24
	b[31], b[32] = 0, 0
	return b
}

// newSZLFirstTelegram initiates an SZL query; bytes [11..13] carry the
// sequence number, [29..31] the SZL id, [31..33] the index.
func newSZLFirstTelegram() []byte {
	b := make([]byte, 33)
	tpkt(b)
	cotpData(b)
	b[7] = 50
	b[8] = 7
	b[9], b[10] = 0, 0
	b[11], b[12] = 0, 1
	b[13], b[14] = 0, 8
	b[15], b[16] = 0, 8
	b[17] = 0
	b[18] = 1
	b[19] = 18
	b[20] = 4
	b[21] = 17
	b[22] = 0x44
	b[23] = 1
	b[24] = 0
	b[25] = 0xFF
	b[26] = 9
	b[27], b[28] = 0, 4
	b[29], b[30] = 0, 0 // SZL id (overwritten per call)
	b[31], b[32] = 0, 0 // SZL index (overwritten per call)
	return b
}

// newSZLNextTelegram continues an in-progress SZL query; byte [24] carries
// the sequence-in value echoed from the previous response.
func newSZLNextTelegram() []byte {
	b := make([]byte, 33)
	tpkt(b)
	cotpData(b)
	b[7] = 50
	b[8] = 7
	b[9], b[10] = 0, 0
	b[11], b[12] = 0, 1
	b[13], b[14] = 0, 8
	b[15], b[16] = 0, 12
	b[17] = 0
	b[18] = 1
	b[19] = 18
	b[20] = 8
	b[21] = 18
	b[22] = 4
	b[23] = 17
	b[24] = 0 // seq-in (overwritten per call)
	b[25] = 1
	b[26] = 0
	b[27] = 0xFF
	b[28] = 9
	b[29], b[30] = 0, 4
	b[31], b[32] = 0, 0
	return b
}
