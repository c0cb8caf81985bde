package s7

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"
)

// Client is a high-level S7 PLC client: connection handshake, the chunked
// read/write job engine, CPU control, and SZL diagnostics.
type Client struct {
	mu   sync.Mutex
	t    transport
	rack int
	slot int
}

// options holds configuration options for Connect.
type options struct {
	rack    int
	slot    int
	role    ConnectionRole
	timeout time.Duration
}

// Option is a functional option for Connect.
type Option func(*options)

// WithRackSlot configures the rack and slot numbers for the PLC.
// Default is rack 0, slot 0 for S7-1200/1500 (most common modern PLCs).
// For S7-300/400, use rack 0, slot 2 (or the slot where the CPU is placed).
func WithRackSlot(rack, slot int) Option {
	return func(o *options) {
		o.rack = rack
		o.slot = slot
	}
}

// WithTimeout configures the connection timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithRole selects the TSAP connection role presented during the ISO
// handshake (PG, OP, or Basic). Default is Basic, matching most third
// party tooling against S7-1200/1500 CPUs.
func WithRole(role ConnectionRole) Option {
	return func(o *options) {
		o.role = role
	}
}

// Connect dials address and performs the ISO-on-TCP/COTP/S7 handshake.
func Connect(address string, opts ...Option) (*Client, error) {
	cfg := &options{
		rack:    0,
		slot:    0,
		role:    RoleBasic,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	tr := newTCPTransport(cfg.role, cfg.timeout)
	if err := tr.connect(address, cfg.rack, cfg.slot); err != nil {
		return nil, err
	}

	return &Client{t: tr, rack: cfg.rack, slot: cfg.slot}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	if c == nil || c.t == nil {
		return
	}
	c.t.close()
}

// IsConnected returns true if the client holds a live connection.
func (c *Client) IsConnected() bool {
	if c == nil || c.t == nil {
		return false
	}
	return c.t.isConnected()
}

// ConnectionMode returns a human-readable string describing the connection.
func (c *Client) ConnectionMode() string {
	if c == nil || !c.IsConnected() {
		return "Not connected"
	}
	return fmt.Sprintf("S7 Connected (Rack %d, Slot %d)", c.rack, c.slot)
}

// TagRequest represents a tag to read with an optional type hint.
type TagRequest struct {
	Address  string // S7 address (e.g., "DB1.0" or "DB1.DBD0")
	TypeHint string // Optional type name (e.g., "DINT") - used when address doesn't specify type
}

// Read reads one or more addresses by their S7 address strings.
func (c *Client) Read(addresses ...string) ([]*TagValue, error) {
	requests := make([]TagRequest, len(addresses))
	for i, addr := range addresses {
		requests[i] = TagRequest{Address: addr}
	}
	return c.ReadWithTypes(requests)
}

// ReadWithTypes reads addresses with optional type hints. Type hints are
// used for simple addresses (DB1.0) that don't specify the data type.
func (c *Client) ReadWithTypes(requests []TagRequest) ([]*TagValue, error) {
	if c == nil || c.t == nil {
		return nil, fmt.Errorf("s7: Read: nil client")
	}
	if len(requests) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	results := make([]*TagValue, 0, len(requests))

	for _, req := range requests {
		addr, err := ParseAddress(req.Address)
		if err != nil {
			results = append(results, &TagValue{Name: req.Address, Error: err})
			continue
		}

		if addr.Size == 0 && req.TypeHint != "" {
			if typeCode, ok := TypeCodeFromName(req.TypeHint); ok {
				addr.DataType = typeCode
				addr.Size = TypeSize(typeCode)
				if addr.Size == 0 {
					switch BaseType(typeCode) {
					case TypeString:
						addr.Size = 256
					case TypeWString:
						addr.Size = 512
					}
				}
			}
		}

		if addr.Size == 0 {
			addr.DataType = TypeDInt
			addr.Size = 4
		}
		if addr.Count < 1 {
			addr.Count = 1
		}

		totalSize := addr.Size * addr.Count
		data, err := c.readArea(addr.Area, addr.DBNumber, addr.Offset, addr.BitNum, totalSize)
		if err != nil {
			results = append(results, &TagValue{Name: req.Address, Error: err})
			continue
		}

		results = append(results, &TagValue{
			Name:     req.Address,
			DataType: addr.DataType,
			Bytes:    data,
			BitNum:   addr.BitNum,
			Count:    addr.Count,
		})
	}

	return results, nil
}

// Write writes a value to an S7 address. The value type is inferred and
// converted appropriately.
func (c *Client) Write(address string, value interface{}) error {
	if c == nil || c.t == nil {
		return fmt.Errorf("s7: Write: nil client")
	}

	addr, err := ParseAddress(address)
	if err != nil {
		return fmt.Errorf("s7: Write: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if addr.BitNum >= 0 {
		return c.writeBit(addr, value)
	}

	if addr.DataType == 0 {
		addr.DataType = TypeDInt
	}
	data, err := encodeValue(addr.DataType, value)
	if err != nil {
		return err
	}
	return c.writeArea(addr.Area, addr.DBNumber, addr.Offset, -1, data)
}

// writeBit sets or clears a single bit with one bit-granular write job;
// the surrounding byte is not read first.
func (c *Client) writeBit(addr *Address, value interface{}) error {
	var v bool
	switch val := value.(type) {
	case bool:
		v = val
	case int:
		v = val != 0
	case int64:
		v = val != 0
	default:
		return fmt.Errorf("s7: cannot convert %T to bool", value)
	}
	return c.writeArea(addr.Area, addr.DBNumber, addr.Offset, addr.BitNum, []byte{boolToByte(v)})
}

func boolToByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// wireArea maps the package's address-model Area to the S7 wire area code,
// and the word length the job engine should use for it. Only Timer/Counter
// areas force a non-byte word length; every other read/write operates in
// byte granularity regardless of the addressed type.
func wireArea(area Area) (byte, byte) {
	switch area {
	case AreaDB:
		return AreaDataBausteine, WLByte
	case AreaI:
		return AreaProcessInput, WLByte
	case AreaQ:
		return AreaProcessOutput, WLByte
	case AreaM:
		return AreaMerker, WLByte
	case AreaT:
		return AreaTimer, WLTimer
	case AreaC:
		return AreaCounter, WLCounter
	default:
		return AreaDataBausteine, WLByte
	}
}

// readArea reads `size` bytes starting at byte offset `start` in the given
// area, chunking into PDU-sized transfers. bitNum >= 0 requests a single
// bit read instead of a byte range; the returned byte then holds that bit
// at position bitNum.
func (c *Client) readArea(area Area, dbNumber, start, bitNum, size int) ([]byte, error) {
	wireAreaCode, wordLen := wireArea(area)
	if bitNum >= 0 {
		wordLen = WLBit
		size = 1
	}

	wordSize := dataSizeByte(wordLen)
	if wordSize == 0 {
		return nil, newErr(ErrInvalidDataSize, "unrecognized word length")
	}

	pdu := c.t.getPDULength()
	if pdu <= 0 {
		return nil, newErr(ErrIO, "not connected")
	}
	maxElements := (pdu - 18) / wordSize
	if maxElements < 1 {
		maxElements = 1
	}

	result := make([]byte, 0, size)
	remaining := size
	offset := start

	for remaining > 0 {
		numElements := remaining / wordSize
		if remaining%wordSize != 0 {
			numElements++
		}
		if numElements > maxElements {
			numElements = maxElements
		}
		sizeRequested := numElements * wordSize
		if sizeRequested > remaining {
			sizeRequested = remaining
		}

		req := newReadWriteTelegram()[:sizeHeaderRead]
		binary.BigEndian.PutUint16(req[13:15], 14)
		req[17] = 4 // Read var
		req[22] = wordLen
		binary.BigEndian.PutUint16(req[23:25], uint16(numElements))
		binary.BigEndian.PutUint16(req[25:27], uint16(dbNumber))
		req[27] = wireAreaCode

		var address int
		if bitNum >= 0 {
			address = offset<<3 | bitNum
		} else {
			address = offset << 3
		}
		req[28] = byte(address >> 16)
		req[29] = byte(address >> 8)
		req[30] = byte(address)
		tpkt(req)

		resp, err := c.t.exchange(req)
		if err != nil {
			return nil, err
		}
		if len(resp) < 25 {
			return nil, newErr(ErrInvalidPdu, "short read response")
		}
		if resp[21] != 0xFF {
			return nil, cpuErr(int(resp[21]))
		}
		if len(resp) < 25+sizeRequested {
			return nil, newErr(ErrInvalidPdu, "truncated read payload")
		}

		result = append(result, resp[25:25+sizeRequested]...)
		offset += numElements * wordSize
		remaining -= sizeRequested
	}

	// A bit job answers with the bit's value in bit 0 of its data byte;
	// move it to position bitNum so it can be masked like a byte read.
	if bitNum >= 0 && len(result) == 1 {
		result[0] = (result[0] & 1) << uint(bitNum)
	}

	return result, nil
}

// writeArea writes data to the given area, chunking into PDU-sized
// transfers. bitNum >= 0 writes a single bit (data must be one byte,
// value in bit 0).
func (c *Client) writeArea(area Area, dbNumber, start, bitNum int, data []byte) error {
	wireAreaCode, wordLen := wireArea(area)
	transportSize := TSResByte
	if bitNum >= 0 {
		wordLen = WLBit
		transportSize = TSResBit
	} else if wordLen == WLTimer || wordLen == WLCounter {
		transportSize = TSResOctet
	}

	wordSize := dataSizeByte(wordLen)
	if wordSize == 0 {
		return newErr(ErrInvalidDataSize, "unrecognized word length")
	}

	pdu := c.t.getPDULength()
	if pdu <= 0 {
		return newErr(ErrIO, "not connected")
	}
	maxElements := (pdu - 35) / wordSize
	if maxElements < 1 {
		maxElements = 1
	}

	remaining := len(data)
	offset := start
	written := 0

	for remaining > 0 {
		numElements := remaining / wordSize
		if remaining%wordSize != 0 {
			numElements++
		}
		if numElements > maxElements {
			numElements = maxElements
		}
		sizeToWrite := numElements * wordSize
		if sizeToWrite > remaining {
			sizeToWrite = remaining
		}

		header := newReadWriteTelegram()
		payload := data[written : written+sizeToWrite]

		req := make([]byte, sizeHeaderWrite+len(payload))
		copy(req, header)
		copy(req[sizeHeaderWrite:], payload)

		req[17] = 5 // Write var
		req[22] = wordLen
		binary.BigEndian.PutUint16(req[23:25], uint16(numElements))
		binary.BigEndian.PutUint16(req[25:27], uint16(dbNumber))
		req[27] = wireAreaCode

		var address int
		if bitNum >= 0 {
			address = offset<<3 | bitNum
		} else {
			address = offset << 3
		}
		req[28] = byte(address >> 16)
		req[29] = byte(address >> 8)
		req[30] = byte(address)

		req[31] = 0
		req[32] = transportSize
		dataLenBits := sizeToWrite
		if transportSize != TSResBit && transportSize != TSResOctet {
			dataLenBits = sizeToWrite * 8
		}
		binary.BigEndian.PutUint16(req[33:35], uint16(dataLenBits))

		binary.BigEndian.PutUint16(req[13:15], 14)
		binary.BigEndian.PutUint16(req[15:17], uint16(4+len(payload)))
		tpkt(req)

		resp, err := c.t.exchange(req)
		if err != nil {
			return err
		}
		if len(resp) < 22 {
			return newErr(ErrInvalidPdu, "short write response")
		}
		if resp[21] != 0xFF {
			return cpuErr(int(resp[21]))
		}

		written += sizeToWrite
		offset += numElements * wordSize
		remaining -= sizeToWrite
	}

	return nil
}

// encodeValue converts a Go value to big-endian bytes for the given type.
func encodeValue(dataType uint16, value interface{}) ([]byte, error) {
	switch BaseType(dataType) {
	case TypeBool:
		return encodeBool(value)
	case TypeByte, TypeSInt, TypeChar:
		return encodeByte(value)
	case TypeWord, TypeInt, TypeDate, TypeWChar:
		return encodeWord(value)
	case TypeDWord, TypeDInt, TypeTime, TypeTimeOfDay:
		return encodeDWord(value)
	case TypeReal:
		return encodeReal(value)
	case TypeLReal:
		return encodeLReal(value)
	case TypeLInt, TypeULInt, TypeLWord:
		return encodeLWord(value)
	default:
		return nil, fmt.Errorf("s7: unsupported data type: %s", TypeName(dataType))
	}
}

func encodeBool(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case bool:
		return []byte{boolToByte(v)}, nil
	case int:
		return []byte{boolToByte(v != 0)}, nil
	case int64:
		return []byte{boolToByte(v != 0)}, nil
	default:
		return nil, fmt.Errorf("s7: cannot convert %T to bool", value)
	}
}

func encodeByte(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case uint8:
		return []byte{v}, nil
	case int8:
		return []byte{byte(v)}, nil
	case int:
		return []byte{byte(v)}, nil
	case int64:
		return []byte{byte(v)}, nil
	case uint64:
		return []byte{byte(v)}, nil
	default:
		return nil, fmt.Errorf("s7: cannot convert %T to byte", value)
	}
}

func encodeWord(value interface{}) ([]byte, error) {
	buf := make([]byte, 2)
	switch v := value.(type) {
	case uint16:
		binary.BigEndian.PutUint16(buf, v)
	case int16:
		binary.BigEndian.PutUint16(buf, uint16(v))
	case int:
		binary.BigEndian.PutUint16(buf, uint16(v))
	case int64:
		binary.BigEndian.PutUint16(buf, uint16(v))
	case uint64:
		binary.BigEndian.PutUint16(buf, uint16(v))
	default:
		return nil, fmt.Errorf("s7: cannot convert %T to word", value)
	}
	return buf, nil
}

func encodeDWord(value interface{}) ([]byte, error) {
	buf := make([]byte, 4)
	switch v := value.(type) {
	case uint32:
		binary.BigEndian.PutUint32(buf, v)
	case int32:
		binary.BigEndian.PutUint32(buf, uint32(v))
	case int:
		binary.BigEndian.PutUint32(buf, uint32(v))
	case int64:
		binary.BigEndian.PutUint32(buf, uint32(v))
	case uint64:
		binary.BigEndian.PutUint32(buf, uint32(v))
	default:
		return nil, fmt.Errorf("s7: cannot convert %T to dword", value)
	}
	return buf, nil
}

func encodeReal(value interface{}) ([]byte, error) {
	buf := make([]byte, 4)
	switch v := value.(type) {
	case float32:
		binary.BigEndian.PutUint32(buf, math.Float32bits(v))
	case float64:
		binary.BigEndian.PutUint32(buf, math.Float32bits(float32(v)))
	default:
		return nil, fmt.Errorf("s7: cannot convert %T to real", value)
	}
	return buf, nil
}

func encodeLReal(value interface{}) ([]byte, error) {
	buf := make([]byte, 8)
	switch v := value.(type) {
	case float64:
		binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	case float32:
		binary.BigEndian.PutUint64(buf, math.Float64bits(float64(v)))
	default:
		return nil, fmt.Errorf("s7: cannot convert %T to lreal", value)
	}
	return buf, nil
}

func encodeLWord(value interface{}) ([]byte, error) {
	buf := make([]byte, 8)
	switch v := value.(type) {
	case uint64:
		binary.BigEndian.PutUint64(buf, v)
	case int64:
		binary.BigEndian.PutUint64(buf, uint64(v))
	case int:
		binary.BigEndian.PutUint64(buf, uint64(v))
	default:
		return nil, fmt.Errorf("s7: cannot convert %T to 64-bit value", value)
	}
	return buf, nil
}

// coldWarmStartStop sends a fixed control telegram and validates the
// response against the opcode/already-in-state byte pair.
func (c *Client) coldWarmStartStop(req []byte, expectOpcode, alreadyCode byte, alreadyMsg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.t.exchange(req)
	if err != nil {
		return err
	}
	if len(resp) < telegramMinResp {
		return newErr(ErrInvalidPdu, "short control response")
	}
	if resp[17] != expectOpcode {
		return cpuErr(int(resp[17]))
	}
	if resp[18] == alreadyCode {
		return newErr(ErrCpuError, alreadyMsg)
	}
	return nil
}

// Start issues a cold start request.
func (c *Client) Start() error {
	return c.coldWarmStartStop(newColdStartTelegram(), pduStart, pduAlreadyStarted, "already started")
}

// Restart issues a warm restart request.
func (c *Client) Restart() error {
	return c.coldWarmStartStop(newWarmStartTelegram(), pduStart, pduAlreadyStarted, "already started")
}

// Stop issues a stop request.
func (c *Client) Stop() error {
	return c.coldWarmStartStop(newStopTelegram(), pduStop, pduAlreadyStopped, "already stopped")
}

// CPUStatus represents the CPU run/stop state reported by PLCStatus.
type CPUStatus int

const (
	CPUStatusUnknown CPUStatus = iota
	CPUStatusRun
	CPUStatusStop
)

func (s CPUStatus) String() string {
	switch s {
	case CPUStatusRun:
		return "run"
	case CPUStatusStop:
		return "stop"
	default:
		return "unknown"
	}
}

// PLCStatus queries the CPU's current run/stop status.
func (c *Client) PLCStatus() (CPUStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.t.exchange(newPLCStatusTelegram())
	if err != nil {
		return CPUStatusUnknown, err
	}
	if len(resp) < plcStatusMinResp {
		return CPUStatusUnknown, newErr(ErrInvalidPdu, "short status response")
	}
	if binary.BigEndian.Uint16(resp[27:29]) != 0 {
		return CPUStatusUnknown, cpuErr(int(resp[21]))
	}
	switch resp[44] {
	case 0x08:
		return CPUStatusRun, nil
	case 0x04:
		return CPUStatusStop, nil
	default:
		return CPUStatusUnknown, newErr(ErrInvalidCpuStatus, fmt.Sprintf("unrecognized status byte 0x%02x", resp[44]))
	}
}

// szlResult accumulates an SZL query's payload across continuation
// telegrams: each continuation's data is appended, and its length header
// summed into the running total, rather than overwritten.
type szlResult struct {
	data         []byte
	lengthHeader int
}

// readSZL performs a (possibly multi-part) System Status List query.
func (c *Client) readSZL(id, index uint16) (*szlResult, error) {
	first := newSZLFirstTelegram()
	binary.BigEndian.PutUint16(first[29:31], id)
	binary.BigEndian.PutUint16(first[31:33], index)

	resp, err := c.t.exchange(first)
	if err != nil {
		return nil, err
	}
	if len(resp) < szlMinFirstResp {
		return nil, newErr(ErrInvalidPdu, "short szl response")
	}
	if binary.BigEndian.Uint16(resp[27:29]) != 0 || resp[29] != 0xFF {
		return nil, cpuErr(int(resp[29]))
	}

	dataLen := int(binary.BigEndian.Uint16(resp[31:33])) - 8
	if dataLen < 0 || len(resp) < 41+dataLen {
		return nil, newErr(ErrInvalidPdu, "malformed szl payload length")
	}

	result := &szlResult{
		lengthHeader: int(binary.BigEndian.Uint16(resp[37:39])) * int(binary.BigEndian.Uint16(resp[39:41])),
	}
	result.data = append(result.data, resp[41:41+dataLen]...)

	done := resp[26] == 0
	seqIn := resp[24]

	for !done {
		next := newSZLNextTelegram()
		next[24] = seqIn

		resp, err = c.t.exchange(next)
		if err != nil {
			return nil, err
		}
		if len(resp) < szlMinFirstResp {
			return nil, newErr(ErrInvalidPdu, "short szl continuation response")
		}
		dataLen = int(binary.BigEndian.Uint16(resp[31:33])) - 8
		if dataLen < 0 || len(resp) < 41+dataLen {
			return nil, newErr(ErrInvalidPdu, "malformed szl continuation length")
		}

		result.data = append(result.data, resp[41:41+dataLen]...)
		result.lengthHeader += int(binary.BigEndian.Uint16(resp[37:39])) * int(binary.BigEndian.Uint16(resp[39:41]))

		done = resp[26] == 0
		seqIn = resp[24]
	}

	return result, nil
}

// CPInfo describes the communication processor's negotiated capacity
// limits, read from SZL 0x0131.
type CPInfo struct {
	MaxPDULength  uint16
	MaxConnections uint16
	MaxMPIRate    uint16
	MaxBusRate    uint16
}

// GetCPInfo reads the communication processor's capacity limits.
func (c *Client) GetCPInfo() (*CPInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	szl, err := c.readSZL(0x0131, 0)
	if err != nil {
		return nil, err
	}
	if len(szl.data) < 12 {
		return nil, newErr(ErrInvalidPdu, "short cp info szl")
	}

	return &CPInfo{
		MaxPDULength:   binary.BigEndian.Uint16(szl.data[2:4]),
		MaxConnections: binary.BigEndian.Uint16(szl.data[4:6]),
		MaxMPIRate:     binary.BigEndian.Uint16(szl.data[6:8]),
		MaxBusRate:     binary.BigEndian.Uint16(szl.data[10:12]),
	}, nil
}

// CPUInfo describes the connected CPU module, read from SZL 0x001C.
type CPUInfo struct {
	ModuleTypeName string
	SerialNumber   string
	ASName         string
	Copyright      string
	ModuleName     string
}

// GetCPUInfo returns information about the connected CPU.
func (c *Client) GetCPUInfo() (*CPUInfo, error) {
	if c == nil || c.t == nil {
		return nil, fmt.Errorf("s7: GetCPUInfo: nil client")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	szl, err := c.readSZL(0x001C, 0)
	if err != nil {
		return nil, err
	}

	return &CPUInfo{
		ModuleTypeName: szlString(szl.data, 172, 204),
		SerialNumber:   szlString(szl.data, 138, 162),
		ASName:         szlString(szl.data, 2, 26),
		Copyright:      szlString(szl.data, 104, 130),
		ModuleName:     szlString(szl.data, 36, 60),
	}, nil
}

func szlString(data []byte, start, end int) string {
	if start < 0 || end > len(data) || start >= end {
		return ""
	}
	raw := data[start:end]
	n := len(raw)
	for n > 0 && (raw[n-1] == 0 || raw[n-1] == ' ') {
		n--
	}
	return string(raw[:n])
}
