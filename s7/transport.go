package s7

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"s7link/logging"
)

const defaultS7Port = 102

// ConnectionRole selects the TSAP role presented during the ISO handshake.
type ConnectionRole byte

const (
	RolePG    ConnectionRole = 1
	RoleOP    ConnectionRole = 2
	RoleBasic ConnectionRole = 3
)

// transport is the seam between Client's chunking/job logic and the wire.
// *tcpTransport is the only production implementation; tests substitute a
// mock to exercise readArea/writeArea/readSZL without a real socket.
type transport interface {
	exchange(request []byte) ([]byte, error)
	getPDULength() int
	close() error
	isConnected() bool
}

// tcpTransport owns one TCP connection to a PLC and implements the
// ISO-on-TCP/COTP/S7 handshake plus a single synchronous exchange
// primitive. One request/response pair is in flight at a time.
type tcpTransport struct {
	mu        sync.Mutex
	conn      net.Conn
	address   string
	rack      int
	slot      int
	role      ConnectionRole
	timeout   time.Duration
	pduLength int
	connected bool
}

func newTCPTransport(role ConnectionRole, timeout time.Duration) *tcpTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &tcpTransport{role: role, timeout: timeout}
}

// connect dials the PLC, performs the ISO-CR/CC handshake, and negotiates
// the PDU length.
func (t *tcpTransport) connect(address string, rack, slot int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, _, err := net.SplitHostPort(address); err != nil {
		address = fmt.Sprintf("%s:%d", address, defaultS7Port)
	}

	t.address = address
	t.rack = rack
	t.slot = slot

	logging.DebugConnect("s7", address)
	logging.DebugLog("s7", "connecting rack=%d slot=%d role=%d", rack, slot, t.role)

	conn, err := net.DialTimeout("tcp", address, t.timeout)
	if err != nil {
		logging.DebugConnectError("s7", address, err)
		return wrapErr(ErrConnect, address, err)
	}
	t.conn = conn

	if err := t.conn.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		t.conn.Close()
		t.conn = nil
		return wrapErr(ErrIO, "set deadline", err)
	}

	if err := t.isoConnect(); err != nil {
		t.conn.Close()
		t.conn = nil
		logging.DebugConnectError("s7", address, err)
		return err
	}

	if err := t.negotiatePDULength(); err != nil {
		t.conn.Close()
		t.conn = nil
		logging.DebugConnectError("s7", address, err)
		return err
	}

	t.connected = true
	t.conn.SetDeadline(time.Time{})
	logging.DebugConnectSuccess("s7", address, fmt.Sprintf("rack=%d slot=%d pdu=%d", rack, slot, t.pduLength))
	return nil
}

func (t *tcpTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connected = false
	if t.conn != nil {
		logging.DebugDisconnect("s7", t.address, "close requested")
		err := t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}

func (t *tcpTransport) isConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *tcpTransport) getPDULength() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pduLength
}

// isoConnect sends the ISO Connection Request telegram and requires the
// peer to answer with a Connection Confirm (0xD0).
func (t *tcpTransport) isoConnect() error {
	msg := newISOConnectionRequestTelegram()

	localTSAP := uint16(0x0100)
	remoteTSAP := (uint16(t.role) << 8) + uint16(t.rack)*0x20 + uint16(t.slot)

	msg[16] = byte(localTSAP >> 8)
	msg[17] = byte(localTSAP)
	msg[20] = byte(remoteTSAP >> 8)
	msg[21] = byte(remoteTSAP)

	if err := t.send(msg); err != nil {
		return wrapErr(ErrIsoConnect, "send CR", err)
	}
	resp, err := t.recv()
	if err != nil {
		return wrapErr(ErrIsoConnect, "recv CC", err)
	}
	if len(resp) < 6 || resp[5] != confirmConnection {
		return newErr(ErrIsoConnect, "peer did not confirm connection")
	}
	return nil
}

// negotiatePDULength sends the PDU Negotiation telegram and records the
// PDU length the PLC grants.
func (t *tcpTransport) negotiatePDULength() error {
	msg := newPDUNegotiationTelegram()

	if err := t.send(msg); err != nil {
		return wrapErr(ErrNegotiatingPdu, "send", err)
	}
	resp, err := t.recv()
	if err != nil {
		return wrapErr(ErrNegotiatingPdu, "recv", err)
	}
	if len(resp) != 27 || resp[17] != 0 || resp[18] != 0 {
		return newErr(ErrNegotiatingPdu, "malformed negotiation response")
	}
	pdu := int(binary.BigEndian.Uint16(resp[25:27]))
	if pdu <= 0 {
		return newErr(ErrNegotiatingPdu, "plc returned zero pdu length")
	}
	t.pduLength = pdu
	return nil
}

// exchange writes a single request telegram and returns the complete
// response frame (TPKT+COTP+S7 payload intact), enforcing strict
// request/response ordering via the transport's mutex.
func (t *tcpTransport) exchange(request []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.conn == nil {
		return nil, newErr(ErrIO, "not connected")
	}

	if err := t.conn.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		t.connected = false
		return nil, wrapErr(ErrIO, "set deadline", err)
	}

	if err := t.send(request); err != nil {
		t.connected = false
		logging.DebugDisconnect("s7", t.address, fmt.Sprintf("send failed: %v", err))
		return nil, wrapErr(ErrIO, "send", err)
	}

	resp, err := t.recv()
	if err != nil {
		t.connected = false
		logging.DebugDisconnect("s7", t.address, fmt.Sprintf("recv failed: %v", err))
		return nil, err
	}
	return resp, nil
}

func (t *tcpTransport) send(frame []byte) error {
	logging.DebugTX("s7", frame)
	_, err := t.conn.Write(frame)
	if err != nil {
		logging.DebugError("s7", "send", err)
	}
	return err
}

// recv implements TPKT framing: loop past bare 7-byte COTP keepalive
// frames, validate the length bound, and read exactly the remaining
// length-4 bytes (COTP header plus S7 payload) via io.ReadFull.
func (t *tcpTransport) recv() ([]byte, error) {
	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(t.conn, header); err != nil {
			return nil, wrapErr(ErrIO, "read tpkt header", err)
		}
		length := int(binary.BigEndian.Uint16(header[2:4]))

		if length == isoHeaderSize {
			cotp := make([]byte, 3)
			if _, err := io.ReadFull(t.conn, cotp); err != nil {
				return nil, wrapErr(ErrIO, "read cotp keepalive", err)
			}
			continue
		}

		if length < minPDUSize || length > pduSizeRequested+isoHeaderSize {
			return nil, &Error{Kind: ErrMalformedFrame, Code: length}
		}

		rest := make([]byte, length-4)
		if _, err := io.ReadFull(t.conn, rest); err != nil {
			return nil, wrapErr(ErrIO, "read frame body", err)
		}

		frame := make([]byte, length)
		copy(frame, header)
		copy(frame[4:], rest)
		logging.DebugRX("s7", frame)
		return frame, nil
	}
}
