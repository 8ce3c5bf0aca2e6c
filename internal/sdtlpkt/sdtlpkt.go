// Package sdtlpkt implements the SDTL packet layer: the base header
// shared by every packet type, and the three concrete packet shapes
// (DATA, ACK, CMD) carried as the bbee frame payload. Encode/Decode
// enforce the per-type strict length rules from the channel state
// machine's validation step.
package sdtlpkt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PktType is the 2-bit packet type carried in the base header's attr
// field.
type PktType uint8

const (
	PktData PktType = 0
	PktAck  PktType = 1
	PktCmd  PktType = 2
)

const attrTypeMask = 0x03

// DATA packet flags.
const (
	FlagFirstPkt byte = 1 << iota
	FlagLastPkt
	FlagReliable
)

// AckCode is the ACK packet's outcome code.
type AckCode uint8

const (
	AckGotPkt AckCode = iota
	AckCanceled
	AckNoReceiver
	AckOutBandEvent
	AckGotCmd
)

// CmdCode is the CMD packet's command code.
type CmdCode uint8

const (
	CmdReset CmdCode = iota
	CmdCancel
)

// ErrNonConsistentLength and ErrInvalidFrameType mirror
// SDTL_NON_CONSIST_FRM_LEN / SDTL_INVALID_FRAME_TYPE from the original
// header validation.
var (
	ErrNonConsistentLength = errors.New("sdtlpkt: declared length does not match frame length")
	ErrInvalidFrameType    = errors.New("sdtlpkt: unrecognized packet type in base header")
)

// BaseHeader is the common prefix of every SDTL packet.
type BaseHeader struct {
	Attr PktType
	ChID uint8
}

func (h BaseHeader) encode(buf []byte) {
	buf[0] = byte(h.Attr) & attrTypeMask
	buf[1] = h.ChID
}

const baseHeaderLen = 2

// DataHeader is the DATA packet: base header, sequence code, fragment
// count, flags and payload size, followed by the payload bytes.
type DataHeader struct {
	Base        BaseHeader
	SeqCode     uint16
	Cnt         uint8
	Flags       byte
	PayloadSize uint16
}

const dataHeaderLen = baseHeaderLen + 2 + 1 + 1 + 2 // = 8

// EncodeData serializes a DATA header followed by payload.
func EncodeData(h DataHeader, payload []byte) []byte {
	h.Base.Attr = PktData
	h.PayloadSize = uint16(len(payload))

	buf := make([]byte, dataHeaderLen+len(payload))
	h.Base.encode(buf)
	binary.LittleEndian.PutUint16(buf[2:4], h.SeqCode)
	buf[4] = h.Cnt
	buf[5] = h.Flags
	binary.LittleEndian.PutUint16(buf[6:8], h.PayloadSize)
	copy(buf[dataHeaderLen:], payload)
	return buf
}

// DecodeData validates and parses a DATA packet. data_len must equal
// sizeof(header) + payload_size exactly (SDTL_NON_CONSIST_FRM_LEN
// otherwise).
func DecodeData(frame []byte) (DataHeader, []byte, error) {
	if len(frame) < dataHeaderLen {
		return DataHeader{}, nil, fmt.Errorf("sdtlpkt: data frame too short: %w", ErrNonConsistentLength)
	}

	h := DataHeader{
		Base:    BaseHeader{Attr: PktType(frame[0] & attrTypeMask), ChID: frame[1]},
		SeqCode: binary.LittleEndian.Uint16(frame[2:4]),
		Cnt:     frame[4],
		Flags:   frame[5],
	}
	h.PayloadSize = binary.LittleEndian.Uint16(frame[6:8])

	payload := frame[dataHeaderLen:]
	if int(h.PayloadSize) != len(payload) {
		return DataHeader{}, nil, ErrNonConsistentLength
	}

	return h, payload, nil
}

// AckHeader is the fixed-size ACK packet.
type AckHeader struct {
	Base BaseHeader
	Code AckCode
	Cnt  uint8
}

const ackHeaderLen = baseHeaderLen + 1 + 1 // = 4

// EncodeAck serializes an ACK packet.
func EncodeAck(h AckHeader) []byte {
	h.Base.Attr = PktAck
	buf := make([]byte, ackHeaderLen)
	h.Base.encode(buf)
	buf[2] = byte(h.Code)
	buf[3] = h.Cnt
	return buf
}

// DecodeAck validates and parses an ACK packet. Its length is fixed;
// anything else is SDTL_NON_CONSIST_FRM_LEN.
func DecodeAck(frame []byte) (AckHeader, error) {
	if len(frame) != ackHeaderLen {
		return AckHeader{}, ErrNonConsistentLength
	}
	return AckHeader{
		Base: BaseHeader{Attr: PktType(frame[0] & attrTypeMask), ChID: frame[1]},
		Code: AckCode(frame[2]),
		Cnt:  frame[3],
	}, nil
}

// CmdHeader is the fixed-size CMD packet.
type CmdHeader struct {
	Base    BaseHeader
	SeqCode uint16
	Code    CmdCode
}

const cmdHeaderLen = baseHeaderLen + 2 + 1 // = 5

// EncodeCmd serializes a CMD packet.
func EncodeCmd(h CmdHeader) []byte {
	h.Base.Attr = PktCmd
	buf := make([]byte, cmdHeaderLen)
	h.Base.encode(buf)
	binary.LittleEndian.PutUint16(buf[2:4], h.SeqCode)
	buf[4] = byte(h.Code)
	return buf
}

// DecodeCmd validates and parses a CMD packet. Its length is fixed;
// anything else is SDTL_NON_CONSIST_FRM_LEN.
func DecodeCmd(frame []byte) (CmdHeader, error) {
	if len(frame) != cmdHeaderLen {
		return CmdHeader{}, ErrNonConsistentLength
	}
	return CmdHeader{
		Base:    BaseHeader{Attr: PktType(frame[0] & attrTypeMask), ChID: frame[1]},
		SeqCode: binary.LittleEndian.Uint16(frame[2:4]),
		Code:    CmdCode(frame[4]),
	}, nil
}

// PeekType reads the packet type out of a raw frame's base header
// without committing to any one packet shape, mirroring
// SDTL_PKT_ATTR_PKT_GET_TYPE(base_header->attr) in the RX dispatcher.
func PeekType(frame []byte) (PktType, uint8, error) {
	if len(frame) < baseHeaderLen {
		return 0, 0, ErrNonConsistentLength
	}
	t := PktType(frame[0] & attrTypeMask)
	switch t {
	case PktData, PktAck, PktCmd:
		return t, frame[1], nil
	default:
		return 0, 0, ErrInvalidFrameType
	}
}
