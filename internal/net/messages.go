package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	. "orderbooks/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrFrameTooLarge      = errors.New("frame exceeds maximum size")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
	QueryTop
)

type ReportType uint8

const (
	HeartbeatReport ReportType = iota
	AckReport
	ExecutionReport
	CancelReport
	TopReport
	ErrorReport
)

// TopReport flags.
const (
	FlagHasBid uint8 = 1 << iota
	FlagHasAsk
)

// Message format constants
const (
	FrameHeaderLen              = 2
	MaxFrameLen                 = 4 * 1024
	BaseMessageHeaderLen        = 2
	NewOrderMessageHeaderLen    = 2 + 1 + 8 + 8 + 1
	CancelOrderMessageHeaderLen = 1
)

// ReadFrame reads one length-prefixed payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [FrameHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(header[:]))
	if n > MaxFrameLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes payload behind its length prefix in a single write.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameLen {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, FrameHeaderLen+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(payload)))
	copy(buf[FrameHeaderLen:], payload)
	_, err := w.Write(buf)
	return err
}

type Message interface {
	GetType() MessageType
}

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

func (m BaseMessage) Serialize() []byte {
	return binary.BigEndian.AppendUint16(nil, uint16(m.TypeOf))
}

// ParseMessage decodes one request payload.
func ParseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return BaseMessage{}, fmt.Errorf("%w: no header", ErrMessageTooShort)
	}

	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	msg = msg[2:]
	switch typeOf {
	case Heartbeat, QueryTop:
		return BaseMessage{TypeOf: typeOf}, nil
	case NewOrder:
		return parseNewOrder(msg)
	case CancelOrder:
		return parseCancelOrder(msg)
	default:
		return BaseMessage{}, fmt.Errorf("%w: %d", ErrInvalidMessageType, typeOf)
	}
}

type NewOrderMessage struct {
	BaseMessage
	OrderType   OrderType // 2 bytes
	Side        Side      // 1 byte
	LimitPrice  float64   // 8 bytes
	Quantity    uint64    // 8 bytes
	UsernameLen uint8     // 1 byte
	Username    string    // n bytes
}

func parseNewOrder(msg []byte) (NewOrderMessage, error) {
	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}
	if len(msg) < NewOrderMessageHeaderLen {
		return NewOrderMessage{}, fmt.Errorf("%w: new order", ErrMessageTooShort)
	}

	m.OrderType = OrderType(binary.BigEndian.Uint16(msg[0:2]))
	m.Side = Side(msg[2])
	m.LimitPrice = math.Float64frombits(binary.BigEndian.Uint64(msg[3:11]))
	m.Quantity = binary.BigEndian.Uint64(msg[11:19])
	m.UsernameLen = msg[19]

	// Calculate expected total length.
	expectedTotalLen := NewOrderMessageHeaderLen + int(m.UsernameLen)
	if len(msg) < expectedTotalLen {
		return NewOrderMessage{}, fmt.Errorf("%w: username", ErrMessageTooShort)
	}
	m.Username = string(msg[NewOrderMessageHeaderLen:expectedTotalLen])

	return m, nil
}

// Serialize encodes the message as a client would send it.
func (m NewOrderMessage) Serialize() []byte {
	username := truncate(m.Username, math.MaxUint8)
	buf := make([]byte, BaseMessageHeaderLen+NewOrderMessageHeaderLen+len(username))
	binary.BigEndian.PutUint16(buf[0:2], uint16(NewOrder))
	body := buf[BaseMessageHeaderLen:]
	binary.BigEndian.PutUint16(body[0:2], uint16(m.OrderType))
	body[2] = byte(m.Side)
	binary.BigEndian.PutUint64(body[3:11], math.Float64bits(m.LimitPrice))
	binary.BigEndian.PutUint64(body[11:19], m.Quantity)
	body[19] = uint8(len(username))
	copy(body[NewOrderMessageHeaderLen:], username)
	return buf
}

type CancelOrderMessage struct {
	BaseMessage
	OrderIDLen uint8  // 1 byte
	OrderID    string // n bytes
}

func parseCancelOrder(msg []byte) (CancelOrderMessage, error) {
	m := CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}

	if len(msg) < CancelOrderMessageHeaderLen {
		return CancelOrderMessage{}, fmt.Errorf("%w: cancel order", ErrMessageTooShort)
	}
	m.OrderIDLen = msg[0]
	if len(msg) < CancelOrderMessageHeaderLen+int(m.OrderIDLen) {
		return CancelOrderMessage{}, fmt.Errorf("%w: order id", ErrMessageTooShort)
	}
	m.OrderID = string(msg[1 : 1+m.OrderIDLen])

	return m, nil
}

func (m CancelOrderMessage) Serialize() []byte {
	id := truncate(m.OrderID, math.MaxUint8)
	buf := make([]byte, BaseMessageHeaderLen+CancelOrderMessageHeaderLen+len(id))
	binary.BigEndian.PutUint16(buf[0:2], uint16(CancelOrder))
	buf[2] = uint8(len(id))
	copy(buf[3:], id)
	return buf
}

// Report is every message the server sends. Fields a report type does not
// use are zero. TopReport carries the bid in Price/Quantity, the ask in
// AltPrice/AltQuantity and FlagHasBid/FlagHasAsk in Status.
type Report struct {
	ReportType      ReportType // 1 byte
	Side            Side       // 1 byte
	Status          uint8      // 1 byte
	Timestamp       uint64     // 8 bytes
	TradeID         uint64     // 8 bytes
	Quantity        uint64     // 8 bytes
	Price           float64    // 8 bytes
	AltQuantity     uint64     // 8 bytes
	AltPrice        float64    // 8 bytes
	OrderIDLen      uint8      // 1 byte
	CounterpartyLen uint8      // 1 byte
	ErrStrLen       uint16     // 2 bytes
	OrderID         string     // n bytes
	Counterparty    string     // n bytes (in this case we show who)
	Err             string     // n bytes
}

const reportFixedHeaderLen = 1 + 1 + 1 + 8 + 8 + 8 + 8 + 8 + 8 + 1 + 1 + 2

// Serialize converts the report to be sent on the wire. Variable length
// fields that overflow their length prefix are truncated.
func (r *Report) Serialize() []byte {
	orderID := truncate(r.OrderID, math.MaxUint8)
	counterparty := truncate(r.Counterparty, math.MaxUint8)
	errStr := truncate(r.Err, MaxFrameLen-reportFixedHeaderLen-len(orderID)-len(counterparty))
	r.OrderIDLen = uint8(len(orderID))
	r.CounterpartyLen = uint8(len(counterparty))
	r.ErrStrLen = uint16(len(errStr))

	buf := make([]byte, reportFixedHeaderLen, reportFixedHeaderLen+len(orderID)+len(counterparty)+len(errStr))
	buf[0] = byte(r.ReportType)
	buf[1] = byte(r.Side)
	buf[2] = r.Status
	binary.BigEndian.PutUint64(buf[3:11], r.Timestamp)
	binary.BigEndian.PutUint64(buf[11:19], r.TradeID)
	binary.BigEndian.PutUint64(buf[19:27], r.Quantity)
	binary.BigEndian.PutUint64(buf[27:35], math.Float64bits(r.Price))
	binary.BigEndian.PutUint64(buf[35:43], r.AltQuantity)
	binary.BigEndian.PutUint64(buf[43:51], math.Float64bits(r.AltPrice))
	buf[51] = r.OrderIDLen
	buf[52] = r.CounterpartyLen
	binary.BigEndian.PutUint16(buf[53:55], r.ErrStrLen)

	buf = append(buf, orderID...)
	buf = append(buf, counterparty...)
	buf = append(buf, errStr...)
	return buf
}

// ParseReport decodes a report payload, as a client would on receipt.
func ParseReport(buf []byte) (Report, error) {
	if len(buf) < reportFixedHeaderLen {
		return Report{}, fmt.Errorf("%w: report header", ErrMessageTooShort)
	}
	r := Report{
		ReportType:      ReportType(buf[0]),
		Side:            Side(buf[1]),
		Status:          buf[2],
		Timestamp:       binary.BigEndian.Uint64(buf[3:11]),
		TradeID:         binary.BigEndian.Uint64(buf[11:19]),
		Quantity:        binary.BigEndian.Uint64(buf[19:27]),
		Price:           math.Float64frombits(binary.BigEndian.Uint64(buf[27:35])),
		AltQuantity:     binary.BigEndian.Uint64(buf[35:43]),
		AltPrice:        math.Float64frombits(binary.BigEndian.Uint64(buf[43:51])),
		OrderIDLen:      buf[51],
		CounterpartyLen: buf[52],
		ErrStrLen:       binary.BigEndian.Uint16(buf[53:55]),
	}

	offset := reportFixedHeaderLen
	expected := offset + int(r.OrderIDLen) + int(r.CounterpartyLen) + int(r.ErrStrLen)
	if len(buf) < expected {
		return Report{}, fmt.Errorf("%w: report body", ErrMessageTooShort)
	}
	r.OrderID = string(buf[offset : offset+int(r.OrderIDLen)])
	offset += int(r.OrderIDLen)
	r.Counterparty = string(buf[offset : offset+int(r.CounterpartyLen)])
	offset += int(r.CounterpartyLen)
	r.Err = string(buf[offset : offset+int(r.ErrStrLen)])
	return r, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
