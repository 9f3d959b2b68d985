// Package thrift implements a resumable Thrift wire codec (spec.md
// §4.5): strict-binary, lax-binary, compact, and an auto-detecting
// composite. Every read operation takes a *buffer.Buffer and reports
// whether it consumed a complete value; on incomplete input the buffer
// is left untouched so the caller can retry once more bytes arrive,
// mirroring pkg/buffer's own append-only-on-success discipline.
package thrift

import (
	"fmt"

	"github.com/relaymesh/dataplane/pkg/buffer"
)

// MessageType identifies a Thrift message's kind.
type MessageType int8

const (
	Call      MessageType = 1
	Reply     MessageType = 2
	Exception MessageType = 3
	Oneway    MessageType = 4
)

func (t MessageType) valid() bool {
	return t >= Call && t <= Oneway
}

// FieldType identifies the wire type of a struct field or container
// element.
type FieldType int8

const (
	Stop       FieldType = 0
	VoidType   FieldType = 1
	BoolType   FieldType = 2
	ByteType   FieldType = 3
	DoubleType FieldType = 4
	I16Type    FieldType = 6
	I32Type    FieldType = 8
	I64Type    FieldType = 10
	StringType FieldType = 11
	StructType FieldType = 12
	MapType    FieldType = 13
	SetType    FieldType = 14
	ListType   FieldType = 15
)

// FrameError reports malformed input: a specific framing violation
// detected at a known point in the stream. ByteOffset is the buffer's
// length at the moment the violation was detected, per spec.md §7.
type FrameError struct {
	Msg        string
	ByteOffset int
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s (at byte offset %d)", e.Msg, e.ByteOffset)
}

func frameErr(buf *buffer.Buffer, format string, args ...interface{}) error {
	return &FrameError{Msg: fmt.Sprintf(format, args...), ByteOffset: buf.Len()}
}

// MessageHeader is the decoded envelope of a Thrift message.
type MessageHeader struct {
	Name  string
	Type  MessageType
	SeqID int32
}

// FieldHeader is the decoded envelope of one struct field.
type FieldHeader struct {
	Type FieldType
	ID   int16
}

// MapHeader is the decoded envelope of a map container.
type MapHeader struct {
	KeyType   FieldType
	ValueType FieldType
	Size      int32
}

// ListHeader is the decoded envelope of a list or set container.
type ListHeader struct {
	ElemType FieldType
	Size     int32
}

// Protocol is one Thrift wire framing. Every Read* method returns
// (value, true, nil) on success, (zero, false, nil) when buf holds an
// incomplete value (buf is left untouched), or (zero, false, err) on a
// framing violation. Write* methods append directly to buf and return
// an error only for arguments they cannot encode: a size outside int32
// (spec.md §4.5), a negative field id, or (compact) a field type with
// no compact code.
//
// A Protocol instance is not safe for concurrent use: per spec.md §5 a
// connection's filter state, codec included, is confined to a single
// worker.
type Protocol interface {
	Name() string

	// StructBegin/StructEnd bracket one struct's fields. Binary framings
	// encode no struct boundary on the wire and treat these as no-ops;
	// compact's field-id delta encoding resets per struct, so it tracks
	// a stack across nested calls.
	StructBegin()
	StructEnd()

	ReadMessageBegin(buf *buffer.Buffer) (MessageHeader, bool, error)
	ReadFieldBegin(buf *buffer.Buffer) (FieldHeader, bool, error)
	ReadMapBegin(buf *buffer.Buffer) (MapHeader, bool, error)
	ReadListBegin(buf *buffer.Buffer) (ListHeader, bool, error)
	ReadSetBegin(buf *buffer.Buffer) (ListHeader, bool, error)
	ReadBool(buf *buffer.Buffer) (bool, bool, error)
	ReadByte(buf *buffer.Buffer) (int8, bool, error)
	ReadI16(buf *buffer.Buffer) (int16, bool, error)
	ReadI32(buf *buffer.Buffer) (int32, bool, error)
	ReadI64(buf *buffer.Buffer) (int64, bool, error)
	ReadDouble(buf *buffer.Buffer) (float64, bool, error)
	ReadString(buf *buffer.Buffer) (string, bool, error)
	ReadBinary(buf *buffer.Buffer) ([]byte, bool, error)

	WriteMessageBegin(buf *buffer.Buffer, h MessageHeader) error
	WriteFieldBegin(buf *buffer.Buffer, h FieldHeader) error
	WriteFieldStop(buf *buffer.Buffer) error
	WriteMapBegin(buf *buffer.Buffer, h MapHeader) error
	WriteListBegin(buf *buffer.Buffer, h ListHeader) error
	WriteSetBegin(buf *buffer.Buffer, h ListHeader) error
	WriteBool(buf *buffer.Buffer, v bool) error
	WriteByte(buf *buffer.Buffer, v int8) error
	WriteI16(buf *buffer.Buffer, v int16) error
	WriteI32(buf *buffer.Buffer, v int32) error
	WriteI64(buf *buffer.Buffer, v int64) error
	WriteDouble(buf *buffer.Buffer, v float64) error
	WriteString(buf *buffer.Buffer, v string) error
	WriteBinary(buf *buffer.Buffer, v []byte) error
}

const maxInt32 = 1<<31 - 1

func checkSize(buf *buffer.Buffer, n int, what string) error {
	if n < 0 {
		return frameErr(buf, "%s size must be >= 0, got %d", what, n)
	}
	return nil
}

func checkWriteSize(n uint32, what string) error {
	if n > maxInt32 {
		return fmt.Errorf("%s size %d exceeds INT32_MAX", what, n)
	}
	return nil
}
