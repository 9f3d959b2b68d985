package thrift

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/relaymesh/dataplane/pkg/buffer"
)

var strictMagic = [2]byte{0x80, 0x01}

// StrictBinaryProtocol implements spec.md §4.5's strict-binary framing:
// a versioned message header (`0x8001 | unused | msg_type | name_len |
// name | seq_id`) followed by the shared field/container/string wire
// format.
type StrictBinaryProtocol struct{}

func (StrictBinaryProtocol) Name() string { return "binary" }

func (StrictBinaryProtocol) StructBegin() {}
func (StrictBinaryProtocol) StructEnd()   {}

func (StrictBinaryProtocol) ReadMessageBegin(buf *buffer.Buffer) (MessageHeader, bool, error) {
	head, ok := buf.PeekN(4)
	if !ok {
		return MessageHeader{}, false, nil
	}
	if head[0] != strictMagic[0] || head[1] != strictMagic[1] {
		return MessageHeader{}, false, frameErr(buf, "invalid binary protocol version")
	}
	msgType := MessageType(int8(head[3]))
	if !msgType.valid() {
		return MessageHeader{}, false, frameErr(buf, "invalid binary protocol message type")
	}

	nameLenBytes, ok := buf.PeekN(8)
	if !ok {
		return MessageHeader{}, false, nil
	}
	nameLen := int(int32(binary.BigEndian.Uint32(nameLenBytes[4:8])))
	if err := checkSize(buf, nameLen, "message name"); err != nil {
		return MessageHeader{}, false, err
	}

	total := 8 + nameLen + 4
	full, ok := buf.PeekN(total)
	if !ok {
		return MessageHeader{}, false, nil
	}

	name := string(full[8 : 8+nameLen])
	seqID := int32(binary.BigEndian.Uint32(full[8+nameLen : 8+nameLen+4]))

	buf.DrainN(total)
	return MessageHeader{Name: name, Type: msgType, SeqID: seqID}, true, nil
}

func (StrictBinaryProtocol) ReadFieldBegin(buf *buffer.Buffer) (FieldHeader, bool, error) {
	b, ok := buf.PeekN(1)
	if !ok {
		return FieldHeader{}, false, nil
	}
	ft := FieldType(int8(b[0]))
	if ft == Stop {
		buf.DrainN(1)
		return FieldHeader{Type: Stop}, true, nil
	}
	full, ok := buf.PeekN(3)
	if !ok {
		return FieldHeader{}, false, nil
	}
	id := int16(binary.BigEndian.Uint16(full[1:3]))
	if id < 0 {
		return FieldHeader{}, false, frameErr(buf, "field id must be >= 0, got %d", id)
	}
	buf.DrainN(3)
	return FieldHeader{Type: ft, ID: id}, true, nil
}

func (StrictBinaryProtocol) ReadMapBegin(buf *buffer.Buffer) (MapHeader, bool, error) {
	full, ok := buf.PeekN(6)
	if !ok {
		return MapHeader{}, false, nil
	}
	size := int32(binary.BigEndian.Uint32(full[2:6]))
	if err := checkSize(buf, int(size), "map"); err != nil {
		return MapHeader{}, false, err
	}
	buf.DrainN(6)
	return MapHeader{KeyType: FieldType(int8(full[0])), ValueType: FieldType(int8(full[1])), Size: size}, true, nil
}

func readListLike(buf *buffer.Buffer) (ListHeader, bool, error) {
	full, ok := buf.PeekN(5)
	if !ok {
		return ListHeader{}, false, nil
	}
	size := int32(binary.BigEndian.Uint32(full[1:5]))
	if err := checkSize(buf, int(size), "list/set"); err != nil {
		return ListHeader{}, false, err
	}
	buf.DrainN(5)
	return ListHeader{ElemType: FieldType(int8(full[0])), Size: size}, true, nil
}

func (StrictBinaryProtocol) ReadListBegin(buf *buffer.Buffer) (ListHeader, bool, error) {
	return readListLike(buf)
}

func (StrictBinaryProtocol) ReadSetBegin(buf *buffer.Buffer) (ListHeader, bool, error) {
	return readListLike(buf)
}

func (StrictBinaryProtocol) ReadBool(buf *buffer.Buffer) (bool, bool, error) {
	b, ok := buf.DrainN(1)
	if !ok {
		return false, false, nil
	}
	return b[0] != 0, true, nil
}

func (StrictBinaryProtocol) ReadByte(buf *buffer.Buffer) (int8, bool, error) {
	b, ok := buf.DrainN(1)
	if !ok {
		return 0, false, nil
	}
	return int8(b[0]), true, nil
}

func (StrictBinaryProtocol) ReadI16(buf *buffer.Buffer) (int16, bool, error) {
	b, ok := buf.DrainN(2)
	if !ok {
		return 0, false, nil
	}
	return int16(binary.BigEndian.Uint16(b)), true, nil
}

func (StrictBinaryProtocol) ReadI32(buf *buffer.Buffer) (int32, bool, error) {
	b, ok := buf.DrainN(4)
	if !ok {
		return 0, false, nil
	}
	return int32(binary.BigEndian.Uint32(b)), true, nil
}

func (StrictBinaryProtocol) ReadI64(buf *buffer.Buffer) (int64, bool, error) {
	b, ok := buf.DrainN(8)
	if !ok {
		return 0, false, nil
	}
	return int64(binary.BigEndian.Uint64(b)), true, nil
}

func (StrictBinaryProtocol) ReadDouble(buf *buffer.Buffer) (float64, bool, error) {
	b, ok := buf.DrainN(8)
	if !ok {
		return 0, false, nil
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), true, nil
}

func readBinaryLike(buf *buffer.Buffer) ([]byte, bool, error) {
	lenBytes, ok := buf.PeekN(4)
	if !ok {
		return nil, false, nil
	}
	n := int(int32(binary.BigEndian.Uint32(lenBytes)))
	if err := checkSize(buf, n, "string"); err != nil {
		return nil, false, err
	}
	full, ok := buf.PeekN(4 + n)
	if !ok {
		return nil, false, nil
	}
	buf.DrainN(4 + n)
	return full[4:], true, nil
}

func (StrictBinaryProtocol) ReadString(buf *buffer.Buffer) (string, bool, error) {
	b, ok, err := readBinaryLike(buf)
	if !ok || err != nil {
		return "", ok, err
	}
	return string(b), true, nil
}

func (StrictBinaryProtocol) ReadBinary(buf *buffer.Buffer) ([]byte, bool, error) {
	return readBinaryLike(buf)
}

func (StrictBinaryProtocol) WriteMessageBegin(buf *buffer.Buffer, h MessageHeader) error {
	nameBytes := []byte(h.Name)
	if err := checkWriteSize(uint32(len(nameBytes)), "message name"); err != nil {
		return err
	}
	out := make([]byte, 0, 8+len(nameBytes)+4)
	out = append(out, strictMagic[0], strictMagic[1], 0, byte(h.Type))
	out = binary.BigEndian.AppendUint32(out, uint32(len(nameBytes)))
	out = append(out, nameBytes...)
	out = binary.BigEndian.AppendUint32(out, uint32(h.SeqID))
	buf.Append(out)
	return nil
}

func (StrictBinaryProtocol) WriteFieldBegin(buf *buffer.Buffer, h FieldHeader) error {
	if h.ID < 0 {
		return fmt.Errorf("field id must be >= 0, got %d", h.ID)
	}
	out := make([]byte, 0, 3)
	out = append(out, byte(h.Type))
	out = binary.BigEndian.AppendUint16(out, uint16(h.ID))
	buf.Append(out)
	return nil
}

func (StrictBinaryProtocol) WriteFieldStop(buf *buffer.Buffer) error {
	buf.Append([]byte{byte(Stop)})
	return nil
}

func (StrictBinaryProtocol) WriteMapBegin(buf *buffer.Buffer, h MapHeader) error {
	if err := checkWriteSize(uint32(h.Size), "map"); err != nil {
		return err
	}
	out := []byte{byte(h.KeyType), byte(h.ValueType)}
	out = binary.BigEndian.AppendUint32(out, uint32(h.Size))
	buf.Append(out)
	return nil
}

func writeListLike(buf *buffer.Buffer, h ListHeader) error {
	if err := checkWriteSize(uint32(h.Size), "list/set"); err != nil {
		return err
	}
	out := []byte{byte(h.ElemType)}
	out = binary.BigEndian.AppendUint32(out, uint32(h.Size))
	buf.Append(out)
	return nil
}

func (StrictBinaryProtocol) WriteListBegin(buf *buffer.Buffer, h ListHeader) error {
	return writeListLike(buf, h)
}

func (StrictBinaryProtocol) WriteSetBegin(buf *buffer.Buffer, h ListHeader) error {
	return writeListLike(buf, h)
}

func (StrictBinaryProtocol) WriteBool(buf *buffer.Buffer, v bool) error {
	if v {
		buf.Append([]byte{1})
	} else {
		buf.Append([]byte{0})
	}
	return nil
}

func (StrictBinaryProtocol) WriteByte(buf *buffer.Buffer, v int8) error {
	buf.Append([]byte{byte(v)})
	return nil
}

func (StrictBinaryProtocol) WriteI16(buf *buffer.Buffer, v int16) error {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(v))
	buf.Append(out)
	return nil
}

func (StrictBinaryProtocol) WriteI32(buf *buffer.Buffer, v int32) error {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, uint32(v))
	buf.Append(out)
	return nil
}

func (StrictBinaryProtocol) WriteI64(buf *buffer.Buffer, v int64) error {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(v))
	buf.Append(out)
	return nil
}

func (StrictBinaryProtocol) WriteDouble(buf *buffer.Buffer, v float64) error {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, math.Float64bits(v))
	buf.Append(out)
	return nil
}

func writeBinaryLike(buf *buffer.Buffer, v []byte) error {
	if err := checkWriteSize(uint32(len(v)), "string"); err != nil {
		return err
	}
	out := make([]byte, 0, 4+len(v))
	out = binary.BigEndian.AppendUint32(out, uint32(len(v)))
	out = append(out, v...)
	buf.Append(out)
	return nil
}

func (StrictBinaryProtocol) WriteString(buf *buffer.Buffer, v string) error {
	return writeBinaryLike(buf, []byte(v))
}

func (StrictBinaryProtocol) WriteBinary(buf *buffer.Buffer, v []byte) error {
	return writeBinaryLike(buf, v)
}
