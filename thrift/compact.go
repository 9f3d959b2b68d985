package thrift

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/relaymesh/dataplane/pkg/buffer"
)

const (
	compactProtocolID = 0x82
	compactVersion     = 1
)

const (
	ctStop      = 0x00
	ctBoolTrue  = 0x01
	ctBoolFalse = 0x02
	ctByte      = 0x03
	ctI16       = 0x04
	ctI32       = 0x05
	ctI64       = 0x06
	ctDouble    = 0x07
	ctBinary    = 0x08
	ctList      = 0x09
	ctSet       = 0x0A
	ctMap       = 0x0B
	ctStruct    = 0x0C
)

// CompactProtocol implements spec.md §4.5's compact framing: delta
// field-id encoding, zigzag varints for i16/i32/i64 values (the message
// sequence id is a plain varint), and booleans folded into the
// field-header byte. Field-id tracking is
// per-struct, so callers must bracket fields with StructBegin/StructEnd
// the way Decoder does.
type CompactProtocol struct {
	lastFieldID      int16
	lastFieldIDStack []int16

	pendingBoolValue    bool
	pendingBoolValueSet bool

	pendingBoolFieldID  int16
	pendingBoolFieldSet bool
}

// NewCompactProtocol returns a ready-to-use compact codec instance.
func NewCompactProtocol() *CompactProtocol { return &CompactProtocol{} }

func (c *CompactProtocol) Name() string { return "compact" }

func (c *CompactProtocol) StructBegin() {
	c.lastFieldIDStack = append(c.lastFieldIDStack, c.lastFieldID)
	c.lastFieldID = 0
}

func (c *CompactProtocol) StructEnd() {
	n := len(c.lastFieldIDStack)
	if n == 0 {
		c.lastFieldID = 0
		return
	}
	c.lastFieldID = c.lastFieldIDStack[n-1]
	c.lastFieldIDStack = c.lastFieldIDStack[:n-1]
}

func fromCompactType(buf *buffer.Buffer, ct byte) (FieldType, bool, bool, error) {
	switch ct {
	case ctBoolTrue:
		return BoolType, true, true, nil
	case ctBoolFalse:
		return BoolType, false, true, nil
	case ctByte:
		return ByteType, false, false, nil
	case ctI16:
		return I16Type, false, false, nil
	case ctI32:
		return I32Type, false, false, nil
	case ctI64:
		return I64Type, false, false, nil
	case ctDouble:
		return DoubleType, false, false, nil
	case ctBinary:
		return StringType, false, false, nil
	case ctList:
		return ListType, false, false, nil
	case ctSet:
		return SetType, false, false, nil
	case ctMap:
		return MapType, false, false, nil
	case ctStruct:
		return StructType, false, false, nil
	default:
		return 0, false, false, frameErr(buf, "invalid compact protocol field type %d", ct)
	}
}

func toCompactType(ft FieldType) (byte, error) {
	switch ft {
	case ByteType:
		return ctByte, nil
	case I16Type:
		return ctI16, nil
	case I32Type:
		return ctI32, nil
	case I64Type:
		return ctI64, nil
	case DoubleType:
		return ctDouble, nil
	case StringType:
		return ctBinary, nil
	case ListType:
		return ctList, nil
	case SetType:
		return ctSet, nil
	case MapType:
		return ctMap, nil
	case StructType:
		return ctStruct, nil
	default:
		return 0, fmt.Errorf("compact protocol: unsupported field type %d", ft)
	}
}

func (c *CompactProtocol) ReadMessageBegin(buf *buffer.Buffer) (MessageHeader, bool, error) {
	head, ok := buf.PeekN(2)
	if !ok {
		return MessageHeader{}, false, nil
	}
	if head[0] != compactProtocolID {
		return MessageHeader{}, false, frameErr(buf, "invalid compact protocol id")
	}
	version := head[1] & 0x1f
	msgType := MessageType((head[1] >> 5) & 0x07)
	if version != compactVersion {
		return MessageHeader{}, false, frameErr(buf, "invalid compact protocol version")
	}
	if !msgType.valid() {
		return MessageHeader{}, false, frameErr(buf, "invalid compact protocol message type")
	}

	seqVal, seqN, needMore, err := peekVarintAt(buf, 2, 5)
	if needMore {
		return MessageHeader{}, false, nil
	}
	if err != nil {
		return MessageHeader{}, false, err
	}

	nameLenVal, nameLenN, needMore, err := peekVarintAt(buf, 2+seqN, 5)
	if needMore {
		return MessageHeader{}, false, nil
	}
	if err != nil {
		return MessageHeader{}, false, err
	}
	if err := checkSize(buf, int(nameLenVal), "message name"); err != nil {
		return MessageHeader{}, false, err
	}

	headerLen := 2 + seqN + nameLenN
	total := headerLen + int(nameLenVal)
	full, ok := buf.PeekN(total)
	if !ok {
		return MessageHeader{}, false, nil
	}

	name := string(full[headerLen:total])
	buf.DrainN(total)
	return MessageHeader{Name: name, Type: msgType, SeqID: int32(seqVal)}, true, nil
}

func (c *CompactProtocol) WriteMessageBegin(buf *buffer.Buffer, h MessageHeader) error {
	nameBytes := []byte(h.Name)
	if err := checkWriteSize(uint32(len(nameBytes)), "message name"); err != nil {
		return err
	}
	out := []byte{compactProtocolID, byte(h.Type)<<5 | compactVersion}
	out = appendVarint(out, uint64(uint32(h.SeqID)))
	out = appendVarint(out, uint64(len(nameBytes)))
	out = append(out, nameBytes...)
	buf.Append(out)
	return nil
}

func (c *CompactProtocol) emitFieldHeader(buf *buffer.Buffer, id int16, ct byte) {
	delta := id - c.lastFieldID
	if delta > 0 && delta <= 15 {
		buf.Append([]byte{byte(delta)<<4 | ct})
	} else {
		out := []byte{ct}
		out = appendVarint(out, zigzagEncode64(int64(id)))
		buf.Append(out)
	}
	c.lastFieldID = id
}

func (c *CompactProtocol) ReadFieldBegin(buf *buffer.Buffer) (FieldHeader, bool, error) {
	b, ok := buf.PeekN(1)
	if !ok {
		return FieldHeader{}, false, nil
	}
	if b[0] == ctStop {
		buf.DrainN(1)
		return FieldHeader{Type: Stop}, true, nil
	}

	delta := (b[0] >> 4) & 0x0f
	ct := b[0] & 0x0f
	ft, boolVal, isBool, err := fromCompactType(buf, ct)
	if err != nil {
		return FieldHeader{}, false, err
	}

	if delta != 0 {
		buf.DrainN(1)
		id := c.lastFieldID + int16(delta)
		c.lastFieldID = id
		if isBool {
			c.pendingBoolValue, c.pendingBoolValueSet = boolVal, true
		}
		return FieldHeader{Type: ft, ID: id}, true, nil
	}

	v, n, needMore, verr := peekVarintAt(buf, 1, 10)
	if needMore {
		return FieldHeader{}, false, nil
	}
	if verr != nil {
		return FieldHeader{}, false, verr
	}
	id := int16(zigzagDecode64(v))
	if id < 0 {
		return FieldHeader{}, false, frameErr(buf, "field id must be >= 0, got %d", id)
	}
	buf.DrainN(1 + n)
	c.lastFieldID = id
	if isBool {
		c.pendingBoolValue, c.pendingBoolValueSet = boolVal, true
	}
	return FieldHeader{Type: ft, ID: id}, true, nil
}

func (c *CompactProtocol) WriteFieldBegin(buf *buffer.Buffer, h FieldHeader) error {
	if h.ID < 0 {
		return fmt.Errorf("field id must be >= 0, got %d", h.ID)
	}
	if h.Type == BoolType {
		c.pendingBoolFieldID = h.ID
		c.pendingBoolFieldSet = true
		return nil
	}
	ct, err := toCompactType(h.Type)
	if err != nil {
		return err
	}
	c.emitFieldHeader(buf, h.ID, ct)
	return nil
}

func (c *CompactProtocol) WriteFieldStop(buf *buffer.Buffer) error {
	buf.Append([]byte{ctStop})
	return nil
}

func (c *CompactProtocol) ReadMapBegin(buf *buffer.Buffer) (MapHeader, bool, error) {
	b, ok := buf.PeekN(1)
	if !ok {
		return MapHeader{}, false, nil
	}
	if b[0] == 0 {
		buf.DrainN(1)
		return MapHeader{Size: 0}, true, nil
	}

	size, n, needMore, err := peekVarintAt(buf, 0, 5)
	if needMore {
		return MapHeader{}, false, nil
	}
	if err != nil {
		return MapHeader{}, false, err
	}
	if err := checkSize(buf, int(size), "map"); err != nil {
		return MapHeader{}, false, err
	}

	full, ok := buf.PeekN(n + 1)
	if !ok {
		return MapHeader{}, false, nil
	}
	typesByte := full[n]
	keyType, _, _, err := fromCompactType(buf, (typesByte>>4)&0x0f)
	if err != nil {
		return MapHeader{}, false, err
	}
	valType, _, _, err := fromCompactType(buf, typesByte&0x0f)
	if err != nil {
		return MapHeader{}, false, err
	}
	buf.DrainN(n + 1)
	return MapHeader{KeyType: keyType, ValueType: valType, Size: int32(size)}, true, nil
}

func (c *CompactProtocol) WriteMapBegin(buf *buffer.Buffer, h MapHeader) error {
	if err := checkWriteSize(uint32(h.Size), "map"); err != nil {
		return err
	}
	if h.Size == 0 {
		buf.Append([]byte{0})
		return nil
	}
	keyCt, err := toCompactType(h.KeyType)
	if err != nil {
		return err
	}
	valCt, err := toCompactType(h.ValueType)
	if err != nil {
		return err
	}
	out := appendVarint(nil, uint64(h.Size))
	out = append(out, keyCt<<4|valCt)
	buf.Append(out)
	return nil
}

func (c *CompactProtocol) readListLike(buf *buffer.Buffer) (ListHeader, bool, error) {
	b, ok := buf.PeekN(1)
	if !ok {
		return ListHeader{}, false, nil
	}
	sizeNibble := (b[0] >> 4) & 0x0f
	ct := b[0] & 0x0f
	elemType, _, _, err := fromCompactType(buf, ct)
	if err != nil {
		return ListHeader{}, false, err
	}
	if sizeNibble != 0x0f {
		buf.DrainN(1)
		return ListHeader{ElemType: elemType, Size: int32(sizeNibble)}, true, nil
	}

	size, n, needMore, err := peekVarintAt(buf, 1, 5)
	if needMore {
		return ListHeader{}, false, nil
	}
	if err != nil {
		return ListHeader{}, false, err
	}
	if err := checkSize(buf, int(size), "list/set"); err != nil {
		return ListHeader{}, false, err
	}
	buf.DrainN(1 + n)
	return ListHeader{ElemType: elemType, Size: int32(size)}, true, nil
}

func (c *CompactProtocol) ReadListBegin(buf *buffer.Buffer) (ListHeader, bool, error) {
	return c.readListLike(buf)
}

func (c *CompactProtocol) ReadSetBegin(buf *buffer.Buffer) (ListHeader, bool, error) {
	return c.readListLike(buf)
}

func (c *CompactProtocol) writeListLike(buf *buffer.Buffer, h ListHeader) error {
	if err := checkWriteSize(uint32(h.Size), "list/set"); err != nil {
		return err
	}
	ct, err := toCompactType(h.ElemType)
	if err != nil {
		return err
	}
	if h.Size <= 14 {
		buf.Append([]byte{byte(h.Size)<<4 | ct})
		return nil
	}
	out := []byte{0xF0 | ct}
	out = appendVarint(out, uint64(h.Size))
	buf.Append(out)
	return nil
}

func (c *CompactProtocol) WriteListBegin(buf *buffer.Buffer, h ListHeader) error {
	return c.writeListLike(buf, h)
}

func (c *CompactProtocol) WriteSetBegin(buf *buffer.Buffer, h ListHeader) error {
	return c.writeListLike(buf, h)
}

func (c *CompactProtocol) ReadBool(buf *buffer.Buffer) (bool, bool, error) {
	if c.pendingBoolValueSet {
		v := c.pendingBoolValue
		c.pendingBoolValueSet = false
		return v, true, nil
	}
	b, ok := buf.PeekN(1)
	if !ok {
		return false, false, nil
	}
	switch b[0] {
	case ctBoolTrue:
		buf.DrainN(1)
		return true, true, nil
	case ctBoolFalse:
		buf.DrainN(1)
		return false, true, nil
	default:
		return false, false, frameErr(buf, "invalid compact protocol boolean value %d", b[0])
	}
}

func (c *CompactProtocol) WriteBool(buf *buffer.Buffer, v bool) error {
	ct := byte(ctBoolFalse)
	if v {
		ct = ctBoolTrue
	}
	if c.pendingBoolFieldSet {
		c.emitFieldHeader(buf, c.pendingBoolFieldID, ct)
		c.pendingBoolFieldSet = false
		return nil
	}
	buf.Append([]byte{ct})
	return nil
}

func (c *CompactProtocol) ReadByte(buf *buffer.Buffer) (int8, bool, error) {
	b, ok := buf.DrainN(1)
	if !ok {
		return 0, false, nil
	}
	return int8(b[0]), true, nil
}

func (c *CompactProtocol) WriteByte(buf *buffer.Buffer, v int8) error {
	buf.Append([]byte{byte(v)})
	return nil
}

func (c *CompactProtocol) ReadI16(buf *buffer.Buffer) (int16, bool, error) {
	v, n, needMore, err := peekVarintAt(buf, 0, 5)
	if needMore {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	buf.DrainN(n)
	return int16(zigzagDecode64(v)), true, nil
}

func (c *CompactProtocol) WriteI16(buf *buffer.Buffer, v int16) error {
	buf.Append(appendVarint(nil, zigzagEncode64(int64(v))))
	return nil
}

func (c *CompactProtocol) ReadI32(buf *buffer.Buffer) (int32, bool, error) {
	v, n, needMore, err := peekVarintAt(buf, 0, 5)
	if needMore {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	buf.DrainN(n)
	return int32(zigzagDecode64(v)), true, nil
}

func (c *CompactProtocol) WriteI32(buf *buffer.Buffer, v int32) error {
	buf.Append(appendVarint(nil, zigzagEncode64(int64(v))))
	return nil
}

func (c *CompactProtocol) ReadI64(buf *buffer.Buffer) (int64, bool, error) {
	v, n, needMore, err := peekVarintAt(buf, 0, 10)
	if needMore {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	buf.DrainN(n)
	return zigzagDecode64(v), true, nil
}

func (c *CompactProtocol) WriteI64(buf *buffer.Buffer, v int64) error {
	buf.Append(appendVarint(nil, zigzagEncode64(v)))
	return nil
}

func (c *CompactProtocol) ReadDouble(buf *buffer.Buffer) (float64, bool, error) {
	b, ok := buf.DrainN(8)
	if !ok {
		return 0, false, nil
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), true, nil
}

func (c *CompactProtocol) WriteDouble(buf *buffer.Buffer, v float64) error {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, math.Float64bits(v))
	buf.Append(out)
	return nil
}

func (c *CompactProtocol) readBinaryLike(buf *buffer.Buffer) ([]byte, bool, error) {
	n, vn, needMore, err := peekVarintAt(buf, 0, 5)
	if needMore {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if n > maxInt32 {
		return nil, false, frameErr(buf, "string size %d exceeds INT32_MAX", n)
	}
	if err := checkSize(buf, int(n), "string"); err != nil {
		return nil, false, err
	}
	total := vn + int(n)
	full, ok := buf.PeekN(total)
	if !ok {
		return nil, false, nil
	}
	buf.DrainN(total)
	return full[vn:], true, nil
}

func (c *CompactProtocol) ReadString(buf *buffer.Buffer) (string, bool, error) {
	b, ok, err := c.readBinaryLike(buf)
	if !ok || err != nil {
		return "", ok, err
	}
	return string(b), true, nil
}

func (c *CompactProtocol) ReadBinary(buf *buffer.Buffer) ([]byte, bool, error) {
	return c.readBinaryLike(buf)
}

func (c *CompactProtocol) writeBinaryLike(buf *buffer.Buffer, v []byte) error {
	if err := checkWriteSize(uint32(len(v)), "string"); err != nil {
		return err
	}
	out := appendVarint(nil, uint64(len(v)))
	out = append(out, v...)
	buf.Append(out)
	return nil
}

func (c *CompactProtocol) WriteString(buf *buffer.Buffer, v string) error {
	return c.writeBinaryLike(buf, []byte(v))
}

func (c *CompactProtocol) WriteBinary(buf *buffer.Buffer, v []byte) error {
	return c.writeBinaryLike(buf, v)
}
