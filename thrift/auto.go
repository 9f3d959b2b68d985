package thrift

import (
	"fmt"

	"github.com/relaymesh/dataplane/pkg/buffer"
)

// AutoProtocol detects strict-binary vs compact vs lax-binary framing
// from the first bytes of a message and delegates to the resolved
// codec thereafter (spec.md §4.5). It resolves on the first
// ReadMessageBegin call; for writing (where there is nothing to
// detect), it defaults to strict-binary unless a read has already
// resolved it or SetUnderlying was called explicitly.
type AutoProtocol struct {
	underlying Protocol
}

// NewAutoProtocol returns an unresolved auto-detecting codec.
func NewAutoProtocol() *AutoProtocol { return &AutoProtocol{} }

// SetUnderlying forces the resolved protocol, useful when writing a
// fresh message with no bytes to sniff.
func (a *AutoProtocol) SetUnderlying(p Protocol) { a.underlying = p }

// Resolved reports the detected protocol, or nil before the first
// successful ReadMessageBegin.
func (a *AutoProtocol) Resolved() Protocol { return a.underlying }

func (a *AutoProtocol) Name() string {
	if a.underlying == nil {
		return "auto"
	}
	return a.underlying.Name() + "(auto)"
}

func (a *AutoProtocol) resolvedOrDefault() Protocol {
	if a.underlying == nil {
		a.underlying = StrictBinaryProtocol{}
	}
	return a.underlying
}

func (a *AutoProtocol) resolvedOrErr() (Protocol, error) {
	if a.underlying == nil {
		return nil, fmt.Errorf("auto protocol: not yet resolved, call ReadMessageBegin first")
	}
	return a.underlying, nil
}

func (a *AutoProtocol) StructBegin() {
	if a.underlying != nil {
		a.underlying.StructBegin()
	}
}

func (a *AutoProtocol) StructEnd() {
	if a.underlying != nil {
		a.underlying.StructEnd()
	}
}

func (a *AutoProtocol) ReadMessageBegin(buf *buffer.Buffer) (MessageHeader, bool, error) {
	if a.underlying == nil {
		head, ok := buf.PeekN(2)
		if !ok {
			return MessageHeader{}, false, nil
		}
		switch {
		case head[0] == 0x80 && head[1] == 0x01:
			a.underlying = StrictBinaryProtocol{}
		case head[0] == compactProtocolID:
			a.underlying = NewCompactProtocol()
		default:
			a.underlying = LaxBinaryProtocol{}
		}
	}
	return a.underlying.ReadMessageBegin(buf)
}

func (a *AutoProtocol) ReadFieldBegin(buf *buffer.Buffer) (FieldHeader, bool, error) {
	p, err := a.resolvedOrErr()
	if err != nil {
		return FieldHeader{}, false, err
	}
	return p.ReadFieldBegin(buf)
}

func (a *AutoProtocol) ReadMapBegin(buf *buffer.Buffer) (MapHeader, bool, error) {
	p, err := a.resolvedOrErr()
	if err != nil {
		return MapHeader{}, false, err
	}
	return p.ReadMapBegin(buf)
}

func (a *AutoProtocol) ReadListBegin(buf *buffer.Buffer) (ListHeader, bool, error) {
	p, err := a.resolvedOrErr()
	if err != nil {
		return ListHeader{}, false, err
	}
	return p.ReadListBegin(buf)
}

func (a *AutoProtocol) ReadSetBegin(buf *buffer.Buffer) (ListHeader, bool, error) {
	p, err := a.resolvedOrErr()
	if err != nil {
		return ListHeader{}, false, err
	}
	return p.ReadSetBegin(buf)
}

func (a *AutoProtocol) ReadBool(buf *buffer.Buffer) (bool, bool, error) {
	p, err := a.resolvedOrErr()
	if err != nil {
		return false, false, err
	}
	return p.ReadBool(buf)
}

func (a *AutoProtocol) ReadByte(buf *buffer.Buffer) (int8, bool, error) {
	p, err := a.resolvedOrErr()
	if err != nil {
		return 0, false, err
	}
	return p.ReadByte(buf)
}

func (a *AutoProtocol) ReadI16(buf *buffer.Buffer) (int16, bool, error) {
	p, err := a.resolvedOrErr()
	if err != nil {
		return 0, false, err
	}
	return p.ReadI16(buf)
}

func (a *AutoProtocol) ReadI32(buf *buffer.Buffer) (int32, bool, error) {
	p, err := a.resolvedOrErr()
	if err != nil {
		return 0, false, err
	}
	return p.ReadI32(buf)
}

func (a *AutoProtocol) ReadI64(buf *buffer.Buffer) (int64, bool, error) {
	p, err := a.resolvedOrErr()
	if err != nil {
		return 0, false, err
	}
	return p.ReadI64(buf)
}

func (a *AutoProtocol) ReadDouble(buf *buffer.Buffer) (float64, bool, error) {
	p, err := a.resolvedOrErr()
	if err != nil {
		return 0, false, err
	}
	return p.ReadDouble(buf)
}

func (a *AutoProtocol) ReadString(buf *buffer.Buffer) (string, bool, error) {
	p, err := a.resolvedOrErr()
	if err != nil {
		return "", false, err
	}
	return p.ReadString(buf)
}

func (a *AutoProtocol) ReadBinary(buf *buffer.Buffer) ([]byte, bool, error) {
	p, err := a.resolvedOrErr()
	if err != nil {
		return nil, false, err
	}
	return p.ReadBinary(buf)
}

func (a *AutoProtocol) WriteMessageBegin(buf *buffer.Buffer, h MessageHeader) error {
	return a.resolvedOrDefault().WriteMessageBegin(buf, h)
}

func (a *AutoProtocol) WriteFieldBegin(buf *buffer.Buffer, h FieldHeader) error {
	return a.resolvedOrDefault().WriteFieldBegin(buf, h)
}

func (a *AutoProtocol) WriteFieldStop(buf *buffer.Buffer) error {
	return a.resolvedOrDefault().WriteFieldStop(buf)
}

func (a *AutoProtocol) WriteMapBegin(buf *buffer.Buffer, h MapHeader) error {
	return a.resolvedOrDefault().WriteMapBegin(buf, h)
}

func (a *AutoProtocol) WriteListBegin(buf *buffer.Buffer, h ListHeader) error {
	return a.resolvedOrDefault().WriteListBegin(buf, h)
}

func (a *AutoProtocol) WriteSetBegin(buf *buffer.Buffer, h ListHeader) error {
	return a.resolvedOrDefault().WriteSetBegin(buf, h)
}

func (a *AutoProtocol) WriteBool(buf *buffer.Buffer, v bool) error {
	return a.resolvedOrDefault().WriteBool(buf, v)
}

func (a *AutoProtocol) WriteByte(buf *buffer.Buffer, v int8) error {
	return a.resolvedOrDefault().WriteByte(buf, v)
}

func (a *AutoProtocol) WriteI16(buf *buffer.Buffer, v int16) error {
	return a.resolvedOrDefault().WriteI16(buf, v)
}

func (a *AutoProtocol) WriteI32(buf *buffer.Buffer, v int32) error {
	return a.resolvedOrDefault().WriteI32(buf, v)
}

func (a *AutoProtocol) WriteI64(buf *buffer.Buffer, v int64) error {
	return a.resolvedOrDefault().WriteI64(buf, v)
}

func (a *AutoProtocol) WriteDouble(buf *buffer.Buffer, v float64) error {
	return a.resolvedOrDefault().WriteDouble(buf, v)
}

func (a *AutoProtocol) WriteString(buf *buffer.Buffer, v string) error {
	return a.resolvedOrDefault().WriteString(buf, v)
}

func (a *AutoProtocol) WriteBinary(buf *buffer.Buffer, v []byte) error {
	return a.resolvedOrDefault().WriteBinary(buf, v)
}
