package thrift

import (
	"reflect"
	"testing"

	"github.com/relaymesh/dataplane/pkg/buffer"
)

type recordedField struct {
	header FieldHeader
	value  interface{}
}

type recordingVisitor struct {
	messages []MessageHeader
	fields   []recordedField
	begins   int
	ends     int
	complete int
}

func (v *recordingVisitor) MessageStart(h MessageHeader)             { v.messages = append(v.messages, h) }
func (v *recordingVisitor) StructBegin()                             { v.begins++ }
func (v *recordingVisitor) StructField(h FieldHeader, val interface{}) {
	v.fields = append(v.fields, recordedField{h, val})
}
func (v *recordingVisitor) StructEnd()     { v.ends++ }
func (v *recordingVisitor) MessageComplete() { v.complete++ }

func buildSimpleMessage(t *testing.T, p Protocol) []byte {
	t.Helper()
	buf := buffer.New()
	if err := p.WriteMessageBegin(buf, MessageHeader{Name: "echo", Type: Call, SeqID: 3}); err != nil {
		t.Fatalf("message begin: %v", err)
	}
	p.StructBegin()
	if err := p.WriteFieldBegin(buf, FieldHeader{Type: StringType, ID: 1}); err != nil {
		t.Fatalf("field begin: %v", err)
	}
	if err := p.WriteString(buf, "ping"); err != nil {
		t.Fatalf("write string: %v", err)
	}
	if err := p.WriteFieldBegin(buf, FieldHeader{Type: I32Type, ID: 2}); err != nil {
		t.Fatalf("field begin: %v", err)
	}
	if err := p.WriteI32(buf, 7); err != nil {
		t.Fatalf("write i32: %v", err)
	}
	if err := p.WriteFieldStop(buf); err != nil {
		t.Fatalf("field stop: %v", err)
	}
	p.StructEnd()
	return buf.Drain()
}

func TestDecoderDecodesSimpleStructAllAtOnce(t *testing.T) {
	for name, newProto := range protocols() {
		t.Run(name, func(t *testing.T) {
			wireProto := newProto()
			wire := buildSimpleMessage(t, wireProto)

			buf := buffer.New()
			buf.Append(wire)

			v := &recordingVisitor{}
			dec := NewDecoder(newProto(), v)
			done, err := dec.Decode(buf)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !done {
				t.Fatal("expected decode to complete with the full message available")
			}
			if buf.Len() != 0 {
				t.Fatalf("expected buffer fully drained, %d bytes left", buf.Len())
			}

			if len(v.messages) != 1 || v.messages[0].Name != "echo" || v.messages[0].Type != Call || v.messages[0].SeqID != 3 {
				t.Fatalf("unexpected message header: %+v", v.messages)
			}
			if v.begins != 1 || v.ends != 1 || v.complete != 1 {
				t.Fatalf("unexpected callback counts: begins=%d ends=%d complete=%d", v.begins, v.ends, v.complete)
			}
			want := []recordedField{
				{FieldHeader{Type: StringType, ID: 1}, "ping"},
				{FieldHeader{Type: I32Type, ID: 2}, int32(7)},
			}
			if !reflect.DeepEqual(v.fields, want) {
				t.Fatalf("got fields %+v, want %+v", v.fields, want)
			}
		})
	}
}

func TestDecoderResumesAcrossByteAtATimeDelivery(t *testing.T) {
	for name, newProto := range protocols() {
		t.Run(name, func(t *testing.T) {
			wire := buildSimpleMessage(t, newProto())

			buf := buffer.New()
			v := &recordingVisitor{}
			dec := NewDecoder(newProto(), v)

			for i, b := range wire {
				buf.Append([]byte{b})
				done, err := dec.Decode(buf)
				if err != nil {
					t.Fatalf("byte %d: decode error: %v", i, err)
				}
				if done && i != len(wire)-1 {
					t.Fatalf("byte %d: decode reported done early", i)
				}
			}

			done, err := dec.Decode(buf)
			if err != nil || !done {
				t.Fatalf("expected final decode to complete: done=%v err=%v", done, err)
			}
			if v.complete != 1 || len(v.fields) != 2 {
				t.Fatalf("unexpected final state: complete=%d fields=%+v", v.complete, v.fields)
			}
		})
	}
}

func TestDecoderDecodesListField(t *testing.T) {
	p := StrictBinaryProtocol{}
	buf := buffer.New()
	if err := p.WriteMessageBegin(buf, MessageHeader{Name: "m", Type: Call, SeqID: 1}); err != nil {
		t.Fatalf("message begin: %v", err)
	}
	if err := p.WriteFieldBegin(buf, FieldHeader{Type: ListType, ID: 1}); err != nil {
		t.Fatalf("field begin: %v", err)
	}
	if err := p.WriteListBegin(buf, ListHeader{ElemType: I32Type, Size: 2}); err != nil {
		t.Fatalf("list begin: %v", err)
	}
	if err := p.WriteI32(buf, 10); err != nil {
		t.Fatalf("write elem: %v", err)
	}
	if err := p.WriteI32(buf, 20); err != nil {
		t.Fatalf("write elem: %v", err)
	}
	if err := p.WriteFieldStop(buf); err != nil {
		t.Fatalf("field stop: %v", err)
	}

	v := &recordingVisitor{}
	dec := NewDecoder(StrictBinaryProtocol{}, v)
	done, err := dec.Decode(buf)
	if err != nil || !done {
		t.Fatalf("decode: done=%v err=%v", done, err)
	}

	if len(v.fields) != 1 {
		t.Fatalf("expected one field, got %+v", v.fields)
	}
	got, ok := v.fields[0].value.([]interface{})
	if !ok {
		t.Fatalf("expected list value, got %T", v.fields[0].value)
	}
	want := []interface{}{int32(10), int32(20)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestDecoderDecodesNestedStruct(t *testing.T) {
	p := StrictBinaryProtocol{}
	buf := buffer.New()
	if err := p.WriteMessageBegin(buf, MessageHeader{Name: "m", Type: Call, SeqID: 1}); err != nil {
		t.Fatalf("message begin: %v", err)
	}
	if err := p.WriteFieldBegin(buf, FieldHeader{Type: StructType, ID: 1}); err != nil {
		t.Fatalf("outer field begin: %v", err)
	}
	if err := p.WriteFieldBegin(buf, FieldHeader{Type: ByteType, ID: 1}); err != nil {
		t.Fatalf("inner field begin: %v", err)
	}
	if err := p.WriteByte(buf, 5); err != nil {
		t.Fatalf("write byte: %v", err)
	}
	if err := p.WriteFieldStop(buf); err != nil {
		t.Fatalf("inner field stop: %v", err)
	}
	if err := p.WriteFieldStop(buf); err != nil {
		t.Fatalf("outer field stop: %v", err)
	}

	v := &recordingVisitor{}
	dec := NewDecoder(StrictBinaryProtocol{}, v)
	done, err := dec.Decode(buf)
	if err != nil || !done {
		t.Fatalf("decode: done=%v err=%v", done, err)
	}

	if v.begins != 2 || v.ends != 2 {
		t.Fatalf("expected 2 nested struct begin/end pairs, got begins=%d ends=%d", v.begins, v.ends)
	}
	if len(v.fields) != 2 {
		t.Fatalf("expected inner + outer field callbacks, got %+v", v.fields)
	}
	if v.fields[0].header.Type != ByteType || v.fields[0].value != int8(5) {
		t.Fatalf("unexpected inner field: %+v", v.fields[0])
	}
	if v.fields[1].header.Type != StructType || v.fields[1].header.ID != 1 {
		t.Fatalf("unexpected outer field: %+v", v.fields[1])
	}
}
