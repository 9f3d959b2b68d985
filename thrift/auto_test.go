package thrift

import (
	"testing"

	"github.com/relaymesh/dataplane/pkg/buffer"
)

func TestAutoDetectsStrictBinary(t *testing.T) {
	buf := buffer.New()
	if err := (StrictBinaryProtocol{}).WriteMessageBegin(buf, MessageHeader{Name: "a", Type: Call, SeqID: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	a := NewAutoProtocol()
	h, ok, err := a.ReadMessageBegin(buf)
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if h.Name != "a" {
		t.Fatalf("unexpected header: %+v", h)
	}
	if a.Name() != "binary(auto)" {
		t.Fatalf("unexpected resolved name: %s", a.Name())
	}
}

func TestAutoDetectsCompact(t *testing.T) {
	buf := buffer.New()
	if err := NewCompactProtocol().WriteMessageBegin(buf, MessageHeader{Name: "a", Type: Call, SeqID: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	a := NewAutoProtocol()
	_, ok, err := a.ReadMessageBegin(buf)
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if a.Name() != "compact(auto)" {
		t.Fatalf("unexpected resolved name: %s", a.Name())
	}
}

func TestAutoDetectsLaxBinary(t *testing.T) {
	buf := buffer.New()
	if err := (LaxBinaryProtocol{}).WriteMessageBegin(buf, MessageHeader{Name: "a", Type: Call, SeqID: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	a := NewAutoProtocol()
	_, ok, err := a.ReadMessageBegin(buf)
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if a.Name() != "binary/non-strict(auto)" {
		t.Fatalf("unexpected resolved name: %s", a.Name())
	}
}

func TestAutoNeedsTwoBytesBeforeDetecting(t *testing.T) {
	buf := buffer.New()
	buf.Append([]byte{0x80})

	a := NewAutoProtocol()
	_, ok, err := a.ReadMessageBegin(buf)
	if ok || err != nil {
		t.Fatalf("expected need-more-data, got ok=%v err=%v", ok, err)
	}
	if buf.Len() != 1 {
		t.Fatalf("expected buffer untouched, got %d bytes", buf.Len())
	}
	if a.Resolved() != nil {
		t.Fatal("expected protocol to remain unresolved with too few bytes")
	}
}
