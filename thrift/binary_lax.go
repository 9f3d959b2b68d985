package thrift

import (
	"encoding/binary"

	"github.com/relaymesh/dataplane/pkg/buffer"
)

// LaxBinaryProtocol implements spec.md §4.5's lax-binary framing: the
// same field/container/string wire format as StrictBinaryProtocol, but
// a message header with no version magic (`name_len | name | msg_type
// | seq_id`).
type LaxBinaryProtocol struct {
	StrictBinaryProtocol
}

func (LaxBinaryProtocol) Name() string { return "binary/non-strict" }

func (LaxBinaryProtocol) ReadMessageBegin(buf *buffer.Buffer) (MessageHeader, bool, error) {
	lenBytes, ok := buf.PeekN(4)
	if !ok {
		return MessageHeader{}, false, nil
	}
	nameLen := int(int32(binary.BigEndian.Uint32(lenBytes)))
	if err := checkSize(buf, nameLen, "(lax) message name"); err != nil {
		return MessageHeader{}, false, err
	}

	total := 4 + nameLen + 1 + 4
	full, ok := buf.PeekN(total)
	if !ok {
		return MessageHeader{}, false, nil
	}

	name := string(full[4 : 4+nameLen])
	msgType := MessageType(int8(full[4+nameLen]))
	if !msgType.valid() {
		return MessageHeader{}, false, frameErr(buf, "(lax) invalid binary protocol message type")
	}
	seqID := int32(binary.BigEndian.Uint32(full[4+nameLen+1 : total]))

	buf.DrainN(total)
	return MessageHeader{Name: name, Type: msgType, SeqID: seqID}, true, nil
}

func (LaxBinaryProtocol) WriteMessageBegin(buf *buffer.Buffer, h MessageHeader) error {
	nameBytes := []byte(h.Name)
	if err := checkWriteSize(uint32(len(nameBytes)), "(lax) message name"); err != nil {
		return err
	}
	out := make([]byte, 0, 4+len(nameBytes)+1+4)
	out = binary.BigEndian.AppendUint32(out, uint32(len(nameBytes)))
	out = append(out, nameBytes...)
	out = append(out, byte(h.Type))
	out = binary.BigEndian.AppendUint32(out, uint32(h.SeqID))
	buf.Append(out)
	return nil
}
