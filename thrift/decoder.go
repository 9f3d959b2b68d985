package thrift

import "github.com/relaymesh/dataplane/pkg/buffer"

// Visitor receives the structural callbacks a Decoder emits while
// walking one message (spec.md §4.5). Callbacks are synchronous and
// must not suspend: Decode drives them inline as each piece of
// structure resolves.
type Visitor interface {
	MessageStart(h MessageHeader)
	StructBegin()
	StructField(h FieldHeader, value interface{})
	StructEnd()
	MessageComplete()
}

type frameKind int

const (
	frameKindStruct frameKind = iota
	frameKindList
	frameKindSet
	frameKindMap
)

// frame is one level of in-progress structure on the Decoder's stack:
// the struct currently collecting fields, or the list/set/map
// currently collecting elements. Fields not relevant to a frame's kind
// sit unused; this stays a flat struct rather than an interface
// hierarchy since frames are created and mutated in a tight loop.
type frame struct {
	kind frameKind

	awaitingFieldValue bool
	pendingField       FieldHeader

	elemType FieldType
	elems    []interface{}

	keyType          FieldType
	valueType        FieldType
	awaitingMapValue bool
	pendingKey       interface{}
	pairs            map[interface{}]interface{}

	remaining    int32
	childPending bool
}

type decodePhase int

const (
	phaseMessageBegin decodePhase = iota
	phaseBody
	phaseMessageComplete
	phaseDone
)

// Decoder drives one message's resumable decode against a Protocol,
// firing Visitor callbacks as structure resolves. A single Decoder
// decodes exactly one message; construct a new one for the next.
type Decoder struct {
	proto   Protocol
	visitor Visitor

	phase           decodePhase
	stack           []*frame
	lastChildResult interface{}
}

// NewDecoder returns a Decoder for one message, reading via proto and
// reporting structure to visitor.
func NewDecoder(proto Protocol, visitor Visitor) *Decoder {
	return &Decoder{proto: proto, visitor: visitor}
}

func (d *Decoder) pushFrame(f *frame) { d.stack = append(d.stack, f) }

func (d *Decoder) popFrame(result interface{}) {
	d.stack = d.stack[:len(d.stack)-1]
	d.lastChildResult = result
}

// Decode drives as much progress as buf currently allows. It returns
// done=true once the message is fully decoded or a framing error
// aborts it (err non-nil); done=false means buf ran out of bytes
// mid-structure — already-fired callbacks and already-consumed bytes
// stand, and the next Decode call (once more bytes arrive) resumes
// exactly where this one paused.
func (d *Decoder) Decode(buf *buffer.Buffer) (done bool, err error) {
	for {
		switch d.phase {
		case phaseMessageBegin:
			h, ok, err := d.proto.ReadMessageBegin(buf)
			if err != nil {
				return true, err
			}
			if !ok {
				return false, nil
			}
			d.visitor.MessageStart(h)
			d.proto.StructBegin()
			d.visitor.StructBegin()
			d.pushFrame(&frame{kind: frameKindStruct})
			d.phase = phaseBody

		case phaseBody:
			if len(d.stack) == 0 {
				d.phase = phaseMessageComplete
				continue
			}
			_, needMore, err := d.step(buf)
			if err != nil {
				return true, err
			}
			if needMore {
				return false, nil
			}

		case phaseMessageComplete:
			d.visitor.MessageComplete()
			d.phase = phaseDone
			return true, nil

		case phaseDone:
			return true, nil
		}
	}
}

func (d *Decoder) step(buf *buffer.Buffer) (progressed, needMore bool, err error) {
	f := d.stack[len(d.stack)-1]
	switch f.kind {
	case frameKindStruct:
		return d.stepStruct(buf, f)
	case frameKindList, frameKindSet:
		return d.stepListOrSet(buf, f)
	case frameKindMap:
		return d.stepMap(buf, f)
	default:
		return false, false, frameErr(buf, "unknown container frame")
	}
}

func (d *Decoder) stepStruct(buf *buffer.Buffer, f *frame) (bool, bool, error) {
	if f.childPending {
		d.visitor.StructField(f.pendingField, d.lastChildResult)
		f.childPending = false
		f.awaitingFieldValue = false
		return true, false, nil
	}

	if !f.awaitingFieldValue {
		fh, ok, err := d.proto.ReadFieldBegin(buf)
		if err != nil {
			return false, false, err
		}
		if !ok {
			return false, true, nil
		}
		if fh.Type == Stop {
			d.proto.StructEnd()
			d.visitor.StructEnd()
			d.popFrame(nil)
			return true, false, nil
		}
		f.pendingField = fh
		f.awaitingFieldValue = true
		return true, false, nil
	}

	val, valueDone, needMore, err := d.beginValue(buf, f.pendingField.Type)
	if err != nil {
		return false, false, err
	}
	if needMore {
		return false, true, nil
	}
	if !valueDone {
		f.childPending = true
		return true, false, nil
	}
	d.visitor.StructField(f.pendingField, val)
	f.awaitingFieldValue = false
	return true, false, nil
}

func (d *Decoder) stepListOrSet(buf *buffer.Buffer, f *frame) (bool, bool, error) {
	if f.childPending {
		f.elems = append(f.elems, d.lastChildResult)
		f.childPending = false
		f.remaining--
		if f.remaining <= 0 {
			d.popFrame(f.elems)
		}
		return true, false, nil
	}
	if f.remaining <= 0 {
		d.popFrame(f.elems)
		return true, false, nil
	}

	val, valueDone, needMore, err := d.beginValue(buf, f.elemType)
	if err != nil {
		return false, false, err
	}
	if needMore {
		return false, true, nil
	}
	if !valueDone {
		f.childPending = true
		return true, false, nil
	}
	f.elems = append(f.elems, val)
	f.remaining--
	if f.remaining <= 0 {
		d.popFrame(f.elems)
	}
	return true, false, nil
}

func (d *Decoder) stepMap(buf *buffer.Buffer, f *frame) (bool, bool, error) {
	if f.childPending {
		if f.awaitingMapValue {
			f.pairs[f.pendingKey] = d.lastChildResult
			f.childPending = false
			f.awaitingMapValue = false
			f.remaining--
			if f.remaining <= 0 {
				d.popFrame(f.pairs)
			}
			return true, false, nil
		}
		f.pendingKey = d.lastChildResult
		f.childPending = false
		f.awaitingMapValue = true
		return true, false, nil
	}
	if f.remaining <= 0 {
		d.popFrame(f.pairs)
		return true, false, nil
	}

	ft := f.keyType
	if f.awaitingMapValue {
		ft = f.valueType
	}
	val, valueDone, needMore, err := d.beginValue(buf, ft)
	if err != nil {
		return false, false, err
	}
	if needMore {
		return false, true, nil
	}
	if !valueDone {
		f.childPending = true
		return true, false, nil
	}
	if f.awaitingMapValue {
		f.pairs[f.pendingKey] = val
		f.awaitingMapValue = false
		f.remaining--
		if f.remaining <= 0 {
			d.popFrame(f.pairs)
		}
		return true, false, nil
	}
	f.pendingKey = val
	f.awaitingMapValue = true
	return true, false, nil
}

// beginValue reads one value of type ft. For scalars it returns the
// decoded value with valueDone=true. For struct/list/set/map it pushes
// a new frame and returns valueDone=false (not an error — the caller
// treats this as progress and resumes via the pushed frame); the
// pushed frame's eventual result arrives as d.lastChildResult once it
// pops.
func (d *Decoder) beginValue(buf *buffer.Buffer, ft FieldType) (value interface{}, valueDone, needMore bool, err error) {
	switch ft {
	case BoolType:
		v, ok, err := d.proto.ReadBool(buf)
		return v, ok, !ok && err == nil, err
	case ByteType:
		v, ok, err := d.proto.ReadByte(buf)
		return v, ok, !ok && err == nil, err
	case I16Type:
		v, ok, err := d.proto.ReadI16(buf)
		return v, ok, !ok && err == nil, err
	case I32Type:
		v, ok, err := d.proto.ReadI32(buf)
		return v, ok, !ok && err == nil, err
	case I64Type:
		v, ok, err := d.proto.ReadI64(buf)
		return v, ok, !ok && err == nil, err
	case DoubleType:
		v, ok, err := d.proto.ReadDouble(buf)
		return v, ok, !ok && err == nil, err
	case StringType:
		v, ok, err := d.proto.ReadString(buf)
		return v, ok, !ok && err == nil, err
	case StructType:
		d.proto.StructBegin()
		d.visitor.StructBegin()
		d.pushFrame(&frame{kind: frameKindStruct})
		return nil, false, false, nil
	case ListType, SetType:
		var lh ListHeader
		var ok bool
		var err error
		if ft == SetType {
			lh, ok, err = d.proto.ReadSetBegin(buf)
		} else {
			lh, ok, err = d.proto.ReadListBegin(buf)
		}
		if err != nil {
			return nil, false, false, err
		}
		if !ok {
			return nil, false, true, nil
		}
		kind := frameKindList
		if ft == SetType {
			kind = frameKindSet
		}
		d.pushFrame(&frame{kind: kind, elemType: lh.ElemType, remaining: lh.Size, elems: make([]interface{}, 0, lh.Size)})
		return nil, false, false, nil
	case MapType:
		mh, ok, err := d.proto.ReadMapBegin(buf)
		if err != nil {
			return nil, false, false, err
		}
		if !ok {
			return nil, false, true, nil
		}
		d.pushFrame(&frame{
			kind:      frameKindMap,
			keyType:   mh.KeyType,
			valueType: mh.ValueType,
			remaining: mh.Size,
			pairs:     make(map[interface{}]interface{}, mh.Size),
		})
		return nil, false, false, nil
	default:
		return nil, false, false, frameErr(buf, "unsupported field type %d", ft)
	}
}
