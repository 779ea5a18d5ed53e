package parcel

import (
	"fmt"
	"time"

	"github.com/oxenmesh/oxen/pkg/sid"
	"github.com/oxenmesh/oxen/pkg/xenc"
)

// ToValue serializes p into the xenc tree described by spec.md §6.
func (p Parcel) ToValue() xenc.Value {
	d := make(map[string]xenc.Value)
	if p.KaRq != nil {
		d[keyKA] = xenc.Int(int64(*p.KaRq))
	}
	if p.KaOk != nil {
		d[keyKK] = xenc.Int(int64(*p.KaOk))
	}

	switch p.Body.Kind {
	case BodyMsgData:
		d[keyPT] = xenc.Str(ptMsgData)
		p.Body.MsgData.encodeInto(d)
	case BodyMsgAck:
		d[keyPT] = xenc.Str(ptMsgAck)
		p.Body.MsgAck.encodeInto(d)
	case BodyLcGossip:
		d[keyPT] = xenc.Str(ptLcGossip)
		p.Body.LcGossip.encodeInto(d)
	}

	return xenc.Dict(d)
}

// FromValue parses a Parcel out of v. An unknown pt or m tag decodes with
// Kind == BodyMissing / MsgDataMissing rather than erroring, so that
// forward-compatible extensions don't crash the receiver (spec.md §4.D).
// A value that is not a dict, a ka/kk/pt field of the wrong variant, or a
// known body with a missing or ill-typed field returns ErrSchema.
func FromValue(v xenc.Value) (Parcel, error) {
	d, ok := v.AsDict()
	if !ok {
		return Parcel{}, fmt.Errorf("%w: parcel is not a dict", ErrSchema)
	}

	var p Parcel
	if ka, ok := d[keyKA]; ok {
		n, ok := ka.Int64()
		if !ok {
			return Parcel{}, fmt.Errorf("%w: ka is not an int", ErrSchema)
		}
		v := KeepaliveId(n)
		p.KaRq = &v
	}
	if kk, ok := d[keyKK]; ok {
		n, ok := kk.Int64()
		if !ok {
			return Parcel{}, fmt.Errorf("%w: kk is not an int", ErrSchema)
		}
		v := KeepaliveId(n)
		p.KaOk = &v
	}

	pt, ok := d[keyPT]
	if !ok {
		return p, nil
	}
	tag, ok := pt.AsOctets()
	if !ok {
		return Parcel{}, fmt.Errorf("%w: pt is not octets", ErrSchema)
	}

	switch string(tag) {
	case ptMsgData:
		md, err := decodeMsgData(d)
		if err != nil {
			return Parcel{}, err
		}
		p.Body = ParcelBody{Kind: BodyMsgData, MsgData: md}
	case ptMsgAck:
		ma, err := decodeMsgAck(d)
		if err != nil {
			return Parcel{}, err
		}
		p.Body = ParcelBody{Kind: BodyMsgAck, MsgAck: ma}
	case ptLcGossip:
		lc, err := decodeLcGossip(d)
		if err != nil {
			return Parcel{}, err
		}
		p.Body = ParcelBody{Kind: BodyLcGossip, LcGossip: lc}
	default:
		p.Body = ParcelBody{Kind: BodyMissing}
	}
	return p, nil
}

func sidToValue(s sid.Sid) xenc.Value { return xenc.Octets(s.Bytes()) }

func sidFromValue(v xenc.Value) (sid.Sid, error) {
	b, ok := v.AsOctets()
	if !ok {
		return sid.Sid{}, fmt.Errorf("%w: sid is not octets", ErrSchema)
	}
	s, ok := sid.FromBytes(b)
	if !ok {
		return sid.Sid{}, fmt.Errorf("%w: sid has wrong length", ErrSchema)
	}
	return s, nil
}

func requireDict(d map[string]xenc.Value, key string) (xenc.Value, error) {
	v, ok := d[key]
	if !ok {
		return xenc.Value{}, fmt.Errorf("%w: missing key %q", ErrSchema, key)
	}
	return v, nil
}

func requireInt(d map[string]xenc.Value, key string) (int64, error) {
	v, err := requireDict(d, key)
	if err != nil {
		return 0, err
	}
	n, ok := v.Int64()
	if !ok {
		return 0, fmt.Errorf("%w: %q is not an int", ErrSchema, key)
	}
	return n, nil
}

func requireOctets(d map[string]xenc.Value, key string) ([]byte, error) {
	v, err := requireDict(d, key)
	if err != nil {
		return nil, err
	}
	b, ok := v.AsOctets()
	if !ok {
		return nil, fmt.Errorf("%w: %q is not octets", ErrSchema, key)
	}
	return b, nil
}

func (m *MsgData) encodeInto(d map[string]xenc.Value) {
	d[keyTo] = sidToValue(m.To)
	d[keyFrom] = sidToValue(m.From)
	if m.ID != nil {
		d[keyID] = xenc.Int(int64(*m.ID))
	}
	switch m.Body.Kind {
	case MsgDataSync:
		d[keyM] = xenc.Str(mtSync)
		d[keyB] = xenc.Int(int64(m.Body.Sync.Brd))
		d[keyOne] = xenc.Int(int64(m.Body.Sync.One))
	case MsgDataFinal:
		d[keyM] = xenc.Str(mtFinal)
		d[keyB] = xenc.Int(int64(m.Body.Final.Brd))
		d[keyOne] = xenc.Int(int64(m.Body.Final.One))
	case MsgDataBrd:
		d[keyM] = xenc.Str(mtBrd)
		d[keyS] = xenc.Int(int64(m.Body.Brd.Seq))
		d[keyD] = xenc.Octets(m.Body.Brd.Data)
	case MsgDataOne:
		d[keyM] = xenc.Str(mtOne)
		d[keyS] = xenc.Int(int64(m.Body.One.Seq))
		d[keyD] = xenc.Octets(m.Body.One.Data)
	}
}

func decodeMsgData(d map[string]xenc.Value) (*MsgData, error) {
	toB, err := requireOctets(d, keyTo)
	if err != nil {
		return nil, err
	}
	to, ok := sid.FromBytes(toB)
	if !ok {
		return nil, fmt.Errorf("%w: to has wrong length", ErrSchema)
	}
	frB, err := requireOctets(d, keyFrom)
	if err != nil {
		return nil, err
	}
	fr, ok := sid.FromBytes(frB)
	if !ok {
		return nil, fmt.Errorf("%w: fr has wrong length", ErrSchema)
	}

	md := &MsgData{To: to, From: fr}
	if idV, ok := d[keyID]; ok {
		n, ok := idV.Int64()
		if !ok {
			return nil, fmt.Errorf("%w: id is not an int", ErrSchema)
		}
		id := MsgId(n)
		md.ID = &id
	}

	mTag, err := requireOctets(d, keyM)
	if err != nil {
		return nil, err
	}

	switch string(mTag) {
	case mtSync:
		brd, err := requireInt(d, keyB)
		if err != nil {
			return nil, err
		}
		one, err := requireInt(d, keyOne)
		if err != nil {
			return nil, err
		}
		md.Body = MsgDataBody{Kind: MsgDataSync, Sync: &MsgSync{Brd: uint32(brd), One: uint32(one)}}
	case mtFinal:
		brd, err := requireInt(d, keyB)
		if err != nil {
			return nil, err
		}
		one, err := requireInt(d, keyOne)
		if err != nil {
			return nil, err
		}
		md.Body = MsgDataBody{Kind: MsgDataFinal, Final: &MsgFinal{Brd: uint32(brd), One: uint32(one)}}
	case mtBrd:
		seq, err := requireInt(d, keyS)
		if err != nil {
			return nil, err
		}
		data, err := requireOctets(d, keyD)
		if err != nil {
			return nil, err
		}
		md.Body = MsgDataBody{Kind: MsgDataBrd, Brd: &MsgBrd{Seq: uint32(seq), Data: data}}
	case mtOne:
		seq, err := requireInt(d, keyS)
		if err != nil {
			return nil, err
		}
		data, err := requireOctets(d, keyD)
		if err != nil {
			return nil, err
		}
		md.Body = MsgDataBody{Kind: MsgDataOne, One: &MsgOne{Seq: uint32(seq), Data: data}}
	default:
		md.Body = MsgDataBody{Kind: MsgDataMissing}
	}
	return md, nil
}

func (m *MsgAck) encodeInto(d map[string]xenc.Value) {
	d[keyTo] = sidToValue(m.To)
	d[keyFrom] = sidToValue(m.From)
	d[keyID] = xenc.Int(int64(m.ID))
}

func decodeMsgAck(d map[string]xenc.Value) (*MsgAck, error) {
	toB, err := requireOctets(d, keyTo)
	if err != nil {
		return nil, err
	}
	to, ok := sid.FromBytes(toB)
	if !ok {
		return nil, fmt.Errorf("%w: to has wrong length", ErrSchema)
	}
	frB, err := requireOctets(d, keyFrom)
	if err != nil {
		return nil, err
	}
	fr, ok := sid.FromBytes(frB)
	if !ok {
		return nil, fmt.Errorf("%w: fr has wrong length", ErrSchema)
	}
	id, err := requireInt(d, keyID)
	if err != nil {
		return nil, err
	}
	return &MsgAck{To: to, From: fr, ID: MsgId(id)}, nil
}

func (g *LcGossip) encodeInto(d map[string]xenc.Value) {
	rows := make(map[string]xenc.Value, len(g.Rows))
	for s, times := range g.Rows {
		items := make([]xenc.Value, len(times))
		for i, ts := range times {
			items[i] = xenc.Time(ts)
		}
		rows[s.String()] = xenc.List(items)
	}
	d[keyLC] = xenc.Dict(rows)

	cols := make([]xenc.Value, len(g.Cols))
	for i, s := range g.Cols {
		cols[i] = sidToValue(s)
	}
	d[keyP] = xenc.List(cols)
}

func decodeLcGossip(d map[string]xenc.Value) (*LcGossip, error) {
	lcV, err := requireDict(d, keyLC)
	if err != nil {
		return nil, err
	}
	lcDict, ok := lcV.AsDict()
	if !ok {
		return nil, fmt.Errorf("%w: lc is not a dict", ErrSchema)
	}
	rows := make(map[sid.Sid][]time.Time, len(lcDict))
	for k, v := range lcDict {
		s, ok := sid.FromBytes([]byte(k))
		if !ok {
			return nil, fmt.Errorf("%w: lc key has wrong length", ErrSchema)
		}
		list, ok := v.AsList()
		if !ok {
			return nil, fmt.Errorf("%w: lc row is not a list", ErrSchema)
		}
		times := make([]time.Time, len(list))
		for i, item := range list {
			ts, ok := item.AsTime()
			if !ok {
				return nil, fmt.Errorf("%w: lc row entry is not a time", ErrSchema)
			}
			times[i] = ts
		}
		rows[s] = times
	}

	pV, err := requireDict(d, keyP)
	if err != nil {
		return nil, err
	}
	pList, ok := pV.AsList()
	if !ok {
		return nil, fmt.Errorf("%w: p is not a list", ErrSchema)
	}
	cols := make([]sid.Sid, len(pList))
	for i, item := range pList {
		s, err := sidFromValue(item)
		if err != nil {
			return nil, err
		}
		cols[i] = s
	}

	return &LcGossip{Rows: rows, Cols: cols}, nil
}
