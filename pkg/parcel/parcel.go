// Package parcel implements the Oxen wire records (spec.md §4.D, §6):
// keepalive ping/pong, application data, acknowledgements, and last-contact
// gossip, all carried as xenc.Value trees. Ported from
// original_source/src/oxen/data.rs into idiomatic Go.
package parcel

import (
	"errors"
	"time"

	"github.com/oxenmesh/oxen/pkg/seqnum"
	"github.com/oxenmesh/oxen/pkg/sid"
)

// KeepaliveId and MsgId are random 32-bit tokens used to correlate
// keepalive pongs and message acknowledgements.
type KeepaliveId = uint32
type MsgId = uint32

// ErrSchema is returned when a decoded xenc.Value does not conform to the
// Parcel schema (missing key, wrong variant). spec.md §7 treats this
// identically to a raw decode failure: log and drop, never crash.
var ErrSchema = errors.New("parcel: schema violation")

// Dict keys from the wire grammar in spec.md §6.
const (
	keyKA   = "ka"
	keyKK   = "kk"
	keyPT   = "pt"
	keyTo   = "to"
	keyFrom = "fr"
	keyID   = "id"
	keyM    = "m"
	keyB    = "b"
	keyOne  = "1"
	keyS    = "s"
	keyD    = "d"
	keyLC   = "lc"
	keyP    = "p"
)

const (
	ptMsgData  = "md"
	ptMsgAck   = "ma"
	ptLcGossip = "lc"
)

const (
	mtSync  = "s"
	mtFinal = "f"
	mtBrd   = "b"
	mtOne   = "1"
)

// BodyKind discriminates the variants of ParcelBody.
type BodyKind uint8

const (
	BodyMissing BodyKind = iota
	BodyMsgData
	BodyMsgAck
	BodyLcGossip
)

// ParcelBody is the tagged body of a Parcel. Exactly one of MsgData,
// MsgAck, LcGossip is set, per Kind; unknown tags decode to BodyMissing
// for forward compatibility (spec.md §4.D).
type ParcelBody struct {
	Kind     BodyKind
	MsgData  *MsgData
	MsgAck   *MsgAck
	LcGossip *LcGossip
}

// Parcel is the unit exchanged between peers.
type Parcel struct {
	KaRq *KeepaliveId
	KaOk *KeepaliveId
	Body ParcelBody
}

// MsgDataKind discriminates the variants of MsgDataBody.
type MsgDataKind uint8

const (
	MsgDataMissing MsgDataKind = iota
	MsgDataSync
	MsgDataFinal
	MsgDataBrd
	MsgDataOne
)

// MsgDataBody is the tagged inner payload of a MsgData record.
type MsgDataBody struct {
	Kind  MsgDataKind
	Sync  *MsgSync
	Final *MsgFinal
	Brd   *MsgBrd
	One   *MsgOne
}

// MsgData carries application payload, routed from From to To.
type MsgData struct {
	To   sid.Sid
	From sid.Sid
	ID   *MsgId
	Body MsgDataBody
}

// MsgAck acknowledges receipt of a MsgData with the given ID.
type MsgAck struct {
	To   sid.Sid
	From sid.Sid
	ID   MsgId
}

// LcGossip carries a snapshot of the sender's last-contact matrix. Cols[i]
// names the peer that Rows[*][i] refers to.
type LcGossip struct {
	Rows map[sid.Sid][]time.Time
	Cols []sid.Sid
}

// MsgSync is the handshake establishing the starting sequence numbers a
// sender will use toward a receiver that has not yet synchronized.
type MsgSync struct {
	Brd seqnum.Num
	One seqnum.Num
}

// MsgFinal is reserved for a future shutdown handshake. It is decoded and
// encoded but never emitted by the engine (spec.md §9).
type MsgFinal struct {
	Brd seqnum.Num
	One seqnum.Num
}

// MsgBrd carries one broadcast-stream payload.
type MsgBrd struct {
	Seq  seqnum.Num
	Data []byte
}

// MsgOne carries one one-to-one-stream payload.
type MsgOne struct {
	Seq  seqnum.Num
	Data []byte
}
