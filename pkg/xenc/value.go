// Package xenc implements the self-describing, length-prefixed wire value
// tree that Oxen parcels are encoded into (spec.md §4.C, §6). It is a
// bespoke bencode-like textual grammar; no library in the dependency pack
// matches it closely enough to reuse, so it is hand-rolled here, ported
// from the original `xenc.rs` (see original_source/src/xenc.rs) into
// idiomatic Go.
package xenc

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Kind discriminates the variant held by a Value.
type Kind uint8

const (
	KindInt Kind = iota
	KindTime
	KindOctets
	KindList
	KindDict
)

// Value is a node in the xenc parse tree: I64, Time, Octets, List, or
// Dict. Dict keys are always byte strings; we use Go strings as the map
// key type purely because []byte isn't comparable, not because keys carry
// any text encoding beyond raw bytes.
type Value struct {
	kind Kind
	i    int64
	t    time.Time
	oct  []byte
	list []Value
	dict map[string]Value
}

// Int constructs an I64 value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Time constructs a Time value.
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }

// Octets constructs an Octets value. The byte slice is retained, not
// copied; callers should not mutate it afterward.
func Octets(b []byte) Value { return Value{kind: KindOctets, oct: b} }

// Str is a convenience constructor for an Octets value built from a string.
func Str(s string) Value { return Octets([]byte(s)) }

// List constructs a List value.
func List(vs []Value) Value { return Value{kind: KindList, list: vs} }

// Dict constructs a Dict value.
func Dict(m map[string]Value) Value { return Value{kind: KindDict, dict: m} }

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// Int64 returns the contained integer and whether v is a KindInt.
func (v Value) Int64() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// AsTime returns the contained timestamp and whether v is a KindTime.
func (v Value) AsTime() (time.Time, bool) {
	if v.kind != KindTime {
		return time.Time{}, false
	}
	return v.t, true
}

// AsOctets returns the contained bytes and whether v is a KindOctets.
func (v Value) AsOctets() ([]byte, bool) {
	if v.kind != KindOctets {
		return nil, false
	}
	return v.oct, true
}

// AsList returns the contained elements and whether v is a KindList.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// AsDict returns the contained map and whether v is a KindDict.
func (v Value) AsDict() (map[string]Value, bool) {
	if v.kind != KindDict {
		return nil, false
	}
	return v.dict, true
}

// Errors returned by Decode. They are sentinels so callers (and the
// engine's decode-failure handling in spec.md §7) can check with
// errors.Is rather than string-matching.
var (
	ErrMalformedHeader   = errors.New("xenc: malformed header")
	ErrTruncated         = errors.New("xenc: truncated input")
	ErrNonOctetsKey      = errors.New("xenc: dict key is not an octets value")
	ErrMissingTerminator = errors.New("xenc: missing terminator")
)

// Encode serializes v in the textual xenc grammar.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encode(&buf, v)
	return buf.Bytes()
}

func encode(buf *bytes.Buffer, v Value) {
	switch v.kind {
	case KindInt:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.i, 10))
		buf.WriteByte('e')

	case KindTime:
		buf.WriteByte('t')
		buf.WriteString(strconv.FormatInt(v.t.Unix(), 10))
		buf.WriteByte('.')
		buf.WriteString(strconv.FormatInt(int64(v.t.Nanosecond()), 10))
		buf.WriteByte('e')

	case KindOctets:
		buf.WriteString(strconv.Itoa(len(v.oct)))
		buf.WriteByte(':')
		buf.Write(v.oct)

	case KindList:
		buf.WriteByte('l')
		for _, child := range v.list {
			encode(buf, child)
		}
		buf.WriteByte('e')

	case KindDict:
		buf.WriteByte('d')
		for k, child := range v.dict {
			buf.WriteString(strconv.Itoa(len(k)))
			buf.WriteByte(':')
			buf.WriteString(k)
			encode(buf, child)
		}
		buf.WriteByte('e')
	}
}

// Decode parses one Value from the front of data, returning it along with
// whatever bytes remain unconsumed. This supports incremental parsing, per
// spec.md §4.C.
func Decode(data []byte) (Value, []byte, error) {
	if len(data) == 0 {
		return Value{}, nil, ErrTruncated
	}

	switch data[0] {
	case 'i':
		return decodeInt(data)
	case 't':
		return decodeTime(data)
	case 'l':
		return decodeList(data)
	case 'd':
		return decodeDict(data)
	default:
		if data[0] >= '0' && data[0] <= '9' {
			return decodeOctets(data)
		}
		return Value{}, nil, fmt.Errorf("%w: unexpected leading byte %q", ErrMalformedHeader, data[0])
	}
}

func decodeInt(data []byte) (Value, []byte, error) {
	end := bytes.IndexByte(data[1:], 'e')
	if end < 0 {
		return Value{}, nil, ErrMissingTerminator
	}
	end += 1
	n, err := strconv.ParseInt(string(data[1:end]), 10, 64)
	if err != nil {
		return Value{}, nil, fmt.Errorf("%w: bad integer: %v", ErrMalformedHeader, err)
	}
	return Int(n), data[end+1:], nil
}

func decodeTime(data []byte) (Value, []byte, error) {
	end := bytes.IndexByte(data[1:], 'e')
	if end < 0 {
		return Value{}, nil, ErrMissingTerminator
	}
	end += 1
	body := string(data[1:end])
	dot := bytes.IndexByte([]byte(body), '.')
	if dot < 0 {
		return Value{}, nil, fmt.Errorf("%w: malformed time", ErrMalformedHeader)
	}
	sec, err := strconv.ParseInt(body[:dot], 10, 64)
	if err != nil {
		return Value{}, nil, fmt.Errorf("%w: bad time seconds: %v", ErrMalformedHeader, err)
	}
	nsec, err := strconv.ParseInt(body[dot+1:], 10, 64)
	if err != nil {
		return Value{}, nil, fmt.Errorf("%w: bad time nanoseconds: %v", ErrMalformedHeader, err)
	}
	return Time(time.Unix(sec, nsec).UTC()), data[end+1:], nil
}

func decodeOctetsRaw(data []byte) ([]byte, []byte, error) {
	colon := bytes.IndexByte(data, ':')
	if colon < 0 {
		return nil, nil, ErrMalformedHeader
	}
	n, err := strconv.Atoi(string(data[:colon]))
	if err != nil || n < 0 {
		return nil, nil, fmt.Errorf("%w: bad length prefix", ErrMalformedHeader)
	}
	rest := data[colon+1:]
	if len(rest) < n {
		return nil, nil, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, rest[:n])
	return out, rest[n:], nil
}

func decodeOctets(data []byte) (Value, []byte, error) {
	b, rest, err := decodeOctetsRaw(data)
	if err != nil {
		return Value{}, nil, err
	}
	return Octets(b), rest, nil
}

func decodeList(data []byte) (Value, []byte, error) {
	rest := data[1:]
	var items []Value
	for {
		if len(rest) == 0 {
			return Value{}, nil, ErrMissingTerminator
		}
		if rest[0] == 'e' {
			return List(items), rest[1:], nil
		}
		v, next, err := Decode(rest)
		if err != nil {
			return Value{}, nil, err
		}
		items = append(items, v)
		rest = next
	}
}

func decodeDict(data []byte) (Value, []byte, error) {
	rest := data[1:]
	m := make(map[string]Value)
	for {
		if len(rest) == 0 {
			return Value{}, nil, ErrMissingTerminator
		}
		if rest[0] == 'e' {
			return Dict(m), rest[1:], nil
		}
		if rest[0] < '0' || rest[0] > '9' {
			return Value{}, nil, ErrNonOctetsKey
		}
		key, next, err := decodeOctetsRaw(rest)
		if err != nil {
			return Value{}, nil, err
		}
		v, next2, err := Decode(next)
		if err != nil {
			return Value{}, nil, err
		}
		m[string(key)] = v
		rest = next2
	}
}
