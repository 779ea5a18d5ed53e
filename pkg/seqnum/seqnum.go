// Package seqnum implements wrap-around arithmetic and comparison for the
// 32-bit sequence numbers used by Oxen's broadcast and one-to-one streams
// (spec.md §3). Go's unsigned integers don't carry this comparison
// semantics natively, so it is factored out here rather than duplicated
// between pkg/inbox (which needs ordering) and pkg/parcel (which only
// needs the type).
package seqnum

// Num is a 32-bit sequence number that wraps at 2^32.
type Num = uint32

// Next returns n+1, wrapping around 2^32.
func Next(n Num) Num {
	return n + 1
}

// Less reports whether a precedes b in wrapped-distance order: a < b iff
// (b - a) mod 2^32 is in [1, 2^31).
func Less(a, b Num) bool {
	d := b - a
	return d != 0 && d < (1<<31)
}

// LessOrEqual reports whether a == b or a precedes b.
func LessOrEqual(a, b Num) bool {
	return a == b || Less(a, b)
}
