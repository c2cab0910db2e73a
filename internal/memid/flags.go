package memid

import "mazalloc/internal/bitfield"

// packedFlags mirrors Memid's boolean provenance flags as a tagged
// struct so they can be packed into one word for compact diagnostic
// logging, the same tag-driven packing the teacher's bitfield package
// does for its PageFlags example.
type packedFlags struct {
	InitiallyZero   bool `bitfield:",1"`
	InitiallyCommit bool `bitfield:",1"`
	Pinned          bool `bitfield:",1"`
	IsHugeAlignment bool `bitfield:",1"`
	Kind            Kind `bitfield:",4"`
}

// PackedFlags compacts the memid's boolean/kind fields into a single
// word, for diagnostic log lines that want one field instead of five.
func (m Memid) PackedFlags() uint64 {
	packed, err := bitfield.Pack(packedFlags{
		InitiallyZero:   m.InitiallyZero,
		InitiallyCommit: m.InitiallyCommit,
		Pinned:          m.Pinned,
		IsHugeAlignment: m.IsHugeAlignment,
		Kind:            m.Kind,
	}, &bitfield.Config{NumBits: 8})
	if err != nil {
		return 0
	}
	return packed
}
