package memid

import "testing"

func TestPackedFlagsRoundTripsBooleans(t *testing.T) {
	m := Memid{Kind: KindArena, InitiallyZero: true, Pinned: true}
	packed := m.PackedFlags()
	if packed&1 == 0 {
		t.Fatalf("expected InitiallyZero bit set in %08b", packed)
	}
	if packed&(1<<2) == 0 {
		t.Fatalf("expected Pinned bit set in %08b", packed)
	}
	if packed&(1<<1) != 0 {
		t.Fatalf("expected InitiallyCommit bit clear in %08b", packed)
	}
}

func TestIsArena(t *testing.T) {
	if !(Memid{Kind: KindArena}).IsArena() {
		t.Fatalf("expected KindArena to report IsArena")
	}
	if (Memid{Kind: KindOS}).IsArena() {
		t.Fatalf("expected KindOS to not report IsArena")
	}
}
