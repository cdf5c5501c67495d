package core

import "testing"

func TestMarkerValid(t *testing.T) {
	cases := []struct {
		m     Marker
		valid bool
	}{
		{ErasedSector, true},
		{FormattedSector, true},
		{PendingCluster, true},
		{AllocatedCluster, true},
		{OrphanedCluster, true},
		{Marker(0x00), false},
		{Marker(0xAA), false},
	}
	for _, c := range cases {
		if got := c.m.Valid(); got != c.valid {
			t.Errorf("Marker(0x%02x).Valid() = %v, want %v", byte(c.m), got, c.valid)
		}
	}
}

func TestMarkerValidSectorHead(t *testing.T) {
	cases := []struct {
		m     Marker
		valid bool
	}{
		{ErasedSector, false},
		{FormattedSector, true},
		{PendingCluster, true},
		{AllocatedCluster, true},
		{OrphanedCluster, true},
	}
	for _, c := range cases {
		if got := c.m.ValidSectorHead(); got != c.valid {
			t.Errorf("Marker(0x%02x).ValidSectorHead() = %v, want %v", byte(c.m), got, c.valid)
		}
	}
}

func TestMarkerMonotonicClear(t *testing.T) {
	chain := []Marker{ErasedSector, FormattedSector, PendingCluster, AllocatedCluster, OrphanedCluster}
	for i := 1; i < len(chain); i++ {
		prev, cur := byte(chain[i-1]), byte(chain[i])
		if cur&prev != cur {
			t.Errorf("%s -> %s is not a bit-clearing transition (0x%02x -> 0x%02x)", chain[i-1], chain[i], prev, cur)
		}
		if cur == prev {
			t.Errorf("%s -> %s did not clear any bits", chain[i-1], chain[i])
		}
	}
}

func TestMarkerString(t *testing.T) {
	if ErasedSector.String() != "Erased" {
		t.Errorf("ErasedSector.String() = %q", ErasedSector.String())
	}
	if Marker(0x01).String() != "Unknown" {
		t.Errorf("Marker(0x01).String() = %q, want Unknown", Marker(0x01).String())
	}
}
