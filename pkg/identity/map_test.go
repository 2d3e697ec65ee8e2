package identity

import "testing"

func TestMap_FirstWriterWins(t *testing.T) {
	m := NewMap()
	if !m.Add("bob", "1") {
		t.Fatal("first insert should succeed")
	}
	if m.Add("bob", "2") {
		t.Error("second insert for same username should be rejected")
	}
	id, ok := m.Get("bob")
	if !ok || id != "1" {
		t.Errorf("expected bob -> 1, got %q (ok=%v)", id, ok)
	}
}

func TestMap_Validation(t *testing.T) {
	m := NewMap()
	cases := []struct {
		name     string
		username string
		id       string
		want     bool
	}{
		{"valid", "alice.b_2", "12345", true},
		{"empty username", "", "123", false},
		{"empty id", "alice", "", false},
		{"non-numeric id", "alice", "12a4", false},
		{"username with space", "ali ce", "123", false},
		{"username with slash", "ali/ce", "123", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := m.Add(tc.username, tc.id); got != tc.want {
				t.Errorf("Add(%q, %q) = %v, want %v", tc.username, tc.id, got, tc.want)
			}
		})
	}
}

func TestMap_ReverseLookup(t *testing.T) {
	m := NewMap()
	m.Add("carol", "42")
	name, ok := m.ReverseLookup("42")
	if !ok || name != "carol" {
		t.Errorf("expected carol, got %q (ok=%v)", name, ok)
	}
	if _, ok := m.ReverseLookup("7"); ok {
		t.Error("lookup for unknown id should fail")
	}
}

func TestMap_PreseedAdoptsOnlyAbsent(t *testing.T) {
	m := NewMap()
	m.Add("dave", "10")
	adopted := m.Preseed(map[string]string{
		"dave": "999", // already known, stale cache value
		"erin": "11",
		"bad":  "not-digits",
	})
	if adopted != 1 {
		t.Errorf("expected 1 adopted, got %d", adopted)
	}
	if id, _ := m.Get("dave"); id != "10" {
		t.Errorf("preseed must not overwrite live entry, got %q", id)
	}
	if id, _ := m.Get("erin"); id != "11" {
		t.Errorf("expected erin adopted, got %q", id)
	}
}

func TestMap_SnapshotIsCopy(t *testing.T) {
	m := NewMap()
	m.Add("frank", "5")
	snap := m.Snapshot()
	snap["frank"] = "mutated"
	if id, _ := m.Get("frank"); id != "5" {
		t.Error("mutating a snapshot must not affect the map")
	}
}
