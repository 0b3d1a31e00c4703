package proof

import (
	"strings"
	"testing"
	"time"
)

func TestFingerprintDeterministic(t *testing.T) {
	createdAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	a := Fingerprint("Blue Bottle", "order-4412", createdAt)
	b := Fingerprint("Blue Bottle", "order-4412", createdAt)

	if a != b {
		t.Errorf("same inputs produced different fingerprints: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	createdAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	base := Fingerprint("Blue Bottle", "order-4412", createdAt)

	tests := []struct {
		name      string
		merchant  string
		reference string
		createdAt time.Time
	}{
		{"different merchant", "Sightglass", "order-4412", createdAt},
		{"different reference", "Blue Bottle", "order-4413", createdAt},
		{"different time", "Blue Bottle", "order-4412", createdAt.Add(time.Second)},
		{"same second, different millisecond", "Blue Bottle", "order-4412", createdAt.Add(300 * time.Millisecond)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fingerprint(tt.merchant, tt.reference, tt.createdAt); got == base {
				t.Errorf("expected fingerprint to change")
			}
		})
	}
}

func TestFingerprintDoesNotEmbedReference(t *testing.T) {
	createdAt := time.Now().UTC()
	reference := "INV-2026-000123"

	fp := Fingerprint("Acme", reference, createdAt)
	if strings.Contains(fp, reference) {
		t.Errorf("fingerprint leaks the raw reference")
	}
}

func TestFingerprintNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	utc := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	local := utc.In(loc)

	if Fingerprint("Acme", "ref", utc) != Fingerprint("Acme", "ref", local) {
		t.Errorf("equal instants in different zones produced different fingerprints")
	}
}

func TestNewPublicID(t *testing.T) {
	id, err := NewPublicID(6)
	if err != nil {
		t.Fatalf("NewPublicID failed: %v", err)
	}
	if len(id) != 6 {
		t.Errorf("expected length 6, got %d", len(id))
	}
	for _, c := range id {
		if !strings.ContainsRune(publicIDAlphabet, c) {
			t.Errorf("character %q outside alphabet", c)
		}
	}
}

func TestNewPublicIDInvalidLength(t *testing.T) {
	for _, n := range []int{0, -1} {
		if _, err := NewPublicID(n); err == nil {
			t.Errorf("expected error for length %d", n)
		}
	}
}

func TestNewPublicIDUniqueEnough(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := NewPublicID(6)
		if err != nil {
			t.Fatalf("NewPublicID failed: %v", err)
		}
		if seen[id] {
			t.Fatalf("collision after %d IDs: %s", i, id)
		}
		seen[id] = true
	}
}
