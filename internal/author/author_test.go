package author

import (
	"math"
	"testing"
)

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Vaswani et al.", "Vaswani"},
		{"A. Vaswani et al", "A. Vaswani"},
		{"Smith and others", "Smith"},
		{"  Shazeer, ", "Shazeer"},
		{"Parmar", "Parmar"},
	}
	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFold(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Gödel", "godel"},
		{"Érdős, Pál", "erdos pal"},
		{"O'Brien", "obrien"},
		{"  van der   Waals ", "van der waals"},
	}
	for _, tt := range tests {
		if got := Fold(tt.in); got != tt.want {
			t.Errorf("Fold(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCompatible(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", "Ashish Vaswani", "Ashish Vaswani", true},
		{"initial vs full", "A. Vaswani", "Ashish Vaswani", true},
		{"surname only", "Vaswani", "Ashish Vaswani", true},
		{"comma form", "Vaswani, Ashish", "A. Vaswani", true},
		{"last-initial form", "Vaswani A", "Ashish Vaswani", true},
		{"last-initials form", "Vaswani AN", "A. N. Vaswani", true},
		{"diacritics", "Kurt Gödel", "K. Godel", true},
		{"different initial", "B. Vaswani", "Ashish Vaswani", false},
		{"different surname", "Noam Shazeer", "Ashish Vaswani", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compatible(Parse(tt.a), Parse(tt.b)); got != tt.want {
				t.Errorf("Compatible(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := Compatible(Parse(tt.b), Parse(tt.a)); got != tt.want {
				t.Errorf("Compatible(%q, %q) = %v, want %v", tt.b, tt.a, got, tt.want)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	if p := Parse("et al."); len(p.Keys) != 0 {
		t.Errorf("Parse(\"et al.\") keys = %v, want none", p.Keys)
	}
	if p := Parse(""); len(p.Keys) != 0 {
		t.Errorf("Parse(\"\") keys = %v, want none", p.Keys)
	}
}

func TestOverlap(t *testing.T) {
	full := []string{"Ashish Vaswani", "Noam Shazeer", "Niki Parmar", "Jakob Uszkoreit"}

	tests := []struct {
		name   string
		a, b   []string
		want   float64
		wantOK bool
	}{
		{"first author only", []string{"Vaswani et al."}, full, 1.0, true},
		{"order ignored", []string{"N. Parmar", "A. Vaswani"}, full, 1.0, true},
		{"half match", []string{"A. Vaswani", "J. Doe"}, full, 0.5, true},
		{"no match", []string{"J. Doe"}, full, 0.0, true},
		{"empty side", nil, full, 0, false},
		{"distinct partners", []string{"A. Vaswani", "A. Vaswani"}, []string{"Ashish Vaswani", "Noam Shazeer"}, 0.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Overlap(tt.a, tt.b)
			if ok != tt.wantOK {
				t.Fatalf("Overlap ok = %v, want %v", ok, tt.wantOK)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Overlap = %v, want %v", got, tt.want)
			}
			rev, _ := Overlap(tt.b, tt.a)
			if rev != got {
				t.Errorf("Overlap not symmetric: %v vs %v", got, rev)
			}
		})
	}
}
