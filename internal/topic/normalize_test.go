package topic

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		a, b string
	}{
		{"Language Learning & Practice", "Language Learning and Practice"},
		{"  Rust  Internals ", "rust internals"},
		{"Self-Hosting & Homelab", "self-hosting and homelab"},
	}
	for _, tc := range cases {
		if Normalize(tc.a) != Normalize(tc.b) {
			t.Errorf("Normalize(%q) = %q, Normalize(%q) = %q; want equal",
				tc.a, Normalize(tc.a), tc.b, Normalize(tc.b))
		}
	}
}

func TestNormalize_Values(t *testing.T) {
	if got := Normalize("  Mechanical   Keyboards  "); got != "mechanical keyboards" {
		t.Fatalf("got %q", got)
	}
	if got := Normalize("A&B Testing"); got != "aandb testing" {
		t.Fatalf("got %q", got)
	}
	if got := Normalize(""); got != "" {
		t.Fatalf("got %q", got)
	}
}
