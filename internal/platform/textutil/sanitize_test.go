package textutil

import "testing"

func TestStripMarkup(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"plain", "  Jane Doe ", 0, "Jane Doe"},
		{"tags", "<b>Jane</b> <script>alert(1)</script>Doe", 0, "Jane Doe"},
		{"entities kept", "Smith & Sons", 0, "Smith & Sons"},
		{"control chars", "Line\none\ttwo", 0, "Line one two"},
		{"limit", "abcdefgh", 4, "abcd"},
		{"multibyte limit", "東京都港区", 2, "東京"},
		{"empty", "   ", 10, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripMarkup(tc.in, tc.limit); got != tc.want {
				t.Fatalf("StripMarkup(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
