package remote

import "testing"

func TestNormalizeAddr(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"dst.example.net", "dst.example.net:22"},
		{"dst.example.net:2222", "dst.example.net:2222"},
		{"10.0.0.5", "10.0.0.5:22"},
		{"10.0.0.5:22", "10.0.0.5:22"},
		{"::1", "[::1]:22"},
	}

	for _, tc := range cases {
		if got := normalizeAddr(tc.in); got != tc.want {
			t.Errorf("normalizeAddr(%q): Expected %q, got %q", tc.in, tc.want, got)
		}
	}
}
