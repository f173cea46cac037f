package encoding

import "testing"

func TestFixedString(t *testing.T) {
	tests := []struct {
		name    string
		charset Charset
		in      []byte
		want    string
	}{
		{"ascii padded", EUCKR, []byte("tree.rsm\x00\x00\x00garbage"), "tree.rsm"},
		{"no terminator", UTF8, []byte("abc"), "abc"},
		{"latin1", Latin1, []byte{'c', 0xE9, 0}, "cé"},
		{"euc-kr", EUCKR, append([]byte{0xC7, 0xD1}, 0), "한"},
		{"empty", EUCKR, []byte{0, 0, 0}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.charset.FixedString(tt.in); got != tt.want {
				t.Errorf("FixedString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEUCKRRoundTrip(t *testing.T) {
	const s = "유저인터페이스"
	if got := EUCKRToUTF8(UTF8ToEUCKR(s)); got != s {
		t.Errorf("round trip = %q, want %q", got, s)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		`data\Model\Tree.RSM`: "data/model/tree.rsm",
		"./textures/a.bmp":    "textures/a.bmp",
		"/abs/B.gnd":          "abs/b.gnd",
	}
	for in, want := range tests {
		if got := NormalizePath(in); got != want {
			t.Errorf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}
