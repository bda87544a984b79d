package confusable

import (
	"testing"
	"unsafe"
)

func TestSkeletonize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"greek and latin lookalikes", "ρɑɣρɑl", "paypal"},
		{"cyrillic", "аррlе", "apple"},
		{"fullwidth", "ｆｒｅｅ ｎｉｔｒｏ", "free nitro"},
		{"math bold", "𝐛𝐚𝐝", "bad"},
		{"ligature expands", "ﬁne", "fine"},
		{"mixed prefix kept", "hello wοrld", "hello world"},
		{"plain ascii", "nothing to see", "nothing to see"},
		{"non-confusable unicode", "日本語 🍆", "日本語 🍆"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Skeletonize(tt.input); got != tt.want {
				t.Errorf("Skeletonize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSkeletonize_Idempotent(t *testing.T) {
	for r, to := range confusables() {
		once := Skeletonize(string(r))
		if once != to {
			t.Errorf("Skeletonize(%U) = %q, want %q", r, once, to)
		}
		if twice := Skeletonize(once); twice != once {
			t.Errorf("Skeletonize(Skeletonize(%U)) = %q, want %q", r, twice, once)
		}
	}
}

func TestSkeletonize_ReturnsInputWhenClean(t *testing.T) {
	inputs := []string{"plain ascii text", "emoji 🎉 and kanji 漢字", "a"}
	for _, in := range inputs {
		out := Skeletonize(in)
		if unsafe.StringData(out) != unsafe.StringData(in) {
			t.Errorf("Skeletonize(%q) allocated a new string", in)
		}
	}
}

func TestSkeletonize_NoAllocs(t *testing.T) {
	in := "a perfectly ordinary message"
	Skeletonize(in)
	allocs := testing.AllocsPerRun(100, func() {
		_ = Skeletonize(in)
	})
	if allocs != 0 {
		t.Errorf("Skeletonize allocated %v times per run, want 0", allocs)
	}
}

func TestParseTable_SkipsMalformed(t *testing.T) {
	m := parseTable("# comment\n\n0430 ; 0061\nnot a line\nZZZZ ; 0061\n0435 ; XYZ\n03C1;0070\n")
	if len(m) != 2 {
		t.Fatalf("parseTable produced %d entries, want 2", len(m))
	}
	if m['а'] != "a" || m['ρ'] != "p" {
		t.Errorf("parseTable = %v, want а->a and ρ->p", m)
	}
}

func TestLen(t *testing.T) {
	if Len() < 500 {
		t.Errorf("Len() = %d, want a populated table", Len())
	}
}
