package strdiff

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	tests := []struct {
		a, b string
		want string
	}{
		{"word", "World", "<del>w</del><ins>W</ins>or<ins>l</ins>d"},
		{"word", "", "<del>word</del>"},
		{"", "word", "<ins>word</ins>"},
		{"", "", ""},
		{"same", "same", "same"},
		{
			"This is a simple test",
			"it is a sample test.",
			"<del>Th</del>i<del>s</del><ins>t</ins> is a s<del>i</del><ins>a</ins>mple test<ins>.</ins>",
		},
		{"abc", "abd", "ab<del>c</del><ins>d</ins>"},
		{"Grüße", "Grüsse", "Grü<del>ß</del><ins>ss</ins>e"},
	}
	for _, tt := range tests {
		t.Run(tt.a+"->"+tt.b, func(t *testing.T) {
			if got := Render(tt.a, tt.b); got != tt.want {
				t.Errorf("Render(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestRenderHTML(t *testing.T) {
	tests := []struct {
		a, b string
		want string
	}{
		{"<b>x</b>", "<b>x</b>", "&lt;b&gt;x&lt;/b&gt;"},
		{"x", "<script>alert(1)</script>", "<del>x</del><ins>&lt;script&gt;alert(1)&lt;/script&gt;</ins>"},
		{"Tom & Jerry", "Tom & \"Jerry\"", "Tom &amp; <ins>&#34;</ins>Jerry<ins>&#34;</ins>"},
		{"</del>", "", "<del>&lt;/del&gt;</del>"},
	}
	for _, tt := range tests {
		t.Run(tt.a+"->"+tt.b, func(t *testing.T) {
			if got := RenderHTML(tt.a, tt.b); got != tt.want {
				t.Errorf("RenderHTML(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestDiffReconstructs(t *testing.T) {
	pairs := [][2]string{
		{"kitten", "sitting"},
		{"The quick brown fox", "A quick brown dog jumps"},
		{"aaaa", "aa"},
		{"abcabba", "cbabac"},
	}
	for _, p := range pairs {
		var from, to strings.Builder
		for _, e := range Diff(p[0], p[1]) {
			if e.Op != Insert {
				from.WriteString(e.Text)
			}
			if e.Op != Delete {
				to.WriteString(e.Text)
			}
		}
		if from.String() != p[0] || to.String() != p[1] {
			t.Errorf("Diff(%q, %q) reconstructs %q -> %q", p[0], p[1], from.String(), to.String())
		}
	}
}

func TestDiffMinimal(t *testing.T) {
	// kitten -> sitting: LCS "ittn" (4), so 2 deletions and 3 insertions.
	del, ins := 0, 0
	for _, e := range Diff("kitten", "sitting") {
		switch e.Op {
		case Delete:
			del += len([]rune(e.Text))
		case Insert:
			ins += len([]rune(e.Text))
		}
	}
	if del != 2 || ins != 3 {
		t.Errorf("got %d deletions, %d insertions; want 2, 3", del, ins)
	}
}
