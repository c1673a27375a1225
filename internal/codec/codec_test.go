package codec

import (
	"testing"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		rt   RichText
	}{
		{"empty", RichText{}},
		{"plain", *(&RichText{}).AppendText("Hello world")},
		{
			"paired",
			*(&RichText{}).AppendText("Hello ").AppendTag(Open, 1, "<b>").AppendText("world").AppendTag(Close, 1, "</b>").AppendText("!"),
		},
		{
			"leading and trailing tags",
			*(&RichText{}).AppendTag(Placeholder, 7, "<br/>").AppendText("x").AppendTag(Placeholder, 8, "<img src=\"a.png\"/>"),
		},
		{
			"adjacent tags at same offset",
			*(&RichText{}).AppendText("a").AppendTag(Close, 2, "</i>").AppendTag(Close, 1, "</b>").AppendTag(Open, 3, "<u>").AppendText("b").AppendTag(Close, 3, "</u>"),
		},
		{
			"multibyte text",
			*(&RichText{}).AppendText("Grüße ").AppendTag(Open, 1, "<g id=\"1\">").AppendText("日本語").AppendTag(Close, 1, "</g>"),
		},
		{"tag only", *(&RichText{}).AppendTag(Placeholder, 1, "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, codes := Encode(tt.rt)
			if text != tt.rt.Plain() {
				t.Errorf("Encode text = %q, want %q", text, tt.rt.Plain())
			}
			got, err := Decode(text, codes)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if !Equal(got, tt.rt) {
				t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got.Runs, tt.rt.Runs)
			}
			if got.Markup() != tt.rt.Markup() {
				t.Errorf("Markup() = %q, want %q", got.Markup(), tt.rt.Markup())
			}
			gotTags, wantTags := got.Tags(), tt.rt.Tags()
			if len(gotTags) != len(wantTags) {
				t.Fatalf("got %d tags, want %d", len(gotTags), len(wantTags))
			}
			for i := range gotTags {
				if gotTags[i] != wantTags[i] {
					t.Errorf("tag %d = %+v, want %+v", i, gotTags[i], wantTags[i])
				}
			}
		})
	}
}

func TestEncode(t *testing.T) {
	rt := (&RichText{}).AppendText("Hello ").AppendTag(Open, 1, "<b>").AppendText("world").AppendTag(Close, 1, "</b>")
	text, codes := Encode(*rt)
	if text != "Hello world" {
		t.Errorf("text = %q", text)
	}
	want := `[{"p":6,"k":"o","i":1,"m":"<b>"},{"p":11,"k":"c","i":1,"m":"</b>"}]`
	if codes != want {
		t.Errorf("codes = %s\nwant %s", codes, want)
	}
	if _, codes := Encode(*(&RichText{}).AppendText("no tags")); codes != "" {
		t.Errorf("codes = %q, want empty", codes)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		codes string
	}{
		{"not json", "abc", "{"},
		{"bad kind", "abc", `[{"p":0,"k":"x","i":1}]`},
		{"offset past end", "abc", `[{"p":4,"k":"p","i":1}]`},
		{"offsets decreasing", "abc", `[{"p":2,"k":"o","i":1},{"p":1,"k":"c","i":1}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.text, tt.codes); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestTagKindString(t *testing.T) {
	if Open.String() != "open" || Close.String() != "close" || Placeholder.String() != "placeholder" {
		t.Error("unexpected TagKind names")
	}
}
