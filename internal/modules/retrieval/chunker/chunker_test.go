package chunker

import (
	"slices"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkFixedWindowWithOverlap(t *testing.T) {
	c := New(DefaultConfig())
	segs := c.Chunk(strings.Repeat("a", 1500))
	if len(segs) != 2 {
		t.Fatalf("segments: want=2 got=%d", len(segs))
	}
	if segs[0].StartChar != 0 || segs[0].EndChar != 1200 {
		t.Fatalf("seg0: want=[0,1200) got=[%d,%d)", segs[0].StartChar, segs[0].EndChar)
	}
	if segs[1].StartChar != 1000 || segs[1].EndChar != 1500 {
		t.Fatalf("seg1: want=[1000,1500) got=[%d,%d)", segs[1].StartChar, segs[1].EndChar)
	}
	if segs[1].Index != 1 {
		t.Fatalf("seg1 index: want=1 got=%d", segs[1].Index)
	}
}

func TestChunkPrefersParagraphBreak(t *testing.T) {
	c := New(DefaultConfig())
	text := strings.Repeat("a", 1190) + "\n\n" + strings.Repeat("b", 800)
	segs := c.Chunk(text)
	if len(segs) < 2 {
		t.Fatalf("segments: want>=2 got=%d", len(segs))
	}
	if got := utf8.RuneCountInString(segs[0].Content); got != 1190 {
		t.Fatalf("seg0 length: want=1190 got=%d", got)
	}
	last := segs[len(segs)-1]
	if last.EndChar != len(text) {
		t.Fatalf("last seg end: want=%d got=%d", len(text), last.EndChar)
	}
}

func TestChunkShortTextSingleChunk(t *testing.T) {
	c := New(DefaultConfig())
	text := "first paragraph\n\nsecond paragraph"
	segs := c.Chunk(text)
	if len(segs) != 1 {
		t.Fatalf("segments: want=1 got=%d", len(segs))
	}
	if segs[0].Content != text {
		t.Fatalf("content: want=%q got=%q", text, segs[0].Content)
	}
}

func TestChunkEmptyAndWhitespace(t *testing.T) {
	c := New(DefaultConfig())
	for _, in := range []string{"", "   ", "\r\n\r\n\t"} {
		if segs := c.Chunk(in); len(segs) != 0 {
			t.Fatalf("Chunk(%q): want no segments got=%d", in, len(segs))
		}
	}
}

func TestChunkNormalizesLineEndings(t *testing.T) {
	c := New(DefaultConfig())
	segs := c.Chunk("a\r\nb\rc")
	if len(segs) != 1 || segs[0].Content != "a\nb\nc" {
		t.Fatalf("normalize: got=%+v", segs)
	}
}

func TestChunkOffsetsAreRunes(t *testing.T) {
	c := New(Config{ChunkSize: 10, Overlap: 2, SoftBoundary: 0})
	text := strings.Repeat("é", 25)
	segs := c.Chunk(text)
	r := []rune(text)
	for _, s := range segs {
		if string(r[s.StartChar:s.EndChar]) != s.Content {
			t.Fatalf("offsets [%d,%d) do not match content", s.StartChar, s.EndChar)
		}
		if utf8.RuneCountInString(s.Content) > 10 {
			t.Fatalf("segment longer than chunk size: %d", utf8.RuneCountInString(s.Content))
		}
	}
	if segs[len(segs)-1].EndChar != 25 {
		t.Fatalf("coverage: last end want=25 got=%d", segs[len(segs)-1].EndChar)
	}
}

func TestChunkCoversTextAndOverlaps(t *testing.T) {
	c := New(Config{ChunkSize: 50, Overlap: 10, SoftBoundary: 15})
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("word ")
		if i%7 == 0 {
			b.WriteString("\n\n")
		}
	}
	text := b.String()
	segs := c.Chunk(text)
	if segs[0].StartChar != 0 {
		t.Fatalf("first start: want=0 got=%d", segs[0].StartChar)
	}
	for i := 1; i < len(segs); i++ {
		prev, cur := segs[i-1], segs[i]
		if want := max(prev.EndChar-10, prev.StartChar+1); cur.StartChar != want {
			t.Fatalf("overlap at %d: want start=%d got=%d", i, want, cur.StartChar)
		}
		if cur.Index != i {
			t.Fatalf("index: want=%d got=%d", i, cur.Index)
		}
	}
	if segs[len(segs)-1].EndChar != utf8.RuneCountInString(text) {
		t.Fatalf("last segment does not reach end of text")
	}
}

func TestHashIsHexSHA256(t *testing.T) {
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got := Hash("hello"); got != want {
		t.Fatalf("Hash: want=%s got=%s", want, got)
	}
	segs := New(DefaultConfig()).Chunk("hello")
	if segs[0].ContentHash != want {
		t.Fatalf("ContentHash: want=%s got=%s", want, segs[0].ContentHash)
	}
}

func TestNewClampsConfig(t *testing.T) {
	c := New(Config{ChunkSize: 0, Overlap: 5000, SoftBoundary: -1})
	cfg := c.Config()
	if cfg.ChunkSize != DefaultChunkSize || cfg.Overlap != DefaultChunkSize-1 || cfg.SoftBoundary != 0 {
		t.Fatalf("clamp: got=%+v", cfg)
	}
}

type span struct{ start, end int }

func TestChunkWindows(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []span
	}{
		{
			name: "divisible_no_trailing_chunk",
			text: strings.Repeat("a", 2200),
			want: []span{{0, 1200}, {1000, 2200}},
		},
		{
			name: "remainder",
			text: strings.Repeat("a", 1500),
			want: []span{{0, 1200}, {1000, 1500}},
		},
		{
			name: "blank_window_in_middle",
			text: strings.Repeat("a", 100) + strings.Repeat(" ", 3000) + strings.Repeat("b", 100),
			want: []span{{0, 1200}, {1000, 2200}, {2000, 3200}},
		},
	}
	c := New(DefaultConfig())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			segs := c.Chunk(tc.text)
			got := make([]span, len(segs))
			for i, s := range segs {
				got[i] = span{s.StartChar, s.EndChar}
				if s.Index != i {
					t.Fatalf("index: want=%d got=%d", i, s.Index)
				}
				if s.ContentHash != Hash(s.Content) {
					t.Fatalf("hash mismatch at %d", i)
				}
			}
			if !slices.Equal(got, tc.want) {
				t.Fatalf("windows: want=%v got=%v", tc.want, got)
			}
			for i := 1; i < len(segs); i++ {
				if want := segs[i-1].EndChar - DefaultOverlap; segs[i].StartChar != want {
					t.Fatalf("overlap at %d: want start=%d got=%d", i, want, segs[i].StartChar)
				}
			}
			if again := c.Chunk(tc.text); !slices.Equal(segs, again) {
				t.Fatalf("determinism: second call differs")
			}
		})
	}
}
