package envutil

import (
	"testing"
	"time"
)

func TestIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("ENVUTIL_TEST_INT", "abc")
	if got := Int("ENVUTIL_TEST_INT", 7); got != 7 {
		t.Fatalf("Int: want=7 got=%d", got)
	}
	t.Setenv("ENVUTIL_TEST_INT", " 42 ")
	if got := Int("ENVUTIL_TEST_INT", 7); got != 42 {
		t.Fatalf("Int: want=42 got=%d", got)
	}
}

func TestBool(t *testing.T) {
	cases := map[string]bool{"true": true, "1": true, "off": false, "No": false}
	for raw, want := range cases {
		t.Setenv("ENVUTIL_TEST_BOOL", raw)
		if got := Bool("ENVUTIL_TEST_BOOL", !want); got != want {
			t.Fatalf("Bool(%q): want=%v got=%v", raw, want, got)
		}
	}
	t.Setenv("ENVUTIL_TEST_BOOL", "maybe")
	if got := Bool("ENVUTIL_TEST_BOOL", true); !got {
		t.Fatalf("Bool(maybe): want default true")
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("ENVUTIL_TEST_DUR", "1500ms")
	if got := Duration("ENVUTIL_TEST_DUR", time.Second); got != 1500*time.Millisecond {
		t.Fatalf("Duration: want=1.5s got=%v", got)
	}
	t.Setenv("ENVUTIL_TEST_DUR", "12")
	if got := Duration("ENVUTIL_TEST_DUR", time.Second); got != 12*time.Second {
		t.Fatalf("Duration(seconds): want=12s got=%v", got)
	}
}

func TestList(t *testing.T) {
	t.Setenv("ENVUTIL_TEST_LIST", "a, b,,c ")
	got := List("ENVUTIL_TEST_LIST")
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("List: want=[a b c] got=%v", got)
	}
}
