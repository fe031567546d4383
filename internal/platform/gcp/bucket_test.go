package gcp

import "testing"

func TestParseGCSURI(t *testing.T) {
	bucket, key, err := ParseGCSURI("gs://docs/uploads/a b.pdf")
	if err != nil {
		t.Fatalf("ParseGCSURI: %v", err)
	}
	if bucket != "docs" || key != "uploads/a b.pdf" {
		t.Fatalf("ParseGCSURI: want=docs,uploads/a b.pdf got=%s,%s", bucket, key)
	}
	for _, bad := range []string{"", "docs/key", "gs://docs", "gs:///key"} {
		if _, _, err := ParseGCSURI(bad); err == nil {
			t.Fatalf("ParseGCSURI(%q): want error", bad)
		}
	}
}

func TestEmulatorMediaURLEscapesKey(t *testing.T) {
	got := emulatorMediaURL("http://fake-gcs:4443", "docs", "uploads/x y.pdf")
	want := "http://fake-gcs:4443/storage/v1/b/docs/o/uploads%2Fx%20y.pdf?alt=media"
	if got != want {
		t.Fatalf("emulatorMediaURL: want=%s got=%s", want, got)
	}
}

func TestContentTypeForKey(t *testing.T) {
	cases := map[string]string{
		"a/b.PDF":     "application/pdf",
		"notes.md":    "text/markdown",
		"scan.jpeg":   "image/jpeg",
		"blob.bin":    "application/octet-stream",
		"report.docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	}
	for key, want := range cases {
		if got := contentTypeForKey(key); got != want {
			t.Fatalf("contentTypeForKey(%q): want=%s got=%s", key, want, got)
		}
	}
}
