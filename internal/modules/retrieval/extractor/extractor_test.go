package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yungbote/docretrieval-backend/internal/domain/documents"
	"github.com/yungbote/docretrieval-backend/internal/platform/gcp"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

type fakeBlobs struct {
	objects map[string]*gcp.Object
	err     error
}

func (f *fakeBlobs) Download(ctx context.Context, locator string) (*gcp.Object, error) {
	if f.err != nil {
		return nil, f.err
	}
	obj, ok := f.objects[locator]
	if !ok {
		return nil, fmt.Errorf("%w: %s", gcp.ErrObjectNotFound, locator)
	}
	return obj, nil
}

type fakeDocOCR struct {
	text  string
	calls int
}

func (f *fakeDocOCR) ProcessBytes(ctx context.Context, data []byte, mimeType string) (*gcp.OCRResult, error) {
	f.calls++
	return &gcp.OCRResult{Provider: "fake", Text: f.text}, nil
}
func (f *fakeDocOCR) Close() error { return nil }

type fakeImageOCR struct{ text string }

func (f *fakeImageOCR) OCRImageBytes(ctx context.Context, img []byte) (string, error) {
	return f.text, nil
}
func (f *fakeImageOCR) Close() error { return nil }

func blobSource(key string) Source {
	return Source{Kind: documents.SourceUploadedFile, Locator: key}
}

func TestExtractInline(t *testing.T) {
	e := New(logger.Nop(), Deps{}, Config{})
	got, err := e.Extract(context.Background(), Source{Kind: documents.SourceInlineText, InlineText: "Hello\r\n\r\n\r\nworld  \n"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Text != "Hello\n\nworld" || got.MimeType != MimeText {
		t.Fatalf("Extract: want=%q/%s got=%q/%s", "Hello\n\nworld", MimeText, got.Text, got.MimeType)
	}
}

func TestExtractInlineWhitespaceIsValidationFailure(t *testing.T) {
	e := New(logger.Nop(), Deps{}, Config{})
	_, err := e.Extract(context.Background(), Source{Kind: documents.SourceInlineText, InlineText: " \n\t "})
	if !errors.Is(err, ErrNoExtractableText) || !IsValidation(err) {
		t.Fatalf("Extract: want ErrNoExtractableText got=%v", err)
	}
}

func TestExtractHTMLBlob(t *testing.T) {
	page := `<!DOCTYPE html><html><head><title>T</title><style>p{}</style></head>
<body><h1>Heading</h1><p>First <b>para</b>.</p><script>alert(1)</script><p>Second.</p></body></html>`
	blobs := &fakeBlobs{objects: map[string]*gcp.Object{"a.html": {Data: []byte(page)}}}
	e := New(logger.Nop(), Deps{Blobs: blobs}, Config{})
	got, err := e.Extract(context.Background(), blobSource("a.html"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.MimeType != MimeHTML {
		t.Fatalf("mime: want=%s got=%s", MimeHTML, got.MimeType)
	}
	want := "Heading\n\nFirst para .\n\nSecond."
	if got.Text != want {
		t.Fatalf("text: want=%q got=%q", want, got.Text)
	}
}

func TestExtractMarkdownByExtension(t *testing.T) {
	md := "# Title\n\nSome *emphasis* and `code`.\n\n- one\n- two\n"
	blobs := &fakeBlobs{objects: map[string]*gcp.Object{"notes.md": {Data: []byte(md)}}}
	e := New(logger.Nop(), Deps{Blobs: blobs}, Config{})
	got, err := e.Extract(context.Background(), blobSource("notes.md"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.MimeType != MimeMarkdown {
		t.Fatalf("mime: want=%s got=%s", MimeMarkdown, got.MimeType)
	}
	for _, frag := range []string{"Title", "Some emphasis and code.", "one", "two"} {
		if !strings.Contains(got.Text, frag) {
			t.Fatalf("text: want fragment %q in %q", frag, got.Text)
		}
	}
	if strings.ContainsAny(got.Text, "#*`") {
		t.Fatalf("text: markup leaked into %q", got.Text)
	}
}

func TestExtractPDFFallsBackToOCR(t *testing.T) {
	blobs := &fakeBlobs{objects: map[string]*gcp.Object{"scan.pdf": {Data: []byte("%PDF-1.4\nnot really a pdf")}}}
	ocr := &fakeDocOCR{text: "scanned words"}
	e := New(logger.Nop(), Deps{Blobs: blobs, DocOCR: ocr}, Config{})
	got, err := e.Extract(context.Background(), blobSource("scan.pdf"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Text != "scanned words" || got.MimeType != MimePDF || ocr.calls != 1 {
		t.Fatalf("Extract: want OCR text got=%q mime=%s calls=%d", got.Text, got.MimeType, ocr.calls)
	}

	e = New(logger.Nop(), Deps{Blobs: blobs}, Config{})
	if _, err := e.Extract(context.Background(), blobSource("scan.pdf")); !IsValidation(err) {
		t.Fatalf("Extract without OCR: want validation error got=%v", err)
	}

	blank := &fakeDocOCR{text: "   "}
	e = New(logger.Nop(), Deps{Blobs: blobs, DocOCR: blank}, Config{})
	if _, err := e.Extract(context.Background(), blobSource("scan.pdf")); !errors.Is(err, ErrNoExtractableText) {
		t.Fatalf("Extract blank OCR: want ErrNoExtractableText got=%v", err)
	}
}

func TestExtractImage(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	blobs := &fakeBlobs{objects: map[string]*gcp.Object{"img.png": {Data: png}}}

	e := New(logger.Nop(), Deps{Blobs: blobs}, Config{})
	if _, err := e.Extract(context.Background(), blobSource("img.png")); !errors.Is(err, ErrUnsupportedContent) {
		t.Fatalf("Extract without vision: want ErrUnsupportedContent got=%v", err)
	}

	e = New(logger.Nop(), Deps{Blobs: blobs, ImageOCR: &fakeImageOCR{text: "sign text"}}, Config{})
	got, err := e.Extract(context.Background(), blobSource("img.png"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Text != "sign text" || got.MimeType != "image/png" {
		t.Fatalf("Extract: got=%q mime=%s", got.Text, got.MimeType)
	}
}

func TestExtractBlobErrors(t *testing.T) {
	e := New(logger.Nop(), Deps{Blobs: &fakeBlobs{}}, Config{})
	if _, err := e.Extract(context.Background(), blobSource("missing.txt")); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("missing object: want ErrSourceUnavailable got=%v", err)
	}
	e = New(logger.Nop(), Deps{Blobs: &fakeBlobs{err: errors.New("connection reset")}}, Config{})
	_, err := e.Extract(context.Background(), blobSource("x.txt"))
	if err == nil || IsValidation(err) {
		t.Fatalf("transport error: want transient error got=%v", err)
	}
	if _, err := e.Extract(context.Background(), Source{Kind: documents.SourceExternalBlob}); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("empty locator: want ErrSourceUnavailable got=%v", err)
	}
}

func TestExtractHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/doc.txt":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("remote text"))
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	e := New(logger.Nop(), Deps{}, Config{})
	got, err := e.Extract(context.Background(), Source{Kind: documents.SourceExternalBlob, Locator: srv.URL + "/doc.txt"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Text != "remote text" {
		t.Fatalf("text: want=%q got=%q", "remote text", got.Text)
	}
	if _, err := e.Extract(context.Background(), Source{Kind: documents.SourceExternalBlob, Locator: srv.URL + "/gone"}); !IsValidation(err) {
		t.Fatalf("404: want validation error got=%v", err)
	}
	_, err = e.Extract(context.Background(), Source{Kind: documents.SourceExternalBlob, Locator: srv.URL + "/busy"})
	if err == nil || IsValidation(err) {
		t.Fatalf("503: want transient error got=%v", err)
	}
}

func TestExtractUnsupportedBinary(t *testing.T) {
	blobs := &fakeBlobs{objects: map[string]*gcp.Object{"blob.bin": {Data: []byte{0x00, 0x01, 0x02, 0xff, 0xfe, 0x00}}}}
	e := New(logger.Nop(), Deps{Blobs: blobs}, Config{})
	if _, err := e.Extract(context.Background(), blobSource("blob.bin")); !errors.Is(err, ErrUnsupportedContent) {
		t.Fatalf("Extract: want ErrUnsupportedContent got=%v", err)
	}
}

func TestDetectMIME(t *testing.T) {
	cases := []struct {
		data, declared, locator, want string
	}{
		{"%PDF-1.7 ...", "", "x", MimePDF},
		{"plain words", "text/markdown; charset=utf-8", "x", MimeMarkdown},
		{"plain words", "", "readme.MD", MimeMarkdown},
		{"plain words", "application/pdf", "x.pdf", MimeText},
		{"plain words", "", "x", MimeText},
	}
	for _, tc := range cases {
		if got := DetectMIME([]byte(tc.data), tc.declared, tc.locator); got != tc.want {
			t.Fatalf("DetectMIME(%q,%q,%q): want=%s got=%s", tc.data, tc.declared, tc.locator, tc.want, got)
		}
	}
}
