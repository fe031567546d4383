// Package extractor resolves a document source to plain text. It downloads
// blobs, sniffs their real content type and dispatches to a format parser,
// falling back to OCR for image-only PDFs and images.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	types "github.com/yungbote/docretrieval-backend/internal/domain"
	"github.com/yungbote/docretrieval-backend/internal/domain/documents"
	"github.com/yungbote/docretrieval-backend/internal/platform/gcp"
	"github.com/yungbote/docretrieval-backend/internal/platform/httpx"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

var (
	ErrNoExtractableText  = errors.New("no extractable text found; the document is likely a scanned or image-only file")
	ErrUnsupportedContent = errors.New("unsupported content type")
	ErrSourceUnavailable  = errors.New("document source unavailable")
)

// IsValidation reports whether err is a terminal extraction failure that a
// retry cannot fix.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNoExtractableText) ||
		errors.Is(err, ErrUnsupportedContent) ||
		errors.Is(err, ErrSourceUnavailable)
}

type Source struct {
	Kind       types.SourceKind
	Locator    string
	InlineText string
	// MimeType is the caller-declared type, used only when sniffing is
	// inconclusive.
	MimeType string
}

// SourceFromDocument maps a stored document to its extraction source.
func SourceFromDocument(doc *types.Document) Source {
	return Source{
		Kind:       doc.SourceKind,
		Locator:    doc.SourceLocator,
		InlineText: doc.InlineText,
		MimeType:   doc.MimeType,
	}
}

type Extraction struct {
	Text     string
	MimeType string
}

// BlobStore downloads object keys and gs:// URIs.
type BlobStore interface {
	Download(ctx context.Context, locator string) (*gcp.Object, error)
}

type Deps struct {
	Blobs    BlobStore
	HTTP     *http.Client
	DocOCR   gcp.DocumentOCR
	ImageOCR gcp.ImageOCR
}

type Config struct {
	MaxBytes    int64         `yaml:"max_bytes"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

const defaultMaxBytes = 64 << 20

type Extractor struct {
	log  *logger.Logger
	deps Deps
	cfg  Config
}

func New(log *logger.Logger, deps Deps, cfg Config) *Extractor {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 2 * time.Minute
	}
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &Extractor{log: log.With("service", "Extractor"), deps: deps, cfg: cfg}
}

func (e *Extractor) Extract(ctx context.Context, src Source) (*Extraction, error) {
	switch src.Kind {
	case documents.SourceInlineText:
		text := NormalizeText(src.InlineText)
		if strings.TrimSpace(text) == "" {
			return nil, ErrNoExtractableText
		}
		return &Extraction{Text: text, MimeType: "text/plain"}, nil
	case documents.SourceUploadedFile, documents.SourceExternalBlob:
	default:
		return nil, fmt.Errorf("%w: unknown source kind %q", ErrUnsupportedContent, src.Kind)
	}

	data, declared, err := e.fetch(ctx, src.Locator)
	if err != nil {
		return nil, err
	}
	if src.MimeType != "" {
		declared = src.MimeType
	}
	mime := DetectMIME(data, declared, src.Locator)
	e.log.Debug("extracting document", "source_locator", src.Locator, "mime", mime, "bytes", len(data))

	text, err := e.parse(ctx, data, mime)
	if err != nil {
		return nil, err
	}
	text = NormalizeText(text)
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoExtractableText
	}
	return &Extraction{Text: text, MimeType: mime}, nil
}

func (e *Extractor) fetch(ctx context.Context, locator string) ([]byte, string, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, "", fmt.Errorf("%w: empty source locator", ErrSourceUnavailable)
	}
	lower := strings.ToLower(locator)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return e.fetchHTTP(ctx, locator)
	}
	if e.deps.Blobs == nil {
		return nil, "", fmt.Errorf("%w: object storage is not configured", ErrSourceUnavailable)
	}
	obj, err := e.deps.Blobs.Download(ctx, locator)
	if err != nil {
		if errors.Is(err, gcp.ErrObjectNotFound) || errors.Is(err, gcp.ErrObjectTooLarge) {
			return nil, "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		return nil, "", fmt.Errorf("download source: %w", err)
	}
	return obj.Data, obj.ContentType, nil
}

func (e *Extractor) fetchHTTP(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	resp, err := e.deps.HTTP.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch source: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		serr := &httpx.StatusError{Service: "source", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		if httpx.IsRetryableHTTPStatus(resp.StatusCode) {
			return nil, "", fmt.Errorf("fetch source: %w", serr)
		}
		return nil, "", fmt.Errorf("%w: %v", ErrSourceUnavailable, serr)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read source: %w", err)
	}
	if int64(len(data)) > e.cfg.MaxBytes {
		return nil, "", fmt.Errorf("%w: source exceeds %d bytes", ErrSourceUnavailable, e.cfg.MaxBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (e *Extractor) parse(ctx context.Context, data []byte, mime string) (string, error) {
	switch {
	case mime == MimePDF:
		return e.parsePDF(ctx, data)
	case mime == MimeDOCX:
		text, err := DOCXText(data)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnsupportedContent, err)
		}
		return text, nil
	case mime == MimeHTML:
		text, err := HTMLText(data)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnsupportedContent, err)
		}
		return text, nil
	case mime == MimeMarkdown:
		return MarkdownText(data), nil
	case isPlainText(mime):
		return string(data), nil
	case strings.HasPrefix(mime, "image/"):
		if e.deps.ImageOCR == nil {
			return "", fmt.Errorf("%w: %s (image OCR disabled)", ErrUnsupportedContent, mime)
		}
		text, err := e.deps.ImageOCR.OCRImageBytes(ctx, data)
		if err != nil {
			return "", fmt.Errorf("image ocr: %w", err)
		}
		return text, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedContent, mime)
	}
}

// parsePDF reads the text layer and falls back to Document AI when the PDF
// has none or cannot be parsed.
func (e *Extractor) parsePDF(ctx context.Context, data []byte) (string, error) {
	text, perr := PDFText(data)
	if perr == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}
	if e.deps.DocOCR == nil {
		if perr != nil {
			return "", fmt.Errorf("%w: pdf: %v", ErrUnsupportedContent, perr)
		}
		return "", ErrNoExtractableText
	}
	if perr != nil {
		e.log.Warn("pdf text layer unreadable; trying OCR", "error", perr)
	}
	res, err := e.deps.DocOCR.ProcessBytes(ctx, data, MimePDF)
	if err != nil {
		return "", fmt.Errorf("document ocr: %w", err)
	}
	return res.Text, nil
}
