package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/yungbote/docretrieval-backend/internal/platform/ctxutil"
	"github.com/yungbote/docretrieval-backend/internal/platform/envutil"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

// DocumentOCR runs scanned PDFs through a Document AI OCR processor.
type DocumentOCR interface {
	ProcessBytes(ctx context.Context, data []byte, mimeType string) (*OCRResult, error)
	Close() error
}

type OCRResult struct {
	Provider string
	Pages    []string
	Text     string
}

type DocumentAIConfig struct {
	ProjectID        string
	Location         string
	ProcessorID      string
	ProcessorVersion string
}

func DocumentAIConfigFromEnv() DocumentAIConfig {
	return DocumentAIConfig{
		ProjectID:        envutil.String("DOCUMENTAI_PROJECT_ID", envutil.String("GCP_PROJECT_ID", "")),
		Location:         envutil.String("DOCUMENTAI_LOCATION", "us"),
		ProcessorID:      envutil.String("DOCUMENTAI_PROCESSOR_ID", ""),
		ProcessorVersion: envutil.String("DOCUMENTAI_PROCESSOR_VERSION", ""),
	}
}

func (c DocumentAIConfig) Enabled() bool {
	return processorName(c.ProjectID, c.Location, c.ProcessorID, c.ProcessorVersion) != ""
}

type documentOCR struct {
	log       *logger.Logger
	client    *documentai.DocumentProcessorClient
	processor string
}

// NewDocumentOCR returns (nil, nil) when no processor is configured.
func NewDocumentOCR(log *logger.Logger, cfg DocumentAIConfig) (DocumentOCR, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)
	opts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, ClientOptionsFromEnv()...)
	c, err := documentai.NewDocumentProcessorClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}
	slog := log.With("service", "DocumentOCR")
	slog.Info("Document AI initialized", "endpoint", endpoint)
	return &documentOCR{
		log:       slog,
		client:    c,
		processor: processorName(cfg.ProjectID, cfg.Location, cfg.ProcessorID, cfg.ProcessorVersion),
	}, nil
}

func (s *documentOCR) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *documentOCR) ProcessBytes(ctx context.Context, data []byte, mimeType string) (*OCRResult, error) {
	if len(data) == 0 {
		return &OCRResult{Provider: "gcp_documentai"}, nil
	}
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 3*time.Minute)
	defer cancel()

	resp, err := s.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: s.processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{Content: data, MimeType: mimeType},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp == nil || resp.Document == nil {
		return &OCRResult{Provider: "gcp_documentai"}, nil
	}
	return buildOCRResult(resp.Document), nil
}

// buildOCRResult assembles per-page text from paragraph anchors. Pages are
// separated by a blank line so the chunker can prefer page breaks.
func buildOCRResult(doc *documentaipb.Document) *OCRResult {
	out := &OCRResult{Provider: "gcp_documentai"}
	for _, p := range doc.GetPages() {
		var page strings.Builder
		for _, para := range p.GetParagraphs() {
			t := strings.TrimSpace(textFromAnchor(doc.GetText(), para.GetLayout().GetTextAnchor()))
			if t == "" {
				continue
			}
			if page.Len() > 0 {
				page.WriteString("\n")
			}
			page.WriteString(t)
		}
		if page.Len() > 0 {
			out.Pages = append(out.Pages, page.String())
		}
	}
	if len(out.Pages) == 0 {
		if t := strings.TrimSpace(doc.GetText()); t != "" {
			out.Pages = []string{t}
		}
	}
	out.Text = strings.Join(out.Pages, "\n\n")
	return out
}

func textFromAnchor(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start, end := int(seg.GetStartIndex()), int(seg.GetEndIndex())
		if end > len(full) {
			end = len(full)
		}
		if start < 0 || start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return b.String()
}

func processorName(project, location, processorID, version string) string {
	project, location, processorID = strings.TrimSpace(project), strings.TrimSpace(location), strings.TrimSpace(processorID)
	if project == "" || location == "" || processorID == "" {
		return ""
	}
	base := fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID)
	if v := strings.TrimSpace(version); v != "" {
		return base + "/processorVersions/" + v
	}
	return base
}
