package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/yungbote/docretrieval-backend/internal/platform/ctxutil"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

// ImageOCR extracts text from raw image bytes with DOCUMENT_TEXT_DETECTION.
type ImageOCR interface {
	OCRImageBytes(ctx context.Context, img []byte) (string, error)
	Close() error
}

type imageOCR struct {
	log    *logger.Logger
	client *vision.ImageAnnotatorClient
}

func NewImageOCR(log *logger.Logger) (ImageOCR, error) {
	c, err := vision.NewImageAnnotatorClient(context.Background(), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	slog := log.With("service", "ImageOCR")
	slog.Info("Vision OCR initialized")
	return &imageOCR{log: slog, client: c}, nil
}

func (s *imageOCR) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *imageOCR) OCRImageBytes(ctx context.Context, img []byte) (string, error) {
	if len(img) == 0 {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 60*time.Second)
	defer cancel()

	resp, err := s.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: img},
			Features: []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	return annotationText(resp)
}

func annotationText(resp *visionpb.BatchAnnotateImagesResponse) (string, error) {
	if resp == nil || len(resp.GetResponses()) == 0 {
		return "", nil
	}
	r := resp.GetResponses()[0]
	if e := r.GetError(); e != nil && e.GetCode() != 0 {
		return "", fmt.Errorf("vision annotate: code=%d %s", e.GetCode(), e.GetMessage())
	}
	return strings.TrimSpace(r.GetFullTextAnnotation().GetText()), nil
}
