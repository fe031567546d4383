package gcp

import (
	"os"
	"strings"

	"google.golang.org/api/option"
)

const userAgent = "docretrieval"

// ClientOptionsFromEnv builds the options shared by the storage, Document AI
// and Vision clients. Credentials come from GOOGLE_APPLICATION_CREDENTIALS_JSON
// (inline) or GOOGLE_APPLICATION_CREDENTIALS (path, or inline JSON when it
// starts with "{"); with neither set, application default credentials apply.
// GCP_QUOTA_PROJECT bills API quota to another project.
func ClientOptionsFromEnv() []option.ClientOption {
	opts := []option.ClientOption{option.WithUserAgent(userAgent)}
	if qp := strings.TrimSpace(os.Getenv("GCP_QUOTA_PROJECT")); qp != "" {
		opts = append(opts, option.WithQuotaProject(qp))
	}
	if raw := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON")); raw != "" {
		return append(opts, option.WithCredentialsJSON([]byte(raw)))
	}
	switch path := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); {
	case path == "":
		return opts
	case strings.HasPrefix(path, "{"):
		return append(opts, option.WithCredentialsJSON([]byte(path)))
	default:
		return append(opts, option.WithCredentialsFile(path))
	}
}

// collapseWhitespace folds runs of whitespace (including NBSP) from OCR output
// into single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\u00a0", " ")), " ")
}
