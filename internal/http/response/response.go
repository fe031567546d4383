package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	docrepo "github.com/yungbote/docretrieval-backend/internal/data/repos/documents"
	jobrepo "github.com/yungbote/docretrieval-backend/internal/data/repos/jobs"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/ingestion"
	"github.com/yungbote/docretrieval-backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	respond(c, apierr.New(status, code, err))
}

// RespondErr classifies err and writes the matching envelope.
func RespondErr(c *gin.Context, err error) {
	respond(c, Classify(err))
}

// respond records the cause on the gin context for the request log; the
// client only sees ae.Message().
func respond(c *gin.Context, ae *apierr.Error) {
	if ae.Err != nil {
		_ = c.Error(ae.Err)
	}
	c.AbortWithStatusJSON(ae.Status, ErrorEnvelope{
		Error: APIError{
			Message: ae.Message(),
			Code:    ae.Code,
		},
	})
}

// Classify maps service errors onto HTTP statuses. An *apierr.Error passes
// through unchanged.
func Classify(err error) *apierr.Error {
	var ae *apierr.Error
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, docrepo.ErrNotFound):
		return apierr.NotFound("document_not_found", err)
	case errors.Is(err, jobrepo.ErrJobNotFound):
		return apierr.NotFound("job_not_found", err)
	case errors.Is(err, retrieval.ErrInvalidInput):
		return apierr.BadRequest("invalid_input", err)
	case errors.Is(err, ingestion.ErrDocumentBusy):
		return apierr.Conflict("document_busy", err)
	default:
		return apierr.Internal(err)
	}
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
