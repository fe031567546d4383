package document_ingest

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	docrepo "github.com/yungbote/docretrieval-backend/internal/data/repos/documents"
	docdomain "github.com/yungbote/docretrieval-backend/internal/domain/documents"
	jobrt "github.com/yungbote/docretrieval-backend/internal/jobs/runtime"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/ingestion"
)

// Stage weights for the overall job progress. Embedding and storing chunks
// dominates wall time for anything but tiny documents.
var stageSpan = map[string][2]float64{
	"extract": {0.0, 0.15},
	"chunk":   {0.15, 0.25},
	"embed":   {0.25, 1.0},
}

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	docID, ok := jc.PayloadUUID("document_id")
	if !ok || docID == uuid.Nil {
		return jobrt.Permanent(fmt.Errorf("missing document_id"))
	}

	opt := ingestion.Options{Report: func(stage string, fraction float64, message string) {
		span, ok := stageSpan[stage]
		if !ok {
			jc.Progress(stage, jc.Job.Progress, message)
			return
		}
		jc.Progress(stage, span[0]+(span[1]-span[0])*fraction, message)
	}}

	var (
		res *ingestion.Result
		err error
	)
	if p.reprocess {
		res, err = p.engine.Reprocess(jc.Ctx, docID, opt)
	} else {
		res, err = p.engine.Ingest(jc.Ctx, docID, opt)
	}
	if errors.Is(err, docrepo.ErrNotFound) {
		return jobrt.Permanent(err)
	}
	if err != nil {
		// ErrDocumentBusy and transient failures go back to the queue.
		return err
	}

	// A document rejected by validation is a finished job: retrying cannot
	// change the outcome, and the reason lives on the document itself.
	stage := "done"
	if res.Status == docdomain.StatusFailed {
		stage = "rejected"
		p.log.Info("Document rejected", "document_id", docID, "reason", res.ErrorMessage)
	}
	jc.Succeed(stage, res)
	return nil
}
