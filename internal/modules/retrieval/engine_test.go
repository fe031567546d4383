package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	docrepo "github.com/yungbote/docretrieval-backend/internal/data/repos/documents"
	"github.com/yungbote/docretrieval-backend/internal/domain/documents"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/chunker"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/embedder"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/extractor"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/ingestion"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/ranker"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/retrievaltest"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

func newTestEngine(t *testing.T) (*Engine, *retrievaltest.Store) {
	t.Helper()
	store := retrievaltest.NewStore()
	log := logger.Nop()
	emb := embedder.New(log, nil, embedder.Config{})
	coord, err := ingestion.New(ingestion.Deps{
		Log:       log,
		Documents: store.Documents(),
		Chunks:    store.Chunks(),
		Extractor: extractor.New(log, extractor.Deps{}, extractor.Config{}),
		Chunker:   chunker.New(chunker.DefaultConfig()),
		Embedder:  emb,
	}, ingestion.DefaultConfig())
	if err != nil {
		t.Fatalf("ingestion.New: %v", err)
	}
	eng, err := NewEngine(Deps{
		Log:         log,
		Documents:   store.Documents(),
		Chunks:      store.Chunks(),
		Coordinator: coord,
		Ranker:      ranker.NewDefault(log, ranker.DefaultConfig(), emb, store.Chunks()),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng, store
}

func ingestInline(t *testing.T, eng *Engine, text string) uuid.UUID {
	t.Helper()
	doc, err := eng.CreateDocument(context.Background(), CreateDocumentInput{SourceKind: documents.SourceInlineText, InlineText: text})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := eng.Ingest(context.Background(), doc.ID); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return doc.ID
}

func TestCreateDocumentValidation(t *testing.T) {
	eng, _ := newTestEngine(t)
	cases := []CreateDocumentInput{
		{SourceKind: "fax"},
		{SourceKind: documents.SourceInlineText, InlineText: "  "},
		{SourceKind: documents.SourceUploadedFile},
	}
	for _, in := range cases {
		if _, err := eng.CreateDocument(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("CreateDocument(%+v): want ErrInvalidInput got=%v", in, err)
		}
	}
	doc, err := eng.CreateDocument(context.Background(), CreateDocumentInput{SourceKind: documents.SourceExternalBlob, SourceLocator: "gs://b/k.pdf"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.Status != documents.StatusProcessing {
		t.Fatalf("status: want=%s got=%s", documents.StatusProcessing, doc.Status)
	}
}

func TestStatusListAndSearch(t *testing.T) {
	eng, _ := newTestEngine(t)
	paris := ingestInline(t, eng, "Paris is the capital of France.\n\n"+strings.Repeat("filler words here ", 100))
	berlin := ingestInline(t, eng, "Berlin is the capital of Germany.")

	st, err := eng.GetDocumentStatus(context.Background(), paris)
	if err != nil {
		t.Fatalf("GetDocumentStatus: %v", err)
	}
	if st.Status != documents.StatusReady || st.ChunkCount < 2 || st.ErrorMessage != "" {
		t.Fatalf("GetDocumentStatus: got=%+v", st)
	}

	chunks, err := eng.ListChunks(context.Background(), paris, 1, 1)
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(chunks) != 1 || chunks[0].ChunkIndex != 1 {
		t.Fatalf("ListChunks: want chunk 1 got=%v", chunks)
	}

	// Without a provider every chunk carries its local vector, so the cosine
	// tier ranks and an exact-text query matches its own chunk.
	res, err := eng.Search(context.Background(), []uuid.UUID{paris, berlin}, "Berlin is the capital of Germany.", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) == 0 || res[0].Chunk.DocumentID != berlin {
		t.Fatalf("Search: want berlin chunk first got=%+v", res)
	}
	if res[0].Tier != ranker.TierCosine {
		t.Fatalf("tier: want=%s got=%s", ranker.TierCosine, res[0].Tier)
	}
	if res[0].Score < 0.999 {
		t.Fatalf("score: want=1 got=%v", res[0].Score)
	}
}

func TestKeywordTierRanksChunksWithoutVectors(t *testing.T) {
	eng, store := newTestEngine(t)
	paris := ingestInline(t, eng, "Paris is the capital of France.\n\n"+strings.Repeat("filler words here ", 100))
	chunks, err := store.Chunks().ListByDocumentID(dbctx.Context{}, paris, 0, 0)
	if err != nil {
		t.Fatalf("ListByDocumentID: %v", err)
	}
	for _, ch := range chunks {
		ch.Embedding = nil
	}
	res := eng.Rank(context.Background(), "capital of France", chunks, 3)
	if len(res) == 0 || res[0].Chunk.ChunkIndex != 0 || res[0].Tier != ranker.TierKeyword {
		t.Fatalf("Rank: want keyword hit on chunk 0 got=%+v", res)
	}
}

func TestSearchSkipsUnreadyDocuments(t *testing.T) {
	eng, _ := newTestEngine(t)
	failed, err := eng.CreateDocument(context.Background(), CreateDocumentInput{SourceKind: documents.SourceExternalBlob, SourceLocator: "gs://b/missing.pdf"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	res, err := eng.Ingest(context.Background(), failed.ID)
	if err != nil {
		t.Fatalf("Ingest: want terminal failure without error got=%v", err)
	}
	if res.Status != documents.StatusFailed {
		t.Fatalf("Ingest: want FAILED got=%s", res.Status)
	}
	out, err := eng.Search(context.Background(), []uuid.UUID{failed.ID}, "anything", 0)
	if err != nil || len(out) != 0 {
		t.Fatalf("Search: want empty got=%d err=%v", len(out), err)
	}
	if _, err := eng.Search(context.Background(), []uuid.UUID{failed.ID}, "  ", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Search empty query: want ErrInvalidInput got=%v", err)
	}
}

func TestDeleteDocument(t *testing.T) {
	eng, store := newTestEngine(t)
	id := ingestInline(t, eng, "short text")
	if err := eng.DeleteDocument(context.Background(), id); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if n, _ := store.Chunks().CountByDocumentID(dbctx.Context{}, id); n != 0 {
		t.Fatalf("chunks after delete: want=0 got=%d", n)
	}
	if _, err := eng.GetDocumentStatus(context.Background(), id); !errors.Is(err, docrepo.ErrNotFound) {
		t.Fatalf("GetDocumentStatus: want ErrNotFound got=%v", err)
	}
	if err := eng.DeleteDocument(context.Background(), id); !errors.Is(err, docrepo.ErrNotFound) {
		t.Fatalf("second DeleteDocument: want ErrNotFound got=%v", err)
	}
}

func TestMarkForReprocessAndReprocess(t *testing.T) {
	eng, _ := newTestEngine(t)
	id := ingestInline(t, eng, strings.Repeat("abc ", 800))
	before, _ := eng.GetDocumentStatus(context.Background(), id)
	if err := eng.MarkForReprocess(context.Background(), id); err != nil {
		t.Fatalf("MarkForReprocess: %v", err)
	}
	mid, _ := eng.GetDocumentStatus(context.Background(), id)
	if mid.Status != documents.StatusProcessing {
		t.Fatalf("status: want=%s got=%s", documents.StatusProcessing, mid.Status)
	}
	if _, err := eng.Reprocess(context.Background(), id); err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	after, _ := eng.GetDocumentStatus(context.Background(), id)
	if after.Status != documents.StatusReady || after.ChunkCount != before.ChunkCount {
		t.Fatalf("after reprocess: want READY/%d got=%s/%d", before.ChunkCount, after.Status, after.ChunkCount)
	}
}
