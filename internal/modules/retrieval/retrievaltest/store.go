// Package retrievaltest provides in-memory document and chunk repositories
// for tests that do not need Postgres.
package retrievaltest

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	docrepo "github.com/yungbote/docretrieval-backend/internal/data/repos/documents"
	types "github.com/yungbote/docretrieval-backend/internal/domain"
	"github.com/yungbote/docretrieval-backend/internal/domain/documents"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
)

// Store backs both repositories with maps and enforces the
// (document_id, chunk_index) uniqueness of the real table.
type Store struct {
	mu     sync.Mutex
	docs   map[uuid.UUID]*types.Document
	chunks map[uuid.UUID]map[int]*types.Chunk

	// FailChunkInserts makes the next n chunk inserts fail.
	FailChunkInserts int
	// NearestErr is returned by NearestByEmbedding when set.
	NearestErr error
	// StatusLog records every status write in order.
	StatusLog []types.DocumentStatus
}

func NewStore() *Store {
	return &Store{docs: map[uuid.UUID]*types.Document{}, chunks: map[uuid.UUID]map[int]*types.Chunk{}}
}

func (s *Store) Documents() docrepo.DocumentRepo { return documentRepo{s} }
func (s *Store) Chunks() docrepo.ChunkRepo       { return chunkRepo{s} }

// Statuses returns a copy of the status history.
func (s *Store) Statuses() []types.DocumentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.DocumentStatus(nil), s.StatusLog...)
}

func (s *Store) SetFailChunkInserts(n int) {
	s.mu.Lock()
	s.FailChunkInserts = n
	s.mu.Unlock()
}

type documentRepo struct{ s *Store }

func (r documentRepo) Create(dbc dbctx.Context, doc *types.Document) (*types.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	cp := *doc
	r.s.docs[doc.ID] = &cp
	return doc, nil
}

func (r documentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.docs[id]
	if !ok {
		return nil, docrepo.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r documentRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Document, error) {
	out := []*types.Document{}
	for _, id := range ids {
		if d, err := r.GetByID(dbc, id); err == nil {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r documentRepo) SetStatus(dbc dbctx.Context, id uuid.UUID, status types.DocumentStatus, message string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.docs[id]
	if !ok {
		return docrepo.ErrNotFound
	}
	d.Status = status
	d.ErrorMessage = ""
	if status == documents.StatusFailed {
		d.ErrorMessage = message
		if d.ErrorMessage == "" {
			d.ErrorMessage = docrepo.DefaultFailureMessage
		}
	}
	r.s.StatusLog = append(r.s.StatusLog, status)
	return nil
}

func (r documentRepo) MarkReady(dbc dbctx.Context, id uuid.UUID, mimeType string) error {
	if err := r.SetStatus(dbc, id, documents.StatusReady, ""); err != nil {
		return err
	}
	r.s.mu.Lock()
	r.s.docs[id].MimeType = mimeType
	r.s.mu.Unlock()
	return nil
}

func (r documentRepo) SoftDelete(dbc dbctx.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.docs[id]; !ok {
		return docrepo.ErrNotFound
	}
	delete(r.s.docs, id)
	return nil
}

type chunkRepo struct{ s *Store }

func (r chunkRepo) Create(dbc dbctx.Context, chunks []*types.Chunk) ([]*types.Chunk, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailChunkInserts > 0 {
		r.s.FailChunkInserts--
		return nil, errors.New("connection refused")
	}
	for _, ch := range chunks {
		byIdx := r.s.chunks[ch.DocumentID]
		if byIdx == nil {
			byIdx = map[int]*types.Chunk{}
			r.s.chunks[ch.DocumentID] = byIdx
		}
		if _, dup := byIdx[ch.ChunkIndex]; dup {
			return nil, fmt.Errorf("duplicate key (document_id, chunk_index)=(%s, %d)", ch.DocumentID, ch.ChunkIndex)
		}
		if ch.ID == uuid.Nil {
			ch.ID = uuid.New()
		}
		byIdx[ch.ChunkIndex] = ch
	}
	return chunks, nil
}

func (r chunkRepo) DeleteByDocumentID(dbc dbctx.Context, documentID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := int64(len(r.s.chunks[documentID]))
	delete(r.s.chunks, documentID)
	return n, nil
}

func (r chunkRepo) sorted(documentID uuid.UUID) []*types.Chunk {
	byIdx := r.s.chunks[documentID]
	out := make([]*types.Chunk, 0, len(byIdx))
	for _, ch := range byIdx {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out
}

func (r chunkRepo) ListByDocumentID(dbc dbctx.Context, documentID uuid.UUID, offset, limit int) ([]*types.Chunk, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := r.sorted(documentID)
	if offset >= len(all) {
		return []*types.Chunk{}, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r chunkRepo) ListByDocumentIDs(dbc dbctx.Context, documentIDs []uuid.UUID) ([]*types.Chunk, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*types.Chunk{}
	for _, id := range documentIDs {
		out = append(out, r.sorted(id)...)
	}
	return out, nil
}

func (r chunkRepo) CountByDocumentID(dbc dbctx.Context, documentID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.s.chunks[documentID])), nil
}

// NearestByEmbedding is unsupported unless NearestErr is nil, in which case it
// returns no rows so the ranker falls through.
func (r chunkRepo) NearestByEmbedding(dbc dbctx.Context, documentIDs, chunkIDs []uuid.UUID, vec []float32, limit int) ([]*types.ScoredChunk, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.NearestErr != nil {
		return nil, r.s.NearestErr
	}
	return []*types.ScoredChunk{}, nil
}
