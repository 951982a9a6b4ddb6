package store

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/openauction/texas-worker/internal/domain/auction"
	"github.com/openauction/texas-worker/internal/domain/errors"
)

// memoryStore keeps documents in process memory. Used by standalone runs
// and tests; it enforces the same revision contract as the redis variant.
type memoryStore struct {
	logger *zap.Logger

	mu   sync.Mutex
	docs map[string]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) Store {
	return &memoryStore{
		logger: logger,
		docs:   make(map[string]string),
	}
}

func (s *memoryStore) Get(_ context.Context, id string) (*auction.Document, error) {
	s.mu.Lock()
	raw, ok := s.docs[id]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	doc := &auction.Document{}
	if err := json.Unmarshal([]byte(raw), doc); err != nil {
		return nil, errors.NewInternalError("stored document is not valid JSON").WithCause(err)
	}
	return doc, nil
}

func (s *memoryStore) Save(_ context.Context, doc *auction.Document, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	storedRev := ""
	if raw, ok := s.docs[id]; ok {
		stored := &auction.Document{}
		if err := json.Unmarshal([]byte(raw), stored); err != nil {
			return errors.NewInternalError("stored document is not valid JSON").WithCause(err)
		}
		storedRev = stored.Rev
	}

	if storedRev != doc.Rev {
		doc.Rev = storedRev
	}
	doc.Rev = nextRev(doc.Rev)

	payload, err := json.Marshal(doc)
	if err != nil {
		return errors.NewInternalError("document not serialisable").WithCause(err)
	}
	s.docs[id] = string(payload)
	return nil
}
