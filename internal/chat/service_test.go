package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docchat/backend/internal/query"
	"github.com/docchat/backend/internal/ragerr"
	"github.com/docchat/backend/internal/storage/models"
)

type memoryStore struct {
	mu        sync.Mutex
	docs      map[string]bool
	turns     map[string][]models.ChatTurn
	appendErr error
}

func newMemoryStore(docIDs ...string) *memoryStore {
	s := &memoryStore{docs: map[string]bool{}, turns: map[string][]models.ChatTurn{}}
	for _, id := range docIDs {
		s.docs[id] = true
	}
	return s
}

func (s *memoryStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	if !s.docs[id] {
		return nil, ragerr.New(ragerr.ErrNotFound, "document %s", id)
	}
	return &models.Document{ID: id}, nil
}

func (s *memoryStore) CountChatTurns(_ context.Context, docID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns[docID]), nil
}

func (s *memoryStore) AppendChatTurns(_ context.Context, docID string, turns []models.ChatTurn) ([]models.ChatTurn, error) {
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, turn := range turns {
		turn.DocID = docID
		turn.Seq = len(s.turns[docID]) + 1
		s.turns[docID] = append(s.turns[docID], turn)
	}
	return append([]models.ChatTurn(nil), s.turns[docID]...), nil
}

func (s *memoryStore) GetChatHistory(_ context.Context, docID string) ([]models.ChatTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatTurn{}, s.turns[docID]...), nil
}

type fakeAnswerer struct {
	mu       sync.Mutex
	lengths  []int
	err      error
	response *query.Answer
}

func (f *fakeAnswerer) Answer(_ context.Context, _, _ string, historyLength int) (*query.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lengths = append(f.lengths, historyLength)
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func defaultAnswer() *query.Answer {
	return &query.Answer{
		Answer:      "ATP is made in mitochondria (page 2).",
		SourcePages: []int{1, 2},
		Sources:     []models.Source{{Page: 2, Excerpt: "ATP synthesis"}, {Page: 1, Excerpt: "Mitochondria"}},
	}
}

func TestAsk_AppendsTurnPair(t *testing.T) {
	store := newMemoryStore("doc-1")
	answerer := &fakeAnswerer{response: defaultAnswer()}
	svc := NewService(store, answerer)

	res, err := svc.Ask(context.Background(), "doc-1", "user-1", "  Where is ATP made?  ")
	require.NoError(t, err)

	assert.Equal(t, "ATP is made in mitochondria (page 2).", res.Answer)
	assert.Equal(t, []int{1, 2}, res.SourcePages)
	assert.Len(t, res.Sources, 2)

	require.Len(t, res.History, 2)
	assert.Equal(t, models.RoleUser, res.History[0].Role)
	assert.Equal(t, "Where is ATP made?", res.History[0].Content)
	assert.Equal(t, models.RoleAssistant, res.History[1].Role)
	assert.Equal(t, res.Answer, res.History[1].Content)
	assert.Equal(t, []int{1, 2}, res.History[1].SourcePages)

	res, err = svc.Ask(context.Background(), "doc-1", "user-1", "Follow up?")
	require.NoError(t, err)
	assert.Len(t, res.History, 4)
	assert.Equal(t, []int{0, 2}, answerer.lengths)
}

func TestAsk_Failures(t *testing.T) {
	tests := []struct {
		name     string
		docID    string
		content  string
		answerer *fakeAnswerer
		kind     error
	}{
		{"unknown document", "missing", "hi", &fakeAnswerer{response: defaultAnswer()}, ragerr.ErrNotFound},
		{"empty content", "doc-1", "   ", &fakeAnswerer{response: defaultAnswer()}, ragerr.ErrInvalidInput},
		{"generation", "doc-1", "hi", &fakeAnswerer{err: ragerr.New(ragerr.ErrGeneration, "model down")}, ragerr.ErrGeneration},
		{"retrieval", "doc-1", "hi", &fakeAnswerer{err: ragerr.New(ragerr.ErrRetrieval, "index corrupt")}, ragerr.ErrRetrieval},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemoryStore("doc-1")
			svc := NewService(store, tc.answerer)

			res, err := svc.Ask(context.Background(), tc.docID, "user-1", tc.content)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tc.kind)

			history, err := store.GetChatHistory(context.Background(), "doc-1")
			require.NoError(t, err)
			assert.Empty(t, history)
		})
	}
}

func TestAsk_AppendFailureSurfaces(t *testing.T) {
	store := newMemoryStore("doc-1")
	store.appendErr = errors.New("database is locked")
	svc := NewService(store, &fakeAnswerer{response: defaultAnswer()})

	res, err := svc.Ask(context.Background(), "doc-1", "user-1", "hi")
	assert.Nil(t, res)
	assert.EqualError(t, err, "database is locked")
}

func TestHistory(t *testing.T) {
	store := newMemoryStore("doc-1")
	svc := NewService(store, &fakeAnswerer{response: defaultAnswer()})

	history, err := svc.History(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = svc.Ask(context.Background(), "doc-1", "user-1", "hi")
	require.NoError(t, err)

	history, err = svc.History(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	_, err = svc.History(context.Background(), "missing")
	assert.ErrorIs(t, err, ragerr.ErrNotFound)
}
