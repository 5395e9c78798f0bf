package cards

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"cardstack/internal/uploads"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// memStore keeps cards as BSON documents so every read returns a fresh
// copy, the way the Mongo repo does.
type memStore struct {
	mu   sync.Mutex
	docs map[primitive.ObjectID][]byte

	// conflicts makes the next n Replace calls lose the version race.
	conflicts int
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[primitive.ObjectID][]byte)}
}

func (m *memStore) Insert(_ context.Context, c *Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = primitive.NewObjectID()
	c.Version = 0
	return m.put(c)
}

func (m *memStore) put(c *Card) error {
	data, err := bson.Marshal(c)
	if err != nil {
		return err
	}
	m.docs[c.ID] = data
	return nil
}

func (m *memStore) load(id primitive.ObjectID) (*Card, error) {
	data, ok := m.docs[id]
	if !ok {
		return nil, ErrCardNotFound
	}
	var c Card
	if err := bson.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (m *memStore) FindOwned(_ context.Context, id primitive.ObjectID, userID string) (*Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID || c.DeletedAt != nil {
		return nil, ErrCardNotFound
	}
	return c, nil
}

func (m *memStore) Replace(_ context.Context, c *Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, err := m.load(c.ID)
	if err != nil {
		return err
	}
	if stored.UserID != c.UserID || stored.DeletedAt != nil {
		return ErrCardNotFound
	}
	if m.conflicts > 0 {
		m.conflicts--
		return ErrVersionConflict
	}
	if stored.Version != c.Version {
		return ErrVersionConflict
	}
	next := *c
	next.Version++
	if err := m.put(&next); err != nil {
		return err
	}
	c.Version = next.Version
	return nil
}

func (m *memStore) List(_ context.Context, userID string, q ListQuery) ([]*Card, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Card
	for id := range m.docs {
		c, err := m.load(id)
		if err != nil {
			return nil, 0, err
		}
		if c.UserID != userID || c.DeletedAt != nil {
			continue
		}
		if q.Archived != nil && c.IsArchived != *q.Archived {
			continue
		}
		if q.Status != "" && c.Status != q.Status {
			continue
		}
		if q.FolderID != nil && (c.FolderID == nil || *c.FolderID != *q.FolderID) {
			continue
		}
		if q.ProjectID != nil && (c.ProjectID == nil || *c.ProjectID != *q.ProjectID) {
			continue
		}
		if q.Search != "" && !strings.Contains(c.Title+" "+c.Content, q.Search) {
			continue
		}
		all = append(all, c)
	}
	slices.SortFunc(all, func(a, b *Card) int { return b.CreatedAt.Compare(a.CreatedAt) })

	start := min((q.Page-1)*q.Limit, len(all))
	end := min(start+q.Limit, len(all))
	return all[start:end], int64(len(all)), nil
}

func (m *memStore) stored(t *testing.T, id primitive.ObjectID) *Card {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.load(id)
	require.NoError(t, err)
	return c
}

// memFiles is an in-memory FileStore.
type memFiles struct {
	mu      sync.Mutex
	files   map[string]string
	saveErr error
	n       int
}

func newMemFiles() *memFiles {
	return &memFiles{files: make(map[string]string)}
}

func (f *memFiles) Save(_ context.Context, fileName, mimeType string, r io.Reader) (*uploads.File, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	url := fmt.Sprintf("%sfile-%d-%s", uploads.URLPrefix, f.n, fileName)
	f.files[url] = string(data)
	return &uploads.File{URL: url, FileName: fileName, FileSize: int64(len(data)), MimeType: mimeType}, nil
}

func (f *memFiles) Remove(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !strings.HasPrefix(url, uploads.URLPrefix) {
		return uploads.ErrForeignURL
	}
	delete(f.files, url)
	return nil
}

func (f *memFiles) has(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[url]
	return ok
}

func (f *memFiles) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

// memNotifier records the cards it was told about.
type memNotifier struct {
	mu    sync.Mutex
	cards []Card
}

func (n *memNotifier) CardChanged(c Card) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cards = append(n.cards, c)
}

func (n *memNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.cards)
}

// clock hands out strictly increasing millisecond timestamps.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	svc      *Service
	store    *memStore
	files    *memFiles
	notifier *memNotifier
	clock    *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		files:    newMemFiles(),
		notifier: &memNotifier{},
		clock:    &clock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.svc = NewService(f.store, f.notifier, f.files, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.svc.now = f.clock.Now
	return f
}

const owner = "user-1"

// newCard creates a note owned by owner with one block per type given.
func (f *fixture) newCard(t *testing.T, types ...BlockType) *Card {
	t.Helper()
	in := CreateCardInput{AreaID: primitive.NewObjectID(), Title: "Groceries"}
	for _, bt := range types {
		in.Blocks = append(in.Blocks, AddBlockInput{Type: bt, Content: sampleContent(bt)})
	}
	card, err := f.svc.Create(context.Background(), owner, in)
	require.NoError(t, err)
	return card
}

func sampleContent(t BlockType) ContentPatch {
	url := "/uploads/sample"
	text := "hello"
	switch t {
	case BlockImage:
		return ContentPatch{ImageURL: &url}
	case BlockAudio:
		return ContentPatch{AudioURL: &url}
	case BlockCheckbox:
		return ContentPatch{Label: &text}
	case BlockList:
		return ContentPatch{Items: []ListItem{{Text: text}}}
	}
	return ContentPatch{Text: &text}
}

func ptr[T any](v T) *T {
	return &v
}

func ids(blocks []Block) []primitive.ObjectID {
	out := make([]primitive.ObjectID, len(blocks))
	for i, b := range blocks {
		out[i] = b.ID
	}
	return out
}

func orders(blocks []Block) []int {
	out := make([]int, len(blocks))
	for i, b := range blocks {
		out[i] = b.Order
	}
	return out
}

var errBoom = errors.New("boom")
