package cards

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cardstack/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type testServer struct {
	*fixture
	mux *http.ServeMux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	f := newFixture(t)
	h := NewHandler(f.svc, slog.New(slog.NewTextHandler(io.Discard, nil)), 1<<20)
	mux := http.NewServeMux()
	h.Register(mux, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := r.Header.Get("X-User")
			if user == "" {
				user = owner
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), user)))
		})
	})
	return &testServer{fixture: f, mux: mux}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type cardBody struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Kind         Kind     `json:"kind"`
	Status       Status   `json:"status"`
	DueDate      *string  `json:"dueDate"`
	ProjectID    *string  `json:"projectId"`
	FolderID     *string  `json:"folderId"`
	Blocks       []Block  `json:"blocks"`
	SortedBlocks []Block  `json:"sortedBlocks"`
	IsBlockBased bool     `json:"isBlockBased"`
	Tags         []string `json:"tags"`
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[map[string]string](t, rec)["error"]
}

func TestHandlerCreateAndGet(t *testing.T) {
	s := newTestServer(t)
	area := primitive.NewObjectID().Hex()

	rec := s.do(http.MethodPost, "/api/cards", `{"areaId":"`+area+`","title":"Groceries","blocks":[{"type":"text","content":{"text":"milk"}},{"type":"heading","content":{"text":"Later"}}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[cardBody](t, rec)
	assert.Equal(t, KindNote, created.Kind)
	assert.True(t, created.IsBlockBased)
	require.Len(t, created.SortedBlocks, 2)
	assert.Equal(t, TextContent{Text: "milk"}, created.SortedBlocks[0].Content)

	rec = s.do(http.MethodGet, "/api/cards/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Groceries", decodeBody[cardBody](t, rec).Title)

	req := httptest.NewRequest(http.MethodGet, "/api/cards/"+created.ID, nil)
	req.Header.Set("X-User", "intruder")
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Card not found", errorMessage(t, rec))
}

func TestHandlerValidationErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/cards", `{"title":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "areaId is required", errorMessage(t, rec))

	rec = s.do(http.MethodPost, "/api/cards", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid JSON body", errorMessage(t, rec))

	rec = s.do(http.MethodGet, "/api/cards/not-an-id", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerBlockRoutes(t *testing.T) {
	s := newTestServer(t)
	card := s.newCard(t, BlockText, BlockImage, BlockText)
	base := "/api/cards/" + card.ID.Hex() + "/blocks"
	second := card.Blocks[1].ID.Hex()

	rec := s.do(http.MethodPost, base+"/"+second+"/pin", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, base+"/"+second+"/pin", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Block is already pinned", errorMessage(t, rec))

	rec = s.do(http.MethodGet, base+"/sorted?sortBy=order&sortOrder=desc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sorted := decodeBody[map[string][]Block](t, rec)["blocks"]
	assert.Equal(t, []primitive.ObjectID{card.Blocks[1].ID, card.Blocks[2].ID, card.Blocks[0].ID}, ids(sorted))

	rec = s.do(http.MethodGet, base+"/sorted?sortBy=size", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPatch, base+"/"+second+"/toggle-pin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[cardBody](t, rec).Blocks[1].IsPinned)

	rec = s.do(http.MethodDelete, base+"/"+second+"/pin", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Block is not pinned", errorMessage(t, rec))

	rec = s.do(http.MethodPut, base+"/"+card.Blocks[0].ID.Hex(), `{"content":{"text":"edited"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, TextContent{Text: "edited"}, decodeBody[cardBody](t, rec).Blocks[0].Content)

	rec = s.do(http.MethodDelete, base+"/"+second, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{0, 1}, orders(decodeBody[cardBody](t, rec).Blocks))

	rec = s.do(http.MethodDelete, base+"/"+second, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Block not found", errorMessage(t, rec))
}

func TestHandlerLiteralBlockRoutes(t *testing.T) {
	s := newTestServer(t)
	card := s.newCard(t, BlockText, BlockText)
	base := "/api/cards/" + card.ID.Hex() + "/blocks"

	body := `{"blockOrders":[{"blockId":"` + card.Blocks[0].ID.Hex() + `","order":3}]}`
	rec := s.do(http.MethodPut, base+"/reorder", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []primitive.ObjectID{card.Blocks[1].ID, card.Blocks[0].ID}, ids(decodeBody[cardBody](t, rec).Blocks))

	rec = s.do(http.MethodPut, base+"/sort-preference", `{"sortBy":"createdAt","sortOrder":"desc"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stored := s.store.stored(t, card.ID)
	assert.Equal(t, SortByCreatedAt, stored.BlocksSortBy)
	assert.Equal(t, SortDesc, stored.BlocksSortOrder)

	rec = s.do(http.MethodPut, base+"/sort-preference", `{"sortBy":"title","sortOrder":"asc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid sortBy value. Must be: order, createdAt, or updatedAt", errorMessage(t, rec))
}

func TestHandlerUpdateAllBlocks(t *testing.T) {
	s := newTestServer(t)
	card := s.newCard(t, BlockText)

	rec := s.do(http.MethodPut, "/api/cards/"+card.ID.Hex()+"/blocks",
		`{"blocks":[{"type":"text","order":5,"content":{"text":"a"}},{"type":"checkbox","order":9,"content":{"label":"b"}}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []int{0, 1}, orders(decodeBody[cardBody](t, rec).Blocks))

	rec = s.do(http.MethodPut, "/api/cards/"+card.ID.Hex()+"/blocks", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerConvert(t *testing.T) {
	s := newTestServer(t)
	card := s.newCard(t)
	project := primitive.NewObjectID().Hex()
	path := "/api/cards/" + card.ID.Hex()

	rec := s.do(http.MethodPost, path+"/convert-to-task", `{"dueDate":"2026-01-01","projectId":"`+project+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	task := decodeBody[cardBody](t, rec)
	assert.Equal(t, KindTask, task.Kind)
	assert.Equal(t, StatusTodo, task.Status)
	require.NotNil(t, task.DueDate)
	assert.Equal(t, "2026-01-01T00:00:00Z", *task.DueDate)
	require.NotNil(t, task.ProjectID)
	assert.Equal(t, project, *task.ProjectID)
	assert.Nil(t, task.FolderID)

	rec = s.do(http.MethodPost, path+"/convert-to-task", `{"dueDate":"2026-01-01"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Card is already a task", errorMessage(t, rec))

	rec = s.do(http.MethodPost, path+"/convert-to-note", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, KindNote, decodeBody[cardBody](t, rec).Kind)

	rec = s.do(http.MethodPost, path+"/convert-to-task", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "dueDate is required to convert note to task", errorMessage(t, rec))
}

func TestHandlerDeleteAndList(t *testing.T) {
	s := newTestServer(t)
	keep := s.newCard(t)
	drop := s.newCard(t)

	rec := s.do(http.MethodDelete, "/api/cards/"+drop.ID.Hex(), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/api/cards?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Cards      []cardBody `json:"cards"`
		Pagination Pagination `json:"pagination"`
	}](t, rec)
	require.Len(t, list.Cards, 1)
	assert.Equal(t, keep.ID.Hex(), list.Cards[0].ID)
	assert.Equal(t, Pagination{Total: 1, Page: 1, Limit: 10, TotalPages: 1}, list.Pagination)

	rec = s.do(http.MethodGet, "/api/cards?areaId=nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerConcurrentUpdate(t *testing.T) {
	s := newTestServer(t)
	card := s.newCard(t)
	s.store.conflicts = maxWriteAttempts

	rec := s.do(http.MethodPost, "/api/cards/"+card.ID.Hex()+"/archive", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func multipartBody(t *testing.T, fields map[string]string, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (s *testServer) doMultipart(t *testing.T, method, path string, fields map[string]string, fileName, content string) *httptest.ResponseRecorder {
	body, contentType := multipartBody(t, fields, fileName, content)
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func TestHandlerFileBlocks(t *testing.T) {
	s := newTestServer(t)
	card := s.newCard(t)
	base := "/api/cards/" + card.ID.Hex() + "/blocks"

	rec := s.doMultipart(t, http.MethodPost, base+"/with-file", map[string]string{"type": "image", "caption": "Cat"}, "cat.png", "meow")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var added struct {
		Success  bool   `json:"success"`
		Block    *Block `json:"block"`
		FileInfo struct {
			URL      string `json:"url"`
			FileName string `json:"fileName"`
			FileSize int64  `json:"fileSize"`
		} `json:"fileInfo"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	assert.True(t, added.Success)
	assert.Equal(t, "cat.png", added.FileInfo.FileName)
	assert.Equal(t, int64(4), added.FileInfo.FileSize)
	require.NotNil(t, added.Block)
	assert.Equal(t, ImageContent{ImageURL: added.FileInfo.URL, ImageCaption: "Cat"}, added.Block.Content)

	rec = s.doMultipart(t, http.MethodPut, base+"/"+added.Block.ID.Hex()+"/file", nil, "dog.png", "woof")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, s.files.has(added.FileInfo.URL))
	assert.Equal(t, 1, s.files.count())

	rec = s.doMultipart(t, http.MethodPost, base+"/with-file", map[string]string{"type": "text"}, "a.txt", "x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "type must be image or audio", errorMessage(t, rec))

	rec = s.doMultipart(t, http.MethodPost, base+"/with-file", map[string]string{"type": "image"}, "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "File is required", errorMessage(t, rec))
}

func TestHandlerUploadFile(t *testing.T) {
	s := newTestServer(t)

	rec := s.doMultipart(t, http.MethodPost, "/api/cards/upload", nil, "notes.txt", "hello")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got struct {
		Success  bool `json:"success"`
		FileInfo struct {
			URL      string `json:"url"`
			FileName string `json:"fileName"`
			FileSize int64  `json:"fileSize"`
		} `json:"fileInfo"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Success)
	assert.Equal(t, "notes.txt", got.FileInfo.FileName)
	assert.Equal(t, int64(5), got.FileInfo.FileSize)
	assert.True(t, s.files.has(got.FileInfo.URL))

	rec = s.doMultipart(t, http.MethodPost, "/api/cards/upload", nil, "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerListFolderCards(t *testing.T) {
	s := newTestServer(t)
	folder := primitive.NewObjectID()
	_, err := s.svc.Create(context.Background(), owner, CreateCardInput{AreaID: primitive.NewObjectID(), Title: "Filed", FolderID: &folder})
	require.NoError(t, err)
	s.newCard(t)

	rec := s.do(http.MethodGet, "/api/folders/"+folder.Hex()+"/cards", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decodeBody[struct {
		Cards []cardBody `json:"cards"`
	}](t, rec)
	require.Len(t, list.Cards, 1)
	assert.Equal(t, "Filed", list.Cards[0].Title)

	rec = s.do(http.MethodGet, "/api/folders/nope/cards", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid folderId", errorMessage(t, rec))
}

func TestHandlerUploadTooLarge(t *testing.T) {
	s := newTestServer(t)
	big := strings.Repeat("x", 3<<20)

	rec := s.doMultipart(t, http.MethodPost, "/api/cards/upload", nil, "big.bin", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, s.files.count())
}

func TestHandlerCardPage(t *testing.T) {
	s := newTestServer(t)
	card, err := s.svc.Create(context.Background(), owner, CreateCardInput{
		AreaID: primitive.NewObjectID(),
		Title:  "Trip <plan>",
		Blocks: []AddBlockInput{
			{Type: BlockText, Content: ContentPatch{Text: ptr("pack **boots**")}},
			{Type: BlockCheckbox, Content: ContentPatch{Label: ptr("book hotel")}},
		},
	})
	require.NoError(t, err)

	rec := s.do(http.MethodGet, "/cards/"+card.ID.Hex(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, "Trip &lt;plan&gt;")
	assert.Contains(t, body, "<strong>boots</strong>")
	assert.Contains(t, body, "book hotel")

	rec = s.do(http.MethodGet, "/cards/"+primitive.NewObjectID().Hex(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
