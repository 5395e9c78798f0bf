package cards

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"cardstack/internal/auth"
	"cardstack/internal/uploads"
	"cardstack/views/models"
	"cardstack/views/pages"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Handler struct {
	svc       *Service
	log       *slog.Logger
	maxUpload int64
}

func NewHandler(svc *Service, log *slog.Logger, maxUpload int64) *Handler {
	return &Handler{svc: svc, log: log, maxUpload: maxUpload}
}

// Register mounts the card routes on mux. Every route goes through authn.
func (h *Handler) Register(mux *http.ServeMux, authn func(http.Handler) http.Handler) {
	routes := map[string]http.HandlerFunc{
		"POST /api/cards":                                   h.CreateCard,
		"GET /api/cards":                                    h.ListCards,
		"GET /api/folders/{folderId}/cards":                 h.ListFolderCards,
		"POST /api/cards/upload":                            h.UploadFile,
		"GET /api/cards/{id}":                               h.GetCard,
		"PUT /api/cards/{id}":                               h.UpdateCard,
		"DELETE /api/cards/{id}":                            h.DeleteCard,
		"POST /api/cards/{id}/archive":                      h.ArchiveCard,
		"POST /api/cards/{id}/unarchive":                    h.UnarchiveCard,
		"POST /api/cards/{id}/move":                         h.MoveCard,
		"PUT /api/cards/{id}/checklist":                     h.UpdateChecklist,
		"POST /api/cards/{id}/convert-to-task":              h.ConvertToTask,
		"POST /api/cards/{id}/convert-to-note":              h.ConvertToNote,
		"POST /api/cards/{id}/blocks":                       h.AddBlock,
		"PUT /api/cards/{id}/blocks":                        h.UpdateAllBlocks,
		"PUT /api/cards/{id}/blocks/reorder":                h.ReorderBlocks,
		"PUT /api/cards/{id}/blocks/sort-preference":        h.SetBlocksSortPreference,
		"GET /api/cards/{id}/blocks/sorted":                 h.GetBlocksSorted,
		"POST /api/cards/{id}/blocks/with-file":             h.AddBlockWithFile,
		"PUT /api/cards/{id}/blocks/{blockId}":              h.UpdateBlock,
		"DELETE /api/cards/{id}/blocks/{blockId}":           h.DeleteBlock,
		"POST /api/cards/{id}/blocks/{blockId}/pin":         h.PinBlock,
		"DELETE /api/cards/{id}/blocks/{blockId}/pin":       h.UnpinBlock,
		"PATCH /api/cards/{id}/blocks/{blockId}/toggle-pin": h.TogglePinBlock,
		"PUT /api/cards/{id}/blocks/{blockId}/file":         h.UpdateBlockFile,
		"GET /cards/{id}":                                   h.CardPage,
	}
	for pattern, fn := range routes {
		mux.Handle(pattern, authn(fn))
	}
}

// cardResponse adds the computed fields clients rely on.
type cardResponse struct {
	*Card
	Kind              Kind              `json:"kind"`
	SortedBlocks      []Block           `json:"sortedBlocks"`
	IsBlockBased      bool              `json:"isBlockBased"`
	ChecklistProgress ChecklistProgress `json:"checklistProgress"`
}

func newCardResponse(c *Card) cardResponse {
	return cardResponse{
		Card:              c,
		Kind:              c.Kind(),
		SortedBlocks:      c.SortedBlocks(),
		IsBlockBased:      len(c.Blocks) > 0,
		ChecklistProgress: c.ChecklistProgress(),
	}
}

type listResponse struct {
	Cards      []cardResponse `json:"cards"`
	Pagination Pagination     `json:"pagination"`
}

type fileResponse struct {
	Success  bool         `json:"success"`
	Card     cardResponse `json:"card"`
	Block    *Block       `json:"block,omitempty"`
	FileInfo uploads.File `json:"fileInfo"`
}

// --- Card lifecycle ---

// CreateCard handles POST /api/cards
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var input CreateCardInput
	if !h.decode(w, r, &input) {
		return
	}
	card, err := h.svc.Create(r.Context(), h.userID(r), input)
	if err != nil {
		h.writeError(w, "create card", err)
		return
	}
	h.jsonResponse(w, newCardResponse(card), http.StatusCreated)
}

// ListCards handles GET /api/cards
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	q := ListQuery{
		Status: Status(qs.Get("status")),
		Search: qs.Get("search"),
		Page:   h.parseInt(qs.Get("page"), 1),
		Limit:  h.parseInt(qs.Get("limit"), 20),
	}
	var err error
	if q.AreaID, err = optionalID(qs.Get("areaId")); err != nil {
		h.jsonError(w, "invalid areaId", http.StatusBadRequest)
		return
	}
	if q.FolderID, err = optionalID(qs.Get("folderId")); err != nil {
		h.jsonError(w, "invalid folderId", http.StatusBadRequest)
		return
	}
	if q.ProjectID, err = optionalID(qs.Get("projectId")); err != nil {
		h.jsonError(w, "invalid projectId", http.StatusBadRequest)
		return
	}
	if v := qs.Get("isArchived"); v != "" {
		archived := v == "true"
		q.Archived = &archived
	}
	h.list(w, r, q)
}

// ListFolderCards handles GET /api/folders/{folderId}/cards
func (h *Handler) ListFolderCards(w http.ResponseWriter, r *http.Request) {
	folderID, err := primitive.ObjectIDFromHex(r.PathValue("folderId"))
	if err != nil {
		h.jsonError(w, "invalid folderId", http.StatusBadRequest)
		return
	}
	archived := false
	h.list(w, r, ListQuery{
		FolderID: &folderID,
		Archived: &archived,
		Page:     h.parseInt(r.URL.Query().Get("page"), 1),
		Limit:    h.parseInt(r.URL.Query().Get("limit"), 20),
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, q ListQuery) {
	result, err := h.svc.List(r.Context(), h.userID(r), q)
	if err != nil {
		h.writeError(w, "list cards", err)
		return
	}
	resp := listResponse{
		Cards:      make([]cardResponse, len(result.Cards)),
		Pagination: result.Pagination,
	}
	for i, c := range result.Cards {
		resp.Cards[i] = newCardResponse(c)
	}
	h.jsonResponse(w, resp, http.StatusOK)
}

// GetCard handles GET /api/cards/{id}
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	card, err := h.svc.Get(r.Context(), h.userID(r), r.PathValue("id"))
	h.cardResult(w, "get card", card, err)
}

// UpdateCard handles PUT /api/cards/{id}
func (h *Handler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	var input UpdateCardInput
	if !h.decode(w, r, &input) {
		return
	}
	card, err := h.svc.Update(r.Context(), h.userID(r), r.PathValue("id"), input)
	h.cardResult(w, "update card", card, err)
}

// DeleteCard handles DELETE /api/cards/{id}
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.Delete(r.Context(), h.userID(r), r.PathValue("id")); err != nil {
		h.writeError(w, "delete card", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ArchiveCard(w http.ResponseWriter, r *http.Request) {
	card, err := h.svc.Archive(r.Context(), h.userID(r), r.PathValue("id"))
	h.cardResult(w, "archive card", card, err)
}

func (h *Handler) UnarchiveCard(w http.ResponseWriter, r *http.Request) {
	card, err := h.svc.Unarchive(r.Context(), h.userID(r), r.PathValue("id"))
	h.cardResult(w, "unarchive card", card, err)
}

// MoveCard handles POST /api/cards/{id}/move
func (h *Handler) MoveCard(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TargetProjectID string `json:"targetProjectId"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	projectID, err := primitive.ObjectIDFromHex(body.TargetProjectID)
	if err != nil {
		h.jsonError(w, "targetProjectId is required", http.StatusBadRequest)
		return
	}
	card, err := h.svc.Move(r.Context(), h.userID(r), r.PathValue("id"), projectID)
	h.cardResult(w, "move card", card, err)
}

func (h *Handler) UpdateChecklist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Checklist []ChecklistItem `json:"checklist"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	card, err := h.svc.UpdateChecklist(r.Context(), h.userID(r), r.PathValue("id"), body.Checklist)
	h.cardResult(w, "update checklist", card, err)
}

// ConvertToTask handles POST /api/cards/{id}/convert-to-task
func (h *Handler) ConvertToTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DueDate   string `json:"dueDate"`
		ProjectID string `json:"projectId"`
		Status    Status `json:"status"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if body.DueDate == "" {
		h.jsonError(w, "dueDate is required to convert note to task", http.StatusBadRequest)
		return
	}
	due, err := parseDate(body.DueDate)
	if err != nil {
		h.jsonError(w, "invalid dueDate: use RFC3339 or YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	projectID, err := optionalID(body.ProjectID)
	if err != nil {
		h.jsonError(w, "invalid projectId", http.StatusBadRequest)
		return
	}
	card, err := h.svc.ConvertToTask(r.Context(), h.userID(r), r.PathValue("id"), due, projectID, body.Status)
	h.cardResult(w, "convert to task", card, err)
}

// ConvertToNote handles POST /api/cards/{id}/convert-to-note
func (h *Handler) ConvertToNote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FolderID string `json:"folderId"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	folderID, err := optionalID(body.FolderID)
	if err != nil {
		h.jsonError(w, "invalid folderId", http.StatusBadRequest)
		return
	}
	card, err := h.svc.ConvertToNote(r.Context(), h.userID(r), r.PathValue("id"), folderID)
	h.cardResult(w, "convert to note", card, err)
}

// --- Blocks ---

// AddBlock handles POST /api/cards/{id}/blocks
func (h *Handler) AddBlock(w http.ResponseWriter, r *http.Request) {
	var input AddBlockInput
	if !h.decode(w, r, &input) {
		return
	}
	card, err := h.svc.AddBlock(r.Context(), h.userID(r), r.PathValue("id"), input)
	h.cardResult(w, "add block", card, err)
}

// UpdateBlock handles PUT /api/cards/{id}/blocks/{blockId}
func (h *Handler) UpdateBlock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content ContentPatch `json:"content"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	card, err := h.svc.UpdateBlock(r.Context(), h.userID(r), r.PathValue("id"), r.PathValue("blockId"), body.Content)
	h.cardResult(w, "update block", card, err)
}

func (h *Handler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	card, err := h.svc.DeleteBlock(r.Context(), h.userID(r), r.PathValue("id"), r.PathValue("blockId"))
	h.cardResult(w, "delete block", card, err)
}

// ReorderBlocks handles PUT /api/cards/{id}/blocks/reorder
func (h *Handler) ReorderBlocks(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BlockOrders []BlockOrder `json:"blockOrders"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	card, err := h.svc.ReorderBlocks(r.Context(), h.userID(r), r.PathValue("id"), body.BlockOrders)
	h.cardResult(w, "reorder blocks", card, err)
}

// UpdateAllBlocks handles PUT /api/cards/{id}/blocks
func (h *Handler) UpdateAllBlocks(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Blocks []Block `json:"blocks"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if body.Blocks == nil {
		h.jsonError(w, "blocks is required", http.StatusBadRequest)
		return
	}
	card, err := h.svc.UpdateAllBlocks(r.Context(), h.userID(r), r.PathValue("id"), body.Blocks)
	h.cardResult(w, "update all blocks", card, err)
}

func (h *Handler) PinBlock(w http.ResponseWriter, r *http.Request) {
	card, err := h.svc.PinBlock(r.Context(), h.userID(r), r.PathValue("id"), r.PathValue("blockId"))
	h.cardResult(w, "pin block", card, err)
}

func (h *Handler) UnpinBlock(w http.ResponseWriter, r *http.Request) {
	card, err := h.svc.UnpinBlock(r.Context(), h.userID(r), r.PathValue("id"), r.PathValue("blockId"))
	h.cardResult(w, "unpin block", card, err)
}

func (h *Handler) TogglePinBlock(w http.ResponseWriter, r *http.Request) {
	card, err := h.svc.TogglePinBlock(r.Context(), h.userID(r), r.PathValue("id"), r.PathValue("blockId"))
	h.cardResult(w, "toggle pin", card, err)
}

// SetBlocksSortPreference handles PUT /api/cards/{id}/blocks/sort-preference
func (h *Handler) SetBlocksSortPreference(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SortBy    SortBy    `json:"sortBy"`
		SortOrder SortOrder `json:"sortOrder"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	card, err := h.svc.SetBlocksSortPreference(r.Context(), h.userID(r), r.PathValue("id"), body.SortBy, body.SortOrder)
	h.cardResult(w, "set sort preference", card, err)
}

// GetBlocksSorted handles GET /api/cards/{id}/blocks/sorted
func (h *Handler) GetBlocksSorted(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	blocks, err := h.svc.GetBlocksSorted(r.Context(), h.userID(r), r.PathValue("id"),
		SortBy(qs.Get("sortBy")), SortOrder(qs.Get("sortOrder")))
	if err != nil {
		h.writeError(w, "get sorted blocks", err)
		return
	}
	h.jsonResponse(w, map[string][]Block{"blocks": blocks}, http.StatusOK)
}

// --- Files ---

// UploadFile handles POST /api/cards/upload. It only stores the file.
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	up, closeFile, ok := h.formFile(w, r)
	if !ok {
		return
	}
	defer closeFile()

	file, err := h.svc.files.Save(r.Context(), up.FileName, up.MimeType, up.Body)
	if err != nil {
		h.writeError(w, "upload file", err)
		return
	}
	h.jsonResponse(w, map[string]any{"success": true, "fileInfo": file}, http.StatusOK)
}

// AddBlockWithFile handles POST /api/cards/{id}/blocks/with-file
func (h *Handler) AddBlockWithFile(w http.ResponseWriter, r *http.Request) {
	up, closeFile, ok := h.formFile(w, r)
	if !ok {
		return
	}
	defer closeFile()

	in := FileBlockInput{
		Type:     BlockType(r.FormValue("type")),
		Caption:  r.FormValue("caption"),
		IsPinned: r.FormValue("isPinned") == "true",
	}
	if v := r.FormValue("order"); v != "" {
		order, err := strconv.Atoi(v)
		if err != nil {
			h.jsonError(w, "order must be an integer", http.StatusBadRequest)
			return
		}
		in.Order = &order
	}

	res, err := h.svc.AddBlockWithFile(r.Context(), h.userID(r), r.PathValue("id"), in, up)
	if err != nil {
		h.writeError(w, "add block with file", err)
		return
	}
	h.jsonResponse(w, fileResponse{
		Success:  true,
		Card:     newCardResponse(res.Card),
		Block:    res.Block,
		FileInfo: res.File,
	}, http.StatusOK)
}

// UpdateBlockFile handles PUT /api/cards/{id}/blocks/{blockId}/file
func (h *Handler) UpdateBlockFile(w http.ResponseWriter, r *http.Request) {
	up, closeFile, ok := h.formFile(w, r)
	if !ok {
		return
	}
	defer closeFile()

	var caption *string
	if vs, ok := r.MultipartForm.Value["caption"]; ok && len(vs) > 0 {
		caption = &vs[0]
	}

	res, err := h.svc.UpdateBlockFile(r.Context(), h.userID(r), r.PathValue("id"), r.PathValue("blockId"), caption, up)
	if err != nil {
		h.writeError(w, "update block file", err)
		return
	}
	h.jsonResponse(w, fileResponse{
		Success:  true,
		Card:     newCardResponse(res.Card),
		FileInfo: res.File,
	}, http.StatusOK)
}

// formFile parses a multipart request and opens its "file" part.
func (h *Handler) formFile(w http.ResponseWriter, r *http.Request) (Upload, func(), bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.jsonError(w, "file too large", http.StatusRequestEntityTooLarge)
			return Upload{}, nil, false
		}
		h.jsonError(w, "invalid multipart form", http.StatusBadRequest)
		return Upload{}, nil, false
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		h.jsonError(w, "File is required", http.StatusBadRequest)
		return Upload{}, nil, false
	}
	up := Upload{
		FileName: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Body:     f,
	}
	return up, func() { f.Close() }, true
}

// --- HTML view ---

// CardPage handles GET /cards/{id}
func (h *Handler) CardPage(w http.ResponseWriter, r *http.Request) {
	card, err := h.svc.Get(r.Context(), h.userID(r), r.PathValue("id"))
	if errors.Is(err, ErrCardNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.log.Error("failed to get card", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages.CardPage(h.cardToView(card)).Render(r.Context(), w); err != nil {
		h.log.Error("failed to render card", "card_id", card.ID.Hex(), "error", err)
	}
}

func (h *Handler) cardToView(c *Card) models.CardView {
	by, order := c.sortPreference()
	progress := c.ChecklistProgress()
	sorted := c.SortedBlocks()
	view := models.CardView{
		ID:          c.ID.Hex(),
		Title:       c.Title,
		Kind:        string(c.Kind()),
		Status:      string(c.Status),
		EnergyLevel: string(c.EnergyLevel),
		Tags:        c.Tags,
		DueDate:     c.DueDate,
		Reminder:    c.Reminder,
		Archived:    c.IsArchived,
		SortLabel:   string(by) + " " + string(order),
		Blocks:      make([]models.BlockView, len(sorted)),
		Checklist: models.ChecklistView{
			Completed:  progress.Completed,
			Total:      progress.Total,
			Percentage: progress.Percentage,
		},
		UpdatedAt: c.UpdatedAt,
	}
	for i, b := range sorted {
		view.Blocks[i] = h.blockToView(b)
	}
	return view
}

func (h *Handler) blockToView(b Block) models.BlockView {
	v := models.BlockView{ID: b.ID.Hex(), Type: string(b.Type), Pinned: b.IsPinned}
	switch c := b.Content.(type) {
	case TextContent:
		v.HTML = h.svc.RenderMarkdown(c.Text)
	case HeadingContent:
		v.HTML = h.svc.RenderMarkdown("## " + c.Text)
	case ImageContent:
		v.URL, v.Caption = c.ImageURL, c.ImageCaption
	case AudioContent:
		v.URL = c.AudioURL
	case CheckboxContent:
		v.Text, v.Checked = c.Label, c.Checked
	case ListContent:
		for _, item := range c.Items {
			v.Items = append(v.Items, models.ListItemView{Text: item.Text, Checked: item.Checked})
		}
	}
	return v
}

// --- Helper methods ---

func (h *Handler) cardResult(w http.ResponseWriter, action string, card *Card, err error) {
	if err != nil {
		h.writeError(w, action, err)
		return
	}
	h.jsonResponse(w, newCardResponse(card), http.StatusOK)
}

// writeError maps service errors onto status codes. Unexpected errors are
// logged and hidden from the client.
func (h *Handler) writeError(w http.ResponseWriter, action string, err error) {
	var validation *ValidationError
	var conflict *ConflictError
	switch {
	case errors.Is(err, ErrCardNotFound):
		h.jsonError(w, "Card not found", http.StatusNotFound)
	case errors.Is(err, ErrBlockNotFound):
		h.jsonError(w, "Block not found", http.StatusNotFound)
	case errors.As(err, &validation):
		h.jsonError(w, validation.Message, http.StatusBadRequest)
	case errors.As(err, &conflict):
		h.jsonError(w, conflict.Message, http.StatusBadRequest)
	case errors.Is(err, ErrConcurrentUpdate):
		h.jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, uploads.ErrTooLarge):
		h.jsonError(w, "file too large", http.StatusRequestEntityTooLarge)
	case errors.Is(err, uploads.ErrEmptyFile):
		h.jsonError(w, "File is required", http.StatusBadRequest)
	default:
		h.log.Error("failed to "+action, "error", err)
		h.jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) userID(r *http.Request) string {
	id, _ := auth.UserID(r.Context())
	return id
}

func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (h *Handler) parseInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

func optionalID(s string) (*primitive.ObjectID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// parseDate accepts RFC3339 timestamps and plain dates.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
