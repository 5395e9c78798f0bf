package cards

import (
	"context"
	"io"
	"time"

	"cardstack/internal/uploads"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FileStore keeps the binaries behind image and audio blocks.
type FileStore interface {
	Save(ctx context.Context, fileName, mimeType string, r io.Reader) (*uploads.File, error)
	Remove(ctx context.Context, url string) error
}

// Upload is a file received from a client.
type Upload struct {
	FileName string
	MimeType string
	Body     io.Reader
}

// FileBlockInput describes a block created around an upload.
type FileBlockInput struct {
	Type     BlockType
	Order    *int
	Caption  string
	IsPinned bool
}

// FileResult is returned by the block-plus-file operations.
type FileResult struct {
	Card  *Card        `json:"card"`
	Block *Block       `json:"block,omitempty"`
	File  uploads.File `json:"fileInfo"`
}

// AddBlockWithFile stores the upload and adds an image or audio block
// pointing at it. The stored file is removed again if the block cannot be
// added.
func (s *Service) AddBlockWithFile(ctx context.Context, userID, cardID string, in FileBlockInput, up Upload) (*FileResult, error) {
	if !in.Type.HoldsFile() {
		return nil, invalid("type", "type must be image or audio")
	}

	file, err := s.files.Save(ctx, up.FileName, up.MimeType, up.Body)
	if err != nil {
		return nil, err
	}

	block := AddBlockInput{
		Type:     in.Type,
		Order:    in.Order,
		IsPinned: in.IsPinned,
		Content:  newFileContent(in.Type, file.URL, in.Caption),
		Metadata: fileMeta(file),
	}
	var added Block
	card, err := s.mutate(ctx, userID, cardID, func(c *Card, now time.Time) error {
		b, err := c.addBlock(block, now)
		added = b
		return err
	})
	if err != nil {
		s.discardFile(ctx, file.URL)
		return nil, err
	}
	return &FileResult{Card: card, Block: &added, File: *file}, nil
}

// UpdateBlockFile points an image or audio block at a new upload. The
// previous file is removed once the block has been updated; the new file is
// removed if the update fails.
func (s *Service) UpdateBlockFile(ctx context.Context, userID, cardID, blockID string, caption *string, up Upload) (*FileResult, error) {
	bid, err := parseBlockID(blockID)
	if err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, userID, cardID)
	if err != nil {
		return nil, err
	}
	if _, err := fileBlock(current, bid); err != nil {
		return nil, err
	}

	file, err := s.files.Save(ctx, up.FileName, up.MimeType, up.Body)
	if err != nil {
		return nil, err
	}

	meta := fileMeta(file)
	var oldURL string
	card, err := s.mutate(ctx, userID, cardID, func(c *Card, now time.Time) error {
		b, err := fileBlock(c, bid)
		if err != nil {
			return err
		}
		oldURL = fileURL(b.Content)
		patch := ContentPatch{AudioURL: &file.URL}
		if b.Type == BlockImage {
			patch = ContentPatch{ImageURL: &file.URL, ImageCaption: caption}
		}
		_, err = c.updateBlock(bid, patch, &meta, now)
		return err
	})
	if err != nil {
		s.discardFile(ctx, file.URL)
		return nil, err
	}
	if oldURL != "" && oldURL != file.URL {
		s.discardFile(ctx, oldURL)
	}
	return &FileResult{Card: card, File: *file}, nil
}

// fileBlock returns the block with id, which must hold a file.
func fileBlock(c *Card, id primitive.ObjectID) (*Block, error) {
	b, err := c.block(id)
	if err != nil {
		return nil, err
	}
	if !b.Type.HoldsFile() {
		return nil, invalid("type", "Can only update file for image or audio blocks")
	}
	return b, nil
}

// newFileContent is the content of a block created around an upload. The
// audio duration is left for the client to fill in.
func newFileContent(t BlockType, url, caption string) ContentPatch {
	if t == BlockAudio {
		var duration float64
		return ContentPatch{AudioURL: &url, AudioDuration: &duration}
	}
	return ContentPatch{ImageURL: &url, ImageCaption: &caption}
}

func fileURL(c Content) string {
	switch c := c.(type) {
	case ImageContent:
		return c.ImageURL
	case AudioContent:
		return c.AudioURL
	}
	return ""
}

func fileMeta(f *uploads.File) FileMeta {
	return FileMeta{FileName: f.FileName, FileSize: f.FileSize, MimeType: f.MimeType}
}

func (s *Service) discardFile(ctx context.Context, url string) {
	if err := s.files.Remove(context.WithoutCancel(ctx), url); err != nil {
		s.log.Warn("failed to remove upload", "url", url, "error", err)
	}
}
