package cards

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BlockType identifies the shape of a block's content. It is fixed when the
// block is created.
type BlockType string

const (
	BlockText     BlockType = "text"
	BlockImage    BlockType = "image"
	BlockAudio    BlockType = "audio"
	BlockCheckbox BlockType = "checkbox"
	BlockHeading  BlockType = "heading"
	BlockList     BlockType = "list"
)

// Valid reports whether t is one of the known block types.
func (t BlockType) Valid() bool {
	switch t {
	case BlockText, BlockImage, BlockAudio, BlockCheckbox, BlockHeading, BlockList:
		return true
	}
	return false
}

// HoldsFile reports whether blocks of this type reference an uploaded file.
func (t BlockType) HoldsFile() bool {
	return t == BlockImage || t == BlockAudio
}

// Content is the type-specific body of a block. The set of implementations
// is closed: TextContent, HeadingContent, ImageContent, AudioContent,
// CheckboxContent and ListContent.
type Content interface {
	blockType() BlockType
}

type TextContent struct {
	Text string
}

type HeadingContent struct {
	Text string
}

type ImageContent struct {
	ImageURL     string
	ImageCaption string
}

type AudioContent struct {
	AudioURL      string
	AudioDuration float64 // seconds
}

type CheckboxContent struct {
	Checked bool
	Label   string
}

type ListContent struct {
	Items []ListItem
}

// ListItem is one entry of a list block.
type ListItem struct {
	Text    string `bson:"text" json:"text"`
	Checked bool   `bson:"checked" json:"checked"`
}

func (TextContent) blockType() BlockType     { return BlockText }
func (HeadingContent) blockType() BlockType  { return BlockHeading }
func (ImageContent) blockType() BlockType    { return BlockImage }
func (AudioContent) blockType() BlockType    { return BlockAudio }
func (CheckboxContent) blockType() BlockType { return BlockCheckbox }
func (ListContent) blockType() BlockType     { return BlockList }

// emptyContent returns the zero content for t, or nil for an unknown type.
func emptyContent(t BlockType) Content {
	switch t {
	case BlockText:
		return TextContent{}
	case BlockHeading:
		return HeadingContent{}
	case BlockImage:
		return ImageContent{}
	case BlockAudio:
		return AudioContent{}
	case BlockCheckbox:
		return CheckboxContent{}
	case BlockList:
		return ListContent{}
	}
	return nil
}

// ContentPatch is the flat wire form of a block's content. A nil field is
// absent; only the fields that belong to the block's type are applied.
type ContentPatch struct {
	Text          *string    `bson:"text,omitempty" json:"text,omitempty"`
	ImageURL      *string    `bson:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	ImageCaption  *string    `bson:"imageCaption,omitempty" json:"imageCaption,omitempty"`
	AudioURL      *string    `bson:"audioUrl,omitempty" json:"audioUrl,omitempty"`
	AudioDuration *float64   `bson:"audioDuration,omitempty" json:"audioDuration,omitempty"`
	Checked       *bool      `bson:"checked,omitempty" json:"checked,omitempty"`
	Label         *string    `bson:"label,omitempty" json:"label,omitempty"`
	Items         []ListItem `bson:"items,omitempty" json:"items,omitempty"`
}

// Apply merges the patch into c and returns the result. Keys missing from
// the patch keep their current value.
func (p ContentPatch) Apply(c Content) Content {
	switch c := c.(type) {
	case TextContent:
		if p.Text != nil {
			c.Text = *p.Text
		}
		return c
	case HeadingContent:
		if p.Text != nil {
			c.Text = *p.Text
		}
		return c
	case ImageContent:
		if p.ImageURL != nil {
			c.ImageURL = *p.ImageURL
		}
		if p.ImageCaption != nil {
			c.ImageCaption = *p.ImageCaption
		}
		return c
	case AudioContent:
		if p.AudioURL != nil {
			c.AudioURL = *p.AudioURL
		}
		if p.AudioDuration != nil {
			c.AudioDuration = *p.AudioDuration
		}
		return c
	case CheckboxContent:
		if p.Checked != nil {
			c.Checked = *p.Checked
		}
		if p.Label != nil {
			c.Label = *p.Label
		}
		return c
	case ListContent:
		if p.Items != nil {
			c.Items = append([]ListItem(nil), p.Items...)
		}
		return c
	}
	return c
}

// contentPatchOf renders c back into its wire form.
func contentPatchOf(c Content) ContentPatch {
	switch c := c.(type) {
	case TextContent:
		return ContentPatch{Text: &c.Text}
	case HeadingContent:
		return ContentPatch{Text: &c.Text}
	case ImageContent:
		return ContentPatch{ImageURL: &c.ImageURL, ImageCaption: &c.ImageCaption}
	case AudioContent:
		return ContentPatch{AudioURL: &c.AudioURL, AudioDuration: &c.AudioDuration}
	case CheckboxContent:
		return ContentPatch{Checked: &c.Checked, Label: &c.Label}
	case ListContent:
		items := c.Items
		if items == nil {
			items = []ListItem{}
		}
		return ContentPatch{Items: items}
	}
	return ContentPatch{}
}

// validateContent checks the fields a block of its type cannot do without.
func validateContent(c Content) error {
	switch c := c.(type) {
	case ImageContent:
		if c.ImageURL == "" {
			return invalid("content.imageUrl", "imageUrl is required for image blocks")
		}
	case AudioContent:
		if c.AudioURL == "" {
			return invalid("content.audioUrl", "audioUrl is required for audio blocks")
		}
		if c.AudioDuration < 0 {
			return invalid("content.audioDuration", "audioDuration must not be negative")
		}
	}
	return nil
}

// FileMeta describes the uploaded file behind an image or audio block.
type FileMeta struct {
	FileName string `bson:"fileName,omitempty" json:"fileName,omitempty"`
	FileSize int64  `bson:"fileSize,omitempty" json:"fileSize,omitempty"`
	MimeType string `bson:"mimeType,omitempty" json:"mimeType,omitempty"`
}

// BlockMetadata holds engine-managed timestamps and optional file details.
type BlockMetadata struct {
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
	FileMeta  `bson:",inline"`
}

// Block is one typed unit of a card's body. Blocks only exist inside their
// card's Blocks slice; their IDs are unique within that slice.
type Block struct {
	ID       primitive.ObjectID
	Type     BlockType
	Order    int
	IsPinned bool
	PinnedAt *time.Time
	Content  Content
	Metadata BlockMetadata
}

type blockDoc struct {
	ID       primitive.ObjectID `bson:"_id" json:"id"`
	Type     BlockType          `bson:"type" json:"type"`
	Order    int                `bson:"order" json:"order"`
	IsPinned bool               `bson:"isPinned" json:"isPinned"`
	PinnedAt *time.Time         `bson:"pinnedAt" json:"pinnedAt"`
	Content  ContentPatch       `bson:"content" json:"content"`
	Metadata BlockMetadata      `bson:"metadata" json:"metadata"`
}

func (b Block) doc() blockDoc {
	return blockDoc{
		ID:       b.ID,
		Type:     b.Type,
		Order:    b.Order,
		IsPinned: b.IsPinned,
		PinnedAt: b.PinnedAt,
		Content:  contentPatchOf(b.Content),
		Metadata: b.Metadata,
	}
}

func (b *Block) fromDoc(d blockDoc) {
	b.ID = d.ID
	b.Type = d.Type
	b.Order = d.Order
	b.IsPinned = d.IsPinned
	b.PinnedAt = d.PinnedAt
	b.Metadata = d.Metadata
	b.Content = nil
	if c := emptyContent(d.Type); c != nil {
		b.Content = d.Content.Apply(c)
	}
}

func (b Block) MarshalBSON() ([]byte, error) {
	return bson.Marshal(b.doc())
}

func (b *Block) UnmarshalBSON(data []byte) error {
	var d blockDoc
	if err := bson.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("decode block: %w", err)
	}
	b.fromDoc(d)
	return nil
}

func (b Block) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.doc())
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var d blockDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	b.fromDoc(d)
	return nil
}

// pin marks the block pinned at now.
func (b *Block) pin(now time.Time) {
	b.IsPinned = true
	b.PinnedAt = &now
	b.Metadata.UpdatedAt = now
}

// unpin clears the pin state.
func (b *Block) unpin(now time.Time) {
	b.IsPinned = false
	b.PinnedAt = nil
	b.Metadata.UpdatedAt = now
}
