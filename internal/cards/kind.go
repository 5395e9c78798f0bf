package cards

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Kind is the note/task state of a card. It is derived from DueDate: a card
// with a due date is a task, one without is a note.
type Kind string

const (
	KindNote Kind = "note"
	KindTask Kind = "task"
)

// Kind reports whether c is currently a note or a task.
func (c *Card) Kind() Kind {
	if c.DueDate != nil {
		return KindTask
	}
	return KindNote
}

// ConvertToTask moves a note into the task state. When projectID is given
// the card leaves its folder for that project. An empty status means todo.
func (c *Card) ConvertToTask(due time.Time, projectID *primitive.ObjectID, status Status) error {
	if c.Kind() == KindTask {
		return errAlreadyTask
	}
	if status == "" {
		status = StatusTodo
	}
	if !status.Valid() {
		return invalid("status", "invalid status %q", status)
	}
	if due.IsZero() {
		return invalid("dueDate", "dueDate is required to convert note to task")
	}

	c.DueDate = &due
	c.Status = status
	if projectID != nil {
		pid := *projectID
		c.ProjectID = &pid
		c.FolderID = nil
	}
	return nil
}

// ConvertToNote moves a task back into the note state, dropping its due
// date and reminder. When folderID is given the card leaves its project for
// that folder.
func (c *Card) ConvertToNote(folderID *primitive.ObjectID) error {
	if c.Kind() == KindNote {
		return errAlreadyNote
	}

	c.DueDate = nil
	c.Reminder = nil
	c.Status = StatusTodo
	if folderID != nil {
		fid := *folderID
		c.FolderID = &fid
		c.ProjectID = nil
	}
	return nil
}
