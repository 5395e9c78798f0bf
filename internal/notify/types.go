package notify

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Type string

const (
	TypeDueSoon  Type = "due_soon"
	TypeOverdue  Type = "overdue"
	TypeReminder Type = "reminder"
)

// window is how long a notification of this type suppresses another one
// for the same card.
func (t Type) window() time.Duration {
	if t == TypeReminder {
		return time.Hour
	}
	return 24 * time.Hour
}

// TaskInfo is a snapshot of the card taken when the notification was made.
type TaskInfo struct {
	Title       string `bson:"title" json:"title"`
	Status      string `bson:"status" json:"status"`
	EnergyLevel string `bson:"energyLevel" json:"energyLevel"`
}

type Notification struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    string             `bson:"userId" json:"userId"`
	CardID    primitive.ObjectID `bson:"cardId" json:"cardId"`
	Type      Type               `bson:"type" json:"type"`
	Title     string             `bson:"title" json:"title"`
	Message   string             `bson:"message" json:"message"`
	IsRead    bool               `bson:"isRead" json:"isRead"`
	ReadAt    *time.Time         `bson:"readAt" json:"readAt"`
	DueDate   time.Time          `bson:"dueDate" json:"dueDate"`
	TaskInfo  TaskInfo           `bson:"taskInfo" json:"taskInfo"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}
