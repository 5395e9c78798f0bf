package notify

import (
	"fmt"
	"time"

	"cardstack/internal/cards"
)

// Due returns the notifications card calls for at now, before
// deduplication. Finished tasks never notify.
func Due(card cards.Card, now time.Time) []*Notification {
	if card.Status == cards.StatusDone {
		return nil
	}

	var out []*Notification
	if card.DueDate != nil {
		due := *card.DueDate
		until := due.Sub(now)
		switch {
		case until >= 0 && until <= 24*time.Hour:
			out = append(out, newNotification(card, TypeDueSoon, due, now,
				"⏰ Task due soon",
				fmt.Sprintf("%q is due in %s", card.Title, formatUntil(until))))
		case until < 0:
			out = append(out, newNotification(card, TypeOverdue, due, now,
				"🚨 Task overdue",
				fmt.Sprintf("%q is overdue by %s", card.Title, formatOverdue(-until))))
		}
	}

	if card.Reminder != nil && !card.Reminder.After(now) {
		due := *card.Reminder
		if card.DueDate != nil {
			due = *card.DueDate
		}
		out = append(out, newNotification(card, TypeReminder, due, now,
			"🔔 Reminder",
			fmt.Sprintf("Reminder for task: %q", card.Title)))
	}
	return out
}

func newNotification(card cards.Card, t Type, due, now time.Time, title, message string) *Notification {
	return &Notification{
		UserID:  card.UserID,
		CardID:  card.ID,
		Type:    t,
		Title:   title,
		Message: message,
		DueDate: due,
		TaskInfo: TaskInfo{
			Title:       card.Title,
			Status:      string(card.Status),
			EnergyLevel: string(card.EnergyLevel),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// formatUntil renders d as "3h 20m", "5h" or "45m".
func formatUntil(d time.Duration) string {
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}

// formatOverdue renders d in whole days, or hours below one day.
func formatOverdue(d time.Duration) string {
	if days := int(d / (24 * time.Hour)); days > 0 {
		return plural(days, "day")
	}
	return plural(int(d/time.Hour), "hour")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
