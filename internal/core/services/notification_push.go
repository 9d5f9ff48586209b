package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lorrc/dashboard-sync/internal/core/domain"
)

// notificationFromPush turns a live push into an unread ephemeral
// notification. Typed kinds get their display text from the payload.
func notificationFromPush(p domain.NotificationPush, now time.Time) domain.Notification {
	n := domain.Notification{
		ID:        p.ID,
		Source:    domain.SourceEphemeral,
		Type:      p.Type,
		Title:     p.Title,
		Message:   p.Message,
		Priority:  p.Priority,
		CreatedAt: p.Timestamp.Time,
		ActionURL: p.ActionURL,
		Payload:   p.Data,
	}

	field := func(key string) string {
		v, ok := p.Data[key]
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	}

	switch p.MessageKind {
	case domain.KindTaskAssignment:
		n.Type = "TASK_ASSIGNMENT"
		n.Title = "New Task: " + field("taskTitle")
		n.Message = fmt.Sprintf("You have been assigned %q in %s", field("taskTitle"), field("projectName"))
		n.ActionURL = "/tasks/" + field("taskId")
		n.Priority = domain.PriorityHigh
	case domain.KindProjectCreation:
		n.Type = "PROJECT_CREATION"
		n.Title = "New Project: " + field("projectName")
		n.Message = fmt.Sprintf("You are now team lead for %q", field("projectName"))
		n.ActionURL = "/projects/" + field("projectId")
		n.Priority = domain.PriorityHigh
	case domain.KindEmployeeReport:
		n.Type = "EMPLOYEE_REPORT"
		n.Title = "Employee Report Submitted"
		n.Message = fmt.Sprintf("%s submitted a %s report", field("employeeName"), field("reportType"))
		n.ActionURL = "/reports/" + field("reportId")
		n.Priority = domain.PriorityMedium
	case domain.KindGroupChatAddition:
		n.Type = "GROUP_CHAT_ADDITION"
		n.Title = "Added to Project Chat"
		n.Message = fmt.Sprintf("You've been added to %s chat group", field("projectName"))
		n.ActionURL = "/chat/project/" + field("projectId")
		n.Priority = domain.PriorityLow
	}

	if n.Priority == "" {
		n.Priority = domain.PriorityMedium
	}
	n.Priority = domain.Priority(strings.ToUpper(string(n.Priority)))
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	return n
}
