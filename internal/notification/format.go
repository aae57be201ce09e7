// Package notification turns raw domain events into the title, description
// and severity a UI shows the user. Format is pure and total.
package notification

import (
	"fmt"

	"github.com/cktan21/spm-relay/internal/event"
)

type Severity string

const (
	SeverityDefault Severity = "default"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
)

// Descriptor is the user-facing form of an event.
type Descriptor struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// Fallbacks used when the event data lacks a field.
const (
	fallbackTask    = "Task"
	fallbackUser    = "User"
	fallbackProject = "Project"
	fallbackAdder   = "Someone"
	unknownType     = "unknown"
)

// Format builds the descriptor for ev. Unknown event types get a generic
// descriptor naming the type.
func Format(ev event.Raw) Descriptor {
	taskName := orDefault(ev.String("task_name"), fallbackTask)
	userName := orDefault(ev.String("name"), fallbackUser)
	projectName := orDefault(ev.String("project_name"), fallbackProject)
	addedBy := orDefault(ev.String("added_by_name"), fallbackAdder)

	switch ev.Type {
	case event.TaskCreated:
		in := ""
		if p := ev.String("project_name"); p != "" {
			in = " in " + p
		}
		return Descriptor{
			Title:       "New Task Created",
			Description: fmt.Sprintf("%s has been created%s", taskName, in),
			Severity:    SeverityInfo,
		}

	case event.TaskUpdated:
		return Descriptor{
			Title:       "Task Updated",
			Description: taskName + " has been updated",
			Severity:    SeverityInfo,
		}

	case event.TaskDeleted:
		return Descriptor{
			Title:       "Task Deleted",
			Description: taskName + " has been deleted",
			Severity:    SeverityWarning,
		}

	case event.TaskAssigned:
		suffix := priorityText(ev) + labelText(ev)
		if ev.Bool("is_creator") {
			return Descriptor{
				Title:       "Task Created & Assigned",
				Description: fmt.Sprintf("You've created and been assigned to \"%s\"%s", taskName, suffix),
				Severity:    SeveritySuccess,
			}
		}
		by := ""
		if userName != fallbackUser {
			by = " by " + userName
		}
		return Descriptor{
			Title:       "Task Assigned",
			Description: fmt.Sprintf("You've been assigned to \"%s\"%s%s", taskName, by, suffix),
			Severity:    SeveritySuccess,
		}

	case event.TaskStatusChanged:
		from, to := "", ""
		if s := ev.String("old_status"); s != "" {
			from = " from " + s
		}
		if s := ev.String("new_status"); s != "" {
			to = " to " + s
		}
		return Descriptor{
			Title:       "Task Status Changed",
			Description: fmt.Sprintf("Status of %s has been changed%s%s", taskName, from, to),
			Severity:    SeverityInfo,
		}

	case event.DeadlineApproaching:
		return Descriptor{
			Title:       "Deadline Approaching",
			Description: taskName + " deadline is approaching (3 days remaining)",
			Severity:    SeverityWarning,
		}

	case event.DeadlineOverdue:
		return Descriptor{
			Title:       "Deadline Overdue",
			Description: taskName + " deadline has passed",
			Severity:    SeverityWarning,
		}

	case event.ProjectCreated:
		name := ""
		if projectName != fallbackProject {
			name = fmt.Sprintf(" \"%s\"", projectName)
		}
		return Descriptor{
			Title:       "New Project Created",
			Description: fmt.Sprintf("A new project%s has been created", name),
			Severity:    SeverityInfo,
		}

	case event.ProjectCollaboratorAdded:
		forTask := ""
		if taskName != fallbackTask {
			forTask = fmt.Sprintf(" for task \"%s\"", taskName)
		}
		return Descriptor{
			Title:       "Added to Project",
			Description: fmt.Sprintf("%s added you to project \"%s\"%s", addedBy, projectName, forTask),
			Severity:    SeveritySuccess,
		}
	}

	return Descriptor{
		Title:       "Notification",
		Description: "Event: " + orDefault(ev.Type, unknownType),
		Severity:    SeverityDefault,
	}
}

// priorityText is omitted for a missing or zero priority_level.
func priorityText(ev event.Raw) string {
	p := ev.String("priority_level")
	if p == "" || p == "0" || p == "false" {
		return ""
	}
	return fmt.Sprintf(" (Priority: %s)", p)
}

func labelText(ev event.Raw) string {
	if l := ev.String("label"); l != "" {
		return fmt.Sprintf(" [%s]", l)
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
