package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cktan21/spm-relay/internal/event"
)

func TestFormat_KnownTypes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   event.Raw
		want Descriptor
	}{
		{
			name: "task created with project",
			ev:   event.Raw{Type: event.TaskCreated, Data: map[string]any{"task_name": "Draft plan", "project_name": "Apollo"}},
			want: Descriptor{"New Task Created", "Draft plan has been created in Apollo", SeverityInfo},
		},
		{
			name: "task created without data",
			ev:   event.Raw{Type: event.TaskCreated},
			want: Descriptor{"New Task Created", "Task has been created", SeverityInfo},
		},
		{
			name: "task updated",
			ev:   event.Raw{Type: event.TaskUpdated, Data: map[string]any{"task_name": "Draft plan"}},
			want: Descriptor{"Task Updated", "Draft plan has been updated", SeverityInfo},
		},
		{
			name: "task deleted",
			ev:   event.Raw{Type: event.TaskDeleted, Data: map[string]any{}},
			want: Descriptor{"Task Deleted", "Task has been deleted", SeverityWarning},
		},
		{
			name: "task assigned by someone",
			ev: event.Raw{Type: event.TaskAssigned, Data: map[string]any{
				"task_name": "Review", "name": "Alice", "priority_level": float64(7), "label": "urgent",
			}},
			want: Descriptor{"Task Assigned", `You've been assigned to "Review" by Alice (Priority: 7) [urgent]`, SeveritySuccess},
		},
		{
			name: "task assigned without assigner",
			ev:   event.Raw{Type: event.TaskAssigned, Data: map[string]any{"task_name": "Review"}},
			want: Descriptor{"Task Assigned", `You've been assigned to "Review"`, SeveritySuccess},
		},
		{
			name: "task assigned to creator",
			ev: event.Raw{Type: event.TaskAssigned, Data: map[string]any{
				"task_name": "Review", "name": "Alice", "is_creator": true, "priority_level": float64(3),
			}},
			want: Descriptor{"Task Created & Assigned", `You've created and been assigned to "Review" (Priority: 3)`, SeveritySuccess},
		},
		{
			name: "is_creator must be a real true",
			ev:   event.Raw{Type: event.TaskAssigned, Data: map[string]any{"task_name": "Review", "is_creator": "true"}},
			want: Descriptor{"Task Assigned", `You've been assigned to "Review"`, SeveritySuccess},
		},
		{
			name: "status changed",
			ev: event.Raw{Type: event.TaskStatusChanged, Data: map[string]any{
				"task_name": "Review", "old_status": "Ongoing", "new_status": "Completed",
			}},
			want: Descriptor{"Task Status Changed", "Status of Review has been changed from Ongoing to Completed", SeverityInfo},
		},
		{
			name: "status changed without statuses",
			ev:   event.Raw{Type: event.TaskStatusChanged},
			want: Descriptor{"Task Status Changed", "Status of Task has been changed", SeverityInfo},
		},
		{
			name: "deadline approaching",
			ev:   event.Raw{Type: event.DeadlineApproaching, Data: map[string]any{"task_name": "Ship"}},
			want: Descriptor{"Deadline Approaching", "Ship deadline is approaching (3 days remaining)", SeverityWarning},
		},
		{
			name: "deadline overdue",
			ev:   event.Raw{Type: event.DeadlineOverdue, Data: map[string]any{"task_name": "Ship"}},
			want: Descriptor{"Deadline Overdue", "Ship deadline has passed", SeverityWarning},
		},
		{
			name: "project created",
			ev:   event.Raw{Type: event.ProjectCreated, Data: map[string]any{"project_name": "Apollo"}},
			want: Descriptor{"New Project Created", `A new project "Apollo" has been created`, SeverityInfo},
		},
		{
			name: "project created without name",
			ev:   event.Raw{Type: event.ProjectCreated},
			want: Descriptor{"New Project Created", "A new project has been created", SeverityInfo},
		},
		{
			name: "collaborator added with task",
			ev: event.Raw{Type: event.ProjectCollaboratorAdded, Data: map[string]any{
				"added_by_name": "Bob", "project_name": "Apollo", "task_name": "Review",
			}},
			want: Descriptor{"Added to Project", `Bob added you to project "Apollo" for task "Review"`, SeveritySuccess},
		},
		{
			name: "collaborator added with fallbacks",
			ev:   event.Raw{Type: event.ProjectCollaboratorAdded},
			want: Descriptor{"Added to Project", `Someone added you to project "Project"`, SeveritySuccess},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.ev))
		})
	}
}

func TestFormat_UnknownTypes(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		Descriptor{"Notification", "Event: recurring_task_reset", SeverityDefault},
		Format(event.Raw{Type: event.RecurringTaskReset}))

	assert.Equal(t,
		Descriptor{"Notification", "Event: unknown", SeverityDefault},
		Format(event.Raw{}))
}

// TestFormat_Total feeds arbitrary type strings and data shapes; every result
// must carry a non-empty title and description.
func TestFormat_Total(t *testing.T) {
	t.Parallel()

	types := []string{
		"", " ", "TASK_CREATED", "task_created ", "🚀", "project_deleted",
		event.TaskCreated, event.TaskUpdated, event.TaskDeleted, event.TaskAssigned,
		event.TaskStatusChanged, event.DeadlineApproaching, event.DeadlineOverdue,
		event.ProjectCreated, event.ProjectCollaboratorAdded,
	}
	datas := []map[string]any{
		nil,
		{},
		{"task_name": nil, "name": []any{1}, "project_name": map[string]any{"x": 1}},
		{"task_name": float64(12), "priority_level": "high", "is_creator": float64(1)},
		{"task_name": "", "added_by_name": "", "label": false},
	}

	for _, typ := range types {
		for _, data := range datas {
			d := Format(event.Raw{Type: typ, Data: data})
			assert.NotEmpty(t, d.Title, "type %q", typ)
			assert.NotEmpty(t, d.Description, "type %q", typ)
			assert.NotEmpty(t, d.Severity, "type %q", typ)
		}
	}
}
