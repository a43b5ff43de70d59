package model

import "time"

// RequestStatus is the lifecycle state of an approval request.
type RequestStatus string

// Request statuses.
const (
	StatusDraft     RequestStatus = "DRAFT"
	StatusPending   RequestStatus = "PENDING"
	StatusApproved  RequestStatus = "APPROVED"
	StatusDeclined  RequestStatus = "DECLINED"
	StatusSentBack  RequestStatus = "SENT_BACK"
	StatusCancelled RequestStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusDeclined, StatusSentBack, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are accepted from s.
// SENT_BACK is not terminal.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusDeclined || s == StatusCancelled
}

// ActionType is the kind of an audit entry.
type ActionType string

// Action types.
const (
	ActionSubmit   ActionType = "SUBMIT"
	ActionApprove  ActionType = "APPROVE"
	ActionDecline  ActionType = "DECLINE"
	ActionSendBack ActionType = "SEND_BACK"
	ActionComment  ActionType = "COMMENT"
	ActionCancel   ActionType = "CANCEL"
)

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	switch a {
	case ActionSubmit, ActionApprove, ActionDecline, ActionSendBack, ActionComment, ActionCancel:
		return true
	}
	return false
}

// IsDecision reports whether a is one of the approver decisions.
func (a ActionType) IsDecision() bool {
	return a == ActionApprove || a == ActionDecline || a == ActionSendBack
}

// RequiresComment reports whether an action of this type must carry a
// non-empty comment.
func (a ActionType) RequiresComment() bool {
	return a == ActionDecline || a == ActionSendBack || a == ActionComment
}

// Verb returns the lower-case verb used in user-facing messages.
func (a ActionType) Verb() string {
	switch a {
	case ActionSubmit:
		return "submit"
	case ActionApprove:
		return "approve"
	case ActionDecline:
		return "decline"
	case ActionSendBack:
		return "send back"
	case ActionComment:
		return "comment on"
	case ActionCancel:
		return "cancel"
	default:
		return string(a)
	}
}

// Capabilities checked by the service.
const (
	CapTemplateRead  = "approvals:template:read"
	CapRequestCreate = "approvals:request:create"
	CapRequestRead   = "approvals:request:read"
	CapRequestAct    = "approvals:request:act"
	CapRequestAudit  = "approvals:request:audit"
)

// RequestScope is the optional organisational context of a request. It
// narrows role-based approver resolution.
type RequestScope struct {
	ProjectID string `json:"project_id,omitempty"`
	CohortID  string `json:"cohort_id,omitempty"`
	BranchID  string `json:"branch_id,omitempty"`
}

// Attachment is a reference to a file stored elsewhere.
type Attachment struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// ApprovalRequest is a workflow instance created from a template.
type ApprovalRequest struct {
	ID                string          `json:"id"`
	RequestNumber     string          `json:"request_number"`
	TenantID          string          `json:"tenant_id"`
	TemplateID        string          `json:"template_id"`
	RequesterID       string          `json:"requester_id"`
	Scope             RequestScope    `json:"scope"`
	Status            RequestStatus   `json:"status"`
	CurrentLevel      int             `json:"current_level"`
	TotalLevels       int             `json:"total_levels"`
	CurrentApproverID string          `json:"current_approver_id,omitempty"`
	Chain             []ApprovalLevel `json:"chain,omitempty"`
	FormData          FormData        `json:"form_data"`
	Attachments       []Attachment    `json:"attachments"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	SubmittedAt       *time.Time      `json:"submitted_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	SLADeadline       *time.Time      `json:"sla_deadline,omitempty"`
	Version           int             `json:"version"`
}

// IsOverdue reports whether r is PENDING past its SLA deadline. It never
// mutates r.
func IsOverdue(r ApprovalRequest, now time.Time) bool {
	return r.Status == StatusPending && r.SLADeadline != nil && now.After(*r.SLADeadline)
}

// Clone returns a deep copy of r.
func (r ApprovalRequest) Clone() ApprovalRequest {
	out := r
	out.FormData = r.FormData.Clone()
	if r.Chain != nil {
		out.Chain = append([]ApprovalLevel(nil), r.Chain...)
	}
	if r.Attachments != nil {
		out.Attachments = append([]Attachment(nil), r.Attachments...)
	}
	out.SubmittedAt = cloneTime(r.SubmittedAt)
	out.CompletedAt = cloneTime(r.CompletedAt)
	out.SLADeadline = cloneTime(r.SLADeadline)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ApprovalAction is an immutable audit entry.
type ApprovalAction struct {
	ID        string     `json:"id"`
	RequestID string     `json:"request_id"`
	Type      ActionType `json:"action"`
	Level     int        `json:"level"`
	ActorID   string     `json:"actor_id"`
	Comment   string     `json:"comment,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// User is a directory entry.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// RequestFilters narrows a request listing. Zero-valued fields do not filter.
type RequestFilters struct {
	TenantID    string
	Statuses    []RequestStatus
	TemplateID  string
	RequesterID string
	ApproverID  string
	// OverdueAt, when set, keeps only requests overdue at that instant.
	OverdueAt *time.Time
	Page      int
	PageSize  int
}

// RequestDescriptor is the read model returned to callers for one request.
type RequestDescriptor struct {
	Request         ApprovalRequest  `json:"request"`
	TemplateName    string           `json:"template_name"`
	Answers         FormData         `json:"answers"`
	CurrentApprover *User            `json:"current_approver,omitempty"`
	Overdue         bool             `json:"is_overdue"`
	History         []ApprovalAction `json:"history"`
}

// RequestPage is one page of a request listing.
type RequestPage struct {
	Items    []RequestSummary `json:"items"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// RequestSummary is the list-view representation of a request.
type RequestSummary struct {
	ID                string        `json:"id"`
	RequestNumber     string        `json:"request_number"`
	TemplateID        string        `json:"template_id"`
	RequesterID       string        `json:"requester_id"`
	Status            RequestStatus `json:"status"`
	CurrentLevel      int           `json:"current_level"`
	TotalLevels       int           `json:"total_levels"`
	CurrentApproverID string        `json:"current_approver_id,omitempty"`
	SLADeadline       *time.Time    `json:"sla_deadline,omitempty"`
	Overdue           bool          `json:"is_overdue"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Summarize builds the list-view representation of r at now.
func Summarize(r ApprovalRequest, now time.Time) RequestSummary {
	return RequestSummary{
		ID:                r.ID,
		RequestNumber:     r.RequestNumber,
		TemplateID:        r.TemplateID,
		RequesterID:       r.RequesterID,
		Status:            r.Status,
		CurrentLevel:      r.CurrentLevel,
		TotalLevels:       r.TotalLevels,
		CurrentApproverID: r.CurrentApproverID,
		SLADeadline:       r.SLADeadline,
		Overdue:           IsOverdue(r, now),
		UpdatedAt:         r.UpdatedAt,
	}
}
