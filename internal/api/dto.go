package api

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/index"
	"github.com/starford/shape/internal/models"
	"github.com/starford/shape/internal/taskservice"
)

// AddTaskRequest is the request body for creating a task.
type AddTaskRequest struct {
	Title       string   `json:"title" example:"Design checkout" validate:"required"`
	Description string   `json:"description,omitempty"`
	Parent      string   `json:"parent,omitempty" example:"b-1a2b3c4"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// Validate checks field shapes before the request reaches the service.
func (r AddTaskRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, 500)),
		validation.Field(&r.Parent, validation.By(validID)),
		validation.Field(&r.DependsOn, validation.Each(validation.Required, validation.By(validID))),
	)
}

// toService converts the request after Validate succeeded.
func (r AddTaskRequest) toService() taskservice.AddTaskRequest {
	out := taskservice.AddTaskRequest{Title: r.Title, Description: r.Description}
	if r.Parent != "" {
		out.Parent = ident.MustParse(r.Parent)
	}
	for _, d := range r.DependsOn {
		out.DependsOn = append(out.DependsOn, ident.MustParse(d))
	}
	return out
}

// UpdateTaskRequest is the request body for PATCH /tasks/{id}. Absent
// fields are left alone; a null meta value removes the key.
type UpdateTaskRequest struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Validate checks field shapes.
func (r UpdateTaskRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.NilOrNotEmpty),
	)
}

// AddDependencyRequest is the request body for POST /tasks/{id}/deps.
type AddDependencyRequest struct {
	Task string `json:"task" example:"b-1a2b3c4.1" validate:"required"`
	Type string `json:"type,omitempty" example:"blocks"`
}

// Validate checks field shapes.
func (r AddDependencyRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Task, validation.Required, validation.By(validID)),
		validation.Field(&r.Type, validation.By(func(v any) error {
			_, err := models.ParseDependencyType(v.(string))
			return err
		})),
	)
}

// CreateBriefRequest is the request body for POST /briefs.
type CreateBriefRequest struct {
	Title string `json:"title" example:"Checkout v2" validate:"required"`
	Type  string `json:"type,omitempty" example:"shapeup"`
}

// Validate checks field shapes.
func (r CreateBriefRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, 500)),
	)
}

func validID(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	if _, err := ident.Parse(s); err != nil {
		return fmt.Errorf("must be a task or brief id")
	}
	return nil
}

// TaskListResponse wraps task listings.
type TaskListResponse struct {
	Tasks []*models.Task `json:"tasks" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// BlockedResponse wraps blocked tasks with their blockers.
type BlockedResponse struct {
	Tasks []taskservice.BlockedTask `json:"tasks" validate:"required"`
}

// TaskDetail is the full task response type (aliased from the domain layer).
type TaskDetail = taskservice.TaskDetail

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// BriefListResponse wraps brief listings.
type BriefListResponse struct {
	Briefs []*models.Brief `json:"briefs" validate:"required"`
}

// ClaimRequest is the request body for POST /tasks/{id}/claim.
type ClaimRequest struct {
	Agent  string `json:"agent,omitempty" example:"agent-a"`
	Force  bool   `json:"force,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Validate checks field shapes.
func (r ClaimRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Agent, validation.Length(0, 64)),
		validation.Field(&r.Reason, validation.When(r.Force, validation.Required)),
	)
}

// NoteRequest is the request body for POST /tasks/{id}/notes.
type NoteRequest struct {
	Agent string `json:"agent,omitempty" example:"agent-a"`
	Text  string `json:"text" example:"schema drafted" validate:"required"`
}

// Validate checks field shapes.
func (r NoteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Agent, validation.Length(0, 64)),
		validation.Field(&r.Text, validation.Required),
	)
}

// RecommendationResponse wraps next-task recommendations.
type RecommendationResponse struct {
	Recommendations []taskservice.Recommendation `json:"recommendations" validate:"required"`
}
