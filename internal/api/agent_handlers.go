package api

import (
	"net/http"
	"strconv"

	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/taskservice"
)

// ClaimTask handles POST /api/tasks/{id}/claim.
//
//	@Summary		Claim a task for an agent and start it
//	@Tags			agents
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Task id"
//	@Param			body	body		ClaimRequest	true	"Claim"
//	@Success		200		{object}	taskservice.ClaimResult
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse	"Claimed by another agent"
//	@Security		BearerAuth
//	@Router			/tasks/{id}/claim [post]
func (h *Handler) ClaimTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r, "id")
	if !ok {
		return
	}
	req, ok := decode[ClaimRequest](w, r)
	if !ok {
		return
	}
	res, err := h.svc.Claim(r.Context(), id, taskservice.ClaimRequest{
		Agent:  req.Agent,
		Force:  req.Force,
		Reason: req.Reason,
	})
	if err != nil {
		writeError(w, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// UnclaimTask handles DELETE /api/tasks/{id}/claim.
//
//	@Summary		Release a claim
//	@Tags			agents
//	@Produce		json
//	@Param			id		path		string	true	"Task id"
//	@Param			agent	query		string	false	"Releasing agent"
//	@Success		200		{object}	models.Task
//	@Failure		409		{object}	errResponse	"Not claimed"
//	@Security		BearerAuth
//	@Router			/tasks/{id}/claim [delete]
func (h *Handler) UnclaimTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r, "id")
	if !ok {
		return
	}
	task, err := h.svc.Unclaim(r.Context(), id, r.URL.Query().Get("agent"))
	if err != nil {
		writeError(w, "unclaim", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// AddNote handles POST /api/tasks/{id}/notes.
//
//	@Summary		Add a note to a task
//	@Tags			agents
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Task id"
//	@Param			body	body		NoteRequest	true	"Note"
//	@Success		200		{object}	models.Task
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks/{id}/notes [post]
func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r, "id")
	if !ok {
		return
	}
	req, ok := decode[NoteRequest](w, r)
	if !ok {
		return
	}
	task, err := h.svc.AddNote(r.Context(), id, req.Agent, req.Text)
	if err != nil {
		writeError(w, "add note", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Next handles GET /api/next.
//
//	@Summary		Recommend tasks to work on next
//	@Tags			agents
//	@Produce		json
//	@Param			agent	query		string	false	"Asking agent"
//	@Param			brief	query		string	false	"Only this brief"
//	@Param			limit	query		int		false	"How many (default 1)"
//	@Success		200		{object}	RecommendationResponse
//	@Security		BearerAuth
//	@Router			/next [get]
func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := taskservice.NextRequest{Agent: q.Get("agent")}
	req.Limit, _ = strconv.Atoi(q.Get("limit"))
	if b := q.Get("brief"); b != "" {
		id, err := ident.Parse(b)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		req.Brief = id
	}
	recs, err := h.svc.Next(r.Context(), req)
	if err != nil {
		writeError(w, "next", err)
		return
	}
	if recs == nil {
		recs = []taskservice.Recommendation{}
	}
	writeJSON(w, http.StatusOK, RecommendationResponse{Recommendations: recs})
}

// Context handles GET /api/context.
//
//	@Summary		Export project state for an agent's context
//	@Tags			agents
//	@Produce		json
//	@Param			compact	query		bool	false	"One-line task strings"
//	@Param			brief	query		string	false	"Only this brief"
//	@Param			days	query		int		false	"Recently completed window (default 7)"
//	@Success		200		{object}	taskservice.ContextExport
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/context [get]
func (h *Handler) Context(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := taskservice.ContextRequest{}
	req.Compact, _ = strconv.ParseBool(q.Get("compact"))
	req.Days, _ = strconv.Atoi(q.Get("days"))
	if b := q.Get("brief"); b != "" {
		id, err := ident.Parse(b)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		req.Brief = id
	}
	out, err := h.svc.Context(r.Context(), req)
	if err != nil {
		writeError(w, "context", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
