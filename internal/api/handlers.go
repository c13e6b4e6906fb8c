package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/index"
	"github.com/starford/shape/internal/models"
	"github.com/starford/shape/internal/taskservice"
)

const maxBodyBytes = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *taskservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *taskservice.Service) *Handler {
	return &Handler{svc: svc}
}

// taskID parses the {id} URL parameter, writing a 400 on failure.
func taskID(w http.ResponseWriter, r *http.Request, param string) (ident.ID, bool) {
	id, err := ident.Parse(chi.URLParam(r, param))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return ident.ID{}, false
	}
	return id, true
}

// decode reads a JSON body and runs its Validate method.
func decode[T interface{ Validate() error }](w http.ResponseWriter, r *http.Request) (T, bool) {
	var req T
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return req, false
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return req, false
	}
	return req, true
}

// ListTasks handles GET /api/tasks.
//
//	@Summary		List tasks with optional filters
//	@Tags			tasks
//	@Produce		json
//	@Param			status	query		string	false	"Status filter"	Enums(todo, in_progress, done)
//	@Param			brief	query		string	false	"Brief id"
//	@Param			pattern	query		string	false	"Glob over task ids"
//	@Success		200		{object}	TaskListResponse
//	@Security		BearerAuth
//	@Router			/tasks [get]
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f taskservice.ListFilter
	if s := q.Get("status"); s != "" {
		status, err := models.ParseStatus(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		f.Status = status
	}
	if b := q.Get("brief"); b != "" {
		id, err := ident.Parse(b)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		f.Brief = id
	}
	f.Pattern = q.Get("pattern")

	tasks, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeError(w, "list tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, TaskListResponse{Tasks: tasks, Total: len(tasks)})
}

// Ready handles GET /api/tasks/ready.
//
//	@Summary		Tasks whose blocking dependencies are all complete
//	@Tags			tasks
//	@Produce		json
//	@Success		200	{object}	TaskListResponse
//	@Security		BearerAuth
//	@Router			/tasks/ready [get]
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.svc.Ready(r.Context())
	if err != nil {
		writeError(w, "ready", err)
		return
	}
	writeJSON(w, http.StatusOK, TaskListResponse{Tasks: tasks, Total: len(tasks)})
}

// Blocked handles GET /api/tasks/blocked.
//
//	@Summary		Tasks waiting on incomplete dependencies
//	@Tags			tasks
//	@Produce		json
//	@Success		200	{object}	BlockedResponse
//	@Security		BearerAuth
//	@Router			/tasks/blocked [get]
func (h *Handler) Blocked(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.svc.Blocked(r.Context())
	if err != nil {
		writeError(w, "blocked", err)
		return
	}
	writeJSON(w, http.StatusOK, BlockedResponse{Tasks: tasks})
}

// Order handles GET /api/tasks/order.
//
//	@Summary		All tasks in dependency order
//	@Tags			tasks
//	@Produce		json
//	@Success		200	{object}	TaskListResponse
//	@Security		BearerAuth
//	@Router			/tasks/order [get]
func (h *Handler) Order(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.svc.Order(r.Context())
	if err != nil {
		writeError(w, "order", err)
		return
	}
	writeJSON(w, http.StatusOK, TaskListResponse{Tasks: tasks, Total: len(tasks)})
}

// GetTask handles GET /api/tasks/{id}.
//
//	@Summary		Get a task with its graph neighbourhood
//	@Tags			tasks
//	@Produce		json
//	@Param			id	path		string	true	"Task id"
//	@Success		200	{object}	TaskDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks/{id} [get]
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.svc.Show(r.Context(), id)
	if err != nil {
		writeError(w, "get task", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// AddTask handles POST /api/tasks.
//
//	@Summary		Create a task
//	@Tags			tasks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		AddTaskRequest	true	"Task to create"
//	@Success		201		{object}	models.Task
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks [post]
func (h *Handler) AddTask(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[AddTaskRequest](w, r)
	if !ok {
		return
	}
	task, err := h.svc.AddTask(r.Context(), req.toService())
	if err != nil {
		writeError(w, "add task", err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// UpdateTask handles PATCH /api/tasks/{id}.
//
//	@Summary		Change title, description or metadata
//	@Tags			tasks
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Task id"
//	@Param			body	body		UpdateTaskRequest	true	"Fields to change"
//	@Success		200		{object}	models.Task
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks/{id} [patch]
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r, "id")
	if !ok {
		return
	}
	req, ok := decode[UpdateTaskRequest](w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	var (
		task *models.Task
		err  error
	)
	if req.Title != nil {
		if task, err = h.svc.SetTitle(ctx, id, *req.Title); err != nil {
			writeError(w, "update task", err)
			return
		}
	}
	if req.Description != nil {
		if task, err = h.svc.SetDescription(ctx, id, *req.Description); err != nil {
			writeError(w, "update task", err)
			return
		}
	}
	for key, value := range req.Meta {
		if task, err = h.svc.SetMeta(ctx, id, key, value); err != nil {
			writeError(w, "update task", err)
			return
		}
	}
	if task == nil {
		detail, err := h.svc.Show(ctx, id)
		if err != nil {
			writeError(w, "update task", err)
			return
		}
		task = detail.Task
	}
	writeJSON(w, http.StatusOK, task)
}

// Transition handles POST /api/tasks/{id}/{start|complete|reopen}.
//
//	@Summary		Move a task through its lifecycle
//	@Tags			tasks
//	@Produce		json
//	@Param			id		path		string	true	"Task id"
//	@Param			action	path		string	true	"Transition"	Enums(start, complete, reopen)
//	@Success		200		{object}	models.Task
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks/{id}/{action} [post]
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r, "id")
	if !ok {
		return
	}
	var (
		task *models.Task
		err  error
	)
	switch action := chi.URLParam(r, "action"); action {
	case "start":
		task, err = h.svc.Start(r.Context(), id)
	case "complete":
		task, err = h.svc.Complete(r.Context(), id)
	case "reopen":
		task, err = h.svc.Reopen(r.Context(), id)
	default:
		writeJSON(w, http.StatusNotFound, errorBody("unknown action "+strconv.Quote(action)))
		return
	}
	if err != nil {
		writeError(w, "transition", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// AddDependency handles POST /api/tasks/{id}/deps.
//
//	@Summary		Add a dependency edge
//	@Tags			tasks
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Dependent task id"
//	@Param			body	body		AddDependencyRequest	true	"Dependency"
//	@Success		200		{object}	models.Task
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse	"Would create a cycle"
//	@Security		BearerAuth
//	@Router			/tasks/{id}/deps [post]
func (h *Handler) AddDependency(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r, "id")
	if !ok {
		return
	}
	req, ok := decode[AddDependencyRequest](w, r)
	if !ok {
		return
	}
	typ, _ := models.ParseDependencyType(req.Type)
	task, err := h.svc.AddDependency(r.Context(), id, ident.MustParse(req.Task), typ)
	if err != nil {
		writeError(w, "add dependency", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// RemoveDependency handles DELETE /api/tasks/{id}/deps/{dep}.
//
//	@Summary		Remove a dependency edge
//	@Tags			tasks
//	@Produce		json
//	@Param			id		path		string	true	"Dependent task id"
//	@Param			dep		path		string	true	"Dependency task id"
//	@Param			type	query		string	false	"Only this edge type"
//	@Success		200		{object}	models.Task
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks/{id}/deps/{dep} [delete]
func (h *Handler) RemoveDependency(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r, "id")
	if !ok {
		return
	}
	dep, ok := taskID(w, r, "dep")
	if !ok {
		return
	}
	var typ models.DependencyType
	if s := r.URL.Query().Get("type"); s != "" {
		t, err := models.ParseDependencyType(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		typ = t
	}
	task, err := h.svc.RemoveDependency(r.Context(), id, dep, typ)
	if err != nil {
		writeError(w, "remove dependency", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across tasks and briefs
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// ListBriefs handles GET /api/briefs.
//
//	@Summary		List briefs
//	@Tags			briefs
//	@Produce		json
//	@Success		200	{object}	BriefListResponse
//	@Security		BearerAuth
//	@Router			/briefs [get]
func (h *Handler) ListBriefs(w http.ResponseWriter, r *http.Request) {
	briefs, err := h.svc.ListBriefs(r.Context())
	if err != nil {
		writeError(w, "list briefs", err)
		return
	}
	if briefs == nil {
		briefs = []*models.Brief{}
	}
	writeJSON(w, http.StatusOK, BriefListResponse{Briefs: briefs})
}

// CreateBrief handles POST /api/briefs.
//
//	@Summary		Create a brief
//	@Tags			briefs
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateBriefRequest	true	"Brief to create"
//	@Success		201		{object}	models.Brief
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/briefs [post]
func (h *Handler) CreateBrief(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[CreateBriefRequest](w, r)
	if !ok {
		return
	}
	b, err := h.svc.CreateBrief(r.Context(), req.Title, req.Type)
	if err != nil {
		writeError(w, "create brief", err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// Stats handles GET /api/stats.
//
//	@Summary		Task counts by status
//	@Tags			tasks
//	@Produce		json
//	@Success		200	{object}	index.Stats
//	@Security		BearerAuth
//	@Router			/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
