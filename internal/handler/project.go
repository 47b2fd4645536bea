package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/teamify/internal/auth"
	"github.com/sakif/teamify/internal/model"
	"github.com/sakif/teamify/internal/service"
)

// ProjectHandler serves the project listing, the creator's edit screens and
// the applicant's view of the projects they joined.
type ProjectHandler struct {
	projects  *service.ProjectService
	validator *Validator
	logger    *slog.Logger
}

// NewProjectHandler creates a ProjectHandler.
func NewProjectHandler(projects *service.ProjectService, validator *Validator, logger *slog.Logger) *ProjectHandler {
	return &ProjectHandler{projects: projects, validator: validator, logger: logger}
}

// Date accepts either an RFC 3339 timestamp or a bare calendar date
// ("2026-03-02", read as midnight UTC), which is what date pickers send.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

type projectRequest struct {
	Name           string   `json:"name"           validate:"required"`
	Description    string   `json:"description"    validate:"required"`
	Technologies   []string `json:"technologies"   validate:"required"`
	StartDate      Date     `json:"startDate"`
	EndDate        Date     `json:"endDate"`
	PeopleRequired int      `json:"peopleRequired" validate:"required"`
}

func (req projectRequest) input() service.ProjectInput {
	return service.ProjectInput{
		Name:           req.Name,
		Description:    req.Description,
		Technologies:   req.Technologies,
		StartDate:      req.StartDate.Time,
		EndDate:        req.EndDate.Time,
		PeopleRequired: req.PeopleRequired,
	}
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

type memberRequest struct {
	ProjectID   string `json:"projectId"   validate:"required"`
	ApplicantID string `json:"applicantId" validate:"required"`
}

type projectRefRequest struct {
	ProjectID string `json:"projectId" validate:"required"`
}

// HandleList returns one page of open projects the caller has not joined.
//
// HTTP: GET /project?page=&technologies=&search=&sortBy=
//
// technologies may be comma separated, repeated, or both.
func (h *ProjectHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	viewerID, _ := auth.UserIDFromContext(r.Context())

	page, _ := strconv.Atoi(q.Get("page"))
	var techs []string
	for _, v := range q["technologies"] {
		techs = append(techs, strings.Split(v, ",")...)
	}

	res, err := h.projects.List(r.Context(), service.ListParams{
		ViewerID:     viewerID,
		Search:       q.Get("search"),
		Technologies: techs,
		Sort:         model.ParseSortOrder(q.Get("sortBy")),
		Page:         page,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleTechnologies returns the tags a project may carry.
//
// HTTP: GET /project/technologies
func (h *ProjectHandler) HandleTechnologies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, model.Technologies)
}

// HandleCreate creates a project owned by the caller.
//
// HTTP: POST /project → 201
func (h *ProjectHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req projectRequest
	if err := decodeJSON(w, r, h.validator, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	project, err := h.projects.Create(r.Context(), userID, req.input())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

// HandleGet returns a project with its creator, applicants and team.
//
// HTTP: GET /project/{id}
func (h *ProjectHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	detail, err := h.projects.Get(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// HandleApply adds the caller to the applicants of a project.
//
// HTTP: POST /project/apply/{id}
func (h *ProjectHandler) HandleApply(w http.ResponseWriter, r *http.Request) {
	h.withUser(w, r, func(userID string) error {
		return h.projects.Apply(r.Context(), pathID(r), userID)
	}, "Applied to project")
}

// HandleListCreated returns the caller's own projects.
//
// HTTP: GET /editProject
func (h *ProjectHandler) HandleListCreated(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	projects, err := h.projects.ListCreated(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// HandleUpdate edits an open project.
//
// HTTP: PUT /editProject/{id}
func (h *ProjectHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req projectRequest
	if err := decodeJSON(w, r, h.validator, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	project, err := h.projects.Update(r.Context(), userID, pathID(r), req.input())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// HandleDelete removes a project with its memberships and ratings.
//
// HTTP: DELETE /editProject/{id}
func (h *ProjectHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	h.withUser(w, r, func(userID string) error {
		return h.projects.Delete(r.Context(), userID, pathID(r))
	}, "Project deleted")
}

// HandleToggle hides or shows a project in the listing.
//
// HTTP: PATCH /editProject/toggle/{id}
func (h *ProjectHandler) HandleToggle(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	project, err := h.projects.Toggle(r.Context(), userID, pathID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// HandleUpdateStatus moves a project through its lifecycle.
//
// HTTP: PATCH /editProject/status/{id}  {"status": "Completed"}
func (h *ProjectHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, h.validator, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	project, err := h.projects.UpdateStatus(r.Context(), userID, pathID(r), req.Status)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// HandleSelect moves an applicant into the team.
//
// HTTP: POST /editProject/select-applicant  {"projectId", "applicantId"}
func (h *ProjectHandler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeJSON(w, r, h.validator, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.withUser(w, r, func(userID string) error {
		return h.projects.Select(r.Context(), userID, req.ProjectID, req.ApplicantID)
	}, "Applicant selected")
}

// HandleRemove takes a selected member off the team.
//
// HTTP: POST /editProject/remove-applicant  {"projectId", "applicantId"}
func (h *ProjectHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeJSON(w, r, h.validator, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.withUser(w, r, func(userID string) error {
		return h.projects.Remove(r.Context(), userID, req.ProjectID, req.ApplicantID)
	}, "Member removed")
}

// HandleListApplied returns the projects the caller applied to or joined.
//
// HTTP: GET /appliedProjects
func (h *ProjectHandler) HandleListApplied(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	projects, err := h.projects.ListApplied(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// HandleLeave takes the caller off a team they were selected for.
//
// HTTP: POST /appliedProjects/leave  {"projectId"}
func (h *ProjectHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	var req projectRefRequest
	if err := decodeJSON(w, r, h.validator, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.withUser(w, r, func(userID string) error {
		return h.projects.Leave(r.Context(), req.ProjectID, userID)
	}, "Left project")
}

// HandleWithdraw withdraws a pending application.
//
// HTTP: POST /appliedProjects/withdraw  {"projectId"}
func (h *ProjectHandler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req projectRefRequest
	if err := decodeJSON(w, r, h.validator, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.withUser(w, r, func(userID string) error {
		return h.projects.Unapply(r.Context(), req.ProjectID, userID)
	}, "Application withdrawn")
}

// withUser runs op for the logged-in user and answers 200 with message.
func (h *ProjectHandler) withUser(w http.ResponseWriter, r *http.Request, op func(userID string) error, message string) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := op(userID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, message)
}
