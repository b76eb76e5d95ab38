package api

import (
	"net/http"

	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-lessons/pkg/simplelessons"
)

// CourseRequest creates or updates a course.
type CourseRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

// ModuleRequest creates or updates a module.
type ModuleRequest struct {
	CourseID    *string `json:"course_id"`
	ClearCourse bool    `json:"clear_course"`
	Title       *string `json:"title"`
	Order       *int    `json:"order"`
}

// ListCourses lists every course.
func (h *Handler) ListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.service.ListCourses(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list courses", err)
		return
	}
	if courses == nil {
		courses = []*simplelessons.Course{}
	}
	render.JSON(w, r, courses)
}

// CreateCourse creates a course.
func (h *Handler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	var req CourseRequest
	if !decode(w, r, &req) {
		return
	}
	title := ""
	if req.Title != nil {
		title = *req.Title
	}
	course, err := h.service.CreateCourse(r.Context(), simplelessons.CreateCourseRequest{Title: title, Description: req.Description})
	if err != nil {
		h.fail(w, r, "Failed to create course", err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, course)
}

// GetCourse returns a course.
func (h *Handler) GetCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	course, err := h.service.GetCourse(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get course", err)
		return
	}
	render.JSON(w, r, course)
}

// UpdateCourse changes the title or description of a course.
func (h *Handler) UpdateCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req CourseRequest
	if !decode(w, r, &req) {
		return
	}
	course, err := h.service.UpdateCourse(r.Context(), id, simplelessons.CourseUpdate{Title: req.Title, Description: req.Description})
	if err != nil {
		h.fail(w, r, "Failed to update course", err)
		return
	}
	if course == nil {
		notFound(w, r, "course")
		return
	}
	render.JSON(w, r, course)
}

// DeleteCourse deletes a course with its modules and their lessons.
func (h *Handler) DeleteCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteCourse(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to delete course", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCourseModules lists the modules of a course in display order.
func (h *Handler) ListCourseModules(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.service.GetCourse(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to get course", err)
		return
	}
	h.writeModules(w, r, id.String())
}

// ListModules lists modules, optionally only those of course_id.
func (h *Handler) ListModules(w http.ResponseWriter, r *http.Request) {
	h.writeModules(w, r, r.URL.Query().Get("course_id"))
}

func (h *Handler) writeModules(w http.ResponseWriter, r *http.Request, courseID string) {
	id, err := parseOptionalID(&courseID)
	if err != nil {
		badRequest(w, r, "invalid course_id: "+courseID)
		return
	}
	filter := uuid.Nil
	if id != nil {
		filter = *id
	}
	modules, err := h.service.ListModules(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list modules", err)
		return
	}
	if modules == nil {
		modules = []*simplelessons.Module{}
	}
	render.JSON(w, r, modules)
}

// CreateModule creates a module, optionally inside a course.
func (h *Handler) CreateModule(w http.ResponseWriter, r *http.Request) {
	var req ModuleRequest
	if !decode(w, r, &req) {
		return
	}
	courseID, err := parseOptionalID(req.CourseID)
	if err != nil {
		badRequest(w, r, "invalid course_id")
		return
	}
	title := ""
	if req.Title != nil {
		title = *req.Title
	}
	module, err := h.service.CreateModule(r.Context(), simplelessons.CreateModuleRequest{
		CourseID: courseID,
		Title:    title,
		Order:    req.Order,
	})
	if err != nil {
		h.fail(w, r, "Failed to create module", err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, module)
}

// GetModule returns a module.
func (h *Handler) GetModule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	module, err := h.service.GetModule(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get module", err)
		return
	}
	render.JSON(w, r, module)
}

// UpdateModule edits a module.
func (h *Handler) UpdateModule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ModuleRequest
	if !decode(w, r, &req) {
		return
	}
	courseID, err := parseOptionalID(req.CourseID)
	if err != nil {
		badRequest(w, r, "invalid course_id")
		return
	}
	module, err := h.service.UpdateModule(r.Context(), id, simplelessons.ModuleUpdate{
		CourseID:    courseID,
		ClearCourse: req.ClearCourse,
		Title:       req.Title,
		Order:       req.Order,
	})
	if err != nil {
		h.fail(w, r, "Failed to update module", err)
		return
	}
	if module == nil {
		notFound(w, r, "module")
		return
	}
	render.JSON(w, r, module)
}

// DeleteModule deletes a module and its lessons.
func (h *Handler) DeleteModule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteModule(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to delete module", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
