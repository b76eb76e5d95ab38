package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-lessons/pkg/simplelessons"
)

// CreateLessonRequest creates a lesson. When Content is empty the HTML is
// generated from Prompt in the layout of the template.
type CreateLessonRequest struct {
	Title      string  `json:"title"`
	TemplateID string  `json:"template_id"`
	ModuleID   *string `json:"module_id"`
	Prompt     string  `json:"prompt"`
	Content    string  `json:"content"`
}

// UpdateLessonRequest changes lesson fields. A Prompt without Content
// regenerates the lesson; every prompt is added to the prompt history.
type UpdateLessonRequest struct {
	Title       *string `json:"title"`
	ModuleID    *string `json:"module_id"`
	ClearModule bool    `json:"clear_module"`
	Content     *string `json:"content"`
	Prompt      *string `json:"prompt"`
}

// GenerateLessonRequest asks for lesson HTML without saving it.
type GenerateLessonRequest struct {
	TemplateID string `json:"template_id"`
	Prompt     string `json:"prompt"`
}

// AddPromptRequest appends an entry to a lesson's prompt history.
type AddPromptRequest struct {
	PromptText string `json:"prompt_text"`
}

// ListLessons lists the current user's lessons, optionally narrowed by
// template_id, module_id or course_id.
func (h *Handler) ListLessons(w http.ResponseWriter, r *http.Request) {
	filter := simplelessons.LessonFilter{AuthorID: currentUser(r).ID}
	var ok bool
	if filter.TemplateID, ok = queryID(w, r, "template_id"); !ok {
		return
	}
	if filter.ModuleID, ok = queryID(w, r, "module_id"); !ok {
		return
	}
	if filter.CourseID, ok = queryID(w, r, "course_id"); !ok {
		return
	}

	lessons, err := h.service.ListLessons(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list lessons", err)
		return
	}
	if lessons == nil {
		lessons = []*simplelessons.Lesson{}
	}
	render.JSON(w, r, lessons)
}

// ListLessonDetails returns the current user's rows of the detailed view.
func (h *Handler) ListLessonDetails(w http.ResponseWriter, r *http.Request) {
	details, err := h.service.ListLessonDetails(r.Context(), simplelessons.LessonDetailFilter{AuthorNick: currentUser(r).ExternalNick})
	if err != nil {
		h.fail(w, r, "Failed to list lesson details", err)
		return
	}
	if details == nil {
		details = []*simplelessons.LessonDetail{}
	}
	render.JSON(w, r, details)
}

// CreateLesson stores a lesson, generating it first when no content is
// supplied.
func (h *Handler) CreateLesson(w http.ResponseWriter, r *http.Request) {
	var req CreateLessonRequest
	if !decode(w, r, &req) {
		return
	}
	templateID, err := uuid.Parse(req.TemplateID)
	if err != nil {
		badRequest(w, r, "invalid template_id: "+req.TemplateID)
		return
	}
	moduleID, err := parseOptionalID(req.ModuleID)
	if err != nil {
		badRequest(w, r, "invalid module_id")
		return
	}

	content := req.Content
	if content == "" {
		if content, err = h.generateLesson(r, templateID, req.Prompt); err != nil {
			h.fail(w, r, "Failed to generate lesson", err)
			return
		}
	} else if err := h.usableTemplate(r, templateID); err != nil {
		h.fail(w, r, "Failed to create lesson", err)
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = simplelessons.DefaultLessonTitle(req.Prompt)
	}

	lesson, err := h.service.CreateLesson(r.Context(), simplelessons.CreateLessonRequest{
		Title:          title,
		AuthorID:       currentUser(r).ID,
		TemplateID:     templateID,
		ModuleID:       moduleID,
		CreationPrompt: req.Prompt,
		Content:        content,
	})
	if err != nil {
		h.fail(w, r, "Failed to create lesson", err)
		return
	}

	h.logger.InfoContext(r.Context(), "Lesson created", "lesson_id", lesson.ID, "key", lesson.BlobKey)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, lesson)
}

// PreviewLesson generates lesson HTML without storing anything.
func (h *Handler) PreviewLesson(w http.ResponseWriter, r *http.Request) {
	var req GenerateLessonRequest
	if !decode(w, r, &req) {
		return
	}
	templateID, err := uuid.Parse(req.TemplateID)
	if err != nil {
		badRequest(w, r, "invalid template_id: "+req.TemplateID)
		return
	}
	out, err := h.generateLesson(r, templateID, req.Prompt)
	if err != nil {
		h.fail(w, r, "Failed to generate lesson", err)
		return
	}
	writeHTML(w, http.StatusOK, []byte(out))
}

// GetLesson returns one of the current user's lessons.
func (h *Handler) GetLesson(w http.ResponseWriter, r *http.Request) {
	lesson, ok := h.ownLesson(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, lesson)
}

// GetLessonContent returns the lesson HTML, as a lesson.html attachment
// when download=1.
func (h *Handler) GetLessonContent(w http.ResponseWriter, r *http.Request) {
	lesson, ok := h.ownLesson(w, r)
	if !ok {
		return
	}
	body, err := h.service.GetLessonContent(r.Context(), lesson.ID)
	if err != nil {
		h.fail(w, r, "Failed to read lesson content", err)
		return
	}
	if d := r.URL.Query().Get("download"); d == "1" || d == "true" {
		w.Header().Set("Content-Disposition", `attachment; filename="lesson.html"`)
	}
	writeHTML(w, http.StatusOK, body)
}

// UpdateLesson edits a lesson and regenerates its content when a new prompt
// is given without content.
func (h *Handler) UpdateLesson(w http.ResponseWriter, r *http.Request) {
	lesson, ok := h.ownLesson(w, r)
	if !ok {
		return
	}
	var req UpdateLessonRequest
	if !decode(w, r, &req) {
		return
	}
	moduleID, err := parseOptionalID(req.ModuleID)
	if err != nil {
		badRequest(w, r, "invalid module_id")
		return
	}

	content := req.Content
	if req.Prompt != nil && content == nil {
		generated, err := h.generateLesson(r, lesson.TemplateID, *req.Prompt)
		if err != nil {
			h.fail(w, r, "Failed to regenerate lesson", err)
			return
		}
		content = &generated
	}

	updated, rev, err := h.service.UpdateLesson(r.Context(), simplelessons.UpdateLessonRequest{
		ID:          lesson.ID,
		Title:       req.Title,
		ModuleID:    moduleID,
		ClearModule: req.ClearModule,
		Content:     content,
	})
	if err != nil {
		h.fail(w, r, "Failed to update lesson", err)
		return
	}
	if updated == nil {
		notFound(w, r, "lesson")
		return
	}
	if rev != nil && rev.CleanupErr != nil {
		h.logger.WarnContext(r.Context(), "Replaced lesson content left behind", "lesson_id", lesson.ID, "key", rev.OldKey, "err", rev.CleanupErr)
	}
	if req.Prompt != nil && strings.TrimSpace(*req.Prompt) != "" {
		if _, err := h.service.AddPrompt(r.Context(), lesson.ID, *req.Prompt); err != nil {
			h.logger.WarnContext(r.Context(), "Failed to record prompt", "lesson_id", lesson.ID, "err", err)
		}
	}
	render.JSON(w, r, updated)
}

// DeleteLesson deletes the lesson and its prompt history.
func (h *Handler) DeleteLesson(w http.ResponseWriter, r *http.Request) {
	lesson, ok := h.ownLesson(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteLesson(r.Context(), lesson.ID); err != nil {
		h.fail(w, r, "Failed to delete lesson", err)
		return
	}
	h.logger.InfoContext(r.Context(), "Lesson deleted", "lesson_id", lesson.ID)
	w.WriteHeader(http.StatusNoContent)
}

// ListPrompts returns the prompt history of a lesson.
func (h *Handler) ListPrompts(w http.ResponseWriter, r *http.Request) {
	lesson, ok := h.ownLesson(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ListPromptHistory(r.Context(), lesson.ID)
	if err != nil {
		h.fail(w, r, "Failed to list prompts", err)
		return
	}
	if entries == nil {
		entries = []*simplelessons.PromptHistory{}
	}
	render.JSON(w, r, entries)
}

// AddPrompt appends a prompt to the lesson's history.
func (h *Handler) AddPrompt(w http.ResponseWriter, r *http.Request) {
	lesson, ok := h.ownLesson(w, r)
	if !ok {
		return
	}
	var req AddPromptRequest
	if !decode(w, r, &req) {
		return
	}
	entry, err := h.service.AddPrompt(r.Context(), lesson.ID, req.PromptText)
	if err != nil {
		h.fail(w, r, "Failed to add prompt", err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, entry)
}

// generateLesson loads the template HTML and asks the generator for a
// lesson.
func (h *Handler) generateLesson(r *http.Request, templateID uuid.UUID, prompt string) (string, error) {
	if h.generator == nil {
		return "", errNoGenerator
	}
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: prompt is required", simplelessons.ErrInvalidRequest)
	}
	if err := h.usableTemplate(r, templateID); err != nil {
		return "", err
	}
	templateHTML, err := h.service.GetTemplateContent(r.Context(), templateID)
	if err != nil {
		return "", err
	}
	return h.generator.GenerateContent(r.Context(), prompt, string(templateHTML))
}

// usableTemplate reports a template that is missing or owned by someone
// else as a validation failure on template_id.
func (h *Handler) usableTemplate(r *http.Request, templateID uuid.UUID) error {
	_, err := h.lookupTemplate(r, templateID)
	if isNotFound(err) {
		return &simplelessons.ValidationError{Field: "template_id", ID: templateID, Err: err}
	}
	return err
}

func (h *Handler) ownLesson(w http.ResponseWriter, r *http.Request) (*simplelessons.Lesson, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return nil, false
	}
	lesson, err := h.service.GetLesson(r.Context(), id)
	if err == nil && lesson.AuthorID != currentUser(r).ID {
		err = simplelessons.ErrLessonNotFound
	}
	if err != nil {
		h.fail(w, r, "Failed to get lesson", err)
		return nil, false
	}
	return lesson, true
}
