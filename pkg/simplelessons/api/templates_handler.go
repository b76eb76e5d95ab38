package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-lessons/pkg/simplelessons"
)

// CreateTemplateRequest creates a template. When Content is empty the HTML
// is generated from Style and Structure.
type CreateTemplateRequest struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Style     string `json:"style"`
	Structure string `json:"structure"`
}

// UpdateTemplateRequest changes the title, the content or both.
type UpdateTemplateRequest struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

// GenerateTemplateRequest asks for a sample template without saving it.
type GenerateTemplateRequest struct {
	Style     string `json:"style"`
	Structure string `json:"structure"`
}

var errNoGenerator = fmt.Errorf("%w: content is required when generation is disabled", simplelessons.ErrInvalidRequest)

// ListTemplates lists the templates of the current user.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.service.ListTemplates(r.Context(), simplelessons.TemplateFilter{AuthorID: currentUser(r).ID})
	if err != nil {
		h.fail(w, r, "Failed to list templates", err)
		return
	}
	if templates == nil {
		templates = []*simplelessons.Template{}
	}
	render.JSON(w, r, templates)
}

// CreateTemplate stores a template, generating it first when no content is
// supplied.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req CreateTemplateRequest
	if !decode(w, r, &req) {
		return
	}
	user := currentUser(r)

	content := req.Content
	if content == "" {
		if h.generator == nil {
			h.fail(w, r, "Failed to create template", errNoGenerator)
			return
		}
		generated, err := h.generator.GenerateStyle(r.Context(), req.Style, req.Structure)
		if err != nil {
			h.fail(w, r, "Failed to generate template", err)
			return
		}
		content = generated
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		existing, err := h.service.ListTemplates(r.Context(), simplelessons.TemplateFilter{AuthorID: user.ID})
		if err != nil {
			h.fail(w, r, "Failed to list templates", err)
			return
		}
		title = fmt.Sprintf("Generated template %d", len(existing)+1)
	}

	tmpl, err := h.service.CreateTemplate(r.Context(), simplelessons.CreateTemplateRequest{
		Title:    title,
		AuthorID: user.ID,
		Content:  content,
	})
	if err != nil {
		h.fail(w, r, "Failed to create template", err)
		return
	}

	h.logger.InfoContext(r.Context(), "Template created", "template_id", tmpl.ID, "key", tmpl.BlobKey)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, tmpl)
}

// PreviewTemplate generates a sample template and returns its HTML without
// storing anything.
func (h *Handler) PreviewTemplate(w http.ResponseWriter, r *http.Request) {
	var req GenerateTemplateRequest
	if !decode(w, r, &req) {
		return
	}
	if h.generator == nil {
		h.fail(w, r, "Failed to generate template", errNoGenerator)
		return
	}
	out, err := h.generator.GenerateStyle(r.Context(), req.Style, req.Structure)
	if err != nil {
		h.fail(w, r, "Failed to generate template", err)
		return
	}
	writeHTML(w, http.StatusOK, []byte(out))
}

// GetTemplate returns one of the current user's templates.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := h.ownTemplate(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, tmpl)
}

// GetTemplateContent returns the template HTML.
func (h *Handler) GetTemplateContent(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := h.ownTemplate(w, r)
	if !ok {
		return
	}
	body, err := h.service.GetTemplateContent(r.Context(), tmpl.ID)
	if err != nil {
		h.fail(w, r, "Failed to read template content", err)
		return
	}
	writeHTML(w, http.StatusOK, body)
}

// UpdateTemplate renames the template or replaces its content.
func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := h.ownTemplate(w, r)
	if !ok {
		return
	}
	var req UpdateTemplateRequest
	if !decode(w, r, &req) {
		return
	}

	updated, rev, err := h.service.UpdateTemplate(r.Context(), simplelessons.UpdateTemplateRequest{
		ID:      tmpl.ID,
		Title:   req.Title,
		Content: req.Content,
	})
	if err != nil {
		h.fail(w, r, "Failed to update template", err)
		return
	}
	if updated == nil {
		notFound(w, r, "template")
		return
	}
	if rev != nil && rev.CleanupErr != nil {
		h.logger.WarnContext(r.Context(), "Replaced template content left behind", "template_id", tmpl.ID, "key", rev.OldKey, "err", rev.CleanupErr)
	}
	render.JSON(w, r, updated)
}

// DeleteTemplate deletes the template and every lesson built from it.
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := h.ownTemplate(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteTemplate(r.Context(), tmpl.ID); err != nil {
		h.fail(w, r, "Failed to delete template", err)
		return
	}
	h.logger.InfoContext(r.Context(), "Template deleted", "template_id", tmpl.ID)
	w.WriteHeader(http.StatusNoContent)
}

// ownTemplate loads the template named in the path. Templates of other
// users are reported as missing.
func (h *Handler) ownTemplate(w http.ResponseWriter, r *http.Request) (*simplelessons.Template, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return nil, false
	}
	tmpl, err := h.lookupTemplate(r, id)
	if err != nil {
		h.fail(w, r, "Failed to get template", err)
		return nil, false
	}
	return tmpl, true
}

func (h *Handler) lookupTemplate(r *http.Request, id uuid.UUID) (*simplelessons.Template, error) {
	tmpl, err := h.service.GetTemplate(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if tmpl.AuthorID != currentUser(r).ID {
		return nil, simplelessons.ErrTemplateNotFound
	}
	return tmpl, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, simplelessons.ErrNotFound)
}
