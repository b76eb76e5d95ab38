// Package api exposes the lesson service over HTTP with chi.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-lessons/pkg/simplelessons"
	"github.com/tendant/simple-lessons/pkg/simplelessons/generation"
	"github.com/tendant/simple-lessons/pkg/simplelessons/session"
)

// maximum accepted request body
const maxBodyBytes = 4 << 20

// Handler serves the /api/v1 routes.
type Handler struct {
	service   simplelessons.Service
	sessions  *session.Resolver
	generator generation.Generator
	logger    *slog.Logger
}

// NewHandler creates a handler. generator may be nil, in which case every
// request that needs generated HTML must supply the content itself.
func NewHandler(service simplelessons.Service, sessions *session.Resolver, generator generation.Generator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:   service,
		sessions:  sessions,
		generator: generator,
		logger:    logger,
	}
}

// Routes returns the API router, to be mounted under /api/v1.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.logger))

	r.Post("/auth/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.sessions.Middleware)

		r.Get("/me", h.Me)

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.Post("/", h.CreateTemplate)
			r.Post("/generate", h.PreviewTemplate)
			r.Get("/{id}", h.GetTemplate)
			r.Put("/{id}", h.UpdateTemplate)
			r.Delete("/{id}", h.DeleteTemplate)
			r.Get("/{id}/content", h.GetTemplateContent)
		})

		r.Route("/lessons", func(r chi.Router) {
			r.Get("/", h.ListLessons)
			r.Post("/", h.CreateLesson)
			r.Post("/generate", h.PreviewLesson)
			r.Get("/detailed", h.ListLessonDetails)
			r.Get("/{id}", h.GetLesson)
			r.Put("/{id}", h.UpdateLesson)
			r.Delete("/{id}", h.DeleteLesson)
			r.Get("/{id}/content", h.GetLessonContent)
			r.Get("/{id}/prompts", h.ListPrompts)
			r.Post("/{id}/prompts", h.AddPrompt)
		})

		r.Route("/courses", func(r chi.Router) {
			r.Get("/", h.ListCourses)
			r.Post("/", h.CreateCourse)
			r.Get("/{id}", h.GetCourse)
			r.Put("/{id}", h.UpdateCourse)
			r.Delete("/{id}", h.DeleteCourse)
			r.Get("/{id}/modules", h.ListCourseModules)
		})

		r.Route("/modules", func(r chi.Router) {
			r.Get("/", h.ListModules)
			r.Post("/", h.CreateModule)
			r.Get("/{id}", h.GetModule)
			r.Put("/{id}", h.UpdateModule)
			r.Delete("/{id}", h.DeleteModule)
		})
	})

	return r
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Field       string `json:"field,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, detail ErrorDetail) {
	render.Status(r, status)
	render.JSON(w, r, ErrorBody{Error: detail})
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeError(w, r, http.StatusBadRequest, ErrorDetail{Code: "bad_request", Message: msg})
}

func notFound(w http.ResponseWriter, r *http.Request, what string) {
	writeError(w, r, http.StatusNotFound, ErrorDetail{Code: "not_found", Message: what + " not found"})
}

// fail maps a service error to a status code and writes it.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var (
		verr *simplelessons.ValidationError
		serr *simplelessons.StorageError
	)
	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusUnprocessableEntity, ErrorDetail{Code: "validation_error", Message: verr.Error(), Field: verr.Field})
	case errors.Is(err, simplelessons.ErrInvalidRequest):
		writeError(w, r, http.StatusUnprocessableEntity, ErrorDetail{Code: "invalid_request", Message: err.Error()})
	case errors.Is(err, simplelessons.ErrIntegrity):
		writeError(w, r, http.StatusConflict, ErrorDetail{Code: "conflict", Message: err.Error()})
	case errors.Is(err, simplelessons.ErrContentUnavailable):
		h.logger.ErrorContext(r.Context(), msg, "err", err)
		writeError(w, r, http.StatusGone, ErrorDetail{Code: "content_unavailable", Message: "document content is no longer available"})
	case errors.Is(err, simplelessons.ErrNotFound):
		writeError(w, r, http.StatusNotFound, ErrorDetail{Code: "not_found", Message: err.Error()})
	case errors.Is(err, generation.ErrGenerationFailed):
		h.logger.ErrorContext(r.Context(), msg, "err", err)
		writeError(w, r, http.StatusBadGateway, ErrorDetail{Code: "generation_failed", Message: err.Error(), Placeholder: generation.Placeholder(err)})
	case errors.As(err, &serr):
		h.logger.ErrorContext(r.Context(), msg, "key", serr.Key, "err", err)
		writeError(w, r, http.StatusBadGateway, ErrorDetail{Code: "storage_error", Message: "blob store unavailable"})
	default:
		h.logger.ErrorContext(r.Context(), msg, "err", err)
		writeError(w, r, http.StatusInternalServerError, ErrorDetail{Code: "internal_error", Message: "internal error"})
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, r, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		badRequest(w, r, "invalid id: "+idStr)
		return uuid.Nil, false
	}
	return id, true
}

// queryID parses an optional uuid query parameter.
func queryID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		badRequest(w, r, "invalid "+name+": "+raw)
		return uuid.Nil, false
	}
	return id, true
}

func parseOptionalID(raw *string) (*uuid.UUID, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// currentUser returns the user resolved by the session middleware.
func currentUser(r *http.Request) *simplelessons.User {
	user, _ := session.UserFromContext(r.Context())
	return user
}

func writeHTML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", simplelessons.HTMLContentType)
	w.WriteHeader(status)
	w.Write(body)
}
