package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-lessons/pkg/simplelessons"
)

// Repository implements simplelessons.Repository using in-memory storage.
// It enforces the same foreign keys, unique constraints and cascades as the
// postgres schema.
type Repository struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]*simplelessons.User
	courses   map[uuid.UUID]*simplelessons.Course
	modules   map[uuid.UUID]*simplelessons.Module
	templates map[uuid.UUID]*simplelessons.Template
	lessons   map[uuid.UUID]*simplelessons.Lesson
	prompts   map[uuid.UUID]*simplelessons.PromptHistory
	blobKeys  map[string]uuid.UUID // blob key -> template or lesson id
	now       func() time.Time
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		users:     make(map[uuid.UUID]*simplelessons.User),
		courses:   make(map[uuid.UUID]*simplelessons.Course),
		modules:   make(map[uuid.UUID]*simplelessons.Module),
		templates: make(map[uuid.UUID]*simplelessons.Template),
		lessons:   make(map[uuid.UUID]*simplelessons.Lesson),
		prompts:   make(map[uuid.UUID]*simplelessons.PromptHistory),
		blobKeys:  make(map[string]uuid.UUID),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func integrity(format string, args ...any) error {
	return fmt.Errorf("%w: %s", simplelessons.ErrIntegrity, fmt.Sprintf(format, args...))
}

// User operations

func (r *Repository) CreateUser(ctx context.Context, user *simplelessons.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[user.ID]; exists {
		return integrity("duplicate user id %s", user.ID)
	}
	if err := r.checkUserUnique(user.ID, user.ExternalNick, user.ExternalID, user.SessionToken); err != nil {
		return err
	}
	userCopy := *user
	r.users[user.ID] = &userCopy
	return nil
}

func (r *Repository) checkUserUnique(id uuid.UUID, nick, externalID, token string) error {
	for _, u := range r.users {
		if u.ID == id {
			continue
		}
		if u.ExternalNick == nick {
			return integrity("duplicate external nick %q", nick)
		}
		if u.ExternalID == externalID {
			return integrity("duplicate external id %q", externalID)
		}
		if token != "" && u.SessionToken == token {
			return integrity("duplicate session token")
		}
	}
	return nil
}

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*simplelessons.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.users[id]
	if !exists {
		return nil, simplelessons.ErrUserNotFound
	}
	userCopy := *user
	return &userCopy, nil
}

func (r *Repository) findUser(match func(*simplelessons.User) bool) (*simplelessons.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if match(u) {
			userCopy := *u
			return &userCopy, nil
		}
	}
	return nil, simplelessons.ErrUserNotFound
}

func (r *Repository) GetUserByExternalID(ctx context.Context, externalID string) (*simplelessons.User, error) {
	return r.findUser(func(u *simplelessons.User) bool { return u.ExternalID == externalID })
}

func (r *Repository) GetUserByNick(ctx context.Context, nick string) (*simplelessons.User, error) {
	return r.findUser(func(u *simplelessons.User) bool { return u.ExternalNick == nick })
}

func (r *Repository) GetUserBySessionToken(ctx context.Context, token string) (*simplelessons.User, error) {
	if token == "" {
		return nil, simplelessons.ErrUserNotFound
	}
	return r.findUser(func(u *simplelessons.User) bool { return u.SessionToken == token })
}

func (r *Repository) UpdateUser(ctx context.Context, id uuid.UUID, upd simplelessons.UserUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.users[id]
	if !exists {
		return false, nil
	}
	next := *current
	if upd.ExternalNick != nil {
		next.ExternalNick = *upd.ExternalNick
	}
	if upd.ExternalID != nil {
		next.ExternalID = *upd.ExternalID
	}
	if upd.CredentialHash != nil {
		next.CredentialHash = *upd.CredentialHash
	}
	if upd.SessionToken != nil {
		next.SessionToken = *upd.SessionToken
	}
	if upd.LastSeenAt != nil {
		next.LastSeenAt = *upd.LastSeenAt
	}
	if err := r.checkUserUnique(id, next.ExternalNick, next.ExternalID, next.SessionToken); err != nil {
		return false, err
	}
	r.users[id] = &next
	return true, nil
}

func (r *Repository) DeleteUser(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[id]; !exists {
		return nil
	}
	for _, t := range r.templates {
		if t.AuthorID == id {
			r.deleteTemplateLocked(t.ID)
		}
	}
	for _, l := range r.lessons {
		if l.AuthorID == id {
			r.deleteLessonLocked(l.ID)
		}
	}
	delete(r.users, id)
	return nil
}

// Course operations

func cloneCourse(c *simplelessons.Course) *simplelessons.Course {
	out := *c
	if c.Description != nil {
		d := *c.Description
		out.Description = &d
	}
	return &out
}

func (r *Repository) CreateCourse(ctx context.Context, course *simplelessons.Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.courses[course.ID]; exists {
		return integrity("duplicate course id %s", course.ID)
	}
	r.courses[course.ID] = cloneCourse(course)
	return nil
}

func (r *Repository) GetCourse(ctx context.Context, id uuid.UUID) (*simplelessons.Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	course, exists := r.courses[id]
	if !exists {
		return nil, simplelessons.ErrCourseNotFound
	}
	return cloneCourse(course), nil
}

func (r *Repository) ListCourses(ctx context.Context) ([]*simplelessons.Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*simplelessons.Course, 0, len(r.courses))
	for _, c := range r.courses {
		result = append(result, cloneCourse(c))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *Repository) UpdateCourse(ctx context.Context, id uuid.UUID, upd simplelessons.CourseUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	course, exists := r.courses[id]
	if !exists {
		return false, nil
	}
	next := cloneCourse(course)
	if upd.Title != nil {
		next.Title = *upd.Title
	}
	if upd.Description != nil {
		d := *upd.Description
		next.Description = &d
	}
	r.courses[id] = next
	return true, nil
}

func (r *Repository) DeleteCourse(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.modules {
		if m.CourseID != nil && *m.CourseID == id {
			r.deleteModuleLocked(m.ID)
		}
	}
	delete(r.courses, id)
	return nil
}

// Module operations

func cloneModule(m *simplelessons.Module) *simplelessons.Module {
	out := *m
	if m.CourseID != nil {
		c := *m.CourseID
		out.CourseID = &c
	}
	if m.Order != nil {
		o := *m.Order
		out.Order = &o
	}
	return &out
}

func (r *Repository) CreateModule(ctx context.Context, module *simplelessons.Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[module.ID]; exists {
		return integrity("duplicate module id %s", module.ID)
	}
	if module.CourseID != nil {
		if _, ok := r.courses[*module.CourseID]; !ok {
			return integrity("module %s references missing course %s", module.ID, *module.CourseID)
		}
	}
	r.modules[module.ID] = cloneModule(module)
	return nil
}

func (r *Repository) GetModule(ctx context.Context, id uuid.UUID) (*simplelessons.Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	module, exists := r.modules[id]
	if !exists {
		return nil, simplelessons.ErrModuleNotFound
	}
	return cloneModule(module), nil
}

// ListModules returns the modules of courseID ordered by their ordering
// hint, or every module when courseID is uuid.Nil.
func (r *Repository) ListModules(ctx context.Context, courseID uuid.UUID) ([]*simplelessons.Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*simplelessons.Module
	for _, m := range r.modules {
		if courseID != uuid.Nil && (m.CourseID == nil || *m.CourseID != courseID) {
			continue
		}
		result = append(result, cloneModule(m))
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		switch {
		case a.Order != nil && b.Order != nil && *a.Order != *b.Order:
			return *a.Order < *b.Order
		case (a.Order == nil) != (b.Order == nil):
			return a.Order != nil
		}
		return a.Title < b.Title
	})
	return result, nil
}

func (r *Repository) UpdateModule(ctx context.Context, id uuid.UUID, upd simplelessons.ModuleUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	module, exists := r.modules[id]
	if !exists {
		return false, nil
	}
	next := cloneModule(module)
	if upd.ClearCourse {
		next.CourseID = nil
	} else if upd.CourseID != nil {
		if _, ok := r.courses[*upd.CourseID]; !ok {
			return false, integrity("module %s references missing course %s", id, *upd.CourseID)
		}
		c := *upd.CourseID
		next.CourseID = &c
	}
	if upd.Title != nil {
		next.Title = *upd.Title
	}
	if upd.Order != nil {
		o := *upd.Order
		next.Order = &o
	}
	r.modules[id] = next
	return true, nil
}

func (r *Repository) DeleteModule(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deleteModuleLocked(id)
	return nil
}

func (r *Repository) deleteModuleLocked(id uuid.UUID) {
	for _, l := range r.lessons {
		if l.ModuleID != nil && *l.ModuleID == id {
			r.deleteLessonLocked(l.ID)
		}
	}
	delete(r.modules, id)
}

// Template operations

func (r *Repository) CreateTemplate(ctx context.Context, tmpl *simplelessons.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.templates[tmpl.ID]; exists {
		return integrity("duplicate template id %s", tmpl.ID)
	}
	if _, ok := r.users[tmpl.AuthorID]; !ok {
		return integrity("template %s references missing user %s", tmpl.ID, tmpl.AuthorID)
	}
	if err := r.claimBlobKey(tmpl.BlobKey, tmpl.ID); err != nil {
		return err
	}
	tmplCopy := *tmpl
	r.templates[tmpl.ID] = &tmplCopy
	return nil
}

func (r *Repository) claimBlobKey(key string, owner uuid.UUID) error {
	if key == "" {
		return integrity("blob key is required")
	}
	if id, taken := r.blobKeys[key]; taken && id != owner {
		return integrity("blob key %q already referenced by %s", key, id)
	}
	r.blobKeys[key] = owner
	return nil
}

func (r *Repository) GetTemplate(ctx context.Context, id uuid.UUID) (*simplelessons.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tmpl, exists := r.templates[id]
	if !exists {
		return nil, simplelessons.ErrTemplateNotFound
	}
	tmplCopy := *tmpl
	return &tmplCopy, nil
}

func (r *Repository) ListTemplates(ctx context.Context, filter simplelessons.TemplateFilter) ([]*simplelessons.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*simplelessons.Template
	for _, t := range r.templates {
		if filter.AuthorID != uuid.Nil && t.AuthorID != filter.AuthorID {
			continue
		}
		tmplCopy := *t
		result = append(result, &tmplCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *Repository) UpdateTemplate(ctx context.Context, id uuid.UUID, upd simplelessons.TemplateUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tmpl, exists := r.templates[id]
	if !exists {
		return false, nil
	}
	next := *tmpl
	if upd.Title != nil {
		next.Title = *upd.Title
	}
	if upd.BlobKey != nil && *upd.BlobKey != tmpl.BlobKey {
		if err := r.claimBlobKey(*upd.BlobKey, id); err != nil {
			return false, err
		}
		delete(r.blobKeys, tmpl.BlobKey)
		next.BlobKey = *upd.BlobKey
	}
	r.templates[id] = &next
	return true, nil
}

func (r *Repository) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deleteTemplateLocked(id)
	return nil
}

func (r *Repository) deleteTemplateLocked(id uuid.UUID) {
	tmpl, exists := r.templates[id]
	if !exists {
		return
	}
	for _, l := range r.lessons {
		if l.TemplateID == id {
			r.deleteLessonLocked(l.ID)
		}
	}
	delete(r.blobKeys, tmpl.BlobKey)
	delete(r.templates, id)
}

// Lesson operations

func cloneLesson(l *simplelessons.Lesson) *simplelessons.Lesson {
	out := *l
	if l.ModuleID != nil {
		m := *l.ModuleID
		out.ModuleID = &m
	}
	return &out
}

func (r *Repository) CreateLesson(ctx context.Context, lesson *simplelessons.Lesson) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.lessons[lesson.ID]; exists {
		return integrity("duplicate lesson id %s", lesson.ID)
	}
	if _, ok := r.users[lesson.AuthorID]; !ok {
		return integrity("lesson %s references missing user %s", lesson.ID, lesson.AuthorID)
	}
	if _, ok := r.templates[lesson.TemplateID]; !ok {
		return integrity("lesson %s references missing template %s", lesson.ID, lesson.TemplateID)
	}
	if lesson.ModuleID != nil {
		if _, ok := r.modules[*lesson.ModuleID]; !ok {
			return integrity("lesson %s references missing module %s", lesson.ID, *lesson.ModuleID)
		}
	}
	if err := r.claimBlobKey(lesson.BlobKey, lesson.ID); err != nil {
		return err
	}
	r.lessons[lesson.ID] = cloneLesson(lesson)
	return nil
}

func (r *Repository) GetLesson(ctx context.Context, id uuid.UUID) (*simplelessons.Lesson, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lesson, exists := r.lessons[id]
	if !exists {
		return nil, simplelessons.ErrLessonNotFound
	}
	return cloneLesson(lesson), nil
}

func (r *Repository) ListLessons(ctx context.Context, filter simplelessons.LessonFilter) ([]*simplelessons.Lesson, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*simplelessons.Lesson
	for _, l := range r.lessons {
		if !r.lessonMatches(l, filter) {
			continue
		}
		result = append(result, cloneLesson(l))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *Repository) lessonMatches(l *simplelessons.Lesson, f simplelessons.LessonFilter) bool {
	if f.AuthorID != uuid.Nil && l.AuthorID != f.AuthorID {
		return false
	}
	if f.TemplateID != uuid.Nil && l.TemplateID != f.TemplateID {
		return false
	}
	if f.ModuleID != uuid.Nil && (l.ModuleID == nil || *l.ModuleID != f.ModuleID) {
		return false
	}
	if f.CourseID != uuid.Nil {
		if l.ModuleID == nil {
			return false
		}
		m, ok := r.modules[*l.ModuleID]
		if !ok || m.CourseID == nil || *m.CourseID != f.CourseID {
			return false
		}
	}
	return true
}

func (r *Repository) UpdateLesson(ctx context.Context, id uuid.UUID, upd simplelessons.LessonUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lesson, exists := r.lessons[id]
	if !exists {
		return false, nil
	}
	next := cloneLesson(lesson)
	if upd.Title != nil {
		next.Title = *upd.Title
	}
	if upd.ClearModule {
		next.ModuleID = nil
	} else if upd.ModuleID != nil {
		if _, ok := r.modules[*upd.ModuleID]; !ok {
			return false, integrity("lesson %s references missing module %s", id, *upd.ModuleID)
		}
		m := *upd.ModuleID
		next.ModuleID = &m
	}
	if upd.CreationPrompt != nil {
		next.CreationPrompt = *upd.CreationPrompt
	}
	if upd.BlobKey != nil && *upd.BlobKey != lesson.BlobKey {
		if err := r.claimBlobKey(*upd.BlobKey, id); err != nil {
			return false, err
		}
		delete(r.blobKeys, lesson.BlobKey)
		next.BlobKey = *upd.BlobKey
	}
	r.lessons[id] = next
	return true, nil
}

func (r *Repository) DeleteLesson(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deleteLessonLocked(id)
	return nil
}

func (r *Repository) deleteLessonLocked(id uuid.UUID) {
	lesson, exists := r.lessons[id]
	if !exists {
		return
	}
	for pid, p := range r.prompts {
		if p.LessonID == id {
			delete(r.prompts, pid)
		}
	}
	delete(r.blobKeys, lesson.BlobKey)
	delete(r.lessons, id)
}

// Prompt history operations

func (r *Repository) CreatePromptHistory(ctx context.Context, entry *simplelessons.PromptHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.prompts[entry.ID]; exists {
		return integrity("duplicate prompt history id %s", entry.ID)
	}
	if _, ok := r.lessons[entry.LessonID]; !ok {
		return integrity("prompt history %s references missing lesson %s", entry.ID, entry.LessonID)
	}
	entryCopy := *entry
	r.prompts[entry.ID] = &entryCopy
	return nil
}

func (r *Repository) GetPromptHistory(ctx context.Context, id uuid.UUID) (*simplelessons.PromptHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.prompts[id]
	if !exists {
		return nil, simplelessons.ErrPromptHistoryNotFound
	}
	entryCopy := *entry
	return &entryCopy, nil
}

func (r *Repository) ListPromptHistory(ctx context.Context, lessonID uuid.UUID) ([]*simplelessons.PromptHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*simplelessons.PromptHistory
	for _, p := range r.prompts {
		if p.LessonID == lessonID {
			entryCopy := *p
			result = append(result, &entryCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	return result, nil
}

func (r *Repository) UpdatePromptHistory(ctx context.Context, id uuid.UUID, promptText string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.prompts[id]
	if !exists {
		return false, nil
	}
	next := *entry
	next.PromptText = promptText
	next.UpdatedAt = r.now()
	r.prompts[id] = &next
	return true, nil
}

func (r *Repository) DeletePromptHistory(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.prompts, id)
	return nil
}

// Derived view

// ListLessonDetails joins lessons with their author, module, course and
// template. A lesson missing any link in that chain is skipped.
func (r *Repository) ListLessonDetails(ctx context.Context, filter simplelessons.LessonDetailFilter) ([]*simplelessons.LessonDetail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*simplelessons.LessonDetail
	for _, l := range r.lessons {
		author, ok := r.users[l.AuthorID]
		if !ok || (filter.AuthorNick != "" && author.ExternalNick != filter.AuthorNick) {
			continue
		}
		if l.ModuleID == nil {
			continue
		}
		module, ok := r.modules[*l.ModuleID]
		if !ok || module.CourseID == nil {
			continue
		}
		course, ok := r.courses[*module.CourseID]
		if !ok {
			continue
		}
		tmpl, ok := r.templates[l.TemplateID]
		if !ok {
			continue
		}
		result = append(result, &simplelessons.LessonDetail{
			LessonID:      l.ID,
			LessonTitle:   l.Title,
			CreatedAt:     l.CreatedAt,
			AuthorNick:    author.ExternalNick,
			ModuleTitle:   module.Title,
			CourseTitle:   course.Title,
			TemplateTitle: tmpl.Title,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// ListBlobKeys returns every blob key referenced by a live template or lesson
func (r *Repository) ListBlobKeys(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.blobKeys))
	for k := range r.blobKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

var _ simplelessons.Repository = (*Repository)(nil)
