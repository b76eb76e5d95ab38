package simplelessons_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-lessons/pkg/simplelessons"
	memoryrepo "github.com/tendant/simple-lessons/pkg/simplelessons/repo/memory"
)

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := simplelessons.New(simplelessons.WithBlobStore(newTestStore()))
	assert.Error(t, err)

	_, err = simplelessons.New(simplelessons.WithRepository(memoryrepo.New()))
	assert.Error(t, err)

	svc, err := simplelessons.New(
		simplelessons.WithRepository(memoryrepo.New()),
		simplelessons.WithBlobStore(newTestStore()),
	)
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestSessionToken(t *testing.T) {
	a := simplelessons.SessionToken("12345")
	assert.Len(t, a, 64)
	assert.Equal(t, a, simplelessons.SessionToken("12345"))
	assert.NotEqual(t, a, simplelessons.SessionToken("12346"))
}

func TestDefaultLessonTitle(t *testing.T) {
	tests := []struct {
		prompt string
		want   string
	}{
		{"", "New lesson"},
		{"   ", "New lesson"},
		{"fractions", "fractions"},
		{"explain photosynthesis to ten year olds", "explain photosynthes"},
		{"дроби и проценты для пятого класса", "дроби и проценты для"},
	}
	for _, tt := range tests {
		got := simplelessons.DefaultLessonTitle(tt.prompt)
		assert.Equal(t, tt.want, got, "prompt %q", tt.prompt)
		assert.LessOrEqual(t, len([]rune(got)), 20)
	}
}

func TestCreateUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u := h.user(t, "alice")
	assert.Equal(t, simplelessons.SessionToken("alice-id"), u.SessionToken)
	assert.Equal(t, u.SessionToken, u.CredentialHash)
	assert.False(t, u.LastSeenAt.IsZero())

	got, err := h.svc.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ExternalNick, got.ExternalNick)

	_, err = h.svc.CreateUser(ctx, simplelessons.CreateUserRequest{ExternalNick: "alice", ExternalID: "other"})
	var ierr *simplelessons.IntegrityError
	assert.ErrorAs(t, err, &ierr)

	_, err = h.svc.CreateUser(ctx, simplelessons.CreateUserRequest{ExternalNick: "", ExternalID: "x"})
	assert.ErrorIs(t, err, simplelessons.ErrInvalidRequest)
}

func TestUpdateUser_RefreshesToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user(t, "bob")

	newID := "bob-new-id"
	got, err := h.svc.UpdateUser(ctx, u.ID, simplelessons.UserUpdate{ExternalID: &newID})
	require.NoError(t, err)
	assert.Equal(t, newID, got.ExternalID)
	assert.Equal(t, simplelessons.SessionToken(newID), got.SessionToken)

	got, err = h.svc.UpdateUser(ctx, uuid.New(), simplelessons.UserUpdate{ExternalID: &newID})
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestCourseAndModule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	desc := "Numbers"
	course, err := h.svc.CreateCourse(ctx, simplelessons.CreateCourseRequest{Title: "Math", Description: &desc})
	require.NoError(t, err)

	title := "Mathematics"
	course, err = h.svc.UpdateCourse(ctx, course.ID, simplelessons.CourseUpdate{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Mathematics", course.Title)
	require.NotNil(t, course.Description)
	assert.Equal(t, "Numbers", *course.Description)

	two, one := 2, 1
	_, err = h.svc.CreateModule(ctx, simplelessons.CreateModuleRequest{CourseID: &course.ID, Title: "Second", Order: &two})
	require.NoError(t, err)
	_, err = h.svc.CreateModule(ctx, simplelessons.CreateModuleRequest{CourseID: &course.ID, Title: "First", Order: &one})
	require.NoError(t, err)

	modules, err := h.svc.ListModules(ctx, course.ID)
	require.NoError(t, err)
	require.Len(t, modules, 2)
	assert.Equal(t, "First", modules[0].Title)
	assert.Equal(t, "Second", modules[1].Title)

	missing := uuid.New()
	_, err = h.svc.CreateModule(ctx, simplelessons.CreateModuleRequest{CourseID: &missing, Title: "Lost"})
	var verr *simplelessons.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "course_id", verr.Field)

	updated, err := h.svc.UpdateModule(ctx, modules[0].ID, simplelessons.ModuleUpdate{ClearCourse: true})
	require.NoError(t, err)
	assert.Nil(t, updated.CourseID)

	gone, err := h.svc.UpdateModule(ctx, uuid.New(), simplelessons.ModuleUpdate{CourseID: &missing})
	require.NoError(t, err, "a missing module is a no-op even with a bad course")
	assert.Nil(t, gone)

	courses, err := h.svc.ListCourses(ctx)
	require.NoError(t, err)
	assert.Len(t, courses, 1)

	assert.NoError(t, h.svc.DeleteCourse(ctx, course.ID))
	assert.NoError(t, h.svc.DeleteCourse(ctx, course.ID))
	_, err = h.svc.GetModule(ctx, modules[0].ID)
	assert.NoError(t, err, "detached module survives the course")
}

func TestPromptHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "cat")
	lesson := h.lesson(t, author.ID, h.template(t, author.ID, "t", "x").ID, nil, "v1")

	first, err := h.svc.AddPrompt(ctx, lesson.ID, "make it shorter")
	require.NoError(t, err)
	_, err = h.svc.AddPrompt(ctx, lesson.ID, "add a quiz")
	require.NoError(t, err)

	entries, err := h.svc.ListPromptHistory(ctx, lesson.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	got, err := h.svc.UpdatePromptHistory(ctx, first.ID, "make it much shorter")
	require.NoError(t, err)
	assert.Equal(t, "make it much shorter", got.PromptText)

	require.NoError(t, h.svc.DeletePromptHistory(ctx, first.ID))
	_, err = h.svc.GetPromptHistory(ctx, first.ID)
	assert.ErrorIs(t, err, simplelessons.ErrPromptHistoryNotFound)

	_, err = h.svc.AddPrompt(ctx, uuid.New(), "nope")
	var verr *simplelessons.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "lesson_id", verr.Field)
}

func TestListLessonDetails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "dee")
	tmpl := h.template(t, author.ID, "Clean", "x")

	course, err := h.svc.CreateCourse(ctx, simplelessons.CreateCourseRequest{Title: "Biology"})
	require.NoError(t, err)
	module, err := h.svc.CreateModule(ctx, simplelessons.CreateModuleRequest{CourseID: &course.ID, Title: "Cells"})
	require.NoError(t, err)
	loose, err := h.svc.CreateModule(ctx, simplelessons.CreateModuleRequest{Title: "Loose"})
	require.NoError(t, err)

	placed := h.lesson(t, author.ID, tmpl.ID, &module.ID, "a")
	h.lesson(t, author.ID, tmpl.ID, &loose.ID, "b")
	h.lesson(t, author.ID, tmpl.ID, nil, "c")

	details, err := h.svc.ListLessonDetails(ctx, simplelessons.LessonDetailFilter{AuthorNick: "dee"})
	require.NoError(t, err)
	require.Len(t, details, 1)
	d := details[0]
	assert.Equal(t, placed.ID, d.LessonID)
	assert.Equal(t, "dee", d.AuthorNick)
	assert.Equal(t, "Cells", d.ModuleTitle)
	assert.Equal(t, "Biology", d.CourseTitle)
	assert.Equal(t, "Clean", d.TemplateTitle)

	details, err = h.svc.ListLessonDetails(ctx, simplelessons.LessonDetailFilter{AuthorNick: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, details)
}

func TestListLessons_Filters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.user(t, "eli")
	b := h.user(t, "fin")
	t1 := h.template(t, a.ID, "one", "x")
	t2 := h.template(t, b.ID, "two", "y")
	h.lesson(t, a.ID, t1.ID, nil, "1")
	h.lesson(t, a.ID, t2.ID, nil, "2")
	h.lesson(t, b.ID, t2.ID, nil, "3")

	byAuthor, err := h.svc.ListLessons(ctx, simplelessons.LessonFilter{AuthorID: a.ID})
	require.NoError(t, err)
	assert.Len(t, byAuthor, 2)

	byTemplate, err := h.svc.ListLessons(ctx, simplelessons.LessonFilter{TemplateID: t2.ID})
	require.NoError(t, err)
	assert.Len(t, byTemplate, 2)

	all, err := h.svc.ListLessons(ctx, simplelessons.LessonFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	templates, err := h.svc.ListTemplates(ctx, simplelessons.TemplateFilter{AuthorID: b.ID})
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.True(t, strings.HasPrefix(templates[0].BlobKey, simplelessons.FolderTemplates+"/"))
}
