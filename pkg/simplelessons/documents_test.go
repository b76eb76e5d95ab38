package simplelessons_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-lessons/pkg/simplelessons"
	memoryrepo "github.com/tendant/simple-lessons/pkg/simplelessons/repo/memory"
)

var templateKeyPattern = regexp.MustCompile(`^templates/[0-9a-f-]{36}\.html$`)

func TestTemplateScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "alice")

	tmpl := h.template(t, author.ID, "T1", "<h1>A</h1>")
	assert.Regexp(t, templateKeyPattern, tmpl.BlobKey)
	k1 := tmpl.BlobKey
	got, err := h.store.Get(ctx, k1)
	require.NoError(t, err)
	assert.Equal(t, "<h1>A</h1>", string(got))

	content := "<h1>B</h1>"
	updated, rev, err := h.svc.UpdateTemplate(ctx, simplelessons.UpdateTemplateRequest{ID: tmpl.ID, Content: &content})
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Equal(t, tmpl.ID, updated.ID)
	assert.Equal(t, k1, rev.OldKey)
	k2 := rev.NewKey
	assert.NotEqual(t, k1, k2)
	assert.Equal(t, k2, updated.BlobKey)
	assert.NoError(t, rev.CleanupErr)
	assert.False(t, h.store.exists(t, k1))
	got, err = h.store.Get(ctx, k2)
	require.NoError(t, err)
	assert.Equal(t, "<h1>B</h1>", string(got))

	row, err := h.svc.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, k2, row.BlobKey)

	require.NoError(t, h.svc.DeleteTemplate(ctx, tmpl.ID))
	_, err = h.svc.GetTemplate(ctx, tmpl.ID)
	assert.ErrorIs(t, err, simplelessons.ErrTemplateNotFound)
	assert.False(t, h.store.exists(t, k2))

	// second delete is a no-op
	assert.NoError(t, h.svc.DeleteTemplate(ctx, tmpl.ID))

	assert.Equal(t, []string{k1}, h.sink.created)
	assert.Equal(t, []string{k2}, h.sink.updated)
	assert.Equal(t, []string{k2}, h.sink.deleted)
}

func TestCreateLesson_RoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "bob")
	tmpl := h.template(t, author.ID, "Style", "<style></style>")

	lesson := h.lesson(t, author.ID, tmpl.ID, nil, "<p>lesson</p>")
	assert.True(t, len(lesson.BlobKey) > 0)
	assert.Contains(t, lesson.BlobKey, "lessons/")

	body, err := h.svc.GetLessonContent(ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, "<p>lesson</p>", string(body))

	ct, ok := h.store.ContentType(lesson.BlobKey)
	require.True(t, ok)
	assert.Equal(t, "text/html", ct)
}

func TestCreateLesson_ReferentialCheck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "carol")
	tmpl := h.template(t, author.ID, "Style", "x")
	before := h.store.putCount()

	missing := uuid.New()
	tests := []struct {
		name  string
		req   simplelessons.CreateLessonRequest
		field string
	}{
		{"MissingTemplate", simplelessons.CreateLessonRequest{Title: "l", AuthorID: author.ID, TemplateID: missing}, "template_id"},
		{"MissingAuthor", simplelessons.CreateLessonRequest{Title: "l", AuthorID: missing, TemplateID: tmpl.ID}, "author_id"},
		{"MissingModule", simplelessons.CreateLessonRequest{Title: "l", AuthorID: author.ID, TemplateID: tmpl.ID, ModuleID: &missing}, "module_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CreateLesson(ctx, tt.req)
			var verr *simplelessons.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, missing, verr.ID)
			assert.ErrorIs(t, err, simplelessons.ErrNotFound)
		})
	}
	assert.Equal(t, before, h.store.putCount(), "validation failures must not write blobs")
}

func TestCreate_InvalidRequest(t *testing.T) {
	h := newHarness(t)
	author := h.user(t, "dora")
	_, err := h.svc.CreateTemplate(context.Background(), simplelessons.CreateTemplateRequest{Title: " ", AuthorID: author.ID})
	assert.ErrorIs(t, err, simplelessons.ErrInvalidRequest)
	assert.Equal(t, 0, h.store.putCount())
}

func TestCreate_BlobPutFailureLeavesNoRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "dan")
	h.store.failPut = true

	_, err := h.svc.CreateTemplate(ctx, simplelessons.CreateTemplateRequest{Title: "t", AuthorID: author.ID, Content: "x"})
	var serr *simplelessons.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "put", serr.Op)

	templates, err := h.svc.ListTemplates(ctx, simplelessons.TemplateFilter{AuthorID: author.ID})
	require.NoError(t, err)
	assert.Empty(t, templates)
}

func TestCreate_IntegrityFailureOrphansBlob(t *testing.T) {
	repo := &failingRepo{Repository: memoryrepo.New()}
	store := newTestStore()
	sink := &recordingSink{}
	svc, err := simplelessons.New(
		simplelessons.WithRepository(repo),
		simplelessons.WithBlobStore(store),
		simplelessons.WithEventSink(sink),
	)
	require.NoError(t, err)
	ctx := context.Background()

	author, err := svc.CreateUser(ctx, simplelessons.CreateUserRequest{ExternalNick: "eve", ExternalID: "1"})
	require.NoError(t, err)
	tmpl, err := svc.CreateTemplate(ctx, simplelessons.CreateTemplateRequest{Title: "t", AuthorID: author.ID, Content: "x"})
	require.NoError(t, err)

	repo.failCreateLesson = true
	_, err = svc.CreateLesson(ctx, simplelessons.CreateLessonRequest{Title: "l", AuthorID: author.ID, TemplateID: tmpl.ID, Content: "y"})
	var ierr *simplelessons.IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "lesson", ierr.Kind)
	assert.ErrorIs(t, err, simplelessons.ErrIntegrity)

	require.Len(t, sink.orphaned, 1)
	assert.True(t, store.exists(t, sink.orphaned[0]), "orphan is reported, not deleted")
}

func TestUpdate_NotFoundIsNoop(t *testing.T) {
	h := newHarness(t)
	content := "x"
	tmpl, rev, err := h.svc.UpdateTemplate(context.Background(), simplelessons.UpdateTemplateRequest{ID: uuid.New(), Content: &content})
	assert.NoError(t, err)
	assert.Nil(t, tmpl)
	assert.Nil(t, rev)
	assert.Equal(t, 0, h.store.putCount())

	lesson, rev, err := h.svc.UpdateLesson(context.Background(), simplelessons.UpdateLessonRequest{ID: uuid.New(), Content: &content})
	assert.NoError(t, err)
	assert.Nil(t, lesson)
	assert.Nil(t, rev)
}

func TestUpdate_TitleOnlyKeepsBlob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "fay")
	tmpl := h.template(t, author.ID, "Old", "x")
	puts := h.store.putCount()

	title := "New"
	updated, rev, err := h.svc.UpdateTemplate(ctx, simplelessons.UpdateTemplateRequest{ID: tmpl.ID, Title: &title})
	require.NoError(t, err)
	assert.Nil(t, rev)
	assert.Equal(t, "New", updated.Title)
	assert.Equal(t, tmpl.BlobKey, updated.BlobKey)
	assert.Equal(t, puts, h.store.putCount())
	assert.True(t, h.store.exists(t, tmpl.BlobKey))
}

func TestUpdate_CommitFailureOrphansNewBlob(t *testing.T) {
	repo := &failingRepo{Repository: memoryrepo.New()}
	store := newTestStore()
	sink := &recordingSink{}
	svc, err := simplelessons.New(
		simplelessons.WithRepository(repo),
		simplelessons.WithBlobStore(store),
		simplelessons.WithEventSink(sink),
	)
	require.NoError(t, err)
	ctx := context.Background()

	author, err := svc.CreateUser(ctx, simplelessons.CreateUserRequest{ExternalNick: "gus", ExternalID: "2"})
	require.NoError(t, err)
	tmpl, err := svc.CreateTemplate(ctx, simplelessons.CreateTemplateRequest{Title: "t", AuthorID: author.ID, Content: "v1"})
	require.NoError(t, err)

	repo.failUpdateTemplate = true
	content := "v2"
	_, _, err = svc.UpdateTemplate(ctx, simplelessons.UpdateTemplateRequest{ID: tmpl.ID, Content: &content})
	assert.ErrorIs(t, err, simplelessons.ErrIntegrity)

	// row still points at the old blob, which is intact
	row, err := svc.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, tmpl.BlobKey, row.BlobKey)
	assert.True(t, store.exists(t, tmpl.BlobKey))
	require.Len(t, sink.orphaned, 1)
	assert.NotEqual(t, tmpl.BlobKey, sink.orphaned[0])
}

func TestUpdate_CleanupFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "hal")
	lesson := h.lesson(t, author.ID, h.template(t, author.ID, "t", "x").ID, nil, "v1")
	h.store.failDelete[lesson.BlobKey] = -1

	content := "v2"
	updated, rev, err := h.svc.UpdateLesson(ctx, simplelessons.UpdateLessonRequest{ID: lesson.ID, Content: &content})
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Error(t, rev.CleanupErr)
	assert.ErrorIs(t, rev.CleanupErr, errInjected)
	assert.Equal(t, rev.NewKey, updated.BlobKey)

	body, err := h.svc.GetLessonContent(ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(body))
	assert.True(t, h.store.exists(t, lesson.BlobKey))
	assert.Contains(t, h.sink.orphaned, lesson.BlobKey)
}

func TestUpdate_CleanupRetries(t *testing.T) {
	h := newHarness(t, simplelessons.WithCleanupAttempts(3))
	ctx := context.Background()
	author := h.user(t, "ian")
	tmpl := h.template(t, author.ID, "t", "v1")
	h.store.failDelete[tmpl.BlobKey] = 1

	content := "v2"
	_, rev, err := h.svc.UpdateTemplate(ctx, simplelessons.UpdateTemplateRequest{ID: tmpl.ID, Content: &content})
	require.NoError(t, err)
	assert.NoError(t, rev.CleanupErr)
	assert.False(t, h.store.exists(t, tmpl.BlobKey))
	assert.Empty(t, h.sink.orphaned)
}

func TestUpdateLesson_ModuleChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "jo")
	tmpl := h.template(t, author.ID, "t", "x")
	module, err := h.svc.CreateModule(ctx, simplelessons.CreateModuleRequest{Title: "m"})
	require.NoError(t, err)
	lesson := h.lesson(t, author.ID, tmpl.ID, nil, "v1")

	updated, _, err := h.svc.UpdateLesson(ctx, simplelessons.UpdateLessonRequest{ID: lesson.ID, ModuleID: &module.ID})
	require.NoError(t, err)
	require.NotNil(t, updated.ModuleID)
	assert.Equal(t, module.ID, *updated.ModuleID)

	missing := uuid.New()
	_, _, err = h.svc.UpdateLesson(ctx, simplelessons.UpdateLessonRequest{ID: lesson.ID, ModuleID: &missing})
	var verr *simplelessons.ValidationError
	assert.ErrorAs(t, err, &verr)

	updated, _, err = h.svc.UpdateLesson(ctx, simplelessons.UpdateLessonRequest{ID: lesson.ID, ClearModule: true})
	require.NoError(t, err)
	assert.Nil(t, updated.ModuleID)
}

func TestDelete_RemovesRowAndBlob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "kim")
	lesson := h.lesson(t, author.ID, h.template(t, author.ID, "t", "x").ID, nil, "body")
	_, err := h.svc.AddPrompt(ctx, lesson.ID, "first prompt")
	require.NoError(t, err)

	require.NoError(t, h.svc.DeleteLesson(ctx, lesson.ID))
	_, err = h.svc.GetLesson(ctx, lesson.ID)
	assert.ErrorIs(t, err, simplelessons.ErrLessonNotFound)
	assert.False(t, h.store.exists(t, lesson.BlobKey))
	prompts, err := h.svc.ListPromptHistory(ctx, lesson.ID)
	require.NoError(t, err)
	assert.Empty(t, prompts)

	assert.NoError(t, h.svc.DeleteLesson(ctx, lesson.ID))
}

func TestDelete_BlobFailureKeepsRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "lee")
	lesson := h.lesson(t, author.ID, h.template(t, author.ID, "t", "x").ID, nil, "body")
	h.store.failDelete[lesson.BlobKey] = -1

	err := h.svc.DeleteLesson(ctx, lesson.ID)
	assert.ErrorIs(t, err, errInjected)
	_, err = h.svc.GetLesson(ctx, lesson.ID)
	assert.NoError(t, err)
}

func TestDelete_MissingBlobStillDeletesRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "max")
	tmpl := h.template(t, author.ID, "t", "x")
	require.NoError(t, h.store.Backend.Delete(ctx, tmpl.BlobKey))

	_, err := h.svc.GetTemplateContent(ctx, tmpl.ID)
	assert.ErrorIs(t, err, simplelessons.ErrContentUnavailable)

	require.NoError(t, h.svc.DeleteTemplate(ctx, tmpl.ID))
	_, err = h.svc.GetTemplate(ctx, tmpl.ID)
	assert.ErrorIs(t, err, simplelessons.ErrNotFound)
}

func TestDeleteTemplate_Cascade(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "ned")
	other := h.user(t, "ola")
	tmpl := h.template(t, author.ID, "shared", "x")

	const n = 5
	var lessons []*simplelessons.Lesson
	for i := 0; i < n; i++ {
		owner := author.ID
		if i%2 == 1 {
			owner = other.ID
		}
		l := h.lesson(t, owner, tmpl.ID, nil, "body")
		_, err := h.svc.AddPrompt(ctx, l.ID, "prompt")
		require.NoError(t, err)
		lessons = append(lessons, l)
	}

	require.NoError(t, h.svc.DeleteTemplate(ctx, tmpl.ID))

	for _, l := range lessons {
		_, err := h.svc.GetLesson(ctx, l.ID)
		assert.ErrorIs(t, err, simplelessons.ErrLessonNotFound)
		assert.False(t, h.store.exists(t, l.BlobKey))
		prompts, err := h.svc.ListPromptHistory(ctx, l.ID)
		require.NoError(t, err)
		assert.Empty(t, prompts)
	}
	assert.False(t, h.store.exists(t, tmpl.BlobKey))
	assert.Len(t, h.sink.deleted, n+1)
	assert.Equal(t, 0, h.store.Len())
}

func TestDeleteUser_CascadesDocuments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "pat")
	other := h.user(t, "quin")
	tmpl := h.template(t, author.ID, "t", "x")
	own := h.lesson(t, author.ID, tmpl.ID, nil, "mine")
	derived := h.lesson(t, other.ID, tmpl.ID, nil, "built on pat's template")
	otherTmpl := h.template(t, other.ID, "keep", "y")

	require.NoError(t, h.svc.DeleteUser(ctx, author.ID))

	for _, key := range []string{tmpl.BlobKey, own.BlobKey, derived.BlobKey} {
		assert.False(t, h.store.exists(t, key))
	}
	assert.True(t, h.store.exists(t, otherTmpl.BlobKey))
	_, err := h.svc.GetLesson(ctx, derived.ID)
	assert.ErrorIs(t, err, simplelessons.ErrNotFound)
	_, err = h.svc.GetUser(ctx, author.ID)
	assert.ErrorIs(t, err, simplelessons.ErrUserNotFound)

	assert.NoError(t, h.svc.DeleteUser(ctx, author.ID))
}

func TestDeleteCourseAndModule_CascadeBlobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "ray")
	tmpl := h.template(t, author.ID, "t", "x")

	course, err := h.svc.CreateCourse(ctx, simplelessons.CreateCourseRequest{Title: "Course"})
	require.NoError(t, err)
	m1, err := h.svc.CreateModule(ctx, simplelessons.CreateModuleRequest{CourseID: &course.ID, Title: "m1"})
	require.NoError(t, err)
	m2, err := h.svc.CreateModule(ctx, simplelessons.CreateModuleRequest{Title: "m2"})
	require.NoError(t, err)

	inCourse := h.lesson(t, author.ID, tmpl.ID, &m1.ID, "a")
	inLoose := h.lesson(t, author.ID, tmpl.ID, &m2.ID, "b")

	require.NoError(t, h.svc.DeleteCourse(ctx, course.ID))
	assert.False(t, h.store.exists(t, inCourse.BlobKey))
	assert.True(t, h.store.exists(t, inLoose.BlobKey))
	_, err = h.svc.GetModule(ctx, m1.ID)
	assert.ErrorIs(t, err, simplelessons.ErrModuleNotFound)

	require.NoError(t, h.svc.DeleteModule(ctx, m2.ID))
	assert.False(t, h.store.exists(t, inLoose.BlobKey))
	assert.True(t, h.store.exists(t, tmpl.BlobKey))
}

// Two concurrent content updates both upload before either commits. The
// later commit wins and the other upload is left behind as an orphan.
func TestConcurrentUpdate_LastWriterWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "sam")
	tmpl := h.template(t, author.ID, "t", "v0")
	oldKey := tmpl.BlobKey

	var barrier sync.WaitGroup
	barrier.Add(2)
	h.store.mu.Lock()
	h.store.afterPut = func(string) {
		barrier.Done()
		barrier.Wait()
	}
	h.store.mu.Unlock()

	type result struct {
		rev *simplelessons.Revision
		err error
	}
	results := make(chan result, 2)
	for _, body := range []string{"writer-a", "writer-b"} {
		go func() {
			content := body
			_, rev, err := h.svc.UpdateTemplate(ctx, simplelessons.UpdateTemplateRequest{ID: tmpl.ID, Content: &content})
			results <- result{rev: rev, err: err}
		}()
	}

	var newKeys []string
	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		require.NotNil(t, r.rev)
		assert.Equal(t, oldKey, r.rev.OldKey)
		assert.NoError(t, r.rev.CleanupErr)
		newKeys = append(newKeys, r.rev.NewKey)
	}
	require.NotEqual(t, newKeys[0], newKeys[1])

	row, err := h.svc.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Contains(t, newKeys, row.BlobKey)

	loser := newKeys[0]
	if loser == row.BlobKey {
		loser = newKeys[1]
	}
	assert.False(t, h.store.exists(t, oldKey))
	assert.True(t, h.store.exists(t, row.BlobKey))
	assert.True(t, h.store.exists(t, loser), "the losing upload remains as an orphan")

	referenced, err := h.repo.ListBlobKeys(ctx)
	require.NoError(t, err)
	assert.NotContains(t, referenced, loser)
}

func TestEventSinkErrorsDoNotFailOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	author := h.user(t, "tia")
	lesson := h.lesson(t, author.ID, h.template(t, author.ID, "t", "x").ID, nil, "v1")
	h.store.failDelete[lesson.BlobKey] = -1

	// recordingSink.BlobOrphaned returns an error; the update still succeeds
	content := "v2"
	_, rev, err := h.svc.UpdateLesson(ctx, simplelessons.UpdateLessonRequest{ID: lesson.ID, Content: &content})
	require.NoError(t, err)
	assert.True(t, errors.Is(rev.CleanupErr, errInjected))
}
