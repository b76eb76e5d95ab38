package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-lessons/pkg/simplelessons"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// TxBeginner starts transactions. *pgxpool.Pool, *pgx.Conn and pgx.Tx
// (as a savepoint) all satisfy it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DB is what the repository needs from its connection
type DB interface {
	DBTX
	TxBeginner
}

// Repository implements simplelessons.Repository using PostgreSQL
type Repository struct {
	db DB
}

// New creates a new PostgreSQL repository
func New(db DB) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Error handling helper
func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w: duplicate value violates %s", operation, simplelessons.ErrIntegrity, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %w: referenced record not found (%s)", operation, simplelessons.ErrIntegrity, pgErr.ConstraintName)
		case "23502": // not_null_violation
			return fmt.Errorf("%s: %w: required field %s is missing", operation, simplelessons.ErrIntegrity, pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: table does not exist - database migration required", operation)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

// exec runs one mutating statement in its own transaction
func (r *Repository) exec(ctx context.Context, operation, query string, args ...any) (int64, error) {
	var affected int64
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, handlePostgresError(operation, err)
	}
	return affected, nil
}

func (r *Repository) update(ctx context.Context, operation, query string, args ...any) (bool, error) {
	n, err := r.exec(ctx, operation, query, args...)
	return n > 0, err
}

func getOne[T any](ctx context.Context, db DBTX, operation string, notFound error, scan func(pgx.Row) (*T, error), query string, args ...any) (*T, error) {
	v, err := scan(db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound
	}
	if err != nil {
		return nil, handlePostgresError(operation, err)
	}
	return v, nil
}

func list[T any](ctx context.Context, db DBTX, operation string, scan func(pgx.Row) (*T, error), query string, args ...any) ([]*T, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, handlePostgresError(operation, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*T, error) {
		return scan(row)
	})
	if err != nil {
		return nil, handlePostgresError(operation, err)
	}
	return out, nil
}

// nullableID maps uuid.Nil to SQL NULL so "match everything" filters work.
func nullableID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

// User operations

const userColumns = `id, external_nick, external_id, credential_hash, session_token, last_seen_at`

func scanUser(row pgx.Row) (*simplelessons.User, error) {
	var u simplelessons.User
	err := row.Scan(&u.ID, &u.ExternalNick, &u.ExternalID, &u.CredentialHash, &u.SessionToken, &u.LastSeenAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) CreateUser(ctx context.Context, user *simplelessons.User) error {
	_, err := r.exec(ctx, "create user", `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.ExternalNick, user.ExternalID, user.CredentialHash, user.SessionToken, user.LastSeenAt)
	return err
}

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*simplelessons.User, error) {
	return getOne(ctx, r.db, "get user", simplelessons.ErrUserNotFound, scanUser,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *Repository) GetUserByExternalID(ctx context.Context, externalID string) (*simplelessons.User, error) {
	return getOne(ctx, r.db, "get user by external id", simplelessons.ErrUserNotFound, scanUser,
		`SELECT `+userColumns+` FROM users WHERE external_id = $1`, externalID)
}

func (r *Repository) GetUserByNick(ctx context.Context, nick string) (*simplelessons.User, error) {
	return getOne(ctx, r.db, "get user by nick", simplelessons.ErrUserNotFound, scanUser,
		`SELECT `+userColumns+` FROM users WHERE external_nick = $1`, nick)
}

func (r *Repository) GetUserBySessionToken(ctx context.Context, token string) (*simplelessons.User, error) {
	if token == "" {
		return nil, simplelessons.ErrUserNotFound
	}
	return getOne(ctx, r.db, "get user by session token", simplelessons.ErrUserNotFound, scanUser,
		`SELECT `+userColumns+` FROM users WHERE session_token = $1`, token)
}

func (r *Repository) UpdateUser(ctx context.Context, id uuid.UUID, upd simplelessons.UserUpdate) (bool, error) {
	return r.update(ctx, "update user", `
		UPDATE users SET
			external_nick = COALESCE($2, external_nick),
			external_id = COALESCE($3, external_id),
			credential_hash = COALESCE($4, credential_hash),
			session_token = COALESCE($5, session_token),
			last_seen_at = COALESCE($6, last_seen_at)
		WHERE id = $1`,
		id, upd.ExternalNick, upd.ExternalID, upd.CredentialHash, upd.SessionToken, upd.LastSeenAt)
}

func (r *Repository) DeleteUser(ctx context.Context, id uuid.UUID) error {
	_, err := r.exec(ctx, "delete user", `DELETE FROM users WHERE id = $1`, id)
	return err
}

// Course operations

const courseColumns = `id, title, description, created_at`

func scanCourse(row pgx.Row) (*simplelessons.Course, error) {
	var c simplelessons.Course
	if err := row.Scan(&c.ID, &c.Title, &c.Description, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) CreateCourse(ctx context.Context, course *simplelessons.Course) error {
	_, err := r.exec(ctx, "create course",
		`INSERT INTO courses (`+courseColumns+`) VALUES ($1, $2, $3, $4)`,
		course.ID, course.Title, course.Description, course.CreatedAt)
	return err
}

func (r *Repository) GetCourse(ctx context.Context, id uuid.UUID) (*simplelessons.Course, error) {
	return getOne(ctx, r.db, "get course", simplelessons.ErrCourseNotFound, scanCourse,
		`SELECT `+courseColumns+` FROM courses WHERE id = $1`, id)
}

func (r *Repository) ListCourses(ctx context.Context) ([]*simplelessons.Course, error) {
	return list(ctx, r.db, "list courses", scanCourse,
		`SELECT `+courseColumns+` FROM courses ORDER BY created_at`)
}

func (r *Repository) UpdateCourse(ctx context.Context, id uuid.UUID, upd simplelessons.CourseUpdate) (bool, error) {
	return r.update(ctx, "update course", `
		UPDATE courses SET
			title = COALESCE($2, title),
			description = COALESCE($3, description)
		WHERE id = $1`,
		id, upd.Title, upd.Description)
}

func (r *Repository) DeleteCourse(ctx context.Context, id uuid.UUID) error {
	_, err := r.exec(ctx, "delete course", `DELETE FROM courses WHERE id = $1`, id)
	return err
}

// Module operations

const moduleColumns = `id, course_id, title, "order"`

func scanModule(row pgx.Row) (*simplelessons.Module, error) {
	var m simplelessons.Module
	if err := row.Scan(&m.ID, &m.CourseID, &m.Title, &m.Order); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repository) CreateModule(ctx context.Context, module *simplelessons.Module) error {
	_, err := r.exec(ctx, "create module",
		`INSERT INTO modules (`+moduleColumns+`) VALUES ($1, $2, $3, $4)`,
		module.ID, module.CourseID, module.Title, module.Order)
	return err
}

func (r *Repository) GetModule(ctx context.Context, id uuid.UUID) (*simplelessons.Module, error) {
	return getOne(ctx, r.db, "get module", simplelessons.ErrModuleNotFound, scanModule,
		`SELECT `+moduleColumns+` FROM modules WHERE id = $1`, id)
}

func (r *Repository) ListModules(ctx context.Context, courseID uuid.UUID) ([]*simplelessons.Module, error) {
	return list(ctx, r.db, "list modules", scanModule, `
		SELECT `+moduleColumns+` FROM modules
		WHERE ($1::uuid IS NULL OR course_id = $1::uuid)
		ORDER BY "order" NULLS LAST, title`,
		nullableID(courseID))
}

func (r *Repository) UpdateModule(ctx context.Context, id uuid.UUID, upd simplelessons.ModuleUpdate) (bool, error) {
	return r.update(ctx, "update module", `
		UPDATE modules SET
			course_id = CASE WHEN $2::boolean THEN NULL ELSE COALESCE($3::uuid, course_id) END,
			title = COALESCE($4, title),
			"order" = COALESCE($5, "order")
		WHERE id = $1`,
		id, upd.ClearCourse, upd.CourseID, upd.Title, upd.Order)
}

func (r *Repository) DeleteModule(ctx context.Context, id uuid.UUID) error {
	_, err := r.exec(ctx, "delete module", `DELETE FROM modules WHERE id = $1`, id)
	return err
}

// Template operations

const templateColumns = `id, title, author_id, blob_key, created_at`

func scanTemplate(row pgx.Row) (*simplelessons.Template, error) {
	var t simplelessons.Template
	if err := row.Scan(&t.ID, &t.Title, &t.AuthorID, &t.BlobKey, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository) CreateTemplate(ctx context.Context, tmpl *simplelessons.Template) error {
	_, err := r.exec(ctx, "create template",
		`INSERT INTO templates (`+templateColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		tmpl.ID, tmpl.Title, tmpl.AuthorID, tmpl.BlobKey, tmpl.CreatedAt)
	return err
}

func (r *Repository) GetTemplate(ctx context.Context, id uuid.UUID) (*simplelessons.Template, error) {
	return getOne(ctx, r.db, "get template", simplelessons.ErrTemplateNotFound, scanTemplate,
		`SELECT `+templateColumns+` FROM templates WHERE id = $1`, id)
}

func (r *Repository) ListTemplates(ctx context.Context, filter simplelessons.TemplateFilter) ([]*simplelessons.Template, error) {
	return list(ctx, r.db, "list templates", scanTemplate, `
		SELECT `+templateColumns+` FROM templates
		WHERE ($1::uuid IS NULL OR author_id = $1::uuid)
		ORDER BY created_at DESC`,
		nullableID(filter.AuthorID))
}

func (r *Repository) UpdateTemplate(ctx context.Context, id uuid.UUID, upd simplelessons.TemplateUpdate) (bool, error) {
	return r.update(ctx, "update template", `
		UPDATE templates SET
			title = COALESCE($2, title),
			blob_key = COALESCE($3, blob_key)
		WHERE id = $1`,
		id, upd.Title, upd.BlobKey)
}

func (r *Repository) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	_, err := r.exec(ctx, "delete template", `DELETE FROM templates WHERE id = $1`, id)
	return err
}

// Lesson operations

const lessonColumns = `l.id, l.title, l.module_id, l.author_id, l.blob_key, l.created_at, l.creation_prompt, l.template_id`

func scanLesson(row pgx.Row) (*simplelessons.Lesson, error) {
	var l simplelessons.Lesson
	err := row.Scan(&l.ID, &l.Title, &l.ModuleID, &l.AuthorID, &l.BlobKey, &l.CreatedAt, &l.CreationPrompt, &l.TemplateID)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *Repository) CreateLesson(ctx context.Context, lesson *simplelessons.Lesson) error {
	_, err := r.exec(ctx, "create lesson", `
		INSERT INTO lessons (id, title, module_id, author_id, blob_key, created_at, creation_prompt, template_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		lesson.ID, lesson.Title, lesson.ModuleID, lesson.AuthorID, lesson.BlobKey,
		lesson.CreatedAt, lesson.CreationPrompt, lesson.TemplateID)
	return err
}

func (r *Repository) GetLesson(ctx context.Context, id uuid.UUID) (*simplelessons.Lesson, error) {
	return getOne(ctx, r.db, "get lesson", simplelessons.ErrLessonNotFound, scanLesson,
		`SELECT `+lessonColumns+` FROM lessons l WHERE l.id = $1`, id)
}

func (r *Repository) ListLessons(ctx context.Context, filter simplelessons.LessonFilter) ([]*simplelessons.Lesson, error) {
	return list(ctx, r.db, "list lessons", scanLesson, `
		SELECT `+lessonColumns+`
		FROM lessons l
		LEFT JOIN modules m ON l.module_id = m.id
		WHERE ($1::uuid IS NULL OR l.author_id = $1::uuid)
		  AND ($2::uuid IS NULL OR l.template_id = $2::uuid)
		  AND ($3::uuid IS NULL OR l.module_id = $3::uuid)
		  AND ($4::uuid IS NULL OR m.course_id = $4::uuid)
		ORDER BY l.created_at DESC`,
		nullableID(filter.AuthorID), nullableID(filter.TemplateID),
		nullableID(filter.ModuleID), nullableID(filter.CourseID))
}

func (r *Repository) UpdateLesson(ctx context.Context, id uuid.UUID, upd simplelessons.LessonUpdate) (bool, error) {
	return r.update(ctx, "update lesson", `
		UPDATE lessons SET
			title = COALESCE($2, title),
			module_id = CASE WHEN $3::boolean THEN NULL ELSE COALESCE($4::uuid, module_id) END,
			blob_key = COALESCE($5, blob_key),
			creation_prompt = COALESCE($6, creation_prompt)
		WHERE id = $1`,
		id, upd.Title, upd.ClearModule, upd.ModuleID, upd.BlobKey, upd.CreationPrompt)
}

func (r *Repository) DeleteLesson(ctx context.Context, id uuid.UUID) error {
	_, err := r.exec(ctx, "delete lesson", `DELETE FROM lessons WHERE id = $1`, id)
	return err
}

// Prompt history operations

const promptColumns = `id, lesson_id, prompt_text, updated_at`

func scanPrompt(row pgx.Row) (*simplelessons.PromptHistory, error) {
	var p simplelessons.PromptHistory
	if err := row.Scan(&p.ID, &p.LessonID, &p.PromptText, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) CreatePromptHistory(ctx context.Context, entry *simplelessons.PromptHistory) error {
	_, err := r.exec(ctx, "create prompt history",
		`INSERT INTO lesson_prompt_history (`+promptColumns+`) VALUES ($1, $2, $3, $4)`,
		entry.ID, entry.LessonID, entry.PromptText, entry.UpdatedAt)
	return err
}

func (r *Repository) GetPromptHistory(ctx context.Context, id uuid.UUID) (*simplelessons.PromptHistory, error) {
	return getOne(ctx, r.db, "get prompt history", simplelessons.ErrPromptHistoryNotFound, scanPrompt,
		`SELECT `+promptColumns+` FROM lesson_prompt_history WHERE id = $1`, id)
}

func (r *Repository) ListPromptHistory(ctx context.Context, lessonID uuid.UUID) ([]*simplelessons.PromptHistory, error) {
	return list(ctx, r.db, "list prompt history", scanPrompt,
		`SELECT `+promptColumns+` FROM lesson_prompt_history WHERE lesson_id = $1 ORDER BY updated_at`,
		lessonID)
}

func (r *Repository) UpdatePromptHistory(ctx context.Context, id uuid.UUID, promptText string) (bool, error) {
	return r.update(ctx, "update prompt history",
		`UPDATE lesson_prompt_history SET prompt_text = $2, updated_at = now() WHERE id = $1`,
		id, promptText)
}

func (r *Repository) DeletePromptHistory(ctx context.Context, id uuid.UUID) error {
	_, err := r.exec(ctx, "delete prompt history", `DELETE FROM lesson_prompt_history WHERE id = $1`, id)
	return err
}

// Derived view

func scanLessonDetail(row pgx.Row) (*simplelessons.LessonDetail, error) {
	var d simplelessons.LessonDetail
	err := row.Scan(&d.LessonID, &d.LessonTitle, &d.CreatedAt, &d.AuthorNick, &d.ModuleTitle, &d.CourseTitle, &d.TemplateTitle)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Repository) ListLessonDetails(ctx context.Context, filter simplelessons.LessonDetailFilter) ([]*simplelessons.LessonDetail, error) {
	return list(ctx, r.db, "list lesson details", scanLessonDetail, `
		SELECT lesson_id, lesson_title, created_at, author_nick, module_title, course_title, template_title
		FROM view_lessons_detailed
		WHERE ($1::text = '' OR author_nick = $1::text)
		ORDER BY created_at DESC`,
		filter.AuthorNick)
}

// ListBlobKeys returns every blob key referenced by a live template or lesson
func (r *Repository) ListBlobKeys(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT blob_key FROM templates
		UNION ALL
		SELECT blob_key FROM lessons
		ORDER BY 1`)
	if err != nil {
		return nil, handlePostgresError("list blob keys", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, handlePostgresError("list blob keys", err)
	}
	return keys, nil
}

var _ simplelessons.Repository = (*Repository)(nil)
