package repository

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/ocrjobs/constants"
	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/entity"
)

// ErrUnchanged may be returned by an Update mutator to skip the write.
var ErrUnchanged = errors.New("job unchanged")

// Mutator edits a job inside an atomic read-modify-write.
type Mutator func(job *entity.Job) error

// JobFilter narrows List. Zero values mean no constraint.
type JobFilter struct {
	Status        constants.JobStatus
	Statuses      []constants.JobStatus
	UpdatedBefore time.Time
	Limit         int
}

type JobRepository interface {
	Create(ctx context.Context, spec entity.JobSpec) (*entity.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	List(ctx context.Context, filter JobFilter) ([]*entity.Job, error)
	Update(ctx context.Context, id uuid.UUID, mutate Mutator) (*entity.Job, error)
	Clear(ctx context.Context, statuses ...constants.JobStatus) (int, error)
	Stats(ctx context.Context) (map[constants.JobStatus]int, error)
	Ping(ctx context.Context) error
	Close() error
}

const jobTable = "ocr_job"

// timeLayout is fixed width so lexical order of stored values is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var jobColumns = []string{
	"id", "workspace", "record", "record_title", "item", "job_type", "status",
	"progress", "queue_ref", "error_message", "payload", "created_by",
	"created_at", "updated_at", "started_at", "finished_at",
}

type sqlJobRepo struct {
	drv     *sql.Driver
	log     *slog.Logger
	onClose func()
	now     func() time.Time
}

func newSQLJobRepository(drv *sql.Driver, log *slog.Logger, onClose func()) *sqlJobRepo {
	if log == nil {
		log = slog.Default()
	}
	return &sqlJobRepo{drv: drv, log: log, onClose: onClose, now: time.Now}
}

// NewSQLJobRepository wraps an already opened database. dialectName is one of
// entgo.io/ent/dialect's names (dialect.SQLite, dialect.Postgres). A sqlite
// database must have the foreign_keys pragma on.
func NewSQLJobRepository(ctx context.Context, db *stdsql.DB, dialectName string, log *slog.Logger) (JobRepository, error) {
	r := newSQLJobRepository(sql.OpenDB(dialectName, db), log, nil)
	if err := r.migrate(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *sqlJobRepo) builder() *sql.DialectBuilder {
	return sql.Dialect(r.drv.Dialect())
}

// migrate creates the ocr_job table and its indexes, or brings an existing
// table up to date. Columns are never dropped.
func (r *sqlJobRepo) migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(r.drv)
	if err != nil {
		r.log.Error("ocr_job migrate failed", "err", err)
		return common.NewAppError(common.CodeDatabase, "prepare ocr_job migration", errors.Join(common.ErrDatabase, err))
	}
	if err := m.Create(ctx, Tables...); err != nil {
		r.log.Error("ocr_job migrate failed", "err", err)
		return common.NewAppError(common.CodeDatabase, "create ocr_job table", errors.Join(common.ErrDatabase, err))
	}
	return nil
}

func (r *sqlJobRepo) Create(ctx context.Context, spec entity.JobSpec) (*entity.Job, error) {
	job := entity.NewJob(spec, r.now().UTC())
	payload, err := encodePayload(job.Payload)
	if err != nil {
		return nil, err
	}
	query, args := r.builder().Insert(jobTable).
		Columns(jobColumns...).
		Values(
			job.ID.String(), job.WorkspaceRef, job.RecordRef, job.RecordTitle, job.ItemRef,
			string(job.JobType), string(job.Status), job.Progress, job.QueueRef, job.Error,
			payload, job.CreatedBy, formatTime(job.CreatedAt), formatTime(job.UpdatedAt),
			formatTimePtr(job.StartedAt), formatTimePtr(job.FinishedAt),
		).
		Query()
	if err := r.drv.Exec(ctx, query, args, nil); err != nil {
		r.log.Error("ocr_job create failed", "workspace", spec.WorkspaceRef, "record", spec.RecordRef, "err", err)
		return nil, dbError("create job", err)
	}
	r.log.Info("ocr_job created", "job_id", job.ID, "job_type", job.JobType, "workspace", job.WorkspaceRef, "record", job.RecordRef)
	return job, nil
}

func (r *sqlJobRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	query, args := r.builder().Select(jobColumns...).
		From(sql.Table(jobTable)).
		Where(sql.EQ("id", id.String())).
		Query()
	jobs, err := r.query(ctx, r.drv, query, args)
	if err != nil {
		r.log.Error("ocr_job get failed", "job_id", id, "err", err)
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, common.NotFoundf("job %s not found", id)
	}
	return jobs[0], nil
}

func (r *sqlJobRepo) List(ctx context.Context, filter JobFilter) ([]*entity.Job, error) {
	sel := r.builder().Select(jobColumns...).From(sql.Table(jobTable))
	if preds := filterPredicates(filter); len(preds) > 0 {
		sel.Where(sql.And(preds...))
	}
	sel.OrderBy(sql.Desc("created_at"), sql.Desc("id"))
	if filter.Limit > 0 {
		sel.Limit(filter.Limit)
	}
	query, args := sel.Query()
	jobs, err := r.query(ctx, r.drv, query, args)
	if err != nil {
		r.log.Error("ocr_job list failed", "status", filter.Status, "err", err)
		return nil, err
	}
	return jobs, nil
}

// Update runs mutate against the current row inside one transaction. On
// postgres the row is locked with SELECT ... FOR UPDATE; sqlite holds a
// single connection and an immediate transaction, which already excludes
// other writers.
func (r *sqlJobRepo) Update(ctx context.Context, id uuid.UUID, mutate Mutator) (*entity.Job, error) {
	tx, err := r.drv.Tx(ctx)
	if err != nil {
		return nil, dbError("begin tx", err)
	}
	job, err := r.updateTx(ctx, tx, id, mutate)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, ErrUnchanged) {
			return job, nil
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		r.log.Error("ocr_job update commit failed", "job_id", id, "err", err)
		return nil, dbError("commit", err)
	}
	r.log.Debug("ocr_job updated", "job_id", id, "status", job.Status, "progress", job.Progress)
	return job, nil
}

func (r *sqlJobRepo) updateTx(ctx context.Context, tx dialect.Tx, id uuid.UUID, mutate Mutator) (*entity.Job, error) {
	sel := r.builder().Select(jobColumns...).
		From(sql.Table(jobTable)).
		Where(sql.EQ("id", id.String()))
	if r.drv.Dialect() == dialect.Postgres {
		sel.ForUpdate()
	}
	query, args := sel.Query()
	jobs, err := r.query(ctx, tx, query, args)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, common.NotFoundf("job %s not found", id)
	}
	job := jobs[0]
	if err := mutate(job); err != nil {
		return job, err
	}
	job.UpdatedAt = r.now().UTC()

	payload, err := encodePayload(job.Payload)
	if err != nil {
		return nil, err
	}
	upd, uargs := r.builder().Update(jobTable).
		Set("status", string(job.Status)).
		Set("progress", job.Progress).
		Set("queue_ref", job.QueueRef).
		Set("error_message", job.Error).
		Set("payload", payload).
		Set("record_title", job.RecordTitle).
		Set("updated_at", formatTime(job.UpdatedAt)).
		Set("started_at", formatTimePtr(job.StartedAt)).
		Set("finished_at", formatTimePtr(job.FinishedAt)).
		Where(sql.EQ("id", id.String())).
		Query()
	if err := tx.Exec(ctx, upd, uargs, nil); err != nil {
		r.log.Error("ocr_job update failed", "job_id", id, "err", err)
		return nil, dbError("update job", err)
	}
	return job, nil
}

func (r *sqlJobRepo) Clear(ctx context.Context, statuses ...constants.JobStatus) (int, error) {
	del := r.builder().Delete(jobTable)
	if len(statuses) > 0 {
		del.Where(sql.In("status", statusArgs(statuses)...))
	}
	query, args := del.Query()
	var res stdsql.Result
	if err := r.drv.Exec(ctx, query, args, &res); err != nil {
		r.log.Error("ocr_job clear failed", "statuses", statuses, "err", err)
		return 0, dbError("clear jobs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError("clear jobs", err)
	}
	r.log.Info("ocr_job cleared", "statuses", statuses, "deleted", n)
	return int(n), nil
}

func (r *sqlJobRepo) Stats(ctx context.Context) (map[constants.JobStatus]int, error) {
	query, args := r.builder().Select("status", sql.Count("*")).
		From(sql.Table(jobTable)).
		GroupBy("status").
		Query()
	var rows sql.Rows
	if err := r.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, dbError("job stats", err)
	}
	defer rows.Close()

	out := make(map[constants.JobStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, dbError("scan job stats", err)
		}
		out[constants.JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("job stats", err)
	}
	return out, nil
}

func (r *sqlJobRepo) Ping(ctx context.Context) error {
	var rows sql.Rows
	if err := r.drv.Query(ctx, "SELECT 1", []any{}, &rows); err != nil {
		return dbError("ping", err)
	}
	return rows.Close()
}

func (r *sqlJobRepo) Close() error {
	err := r.drv.Close()
	if r.onClose != nil {
		r.onClose()
	}
	return err
}

func (r *sqlJobRepo) query(ctx context.Context, q dialect.ExecQuerier, query string, args []any) ([]*entity.Job, error) {
	var rows sql.Rows
	if err := q.Query(ctx, query, args, &rows); err != nil {
		return nil, dbError("query jobs", err)
	}
	defer rows.Close()

	var out []*entity.Job
	for rows.Next() {
		job, err := scanJob(&rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("query jobs", err)
	}
	return out, nil
}

func filterPredicates(f JobFilter) []*sql.Predicate {
	var preds []*sql.Predicate
	if f.Status != "" {
		preds = append(preds, sql.EQ("status", string(f.Status)))
	}
	if len(f.Statuses) > 0 {
		preds = append(preds, sql.In("status", statusArgs(f.Statuses)...))
	}
	if !f.UpdatedBefore.IsZero() {
		preds = append(preds, sql.LT("updated_at", formatTime(f.UpdatedBefore)))
	}
	return preds
}

func statusArgs(statuses []constants.JobStatus) []any {
	out := make([]any, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func scanJob(rows *sql.Rows) (*entity.Job, error) {
	var (
		id, workspace, record, title, item, jobType, status string
		progress                                             int
		queueRef, errMsg, createdBy                          string
		payload, startedAt, finishedAt                       stdsql.NullString
		createdAt, updatedAt                                 string
	)
	if err := rows.Scan(
		&id, &workspace, &record, &title, &item, &jobType, &status,
		&progress, &queueRef, &errMsg, &payload, &createdBy,
		&createdAt, &updatedAt, &startedAt, &finishedAt,
	); err != nil {
		return nil, dbError("scan job", err)
	}

	job := &entity.Job{
		WorkspaceRef: workspace,
		RecordRef:    record,
		RecordTitle:  title,
		ItemRef:      item,
		JobType:      constants.JobType(jobType),
		Status:       constants.JobStatus(status),
		Progress:     progress,
		QueueRef:     queueRef,
		Error:        errMsg,
		CreatedBy:    createdBy,
	}
	var err error
	if job.ID, err = uuid.Parse(id); err != nil {
		return nil, dbError("scan job id", err)
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if job.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if job.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return nil, err
	}
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &job.Payload); err != nil {
			return nil, dbError("decode payload", err)
		}
	}
	return job, nil
}

func encodePayload(p map[string]any) (any, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, common.NewAppError(common.CodeValidation, "payload is not JSON serializable", errors.Join(common.ErrValidation, err))
	}
	return string(b), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, dbError("parse time", err)
	}
	return t, nil
}

func parseTimePtr(s stdsql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func dbError(op string, err error) error {
	return common.NewAppError(common.CodeDatabase, op, errors.Join(common.ErrDatabase, err))
}
