package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/joseph-ayodele/ocrjobs/constants"
	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/entity"
)

const (
	mongoDatabase     = "ocrjobs"
	mongoCollection   = "ocr_jobs"
	maxUpdateAttempts = 5
)

// jobDocument is the stored shape of a job. Version drives optimistic
// concurrency; payload is kept as JSON text so it reads back with the same
// types the SQL store produces.
type jobDocument struct {
	ID          string     `bson:"_id"`
	Workspace   string     `bson:"workspace"`
	Record      string     `bson:"record"`
	RecordTitle string     `bson:"record_title"`
	Item        string     `bson:"item"`
	JobType     string     `bson:"job_type"`
	Status      string     `bson:"status"`
	Progress    int        `bson:"progress"`
	QueueRef    string     `bson:"queue_ref"`
	Error       string     `bson:"error_message"`
	Payload     string     `bson:"payload,omitempty"`
	CreatedBy   string     `bson:"created_by"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
	StartedAt   *time.Time `bson:"started_at,omitempty"`
	FinishedAt  *time.Time `bson:"finished_at,omitempty"`
	Version     int64      `bson:"version"`
}

type mongoJobRepo struct {
	client *mongo.Client
	col    *mongo.Collection
	log    *slog.Logger
	now    func() time.Time
}

// OpenMongo connects to MongoDB and prepares the jobs collection.
func OpenMongo(ctx context.Context, cfg Config, logger *slog.Logger) (JobRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := options.Client().ApplyURI(cfg.DSN)
	if cfg.MaxConns > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxConns))
	}
	if cfg.MinConns > 0 {
		opts.SetMinPoolSize(uint64(cfg.MinConns))
	}
	if cfg.MaxConnIdleTime > 0 {
		opts.SetMaxConnIdleTime(cfg.MaxConnIdleTime)
	}
	if cfg.DialTimeout > 0 {
		opts.SetConnectTimeout(cfg.DialTimeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, dbError("connect mongo", err)
	}
	pingCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		logger.Error("failed to ping database", "error", err)
		return nil, dbError("ping mongo", err)
	}

	dbName := mongoDatabase
	if cs, err := connstring.ParseAndValidate(cfg.DSN); err == nil && cs.Database != "" {
		dbName = cs.Database
	}
	r := &mongoJobRepo{
		client: client,
		col:    client.Database(dbName).Collection(mongoCollection),
		log:    logger,
		now:    time.Now,
	}
	if err := r.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	logger.Info("successfully connected to database", "database", dbName)
	return r, nil
}

func (r *mongoJobRepo) ensureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}}},
	})
	if err != nil {
		r.log.Error("ocr_jobs index failed", "err", err)
		return dbError("create indexes", err)
	}
	return nil
}

func (r *mongoJobRepo) Create(ctx context.Context, spec entity.JobSpec) (*entity.Job, error) {
	job := entity.NewJob(spec, r.now().UTC())
	doc, err := toDocument(job)
	if err != nil {
		return nil, err
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		r.log.Error("ocr_job create failed", "workspace", spec.WorkspaceRef, "record", spec.RecordRef, "err", err)
		return nil, dbError("create job", err)
	}
	r.log.Info("ocr_job created", "job_id", job.ID, "job_type", job.JobType, "workspace", job.WorkspaceRef, "record", job.RecordRef)
	return job, nil
}

func (r *mongoJobRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	doc, err := r.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return fromDocument(doc)
}

func (r *mongoJobRepo) find(ctx context.Context, id uuid.UUID) (*jobDocument, error) {
	var doc jobDocument
	err := r.col.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, common.NotFoundf("job %s not found", id)
	}
	if err != nil {
		r.log.Error("ocr_job get failed", "job_id", id, "err", err)
		return nil, dbError("get job", err)
	}
	return &doc, nil
}

func (r *mongoJobRepo) List(ctx context.Context, filter JobFilter) ([]*entity.Job, error) {
	q := bson.M{}
	statuses := filter.Statuses
	if filter.Status != "" {
		statuses = []constants.JobStatus{filter.Status}
	}
	if len(statuses) > 0 {
		q["status"] = bson.M{"$in": statusArgs(statuses)}
	}
	if !filter.UpdatedBefore.IsZero() {
		q["updated_at"] = bson.M{"$lt": filter.UpdatedBefore.UTC()}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cur, err := r.col.Find(ctx, q, opts)
	if err != nil {
		r.log.Error("ocr_job list failed", "status", filter.Status, "err", err)
		return nil, dbError("list jobs", err)
	}
	defer cur.Close(ctx)

	var docs []jobDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, dbError("list jobs", err)
	}
	out := make([]*entity.Job, 0, len(docs))
	for i := range docs {
		job, err := fromDocument(&docs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

// Update reads the document, applies mutate and replaces it only if nobody
// else bumped its version meanwhile; otherwise it re-reads and tries again.
func (r *mongoJobRepo) Update(ctx context.Context, id uuid.UUID, mutate Mutator) (*entity.Job, error) {
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		doc, err := r.find(ctx, id)
		if err != nil {
			return nil, err
		}
		job, err := fromDocument(doc)
		if err != nil {
			return nil, err
		}
		if err := mutate(job); err != nil {
			if errors.Is(err, ErrUnchanged) {
				return job, nil
			}
			return nil, err
		}
		job.UpdatedAt = r.now().UTC()

		next, err := toDocument(job)
		if err != nil {
			return nil, err
		}
		next.Version = doc.Version + 1

		res, err := r.col.ReplaceOne(ctx, bson.M{"_id": doc.ID, "version": doc.Version}, next)
		if err != nil {
			r.log.Error("ocr_job update failed", "job_id", id, "err", err)
			return nil, dbError("update job", err)
		}
		if res.MatchedCount == 1 {
			r.log.Debug("ocr_job updated", "job_id", id, "status", job.Status, "progress", job.Progress)
			return job, nil
		}
		r.log.Debug("ocr_job update conflict, retrying", "job_id", id, "attempt", attempt)
	}
	return nil, common.NewAppError(common.CodeDatabase, "job update kept conflicting", common.ErrConflict)
}

func (r *mongoJobRepo) Clear(ctx context.Context, statuses ...constants.JobStatus) (int, error) {
	q := bson.M{}
	if len(statuses) > 0 {
		q["status"] = bson.M{"$in": statusArgs(statuses)}
	}
	res, err := r.col.DeleteMany(ctx, q)
	if err != nil {
		r.log.Error("ocr_job clear failed", "statuses", statuses, "err", err)
		return 0, dbError("clear jobs", err)
	}
	r.log.Info("ocr_job cleared", "statuses", statuses, "deleted", res.DeletedCount)
	return int(res.DeletedCount), nil
}

func (r *mongoJobRepo) Stats(ctx context.Context) (map[constants.JobStatus]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cur, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, dbError("job stats", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		Status string `bson:"_id"`
		Count  int    `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, dbError("job stats", err)
	}
	out := make(map[constants.JobStatus]int, len(rows))
	for _, row := range rows {
		out[constants.JobStatus(row.Status)] = row.Count
	}
	return out, nil
}

func (r *mongoJobRepo) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx, nil); err != nil {
		return dbError("ping", err)
	}
	return nil
}

func (r *mongoJobRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

func toDocument(job *entity.Job) (*jobDocument, error) {
	doc := &jobDocument{
		ID:          job.ID.String(),
		Workspace:   job.WorkspaceRef,
		Record:      job.RecordRef,
		RecordTitle: job.RecordTitle,
		Item:        job.ItemRef,
		JobType:     string(job.JobType),
		Status:      string(job.Status),
		Progress:    job.Progress,
		QueueRef:    job.QueueRef,
		Error:       job.Error,
		CreatedBy:   job.CreatedBy,
		CreatedAt:   job.CreatedAt.UTC(),
		UpdatedAt:   job.UpdatedAt.UTC(),
		StartedAt:   job.StartedAt,
		FinishedAt:  job.FinishedAt,
	}
	if job.Payload != nil {
		b, err := json.Marshal(job.Payload)
		if err != nil {
			return nil, common.NewAppError(common.CodeValidation, "payload is not JSON serializable", errors.Join(common.ErrValidation, err))
		}
		doc.Payload = string(b)
	}
	return doc, nil
}

func fromDocument(doc *jobDocument) (*entity.Job, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, dbError("decode job id", err)
	}
	job := &entity.Job{
		ID:           id,
		WorkspaceRef: doc.Workspace,
		RecordRef:    doc.Record,
		RecordTitle:  doc.RecordTitle,
		ItemRef:      doc.Item,
		JobType:      constants.JobType(doc.JobType),
		Status:       constants.JobStatus(doc.Status),
		Progress:     doc.Progress,
		QueueRef:     doc.QueueRef,
		Error:        doc.Error,
		CreatedBy:    doc.CreatedBy,
		CreatedAt:    doc.CreatedAt.UTC(),
		UpdatedAt:    doc.UpdatedAt.UTC(),
		StartedAt:    utcPtr(doc.StartedAt),
		FinishedAt:   utcPtr(doc.FinishedAt),
	}
	if doc.Payload != "" {
		if err := json.Unmarshal([]byte(doc.Payload), &job.Payload); err != nil {
			return nil, dbError("decode payload", err)
		}
	}
	return job, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
