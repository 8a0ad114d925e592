package server

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/entity"
)

// JobSnapshot is the wire form of a job. Absent optional values are null,
// never empty strings, and payload is always an object.
func JobSnapshot(job *entity.Job) map[string]any {
	payload := job.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return map[string]any{
		"id":           job.ID.String(),
		"job_type":     string(job.JobType),
		"status":       string(job.Status),
		"progress":     job.Progress,
		"workspace":    job.WorkspaceRef,
		"record":       job.RecordRef,
		"record_title": job.RecordTitle,
		"item":         nullIfEmpty(job.ItemRef),
		"created_by":   nullIfEmpty(job.CreatedBy),
		"created_at":   job.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":   job.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"started_at":   timeOrNull(job.StartedAt),
		"finished_at":  timeOrNull(job.FinishedAt),
		"queue_ref":    nullIfEmpty(job.QueueRef),
		"error":        nullIfEmpty(job.Error),
		"payload":      payload,
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timeOrNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// toStruct goes through JSON so payload values of any encodable type survive.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, common.WrapError(err, "encode response")
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, common.WrapError(err, "encode response")
	}
	return out, nil
}

func jobResponse(job *entity.Job) (*structpb.Struct, error) {
	return toStruct(map[string]any{"job": JobSnapshot(job)})
}

func stringField(req *structpb.Struct, key string) string {
	return strings.TrimSpace(req.GetFields()[key].GetStringValue())
}

// intField truncates; a missing or non-numeric field is 0.
func intField(req *structpb.Struct, key string) int {
	return int(req.GetFields()[key].GetNumberValue())
}

func stringList(req *structpb.Struct, key string) []string {
	values := req.GetFields()[key].GetListValue().GetValues()
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v.GetStringValue()))
	}
	return out
}

func jobID(req *structpb.Struct) (uuid.UUID, error) {
	raw := stringField(req, "id")
	validator := common.NewValidator()
	validator.Field("id", raw, common.Required)
	if raw != "" {
		validator.Field("id", raw, common.UUID)
	}
	if err := common.ValidateAndReturnError(validator); err != nil {
		return uuid.Nil, err
	}
	return uuid.MustParse(raw), nil
}
