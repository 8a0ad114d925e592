package server

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/ocrjobs/internal/common"
)

// ExportRecord returns the recognized shapes of a record as an XLSX workbook.
func (s *JobsService) ExportRecord(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
	ws, rec := stringField(req, "workspace"), stringField(req, "record")
	validator := common.NewValidator()
	validator.Field("workspace", ws, common.Required, common.PathSegment)
	validator.Field("record", rec, common.Required, common.PathSegment)
	if err := common.ValidateAndReturnError(validator); err != nil {
		return nil, s.fail(ctx, "export record", err)
	}

	if s.export == nil {
		return nil, common.InternalError("export is not configured")
	}
	xlsx, err := s.export.ExportRecordXLSX(ctx, ws, rec)
	if err != nil {
		return nil, s.fail(ctx, "export record", err)
	}
	return wrapperspb.Bytes(xlsx), nil
}
