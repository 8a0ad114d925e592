package repository

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

var (
	// OcrJobColumns holds the columns for the "ocr_job" table. Timestamps
	// are fixed-width UTC text so ordering works the same on every backend.
	OcrJobColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 36},
		{Name: "workspace", Type: field.TypeString},
		{Name: "record", Type: field.TypeString},
		{Name: "record_title", Type: field.TypeString, Default: ""},
		{Name: "item", Type: field.TypeString, Default: ""},
		{Name: "job_type", Type: field.TypeString},
		{Name: "status", Type: field.TypeString},
		{Name: "progress", Type: field.TypeInt, Default: 0},
		{Name: "queue_ref", Type: field.TypeString, Default: ""},
		{Name: "error_message", Type: field.TypeString, Size: 2147483647, Default: ""},
		{Name: "payload", Type: field.TypeString, Size: 2147483647, Nullable: true},
		{Name: "created_by", Type: field.TypeString, Default: ""},
		{Name: "created_at", Type: field.TypeString},
		{Name: "updated_at", Type: field.TypeString},
		{Name: "started_at", Type: field.TypeString, Nullable: true},
		{Name: "finished_at", Type: field.TypeString, Nullable: true},
	}
	// OcrJobTable holds the schema information for the "ocr_job" table.
	OcrJobTable = &schema.Table{
		Name:       jobTable,
		Columns:    OcrJobColumns,
		PrimaryKey: []*schema.Column{OcrJobColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "ocrjob_status_updated_at",
				Unique:  false,
				Columns: []*schema.Column{OcrJobColumns[6], OcrJobColumns[13]},
			},
			{
				Name:    "ocrjob_created_at",
				Unique:  false,
				Columns: []*schema.Column{OcrJobColumns[12]},
			},
		},
	}
	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		OcrJobTable,
	}
)
