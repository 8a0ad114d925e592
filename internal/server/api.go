package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ocrjobs.v1.JobsService"

// JobsAPI is the server side of ocrjobs.v1.JobsService. Requests are JSON
// objects carried as google.protobuf.Struct.
type JobsAPI interface {
	CreateJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListJobs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RetryJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CancelJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ClearJobs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ExportRecord(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error)
}

var JobsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*JobsAPI)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateJob", JobsAPI.CreateJob),
		unary("ListJobs", JobsAPI.ListJobs),
		unary("GetJob", JobsAPI.GetJob),
		unary("RetryJob", JobsAPI.RetryJob),
		unary("CancelJob", JobsAPI.CancelJob),
		unary("ClearJobs", JobsAPI.ClearJobs),
		unary("ExportRecord", JobsAPI.ExportRecord),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ocrjobs/v1/jobs.proto",
}

func RegisterJobsServer(s grpc.ServiceRegistrar, srv JobsAPI) {
	s.RegisterService(&JobsServiceDesc, srv)
}

func unary[R proto.Message](name string, call func(JobsAPI, context.Context, *structpb.Struct) (R, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(JobsAPI), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(JobsAPI), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Client calls JobsService and decodes responses into plain maps.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// CreateJobRequest mirrors the CreateJob request fields.
type CreateJobRequest struct {
	Workspace string
	Record    string
	Item      string
	JobType   string
	CreatedBy string
}

func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (map[string]any, error) {
	return c.job(ctx, "CreateJob", map[string]any{
		"workspace":  req.Workspace,
		"record":     req.Record,
		"item":       req.Item,
		"job_type":   req.JobType,
		"created_by": req.CreatedBy,
	})
}

func (c *Client) ListJobs(ctx context.Context, status string, limit int) ([]map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "ListJobs", map[string]any{"status": status, "limit": limit}, out); err != nil {
		return nil, err
	}
	list := out.GetFields()["jobs"].GetListValue().GetValues()
	jobs := make([]map[string]any, 0, len(list))
	for _, v := range list {
		jobs = append(jobs, v.GetStructValue().AsMap())
	}
	return jobs, nil
}

func (c *Client) GetJob(ctx context.Context, id string) (map[string]any, error) {
	return c.job(ctx, "GetJob", map[string]any{"id": id})
}

func (c *Client) RetryJob(ctx context.Context, id string) (map[string]any, error) {
	return c.job(ctx, "RetryJob", map[string]any{"id": id})
}

func (c *Client) CancelJob(ctx context.Context, id string) (map[string]any, error) {
	return c.job(ctx, "CancelJob", map[string]any{"id": id})
}

// ClearJobs deletes jobs in the given statuses, every terminal job when none
// are given, and returns how many were removed.
func (c *Client) ClearJobs(ctx context.Context, statuses ...string) (int, error) {
	list := make([]any, len(statuses))
	for i, s := range statuses {
		list[i] = s
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "ClearJobs", map[string]any{"statuses": list}, out); err != nil {
		return 0, err
	}
	return int(out.GetFields()["deleted"].GetNumberValue()), nil
}

// ExportRecord returns the XLSX workbook for a record.
func (c *Client) ExportRecord(ctx context.Context, workspace, record string) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.invoke(ctx, "ExportRecord", map[string]any{"workspace": workspace, "record": record}, out); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

func (c *Client) job(ctx context.Context, method string, in map[string]any) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out.GetFields()["job"].GetStructValue().AsMap(), nil
}

func (c *Client) invoke(ctx context.Context, method string, in map[string]any, out proto.Message) error {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out)
}
