package common

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestAppErrorMatchesSentinel(t *testing.T) {
	err := WrapError(NotFoundf("record '%s' not found", "r1"), "page r1/p1.png")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "page r1/p1.png: NOT_FOUND: record 'r1' not found: resource not found", err.Error())

	eng := EngineError("tesseract: no tessdata", errors.New("exit status 1"))
	assert.ErrorIs(t, eng, ErrEngine)
	assert.ErrorContains(t, eng, "exit status 1")

	q := QueueError("enqueue job", context.DeadlineExceeded)
	assert.ErrorIs(t, q, ErrQueue)
	assert.ErrorIs(t, q, context.DeadlineExceeded)
}

func TestMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("disk full"), "disk full"},
		{"app error", Validationf("item '%s' has no boxes", "r1/p1.png"), "item 'r1/p1.png' has no boxes"},
		{"wrapped", WrapError(WrapError(InvalidStatef("job is failed"), "retry"), "api"), "api: retry: job is failed"},
		{"wrapped plain", WrapError(context.Canceled, "page p1"), "page p1: context canceled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Message(tt.err))
		})
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{NotFoundf("job x not found"), codes.NotFound},
		{InvalidInputf("bad"), codes.InvalidArgument},
		{Validationf("bad label"), codes.InvalidArgument},
		{InvalidStatef("still running"), codes.FailedPrecondition},
		{QueueError("enqueue", errors.New("full")), codes.Unavailable},
		{EngineError("boom", nil), codes.Internal},
		{errors.New("?"), codes.Internal},
		{status.Error(codes.PermissionDenied, "no"), codes.PermissionDenied},
		{InternalError("export is not configured"), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(ToStatus(tt.err)), tt.err.Error())
	}
	assert.NoError(t, ToStatus(nil))

	st, _ := status.FromError(ToStatus(WrapError(NotFoundf("job 1 not found"), "get")))
	assert.Equal(t, "get: job 1 not found", st.Message())
}
