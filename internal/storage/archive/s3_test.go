// internal/storage/archive/s3_test.go
package archive

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3Storage_ImplementsStorage(t *testing.T) {
	var _ Storage = (*S3Storage)(nil)
}

func TestS3Storage_Key(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		want   string
	}{
		{"", "file.txt", "file.txt"},
		{"archive", "file.txt", "archive/file.txt"},
		{"archive/", "file.txt", "archive/file.txt"},
		{"/archive/", "/plans/R20250101-1.json", "archive/plans/R20250101-1.json"},
	}

	for _, tt := range tests {
		s, err := NewS3(S3Config{Bucket: "b", Prefix: tt.prefix})
		require.NoError(t, err)
		assert.Equal(t, tt.want, s.key(tt.path), "prefix %q", tt.prefix)
	}
}

func TestS3Storage_Relative(t *testing.T) {
	s := &S3Storage{prefix: "prod"}
	assert.Equal(t, "reports/2025/a.json", s.relative("prod/reports/2025/a.json"))

	bare := &S3Storage{}
	assert.Equal(t, "reports/2025/a.json", bare.relative("reports/2025/a.json"))
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(S3Config{})
	assert.Error(t, err)
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"typed no such key", &types.NoSuchKey{}, true},
		{"typed not found", fmt.Errorf("head: %w", &types.NotFound{}), true},
		{"generic 404 code", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isNotFound(tt.err))
		})
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", contentType("plans/R1.json"))
	assert.Equal(t, "text/csv", contentType("sim/transactions.csv"))
	assert.Equal(t, "text/plain; charset=utf-8", contentType("reports/summary.txt"))
}
