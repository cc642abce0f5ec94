package s3blob

import (
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

func TestClientConfigValidate(t *testing.T) {
	assert.NoError(t, ClientConfig{Bucket: "b", Region: "r"}.validate())
	assert.EqualError(t, ClientConfig{}.validate(), "s3blob: bucket and region required")
	assert.EqualError(t, ClientConfig{Bucket: "b"}.validate(), "s3blob: region required")
}

func TestS3Options(t *testing.T) {
	var o s3.Options
	ClientConfig{Endpoint: "minio:9000", ForcePathStyle: true}.s3Options(&o)
	assert.Equal(t, "http://minio:9000", aws.ToString(o.BaseEndpoint))
	assert.True(t, o.UsePathStyle)

	var plain s3.Options
	ClientConfig{}.s3Options(&plain)
	assert.Nil(t, plain.BaseEndpoint)
	assert.False(t, plain.UsePathStyle)
}

func TestIsNotFound_TypedErrors(t *testing.T) {
	assert.False(t, isNotFound(nil))
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(fmt.Errorf("head: %w", &types.NotFound{})))
}

func TestSortNewestFirst(t *testing.T) {
	infos := []domain.BlobInfo{
		{Path: "trades/2024/05/01/1.jsonl"},
		{Path: "trades/2024/05/02/3.jsonl"},
		{Path: "trades/2024/05/02/2.jsonl"},
	}
	sortNewestFirst(infos)
	assert.Equal(t, "trades/2024/05/02/3.jsonl", infos[0].Path)
	assert.Equal(t, "trades/2024/05/02/2.jsonl", infos[1].Path)
	assert.Equal(t, "trades/2024/05/01/1.jsonl", infos[2].Path)
}
