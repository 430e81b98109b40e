package storage

import (
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeS3 struct {
	objects   map[string][]byte
	types     map[string]string
	createErr error
	policy    string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; ok {
		return &s3.HeadObjectOutput{}, nil
	}
	return nil, &types.NotFound{}
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) PutBucketPolicy(ctx context.Context, in *s3.PutBucketPolicyInput, optFns ...func(*s3.Options)) (*s3.PutBucketPolicyOutput, error) {
	f.policy = aws.ToString(in.Policy)
	return &s3.PutBucketPolicyOutput{}, nil
}

func newTestS3Store(client s3API, publicBase string) *S3Store {
	return &S3Store{client: client, bucket: "invoices", region: "ap-south-1", publicBaseURL: publicBase, logger: zap.NewNop()}
}

func TestS3Store_Upload(t *testing.T) {
	client := newFakeS3()
	s := newTestS3Store(client, "")

	require.NoError(t, s.Upload(context.Background(), "invoices/invoice-1.pdf", "application/pdf", []byte("%PDF"), true))
	assert.Equal(t, []byte("%PDF"), client.objects["invoices/invoice-1.pdf"])
	assert.Equal(t, "application/pdf", client.types["invoices/invoice-1.pdf"])

	// upsert replaces
	require.NoError(t, s.Upload(context.Background(), "invoices/invoice-1.pdf", "application/pdf", []byte("%PDF-2"), true))
	assert.Equal(t, []byte("%PDF-2"), client.objects["invoices/invoice-1.pdf"])

	// without upsert an existing key is refused
	assert.Error(t, s.Upload(context.Background(), "invoices/invoice-1.pdf", "application/pdf", []byte("x"), false))
	require.NoError(t, s.Upload(context.Background(), "invoices/invoice-2.pdf", "application/pdf", []byte("y"), false))
}

func TestS3Store_PublicURL(t *testing.T) {
	assert.Equal(t, "https://invoices.s3.ap-south-1.amazonaws.com/invoices/invoice-1.pdf",
		newTestS3Store(newFakeS3(), "").PublicURL("invoices/invoice-1.pdf"))
	assert.Equal(t, "https://cdn.redgarden.in/invoices/invoice-1.pdf",
		newTestS3Store(newFakeS3(), "https://cdn.redgarden.in").PublicURL("invoices/invoice-1.pdf"))
}

func TestS3Store_EnsureBucket(t *testing.T) {
	client := newFakeS3()
	s := newTestS3Store(client, "")
	require.NoError(t, s.EnsureBucket(context.Background(), true))
	assert.Contains(t, client.policy, "arn:aws:s3:::invoices/*")

	client = newFakeS3()
	client.createErr = &types.BucketAlreadyOwnedByYou{}
	s = newTestS3Store(client, "")
	require.NoError(t, s.EnsureBucket(context.Background(), false))
	assert.Empty(t, client.policy)
}
