package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	objects map[string][]byte
	lastPut *s3.PutObjectInput
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, _ := io.ReadAll(in.Body)
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[aws.ToString(in.Key)] = data
	f.lastPut = in
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	client := &fakeS3{}
	s := NewS3Store(client, "bucket", "state/")

	if _, err := s.Load(ctx, KeyScheduledMessages); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Save(ctx, KeyScheduledMessages, []byte(`[]`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := aws.ToString(client.lastPut.Key); got != "state/scheduled_messages.json" {
		t.Fatalf("unexpected object key %q", got)
	}
	if got := aws.ToString(client.lastPut.Bucket); got != "bucket" {
		t.Fatalf("unexpected bucket %q", got)
	}
	data, err := s.Load(ctx, KeyScheduledMessages)
	if err != nil || string(data) != `[]` {
		t.Fatalf("load: %q %v", data, err)
	}
}

type fakeDynamo struct {
	items  map[string]map[string]types.AttributeValue
	putErr error
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	if f.items == nil {
		f.items = map[string]map[string]types.AttributeValue{}
	}
	key := in.Item["storeKey"].(*types.AttributeValueMemberS).Value
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	key := in.Key["storeKey"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[key]}, nil
}

func TestDynamoStore(t *testing.T) {
	ctx := context.Background()
	client := &fakeDynamo{}
	s := NewDynamoStore(client, "message_store")
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	if _, err := s.Load(ctx, KeyAnalytics); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Save(ctx, KeyAnalytics, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	item := client.items[KeyAnalytics]
	if got := item["updatedAt"].(*types.AttributeValueMemberS).Value; got != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected updatedAt %q", got)
	}
	data, err := s.Load(ctx, KeyAnalytics)
	if err != nil || string(data) != `{"a":1}` {
		t.Fatalf("load: %q %v", data, err)
	}

	client.putErr = errors.New("throttled")
	if err := s.Save(ctx, KeyAnalytics, nil); err == nil {
		t.Fatalf("expected put error")
	}
}
