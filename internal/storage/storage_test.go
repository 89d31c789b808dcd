package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"mealgen/internal/domain"
	"mealgen/internal/external"
)

func TestImageKey(t *testing.T) {
	tests := []struct {
		account, task, mime string
		variant             int
		want                string
	}{
		{"acct", "job-01", "image/png", 0, "recipes/acct/job-01.png"},
		{"acct", "job-01", "image/jpeg", 2, "recipes/acct/job-01-v2.jpg"},
		{"../evil/acct", "job-02", "image/webp", 0, "recipes/__evil_acct/job-02.webp"},
	}
	for _, tc := range tests {
		if got := ImageKey(tc.account, tc.task, tc.variant, tc.mime); got != tc.want {
			t.Fatalf("ImageKey(%q) = %q, want %q", tc.account, got, tc.want)
		}
	}
}

func TestFileStorePutAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "http://localhost:8080/static/")
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}

	obj, err := store.Put(context.Background(), "recipes/acct/job-01.png", []byte("png"), "image/png")
	if err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if obj.URL != "http://localhost:8080/static/recipes/acct/job-01.png" {
		t.Fatalf("URL = %q", obj.URL)
	}
	data, err := os.ReadFile(filepath.Join(dir, "recipes", "acct", "job-01.png"))
	if err != nil || string(data) != "png" {
		t.Fatalf("file not written: %v", err)
	}

	if err := store.Delete(context.Background(), obj.Key); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if err := store.Delete(context.Background(), obj.Key); err != nil {
		t.Fatalf("second Delete should be a no-op, got %v", err)
	}
}

func TestFileStoreRejectsTraversalAsFatal(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	_, err = store.Put(context.Background(), "../../etc/passwd", []byte("x"), "image/png")
	if err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
	if external.Classify(err) != domain.StageStatusFatal {
		t.Fatalf("invalid key should be fatal, got %v", err)
	}
	if _, err := store.Put(context.Background(), "a.png", nil, "image/png"); external.Classify(err) != domain.StageStatusFatal {
		t.Fatalf("empty object should be fatal, got %v", err)
	}
}

type fakeS3 struct {
	puts    []*s3.PutObjectInput
	deletes []*s3.DeleteObjectInput
	err     error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, params)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deletes = append(f.deletes, params)
	return &s3.DeleteObjectOutput{}, f.err
}

func TestS3StorePut(t *testing.T) {
	fake := &fakeS3{}
	store := newS3Store(fake, "meals", "https://cdn.example.com/")

	obj, err := store.Put(context.Background(), "/recipes/acct/job-01.png", []byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if obj.URL != "https://cdn.example.com/recipes/acct/job-01.png" {
		t.Fatalf("URL = %q", obj.URL)
	}
	if len(fake.puts) != 1 {
		t.Fatalf("expected one PutObject call")
	}
	in := fake.puts[0]
	if *in.Bucket != "meals" || *in.Key != "recipes/acct/job-01.png" || *in.ContentType != "image/png" {
		t.Fatalf("unexpected input: bucket=%s key=%s", *in.Bucket, *in.Key)
	}
	body, _ := io.ReadAll(in.Body)
	if string(body) != "png-bytes" {
		t.Fatalf("body = %q", body)
	}
}

func TestS3StoreClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   domain.StageStatus
	}{
		{status: http.StatusForbidden, want: domain.StageStatusFatal},
		{status: http.StatusServiceUnavailable, want: domain.StageStatusRetryable},
	}
	for _, tc := range tests {
		respErr := &awshttp.ResponseError{
			ResponseError: &smithyhttp.ResponseError{
				Response: &smithyhttp.Response{Response: &http.Response{StatusCode: tc.status}},
				Err:      errors.New("api error"),
			},
		}
		store := newS3Store(&fakeS3{err: respErr}, "meals", "https://cdn.example.com")
		_, err := store.Put(context.Background(), "k.png", []byte("x"), "image/png")
		if got := external.Classify(err); got != tc.want {
			t.Fatalf("status %d classified %s, want %s", tc.status, got, tc.want)
		}
	}

	store := newS3Store(&fakeS3{err: errors.New("connection reset")}, "meals", "https://cdn.example.com")
	if err := store.Delete(context.Background(), "k.png"); external.Classify(err) != domain.StageStatusRetryable {
		t.Fatalf("network failure should be retryable, got %v", err)
	}
}
