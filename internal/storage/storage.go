// Package storage puts rendered images somewhere durable and returns the URL
// clients load them from.
package storage

import (
	"context"
	"fmt"
	"strings"
)

// Object is a stored blob.
type Object struct {
	Key string
	URL string
}

// Store is the durable storage collaborator.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (Object, error)
	Delete(ctx context.Context, key string) error
}

// ImageKey builds the object key of a task image.
func ImageKey(accountID, taskID string, variant int, contentType string) string {
	ext := ".png"
	switch contentType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/webp":
		ext = ".webp"
	case "image/gif":
		ext = ".gif"
	}
	account := strings.NewReplacer("/", "_", "..", "_").Replace(accountID)
	if variant > 0 {
		return fmt.Sprintf("recipes/%s/%s-v%d%s", account, taskID, variant, ext)
	}
	return fmt.Sprintf("recipes/%s/%s%s", account, taskID, ext)
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
