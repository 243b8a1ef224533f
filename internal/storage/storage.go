package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyFile is returned when an upload has no content
var ErrEmptyFile = errors.New("storage: empty file")

// File is an attachment received with a request
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Object is the stored result of an upload. Key is opaque to callers.
type Object struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Store uploads and deletes binary objects
type Store interface {
	Upload(ctx context.Context, file *File, namespace string) (*Object, error)
	Delete(ctx context.Context, key string) error
}

// Options selects and configures a Store implementation
type Options struct {
	Driver          string // "s3" or "local"
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	LocalDir        string
	Timeout         time.Duration
}

// New builds the Store named by opts.Driver
func New(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Driver) {
	case "s3":
		return NewS3Store(ctx, opts)
	case "local", "":
		return NewLocalStore(opts.LocalDir)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

// NewKey returns a fresh object key under namespace, keeping the file extension
func NewKey(namespace, filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(filename, "\\", "/"))))
	if len(ext) > 10 || strings.ContainsAny(ext, " /") {
		ext = ""
	}
	namespace = strings.Trim(namespace, "/")
	if namespace == "" {
		return uuid.NewString() + ext
	}
	return namespace + "/" + uuid.NewString() + ext
}
