// Package pinning uploads project documents to content-addressed storage
// before any ledger write references them.
package pinning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"blue-carbon/registry-portal/registry-portal-backend/internal/failure"
	"blue-carbon/registry-portal/registry-portal-backend/pkg/storage"
)

// ErrNoDocuments is returned by Pin when called without files.
var ErrNoDocuments = errors.New("no documents supplied")

const (
	DefaultConcurrency = 4
	DefaultHistorySize = 50
)

// File is one document to pin.
type File struct {
	Name string `json:"name"`
	Data []byte `json:"-"`
}

// Upload records a successful pin.
type Upload struct {
	Name       string    `json:"name"`
	ContentID  string    `json:"contentId"`
	Size       int       `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Failure records a file that could not be pinned.
type Failure struct {
	Name  string         `json:"name"`
	Error *failure.Error `json:"error"`
}

// Result of a Pin call. ContentID is the primary reference: the first
// successful upload in input order.
type Result struct {
	ContentID   string    `json:"contentId"`
	Uploads     []Upload  `json:"uploads"`
	Failures    []Failure `json:"failures,omitempty"`
	FailedCount int       `json:"failedCount"`
}

type Options struct {
	Concurrency int
	Retry       failure.RetryPolicy
	HistorySize int
	Clock       func() time.Time
}

// Coordinator pins documents concurrently with bounded retries.
type Coordinator struct {
	store   storage.ContentStore
	opts    Options
	history *lru.Cache[string, Upload]
	logger  *zap.Logger
}

func NewCoordinator(store storage.ContentStore, opts Options, logger *zap.Logger) (*Coordinator, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = failure.DefaultRetryPolicy()
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	history, err := lru.New[string, Upload](opts.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("create upload history: %w", err)
	}
	return &Coordinator{store: store, opts: opts, history: history, logger: logger}, nil
}

type outcome struct {
	upload Upload
	err    *failure.Error
}

// Pin uploads files and returns the primary content id. Partial failure
// still succeeds with FailedCount set. If every upload fails the first
// failure is returned along with the result.
func (c *Coordinator) Pin(ctx context.Context, files []File) (*Result, error) {
	if len(files) == 0 {
		return nil, ErrNoDocuments
	}

	outcomes := make([]outcome, len(files))
	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			outcomes[i] = c.pinOne(ctx, f)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{}
	var errs error
	for i, o := range outcomes {
		if o.err != nil {
			res.Failures = append(res.Failures, Failure{Name: files[i].Name, Error: o.err})
			errs = multierr.Append(errs, o.err)
			continue
		}
		if res.ContentID == "" {
			res.ContentID = o.upload.ContentID
		}
		res.Uploads = append(res.Uploads, o.upload)
		c.history.Add(o.upload.ContentID, o.upload)
	}
	res.FailedCount = len(res.Failures)

	if len(res.Uploads) == 0 {
		c.logger.Error("Failed to pin documents", zap.Int("files", len(files)), zap.Error(errs))
		return res, res.Failures[0].Error
	}
	if res.FailedCount > 0 {
		c.logger.Warn("Some documents failed to pin",
			zap.Int("failed", res.FailedCount),
			zap.String("primary_cid", res.ContentID),
			zap.Error(errs))
	} else {
		c.logger.Info("Documents pinned",
			zap.Int("files", len(files)),
			zap.String("primary_cid", res.ContentID))
	}
	return res, nil
}

func (c *Coordinator) pinOne(ctx context.Context, f File) outcome {
	var id string
	err := failure.Retry(ctx, c.opts.Retry, func(ctx context.Context) error {
		got, err := c.store.Upload(ctx, f.Name, bytes.NewReader(f.Data))
		if err != nil {
			return err
		}
		if _, err := storage.ParseCID(got); err != nil {
			return fmt.Errorf("store returned invalid content id for %s: %w", f.Name, err)
		}
		id = got
		return nil
	})
	if err != nil {
		return outcome{err: failure.Classify(err)}
	}
	return outcome{upload: Upload{
		Name:       f.Name,
		ContentID:  id,
		Size:       len(f.Data),
		UploadedAt: c.opts.Clock(),
	}}
}

// History returns the most recent uploads, newest first. It is advisory
// only.
func (c *Coordinator) History() []Upload {
	keys := c.history.Keys()
	out := make([]Upload, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if u, ok := c.history.Peek(keys[i]); ok {
			out = append(out, u)
		}
	}
	return out
}
