// Package source resolves sales import inputs into readable files.
//
// An input is one of:
//   - a local path: exports/sales-2024.csv
//   - a local doublestar glob: exports/**/*.csv
//   - an S3 object: s3://bucket/exports/sales-2024.csv
//   - an S3 glob: s3://bucket/exports/2024-*/*.csv
//
// Every resolved name must end in .csv, the only type the import endpoint
// accepts.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// Input is a resolved file ready to be uploaded.
type Input struct {
	// Name is the base file name sent to the server.
	Name string `json:"name"`

	// Location is the local path or s3:// URI of the file.
	Location string `json:"location"`

	// Size in bytes as reported by the filesystem or object store.
	Size int64 `json:"size"`

	open func(ctx context.Context) (io.ReadCloser, error)
}

// Open returns the file contents. The caller closes the reader.
func (in Input) Open(ctx context.Context) (io.ReadCloser, error) {
	if in.open == nil {
		return nil, fmt.Errorf("input %s cannot be opened", in.Location)
	}
	return in.open(ctx)
}

// Resolver expands inputs. The S3 client is created on first use.
type Resolver struct {
	s3cfg  S3Config
	logger *zap.Logger

	s3Once sync.Once
	s3API  ObjectAPI
	s3Err  error
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithS3Config(cfg S3Config) Option {
	return func(r *Resolver) {
		r.s3cfg = cfg
	}
}

// WithS3API supplies the S3 client, skipping construction from S3Config.
func WithS3API(api ObjectAPI) Option {
	return func(r *Resolver) {
		if api != nil {
			r.s3API = api
			r.s3Once.Do(func() {})
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve expands inputs with a default Resolver.
func Resolve(ctx context.Context, inputs []string) ([]Input, error) {
	return NewResolver().Resolve(ctx, inputs)
}

// Resolve expands every input, in order, dropping duplicates. Glob matches
// are sorted. The first failing input aborts resolution.
func (r *Resolver) Resolve(ctx context.Context, inputs []string) ([]Input, error) {
	if len(inputs) == 0 {
		return nil, errors.New("no inputs given")
	}

	var out []Input
	seen := make(map[string]struct{})
	for _, raw := range inputs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		var (
			resolved []Input
			err      error
		)
		if strings.HasPrefix(raw, "s3://") {
			resolved, err = r.resolveS3(ctx, raw)
		} else {
			resolved, err = r.resolveLocal(raw)
		}
		if err != nil {
			return nil, err
		}

		for _, in := range resolved {
			if _, dup := seen[in.Location]; dup {
				continue
			}
			seen[in.Location] = struct{}{}
			out = append(out, in)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no inputs given")
	}
	return out, nil
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

func checkCSV(input, name string) error {
	if !strings.EqualFold(path.Ext(name), ".csv") {
		return &SourceError{Op: "Resolve", Input: input, Err: fmt.Errorf("%w: %s", ErrNotCSV, name)}
	}
	return nil
}

func (r *Resolver) resolveLocal(raw string) ([]Input, error) {
	paths := []string{raw}
	if hasMeta(raw) {
		matches, err := doublestar.FilepathGlob(raw, doublestar.WithFilesOnly())
		if err != nil {
			return nil, &SourceError{Op: "Glob", Input: raw, Err: err}
		}
		if len(matches) == 0 {
			return nil, &SourceError{Op: "Glob", Input: raw, Err: ErrNoMatch}
		}
		sort.Strings(matches)
		paths = matches
		r.logger.Debug("Expanded local pattern", zap.String("pattern", raw), zap.Int("matches", len(paths)))
	}

	out := make([]Input, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			switch {
			case errors.Is(err, fs.ErrNotExist):
				err = fmt.Errorf("%w: %w", ErrNotFound, err)
			case errors.Is(err, fs.ErrPermission):
				err = fmt.Errorf("%w: %w", ErrAccessDenied, err)
			}
			return nil, &SourceError{Op: "Stat", Input: p, Err: err}
		}
		if info.IsDir() {
			return nil, &SourceError{Op: "Stat", Input: p, Err: errors.New("is a directory")}
		}
		if err := checkCSV(p, info.Name()); err != nil {
			return nil, err
		}

		local := p
		out = append(out, Input{
			Name:     filepath.Base(local),
			Location: local,
			Size:     info.Size(),
			open: func(context.Context) (io.ReadCloser, error) {
				return os.Open(local) // #nosec G304 -- user-selected import file
			},
		})
	}
	return out, nil
}

func (r *Resolver) s3Client(ctx context.Context) (ObjectAPI, error) {
	r.s3Once.Do(func() {
		r.s3API, r.s3Err = NewS3Client(ctx, r.s3cfg)
	})
	return r.s3API, r.s3Err
}

func (r *Resolver) resolveS3(ctx context.Context, raw string) ([]Input, error) {
	bucket, key, err := parseS3URI(raw)
	if err != nil {
		return nil, &SourceError{Op: "Parse", Input: raw, Err: err}
	}
	api, err := r.s3Client(ctx)
	if err != nil {
		return nil, &SourceError{Op: "Connect", Input: raw, Err: err}
	}

	if !hasMeta(key) {
		if err := checkCSV(raw, key); err != nil {
			return nil, err
		}
		head, err := api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
		if err != nil {
			return nil, classifyS3Error("HeadObject", raw, err)
		}
		return []Input{r.s3Input(api, bucket, key, aws.ToInt64(head.ContentLength))}, nil
	}

	base, _ := doublestar.SplitPattern(key)
	prefix := ""
	if base != "." {
		prefix = base + "/"
	}

	var out []Input
	var token *string
	for {
		page, err := api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, classifyS3Error("List", raw, err)
		}
		for _, obj := range page.Contents {
			k := aws.ToString(obj.Key)
			ok, err := doublestar.Match(key, k)
			if err != nil {
				return nil, &SourceError{Op: "Glob", Input: raw, Err: err}
			}
			if !ok || strings.HasSuffix(k, "/") {
				continue
			}
			if err := checkCSV(raw, k); err != nil {
				return nil, err
			}
			out = append(out, r.s3Input(api, bucket, k, aws.ToInt64(obj.Size)))
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			break
		}
		token = page.NextContinuationToken
	}

	if len(out) == 0 {
		return nil, &SourceError{Op: "Glob", Input: raw, Err: ErrNoMatch}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	r.logger.Debug("Expanded s3 pattern", zap.String("pattern", raw), zap.Int("matches", len(out)))
	return out, nil
}

func (r *Resolver) s3Input(api ObjectAPI, bucket, key string, size int64) Input {
	uri := "s3://" + bucket + "/" + key
	return Input{
		Name:     path.Base(key),
		Location: uri,
		Size:     size,
		open: func(ctx context.Context) (io.ReadCloser, error) {
			obj, err := api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
			if err != nil {
				return nil, classifyS3Error("GetObject", uri, err)
			}
			return obj.Body, nil
		},
	}
}
