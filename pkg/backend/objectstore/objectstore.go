// Package objectstore adapts raw S3 bucket listings to the backend
// interface. It is both the fallback when the index backend is down and a
// secondary source for bucket-scoped queries.
//
// Listings have no server-side extension filtering, so extension and key
// matching happen client-side after each page. The number of pages
// fetched per invocation is bounded to keep latency predictable; hitting
// the bound sets Truncated instead of walking the whole bucket.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quiltcore/unisearch/pkg/backend"
	"github.com/quiltcore/unisearch/pkg/log"
	"github.com/quiltcore/unisearch/pkg/query"
)

// ListObjectsAPI is the slice of the S3 client the adapter consumes.
// Tests substitute a fake.
type ListObjectsAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config tunes the listing behavior.
type Config struct {
	// Region is the AWS region for the default client.
	Region string

	// MaxPages bounds how many listing pages one invocation fetches.
	// Zero means DefaultMaxPages.
	MaxPages int

	// PageSize is the MaxKeys per listing call. Zero means
	// DefaultPageSize.
	PageSize int32
}

const (
	DefaultMaxPages = 8
	DefaultPageSize = 1000
)

// Backend is the object-storage listing adapter.
type Backend struct {
	cfg    Config
	client ListObjectsAPI
	logger *log.Logger
}

// New builds the adapter with the ambient AWS credential chain.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	return NewWithClient(s3.NewFromConfig(awsCfg), cfg), nil
}

// NewWithClient builds the adapter around an existing S3 client (or a
// fake in tests).
func NewWithClient(client ListObjectsAPI, cfg Config) *Backend {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Backend{
		cfg:    cfg,
		client: client,
		logger: log.For(backend.IDObjectStore),
	}
}

func (b *Backend) ID() string { return backend.IDObjectStore }

func (b *Backend) Kinds() []backend.Kind {
	return []backend.Kind{backend.KindObject}
}

// Search lists one bucket page by page, filtering client-side, until the
// requested window is filled, the listing ends, or the page bound is hit.
func (b *Backend) Search(ctx context.Context, p backend.Params) (*backend.Result, error) {
	if p.Bucket == "" {
		return backend.FailedResult(b.ID(), backend.NewError(b.ID(), backend.ErrUnavailable,
			"object store invocation requires a bucket")), nil
	}

	tokens := keyTokens(p.Query)
	exts := p.Query.ExtensionFilter()
	fetch := p.Fetch()
	prefix := listPrefix(p.Query)

	result := &backend.Result{Backend: b.ID()}
	var continuation *string
	for page := 0; page < b.cfg.MaxPages; page++ {
		input := &s3.ListObjectsV2Input{
			Bucket:  aws.String(p.Bucket),
			MaxKeys: aws.Int32(b.cfg.PageSize),
		}
		if prefix != "" {
			input.Prefix = aws.String(prefix)
		}
		if continuation != nil {
			input.ContinuationToken = continuation
		}

		out, err := b.client.ListObjectsV2(ctx, input)
		if err != nil {
			return backend.FailedResult(b.ID(), b.classify(err)), nil
		}

		for i, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if !MatchKey(key, tokens, exts) {
				continue
			}
			hit := backend.Hit{
				Kind:     backend.KindObject,
				Bucket:   p.Bucket,
				Identity: key,
				Source:   b.ID(),
				Raw:      map[string]any{"key": key},
			}
			if obj.Size != nil {
				hit.Size = obj.Size
			}
			if obj.LastModified != nil {
				t := *obj.LastModified
				hit.Modified = &t
			}
			result.Hits = append(result.Hits, hit)
			if len(result.Hits) >= fetch {
				// Window filled. Keys left unexamined, on this page or
				// behind the continuation token, mean more matches may
				// exist; only a fully consumed listing yields an exact
				// total.
				more := aws.ToBool(out.IsTruncated) || i+1 < len(out.Contents)
				result.Truncated = more
				if !more {
					n := len(result.Hits)
					result.TotalEstimate = &n
				}
				b.logPages(page+1, result)
				return result, nil
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			// Listing exhausted: the match count is an exact total.
			n := len(result.Hits)
			result.TotalEstimate = &n
			b.logPages(page+1, result)
			return result, nil
		}
		continuation = out.NextContinuationToken
	}

	// Page bound hit with the listing still truncated.
	result.Truncated = true
	b.logPages(b.cfg.MaxPages, result)
	return result, nil
}

func (b *Backend) logPages(pages int, r *backend.Result) {
	b.logger.Debugf("listed %d pages, %d matching keys (truncated %v)", pages, len(r.Hits), r.Truncated)
}

// MatchKey applies the client-side filter: every free-text token must
// appear in the key (case-insensitive) and, when an extension constraint
// exists, the key's extension must equal one of them exactly. A file named
// "report_csv.txt" never matches a ".csv" constraint.
func MatchKey(key string, tokens []string, exts []string) bool {
	lower := strings.ToLower(key)
	for _, tok := range tokens {
		if !strings.Contains(lower, tok) {
			return false
		}
	}
	if len(exts) == 0 {
		return true
	}
	for _, ext := range exts {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// keyTokens lowercases the free text into tokens matched against keys.
func keyTokens(q query.Query) []string {
	fields := strings.Fields(strings.ToLower(q.FreeText))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		// Connective noise from natural-language queries.
		switch f {
		case "a", "an", "the", "in", "of", "for", "with":
			continue
		}
		out = append(out, f)
	}
	return out
}

// listPrefix narrows the listing when the free text is a single
// path-looking term. Anything else lists from the bucket root.
func listPrefix(q query.Query) string {
	text := strings.TrimSpace(q.FreeText)
	if text == "" || strings.ContainsAny(text, " \t") {
		return ""
	}
	if strings.Contains(text, "/") {
		return text
	}
	return ""
}

func (b *Backend) classify(err error) *backend.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return backend.NewError(b.ID(), backend.ErrTimeout, "bucket listing timed out")
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "accessdenied") || strings.Contains(lower, "invalidaccesskey") ||
		strings.Contains(lower, "expiredtoken") {
		return backend.NewError(b.ID(), backend.ErrAuth, "%s", msg)
	}
	return backend.NewError(b.ID(), backend.ErrUnavailable, "%s", msg)
}
