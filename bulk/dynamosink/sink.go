// Package dynamosink writes bulk batches to a DynamoDB table with
// BatchWriteItem. Items are keyed by (shapeId, id); the transformed body is
// stored verbatim and, optionally, expanded into a native map attribute.
package dynamosink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	json "github.com/goccy/go-json"

	"github.com/reoring/shapekit/issues"
	"github.com/reoring/shapekit/upsert"
)

// maxBatch is the BatchWriteItem request limit.
const maxBatch = 25

// Client is the subset of *dynamodb.Client the sink needs.
type Client interface {
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Config holds sink settings.
type Config struct {
	// Table is the target table. Required.
	Table string

	// MaxAttempts bounds calls per chunk, counting retries of unprocessed
	// items. Default: 5
	MaxAttempts int

	// Backoff is the delay before the first retry; it doubles per attempt.
	// Default: 50ms
	Backoff time.Duration

	// ExpandBody also stores the body as a DynamoDB map under "doc". JSON
	// numbers become DynamoDB numbers with their literal text kept.
	ExpandBody bool
}

// DefaultConfig returns defaults for everything but Table.
func DefaultConfig() Config {
	return Config{MaxAttempts: 5, Backoff: 50 * time.Millisecond}
}

func (c *Config) validate() error {
	if c.Table == "" {
		return errors.New("dynamosink: table is required")
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 5
	}
	if c.Backoff <= 0 {
		c.Backoff = 50 * time.Millisecond
	}
	return nil
}

// record is the stored item.
type record struct {
	ShapeID   string `dynamodbav:"shapeId"`
	ID        string `dynamodbav:"id"`
	Body      string `dynamodbav:"body"`
	WrittenAt int64  `dynamodbav:"writtenAt"`
}

// Sink implements bulk.Sink.
type Sink struct {
	client Client
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Sink.
type Option func(*Sink)

func WithLogger(l *slog.Logger) Option { return func(s *Sink) { s.logger = l } }

// WithClock overrides the writtenAt timestamp source.
func WithClock(now func() time.Time) Option { return func(s *Sink) { s.now = now } }

// New returns a sink writing through client.
func New(client Client, cfg Config, opts ...Option) (*Sink, error) {
	if client == nil {
		return nil, errors.New("dynamosink: nil client")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Sink{client: client, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// LoadClient builds a DynamoDB client from the default AWS credential
// chain. Empty region or endpoint keep the SDK defaults; endpoint is meant
// for DynamoDB Local.
func LoadClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dynamosink: load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// WriteBatch stores items in chunks of 25. Unprocessed items are retried
// with exponential backoff; a chunk still failing after MaxAttempts yields
// an issues.TransientStoreError.
func (s *Sink) WriteBatch(ctx context.Context, shapeID string, items []upsert.EntityHolder) error {
	writtenAt := s.now().UnixMilli()
	reqs := make([]types.WriteRequest, 0, len(items))
	for _, it := range items {
		item, err := s.marshal(shapeID, it, writtenAt)
		if err != nil {
			return err
		}
		reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	for start := 0; start < len(reqs); start += maxBatch {
		end := min(start+maxBatch, len(reqs))
		if err := s.writeChunk(ctx, shapeID, reqs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) marshal(shapeID string, it upsert.EntityHolder, writtenAt int64) (map[string]types.AttributeValue, error) {
	rec := record{ShapeID: shapeID, ID: it.ID, Body: string(it.Body), WrittenAt: writtenAt}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("dynamosink: marshal %q: %w", it.ID, err)
	}
	if s.cfg.ExpandBody {
		dec := json.NewDecoder(bytes.NewReader(it.Body))
		dec.UseNumber()
		var doc map[string]any
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("dynamosink: decode body of %q: %w", it.ID, err)
		}
		item["doc"] = docValue(doc)
	}
	return item, nil
}

// docValue converts a decoded body into an attribute value. Numbers keep
// their JSON text so large integers survive.
func docValue(v any) types.AttributeValue {
	switch x := v.(type) {
	case string:
		return &types.AttributeValueMemberS{Value: x}
	case json.Number:
		return &types.AttributeValueMemberN{Value: x.String()}
	case bool:
		return &types.AttributeValueMemberBOOL{Value: x}
	case []any:
		l := make([]types.AttributeValue, len(x))
		for i, e := range x {
			l[i] = docValue(e)
		}
		return &types.AttributeValueMemberL{Value: l}
	case map[string]any:
		m := make(map[string]types.AttributeValue, len(x))
		for k, e := range x {
			m[k] = docValue(e)
		}
		return &types.AttributeValueMemberM{Value: m}
	default:
		return &types.AttributeValueMemberNULL{Value: true}
	}
}

func (s *Sink) writeChunk(ctx context.Context, shapeID string, reqs []types.WriteRequest) error {
	size := len(reqs)
	pending := reqs
	delay := s.cfg.Backoff
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.cfg.Table: pending},
		})
		switch {
		case err != nil:
			lastErr = err
		case len(out.UnprocessedItems[s.cfg.Table]) == 0:
			return nil
		default:
			pending = out.UnprocessedItems[s.cfg.Table]
			lastErr = fmt.Errorf("%d unprocessed item(s)", len(pending))
		}
		if attempt == s.cfg.MaxAttempts {
			return &issues.TransientStoreError{ShapeID: shapeID, BatchSize: size, Attempts: attempt, Err: lastErr}
		}
		s.logger.Warn("dynamodb batch write retry",
			"shape", shapeID, "table", s.cfg.Table, "attempt", attempt, "pending", len(pending), "err", lastErr)
		select {
		case <-ctx.Done():
			return &issues.TransientStoreError{ShapeID: shapeID, BatchSize: size, Attempts: attempt, Err: errors.Join(lastErr, ctx.Err())}
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil
}
