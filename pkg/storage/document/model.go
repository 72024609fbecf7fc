package document

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/platinummonkey/tenantgate/pkg/apperr"
	"github.com/platinummonkey/tenantgate/pkg/storage"
)

type model struct {
	conn *Conn
	name string
}

func (m *model) Name() string {
	return m.name
}

func (m *model) Find(ctx context.Context, id string) (storage.Record, error) {
	if !validName(id) {
		return nil, storage.ErrNotFound
	}
	return m.get(ctx, m.conn.objectKey(m.name, id))
}

func (m *model) get(ctx context.Context, key string) (storage.Record, error) {
	out, err := m.conn.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.conn.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer out.Body.Close()

	var rec storage.Record
	if err := json.NewDecoder(out.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return rec, nil
}

func (m *model) put(ctx context.Context, rec storage.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", m.name, err)
	}

	_, err = m.conn.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.conn.bucket),
		Key:         aws.String(m.conn.objectKey(m.name, rec.ID())),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", m.name, rec.ID(), err)
	}
	return nil
}

func (m *model) FindOne(ctx context.Context, q storage.Query) (storage.Record, error) {
	q.Limit = 1
	recs, err := m.FindMany(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, storage.ErrNotFound
	}
	return recs[0], nil
}

// FindMany scans the collection prefix. Filtering, ordering and paging happen
// client side since S3 has no query support.
func (m *model) FindMany(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	prefix := m.conn.collectionPrefix(m.name)
	paginator := s3.NewListObjectsV2Paginator(m.conn.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.conn.bucket),
		Prefix: aws.String(prefix),
	})

	var out []storage.Record
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			rec, err := m.get(ctx, key)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if matches(rec, q.Where) {
				out = append(out, rec)
			}
		}
	}

	if len(q.OrderBy) > 0 {
		if err := sortRecords(out, q.OrderBy); err != nil {
			return nil, err
		}
	}

	if q.Offset > 0 {
		if q.Offset >= uint64(len(out)) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < uint64(len(out)) {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *model) Create(ctx context.Context, rec storage.Record) (storage.Record, error) {
	if len(rec) == 0 {
		return nil, apperr.New(apperr.KindInternal, "document.Create", "empty record")
	}

	stored := make(storage.Record, len(rec)+1)
	for k, v := range rec {
		stored[k] = v
	}
	if stored.ID() == "" {
		stored["id"] = uuid.NewString()
	}
	if !validName(stored.ID()) {
		return nil, apperr.Errorf(apperr.KindInternal, "document.Create", "invalid id %q", stored.ID())
	}

	if err := m.put(ctx, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

func (m *model) Update(ctx context.Context, id string, changes storage.Record) (storage.Record, error) {
	rec, err := m.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	for k, v := range changes {
		if k == "id" {
			continue
		}
		rec[k] = v
	}
	if err := m.put(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (m *model) Delete(ctx context.Context, id string) error {
	// S3 deletes are idempotent, so existence is checked first.
	if _, err := m.Find(ctx, id); err != nil {
		return err
	}

	_, err := m.conn.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.conn.bucket),
		Key:    aws.String(m.conn.objectKey(m.name, id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", m.name, id, err)
	}
	return nil
}

func matches(rec storage.Record, where storage.Filter) bool {
	for field, want := range where {
		got, ok := rec[field]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func sortRecords(recs []storage.Record, orderBy []string) error {
	type key struct {
		field string
		desc  bool
	}
	keys := make([]key, 0, len(orderBy))
	for _, o := range orderBy {
		parts := strings.Fields(o)
		switch {
		case len(parts) == 1:
			keys = append(keys, key{field: parts[0]})
		case len(parts) == 2 && strings.EqualFold(parts[1], "desc"):
			keys = append(keys, key{field: parts[0], desc: true})
		case len(parts) == 2 && strings.EqualFold(parts[1], "asc"):
			keys = append(keys, key{field: parts[0]})
		default:
			return apperr.Errorf(apperr.KindInternal, "document.FindMany", "invalid order %q", o)
		}
	}

	sort.SliceStable(recs, func(i, j int) bool {
		for _, k := range keys {
			c := compare(recs[i][k.field], recs[j][k.field])
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return nil
}

func compare(a, b interface{}) int {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
