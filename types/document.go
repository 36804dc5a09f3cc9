package types

import (
	"context"
	"time"
)

type DocumentShape int

const (
	ShapeWrapped DocumentShape = iota
	ShapeLegacy
)

const (
	FieldData = "data"
	FieldMeta = "_meta"
)

type DocumentMeta struct {
	UpdatedAt time.Time `json:"updatedAt"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
}

// Document is a remote record after normalization. Wrapped documents carry
// {data, _meta}; legacy documents are flat and their whole body is the data.
type Document struct {
	Data  interface{}
	Meta  *DocumentMeta
	Shape DocumentShape
}

func NewDocument(data interface{}, meta DocumentMeta) *Document {
	return &Document{
		Data:  data,
		Meta:  &meta,
		Shape: ShapeWrapped,
	}
}

// NormalizeDocument converts a raw stored record into a Document.
// Storage internal fields (prefixed with "_" other than _meta) are dropped from legacy bodies.
func NormalizeDocument(raw map[string]interface{}) *Document {
	if raw == nil {
		return nil
	}

	if data, ok := raw[FieldData]; ok {
		return &Document{
			Data:  data,
			Meta:  parseMeta(raw[FieldMeta]),
			Shape: ShapeWrapped,
		}
	}

	body := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if len(k) > 0 && k[0] == '_' {
			continue
		}
		body[k] = v
	}

	return &Document{
		Data:  body,
		Meta:  parseMeta(raw[FieldMeta]),
		Shape: ShapeLegacy,
	}
}

// Fields returns the wrapped wire representation used for merge upserts.
func (d *Document) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		FieldData: d.Data,
	}

	if d.Meta != nil {
		fields[FieldMeta] = map[string]interface{}{
			"updatedAt": d.Meta.UpdatedAt.UTC().Format(time.RFC3339Nano),
			"source":    d.Meta.Source,
			"version":   d.Meta.Version,
		}
	}

	return fields
}

func parseMeta(v interface{}) *DocumentMeta {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}

	meta := &DocumentMeta{}
	if s, ok := m["source"].(string); ok {
		meta.Source = s
	}
	if s, ok := m["version"].(string); ok {
		meta.Version = s
	}

	switch ts := m["updatedAt"].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			meta.UpdatedAt = t
		}
	case time.Time:
		meta.UpdatedAt = ts
	}

	return meta
}

type DocumentListener func(doc *Document)

// DocumentStore is the remote source of truth. Upsert merges top-level fields
// and never overwrites fields it does not name.
type DocumentStore interface {
	LifecycleManager
	Get(ctx context.Context, key string) (*Document, error)
	List(ctx context.Context) (map[string]*Document, error)
	Upsert(ctx context.Context, key string, doc *Document) error
	Delete(ctx context.Context, key string) error
	Watch(ctx context.Context, key string, listener DocumentListener) (Unsubscribe, error)
}

type DocumentStoreCreator func(config *DatabaseConfig, collection string) (DocumentStore, error)
