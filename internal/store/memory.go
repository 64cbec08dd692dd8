package store

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// MemoryRepository is an in-memory Repository[T] used by tests that don't
// want a live MongoDB. Filters use the same map[string]any shape as the
// Mongo implementation but only support flat equality matches, which is
// all the gateway's own filters ever need. Documents are marshaled through
// bson (not encoding/json) so field names agree with MongoRepository's
// bson-tag-keyed filters — both implementations key a document's identity
// by "_id", never by its json tag.
type MemoryRepository[T any] struct {
	mu           sync.RWMutex
	docs         []map[string]any
	uniqueFields []string
}

func NewMemoryRepository[T any]() *MemoryRepository[T] {
	return &MemoryRepository[T]{}
}

func toMap(doc any) map[string]any {
	b, _ := bson.Marshal(doc)
	var m map[string]any
	_ = bson.Unmarshal(b, &m)
	return m
}

func fromMap[T any](m map[string]any) (T, error) {
	var out T
	b, err := bson.Marshal(m)
	if err != nil {
		return out, err
	}
	err = bson.Unmarshal(b, &out)
	return out, err
}

func matches(doc map[string]any, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok {
			return false
		}
		wb, _ := bson.Marshal(bson.M{"v": want})
		gb, _ := bson.Marshal(bson.M{"v": got})
		if string(wb) != string(gb) {
			return false
		}
	}
	return true
}

func (r *MemoryRepository[T]) FindOne(ctx context.Context, filter map[string]any) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	for _, d := range r.docs {
		if matches(d, filter) {
			return fromMap[T](d)
		}
	}
	return zero, ErrNotFound
}

type memoryCursor[T any] struct {
	docs []map[string]any
	idx  int
}

func (c *memoryCursor[T]) Next(ctx context.Context) bool {
	c.idx++
	return c.idx <= len(c.docs)
}

func (c *memoryCursor[T]) Decode() (T, error) {
	return fromMap[T](c.docs[c.idx-1])
}

func (c *memoryCursor[T]) Close(ctx context.Context) error { return nil }

func (r *MemoryRepository[T]) Iterate(ctx context.Context, filter map[string]any) (Cursor[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]map[string]any, 0, len(r.docs))
	for _, d := range r.docs {
		if matches(d, filter) {
			matched = append(matched, d)
		}
	}
	return &memoryCursor[T]{docs: matched}, nil
}

func (r *MemoryRepository[T]) Insert(ctx context.Context, doc T) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := toMap(doc)
	for _, idx := range r.uniqueFields {
		if v, ok := m[idx]; ok {
			for _, existing := range r.docs {
				if ev, ok := existing[idx]; ok {
					eb, _ := bson.Marshal(bson.M{"v": ev})
					vb, _ := bson.Marshal(bson.M{"v": v})
					if string(eb) == string(vb) {
						return doc, &ErrDuplicateKey{Keys: map[string]any{idx: v}}
					}
				}
			}
		}
	}

	r.docs = append(r.docs, m)
	return doc, nil
}

func (r *MemoryRepository[T]) Update(ctx context.Context, filter map[string]any, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.docs {
		if matches(d, filter) {
			for k, v := range fields {
				d[k] = v
			}
		}
	}
	return nil
}

func (r *MemoryRepository[T]) Delete(ctx context.Context, filter map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.docs[:0]
	for _, d := range r.docs {
		if !matches(d, filter) {
			out = append(out, d)
		}
	}
	r.docs = out
	return nil
}

func (r *MemoryRepository[T]) CreateIndexes(ctx context.Context, specs []IndexSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, spec := range specs {
		if spec.Unique && len(spec.Keys) == 1 {
			r.uniqueFields = append(r.uniqueFields, spec.Keys[0])
		}
	}
	return nil
}
