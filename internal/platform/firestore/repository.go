package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
)

// maxGetAllBatch bounds the document references sent in a single GetAll call.
const maxGetAllBatch = 100

// Decoder hydrates a typed value from a snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// Collection is a typed read view over one Firestore collection.
type Collection[T any] struct {
	provider *Provider
	name     string
	decode   Decoder[T]
}

// NewCollection binds a typed reader to collection. A nil decoder uses DataTo.
func NewCollection[T any](provider *Provider, name string, decode Decoder[T]) (*Collection[T], error) {
	if provider == nil {
		return nil, errors.New("firestore: provider is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("firestore: collection name is required")
	}
	if decode == nil {
		decode = func(snap *firestore.DocumentSnapshot) (T, error) {
			var out T
			err := snap.DataTo(&out)
			return out, err
		}
	}
	return &Collection[T]{provider: provider, name: name, decode: decode}, nil
}

// GetAll loads the documents with the given ids in batches. Missing documents are skipped and
// the result is keyed by document id.
func (c *Collection[T]) GetAll(ctx context.Context, ids []string) (map[string]T, error) {
	out := make(map[string]T, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, WrapError(c.op("get_all"), err)
	}
	coll := client.Collection(c.name)

	seen := make(map[string]struct{}, len(ids))
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || strings.Contains(id, "/") {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		refs = append(refs, coll.Doc(id))
	}

	for start := 0; start < len(refs); start += maxGetAllBatch {
		end := min(start+maxGetAllBatch, len(refs))
		snaps, err := client.GetAll(ctx, refs[start:end])
		if err != nil {
			return nil, WrapError(c.op("get_all"), err)
		}
		for _, snap := range snaps {
			if snap == nil || !snap.Exists() {
				continue
			}
			value, err := c.decode(snap)
			if err != nil {
				return nil, fmt.Errorf("firestore: decode %s/%s: %w", c.name, snap.Ref.ID, err)
			}
			out[snap.Ref.ID] = value
		}
	}
	return out, nil
}

func (c *Collection[T]) op(action string) string {
	return c.name + "." + action
}
