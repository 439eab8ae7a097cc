// Package profile implements the append-only, versioned profile document:
// every write deep-merges into the latest version and inserts a brand new
// version row rather than mutating in place.
package profile

import (
	"context"
	"reflect"
	"time"
)

// Version is one immutable snapshot of the profile document.
type Version struct {
	Version       int
	Data          map[string]any
	ChangedBy     string
	ChangedFields []string
	ChangedAt     time.Time
	MetaRef       string
}

// Store persists profile versions for one tenant namespace.
type Store interface {
	Latest(ctx context.Context) (*Version, error) // nil, nil if no versions yet
	Insert(ctx context.Context, v *Version) error
	SetMetaRef(ctx context.Context, version int, metaRef string) error
	History(ctx context.Context, limit, offset int) ([]*Version, error) // newest first
}

// Profile implements deep-merge writes over a Store.
type Profile struct {
	store Store
	now   func() time.Time
}

// New creates a Profile.
func New(store Store, nowFunc func() time.Time) *Profile {
	if nowFunc == nil {
		nowFunc = func() time.Time { return time.Now().UTC() }
	}
	return &Profile{store: store, now: nowFunc}
}

// Latest returns the current authoritative profile document, or an empty
// Version (version 0) if the tenant has never written one.
func (p *Profile) Latest(ctx context.Context) (*Version, error) {
	v, err := p.store.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return &Version{Version: 0, Data: map[string]any{}}, nil
	}
	return v, nil
}

// Apply deep-merges patch into the latest version and inserts a new
// version row. changedBy identifies the caller (an agent id or "user").
// Returns the new version and the list of dotted-path fields it changed.
func (p *Profile) Apply(ctx context.Context, patch map[string]any, changedBy, metaRef string) (*Version, error) {
	latest, err := p.Latest(ctx)
	if err != nil {
		return nil, err
	}

	merged := deepCopy(latest.Data)
	var changed []string
	mergeInto(merged, patch, "", &changed)

	next := &Version{
		Version:       latest.Version + 1,
		Data:          merged,
		ChangedBy:     changedBy,
		ChangedFields: changed,
		ChangedAt:     p.now(),
		MetaRef:       metaRef,
	}
	if err := p.store.Insert(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// History returns prior profile versions, newest first.
func (p *Profile) History(ctx context.Context, limit, offset int) ([]*Version, error) {
	return p.store.History(ctx, limit, offset)
}

// SetMetaRef backfills the ledger meta_id onto a version already written.
// The pipeline calls this once registerFact has assigned an id, since the
// version's own number isn't known until after Apply returns.
func (p *Profile) SetMetaRef(ctx context.Context, version int, metaRef string) error {
	return p.store.SetMetaRef(ctx, version, metaRef)
}

// mergeInto deep-merges patch into dst in place: nested objects merge
// field-wise, arrays replace wholesale. It records every dotted path whose
// value actually changed into *changed.
func mergeInto(dst, patch map[string]any, prefix string, changed *[]string) {
	for k, newVal := range patch {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		oldVal, existed := dst[k]

		newMap, newIsMap := newVal.(map[string]any)
		oldMap, oldIsMap := oldVal.(map[string]any)
		if newIsMap && (oldIsMap || !existed) {
			if !oldIsMap {
				oldMap = map[string]any{}
				dst[k] = oldMap
			}
			mergeInto(oldMap, newMap, path, changed)
			continue
		}

		if !existed || !reflect.DeepEqual(oldVal, newVal) {
			*changed = append(*changed, path)
		}
		dst[k] = newVal
	}
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCopy(nested)
		} else {
			out[k] = v
		}
	}
	return out
}
