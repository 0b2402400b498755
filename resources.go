package kiln

import (
	"context"
	"fmt"
	"reflect"

	"golang.org/x/sync/semaphore"
)

// ResourceId identifies a registered resource type, analogous to
// ComponentId but for World-singleton values.
type ResourceId uint32

// Resources is the typed singleton registry backing §5's "shared-resource
// policy": resources follow the same single-writer access discipline as
// component columns. Grounded on delaneyj-arche's resources.go (type-keyed
// []any slots), extended with a semaphore-gated guard per slot so the same
// acquire/release vocabulary used by parallel query batches
// (golang.org/x/sync) also governs resource access.
type Resources struct {
	byType map[reflect.Type]ResourceId
	values []any
	guards []*semaphore.Weighted
}

const resourceWeight = 1

func newResources() *Resources {
	return &Resources{byType: make(map[reflect.Type]ResourceId)}
}

func (r *Resources) idFor(t reflect.Type, create bool) (ResourceId, bool) {
	if id, ok := r.byType[t]; ok {
		return id, true
	}
	if !create {
		return 0, false
	}
	id := ResourceId(len(r.values))
	r.byType[t] = id
	r.values = append(r.values, nil)
	r.guards = append(r.guards, semaphore.NewWeighted(resourceWeight))
	return id, true
}

// InsertResource installs res (a pointer) as the singleton value for its
// type. Panics if a resource of that type is already registered.
func InsertResource[T any](r *Resources, res *T) ResourceId {
	t := reflect.TypeOf(res).Elem()
	id, _ := r.idFor(t, true)
	if r.values[id] != nil {
		panic(fmt.Sprintf("resource of type %v already inserted", t))
	}
	r.values[id] = res
	return id
}

// GetResource returns the resource of type T, or a MissingResourceError if
// none is registered.
func GetResource[T any](r *Resources) (*T, error) {
	var zero T
	t := reflect.TypeOf(&zero).Elem()
	id, ok := r.idFor(t, false)
	if !ok || r.values[id] == nil {
		return nil, MissingResourceError{Type: t.String()}
	}
	return r.values[id].(*T), nil
}

// HasResource reports whether a resource of type T is registered.
func HasResource[T any](r *Resources) bool {
	var zero T
	t := reflect.TypeOf(&zero).Elem()
	id, ok := r.idFor(t, false)
	return ok && r.values[id] != nil
}

// RemoveResource deletes the resource of type T, if present.
func RemoveResource[T any](r *Resources) {
	var zero T
	t := reflect.TypeOf(&zero).Elem()
	if id, ok := r.idFor(t, false); ok {
		r.values[id] = nil
	}
}

// AcquireResource blocks until exclusive access to the resource of type T
// is available, returning a release function. This is the resource-side
// counterpart of the Access Graph's component write discipline (§5).
func AcquireResource[T any](ctx context.Context, r *Resources) (func(), error) {
	var zero T
	t := reflect.TypeOf(&zero).Elem()
	id, ok := r.idFor(t, false)
	if !ok {
		return nil, MissingResourceError{Type: t.String()}
	}
	sem := r.guards[id]
	if err := sem.Acquire(ctx, resourceWeight); err != nil {
		return nil, err
	}
	return func() { sem.Release(resourceWeight) }, nil
}
