// Package node materializes arbitrary entities from their opaque ids by
// dispatching to per-type fetchers registered at startup.
package node

import (
	"context"

	"github.com/parishlabs/steeple/internal/globalid"
)

// FetchFunc loads one entity by its local id. Returning (nil, nil) means the
// id decoded cleanly but nothing exists behind it.
type FetchFunc func(ctx context.Context, localID string) (any, error)

// Node is a materialized entity with its type discriminant.
type Node struct {
	ID       string `json:"id"`
	TypeName string `json:"__type"`
	Node     any    `json:"node,omitempty"`
}

// Registry maps node type names onto their fetchers. The table is populated
// once during wiring and read-only afterwards.
type Registry struct {
	fetchers map[string]FetchFunc
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: map[string]FetchFunc{}}
}

// Register binds a fetcher to a type name, replacing any previous binding.
func (r *Registry) Register(typeName string, fetch FetchFunc) {
	r.fetchers[typeName] = fetch
}

// Get decodes the opaque id and materializes the entity behind it. An id
// naming an unregistered type is malformed from the caller's point of view.
func (r *Registry) Get(ctx context.Context, opaqueID string) (*Node, error) {
	decoded, err := globalid.Decode(opaqueID)
	if err != nil {
		return nil, err
	}
	fetch, ok := r.fetchers[decoded.TypeName]
	if !ok {
		return nil, &globalid.MalformedIDError{Raw: opaqueID}
	}

	entity, err := fetch(ctx, decoded.LocalID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, nil
	}
	return &Node{ID: opaqueID, TypeName: decoded.TypeName, Node: entity}, nil
}
