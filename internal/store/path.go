// Package store builds tenant-namespaced record paths and defines the record
// store contract. A Path can only be obtained from a Scope, so every read and
// write is bound to exactly one tenant.
package store

import (
	"context"
	"errors"
	"strings"
)

var ErrInvalidSegment = errors.New("invalid path segment")

// Scope is the tenant namespace all scoped operations run in.
type Scope struct {
	tenantID string
}

// NewScope returns the namespace of tenantID.
func NewScope(tenantID string) (Scope, error) {
	if err := checkSegment(tenantID); err != nil {
		return Scope{}, err
	}
	return Scope{tenantID: tenantID}, nil
}

// TenantID returns the tenant the scope is bound to.
func (s Scope) TenantID() string { return s.tenantID }

// IsZero reports whether the scope was never initialised.
func (s Scope) IsZero() bool { return s.tenantID == "" }

// Collection returns a named collection inside the scope.
func (s Scope) Collection(name string) Collection {
	return Collection{scope: s, name: name}
}

// Collection is a named set of records owned by one tenant.
type Collection struct {
	scope Scope
	name  string
}

func (c Collection) Name() string   { return c.name }
func (c Collection) Scope() Scope   { return c.scope }
func (c Collection) Valid() bool    { return !c.scope.IsZero() && checkSegment(c.name) == nil }
func (c Collection) String() string { return "tenants/" + c.scope.tenantID + "/" + c.name }

// IndexKey is the key of the collection's creation-ordered id index.
func (c Collection) IndexKey() string { return c.String() + "/_index" }

// Doc returns the path of record id inside the collection.
func (c Collection) Doc(id string) Path {
	return Path{coll: c, id: id}
}

// Path addresses one record: tenants/{tenantId}/{collection}/{recordId}.
type Path struct {
	coll Collection
	id   string
}

func (p Path) ID() string             { return p.id }
func (p Path) Collection() Collection { return p.coll }
func (p Path) TenantID() string       { return p.coll.scope.tenantID }
func (p Path) String() string         { return p.coll.String() + "/" + p.id }

// LogKey is the key of the record's append-ordered log.
func (p Path) LogKey() string { return p.String() + "/_log" }

// Validate checks every segment of the path.
func (p Path) Validate() error {
	if p.coll.scope.IsZero() {
		return ErrInvalidSegment
	}
	if err := checkSegment(p.coll.name); err != nil {
		return err
	}
	return checkSegment(p.id)
}

// OwnerKey is the global registry entry mapping a record id to its owning tenant.
// It holds no record data and is only used to tell "not yours" from "missing".
func OwnerKey(collection, id string) string {
	return "owners/" + collection + "/" + id
}

func checkSegment(s string) error {
	if s == "" || strings.ContainsAny(s, "/*?[]") || strings.HasPrefix(s, "_") {
		return ErrInvalidSegment
	}
	return nil
}

// UpdateFunc receives the current encoded document and its log entries in
// append order, and returns the next document together with the log entry
// appended in the same atomic write. Returning a nil document and a nil entry
// commits nothing.
type UpdateFunc func(current []byte, log [][]byte) (next any, entry any, err error)

// RecordStore is the tenant-scoped document store: get, set and
// append-to-ordered-log, plus the atomic combinations the services need.
type RecordStore interface {
	// Create stores a new document with an optional first log entry. It fails
	// with ErrConflict if the path already exists.
	Create(ctx context.Context, p Path, doc any, firstEntry any) error
	Get(ctx context.Context, p Path, dst any) error
	// Put replaces an existing document. Missing documents yield ErrNotFound.
	Put(ctx context.Context, p Path, doc any) error
	Delete(ctx context.Context, p Path) error
	// List visits documents in creation order.
	List(ctx context.Context, c Collection, fn func(id string, raw []byte) error) error
	// Owner returns the tenant owning collection/id, or ErrNotFound.
	Owner(ctx context.Context, collection, id string) (string, error)
	Append(ctx context.Context, p Path, entry any) error
	// Log visits the record's log entries in append order.
	Log(ctx context.Context, p Path, fn func(raw []byte) error) error
	// Update runs fn against the current document and log and commits the
	// returned document and log entry atomically, retrying when either the
	// document or the log changed concurrently.
	Update(ctx context.Context, p Path, fn UpdateFunc) error
	// Snapshot reads the document and its log in one consistent read.
	Snapshot(ctx context.Context, p Path, dst any, fn func(raw []byte) error) error
}
