// Package fabric defines the external Fabric client boundary: the live
// event subscription, the query/write operations, and the error-kind
// classification the reconciler needs. The core depends only on the
// Session interface.
package fabric

import (
	"context"

	"github.com/cuemby/tenantsync/pkg/types"
)

// ErrorKind classifies a Fabric error for the reconciler.
type ErrorKind int

const (
	Unknown ErrorKind = iota
	TransientNetwork
	ObjectPermanent
	ObjectTransient
	SessionFatal
)

// Error wraps a Fabric failure with its classification and, for
// object-scoped errors, the numeric Fabric code. The full code table
// lives outside this module; 122 is treated as ObjectPermanent and 102
// as ObjectTransient.
type Error struct {
	Kind ErrorKind
	Code int
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "fabric error"
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// ClassifyCode maps a known object-scoped Fabric response code to an
// ErrorKind, falling back to Unknown (treated as ObjectTransient by the
// reconciler) for codes outside the table shipped with this module.
func ClassifyCode(code int) ErrorKind {
	switch code {
	case 122:
		return ObjectPermanent
	case 102:
		return ObjectTransient
	default:
		return Unknown
	}
}

// Event is one drained subscription event, prior to flatten/fill.
type Event struct {
	Object *types.ManagedObject
}

// QueryOpts parameterizes a Fill fetch.
type QueryOpts struct {
	QueryTargetSubtree bool
	ConfigOnly         bool
	IncludeFaults      bool
}

// Session is the Fabric client boundary. A concrete implementation
// serializes itself internally; the core never holds session-wide locks.
type Session interface {
	// Subscribe opens (or re-opens) the subscription for the given root
	// and class filter, returning a subscription handle (e.g. an id) to
	// pass to Drain/Unsubscribe.
	Subscribe(ctx context.Context, url string) (string, error)

	// Unsubscribe closes a subscription best-effort.
	Unsubscribe(ctx context.Context, subscriptionID string) error

	// Drain returns all events pending on a subscription without
	// blocking past ctx's deadline.
	Drain(ctx context.Context, subscriptionID string) ([]Event, error)

	// Get fetches the full object at dn, used by Fill. A not-found
	// condition is reported via ErrNotFound.
	Get(ctx context.Context, dn types.DN, opts QueryOpts) (*types.ManagedObject, error)

	// Transaction posts a parent->child chain of MOs as one atomic
	// create/modify batch.
	Transaction(ctx context.Context, objects []*types.ManagedObject) error

	// Delete issues a direct DELETE on dn.
	Delete(ctx context.Context, dn types.DN) error
}

// ErrNotFound is returned by Session.Get for a 404; Fill interprets it as
// "deleted" rather than propagating an error.
var ErrNotFound = &notFoundError{}

type notFoundError struct{}

func (e *notFoundError) Error() string { return "fabric: object not found" }

// SubscriptionURL builds the Fabric subscription URL for a tenant root.
// The infra root omits the "tn-" prefix.
func SubscriptionURL(rootRN string, isInfra bool, classCSV string) string {
	root := "tn-" + rootRN
	if isInfra {
		root = rootRN
	}
	return "/api/mo/uni/" + root + ".json" +
		"?query-target=subtree&rsp-prop-include=config-only" +
		"&rsp-subtree-include=faults&subscription=yes" +
		"&target-subtree-class=" + classCSV
}
