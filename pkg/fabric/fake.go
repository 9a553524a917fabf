package fabric

import (
	"context"
	"sync"

	"github.com/cuemby/tenantsync/pkg/types"
)

// Fake is an in-memory Session used by the core's end-to-end tests. It
// echoes transacted creates back as subscription events, so a test can
// drive convergence purely through Transaction calls.
type Fake struct {
	mu           sync.Mutex
	objects      map[types.DN]*types.ManagedObject
	subs         map[string][]Event
	nextSub      int
	PostBodyNoop bool // silently swallow Transaction without echoing, for divergence tests
}

// NewFake returns an empty fake Fabric session.
func NewFake() *Fake {
	return &Fake{
		objects: map[types.DN]*types.ManagedObject{},
		subs:    map[string][]Event{},
	}
}

func (f *Fake) Subscribe(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSub++
	id := url
	f.subs[id] = nil
	return id, nil
}

func (f *Fake) Unsubscribe(ctx context.Context, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, subscriptionID)
	return nil
}

func (f *Fake) Drain(ctx context.Context, subscriptionID string) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := f.subs[subscriptionID]
	f.subs[subscriptionID] = nil
	return events, nil
}

func (f *Fake) Get(ctx context.Context, dn types.DN, opts QueryOpts) (*types.ManagedObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mo, ok := f.objects[dn]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *mo
	return &cp, nil
}

func (f *Fake) Transaction(ctx context.Context, objects []*types.ManagedObject) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PostBodyNoop {
		return nil
	}
	for _, o := range objects {
		stored := *o
		stored.Status = types.MOStatusCreated
		f.objects[o.DN] = &stored
		for sub := range f.subs {
			f.subs[sub] = append(f.subs[sub], Event{Object: &stored})
		}
	}
	return nil
}

func (f *Fake) Delete(ctx context.Context, dn types.DN) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, dn)
	for sub := range f.subs {
		f.subs[sub] = append(f.subs[sub], Event{Object: &types.ManagedObject{
			DN:     dn,
			Status: types.MOStatusDeleted,
		}})
	}
	return nil
}

// Emit injects an externally-originated event directly onto every open
// subscription, simulating a Fabric-side change not caused by our own push
// (used to drive the "Fabric emits BD mybd" shape of S2).
func (f *Fake) Emit(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		f.subs[sub] = append(f.subs[sub], ev)
	}
}
