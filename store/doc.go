// Package store defines the aggregate persistence interface.
//
// [Store] composes a sub-interface per entity family (run, event, step,
// hook, claim, wake). A single backend need only implement Store to
// satisfy every subsystem's persistence contract.
//
// The composite interface:
//
//	type Store interface {
//	    RunStore
//	    EventStore
//	    StepStore
//	    HookStore
//	    ClaimStore
//	    WakeStore
//
//	    Migrate(ctx context.Context) error
//	    Ping(ctx context.Context) error
//	    Close() error
//	}
//
// # Available Backends
//
//   - store/memory — in-memory store for development, testing, and the
//     default cmd/wf deployment
//
// # Usage
//
//	import "github.com/QualityUnit/pyworkflow/store/memory"
//
//	s := memory.New()
//	defer s.Close()
//
// # Migrations
//
// Call Migrate once at startup; store/memory's is a no-op, kept only to
// satisfy the interface for backends that do need schema setup.
package store
