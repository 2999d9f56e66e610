// Package stores persists genproj invocation history in SQLite.
//
// Each run of the build tool is recorded as an Invocation: the resolved
// engine root and project descriptor, the exact command, the exit code and
// the failure kind. Host events (refresh requests and error dialogs) are
// kept in an append-only events table.
//
// The store uses the pure Go modernc.org/sqlite driver, so no cgo toolchain
// is needed. Schema changes are embedded SQL files applied with
// golang-migrate:
//
//	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
//	if err != nil {
//		return err
//	}
//	if err := store.Init(ctx); err != nil {
//		return err
//	}
//	if err := store.Migrate(ctx); err != nil {
//		return err
//	}
//
// SQLiteStore implements engine.Recorder and can be passed to the generator
// directly. The path ":memory:" gives a private in-memory database, limited
// to a single connection.
package stores
