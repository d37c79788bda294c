// Package store defines interfaces for persisting the load change history.
// Implementations live in other packages; this package must not import
// database drivers or concrete clients.
package store
