//go:build libsql

package store

// Registers the "libsql" database/sql driver. Requires cgo.
import _ "github.com/tursodatabase/go-libsql"
