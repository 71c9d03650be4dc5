package store

import (
	"github.com/ncruces/go-sqlite3"
	"github.com/tetratelabs/wazero"
)

const wasmPageSize = 64 << 10

// ConfigureRuntime caps the memory of the wasm runtime that hosts SQLite.
// It must be called before the first Open; later calls have no effect on
// stores already open. A non-positive limit leaves the default.
func ConfigureRuntime(memoryLimitMB int) {
	if memoryLimitMB <= 0 {
		return
	}
	pages := uint32(memoryLimitMB) * (1 << 20) / wasmPageSize
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithMemoryLimitPages(pages)
}
