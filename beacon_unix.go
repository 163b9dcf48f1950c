//go:build !windows

package bof

// APITable is unavailable on this platform: syscall.NewCallback, which
// turns a Go function into a foreign-callable address, only exists on
// Windows. The table is empty, so Executor.Run's symbol resolution
// reports UnresolvedSymbol for any Beacon API reference on this platform,
// before Run reaches its ErrUnsupportedPlatform gate (see loader.go).
func APITable(rt *Runtime) map[string]uintptr {
	return map[string]uintptr{}
}
