// internal/persist/lock_other.go

//go:build !unix

package persist

import "os"

// No advisory locking outside unix; the record itself is still atomic.
func lockExclusive(*os.File) error { return nil }

func unlock(*os.File) error { return nil }
