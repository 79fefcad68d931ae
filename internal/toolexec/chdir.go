package toolexec

import (
	"fmt"
	"os"
	"sync"
)

// chdirMu serializes scoped chdir sections. The process working
// directory is global state; two concurrent tree walks must not
// interleave their chdir/restore pairs.
var chdirMu sync.Mutex

// withDir runs fn with the process working directory set to dir and
// restores the previous directory unconditionally, even when fn fails.
func withDir(dir string, fn func() error) error {
	chdirMu.Lock()
	defer chdirMu.Unlock()

	prev, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("toolexec: get working directory: %w", err)
	}
	if err := os.Chdir(dir); err != nil {
		return fmt.Errorf("toolexec: chdir %s: %w", dir, err)
	}
	defer func() {
		if err := os.Chdir(prev); err != nil {
			// The process is in an unknown directory now; nothing
			// better to do than make the failure loud.
			panic(fmt.Sprintf("toolexec: restore working directory %s: %v", prev, err))
		}
	}()
	return fn()
}
