package pipeline

import (
	"log"
	"os"
	"time"
)

// sweepRetries and sweepPause match spec.md §5's disk-discipline
// contract: deletions retry up to 100 times with a 500ms pause to
// tolerate filesystems where the engine has not yet closed file handles
// on the files being removed.
const (
	sweepRetries = 100
	sweepPause   = 500 * time.Millisecond
)

// sweep removes every path in paths, retrying each removal independently
// so that one slow-to-release file doesn't stall the others. Errors are
// logged, not returned: a failed sweep should not fail a conversion that
// otherwise succeeded, it only leaves disk usage higher than intended.
func sweep(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := removeAllWithRetry(p); err != nil {
			log.Printf("pipeline: sweep %s: %v (leaving in place)", p, err)
		}
	}
}

func removeAllWithRetry(path string) error {
	var err error
	for attempt := 0; attempt < sweepRetries; attempt++ {
		if err = os.RemoveAll(path); err == nil {
			return nil
		}
		time.Sleep(sweepPause)
	}
	return err
}
