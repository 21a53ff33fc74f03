package app

import (
	"flag"
	"os"
	"strings"
)

// InTestMode reports whether the process is running under `go test`, in which
// case long-running daemons (worker, scheduler) should not start.
func InTestMode() bool {
	if flag.Lookup("test.v") != nil {
		return true
	}
	for _, arg := range os.Args {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}
