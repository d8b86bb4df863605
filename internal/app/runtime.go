package app

import (
	"os"
	"sync"
)

const testModeEnv = "FECHAMENTO_TEST_MODE"

// InTestMode reports whether the process runs under go test. Rate limiting,
// the request logger and the binaries' startup are skipped in that mode. The
// flag is read from FECHAMENTO_TEST_MODE once per process.
var InTestMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})
