package app

import (
	"os"
	"sync"
)

const testModeEnv = "FIELDSTOCK_TEST_MODE"

var inTestMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})

// InTestMode reports whether the binaries should skip connecting to Postgres,
// Redis and the broker. The flag is read once.
func InTestMode() bool {
	return inTestMode()
}
