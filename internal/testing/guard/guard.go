package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("FIELDSTOCK_TEST_MODE") == "" {
			_ = os.Setenv("FIELDSTOCK_TEST_MODE", "1")
		}
	})
}
