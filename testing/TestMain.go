// Package testing switches the process into test mode when imported for side
// effects, and seeds the secrets LoadConfig requires.
package testing

import "os"

var testEnv = map[string]string{
	"FECHAMENTO_TEST_MODE": "1",
	"SESSION_SECRET":       "test-session-secret",
	"CSRF_SECRET":          "test-csrf-secret",
}

func init() {
	for key, value := range testEnv {
		if _, set := os.LookupEnv(key); !set {
			_ = os.Setenv(key, value)
		}
	}
}
