package version

import "testing"

func TestDefaults(t *testing.T) {
	// Without ldflags every variable falls back to "unknown".
	for name, value := range map[string]string{
		"Version":   Version,
		"BuildTime": BuildTime,
		"GitCommit": GitCommit,
	} {
		if value == "" {
			t.Errorf("%s must not be empty", name)
		}
	}
}
