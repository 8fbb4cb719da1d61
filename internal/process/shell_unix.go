//go:build !windows

package process

// shellArgv wraps a script for the platform shell. The absolute path avoids a
// PATH dependency when the environment is overridden.
func shellArgv(script string) []string {
	return []string{"/bin/sh", "-c", script}
}
