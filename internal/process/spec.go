package process

import (
	"io"
	"strings"
)

// Spec describes a command to be spawned.
type Spec struct {
	Argv   []string
	Env    []string // full environment; nil inherits the current one
	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ParseCommand turns a command line into argv. It avoids invoking a shell when
// not necessary, and it also respects an explicit shell invocation already
// present in the command string (e.g., "sh -c 'go build ./...'"), avoiding
// double-wrapping with another shell.
func ParseCommand(cmdStr string) []string {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return nil
	}
	if afterC, ok := parseExplicitShell(cmdStr); ok {
		return shellArgv(afterC)
	}
	// Fallback: when metacharacters are present, use the platform shell
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return shellArgv(cmdStr)
	}
	return strings.Fields(cmdStr)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr. It preserves the substring after "-c " verbatim to avoid
// breaking quoting.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			// Strip one pair of wrapping quotes so the shell parses the script itself.
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return after, true
		}
	}
	return "", false
}
