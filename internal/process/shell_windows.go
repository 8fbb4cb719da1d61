//go:build windows

package process

func shellArgv(script string) []string {
	return []string{"cmd", "/c", script}
}
