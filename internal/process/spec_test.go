package process

import (
	"reflect"
	"testing"
)

func TestParseCommand(t *testing.T) {
	sh := func(s string) []string { return shellArgv(s) }
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"go build ./...", []string{"go", "build", "./..."}},
		{"  go   build  -o app.so ", []string{"go", "build", "-o", "app.so"}},
		{"go build -o app.so ./app && echo ok", sh("go build -o app.so ./app && echo ok")},
		{"sh -c 'make plugin'", sh("make plugin")},
		{"/bin/sh -c \"make plugin\"", sh("make plugin")},
		{"make $TARGET", sh("make $TARGET")},
	}
	for _, tc := range cases {
		if got := ParseCommand(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("ParseCommand(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
