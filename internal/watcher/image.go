package watcher

import (
	"debug/elf"
	"debug/gosym"
	"debug/macho"
	"debug/pe"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

var (
	imagesMu sync.Mutex
	images   []string

	sourcesMu    sync.Mutex
	sourcesCache = map[string][]string{}
)

var errNoLineTable = errors.New("no Go line table")

// AddImage registers an additional compiled image, such as a loaded plugin,
// whose sources should be watched alongside the executable.
func AddImage(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	imagesMu.Lock()
	defer imagesMu.Unlock()
	for _, p := range images {
		if p == abs {
			return
		}
	}
	images = append(images, abs)
}

// Images returns the running executable followed by every registered image.
func Images() []string {
	var out []string
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		out = append(out, exe)
	}
	imagesMu.Lock()
	out = append(out, images...)
	imagesMu.Unlock()
	return out
}

// ImageSources lists the source files recorded in the line table of a
// compiled Go image, exactly as the compiler recorded them.
func ImageSources(path string) ([]string, error) {
	sourcesMu.Lock()
	if cached, ok := sourcesCache[path]; ok {
		sourcesMu.Unlock()
		return cached, nil
	}
	sourcesMu.Unlock()

	pcln, text, err := lineTable(path)
	if err != nil {
		return nil, fmt.Errorf("read line table of %s: %w", path, err)
	}
	table, err := gosym.NewTable(nil, gosym.NewLineTable(pcln, text))
	if err != nil {
		return nil, fmt.Errorf("decode line table of %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(table.Files))
	for f := range table.Files {
		seen[f] = struct{}{}
	}
	if len(seen) == 0 {
		for i := range table.Funcs {
			if f, _, _ := table.PCToLine(table.Funcs[i].Entry); f != "" {
				seen[f] = struct{}{}
			}
		}
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)

	sourcesMu.Lock()
	sourcesCache[path] = files
	sourcesMu.Unlock()
	return files, nil
}

func lineTable(path string) ([]byte, uint64, error) {
	if f, err := elf.Open(path); err == nil {
		defer func() { _ = f.Close() }()
		return elfLineTable(f)
	}
	if f, err := macho.Open(path); err == nil {
		defer func() { _ = f.Close() }()
		return machoLineTable(f)
	}
	if f, err := pe.Open(path); err == nil {
		defer func() { _ = f.Close() }()
		return peLineTable(f)
	}
	return nil, 0, errors.New("unrecognized executable format")
}

func elfLineTable(f *elf.File) ([]byte, uint64, error) {
	var text uint64
	if s := f.Section(".text"); s != nil {
		text = s.Addr
	}
	for _, name := range []string{".gopclntab", ".data.rel.ro.gopclntab"} {
		if s := f.Section(name); s != nil {
			data, err := s.Data()
			return data, text, err
		}
	}
	return nil, 0, errNoLineTable
}

func machoLineTable(f *macho.File) ([]byte, uint64, error) {
	var text uint64
	if s := f.Section("__text"); s != nil {
		text = s.Addr
	}
	if s := f.Section("__gopclntab"); s != nil {
		data, err := s.Data()
		return data, text, err
	}
	return nil, 0, errNoLineTable
}

func peLineTable(f *pe.File) ([]byte, uint64, error) {
	var base uint64
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		base = uint64(oh.ImageBase)
	case *pe.OptionalHeader64:
		base = oh.ImageBase
	}
	var text uint64
	if s := f.Section(".text"); s != nil {
		text = base + uint64(s.VirtualAddress)
	}
	var start, end *pe.Symbol
	for _, s := range f.Symbols {
		switch s.Name {
		case "runtime.pclntab":
			start = s
		case "runtime.epclntab":
			end = s
		}
	}
	if start == nil || end == nil || start.SectionNumber != end.SectionNumber ||
		start.SectionNumber < 1 || int(start.SectionNumber) > len(f.Sections) {
		return nil, 0, errNoLineTable
	}
	data, err := f.Sections[start.SectionNumber-1].Data()
	if err != nil {
		return nil, 0, err
	}
	if end.Value < start.Value || int(end.Value) > len(data) {
		return nil, 0, errNoLineTable
	}
	return data[start.Value:end.Value], text, nil
}

// CollectOptions selects what CollectPaths returns besides the image sources.
type CollectOptions struct {
	// Extra holds additional paths or glob patterns. Directories are walked,
	// skipping hidden ones.
	Extra []string
	// IncludeDeps keeps standard library and module cache sources.
	IncludeDeps bool
}

// CollectPaths resolves every on-disk file that belongs to the loaded images:
// the images themselves, their recorded sources and the extra paths. Images
// whose line table cannot be read still contribute their own path; the read
// errors are returned joined next to the result.
func CollectPaths(opts CollectOptions) ([]string, error) {
	goroot := filepath.Clean(runtime.GOROOT())
	var out []string
	var errs []error
	for _, img := range Images() {
		out = append(out, img)
		srcs, err := ImageSources(img)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, s := range srcs {
			if p, ok := resolveSource(s, goroot, opts.IncludeDeps); ok {
				out = append(out, p)
			}
		}
	}
	for _, pattern := range opts.Extra {
		extra, err := expandExtra(pattern)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, extra...)
	}
	return out, errors.Join(errs...)
}

// resolveSource maps a build-time file name to an on-disk path. Names that
// are not absolute after $GOROOT expansion (trimmed paths, generated code)
// have no resolvable location.
func resolveSource(name, goroot string, includeDeps bool) (string, bool) {
	inGoroot := false
	if rest, ok := strings.CutPrefix(name, "$GOROOT/"); ok {
		if goroot == "" || goroot == "." {
			return "", false
		}
		name = filepath.Join(goroot, filepath.FromSlash(rest))
		inGoroot = true
	}
	if !filepath.IsAbs(name) {
		return "", false
	}
	name = filepath.Clean(name)
	if includeDeps {
		return name, true
	}
	if inGoroot || (goroot != "" && goroot != "." && strings.HasPrefix(name, goroot+string(filepath.Separator))) {
		return "", false
	}
	if strings.Contains(filepath.ToSlash(name), "/pkg/mod/") {
		return "", false
	}
	return name, true
}

func expandExtra(pattern string) ([]string, error) {
	roots := []string{pattern}
	if strings.ContainsAny(pattern, "*?[") {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("watch pattern %q: %w", pattern, err)
		}
		roots = matches
	}
	var out []string
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		info, err := os.Stat(abs)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			out = append(out, abs)
			continue
		}
		_ = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if p != abs && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				out = append(out, p)
			}
			return nil
		})
	}
	return out, nil
}
