// Package shell is the interactive console started by "devsrv shell". It
// drives the loaded handler in-process and inspects the application's
// database.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const Prompt = "devsrv> "

var methods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodPatch:   true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

type Options struct {
	Handler http.Handler
	// DB is optional; without it the database commands report an error.
	DB  *DB
	In  io.Reader
	Out io.Writer
}

type Shell struct {
	h      http.Handler
	db     *DB
	in     io.Reader
	out    io.Writer
	models []string

	ok   lipgloss.Style
	bad  lipgloss.Style
	head lipgloss.Style
}

func New(opts Options) *Shell {
	r := lipgloss.NewRenderer(opts.Out)
	return &Shell{
		h:    opts.Handler,
		db:   opts.DB,
		in:   opts.In,
		out:  opts.Out,
		ok:   r.NewStyle().Foreground(lipgloss.Color("2")),
		bad:  r.NewStyle().Foreground(lipgloss.Color("1")),
		head: r.NewStyle().Bold(true),
	}
}

// Run prints what is available and reads commands until exit or end of
// input.
func (s *Shell) Run(ctx context.Context) error {
	if err := s.imports(ctx); err != nil {
		return err
	}
	sc := bufio.NewScanner(s.in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		_, _ = fmt.Fprint(s.out, Prompt)
		if !sc.Scan() {
			_, _ = fmt.Fprintln(s.out)
			return sc.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		quit, err := s.Exec(ctx, sc.Text())
		if err != nil {
			_, _ = fmt.Fprintln(s.out, s.bad.Render("error: "+err.Error()))
		}
		if quit {
			return nil
		}
	}
}

func (s *Shell) imports(ctx context.Context) error {
	if s.h != nil {
		_, _ = fmt.Fprintln(s.out, s.ok.Render("import app"))
	}
	if s.db == nil {
		return nil
	}
	tables, err := s.db.Tables(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	s.models = tables
	for _, t := range tables {
		_, _ = fmt.Fprintln(s.out, s.ok.Render("import "+t))
	}
	return nil
}

// Exec runs a single command line. quit is true for exit and quit.
func (s *Shell) Exec(ctx context.Context, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return false, nil
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	if m := strings.ToUpper(cmd); methods[m] {
		return false, s.request(ctx, m, rest)
	}
	switch strings.ToLower(cmd) {
	case "exit", "quit":
		return true, nil
	case "help", "?":
		s.help()
		return false, nil
	case "models":
		return false, s.listModels(ctx)
	case "describe", "desc":
		if rest == "" {
			return false, errors.New("usage: describe <table>")
		}
		return false, s.describe(ctx, rest)
	case "sql":
		if rest == "" {
			return false, errors.New("usage: sql <query>")
		}
		return false, s.query(ctx, rest)
	}
	return false, fmt.Errorf("unknown command %q, try help", cmd)
}

func (s *Shell) help() {
	_, _ = fmt.Fprint(s.out, `Commands:
  GET|POST|PUT|PATCH|DELETE|HEAD|OPTIONS <path> [body]   send a request to the app
  models                                                list database tables
  describe <table>                                      show the columns of a table
  sql <query>                                           run a query
  help                                                  show this text
  exit                                                  leave the shell
`)
}

func (s *Shell) request(ctx context.Context, method, args string) error {
	if s.h == nil {
		return errors.New("no handler loaded")
	}
	target, body, _ := strings.Cut(args, " ")
	if target == "" {
		return fmt.Errorf("usage: %s <path> [body]", method)
	}
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	body = strings.TrimSpace(body)
	req, err := http.NewRequestWithContext(ctx, method, "http://devsrv.local"+target, strings.NewReader(body))
	if err != nil {
		return err
	}
	if body != "" {
		if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
			req.Header.Set("Content-Type", "application/json")
		} else {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	res := rec.Result()
	defer func() { _ = res.Body.Close() }()

	status := s.ok
	if res.StatusCode >= 400 {
		status = s.bad
	}
	_, _ = fmt.Fprintln(s.out, status.Render(fmt.Sprintf("HTTP %s", res.Status)))
	keys := make([]string, 0, len(res.Header))
	for k := range res.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(s.out, "%s: %s\n", s.head.Render(k), strings.Join(res.Header[k], ", "))
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if len(data) > 0 {
		_, _ = fmt.Fprintln(s.out)
		_, _ = s.out.Write(data)
		if data[len(data)-1] != '\n' {
			_, _ = fmt.Fprintln(s.out)
		}
	}
	return nil
}

func (s *Shell) needDB() error {
	if s.db == nil {
		return errors.New("no database configured, start the shell with --db")
	}
	return nil
}

func (s *Shell) listModels(ctx context.Context) error {
	if err := s.needDB(); err != nil {
		return err
	}
	tables, err := s.db.Tables(ctx)
	if err != nil {
		return err
	}
	s.models = tables
	if len(tables) == 0 {
		_, _ = fmt.Fprintln(s.out, "(no tables)")
		return nil
	}
	for _, t := range tables {
		_, _ = fmt.Fprintln(s.out, t)
	}
	return nil
}

func (s *Shell) describe(ctx context.Context, name string) error {
	if err := s.needDB(); err != nil {
		return err
	}
	cols, err := s.db.Describe(ctx, name)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(cols))
	for _, c := range cols {
		null := "NOT NULL"
		if c.Nullable {
			null = "NULL"
		}
		rows = append(rows, []string{c.Name, c.Type, null})
	}
	s.table([]string{"column", "type", "null"}, rows)
	return nil
}

func (s *Shell) query(ctx context.Context, q string) error {
	if err := s.needDB(); err != nil {
		return err
	}
	cols, rows, err := s.db.Query(ctx, q)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		_, _ = fmt.Fprintln(s.out, "OK")
		return nil
	}
	s.table(cols, rows)
	_, _ = fmt.Fprintf(s.out, "(%d rows)\n", len(rows))
	return nil
}

func (s *Shell) table(headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...)
	_, _ = fmt.Fprintln(s.out, t.String())
}

// Models returns the tables found when the shell started or last listed.
func (s *Shell) Models() []string { return s.models }
