package middleware

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
)

// InjectScript appends a script tag loading src to successful HTML
// responses, right before the last </body> or </html>. Other responses are
// streamed through untouched.
func InjectScript(next http.Handler, src string) http.Handler {
	tag := []byte(fmt.Sprintf("<script src=%q></script>", src))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		iw := &injectWriter{ResponseWriter: w, tag: tag}
		next.ServeHTTP(iw, r)
		iw.finish()
	})
}

type injectWriter struct {
	http.ResponseWriter
	tag []byte

	decided   bool
	buffering bool
	code      int
	buf       bytes.Buffer
}

func (w *injectWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *injectWriter) WriteHeader(code int) {
	if w.decided {
		if !w.buffering {
			w.ResponseWriter.WriteHeader(code)
		}
		return
	}
	if code >= 100 && code < 200 {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	w.decide(code)
	if !w.buffering {
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *injectWriter) decide(code int) {
	w.decided = true
	w.code = code
	h := w.Header()
	w.buffering = code == http.StatusOK &&
		strings.HasPrefix(h.Get("Content-Type"), "text/html") &&
		h.Get("Content-Encoding") == ""
}

func (w *injectWriter) Write(b []byte) (int, error) {
	if !w.decided {
		if w.Header().Get("Content-Type") == "" && len(b) > 0 {
			w.Header().Set("Content-Type", http.DetectContentType(b))
		}
		w.decide(http.StatusOK)
		if !w.buffering {
			w.ResponseWriter.WriteHeader(http.StatusOK)
		}
	}
	if w.buffering {
		return w.buf.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

func (w *injectWriter) Flush() {
	if w.buffering {
		return
	}
	_ = http.NewResponseController(w.ResponseWriter).Flush()
}

func (w *injectWriter) finish() {
	if !w.buffering {
		return
	}
	body := injectTag(w.buf.Bytes(), w.tag)
	w.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(w.code)
	_, _ = w.ResponseWriter.Write(body)
}

func injectTag(body, tag []byte) []byte {
	lower := bytes.ToLower(body)
	idx := bytes.LastIndex(lower, []byte("</body>"))
	if idx < 0 {
		idx = bytes.LastIndex(lower, []byte("</html>"))
	}
	if idx < 0 {
		return append(body, tag...)
	}
	out := make([]byte, 0, len(body)+len(tag))
	out = append(out, body[:idx]...)
	out = append(out, tag...)
	return append(out, body[idx:]...)
}
