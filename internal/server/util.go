package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

// Mount routes requests under basePath to admin and everything else to app.
func Mount(app, admin http.Handler, basePath string) http.Handler {
	bp := sanitizeBase(basePath)
	if bp == "" {
		return admin
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if p == bp || strings.HasPrefix(p, bp+"/") {
			admin.ServeHTTP(w, r)
			return
		}
		app.ServeHTTP(w, r)
	})
}
