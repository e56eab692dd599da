package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// handleStatic serves the browser UI. Unknown paths outside the API get
// index.html so client-side routes survive a reload.
func (r *Router) handleStatic(c *gin.Context) {
	p := c.Request.URL.Path
	if r.staticDir == "" || (r.basePath != "" && (p == r.basePath || strings.HasPrefix(p, r.basePath+"/"))) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "not found"})
		return
	}
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		writeJSON(c, http.StatusMethodNotAllowed, errorResp{Error: "method not allowed"})
		return
	}
	name := filepath.Join(r.staticDir, filepath.FromSlash(cleanURLPath(p)))
	if st, err := os.Stat(name); err == nil && !st.IsDir() {
		c.File(name)
		return
	}
	index := filepath.Join(r.staticDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "not found"})
		return
	}
	c.File(index)
}

// cleanURLPath resolves dot segments against "/" so the result stays inside
// the static dir.
func cleanURLPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
