package httptransport

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"staked-arena/internal/logging"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v3"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
	auditBodyLimit   = 4096
)

// APILogMiddleware logs one JSON line per API request into the shared log
// sink. Session routes also carry the session id so a game's HTTP traffic
// lines up with its clock and finalize logs.
func APILogMiddleware() func(http.Handler) http.Handler {
	return httplog.RequestLogger(
		slog.New(slog.NewJSONHandler(logging.Writer(), nil)),
		&httplog.Options{
			Level:              slog.LevelInfo,
			Schema:             httplog.Schema{ResponseStatus: "status", ResponseDuration: "duration_ms"},
			LogRequestBody:     func(*http.Request) bool { return false },
			LogResponseBody:    func(*http.Request) bool { return false },
			LogRequestHeaders:  []string{},
			LogResponseHeaders: []string{},
			LogExtraAttrs:      requestAttrs,
		},
	)
}

func requestAttrs(req *http.Request, _ string, _ int) []slog.Attr {
	route := req.URL.Path
	attrs := []slog.Attr{
		slog.String("request_id", chimw.GetReqID(req.Context())),
		slog.String("method", req.Method),
	}
	if rc := chi.RouteContext(req.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			route = p
		}
		if id := rc.URLParam("session_id"); id != "" {
			attrs = append(attrs, slog.String("session_id", id))
		}
	}
	return append(attrs, slog.String("route", route), slog.String("path", req.URL.Path))
}

// AdminAuditMiddleware records the body of every mutating admin request and
// its reply on the request log line. Reads and event streams pass through.
func AdminAuditMiddleware(limit int) func(http.Handler) http.Handler {
	if limit <= 0 {
		limit = auditBodyLimit
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || isSSERequest(r) {
				next.ServeHTTP(w, r)
				return
			}
			reqBody, _ := io.ReadAll(r.Body)
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(reqBody))

			cw := &captureWriter{ResponseWriter: w, limit: limit}
			next.ServeHTTP(cw, r)

			reqLog, reqTruncated := reqBody, len(reqBody) > limit
			if reqTruncated {
				reqLog = reqLog[:limit]
			}
			httplog.SetAttrs(r.Context(),
				slog.Bool("admin_audit", true),
				slog.Any("request_body", parseMaybeJSON(reqLog)),
				slog.Bool("request_body_truncated", reqTruncated),
				slog.Any("response_body", parseMaybeJSON(cw.body.Bytes())),
				slog.Bool("response_body_truncated", cw.truncated),
			)
		})
	}
}

// captureWriter keeps the first limit bytes of a response.
type captureWriter struct {
	http.ResponseWriter
	body      bytes.Buffer
	limit     int
	truncated bool
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if remain := c.limit - c.body.Len(); remain >= len(p) {
		c.body.Write(p)
	} else {
		if remain > 0 {
			c.body.Write(p[:remain])
		}
		c.truncated = true
	}
	return c.ResponseWriter.Write(p)
}

func (c *captureWriter) Flush() {
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func parseMaybeJSON(b []byte) any {
	if len(b) == 0 {
		return ""
	}
	var out any
	if json.Unmarshal(b, &out) == nil {
		return out
	}
	return string(b)
}

// WriteHTTPError writes {"error": code}. Codes match the ones sent over the
// websocket so clients can share one table.
func WriteHTTPError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// AdminAuthMiddleware accepts the key as X-Admin-Key or a bearer token. An
// empty key leaves admin routes open, which only local setups use.
func AdminAuthMiddleware(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminKey != "" && !CheckAdminAuth(r, adminKey) {
				WriteHTTPError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CheckAdminAuth(r *http.Request, adminKey string) bool {
	got := r.Header.Get("X-Admin-Key")
	if got == "" {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			return false
		}
		got = token
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(adminKey)) == 1
}

// ParsePagination reads limit and offset, clamping limit to [1, 500].
func ParsePagination(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = queryInt(q.Get("limit"), defaultPageLimit)
	offset = queryInt(q.Get("offset"), 0)
	limit = min(max(limit, 1), maxPageLimit)
	return limit, max(offset, 0)
}

func queryInt(v string, def int) int {
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return def
}

func isSSERequest(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream") ||
		strings.HasSuffix(r.URL.Path, "/events")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
