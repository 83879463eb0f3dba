// Package admin is the administrative web interface mounted under a path
// prefix of the public router. It owns its routing, authentication and
// rendering; the public router only hands requests over.
package admin

import (
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gorilla/mux"

	"github.com/pobradovic08/appserver/internal/api"
	"github.com/pobradovic08/appserver/internal/metrics"
	"github.com/pobradovic08/appserver/internal/ratelimit"
)

//go:embed dashboard.html
var dashboardHTML string

var dashboardTmpl = template.Must(template.New("dashboard").Parse(dashboardHTML))

// Admin serves the admin interface. It implements http.Handler.
type Admin struct {
	router *mux.Router
	prefix string

	username string
	password string
	secret   []byte
	tokenTTL time.Duration

	config  any
	openapi *openapi3.T
	metrics *metrics.Collector
	now     func() time.Time

	mu     sync.RWMutex
	routes []routeInfo
}

// Deps holds the dependencies of the admin interface.
type Deps struct {
	// Prefix is the mount point, e.g. "/admin/".
	Prefix      string
	Username    string
	Password    string
	TokenSecret []byte
	TokenTTL    time.Duration

	// Config is rendered as-is by the config view; pass a redacted copy.
	Config  any
	OpenAPI *openapi3.T
	// RateLimiter guards the login endpoint when set.
	RateLimiter *ratelimit.Limiter
	Metrics     *metrics.Collector
	// Now defaults to time.Now.
	Now func() time.Time
}

type routeInfo struct {
	Pattern string `json:"pattern"`
	Name    string `json:"name"`
}

// New builds the admin router.
func New(deps Deps) (*Admin, error) {
	if !strings.HasPrefix(deps.Prefix, "/") || !strings.HasSuffix(deps.Prefix, "/") || len(deps.Prefix) < 3 {
		return nil, fmt.Errorf("admin: invalid prefix %q", deps.Prefix)
	}
	if deps.TokenTTL <= 0 {
		return nil, errors.New("admin: token TTL must be positive")
	}

	a := &Admin{
		router:   mux.NewRouter(),
		prefix:   deps.Prefix,
		username: deps.Username,
		password: deps.Password,
		secret:   deps.TokenSecret,
		tokenTTL: deps.TokenTTL,
		config:   deps.Config,
		openapi:  deps.OpenAPI,
		metrics:  deps.Metrics,
		now:      deps.Now,
	}
	if a.now == nil {
		a.now = time.Now
	}
	if !a.credentialsConfigured() {
		slog.Warn("admin credentials not configured, admin interface will refuse all requests")
	}

	var login http.Handler = http.HandlerFunc(a.handleLogin)
	if deps.RateLimiter != nil {
		login = deps.RateLimiter.Middleware(login)
	}

	sub := a.router.PathPrefix(strings.TrimSuffix(a.prefix, "/")).Subrouter()
	sub.Handle("/", a.requireAuth(a.handleDashboard)).Methods(http.MethodGet, http.MethodHead)
	sub.Handle("/login/", login).Methods(http.MethodPost)
	sub.Handle("/routes/", a.requireAuth(a.handleRoutes)).Methods(http.MethodGet)
	sub.Handle("/config/", a.requireAuth(a.handleConfig)).Methods(http.MethodGet)
	sub.Handle("/openapi.json", a.requireAuth(a.handleOpenAPI)).Methods(http.MethodGet)

	a.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.WriteProblem(w, http.StatusNotFound, fmt.Sprintf("Admin page %s does not exist.", r.URL.Path))
	})
	a.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.WriteProblem(w, http.StatusMethodNotAllowed, fmt.Sprintf("Method %s is not allowed on %s.", r.Method, r.URL.Path))
	})

	return a, nil
}

// SetRoutes records the public route table shown by the admin views. The
// table and the admin handler depend on each other, so it is set after New.
func (a *Admin) SetRoutes(routes []api.Route) {
	infos := make([]routeInfo, 0, len(routes))
	for _, rt := range routes {
		infos = append(infos, routeInfo{Pattern: rt.Pattern, Name: rt.Name})
	}
	a.mu.Lock()
	a.routes = infos
	a.mu.Unlock()
}

func (a *Admin) routeInfos() []routeInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.routes
}

func (a *Admin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *Admin) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := dashboardTmpl.Execute(w, struct {
		User   string
		Prefix string
		Routes []routeInfo
	}{User: a.username, Prefix: a.prefix, Routes: a.routeInfos()})
	if err != nil {
		slog.Error("render admin dashboard", "error", err)
	}
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *Admin) handleLogin(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	switch {
	case !a.credentialsConfigured():
		a.loginFailed(w, r, user, errNoCredentials.Error())
		return
	case !ok:
		a.loginFailed(w, r, "", "no credentials supplied")
		return
	case !a.checkPassword(user, pass):
		a.loginFailed(w, r, user, "invalid username or password")
		return
	}

	token, expires, err := a.issueToken()
	if err != nil {
		slog.Error("issue admin token", "error", err)
		api.WriteProblem(w, http.StatusInternalServerError, "Could not issue token.")
		return
	}
	auditLogin(r, user, true, "")
	if a.metrics != nil {
		a.metrics.IncAdminLogins("success")
	}
	api.WriteJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expires.UTC()})
}

func (a *Admin) loginFailed(w http.ResponseWriter, r *http.Request, user, reason string) {
	auditLogin(r, user, false, reason)
	if a.metrics != nil {
		a.metrics.IncAdminLogins("failure")
	}
	writeUnauthorized(w)
}

func (a *Admin) handleRoutes(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, struct {
		Data []routeInfo `json:"data"`
	}{Data: a.routeInfos()})
}

func (a *Admin) handleConfig(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, a.config)
}

func (a *Admin) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	if a.openapi == nil {
		api.WriteProblem(w, http.StatusNotFound, "No OpenAPI document is loaded.")
		return
	}
	api.WriteJSON(w, http.StatusOK, a.openapi)
}
