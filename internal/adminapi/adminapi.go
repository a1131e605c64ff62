// Package adminapi exposes the runtime controls of spec.md §6.4 —
// reload, reportRecord, setLogfile — over a small gin HTTP surface,
// grounded on the teacher's runAPIServer/handle* shape in
// cmd/driver/hasher-host/main.go (gin.New + gin.Recovery, a route group
// under /api/v1, gin.H error bodies), deliberately replacing the
// teacher's separate gRPC/protobuf admin path (see DESIGN.md).
package adminapi

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"

	"github.com/gin-gonic/gin"

	"streamdrive/pkg/session"
)

// Manager tracks every live Session this process has started, keyed by
// session ID, so the admin surface can report and act on them.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	// Reloader is called by the /reload handler to recompile and restart
	// a record's session(s). It is supplied by the process embedding
	// this package (cmd/streamdrv-admind), since only the caller knows
	// how to re-resolve a protocol file and rebuild a Session.
	Reloader func(record string) error
	log      *log.Logger
}

// NewManager returns an empty Manager logging through logger (or
// log.Default() if nil).
func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{sessions: make(map[string]*session.Session), log: logger}
}

// Track registers s so it shows up in /api/v1/sessions and can be
// targeted by /api/v1/records/:name/report.
func (m *Manager) Track(s *session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID()] = s
}

// Untrack removes a session, e.g. once its owning record is deleted.
func (m *Manager) Untrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

func (m *Manager) snapshot() []sessionView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	views := make([]sessionView, 0, len(m.sessions))
	for _, s := range m.sessions {
		views = append(views, sessionView{
			ID:         s.ID(),
			Channel:    s.Channel(),
			State:      s.State().String(),
			LastStatus: s.LastStatus().String(),
		})
	}
	return views
}

func (m *Manager) byChannel(channel string) []*session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*session.Session
	for _, s := range m.sessions {
		if s.Channel() == channel {
			out = append(out, s)
		}
	}
	return out
}

type sessionView struct {
	ID         string `json:"id"`
	Channel    string `json:"channel"`
	State      string `json:"state"`
	LastStatus string `json:"lastStatus"`
}

// NewRouter builds the gin engine serving the admin surface, mirroring
// the teacher's gin.SetMode(gin.ReleaseMode)/gin.New/gin.Recovery/route
// group bootstrap.
func NewRouter(m *Manager) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.GET("/sessions", m.handleListSessions)
		api.POST("/sessions/:id/abort", m.handleAbortSession)
		api.POST("/reload", m.handleReload)
		api.POST("/records/:name/report", m.handleReportRecord)
		api.POST("/logfile", m.handleSetLogfile)
	}
	return router
}

func (m *Manager) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": m.snapshot()})
}

func (m *Manager) handleAbortSession(c *gin.Context) {
	id := c.Param("id")
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no session %q", id)})
		return
	}
	s.Abort()
	c.JSON(http.StatusOK, gin.H{"message": "abort requested"})
}

type reloadRequest struct {
	Record string `json:"record"`
}

// handleReload implements spec.md §6.4's reload(record?): with a record
// name, only that record's session is rebuilt; without one, the caller's
// Reloader is expected to treat an empty name as "reload everything".
func (m *Manager) handleReload(c *gin.Context) {
	var req reloadRequest
	_ = c.ShouldBindJSON(&req) // an empty body is a valid "reload all" request

	if m.Reloader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reload not configured"})
		return
	}
	if err := m.Reloader(req.Record); err != nil {
		m.log.Printf("adminapi: reload %q failed: %v", req.Record, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "reload complete", "record": req.Record})
}

// handleReportRecord implements spec.md §6.4's reportRecord(record?):
// when :name matches a tracked channel, only that record's session state
// is reported; the bare listing already covers the record?-unset case.
func (m *Manager) handleReportRecord(c *gin.Context) {
	name := c.Param("name")
	sessions := m.byChannel(name)
	if len(sessions) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no sessions on channel %q", name)})
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			ID:         s.ID(),
			Channel:    s.Channel(),
			State:      s.State().String(),
			LastStatus: s.LastStatus().String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"record": name, "sessions": views})
}

type setLogfileRequest struct {
	Path string `json:"path" binding:"required"`
}

// handleSetLogfile implements spec.md §6.4's setLogfile(path): redirects
// every Logger this Manager was built with onto a new file, opened for
// append so a running process's log history survives a redirect.
func (m *Manager) handleSetLogfile(c *gin.Context) {
	var req setLogfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}
	f, err := os.OpenFile(req.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	m.log.SetOutput(f)
	c.JSON(http.StatusOK, gin.H{"message": "logfile updated", "path": req.Path})
}
