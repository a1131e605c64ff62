package adminapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"streamdrive/pkg/arbiter"
	"streamdrive/pkg/bus/mockbus"
	"streamdrive/pkg/protocol"
	"streamdrive/pkg/record"
	"streamdrive/pkg/session"
)

func newTestSession(t *testing.T, channel string) *session.Session {
	t.Helper()
	prog, err := protocol.Compile([]byte(`p { out "GET"; in "%d"; }`), "t.proto", "p", nil)
	require.NoError(t, err)
	mb := mockbus.New()
	mb.QueueReplyBytes([]byte("1"))
	return session.New(prog, session.Config{
		ChannelName: channel,
		Bus:         mb,
		Arbiter:     arbiter.NewChannel(),
		Bridge:      record.NewMapBridge(channel),
	})
}

func TestListSessions(t *testing.T) {
	m := NewManager(nil)
	s := newTestSession(t, "scope1")
	m.Track(s)

	router := NewRouter(m)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), s.ID())
	require.Contains(t, rec.Body.String(), "scope1")
}

func TestAbortSessionUnknown(t *testing.T) {
	m := NewManager(nil)
	router := NewRouter(m)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/nope/abort", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReloadWithoutReloaderConfigured(t *testing.T) {
	m := NewManager(nil)
	router := NewRouter(m)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reload", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReloadDelegatesToReloader(t *testing.T) {
	m := NewManager(nil)
	var got string
	m.Reloader = func(record string) error {
		got = record
		return nil
	}
	router := NewRouter(m)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reload", strings.NewReader(`{"record":"scope1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "scope1", got)
}

func TestReportRecordFiltersByChannel(t *testing.T) {
	m := NewManager(nil)
	s := newTestSession(t, "scope1")
	s.StartProtocol(context.Background(), session.ModeNormal)
	deadline := time.Now().Add(time.Second)
	for s.State() != session.Idle && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	m.Track(s)

	router := NewRouter(m)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/records/scope1/report", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Success")

	req = httptest.NewRequest(http.MethodPost, "/api/v1/records/other/report", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetLogfileRequiresPath(t *testing.T) {
	m := NewManager(nil)
	router := NewRouter(m)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/logfile", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
