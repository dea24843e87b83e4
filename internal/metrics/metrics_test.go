package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/projects/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/projects/{id}", "418"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/abc", nil))

	after := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/projects/{id}", "418"))
	if after-before != 1 {
		t.Fatalf("expected request counted under route pattern, delta=%v", after-before)
	}
}

func TestCollaborationCounters(t *testing.T) {
	rooms := testutil.ToFloat64(activeRooms)
	RoomOpened()
	RoomOpened()
	RoomClosed()
	if got := testutil.ToFloat64(activeRooms) - rooms; got != 1 {
		t.Fatalf("expected +1 active room, got %v", got)
	}

	conns := testutil.ToFloat64(activeConnections)
	ConnectionOpened()
	ConnectionClosed()
	if got := testutil.ToFloat64(activeConnections) - conns; got != 0 {
		t.Fatalf("expected balanced connections, got %v", got)
	}

	sent := testutil.ToFloat64(broadcasts.WithLabelValues("file_updated"))
	Broadcast("file_updated", 3)
	if got := testutil.ToFloat64(broadcasts.WithLabelValues("file_updated")) - sent; got != 3 {
		t.Fatalf("expected 3 recipients counted, got %v", got)
	}

	SocketEvent("join_room", "ok")
	Execution("python", "ok", 200*time.Millisecond)
	if testutil.ToFloat64(executions.WithLabelValues("python", "ok")) < 1 {
		t.Fatalf("expected execution counted")
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	RoomOpened()
	defer RoomClosed()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "collab_active_rooms") {
		t.Fatalf("expected collab_active_rooms in output")
	}
}
