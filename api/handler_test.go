package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetbridge/clients"
	"assetbridge/config"
	"assetbridge/task"
)

func setupTestRouter(t *testing.T, apiBase string, shutdown func()) (*gin.Engine, *task.Registry) {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Port:           "62485",
		APIBase:        apiBase,
		TLSTrust:       "system",
		ProxyMode:      "none",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
		IdleExit:       5 * time.Minute,
		ChunkSize:      1024,
	}
	pool, err := clients.NewPool(cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	if shutdown == nil {
		shutdown = func() {}
	}
	reg := task.NewRegistry()
	h := NewHandler(cfg, reg, pool, nil, NewActivity(), shutdown)
	return SetupRouter(h), reg
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "127.0.0.1:50001"
	router.ServeHTTP(w, req)
	return w
}

func TestHandleLiveness(t *testing.T) {
	router, _ := setupTestRouter(t, "https://unused.example.com", nil)

	w := doRequest(router, "GET", "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, strconv.Itoa(os.Getpid()), w.Body.String())
}

func TestLoopbackOnlyRejectsRemoteCallers(t *testing.T) {
	router, _ := setupTestRouter(t, "https://unused.example.com", nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.10:40000"
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleReportRequiresAppID(t *testing.T) {
	router, _ := setupTestRouter(t, "https://unused.example.com", nil)

	w := doRequest(router, "GET", "/report", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleReportDeliversTerminalTasksOnce(t *testing.T) {
	router, reg := setupTestRouter(t, "https://unused.example.com", nil)

	finished := task.New("", "app-1", "search", nil)
	finished.Finished("Search results downloaded")
	running := task.New("", "app-1", "asset_download", nil)
	running.Progress(40, "Downloading")
	other := task.New("", "app-2", "search", nil)
	other.Finished("Search results downloaded")
	reg.Add(finished)
	reg.Add(running)
	reg.Add(other)

	w := doRequest(router, "GET", "/report", `{"app_id": "app-1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var records []task.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, task.StatusFinished, records[0].Status)
	assert.Equal(t, task.StatusCreated, records[1].Status)
	assert.Equal(t, 40, records[1].Progress)

	// The delivered terminal task is gone, the in-flight one stays, and
	// app-2's task is untouched.
	_, found := reg.Get(finished.ID())
	assert.False(t, found)
	_, found = reg.Get(running.ID())
	assert.True(t, found)
	_, found = reg.Get(other.ID())
	assert.True(t, found)

	w = doRequest(router, "GET", "/report", `{"app_id": "app-1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, running.ID(), records[0].TaskID)
}

func TestHandleKill(t *testing.T) {
	router, reg := setupTestRouter(t, "https://unused.example.com", nil)

	running := task.New("", "app-1", "asset_download", nil)
	reg.Add(running)

	w := doRequest(router, "GET", "/kill_download", fmt.Sprintf(`{"task_id": %q}`, running.ID()))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, running.Killed())

	// Unknown ids are not an error; the task may have been delivered already.
	w = doRequest(router, "GET", "/kill_download", `{"task_id": "gone"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestHandleSearchAssetSpawnsTask(t *testing.T) {
	marketplace := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results": []}`)
	}))
	defer marketplace.Close()

	router, reg := setupTestRouter(t, marketplace.URL, nil)

	body := fmt.Sprintf(`{"app_id": "app-1", "api_key": "key", "urlquery": %q, "tempdir": %q}`,
		marketplace.URL+"/api/v1/search/", t.TempDir())
	w := doRequest(router, "POST", "/search_asset", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["task_id"])

	tk, found := reg.Get(resp["task_id"])
	require.True(t, found)
	assert.Equal(t, "app-1", tk.AppID())
	assert.Equal(t, "search", tk.TaskType())

	// The operation runs in the background and finishes on its own.
	require.Eventually(t, func() bool {
		return tk.Snapshot().Status == task.StatusFinished
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHandleSearchAssetRejectsMalformedBody(t *testing.T) {
	router, reg := setupTestRouter(t, "https://unused.example.com", nil)

	w := doRequest(router, "POST", "/search_asset", `{"app_id": 42`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, reg.Len())
}

func TestHandleShutdown(t *testing.T) {
	called := make(chan struct{})
	router, _ := setupTestRouter(t, "https://unused.example.com", func() { close(called) })

	w := doRequest(router, "GET", "/shutdown", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback never fired")
	}
}

func TestActivityIdleFor(t *testing.T) {
	a := NewActivity()
	assert.Less(t, a.IdleFor(), time.Second)

	a.last = time.Now().Add(-time.Hour)
	assert.Greater(t, a.IdleFor(), 59*time.Minute)

	a.Touch("app-1")
	assert.Less(t, a.IdleFor(), time.Second)
}

func TestActivityActiveTracksPollers(t *testing.T) {
	a := NewActivity()
	assert.Empty(t, a.Active(time.Minute))

	a.Touch("app-2")
	a.Touch("app-1")
	a.Touch("")
	assert.Equal(t, []string{"app-1", "app-2"}, a.Active(time.Minute))

	// Stale pollers age out of the window; a non-positive window keeps all.
	a.seen["app-2"] = time.Now().Add(-time.Hour)
	assert.Equal(t, []string{"app-1"}, a.Active(time.Minute))
	assert.Equal(t, []string{"app-1", "app-2"}, a.Active(0))
}

func TestRefreshTokenReachesPollingClientWithNoTasks(t *testing.T) {
	marketplace := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/o/token/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"access_token": "at", "refresh_token": "rt"}`)
	}))
	defer marketplace.Close()

	router, reg := setupTestRouter(t, marketplace.URL, nil)

	// The client polls once with nothing in flight, then asks for a refresh.
	w := doRequest(router, "GET", "/report", `{"app_id": "app-1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 0, reg.Len())

	w = doRequest(router, "POST", "/refresh_token", `{"grant_type": "refresh_token", "refresh_token": "rt"}`)
	require.Equal(t, http.StatusOK, w.Code)

	// The login task lands for the polling app even though it never held a
	// task in the registry.
	require.Eventually(t, func() bool {
		tasks := reg.ForApp("app-1")
		return len(tasks) == 1 && tasks[0].TaskType() == "login" &&
			tasks[0].Snapshot().Status == task.StatusFinished
	}, 2*time.Second, 5*time.Millisecond)
}
