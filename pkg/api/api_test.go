package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/internal/ratelimiter"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/drive/engine"
	"github.com/marmos91/dittodrive/pkg/facade"
	contentmemory "github.com/marmos91/dittodrive/pkg/store/content/memory"
	snapshotmemory "github.com/marmos91/dittodrive/pkg/store/snapshot/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	t       *testing.T
	drive   *facade.Drive
	handler http.Handler
}

func newTestAPI(t *testing.T, cfg Config) *testAPI {
	t.Helper()
	d, err := facade.Open(context.Background(), facade.Options{
		Snapshots: snapshotmemory.New(),
		Content:   contentmemory.New(),
		Engine: engine.Options{
			IDs:        drive.NewSequenceGenerator("id"),
			TotalBytes: 1 << 20,
		},
	})
	require.NoError(t, err)
	return &testAPI{t: t, drive: d, handler: NewRouter(d, cfg)}
}

func (a *testAPI) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	a.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) json(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var r io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(a.t, err)
		r = bytes.NewReader(payload)
	}
	return a.do(method, path, r, "application/json")
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func multipartBody(t *testing.T, files map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, Config{})
	rec := a.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestFolders(t *testing.T) {
	a := newTestAPI(t, Config{})

	rec := a.json(http.MethodPost, "/api/v1/folders", map[string]string{"name": "Photos", "parentId": "root"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	photos := decode[drive.Folder](t, rec)
	assert.Equal(t, "Photos", photos.Name)

	rec = a.json(http.MethodPost, "/api/v1/folders", map[string]string{"name": "2024", "parentId": photos.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	year := decode[drive.Folder](t, rec)

	rec = a.do(http.MethodGet, "/api/v1/folders/"+year.ID+"/breadcrumbs", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	crumbs := decode[map[string][]drive.Folder](t, rec)["folders"]
	require.Len(t, crumbs, 3)
	assert.Equal(t, "My Drive", crumbs[0].Name)

	rec = a.do(http.MethodGet, "/api/v1/listing?location=root", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	l := decode[listingResponse](t, rec)
	require.Len(t, l.Folders, 1)
	assert.Equal(t, photos.ID, l.Folders[0].ID)
	assert.Equal(t, "root", l.Location)

	rec = a.do(http.MethodDelete, "/api/v1/folders/"+photos.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[engine.DeleteResult](t, rec)
	assert.ElementsMatch(t, []string{photos.ID, year.ID}, res.Folders)

	rec = a.do(http.MethodDelete, "/api/v1/folders/"+photos.ID, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code, "deleting twice is harmless")
}

func TestProblems(t *testing.T) {
	a := newTestAPI(t, Config{})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"EmptyName", http.MethodPost, "/api/v1/folders", map[string]string{"name": "  "}, http.StatusBadRequest, "validation"},
		{"MissingName", http.MethodPost, "/api/v1/folders", map[string]string{}, http.StatusBadRequest, "validation"},
		{"PseudoParent", http.MethodPost, "/api/v1/folders", map[string]string{"name": "x", "parentId": "starred"}, http.StatusBadRequest, "validation"},
		{"UnknownParent", http.MethodPost, "/api/v1/folders", map[string]string{"name": "x", "parentId": "ghost"}, http.StatusConflict, "invariant_violation"},
		{"DeleteRoot", http.MethodDelete, "/api/v1/folders/root", nil, http.StatusBadRequest, "validation"},
		{"StarMissing", http.MethodPost, "/api/v1/files/ghost/star", nil, http.StatusNotFound, "not_found"},
		{"VerifyMissingFlag", http.MethodPut, "/api/v1/files/ghost/verified", map[string]any{}, http.StatusBadRequest, "validation"},
		{"BreadcrumbsMissing", http.MethodGet, "/api/v1/folders/ghost/breadcrumbs", nil, http.StatusNotFound, "not_found"},
		{"BadSort", http.MethodGet, "/api/v1/listing?sort=color", nil, http.StatusBadRequest, "validation"},
		{"IngestWithoutFiles", http.MethodPost, "/api/v1/folders/root/files", map[string]any{}, http.StatusBadRequest, "validation"},
		{"NoRoute", http.MethodGet, "/api/v2/nothing", nil, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.json(tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, problemContentType, rec.Header().Get("Content-Type"))

			p := decode[Problem](t, rec)
			assert.Equal(t, tt.status, p.Status)
			assert.Equal(t, tt.code, p.Code)
			assert.NotEmpty(t, p.Type)
		})
	}

	rec := a.do(http.MethodPost, "/api/v1/folders", strings.NewReader("{not json"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestAndFileMutations(t *testing.T) {
	a := newTestAPI(t, Config{})

	rec := a.json(http.MethodPost, "/api/v1/folders/root/files", map[string]any{
		"files": []drive.FileDescriptor{
			{Name: "report.pdf", SizeBytes: 2048, ContentRef: "external-1"},
			{Name: "", SizeBytes: 1},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[engine.IngestResult](t, rec)
	require.Len(t, res.Files, 1)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 1, res.Rejected[0].Index)
	assert.NotEmpty(t, res.Rejected[0].Reason)
	id := res.Files[0].ID

	rec = a.do(http.MethodPost, "/api/v1/files/"+id+"/star", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[drive.File](t, rec).Starred)

	rec = a.json(http.MethodPut, "/api/v1/files/"+id+"/verified", map[string]bool{"verified": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[drive.File](t, rec).Verified)

	for _, loc := range []string{"starred", "verified", "recent", "verified&folder=root"} {
		rec = a.do(http.MethodGet, "/api/v1/listing?location="+loc, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[listingResponse](t, rec).Files, 1, loc)
	}

	rec = a.do(http.MethodGet, "/api/v1/listing?location=trash", nil, "")
	assert.JSONEq(t, `{"location":"trash","sort":"none","folders":[],"files":[]}`, rec.Body.String())

	rec = a.do(http.MethodGet, "/api/v1/usage", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	usage := decode[map[string]any](t, rec)
	assert.Equal(t, 2048.0, usage["usedBytes"])
	assert.Equal(t, "2.0 KiB of 1.0 MiB used", usage["summary"])

	rec = a.do(http.MethodDelete, "/api/v1/files/"+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2048), decode[engine.DeleteResult](t, rec).FreedBytes)
}

func TestUploadAndDownload(t *testing.T) {
	a := newTestAPI(t, Config{})

	body, ct := multipartBody(t, map[string]string{"hello.txt": "hello, drive"})
	rec := a.do(http.MethodPost, "/api/v1/folders/root/uploads", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[engine.IngestResult](t, rec)
	require.Len(t, res.Files, 1)
	f := res.Files[0]
	assert.Equal(t, int64(12), f.SizeBytes)
	assert.Equal(t, "text/plain; charset=utf-8", f.MimeType)

	rec = a.do(http.MethodGet, "/api/v1/files/"+f.ID+"/content", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello, drive", rec.Body.String())
	assert.Equal(t, f.MimeType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename=hello.txt`)

	rec = a.do(http.MethodGet, "/api/v1/files/ghost/content", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadOrdersByFieldThenPart(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range []struct{ field, name string }{
		{"photos", "p1.txt"},
		{"docs", "d1.txt"},
		{"photos", "p2.txt"},
		{"attachments", "a1.txt"},
		{"docs", "d2.txt"},
	} {
		part, err := mw.CreateFormFile(p.field, p.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(p.name))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	for i := 0; i < 5; i++ {
		a := newTestAPI(t, Config{})
		rec := a.do(http.MethodPost, "/api/v1/folders/root/uploads", bytes.NewReader(buf.Bytes()), mw.FormDataContentType())
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		res := decode[engine.IngestResult](t, rec)
		var names []string
		for _, f := range res.Files {
			names = append(names, f.Name)
		}
		assert.Equal(t, []string{"a1.txt", "d1.txt", "d2.txt", "p1.txt", "p2.txt"}, names)
	}
}

func TestUploadErrors(t *testing.T) {
	a := newTestAPI(t, Config{MaxUploadBytes: 64})

	body, ct := multipartBody(t, map[string]string{"big.bin": strings.Repeat("x", 1024)})
	rec := a.do(http.MethodPost, "/api/v1/folders/root/uploads", body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())

	body, ct = multipartBody(t, map[string]string{})
	rec = a.do(http.MethodPost, "/api/v1/folders/root/uploads", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/api/v1/folders/root/uploads", strings.NewReader("plain"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuotaExceeded(t *testing.T) {
	d, err := facade.Open(context.Background(), facade.Options{
		Snapshots: snapshotmemory.New(),
		Engine:    engine.Options{TotalBytes: 100, EnforceQuota: true},
	})
	require.NoError(t, err)
	a := &testAPI{t: t, drive: d, handler: NewRouter(d, Config{})}

	rec := a.json(http.MethodPost, "/api/v1/folders/root/files", map[string]any{
		"files": []drive.FileDescriptor{{Name: "huge.iso", SizeBytes: 101}},
	})
	assert.Equal(t, http.StatusInsufficientStorage, rec.Code)
	assert.Equal(t, "no_space", decode[Problem](t, rec).Code)

	body, ct := multipartBody(t, map[string]string{"a.txt": "a"})
	rec = a.do(http.MethodPost, "/api/v1/folders/root/uploads", body, ct)
	assert.Equal(t, http.StatusNotImplemented, rec.Code, "no content store")
}

func TestRateLimit(t *testing.T) {
	d, err := facade.Open(context.Background(), facade.Options{Snapshots: snapshotmemory.New()})
	require.NoError(t, err)
	h := newRouter(d, Config{}, ratelimiter.New(ratelimiter.Config{RequestsPerSecond: 0.001, Burst: 2}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCORS(t *testing.T) {
	a := newTestAPI(t, Config{CORSOrigins: []string{"https://drive.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/usage", nil)
	req.Header.Set("Origin", "https://drive.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://drive.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_ServeAndStop(t *testing.T) {
	d, err := facade.Open(context.Background(), facade.Options{Snapshots: snapshotmemory.New()})
	require.NoError(t, err)

	s := New(Config{Host: "127.0.0.1"})
	assert.Equal(t, "HTTP", s.Protocol())
	assert.Equal(t, 8080, s.Port())
	s.config.Port = 0 // let the system pick
	s.SetDrive(d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/health", s.Addr()))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_RequiresDrive(t *testing.T) {
	assert.Error(t, New(Config{}).Serve(context.Background()))
	assert.NoError(t, New(Config{}).Stop(context.Background()))
}
