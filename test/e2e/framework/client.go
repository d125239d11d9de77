package framework

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/drive/engine"
	"github.com/marmos91/dittodrive/pkg/drive/quota"
	"github.com/stretchr/testify/require"
)

// Listing is the body of GET /api/v1/listing.
type Listing struct {
	Location string         `json:"location"`
	Sort     string         `json:"sort"`
	Folders  []drive.Folder `json:"folders"`
	Files    []drive.File   `json:"files"`
}

// Usage is the body of GET /api/v1/usage.
type Usage struct {
	quota.Report
	Summary string `json:"summary"`
}

// Problem is an error body.
type Problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// Response is a raw API response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the body into v.
func (r Response) Decode(t testing.TB, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Body, v), "body: %s", r.Body)
}

// Client calls the HTTP API of a TestServer and fails the test on
// transport errors. Status checks are left to the caller unless the
// method name says otherwise.
type Client struct {
	t    testing.TB
	base string
	http *http.Client
}

// NewClient returns a client for ts.
func NewClient(t testing.TB, ts *TestServer) *Client {
	return &Client{t: t, base: ts.BaseURL(), http: &http.Client{Timeout: 30 * time.Second}}
}

// Do sends a request with an optional body.
func (c *Client) Do(method, path, contentType string, body io.Reader) Response {
	c.t.Helper()

	req, err := http.NewRequest(method, c.base+path, body)
	require.NoError(c.t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return Response{Status: resp.StatusCode, Header: resp.Header, Body: data}
}

// DoJSON sends v as a JSON body.
func (c *Client) DoJSON(method, path string, v any) Response {
	c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(c.t, err)
	return c.Do(method, path, "application/json", bytes.NewReader(data))
}

func (c *Client) expect(resp Response, status int, out any) {
	c.t.Helper()
	require.Equal(c.t, status, resp.Status, "body: %s", resp.Body)
	if out != nil {
		resp.Decode(c.t, out)
	}
}

// CreateFolder creates a folder and expects 201.
func (c *Client) CreateFolder(name, parentID string) drive.Folder {
	c.t.Helper()
	var f drive.Folder
	c.expect(c.DoJSON(http.MethodPost, "/api/v1/folders", map[string]string{"name": name, "parentId": parentID}), http.StatusCreated, &f)
	return f
}

// Upload sends files as one multipart request. It returns the raw
// response so callers can check partial results.
func (c *Client) Upload(folderID string, files map[string][]byte) Response {
	c.t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		part, err := mw.CreateFormFile("file", name)
		require.NoError(c.t, err)
		_, err = part.Write(data)
		require.NoError(c.t, err)
	}
	require.NoError(c.t, mw.Close())

	return c.Do(http.MethodPost, "/api/v1/folders/"+url.PathEscape(folderID)+"/uploads", mw.FormDataContentType(), &buf)
}

// UploadOne uploads a single file and expects it to be created.
func (c *Client) UploadOne(folderID, name string, data []byte) drive.File {
	c.t.Helper()
	var res engine.IngestResult
	c.expect(c.Upload(folderID, map[string][]byte{name: data}), http.StatusCreated, &res)
	require.Len(c.t, res.Files, 1)
	return res.Files[0]
}

// List returns the listing of a location token.
func (c *Client) List(location string, params url.Values) Listing {
	c.t.Helper()
	if params == nil {
		params = url.Values{}
	}
	params.Set("location", location)

	var l Listing
	c.expect(c.Do(http.MethodGet, "/api/v1/listing?"+params.Encode(), "", nil), http.StatusOK, &l)
	return l
}

// Breadcrumbs returns the folder chain from the root-level ancestor.
func (c *Client) Breadcrumbs(folderID string) []drive.Folder {
	c.t.Helper()
	var body struct {
		Folders []drive.Folder `json:"folders"`
	}
	c.expect(c.Do(http.MethodGet, "/api/v1/folders/"+url.PathEscape(folderID)+"/breadcrumbs", "", nil), http.StatusOK, &body)
	return body.Folders
}

// Usage returns the usage report.
func (c *Client) Usage() Usage {
	c.t.Helper()
	var u Usage
	c.expect(c.Do(http.MethodGet, "/api/v1/usage", "", nil), http.StatusOK, &u)
	return u
}

// ToggleStar flips the star of a file.
func (c *Client) ToggleStar(fileID string) drive.File {
	c.t.Helper()
	var f drive.File
	c.expect(c.Do(http.MethodPost, "/api/v1/files/"+url.PathEscape(fileID)+"/star", "", nil), http.StatusOK, &f)
	return f
}

// SetVerified sets the verified flag of a file.
func (c *Client) SetVerified(fileID string, verified bool) drive.File {
	c.t.Helper()
	var f drive.File
	c.expect(c.DoJSON(http.MethodPut, "/api/v1/files/"+url.PathEscape(fileID)+"/verified", map[string]bool{"verified": verified}), http.StatusOK, &f)
	return f
}

// Delete removes a file or a folder.
func (c *Client) Delete(id string, isFolder bool) engine.DeleteResult {
	c.t.Helper()
	kind := "files"
	if isFolder {
		kind = "folders"
	}
	var res engine.DeleteResult
	c.expect(c.Do(http.MethodDelete, fmt.Sprintf("/api/v1/%s/%s", kind, url.PathEscape(id)), "", nil), http.StatusOK, &res)
	return res
}

// Content downloads the bytes of a file.
func (c *Client) Content(fileID string) Response {
	c.t.Helper()
	return c.Do(http.MethodGet, "/api/v1/files/"+url.PathEscape(fileID)+"/content", "", nil)
}
