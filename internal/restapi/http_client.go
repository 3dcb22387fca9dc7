package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/N-Coder/studip-fuse/internal/entity"
	"github.com/sirupsen/logrus"
)

// Timeouts bundles the per-request HTTP timeouts spec.md section 5 says
// must be configurable (connect, read, keepalive).
type Timeouts struct {
	Connect   time.Duration
	Read      time.Duration
	KeepAlive time.Duration
}

// HTTPClient is a minimal implementation of Client against a Stud.IP REST
// base URL, authenticated by whatever http.RoundTripper the caller supplies
// (the OAuth1/basic/SSO dance itself is out of scope, per spec.md section 1).
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
	Log     *logrus.Entry
}

// NewHTTPClient builds a client that applies the given timeouts: Read bounds
// each whole request (http.Client.Timeout), and Connect/KeepAlive configure
// dialing when rt is an *http.Transport (a clone of it is used, rt itself is
// left unchanged). Any other rt, typically produced by the auth collaborator,
// is used as-is for the RoundTripper; callers needing no special auth may
// pass http.DefaultTransport.
func NewHTTPClient(baseURL string, rt http.RoundTripper, t Timeouts, log *logrus.Entry) *HTTPClient {
	if tr, ok := rt.(*http.Transport); ok {
		tr = tr.Clone()
		tr.DialContext = (&net.Dialer{Timeout: t.Connect, KeepAlive: t.KeepAlive}).DialContext
		rt = tr
	}
	return &HTTPClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTP: &http.Client{
			Transport: rt,
			Timeout:   t.Read,
		},
		Log: log,
	}
}

func (c *HTTPClient) CheckReachable(ctx context.Context) error {
	for _, path := range []string{"/discovery", "/user", "/settings"} {
		if _, err := c.getJSON(ctx, path, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *HTTPClient) ListSemesters(ctx context.Context) ([]*entity.Semester, error) {
	var raw []semesterDTO
	if _, err := c.getJSON(ctx, "/semesters", &raw); err != nil {
		return nil, err
	}
	out := make([]*entity.Semester, 0, len(raw))
	for _, d := range raw {
		out = append(out, d.toEntity())
	}
	return out, nil
}

func (c *HTTPClient) ListUserCourses(ctx context.Context) ([]*entity.Course, error) {
	var raw []courseDTO
	if _, err := c.getJSON(ctx, "/user/:me/courses", &raw); err != nil {
		return nil, err
	}
	out := make([]*entity.Course, 0, len(raw))
	for _, d := range raw {
		out = append(out, d.toEntity())
	}
	return out, nil
}

func (c *HTTPClient) TopFolder(ctx context.Context, courseID string) (*entity.Folder, error) {
	var d folderDTO
	if _, err := c.getJSON(ctx, "/course/"+url.PathEscape(courseID)+"/top_folder", &d); err != nil {
		return nil, err
	}
	return d.toEntity(courseID), nil
}

func (c *HTTPClient) Folder(ctx context.Context, folderID string) (*entity.Folder, error) {
	var d folderDTO
	if _, err := c.getJSON(ctx, "/folder/"+url.PathEscape(folderID), &d); err != nil {
		return nil, err
	}
	return d.toEntity(d.CourseID), nil
}

func (c *HTTPClient) FileMeta(ctx context.Context, fileID string) (*entity.File, error) {
	var d fileDTO
	if _, err := c.getJSON(ctx, "/file/"+url.PathEscape(fileID), &d); err != nil {
		return nil, err
	}
	return d.toEntity(), nil
}

func (c *HTTPClient) Download(ctx context.Context, downloadURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, &CrawlError{Kind: Protocol, Endpoint: downloadURL, Cause: err}
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, classifyErr(downloadURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, &CrawlError{Kind: HTTPStatus, StatusCode: resp.StatusCode, Endpoint: downloadURL}
	}
	return resp.Body, nil
}

func (c *HTTPClient) EntityURL(e entity.Entity) string {
	switch v := e.(type) {
	case *entity.Semester:
		return fmt.Sprintf("%s/semester/%s", c.BaseURL, v.ID)
	case *entity.Course:
		return fmt.Sprintf("%s/course/%s", c.BaseURL, v.ID)
	case *entity.Folder:
		return fmt.Sprintf("%s/folder/%s", c.BaseURL, v.ID)
	case *entity.File:
		return fmt.Sprintf("%s/file/%s", c.BaseURL, v.ID)
	default:
		return c.BaseURL
	}
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) (*http.Response, error) {
	endpoint := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &CrawlError{Kind: Protocol, Endpoint: endpoint, Cause: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, classifyErr(endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp, &CrawlError{Kind: EndpointMissing, Endpoint: endpoint, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, &CrawlError{Kind: HTTPStatus, Endpoint: endpoint, StatusCode: resp.StatusCode}
	}
	if out == nil {
		return resp, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp, &CrawlError{Kind: Parse, Endpoint: endpoint, Cause: err}
	}
	return resp, nil
}

// do retries exactly once on a CrawlError::Timeout for idempotent GETs, with
// a 1s delay, per spec.md section 7.
func (c *HTTPClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.HTTP.Do(req)
	if err == nil {
		return resp, nil
	}
	if !isTimeoutErr(err) {
		return nil, err
	}
	c.Log.WithField("url", req.URL.String()).Debug("timeout, retrying once after 1s")
	timer := time.NewTimer(time.Second)
	defer timer.Stop()
	select {
	case <-req.Context().Done():
		return nil, req.Context().Err()
	case <-timer.C:
	}
	return c.HTTP.Do(req)
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok {
		return te.Timeout()
	}
	return false
}

func classifyErr(endpoint string, err error) error {
	if isTimeoutErr(err) {
		return &CrawlError{Kind: Timeout, Endpoint: endpoint, Cause: err}
	}
	return &CrawlError{Kind: Protocol, Endpoint: endpoint, Cause: err}
}

// --- wire DTOs -------------------------------------------------------------

type semesterDTO struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Begin int64  `json:"begin"` // unix seconds
	End   int64  `json:"end"`
}

func (d semesterDTO) toEntity() *entity.Semester {
	return &entity.Semester{
		ID:    d.ID,
		Title: d.Title,
		Begin: time.Unix(d.Begin, 0).UTC(),
		End:   time.Unix(d.End, 0).UTC(),
	}
}

type courseDTO struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Number      string   `json:"number"`
	Subtitle    string   `json:"subtitle"`
	Description string   `json:"description"`
	Group       string   `json:"group"`
	Location    string   `json:"location"`
	Class       string   `json:"class"`
	Type        string   `json:"type"`
	TypeShort   string   `json:"type_short"`
	Abbrev      string   `json:"abbreviation"`
	SemesterIDs []string `json:"semester_ids"`
}

func (d courseDTO) toEntity() *entity.Course {
	return &entity.Course{
		ID: d.ID, Title: d.Title, Number: d.Number, Subtitle: d.Subtitle,
		Description: d.Description, Group: d.Group, Location: d.Location,
		Class: d.Class, Type: d.Type, TypeShort: d.TypeShort,
		Abbrev: d.Abbrev, SemesterIDs: d.SemesterIDs,
	}
}

type folderDTO struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	ParentID       string   `json:"parent_id"`
	CourseID       string   `json:"course_id"`
	ChildFolderIDs []string `json:"folders"`
	ChildFileIDs   []string `json:"files"`
}

func (d folderDTO) toEntity(courseID string) *entity.Folder {
	cid := d.CourseID
	if cid == "" {
		cid = courseID
	}
	return &entity.Folder{
		ID: d.ID, Name: d.Name, ParentID: d.ParentID, CourseID: cid,
		ChildFolderIDs: d.ChildFolderIDs, ChildFileIDs: d.ChildFileIDs,
	}
}

type fileDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Size        int64  `json:"size"`
	MimeType    string `json:"mime_type"`
	Storage     string `json:"storage"`
	Terms       string `json:"terms"`
	Downloads   int    `json:"downloads"`
	ContentHash string `json:"content_hash"`
	MTime       int64  `json:"mtime"`
	DownloadURL string `json:"download_url"`
	FolderID    string `json:"folder_id"`
}

func (d fileDTO) toEntity() *entity.File {
	return &entity.File{
		ID: d.ID, Name: d.Name, Description: d.Description, Size: d.Size,
		MimeType: d.MimeType, Storage: d.Storage, Terms: d.Terms,
		Downloads: d.Downloads, ContentHash: d.ContentHash,
		ModTime: time.Unix(d.MTime, 0).UTC(), DownloadURL: d.DownloadURL,
		FolderID: d.FolderID,
	}
}
