// Package drivetest provides an in-memory Drive compatible server for tests.
package drivetest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foomo/cloudbackup/pkg/drive"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultPageSize = 100

type (
	Server struct {
		srv      *httptest.Server
		clock    clockwork.Clock
		token    string
		user     *drive.UserInfo
		mu       sync.Mutex
		seq      int
		objects  map[string]*object
		sessions map[string]*session
		failures []*Failure
		holds    []*hold
		calls    []Call
		// caps the page size of searches, zero for none
		maxPageSize int
	}
	Option func(*Server)
)

// Call is a recorded request.
type Call struct {
	Method string
	Path   string
	Query  string
}

// Failure makes matching requests fail with Status, Times times.
type Failure struct {
	Method        string
	Path          string
	QueryContains string
	Status        int
	Times         int
}

type hold struct {
	method        string
	queryContains string
	release       chan struct{}
}

type object struct {
	file drive.File
	data []byte
	seq  int
}

type session struct {
	md       drive.Metadata
	updateID string
}

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func NewServer(tb testing.TB, opts ...Option) *Server {
	tb.Helper()
	inst := &Server{
		clock:    clockwork.NewRealClock(),
		objects:  map[string]*object{},
		sessions: map[string]*session{},
	}
	for _, opt := range opts {
		opt(inst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /files", inst.handleSearch)
	mux.HandleFunc("POST /files", inst.handleCreate)
	mux.HandleFunc("GET /files/{id}", inst.handleGet)
	mux.HandleFunc("PATCH /files/{id}", inst.handleRename)
	mux.HandleFunc("DELETE /files/{id}", inst.handleDelete)
	mux.HandleFunc("POST /upload/files", inst.handleInitiateCreate)
	mux.HandleFunc("PATCH /upload/files/{id}", inst.handleInitiateUpdate)
	mux.HandleFunc("PUT /upload/sessions/{sid}", inst.handleUpload)
	mux.HandleFunc("GET /about", inst.handleAbout)

	inst.srv = httptest.NewServer(inst.intercept(mux))
	tb.Cleanup(inst.srv.Close)
	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithClock(v clockwork.Clock) Option {
	return func(o *Server) {
		o.clock = v
	}
}

// WithToken requires every request to carry this bearer token.
func WithToken(v string) Option {
	return func(o *Server) {
		o.token = v
	}
}

// WithMaxPageSize caps the number of files returned per search page.
func WithMaxPageSize(v int) Option {
	return func(o *Server) {
		o.maxPageSize = v
	}
}

func WithUser(v drive.UserInfo) Option {
	return func(o *Server) {
		o.user = &v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

func (s *Server) URL() string {
	return s.srv.URL
}

func (s *Server) UploadURL() string {
	return s.srv.URL + "/upload"
}

// Client returns a drive client talking to this server.
func (s *Server) Client(l *zap.Logger, opts ...drive.Option) *drive.Client {
	opts = append([]drive.Option{
		drive.WithHTTPClient(s.srv.Client()),
		drive.WithBaseURL(s.URL()),
		drive.WithUploadURL(s.UploadURL()),
		drive.WithAccessToken(s.token),
	}, opts...)
	return drive.New(l, opts...)
}

// AddFolder inserts a folder created at the given time.
func (s *Server) AddFolder(name string, created time.Time) drive.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(drive.File{
		Name:         name,
		MimeType:     drive.MimeTypeFolder,
		CreatedTime:  created,
		ModifiedTime: created,
	}, nil).file
}

// AddFile inserts a json file below parent modified at the given time.
func (s *Server) AddFile(parent, name string, modified time.Time, data []byte) drive.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(drive.File{
		Name:         name,
		MimeType:     drive.MimeTypeJSON,
		Parents:      []string{parent},
		CreatedTime:  modified,
		ModifiedTime: modified,
	}, data).file
}

// Remove hard deletes an object and everything below it.
func (s *Server) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(id)
}

// Trash marks an object as trashed.
func (s *Server) Trash(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.objects[id]; ok {
		o.file.Trashed = true
	}
}

// Folders returns all folders with the given name, oldest first.
func (s *Server) Folders(name string) []drive.File {
	return s.list(func(f drive.File) bool {
		return f.IsFolder() && f.Name == name
	})
}

// Children returns all objects below parent, oldest first.
func (s *Server) Children(parent string) []drive.File {
	return s.list(func(f drive.File) bool {
		return hasParent(f, parent)
	})
}

func (s *Server) Content(id string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.objects[id]; ok {
		return append([]byte(nil), o.data...)
	}
	return nil
}

// SetContent replaces the stored bytes of a file without touching its metadata.
func (s *Server) SetContent(id string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.objects[id]; ok {
		o.data = data
	}
}

// Fail registers a failure for matching requests.
func (s *Server) Fail(f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.Times == 0 {
		f.Times = 1
	}
	s.failures = append(s.failures, &f)
}

// Hold blocks matching requests until the returned release func is called.
func (s *Server) Hold(method, queryContains string) (release func()) {
	h := &hold{method: method, queryContains: queryContains, release: make(chan struct{})}
	s.mu.Lock()
	s.holds = append(s.holds, h)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			for i, v := range s.holds {
				if v == h {
					s.holds = append(s.holds[:i], s.holds[i+1:]...)
					break
				}
			}
			s.mu.Unlock()
			close(h.release)
		})
	}
}

func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CountCalls counts recorded requests by method, path prefix and query substring.
func (s *Server) CountCalls(method, path, queryContains string) int {
	var n int
	for _, c := range s.Calls() {
		if c.Method == method && strings.HasPrefix(c.Path, path) && strings.Contains(c.Query, queryContains) {
			n++
		}
	}
	return n
}

// ------------------------------------------------------------------------------------------------
// ~ Handlers
// ------------------------------------------------------------------------------------------------

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query, _ := urlUnescape(r.URL.RawQuery)
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Query: query})
		failure := s.matchFailure(r.Method, r.URL.Path, query)
		var held []*hold
		for _, h := range s.holds {
			if h.method == r.Method && strings.Contains(query, h.queryContains) {
				held = append(held, h)
			}
		}
		s.mu.Unlock()

		for _, h := range held {
			select {
			case <-h.release:
			case <-r.Context().Done():
				return
			}
		}

		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "authError", "Invalid Credentials")
			return
		}
		if failure != 0 {
			writeError(w, failure, "injected", http.StatusText(failure))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	filter, parent, err := parseQuery(r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidQuery", err.Error())
		return
	}

	s.mu.Lock()
	if parent != "" {
		if p, ok := s.objects[parent]; !ok || p.file.Trashed {
			s.mu.Unlock()
			writeError(w, http.StatusNotFound, "notFound", "File not found: "+parent)
			return
		}
	}
	var matches []*object
	for _, o := range s.objects {
		if filter(o.file) {
			matches = append(matches, o)
		}
	}
	s.mu.Unlock()

	orderBy := r.URL.Query().Get("orderBy")
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		switch orderBy {
		case "createdTime desc":
			if !a.file.CreatedTime.Equal(b.file.CreatedTime) {
				return a.file.CreatedTime.After(b.file.CreatedTime)
			}
			return a.seq > b.seq
		case "modifiedTime desc":
			if !a.file.ModifiedTime.Equal(b.file.ModifiedTime) {
				return a.file.ModifiedTime.After(b.file.ModifiedTime)
			}
			return a.seq > b.seq
		default:
			return a.seq < b.seq
		}
	})

	size := defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("pageSize")); err == nil && v > 0 {
		size = v
	}
	if s.maxPageSize > 0 && size > s.maxPageSize {
		size = s.maxPageSize
	}
	offset := 0
	if token := r.URL.Query().Get("pageToken"); token != "" {
		if offset, err = strconv.Atoi(token); err != nil || offset < 0 || offset > len(matches) {
			writeError(w, http.StatusBadRequest, "invalidParameter", "Invalid page token: "+token)
			return
		}
	}
	end := min(offset+size, len(matches))

	list := drive.FileList{Files: make([]*drive.File, 0, end-offset)}
	for _, o := range matches[offset:end] {
		f := o.file
		list.Files = append(list.Files, &f)
	}
	if end < len(matches) {
		list.NextPageToken = strconv.Itoa(end)
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var md drive.Metadata
	if !readJSON(w, r, &md) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.parentsExist(md.Parents) {
		writeError(w, http.StatusNotFound, "notFound", "parent not found")
		return
	}
	now := s.clock.Now().UTC()
	o := s.insert(drive.File{
		Name:         md.Name,
		MimeType:     md.MimeType,
		Parents:      md.Parents,
		CreatedTime:  now,
		ModifiedTime: now,
	}, nil)
	writeJSON(w, http.StatusOK, o.file)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	o, ok := s.objects[r.PathValue("id")]
	var (
		file drive.File
		data []byte
	)
	if ok {
		file = o.file
		data = append([]byte(nil), o.data...)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "notFound", "File not found: "+r.PathValue("id"))
		return
	}
	if r.URL.Query().Get("alt") == "media" {
		w.Header().Set("Content-Type", file.MimeType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var md drive.Metadata
	if !readJSON(w, r, &md) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "notFound", "File not found: "+r.PathValue("id"))
		return
	}
	if md.Name != "" {
		o.file.Name = md.Name
		o.file.ModifiedTime = s.clock.Now().UTC()
	}
	writeJSON(w, http.StatusOK, o.file)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[r.PathValue("id")]; !ok {
		writeError(w, http.StatusNotFound, "notFound", "File not found: "+r.PathValue("id"))
		return
	}
	s.remove(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInitiateCreate(w http.ResponseWriter, r *http.Request) {
	if !requireResumable(w, r) {
		return
	}
	var md drive.Metadata
	if !readJSON(w, r, &md) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.parentsExist(md.Parents) {
		writeError(w, http.StatusNotFound, "notFound", "parent not found")
		return
	}
	s.startSession(w, &session{md: md})
}

func (s *Server) handleInitiateUpdate(w http.ResponseWriter, r *http.Request) {
	if !requireResumable(w, r) {
		return
	}
	var md drive.Metadata
	if !readJSON(w, r, &md) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[r.PathValue("id")]; !ok {
		writeError(w, http.StatusNotFound, "notFound", "File not found: "+r.PathValue("id"))
		return
	}
	s.startSession(w, &session{md: md, updateID: r.PathValue("id")})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "badRequest", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[r.PathValue("sid")]
	if !ok {
		writeError(w, http.StatusNotFound, "notFound", "upload session not found")
		return
	}
	delete(s.sessions, r.PathValue("sid"))

	now := s.clock.Now().UTC()
	if sess.updateID != "" {
		o, ok := s.objects[sess.updateID]
		if !ok {
			writeError(w, http.StatusNotFound, "notFound", "File not found: "+sess.updateID)
			return
		}
		o.data = data
		o.file.Size = int64(len(data))
		o.file.ModifiedTime = now
		if sess.md.Name != "" {
			o.file.Name = sess.md.Name
		}
		writeJSON(w, http.StatusOK, o.file)
		return
	}

	if !s.parentsExist(sess.md.Parents) {
		writeError(w, http.StatusNotFound, "notFound", "parent not found")
		return
	}
	mimeType := sess.md.MimeType
	if mimeType == "" {
		mimeType = r.Header.Get("Content-Type")
	}
	o := s.insert(drive.File{
		Name:         sess.md.Name,
		MimeType:     mimeType,
		Parents:      sess.md.Parents,
		CreatedTime:  now,
		ModifiedTime: now,
	}, data)
	writeJSON(w, http.StatusOK, o.file)
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	if s.user == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": s.user})
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (s *Server) insert(f drive.File, data []byte) *object {
	s.seq++
	f.ID = uuid.New().String()
	f.Size = int64(len(data))
	o := &object{file: f, data: data, seq: s.seq}
	s.objects[f.ID] = o
	return o
}

func (s *Server) remove(id string) {
	delete(s.objects, id)
	for childID, o := range s.objects {
		if hasParent(o.file, id) {
			s.remove(childID)
		}
	}
}

func (s *Server) list(match func(drive.File) bool) []drive.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []*object
	for _, o := range s.objects {
		if match(o.file) {
			matches = append(matches, o)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].seq < matches[j].seq
	})
	ret := make([]drive.File, 0, len(matches))
	for _, o := range matches {
		ret = append(ret, o.file)
	}
	return ret
}

func (s *Server) parentsExist(parents []string) bool {
	for _, p := range parents {
		if o, ok := s.objects[p]; !ok || o.file.Trashed {
			return false
		}
	}
	return true
}

func (s *Server) startSession(w http.ResponseWriter, sess *session) {
	sid := uuid.New().String()
	s.sessions[sid] = sess
	w.Header().Set("Location", s.srv.URL+"/upload/sessions/"+sid)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) matchFailure(method, path, query string) int {
	for i, f := range s.failures {
		if f.Method != "" && f.Method != method {
			continue
		}
		if f.Path != "" && !strings.HasPrefix(path, f.Path) {
			continue
		}
		if f.QueryContains != "" && !strings.Contains(query, f.QueryContains) {
			continue
		}
		s.failures[i].Times--
		if s.failures[i].Times <= 0 {
			s.failures = append(s.failures[:i], s.failures[i+1:]...)
		}
		return f.Status
	}
	return 0
}

func requireResumable(w http.ResponseWriter, r *http.Request) bool {
	if r.URL.Query().Get("uploadType") != "resumable" {
		writeError(w, http.StatusBadRequest, "badRequest", "uploadType must be resumable")
		return false
	}
	return true
}

func hasParent(f drive.File, parent string) bool {
	for _, p := range f.Parents {
		if p == parent {
			return true
		}
	}
	return false
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "badRequest", err.Error())
		return false
	}
	if len(data) == 0 {
		return true
	}
	if err := json.Unmarshal(data, v); err != nil {
		writeError(w, http.StatusBadRequest, "parseError", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    status,
			"message": message,
			"errors": []map[string]string{
				{"reason": reason, "message": message},
			},
		},
	})
}
