// Package testing provides an in-memory, Swift-compatible object storage
// server for tests, with fault injection and request recording.
package testing

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	// AccountPath is the storage path prefix handed out as X-Storage-Url.
	AccountPath = "/v1/AUTH_test"

	metaPrefix = "X-Object-Meta-"
)

// RecordedRequest is a request seen by the Server, after auth.
type RecordedRequest struct {
	Method string
	// Path is account-relative and unescaped, e.g. "/container/object".
	Path  string
	Query url.Values
	Range string
}

type storedObject struct {
	data        []byte
	contentType string
	headers     http.Header
	manifest    string
}

// Server is a fake Swift cluster front-end.
type Server struct {
	*httptest.Server

	Username string
	Password string

	mu         sync.Mutex
	containers map[string]map[string]*storedObject
	tokens     map[string]bool
	tokenSeq   int
	authCount  int
	requests   []RecordedRequest
	faults     map[string][]int
}

// NewServer starts a server accepting the given credentials.
func NewServer(username, password string) *Server {
	s := &Server{
		Username:   username,
		Password:   password,
		containers: map[string]map[string]*storedObject{},
		tokens:     map[string]bool{},
		faults:     map[string][]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// StorageURL ...
func (s *Server) StorageURL() string {
	return s.URL + AccountPath
}

// Fail makes the next len(statuses) requests matching method and the
// account-relative path answer with the given statuses, in order.
func (s *Server) Fail(method, path string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	s.faults[key] = append(s.faults[key], statuses...)
}

// RevokeTokens invalidates every issued token.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = map[string]bool{}
}

// AuthCount returns the number of successful authentications.
func (s *Server) AuthCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authCount
}

// Requests returns a copy of the authenticated storage requests.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// CountRequests counts recorded requests by method and path prefix.
func (s *Server) CountRequests(method, pathPrefix string) int {
	count := 0
	for _, r := range s.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, pathPrefix) {
			count++
		}
	}
	return count
}

// ResetRequests ...
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// PutObject stores an object directly, creating the container if needed.
func (s *Server) PutObject(container, name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.containers[container] == nil {
		s.containers[container] = map[string]*storedObject{}
	}
	s.containers[container][name] = &storedObject{data: append([]byte(nil), data...), headers: http.Header{}}
}

// Object returns the resolved content of an object (manifests are expanded).
func (s *Server) Object(container, name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.lookup(container, name)
	if !ok {
		return nil, false
	}
	return s.content(obj), true
}

// ObjectHeader returns a stored header of an object.
func (s *Server) ObjectHeader(container, name, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.lookup(container, name)
	if !ok {
		return ""
	}
	if strings.EqualFold(key, "X-Object-Manifest") {
		return obj.manifest
	}
	if strings.EqualFold(key, "Content-Type") {
		return obj.contentType
	}
	return obj.headers.Get(key)
}

// ObjectNames lists a container in lexical order.
func (s *Server) ObjectNames(container string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names(container, "")
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/auth/v1.0" {
		s.handleAuth(w, r)
		return
	}

	if !strings.HasPrefix(r.URL.Path, AccountPath) {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tokens[r.Header.Get("X-Auth-Token")] {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, "invalid token")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, AccountPath)
	s.requests = append(s.requests, RecordedRequest{
		Method: r.Method,
		Path:   path,
		Query:  r.URL.Query(),
		Range:  r.Header.Get("Range"),
	})

	key := r.Method + " " + path
	if statuses := s.faults[key]; len(statuses) > 0 {
		s.faults[key] = statuses[1:]
		w.WriteHeader(statuses[0])
		_, _ = io.WriteString(w, http.StatusText(statuses[0]))
		return
	}

	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		s.handleAccount(w, r)
		return
	}

	container, object, _ := strings.Cut(trimmed, "/")
	if object == "" {
		s.handleContainer(w, r, container)
		return
	}
	s.handleObject(w, r, container, object)
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Auth-User") != s.Username || r.Header.Get("X-Auth-Key") != s.Password {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	s.tokenSeq++
	s.authCount++
	token := fmt.Sprintf("AUTH_tk%d", s.tokenSeq)
	s.tokens[token] = true
	s.mu.Unlock()

	w.Header().Set("X-Auth-Token", token)
	w.Header().Set("X-Storage-Url", s.StorageURL())
	w.Header().Set("X-Auth-Token-Expires", "3600")
	w.WriteHeader(http.StatusOK)
}

type bulkDeleteResponse struct {
	NumberDeleted  int        `json:"Number Deleted"`
	NumberNotFound int        `json:"Number Not Found"`
	ResponseStatus string     `json:"Response Status"`
	ResponseBody   string     `json:"Response Body"`
	Errors         [][]string `json:"Errors"`
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !r.URL.Query().Has("bulk-delete") {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	result := bulkDeleteResponse{ResponseStatus: "200 OK", Errors: [][]string{}}
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		unescaped, err := url.PathUnescape(line)
		if err != nil {
			result.Errors = append(result.Errors, []string{line, "400 Bad Request"})
			continue
		}
		container, object, _ := strings.Cut(strings.TrimPrefix(unescaped, "/"), "/")
		objects := s.containers[container]
		if objects == nil {
			result.NumberNotFound++
			continue
		}
		if object == "" {
			if len(objects) > 0 {
				result.Errors = append(result.Errors, []string{unescaped, "409 Conflict"})
				continue
			}
			delete(s.containers, container)
			result.NumberDeleted++
			continue
		}
		if _, ok := objects[object]; !ok {
			result.NumberNotFound++
			continue
		}
		delete(objects, object)
		result.NumberDeleted++
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

type listingEntry struct {
	Name        string `json:"name"`
	Bytes       int    `json:"bytes"`
	Hash        string `json:"hash"`
	ContentType string `json:"content_type"`
}

func (s *Server) handleContainer(w http.ResponseWriter, r *http.Request, container string) {
	objects, exists := s.containers[container]

	switch r.Method {
	case http.MethodPut:
		if exists {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		s.containers[container] = map[string]*storedObject{}
		w.WriteHeader(http.StatusCreated)
	case http.MethodHead:
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("X-Container-Object-Count", strconv.Itoa(len(objects)))
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		query := r.URL.Query()
		limit := 10000
		if l, err := strconv.Atoi(query.Get("limit")); err == nil && l > 0 {
			limit = l
		}
		entries := []listingEntry{}
		for _, name := range s.names(container, query.Get("prefix")) {
			if marker := query.Get("marker"); marker != "" && name <= marker {
				continue
			}
			if len(entries) == limit {
				break
			}
			obj := objects[name]
			data := s.content(obj)
			entries = append(entries, listingEntry{
				Name:        name,
				Bytes:       len(data),
				Hash:        etag(data),
				ContentType: obj.contentType,
			})
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if len(entries) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(entries)
	case http.MethodDelete:
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if len(objects) > 0 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		delete(s.containers, container)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request, container, name string) {
	objects, exists := s.containers[container]
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodPut:
		obj, status := s.newObject(r)
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		objects[name] = obj
		w.Header().Set("ETag", etag(s.content(obj)))
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet, http.MethodHead:
		obj, ok := objects[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		s.serveObject(w, r, obj)
	case http.MethodDelete:
		if _, ok := objects[name]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(objects, name)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) newObject(r *http.Request) (*storedObject, int) {
	obj := &storedObject{headers: http.Header{}}

	if source := r.Header.Get("X-Copy-From"); source != "" {
		unescaped, err := url.PathUnescape(source)
		if err != nil {
			return nil, http.StatusBadRequest
		}
		srcContainer, srcName, _ := strings.Cut(strings.TrimPrefix(unescaped, "/"), "/")
		src, ok := s.lookup(srcContainer, srcName)
		if !ok {
			return nil, http.StatusNotFound
		}
		obj.data = s.content(src)
		obj.contentType = src.contentType
		for k, v := range src.headers {
			obj.headers[k] = v
		}
	} else {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, http.StatusBadRequest
		}
		obj.data = data
		obj.manifest = r.Header.Get("X-Object-Manifest")
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		obj.contentType = ct
	}
	for k, v := range r.Header {
		if strings.HasPrefix(k, metaPrefix) || k == "Content-Disposition" {
			obj.headers[k] = v
		}
	}

	return obj, 0
}

func (s *Server) serveObject(w http.ResponseWriter, r *http.Request, obj *storedObject) {
	data := s.content(obj)
	for k, v := range obj.headers {
		w.Header()[k] = v
	}
	if obj.contentType != "" {
		w.Header().Set("Content-Type", obj.contentType)
	}
	if obj.manifest != "" {
		w.Header().Set("X-Object-Manifest", obj.manifest)
	}
	w.Header().Set("ETag", etag(data))
	w.Header().Set("Accept-Ranges", "bytes")

	start, end, partial, ok := parseRange(r.Header.Get("Range"), int64(len(data)))
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", len(data)))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	body := data[start:end]
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	if partial {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, len(data)))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if r.Method == http.MethodGet {
		_, _ = w.Write(body)
	}
}

// parseRange supports a single "bytes=a-b", "bytes=a-" or "bytes=-n" range
// and returns the [start, end) window.
func parseRange(header string, size int64) (int64, int64, bool, bool) {
	if header == "" {
		return 0, size, false, true
	}
	byteRange, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(byteRange, ",") {
		return 0, size, false, true
	}
	from, to, _ := strings.Cut(byteRange, "-")

	if from == "" {
		n, err := strconv.ParseInt(to, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false, false
		}
		if n > size {
			n = size
		}
		return size - n, size, true, true
	}

	start, err := strconv.ParseInt(from, 10, 64)
	if err != nil || start >= size {
		return 0, 0, false, false
	}
	end := size
	if to != "" {
		last, err := strconv.ParseInt(to, 10, 64)
		if err != nil || last < start {
			return 0, 0, false, false
		}
		if last+1 < size {
			end = last + 1
		}
	}
	return start, end, true, true
}

func (s *Server) lookup(container, name string) (*storedObject, bool) {
	objects := s.containers[container]
	if objects == nil {
		return nil, false
	}
	obj, ok := objects[name]
	return obj, ok
}

// content expands dynamic large object manifests: the segments are every
// object under "container/prefix", concatenated in lexical order.
func (s *Server) content(obj *storedObject) []byte {
	if obj.manifest == "" {
		return obj.data
	}
	manifest, err := url.PathUnescape(obj.manifest)
	if err != nil {
		return nil
	}
	container, prefix, _ := strings.Cut(manifest, "/")
	var data []byte
	for _, name := range s.names(container, prefix) {
		segment := s.containers[container][name]
		if segment.manifest != "" {
			continue
		}
		data = append(data, segment.data...)
	}
	return data
}

func (s *Server) names(container, prefix string) []string {
	var names []string
	for name := range s.containers[container] {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func etag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
