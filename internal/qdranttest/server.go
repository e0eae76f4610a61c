// Package qdranttest runs an in-memory stand-in for the vector database's
// REST API so the snapcheck clients can be tested without a live service.
package qdranttest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"time"
)

// VectorParams mirrors the collection vector configuration on the wire.
type VectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

// StoredPoint is a point as the fake service keeps it.
type StoredPoint struct {
	ID      json.RawMessage `json:"id"`
	Vector  []float32       `json:"vector"`
	Payload map[string]any  `json:"payload,omitempty"`
}

type collectionState struct {
	Vectors VectorParams           `json:"vectors"`
	Points  map[string]StoredPoint `json:"points"`
}

type snapshotFile struct {
	name      string
	createdAt time.Time
	data      []byte
	checksum  string
}

// Server is an httptest server backed by in-memory collections.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	collections map[string]*collectionState
	snapshots   map[string][]snapshotFile
	seq         int
	readyAfter  int
	neverReady  bool
	probeCalls  int
	failures    map[string]int
	omitName    bool
	calls       []string
}

// Option customizes a Server.
type Option func(*Server)

// WithReadyAfter makes the first n readiness checks answer 503.
func WithReadyAfter(n int) Option {
	return func(s *Server) { s.readyAfter = n }
}

// NeverReady makes every readiness check answer 503.
func NeverReady() Option {
	return func(s *Server) { s.neverReady = true }
}

// WithFailure makes the route identified by "METHOD pattern" answer status.
// Patterns are the ones registered in routes, e.g.
// "POST /collections/{name}/snapshots/upload".
func WithFailure(route string, status int) Option {
	return func(s *Server) { s.failures[route] = status }
}

// WithoutSnapshotName makes snapshot creation omit result.name.
func WithoutSnapshotName() Option {
	return func(s *Server) { s.omitName = true }
}

// NewServer starts a fake service. Callers must Close it.
func NewServer(opts ...Option) *Server {
	s := &Server{
		collections: make(map[string]*collectionState),
		snapshots:   make(map[string][]snapshotFile),
		failures:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			s.mu.Lock()
			s.calls = append(s.calls, pattern)
			status, fail := s.failures[pattern]
			s.mu.Unlock()
			if fail {
				writeError(w, status, "injected failure")
				return
			}
			h(w, r)
		})
	}
	handle("GET /{$}", s.handleRoot)
	handle("PUT /collections/{name}", s.handleCreateCollection)
	handle("GET /collections/{name}", s.handleGetCollection)
	handle("DELETE /collections/{name}", s.handleDeleteCollection)
	handle("PUT /collections/{name}/points", s.handleUpsert)
	handle("POST /collections/{name}/points/count", s.handleCount)
	handle("POST /collections/{name}/snapshots", s.handleCreateSnapshot)
	handle("GET /collections/{name}/snapshots", s.handleListSnapshots)
	handle("GET /collections/{name}/snapshots/{snapshot}", s.handleGetSnapshot)
	handle("DELETE /collections/{name}/snapshots/{snapshot}", s.handleDeleteSnapshot)
	handle("PUT /collections/{name}/snapshots/recover", s.handleRecover)
	handle("POST /collections/{name}/snapshots/upload", s.handleUpload)
	return mux
}

// ReadinessCalls reports how many times GET / was served.
func (s *Server) ReadinessCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probeCalls
}

// Calls returns the matched route patterns in arrival order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// PointCount returns the number of points in a collection.
func (s *Server) PointCount(name string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return 0, false
	}
	return len(c.Points), true
}

// Points returns a collection's points sorted by id.
func (s *Server) Points(name string) []StoredPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(c.Points))
	for k := range c.Points {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]StoredPoint, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.Points[k])
	}
	return out
}

// CollectionNames lists existing collections, sorted.
func (s *Server) CollectionNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.collections))
	for n := range s.collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.probeCalls++
	notReady := s.neverReady || s.probeCalls <= s.readyAfter
	s.mu.Unlock()
	if notReady {
		writeError(w, http.StatusServiceUnavailable, "starting")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"title": "qdranttest", "version": "test"})
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req struct {
		Vectors *VectorParams `json:"vectors"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Vectors == nil {
		writeError(w, http.StatusBadRequest, "invalid collection config")
		return
	}
	if req.Vectors.Size <= 0 || !validDistance(req.Vectors.Distance) {
		writeError(w, http.StatusUnprocessableEntity, "invalid vector params")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.collections[name]; exists {
		writeError(w, http.StatusConflict, fmt.Sprintf("Wrong input: Collection `%s` already exists!", name))
		return
	}
	s.collections[name] = &collectionState{Vectors: *req.Vectors, Points: make(map[string]StoredPoint)}
	writeResult(w, true)
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.mu.Lock()
	c, ok := s.collections[name]
	var info map[string]any
	if ok {
		info = map[string]any{
			"status":        "green",
			"points_count":  len(c.Points),
			"vectors_count": len(c.Points),
			"config": map[string]any{
				"params": map[string]any{"vectors": c.Vectors},
			},
		}
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Not found: Collection `%s` doesn't exist!", name))
		return
	}
	writeResult(w, info)
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.mu.Lock()
	_, ok := s.collections[name]
	delete(s.collections, name)
	delete(s.snapshots, name)
	s.mu.Unlock()
	writeResult(w, ok)
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req struct {
		Points []StoredPoint `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid points")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Not found: Collection `%s` doesn't exist!", name))
		return
	}
	for _, p := range req.Points {
		if len(p.Vector) != c.Vectors.Size {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Wrong input: Vector dimension error: expected dim: %d, got %d", c.Vectors.Size, len(p.Vector)))
			return
		}
	}
	for _, p := range req.Points {
		c.Points[string(p.ID)] = p
	}
	s.seq++
	status := "acknowledged"
	if r.URL.Query().Get("wait") == "true" {
		status = "completed"
	}
	writeResult(w, map[string]any{"operation_id": s.seq, "status": status})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	n, ok := s.PointCount(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	writeResult(w, map[string]int{"count": n})
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Not found: Collection `%s` doesn't exist!", name))
		return
	}
	data, err := json.Marshal(c)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.seq++
	now := time.Now().UTC()
	sum := sha256.Sum256(data)
	snap := snapshotFile{
		name:      fmt.Sprintf("%s-%d-%s.snapshot", name, s.seq, now.Format("2006-01-02-15-04-05")),
		createdAt: now,
		data:      data,
		checksum:  hex.EncodeToString(sum[:]),
	}
	s.snapshots[name] = append(s.snapshots[name], snap)

	desc := describe(snap)
	if s.omitName {
		delete(desc, "name")
	}
	writeResult(w, desc)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	out := make([]map[string]any, 0, len(s.snapshots[name]))
	for _, snap := range s.snapshots[name] {
		out = append(out, describe(snap))
	}
	writeResult(w, out)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.findSnapshot(r.PathValue("name"), r.PathValue("snapshot"))
	if !ok {
		writeError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(snap.data)
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	name, snapName := r.PathValue("name"), r.PathValue("snapshot")
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.snapshots[name]
	for i, snap := range list {
		if snap.name == snapName {
			s.snapshots[name] = append(list[:i], list[i+1:]...)
			writeResult(w, true)
			return
		}
	}
	writeError(w, http.StatusNotFound, "snapshot not found")
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Location string `json:"location"`
		Priority string `json:"priority,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Location == "" {
		writeError(w, http.StatusBadRequest, "location is required")
		return
	}
	resp, err := http.Get(req.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to download snapshot: status %d", resp.StatusCode))
		return
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.restore(w, r.PathValue("name"), data)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("snapshot")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field snapshot is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.restore(w, r.PathValue("name"), data)
}

func (s *Server) restore(w http.ResponseWriter, target string, data []byte) {
	var c collectionState
	if err := json.Unmarshal(data, &c); err != nil {
		writeError(w, http.StatusBadRequest, "malformed snapshot")
		return
	}
	if c.Points == nil {
		c.Points = make(map[string]StoredPoint)
	}
	s.mu.Lock()
	s.collections[target] = &c
	s.mu.Unlock()
	writeResult(w, true)
}

func (s *Server) findSnapshot(collection, name string) (snapshotFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.snapshots[collection] {
		if snap.name == name {
			return snap, true
		}
	}
	return snapshotFile{}, false
}

func describe(snap snapshotFile) map[string]any {
	return map[string]any{
		"name":          snap.name,
		"creation_time": snap.createdAt.Format("2006-01-02T15:04:05"),
		"size":          len(snap.data),
		"checksum":      snap.checksum,
	}
}

func validDistance(d string) bool {
	switch d {
	case "Dot", "Cosine", "Euclid", "Manhattan":
		return true
	}
	return false
}

func writeResult(w http.ResponseWriter, result any) {
	writeJSON(w, http.StatusOK, map[string]any{"result": result, "status": "ok", "time": 0.001})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"status": map[string]string{"error": msg}, "time": 0.001})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
