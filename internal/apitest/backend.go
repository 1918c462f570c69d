// Package apitest provides an in-memory stand-in for the automation backend's
// REST API, for use in tests.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ibeckermayer/post4me/internal/types"
)

// Endpoint names used for call counting, failure injection and holds.
const (
	EndpointList                 = "list"
	EndpointGet                  = "get"
	EndpointCreate               = "create"
	EndpointUpdate               = "update"
	EndpointDelete               = "delete"
	EndpointPostNow              = "post-now"
	EndpointScheduleNow          = "schedule-now"
	EndpointRetry                = "retry"
	EndpointRemoveMedia          = "remove-media"
	EndpointDuplicate            = "duplicate"
	EndpointDeleteFromX          = "delete-from-x"
	EndpointDeleteScheduledFromX = "delete-scheduled-from-x"
	EndpointProfile              = "profile"
	EndpointFetchProfile         = "profile-fetch"
	EndpointProfileStats         = "profile-stats"
	EndpointGetEnv               = "get-env"
	EndpointSaveEnv              = "save-env"
	EndpointGetPreferences       = "get-preferences"
	EndpointSavePreferences      = "save-preferences"
	EndpointTestConnection       = "test-connection"
	EndpointCheckGoogle          = "check-google"
	EndpointLogs                 = "logs"
)

// Failure is an injected answer for an endpoint.
type Failure struct {
	Status int
	// Body is written verbatim. JSON bodies must be valid JSON.
	Body        string
	ContentType string
	// Times limits how many calls fail; zero means every call.
	Times int
}

// BusinessFailure answers with an in-band {success:false, error} on a 500,
// the way the backend reports automation failures.
func BusinessFailure(message string) Failure {
	buf, _ := json.Marshal(map[string]any{"success": false, "error": message})
	return Failure{Status: http.StatusInternalServerError, Body: string(buf), ContentType: "application/json"}
}

// RefusalFailure answers with {error} and the given status, like a
// validation or not-found refusal.
func RefusalFailure(status int, message string) Failure {
	buf, _ := json.Marshal(map[string]string{"error": message})
	return Failure{Status: status, Body: string(buf), ContentType: "application/json"}
}

// TransportFailure answers with a plain text error page.
func TransportFailure(status int) Failure {
	return Failure{Status: status, Body: http.StatusText(status), ContentType: "text/plain"}
}

// Hold pauses an endpoint until released.
type Hold struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// Entered receives once per call that reaches the held endpoint.
func (h *Hold) Entered() <-chan struct{} { return h.entered }

// Release lets every held and future call proceed.
func (h *Hold) Release() { h.once.Do(func() { close(h.release) }) }

// Backend is a fake backend server.
type Backend struct {
	mu       sync.Mutex
	posts    map[int64]types.Post
	nextID   int64
	calls    map[string]int
	failures map[string]*Failure
	holds    map[string]*Hold

	env     map[string]string
	prefs   map[string]string
	profile types.Profile
	history []types.FollowerSnapshot
	logs    string
	google  bool

	alreadyDeleted bool
	clock          func() time.Time

	server *httptest.Server
}

// New starts a fake backend that is shut down when the test ends.
func New(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		posts:    make(map[int64]types.Post),
		calls:    make(map[string]int),
		failures: make(map[string]*Failure),
		holds:    make(map[string]*Hold),
		env:      map[string]string{"X_USERNAME": "", "X_PASSWORD": "", "HEADLESS": "true"},
		prefs:    map[string]string{},
		clock:    time.Now,
	}
	b.server = httptest.NewServer(b.routes())
	t.Cleanup(func() {
		b.mu.Lock()
		for _, h := range b.holds {
			h.Release()
		}
		b.mu.Unlock()
		b.server.Close()
	})
	return b
}

// URL is the API root to hand to remote.New.
func (b *Backend) URL() string {
	return b.server.URL + "/api"
}

func (b *Backend) routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/posts", b.handle(EndpointList, b.listPosts))
		r.Post("/posts", b.handle(EndpointCreate, b.createPost))
		r.Get("/posts/{id}", b.handle(EndpointGet, b.getPost))
		r.Put("/posts/{id}", b.handle(EndpointUpdate, b.updatePost))
		r.Delete("/posts/{id}", b.handle(EndpointDelete, b.deletePost))
		r.Post("/posts/{id}/post-now", b.handle(EndpointPostNow, b.postNow))
		r.Post("/posts/{id}/schedule-now", b.handle(EndpointScheduleNow, b.scheduleNow))
		r.Post("/posts/{id}/retry", b.handle(EndpointRetry, b.retry))
		r.Post("/posts/{id}/remove-media", b.handle(EndpointRemoveMedia, b.removeMedia))
		r.Post("/posts/{id}/duplicate", b.handle(EndpointDuplicate, b.duplicate))
		r.Post("/posts/{id}/delete-from-x", b.handle(EndpointDeleteFromX, b.deleteFromX))
		r.Post("/posts/{id}/delete-scheduled-from-x", b.handle(EndpointDeleteScheduledFromX, b.deleteScheduledFromX))

		r.Get("/profile", b.handle(EndpointProfile, b.getProfile))
		r.Post("/profile/fetch", b.handle(EndpointFetchProfile, b.fetchProfile))
		r.Get("/profile/stats", b.handle(EndpointProfileStats, b.profileStats))

		r.Get("/settings/env", b.handle(EndpointGetEnv, b.getEnv))
		r.Post("/settings/env", b.handle(EndpointSaveEnv, b.saveEnv))
		r.Get("/settings/preferences", b.handle(EndpointGetPreferences, b.getPreferences))
		r.Post("/settings/preferences", b.handle(EndpointSavePreferences, b.savePreferences))
		r.Get("/settings/test-connection", b.handle(EndpointTestConnection, b.testConnection))
		r.Get("/settings/check-google", b.handle(EndpointCheckGoogle, b.checkGoogle))

		r.Get("/logs", b.handle(EndpointLogs, b.getLogs))
	})
	return r
}

// handle counts the call, honours holds and injected failures, then runs h.
func (b *Backend) handle(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.calls[name]++
		hold := b.holds[name]
		b.mu.Unlock()

		if hold != nil {
			select {
			case hold.entered <- struct{}{}:
			default:
			}
			select {
			case <-hold.release:
			case <-r.Context().Done():
				return
			}
		}

		b.mu.Lock()
		f := b.failures[name]
		if f != nil && f.Times > 0 {
			f.Times--
			if f.Times == 0 {
				delete(b.failures, name)
			}
		}
		b.mu.Unlock()

		if f != nil {
			w.Header().Set("Content-Type", f.ContentType)
			w.WriteHeader(f.Status)
			_, _ = w.Write([]byte(f.Body))
			return
		}
		h(w, r)
	}
}

// Calls returns how many requests reached the named endpoint.
func (b *Backend) Calls(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

// MutatingCalls counts requests to every endpoint that changes post state.
func (b *Backend) MutatingCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, name := range []string{
		EndpointCreate, EndpointUpdate, EndpointDelete, EndpointPostNow,
		EndpointScheduleNow, EndpointRetry, EndpointRemoveMedia, EndpointDuplicate,
		EndpointDeleteFromX, EndpointDeleteScheduledFromX,
	} {
		total += b.calls[name]
	}
	return total
}

// TotalCalls counts every request.
func (b *Backend) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.calls {
		total += n
	}
	return total
}

// Fail makes the named endpoint answer with f.
func (b *Backend) Fail(name string, f Failure) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[name] = &f
}

// Hold pauses the named endpoint until the returned hold is released.
func (b *Backend) Hold(name string) *Hold {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := &Hold{entered: make(chan struct{}, 16), release: make(chan struct{})}
	b.holds[name] = h
	return h
}

// SetClock controls the timestamps the backend writes.
func (b *Backend) SetClock(clock func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
}

// Seed stores p, assigning an id when it has none, and returns it.
func (b *Backend) Seed(p types.Post) types.Post {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.ID == 0 {
		b.nextID++
		p.ID = b.nextID
	} else if p.ID > b.nextID {
		b.nextID = p.ID
	}
	if p.Status == "" {
		p.Status = types.StatusDraft
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = types.At(b.clock())
	}
	b.posts[p.ID] = p
	return p
}

// Post returns the stored post.
func (b *Backend) Post(id int64) (types.Post, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.posts[id]
	return p, ok
}

// Posts returns every stored post in id order.
func (b *Backend) Posts() []types.Post {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sortedLocked("")
}

// SetStatus moves a post the way the automation would.
func (b *Backend) SetStatus(id int64, status types.Status, errMsg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.posts[id]
	if !ok {
		return
	}
	p.Status = status
	p.ErrorMessage = errMsg
	p.UpdatedAt = types.At(b.clock())
	if status == types.StatusPosted {
		p.PostedAt = types.At(b.clock())
		if p.TweetURL == "" {
			p.TweetURL = "https://x.com/user/status/" + strconv.FormatInt(1000+id, 10)
		}
	}
	b.posts[id] = p
}

// SetAlreadyDeleted makes delete-from-x report the tweet as already gone.
func (b *Backend) SetAlreadyDeleted(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alreadyDeleted = v
}

// SetProfile replaces the profile and follower history.
func (b *Backend) SetProfile(p types.Profile, history ...types.FollowerSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profile = p
	b.history = history
}

// SetEnv replaces one env setting.
func (b *Backend) SetEnv(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.env[key] = value
}

// Env returns a copy of the env settings.
func (b *Backend) Env() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.env))
	for k, v := range b.env {
		out[k] = v
	}
	return out
}

// Preference returns one stored preference.
func (b *Backend) Preference(key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prefs[key]
}

// SetLogs replaces the log tail.
func (b *Backend) SetLogs(logs string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs = logs
}

// SetGoogleConnected sets the check-google answer.
func (b *Backend) SetGoogleConnected(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.google = v
}

func (b *Backend) sortedLocked(status types.Status) []types.Post {
	out := make([]types.Post, 0, len(b.posts))
	for _, p := range b.posts {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, c types.Post) int {
		switch {
		case a.ID < c.ID:
			return -1
		case a.ID > c.ID:
			return 1
		}
		return 0
	})
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func refuse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// lookup resolves {id} or writes the backend's not-found answer.
func (b *Backend) lookup(w http.ResponseWriter, r *http.Request) (types.Post, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		refuse(w, http.StatusNotFound, "Post not found")
		return types.Post{}, false
	}
	b.mu.Lock()
	p, ok := b.posts[id]
	b.mu.Unlock()
	if !ok {
		refuse(w, http.StatusNotFound, "Post not found")
		return types.Post{}, false
	}
	return p, true
}

func (b *Backend) store(p types.Post) {
	b.mu.Lock()
	p.UpdatedAt = types.At(b.clock())
	b.posts[p.ID] = p
	b.mu.Unlock()
}

func (b *Backend) remove(id int64) {
	b.mu.Lock()
	delete(b.posts, id)
	b.mu.Unlock()
}

func (b *Backend) listPosts(w http.ResponseWriter, r *http.Request) {
	status := types.Status(r.URL.Query().Get("status"))
	b.mu.Lock()
	posts := b.sortedLocked(status)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, posts)
}

func (b *Backend) getPost(w http.ResponseWriter, r *http.Request) {
	if p, ok := b.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, p)
	}
}

func (b *Backend) createPost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		refuse(w, http.StatusBadRequest, "Invalid form")
		return
	}
	text := strings.TrimSpace(r.FormValue("text"))
	status := types.Status(strings.TrimSpace(r.FormValue("status")))
	if status == "" {
		status = types.StatusDraft
	}
	var imagePath string
	if f, hdr, err := r.FormFile("image"); err == nil {
		f.Close()
		imagePath = filepath.Join("uploads", filepath.Base(hdr.Filename))
	}
	if text == "" && imagePath == "" {
		refuse(w, http.StatusBadRequest, "Post must have text or an image")
		return
	}
	scheduledAt, err := types.ParseTimestamp(r.FormValue("scheduled_at"))
	if err != nil {
		refuse(w, http.StatusBadRequest, "Invalid date")
		return
	}
	if status == types.StatusScheduled && scheduledAt.IsZero() {
		refuse(w, http.StatusBadRequest, "Scheduled posts need a date/time")
		return
	}
	p := b.Seed(types.Post{Text: text, ImagePath: imagePath, ScheduledAt: scheduledAt, Status: status})
	writeJSON(w, http.StatusCreated, map[string]any{"id": p.ID, "status": p.Status})
}

func (b *Backend) updatePost(w http.ResponseWriter, r *http.Request) {
	p, ok := b.lookup(w, r)
	if !ok {
		return
	}
	var data map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		refuse(w, http.StatusBadRequest, "No data")
		return
	}
	if raw, ok := data["text"]; ok {
		_ = json.Unmarshal(raw, &p.Text)
	}
	if raw, ok := data["scheduled_at"]; ok {
		var ts types.Timestamp
		if err := json.Unmarshal(raw, &ts); err != nil {
			refuse(w, http.StatusBadRequest, "Invalid date")
			return
		}
		p.ScheduledAt = ts
	}
	if raw, ok := data["status"]; ok {
		var s types.Status
		if err := json.Unmarshal(raw, &s); err != nil {
			refuse(w, http.StatusBadRequest, "Invalid status")
			return
		}
		p.Status = s
		if s != types.StatusError {
			p.ErrorMessage = ""
		}
	}
	b.store(p)
	writeJSON(w, http.StatusOK, map[string]any{"id": p.ID, "updated": true})
}

func (b *Backend) deletePost(w http.ResponseWriter, r *http.Request) {
	if p, ok := b.lookup(w, r); ok {
		b.remove(p.ID)
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
	}
}

func (b *Backend) postNow(w http.ResponseWriter, r *http.Request) {
	p, ok := b.lookup(w, r)
	if !ok {
		return
	}
	p.Status = types.StatusPosting
	p.ErrorMessage = ""
	b.store(p)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (b *Backend) scheduleNow(w http.ResponseWriter, r *http.Request) {
	p, ok := b.lookup(w, r)
	if !ok {
		return
	}
	if p.ScheduledAt.IsZero() {
		refuse(w, http.StatusBadRequest, "Post has no scheduled date")
		return
	}
	p.Status = types.StatusScheduling
	p.ErrorMessage = ""
	b.store(p)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (b *Backend) retry(w http.ResponseWriter, r *http.Request) {
	p, ok := b.lookup(w, r)
	if !ok {
		return
	}
	p.Status = types.StatusPosting
	p.ErrorMessage = ""
	p.RetriesCount++
	b.store(p)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (b *Backend) removeMedia(w http.ResponseWriter, r *http.Request) {
	p, ok := b.lookup(w, r)
	if !ok {
		return
	}
	p.ImagePath = ""
	b.store(p)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (b *Backend) duplicate(w http.ResponseWriter, r *http.Request) {
	p, ok := b.lookup(w, r)
	if !ok {
		return
	}
	clone := b.Seed(types.Post{Text: p.Text, ImagePath: p.ImagePath, Status: types.StatusDraft})
	writeJSON(w, http.StatusCreated, map[string]int64{"id": clone.ID})
}

func (b *Backend) deleteFromX(w http.ResponseWriter, r *http.Request) {
	p, ok := b.lookup(w, r)
	if !ok {
		return
	}
	if p.TweetURL == "" {
		refuse(w, http.StatusBadRequest, "No tweet URL stored for this post")
		return
	}
	b.mu.Lock()
	already := b.alreadyDeleted
	b.mu.Unlock()
	b.remove(p.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true, "already_deleted": already})
}

func (b *Backend) deleteScheduledFromX(w http.ResponseWriter, r *http.Request) {
	p, ok := b.lookup(w, r)
	if !ok {
		return
	}
	if p.Status != types.StatusScheduledOnX {
		refuse(w, http.StatusBadRequest, "Post is not scheduled on X")
		return
	}
	if strings.TrimSpace(p.Text) == "" {
		refuse(w, http.StatusBadRequest, "Post has no text, cannot match on X")
		return
	}
	b.remove(p.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (b *Backend) getProfile(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	p := b.profile
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, p)
}

func (b *Backend) fetchProfile(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	snap := types.FollowerSnapshot{
		ID:             int64(len(b.history) + 1),
		FollowersCount: b.profile.FollowersCount,
		FollowingCount: b.profile.FollowingCount,
		RecordedAt:     types.At(b.clock()),
	}
	b.history = append(b.history, snap)
	p := b.profile
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "display_name": p.DisplayName, "username": p.Username})
}

func (b *Backend) profileStats(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	stats := types.ProfileStats{Profile: b.profile, History: append([]types.FollowerSnapshot(nil), b.history...)}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, stats)
}

func (b *Backend) getEnv(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, b.Env())
}

func (b *Backend) saveEnv(w http.ResponseWriter, r *http.Request) {
	var data map[string]string
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil || len(data) == 0 {
		refuse(w, http.StatusBadRequest, "No data")
		return
	}
	b.mu.Lock()
	for k, v := range data {
		b.env[k] = v
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (b *Backend) getPreferences(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	out := make(map[string]string, len(b.prefs))
	for k, v := range b.prefs {
		out[k] = v
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) savePreferences(w http.ResponseWriter, r *http.Request) {
	var data map[string]string
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil || len(data) == 0 {
		refuse(w, http.StatusBadRequest, "No data")
		return
	}
	b.mu.Lock()
	for k, v := range data {
		b.prefs[k] = v
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (b *Backend) testConnection(w http.ResponseWriter, r *http.Request) {
	env := b.Env()
	if env["X_USERNAME"] == "" || env["X_PASSWORD"] == "" {
		writeJSON(w, http.StatusOK, types.ConnectionCheck{Success: false, Error: "Missing credentials"})
		return
	}
	writeJSON(w, http.StatusOK, types.ConnectionCheck{Success: true})
}

func (b *Backend) checkGoogle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	connected := b.google
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"connected": connected})
}

func (b *Backend) getLogs(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	logs := b.logs
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"logs": logs})
}
