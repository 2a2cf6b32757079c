package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Ashley-Tung/memobase/internal/memobase"
)

// fakeService is an in-memory stand-in for the Memobase API, recording
// every blob insert, flush, and user delete it receives.
type fakeService struct {
	mu             sync.Mutex
	inserts        map[string][][]memobase.Message
	flushes        map[string]int
	created        map[string]bool
	deleted        []string
	attempts       map[string]int
	insertFailures map[string]int
	failProfile    bool
	failDeletes    bool
	requests       int
	server         *httptest.Server
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	f := &fakeService{
		inserts:        make(map[string][][]memobase.Message),
		flushes:        make(map[string]int),
		created:        make(map[string]bool),
		attempts:       make(map[string]int),
		insertFailures: make(map[string]int),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeService) client() *memobase.Client {
	return memobase.NewClient(f.server.URL, "test-key")
}

func (f *fakeService) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++

	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	switch {
	case path == "/healthcheck":
		writeOK(w, nil)

	case strings.HasPrefix(path, "/blobs/insert/"):
		uid := strings.TrimPrefix(path, "/blobs/insert/")
		f.attempts[uid]++
		if f.insertFailures[uid] > 0 {
			f.insertFailures[uid]--
			writeErr(w, http.StatusInternalServerError, "injected insert failure")
			return
		}
		var req struct {
			BlobType string `json:"blob_type"`
			BlobData struct {
				Messages []memobase.Message `json:"messages"`
			} `json:"blob_data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		f.inserts[uid] = append(f.inserts[uid], req.BlobData.Messages)
		writeOK(w, map[string]string{"id": fmt.Sprintf("blob-%d", f.requests)})

	case strings.HasPrefix(path, "/users/buffer/"):
		uid := strings.TrimSuffix(strings.TrimPrefix(path, "/users/buffer/"), "/chat")
		f.flushes[uid]++
		writeOK(w, nil)

	case strings.HasPrefix(path, "/users/profile/"):
		if f.failProfile {
			writeErr(w, http.StatusInternalServerError, "profile unavailable")
			return
		}
		writeOK(w, map[string]any{"profiles": []any{}})

	case path == "/users" && r.Method == http.MethodPost:
		var req struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		f.created[req.ID] = true
		writeOK(w, map[string]string{"id": req.ID})

	case strings.HasPrefix(path, "/users/"):
		uid := strings.TrimPrefix(path, "/users/")
		switch r.Method {
		case http.MethodGet:
			if !f.created[uid] {
				writeErr(w, http.StatusNotFound, "user not found")
				return
			}
			writeOK(w, map[string]string{"id": uid})
		case http.MethodDelete:
			if f.failDeletes {
				writeErr(w, http.StatusInternalServerError, "delete refused")
				return
			}
			f.deleted = append(f.deleted, uid)
			writeOK(w, nil)
		default:
			writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		}

	case path == "/project/profile_config":
		writeOK(w, nil)

	default:
		writeErr(w, http.StatusNotFound, "no route: "+path)
	}
}

func (f *fakeService) failInserts(uid string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertFailures[uid] = n
}

func (f *fakeService) insertsFor(uid string) [][]memobase.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]memobase.Message(nil), f.inserts[uid]...)
}

func (f *fakeService) insertAttempts(uid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[uid]
}

func (f *fakeService) flushCount(uid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes[uid]
}

func (f *fakeService) deletedUsers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeService) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func writeOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"data": data, "errno": 0, "errmsg": ""})
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"data": nil, "errno": status, "errmsg": msg})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeMessages(n int) []memobase.Message {
	msgs := make([]memobase.Message, n)
	for i := range msgs {
		msgs[i] = memobase.Message{
			Role:      "user",
			Content:   fmt.Sprintf("message %d", i),
			Alias:     "Caroline",
			CreatedAt: "1:56 pm on 8 May, 2023",
		}
	}
	return msgs
}

func newTestUploader(batchSize int, outDir string) *Uploader {
	u := NewUploader(batchSize, outDir, discardLogger())
	u.retryWait = time.Millisecond
	return u
}

func getUser(t *testing.T, f *fakeService, id string) *memobase.User {
	t.Helper()
	user, err := f.client().GetOrCreateUser(context.Background(), id)
	if err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}
	return user
}

func TestUpload_Batching(t *testing.T) {
	f := newFakeService(t)
	outDir := t.TempDir()
	u := newTestUploader(2, outDir)
	user := getUser(t, f, "user-1")

	if err := u.Upload(context.Background(), user, makeMessages(5)); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	batches := f.insertsFor("user-1")
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	wantSizes := []int{2, 2, 1}
	for i, batch := range batches {
		if len(batch) != wantSizes[i] {
			t.Errorf("batch %d size = %d, want %d", i, len(batch), wantSizes[i])
		}
	}

	var got []string
	for _, batch := range batches {
		for _, msg := range batch {
			got = append(got, msg.Content)
		}
	}
	for i, content := range got {
		if want := fmt.Sprintf("message %d", i); content != want {
			t.Errorf("message %d content = %q, want %q", i, content, want)
		}
	}

	if n := f.flushCount("user-1"); n != 1 {
		t.Errorf("flush count = %d, want 1", n)
	}
	if _, err := os.Stat(filepath.Join(outDir, "user-1.json")); err != nil {
		t.Errorf("profile file not written: %v", err)
	}
}

func TestUpload_RetryThenSuccess(t *testing.T) {
	f := newFakeService(t)
	u := newTestUploader(2, t.TempDir())
	user := getUser(t, f, "user-1")
	f.failInserts("user-1", 2)

	if err := u.Upload(context.Background(), user, makeMessages(2)); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if n := f.insertAttempts("user-1"); n != 3 {
		t.Errorf("insert attempts = %d, want 3", n)
	}
	if n := len(f.insertsFor("user-1")); n != 1 {
		t.Errorf("recorded batches = %d, want 1", n)
	}
	if n := f.flushCount("user-1"); n != 1 {
		t.Errorf("flush count = %d, want 1", n)
	}
}

func TestUpload_RetryExhausted(t *testing.T) {
	f := newFakeService(t)
	u := newTestUploader(2, t.TempDir())
	user := getUser(t, f, "user-1")
	f.failInserts("user-1", 3)

	err := u.Upload(context.Background(), user, makeMessages(2))
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !strings.Contains(err.Error(), "insert batch") {
		t.Errorf("error = %q, want insert batch failure", err)
	}

	if n := f.insertAttempts("user-1"); n != 3 {
		t.Errorf("insert attempts = %d, want 3", n)
	}
	if n := f.flushCount("user-1"); n != 0 {
		t.Errorf("flush count = %d, want 0 after failed insert", n)
	}
}

func TestUpload_ProfileFailureNotFatal(t *testing.T) {
	f := newFakeService(t)
	f.failProfile = true
	outDir := t.TempDir()
	u := newTestUploader(2, outDir)
	user := getUser(t, f, "user-1")

	if err := u.Upload(context.Background(), user, makeMessages(2)); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(outDir, "user-1.json")); !os.IsNotExist(err) {
		t.Errorf("expected no profile file, stat error = %v", err)
	}
}

func TestUpload_EmptyMessages(t *testing.T) {
	f := newFakeService(t)
	outDir := t.TempDir()
	u := newTestUploader(2, outDir)
	user := getUser(t, f, "user-1")

	if err := u.Upload(context.Background(), user, nil); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if n := len(f.insertsFor("user-1")); n != 0 {
		t.Errorf("recorded batches = %d, want 0", n)
	}
	if n := f.flushCount("user-1"); n != 1 {
		t.Errorf("flush count = %d, want 1", n)
	}
	if _, err := os.Stat(filepath.Join(outDir, "user-1.json")); err != nil {
		t.Errorf("profile file not written: %v", err)
	}
}

func TestNewUploader_ClampsBatchSize(t *testing.T) {
	u := NewUploader(0, t.TempDir(), discardLogger())
	if u.batchSize != DefaultBatchSize {
		t.Errorf("batch size = %d, want %d", u.batchSize, DefaultBatchSize)
	}
}
