package job

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/maauso/videoforge-api/internal/manifest"
	"github.com/maauso/videoforge-api/internal/render"
	"github.com/maauso/videoforge-api/internal/storage"
)

// fakeSpeech returns fixed audio, failing for texts listed in failOn.
type fakeSpeech struct {
	mu     sync.Mutex
	failOn map[string]bool
	calls  []string
}

func (f *fakeSpeech) Synthesize(_ context.Context, text, _ string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	if f.failOn[text] {
		return nil, errors.New("tts unavailable")
	}
	return io.NopCloser(strings.NewReader("mp3:" + text)), nil
}

func (f *fakeSpeech) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeObjects is an in-memory ObjectStore.
type fakeObjects struct {
	mu        sync.Mutex
	objects   map[string][]byte
	failPut   map[string]bool // keyed by bucket
	failName  map[string]bool // keyed by object name
	removeErr error
	removed   map[string][]string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{
		objects:  make(map[string][]byte),
		failPut:  make(map[string]bool),
		failName: make(map[string]bool),
		removed:  make(map[string][]string),
	}
}

func (f *fakeObjects) Upload(_ context.Context, bucket, name string, body io.Reader, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut[bucket] || f.failName[name] {
		return "", fmt.Errorf("put %s/%s: access denied", bucket, name)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.objects[bucket+"/"+name] = data
	return "https://cdn.test/" + bucket + "/" + name, nil
}

func (f *fakeObjects) Remove(_ context.Context, bucket string, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	for _, n := range names {
		delete(f.objects, bucket+"/"+n)
		f.removed[bucket] = append(f.removed[bucket], n)
	}
	return nil
}

func (f *fakeObjects) Keys(bucket string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, bucket+"/") {
			keys = append(keys, strings.TrimPrefix(k, bucket+"/"))
		}
	}
	return keys
}

// fakeRenderer writes a small file as the rendered video.
type fakeRenderer struct {
	bundleErr error
	renderErr error
	panicMsg  string
	progress  []float64
	// started, when set, makes Render signal it and block until ctx is done.
	started chan struct{}

	mu       sync.Mutex
	gotPlan  render.Plan
	gotAudio []string
}

func (f *fakeRenderer) Bundle(context.Context) (string, error) {
	if f.bundleErr != nil {
		return "", f.bundleErr
	}
	return "/bundle", nil
}

func (f *fakeRenderer) Plan(m *manifest.Manifest, analysis json.RawMessage) render.Plan {
	return render.NewPlan(m, "", 0, analysis)
}

func (f *fakeRenderer) Render(ctx context.Context, _ string, plan render.Plan, outputPath string, onProgress func(float64)) error {
	f.mu.Lock()
	f.gotPlan = plan
	if m, ok := plan.InputProps["manifest"].(*manifest.Manifest); ok {
		for _, s := range m.Scenes {
			f.gotAudio = append(f.gotAudio, s.Narration.AudioURL)
		}
	}
	f.mu.Unlock()

	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if err := os.WriteFile(outputPath, []byte("mp4-bytes"), 0600); err != nil {
		return err
	}
	for _, p := range f.progress {
		onProgress(p)
	}
	if f.started != nil {
		close(f.started)
		<-ctx.Done()
		return ctx.Err()
	}
	return f.renderErr
}

// fakeFrames returns a fixed PNG header.
type fakeFrames struct{ err error }

func (f fakeFrames) ExtractLastFrame(context.Context, string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

// fakeProbe returns a fixed duration.
type fakeProbe struct{ seconds float64 }

func (f fakeProbe) GetMediaDuration(context.Context, string) (float64, error) {
	return f.seconds, nil
}

// fakeLinker records LinkVideo calls.
type fakeLinker struct {
	mu    sync.Mutex
	err   error
	links map[string]string
}

func (f *fakeLinker) LinkVideo(_ context.Context, originID, videoURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.links == nil {
		f.links = make(map[string]string)
	}
	f.links[originID] = videoURL
	return f.err
}

// recordingStore wraps MemoryStore and records every progress value written.
type recordingStore struct {
	*MemoryStore
	mu        sync.Mutex
	progress  []int
	updateErr error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: NewMemoryStore()}
}

func (r *recordingStore) Update(ctx context.Context, id string, p Patch) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	if p.Progress != nil {
		r.mu.Lock()
		r.progress = append(r.progress, *p.Progress)
		r.mu.Unlock()
	}
	return r.MemoryStore.Update(ctx, id, p)
}

func (r *recordingStore) Progress() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.progress...)
}

func newTestFiles(t *testing.T) *storage.LocalStore {
	t.Helper()
	files, err := storage.NewLocalStore(t.TempDir(), "http://localhost:8080")
	if err != nil {
		t.Fatalf("failed to create local store: %v", err)
	}
	return files
}

// filesUnder lists regular files below dir.
func filesUnder(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		t.Fatalf("read dir %s: %v", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out
}

func manifestJSON(scenes ...string) json.RawMessage {
	var b bytes.Buffer
	b.WriteString(`{"meta":{"id":"m-1","fps":30},"scenes":[`)
	b.WriteString(strings.Join(scenes, ","))
	b.WriteString(`]}`)
	return b.Bytes()
}
