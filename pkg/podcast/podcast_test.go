package podcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/llms"
	"github.com/lorehq/lore/pkg/protocol"
)

type fakePodcastStore struct {
	mu        sync.Mutex
	id        uuid.UUID
	statuses  []string
	audioPath string
	failCause string
}

func (f *fakePodcastStore) MarkPodcastGenerating(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.id = id
	f.statuses = append(f.statuses, "GENERATING")
	return nil
}

func (f *fakePodcastStore) MarkPodcastReady(_ context.Context, id uuid.UUID, audioPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.id = id
	f.statuses = append(f.statuses, "READY")
	f.audioPath = audioPath
	return nil
}

func (f *fakePodcastStore) MarkPodcastFailed(_ context.Context, id uuid.UUID, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.id = id
	f.statuses = append(f.statuses, "FAILED")
	f.failCause = cause
	return nil
}

type fakeLocks struct {
	mu       sync.Mutex
	released [][2]string
}

func (f *fakeLocks) ReleaseLock(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, [2]string{key, value})
	return nil
}

type fakeLLM struct {
	transcript string
	err        error
}

func (f *fakeLLM) Generate(_ context.Context, _ []llms.Message, _ []llms.ToolDefinition) (string, []*llms.ToolCall, int, error) {
	return "", nil, 0, fmt.Errorf("script drafting must use structured output")
}

func (f *fakeLLM) GenerateStructured(_ context.Context, _ []llms.Message, _ []llms.ToolDefinition, _ *llms.StructuredOutputConfig) (string, []*llms.ToolCall, int, error) {
	if f.err != nil {
		return "", nil, 0, f.err
	}
	return f.transcript, nil, 10, nil
}

func (f *fakeLLM) GenerateStreaming(_ context.Context, _ []llms.Message, _ []llms.ToolDefinition) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk, 1)
	ch <- llms.StreamChunk{Type: "done"}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) GetModelName() string    { return "fake-llm" }
func (f *fakeLLM) GetMaxTokens() int       { return 4096 }
func (f *fakeLLM) GetTemperature() float64 { return 0 }
func (f *fakeLLM) Close() error            { return nil }

func (f *fakeLLM) SupportsStructuredOutput() bool { return true }

func testPayload() Payload {
	return Payload{
		PodcastID:     uuid.New(),
		SearchSpaceID: uuid.New(),
		UserID:        "user-1",
		Title:         "Retrieval deep dive",
		SourceContent: "Everything we know about hybrid search.",
	}
}

func TestParsePayloadRoundTrip(t *testing.T) {
	want := testPayload()
	want.UserPrompt = "keep it light"

	got, err := ParsePayload(map[string]any{
		"podcast_id":      want.PodcastID.String(),
		"search_space_id": want.SearchSpaceID.String(),
		"user_id":         want.UserID,
		"title":           want.Title,
		"source_content":  want.SourceContent,
		"user_prompt":     want.UserPrompt,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("payload = %+v, want %+v", got, want)
	}
}

func TestParsePayloadValidation(t *testing.T) {
	valid := map[string]any{
		"podcast_id":      uuid.NewString(),
		"search_space_id": uuid.NewString(),
		"user_id":         "user-1",
		"source_content":  "notes",
	}
	if _, err := ParsePayload(valid); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	for _, key := range []string{"podcast_id", "search_space_id", "user_id", "source_content"} {
		broken := map[string]any{}
		for k, v := range valid {
			broken[k] = v
		}
		delete(broken, key)
		if _, err := ParsePayload(broken); err == nil {
			t.Errorf("payload without %s was accepted", key)
		}
	}
}

func TestLockKey(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	if got := LockKey(id); got != "podcast:space:11111111-2222-3333-4444-555555555555" {
		t.Errorf("LockKey = %q", got)
	}
}

func TestStripFence(t *testing.T) {
	fenced := "```json\n{\"title\": \"x\"}\n```"
	if got := stripFence(fenced); got != `{"title": "x"}` {
		t.Errorf("stripFence(%q) = %q", fenced, got)
	}
	plain := `{"title": "x"}`
	if got := stripFence(plain); got != plain {
		t.Errorf("stripFence(%q) = %q", plain, got)
	}
}

func testConfig(t *testing.T, ttsURL string) config.PodcastConfig {
	t.Helper()
	return config.PodcastConfig{
		MediaDir: t.TempDir(),
		TTS: config.TTSConfig{
			APIKey: "test-key",
			Host:   ttsURL,
			Model:  "tts-test",
			Voices: map[string]string{"host": "nova", "expert": "onyx"},
		},
	}
}

func TestGenerateReady(t *testing.T) {
	var mu sync.Mutex
	var ttsBodies []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode tts body: %v", err)
		}
		mu.Lock()
		ttsBodies = append(ttsBodies, body)
		mu.Unlock()
		fmt.Fprintf(w, "AUDIO[%s]", body["voice"])
	}))
	defer server.Close()

	st := &fakePodcastStore{}
	locks := &fakeLocks{}
	llm := &fakeLLM{transcript: `{"title": "Ep 1", "turns": [
		{"speaker": "Host", "text": "Welcome to the show."},
		{"speaker": "expert", "text": "Glad to be here."}
	]}`}
	cfg := testConfig(t, server.URL)
	gen := NewGenerator(st, locks, llm, cfg)

	var events []protocol.Event
	sink := protocol.Sink(func(e protocol.Event) { events = append(events, e) })

	p := testPayload()
	if err := gen.Generate(context.Background(), p, sink); err != nil {
		t.Fatal(err)
	}

	if got := strings.Join(st.statuses, ","); got != "GENERATING,READY" {
		t.Errorf("statuses = %q", got)
	}
	if st.id != p.PodcastID {
		t.Errorf("store saw podcast %s, want %s", st.id, p.PodcastID)
	}
	wantPath := filepath.Join(cfg.MediaDir, p.PodcastID.String()+".mp3")
	if st.audioPath != wantPath {
		t.Errorf("audio path = %q, want %q", st.audioPath, wantPath)
	}
	audio, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(audio) != "AUDIO[nova]AUDIO[onyx]" {
		t.Errorf("audio = %q, want the turns concatenated in order", audio)
	}

	if len(locks.released) != 1 {
		t.Fatalf("lock released %d times, want 1", len(locks.released))
	}
	if locks.released[0] != [2]string{LockKey(p.SearchSpaceID), p.PodcastID.String()} {
		t.Errorf("released = %v", locks.released[0])
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ttsBodies) != 2 {
		t.Fatalf("tts calls = %d, want 2", len(ttsBodies))
	}
	if ttsBodies[0]["voice"] != "nova" || ttsBodies[1]["voice"] != "onyx" {
		t.Errorf("voices = %v, %v", ttsBodies[0]["voice"], ttsBodies[1]["voice"])
	}
	if ttsBodies[0]["model"] != "tts-test" || ttsBodies[0]["input"] != "Welcome to the show." {
		t.Errorf("tts body = %v", ttsBodies[0])
	}

	var statuses []string
	for _, e := range events {
		if e.Kind == protocol.EventPodcastStatus {
			statuses = append(statuses, e.Progress["status"].(string))
		}
	}
	want := []string{"generating", "generating", "generating", "ready"}
	if strings.Join(statuses, ",") != strings.Join(want, ",") {
		t.Errorf("event statuses = %v, want %v", statuses, want)
	}
	last := events[len(events)-1]
	if last.Progress["audio_path"] != wantPath {
		t.Errorf("ready event = %v", last.Progress)
	}
}

func TestGenerateScriptFailure(t *testing.T) {
	st := &fakePodcastStore{}
	locks := &fakeLocks{}
	llm := &fakeLLM{err: errors.New("model unavailable")}
	gen := NewGenerator(st, locks, llm, testConfig(t, "http://localhost:9"))

	var events []protocol.Event
	sink := protocol.Sink(func(e protocol.Event) { events = append(events, e) })

	p := testPayload()
	err := gen.Generate(context.Background(), p, sink)
	if err == nil || !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("err = %v, want the drafting failure", err)
	}

	if got := strings.Join(st.statuses, ","); got != "GENERATING,FAILED" {
		t.Errorf("statuses = %q", got)
	}
	if !strings.Contains(st.failCause, "model unavailable") {
		t.Errorf("fail cause = %q", st.failCause)
	}
	if len(locks.released) != 1 {
		t.Fatalf("failed runs must still release the lock, got %d releases", len(locks.released))
	}
	last := events[len(events)-1]
	if last.Progress["status"] != "failed" {
		t.Errorf("last event = %v, want a failed status", last.Progress)
	}
}

func TestGenerateTTSFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "synthesis backend down", http.StatusInternalServerError)
	}))
	defer server.Close()

	st := &fakePodcastStore{}
	locks := &fakeLocks{}
	llm := &fakeLLM{transcript: `{"title": "Ep 1", "turns": [{"speaker": "host", "text": "Hi."}]}`}
	gen := NewGenerator(st, locks, llm, testConfig(t, server.URL))

	p := testPayload()
	err := gen.Generate(context.Background(), p, nil)
	if err == nil || !strings.Contains(err.Error(), "voice turn 1") {
		t.Fatalf("err = %v, want the synthesis failure", err)
	}
	if got := strings.Join(st.statuses, ","); got != "GENERATING,FAILED" {
		t.Errorf("statuses = %q", got)
	}
	if len(locks.released) != 1 {
		t.Errorf("lock released %d times, want 1", len(locks.released))
	}
}

func TestVoiceFor(t *testing.T) {
	gen := NewGenerator(&fakePodcastStore{}, &fakeLocks{}, &fakeLLM{}, config.PodcastConfig{
		TTS: config.TTSConfig{Voices: map[string]string{"host": "nova", "expert": "onyx"}},
	})

	cases := []struct {
		speaker string
		want    string
	}{
		{"host", "nova"},
		{"Host", "nova"},
		{"EXPERT", "onyx"},
		{"narrator", "nova"}, // unknown speakers fall back to the host voice
	}
	for _, tc := range cases {
		if got := gen.voiceFor(tc.speaker); got != tc.want {
			t.Errorf("voiceFor(%q) = %q, want %q", tc.speaker, got, tc.want)
		}
	}

	bare := NewGenerator(&fakePodcastStore{}, &fakeLocks{}, &fakeLLM{}, config.PodcastConfig{})
	if got := bare.voiceFor("host"); got != "alloy" {
		t.Errorf("voiceFor without configured voices = %q, want %q", got, "alloy")
	}
}
