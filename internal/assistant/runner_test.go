package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitechat/internal/domain"
)

type fakeAPI struct {
	threads      int
	posted       []string
	instructions string
	statuses     []Status
	polls        int
	reply        string
}

func (f *fakeAPI) CreateThread(context.Context) (string, error) {
	f.threads++
	return "thread_new", nil
}

func (f *fakeAPI) PostMessage(_ context.Context, threadID, content string) error {
	f.posted = append(f.posted, threadID+":"+content)
	return nil
}

func (f *fakeAPI) StartRun(_ context.Context, _, _, instructions string) (string, error) {
	f.instructions = instructions
	return "run_1", nil
}

func (f *fakeAPI) RunStatus(context.Context, string, string) (Status, error) {
	s := f.statuses[min(f.polls, len(f.statuses)-1)]
	f.polls++
	return s, nil
}

func (f *fakeAPI) LatestReply(context.Context, string, string) (string, error) {
	return f.reply, nil
}

func testConfig(t *testing.T) Config {
	return Config{
		AssistantID:  "asst_1",
		ThreadFile:   filepath.Join(t.TempDir(), "thread_id.txt"),
		Instructions: "Please address the user as Husky. Be attentive and passionate.",
		Poll:         fastPoll(),
	}
}

func TestRunnerCreatesAndPersistsThread(t *testing.T) {
	cfg := testConfig(t)
	api := &fakeAPI{}

	r, err := NewRunner(context.Background(), api, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "thread_new", r.ThreadID())
	data, err := os.ReadFile(cfg.ThreadFile)
	require.NoError(t, err)
	assert.Equal(t, "thread_new", string(data))

	_, err = NewRunner(context.Background(), api, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, api.threads)
}

func TestRunnerReusesStoredThread(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.ThreadFile, []byte("thread_old\n"), 0o600))
	api := &fakeAPI{}

	r, err := NewRunner(context.Background(), api, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "thread_old", r.ThreadID())
	assert.Zero(t, api.threads)
}

func TestRunnerAsk(t *testing.T) {
	api := &fakeAPI{statuses: []Status{StatusQueued, StatusInProgress, StatusCompleted}, reply: "Husky, try Cafe Flora!"}
	r, err := NewRunner(context.Background(), api, testConfig(t), nil)
	require.NoError(t, err)

	reply, err := r.Ask(context.Background(), "brunch in Seattle")
	require.NoError(t, err)
	assert.Equal(t, "Husky, try Cafe Flora!", reply)
	assert.Equal(t, []string{"thread_new:brunch in Seattle"}, api.posted)
	assert.Contains(t, api.instructions, "Husky")
	assert.Equal(t, 3, api.polls)
}

func TestRunnerAskFailures(t *testing.T) {
	api := &fakeAPI{statuses: []Status{StatusFailed}}
	r, err := NewRunner(context.Background(), api, testConfig(t), nil)
	require.NoError(t, err)

	_, err = r.Ask(context.Background(), "tacos")
	assert.True(t, errors.Is(err, ErrRunFailed))

	_, err = r.Ask(context.Background(), "  ")
	assert.True(t, errors.Is(err, domain.ErrMalformedInput))
}

func TestNewRunnerRequiresSettings(t *testing.T) {
	_, err := NewRunner(context.Background(), &fakeAPI{}, Config{ThreadFile: "x"}, nil)
	assert.True(t, errors.Is(err, domain.ErrConfig))
	_, err = NewRunner(context.Background(), &fakeAPI{}, Config{AssistantID: "a"}, nil)
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestOpenAIAPIRoundTrip(t *testing.T) {
	var runReq map[string]any
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("POST /v1/threads", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"id": "thread_abc", "object": "thread"})
	})
	mux.HandleFunc("POST /v1/threads/thread_abc/messages", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"id": "msg_1", "object": "thread.message", "role": "user"})
	})
	mux.HandleFunc("POST /v1/threads/thread_abc/runs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&runReq)
		writeJSON(w, map[string]any{"id": "run_1", "object": "thread.run", "status": "queued"})
	})
	mux.HandleFunc("GET /v1/threads/thread_abc/runs/run_1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"id": "run_1", "object": "thread.run", "status": "completed"})
	})
	mux.HandleFunc("GET /v1/threads/thread_abc/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "run_1", r.URL.Query().Get("run_id"))
		writeJSON(w, map[string]any{
			"object": "list",
			"data": []any{
				map[string]any{
					"id": "msg_2", "object": "thread.message", "role": "assistant",
					"content": []any{map[string]any{"type": "text", "text": map[string]any{"value": "Hello Husky", "annotations": []any{}}}},
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	oc := openai.DefaultConfig("test-key")
	oc.BaseURL = srv.URL + "/v1"
	api := NewOpenAIAPI(openai.NewClientWithConfig(oc))

	r, err := NewRunner(context.Background(), api, testConfig(t), nil)
	require.NoError(t, err)
	assert.Equal(t, "thread_abc", r.ThreadID())

	reply, err := r.Ask(context.Background(), "ramen near Capitol Hill")
	require.NoError(t, err)
	assert.Equal(t, "Hello Husky", reply)
	assert.Equal(t, "asst_1", runReq["assistant_id"])
}

func TestOpenAIAPIProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	oc := openai.DefaultConfig("test-key")
	oc.BaseURL = srv.URL + "/v1"
	_, err := NewOpenAIAPI(openai.NewClientWithConfig(oc)).CreateThread(context.Background())
	assert.True(t, errors.Is(err, domain.ErrProviderUnavailable))
}
