package assistant

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"bitechat/internal/domain"
)

// FailedReply is printed when a run ends without a usable answer.
const FailedReply = "The exercise did not complete successfully."

// API is the slice of the Assistants API the runner needs.
type API interface {
	CreateThread(ctx context.Context) (string, error)
	PostMessage(ctx context.Context, threadID, content string) error
	StartRun(ctx context.Context, threadID, assistantID, instructions string) (string, error)
	RunStatus(ctx context.Context, threadID, runID string) (Status, error)
	LatestReply(ctx context.Context, threadID, runID string) (string, error)
}

// Config configures a Runner.
type Config struct {
	AssistantID  string
	ThreadFile   string
	Instructions string
	Poll         PollConfig
}

// Runner posts user messages to one persistent thread and waits for the answer.
type Runner struct {
	api      API
	cfg      Config
	threadID string
	logger   *zap.Logger
}

// NewRunner reuses the thread id stored in cfg.ThreadFile or creates a new thread
// and stores its id there.
func NewRunner(ctx context.Context, api API, cfg Config, logger *zap.Logger) (*Runner, error) {
	if cfg.AssistantID == "" {
		return nil, errors.Wrap(domain.ErrConfig, "assistant id is required")
	}
	if cfg.ThreadFile == "" {
		return nil, errors.Wrap(domain.ErrConfig, "thread file is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{api: api, cfg: cfg, logger: logger.Named("assistant")}

	id, err := readThreadID(cfg.ThreadFile)
	if err != nil {
		return nil, err
	}
	if id != "" {
		r.logger.Info("using existing thread", zap.String("thread_id", id))
		r.threadID = id
		return r, nil
	}

	id, err = api.CreateThread(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "create thread")
	}
	if err := writeThreadID(cfg.ThreadFile, id); err != nil {
		return nil, err
	}
	r.logger.Info("new thread initiated", zap.String("thread_id", id))
	r.threadID = id
	return r, nil
}

// ThreadID returns the thread the runner posts to.
func (r *Runner) ThreadID() string { return r.threadID }

// Ask posts message, starts a run and returns the assistant's reply once the run completes.
func (r *Runner) Ask(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", errors.Wrap(domain.ErrMalformedInput, "message is empty")
	}
	if err := r.api.PostMessage(ctx, r.threadID, message); err != nil {
		return "", errors.Wrap(err, "post message")
	}
	runID, err := r.api.StartRun(ctx, r.threadID, r.cfg.AssistantID, r.cfg.Instructions)
	if err != nil {
		return "", errors.Wrap(err, "start run")
	}
	log := r.logger.With(zap.String("thread_id", r.threadID), zap.String("run_id", runID))

	poll := r.cfg.Poll
	onWait := poll.OnWait
	poll.OnWait = func(s Status, next time.Duration) {
		log.Debug("run pending", zap.String("status", string(s)), zap.Duration("next", next))
		if onWait != nil {
			onWait(s, next)
		}
	}
	status, err := Poll(ctx, poll, func(ctx context.Context) (Status, error) {
		return r.api.RunStatus(ctx, r.threadID, runID)
	})
	if err != nil {
		log.Warn("run did not complete", zap.String("status", string(status)), zap.Error(err))
		return "", err
	}

	reply, err := r.api.LatestReply(ctx, r.threadID, runID)
	if err != nil {
		return "", errors.Wrap(err, "list messages")
	}
	log.Info("run completed", zap.Int("reply_len", len(reply)))
	return reply, nil
}

func readThreadID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", errors.Wrapf(err, "read thread file %s", path)
	}
	return strings.TrimSpace(string(data)), nil
}

func writeThreadID(path, id string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	return errors.Wrapf(os.WriteFile(path, []byte(id), 0o600), "write thread file %s", path)
}

// OpenAIAPI implements API over a go-openai client.
type OpenAIAPI struct {
	client *openai.Client
}

// NewOpenAIAPI wraps client.
func NewOpenAIAPI(client *openai.Client) *OpenAIAPI { return &OpenAIAPI{client: client} }

func (a *OpenAIAPI) CreateThread(ctx context.Context) (string, error) {
	th, err := a.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", errors.Wrap(domain.ErrProviderUnavailable, err.Error())
	}
	return th.ID, nil
}

func (a *OpenAIAPI) PostMessage(ctx context.Context, threadID, content string) error {
	_, err := a.client.CreateMessage(ctx, threadID, openai.MessageRequest{Role: "user", Content: content})
	if err != nil {
		return errors.Wrap(domain.ErrProviderUnavailable, err.Error())
	}
	return nil
}

func (a *OpenAIAPI) StartRun(ctx context.Context, threadID, assistantID, instructions string) (string, error) {
	run, err := a.client.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID:  assistantID,
		Instructions: instructions,
	})
	if err != nil {
		return "", errors.Wrap(domain.ErrProviderUnavailable, err.Error())
	}
	return run.ID, nil
}

func (a *OpenAIAPI) RunStatus(ctx context.Context, threadID, runID string) (Status, error) {
	run, err := a.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return "", errors.Wrap(domain.ErrProviderUnavailable, err.Error())
	}
	return Status(run.Status), nil
}

// LatestReply returns the text of the newest assistant message produced by runID.
func (a *OpenAIAPI) LatestReply(ctx context.Context, threadID, runID string) (string, error) {
	order := "desc"
	list, err := a.client.ListMessage(ctx, threadID, nil, &order, nil, nil, &runID)
	if err != nil {
		return "", errors.Wrap(domain.ErrProviderUnavailable, err.Error())
	}
	for _, m := range list.Messages {
		if m.Role != "assistant" {
			continue
		}
		for _, c := range m.Content {
			if c.Text != nil && c.Text.Value != "" {
				return c.Text.Value, nil
			}
		}
	}
	return "", errors.Wrap(ErrRunFailed, "run produced no text reply")
}
