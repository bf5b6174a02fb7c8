// Package generation coordinates one generation request: identity, context
// window, prompt augmentation, completion and history write.
package generation

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"ollama-chat/history"
	"ollama-chat/models"
	"ollama-chat/ollama"
)

// DefaultImagePrompt is sent when a request carries an image but no text.
const DefaultImagePrompt = "Please describe this image in detail."

// Stage names the step a request reached.
type Stage int

const (
	StageReceived Stage = iota
	StageValidated
	StageIdentityResolved
	StageContextBuilt
	StageDispatched
	StageCompleted
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageValidated:
		return "validated"
	case StageIdentityResolved:
		return "identity_resolved"
	case StageContextBuilt:
		return "context_built"
	case StageDispatched:
		return "dispatched"
	case StageCompleted:
		return "completed"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Completer is the completion service.
type Completer interface {
	Generate(ctx context.Context, req ollama.GenerateRequest) (ollama.GenerateResult, error)
	GenerateStream(ctx context.Context, req ollama.GenerateRequest) (io.ReadCloser, error)
}

// Identities resolves user names.
type Identities interface {
	Resolve(ctx context.Context, name string) (models.User, bool, error)
}

// ContextBuilder renders the prior-turn digest.
type ContextBuilder interface {
	Build(ctx context.Context, userID uint, maxTurns int, excludeImageTurns bool) (string, error)
}

// Recorder persists completed turns.
type Recorder interface {
	Append(ctx context.Context, nt models.NewTurn) (models.Turn, error)
}

// Request is one generation request.
type Request struct {
	Model    string
	Prompt   string
	UserName string
	Images   []string
	Options  *models.GenerateOptions
}

// Result is a completed generation.
type Result struct {
	Response     string
	Raw          map[string]any
	User         models.User
	SentPrompt   string
	HistorySaved bool
	Turn         *models.Turn
}

// Orchestrator runs requests through the generation pipeline.
type Orchestrator struct {
	users      Identities
	window     ContextBuilder
	log        Recorder
	completer  Completer
	logger     *zap.Logger
	maxContext int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithContextTurns overrides the number of prior turns folded into a prompt.
func WithContextTurns(n int) Option {
	return func(o *Orchestrator) { o.maxContext = n }
}

// New wires an Orchestrator.
func New(users Identities, window ContextBuilder, log Recorder, completer Completer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		users:      users,
		window:     window,
		log:        log,
		completer:  completer,
		logger:     zap.NewNop(),
		maxContext: history.DefaultWindowTurns,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Generate runs req to completion. Nothing is persisted unless the
// completion succeeds.
//
// When the completion succeeds but the history write fails, Generate returns
// the Result together with an error wrapping models.ErrPersistence.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (Result, error) {
	stage := StageReceived
	logger := o.logger.With(zap.String("user", req.UserName), zap.String("model", req.Model))
	fail := func(err error) (Result, error) {
		logger.Warn("generation failed", zap.Stringer("stage", stage), zap.Error(err))
		return Result{}, err
	}

	if err := validate(&req, true); err != nil {
		return fail(err)
	}
	stage = StageValidated

	user, _, err := o.users.Resolve(ctx, req.UserName)
	if err != nil {
		return fail(err)
	}
	stage = StageIdentityResolved

	hasImages := len(req.Images) > 0
	digest, err := o.window.Build(ctx, user.ID, o.maxContext, hasImages)
	if err != nil {
		// Context is best-effort: fall back to the bare prompt.
		logger.Warn("context window unavailable", zap.Uint("user_id", user.ID), zap.Error(err))
		digest = ""
	}
	stage = StageContextBuilt
	sent := AugmentPrompt(digest, req.Prompt, hasImages)
	logger.Debug("context built",
		zap.Int("context_chars", len(digest)),
		zap.Bool("exclude_image_turns", hasImages),
		zap.Int("images", len(req.Images)))

	stage = StageDispatched
	completion, err := o.completer.Generate(ctx, ollama.GenerateRequest{
		Model:   req.Model,
		Prompt:  sent,
		Images:  req.Images,
		Options: req.Options,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fail(err)
		}
		return fail(fmt.Errorf("%w: %v", models.ErrUpstream, err))
	}

	result := Result{
		Response:   completion.Response,
		Raw:        completion.Raw,
		User:       user,
		SentPrompt: sent,
	}

	var image *string
	if hasImages {
		first := req.Images[0]
		image = &first
	}
	turn, err := o.log.Append(ctx, models.NewTurn{
		UserID:   user.ID,
		Model:    req.Model,
		Prompt:   req.Prompt,
		Response: completion.Response,
		Image:    image,
	})
	stage = StageCompleted
	if err != nil {
		logger.Error("history not saved", zap.Uint("user_id", user.ID), zap.Error(err))
		if !errors.Is(err, models.ErrPersistence) {
			err = fmt.Errorf("%w: %v", models.ErrPersistence, err)
		}
		return result, err
	}
	result.Turn = &turn
	result.HistorySaved = true

	logger.Info("generation completed",
		zap.Uint("user_id", user.ID),
		zap.Int("context_chars", len(digest)),
		zap.Int("images", len(req.Images)),
		zap.Int("response_chars", len(completion.Response)))
	return result, nil
}

// Stream forwards a streaming completion without context or persistence.
func (o *Orchestrator) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	if err := validate(&req, false); err != nil {
		return nil, err
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = DefaultImagePrompt
	}
	body, err := o.completer.GenerateStream(ctx, ollama.GenerateRequest{
		Model:   req.Model,
		Prompt:  prompt,
		Images:  req.Images,
		Options: req.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUpstream, err)
	}
	return body, nil
}

// AugmentPrompt prepends digest to prompt in the conversational form
// "<digest>\n\nUser: <prompt>". An empty prompt with images becomes
// DefaultImagePrompt.
func AugmentPrompt(digest, prompt string, hasImages bool) string {
	if prompt == "" && hasImages {
		prompt = DefaultImagePrompt
	}
	if digest == "" {
		return prompt
	}
	return digest + "\n\nUser: " + prompt
}
