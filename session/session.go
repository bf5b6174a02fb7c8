// Package session is the chat client's state machine. It decides when a
// message may be sent, gates image attachments on the selected model, and
// keeps the locally rendered transcript.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ollama-chat/constants"
	"ollama-chat/models"
)

// State is the session's position in the send lifecycle.
type State int

const (
	StateLoggedOut State = iota
	StateIdle
	StateComposing
	StateSending
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateIdle:
		return "idle"
	case StateComposing:
		return "composing"
	case StateSending:
		return "sending"
	default:
		return "unknown"
	}
}

// Role identifies who a transcript message came from.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one rendered transcript entry.
type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Image   string    `json:"image,omitempty"`
	Model   string    `json:"model,omitempty"`
	Time    time.Time `json:"timestamp"`
}

// View receives everything the session wants shown.
type View interface {
	Render(Message)
	Notify(string)
}

type nopView struct{}

func (nopView) Render(Message) {}
func (nopView) Notify(string)  {}

// Guard errors. A guarded call that returns one of these changed nothing.
var (
	ErrLoggedOut     = errors.New("not logged in")
	ErrNoModel       = errors.New("no model selected")
	ErrBusy          = errors.New("a response is already being generated")
	ErrEmpty         = errors.New("nothing to send")
	ErrModelNoImages = errors.New("model does not support images")
	// ErrSessionChanged is returned by Send when the session logged out while
	// the request was in flight; the reply was discarded.
	ErrSessionChanged = errors.New("session changed during send")
)

// DefaultHistoryLimit bounds how many stored turns Login renders.
const DefaultHistoryLimit = 50

// Session is one user's chat client state. All methods are safe for
// concurrent use; transport calls run without the lock held.
type Session struct {
	transport Transport
	registry  Registry
	cache     IdentityCache
	view      View
	logger    *zap.Logger
	limit     int
	now       func() time.Time

	mu       sync.Mutex
	epoch    uint64
	identity *models.User
	model    string
	attached *Attachment
	input    string
	options  *models.GenerateOptions
	sending  bool
	history  []Message
	recents  Recents
	models   []models.ModelSummary
}

// Option configures a Session.
type Option func(*Session)

// WithRegistry replaces the default image capability registry.
func WithRegistry(r Registry) Option { return func(s *Session) { s.registry = r } }

// WithIdentityCache sets where the logged-in identity is kept.
func WithIdentityCache(c IdentityCache) Option { return func(s *Session) { s.cache = c } }

// WithView sets the view.
func WithView(v View) Option { return func(s *Session) { s.view = v } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Session) { s.logger = l } }

// WithHistoryLimit sets how many stored turns are rendered on login.
func WithHistoryLimit(n int) Option { return func(s *Session) { s.limit = n } }

// New returns a logged-out session.
func New(t Transport, opts ...Option) *Session {
	s := &Session{
		transport: t,
		registry:  NewCapabilityRegistry(DefaultImageModels...),
		cache:     &MemoryIdentityCache{},
		view:      nopView{},
		logger:    zap.NewNop(),
		limit:     DefaultHistoryLimit,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login resolves name on the server, renders the user's stored history and
// loads the model list. The previously selected model is not restored.
func (s *Session) Login(ctx context.Context, name string) (models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.User{}, fmt.Errorf("%w: name is required", models.ErrValidation)
	}
	user, err := s.transport.Login(ctx, name)
	if err != nil {
		return models.User{}, fmt.Errorf("login %q: %w", name, err)
	}
	if err := s.cache.Save(user); err != nil {
		s.logger.Warn("identity cache write failed", zap.Error(err))
	}
	s.begin(user)
	s.rehydrate(ctx, user.Name)
	_, _ = s.RefreshModels(ctx)
	return user, nil
}

// Restore logs in with the cached identity, if any. It reports whether a
// session was restored.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	cached, err := s.cache.Load()
	if err != nil || cached == nil {
		return false, err
	}
	if _, err := s.Login(ctx, cached.Name); err != nil {
		return false, err
	}
	return true, nil
}

// Logout discards all in-memory state and the cached identity. A send still
// in flight is not cancelled; its reply is dropped when it arrives.
func (s *Session) Logout() error {
	s.mu.Lock()
	s.epoch++
	s.identity = nil
	s.model = ""
	s.attached = nil
	s.input = ""
	s.options = nil
	s.sending = false
	s.history = nil
	s.recents.Reset()
	s.models = nil
	s.mu.Unlock()
	return s.cache.Clear()
}

func (s *Session) begin(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	u := user
	s.identity = &u
	s.model = ""
	s.attached = nil
	s.input = ""
	s.sending = false
	s.history = nil
	s.recents.Reset()
}

// rehydrate renders stored turns oldest first. Failures only notify.
func (s *Session) rehydrate(ctx context.Context, name string) {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	turns, err := s.transport.History(ctx, name)
	if err != nil {
		s.view.Notify(fmt.Sprintf(constants.NoticeHistoryFailed, err))
		return
	}
	if s.limit > 0 && len(turns) > s.limit {
		turns = turns[:s.limit]
	}

	msgs := make([]Message, 0, 2*len(turns))
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		user := Message{Role: RoleUser, Content: t.Prompt, Model: t.Model, Time: t.Timestamp}
		if t.HasImage() {
			user.Image = storedDataURL(*t.Image)
		}
		msgs = append(msgs, user, Message{Role: RoleAssistant, Content: t.Response, Model: t.Model, Time: t.Timestamp})
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.history = append(msgs, s.history...)
	s.mu.Unlock()
	for _, m := range msgs {
		s.view.Render(m)
	}
}

// storedDataURL rebuilds a displayable data URL from a stored base64 image.
func storedDataURL(b64 string) string {
	head := b64
	if len(head) > 684 {
		head = head[:684]
	}
	mimeType := "image/png"
	if raw, err := base64.StdEncoding.DecodeString(head[:len(head)/4*4]); err == nil {
		if detected := http.DetectContentType(raw); strings.HasPrefix(detected, "image/") {
			mimeType = detected
		}
	}
	return "data:" + mimeType + ";base64," + b64
}

// RefreshModels reloads the model list from the server.
func (s *Session) RefreshModels(ctx context.Context) ([]models.ModelSummary, error) {
	list, err := s.transport.Models(ctx)
	if err != nil {
		s.view.Notify(fmt.Sprintf(constants.NoticeModelsFailed, err))
		return nil, err
	}
	s.mu.Lock()
	s.models = list
	s.mu.Unlock()
	return list, nil
}

// Models returns the last loaded model list.
func (s *Session) Models() []models.ModelSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ModelSummary(nil), s.models...)
}

// SelectModel sets the active model. An attached image is dropped when the
// new model cannot take images.
func (s *Session) SelectModel(name string) error {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	if s.identity == nil {
		s.mu.Unlock()
		return ErrLoggedOut
	}
	s.model = name
	dropped := s.attached != nil && !s.registry.SupportsImages(name)
	if dropped {
		s.attached = nil
	}
	s.mu.Unlock()

	if dropped {
		s.view.Notify(fmt.Sprintf(constants.NoticeImageCleared, name))
	}
	return nil
}

// Model returns the selected model, or "".
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SupportsImages reports whether the selected model accepts images.
func (s *Session) SupportsImages() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model != "" && s.registry.SupportsImages(s.model)
}

// AttachImage stages the image at path for the next send. A rejected
// attachment leaves the session unchanged and notifies the view.
func (s *Session) AttachImage(path string) error {
	s.mu.Lock()
	loggedIn, model := s.identity != nil, s.model
	s.mu.Unlock()

	switch {
	case !loggedIn:
		return ErrLoggedOut
	case model == "":
		s.view.Notify(constants.NoticeSelectModelFirst)
		return ErrNoModel
	case !s.registry.SupportsImages(model):
		s.view.Notify(fmt.Sprintf(constants.NoticeModelNoImages, model))
		return ErrModelNoImages
	}

	att, err := ReadAttachment(path)
	if err != nil {
		s.notifyAttachError(path, err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return ErrLoggedOut
	}
	if s.model != model && !s.registry.SupportsImages(s.model) {
		return ErrModelNoImages
	}
	s.attached = att
	return nil
}

func (s *Session) notifyAttachError(path string, err error) {
	switch {
	case errors.Is(err, ErrNotImage):
		s.view.Notify(fmt.Sprintf(constants.NoticeNotAnImage, path, err))
	case errors.Is(err, ErrImageTooLarge):
		s.view.Notify(fmt.Sprintf(constants.NoticeImageTooLarge, path, err, FormatSize(MaxImageBytes)))
	default:
		s.view.Notify(fmt.Sprintf(constants.NoticeImageReadFailed, path, err))
	}
}

// Attachment returns the staged image, or nil.
func (s *Session) Attachment() *Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// ClearImage drops the staged image.
func (s *Session) ClearImage() {
	s.mu.Lock()
	s.attached = nil
	s.mu.Unlock()
}

// SetInput replaces the composed text.
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	s.input = text
	s.mu.Unlock()
}

// SetOptions sets the inference options sent with every request.
func (s *Session) SetOptions(o *models.GenerateOptions) error {
	if o != nil {
		if err := o.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.options = o
	s.mu.Unlock()
	return nil
}

// State derives the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.identity == nil:
		return StateLoggedOut
	case s.sending:
		return StateSending
	case strings.TrimSpace(s.input) != "" || s.attached != nil:
		return StateComposing
	default:
		return StateIdle
	}
}

// User returns the logged-in identity, or nil.
func (s *Session) User() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	u := *s.identity
	return &u
}

// Send dispatches the composed input and staged image. It blocks until the
// server answers or the transport fails, then renders exactly one reply
// message. Guard failures return an error and change nothing; a settled
// request returns nil whatever its outcome.
func (s *Session) Send(ctx context.Context) error {
	s.mu.Lock()
	text := strings.TrimSpace(s.input)
	switch {
	case s.identity == nil:
		s.mu.Unlock()
		return ErrLoggedOut
	case s.sending:
		s.mu.Unlock()
		return ErrBusy
	case s.model == "":
		s.mu.Unlock()
		return ErrNoModel
	case text == "" && s.attached == nil:
		s.mu.Unlock()
		return ErrEmpty
	}

	epoch := s.epoch
	att := s.attached
	req := models.GenerateRequest{
		Model:    s.model,
		Prompt:   text,
		UserName: s.identity.Name,
		Images:   []string{},
		Options:  s.options,
	}
	out := Message{Role: RoleUser, Content: text, Model: s.model, Time: s.now()}
	if att != nil {
		req.Images = []string{att.Base64}
		out.Image = att.DataURL()
	}
	s.sending = true
	s.input = ""
	if text != "" {
		s.recents.Add(text)
	}
	s.history = append(s.history, out)
	s.mu.Unlock()

	s.view.Render(out)
	s.logger.Debug("send", zap.String("model", req.Model), zap.Int("prompt_len", len(text)), zap.Bool("image", att != nil))

	reply, err := s.transport.Generate(ctx, req)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.logger.Debug("reply discarded after logout")
		return ErrSessionChanged
	}
	var msg Message
	switch {
	case err != nil:
		msg = Message{Role: RoleSystem, Content: "Error: " + err.Error(), Time: s.now()}
	case reply.Response == "":
		msg = Message{Role: RoleAssistant, Content: constants.NoticeNoResponse, Model: req.Model, Time: s.now()}
	default:
		msg = Message{Role: RoleAssistant, Content: reply.Response, Model: req.Model, Time: s.now()}
	}
	s.history = append(s.history, msg)
	s.sending = false
	if s.attached == att {
		s.attached = nil
	}
	s.mu.Unlock()

	s.view.Render(msg)
	if err == nil && !reply.HistorySaved {
		notice := reply.Warning
		if notice == "" {
			notice = constants.MessageHistoryNotSaved
		}
		s.view.Notify(notice)
	}
	return nil
}

// History returns a copy of the rendered transcript.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...)
}

// Recent returns the recency list, most recent first.
func (s *Session) Recent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recents.List()
}

// ClearChat resets the local transcript to a single notice and deselects the
// model. The server log is untouched.
func (s *Session) ClearChat() error {
	s.mu.Lock()
	if s.identity == nil {
		s.mu.Unlock()
		return ErrLoggedOut
	}
	notice := Message{Role: RoleSystem, Content: constants.NoticeChatCleared, Time: s.now()}
	s.history = []Message{notice}
	s.model = ""
	s.attached = nil
	s.mu.Unlock()
	s.view.Render(notice)
	return nil
}

// ClearHistory deletes the user's stored turns on the server and clears the
// local transcript. It returns the number of turns removed.
func (s *Session) ClearHistory(ctx context.Context) (int64, error) {
	s.mu.Lock()
	if s.identity == nil {
		s.mu.Unlock()
		return 0, ErrLoggedOut
	}
	name := s.identity.Name
	s.mu.Unlock()

	n, err := s.transport.ClearHistory(ctx, name)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
	s.view.Notify(fmt.Sprintf(constants.MessageClearedHistory, n))
	return n, nil
}

// CheckConnection reports whether the server and its dependencies are up.
func (s *Session) CheckConnection(ctx context.Context) (models.HealthResponse, bool) {
	h, err := s.transport.Health(ctx)
	if err != nil {
		return models.HealthResponse{Status: constants.StatusUnhealthy, Error: err.Error()}, false
	}
	return h, h.Status == constants.StatusHealthy
}
