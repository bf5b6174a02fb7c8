package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ollama-chat/models"
	"ollama-chat/session"
)

const recentDisplayWidth = 50

var (
	chatServerURL    string
	chatIdentityFile string
	chatHistoryLimit int
)

var chatCmd = &cobra.Command{
	Use:   "chat [name]",
	Short: "Interactive terminal chat client",
	Long: `Connects to a running server and opens a chat session. Without a name the
cached identity is restored; type /help for commands.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatServerURL, "server", "", "Server base URL (env CHAT_SERVER_URL)")
	chatCmd.Flags().StringVar(&chatIdentityFile, "identity-file", "", "Where the logged-in name is cached")
	chatCmd.Flags().IntVar(&chatHistoryLimit, "history-limit", 0, "Stored turns shown on login")
}

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	systemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	noticeStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("8"))
	promptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
)

// termView prints transcript messages; assistant replies are rendered as
// markdown.
type termView struct {
	out io.Writer
	md  *glamour.TermRenderer
}

func newTermView(out io.Writer) *termView {
	v := &termView{out: out}
	if r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100)); err == nil {
		v.md = r
	}
	return v
}

func (v *termView) Render(m session.Message) {
	switch m.Role {
	case session.RoleUser:
		line := m.Content
		if m.Image != "" {
			line = strings.TrimSpace(line + " [image]")
		}
		fmt.Fprintf(v.out, "%s %s\n", userStyle.Render("you:"), line)
	case session.RoleAssistant:
		fmt.Fprintln(v.out, assistantStyle.Render(m.Model+":"))
		body := m.Content
		if v.md != nil {
			if rendered, err := v.md.Render(body); err == nil {
				body = rendered
			}
		}
		fmt.Fprintln(v.out, strings.TrimRight(body, "\n"))
	default:
		fmt.Fprintln(v.out, systemStyle.Render(m.Content))
	}
}

func (v *termView) Notify(s string) {
	fmt.Fprintln(v.out, noticeStyle.Render(s))
}

func runChat(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.Client.ServerURL = chatServerURL
	}
	if flags.Changed("identity-file") {
		cfg.Client.IdentityFile = chatIdentityFile
	}
	if flags.Changed("history-limit") {
		cfg.Client.HistoryLimit = chatHistoryLimit
	}
	if err := cfg.ValidateClient(); err != nil {
		return err
	}

	idPath := cfg.Client.IdentityFile
	if idPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		idPath = filepath.Join(dir, "ollama-chat", "identity.json")
	}
	imageModels := session.DefaultImageModels
	if len(cfg.Client.ImageModels) > 0 {
		imageModels = cfg.Client.ImageModels
	}

	out := cmd.OutOrStdout()
	view := newTermView(out)
	s := session.New(
		session.NewHTTPTransport(cfg.Client.ServerURL, nil),
		session.WithView(view),
		session.WithIdentityCache(session.FileIdentityCache{Path: idPath}),
		session.WithRegistry(session.NewCapabilityRegistry(imageModels...)),
		session.WithHistoryLimit(cfg.Client.HistoryLimit),
		session.WithLogger(logger),
	)

	// Requests run on a context SIGINT never cancels; the interrupt only
	// ends the input loop.
	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx := context.WithoutCancel(sigCtx)

	if h, ok := s.CheckConnection(ctx); !ok {
		view.Notify(fmt.Sprintf("Server at %s is not healthy: %s", cfg.Client.ServerURL, h.Error))
	}
	if len(args) == 1 {
		if err := login(ctx, s, view, args[0]); err != nil {
			return err
		}
	} else if ok, err := s.Restore(ctx); err != nil {
		view.Notify(err.Error())
	} else if ok {
		view.Notify("Logged in as " + s.User().Name)
	} else {
		view.Notify("Use /login <name> to start.")
	}

	r := &repl{s: s, view: view, out: out}
	return r.run(sigCtx, cmd.InOrStdin())
}

func login(ctx context.Context, s *session.Session, view *termView, name string) error {
	u, err := s.Login(ctx, name)
	if err != nil {
		return err
	}
	view.Notify(fmt.Sprintf("Logged in as %s. Pick a model with /model.", u.Name))
	printModels(view.out, s.Models())
	return nil
}

type repl struct {
	s    *session.Session
	view *termView
	out  io.Writer
}

// run reads commands until EOF, /quit or ctx is cancelled. Requests are
// issued on a detached context so an interrupt never aborts a send that is
// already in flight.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	reqCtx := context.WithoutCancel(ctx)
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		if ctx.Err() != nil {
			fmt.Fprintln(r.out)
			return nil
		}
		fmt.Fprint(r.out, promptStyle.Render(r.promptLabel()))
		var raw string
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			raw = l
		}
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			r.s.SetInput(line)
			r.report(r.s.Send(reqCtx))
			continue
		}
		quit, err := r.command(reqCtx, line)
		if quit {
			return nil
		}
		r.report(err)
	}
}

func (r *repl) promptLabel() string {
	model := r.s.Model()
	if model == "" {
		model = "no model"
	}
	if r.s.Attachment() != nil {
		model += " +image"
	}
	return "[" + model + "]> "
}

func (r *repl) report(err error) {
	if err != nil {
		r.view.Notify(err.Error())
	}
}

func (r *repl) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/login":
		return false, login(ctx, r.s, r.view, arg)
	case "/logout":
		return false, r.s.Logout()
	case "/models":
		list, err := r.s.RefreshModels(ctx)
		if err == nil {
			printModels(r.out, list)
		}
		return false, err
	case "/model":
		if err := r.s.SelectModel(arg); err != nil {
			return false, err
		}
		if r.s.SupportsImages() {
			r.view.Notify("Model accepts images; attach with /attach <path>.")
		}
	case "/attach":
		if err := r.s.AttachImage(arg); err != nil {
			// AttachImage already notified the view.
			return false, nil
		}
		att := r.s.Attachment()
		r.view.Notify(fmt.Sprintf("Attached %s (%s)", att.Name, session.FormatSize(att.Size)))
	case "/detach":
		r.s.ClearImage()
	case "/options":
		opts, err := parseOptions(arg)
		if err != nil {
			return false, err
		}
		return false, r.s.SetOptions(opts)
	case "/recent":
		for i, p := range r.s.Recent() {
			fmt.Fprintf(r.out, "%2d. %s\n", i+1, session.Truncate(p, recentDisplayWidth))
		}
	case "/clear":
		return false, r.s.ClearChat()
	case "/history-clear":
		_, err := r.s.ClearHistory(ctx)
		return false, err
	case "/export":
		return false, r.export(arg)
	case "/status":
		h, ok := r.s.CheckConnection(ctx)
		state := "connected"
		if !ok {
			state = "disconnected"
		}
		r.view.Notify(fmt.Sprintf("%s (ollama: %s, database: %s) %s", state, h.Ollama, h.Database, h.Error))
	default:
		return false, fmt.Errorf("unknown command %s, try /help", name)
	}
	return false, nil
}

func (r *repl) export(path string) error {
	if path == "" {
		path = "chat-export.md"
	}
	format, err := session.ParseExportFormat(filepath.Ext(path))
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.s.Export(f, format); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Debug("chat exported", zap.String("path", path))
	r.view.Notify("Exported to " + path)
	return nil
}

// parseOptions reads "temperature=0.7 top_p=0.9 num_predict=256". An empty
// argument clears the options.
func parseOptions(arg string) (*models.GenerateOptions, error) {
	if arg == "" {
		return nil, nil
	}
	var o models.GenerateOptions
	for _, kv := range strings.Fields(arg) {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("option %q must be key=value", kv)
		}
		switch k {
		case "temperature", "top_p":
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("option %s: %w", k, err)
			}
			if k == "temperature" {
				o.Temperature = &f
			} else {
				o.TopP = &f
			}
		case "num_predict":
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("option %s: %w", k, err)
			}
			o.NumPredict = &n
		default:
			return nil, fmt.Errorf("unknown option %q", k)
		}
	}
	return &o, nil
}

func printModels(w io.Writer, list []models.ModelSummary) {
	for _, m := range list {
		fmt.Fprintf(w, "  %s (%s)\n", m.Name, session.FormatSize(m.Size))
	}
}

const helpText = `Commands:
  /login <name>           log in (creates the user on first use)
  /logout                 forget the identity and clear the screen state
  /models                 reload the model list
  /model <name>           select the model for the next messages
  /attach <path>          attach an image (vision models only, max 10 MB)
  /detach                 drop the attached image
  /options k=v ...        temperature, top_p, num_predict; empty clears
  /recent                 recently sent prompts
  /clear                  clear the local transcript
  /history-clear          delete stored history on the server
  /export [file.md|.json] save the transcript
  /status                 check server health
  /quit                   exit
Anything else is sent to the selected model.`
