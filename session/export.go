package session

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// ExportFormat selects the document Export writes.
type ExportFormat string

const (
	ExportJSON     ExportFormat = "json"
	ExportMarkdown ExportFormat = "markdown"
)

// ParseExportFormat maps a file extension or name to a format.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "json":
		return ExportJSON, nil
	case "md", "markdown":
		return ExportMarkdown, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

type exportDoc struct {
	User       string    `json:"user,omitempty"`
	ExportedAt time.Time `json:"exported_at"`
	Messages   []Message `json:"messages"`
}

// Export writes the rendered transcript to w. It never touches the network.
func (s *Session) Export(w io.Writer, format ExportFormat) error {
	s.mu.Lock()
	doc := exportDoc{ExportedAt: s.now().UTC(), Messages: append([]Message{}, s.history...)}
	if s.identity != nil {
		doc.User = s.identity.Name
	}
	s.mu.Unlock()

	switch format {
	case ExportJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case ExportMarkdown:
		return writeMarkdown(w, doc)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

func writeMarkdown(w io.Writer, doc exportDoc) error {
	var b strings.Builder
	b.WriteString("# Chat export\n\n")
	if doc.User != "" {
		fmt.Fprintf(&b, "User: %s\n\n", doc.User)
	}
	fmt.Fprintf(&b, "Exported: %s\n", doc.ExportedAt.Format(time.RFC3339))
	for _, m := range doc.Messages {
		b.WriteString("\n## ")
		b.WriteString(roleTitle(m.Role))
		if m.Model != "" && m.Role == RoleAssistant {
			fmt.Fprintf(&b, " (%s)", m.Model)
		}
		b.WriteString("\n\n")
		if m.Image != "" {
			b.WriteString("![attached image](")
			b.WriteString(m.Image)
			b.WriteString(")\n\n")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func roleTitle(r Role) string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	default:
		return "System"
	}
}
