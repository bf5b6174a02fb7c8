package session

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// MaxImageBytes is the largest image the client will attach.
const MaxImageBytes = 10 << 20

var (
	ErrNotImage      = errors.New("file is not an image")
	ErrImageTooLarge = errors.New("image exceeds size limit")
	ErrImageRead     = errors.New("failed to read image")
)

// Attachment is an image staged for the next send.
type Attachment struct {
	Name     string
	MIMEType string
	Size     int64
	// Base64 is the payload sent to the server, without the data URL prefix.
	Base64 string
}

// DataURL renders the attachment for display in the transcript.
func (a *Attachment) DataURL() string {
	return "data:" + a.MIMEType + ";base64," + a.Base64
}

// ReadAttachment loads an image from path. The MIME type comes from the
// extension, falling back to content sniffing.
func ReadAttachment(path string) (*Attachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageRead, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageRead, err)
	}
	return NewAttachment(filepath.Base(path), info.Size(), f)
}

// NewAttachment validates and encodes an image read from r.
func NewAttachment(name string, size int64, r io.Reader) (*Attachment, error) {
	if size > MaxImageBytes {
		return nil, fmt.Errorf("%w: %s is %s", ErrImageTooLarge, name, FormatSize(size))
	}
	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageRead, err)
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("%w: %s", ErrImageTooLarge, name)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNotImage, name, mimeType)
	}

	return &Attachment{
		Name:     name,
		MIMEType: mimeType,
		Size:     int64(len(data)),
		Base64:   base64.StdEncoding.EncodeToString(data),
	}, nil
}
