package chat

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ETdoFresh/codex-webapp-sub000/internal/store"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/workspace"
)

// AttachmentInput is one uploaded file in a message submission.
type AttachmentInput struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Base64   string `json:"base64"`
}

// Only image types are accepted; the extension keyed here names the on-disk
// file, the uploaded filename is kept as display metadata only.
var allowedAttachmentExts = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// prepareAttachments validates and saves a submission's attachments under
// the workspace attachments directory. The whole set is atomic: any invalid
// attachment rejects the submission before a single byte is written, and a
// write failure removes the files already written.
func prepareAttachments(workspaceDir string, inputs []AttachmentInput, maxCount int, maxBytes int64) ([]store.AttachmentDraft, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if maxCount > 0 && len(inputs) > maxCount {
		return nil, fmt.Errorf("%w: too many attachments (%d > %d)", ErrInvalidSubmission, len(inputs), maxCount)
	}
	workspaceDir = strings.TrimSpace(workspaceDir)
	if workspaceDir == "" {
		return nil, fmt.Errorf("missing workspace dir")
	}

	type decoded struct {
		in   AttachmentInput
		data []byte
		ext  string
	}
	all := make([]decoded, 0, len(inputs))
	for i, in := range inputs {
		mime := strings.ToLower(strings.TrimSpace(in.MimeType))
		ext, ok := allowedAttachmentExts[mime]
		if !ok {
			return nil, fmt.Errorf("%w: unsupported attachment type %q", ErrInvalidSubmission, in.MimeType)
		}
		if maxBytes > 0 && in.Size > maxBytes {
			return nil, fmt.Errorf("%w: attachment %d exceeds %d bytes", ErrInvalidSubmission, i+1, maxBytes)
		}
		data, err := decodeAttachmentPayload(in.Base64)
		if err != nil {
			return nil, fmt.Errorf("%w: attachment %d: %v", ErrInvalidSubmission, i+1, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: attachment %d is empty", ErrInvalidSubmission, i+1)
		}
		if maxBytes > 0 && int64(len(data)) > maxBytes {
			return nil, fmt.Errorf("%w: attachment %d exceeds %d bytes", ErrInvalidSubmission, i+1, maxBytes)
		}
		all = append(all, decoded{in: in, data: data, ext: ext})
	}

	attDir := filepath.Join(workspaceDir, workspace.AttachmentsDirName)
	if err := os.MkdirAll(attDir, 0o700); err != nil {
		return nil, err
	}

	drafts := make([]store.AttachmentDraft, 0, len(all))
	written := make([]string, 0, len(all))
	cleanup := func() {
		for _, p := range written {
			_ = os.Remove(p)
		}
	}
	for _, d := range all {
		name, err := newAttachmentName(d.ext)
		if err != nil {
			cleanup()
			return nil, err
		}
		abs := filepath.Join(attDir, name)
		if err := os.WriteFile(abs, d.data, 0o600); err != nil {
			cleanup()
			return nil, err
		}
		written = append(written, abs)
		drafts = append(drafts, store.AttachmentDraft{
			Filename:  displayFilename(d.in.Filename, name),
			MimeType:  strings.ToLower(strings.TrimSpace(d.in.MimeType)),
			SizeBytes: int64(len(d.data)),
			RelPath:   filepath.Join(workspace.AttachmentsDirName, name),
		})
	}
	return drafts, nil
}

func decodeAttachmentPayload(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty payload")
	}
	// Tolerate data URLs from browser FileReader output.
	if strings.HasPrefix(raw, "data:") {
		_, data, ok := strings.Cut(raw, ",")
		if !ok {
			return nil, fmt.Errorf("malformed data url")
		}
		raw = strings.TrimSpace(data)
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		b, err = base64.RawStdEncoding.DecodeString(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid base64 payload")
	}
	return b, nil
}

func newAttachmentName(ext string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "att_" + hex.EncodeToString(b) + ext, nil
}

func displayFilename(raw string, fallback string) string {
	// The uploaded name never touches the filesystem, but a path-looking
	// display name is still confusing in the UI.
	raw = strings.TrimSpace(filepath.Base(strings.ReplaceAll(raw, "\\", "/")))
	if raw == "" || raw == "." || raw == ".." || raw == "/" {
		return fallback
	}
	return raw
}
