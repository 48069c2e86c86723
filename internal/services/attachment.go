package services

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// MaxAttachmentBytes bounds the size of a post attachment.
const MaxAttachmentBytes = 20 << 20

var attachmentNameSanitizer = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

var allowedAttachmentExtensions = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".md":   true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".zip":  true,
	".docx": true,
	".pptx": true,
}

// AttachmentUpload is a study file submitted with a new post.
type AttachmentUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

func validateAttachment(upload AttachmentUpload) (string, error) {
	if len(upload.Data) == 0 {
		return "", fmt.Errorf("%w: empty attachment", ErrInvalidInput)
	}
	if len(upload.Data) > MaxAttachmentBytes {
		return "", fmt.Errorf("%w: attachment exceeds %d bytes", ErrInvalidInput, MaxAttachmentBytes)
	}
	name, err := cleanAttachmentName(upload.Filename)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return name, nil
}

func cleanAttachmentName(filename string) (string, error) {
	name := strings.TrimSpace(strings.ReplaceAll(filename, `\`, "/"))
	name = path.Base(path.Clean("/" + name))
	if name == "/" || name == "." || name == "" {
		return "", errors.New("attachment filename is required")
	}
	ext := strings.ToLower(path.Ext(name))
	if !allowedAttachmentExtensions[ext] {
		return "", fmt.Errorf("unsupported attachment type %q", ext)
	}
	name = attachmentNameSanitizer.ReplaceAllString(name, "_")
	return name, nil
}

func attachmentKey(filename string) string {
	return fmt.Sprintf("posts/%s/%s", uuid.NewString(), filename)
}

func attachmentChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
