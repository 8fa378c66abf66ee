package fileserver

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/projectdesk/internal/logger"
	"github.com/projectdesk/internal/model"
)

// Executable and script extensions are rejected outright; everything else is
// stored as an opaque blob.
var blockedExt = map[string]bool{
	".exe": true, ".sh": true, ".js": true, ".bat": true, ".cmd": true,
	".php": true, ".py": true, ".rb": true,
}

// Store saves message attachments on local disk and serves them back.
type Store struct {
	UploadDir string
	MaxSize   int64
}

func New(uploadDir string, maxSize int64) *Store {
	return &Store{UploadDir: uploadDir, MaxSize: maxSize}
}

// SaveAttachment persists one uploaded file and returns the attachment record
// to be stored alongside the message. Image dimensions are decoded when the
// content is a known image format.
func (s *Store) SaveAttachment(header *multipart.FileHeader) (*model.Attachment, error) {
	if header.Size > s.MaxSize {
		return nil, fmt.Errorf("fileserver.SaveAttachment: file too large (%d bytes)", header.Size)
	}

	// Some clients encode spaces as "+" in the filename.
	rawName := strings.ReplaceAll(header.Filename, "+", " ")
	ext := strings.ToLower(filepath.Ext(rawName))
	if blockedExt[ext] {
		return nil, fmt.Errorf("fileserver.SaveAttachment: file type not allowed (%s)", ext)
	}

	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("fileserver.SaveAttachment open: %w", err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := io.ReadAtLeast(f, head, len(head))
	head = head[:n]
	if !matchMagic(ext, head) {
		return nil, fmt.Errorf("fileserver.SaveAttachment: file content does not match type (%s)", ext)
	}

	if err := os.MkdirAll(s.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("fileserver.SaveAttachment mkdir: %w", err)
	}

	storedName := uuid.New().String() + ext
	dstPath := filepath.Join(s.UploadDir, storedName)
	dst, err := os.Create(dstPath)
	if err != nil {
		return nil, fmt.Errorf("fileserver.SaveAttachment create: %w", err)
	}
	if _, err := dst.Write(head); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return nil, fmt.Errorf("fileserver.SaveAttachment write: %w", err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return nil, fmt.Errorf("fileserver.SaveAttachment copy: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return nil, fmt.Errorf("fileserver.SaveAttachment close: %w", err)
	}

	a := &model.Attachment{
		Type:         typeByExt(ext),
		URL:          "/api/files/" + storedName,
		OriginalName: safeFilename(filepath.Base(rawName)),
	}
	if a.OriginalName == "" {
		a.OriginalName = storedName
	}
	if a.Type == model.AttachmentImage {
		if w, h, ok := imageDims(dstPath); ok {
			a.Width, a.Height = &w, &h
		}
	}
	return a, nil
}

func imageDims(path string) (int, int, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		logger.Errorf("fileserver: decode image config %s: %v", filepath.Base(path), err)
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

// Serve writes a stored attachment to the response by its stored name.
func (s *Store) Serve(w http.ResponseWriter, r *http.Request, filename string) {
	filename = filepath.Base(filename)
	path := filepath.Join(s.UploadDir, filename)

	if ct := contentTypeByExt(filepath.Ext(filename)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	f, err := os.Open(path)
	if err != nil {
		http.Error(w, `{"error":"file not found"}`, http.StatusNotFound)
		return
	}
	defer f.Close()
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}

func typeByExt(ext string) model.AttachmentType {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic":
		return model.AttachmentImage
	case ".mp3", ".ogg", ".wav", ".m4a":
		return model.AttachmentAudio
	case ".mp4", ".webm", ".mov":
		return model.AttachmentVideo
	}
	return model.AttachmentOther
}

func matchMagic(ext string, head []byte) bool {
	switch ext {
	case ".jpg", ".jpeg":
		return len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF
	case ".png":
		return len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case ".gif":
		return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
	case ".webp":
		return len(head) >= 12 && bytes.Equal(head[8:12], []byte("WEBP"))
	case ".pdf":
		return len(head) >= 5 && bytes.Equal(head[:5], []byte("%PDF-"))
	}
	return true
}

func contentTypeByExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".txt":
		return "text/plain"
	}
	return ""
}

// safeFilename strips control characters and path separators so the name is
// safe to echo back in JSON and Content-Disposition.
func safeFilename(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\r', '\n', '"', '\\', '/', '\x00':
			continue
		}
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
