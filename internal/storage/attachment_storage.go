package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"

	"github.com/neurolancer/backend/internal/validation"
)

// ErrFileTooLarge файл больше лимита загрузки.
var ErrFileTooLarge = errors.New("storage: file exceeds upload limit")

// ErrUnsupportedType тип файла не входит в разрешённые.
var ErrUnsupportedType = errors.New("storage: unsupported file type")

// ErrEmptyFile пустой файл.
var ErrEmptyFile = errors.New("storage: empty file")

// Разрешённые типы вложений по сигнатуре файла.
var allowedMIME = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
	"application/zip": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"audio/mpeg": true,
	"video/mp4":  true,
}

// Текстовые форматы без сигнатуры узнаём по расширению.
var textExtensions = map[string]string{
	".txt": "text/plain",
	".csv": "text/csv",
	".md":  "text/markdown",
}

const sniffLen = 512

// Attachment сохранённое вложение сообщения.
type Attachment struct {
	Path string `json:"-"`
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// AttachmentStorage хранит вложения сообщений на диске.
type AttachmentStorage struct {
	rootPath       string
	publicPrefix   string
	maxUploadBytes int64
	now            func() time.Time
}

// NewAttachmentStorage создаёт файловое хранилище вложений.
func NewAttachmentStorage(rootPath, publicPrefix string, maxUploadMB int64) (*AttachmentStorage, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог %s: %w", rootPath, err)
	}

	return &AttachmentStorage{
		rootPath:       rootPath,
		publicPrefix:   strings.TrimRight(publicPrefix, "/"),
		maxUploadBytes: maxUploadMB * 1024 * 1024,
		now:            time.Now,
	}, nil
}

// Save определяет тип файла по сигнатуре и сохраняет его в каталог беседы.
func (s *AttachmentStorage) Save(ctx context.Context, conversationID uuid.UUID, originalName string, r io.Reader) (*Attachment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("storage: ошибка чтения файла: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return nil, ErrEmptyFile
	}

	safeName := validation.SanitizeFileName(originalName)
	mime, ext, err := detectType(head, safeName)
	if err != nil {
		return nil, err
	}

	fileName := fmt.Sprintf("%d_%s%s", s.now().UnixNano(), uuid.NewString()[:8], ext)
	convDir := filepath.Join(s.rootPath, conversationID.String())
	if err := os.MkdirAll(convDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог беседы: %w", err)
	}

	targetPath := filepath.Join(convDir, fileName)
	tempPath := targetPath + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("storage: не удалось создать файл: %w", err)
	}
	defer f.Close()

	limited := io.LimitedReader{R: io.MultiReader(bytes.NewReader(head), r), N: s.maxUploadBytes + 1}
	written, err := io.Copy(f, &limited)
	if err != nil {
		_ = os.Remove(tempPath)
		return nil, fmt.Errorf("storage: ошибка записи файла: %w", err)
	}
	if written > s.maxUploadBytes {
		_ = os.Remove(tempPath)
		return nil, ErrFileTooLarge
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return nil, fmt.Errorf("storage: ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tempPath, targetPath); err != nil {
		return nil, fmt.Errorf("storage: не удалось переименовать файл: %w", err)
	}

	relative := filepath.ToSlash(filepath.Join(conversationID.String(), fileName))
	return &Attachment{
		Path: relative,
		URL:  s.publicPrefix + "/" + relative,
		Name: safeName,
		Type: mime,
		Size: written,
	}, nil
}

// Delete удаляет файл из хранилища.
func (s *AttachmentStorage) Delete(ctx context.Context, relativePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := filepath.Join(s.rootPath, filepath.FromSlash(relativePath))
	if !strings.HasPrefix(target, filepath.Clean(s.rootPath)+string(filepath.Separator)) {
		return fmt.Errorf("storage: путь вне хранилища: %s", relativePath)
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: не удалось удалить файл: %w", err)
	}
	return nil
}

func detectType(head []byte, name string) (mime, ext string, err error) {
	kind, err := filetype.Match(head)
	if err == nil && kind != filetype.Unknown {
		if !allowedMIME[kind.MIME.Value] {
			return "", "", fmt.Errorf("%w: %s", ErrUnsupportedType, kind.MIME.Value)
		}
		return kind.MIME.Value, "." + kind.Extension, nil
	}

	ext = strings.ToLower(filepath.Ext(name))
	if textMIME, ok := textExtensions[ext]; ok && isText(head) {
		return textMIME, ext, nil
	}
	return "", "", ErrUnsupportedType
}

func isText(b []byte) bool {
	return !bytes.ContainsRune(b, 0)
}
