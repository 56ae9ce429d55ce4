// Package resultfile provides lazy handles to attachment content. A File
// never buffers content on its own; callers request a scoped read that
// releases the underlying resource on every exit path.
package resultfile

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultContentType = "application/octet-stream"
	sniffLen           = 512
)

// File is a lazy handle to attachment bytes.
type File interface {
	// Name returns the original file name as seen by the producer.
	Name() string

	// Ext returns the file extension including the leading dot, or "".
	Ext() string

	// ContentType returns the detected or declared MIME type.
	ContentType() string

	// ContentLength returns the size in bytes, or -1 when unknown.
	ContentLength() int64

	// Open returns a fresh reader over the content. The caller closes it.
	Open() (io.ReadCloser, error)

	// Ephemeral reports whether the backing content disappears once the
	// producing reader returns (temp directories, in-memory payloads).
	Ephemeral() bool
}

// Ensure interface compliance.
var (
	_ File = (*pathFile)(nil)
	_ File = (*bufferFile)(nil)
	_ File = (*lazyFile)(nil)
)

type pathFile struct {
	path        string
	name        string
	size        int64
	contentType string
	ephemeral   bool
}

// NewPathFile returns a File backed by a file on disk. The content type is
// detected from the extension and, failing that, by sniffing the first
// bytes of the file.
func NewPathFile(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	f := &pathFile{
		path: path,
		name: filepath.Base(path),
		size: info.Size(),
	}

	f.contentType = DetectContentType(f.name, f.sniff)

	return f, nil
}

// NewNamedPathFile is like NewPathFile but reports originalName instead of
// the on-disk base name.
func NewNamedPathFile(path, originalName string) (File, error) {
	f, err := NewPathFile(path)
	if err != nil {
		return nil, err
	}

	pf := f.(*pathFile) //nolint:errcheck,forcetypeassert // constructed above

	if originalName != "" && originalName != pf.name {
		pf.name = originalName
		pf.contentType = DetectContentType(originalName, pf.sniff)
	}

	return pf, nil
}

// NewEphemeralPathFile is like NewNamedPathFile but marks the file
// ephemeral.
func NewEphemeralPathFile(path, originalName string) (File, error) {
	f, err := NewNamedPathFile(path, originalName)
	if err != nil {
		return nil, err
	}

	f.(*pathFile).ephemeral = true //nolint:forcetypeassert // constructed above

	return f, nil
}

func (f *pathFile) Name() string         { return f.name }
func (f *pathFile) Ext() string          { return filepath.Ext(f.name) }
func (f *pathFile) ContentType() string  { return f.contentType }
func (f *pathFile) ContentLength() int64 { return f.size }
func (f *pathFile) Ephemeral() bool      { return f.ephemeral }

func (f *pathFile) Open() (io.ReadCloser, error) {
	return os.Open(f.path) //nolint:gosec // path comes from the results directory walk
}

func (f *pathFile) sniff() []byte {
	r, err := f.Open()
	if err != nil {
		return nil
	}
	defer func() { _ = r.Close() }()

	buf := make([]byte, sniffLen)
	n, _ := io.ReadFull(r, buf)

	return buf[:n]
}

type bufferFile struct {
	name        string
	data        []byte
	contentType string
}

// NewBufferFile returns an ephemeral File over an in-memory payload, used
// for content that arrives embedded in another document.
func NewBufferFile(name string, data []byte, contentType string) File {
	if contentType == "" {
		contentType = DetectContentType(name, func() []byte { return data })
	}

	return &bufferFile{name: name, data: data, contentType: contentType}
}

func (f *bufferFile) Name() string         { return f.name }
func (f *bufferFile) Ext() string          { return filepath.Ext(f.name) }
func (f *bufferFile) ContentType() string  { return f.contentType }
func (f *bufferFile) ContentLength() int64 { return int64(len(f.data)) }
func (f *bufferFile) Ephemeral() bool      { return true }

func (f *bufferFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

type lazyFile struct {
	name        string
	contentType string
	length      int64
	open        func() (io.ReadCloser, error)
	ephemeral   bool
}

// NewLazyFile returns a File whose content is produced by open on demand.
func NewLazyFile(
	name, contentType string,
	length int64,
	ephemeral bool,
	open func() (io.ReadCloser, error),
) File {
	if contentType == "" {
		contentType = DetectContentType(name, nil)
	}

	return &lazyFile{
		name:        name,
		contentType: contentType,
		length:      length,
		open:        open,
		ephemeral:   ephemeral,
	}
}

func (f *lazyFile) Name() string                 { return f.name }
func (f *lazyFile) Ext() string                  { return filepath.Ext(f.name) }
func (f *lazyFile) ContentType() string          { return f.contentType }
func (f *lazyFile) ContentLength() int64         { return f.length }
func (f *lazyFile) Ephemeral() bool              { return f.ephemeral }
func (f *lazyFile) Open() (io.ReadCloser, error) { return f.open() }

// DetectContentType returns a MIME type based on the file extension, then
// on sniffed content when sniff is non-nil.
func DetectContentType(name string, sniff func() []byte) string {
	if ext := filepath.Ext(name); ext != "" {
		if ct := mime.TypeByExtension(strings.ToLower(ext)); ct != "" {
			return ct
		}
	}

	if sniff != nil {
		if head := sniff(); len(head) > 0 {
			return http.DetectContentType(head)
		}
	}

	return defaultContentType
}

// ExtensionForContentType guesses a file extension for a MIME type.
func ExtensionForContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}

	switch mediaType {
	case "text/plain":
		return ".txt"
	case "image/jpeg":
		return ".jpg"
	case "application/json":
		return ".json"
	}

	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return ""
	}

	return exts[0]
}

// ReadAll buffers the whole content. Only use it for small payloads.
func ReadAll(f File) ([]byte, error) {
	r, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.Name(), err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Name(), err)
	}

	return data, nil
}

// Pipe streams the content into w, optionally through transform.
func Pipe(f File, w io.Writer, transform func(io.Reader) io.Reader) (int64, error) {
	r, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", f.Name(), err)
	}
	defer func() { _ = r.Close() }()

	var src io.Reader = r
	if transform != nil {
		src = transform(r)
	}

	n, err := io.Copy(w, src)
	if err != nil {
		return n, fmt.Errorf("copying %s: %w", f.Name(), err)
	}

	return n, nil
}

// WriteTo streams the content into a new file at path. A partially written
// file is removed on error.
func WriteTo(f File, path string) (int64, error) {
	out, err := os.Create(path) //nolint:gosec // caller controlled destination
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}

	n, copyErr := Pipe(f, out, nil)
	closeErr := out.Close()

	if copyErr != nil || closeErr != nil {
		_ = os.Remove(path)

		if copyErr != nil {
			return n, copyErr
		}

		return n, fmt.Errorf("closing %s: %w", path, closeErr)
	}

	return n, nil
}
