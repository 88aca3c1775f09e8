// Package entropy supplies the randomness contributions are computed with.
// A user source is never used alone: it is mixed with crypto/rand.
package entropy

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"

	"github.com/drand/ceremony/common/log"
)

// GetRandom reads n bytes from source, crypto/rand when source is nil.
func GetRandom(source io.Reader, n uint32) ([]byte, error) {
	if source == nil {
		source = rand.Reader
	}
	randomBytes := make([]byte, n)
	if _, err := io.ReadFull(source, randomBytes); err != nil {
		return nil, fmt.Errorf("entropy: %w", err)
	}
	return randomBytes, nil
}

type fileReader struct {
	f *os.File
}

func (r *fileReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if err == io.EOF {
		return n, fmt.Errorf("entropy: source %s exhausted: %w", r.f.Name(), io.ErrUnexpectedEOF)
	}
	return n, err
}

func (r *fileReader) Close() error {
	return r.f.Close()
}

// FromFile opens sourcePath, a regular file or a device such as
// /dev/urandom, as an entropy source.
func FromFile(sourcePath string, logger log.Logger) (io.ReadCloser, error) {
	fileInfo, err := os.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("entropy: cannot access source: %w", err)
	}
	if fileInfo.IsDir() {
		return nil, fmt.Errorf("entropy: source path is a directory, not a file")
	}
	f, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("entropy: cannot open source: %w", err)
	}
	logger.Infow("Using file for entropy source", "source", sourcePath)
	return &fileReader{f: f}, nil
}

type mixReader struct {
	user io.Reader
}

// Mix returns a reader yielding crypto/rand output XORed with user.
func Mix(user io.Reader) io.Reader {
	return &mixReader{user: user}
}

func (m *mixReader) Read(p []byte) (int, error) {
	if _, err := io.ReadFull(rand.Reader, p); err != nil {
		return 0, err
	}
	buf := make([]byte, len(p))
	if _, err := io.ReadFull(m.user, buf); err != nil {
		return 0, fmt.Errorf("entropy: reading user source: %w", err)
	}
	for i := range p {
		p[i] ^= buf[i]
	}
	return len(p), nil
}
