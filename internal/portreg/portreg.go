// Package portreg remembers the last debugging port a browser was started or
// confirmed on, so later commands can find it without a --port flag.
package portreg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DefaultPort is the remote debugging port used when nothing is remembered.
const DefaultPort = 9222

const maxPort = 65535

// ErrInvalidPort is returned by Parse for values that are not a usable port.
var ErrInvalidPort = errors.New("invalid port")

// Registry is a last-writer-wins register holding one port number.
type Registry interface {
	// Load returns the remembered port, or DefaultPort.
	Load() int
	// Save remembers port. Failures are swallowed.
	Save(port int)
}

// Parse validates a user-supplied port value.
func Parse(raw string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || port <= 0 || port > maxPort {
		return 0, fmt.Errorf("%w %q", ErrInvalidPort, raw)
	}
	return port, nil
}

// DefaultPath is where the register lives under cacheRoot. It sits outside
// every browser working directory so a profile mirror never deletes it.
func DefaultPath(cacheRoot string) string {
	return filepath.Join(cacheRoot, "browserctl-state", "last-port")
}

// File persists the port as decimal text in a single file.
type File struct {
	Path   string
	Logger *zap.Logger
}

// NewFile returns a registry stored at path.
func NewFile(path string, logger *zap.Logger) *File {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &File{Path: path, Logger: logger}
}

// Load reads the stored port. A missing, empty or invalid file yields DefaultPort.
func (f *File) Load() int {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return DefaultPort
	}
	port, err := Parse(string(data))
	if err != nil {
		f.logger().Debug("ignoring unreadable last port", zap.String("path", f.Path), zap.Error(err))
		return DefaultPort
	}
	return port
}

// Save writes port through a temp file and a rename so readers never observe
// a partial value.
func (f *File) Save(port int) {
	if err := f.save(port); err != nil {
		f.logger().Debug("could not persist last port", zap.Int("port", port), zap.Error(err))
	}
}

func (f *File) save(port int) error {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".last-port-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strconv.Itoa(port)); err != nil {
		tmp.Close()
		return fmt.Errorf("writing port: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing port: %w", err)
	}
	return os.Rename(tmp.Name(), f.Path)
}

func (f *File) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

// Memory is an in-process Registry for tests.
type Memory struct {
	mu    sync.Mutex
	port  int
	saves []int
}

// NewMemory returns a registry that starts out holding port (0 means empty).
func NewMemory(port int) *Memory {
	return &Memory{port: port}
}

// Load returns the held port or DefaultPort.
func (m *Memory) Load() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.port == 0 {
		return DefaultPort
	}
	return m.port
}

// Save records port.
func (m *Memory) Save(port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.port = port
	m.saves = append(m.saves, port)
}

// Saves lists every value passed to Save, oldest first.
func (m *Memory) Saves() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.saves...)
}
