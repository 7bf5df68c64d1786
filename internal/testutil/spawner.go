package testutil

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// FakeSpawner stands in for the detached browser spawner. Each Start brings
// up a FakeBrowser on the --remote-debugging-port found in args, with the
// trailing non-flag argument (if any) as its first tab.
type FakeSpawner struct {
	// Err, when set, is returned by Start instead of launching anything.
	Err error
	// Silent makes Start succeed without ever opening the port.
	Silent bool

	mu       sync.Mutex
	launches [][]string
	browsers []*FakeBrowser
}

// NewFakeSpawner returns a spawner whose browsers are closed when the test
// ends.
func NewFakeSpawner(t testing.TB) *FakeSpawner {
	s := &FakeSpawner{}
	t.Cleanup(s.Close)
	return s
}

// Start records the launch and starts a FakeBrowser.
func (s *FakeSpawner) Start(name string, args ...string) error {
	s.mu.Lock()
	s.launches = append(s.launches, append([]string{name}, args...))
	s.mu.Unlock()

	if s.Err != nil {
		return s.Err
	}
	if s.Silent {
		return nil
	}

	port := 0
	var urls []string
	for _, arg := range args {
		if v, ok := strings.CutPrefix(arg, "--remote-debugging-port="); ok {
			p, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("bad port argument %q", arg)
			}
			port = p
			continue
		}
		if !strings.HasPrefix(arg, "-") {
			urls = append(urls, arg)
		}
	}
	if port == 0 {
		return fmt.Errorf("no --remote-debugging-port in %v", args)
	}

	b, err := StartFakeBrowser(port, urls...)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.browsers = append(s.browsers, b)
	s.mu.Unlock()
	return nil
}

// Launches returns the command line of every Start call.
func (s *FakeSpawner) Launches() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.launches...)
}

// Latest returns the most recently started browser, or nil.
func (s *FakeSpawner) Latest() *FakeBrowser {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.browsers) == 0 {
		return nil
	}
	return s.browsers[len(s.browsers)-1]
}

// Close stops every browser this spawner started.
func (s *FakeSpawner) Close() {
	s.mu.Lock()
	browsers := s.browsers
	s.mu.Unlock()

	for _, b := range browsers {
		b.Close()
	}
}
