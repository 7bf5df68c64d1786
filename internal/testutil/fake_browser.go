package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// NewTabURL is what a freshly launched fake browser shows when it was not
// given a URL on its command line.
const NewTabURL = "chrome://newtab/"

// FakeTab is one open page in a FakeBrowser.
type FakeTab struct {
	ID  string
	URL string
}

// FakeBrowser is an in-process DevTools endpoint. It serves /json/version and
// a websocket that understands the handful of Target, Page and Browser
// commands the lifecycle uses, backed by an in-memory tab list.
type FakeBrowser struct {
	Port int

	ln       net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	tabs     []*FakeTab
	nextID   int
	active   string
	failing  map[string]string
	sessions map[string]string // sessionID -> targetID
	conns    map[*websocket.Conn]struct{}
	calls    []string
	hung     bool

	closeOnce sync.Once
	done      chan struct{}
}

// StartFakeBrowser listens on 127.0.0.1:port (0 picks a free port) with one
// tab per URL. With no URLs it opens a single new-tab page.
func StartFakeBrowser(port int, urls ...string) (*FakeBrowser, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("listening: %w", err)
	}

	f := &FakeBrowser{
		Port:     ln.Addr().(*net.TCPAddr).Port,
		ln:       ln,
		failing:  make(map[string]string),
		sessions: make(map[string]string),
		conns:    make(map[*websocket.Conn]struct{}),
		done:     make(chan struct{}),
	}
	if len(urls) == 0 {
		urls = []string{NewTabURL}
	}
	for _, u := range urls {
		f.addTab(u)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", f.handleVersion)
	mux.HandleFunc("/devtools/browser/", f.handleWebSocket)
	f.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go f.srv.Serve(ln)

	return f, nil
}

// NewFakeBrowser starts a FakeBrowser on a random port and closes it when the
// test ends.
func NewFakeBrowser(t testing.TB, urls ...string) *FakeBrowser {
	t.Helper()

	f, err := StartFakeBrowser(0, urls...)
	if err != nil {
		t.Fatalf("starting fake browser: %v", err)
	}
	t.Cleanup(f.Close)
	return f
}

// Close stops serving and drops every open connection, like a browser exit.
func (f *FakeBrowser) Close() {
	f.closeOnce.Do(func() {
		close(f.done)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		f.srv.Shutdown(ctx)

		f.mu.Lock()
		for conn := range f.conns {
			conn.Close()
		}
		f.conns = make(map[*websocket.Conn]struct{})
		f.mu.Unlock()
	})
}

// Done is closed once the browser has shut down.
func (f *FakeBrowser) Done() <-chan struct{} {
	return f.done
}

// IgnoreClose makes the browser acknowledge Browser.close and keep running,
// like an instance that hangs on shutdown.
func (f *FakeBrowser) IgnoreClose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hung = true
}

func (f *FakeBrowser) isHung() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hung
}

// FailURL makes later navigations to url fail with errorText.
func (f *FakeBrowser) FailURL(url, errorText string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[url] = errorText
}

// Tabs returns a snapshot of the open tabs, oldest first.
func (f *FakeBrowser) Tabs() []FakeTab {
	f.mu.Lock()
	defer f.mu.Unlock()

	tabs := make([]FakeTab, 0, len(f.tabs))
	for _, t := range f.tabs {
		tabs = append(tabs, *t)
	}
	return tabs
}

// URLs returns the URL of every open tab, oldest first.
func (f *FakeBrowser) URLs() []string {
	var urls []string
	for _, t := range f.Tabs() {
		urls = append(urls, t.URL)
	}
	return urls
}

// ActiveURL returns the URL of the foreground tab.
func (f *FakeBrowser) ActiveURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, t := range f.tabs {
		if t.ID == f.active {
			return t.URL
		}
	}
	return ""
}

// Calls returns the protocol methods received, in order.
func (f *FakeBrowser) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount returns how many times method was received.
func (f *FakeBrowser) CallCount(method string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == method {
			n++
		}
	}
	return n
}

func (f *FakeBrowser) addTab(url string) *FakeTab {
	f.nextID++
	tab := &FakeTab{ID: fmt.Sprintf("TARGET-%d", f.nextID), URL: url}
	f.tabs = append(f.tabs, tab)
	f.active = tab.ID
	return tab
}

func (f *FakeBrowser) wsURL() string {
	return fmt.Sprintf("ws://127.0.0.1:%d/devtools/browser/fake", f.Port)
}

func (f *FakeBrowser) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"Browser":              "FakeChrome/1.0",
		"Protocol-Version":     "1.3",
		"User-Agent":           "FakeChrome",
		"webSocketDebuggerUrl": f.wsURL(),
	})
}

type fakeRequest struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
}

type fakeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type fakeResponse struct {
	ID        int64       `json:"id"`
	SessionID string      `json:"sessionId,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	Error     *fakeError  `json:"error,omitempty"`
}

func (f *FakeBrowser) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		conn.Close()
		return
	default:
	}
	f.conns[conn] = struct{}{}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.conns, conn)
		f.mu.Unlock()
		conn.Close()
	}()

	for {
		var req fakeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		result, protoErr := f.dispatch(req)
		resp := fakeResponse{ID: req.ID, SessionID: req.SessionID}
		if protoErr != nil {
			resp.Error = protoErr
		} else {
			resp.Result = result
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}

		if req.Method == "Browser.close" && !f.isHung() {
			go f.Close()
			return
		}
	}
}

var errNoTarget = errors.New("No target with given id found")

func (f *FakeBrowser) dispatch(req fakeRequest) (interface{}, *fakeError) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, req.Method)

	var params struct {
		TargetID  string `json:"targetId"`
		SessionID string `json:"sessionId"`
		URL       string `json:"url"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &fakeError{Code: -32602, Message: "Invalid parameters"}
		}
	}

	switch req.Method {
	case "Browser.getVersion":
		return map[string]string{
			"protocolVersion": "1.3",
			"product":         "FakeChrome/1.0",
			"userAgent":       "FakeChrome",
		}, nil

	case "Browser.close":
		return struct{}{}, nil

	case "Target.getTargets":
		infos := make([]map[string]interface{}, 0, len(f.tabs))
		for _, t := range f.tabs {
			infos = append(infos, map[string]interface{}{
				"targetId":        t.ID,
				"type":            "page",
				"title":           t.URL,
				"url":             t.URL,
				"attached":        false,
				"canAccessOpener": false,
			})
		}
		return map[string]interface{}{"targetInfos": infos}, nil

	case "Target.createTarget":
		url := params.URL
		if url == "" {
			url = "about:blank"
		}
		tab := f.addTab(url)
		return map[string]string{"targetId": tab.ID}, nil

	case "Target.attachToTarget":
		if f.tab(params.TargetID) == nil {
			return nil, &fakeError{Code: -32602, Message: errNoTarget.Error()}
		}
		sessionID := "SESSION-" + params.TargetID
		f.sessions[sessionID] = params.TargetID
		return map[string]string{"sessionId": sessionID}, nil

	case "Target.detachFromTarget":
		delete(f.sessions, params.SessionID)
		return struct{}{}, nil

	case "Target.activateTarget":
		if f.tab(params.TargetID) == nil {
			return nil, &fakeError{Code: -32602, Message: errNoTarget.Error()}
		}
		f.active = params.TargetID
		return struct{}{}, nil

	case "Target.closeTarget":
		for i, t := range f.tabs {
			if t.ID == params.TargetID {
				f.tabs = append(f.tabs[:i], f.tabs[i+1:]...)
				return map[string]bool{"success": true}, nil
			}
		}
		return nil, &fakeError{Code: -32602, Message: errNoTarget.Error()}

	case "Page.enable":
		if _, ok := f.sessions[req.SessionID]; !ok {
			return nil, &fakeError{Code: -32001, Message: "Session with given id not found."}
		}
		return struct{}{}, nil

	case "Page.navigate":
		tab := f.tab(f.sessions[req.SessionID])
		if tab == nil {
			return nil, &fakeError{Code: -32001, Message: "Session with given id not found."}
		}
		frameID := strings.TrimPrefix(tab.ID, "TARGET-")
		if errorText, ok := f.failing[params.URL]; ok {
			return map[string]string{"frameId": frameID, "errorText": errorText}, nil
		}
		tab.URL = params.URL
		return map[string]string{"frameId": frameID, "loaderId": "LOADER-" + frameID}, nil
	}

	return nil, &fakeError{Code: -32601, Message: fmt.Sprintf("'%s' wasn't found", req.Method)}
}

func (f *FakeBrowser) tab(id string) *FakeTab {
	for _, t := range f.tabs {
		if t.ID == id {
			return t
		}
	}
	return nil
}
