// Package testutil provides shared test helpers and fakes for the bridge's
// consumer interfaces.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/twin.bridge/internal/twin"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// LocalRequest builds a request that appears to come from loopback, which
// tsweb debug routes require. A non-empty body is sent as a form unless it
// looks like JSON.
func LocalRequest(method, target, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		if strings.HasPrefix(strings.TrimSpace(body), "{") {
			r.Header.Set("Content-Type", "application/json")
		} else {
			r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	r.RemoteAddr = "127.0.0.1:12345"
	return r
}

// Serve runs r through h and returns the recorded response.
func Serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

// SentMessage is one call recorded by FakeSink.
type SentMessage struct {
	Message string
	Host    string
	Port    int
}

// FakeSink records sends and optionally fails them.
type FakeSink struct {
	mu   sync.Mutex
	sent []SentMessage
	err  error
}

var _ twin.Sink = (*FakeSink)(nil)

func (s *FakeSink) Send(message, host string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, SentMessage{message, host, port})
	return s.err
}

// SendDefault is recorded with an empty host and port 0.
func (s *FakeSink) SendDefault(message string) error {
	return s.Send(message, "", 0)
}

// FailWith makes every later send return err (nil restores success).
func (s *FakeSink) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Sent returns a copy of everything sent so far.
func (s *FakeSink) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentMessage(nil), s.sent...)
}

// Messages returns only the message texts.
func (s *FakeSink) Messages() []string {
	var out []string
	for _, m := range s.Sent() {
		out = append(out, m.Message)
	}
	return out
}

// FakeSource is a twin.Source driven by Publish.
type FakeSource struct {
	mu     sync.Mutex
	latest twin.Reading
	subs   map[string]chan twin.Reading
	next   int
}

var _ twin.Source = (*FakeSource)(nil)

func NewFakeSource() *FakeSource {
	return &FakeSource{subs: make(map[string]chan twin.Reading)}
}

func (s *FakeSource) LatestReading() twin.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

func (s *FakeSource) Subscribe() (string, <-chan twin.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := fmt.Sprintf("sub-%d", s.next)
	ch := make(chan twin.Reading, 16)
	s.subs[id] = ch
	return id, ch
}

func (s *FakeSource) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

// Publish sets the latest reading and offers it to every subscriber.
func (s *FakeSource) Publish(r twin.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = r
	for _, ch := range s.subs {
		select {
		case ch <- r:
		default:
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (s *FakeSource) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// CloseAll closes every subscription, as an endpoint does on Close.
func (s *FakeSource) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}

// WaitSubscribers blocks until the source has n subscribers.
func WaitSubscribers(t testing.TB, s *FakeSource, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d subscribers, have %d", n, s.Subscribers())
		}
		time.Sleep(2 * time.Millisecond)
	}
}
