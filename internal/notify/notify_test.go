package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend counts sends and fails the first failUntil calls.
type fakeBackend struct {
	name      string
	calls     atomic.Int32
	failUntil int32
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Send(ctx context.Context, title, body, site string) error {
	n := f.calls.Add(1)
	if n <= f.failUntil {
		return errors.New("send failed")
	}
	return nil
}

func TestDispatcherFanOut(t *testing.T) {
	a := &fakeBackend{name: "a"}
	b := &fakeBackend{name: "b"}

	d := NewDispatcher(Config{
		Backends: []Notifier{a, b},
		Attempts: 1,
		Delay:    time.Millisecond,
	})

	d.Notify(context.Background(), "title", "body", "ao3")
	d.Wait()

	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestDispatcherRetriesThenSucceeds(t *testing.T) {
	b := &fakeBackend{name: "flaky", failUntil: 2}

	d := NewDispatcher(Config{
		Backends: []Notifier{b},
		Attempts: 3,
		Delay:    time.Millisecond,
	})

	d.Notify(context.Background(), "t", "b", "ffnet")
	d.Wait()

	assert.Equal(t, int32(3), b.calls.Load())
}

func TestDispatcherIsolatesFailures(t *testing.T) {
	bad := &fakeBackend{name: "bad", failUntil: 100}
	good := &fakeBackend{name: "good"}

	d := NewDispatcher(Config{
		Backends: []Notifier{bad, good},
		Attempts: 2,
		Delay:    time.Millisecond,
	})

	d.Notify(context.Background(), "t", "b", "ao3")
	d.Wait()

	// The bad backend exhausts its attempts; the good one still delivers.
	assert.Equal(t, int32(2), bad.calls.Load())
	assert.Equal(t, int32(1), good.calls.Load())
}

func TestWebhookSend(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, jsonDecode(r, &gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	err := w.Send(context.Background(), "Story updated", "Some Title", "ao3")
	require.NoError(t, err)

	assert.Equal(t, "Story updated", gotBody["title"])
	assert.Equal(t, "ao3", gotBody["site"])
}

func TestWebhookSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	err := w.Send(context.Background(), "t", "b", "s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestPushbulletSend(t *testing.T) {
	var gotToken string
	var gotPush map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("Access-Token")
		require.NoError(t, jsonDecode(r, &gotPush))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPushbullet("secret-token", "dev1")
	p.url = srv.URL

	err := p.Send(context.Background(), "Update failed", "body", "ffnet")
	require.NoError(t, err)

	assert.Equal(t, "secret-token", gotToken)
	assert.Equal(t, "note", gotPush["type"])
	assert.Equal(t, "dev1", gotPush["device_iden"])
}

func jsonDecode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
