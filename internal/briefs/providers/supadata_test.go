package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSupadataFetch(t *testing.T) {
	var gotAuth, gotVideo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotVideo = r.URL.Query().Get("video_id")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transcript": "hallo welt, dies ist ein transkript", "language": "de"}`))
	}))
	defer srv.Close()

	p := NewSupadata(srv.URL, "sk-test", 5*time.Second, srv.Client())
	tr, err := p.Fetch(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer sk-test")
	}
	if gotVideo != "abc123" {
		t.Errorf("video_id = %q, want %q", gotVideo, "abc123")
	}
	if tr.Text != "hallo welt, dies ist ein transkript" {
		t.Errorf("unexpected text %q", tr.Text)
	}
	if tr.Language != "de" {
		t.Errorf("language = %q, want %q", tr.Language, "de")
	}
}

func TestSupadataMissingKeySkipsNetwork(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()

	p := NewSupadata(srv.URL, "", 5*time.Second, srv.Client())
	_, err := p.Fetch(context.Background(), "abc123")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if requests != 0 {
		t.Errorf("made %d requests without a key, want 0", requests)
	}
}

func TestSupadataServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	p := NewSupadata(srv.URL, "sk-test", 5*time.Second, srv.Client())
	_, err := p.Fetch(context.Background(), "abc123")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestSupadataEmptyTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transcript": "   ", "language": "en"}`))
	}))
	defer srv.Close()

	p := NewSupadata(srv.URL, "sk-test", 5*time.Second, srv.Client())
	_, err := p.Fetch(context.Background(), "abc123")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestSupadataTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{"transcript": "too late"}`))
	}))
	defer srv.Close()

	p := NewSupadata(srv.URL, "sk-test", 30*time.Millisecond, srv.Client())
	start := time.Now()
	_, err := p.Fetch(context.Background(), "abc123")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("Fetch took %v, timeout did not cut the call short", elapsed)
	}
}

func TestSupadataDefaultLanguage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transcript": "no language field here"}`))
	}))
	defer srv.Close()

	p := NewSupadata(srv.URL, "sk-test", 5*time.Second, srv.Client())
	tr, err := p.Fetch(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if tr.Language != DefaultLanguage {
		t.Errorf("language = %q, want %q", tr.Language, DefaultLanguage)
	}
}
