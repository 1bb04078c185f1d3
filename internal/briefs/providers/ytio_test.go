package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseTranscriptIOBody(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "fragment array",
			raw:  `[{"text": "hello"}, {"text": "world"}]`,
			want: "hello world",
		},
		{
			name: "fragment array with empty entries",
			raw:  `[{"text": "hello"}, {"text": ""}, {"text": "again"}]`,
			want: "hello again",
		},
		{
			name: "flat object",
			raw:  `{"transcript": "one continuous transcript"}`,
			want: "one continuous transcript",
		},
		{
			name: "leading whitespace",
			raw:  "\n  [{\"text\": \"padded\"}]",
			want: "padded",
		},
		{
			name:    "empty body",
			raw:     "",
			wantErr: true,
		},
		{
			name:    "invalid json",
			raw:     `[{"text": `,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTranscriptIOBody([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseTranscriptIOBody(%q) = %q, want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTranscriptIOBody(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("parseTranscriptIOBody(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestTranscriptIOFetch(t *testing.T) {
	var gotPath, gotVideo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotVideo = r.URL.Query().Get("videoId")
		w.Write([]byte(`[{"text": "first segment"}, {"text": "second segment"}]`))
	}))
	defer srv.Close()

	p := NewTranscriptIO(srv.URL, 5*time.Second, srv.Client())
	tr, err := p.Fetch(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if gotPath != "/transcript" {
		t.Errorf("path = %q, want %q", gotPath, "/transcript")
	}
	if gotVideo != "abc123" {
		t.Errorf("videoId = %q, want %q", gotVideo, "abc123")
	}
	if tr.Text != "first segment second segment" {
		t.Errorf("text = %q", tr.Text)
	}
	if tr.Language != DefaultLanguage {
		t.Errorf("language = %q, want %q", tr.Language, DefaultLanguage)
	}
}

func TestTranscriptIOServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewTranscriptIO(srv.URL, 5*time.Second, srv.Client())
	_, err := p.Fetch(context.Background(), "abc123")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestTranscriptIOEmptyFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	p := NewTranscriptIO(srv.URL, 5*time.Second, srv.Client())
	_, err := p.Fetch(context.Background(), "abc123")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
