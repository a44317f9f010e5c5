package ocr

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPRecognizer_Recognize(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"Ingredients: water, salt"}`))
	}))
	defer srv.Close()

	rec := NewHTTPRecognizer(srv.URL, 0, srv.Client())
	text, err := rec.Recognize(context.Background(), []byte("\x89PNG fake"))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if text != "Ingredients: water, salt" {
		t.Errorf("text = %q", text)
	}
	if string(gotBody) != "\x89PNG fake" {
		t.Errorf("server got %q", gotBody)
	}
}

func TestHTTPRecognizer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"service error", http.StatusInternalServerError, `{"error":"engine crashed"}`},
		{"plain error", http.StatusBadGateway, "upstream down"},
		{"bad json", http.StatusOK, "not json"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewHTTPRecognizer(srv.URL, 0, nil).Recognize(context.Background(), []byte("img"))
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestHTTPRecognizer_EmptyImage(t *testing.T) {
	_, err := NewHTTPRecognizer("http://127.0.0.1:0", 0, nil).Recognize(context.Background(), nil)
	if !errors.Is(err, ErrEmptyImage) {
		t.Errorf("expected ErrEmptyImage, got %v", err)
	}
}

func TestHTTPRecognizer_Throttled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":""}`))
	}))
	defer srv.Close()

	// One token per second with a burst of one: the second call must wait
	// longer than the context allows.
	rec := NewHTTPRecognizer(srv.URL, 1, nil)
	if _, err := rec.Recognize(context.Background(), []byte("a")); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := rec.Recognize(ctx, []byte("a")); err == nil {
		t.Error("expected throttled call to fail")
	}
}

type failing struct{}

func (failing) Recognize(context.Context, []byte) (string, error) {
	return "", errors.New("camera blurred")
}

func TestTextOrEmpty(t *testing.T) {
	if got := TextOrEmpty(context.Background(), failing{}, []byte("x"), nil); got != "" {
		t.Errorf("failing recognizer: got %q", got)
	}
	if got := TextOrEmpty(context.Background(), nil, []byte("x"), nil); got != "" {
		t.Errorf("nil recognizer: got %q", got)
	}
	if got := TextOrEmpty(context.Background(), Static("Sugar"), nil, nil); got != "Sugar" {
		t.Errorf("static recognizer: got %q", got)
	}
}
