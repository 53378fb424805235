package mail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestResendSend(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer re_key" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewResend("re_key", "hub@example.com").WithEndpoint(srv.URL)
	if err := s.Send(context.Background(), LoginCode("a@example.com", "123456", 10*time.Minute)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["from"] != "hub@example.com" || !strings.Contains(got["text"].(string), "123456") {
		t.Errorf("payload = %v", got)
	}
}

func TestResendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad from", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()
	err := NewResend("k", "x").WithEndpoint(srv.URL).Send(context.Background(), Message{To: "a@b"})
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Errorf("err = %v", err)
	}
}

func TestNewFallsBackToLog(t *testing.T) {
	if _, ok := New("", "x").(LogSender); !ok {
		t.Error("empty key should log")
	}
	if _, ok := New("k", "x").(*Resend); !ok {
		t.Error("key should select Resend")
	}
}
