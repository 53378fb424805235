package chassis

import (
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDevelopmentTLSConfig(t *testing.T) {
	cfg, err := DevelopmentTLSConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("got %d certs", len(cfg.Certificates))
	}
	leaf, err := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	if err := leaf.VerifyHostname("localhost"); err != nil {
		t.Errorf("localhost not covered: %v", err)
	}
}

func TestProductionTLSConfigMissingFiles(t *testing.T) {
	if _, err := ProductionTLSConfig("/nonexistent/cert.pem", "/nonexistent/key.pem"); err == nil {
		t.Fatal("want error for missing files")
	}
}

func TestAltSvcHeader(t *testing.T) {
	s, err := New(Config{Addr: ":8443", Handler: http.NotFoundHandler()})
	if err != nil {
		t.Fatal(err)
	}
	h := s.AltSvc(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Alt-Svc"); !strings.Contains(got, `h3=":8443"`) {
		t.Errorf("Alt-Svc = %q", got)
	}
}

func TestNewRejectsNilHandler(t *testing.T) {
	if _, err := New(Config{Addr: ":0"}); err == nil {
		t.Fatal("want error")
	}
}

func TestListenPort(t *testing.T) {
	cases := []struct {
		addr    string
		want    int
		wantErr bool
	}{
		{":8443", 8443, false},
		{"127.0.0.1:443", 443, false},
		{":0", 0, false},
		{"8443", 0, true},
		{":http3", 0, true},
	}
	for _, c := range cases {
		got, err := listenPort(c.addr)
		if (err != nil) != c.wantErr || got != c.want {
			t.Errorf("listenPort(%q) = %d, %v", c.addr, got, err)
		}
	}
}
