package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendInvitation(t *testing.T) {
	var received postmarkEmail
	var gotToken string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"MessageID": "test-id"}`))
	}))
	defer server.Close()

	client := NewClient("test-token", "noreply@example.com", "https://orderlyflow.test",
		WithHTTPClient(&http.Client{Transport: &rewriteTransport{base: http.DefaultTransport, target: server.URL}}))

	err := client.SendInvitation(context.Background(), "bob@example.com", "tok123", "Smith <Family>", "Alice")
	if err != nil {
		t.Fatalf("send invitation: %v", err)
	}

	if gotToken != "test-token" {
		t.Errorf("server token = %q, want %q", gotToken, "test-token")
	}
	if received.To != "bob@example.com" {
		t.Errorf("To = %q, want %q", received.To, "bob@example.com")
	}
	if received.From != "noreply@example.com" {
		t.Errorf("From = %q, want %q", received.From, "noreply@example.com")
	}
	if received.Subject != "You've been invited to join Smith <Family> on OrderlyFlow" {
		t.Errorf("Subject = %q", received.Subject)
	}
	if !strings.Contains(received.TextBody, "https://orderlyflow.test/invite?token=tok123") {
		t.Errorf("TextBody missing link: %q", received.TextBody)
	}
	if !strings.Contains(received.HtmlBody, "Smith &lt;Family&gt;") {
		t.Errorf("HtmlBody not escaped: %q", received.HtmlBody)
	}
	if !strings.Contains(received.TextBody, "Alice invited you") {
		t.Errorf("TextBody missing inviter: %q", received.TextBody)
	}
}

func TestSendInvitationNotConfigured(t *testing.T) {
	client := NewClient("", "noreply@example.com", "https://orderlyflow.test")

	err := client.SendInvitation(context.Background(), "bob@example.com", "tok", "Smiths", "")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestSendInvitationAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient("test-token", "noreply@example.com", "https://orderlyflow.test")
	client.httpClient = &http.Client{Transport: &rewriteTransport{base: http.DefaultTransport, target: server.URL}}

	err := client.SendInvitation(context.Background(), "bob@example.com", "tok", "Smiths", "Alice")
	if err == nil {
		t.Fatal("expected error for API failure")
	}
}

func TestConfigured(t *testing.T) {
	c1 := NewClient("token", "from@test.com", "https://test.com")
	if !c1.Configured() {
		t.Error("expected Configured() = true")
	}

	c2 := NewClient("", "from@test.com", "https://test.com")
	if c2.Configured() {
		t.Error("expected Configured() = false")
	}
}

func TestInvitationLinkEscapesToken(t *testing.T) {
	c := NewClient("t", "f", "https://app.test")
	if got := c.InvitationLink("a b&c"); got != "https://app.test/invite?token=a+b%26c" {
		t.Errorf("link = %q", got)
	}
}

// rewriteTransport redirects all requests to a test server URL.
type rewriteTransport struct {
	base   http.RoundTripper
	target string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.target[len("http://"):]
	return t.base.RoundTrip(req)
}
