package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ojulabs/oju/internal/config"
	"github.com/ojulabs/oju/internal/store"
)

// fakeRT mimics RT's REST 1.0 endpoints: outcomes are reported in the body,
// always with HTTP 200.
func fakeRT(t *testing.T, tickets *[]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/REST/1.0/login", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("user") == "oju" && r.FormValue("pass") == "hunter2" {
			_, _ = w.Write([]byte("RT/4.4.3 200 Ok\n\n# Login successful\n"))
			return
		}
		_, _ = w.Write([]byte("RT/4.4.3 401 Credentials required\n"))
	})
	mux.HandleFunc("/REST/1.0/ticket/new", func(w http.ResponseWriter, r *http.Request) {
		*tickets = append(*tickets, r.FormValue("content"))
		_, _ = w.Write([]byte("RT/4.4.3 200 Ok\n\n# Ticket 482 created.\n"))
	})
	return httptest.NewServer(mux)
}

func testRTIR(url string) *RTIR {
	r := NewRTIR(config.RTIRConfig{URL: url, Username: "oju", Password: "hunter2"})
	r.now = func() time.Time { return time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC) }
	return r
}

func TestNewRTIR_NoURLReturnsNil(t *testing.T) {
	if r := NewRTIR(config.RTIRConfig{}); r != nil {
		t.Error("expected nil client without a tracker URL")
	}
}

func TestRTIR_CreateTicket(t *testing.T) {
	var tickets []string
	srv := fakeRT(t, &tickets)
	defer srv.Close()

	r := testRTIR(srv.URL)
	id, err := r.CreateTicket(&Ticket{
		Subject:      "Oju Alert - SSL Problem - https://acme.example",
		Text:         "certificate expired",
		Requestors:   []string{"alice@acme.example", "bob@acme.example"},
		CC:           []string{"alice@acme.example", "bob@acme.example"},
		AdminCC:      []string{"soc@oju.example"},
		Priority:     PriorityHigh,
		Domain:       "acme.example",
		ReporterType: "oju",
	})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if id != 482 {
		t.Errorf("ticket id = %d, want 482", id)
	}

	if len(tickets) != 1 {
		t.Fatalf("expected 1 ticket posted, got %d", len(tickets))
	}
	payload := tickets[0]
	for _, want := range []string{
		"id: new\n",
		"Queue: Incident Reports\n",
		"Subject: Oju Alert - SSL Problem - https://acme.example\n",
		"Text: certificate expired\n",
		"Priority: 50\n",
		"Status: new\n",
		"Due: 2025-06-09 10:00:00\n",
		"How Reported: REST\n",
		"Requestor: alice@acme.example, bob@acme.example\n",
		"Cc: alice@acme.example, bob@acme.example\n",
		"AdminCc: soc@oju.example\n",
		"CF-Domain: acme.example\n",
		"CF-Reporter Type: oju\n",
	} {
		if !strings.Contains(payload, want) {
			t.Errorf("payload missing %q:\n%s", want, payload)
		}
	}
}

func TestRTIR_MultilineTextFolds(t *testing.T) {
	var tickets []string
	srv := fakeRT(t, &tickets)
	defer srv.Close()

	r := testRTIR(srv.URL)
	if _, err := r.CreateTicket(&Ticket{Subject: "s", Text: "line one\nline two"}); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if !strings.Contains(tickets[0], "Text: line one\n line two\n") {
		t.Errorf("expected folded continuation line:\n%s", tickets[0])
	}
}

func TestRTIR_BadCredentials(t *testing.T) {
	var tickets []string
	srv := fakeRT(t, &tickets)
	defer srv.Close()

	r := NewRTIR(config.RTIRConfig{URL: srv.URL, Username: "oju", Password: "wrong"})
	if _, err := r.CreateTicket(&Ticket{Subject: "s"}); err == nil {
		t.Fatal("expected login failure")
	}
	if len(tickets) != 0 {
		t.Errorf("no ticket should be filed after failed login, got %d", len(tickets))
	}
}

func TestRTIR_SessionReusedAcrossTickets(t *testing.T) {
	logins := 0
	var tickets []string
	mux := http.NewServeMux()
	mux.HandleFunc("/REST/1.0/login", func(w http.ResponseWriter, _ *http.Request) {
		logins++
		_, _ = w.Write([]byte("RT/4.4.3 200 Ok\n"))
	})
	mux.HandleFunc("/REST/1.0/ticket/new", func(w http.ResponseWriter, r *http.Request) {
		tickets = append(tickets, r.FormValue("content"))
		_, _ = w.Write([]byte("RT/4.4.3 200 Ok\n\n# Ticket 7 created.\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := testRTIR(srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := r.CreateTicket(&Ticket{Subject: "s"}); err != nil {
			t.Fatalf("CreateTicket %d: %v", i, err)
		}
	}
	if logins != 1 {
		t.Errorf("expected a single login for the session, got %d", logins)
	}
	if len(tickets) != 3 {
		t.Errorf("expected 3 tickets, got %d", len(tickets))
	}
}

func TestRTIR_RejectedTicketForcesRelogin(t *testing.T) {
	logins, posts := 0, 0
	mux := http.NewServeMux()
	mux.HandleFunc("/REST/1.0/login", func(w http.ResponseWriter, _ *http.Request) {
		logins++
		_, _ = w.Write([]byte("RT/4.4.3 200 Ok\n"))
	})
	mux.HandleFunc("/REST/1.0/ticket/new", func(w http.ResponseWriter, _ *http.Request) {
		posts++
		if posts == 1 {
			_, _ = w.Write([]byte("RT/4.4.3 401 Credentials required\n"))
			return
		}
		_, _ = w.Write([]byte("RT/4.4.3 200 Ok\n\n# Ticket 9 created.\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := testRTIR(srv.URL)
	if _, err := r.CreateTicket(&Ticket{Subject: "s"}); err == nil {
		t.Fatal("expected rejection on first ticket")
	}
	if _, err := r.CreateTicket(&Ticket{Subject: "s"}); err != nil {
		t.Fatalf("second ticket: %v", err)
	}
	if logins != 2 {
		t.Errorf("expected a fresh login after rejection, got %d logins", logins)
	}
}

func TestPriorityValues(t *testing.T) {
	tests := []struct {
		p    Priority
		want int
	}{
		{PriorityLow, 0},
		{PriorityNormal, 10},
		{PriorityHigh, 50},
		{PriorityCritical, 100},
		{Priority(""), 10},
	}
	for _, tt := range tests {
		if got := tt.p.Value(); got != tt.want {
			t.Errorf("%q.Value() = %d, want %d", tt.p, got, tt.want)
		}
	}
}

func TestPriorityFor(t *testing.T) {
	high := []store.AlertKind{store.KindAvailability, store.KindSSL, store.KindDomainUnavailable, store.KindVirusTotal}
	for _, kind := range high {
		if got := PriorityFor(kind); got != PriorityHigh {
			t.Errorf("PriorityFor(%s) = %s, want High", kind, got)
		}
	}
	normal := []store.AlertKind{store.KindSSLExpiring, store.KindDomainExpiring, store.KindDefacement, store.KindOther}
	for _, kind := range normal {
		if got := PriorityFor(kind); got != PriorityNormal {
			t.Errorf("PriorityFor(%s) = %s, want Normal", kind, got)
		}
	}
}

func TestParseTicketID(t *testing.T) {
	if id := parseTicketID("RT/4.4.3 200 Ok\n\n# Ticket 12345 created.\n"); id != 12345 {
		t.Errorf("parseTicketID = %d, want 12345", id)
	}
	if id := parseTicketID("RT/4.4.3 200 Ok\n\n# Unknown object type\n"); id != 0 {
		t.Errorf("parseTicketID = %d, want 0 for missing id", id)
	}
}
