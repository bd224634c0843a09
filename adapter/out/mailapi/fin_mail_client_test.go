package mailapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"finanzas/core/domain"
	"finanzas/pkg/apperr"

	"github.com/goccy/go-json"
)

func TestSubjectFilter(t *testing.T) {
	filter := NewSubjectFilter("notificacion@notificacionesbaccr.com")

	tests := []struct {
		name    string
		subject string
		from    string
		want    bool
	}{
		{"purchase accepted", "Notificacion de transaccion", "other@bank.com", true},
		{"sinpe accepted", "Comprobante SINPE Movil", "other@bank.com", true},
		{"marketing rejected", "Gran PROMOCION en compras", "other@bank.com", false},
		{"loyalty rejected", "Sus puntos acumulados", "other@bank.com", false},
		{"config rejected", "Configuracion de alertas", "other@bank.com", false},
		{"neither list rejected", "Boletin mensual", "other@bank.com", false},
		{"notify address bypasses exclusion", "Puntos por su compra", "notificacion@notificacionesbaccr.com", true},
		{"notify address still needs inclusion", "Boletin mensual", "notificacion@notificacionesbaccr.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &domain.RawMessage{Subject: tt.subject, FromAddress: tt.from}
			if got := filter.Accept(msg); got != tt.want {
				t.Errorf("Accept(%q from %s) = %v, want %v", tt.subject, tt.from, got, tt.want)
			}
		})
	}
}

func graphMsg(id, subject, from, received string) map[string]any {
	return map[string]any{
		"id":               id,
		"subject":          subject,
		"receivedDateTime": received,
		"from": map[string]any{
			"emailAddress": map[string]any{"address": from},
		},
		"body": map[string]any{"contentType": "HTML", "content": "<p>Monto: CRC 1,000.00</p>"},
	}
}

func TestFetchPagesAndFilters(t *testing.T) {
	var filters []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filters = append(filters, r.URL.Query().Get("$filter"))
		skip := r.URL.Query().Get("$skip")

		var msgs []map[string]any
		if skip == "0" {
			// Full page: one transactional, rest marketing.
			msgs = append(msgs, graphMsg("m-1", "Notificacion de transaccion", "notificacion@notificacionesbaccr.com", "2026-01-15T18:00:00Z"))
			for i := 0; i < pageSize-1; i++ {
				msgs = append(msgs, graphMsg("spam", "Gran promocion", "x@y.com", "2026-01-15T18:00:00Z"))
			}
		} else {
			msgs = append(msgs, graphMsg("m-2", "Comprobante SINPE Movil", "notificacion@notificacionesbaccr.com", "2026-01-16T13:00:00Z"))
		}
		json.NewEncoder(w).Encode(map[string]any{"value": msgs})
	}))
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client(), NewSubjectFilter("notificacion@notificacionesbaccr.com"), nil)

	since := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	got, err := client.Fetch(context.Background(), since, []string{"notificacion@notificacionesbaccr.com"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("messages = %d, want 2 (marketing filtered, both pages read)", len(got))
	}
	if got[0].ID != "m-1" || got[1].ID != "m-2" {
		t.Errorf("ids = %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].ContentType != "html" {
		t.Errorf("content type = %q", got[0].ContentType)
	}
	if !got[1].ReceivedAt.Equal(time.Date(2026, 1, 16, 13, 0, 0, 0, time.UTC)) {
		t.Errorf("received = %v", got[1].ReceivedAt)
	}

	if len(filters) != 2 {
		t.Fatalf("pages requested = %d, want 2", len(filters))
	}
	want := "receivedDateTime ge 2026-01-10T00:00:00Z and (from/emailAddress/address eq 'notificacion@notificacionesbaccr.com')"
	if filters[0] != want {
		t.Errorf("filter = %q, want %q", filters[0], want)
	}
}

func TestFetchAuthFailureNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client(), NewSubjectFilter(""), nil)

	_, err := client.Fetch(context.Background(), time.Now(), nil)
	if !apperr.IsCode(err, apperr.CodeAuthFailed) {
		t.Fatalf("error = %v, want auth failure", err)
	}
	if calls != 1 {
		t.Errorf("provider called %d times, want 1 (no retries on auth errors)", calls)
	}
}

func TestFetchRetriesTransient(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"value": []any{}})
	}))
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client(), NewSubjectFilter(""), nil)

	got, err := client.Fetch(context.Background(), time.Now(), nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("messages = %d, want 0", len(got))
	}
	if calls != 3 {
		t.Errorf("provider called %d times, want 3", calls)
	}
}

func TestFetchAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/messages/m-1/attachments/a-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"contentBytes": []byte("%PDF-1.4 fake")})
	}))
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client(), NewSubjectFilter(""), nil)

	data, err := client.FetchAttachment(context.Background(), "m-1", "a-1")
	if err != nil {
		t.Fatalf("FetchAttachment() error = %v", err)
	}
	if string(data) != "%PDF-1.4 fake" {
		t.Errorf("data = %q", data)
	}
}
