package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lrlichardi/laboratory/internal/domain/results"
)

const orderJSON = `{
  "id": "ord-1",
  "orderNumber": "2024-0001",
  "status": "pending",
  "createdAt": "2024-05-02T09:30:00Z",
  "notes": null,
  "patientId": "pat-1",
  "patient": {"id": "pat-1", "dni": "30111222", "firstName": "Ana", "lastName": "Pérez",
              "birthDate": "1984-03-10T00:00:00.000Z", "sex": "Femenino", "obraSocial": "OSDE"},
  "doctor": {"fullName": "Dr. Gómez"},
  "items": [{
    "id": "item-1", "examTypeId": "et-1", "examType": {"code": "660711", "name": "ORINA COMPLETA"},
    "analytes": [
      {"id": "an-1", "orderItemId": "item-1", "itemDefId": "def-1", "valueNum": null, "valueText": "amarillo",
       "unit": null, "status": "DONE", "method": "Tira reactiva",
       "itemDef": {"id": "def-1", "key": "EF_COLOR", "label": "Color", "unit": null, "kind": "text", "sortOrder": 1, "refText": null}},
      {"id": "an-2", "orderItemId": "item-1", "itemDefId": "def-2", "valueNum": 6.5, "valueText": null,
       "unit": "mg/dl", "status": "DONE",
       "itemDef": {"id": "def-2", "key": "EQ_PH", "label": "pH", "unit": null, "kind": "NUMERIC", "sortOrder": 2, "refText": "5 - 8"}}
    ]
  }]
}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/", RPS: 1000}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}, zerolog.Nop()); err == nil {
		t.Error("expected error without base URL")
	}
}

func TestClient_GetOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/orders/ord-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		io.WriteString(w, orderJSON)
	})

	o, err := c.GetOrder(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("GetOrder() error: %v", err)
	}
	if o.Status != results.OrderPending || o.DoctorName != "Dr. Gómez" || o.Patient.ObraSocial != "OSDE" {
		t.Errorf("unexpected order header %+v", o)
	}
	if o.Patient.BirthDate == nil || o.Patient.BirthDate.Year() != 1984 {
		t.Errorf("unexpected birth date %v", o.Patient.BirthDate)
	}
	if len(o.Lines) != 1 || len(o.Lines[0].Analytes) != 2 {
		t.Fatalf("unexpected lines %+v", o.Lines)
	}
	color := o.Lines[0].Analytes[0]
	if color.ItemDef.Kind != results.KindText || color.ItemDef.Method != "Tira reactiva" || *color.ValueText != "amarillo" {
		t.Errorf("unexpected analyte %+v", color)
	}
	ph := o.Lines[0].Analytes[1]
	if ph.ValueNum == nil || *ph.ValueNum != 6.5 || ph.DisplayUnit() != "mg/dl" || ph.OrderLineID != "item-1" {
		t.Errorf("unexpected analyte %+v", ph)
	}
}

func TestClient_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such order", http.StatusNotFound)
	})
	if _, err := c.GetOrder(context.Background(), "x"); !errors.Is(err, results.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClient_BulkUpdate(t *testing.T) {
	var got bulkRequest
	var raw []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/orders/ord-1/analytes/bulk" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		raw, _ = io.ReadAll(r.Body)
		json.Unmarshal(raw, &got)
		io.WriteString(w, `{"ok": true}`)
	})

	cmds := []results.UpdateCommand{
		{OrderLineID: "item-1", AnalyteID: "an-1", Value: results.NumberValue(decimal.RequireFromString("12.5"))},
		{OrderLineID: "item-1", AnalyteID: "an-2", Value: results.TextValue("No contiene"), Defaulted: true},
		{OrderLineID: "item-1", AnalyteID: "an-3", Value: results.NullValue()},
	}
	if err := c.BulkUpdate(context.Background(), "ord-1", cmds); err != nil {
		t.Fatalf("BulkUpdate() error: %v", err)
	}
	want := `{"updates":[{"orderItemId":"item-1","analyteId":"an-1","value":12.5},` +
		`{"orderItemId":"item-1","analyteId":"an-2","value":"No contiene"},` +
		`{"orderItemId":"item-1","analyteId":"an-3","value":null}]}`
	if string(raw) != want {
		t.Errorf("body = %s\nwant %s", raw, want)
	}
	if len(got.Updates) != 3 {
		t.Errorf("expected 3 updates, got %d", len(got.Updates))
	}
}

func TestClient_ServerErrorIsBackendError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	err := c.DeleteLine(context.Background(), "item-1")
	if !errors.Is(err, results.ErrBackend) {
		t.Errorf("expected ErrBackend, got %v", err)
	}
}

func TestClient_BreakerOpensAfterFailures(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		c.UpdateStatus(ctx, "ord-1", results.OrderCompleted)
	}
	if n := atomic.LoadInt32(&calls); n != 5 {
		t.Errorf("expected the breaker to stop calls after 5 failures, got %d", n)
	}
	if err := c.UpdateStatus(ctx, "ord-1", results.OrderCompleted); !errors.Is(err, results.ErrBackend) {
		t.Errorf("expected ErrBackend while open, got %v", err)
	}
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	})
	for i := 0; i < 10; i++ {
		c.GetOrder(context.Background(), "missing")
	}
	if n := atomic.LoadInt32(&calls); n != 10 {
		t.Errorf("404s must not open the breaker, got %d calls", n)
	}
}

func TestClient_Nomenclador(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/nomenclador/all":
			io.WriteString(w, `{"rows": [{"codigo": 660475, "determinacion": "Hemograma", "ub": 6},
				{"codigo": "660412", "determinacion": "Glucemia", "ub": 1.5}]}`)
		case r.URL.Path == "/price/price-factor" && r.Method == http.MethodGet:
			io.WriteString(w, `{"factor": 120}`)
		case r.URL.Path == "/price/price-factor" && r.Method == http.MethodPut:
			var body factorDTO
			json.NewDecoder(r.Body).Decode(&body)
			json.NewEncoder(w).Encode(body)
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	entries, err := c.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error: %v", err)
	}
	if len(entries) != 2 || entries[0].Code != "660475" || !entries[1].UB.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("unexpected entries %+v", entries)
	}

	if f, err := c.GetPriceFactor(ctx); err != nil || f != 120 {
		t.Errorf("GetPriceFactor() = %d, %v", f, err)
	}
	if f, err := c.SetPriceFactor(ctx, 135); err != nil || f != 135 {
		t.Errorf("SetPriceFactor() = %d, %v", f, err)
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}

func TestParseBirthDate(t *testing.T) {
	for _, s := range []string{"1984-03-10", "1984-03-10T00:00:00Z", "1984-03-10T00:00:00.000Z"} {
		s := s
		d := parseBirthDate(&s)
		if d == nil || d.Month() != 3 || d.Day() != 10 {
			t.Errorf("parseBirthDate(%q) = %v", s, d)
		}
	}
	bad := "10/03/1984"
	if parseBirthDate(&bad) != nil || parseBirthDate(nil) != nil {
		t.Error("expected nil for unknown formats")
	}
}
