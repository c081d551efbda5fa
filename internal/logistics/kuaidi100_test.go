package logistics

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Kuaidi100Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewKuaidi100Client("cust-1", "key-1", WithEndpoint(server.URL), WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewKuaidi100Client: %v", err)
	}
	return client
}

func TestQuerySignsAndParsesTraces(t *testing.T) {
	var gotSign, gotParam, gotCustomer string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		gotSign = r.PostForm.Get("sign")
		gotParam = r.PostForm.Get("param")
		gotCustomer = r.PostForm.Get("customer")
		fmt.Fprint(w, `{
			"status": "200",
			"message": "ok",
			"state": "0",
			"data": [
				{"time": "2025-03-12 18:04:05", "context": "Departed sorting center"},
				{"time": "2025-03-12 09:30:00", "context": "Picked up"}
			]
		}`)
	})

	result, err := client.Query(context.Background(), QueryRequest{
		ShipperCode:    "sf",
		TrackingNumber: "SF12345",
		Phone:          "1080",
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if gotCustomer != "cust-1" {
		t.Fatalf("unexpected customer %q", gotCustomer)
	}
	if !strings.Contains(gotParam, `"com":"sf"`) || !strings.Contains(gotParam, `"num":"SF12345"`) {
		t.Fatalf("unexpected param payload %q", gotParam)
	}
	want := strings.ToUpper(fmt.Sprintf("%x", md5.Sum([]byte(gotParam+"key-1"+"cust-1"))))
	if gotSign != want {
		t.Fatalf("signature mismatch: got %q want %q", gotSign, want)
	}

	if len(result.Traces) != 2 {
		t.Fatalf("expected 2 traces, got %d", len(result.Traces))
	}
	if result.Traces[0].Context != "Departed sorting center" {
		t.Fatalf("unexpected trace %+v", result.Traces[0])
	}
	// 18:04 CST is 10:04 UTC.
	wantTime := time.Date(2025, time.March, 12, 10, 4, 5, 0, time.UTC)
	if !result.Traces[0].Time.Equal(wantTime) {
		t.Fatalf("expected %v, got %v", wantTime, result.Traces[0].Time)
	}
}

func TestQueryRejectsAPIFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status": "400", "message": "query limit exceeded"}`)
	})

	_, err := client.Query(context.Background(), QueryRequest{ShipperCode: "sf", TrackingNumber: "SF12345"})
	if !errors.Is(err, ErrTrackingFailed) {
		t.Fatalf("expected ErrTrackingFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "query limit exceeded") {
		t.Fatalf("expected the upstream message to be carried, got %v", err)
	}
}

func TestQueryRejectsTransportFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Query(context.Background(), QueryRequest{ShipperCode: "sf", TrackingNumber: "SF12345"})
	if !errors.Is(err, ErrTrackingUnavailable) {
		t.Fatalf("expected ErrTrackingUnavailable, got %v", err)
	}
}

func TestQueryRequiresShipmentIdentity(t *testing.T) {
	client, err := NewKuaidi100Client("cust-1", "key-1")
	if err != nil {
		t.Fatalf("NewKuaidi100Client: %v", err)
	}
	if _, err := client.Query(context.Background(), QueryRequest{}); !errors.Is(err, ErrTrackingFailed) {
		t.Fatalf("expected ErrTrackingFailed, got %v", err)
	}
}

func TestNewKuaidi100ClientRequiresCredentials(t *testing.T) {
	if _, err := NewKuaidi100Client("", "key"); err == nil {
		t.Fatal("expected an error for a missing customer id")
	}
	if _, err := NewKuaidi100Client("cust", ""); err == nil {
		t.Fatal("expected an error for a missing key")
	}
}
