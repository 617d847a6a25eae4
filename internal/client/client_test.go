package client_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"traceapi/internal/api"
	"traceapi/internal/client"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *client.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := client.New(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRejectsEmptyAddress(t *testing.T) {
	if _, err := client.New("  "); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestFindMixesSendsQuery(t *testing.T) {
	var got api.MixFindRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/mix/find" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get(api.RequestIDHeader) == "" {
			t.Error("missing request id header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(api.ListResponse[api.Mix]{Data: []api.Mix{{ID: 7, Name: "night"}}})
	})

	mixes, err := c.FindMixes(context.Background(), api.MixFindRequest{Name: "ni", Limit: 5})
	if err != nil {
		t.Fatalf("FindMixes: %v", err)
	}
	if len(mixes) != 1 || mixes[0].ID != 7 || mixes[0].Name != "night" {
		t.Fatalf("unexpected mixes: %+v", mixes)
	}
	if got.Name != "ni" || got.Limit != 5 {
		t.Fatalf("unexpected request body: %+v", got)
	}
}

func TestErrorResponseBecomesAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		progress := 40
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "generation in progress", State: "merging", Progress: &progress})
	})

	_, err := c.DownloadMix(context.Background(), 3, io.Discard)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.State != "merging" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if apiErr.Progress == nil || *apiErr.Progress != 40 {
		t.Fatalf("expected progress 40, got %v", apiErr.Progress)
	}
	if !client.IsNotFound(err) {
		t.Fatal("expected IsNotFound")
	}
}

func TestErrorWithoutJSONBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	err := c.DeleteMix(context.Background(), 1)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Message != http.StatusText(http.StatusBadGateway) {
		t.Fatalf("unexpected message %q", apiErr.Message)
	}
	if client.IsNotFound(err) {
		t.Fatal("502 must not be reported as not found")
	}
}

func TestDownloadMixStreamsBody(t *testing.T) {
	payload := []byte("pcap-bytes")
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mix/9/download" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write(payload)
	})

	var buf bytes.Buffer
	n, err := c.DownloadMix(context.Background(), 9, &buf)
	if err != nil {
		t.Fatalf("DownloadMix: %v", err)
	}
	if n != int64(len(payload)) || !bytes.Equal(buf.Bytes(), payload) {
		t.Fatalf("unexpected download %q (%d bytes)", buf.Bytes(), n)
	}
}

func TestUploadUnitSendsFormat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "pcapng" || r.URL.Query().Get("annotation") != "lab" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "data" {
			t.Errorf("unexpected body %q", body)
		}
		_ = json.NewEncoder(w).Encode(api.Unit{ID: 4})
	})

	unit, err := c.UploadUnit(context.Background(), strings.NewReader("data"), "pcapng", "lab")
	if err != nil {
		t.Fatalf("UploadUnit: %v", err)
	}
	if unit.ID != 4 {
		t.Fatalf("unexpected unit %+v", unit)
	}
}
