package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewAPIClient(t *testing.T) {
	// Test default values
	client := NewAPIClient("", 0)
	if client.baseURL != "http://localhost:8800/api" {
		t.Errorf("Expected default baseURL http://localhost:8800/api, got %s", client.baseURL)
	}
	if client.client.Timeout != 10*time.Second {
		t.Errorf("Expected default timeout 10s, got %v", client.client.Timeout)
	}

	// Test custom values
	client = NewAPIClient("http://example.com/api", 5*time.Second)
	if client.baseURL != "http://example.com/api" {
		t.Errorf("Expected baseURL http://example.com/api, got %s", client.baseURL)
	}
	if client.client.Timeout != 5*time.Second {
		t.Errorf("Expected timeout 5s, got %v", client.client.Timeout)
	}
}

func TestAPIClientIsReachable(t *testing.T) {
	// Test reachable server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, time.Second)
	if !client.IsReachable() {
		t.Error("Expected server to be reachable")
	}

	// Test unreachable server
	client = NewAPIClient("http://localhost:99999", 100*time.Millisecond)
	if client.IsReachable() {
		t.Error("Expected server to be unreachable")
	}

	// Test 404 response
	server404 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server404.Close()

	client = NewAPIClient(server404.URL, time.Second)
	if client.IsReachable() {
		t.Error("Expected server returning 404 to be unreachable")
	}
}

func TestAPIClientGetServers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/servers" && r.Method == "GET" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`[{"id":"web","name":"Web","running":true,"orphaned":false}]`))
		}
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, time.Second)
	views, err := client.GetServers()
	if err != nil {
		t.Fatalf("Expected successful servers call, got error: %v", err)
	}
	if len(views) != 1 || views[0]["id"] != "web" {
		t.Errorf("unexpected views: %+v", views)
	}

	// Test API error response
	errorServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
	}))
	defer errorServer.Close()

	client = NewAPIClient(errorServer.URL, time.Second)
	if _, err = client.GetServers(); err == nil {
		t.Fatal("Expected error for API error response, but got nil")
	}
}

func TestAPIClientServerAction(t *testing.T) {
	// Test successful start
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/servers/web" && r.Method == "POST" && r.URL.Query().Get("action") == "start" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"success":true,"message":"server web started (pid 123)"}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"action must be start or stop"}`))
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, time.Second)
	result, err := client.ServerAction("web", "start")
	if err != nil {
		t.Fatalf("Expected successful start, got error: %v", err)
	}
	if result["success"] != true {
		t.Errorf("unexpected result: %+v", result)
	}

	// Test API error response
	_, err = client.ServerAction("web", "bounce")
	if err == nil {
		t.Fatal("Expected error for API error response, but got nil")
	} else {
		expectedMsg := "API error: action must be start or stop"
		if err.Error() != expectedMsg {
			t.Errorf("Expected error message %q, got: %q", expectedMsg, err.Error())
		}
	}
}

func TestAPIClientKill(t *testing.T) {
	var gotMethod string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/kill" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		gotMethod = r.Method
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true,"message":"Process 12345 killed"}`))
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, time.Second)
	result, err := client.Kill("12345", "")
	if err != nil {
		t.Fatalf("Expected successful kill, got error: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("Expected DELETE, got %s", gotMethod)
	}
	if gotBody["pid"] != "12345" {
		t.Errorf("Expected pid 12345 in body, got %+v", gotBody)
	}
	if _, ok := gotBody["port"]; ok {
		t.Errorf("Empty port should be omitted from body, got %+v", gotBody)
	}
	if result["success"] != true {
		t.Errorf("unexpected result: %+v", result)
	}

	// Test forbidden pid
	forbiddenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"cannot kill system processes: (pid 1 is below 1024)"}`))
	}))
	defer forbiddenServer.Close()

	client = NewAPIClient(forbiddenServer.URL, time.Second)
	_, err = client.Kill("1", "")
	if err == nil {
		t.Fatal("Expected error for forbidden pid, but got nil")
	}
}

func TestAPIClientGetPorts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ports" && r.Method == "GET" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`[{"port":3000,"pid":42,"program":"node"}]`))
		}
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, time.Second)
	entries, err := client.GetPorts()
	if err != nil {
		t.Fatalf("Expected successful ports call, got error: %v", err)
	}
	if len(entries) != 1 || entries[0]["program"] != "node" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestAPIClientNetworkErrors(t *testing.T) {
	client := NewAPIClient("http://localhost:99999", 100*time.Millisecond)

	if _, err := client.GetServers(); err == nil {
		t.Error("Expected network error for servers")
	}
	if _, err := client.ServerAction("web", "start"); err == nil {
		t.Error("Expected network error for action")
	}
	if _, err := client.GetPorts(); err == nil {
		t.Error("Expected network error for ports")
	}
	if _, err := client.Kill("1", ""); err == nil {
		t.Error("Expected network error for kill")
	}
}
