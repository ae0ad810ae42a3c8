package cloudapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/printnest/printnest/internal/transport"
)

type fakeAccount struct {
	loggedIn bool
	token    string
	user     string
}

func (a *fakeAccount) IsLoggedIn() bool              { return a.loggedIn }
func (a *fakeAccount) AccessToken() (string, error)  { return a.token, nil }
func (a *fakeAccount) Username() string              { return a.user }

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	account := &fakeAccount{loggedIn: true, token: "tok", user: "alice"}
	return NewClient(transport.New(testLogger()), srv.URL, account, testLogger())
}

func TestGetClustersBearerAndQuery(t *testing.T) {
	var auth, rawQuery string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		rawQuery = r.URL.RawQuery
		w.Write([]byte(`{"data":[{"cluster_id":"C1","host_guid":"G1","friendly_name":"Shop"}]}`))
	}))

	clusters, err := c.GetClusters(context.Background())
	if err != nil {
		t.Fatalf("GetClusters() error = %v", err)
	}
	if auth != "Bearer tok" {
		t.Errorf("Authorization = %q, want %q", auth, "Bearer tok")
	}
	if rawQuery != "status=active" {
		t.Errorf("query = %q, want status=active", rawQuery)
	}
	if len(clusters) != 1 || clusters[0].ClusterID != "C1" {
		t.Errorf("clusters = %+v", clusters)
	}
}

func TestNotLoggedIn(t *testing.T) {
	c := NewClient(transport.New(testLogger()), "http://unused", &fakeAccount{loggedIn: false}, testLogger())
	if _, err := c.GetClusters(context.Background()); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("GetClusters() error = %v, want ErrNotLoggedIn", err)
	}
}

func TestWaitApprovalIsEmptyList(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"status":"wait_approval"}}`))
	}))

	clusters, err := c.GetClusters(context.Background())
	if err != nil {
		t.Fatalf("GetClusters() error = %v, want empty list", err)
	}
	if len(clusters) != 0 {
		t.Errorf("clusters = %+v, want none", clusters)
	}
}

func TestUnexpectedShapeIsUnparseable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"something":"else"}`))
	}))

	_, err := c.GetClusters(context.Background())
	if transport.KindOf(err) != transport.KindUnparseableBody {
		t.Errorf("KindOf() = %v, want KindUnparseableBody", transport.KindOf(err))
	}
}

func TestGetClusterStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/connect/v1/clusters/C1/status" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"data":{"printers":[{"uuid":"P1","status":"idle"}],"print_jobs":[{"uuid":"J1","status":"queued"}]}}`))
	}))

	status, err := c.GetClusterStatus(context.Background(), "C1")
	if err != nil {
		t.Fatalf("GetClusterStatus() error = %v", err)
	}
	if len(status.Printers) != 1 || status.Printers[0].UUID != "P1" {
		t.Errorf("printers = %+v", status.Printers)
	}
	if len(status.PrintJobs) != 1 || status.PrintJobs[0].UUID != "J1" {
		t.Errorf("print jobs = %+v", status.PrintJobs)
	}
}

func TestRequestUpload(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/cura/v1/jobs/upload" {
			t.Errorf("%s %s, want PUT /cura/v1/jobs/upload", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"data":{"job_id":"J","upload_url":"https://x/u","content_type":"text/x-gcode"}}`))
	}))

	target, err := c.RequestUpload(context.Background(), "cube", 6, "text/x-gcode")
	if err != nil {
		t.Fatalf("RequestUpload() error = %v", err)
	}
	if target.JobID != "J" || target.UploadURL != "https://x/u" {
		t.Errorf("target = %+v", target)
	}
}

func TestRequestPrintQueueFull(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	err := c.RequestPrint(context.Background(), "C1", "J")
	if transport.KindOf(err) != transport.KindConflict {
		t.Errorf("KindOf() = %v, want KindConflict", transport.KindOf(err))
	}
	if !StatusIsQueueFull(err) {
		t.Error("StatusIsQueueFull() = false, want true")
	}
}

func TestPrettyMachineType(t *testing.T) {
	tests := []struct {
		slug string
		want string
	}{
		{"corvus3", "Corvus 3"},            // table hit
		{"corvus_s5", "Corvus S5"},         // table hit
		{"my_printer", "My Printer"},       // mechanical prettify
		{"widget_2+", "Widget 2+"},         // plus preserved
	}
	for _, tt := range tests {
		if got := PrettyMachineType(tt.slug); got != tt.want {
			t.Errorf("PrettyMachineType(%q) = %q, want %q", tt.slug, got, tt.want)
		}
	}
}

func TestDoPrintJobAction(t *testing.T) {
	var path string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Write([]byte(`{"data":{}}`))
	}))

	if err := c.DoPrintJobAction(context.Background(), "C1", "J1", "pause", nil); err != nil {
		t.Fatalf("DoPrintJobAction() error = %v", err)
	}
	want := "/connect/v1/clusters/C1/print_jobs/J1/action/pause"
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
}
