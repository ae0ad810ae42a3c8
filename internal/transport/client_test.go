package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func TestGetAppliesScopes(t *testing.T) {
	var gotAuth, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(testLogger())
	scope := ComposeScopes(
		UserAgentScope("printnest/1.0"),
		BearerScope(func() (string, error) { return "tok", nil }),
	)
	if _, _, err := c.Get(context.Background(), srv.URL, scope); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok")
	}
	if gotAgent != "printnest/1.0" {
		t.Errorf("User-Agent = %q, want %q", gotAgent, "printnest/1.0")
	}
}

func TestConnectionFailureIsTransient(t *testing.T) {
	c := New(testLogger())
	_, status, err := c.Get(context.Background(), "http://127.0.0.1:1/unreachable", nil)
	if err == nil {
		t.Fatal("Get() to closed port expected error")
	}
	if status != 0 {
		t.Errorf("status = %d, want 0 when the connection never completed", status)
	}
	if KindOf(err) != KindTransient {
		t.Errorf("KindOf() = %v, want KindTransient", KindOf(err))
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{500, KindTransient},
		{502, KindTransient},
		{503, KindTransient},
		{504, KindTransient},
		{401, KindAuthRequired},
		{403, KindAuthDenied},
		{404, KindNotFound},
		{409, KindConflict},
		{400, KindFatal},
		{422, KindFatal},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := New(testLogger())
		_, status, err := c.Get(context.Background(), srv.URL, nil)
		srv.Close()

		if err == nil {
			t.Errorf("status %d: expected error", tt.status)
			continue
		}
		if status != tt.status {
			t.Errorf("status = %d, want %d", status, tt.status)
		}
		if got := KindOf(err); got != tt.want {
			t.Errorf("status %d: KindOf() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestErrorDetailFromErrorsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"code":"bad","title":"Bad input"}]}`))
	}))
	defer srv.Close()

	c := New(testLogger())
	_, _, err := c.Get(context.Background(), srv.URL, nil)
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("error is %T, want *Error", err)
	}
	if te.Detail != "Bad input" {
		t.Errorf("Detail = %q, want %q", te.Detail, "Bad input")
	}
}

func TestDecodeJSONUnparseable(t *testing.T) {
	var out map[string]any
	err := DecodeJSON([]byte("not json"), &out)
	if err == nil {
		t.Fatal("DecodeJSON() expected error for invalid body")
	}
	if KindOf(err) != KindUnparseableBody {
		t.Errorf("KindOf() = %v, want KindUnparseableBody", KindOf(err))
	}
}

func TestPostFormComposesParts(t *testing.T) {
	var owner, fileName, fileBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		owner = r.FormValue("owner")
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		fileName = hdr.Filename
		fileBody = string(data)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(testLogger())
	parts := []Part{
		{FieldName: "owner", Body: []byte("alice")},
		{FieldName: "file", FileName: "cube.gcode", Body: []byte("G1 X0\n")},
	}
	if _, _, err := c.PostForm(context.Background(), srv.URL, nil, parts, nil); err != nil {
		t.Fatalf("PostForm() error = %v", err)
	}

	if owner != "alice" {
		t.Errorf("owner part = %q, want %q", owner, "alice")
	}
	if fileName != "cube.gcode" {
		t.Errorf("file name = %q, want %q", fileName, "cube.gcode")
	}
	if fileBody != "G1 X0\n" {
		t.Errorf("file body = %q, want %q", fileBody, "G1 X0\n")
	}
}

func TestPostFormReportsProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(testLogger())
	var lastSent, total int64
	parts := []Part{{FieldName: "file", FileName: "big.gcode", Body: []byte(strings.Repeat("G1 X0\n", 4096))}}
	_, _, err := c.PostForm(context.Background(), srv.URL, nil, parts, func(sent, tot int64) {
		lastSent, total = sent, tot
	})
	if err != nil {
		t.Fatalf("PostForm() error = %v", err)
	}
	if total == 0 {
		t.Fatal("progress total never reported")
	}
	if lastSent != total {
		t.Errorf("final progress = %d/%d, want completion", lastSent, total)
	}
}

func TestPutStreamSetsContentType(t *testing.T) {
	var ct string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct = r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	c := New(testLogger())
	_, _, err := c.PutStream(context.Background(), srv.URL, nil, []byte("payload"), "text/x-gcode", nil)
	if err != nil {
		t.Fatalf("PutStream() error = %v", err)
	}
	if ct != "text/x-gcode" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/x-gcode")
	}
	if string(body) != "payload" {
		t.Errorf("body = %q, want %q", body, "payload")
	}
}
