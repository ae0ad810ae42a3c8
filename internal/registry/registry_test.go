package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// testPlugin is a minimal plugin for testing.
type testPlugin struct {
	name     string
	initErr  error
	inited   bool
	started  bool
	stopped  bool
	stopSeen *[]string
}

func (p *testPlugin) Name() string    { return p.name }
func (p *testPlugin) Version() string { return "1.0.0" }

func (p *testPlugin) Init(_ *viper.Viper, _ *zap.Logger) error {
	p.inited = true
	return p.initErr
}

func (p *testPlugin) Start(_ context.Context) error {
	p.started = true
	return nil
}

func (p *testPlugin) Stop() error {
	p.stopped = true
	if p.stopSeen != nil {
		*p.stopSeen = append(*p.stopSeen, p.name)
	}
	return nil
}

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func TestRegister(t *testing.T) {
	reg := New(testLogger())

	p := &testPlugin{name: "alpha"}
	if err := reg.Register(p); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Duplicate registration should fail.
	if err := reg.Register(p); err == nil {
		t.Fatal("Register() expected error for duplicate, got nil")
	}
}

func TestRegisterEmptyName(t *testing.T) {
	reg := New(testLogger())
	if err := reg.Register(&testPlugin{name: ""}); err == nil {
		t.Fatal("Register() expected error for empty name, got nil")
	}
}

func TestInitAllPropagatesError(t *testing.T) {
	reg := New(testLogger())
	reg.Register(&testPlugin{name: "a"})
	reg.Register(&testPlugin{name: "b", initErr: errors.New("boom")})

	if err := reg.InitAll(viper.New()); err == nil {
		t.Fatal("InitAll() expected error, got nil")
	}
}

func TestInitAllSkipsDisabled(t *testing.T) {
	reg := New(testLogger())
	p := &testPlugin{name: "a"}
	reg.Register(p)

	v := viper.New()
	v.Set("plugins.a.enabled", false)

	if err := reg.InitAll(v); err != nil {
		t.Fatalf("InitAll() error = %v", err)
	}
	if p.inited {
		t.Error("disabled plugin was initialized")
	}
}

func TestStartAll(t *testing.T) {
	reg := New(testLogger())
	p := &testPlugin{name: "a"}
	reg.Register(p)

	if err := reg.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if !p.started {
		t.Error("plugin was not started")
	}
}

func TestStopAllReverseOrder(t *testing.T) {
	reg := New(testLogger())
	var order []string
	reg.Register(&testPlugin{name: "first", stopSeen: &order})
	reg.Register(&testPlugin{name: "second", stopSeen: &order})

	reg.StopAll()

	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Errorf("StopAll() order = %v, want [second first]", order)
	}
}

func TestGetAndAll(t *testing.T) {
	reg := New(testLogger())
	reg.Register(&testPlugin{name: "a"})
	reg.Register(&testPlugin{name: "b"})

	if _, ok := reg.Get("a"); !ok {
		t.Error("Get('a') not found")
	}
	if _, ok := reg.Get("missing"); ok {
		t.Error("Get('missing') unexpectedly found")
	}
	if got := len(reg.All()); got != 2 {
		t.Errorf("len(All()) = %d, want 2", got)
	}
}
