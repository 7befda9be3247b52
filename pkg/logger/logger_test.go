package logger

import (
	"reflect"
	"testing"
)

type entry struct {
	level   string
	message string
	keyvals []any
}

type recorder struct {
	entries []entry
}

func (r *recorder) add(level, message string, keyvals []any) {
	r.entries = append(r.entries, entry{level, message, keyvals})
}

func (r *recorder) Log(m string, kv ...any)   { r.add("log", m, kv) }
func (r *recorder) Debug(m string, kv ...any) { r.add("debug", m, kv) }
func (r *recorder) Info(m string, kv ...any)  { r.add("info", m, kv) }
func (r *recorder) Warn(m string, kv ...any)  { r.add("warn", m, kv) }
func (r *recorder) Error(m string, kv ...any) { r.add("error", m, kv) }
func (r *recorder) Fatal(m string, kv ...any) { r.add("fatal", m, kv) }

func TestDispatchToEveryBackend(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Init(a, b)
	t.Cleanup(func() { singleton = nil })

	Info("hello", "k", 1)
	Warn("careful")

	for _, r := range []*recorder{a, b} {
		want := []entry{
			{"info", "hello", []any{"k", 1}},
			{"warn", "careful", nil},
		}
		if !reflect.DeepEqual(r.entries, want) {
			t.Fatalf("entries = %+v, want %+v", r.entries, want)
		}
	}
}

func TestScopedPrefixesMessages(t *testing.T) {
	r := &recorder{}
	Init(r)
	t.Cleanup(func() { singleton = nil })

	log := With("Search")
	log.Debug("cache miss")
	log.Error("strategy failed", "strategy", "direct")

	if len(r.entries) != 2 {
		t.Fatalf("got %d entries", len(r.entries))
	}
	if r.entries[0].message != "[Search] cache miss" || r.entries[0].level != "debug" {
		t.Fatalf("entry 0 = %+v", r.entries[0])
	}
	if r.entries[1].message != "[Search] strategy failed" || r.entries[1].level != "error" {
		t.Fatalf("entry 1 = %+v", r.entries[1])
	}
}

func TestUninitialisedLoggerIsNoop(t *testing.T) {
	singleton = nil
	Info("dropped")
	With("X").Warn("dropped")
}
