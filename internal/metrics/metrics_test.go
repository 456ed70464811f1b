package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordAuth_CountsByOpAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuth("sign_in", "success")
	c.RecordAuth("sign_in", "success")
	c.RecordAuth("sign_in", "not_authorized")

	if got := testutil.ToFloat64(c.authOps.WithLabelValues("sign_in", "success")); got != 2 {
		t.Errorf("sign_in success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.authOps.WithLabelValues("sign_in", "not_authorized")); got != 1 {
		t.Errorf("sign_in not_authorized = %v, want 1", got)
	}
}

func TestRecordTodoAndStorage(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTodoMutation("add")
	c.RecordStorageFailure("persist")
	c.RecordSessionTransition("authenticated")

	if got := testutil.ToFloat64(c.todoMutations.WithLabelValues("add")); got != 1 {
		t.Errorf("add = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.storageFailures.WithLabelValues("persist")); got != 1 {
		t.Errorf("persist failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.sessionChanges.WithLabelValues("authenticated")); got != 1 {
		t.Errorf("authenticated transitions = %v, want 1", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordTodoMutation("toggle")

	path := filepath.Join(t.TempDir(), "todoapp.prom")
	if err := WriteTextfile(path, reg); err != nil {
		t.Fatalf("WriteTextfile returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read textfile: %v", err)
	}
	if !strings.Contains(string(data), `todoapp_todo_mutations_total{op="toggle"} 1`) {
		t.Fatalf("expected toggle counter in textfile, got:\n%s", data)
	}
}
