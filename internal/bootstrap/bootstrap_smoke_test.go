package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()

	tmp := t.TempDir()
	content := fmt.Sprintf(`server:
  ip: "127.0.0.1"
  port: 0
log:
  log_level: "error"
  log_dir: %q
  log_file: "bootstrap-test.log"
iam:
  base_url: "http://127.0.0.1:1"
  api_key: "test-key"
session:
  signing_secret: "test-secret"
`, tmp)

	path := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestInitGraphDependenciesAreSatisfiable(t *testing.T) {
	steps := InitGraph()

	seen := make(map[string]struct{}, len(steps))
	for i, step := range steps {
		if step.ID == "" {
			t.Fatalf("step %d has no id", i)
		}
		if step.Execute == nil {
			t.Fatalf("step %s has no execute function", step.ID)
		}
		for _, dep := range step.DependsOn {
			if _, ok := seen[dep]; !ok {
				t.Fatalf("step %s depends on %s which is not declared before it", step.ID, dep)
			}
		}
		if _, dup := seen[step.ID]; dup {
			t.Fatalf("duplicate step id %s", step.ID)
		}
		seen[step.ID] = struct{}{}
	}
}

func TestExecuteInitGraph(t *testing.T) {
	state := &appState{configPath: writeTestConfig(t)}

	if err := executeInitSteps(context.Background(), InitGraph(), state); err != nil {
		t.Fatalf("executeInitSteps failed: %v", err)
	}
	t.Cleanup(func() {
		_ = state.sessions.Close()
		state.bus.Stop()
		_ = state.logger.Close()
	})

	if state.config == nil {
		t.Fatal("config is nil after init")
	}
	if state.logger == nil {
		t.Fatal("logger is nil after init")
	}
	if state.sessions == nil {
		t.Fatal("session manager is nil after init")
	}
	if state.gateway == nil {
		t.Fatal("IAM client is nil after init")
	}
	if state.machine == nil {
		t.Fatal("auth machine is nil after init")
	}
	if state.gate == nil {
		t.Fatal("access gate is nil after init")
	}
}

func TestExecuteInitGraphFailsClosedWithoutIAMKey(t *testing.T) {
	tmp := t.TempDir()
	content := fmt.Sprintf(`log:
  log_level: "error"
  log_dir: %q
  log_file: "bootstrap-test.log"
iam:
  base_url: "http://127.0.0.1:1"
session:
  signing_secret: "test-secret"
`, tmp)
	path := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	state := &appState{configPath: path}
	if err := executeInitSteps(context.Background(), InitGraph(), state); err == nil {
		t.Fatal("expected startup to refuse a missing IAM api key")
	}
}

func TestExecuteInitStepsValidatesDependencies(t *testing.T) {
	steps := []initStep{
		{
			ID:        "b",
			Title:     "depends on missing step",
			DependsOn: []string{"a"},
			Execute:   func(context.Context, *appState) error { return nil },
		},
	}
	if err := executeInitSteps(context.Background(), steps, &appState{}); err == nil {
		t.Fatal("expected unsatisfied dependency to fail")
	}
}
