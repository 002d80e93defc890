package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/ppiankov/auditrag/internal/model"
)

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(model.TracingConfig{}, "dev", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Enabled() {
		t.Error("expected disabled provider")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown of disabled provider failed: %v", err)
	}
}

func TestSetup_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := Setup(model.TracingConfig{Enabled: true, ServiceName: "auditrag-test"}, "1.2.3", &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Enabled() {
		t.Fatal("expected enabled provider")
	}

	_, span := otel.Tracer("test").Start(context.Background(), "retrieve")
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"Name":"retrieve"`) {
		t.Errorf("expected span in output, got %s", out)
	}
	if !strings.Contains(out, "auditrag-test") {
		t.Errorf("expected service name in output, got %s", out)
	}
}
