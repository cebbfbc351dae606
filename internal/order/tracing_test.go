package order_test

import (
	"context"
	"testing"

	"gozon/checkout/internal/order"
	"gozon/checkout/internal/storage"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSubmitRecordsPipelineSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	repo := storage.NewMemory(newPendingOrder(order.StateApproved))
	svc := newService(repo, &authorizer{}, order.WithTracer(tp.Tracer("test")))

	if _, err := svc.Submit(context.Background(), submitCmd(owner)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	want := []string{"order.Submit.permission", "order.Submit.state", "order.Submit"}
	if len(names) != len(want) {
		t.Fatalf("spans: got %v want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("spans: got %v want %v", names, want)
		}
	}
}
