package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestStartSpanNestsUnderTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := WithLogger(context.Background(), logger)

	ctx, parent := StartSpan(ctx, "parent")
	traceID := TraceIDFromContext(ctx)
	parentID := SpanIDFromContext(ctx)
	if traceID == "" || parentID == "" {
		t.Fatalf("expected trace and span ids, got %q %q", traceID, parentID)
	}

	child, span := StartSpan(ctx, "child")
	if TraceIDFromContext(child) != traceID {
		t.Fatal("child span should share the trace id")
	}
	span.End()
	parent.End()

	var entry map[string]any
	line, _, _ := bytes.Cut(buf.Bytes(), []byte("\n"))
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["parent_span_id"] != parentID {
		t.Fatalf("expected parent span id %s got %v", parentID, entry["parent_span_id"])
	}
	if entry["span_name"] != "child" {
		t.Fatalf("expected child span log first got %v", entry["span_name"])
	}
}

func TestSessionIDTagsLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))
	ctx = WithSessionID(ctx, "s-1")

	if got := SessionIDFromContext(ctx); got != "s-1" {
		t.Fatalf("expected session id s-1 got %q", got)
	}
	FromContext(ctx).Info("hello")
	if !bytes.Contains(buf.Bytes(), []byte(`"session_id":"s-1"`)) {
		t.Fatalf("expected session id in log line: %s", buf.String())
	}

	var nilSpan *Span
	nilSpan.End()
	if FromContext(context.Background()) != slog.Default() {
		t.Fatal("expected default logger fallback")
	}
}
