package derive

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"derivesort/internal/trace"
)

func TestNormalizeContent(t *testing.T) {
	src := "use std::fmt;\n" +
		"\n" +
		"#[derive(Debug, Clone, Copy)]\n" +
		"struct A;\n" +
		"#[derive(Clone, Debug)]\r\n" +
		"struct B;\n" +
		"#[derive( Eq,PartialEq )]"

	want := "use std::fmt;\n" +
		"\n" +
		"#[derive(Copy, Clone, Debug)]\n" +
		"struct A;\n" +
		"#[derive(Clone, Debug)]\r\n" +
		"struct B;\n" +
		"#[derive(PartialEq, Eq)]"

	got, stats := NormalizeContent([]byte(src), nil)
	if string(got) != want {
		t.Fatalf("NormalizeContent mismatch:\nwant %q\ngot  %q", want, got)
	}
	if stats.Lines != 7 || stats.Matched != 3 || stats.Rewritten != 2 {
		t.Fatalf("stats = %+v, want {Lines:7 Matched:3 Rewritten:2}", stats)
	}
}

func TestNormalizeContentUnchanged(t *testing.T) {
	src := []byte("#[derive(Copy, Clone)]\nstruct A;\n")
	got, stats := NormalizeContent(src, nil)
	if !bytes.Equal(got, src) {
		t.Fatalf("content changed: %q", got)
	}
	if stats.Rewritten != 0 || stats.Matched != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestNormalizeContentEmpty(t *testing.T) {
	got, stats := NormalizeContent(nil, nil)
	if len(got) != 0 || stats != (Stats{}) {
		t.Fatalf("got %q %+v for empty input", got, stats)
	}
}

func TestNormalizeContentTracesRewrittenLines(t *testing.T) {
	var buf bytes.Buffer
	tracer := trace.NewStreamTracer(&buf, trace.LevelDebug, trace.FormatText)
	ctx := trace.WithTracer(context.Background(), tracer)

	src := []byte("struct X;\n#[derive(Debug, Copy)]\n#[derive(Copy)]\n")
	_, stats := NormalizeContentContext(ctx, src, nil)
	if stats.Rewritten != 1 {
		t.Fatalf("Rewritten = %d, want 1", stats.Rewritten)
	}
	out := buf.String()
	if !strings.Contains(out, "line 2 (#[derive(Copy, Debug)])") {
		t.Fatalf("trace output missing rewritten line:\n%s", out)
	}
	if strings.Contains(out, "line 3") {
		t.Fatalf("unchanged line was traced:\n%s", out)
	}
}
