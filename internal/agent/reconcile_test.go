package agent

import (
	"testing"

	"github.com/tagweave/tagweave/internal/codec"
	"github.com/tagweave/tagweave/internal/shape"
)

func reconciler(t *testing.T, fields ...shape.Field) *Orchestrator {
	t.Helper()
	return newTestOrchestrator(t, &fakeGenerator{}, nil, nil, nil, mustShape(t, fields...))
}

func TestReconcileUnwrapsForeignRoot(t *testing.T) {
	o := reconciler(t, shape.Text("title", ""), shape.Text("body", ""))

	out := o.reconcile("<answer><title>Hi</title><body>There</body></answer>")
	if got, _ := out.Get("title"); got != "Hi" {
		t.Fatalf("title = %v", got)
	}
	if got, _ := out.Get("body"); got != "There" {
		t.Fatalf("body = %v", got)
	}
}

func TestReconcileKeepsDeclaredRootField(t *testing.T) {
	o := reconciler(t, shape.Record("report", "", shape.Text("text", "")))

	out := o.reconcile("<report><text>hi</text></report>")
	v, ok := out.Get("report")
	if !ok {
		t.Fatal("report field missing")
	}
	inner, ok := v.(*codec.Map)
	if !ok {
		t.Fatalf("report = %T, want a record", v)
	}
	if got, _ := inner.Get("text"); got != "hi" {
		t.Fatalf("report.text = %v", got)
	}
}

func TestReconcileReExtractsMarkupInTextFields(t *testing.T) {
	o := reconciler(t, shape.Text("summary", ""), shape.Enum("status", "", "ok", "bad"))

	out := o.reconcile("<summary>Use <b>bold</b> text</summary><status>ok</status>")
	if got, _ := out.Get("summary"); got != "Use <b>bold</b> text" {
		t.Fatalf("summary = %v", got)
	}
	if got, _ := out.Get("status"); got != "ok" {
		t.Fatalf("status = %v", got)
	}
}

func TestReconcileDropsUndeclaredTags(t *testing.T) {
	o := reconciler(t, shape.Text("summary", ""))

	out := o.reconcile("<summary>x</summary><extra>y</extra>")
	if got, _ := out.Get("summary"); got != "x" {
		t.Fatalf("summary = %v", got)
	}
	if _, ok := out.Get("extra"); ok {
		t.Fatal("undeclared tag survived reconciliation")
	}
}

func TestReconcileOmitsAbsentFields(t *testing.T) {
	o := reconciler(t, shape.Text("a", ""), shape.Text("b", ""))

	out := o.reconcile("<a>x</a>")
	if got, _ := out.Get("a"); got != "x" {
		t.Fatalf("a = %v", got)
	}
	if _, ok := out.Get("b"); ok {
		t.Fatal("absent field should stay absent")
	}
}

func TestReconcileNormalizesScalars(t *testing.T) {
	o := reconciler(t, shape.Number("count", ""), shape.Boolean("ready", ""))

	out := o.reconcile("<count>3</count><ready>true</ready>")
	if got, _ := out.Get("count"); got != float64(3) {
		t.Fatalf("count = %v (%T)", got, got)
	}
	if got, _ := out.Get("ready"); got != true {
		t.Fatalf("ready = %v", got)
	}
}

func TestReconcileValidationFailureReturnsEmptyRecord(t *testing.T) {
	o := reconciler(t, shape.Number("count", ""))

	if out := o.reconcile("<count>many</count>"); out.Len() != 0 {
		t.Fatalf("output = %v, want empty record", out)
	}
}

func TestReconcileRepeatedTagFailsValidation(t *testing.T) {
	o := reconciler(t, shape.Text("summary", ""))

	if out := o.reconcile("<summary>a</summary><summary>b</summary>"); out.Len() != 0 {
		t.Fatalf("output = %v, want empty record", out)
	}
}

func TestReconcileProseReturnsEmptyRecord(t *testing.T) {
	o := reconciler(t, shape.Text("summary", ""))

	if out := o.reconcile("The answer is probably yes."); out.Len() != 0 {
		t.Fatal("prose should reconcile to an empty record")
	}
	if out := o.reconcile(""); out.Len() != 0 {
		t.Fatal("empty response should reconcile to an empty record")
	}
}
