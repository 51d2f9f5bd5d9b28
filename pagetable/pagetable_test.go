package pagetable

import "testing"

func TestMarkAbsentThenSetFrame(t *testing.T) {
	pt := New()
	pt.MarkAbsent(2)

	if !pt.IsAbsent(2) {
		t.Fatalf("IsAbsent(2) = false after MarkAbsent")
	}
	if f, ok := pt.Frame(2); !ok || f != Absent {
		t.Fatalf("Frame(2) = (%d, %v), want (%d, true)", f, ok, Absent)
	}

	pt.SetFrame(2, 5)
	if pt.IsAbsent(2) {
		t.Fatalf("IsAbsent(2) = true after SetFrame")
	}
	if f, ok := pt.Frame(2); !ok || f != 5 {
		t.Fatalf("Frame(2) = (%d, %v), want (5, true)", f, ok)
	}
}

func TestFrameUnknownPage(t *testing.T) {
	pt := New()
	if _, ok := pt.Frame(9); ok {
		t.Fatalf("Frame(9) on an untouched page: ok = true, want false")
	}
	if pt.IsAbsent(9) {
		t.Fatalf("IsAbsent(9) on an untouched page = true, want false")
	}
}
