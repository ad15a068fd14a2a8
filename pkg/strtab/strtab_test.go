package strtab

import (
	"bytes"
	"testing"
)

func TestAddString(t *testing.T) {
	orig := []byte("a.c\x00/tmp\x00")
	w := NewWriter(orig)
	if w.Initialized() {
		t.Fatal("fresh writer must not be initialized")
	}

	off := w.AddString("foo.dwo")
	if off != uint32(len(orig)) {
		t.Errorf("AddString() = %#x, want %#x", off, len(orig))
	}
	if again := w.AddString("foo.dwo"); again != off {
		t.Errorf("AddString() dedup = %#x, want %#x", again, off)
	}
	bar := w.AddString("bar")
	if bar != off+uint32(len("foo.dwo")+1) {
		t.Errorf("AddString(bar) = %#x", bar)
	}
	if !w.Initialized() {
		t.Error("writer must be initialized after AddString")
	}

	buf := w.Finalize()
	if !bytes.HasPrefix(buf, orig) {
		t.Error("original contents must be preserved")
	}
	if got := string(buf[off : off+7]); got != "foo.dwo" || buf[off+7] != 0 {
		t.Errorf("string at %#x = %q", off, got)
	}
}
