package IO

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFitSequencePads(t *testing.T) {
	got := fitSequence([]int{5, 6}, 6)
	want := []int{BosID, 5, 6, EosID, PadID, PadID}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestFitSequenceTruncatesKeepingEos(t *testing.T) {
	got := fitSequence([]int{5, 6, 7, 8, 9}, 4)
	want := []int{BosID, 5, 6, EosID}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestFitSequenceExactFit(t *testing.T) {
	got := fitSequence([]int{5, 6}, 4)
	want := []int{BosID, 5, 6, EosID}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestReadLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.source")
	if err := os.WriteFile(path, []byte("first doc\nsecond doc\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	lines, err := readLines(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"first doc", "second doc"}, lines); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestCSVSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	sink, err := NewCSVSink(path, []string{"loss", "rouge2"})
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Log(1, map[string]float64{"loss": 2.5, "rouge2": 0.1}); err != nil {
		t.Fatal(err)
	}
	if err := sink.Log(2, map[string]float64{"loss": 2.0, "rouge2": 0.15}); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 rows", len(lines))
	}
	if lines[0] != "epoch,loss,rouge2" {
		t.Fatalf("bad header: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "1,2.5") {
		t.Fatalf("bad first row: %q", lines[1])
	}
}
