package sink

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/scheduler"
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/types"
)

func debugResult(seq uint64) *scheduler.Result {
	w, h := 16, 16
	return &scheduler.Result{
		TraceID:    "trace-debug",
		Seq:        seq,
		CapturedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Frame: &types.Frame{
			Data:   make([]byte, w*h*3),
			Width:  w,
			Height: h,
			Seq:    seq,
		},
		Detections: []types.Detection{
			{X1: 2, Y1: 2, X2: 10, Y2: 10, Confidence: 0.9, Class: 0, Label: "person"},
		},
	}
}

func dumpedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dump dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestDebugDumpsEveryNth(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDebug(dir, 2, nil)
	if err != nil {
		t.Fatalf("NewDebug failed: %v", err)
	}

	d.ShowDebugInformation(debugResult(1))
	if got := dumpedFiles(t, dir); len(got) != 0 {
		t.Fatalf("first cycle dumped %v, want none", got)
	}

	d.ShowDebugInformation(debugResult(2))
	files := dumpedFiles(t, dir)
	if len(files) != 1 {
		t.Fatalf("second cycle dumped %v, want one file", files)
	}

	f, err := os.Open(filepath.Join(dir, files[0]))
	if err != nil {
		t.Fatalf("open dump: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("dump is not a valid png: %v", err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 16 {
		t.Fatalf("dump size = %v, want 16x16", img.Bounds())
	}

	// The outline must be visible on the box border.
	r, g, b, _ := img.At(2, 2).RGBA()
	if r>>8 != 0 || g>>8 != 220 || b>>8 != 60 {
		t.Fatalf("border pixel = (%d,%d,%d), want outline color", r>>8, g>>8, b>>8)
	}

	saved, failed := d.Stats()
	if saved != 1 || failed != 0 {
		t.Fatalf("stats = %d/%d, want 1/0", saved, failed)
	}
}

func TestDebugWithoutDirOnlyLogs(t *testing.T) {
	d, err := NewDebug("", 0, nil)
	if err != nil {
		t.Fatalf("NewDebug failed: %v", err)
	}
	for i := uint64(1); i <= 5; i++ {
		d.ShowDebugInformation(debugResult(i))
	}
	saved, failed := d.Stats()
	if saved != 0 || failed != 0 {
		t.Fatalf("stats = %d/%d, want 0/0", saved, failed)
	}
}

func TestDebugCountsDumpFailures(t *testing.T) {
	d, err := NewDebug(t.TempDir(), 1, nil)
	if err != nil {
		t.Fatalf("NewDebug failed: %v", err)
	}

	res := debugResult(1)
	res.Frame.Data = res.Frame.Data[:5] // ragged frame cannot convert
	d.ShowDebugInformation(res)

	saved, failed := d.Stats()
	if saved != 0 || failed != 1 {
		t.Fatalf("stats = %d/%d, want 0/1", saved, failed)
	}
}

func TestDebugClipsOutlinesToFrame(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDebug(dir, 1, nil)
	if err != nil {
		t.Fatalf("NewDebug failed: %v", err)
	}

	res := debugResult(1)
	res.Detections[0] = types.Detection{X1: -10, Y1: -10, X2: 100, Y2: 100, Label: "oversized"}
	d.ShowDebugInformation(res)

	if saved, failed := d.Stats(); saved != 1 || failed != 0 {
		t.Fatalf("stats = %d/%d, want 1/0", saved, failed)
	}
}
