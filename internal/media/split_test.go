package media

import (
	"math"
	"os"
	"strings"
	"testing"
)

func TestPlanTimeline_GapsAndTail(t *testing.T) {
	// 30s source, three ranges; the middle one keeps original footage.
	parts, err := planTimeline(30, []Range{
		{Start: 0, End: 5, ReplacementPath: "/clips/seg1.mp4"},
		{Start: 10, End: 15},
		{Start: 20, End: 22, ReplacementPath: "/clips/seg3.mp4"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []timelinePart{
		{path: "/clips/seg1.mp4"},
		{start: 5, duration: 5},
		{start: 10, duration: 5},
		{start: 15, duration: 5},
		{path: "/clips/seg3.mp4"},
		{start: 22, duration: 8},
	}

	if len(parts) != len(want) {
		t.Fatalf("parts = %d, want %d: %+v", len(parts), len(want), parts)
	}
	for i, p := range parts {
		w := want[i]
		if p.path != w.path {
			t.Errorf("part %d path = %q, want %q", i, p.path, w.path)
		}
		if math.Abs(p.start-w.start) > 1e-9 || math.Abs(p.duration-w.duration) > 1e-9 {
			t.Errorf("part %d span = [%v +%v], want [%v +%v]", i, p.start, p.duration, w.start, w.duration)
		}
	}
}

// Output duration must equal original-only spans plus the actual replacement
// durations, even when a replacement drifted from its requested length.
func TestPlanTimeline_DurationWithDrift(t *testing.T) {
	parts, err := planTimeline(30, []Range{
		{Start: 0, End: 5, ReplacementPath: "/clips/seg1.mp4"},   // actual 5.4s
		{Start: 10, End: 15},                                     // rejected, original kept
		{Start: 20, End: 22, ReplacementPath: "/clips/seg3.mp4"}, // actual 2.0s
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	actual := map[string]float64{
		"/clips/seg1.mp4": 5.4,
		"/clips/seg3.mp4": 2.0,
	}

	total := 0.0
	for _, p := range parts {
		if p.isReplacement() {
			total += actual[p.path]
		} else {
			total += p.duration
		}
	}

	if math.Abs(total-30.4) > 1e-9 {
		t.Errorf("output duration = %v, want 30.4", total)
	}
}

func TestPlanTimeline_RangeToSourceEnd(t *testing.T) {
	parts, err := planTimeline(10, []Range{{Start: 4, End: 10}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want 2 (leading gap + range), got %+v", len(parts), parts)
	}
	if parts[1].start != 4 || parts[1].duration != 6 {
		t.Errorf("range part = [%v +%v], want [4 +6]", parts[1].start, parts[1].duration)
	}
}

func TestPlanTimeline_NoRanges(t *testing.T) {
	parts, err := planTimeline(12, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parts) != 1 || parts[0].start != 0 || parts[0].duration != 12 {
		t.Fatalf("parts = %+v, want single full-source span", parts)
	}
}

func TestPlanTimeline_Unordered(t *testing.T) {
	// Ranges arrive unsorted; the plan must still walk left to right.
	parts, err := planTimeline(30, []Range{
		{Start: 20, End: 25},
		{Start: 0, End: 5},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parts[0].start != 0 {
		t.Errorf("first part starts at %v, want 0", parts[0].start)
	}
}

func TestPlanTimeline_InvalidRanges(t *testing.T) {
	cases := []struct {
		name   string
		ranges []Range
	}{
		{"end before start", []Range{{Start: 5, End: 3}}},
		{"overlap", []Range{{Start: 0, End: 6}, {Start: 5, End: 10}}},
		{"beyond source", []Range{{Start: 40, End: 45}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := planTimeline(30, tc.ranges); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestUniformProfile(t *testing.T) {
	base := Metadata{Codec: "h264", Width: 1920, Height: 1080, FrameRate: 30}
	same := base
	other := base
	other.FrameRate = 25

	if !uniformProfile([]*Metadata{&base, &same}) {
		t.Error("identical profiles reported as mixed")
	}
	if uniformProfile([]*Metadata{&base, &other}) {
		t.Error("differing frame rates reported as uniform")
	}
}

func TestWriteConcatList_EscapesQuotes(t *testing.T) {
	dir := t.TempDir()
	listPath, err := writeConcatList([]string{dir + "/it's a clip.mp4"}, dir+"/out.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer os.Remove(listPath)

	data, err := os.ReadFile(listPath)
	if err != nil {
		t.Fatalf("read list: %v", err)
	}
	if !strings.Contains(string(data), `it'\''s a clip.mp4`) {
		t.Errorf("quote not escaped: %s", data)
	}
}

func TestParseProgressLine(t *testing.T) {
	cases := []struct {
		line  string
		total float64
		want  float64
		ok    bool
	}{
		{"out_time_us=5000000", 10, 50, true},
		{"out_time_ms=5000000", 10, 50, true},
		{"out_time_us=20000000", 10, 100, true}, // clamped
		{"frame=120", 10, 0, false},
		{"out_time_us=abc", 10, 0, false},
		{"out_time_us=5000000", 0, 0, false},
	}

	for _, tc := range cases {
		got, ok := parseProgressLine(tc.line, tc.total)
		if ok != tc.ok || got != tc.want {
			t.Errorf("parseProgressLine(%q, %v) = (%v, %v), want (%v, %v)",
				tc.line, tc.total, got, ok, tc.want, tc.ok)
		}
	}
}
