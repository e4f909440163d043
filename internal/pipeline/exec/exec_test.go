// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package exec

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/ManuGH/recingest/internal/pipeline/model"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand(t *testing.T) {
	argv := []string{"ffmpeg", "-i", "{input}", "-crf", "{crf}", "-progress", "{progress}", "{output}"}
	got, err := Expand(argv,
		map[string]string{VarInput: "/rec/a.ts", VarOutput: "/out/a.mp4", VarProgress: "/out/.a.progress"},
		map[string]string{"crf": "23", VarInput: "ignored"})
	require.NoError(t, err)

	want := []string{"ffmpeg", "-i", "/rec/a.ts", "-crf", "23", "-progress", "/out/.a.progress", "/out/a.mp4"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("expand mismatch (-want +got):\n%s", diff)
	}
}

func TestExpand_UnknownPlaceholder(t *testing.T) {
	_, err := Expand([]string{"tool", "{preset}"}, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownPlaceholder)
}

func TestJobPaths(t *testing.T) {
	p := JobPaths("/out", ".mp4", "/rec/2025-03-01 News.ts")
	assert.Equal(t, "2025-03-01 News", p.Basename)
	assert.Regexp(t, `^2025-03-01 News-[0-9a-f]{8}$`, p.Name)
	assert.Equal(t, "/out/"+p.Name+".mp4", p.Output)
	assert.Equal(t, "/out/."+p.Name+".progress", p.Progress)
	assert.Equal(t, "/out/"+p.Name+".bin", p.Caption)
	assert.Equal(t, "/out/."+p.Name+".caption.progress", p.CaptionProgress)

	assert.Equal(t, p, JobPaths("/out", ".mp4", "/rec/./2025-03-01 News.ts"), "names are stable for the same source")
}

func TestJobPaths_SameFileNameDoesNotCollide(t *testing.T) {
	sources := []string{"/rec/a/show.ts", "/rec/b/show.ts", "/rec/a/show.mkv"}
	outputs := map[string]string{}
	for _, src := range sources {
		p := JobPaths("/out", ".mp4", src)
		assert.Equal(t, "show", p.Basename)
		if prev, dup := outputs[p.Output]; dup {
			t.Fatalf("%s and %s share output %s", prev, src, p.Output)
		}
		outputs[p.Output] = src
	}
}

func TestClassifier(t *testing.T) {
	c := NewClassifier([]int{69})
	tests := []struct {
		name string
		st   model.ExitStatus
		want model.FailureClass
	}{
		{"clean", model.ExitStatus{}, model.FailureNone},
		{"generic", model.ExitStatus{Code: 1}, model.FailureTransient},
		{"permanent", model.ExitStatus{Code: 69}, model.FailurePermanent},
		{"killed", model.ExitStatus{Code: -1, Signal: "killed"}, model.FailureTransient},
		{"stalled", model.ExitStatus{Stalled: true, Signal: "terminated"}, model.FailureTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.st))
		})
	}
}

func TestClassifySpawn(t *testing.T) {
	assert.Equal(t, model.FailureResource, ClassifySpawn(&SpawnError{Err: syscall.EAGAIN}))
	assert.Equal(t, model.FailureResource, ClassifySpawn(fmt.Errorf("wrap: %w", syscall.EMFILE)))
	assert.Equal(t, model.FailurePermanent, ClassifySpawn(&SpawnError{Err: syscall.ENOENT}))
	assert.Equal(t, model.FailureTransient, ClassifySpawn(errors.New("boom")))
}

func TestLineRing(t *testing.T) {
	r := NewLineRing(3)
	_, _ = r.Write([]byte("one\ntw"))
	_, _ = r.Write([]byte("o\n\nthree\nfour\n"))
	assert.Equal(t, []string{"two", "three", "four"}, r.LastN(10))
	assert.Equal(t, []string{"four"}, r.LastN(1))
}

func TestParseSeconds(t *testing.T) {
	d, err := parseSeconds([]byte("\n3600.500000\n"))
	require.NoError(t, err)
	assert.Equal(t, 3600*time.Second+500*time.Millisecond, d)

	_, err = parseSeconds([]byte("N/A\n"))
	assert.Error(t, err)

	_, err = parseSeconds(nil)
	assert.ErrorIs(t, err, ErrNoDuration)

	for _, bad := range []string{"NaN", "Inf", "-Inf", "-1", "1e300"} {
		_, err = parseSeconds([]byte(bad + "\n"))
		assert.Error(t, err, bad)
	}
}
