package model

import (
	"context"
	"errors"
	"testing"
)

type fakeRunner struct {
	out   string
	err   error
	calls int
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls++
	return []byte(f.out), nil, f.err
}

func TestParseNvidiaSMI(t *testing.T) {
	info, ok := parseNvidiaSMI("NVIDIA A10, 1024, 24576\nNVIDIA A10, 512, 24576\n")
	if !ok || info.Count != 2 || info.Name != "NVIDIA A10" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if *info.MemoryUsedMB != 1536 || *info.MemoryTotalMB != 49152 {
		t.Fatalf("unexpected memory: %v/%v", *info.MemoryUsedMB, *info.MemoryTotalMB)
	}
	if _, ok := parseNvidiaSMI(""); ok {
		t.Fatalf("empty output must not report a device")
	}
	info, ok = parseNvidiaSMI("Some GPU, [N/A], [N/A]")
	if !ok || info.MemoryUsedMB != nil {
		t.Fatalf("expected device without memory, got %+v", info)
	}
}

func TestNvidiaSMIProbe_CachesAndFails(t *testing.T) {
	fr := &fakeRunner{out: "GPU, 1, 2"}
	p := &NvidiaSMIProbe{Runner: fr}
	for i := 0; i < 3; i++ {
		if _, ok := p.Probe(context.Background()); !ok {
			t.Fatalf("expected probe ok")
		}
	}
	if fr.calls != 1 {
		t.Fatalf("expected cached probe, got %d calls", fr.calls)
	}
	p2 := &NvidiaSMIProbe{Runner: &fakeRunner{err: errors.New("not found")}}
	if _, ok := p2.Probe(context.Background()); ok {
		t.Fatalf("expected probe failure")
	}
}
