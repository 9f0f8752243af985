package catalog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/inealey/cinema-transfer/output"
)

func TestRows_Count(t *testing.T) {
	tests := []struct {
		res  Resolution
		want int
	}{
		{Resolution{Timesteps: 2, Phi: 6, Theta: 6}, 72},
		{Resolution{Timesteps: 10, Phi: 6, Theta: 6}, 360},
		{Resolution{Timesteps: 1, Phi: 1, Theta: 1}, 1},
		{Resolution{Timesteps: 3, Phi: 4, Theta: 2}, 24},
	}
	for _, tt := range tests {
		if got := len(Rows(tt.res)); got != tt.want {
			t.Errorf("len(Rows(%+v)) = %d, want %d", tt.res, got, tt.want)
		}
	}
}

func TestRender(t *testing.T) {
	data, err := Render(Resolution{Timesteps: 2, Phi: 6, Theta: 6})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("manifest is not valid CSV: %v", err)
	}
	if len(records) != 73 {
		t.Fatalf("got %d records, want header + 72", len(records))
	}
	if got := records[0]; len(got) != 4 || got[0] != "time" || got[3] != "FILE" {
		t.Errorf("header = %v", got)
	}

	// Timestep 0, phi-index 1, theta-index 0 is row 6 (after six theta rows).
	row := records[1+6]
	want := []string{"0.0", "60.00", "0.00", "RenderView1_000000p=060.00t=000.00.png"}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("row[%d] = %q, want %q", i, row[i], want[i])
		}
	}

	last := records[len(records)-1]
	wantLast := []string{"1.0", "300.00", "300.00", "RenderView1_000001p=300.00t=300.00.png"}
	for i := range wantLast {
		if last[i] != wantLast[i] {
			t.Errorf("last[%d] = %q, want %q", i, last[i], wantLast[i])
		}
	}
}

func TestRender_FirstLines(t *testing.T) {
	data, err := Render(Resolution{Timesteps: 1, Phi: 4, Theta: 3})
	if err != nil {
		t.Fatal(err)
	}
	want := "time,phi,theta,FILE\n" +
		"0.0,0.00,0.00,RenderView1_000000p=000.00t=000.00.png\n" +
		"0.0,0.00,120.00,RenderView1_000000p=000.00t=120.00.png\n"
	if !bytes.HasPrefix(data, []byte(want)) {
		t.Errorf("manifest starts with %q, want %q", data[:len(want)], want)
	}
}

func TestRender_InvalidResolution(t *testing.T) {
	for _, res := range []Resolution{
		{Timesteps: 0, Phi: 6, Theta: 6},
		{Timesteps: 2, Phi: 0, Theta: 6},
		{Timesteps: 2, Phi: 6, Theta: -1},
	} {
		if _, err := Render(res); err == nil {
			t.Errorf("Render(%+v) expected error", res)
		}
	}
}

func TestEnsure_Idempotent(t *testing.T) {
	root := t.TempDir()
	dir, err := output.NewDir(root)
	if err != nil {
		t.Fatal(err)
	}

	created, err := Ensure(t.Context(), dir, Resolution{Timesteps: 2, Phi: 6, Theta: 6})
	if err != nil || !created {
		t.Fatalf("first Ensure = %v, %v", created, err)
	}
	first, err := os.ReadFile(filepath.Join(root, ManifestName))
	if err != nil {
		t.Fatal(err)
	}

	created, err = Ensure(t.Context(), dir, Resolution{Timesteps: 5, Phi: 3, Theta: 8})
	if err != nil {
		t.Fatalf("second Ensure returned error: %v", err)
	}
	if created {
		t.Error("second Ensure reported created")
	}
	second, err := os.ReadFile(filepath.Join(root, ManifestName))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("manifest changed on second Ensure")
	}
}

func TestWrite_ReportsExisting(t *testing.T) {
	stub := output.NewStubSink()
	res := Resolution{Timesteps: 1, Phi: 2, Theta: 2}
	if err := Write(t.Context(), stub, res); err != nil {
		t.Fatalf("first Write failed: %v", err)
	}
	if err := Write(t.Context(), stub, res); !errors.Is(err, ErrManifestExists) {
		t.Errorf("second Write error = %v, want ErrManifestExists", err)
	}
}

func TestEnsure_StubTarget(t *testing.T) {
	stub := output.NewStubSink()
	if _, err := Ensure(t.Context(), stub, Resolution{Timesteps: 1, Phi: 1, Theta: 1}); err != nil {
		t.Fatal(err)
	}
	if _, ok := stub.Objects[ManifestName]; !ok {
		t.Errorf("manifest not stored, objects = %v", stub.Objects)
	}
}
