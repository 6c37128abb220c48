package checkpoints

import (
	"path/filepath"
	"testing"

	"github.com/rainmetry/rainmetry/tensor"
	"github.com/rainmetry/rainmetry/training"
)

func testNetworks(t *testing.T) map[string]training.Module {
	t.Helper()
	gA, err := training.NewLinear(4, 4, true, tensor.CPU)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	gB, err := training.NewLinear(4, 4, true, tensor.CPU)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	return map[string]training.Module{"G_A": gA, "G_B": gB}
}

func TestCaptureApplyRoundtrip(t *testing.T) {
	nets := testNetworks(t)
	runID := NewRunID()

	ckpt, err := Capture(nets, runID, "unit", TrainingState{
		Epoch:        12,
		LearningRate: 0.0001,
		Losses:       map[string]float64{"G_A": 0.5},
	})
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if ckpt.Metadata.RunID != runID {
		t.Errorf("expected run id %s, got %s", runID, ckpt.Metadata.RunID)
	}
	if len(ckpt.Networks) != 2 {
		t.Fatalf("expected 2 networks, got %d", len(ckpt.Networks))
	}
	// Sorted name order keeps the document stable.
	if ckpt.Networks[0].Name != "G_A" || ckpt.Networks[1].Name != "G_B" {
		t.Errorf("unexpected network order: %s, %s", ckpt.Networks[0].Name, ckpt.Networks[1].Name)
	}

	path := filepath.Join(t.TempDir(), "ckpt", "epoch_0012.json")
	if err := ckpt.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Training.Epoch != 12 {
		t.Errorf("expected epoch 12, got %d", loaded.Training.Epoch)
	}

	// Restoring into freshly initialized networks must reproduce the
	// captured parameters exactly.
	fresh := testNetworks(t)
	if err := loaded.Apply(fresh); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	for name, net := range fresh {
		wantParams := nets[name].Parameters()
		for i, p := range net.Parameters() {
			got, _ := p.GetFloat32Data()
			want, _ := wantParams[i].GetFloat32Data()
			for j := range want {
				if got[j] != want[j] {
					t.Fatalf("network %s parameter %d element %d: expected %f, got %f",
						name, i, j, want[j], got[j])
				}
			}
		}
	}
}

func TestApplyRejectsMismatches(t *testing.T) {
	nets := testNetworks(t)
	ckpt, err := Capture(nets, NewRunID(), "unit", TrainingState{})
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	t.Run("MissingNetwork", func(t *testing.T) {
		partial := map[string]training.Module{"G_A": nets["G_A"]}
		if err := ckpt.Apply(partial); err == nil {
			t.Error("expected error for missing network")
		}
	})

	t.Run("ShapeMismatch", func(t *testing.T) {
		small, err := training.NewLinear(2, 2, true, tensor.CPU)
		if err != nil {
			t.Fatalf("NewLinear failed: %v", err)
		}
		bad := map[string]training.Module{"G_A": small, "G_B": nets["G_B"]}
		if err := ckpt.Apply(bad); err == nil {
			t.Error("expected error for mismatched shapes")
		}
	})
}

func TestNewRunIDIsUnique(t *testing.T) {
	if NewRunID() == NewRunID() {
		t.Error("expected distinct run ids")
	}
}
