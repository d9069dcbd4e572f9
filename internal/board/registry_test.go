package board

import (
	"os"
	"path/filepath"
	"testing"

	ferrors "git.home.luguber.info/inful/fwbuilder/internal/errors"
)

func TestDefaultRegistryResolvesUno(t *testing.T) {
	reg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	p, err := reg.Resolve("arduino:avr:uno")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if p.Platform != "atmelavr" || p.Board != "uno" {
		t.Errorf("unexpected profile: %+v", p)
	}
}

func TestResolveUnknownBoard(t *testing.T) {
	reg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	_, err = reg.Resolve("vendor:family:imaginary")
	if err == nil {
		t.Fatal("expected error for unknown board")
	}
	if !ferrors.IsCategory(err, ferrors.CategoryBoard) {
		t.Errorf("expected board category, got %v", ferrors.GetCategory(err))
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boards.yaml")
	content := `boards:
  - fqbn: arduino:avr:uno
    platform: atmelavr
    board: uno
    extra_flags: ["-DCUSTOM=1"]
  - fqbn: esp32:esp32:esp32
    platform: espressif32
    board: esp32dev
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Override took effect
	uno, err := reg.Resolve("arduino:avr:uno")
	if err != nil {
		t.Fatalf("Resolve uno: %v", err)
	}
	if len(uno.ExtraFlags) != 1 || uno.ExtraFlags[0] != "-DCUSTOM=1" {
		t.Errorf("file override not applied: %+v", uno)
	}

	// New board added
	if _, err := reg.Resolve("esp32:esp32:esp32"); err != nil {
		t.Errorf("new board not added: %v", err)
	}

	// Defaults not mentioned are kept
	if _, err := reg.Resolve("arduino:avr:mega"); err != nil {
		t.Errorf("default board lost: %v", err)
	}
}

func TestNewRegistryRejectsInvalid(t *testing.T) {
	if _, err := NewRegistry([]Profile{{FQBN: ""}}); err == nil {
		t.Error("expected error for empty fqbn")
	}
	if _, err := NewRegistry([]Profile{{FQBN: "a:b:c"}}); err == nil {
		t.Error("expected error for missing platform/board")
	}
	dup := Profile{FQBN: "a:b:c", Platform: "p", Board: "b"}
	if _, err := NewRegistry([]Profile{dup, dup}); err == nil {
		t.Error("expected error for duplicate fqbn")
	}
}

func TestListSorted(t *testing.T) {
	reg, _ := Load("")
	list := reg.List()
	if len(list) != reg.Len() {
		t.Fatalf("List length %d != Len %d", len(list), reg.Len())
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].FQBN >= list[i].FQBN {
			t.Errorf("List not sorted at %d: %s >= %s", i, list[i-1].FQBN, list[i].FQBN)
		}
	}
}
