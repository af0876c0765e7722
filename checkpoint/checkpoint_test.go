package checkpoint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dhcgn/dsar-redact/model"
)

func TestStore_LoadFresh(t *testing.T) {
	store, err := NewStore(t.TempDir(), true)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	cp, resumed, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if resumed {
		t.Error("fresh load reported as resumed")
	}
	if cp.RunID == "" {
		t.Error("fresh checkpoint has no run id")
	}
	if cp.ProcessedCount != 0 || len(cp.RedactedMessages) != 0 {
		t.Errorf("fresh checkpoint not empty: %+v", cp)
	}
}

func TestStore_SaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, true)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	cp, _, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cp.ProcessedCount = 2
	cp.RedactedMessages = []model.Message{{ID: "1"}, {ID: "2"}}
	cp.AuditEntries = []model.AuditEntry{{MessageID: "1"}}

	if err := store.Save(cp); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, resumed, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !resumed {
		t.Error("saved checkpoint not reported as resumed")
	}
	if reloaded.RunID != cp.RunID {
		t.Errorf("run id changed: %q != %q", reloaded.RunID, cp.RunID)
	}
	if reloaded.ProcessedCount != 2 || len(reloaded.RedactedMessages) != 2 || len(reloaded.AuditEntries) != 1 {
		t.Errorf("state lost: %+v", reloaded)
	}

	// The tmp file from the atomic write must not survive.
	if _, err := os.Stat(store.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestStore_CorruptFileBackedUp(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, true)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	if err := os.WriteFile(store.Path(), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	cp, resumed, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if resumed {
		t.Error("corrupt checkpoint reported as resumed")
	}
	if cp.ProcessedCount != 0 {
		t.Errorf("corrupt checkpoint not replaced: %+v", cp)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	backedUp := false
	for _, e := range entries {
		if strings.Contains(e.Name(), ".corrupt-") {
			backedUp = true
		}
	}
	if !backedUp {
		t.Error("corrupt file was not backed up")
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Error("corrupt file still at checkpoint path")
	}
}

func TestStore_Delete(t *testing.T) {
	store, err := NewStore(t.TempDir(), true)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	cp, _, _ := store.Load()
	if err := store.Save(cp); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Delete(); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Error("checkpoint not deleted")
	}

	// Deleting again is not an error.
	if err := store.Delete(); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestStore_PersistDisabled(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, false)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	cp, _, _ := store.Load()
	cp.ProcessedCount = 5
	if err := store.Save(cp); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Error("dry-run save wrote a file")
	}
}

func TestStore_BackfillsRunID(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "checkpoint.json"), []byte(`{"processedCount":1}`), 0o600); err != nil {
		t.Fatal(err)
	}

	store, err := NewStore(dir, true)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	cp, resumed, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !resumed {
		t.Error("expected resume")
	}
	if cp.RunID == "" {
		t.Error("missing run id not backfilled")
	}
}

func TestNewStore_EmptyDir(t *testing.T) {
	if _, err := NewStore("  ", true); err == nil {
		t.Error("expected error for empty state directory")
	}
}
