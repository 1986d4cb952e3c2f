package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"pisa/pkg/binning"
	"pisa/pkg/fingerprint"
	"pisa/pkg/stageapi"
)

func testBinning(t *testing.T) binning.Binning {
	t.Helper()
	b, err := binning.New(binning.Dimension{Name: "energy", Edges: []float64{0, 1, 2, 3}})
	if err != nil {
		t.Fatalf("binning: %v", err)
	}
	return b
}

func testTransform(t *testing.T, seed string) *stageapi.BinnedTransform {
	t.Helper()
	fp := fingerprint.New("test.source").String(seed).Sum()
	tr, err := stageapi.NewSource(fp, testBinning(t), []stageapi.SourceMap{
		{Name: "nue", Values: []float64{1, 2, 3}},
	})
	if err != nil {
		t.Fatalf("source transform: %v", err)
	}
	return tr
}

func testRecord(t *testing.T, stage, service, seed string) Record {
	t.Helper()
	rec, err := Encode(stage, service, testTransform(t, seed))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return rec
}

func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := store.Load(ctx, "flux", "histogram"); err != nil || ok {
		t.Fatalf("empty store load: ok=%v err=%v", ok, err)
	}

	rec := testRecord(t, "flux", "histogram", "v1")
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := store.Load(ctx, "flux", "histogram")
	if err != nil || !ok {
		t.Fatalf("load after save: ok=%v err=%v", ok, err)
	}
	if got.Fingerprint != rec.Fingerprint || got.Stage != "flux" || got.Service != "histogram" {
		t.Fatalf("loaded record mismatch: %+v", got)
	}

	// Saving again for the same key replaces the entry.
	rec2 := testRecord(t, "flux", "histogram", "v2")
	if err := store.Save(ctx, rec2); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, ok, err = store.Load(ctx, "flux", "histogram")
	if err != nil || !ok {
		t.Fatalf("load after overwrite: ok=%v err=%v", ok, err)
	}
	if got.Fingerprint != rec2.Fingerprint {
		t.Fatalf("overwrite kept stale fingerprint %s", got.Fingerprint)
	}

	deleted, err := store.Delete(ctx, "flux", "histogram")
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	if _, ok, err := store.Load(ctx, "flux", "histogram"); err != nil || ok {
		t.Fatalf("load after delete: ok=%v err=%v", ok, err)
	}

	if err := store.Save(ctx, Record{Stage: "flux"}); err == nil {
		t.Fatal("expected validation error for incomplete record")
	}
	if _, _, err := store.Load(ctx, "", "histogram"); err == nil {
		t.Fatal("expected validation error for empty stage")
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemory()
	if store.Driver() != DriverMemory {
		t.Fatalf("driver = %q", store.Driver())
	}
	runStoreContract(t, store)
}

func TestFilesystemStore(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new filesystem store: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("driver = %q", store.Driver())
	}
	runStoreContract(t, store)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLite(filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	defer func() { _ = store.Close() }()
	if store.Driver() != DriverSQLite {
		t.Fatalf("driver = %q", store.Driver())
	}
	runStoreContract(t, store)
}

func TestFilesystemRejectsTraversalKeys(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new filesystem store: %v", err)
	}
	ctx := context.Background()
	for _, key := range [][2]string{
		{"../flux", "histogram"},
		{"flux", "a/b"},
		{"flux", `a\b`},
	} {
		if _, _, err := store.Load(ctx, key[0], key[1]); err == nil {
			t.Fatalf("expected rejection of key %q/%q", key[0], key[1])
		}
	}
}

func TestFilesystemCorruptFileIsMiss(t *testing.T) {
	root := t.TempDir()
	store, err := NewFilesystem(root)
	if err != nil {
		t.Fatalf("new filesystem store: %v", err)
	}
	dir := filepath.Join(root, "flux")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "histogram.json"), []byte("not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, ok, err := store.Load(context.Background(), "flux", "histogram")
	if err != nil {
		t.Fatalf("corrupt file should be a miss, got error %v", err)
	}
	if ok {
		t.Fatal("corrupt file should not load")
	}
}

func TestLoadTransform(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	tr := testTransform(t, "nominal")
	want := tr.Fingerprint()

	// Absent entry is a miss.
	if _, ok, err := LoadTransform(ctx, store, "reco", "smear", want); err != nil || ok {
		t.Fatalf("absent: ok=%v err=%v", ok, err)
	}

	rec, err := Encode("reco", "smear", tr)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := LoadTransform(ctx, store, "reco", "smear", want)
	if err != nil || !ok {
		t.Fatalf("hit: ok=%v err=%v", ok, err)
	}
	if got.Fingerprint() != want {
		t.Fatalf("restored fingerprint %s, want %s", got.Fingerprint().Short(), want.Short())
	}
	out, err := got.Apply(nil)
	if err != nil {
		t.Fatalf("apply restored transform: %v", err)
	}
	if len(out) != 1 || out[0].Value(2) != 3 {
		t.Fatalf("restored transform output mismatch: %+v", out)
	}

	// A different expected fingerprint makes the stored entry stale.
	other := fingerprint.New("test.source").String("other").Sum()
	if _, ok, err := LoadTransform(ctx, store, "reco", "smear", other); err != nil || ok {
		t.Fatalf("stale fingerprint: ok=%v err=%v", ok, err)
	}

	// Undecodable payload is a miss, not an error.
	bad := rec
	bad.Transform = []byte(`{"kind":"nope"}`)
	if err := store.Save(ctx, bad); err != nil {
		t.Fatalf("save corrupt: %v", err)
	}
	if _, ok, err := LoadTransform(ctx, store, "reco", "smear", want); err != nil || ok {
		t.Fatalf("corrupt payload: ok=%v err=%v", ok, err)
	}
}

func TestOpenSelectsDriverFromEnv(t *testing.T) {
	ctx := context.Background()

	t.Setenv("PISA_SNAPSHOT_DRIVER", string(DriverMemory))
	store, err := Open(ctx)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("driver = %q", store.Driver())
	}

	root := t.TempDir()
	t.Setenv("PISA_SNAPSHOT_DRIVER", string(DriverFilesystem))
	t.Setenv("PISA_SNAPSHOT_FS_ROOT", root)
	store, err = Open(ctx)
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("driver = %q", store.Driver())
	}

	t.Setenv("PISA_SNAPSHOT_DRIVER", string(DriverSQLite))
	t.Setenv("PISA_SNAPSHOT_SQLITE_PATH", filepath.Join(root, "snap.db"))
	store, err = Open(ctx)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if store.Driver() != DriverSQLite {
		t.Fatalf("driver = %q", store.Driver())
	}
	if s, ok := store.(*SQLite); ok {
		_ = s.Close()
	}

	t.Setenv("PISA_SNAPSHOT_DRIVER", "bogus")
	if _, err := Open(ctx); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpenDefaultsToFilesystem(t *testing.T) {
	t.Setenv("PISA_SNAPSHOT_DRIVER", "")
	t.Setenv("PISA_SNAPSHOT_FS_ROOT", t.TempDir())
	store, err := Open(context.Background())
	if err != nil {
		t.Fatalf("open default: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("default driver = %q", store.Driver())
	}
}
