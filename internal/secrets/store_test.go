package secrets

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestStore_SetGet(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "secrets.json"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	if got := store.Get("MISSING"); got != "" {
		t.Errorf("Get(missing) = %q, want empty", got)
	}
	if store.Has("MISSING") {
		t.Error("Has(missing) = true")
	}

	if err := store.Set("BRAVE_API_KEY", "abc123"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := store.Get("BRAVE_API_KEY"); got != "abc123" {
		t.Errorf("Get() = %q", got)
	}
	if !store.Has("BRAVE_API_KEY") {
		t.Error("Has() = false after Set")
	}
}

func TestStore_Delete(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "secrets.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Set("K", "v"); err != nil {
		t.Fatal(err)
	}

	existed, err := store.Delete("K")
	if err != nil || !existed {
		t.Fatalf("Delete() = %v, %v", existed, err)
	}
	existed, err = store.Delete("K")
	if err != nil {
		t.Fatal(err)
	}
	if existed {
		t.Error("second Delete() reported existed")
	}
}

func TestStore_Keys(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "secrets.json"))
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"ZEBRA", "ALPHA", "MIDDLE"} {
		if err := store.Set(k, "v"); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"ALPHA", "MIDDLE", "ZEBRA"}
	if got := store.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Set("GOTIFY_TOKEN", "tok"); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := reopened.Get("GOTIFY_TOKEN"); got != "tok" {
		t.Errorf("Get() after reopen = %q", got)
	}
}

func TestStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(path); err == nil {
		t.Error("NewStore() on corrupt file should fail")
	}
}
