package lib

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/TecharoHQ/tracecaptcha/lib/policy/config"
	"github.com/TecharoHQ/tracecaptcha/lib/shape"
	"github.com/TecharoHQ/tracecaptcha/lib/store/bbolt"
)

func TestLoadPoliciesOrDefault(t *testing.T) {
	pc, err := LoadPoliciesOrDefault(t.Context(), "")
	if err != nil {
		t.Fatal(err)
	}

	if pc.ResamplePoints != 64 || pc.MinPoints != 12 {
		t.Errorf("builtin policy has unexpected sizes: %d %d", pc.ResamplePoints, pc.MinPoints)
	}

	if _, err := LoadPoliciesOrDefault(t.Context(), filepath.Join("testdata", "does-not-exist.yaml")); err == nil {
		t.Error("missing policy file did not fail")
	}
}

func TestBadConfigs(t *testing.T) {
	finfos, err := os.ReadDir("policy/config/testdata/bad")
	if err != nil {
		t.Fatal(err)
	}

	for _, st := range finfos {
		t.Run(st.Name(), func(t *testing.T) {
			if _, err := LoadPoliciesOrDefault(t.Context(), filepath.Join("policy", "config", "testdata", "bad", st.Name())); err == nil {
				t.Fatal("bad config loaded")
			} else {
				t.Log(err)
			}
		})
	}
}

func TestGoodConfigs(t *testing.T) {
	finfos, err := os.ReadDir("policy/config/testdata/good")
	if err != nil {
		t.Fatal(err)
	}

	for _, st := range finfos {
		t.Run(st.Name(), func(t *testing.T) {
			if _, err := LoadPoliciesOrDefault(t.Context(), filepath.Join("policy", "config", "testdata", "good", st.Name())); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestLoadShapes(t *testing.T) {
	t.Run("builtin", func(t *testing.T) {
		cat, err := LoadShapes("", loadPolicies(t, ""))
		if err != nil {
			t.Fatal(err)
		}

		if cat.Len() != 6 {
			t.Errorf("wanted 6 builtin shapes, got %d", cat.Len())
		}
	})

	t.Run("restricted by policy", func(t *testing.T) {
		cat, err := LoadShapes("", loadPolicies(t, "testdata/heart-only.yaml"))
		if err != nil {
			t.Fatal(err)
		}

		if names := cat.Names(); len(names) != 1 || names[0] != "heart" {
			t.Errorf("wanted only the heart, got %v", names)
		}
	})

	t.Run("policy names an unknown shape", func(t *testing.T) {
		if _, err := LoadShapes("", loadPolicies(t, "testdata/unknown-shape.yaml")); !errors.Is(err, shape.ErrUnknownShape) {
			t.Errorf("wanted ErrUnknownShape, got %v", err)
		}
	})

	t.Run("directory", func(t *testing.T) {
		dir := t.TempDir()
		doc := `{"name":"square","title":"Square","points":[{"x":0,"y":0},{"x":1,"y":0},{"x":1,"y":1},{"x":0,"y":1},{"x":0,"y":0}]}`
		if err := os.WriteFile(filepath.Join(dir, "square.json"), []byte(doc), 0o600); err != nil {
			t.Fatal(err)
		}

		cat, err := LoadShapes(dir, loadPolicies(t, ""))
		if err != nil {
			t.Fatal(err)
		}

		if _, ok := cat.Get("square"); !ok {
			t.Error("square was not loaded")
		}
	})
}

func TestBuildStore(t *testing.T) {
	pc := loadPolicies(t, "")

	st, err := BuildStore(t.Context(), pc)
	if err != nil {
		t.Fatal(err)
	}

	if err := st.Set(t.Context(), "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}

	params, err := json.Marshal(bbolt.Config{Path: filepath.Join(t.TempDir(), "challenges.db")})
	if err != nil {
		t.Fatal(err)
	}

	pc.Store = &config.Store{Backend: "bbolt", Parameters: params}
	st, err = BuildStore(t.Context(), pc)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := st.(*bbolt.Store); !ok {
		t.Errorf("wanted a bbolt store, got %T", st)
	}

	pc.Store = &config.Store{Backend: "carrier-pigeon"}
	if _, err := BuildStore(t.Context(), pc); !errors.Is(err, ErrUnknownStore) {
		t.Errorf("wanted ErrUnknownStore, got %v", err)
	}
}
