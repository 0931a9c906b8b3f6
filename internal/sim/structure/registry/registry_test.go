package registry

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"structcraft.ai/internal/sim/blocks"
	"structcraft.ai/internal/sim/model"
	"structcraft.ai/internal/sim/rotation"
	"structcraft.ai/internal/sim/structure"
)

func testLoader(t *testing.T) *Loader {
	t.Helper()
	reg, err := blocks.Load("../../../../configs")
	require.NoError(t, err)
	l, err := NewLoader(reg, "", nil)
	require.NoError(t, err)
	return l
}

func writeFile(t *testing.T, dir, rel, body string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
}

func TestLoadDir_Configs(t *testing.T) {
	l := testLoader(t)
	set, errs, err := l.LoadDir("../../../../configs/structures")
	require.NoError(t, err)
	require.Empty(t, errs)

	for _, id := range []string{"minecraft:beacon_base", "minecraft:well", "demo:furnace_hut", "demo:pillars/log_pillar"} {
		require.Contains(t, set, id)
		require.Equal(t, id, set[id].Template.ID())
		require.Len(t, set[id].Digest, 64)
	}

	hut := set["demo:furnace_hut"].Template
	require.Equal(t, model.Vec3i{X: 5, Y: 4, Z: 4}, hut.Size())
	require.Equal(t, model.Vec3i{X: 2, Y: 0, Z: 3}, hut.Anchor())

	pillar := set["demo:pillars/log_pillar"].Template
	require.Equal(t, model.Vec3i{X: 1, Y: 4, Z: 1}, pillar.Size())
	require.True(t, pillar.HasAnchorCell())
}

func TestLoadDir_BadFilesAreSkipped(t *testing.T) {
	l := testLoader(t)
	dir := t.TempDir()
	writeFile(t, dir, "ok.json", `{"keys":{"s":"stone"},"layers":[["s"]]}`)
	writeFile(t, dir, "test/reserved.json", `{"keys":{"_":"stone"},"layers":[["_"]]}`)
	writeFile(t, dir, "test/anchors.yaml", "keys:\n  anchor: stone\nlayers:\n  - [\"##\"]\n")
	writeFile(t, dir, "test/schema.json", `{"keys":{"s":7},"layers":[["s"]]}`)
	writeFile(t, dir, "test/broken.json", `{"keys":`)
	writeFile(t, dir, "test/notes.txt", "ignored")
	writeFile(t, dir, "test/dup.json", `{"layers":[["_"]]}`)
	writeFile(t, dir, "test/dup.yml", "layers: [[\"_\"]]\n")

	set, errs, err := l.LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, set, 2)
	require.Contains(t, set, "minecraft:ok")
	require.Contains(t, set, "test:dup")

	kinds := map[string]error{}
	for _, e := range errs {
		kinds[e.ID] = e.Err
	}
	require.Len(t, errs, 5)
	require.ErrorIs(t, kinds["test:reserved"], structure.ErrReservedKey)
	require.ErrorIs(t, kinds["test:anchors"], structure.ErrDuplicateAnchor)
	require.ErrorIs(t, kinds["test:schema"], structure.ErrBadDocument)
	require.ErrorIs(t, kinds["test:broken"], structure.ErrBadDocument)
	require.Error(t, kinds["test:dup"])

	var fe *structure.FormatError
	require.True(t, errors.As(kinds["test:reserved"], &fe))
	require.Equal(t, "test:reserved", fe.Structure)
}

func TestLoadDir_YAMLLegendKeys(t *testing.T) {
	l := testLoader(t)
	dir := t.TempDir()
	writeFile(t, dir, "test/digits.yaml", "keys:\n  1: stone\n  2: [andesite, granite]\nlayers:\n  - [\"12\"]\n  - [\"21\"]\n")
	writeFile(t, dir, "test/twice.yaml", "keys:\n  s: stone\n  s: dirt\nlayers:\n  - [s]\n")

	set, errs, err := l.LoadDir(dir)
	require.NoError(t, err)
	require.Contains(t, set, "test:digits")
	digits := set["test:digits"].Template
	require.Equal(t, model.Vec3i{X: 2, Y: 2, Z: 1}, digits.Size())
	require.Equal(t, 4, digits.Count(structure.CategoryNonNull))
	p, ok := digits.PredicateAt(model.Vec3i{X: 1})
	require.True(t, ok)
	require.Equal(t, structure.KindAlternation, p.Kind())

	require.Len(t, errs, 1)
	require.Equal(t, "test:twice", errs[0].ID)
	require.ErrorIs(t, errs[0].Err, structure.ErrDuplicateKey)
	require.NotErrorIs(t, errs[0].Err, structure.ErrBadDocument)
}

func TestLoadDir_MissingDir(t *testing.T) {
	l := testLoader(t)
	_, _, err := l.LoadDir(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestIDFor(t *testing.T) {
	l := &Loader{DefaultNamespace: "minecraft"}
	require.Equal(t, "minecraft:tower", l.IDFor("tower.json"))
	require.Equal(t, "demo:tower", l.IDFor("demo/tower.yaml"))
	require.Equal(t, "demo:a/b/c", l.IDFor(filepath.Join("demo", "a", "b", "c.yml")))
}

func TestRegistry_ReplaceAndReload(t *testing.T) {
	l := testLoader(t)
	r := New()
	require.Equal(t, 0, r.Len())
	empty := r.Digest()

	dir := t.TempDir()
	writeFile(t, dir, "demo/a.json", `{"keys":{"s":"stone"},"layers":[["s"]]}`)
	errs, err := r.Reload(l, dir)
	require.NoError(t, err)
	require.Empty(t, errs)
	require.Equal(t, []string{"demo:a"}, r.IDs())
	first := r.Digest()
	require.NotEqual(t, empty, first)

	tpl, ok := r.Get("demo:a")
	require.True(t, ok)
	require.True(t, tpl.Validate(structure.WorldFunc(func(model.Vec3i) blocks.State {
		return l.Blocks.MustState("stone", nil)
	}), model.Vec3i{}, rotation.None))

	writeFile(t, dir, "demo/a.json", `{"keys":{"s":"dirt"},"layers":[["s"]]}`)
	writeFile(t, dir, "demo/b.json", `{"keys":{"s":"dirt"},"layers":[["s", "s"]]}`)
	_, err = r.Reload(l, dir)
	require.NoError(t, err)
	require.Equal(t, []string{"demo:a", "demo:b"}, r.IDs())
	require.NotEqual(t, first, r.Digest())

	// The old template is untouched by the swap.
	require.True(t, tpl.Validate(structure.WorldFunc(func(model.Vec3i) blocks.State {
		return l.Blocks.MustState("stone", nil)
	}), model.Vec3i{}, rotation.None))

	_, err = r.Reload(l, filepath.Join(dir, "missing"))
	require.Error(t, err)
	require.Equal(t, 2, r.Len())
}

func TestRegistry_ConcurrentReaders(t *testing.T) {
	l := testLoader(t)
	set, _, err := l.LoadDir("../../../../configs/structures")
	require.NoError(t, err)
	r := New()
	r.Replace(set)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if i == 0 && j%20 == 0 {
					r.Replace(set)
				}
				for _, id := range r.IDs() {
					if _, ok := r.Get(id); !ok {
						t.Errorf("missing %s", id)
						return
					}
				}
			}
		}(i)
	}
	wg.Wait()
}
