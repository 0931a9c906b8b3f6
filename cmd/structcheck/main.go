// Command structcheck lints, inspects and checks structure templates
// offline, without a running server.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"structcraft.ai/internal/persistence/snapshot"
	"structcraft.ai/internal/sim/blocks"
	"structcraft.ai/internal/sim/model"
	"structcraft.ai/internal/sim/rotation"
	"structcraft.ai/internal/sim/structure"
	"structcraft.ai/internal/sim/structure/registry"
	"structcraft.ai/internal/sim/voxel"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

const usage = "usage: structcheck lint|list|show|validate|place [flags]"

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	var err error
	switch args[0] {
	case "lint":
		err = lintCmd(args[1:], stdout)
	case "list":
		err = listCmd(args[1:], stdout)
	case "show":
		err = showCmd(args[1:], stdout)
	case "validate":
		err = validateCmd(args[1:], stdout)
	case "place":
		err = placeCmd(args[1:], stdout)
	default:
		fmt.Fprintln(stderr, usage)
		return 2
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		if _, ok := err.(usageError); ok {
			return 2
		}
		return 1
	}
	return 0
}

type usageError string

func (e usageError) Error() string { return string(e) }

type common struct {
	configs    *string
	structures *string
	namespace  *string
}

func commonFlags(fs *flag.FlagSet) common {
	return common{
		configs:    fs.String("configs", "./configs", "config directory (blocks.json, tags.json)"),
		structures: fs.String("structures", "", "structures directory (default: <configs>/structures)"),
		namespace:  fs.String("ns", "minecraft", "namespace for files at the structures root"),
	}
}

func (c common) load() (*blocks.Registry, registry.Set, []registry.LoadError, error) {
	reg, err := blocks.Load(*c.configs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load blocks: %w", err)
	}
	l, err := registry.NewLoader(reg, *c.namespace, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	dir := strings.TrimSpace(*c.structures)
	if dir == "" {
		dir = filepath.Join(*c.configs, "structures")
	}
	set, errs, err := l.LoadDir(dir)
	if err != nil {
		return nil, nil, nil, err
	}
	return reg, set, errs, nil
}

func (c common) template(id string) (*blocks.Registry, *structure.Template, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil, usageError("missing -id")
	}
	reg, set, _, err := c.load()
	if err != nil {
		return nil, nil, err
	}
	e, ok := set[id]
	if !ok {
		return nil, nil, fmt.Errorf("unknown structure %s", id)
	}
	return reg, e.Template, nil
}

func lintCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("lint", flag.ContinueOnError)
	c := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	_, set, errs, err := c.load()
	if err != nil {
		return err
	}
	for _, e := range errs {
		fmt.Fprintf(out, "FAIL %s: %v\n", e.Path, e.Err)
	}
	fmt.Fprintf(out, "%d ok, %d failed\n", len(set), len(errs))
	if len(errs) > 0 {
		return fmt.Errorf("%d structure file(s) failed", len(errs))
	}
	return nil
}

func listCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	c := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	_, set, _, err := c.load()
	if err != nil {
		return err
	}
	r := registry.New()
	r.Replace(set)
	for _, id := range r.IDs() {
		t, _ := r.Get(id)
		s := t.Size()
		fmt.Fprintf(out, "%s\t%dx%dx%d\tanchor=%s\tnon_air=%d\tnon_null=%d\n",
			id, s.X, s.Y, s.Z, t.Anchor(), t.Count(structure.CategoryNonAir), t.Count(structure.CategoryNonNull))
	}
	return nil
}

// showCmd prints the legend characters layer by layer, bottom first, as
// seen after rotation.
func showCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	c := commonFlags(fs)
	id := fs.String("id", "", "structure id")
	rot := fs.String("rotation", "NONE", "rotation (NONE, CLOCKWISE_90, CLOCKWISE_180, COUNTERCLOCKWISE_90, or degrees)")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	r, err := rotation.Parse(*rot)
	if err != nil {
		return usageError(err.Error())
	}
	_, t, err := c.template(*id)
	if err != nil {
		return err
	}
	s := rotation.RotatedSize(t.Size(), r)
	fmt.Fprintf(out, "%s %s %dx%dx%d\n", t.ID(), r, s.X, s.Y, s.Z)
	for y, layer := range t.Layers(r) {
		fmt.Fprintf(out, "y=%d\n", y)
		for _, row := range layer {
			fmt.Fprintf(out, "  |%s|\n", row)
		}
	}
	return nil
}

func validateCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	c := commonFlags(fs)
	id := fs.String("id", "", "structure id")
	worldPath := fs.String("world", "", "world snapshot path")
	originStr := fs.String("origin", "", "origin x,y,z")
	rot := fs.String("rotation", "NONE", "rotation")
	tryAll := fs.Bool("any", false, "try all four rotations")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if strings.TrimSpace(*worldPath) == "" {
		return usageError("missing -world")
	}
	origin, err := model.ParseVec3i(*originStr)
	if err != nil {
		return usageError("bad -origin: " + err.Error())
	}
	var rots []rotation.Rotation
	if *tryAll {
		rots = rotation.All[:]
	} else {
		r, err := rotation.Parse(*rot)
		if err != nil {
			return usageError(err.Error())
		}
		rots = append(rots, r)
	}

	reg, t, err := c.template(*id)
	if err != nil {
		return err
	}
	w := voxel.NewSparse()
	if _, err := snapshot.Load(*worldPath, w, reg); err != nil {
		return err
	}

	found := false
	for _, r := range rots {
		valid, ok := t.Score(w, origin, r, structure.CategoryNonNull)
		total := t.Count(structure.CategoryNonNull)
		fmt.Fprintf(out, "%s\tvalid=%d/%d\tcomplete=%t\n", r, valid, total, ok)
		found = found || ok
	}
	if !found {
		return fmt.Errorf("%s is not complete at %s", t.ID(), origin)
	}
	return nil
}

func placeCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("place", flag.ContinueOnError)
	c := commonFlags(fs)
	id := fs.String("id", "", "structure id")
	targetStr := fs.String("target", "", "world position of the anchor x,y,z")
	rot := fs.String("rotation", "NONE", "rotation")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	target, err := model.ParseVec3i(*targetStr)
	if err != nil {
		return usageError("bad -target: " + err.Error())
	}
	r, err := rotation.Parse(*rot)
	if err != nil {
		return usageError(err.Error())
	}
	_, t, err := c.template(*id)
	if err != nil {
		return err
	}
	origin := t.Origin(target, r)
	s := rotation.RotatedSize(t.Size(), r)
	end := origin.Add(model.Vec3i{X: s.X - 1, Y: s.Y - 1, Z: s.Z - 1})
	fmt.Fprintf(out, "origin=%s\tbounds=%s..%s\n", origin, origin, end)
	return nil
}
