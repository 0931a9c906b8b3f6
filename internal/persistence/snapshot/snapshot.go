// Package snapshot persists a block world as zstd-compressed gob with a
// JSON header line in front, so the header can be read without decoding
// the body.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"structcraft.ai/internal/sim/blocks"
	"structcraft.ai/internal/sim/blocks/blockarg"
	"structcraft.ai/internal/sim/model"
	"structcraft.ai/internal/sim/voxel"
)

const Version = 1

type Header struct {
	Version      int    `json:"version"`
	WorldID      string `json:"world_id"`
	Blocks       int    `json:"blocks"`
	BlocksDigest string `json:"blocks_digest,omitempty"`
	SavedAtMs    int64  `json:"saved_at_ms"`
}

// BlockV1 references the palette by index.
type BlockV1 struct {
	X, Y, Z int32
	State   uint32
}

type WorldV1 struct {
	Header Header

	// Canonical state strings, e.g. "minecraft:oak_log[axis=x]".
	Palette []string
	Blocks  []BlockV1
}

// FromWorld captures the non-air content of w.
func FromWorld(worldID string, w *voxel.Sparse, blocksDigest string) WorldV1 {
	entries := w.Entries()
	snap := WorldV1{
		Header: Header{
			Version:      Version,
			WorldID:      worldID,
			Blocks:       len(entries),
			BlocksDigest: blocksDigest,
			SavedAtMs:    time.Now().UnixMilli(),
		},
		Blocks: make([]BlockV1, 0, len(entries)),
	}
	index := map[blocks.State]uint32{}
	for _, e := range entries {
		i, ok := index[e.State]
		if !ok {
			i = uint32(len(snap.Palette))
			index[e.State] = i
			snap.Palette = append(snap.Palette, e.State.String())
		}
		snap.Blocks = append(snap.Blocks, BlockV1{X: int32(e.Pos.X), Y: int32(e.Pos.Y), Z: int32(e.Pos.Z), State: i})
	}
	return snap
}

// Entries resolves the palette against reg.
func (s WorldV1) Entries(reg *blocks.Registry) ([]voxel.Entry, error) {
	states := make([]blocks.State, len(s.Palette))
	for i, p := range s.Palette {
		st, err := blockarg.ParseState(reg, p)
		if err != nil {
			return nil, fmt.Errorf("palette %d: %w", i, err)
		}
		states[i] = st
	}
	out := make([]voxel.Entry, 0, len(s.Blocks))
	for _, b := range s.Blocks {
		if int(b.State) >= len(states) {
			return nil, fmt.Errorf("block %d,%d,%d: palette index %d out of range", b.X, b.Y, b.Z, b.State)
		}
		out = append(out, voxel.Entry{
			Pos:   model.Vec3i{X: int(b.X), Y: int(b.Y), Z: int(b.Z)},
			State: states[b.State],
		})
	}
	return out, nil
}

// WriteSnapshot writes to a temp file next to path and renames it into
// place.
func WriteSnapshot(path string, snap WorldV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap WorldV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(snap.Header)
	if err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func open(path string) (*os.File, *zstd.Decoder, *bufio.Reader, Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, h, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, nil, h, err
	}
	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err == nil {
		err = json.Unmarshal(line, &h)
	}
	if err != nil {
		dec.Close()
		_ = f.Close()
		return nil, nil, nil, h, fmt.Errorf("%s: header: %w", path, err)
	}
	if h.Version != Version {
		dec.Close()
		_ = f.Close()
		return nil, nil, nil, h, fmt.Errorf("%s: unsupported snapshot version %d", path, h.Version)
	}
	return f, dec, br, h, nil
}

// ReadHeader decodes only the header line.
func ReadHeader(path string) (Header, error) {
	f, dec, _, h, err := open(path)
	if err != nil {
		return h, err
	}
	dec.Close()
	_ = f.Close()
	return h, nil
}

func ReadSnapshot(path string) (WorldV1, error) {
	var snap WorldV1
	f, dec, br, _, err := open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()
	defer dec.Close()
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// Save writes w to path.
func Save(path, worldID string, w *voxel.Sparse, reg *blocks.Registry) error {
	return WriteSnapshot(path, FromWorld(worldID, w, reg.BlocksDigest))
}

// Load replaces the content of w with the snapshot at path.
func Load(path string, w *voxel.Sparse, reg *blocks.Registry) (Header, error) {
	snap, err := ReadSnapshot(path)
	if err != nil {
		return Header{}, err
	}
	entries, err := snap.Entries(reg)
	if err != nil {
		return snap.Header, fmt.Errorf("%s: %w", path, err)
	}
	w.Reset(entries)
	return snap.Header, nil
}
