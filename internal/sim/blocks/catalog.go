package blocks

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type BlockDef struct {
	ID         string              `json:"id"`
	Air        bool                `json:"air,omitempty"`
	Properties map[string][]string `json:"properties,omitempty"`
}

// Load reads blocks.json and tags.json from configDir.
func Load(configDir string) (*Registry, error) {
	r := NewRegistry()
	if err := loadBlocks(filepath.Join(configDir, "blocks.json"), r); err != nil {
		return nil, err
	}
	if err := loadTags(filepath.Join(configDir, "tags.json"), r); err != nil {
		return nil, err
	}
	return r, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadBlocks(path string, r *Registry) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	r.BlocksDigest = sha256Hex(raw)

	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("blocks.json: empty id")
		}
		if _, err := r.Register(d.ID, d.Air, d.Properties); err != nil {
			return fmt.Errorf("blocks.json: %w", err)
		}
	}
	return nil
}

func loadTags(path string, r *Registry) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		// Tags are optional.
		if os.IsNotExist(err) {
			r.TagsDigest = sha256Hex(nil)
			return nil
		}
		return err
	}
	r.TagsDigest = sha256Hex(raw)

	var defs map[string][]string
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("tags.json: %w", err)
	}
	if err := r.DefineTags(defs); err != nil {
		return fmt.Errorf("tags.json: %w", err)
	}
	return nil
}
