package driver

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"paccer/internal/catalog"
	"paccer/internal/rewrite"
)

// cacheSchemaVersion changes whenever CachePayload or the codec output
// changes.
const cacheSchemaVersion uint16 = 1

// DiskCache remembers the outcome of patching a given input with a given
// spec and API level, so repeated runs skip parse, rewrite and serialize.
// Safe for concurrent use.
type DiskCache struct {
	mu  sync.RWMutex
	dir string
}

// CachePayload is the stored metadata of one run. The patched image, if
// any, sits next to it.
type CachePayload struct {
	Schema    uint16          `msgpack:"schema"`
	Archive   string          `msgpack:"archive"`
	API       int             `msgpack:"api"`
	Applied   []string        `msgpack:"applied"`
	Methods   []MethodSummary `msgpack:"methods"`
	Visited   int             `msgpack:"visited"`
	Replaced  int             `msgpack:"replaced"`
	OutputSum string          `msgpack:"output_sum,omitempty"`
}

// OpenDiskCache opens the cache under $XDG_CACHE_HOME/app, falling back to
// ~/.cache/app.
func OpenDiskCache(app string) (*DiskCache, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		base = filepath.Join(home, ".cache")
	}
	return NewDiskCache(filepath.Join(base, app))
}

// NewDiskCache opens a cache rooted at dir, creating it if needed.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(filepath.Join(dir, "runs"), 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{dir: dir}, nil
}

// Dir is the cache root.
func (c *DiskCache) Dir() string { return c.dir }

func cacheKey(input []byte, spec catalog.Spec, api int) string {
	h := sha256.New()
	h.Write(input)
	io.WriteString(h, "\x00"+spec.Fingerprint()+"\x00"+strconv.Itoa(api)+"\x00"+strconv.Itoa(int(cacheSchemaVersion)))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *DiskCache) paths(key string) (meta, image string) {
	base := filepath.Join(c.dir, "runs", key)
	return base + ".mp", base + ".dex"
}

// Put stores payload and, when non-nil, the patched image.
func (c *DiskCache) Put(key string, payload *CachePayload, image []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	meta, img := c.paths(key)
	payload.Schema = cacheSchemaVersion
	if image != nil {
		sum := sha256.Sum256(image)
		payload.OutputSum = hex.EncodeToString(sum[:])
		if err := writeFileAtomic(img, image); err != nil {
			return err
		}
	}
	return writeAtomic(meta, 0o644, func(w io.Writer) error {
		return msgpack.NewEncoder(w).Encode(payload)
	})
}

// Get returns the payload and image for key. A missing, stale or
// corrupted entry is a miss, not an error.
func (c *DiskCache) Get(key string) (*CachePayload, []byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, img := c.paths(key)
	raw, err := os.ReadFile(meta)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	var p CachePayload
	if err := msgpack.NewDecoder(bytes.NewReader(raw)).Decode(&p); err != nil || p.Schema != cacheSchemaVersion {
		return nil, nil, false, nil
	}
	if p.OutputSum == "" {
		if len(p.Applied) > 0 {
			return nil, nil, false, nil
		}
		return &p, nil, true, nil
	}
	image, err := os.ReadFile(img)
	if err != nil {
		return nil, nil, false, nil
	}
	sum := sha256.Sum256(image)
	if hex.EncodeToString(sum[:]) != p.OutputSum {
		return nil, nil, false, nil
	}
	return &p, image, true, nil
}

// DropAll removes every cached run.
func (c *DiskCache) DropAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.RemoveAll(filepath.Join(c.dir, "runs")); err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join(c.dir, "runs"), 0o755)
}

func (r *run) lookupCache(ctx context.Context, c *DiskCache, key string) (*CachePayload, []byte, error) {
	var (
		hit   *CachePayload
		image []byte
	)
	err := r.stage(ctx, StageCache, func() (string, error) {
		p, img, ok, err := c.Get(key)
		if err != nil {
			return "", stageErr(StageRead, c.dir, err)
		}
		if !ok {
			return "miss", nil
		}
		hit, image = p, img
		return "hit", nil
	})
	return hit, image, err
}

func (r *run) storeCache(ctx context.Context, c *DiskCache, key, archive string, api int, oc outcome) error {
	return r.stage(ctx, StageCache, func() (string, error) {
		p := &CachePayload{
			Archive:  archive,
			API:      api,
			Applied:  oc.record.Names(),
			Methods:  oc.methods,
			Visited:  oc.visited,
			Replaced: oc.replaced,
		}
		if err := c.Put(key, p, oc.data); err != nil {
			return "", fmt.Errorf("store %s: %w", key[:12], err)
		}
		return "stored", nil
	})
}

func outcomeFromCache(p *CachePayload, image []byte) outcome {
	return outcome{
		record:   rewrite.RecordOf(p.Applied...),
		methods:  p.Methods,
		visited:  p.Visited,
		replaced: p.Replaced,
		data:     image,
	}
}
