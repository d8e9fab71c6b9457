package shader

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/helios-render/helios/log"
)

// DiskCache persists resolved bytecode on disk, keyed by entry-point name
// and a device tag so bytecode compiled for one device never reaches
// another. Misses fall through to the wrapped provider and populate the
// cache on the way back.
type DiskCache struct {
	inner     Provider
	dir       string
	deviceTag string
	logger    log.Logger
}

func NewDiskCache(inner Provider, dir, deviceTag string, logger log.Logger) (*DiskCache, error) {
	if logger == nil {
		logger = log.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("shader: create cache dir %s: %v", dir, err)
	}
	return &DiskCache{inner: inner, dir: dir, deviceTag: deviceTag, logger: logger}, nil
}

func (c *DiskCache) GetShader(name string) ([]byte, error) {
	path := c.entryPath(name)
	if data, err := os.ReadFile(path); err == nil {
		c.logger.Debugf("shader cache hit for %q", name)
		return data, nil
	}

	data, err := c.inner.GetShader(name)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		// A failed cache write is not a failed resolve.
		c.logger.Warningf("shader cache write for %q failed: %v", name, err)
	}
	return data, nil
}

func (c *DiskCache) entryPath(name string) string {
	sum := sha256.Sum256([]byte(c.deviceTag + ":" + name))
	return filepath.Join(c.dir, fmt.Sprintf("%x.bin", sum[:16]))
}
