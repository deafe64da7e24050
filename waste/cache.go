package waste

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
	"github.com/paulmach/orb/geojson"
)

// LocalCache persists the raw feature collection and the normalized table
// under one directory. Writes go to a temp file that is renamed into place,
// so a reader never sees a partial file.
type LocalCache struct {
	dir       string
	rawPath   string
	tablePath string
}

// NewLocalCache creates a cache rooted at dir. The directory is created on first write.
func NewLocalCache(dir, rawFile, tableFile string) *LocalCache {
	return &LocalCache{
		dir:       dir,
		rawPath:   filepath.Join(dir, rawFile),
		tablePath: filepath.Join(dir, tableFile),
	}
}

// NewLocalCacheFromConfig builds a cache from the cache section of the config.
func NewLocalCacheFromConfig(cc CacheConfig) *LocalCache {
	return NewLocalCache(cc.Dir, cc.RawFile, cc.TableFile)
}

// RawPath returns the raw GeoJSON file path
func (c *LocalCache) RawPath() string { return c.rawPath }

// TablePath returns the normalized table file path
func (c *LocalCache) TablePath() string { return c.tablePath }

// HasCachedData reports whether the normalized table exists and holds at least one record.
func (c *LocalCache) HasCachedData() bool {
	info, err := os.Stat(c.tablePath)
	if err != nil || info.Size() == 0 {
		return false
	}
	records, err := c.readTable()
	return err == nil && len(records) > 0
}

// ReadCachedTable returns the normalized table. A missing or corrupt file
// yields an empty slice and a logged warning, never an error.
func (c *LocalCache) ReadCachedTable() []ContainerRecord {
	records, err := c.readTable()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.WithError(err).Warn("ignoring unreadable container cache")
		}
		return []ContainerRecord{}
	}
	return records
}

func (c *LocalCache) readTable() ([]ContainerRecord, error) {
	data, err := os.ReadFile(c.tablePath)
	if err != nil {
		return nil, err
	}
	var records []ContainerRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, newError(KindCacheCorrupt, "read cache table", c.tablePath, err)
	}
	if records == nil {
		records = []ContainerRecord{}
	}
	return records, nil
}

// ReadRaw returns the cached raw feature collection.
func (c *LocalCache) ReadRaw() (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(c.rawPath)
	if err != nil {
		return nil, fmt.Errorf("read raw cache: %w", err)
	}
	fc, err := ParseFeatureCollection(data)
	if err != nil {
		return nil, newError(KindCacheCorrupt, "read raw cache", c.rawPath, err)
	}
	return fc, nil
}

// WriteRaw stores the raw feature collection.
func (c *LocalCache) WriteRaw(fc *geojson.FeatureCollection) error {
	if fc == nil {
		return fmt.Errorf("write raw cache: feature collection is nil")
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal raw features: %w", err)
	}
	return c.writeAtomic(c.rawPath, data)
}

// WriteTable stores the normalized records.
func (c *LocalCache) WriteTable(records []ContainerRecord) error {
	if records == nil {
		records = []ContainerRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal container table: %w", err)
	}
	return c.writeAtomic(c.tablePath, data)
}

// LastModified returns the modification time of the normalized table.
func (c *LocalCache) LastModified() (time.Time, bool) {
	info, err := os.Stat(c.tablePath)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

func (c *LocalCache) writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
