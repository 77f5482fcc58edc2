package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	indexDir          = ".index"
	fileIndexName     = "file_index.yaml"
	metadataIndexName = "metadata_index.yaml"
	tombstoneName     = "tombstones.yaml"
	metaSuffix        = ".meta"
)

// Store is the content-addressed resource store rooted at dataRoot.
//
// Layout:
//
//	{data_root}/.index/file_index.yaml      hash → relative path
//	{data_root}/.index/metadata_index.yaml  hash → metadata path
//	{data_root}/websites/…  tickets/…  uploads/…  git/{repo}/…
//
// Indexes are held in memory behind a writer mutex and written out atomically
// by Flush. The dirty flag survives failed flushes so a retry re-writes.
type Store struct {
	root string

	mu            sync.RWMutex
	fileIndex     map[string]string // hash → relpath
	metadataIndex map[string]string // hash → relpath of sidecar
	tombstones    map[string]bool   // hash → soft-deleted
	dirty         bool
}

// Entry is a catalog row snapshot.
type Entry struct {
	Hash    string
	Path    string // relative to root
	Deleted bool
}

// NewStore opens (or initializes) the catalog at root.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve data root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, indexDir), 0o755); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}

	s := &Store{
		root:          abs,
		fileIndex:     map[string]string{},
		metadataIndex: map[string]string{},
		tombstones:    map[string]bool{},
	}
	if err := s.loadIndex(fileIndexName, &s.fileIndex); err != nil {
		return nil, err
	}
	if err := s.loadIndex(metadataIndexName, &s.metadataIndex); err != nil {
		return nil, err
	}
	if err := s.loadIndex(tombstoneName, &s.tombstones); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadIndex(name string, dst any) error {
	data, err := os.ReadFile(filepath.Join(s.root, indexDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// Root returns the absolute data root.
func (s *Store) Root() string { return s.root }

// Filename is a pure function of (hash, suffix).
func Filename(hash, suffix string) string { return hash + suffix }

// Persist writes the resource content under subdir and records it in the
// indexes. Returns the path relative to the data root. Re-persisting the same
// hash overwrites content and clears any tombstone.
func (s *Store) Persist(res Resource, subdir string) (string, error) {
	if res.Hash == "" {
		return "", fmt.Errorf("persist: resource has no hash")
	}
	rel := filepath.Join(subdir, Filename(res.Hash, res.Suffix))
	abs, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", subdir, err)
	}
	if err := os.WriteFile(abs, res.Content, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}

	var metaRel string
	if res.Metadata != nil {
		metaRel = rel + metaSuffix
		data, err := yaml.Marshal(res.Metadata)
		if err != nil {
			return "", fmt.Errorf("marshal metadata: %w", err)
		}
		if err := os.WriteFile(abs+metaSuffix, data, 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", metaRel, err)
		}
	}

	s.mu.Lock()
	s.fileIndex[res.Hash] = filepath.ToSlash(rel)
	if metaRel != "" {
		s.metadataIndex[res.Hash] = filepath.ToSlash(metaRel)
	}
	delete(s.tombstones, res.Hash)
	s.dirty = true
	s.mu.Unlock()

	return rel, nil
}

// Lookup returns the content and metadata for a hash. os.ErrNotExist is
// returned for unknown hashes.
func (s *Store) Lookup(hash string) (path string, content []byte, meta *Metadata, err error) {
	s.mu.RLock()
	rel, ok := s.fileIndex[hash]
	metaRel := s.metadataIndex[hash]
	s.mu.RUnlock()
	if !ok {
		return "", nil, nil, os.ErrNotExist
	}

	abs, err := s.resolve(rel)
	if err != nil {
		return "", nil, nil, err
	}
	content, err = os.ReadFile(abs)
	if err != nil {
		return "", nil, nil, fmt.Errorf("read %s: %w", rel, err)
	}
	if metaRel != "" {
		metaAbs, rerr := s.resolve(metaRel)
		if rerr == nil {
			if data, rerr := os.ReadFile(metaAbs); rerr == nil {
				var m Metadata
				if yaml.Unmarshal(data, &m) == nil {
					meta = &m
				}
			}
		}
	}
	return rel, content, meta, nil
}

// Delete removes the file, its sidecar, and both index entries.
func (s *Store) Delete(hash string, flush bool) error {
	s.mu.Lock()
	rel, ok := s.fileIndex[hash]
	metaRel := s.metadataIndex[hash]
	delete(s.fileIndex, hash)
	delete(s.metadataIndex, hash)
	delete(s.tombstones, hash)
	s.dirty = true
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if abs, err := s.resolve(rel); err == nil {
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", rel, err)
		}
	}
	if metaRel != "" {
		if abs, err := s.resolve(metaRel); err == nil {
			os.Remove(abs)
		}
	}
	if flush {
		return s.Flush()
	}
	return nil
}

// SoftDelete marks a resource as deleted without removing bytes. The row
// stays in the catalog until GC.
func (s *Store) SoftDelete(hash string) {
	s.mu.Lock()
	if _, ok := s.fileIndex[hash]; ok {
		s.tombstones[hash] = true
		s.dirty = true
	}
	s.mu.Unlock()
}

// GC permanently removes every tombstoned resource.
func (s *Store) GC() (int, error) {
	s.mu.RLock()
	dead := make([]string, 0, len(s.tombstones))
	for hash, t := range s.tombstones {
		if t {
			dead = append(dead, hash)
		}
	}
	s.mu.RUnlock()

	for _, hash := range dead {
		if err := s.Delete(hash, false); err != nil {
			return 0, err
		}
	}
	if len(dead) > 0 {
		if err := s.Flush(); err != nil {
			return 0, err
		}
	}
	return len(dead), nil
}

// Reset recursively clears a subdirectory and the index rows under it.
func (s *Store) Reset(subdir string) error {
	abs, err := s.resolve(subdir)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("reset %s: %w", subdir, err)
	}

	prefix := filepath.ToSlash(subdir) + "/"
	s.mu.Lock()
	for hash, rel := range s.fileIndex {
		if strings.HasPrefix(rel, prefix) {
			delete(s.fileIndex, hash)
			delete(s.metadataIndex, hash)
			delete(s.tombstones, hash)
		}
	}
	s.dirty = true
	s.mu.Unlock()
	return nil
}

// Flush atomically writes dirty indexes: write temp, fsync, rename. The
// dirty flag is only cleared on success, so a failed flush is retried whole.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	if err := s.writeIndex(fileIndexName, s.fileIndex); err != nil {
		return err
	}
	if err := s.writeIndex(metadataIndexName, s.metadataIndex); err != nil {
		return err
	}
	if err := s.writeIndex(tombstoneName, s.tombstones); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func (s *Store) writeIndex(name string, data any) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	final := filepath.Join(s.root, indexDir, name)
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := f.Write(out); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Snapshot returns a consistent copy of the catalog rows, sorted by hash.
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]Entry, 0, len(s.fileIndex))
	for hash, rel := range s.fileIndex {
		entries = append(entries, Entry{Hash: hash, Path: rel, Deleted: s.tombstones[hash]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Hash < entries[j].Hash })
	return entries
}

// LiveHashes returns the set of non-tombstoned hashes.
func (s *Store) LiveHashes() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live := make(map[string]bool, len(s.fileIndex))
	for hash := range s.fileIndex {
		if !s.tombstones[hash] {
			live[hash] = true
		}
	}
	return live
}

// Metadata returns the parsed sidecar for a hash, or nil.
func (s *Store) MetadataFor(hash string) *Metadata {
	s.mu.RLock()
	metaRel := s.metadataIndex[hash]
	s.mu.RUnlock()
	if metaRel == "" {
		return nil
	}
	abs, err := s.resolve(metaRel)
	if err != nil {
		return nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil
	}
	var m Metadata
	if err := yaml.Unmarshal(data, &m); err != nil {
		slog.Warn("malformed metadata sidecar", "hash", hash, "error", err)
		return nil
	}
	return &m
}

// resolve joins rel onto the root and rejects paths escaping it.
func (s *Store) resolve(rel string) (string, error) {
	abs := filepath.Join(s.root, rel)
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes data root", rel)
	}
	return abs, nil
}
