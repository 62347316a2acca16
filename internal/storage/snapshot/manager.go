package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yndnr/captoken-go/pkg/clock"
	"github.com/yndnr/captoken-go/pkg/crypto/adaptive"
)

var magicBytes = []byte("CTBACKUP")

const (
	filePrefix    = "backup-"
	fileExtension = ".ctbk"
	checksumSize  = 32
	headerVersion = 1

	DefaultRetentionCount = 5
	DefaultRetentionDays  = 7
)

type archiveHeader struct {
	Version   int    `json:"version"`
	CreatedAt int64  `json:"created_at"`
	NodeID    string `json:"node_id,omitempty"`
	Backend   string `json:"backend"`
	Since     uint64 `json:"since"`
	Encrypted bool   `json:"encrypted"`
	Algorithm string `json:"algorithm,omitempty"`
	Salt      []byte `json:"salt,omitempty"`
}

var (
	ErrInvalidMagic     = errors.New("snapshot: invalid magic bytes")
	ErrChecksumMismatch = errors.New("snapshot: checksum mismatch")
	ErrNotFound         = errors.New("snapshot: not found")
	ErrNoArchives       = errors.New("snapshot: no archives available")
)

// Source produces a backend backup stream. It returns the version the
// stream covers.
type Source interface {
	Backup(w io.Writer) (uint64, error)
}

// Target loads a backend backup stream.
type Target interface {
	Restore(r io.Reader) error
}

// Config configures the archive manager.
type Config struct {
	Dir string

	RetentionCount int
	RetentionDays  int

	Encryption EncryptionConfig

	// Backend names the store that wrote the stream, checked on restore.
	Backend string
	NodeID  string

	Clock  clock.Clock
	Logger *slog.Logger
}

// DefaultConfig returns the default retention for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		RetentionCount: DefaultRetentionCount,
		RetentionDays:  DefaultRetentionDays,
		Backend:        "badger",
	}
}

// Manager writes, lists, prunes and restores archives in one directory.
type Manager struct {
	cfg Config
}

// NewManager validates cfg and creates the archive directory.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot: dir is required")
	}
	if cfg.Encryption.Enabled() {
		if err := ValidateConfig(cfg.Encryption); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	if cfg.RetentionCount == 0 {
		cfg.RetentionCount = DefaultRetentionCount
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{cfg: cfg}, nil
}

// Info describes an archive.
type Info struct {
	ID        string `json:"id"`
	Backend   string `json:"backend,omitempty"`
	Since     uint64 `json:"since"`
	Encrypted bool   `json:"encrypted"`
	CreatedAt int64  `json:"created_at"`
	Size      int64  `json:"size"`
	Path      string `json:"path"`
	Checksum  string `json:"checksum,omitempty"`
	NodeID    string `json:"node_id,omitempty"`
}

// Create writes a new archive from src.
func (m *Manager) Create(src Source) (*Info, error) {
	now := m.cfg.Clock.Now()
	id := m.generateID(now)

	var stream bytes.Buffer
	since, err := src.Backup(&stream)
	if err != nil {
		return nil, fmt.Errorf("snapshot: backup: %w", err)
	}

	hdr := archiveHeader{
		Version:   headerVersion,
		CreatedAt: now.UnixMilli(),
		NodeID:    m.cfg.NodeID,
		Backend:   m.cfg.Backend,
		Since:     since,
	}
	data := stream.Bytes()
	if m.cfg.Encryption.Enabled() {
		c, salt, err := newCipher(m.cfg.Encryption, nil, "")
		if err != nil {
			return nil, err
		}
		data, err = c.Encrypt(data, []byte(id))
		if err != nil {
			return nil, fmt.Errorf("snapshot: encrypt: %w", err)
		}
		hdr.Encrypted = true
		hdr.Algorithm = string(c.Type())
		hdr.Salt = salt
	}

	tempPath := filepath.Join(m.cfg.Dir, id+".tmp")
	file, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("snapshot: create temp file: %w", err)
	}
	defer os.Remove(tempPath)

	sum, err := writeArchive(file, hdr, data)
	if err != nil {
		file.Close()
		return nil, err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: close: %w", err)
	}

	stat, err := os.Stat(tempPath)
	if err != nil {
		return nil, err
	}
	finalPath := filepath.Join(m.cfg.Dir, id+fileExtension)
	if err := os.Rename(tempPath, finalPath); err != nil {
		return nil, fmt.Errorf("snapshot: rename: %w", err)
	}

	info := &Info{
		ID:        id,
		Backend:   hdr.Backend,
		Since:     since,
		Encrypted: hdr.Encrypted,
		CreatedAt: hdr.CreatedAt,
		Size:      stat.Size(),
		Path:      finalPath,
		Checksum:  hex.EncodeToString(sum),
		NodeID:    hdr.NodeID,
	}
	m.cfg.Logger.Info("backup archive written",
		"id", id, "size", info.Size, "encrypted", info.Encrypted)
	return info, nil
}

func writeArchive(file io.Writer, hdr archiveHeader, data []byte) ([]byte, error) {
	hash := sha256.New()
	w := io.MultiWriter(file, hash)

	hdrJSON, err := json.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal header: %w", err)
	}
	var hdrLen [4]byte
	binary.BigEndian.PutUint32(hdrLen[:], uint32(len(hdrJSON)))
	var dataLen [8]byte
	binary.BigEndian.PutUint64(dataLen[:], uint64(len(data)))

	for _, chunk := range [][]byte{magicBytes, hdrLen[:], hdrJSON, dataLen[:], data} {
		if _, err := w.Write(chunk); err != nil {
			return nil, fmt.Errorf("snapshot: write: %w", err)
		}
	}

	// The checksum trailer is not part of the hash.
	sum := hash.Sum(nil)
	if _, err := file.Write(sum); err != nil {
		return nil, fmt.Errorf("snapshot: write checksum: %w", err)
	}
	return sum, nil
}

// Restore loads the newest valid archive into dst. Corrupt archives are
// skipped in favor of older ones.
func (m *Manager) Restore(dst Target) (*Info, error) {
	infos, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, ErrNoArchives
	}

	for i := len(infos) - 1; i >= 0; i-- {
		data, info, err := m.loadFile(infos[i].Path)
		if errors.Is(err, ErrChecksumMismatch) || errors.Is(err, ErrInvalidMagic) {
			m.cfg.Logger.Warn("skipping corrupt backup archive", "path", infos[i].Path, "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := dst.Restore(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("snapshot: restore %s: %w", info.ID, err)
		}
		m.cfg.Logger.Info("backup archive restored", "id", info.ID)
		return info, nil
	}
	return nil, ErrNoArchives
}

// RestoreFile loads a specific archive into dst.
func (m *Manager) RestoreFile(path string, dst Target) (*Info, error) {
	data, info, err := m.loadFile(path)
	if err != nil {
		return nil, err
	}
	if err := dst.Restore(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("snapshot: restore %s: %w", info.ID, err)
	}
	return info, nil
}

func (m *Manager) loadFile(path string) ([]byte, *Info, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if stat.Size() < int64(len(magicBytes))+checksumSize {
		return nil, nil, ErrChecksumMismatch
	}

	bodyLen := stat.Size() - checksumSize
	expected := make([]byte, checksumSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, bodyLen, checksumSize), expected); err != nil {
		return nil, nil, err
	}
	h := sha256.New()
	if _, err := io.CopyN(h, io.NewSectionReader(f, 0, bodyLen), bodyLen); err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(h.Sum(nil), expected) {
		return nil, nil, ErrChecksumMismatch
	}

	br := bufio.NewReader(io.NewSectionReader(f, 0, bodyLen))
	magic := make([]byte, len(magicBytes))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(magic, magicBytes) {
		return nil, nil, ErrInvalidMagic
	}

	var hdrLenBuf [4]byte
	if _, err := io.ReadFull(br, hdrLenBuf[:]); err != nil {
		return nil, nil, err
	}
	hdrLen := binary.BigEndian.Uint32(hdrLenBuf[:])
	if hdrLen == 0 || int64(hdrLen) > bodyLen {
		return nil, nil, fmt.Errorf("snapshot: bad header length %d", hdrLen)
	}
	hdrJSON := make([]byte, hdrLen)
	if _, err := io.ReadFull(br, hdrJSON); err != nil {
		return nil, nil, err
	}
	var hdr archiveHeader
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil {
		return nil, nil, fmt.Errorf("snapshot: unmarshal header: %w", err)
	}
	if m.cfg.Backend != "" && hdr.Backend != m.cfg.Backend {
		return nil, nil, fmt.Errorf("snapshot: archive is from backend %q, want %q", hdr.Backend, m.cfg.Backend)
	}

	var dataLenBuf [8]byte
	if _, err := io.ReadFull(br, dataLenBuf[:]); err != nil {
		return nil, nil, err
	}
	dataLen := binary.BigEndian.Uint64(dataLenBuf[:])
	if dataLen > uint64(bodyLen) {
		return nil, nil, fmt.Errorf("snapshot: bad data length %d", dataLen)
	}
	data := make([]byte, dataLen)
	if _, err := io.ReadFull(br, data); err != nil {
		return nil, nil, err
	}

	id := strings.TrimSuffix(filepath.Base(path), fileExtension)
	if hdr.Encrypted {
		if !m.cfg.Encryption.Enabled() {
			return nil, nil, ErrKeyRequired
		}
		c, _, err := newCipher(m.cfg.Encryption, hdr.Salt, adaptive.CipherType(hdr.Algorithm))
		if err != nil {
			return nil, nil, err
		}
		data, err = c.Decrypt(data, []byte(id))
		if err != nil {
			return nil, nil, ErrDecryptionFailed
		}
	}

	return data, &Info{
		ID:        id,
		Backend:   hdr.Backend,
		Since:     hdr.Since,
		Encrypted: hdr.Encrypted,
		CreatedAt: hdr.CreatedAt,
		Size:      stat.Size(),
		Path:      path,
		Checksum:  hex.EncodeToString(expected),
		NodeID:    hdr.NodeID,
	}, nil
}

// List lists archives oldest first (metadata from the file name only).
func (m *Manager) List() ([]*Info, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileExtension) {
			paths = append(paths, filepath.Join(m.cfg.Dir, name))
		}
	}
	sort.Strings(paths)

	var infos []*Info
	for _, p := range paths {
		stat, err := os.Stat(p)
		if err != nil {
			continue
		}
		infos = append(infos, &Info{
			ID:        strings.TrimSuffix(filepath.Base(p), fileExtension),
			Path:      p,
			Size:      stat.Size(),
			CreatedAt: stat.ModTime().UnixMilli(),
		})
	}
	return infos, nil
}

// Prune applies the retention policy. The newest archive is always kept.
func (m *Manager) Prune() (int, error) {
	infos, err := m.List()
	if err != nil {
		return 0, err
	}
	if len(infos) <= 1 {
		return 0, nil
	}

	keep := make(map[string]struct{}, len(infos))
	if m.cfg.RetentionCount > 0 {
		start := len(infos) - m.cfg.RetentionCount
		if start < 0 {
			start = 0
		}
		for _, info := range infos[start:] {
			keep[info.Path] = struct{}{}
		}
	}
	if m.cfg.RetentionDays > 0 {
		cutoff := m.cfg.Clock.Now().Add(-time.Duration(m.cfg.RetentionDays) * 24 * time.Hour)
		for _, info := range infos {
			if time.UnixMilli(info.CreatedAt).After(cutoff) {
				keep[info.Path] = struct{}{}
			}
		}
	}
	keep[infos[len(infos)-1].Path] = struct{}{}

	removed := 0
	for _, info := range infos {
		if _, ok := keep[info.Path]; ok {
			continue
		}
		if err := os.Remove(info.Path); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Run writes an archive every interval and prunes after each one, until
// ctx is done.
func (m *Manager) Run(ctx context.Context, src Source, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Create(src); err != nil {
				m.cfg.Logger.Error("scheduled backup failed", "error", err)
				continue
			}
			if n, err := m.Prune(); err != nil {
				m.cfg.Logger.Warn("backup prune failed", "error", err)
			} else if n > 0 {
				m.cfg.Logger.Info("pruned backup archives", "removed", n)
			}
		}
	}
}

func (m *Manager) generateID(t time.Time) string {
	ts := t.UTC().Format("20060102150405")
	seq := 1

	entries, _ := os.ReadDir(m.cfg.Dir)
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, filePrefix+ts+"-") && strings.HasSuffix(name, fileExtension) {
			seq++
		}
	}
	return fmt.Sprintf("%s%s-%04d", filePrefix, ts, seq)
}
