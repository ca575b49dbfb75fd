package memman

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"qservworker/internal/logging"
)

// PageSource maps a TableRef to the on-disk file backing its chunk data,
// grounded on chunk/file.OpenMmapReader's syscall.Mmap usage. A real
// deployment backs this by the same chunk store the executor reads
// fragments from; tests supply a fake that points at scratch files.
type PageSource func(t TableRef) (path string, err error)

type mlockedRegion struct {
	data []byte
	file *os.File
}

// MlockConfig configures an MlockMemMan.
type MlockConfig struct {
	PageSource PageSource
	Logger     *slog.Logger
}

// MlockMemMan reserves memory by mmap'ing each table's backing file and
// calling mlock(2) on the mapping, giving the scheduler a real
// non-evictable residency guarantee instead of a budget estimate. Grounded
// on chunk/file.MmapReader's open-mmap-close lifecycle; Reserve is the mmap
// half and Release is the munmap half, with an added Mlock/Munlock pair.
type MlockMemMan struct {
	mu      sync.Mutex
	cfg     MlockConfig
	byToken map[string][]mlockedRegion
	logger  *slog.Logger
}

// NewMlockMemMan constructs an MlockMemMan. It panics if cfg.PageSource is
// nil since there is no sensible degraded behavior for "don't know where a
// table's pages live".
func NewMlockMemMan(cfg MlockConfig) *MlockMemMan {
	if cfg.PageSource == nil {
		panic("memman: MlockConfig.PageSource is required")
	}
	return &MlockMemMan{
		cfg:     cfg,
		byToken: make(map[string][]mlockedRegion),
		logger:  logging.Default(cfg.Logger).With("component", "memman", "type", "mlock"),
	}
}

// Reserve mmaps and mlocks each table's backing file. In flexible mode a
// table whose file cannot be locked (ENOMEM, missing file) is skipped
// rather than failing the whole reservation; in strict mode any failure
// unwinds everything already locked and returns an error.
func (m *MlockMemMan) Reserve(_ context.Context, tables []TableRef, flexible bool) (Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var regions []mlockedRegion
	var resident []TableRef
	for _, t := range tables {
		region, err := m.lockOne(t)
		if err != nil {
			if flexible {
				m.logger.Debug("flexible reserve skipping table", "table", t.Table, "chunk", t.Chunk, "err", err)
				continue
			}
			m.unlockAll(regions)
			return Reservation{}, fmt.Errorf("memman: locking %s.%s: %w", t.DB, t.Table, err)
		}
		regions = append(regions, region)
		resident = append(resident, t)
	}
	if len(resident) == 0 && len(tables) > 0 {
		return Reservation{}, fmt.Errorf("memman: no tables could be locked")
	}

	token := uuid.New().String()
	m.byToken[token] = regions
	return Reservation{Token: token, Resident: resident, Flexible: flexible && len(resident) < len(tables)}, nil
}

func (m *MlockMemMan) lockOne(t TableRef) (mlockedRegion, error) {
	path, err := m.cfg.PageSource(t)
	if err != nil {
		return mlockedRegion{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return mlockedRegion{}, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return mlockedRegion{}, err
	}
	if info.Size() == 0 {
		f.Close()
		return mlockedRegion{}, fmt.Errorf("%s is empty", path)
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, int(info.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return mlockedRegion{}, err
	}
	if err := unix.Mlock(data); err != nil {
		syscall.Munmap(data)
		f.Close()
		return mlockedRegion{}, fmt.Errorf("mlock: %w", err)
	}
	return mlockedRegion{data: data, file: f}, nil
}

// Release munlocks and munmaps every region held by r's token.
func (m *MlockMemMan) Release(r Reservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	regions, ok := m.byToken[r.Token]
	if !ok {
		return
	}
	m.unlockAll(regions)
	delete(m.byToken, r.Token)
}

func (m *MlockMemMan) unlockAll(regions []mlockedRegion) {
	for _, r := range regions {
		if err := unix.Munlock(r.data); err != nil {
			m.logger.Warn("munlock failed", "err", err)
		}
		syscall.Munmap(r.data)
		r.file.Close()
	}
}
