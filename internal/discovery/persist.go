package discovery

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
	"github.com/MrSnakeDoc/discoveryd/internal/logger"
)

const (
	PrimaryFile = "discovery.dat"
	BackupFile  = "discovery_backup.dat"
	TempFile    = "discovery_backup.dat_tmp"
)

// persister owns the three data files. It never touches the registry lock:
// callers hand it a snapshot and get a snapshot back.
type persister struct {
	dir string
	log logger.Logger

	// openTemp creates the staging file. Replaced in tests to inject write failures.
	openTemp func(path string) (io.WriteCloser, error)
}

func newPersister(dir string, log logger.Logger) *persister {
	return &persister{
		dir: dir,
		log: log,
		openTemp: func(path string) (io.WriteCloser, error) {
			return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		},
	}
}

func (p *persister) primaryPath() string { return filepath.Join(p.dir, PrimaryFile) }
func (p *persister) backupPath() string  { return filepath.Join(p.dir, BackupFile) }
func (p *persister) tempPath() string    { return filepath.Join(p.dir, TempFile) }

// write stages services in the temp file and promotes it to primary, then
// refreshes the backup. Until the temp file is fully written the primary is
// left untouched. An error after that point means the files on disk may be
// inconsistent and the save should be retried.
// Requires lock: no
func (p *persister) write(services []domain.Service) error {
	tmp := p.tempPath()

	if err := removeIfExists(tmp); err != nil {
		return fmt.Errorf("remove stale temp file: %w", err)
	}
	if err := os.MkdirAll(p.dir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	if err := p.writeTemp(tmp, services); err != nil {
		_ = removeIfExists(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}

	primary := p.primaryPath()
	if err := removeIfExists(primary); err != nil {
		return fmt.Errorf("remove old primary: %w", err)
	}
	if err := os.Rename(tmp, primary); err != nil {
		return fmt.Errorf("promote temp file: %w", err)
	}

	backup := p.backupPath()
	if err := removeIfExists(backup); err != nil {
		p.log.Warn("failed to remove old backup", logger.String("path", backup), logger.Error(err))
	}
	if err := copyFile(primary, backup); err != nil {
		p.log.Warn("failed to refresh backup", logger.String("path", backup), logger.Error(err))
	}
	return nil
}

func (p *persister) writeTemp(path string, services []domain.Service) (err error) {
	f, err := p.openTemp(path)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	if err := EncodeStream(f, services); err != nil {
		return err
	}
	if s, ok := f.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// read decodes the primary file, falling back to the backup. source names
// the file that was used. When neither file exists the error is ErrNoData.
// Requires lock: no
func (p *persister) read() (services []domain.Service, source string, err error) {
	services, perr := ReadFile(p.primaryPath())
	if perr == nil {
		return services, "primary", nil
	}
	if !errors.Is(perr, fs.ErrNotExist) {
		p.log.Warn("primary data file unreadable, trying backup",
			logger.String("path", p.primaryPath()),
			logger.Error(perr))
	}

	services, berr := ReadFile(p.backupPath())
	if berr == nil {
		return services, "backup", nil
	}
	if errors.Is(perr, fs.ErrNotExist) && errors.Is(berr, fs.ErrNotExist) {
		return nil, "", ErrNoData
	}
	return nil, "", multierr.Append(
		fmt.Errorf("primary: %w", perr),
		fmt.Errorf("backup: %w", berr),
	)
}

// ReadFile decodes one data file.
func ReadFile(path string) ([]domain.Service, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeStream(f)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, out.Close()) }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
