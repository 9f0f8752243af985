// Package ledger persists completed (dataset, timestep) pairs so a producer
// can resume where it left off.
//
// The ledger is an append-only text file with one "<dataset> <timestep>"
// line per delivered batch. Appends are serialized across goroutines by a
// mutex and across processes by an exclusive flock on the file.
package ledger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/sys/unix"

	"github.com/inealey/cinema-transfer/iox"
)

// ErrInvalidDataset is returned for dataset names that cannot be stored on
// a single whitespace-separated line.
var ErrInvalidDataset = errors.New("invalid dataset name")

// Record is one completed batch.
type Record struct {
	Dataset  string `json:"dataset" yaml:"dataset"`
	Timestep uint64 `json:"timestep" yaml:"timestep"`
}

func (r Record) String() string {
	return fmt.Sprintf("%s %d", r.Dataset, r.Timestep)
}

// ValidateDataset reports whether name can be recorded.
func ValidateDataset(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDataset)
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidDataset, name)
	}
	return nil
}

// Ledger is a handle on a ledger file. The file need not exist until the
// first Append.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// Open returns a ledger backed by path, creating the parent directory.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}
	return &Ledger{path: path}, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Records returns every well-formed record in file order. Lines that do not
// parse (for example a torn line left by a crashed writer) are skipped.
func (l *Ledger) Records() ([]Record, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer iox.DiscardClose(f)

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if rec, ok := parseLine(scanner.Text()); ok {
			records = append(records, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return records, nil
}

// Resume returns the next timestep to send for dataset: one past the
// highest recorded timestep, or 0 when the dataset has no records.
func (l *Ledger) Resume(dataset string) (uint64, error) {
	if err := ValidateDataset(dataset); err != nil {
		return 0, err
	}
	records, err := l.Records()
	if err != nil {
		return 0, err
	}
	return NextTimestep(records, dataset), nil
}

// NextTimestep computes the resume point for dataset over records.
func NextTimestep(records []Record, dataset string) uint64 {
	var (
		next  uint64
		found bool
	)
	for _, rec := range records {
		if rec.Dataset != dataset {
			continue
		}
		if !found || rec.Timestep+1 > next {
			next = rec.Timestep + 1
			found = true
		}
	}
	return next
}

// Append durably records rec. The line is written with a single write
// under an exclusive lock and synced before Append returns.
func (l *Ledger) Append(ctx context.Context, rec Record) error {
	if err := ValidateDataset(rec.Dataset); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer iox.DiscardClose(f)

	if err := flock(f); err != nil {
		return fmt.Errorf("lock ledger: %w", err)
	}
	defer func() { _ = unix.Flock(int(f.Fd()), unix.LOCK_UN) }()

	line := rec.String() + "\n"
	torn, err := endsTorn(f)
	if err != nil {
		return fmt.Errorf("inspect ledger: %w", err)
	}
	if torn {
		// Terminate the fragment so it stays a single unparsable line.
		line = "\n" + line
	}
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return nil
}

func flock(f *os.File) error {
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

// endsTorn reports whether the file's last line lacks its newline.
func endsTorn(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	var last [1]byte
	if _, err := f.ReadAt(last[:], info.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}

func parseLine(line string) (Record, bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return Record{}, false
	}
	ts, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return Record{}, false
	}
	return Record{Dataset: fields[0], Timestep: ts}, true
}
