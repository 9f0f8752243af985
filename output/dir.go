package output

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/inealey/cinema-transfer/iox"
	"github.com/inealey/cinema-transfer/types"
)

// filePerm is applied to committed files; os.CreateTemp creates 0600.
const filePerm fs.FileMode = 0o644

// Dir is a Sink backed by a local directory. Files are written under a
// temporary name and renamed into place only once the whole batch is on
// disk, so an aborted batch never leaves truncated frames behind.
type Dir struct {
	root string
}

// Verify Dir implements Sink.
var _ Sink = (*Dir)(nil)

// NewDir creates the directory if needed.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, wrapError(err, "mkdir", root)
	}
	return &Dir{root: root}, nil
}

// Location returns the directory path.
func (d *Dir) Location() string { return d.root }

// CommitBatch implements Sink.
func (d *Dir) CommitBatch(ctx context.Context, b types.Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}

	temps := make([]string, 0, len(b.Files))
	cleanup := func() {
		for _, tmp := range temps {
			_ = os.Remove(tmp)
		}
	}

	for _, f := range b.Files {
		if err := ctx.Err(); err != nil {
			cleanup()
			return err
		}
		tmp, err := d.writeTemp(f.Name, f.Data)
		if err != nil {
			cleanup()
			return err
		}
		temps = append(temps, tmp)
	}

	// created holds final names this commit brought into existence; they are
	// removed again if a later rename fails. A name that already existed
	// keeps whatever it holds at that point.
	created := make([]string, 0, len(b.Files))
	for i, f := range b.Files {
		final := filepath.Join(d.root, f.Name)
		_, statErr := os.Lstat(final)
		if err := os.Rename(temps[i], final); err != nil {
			temps = temps[i:]
			cleanup()
			for _, name := range created {
				_ = os.Remove(name)
			}
			return wrapError(err, "rename", final)
		}
		if errors.Is(statErr, fs.ErrNotExist) {
			created = append(created, final)
		}
	}
	return nil
}

// PutIfAbsent implements Sink. The final name is created with a hard link,
// which fails if the name exists, so concurrent writers cannot both win.
func (d *Dir) PutIfAbsent(_ context.Context, name string, data []byte) (bool, error) {
	if err := types.ValidateName(name); err != nil {
		return false, err
	}
	final := filepath.Join(d.root, name)
	if _, err := os.Lstat(final); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, wrapError(err, "stat", final)
	}

	tmp, err := d.writeTemp(name, data)
	if err != nil {
		return false, err
	}
	defer iox.DiscardErr(func() error { return os.Remove(tmp) })

	if err := os.Link(tmp, final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, wrapError(err, "link", final)
	}
	return true, nil
}

// writeTemp writes data to a hidden temporary file next to name and
// returns its path.
func (d *Dir) writeTemp(name string, data []byte) (string, error) {
	f, err := os.CreateTemp(d.root, "."+name+".tmp-*")
	if err != nil {
		return "", wrapError(err, "create", filepath.Join(d.root, name))
	}
	tmp := f.Name()

	fail := func(op string, err error) (string, error) {
		iox.DiscardClose(f)
		_ = os.Remove(tmp)
		return "", wrapError(err, op, tmp)
	}

	if _, err := f.Write(data); err != nil {
		return fail("write", err)
	}
	if err := f.Chmod(filePerm); err != nil {
		return fail("chmod", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", wrapError(err, "close", tmp)
	}
	return tmp, nil
}
