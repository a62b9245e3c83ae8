// Package imagestore keeps effect images as files named after the effect id and
// hands out the URL path they are served under.
package imagestore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// URLPrefix is where stored images are served.
const URLPrefix = "/images/effect/"

type Store struct {
	fs afero.Fs
}

// New stores images under dir on the local disk.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("image directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return NewWithFs(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// NewWithFs stores images at the root of fs.
func NewWithFs(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// Upload is an image written under a temporary name. It only replaces the file the
// effect refers to once committed.
type Upload struct {
	fs   afero.Fs
	tmp  string
	name string
}

// URL is the path the image is served under after Commit.
func (u *Upload) URL() string {
	return URLPrefix + u.name
}

// Commit moves the upload into place, replacing any file of the same name.
func (u *Upload) Commit() error {
	if err := u.fs.Rename(u.tmp, u.name); err != nil {
		_ = u.fs.Remove(u.tmp)
		return fmt.Errorf("store image %s: %w", u.name, err)
	}
	return nil
}

// Discard drops an upload that was never committed.
func (u *Upload) Discard() error {
	if err := u.fs.Remove(u.tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard image %s: %w", u.tmp, err)
	}
	return nil
}

// Stage writes the image next to its final name <effectID><ext of filename> without
// touching any existing file.
func (s *Store) Stage(ctx context.Context, effectID, filename string, r io.Reader) (*Upload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if effectID == "" || effectID != filepath.Base(effectID) || strings.ContainsAny(effectID, `/\`) || strings.HasPrefix(effectID, ".") {
		return nil, fmt.Errorf("invalid effect id %q for image name", effectID)
	}
	name := effectID + strings.ToLower(filepath.Ext(filename))
	u := &Upload{fs: s.fs, tmp: "." + name + "." + uuid.NewString() + ".tmp", name: name}

	if err := afero.WriteReader(s.fs, u.tmp, r); err != nil {
		_ = s.fs.Remove(u.tmp)
		return nil, fmt.Errorf("write image %s: %w", name, err)
	}
	return u, nil
}

// Save stages and commits in one step, returning the image URL path.
func (s *Store) Save(ctx context.Context, effectID, filename string, r io.Reader) (string, error) {
	u, err := s.Stage(ctx, effectID, filename, r)
	if err != nil {
		return "", err
	}
	if err := u.Commit(); err != nil {
		return "", err
	}
	return u.URL(), nil
}

// Remove deletes the file a stored image reference points to. Empty references and
// files that are already gone are not errors.
func (s *Store) Remove(ref string) error {
	name := path.Base(strings.TrimSpace(ref))
	if name == "" || name == "." || name == "/" {
		return nil
	}
	if err := s.fs.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove image %s: %w", name, err)
	}
	return nil
}

// Handler serves stored images under URLPrefix.
func (s *Store) Handler() http.Handler {
	return http.StripPrefix(URLPrefix, http.FileServer(afero.NewHttpFs(s.fs)))
}
