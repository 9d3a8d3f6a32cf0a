// Copyright 2024 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cas

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"go.chromium.org/mrsetup/common/errors"
)

// Kind names the archive format an ArchiveDescriptor's "type" field may
// declare, per spec.md §3.
type Kind string

const (
	KindZip     Kind = "zip"
	KindArchive Kind = "archive" // a .tar.zst, per original_source's archive fetcher
)

// Extract unpacks the archive at archivePath (of the given kind) into
// destDir, descending into subdir first if non-empty (spec.md §4.5's
// "subdir" field: only that subtree is materialized).
func Extract(archivePath string, kind Kind, subdir, destDir string) error {
	switch kind {
	case KindZip:
		return extractZip(archivePath, subdir, destDir)
	case KindArchive:
		return extractTarZst(archivePath, subdir, destDir)
	default:
		return errors.Reason("unsupported archive kind %q", kind).Fatal().Err()
	}
}

func extractZip(archivePath, subdir, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return errors.Annotate(err, "opening zip archive").InternalReason("path(%q)", archivePath).Err()
	}
	defer r.Close()

	for _, f := range r.File {
		rel, ok := relativeToSubdir(f.Name, subdir)
		if !ok {
			continue
		}
		if err := extractZipEntry(f, rel, destDir); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, rel, destDir string) error {
	target, err := safeJoin(destDir, rel)
	if err != nil {
		return errors.Annotate(err, "zip entry %q", f.Name).Err()
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Annotate(err, "creating directory for zip entry").Err()
	}
	src, err := f.Open()
	if err != nil {
		return errors.Annotate(err, "opening zip entry %q", f.Name).Err()
	}
	defer src.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode().Perm()|0o200)
	if err != nil {
		return errors.Annotate(err, "creating zip entry output %q", target).Err()
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return errors.Annotate(err, "writing zip entry %q", target).Err()
	}
	return nil
}

func extractTarZst(archivePath, subdir, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return errors.Annotate(err, "opening archive").InternalReason("path(%q)", archivePath).Err()
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return errors.Annotate(err, "opening zstd stream").Err()
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Annotate(err, "reading tar stream").Err()
		}
		rel, ok := relativeToSubdir(hdr.Name, subdir)
		if !ok {
			continue
		}
		if err := extractTarEntry(hdr, tr, rel, destDir); err != nil {
			return err
		}
	}
}

func extractTarEntry(hdr *tar.Header, r io.Reader, rel, destDir string) error {
	target, err := safeJoin(destDir, rel)
	if err != nil {
		return errors.Annotate(err, "tar entry %q", hdr.Name).Err()
	}
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, 0o755)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Annotate(err, "creating directory for tar entry").Err()
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)|0o200)
		if err != nil {
			return errors.Annotate(err, "creating tar entry output %q", target).Err()
		}
		defer out.Close()
		if _, err := io.Copy(out, r); err != nil {
			return errors.Annotate(err, "writing tar entry %q", target).Err()
		}
		return nil
	case tar.TypeSymlink:
		if filepath.IsAbs(hdr.Linkname) || strings.Contains(filepath.Clean(hdr.Linkname), "..") {
			return errors.Reason("tar entry %q: symlink target %q escapes destination directory", hdr.Name, hdr.Linkname).Fatal().Err()
		}
		return os.Symlink(hdr.Linkname, target)
	default:
		return nil
	}
}

// safeJoin joins destDir with rel the way extraction is supposed to: rel
// is always relative to destDir. An archive entry whose name (after
// subdir-stripping) escapes destDir via ".." segments or an absolute path
// is a zip-slip attempt, not a legitimate entry, and is rejected rather
// than silently clamped.
func safeJoin(destDir, rel string) (string, error) {
	cleaned := filepath.Clean(rel)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || filepath.IsAbs(cleaned) {
		return "", errors.Reason("entry path %q escapes destination directory", rel).Fatal().Err()
	}
	return filepath.Join(destDir, cleaned), nil
}

// relativeToSubdir reports the path of name relative to subdir, and
// whether name falls under subdir at all. An empty subdir matches
// everything.
func relativeToSubdir(name, subdir string) (string, bool) {
	name = strings.TrimPrefix(name, "./")
	if subdir == "" {
		return name, true
	}
	prefix := strings.TrimSuffix(subdir, "/") + "/"
	if !strings.HasPrefix(name, prefix) {
		return "", false
	}
	return strings.TrimPrefix(name, prefix), true
}
