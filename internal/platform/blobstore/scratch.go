package blobstore

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ScratchRoot is the shared-scratch directory every stage reads and
// writes under, grounded on original_source's TMP_DIR="/tmp" plus
// spec.md §3's per-job layout <scratch>/<job_id>/job/{input,output}.
func ScratchRoot() string {
	root := strings.TrimSpace(os.Getenv("TMP_DIR"))
	if root == "" {
		root = "/tmp"
	}
	return root
}

// JobScratchDir returns <scratch>/<job_id>, creating it if absent.
func JobScratchDir(jobID string) (string, error) {
	dir := filepath.Join(ScratchRoot(), jobID)
	if err := os.MkdirAll(filepath.Join(dir, "job", "input"), 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "job", "output"), 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

const contextFileName = "context"
const archiveKeyTemplate = "%s/data.zip"

// SaveContext writes the stage context as JSON into job/context, the
// direct Go analogue of original_source's save_context.
func SaveContext(tmpDir string, ctx map[string]any) error {
	raw, err := json.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	path := filepath.Join(tmpDir, "job", contextFileName)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write context: %w", err)
	}
	return nil
}

func LoadContext(tmpDir string) (map[string]any, error) {
	path := filepath.Join(tmpDir, "job", contextFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read context: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	return out, nil
}

// SaveData zips the job/ subtree of tmpDir and uploads it to
// {bucket}/{job_id}/data.zip, mirroring shutil.make_archive in
// original_source/service/src/queues/base.py.
func SaveData(ctx context.Context, s Store, tmpDir, jobID string) error {
	srcDir := filepath.Join(tmpDir, "job")
	pr, pw := io.Pipe()

	go func() {
		zw := zip.NewWriter(pw)
		err := filepath.Walk(srcDir, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(filepath.Dir(srcDir), path)
			if err != nil {
				return err
			}
			w, err := zw.Create(filepath.ToSlash(rel))
			if err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(w, f)
			return err
		})
		if err == nil {
			err = zw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	key := fmt.Sprintf(archiveKeyTemplate, jobID)
	if err := s.Upload(ctx, key, pr); err != nil {
		return fmt.Errorf("upload job archive: %w", err)
	}
	return nil
}

// LoadData downloads {bucket}/{job_id}/data.zip and extracts it back into
// tmpDir/job. It is idempotent: if tmpDir/job already holds files (a
// prior delivery of the same stage already unpacked it), the download is
// skipped so a broker redelivery can't clobber in-progress local output —
// an edge case spec.md adds beyond what the original shows.
func LoadData(ctx context.Context, s Store, tmpDir, jobID string) error {
	destDir := filepath.Join(tmpDir, "job")
	nonEmpty, err := dirHasEntries(destDir)
	if err != nil {
		return err
	}
	if nonEmpty {
		return nil
	}

	key := fmt.Sprintf(archiveKeyTemplate, jobID)
	rc, err := s.Download(ctx, key)
	if err != nil {
		return fmt.Errorf("download job archive: %w", err)
	}
	defer rc.Close()

	tmpFile, err := os.CreateTemp("", "jobdata-*.zip")
	if err != nil {
		return fmt.Errorf("create temp archive file: %w", err)
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	if _, err := io.Copy(tmpFile, rc); err != nil {
		return fmt.Errorf("buffer job archive: %w", err)
	}

	zr, err := zip.OpenReader(tmpFile.Name())
	if err != nil {
		return fmt.Errorf("open job archive: %w", err)
	}
	defer zr.Close()

	parent := filepath.Dir(destDir)
	for _, f := range zr.File {
		target := filepath.Join(parent, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(parent)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes scratch dir: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractZipFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractZipFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}

// dirHasEntries reports whether dir holds at least one non-directory
// entry anywhere below it. Empty subdirectories (such as the job/input
// and job/output folders JobScratchDir creates) do not count.
func dirHasEntries(dir string) (bool, error) {
	found := false
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read dir %q: %w", dir, err)
	}
	return found, nil
}
