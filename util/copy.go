package util

import (
	"io"
	"os"
	"path/filepath"
)

// Copy recursively copies every regular, non-empty file under src into
// target, preserving the relative directory tree. Renderers use this to
// promote a temp-dir render into its final destination only once every
// file in it has written successfully, since their output nests under
// paths like run/systemd/network/.
func Copy(src, target string, e *Err) {
	entries, err := os.ReadDir(src)
	if err != nil {
		e.Errorf("cannot read %s: %v", src, err)
		return
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		e.Errorf("cannot create %s: %v", target, err)
		return
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		destPath := filepath.Join(target, entry.Name())
		if entry.IsDir() {
			Copy(srcPath, destPath, e)
			continue
		}
		info, err := entry.Info()
		if err != nil {
			e.Errorf("cannot stat %s: %v", srcPath, err)
			continue
		}
		if info.Size() == 0 {
			continue
		}
		if err := copyFile(srcPath, destPath, info.Mode()); err != nil {
			e.Errorf("cannot copy %s: %v", srcPath, err)
		}
	}
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
