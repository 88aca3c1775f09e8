// Package fs holds the file system helpers used for key files and
// contribution artifacts.
package fs

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
)

const (
	defaultDirectoryPermission = 0740
	secureFilePermission       = 0600
)

// HomeFolder returns the home folder of the current user, or the empty
// string if it cannot be determined.
func HomeFolder() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.HomeDir
}

// CreateSecureFolder creates folder with owner only permissions if it does
// not exist yet. An existing folder is returned as is.
func CreateSecureFolder(folder string) (string, error) {
	exists, err := Exists(folder)
	if err != nil {
		return "", err
	}
	if exists {
		info, err := os.Lstat(folder)
		if err != nil {
			return "", err
		}
		if !info.IsDir() {
			return "", fmt.Errorf("%s exists and is not a folder", folder)
		}
		return folder, nil
	}
	if err := os.MkdirAll(folder, defaultDirectoryPermission); err != nil {
		return "", err
	}
	return folder, nil
}

// Exists returns whether the given file or directory exists.
func Exists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return true, err
}

// WriteSecureFile writes data to file, readable and writable by the owner
// only. The parent folder is created if needed.
func WriteSecureFile(file string, data []byte) error {
	if _, err := CreateSecureFolder(filepath.Dir(file)); err != nil {
		return err
	}
	if err := os.WriteFile(file, data, secureFilePermission); err != nil {
		return err
	}
	// WriteFile keeps the mode of a file that already existed
	return os.Chmod(file, secureFilePermission)
}

// Files returns the sorted list of regular files in folder.
func Files(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, filepath.Join(folder, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
