package testing

import (
	"fmt"
	"os"
	"strings"
)

// ObjectChecker allows chaining multiple checks on an object held by a Server.
type ObjectChecker struct {
	server    *Server
	Container string
	Object    string
	Checks    []func() error
}

// NewObjectChecker creates an ObjectChecker for container/object.
func NewObjectChecker(server *Server, container, object string) *ObjectChecker {
	return &ObjectChecker{server: server, Container: container, Object: object}
}

func (oc *ObjectChecker) name() string {
	return oc.Container + "/" + oc.Object
}

// Check runs all checks and returns every failure.
func (oc *ObjectChecker) Check() error {
	errs := MultiError{}
	for _, check := range oc.Checks {
		AppendErr(&errs, check())
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Exists adds a check that the object is stored.
func (oc *ObjectChecker) Exists() *ObjectChecker {
	oc.Checks = append(oc.Checks, func() error {
		if _, ok := oc.server.Object(oc.Container, oc.Object); !ok {
			return fmt.Errorf("object does not exist: %s", oc.name())
		}
		return nil
	})
	return oc
}

// Missing adds a check that the object is not stored.
func (oc *ObjectChecker) Missing() *ObjectChecker {
	oc.Checks = append(oc.Checks, func() error {
		if _, ok := oc.server.Object(oc.Container, oc.Object); ok {
			return fmt.Errorf("expected %s to be missing, but it exists", oc.name())
		}
		return nil
	})
	return oc
}

// Content adds a check on the resolved object content.
func (oc *ObjectChecker) Content(want []byte) *ObjectChecker {
	oc.Checks = append(oc.Checks, func() error {
		got, ok := oc.server.Object(oc.Container, oc.Object)
		if !ok {
			return fmt.Errorf("object does not exist: %s", oc.name())
		}
		if string(got) != string(want) {
			return fmt.Errorf("object %s content mismatch: want %d bytes got %d bytes", oc.name(), len(want), len(got))
		}
		return nil
	})
	return oc
}

// Header adds a check that a stored header has the given value.
func (oc *ObjectChecker) Header(key, want string) *ObjectChecker {
	oc.Checks = append(oc.Checks, func() error {
		if got := oc.server.ObjectHeader(oc.Container, oc.Object, key); got != want {
			return fmt.Errorf("header %s mismatch for %s: want %q got %q", key, oc.name(), want, got)
		}
		return nil
	})
	return oc
}

// SegmentCount adds a check on the number of objects stored under prefix
// in the segment container.
func (oc *ObjectChecker) SegmentCount(segmentContainer, prefix string, want int) *ObjectChecker {
	oc.Checks = append(oc.Checks, func() error {
		got := 0
		for _, name := range oc.server.ObjectNames(segmentContainer) {
			if strings.HasPrefix(name, prefix) {
				got++
			}
		}
		if got != want {
			return fmt.Errorf("segment count mismatch for %s/%s: want %d got %d", segmentContainer, prefix, want, got)
		}
		return nil
	})
	return oc
}

// FileChecker allows chaining multiple checks on a downloaded file.
type FileChecker struct {
	Path   string
	Checks []func(string) error
}

// NewFileChecker creates a FileChecker for the given path.
func NewFileChecker(path string) *FileChecker {
	return &FileChecker{Path: path}
}

// Check runs all checks on the path and returns every failure.
func (fc *FileChecker) Check() error {
	errs := MultiError{}
	for _, check := range fc.Checks {
		AppendErr(&errs, check(fc.Path))
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// IsFile adds a check that the path is a regular file.
func (fc *FileChecker) IsFile() *FileChecker {
	fc.Checks = append(fc.Checks, func(path string) error {
		info, err := os.Lstat(path)
		if err != nil {
			return fmt.Errorf("lstat %s: %w", path, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("expected regular file: %s", path)
		}
		return nil
	})
	return fc
}

// Content adds a check that the file has the specified content.
func (fc *FileChecker) Content(want []byte) *FileChecker {
	fc.Checks = append(fc.Checks, func(path string) error {
		got, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if string(got) != string(want) {
			return fmt.Errorf("file %s content mismatch: want %d bytes got %d bytes", path, len(want), len(got))
		}
		return nil
	})
	return fc
}
