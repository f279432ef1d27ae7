// Package workspace owns the on-disk artifacts of a pipeline run: the code
// template handed to the oracle, the generated server source that is
// rewritten on every revision, and the extracted API endpoint schema.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Files stores artifacts at fixed paths.
type Files struct {
	TemplatePath  string
	CodePath      string
	EndpointsPath string
}

// New validates the artifact paths.
func New(templatePath, codePath, endpointsPath string) (*Files, error) {
	if templatePath == "" || codePath == "" || endpointsPath == "" {
		return nil, errors.New("workspace: template, code and endpoints paths are required")
	}
	return &Files{TemplatePath: templatePath, CodePath: codePath, EndpointsPath: endpointsPath}, nil
}

// ReadTemplate returns the code template used to seed generation.
func (f *Files) ReadTemplate() (string, error) {
	data, err := os.ReadFile(f.TemplatePath)
	if err != nil {
		return "", fmt.Errorf("workspace: read code template: %w", err)
	}
	return string(data), nil
}

// ReadCode returns the currently persisted server source.
func (f *Files) ReadCode() (string, error) {
	data, err := os.ReadFile(f.CodePath)
	if err != nil {
		return "", fmt.Errorf("workspace: read backend code: %w", err)
	}
	return string(data), nil
}

// SaveCode overwrites the persisted server source.
func (f *Files) SaveCode(code string) error {
	if err := writeFile(f.CodePath, []byte(code)); err != nil {
		return fmt.Errorf("workspace: save backend code: %w", err)
	}
	return nil
}

// SaveEndpoints writes the endpoint schema document.
func (f *Files) SaveEndpoints(schema []byte) error {
	if err := writeFile(f.EndpointsPath, schema); err != nil {
		return fmt.Errorf("workspace: save api endpoints: %w", err)
	}
	return nil
}

// writeFile replaces path through a temporary file in the same directory so
// a build never observes a half-written source file.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
