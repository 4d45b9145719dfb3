// Package projectfile reads and writes YAML project definitions.
package projectfile

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ski11z/autoboom/pkg/errors"
	"github.com/ski11z/autoboom/pkg/model"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Saver persists an imported project.
type Saver interface {
	SaveProject(ctx context.Context, p *model.Project) error
}

// Parse decodes and validates one project definition. Unknown keys are
// rejected.
func Parse(data []byte) (*model.Project, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("projectfile: definition is empty")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p model.Project
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("projectfile: decode: %w", err)
	}
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Load reads a definition file from disk.
func Load(path string) (*model.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "projectfile: read")
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Validate checks the struct tags of a project and its settings.
func Validate(p *model.Project) error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("projectfile: validate: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += fmt.Sprintf(" (%s)", fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("projectfile: invalid definition: %s", strings.Join(msgs, "; "))
}

// Import loads a definition and saves it as a draft.
func Import(ctx context.Context, s Saver, path string) (*model.Project, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	p.Status = model.ProjectDraft
	if err := s.SaveProject(ctx, p); err != nil {
		return nil, errors.Wrap(err, "failed to save imported project")
	}
	return p, nil
}

// Marshal encodes a project as a definition file.
func Marshal(p *model.Project) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("projectfile: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("projectfile: encode: %w", err)
	}
	return buf.Bytes(), nil
}
