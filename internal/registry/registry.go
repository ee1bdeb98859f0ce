package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/distribution/reference"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidRegistry marks a missing or malformed service registry.
	ErrInvalidRegistry = errors.New("invalid service registry")
	// ErrServiceNotFound is returned when a name is absent from the registry.
	ErrServiceNotFound = errors.New("service not found")
	// ErrInvalidName marks a name docker would not accept as a container name.
	ErrInvalidName = errors.New("invalid service name")
)

// containerName is docker's own container name grammar.
var containerName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ValidName reports whether name can be a docker container name. Anything else cannot exist
// on the target and must never reach a command line.
func ValidName(name string) error {
	if !containerName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Service describes one managed container on the target.
type Service struct {
	Name  string `json:"name" yaml:"name"`
	Image string `json:"image" yaml:"image"`
	Port  string `json:"port" yaml:"port"`
}

// StableTag is the image tag holding the last snapshot that passed a post-deploy health check.
func (s Service) StableTag() string {
	return s.Name + "_stable"
}

// HostPort returns the published port the health probe targets.
func (s Service) HostPort() (int, error) {
	mapping, err := ParsePortMapping(s.Port)
	if err != nil {
		return 0, err
	}
	return mapping.HostPort, nil
}

// Registry is the ordered list of services loaded from one source.
type Registry struct {
	Services    []Service
	Fingerprint string
}

// Lookup finds a service by name.
func (r Registry) Lookup(name string) (Service, error) {
	svc, ok := lo.Find(r.Services, func(s Service) bool { return s.Name == name })
	if !ok {
		return Service{}, fmt.Errorf("%w: %q", ErrServiceNotFound, name)
	}
	return svc, nil
}

// Names returns service names in registry order.
func (r Registry) Names() []string {
	return lo.Map(r.Services, func(s Service, _ int) string { return s.Name })
}

// Parse decodes registry content. Compose files are recognised by name; anything else is
// read as a JSON or YAML list of {name, image, port}.
func Parse(ctx context.Context, filename string, body []byte) (Registry, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Registry{}, fmt.Errorf("%w: registry is empty", ErrInvalidRegistry)
	}

	var services []Service
	var err error
	switch {
	case IsComposeFile(filename):
		services, err = FromCompose(ctx, body)
	case strings.EqualFold(filepath.Ext(filename), ".yaml"), strings.EqualFold(filepath.Ext(filename), ".yml"):
		err = yaml.Unmarshal(body, &services)
	default:
		err = json.Unmarshal(body, &services)
	}
	if err != nil {
		if errors.Is(err, ErrInvalidRegistry) {
			return Registry{}, err
		}
		return Registry{}, fmt.Errorf("%w: %v", ErrInvalidRegistry, err)
	}

	if err := Validate(services); err != nil {
		return Registry{}, err
	}

	fingerprint, err := Fingerprint(body)
	if err != nil {
		return Registry{}, err
	}

	return Registry{Services: services, Fingerprint: fingerprint}, nil
}

// Validate ensures names are unique and every image and port mapping is well formed.
func Validate(services []Service) error {
	if len(services) == 0 {
		return fmt.Errorf("%w: registry contains no services", ErrInvalidRegistry)
	}

	seen := make(map[string]bool, len(services))
	for i, svc := range services {
		if strings.TrimSpace(svc.Name) == "" {
			return fmt.Errorf("%w: service %d: name is required", ErrInvalidRegistry, i)
		}
		if err := ValidName(svc.Name); err != nil {
			return fmt.Errorf("%w: service %d: %v", ErrInvalidRegistry, i, err)
		}
		if seen[svc.Name] {
			return fmt.Errorf("%w: service %q: duplicate name", ErrInvalidRegistry, svc.Name)
		}
		seen[svc.Name] = true

		if svc.Image == "" {
			return fmt.Errorf("%w: service %q: image is required", ErrInvalidRegistry, svc.Name)
		}
		if _, err := reference.ParseNormalizedNamed(svc.Image); err != nil {
			return fmt.Errorf("%w: service %q: image %q: %v", ErrInvalidRegistry, svc.Name, svc.Image, err)
		}

		if _, err := ParsePortMapping(svc.Port); err != nil {
			return fmt.Errorf("%w: service %q: %v", ErrInvalidRegistry, svc.Name, err)
		}
	}

	return nil
}
