package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
)

var composeFileNames = []string{
	"compose.yaml",
	"compose.yml",
	"docker-compose.yaml",
	"docker-compose.yml",
}

// IsComposeFile reports whether a registry location names a compose file.
func IsComposeFile(name string) bool {
	base := strings.ToLower(filepath.Base(name))
	for _, candidate := range composeFileNames {
		if base == candidate {
			return true
		}
	}
	return strings.HasSuffix(base, ".compose.yml") || strings.HasSuffix(base, ".compose.yaml")
}

// FromCompose converts compose services into registry entries ordered by name.
// Each service publishes its first port mapping.
func FromCompose(ctx context.Context, body []byte) ([]Service, error) {
	if len(body) == 0 {
		return nil, errors.New("compose body is empty")
	}

	details := types.ConfigDetails{
		WorkingDir: ".",
		ConfigFiles: []types.ConfigFile{
			{
				Filename: "compose.yml",
				Content:  body,
			},
		},
		Environment: types.Mapping{},
	}

	project, err := loader.LoadWithContext(ctx, details, func(opts *loader.Options) {
		opts.SetProjectName("smso", false)
		opts.SkipConsistencyCheck = true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: load compose: %v", ErrInvalidRegistry, err)
	}
	if len(project.Services) == 0 {
		return nil, fmt.Errorf("%w: compose has no services", ErrInvalidRegistry)
	}

	names := make([]string, 0, len(project.Services))
	for name := range project.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	services := make([]Service, 0, len(names))
	for _, name := range names {
		svc := project.Services[name]
		if svc.Image == "" {
			return nil, fmt.Errorf("%w: service %q missing image", ErrInvalidRegistry, name)
		}
		port, err := firstPublishedPort(svc.Ports)
		if err != nil {
			return nil, fmt.Errorf("%w: service %q: %v", ErrInvalidRegistry, name, err)
		}
		services = append(services, Service{
			Name:  name,
			Image: svc.Image,
			Port:  port,
		})
	}

	return services, nil
}

func firstPublishedPort(ports []types.ServicePortConfig) (string, error) {
	for _, p := range ports {
		if p.Target == 0 {
			continue
		}
		if p.Published == "" {
			return fmt.Sprintf("%d", p.Target), nil
		}
		return fmt.Sprintf("%s:%d", p.Published, p.Target), nil
	}
	return "", errors.New("no published port")
}
