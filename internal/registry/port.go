package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"
)

// PortMapping is a parsed "host:container" publish rule.
type PortMapping struct {
	HostPort      int
	ContainerPort int
	Protocol      string
}

// ParsePortMapping parses a docker publish spec. A bare port publishes on the same host port.
func ParsePortMapping(spec string) (PortMapping, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return PortMapping{}, fmt.Errorf("port mapping is required")
	}

	exposed, bindings, err := nat.ParsePortSpecs([]string{spec})
	if err != nil {
		return PortMapping{}, fmt.Errorf("port mapping %q: %w", spec, err)
	}
	if len(exposed) != 1 {
		return PortMapping{}, fmt.Errorf("port mapping %q: ranges are not supported", spec)
	}

	for port := range exposed {
		containerPort := port.Int()
		hostPort := containerPort
		if published := bindings[port]; len(published) > 0 && published[0].HostPort != "" {
			parsed, err := strconv.Atoi(published[0].HostPort)
			if err != nil {
				return PortMapping{}, fmt.Errorf("port mapping %q: host port: %w", spec, err)
			}
			hostPort = parsed
		}
		if hostPort <= 0 || containerPort <= 0 {
			return PortMapping{}, fmt.Errorf("port mapping %q: ports must be positive", spec)
		}
		return PortMapping{HostPort: hostPort, ContainerPort: containerPort, Protocol: port.Proto()}, nil
	}

	return PortMapping{}, fmt.Errorf("port mapping %q: no port found", spec)
}
