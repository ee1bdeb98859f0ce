// Package dockercmd builds the docker CLI command lines sent to the target.
package dockercmd

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// HealthFailMarker is echoed by probes when curl fails.
const HealthFailMarker = "__HEALTH_FAIL__"

// InspectFallback is echoed when the running-state inspect query fails.
const InspectFallback = "false|NA"

// Builder renders docker commands, optionally prefixed with sudo. Every name, image, tag
// and port mapping is single-quoted before it reaches the shell.
type Builder struct {
	Sudo bool
}

func (b Builder) docker(format string, args ...any) string {
	cmd := "docker " + fmt.Sprintf(format, args...)
	if b.Sudo {
		return "sudo " + cmd
	}
	return cmd
}

// Stop stops a container, tolerating its absence.
func (b Builder) Stop(name string) string {
	return b.docker("stop %s || true", Quote(name))
}

// Remove removes a container, tolerating its absence.
func (b Builder) Remove(name string) string {
	return b.docker("rm %s || true", Quote(name))
}

// Pull pulls an image.
func (b Builder) Pull(image string) string {
	return b.docker("pull %s", Quote(image))
}

// Run starts a detached container publishing one port mapping.
func (b Builder) Run(name, port, image string) string {
	return b.docker("run -d --name %s -p %s %s", Quote(name), Quote(port), Quote(image))
}

// ListNames lists running container names matching the name filter.
func (b Builder) ListNames(name string) string {
	return b.docker("ps --filter %s --format %s", Quote("name="+name), Quote("{{.Names}}"))
}

// Commit snapshots a container into an image tag.
func (b Builder) Commit(name, tag string) string {
	return b.docker("commit %s %s", Quote(name), Quote(tag))
}

// ImageID prints the id of a local image, or nothing when absent.
func (b Builder) ImageID(tag string) string {
	return b.docker("images -q %s", Quote(tag))
}

// InspectRunning prints "<running>|<startedAt>" or the fallback when inspect fails.
func (b Builder) InspectRunning(name string) string {
	return b.docker("inspect -f %s %s 2>/dev/null || echo %s",
		Quote("{{.State.Running}}|{{.State.StartedAt}}"), Quote(name), Quote(InspectFallback))
}

// InspectState prints the container state as JSON.
func (b Builder) InspectState(name string) string {
	return b.docker("inspect --format %s %s", Quote("{{json .State}}"), Quote(name))
}

// RunningFor prints how long a matching container has been running.
func (b Builder) RunningFor(name string) string {
	return b.docker("ps --filter %s --format %s", Quote("name="+name), Quote("{{.RunningFor}}"))
}

// Image prints the image of a matching running container.
func (b Builder) Image(name string) string {
	return b.docker("ps --filter %s --format %s", Quote("name="+name), Quote("{{.Image}}"))
}

// StatusTable prints a table of running containers.
func (b Builder) StatusTable() string {
	return b.docker("ps --format %s", Quote("table {{.Names}}\t{{.Image}}\t{{.Status}}"))
}

// StopAll stops every container on the target.
func (b Builder) StopAll() string {
	inner := "docker ps -aq"
	if b.Sudo {
		inner = "sudo " + inner
	}
	return b.docker("stop $(%s) || true", inner)
}

// Probe requests /healthz on the target's published port and echoes the failure marker
// when curl exits non-zero.
func Probe(hostPort int, timeoutSeconds int) string {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 5
	}
	return fmt.Sprintf("curl -sS --fail --max-time %d http://localhost:%d/healthz || echo %s",
		timeoutSeconds, hostPort, HealthFailMarker)
}

// EnsureFile creates a directory and touches a file inside it.
func EnsureFile(dir, file string) []string {
	return []string{
		fmt.Sprintf("mkdir -p %s", Quote(dir)),
		fmt.Sprintf("touch %s", Quote(file)),
	}
}

// AppendLine appends one line to a file. The payload travels base64 encoded so quoting
// inside it cannot break the shell command.
func AppendLine(file string, line []byte) string {
	payload := base64.StdEncoding.EncodeToString(append(append([]byte(nil), line...), '\n'))
	return fmt.Sprintf("echo %s | base64 -d >> %s", payload, Quote(file))
}

// Quote wraps a value in single quotes for sh.
func Quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
