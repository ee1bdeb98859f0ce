// Package channeltest provides an in-memory target that understands the docker and shell
// command lines the rest of the module dispatches.
package channeltest

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nholik/smso/internal/channel"
)

// Container is the simulated state of one container on the target.
type Container struct {
	Name      string
	Image     string
	Port      string
	Running   bool
	StartedAt string
	// Health mirrors docker's HEALTHCHECK status; empty when the image defines none.
	Health string
}

// Target is a scripted docker host. The zero value is not usable; call New.
type Target struct {
	mu sync.Mutex

	now         func() time.Time
	reachable   bool
	containers  map[string]*Container
	images      map[string]string
	pullFail    map[string]bool
	crash       map[string]bool
	healthy     map[string]bool
	commitFail  bool
	files       map[string][]string
	batches     []channel.Batch
	invocations int
}

// New returns a reachable target with no containers or images.
func New() *Target {
	return &Target{
		now:        func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
		reachable:  true,
		containers: make(map[string]*Container),
		images:     make(map[string]string),
		pullFail:   make(map[string]bool),
		crash:      make(map[string]bool),
		healthy:    make(map[string]bool),
		files:      make(map[string][]string),
	}
}

// SetReachable toggles whether dispatches reach the target.
func (t *Target) SetReachable(reachable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reachable = reachable
}

// SetClock replaces the clock used for container start times.
func (t *Target) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// FailPull makes pulls of image fail.
func (t *Target) FailPull(image string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pullFail[image] = true
}

// CrashOnStart makes containers from image exit right after docker run.
func (t *Target) CrashOnStart(image string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.crash[image] = true
}

// SetHealthy controls /healthz for containers running image. Images default to healthy.
// Snapshot tags inherit the setting of the image they were committed from unless set directly.
func (t *Target) SetHealthy(image string, healthy bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.healthy[image] = healthy
}

// FailCommit makes docker commit fail.
func (t *Target) FailCommit(fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commitFail = fail
}

// AddImage registers a local image tag that resolves to origin.
func (t *Target) AddImage(tag, origin string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.images[tag] = origin
}

// HasImage reports whether a local image tag exists.
func (t *Target) HasImage(tag string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.images[tag]
	return ok
}

// ImageOrigin returns the image a tag was pulled or committed from.
func (t *Target) ImageOrigin(tag string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	origin, ok := t.images[tag]
	return origin, ok
}

// StartContainer seeds a running container.
func (t *Target) StartContainer(name, image, port string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.containers[name] = &Container{
		Name:      name,
		Image:     image,
		Port:      port,
		Running:   true,
		StartedAt: t.now().UTC().Format(time.RFC3339Nano),
	}
}

// SetContainerHealth sets the HEALTHCHECK status docker reports for a container.
func (t *Target) SetContainerHealth(name, health string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.containers[name]; ok {
		c.Health = health
	}
}

// Container returns a copy of the named container.
func (t *Target) Container(name string) (Container, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.containers[name]
	if !ok {
		return Container{}, false
	}
	return *c, true
}

// Lines returns the lines appended to a file on the target.
func (t *Target) Lines(file string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.files[file]...)
}

// Batches returns every dispatched batch in order, including unreachable ones.
func (t *Target) Batches() []channel.Batch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]channel.Batch(nil), t.batches...)
}

// Commands returns every dispatched command in order.
func (t *Target) Commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, batch := range t.batches {
		out = append(out, batch.Commands...)
	}
	return out
}

// Dispatch implements channel.Channel. Commands run in order and the batch status follows
// the exit code of the last one, like a shell script.
func (t *Target) Dispatch(_ context.Context, batch channel.Batch) channel.Invocation {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.batches = append(t.batches, batch)
	if !t.reachable {
		return channel.Unreachable("fake", channel.ErrUnreachable)
	}

	t.invocations++
	var stdout, stderr strings.Builder
	code := 0
	for _, command := range batch.Commands {
		res := t.exec(command)
		stdout.WriteString(res.stdout)
		stderr.WriteString(res.stderr)
		code = res.code
	}

	status := channel.StatusSuccess
	if code != 0 {
		status = channel.StatusFailed
	}
	return channel.Invocation{
		ID:           fmt.Sprintf("fake-%d", t.invocations),
		Target:       "fake",
		Status:       status,
		Stdout:       stdout.String(),
		Stderr:       stderr.String(),
		ResponseCode: code,
		Attempts:     1,
	}
}

type result struct {
	stdout string
	stderr string
	code   int
}

func ok(stdout string) result { return result{stdout: stdout} }

func fail(code int, format string, args ...any) result {
	return result{stderr: fmt.Sprintf(format, args...) + "\n", code: code}
}

func (t *Target) exec(command string) result {
	command = strings.ReplaceAll(command, " 2>/dev/null", "")
	primary, fallback, hasFallback := strings.Cut(command, " || ")

	res := t.execSimple(strings.TrimSpace(primary))
	if res.code == 0 || !hasFallback {
		return res
	}

	fallback = strings.TrimSpace(fallback)
	switch {
	case fallback == "true":
		return result{stdout: res.stdout, stderr: res.stderr}
	case strings.HasPrefix(fallback, "echo "):
		words := split(strings.TrimPrefix(fallback, "echo "))
		return result{stdout: res.stdout + strings.Join(words, " ") + "\n", stderr: res.stderr}
	default:
		return fail(127, "sh: unsupported fallback %q", fallback)
	}
}

func (t *Target) execSimple(command string) result {
	if left, file, isAppend := strings.Cut(command, " | base64 -d >> "); isAppend {
		return t.appendFile(left, file)
	}

	words := split(command)
	if len(words) > 0 && words[0] == "sudo" {
		words = words[1:]
	}
	if len(words) == 0 {
		return ok("")
	}

	switch words[0] {
	case "mkdir":
		return ok("")
	case "touch":
		for _, file := range words[1:] {
			if _, exists := t.files[file]; !exists {
				t.files[file] = nil
			}
		}
		return ok("")
	case "curl":
		return t.curl(words[1:])
	case "docker":
		return t.docker(words[1:])
	case "true":
		return ok("")
	case "false":
		return result{code: 1}
	}
	return fail(127, "sh: %s: not found", words[0])
}

func (t *Target) appendFile(left, file string) result {
	payload := strings.TrimSpace(strings.TrimPrefix(left, "echo "))
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fail(1, "base64: invalid input")
	}
	target := strings.Join(split(file), "")
	for _, line := range strings.Split(strings.TrimSuffix(string(decoded), "\n"), "\n") {
		t.files[target] = append(t.files[target], line)
	}
	return ok("")
}

func (t *Target) curl(args []string) result {
	url := args[len(args)-1]
	hostPort, ok := strings.CutPrefix(url, "http://localhost:")
	if !ok {
		return fail(6, "curl: (6) Could not resolve host")
	}
	hostPort = strings.TrimSuffix(hostPort, "/healthz")

	for _, c := range t.sortedContainers() {
		if !c.Running || publishedPort(c.Port) != hostPort {
			continue
		}
		if t.isHealthy(c.Image) {
			return result{stdout: `{"status":"ok"}`}
		}
		return fail(22, "curl: (22) The requested URL returned error: 503")
	}
	return fail(7, "curl: (7) Failed to connect to localhost port %s: Connection refused", hostPort)
}

func (t *Target) isHealthy(image string) bool {
	for range 8 {
		if healthy, set := t.healthy[image]; set {
			return healthy
		}
		origin, known := t.images[image]
		if !known || origin == image {
			return true
		}
		image = origin
	}
	return true
}

func (t *Target) docker(args []string) result {
	if len(args) == 0 {
		return fail(1, "docker: missing command")
	}
	switch args[0] {
	case "stop":
		return t.stop(args[1:])
	case "rm":
		return t.remove(args[1:])
	case "pull":
		return t.pull(args[1:])
	case "run":
		return t.run(args[1:])
	case "ps":
		return t.ps(args[1:])
	case "commit":
		return t.commit(args[1:])
	case "images":
		return t.imagesQuery(args[1:])
	case "inspect":
		return t.inspect(args[1:])
	}
	return fail(1, "docker: '%s' is not a docker command", args[0])
}

func (t *Target) stop(args []string) result {
	if len(args) > 0 && strings.HasPrefix(args[0], "$(") {
		var names []string
		for _, c := range t.sortedContainers() {
			c.Running = false
			names = append(names, c.Name)
		}
		if len(names) == 0 {
			return fail(1, `"docker stop" requires at least 1 argument.`)
		}
		return ok(strings.Join(names, "\n") + "\n")
	}
	if len(args) != 1 {
		return fail(1, "docker stop: expected one container")
	}
	c, exists := t.containers[args[0]]
	if !exists {
		return fail(1, "Error response from daemon: No such container: %s", args[0])
	}
	c.Running = false
	return ok(c.Name + "\n")
}

func (t *Target) remove(args []string) result {
	if len(args) != 1 {
		return fail(1, "docker rm: expected one container")
	}
	c, exists := t.containers[args[0]]
	if !exists {
		return fail(1, "Error response from daemon: No such container: %s", args[0])
	}
	if c.Running {
		return fail(1, "Error response from daemon: cannot remove container %q: container is running", c.Name)
	}
	delete(t.containers, c.Name)
	return ok(c.Name + "\n")
}

func (t *Target) pull(args []string) result {
	if len(args) != 1 {
		return fail(1, "docker pull: expected one image")
	}
	image := args[0]
	if t.pullFail[image] {
		return fail(1, "Error response from daemon: pull access denied for %s", image)
	}
	t.images[image] = image
	return ok(fmt.Sprintf("Status: Downloaded newer image for %s\n", image))
}

func (t *Target) run(args []string) result {
	var name, port string
	var positional []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-d":
		case "--name":
			i++
			if i < len(args) {
				name = args[i]
			}
		case "-p":
			i++
			if i < len(args) {
				port = args[i]
			}
		default:
			positional = append(positional, args[i])
		}
	}
	if name == "" || len(positional) != 1 {
		return fail(125, "docker run: invalid arguments")
	}
	image := positional[0]
	if _, exists := t.containers[name]; exists {
		return fail(125, "docker: Error response from daemon: Conflict. The container name %q is already in use.", "/"+name)
	}
	if _, exists := t.images[image]; !exists {
		if t.pullFail[image] {
			return fail(125, "Unable to find image '%s' locally", image)
		}
		t.images[image] = image
	}

	t.containers[name] = &Container{
		Name:      name,
		Image:     image,
		Port:      port,
		Running:   !t.crash[image],
		StartedAt: t.now().UTC().Format(time.RFC3339Nano),
	}
	return ok(shortID(name+image) + shortID(image+name) + "\n")
}

func (t *Target) ps(args []string) result {
	var filter, format string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--filter":
			i++
			if i < len(args) {
				filter = strings.TrimPrefix(args[i], "name=")
			}
		case "--format":
			i++
			if i < len(args) {
				format = args[i]
			}
		}
	}

	var b strings.Builder
	if strings.HasPrefix(format, "table ") {
		b.WriteString("NAMES\tIMAGE\tSTATUS\n")
	}
	for _, c := range t.sortedContainers() {
		if !c.Running || !strings.Contains(c.Name, filter) {
			continue
		}
		switch format {
		case "{{.Names}}":
			b.WriteString(c.Name)
		case "{{.Image}}":
			b.WriteString(c.Image)
		case "{{.RunningFor}}":
			b.WriteString("About a minute ago")
		default:
			fmt.Fprintf(&b, "%s\t%s\tUp About a minute", c.Name, c.Image)
		}
		b.WriteString("\n")
	}
	return ok(b.String())
}

func (t *Target) commit(args []string) result {
	if len(args) != 2 {
		return fail(1, "docker commit: expected container and tag")
	}
	c, exists := t.containers[args[0]]
	if !exists {
		return fail(1, "Error response from daemon: No such container: %s", args[0])
	}
	if t.commitFail {
		return fail(1, "Error response from daemon: commit failed")
	}
	t.images[args[1]] = c.Image
	return ok("sha256:" + shortID(args[1]) + "\n")
}

func (t *Target) imagesQuery(args []string) result {
	if len(args) != 2 || args[0] != "-q" {
		return fail(1, "docker images: expected -q <tag>")
	}
	if _, exists := t.images[args[1]]; !exists {
		return ok("")
	}
	return ok(shortID(args[1]) + "\n")
}

func (t *Target) inspect(args []string) result {
	if len(args) != 3 || (args[0] != "-f" && args[0] != "--format") {
		return fail(1, "docker inspect: expected a format and one container")
	}
	format, name := args[1], args[2]
	c, exists := t.containers[name]
	if !exists {
		return fail(1, "Error: No such object: %s", name)
	}

	switch format {
	case "{{.State.Running}}|{{.State.StartedAt}}":
		return ok(strconv.FormatBool(c.Running) + "|" + c.StartedAt + "\n")
	case "{{json .State}}":
		state := map[string]any{
			"Status":    "exited",
			"Running":   c.Running,
			"StartedAt": c.StartedAt,
		}
		if c.Running {
			state["Status"] = "running"
		}
		if c.Health != "" {
			state["Health"] = map[string]any{"Status": c.Health}
		}
		body, _ := json.Marshal(state)
		return ok(string(body) + "\n")
	}
	return fail(1, "docker inspect: unsupported format %q", format)
}

func (t *Target) sortedContainers() []*Container {
	out := make([]*Container, 0, len(t.containers))
	for _, c := range t.containers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func publishedPort(mapping string) string {
	host, _, found := strings.Cut(mapping, ":")
	if !found {
		return mapping
	}
	return host
}

func shortID(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:12]
}

// split breaks a command line into words, honoring single and double quotes.
func split(line string) []string {
	var (
		words   []string
		current strings.Builder
		inWord  bool
		quote   rune
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			current.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				words = append(words, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteRune(r)
			inWord = true
		}
	}
	if inWord {
		words = append(words, current.String())
	}
	return words
}
