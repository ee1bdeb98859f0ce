package dockercmd

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nholik/smso/internal/channel"
	"github.com/rs/zerolog"
)

func TestBuilder_Commands(t *testing.T) {
	t.Parallel()

	sudo := Builder{Sudo: true}
	plain := Builder{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"stop", sudo.Stop("api"), "sudo docker stop 'api' || true"},
		{"remove", sudo.Remove("api"), "sudo docker rm 'api' || true"},
		{"pull", sudo.Pull("acme/api:1"), "sudo docker pull 'acme/api:1'"},
		{"run", sudo.Run("api", "8080:80", "acme/api:1"), "sudo docker run -d --name 'api' -p '8080:80' 'acme/api:1'"},
		{"list names", plain.ListNames("api"), "docker ps --filter 'name=api' --format '{{.Names}}'"},
		{"commit", sudo.Commit("api", "api_stable"), "sudo docker commit 'api' 'api_stable'"},
		{"image id", plain.ImageID("api_stable"), "docker images -q 'api_stable'"},
		{"inspect running", plain.InspectRunning("api"), "docker inspect -f '{{.State.Running}}|{{.State.StartedAt}}' 'api' 2>/dev/null || echo 'false|NA'"},
		{"inspect state", plain.InspectState("api"), "docker inspect --format '{{json .State}}' 'api'"},
		{"running for", plain.RunningFor("api"), "docker ps --filter 'name=api' --format '{{.RunningFor}}'"},
		{"image", plain.Image("api"), "docker ps --filter 'name=api' --format '{{.Image}}'"},
		{"stop all", sudo.StopAll(), "sudo docker stop $(sudo docker ps -aq) || true"},
		{"probe", Probe(8080, 5), "curl -sS --fail --max-time 5 http://localhost:8080/healthz || echo __HEALTH_FAIL__"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s:\n got %q\nwant %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestProbe_DefaultsTimeout(t *testing.T) {
	t.Parallel()

	if got := Probe(80, 0); !strings.Contains(got, "--max-time 5 ") {
		t.Fatalf("expected default timeout, got %q", got)
	}
}

func TestQuote_EscapesSingleQuotes(t *testing.T) {
	t.Parallel()

	if got := Quote("it's"); got != `'it'\''s'` {
		t.Fatalf("unexpected quoting: %s", got)
	}
}

func TestAppendLine_EncodesPayload(t *testing.T) {
	t.Parallel()

	line := []byte(`{"service":"api","result":"it's fine"}`)
	cmd := AppendLine("/var/log/smso/health.json", line)

	fields := strings.Fields(cmd)
	if len(fields) != 7 || fields[0] != "echo" || fields[2] != "|" {
		t.Fatalf("unexpected command shape: %q", cmd)
	}
	decoded, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if string(decoded) != string(line)+"\n" {
		t.Fatalf("unexpected payload: %q", decoded)
	}
	if !strings.HasSuffix(cmd, ">> '/var/log/smso/health.json'") {
		t.Fatalf("unexpected target: %q", cmd)
	}
}

func TestBuilder_NamesCannotEscapeQuoting(t *testing.T) {
	t.Parallel()

	b := Builder{Sudo: true}
	hostile := "x; touch /tmp/owned #"
	commands := []string{
		b.Stop(hostile),
		b.Remove(hostile),
		b.Pull(hostile),
		b.Run(hostile, "8080:80", hostile),
		b.Commit(hostile, hostile+"_stable"),
		b.ImageID(hostile),
		b.InspectRunning(hostile),
		b.InspectState(hostile),
		b.ListNames(hostile),
	}
	for _, cmd := range commands {
		if strings.Contains(cmd, " "+hostile) {
			t.Errorf("unquoted value in %q", cmd)
		}
		if !strings.Contains(cmd, "x; touch /tmp/owned #") || !strings.Contains(cmd, "'") {
			t.Errorf("expected quoted value in %q", cmd)
		}
	}

	if got := b.Stop("it's"); got != `sudo docker stop 'it'\''s' || true` {
		t.Errorf("unexpected escaping: %q", got)
	}
}

func TestBuilder_QuotedNameRunsNothingInShell(t *testing.T) {
	t.Parallel()

	marker := filepath.Join(t.TempDir(), "marker")
	poller := channel.NewPoller(channel.NewLocal(), zerolog.Nop(),
		channel.WithInterval(10*time.Millisecond), channel.WithAttempts(500))

	inv := poller.Dispatch(context.Background(), channel.Batch{Commands: []string{
		Builder{}.Stop("nosuch; touch " + marker + " #"),
	}})
	if !inv.Status.Terminal() {
		t.Fatalf("expected the batch to finish, got %s", inv.Status)
	}
	if _, err := os.Stat(marker); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected the name to stay a single argument, marker stat: %v", err)
	}
}
