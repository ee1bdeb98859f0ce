package state

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/nholik/smso/internal/channel"
	"github.com/nholik/smso/internal/dockercmd"
	"github.com/nholik/smso/internal/health"
)

// RemoteLogFile is the health log file name inside the remote log directory.
const RemoteLogFile = "health_log.json"

// RemoteHealthLog appends one JSON object per line to a file on the target.
type RemoteHealthLog struct {
	channel channel.Channel
	dir     string
	timeout time.Duration
}

// NewRemoteHealthLog builds a log under dir on the target.
func NewRemoteHealthLog(ch channel.Channel, dir string, timeout time.Duration) *RemoteHealthLog {
	return &RemoteHealthLog{channel: ch, dir: dir, timeout: timeout}
}

// File returns the remote log path.
func (l *RemoteHealthLog) File() string {
	return path.Join(l.dir, RemoteLogFile)
}

// Ensure creates the log directory and file.
func (l *RemoteHealthLog) Ensure(ctx context.Context) error {
	return l.dispatch(ctx, "ensure health log", dockercmd.EnsureFile(l.dir, l.File()))
}

// Append writes one record as a line.
func (l *RemoteHealthLog) Append(ctx context.Context, record health.Record) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode health record: %w", err)
	}
	return l.dispatch(ctx, "append health log", []string{dockercmd.AppendLine(l.File(), line)})
}

func (l *RemoteHealthLog) dispatch(ctx context.Context, comment string, commands []string) error {
	inv := l.channel.Dispatch(ctx, channel.Batch{Commands: commands, Timeout: l.timeout, Comment: comment})
	switch inv.Outcome() {
	case channel.OutcomeSucceeded:
		return nil
	case channel.OutcomeUnreachable:
		return fmt.Errorf("%s: %w", comment, channel.ErrUnreachable)
	default:
		return fmt.Errorf("%s: command %s: %s", comment, inv.Status, inv.Stderr)
	}
}
