package state

import (
	"context"
	"time"

	"github.com/nholik/smso/internal/health"
)

// TimestampLayout is the deployment log timestamp format.
const TimestampLayout = "2006-01-02 15:04:05"

// DeploymentStatus is the outcome stored for one deploy attempt.
type DeploymentStatus string

const (
	Deployed DeploymentStatus = "deployed"
	Failed   DeploymentStatus = "failed"
)

// DeploymentRecord is one entry of the deployment log.
type DeploymentRecord struct {
	Service   string           `json:"service"`
	Status    DeploymentStatus `json:"status"`
	Image     string           `json:"image,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Timestamp string           `json:"timestamp"`
}

// NewDeployedRecord records a successful deploy of image.
func NewDeployedRecord(service, image string, at time.Time) DeploymentRecord {
	return DeploymentRecord{Service: service, Status: Deployed, Image: image, Timestamp: at.Format(TimestampLayout)}
}

// NewFailedRecord records a failed deploy.
func NewFailedRecord(service, reason string, at time.Time) DeploymentRecord {
	return DeploymentRecord{Service: service, Status: Failed, Reason: reason, Timestamp: at.Format(TimestampLayout)}
}

// DeploymentLog is the append-only deployment history.
type DeploymentLog interface {
	Append(ctx context.Context, records ...DeploymentRecord) error
	History(ctx context.Context) ([]DeploymentRecord, error)
}

// HealthSummary holds the records of the most recent monitor pass only.
type HealthSummary interface {
	Save(ctx context.Context, records []health.Record) error
	Load(ctx context.Context) ([]health.Record, error)
}

// HealthLog is the durable per-record health history kept on the target.
type HealthLog interface {
	Ensure(ctx context.Context) error
	Append(ctx context.Context, record health.Record) error
}
