package channel

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"
)

const (
	runShellDocument = "AWS-RunShellScript"
	// SSM rejects execution timeouts below 30 seconds.
	minTimeoutSeconds = 30
)

// ssmAPI is the subset of the SSM client the backend calls.
type ssmAPI interface {
	SendCommand(ctx context.Context, params *ssm.SendCommandInput, optFns ...func(*ssm.Options)) (*ssm.SendCommandOutput, error)
	GetCommandInvocation(ctx context.Context, params *ssm.GetCommandInvocationInput, optFns ...func(*ssm.Options)) (*ssm.GetCommandInvocationOutput, error)
}

var _ ssmAPI = (*ssm.Client)(nil)

// SSM runs batches on one EC2 instance through AWS Systems Manager Run Command.
type SSM struct {
	api        ssmAPI
	instanceID string
}

// NewSSM loads the default AWS configuration and builds a backend for the instance.
func NewSSM(ctx context.Context, instanceID, region string) (*SSM, error) {
	if instanceID == "" {
		return nil, errors.New("instance id must not be empty")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SSM{api: ssm.NewFromConfig(cfg), instanceID: instanceID}, nil
}

// Target implements Backend.
func (s *SSM) Target() string {
	return s.instanceID
}

// Send implements Backend.
func (s *SSM) Send(ctx context.Context, batch Batch) (string, error) {
	input := &ssm.SendCommandInput{
		InstanceIds:  []string{s.instanceID},
		DocumentName: aws.String(runShellDocument),
		Parameters:   map[string][]string{"commands": batch.Commands},
	}
	if seconds := timeoutSeconds(batch); seconds > 0 {
		input.TimeoutSeconds = aws.Int32(seconds)
	}
	if batch.Comment != "" {
		input.Comment = aws.String(truncate(batch.Comment, 100))
	}

	out, err := s.api.SendCommand(ctx, input)
	if err != nil {
		return "", fmt.Errorf("%w: send command: %v", ErrUnreachable, err)
	}
	if out == nil || out.Command == nil || aws.ToString(out.Command.CommandId) == "" {
		return "", fmt.Errorf("%w: send command returned no command id", ErrUnreachable)
	}
	return aws.ToString(out.Command.CommandId), nil
}

// Fetch implements Backend.
func (s *SSM) Fetch(ctx context.Context, id string) (Invocation, error) {
	out, err := s.api.GetCommandInvocation(ctx, &ssm.GetCommandInvocationInput{
		CommandId:  aws.String(id),
		InstanceId: aws.String(s.instanceID),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "InvocationDoesNotExist":
				return Invocation{}, ErrNotRegistered
			case "InvalidInstanceId":
				return Invocation{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
			}
			return Invocation{}, err
		}
		return Invocation{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	return Invocation{
		ID:     id,
		Target: s.instanceID,
		Status: mapSSMStatus(string(out.Status)),
		Stdout: aws.ToString(out.StandardOutputContent),
		Stderr: aws.ToString(out.StandardErrorContent),

		ResponseCode: int(out.ResponseCode),
	}, nil
}

func mapSSMStatus(status string) Status {
	switch status {
	case "Success":
		return StatusSuccess
	case "Failed":
		return StatusFailed
	case "TimedOut":
		return StatusTimedOut
	case "Cancelled":
		return StatusCancelled
	case "Undeliverable", "Terminated":
		return StatusUnreachable
	default:
		// Pending, InProgress, Delayed, Cancelling.
		return StatusPending
	}
}

func timeoutSeconds(batch Batch) int32 {
	if batch.Timeout <= 0 {
		return 0
	}
	seconds := math.Ceil(batch.Timeout.Seconds())
	if seconds < minTimeoutSeconds {
		seconds = minTimeoutSeconds
	}
	if seconds > math.MaxInt32 {
		seconds = math.MaxInt32
	}
	return int32(seconds)
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
