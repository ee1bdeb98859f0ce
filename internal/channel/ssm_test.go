package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"
)

type mockSSM struct {
	sendFn  func(ctx context.Context, params *ssm.SendCommandInput) (*ssm.SendCommandOutput, error)
	fetchFn func(ctx context.Context, params *ssm.GetCommandInvocationInput) (*ssm.GetCommandInvocationOutput, error)
}

func (m *mockSSM) SendCommand(ctx context.Context, params *ssm.SendCommandInput, _ ...func(*ssm.Options)) (*ssm.SendCommandOutput, error) {
	return m.sendFn(ctx, params)
}

func (m *mockSSM) GetCommandInvocation(ctx context.Context, params *ssm.GetCommandInvocationInput, _ ...func(*ssm.Options)) (*ssm.GetCommandInvocationOutput, error) {
	return m.fetchFn(ctx, params)
}

func TestSSM_SendBuildsRunShellScript(t *testing.T) {
	t.Parallel()

	var captured *ssm.SendCommandInput
	backend := &SSM{
		instanceID: "i-0abc",
		api: &mockSSM{
			sendFn: func(_ context.Context, params *ssm.SendCommandInput) (*ssm.SendCommandOutput, error) {
				captured = params
				return &ssm.SendCommandOutput{Command: &ssmtypes.Command{CommandId: aws.String("cmd-42")}}, nil
			},
		},
	}

	id, err := backend.Send(context.Background(), Batch{
		Commands: []string{"docker ps"},
		Timeout:  5 * time.Second,
		Comment:  "status api",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "cmd-42" {
		t.Fatalf("unexpected id %q", id)
	}
	if aws.ToString(captured.DocumentName) != "AWS-RunShellScript" {
		t.Fatalf("unexpected document %q", aws.ToString(captured.DocumentName))
	}
	if len(captured.InstanceIds) != 1 || captured.InstanceIds[0] != "i-0abc" {
		t.Fatalf("unexpected instance ids %v", captured.InstanceIds)
	}
	if got := captured.Parameters["commands"]; len(got) != 1 || got[0] != "docker ps" {
		t.Fatalf("unexpected commands %v", got)
	}
	if aws.ToInt32(captured.TimeoutSeconds) != minTimeoutSeconds {
		t.Fatalf("expected timeout clamped to %d, got %d", minTimeoutSeconds, aws.ToInt32(captured.TimeoutSeconds))
	}
}

func TestSSM_SendErrorIsUnreachable(t *testing.T) {
	t.Parallel()

	backend := &SSM{
		instanceID: "i-0abc",
		api: &mockSSM{
			sendFn: func(context.Context, *ssm.SendCommandInput) (*ssm.SendCommandOutput, error) {
				return nil, &smithy.GenericAPIError{Code: "InvalidInstanceId", Message: "instance stopped"}
			},
		},
	}

	if _, err := backend.Send(context.Background(), Batch{Commands: []string{"true"}}); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestSSM_FetchMapsStatusAndErrors(t *testing.T) {
	t.Parallel()

	responses := []struct {
		out *ssm.GetCommandInvocationOutput
		err error
	}{
		{err: &smithy.GenericAPIError{Code: "InvocationDoesNotExist"}},
		{out: &ssm.GetCommandInvocationOutput{Status: ssmtypes.CommandInvocationStatusInProgress}},
		{out: &ssm.GetCommandInvocationOutput{
			Status:                ssmtypes.CommandInvocationStatusFailed,
			StandardOutputContent: aws.String("out"),
			StandardErrorContent:  aws.String("boom"),
		}},
		{err: &smithy.GenericAPIError{Code: "InvalidInstanceId"}},
		{err: &smithy.GenericAPIError{Code: "ThrottlingException"}},
		{err: errors.New("dial tcp: i/o timeout")},
	}
	call := 0
	backend := &SSM{
		instanceID: "i-0abc",
		api: &mockSSM{
			fetchFn: func(_ context.Context, params *ssm.GetCommandInvocationInput) (*ssm.GetCommandInvocationOutput, error) {
				if aws.ToString(params.InstanceId) != "i-0abc" || aws.ToString(params.CommandId) != "cmd-1" {
					t.Errorf("unexpected params %+v", params)
				}
				r := responses[call]
				call++
				return r.out, r.err
			},
		},
	}

	if _, err := backend.Fetch(context.Background(), "cmd-1"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	inv, err := backend.Fetch(context.Background(), "cmd-1")
	if err != nil || inv.Status != StatusPending {
		t.Fatalf("expected pending, got %+v (%v)", inv, err)
	}
	inv, err = backend.Fetch(context.Background(), "cmd-1")
	if err != nil || inv.Status != StatusFailed || inv.Stdout != "out" || inv.Stderr != "boom" {
		t.Fatalf("expected failed with output, got %+v (%v)", inv, err)
	}
	if _, err := backend.Fetch(context.Background(), "cmd-1"); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
	if _, err := backend.Fetch(context.Background(), "cmd-1"); err == nil || errors.Is(err, ErrTransport) {
		t.Fatalf("expected a plain API error, got %v", err)
	}
	if _, err := backend.Fetch(context.Background(), "cmd-1"); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestMapSSMStatus(t *testing.T) {
	t.Parallel()

	cases := map[string]Status{
		"Pending":    StatusPending,
		"InProgress": StatusPending,
		"Delayed":    StatusPending,
		"Cancelling": StatusPending,
		"Success":    StatusSuccess,
		"Failed":     StatusFailed,
		"TimedOut":   StatusTimedOut,
		"Cancelled":  StatusCancelled,
	}
	for input, want := range cases {
		if got := mapSSMStatus(input); got != want {
			t.Errorf("mapSSMStatus(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestNewSSM_RequiresInstance(t *testing.T) {
	t.Parallel()

	if _, err := NewSSM(context.Background(), "", "us-east-1"); err == nil {
		t.Fatalf("expected error for empty instance id")
	}
}
