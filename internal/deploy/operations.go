package deploy

import (
	"context"
	"sort"

	"github.com/nholik/smso/internal/channel"
	"github.com/nholik/smso/internal/registry"
)

// StopSingle stops and removes one registered container. Stopping an absent or stopped
// container is not an error, so the message is the same every time; anything the target
// reports back is carried as a warning. Names that are not registered are refused before
// anything is dispatched; when the registry cannot be loaded only the name grammar is checked.
func (o *Orchestrator) StopSingle(ctx context.Context, name string) Result {
	logger := o.logger.With().Str("service", name).Logger()
	if err := registry.ValidName(name); err != nil {
		logger.Warn().Err(err).Msg("stop refused")
		return Result{Kind: KindServiceNotFound, Service: name, Message: notFoundMessage(name)}
	}
	result := Result{Kind: KindOK, Service: name, Message: stoppedMessage(name)}

	if reg, err := o.source.Load(ctx); err != nil {
		result.warn("registry unavailable, stopping unchecked name: %v", err)
	} else if _, err := reg.Lookup(name); err != nil {
		logger.Warn().Msg("stop refused for unregistered service")
		return Result{Kind: KindServiceNotFound, Service: name, Message: notFoundMessage(name)}
	}

	release, err := o.leases.Acquire(ctx, name)
	if err != nil {
		logger.Warn().Err(err).Msg("stop lease not acquired")
		return Result{Kind: KindBusy, Service: name, Message: stopBusyMessage(name)}
	}
	defer release()

	inv := o.dispatch(ctx, "stop "+name, o.docker.Stop(name), o.docker.Remove(name))
	stopWarnings(&result, inv)
	logger.Info().Strs("warnings", result.Warnings).Msg(result.Message)
	return result
}

// StopAll stops every container on the target while holding the leases of all registered
// services. A registry that cannot be loaded only means no leases are taken.
func (o *Orchestrator) StopAll(ctx context.Context) Result {
	result := Result{Kind: KindOK, Message: allStoppedMessage}

	var names []string
	if reg, err := o.source.Load(ctx); err != nil {
		result.warn("registry unavailable, stopping without leases: %v", err)
	} else {
		names = reg.Names()
	}
	// Fixed order so two StopAll calls cannot deadlock each other.
	sort.Strings(names)

	for _, name := range names {
		release, err := o.leases.Acquire(ctx, name)
		if err != nil {
			o.logger.Warn().Err(err).Str("service", name).Msg("stop-all lease not acquired")
			return Result{Kind: KindBusy, Message: stopBusyMessage(name)}
		}
		defer release()
	}

	inv := o.dispatch(ctx, "stop all", o.docker.StopAll())
	stopWarnings(&result, inv)
	o.logger.Info().Strs("warnings", result.Warnings).Msg(result.Message)
	return result
}

// Rollback restores a registered service from its stable snapshot on demand.
func (o *Orchestrator) Rollback(ctx context.Context, name string) Result {
	reg, err := o.source.Load(ctx)
	if err != nil {
		return Result{Kind: KindRegistryError, Service: name, Message: registryErrorMessage(err)}
	}
	svc, err := reg.Lookup(name)
	if err != nil {
		return Result{Kind: KindServiceNotFound, Service: name, Message: notFoundMessage(name)}
	}

	logger := o.logger.With().Str("service", name).Logger()
	release, err := o.leases.Acquire(ctx, name)
	if err != nil {
		return o.finish(ctx, logger, Result{Kind: KindBusy, Service: name, Message: busyMessage(name)})
	}
	defer release()

	result := Result{Service: name}
	lookup := o.dispatch(ctx, "stable image "+name, o.docker.ImageID(svc.StableTag()))
	switch lookup.Outcome() {
	case channel.OutcomeUnreachable:
		return o.finish(ctx, logger, transportFailure(result))
	case channel.OutcomeSucceeded:
	default:
		result.Kind = KindUnknownOutcome
		result.Message = unknownOutcomeMessage(name)
		return o.finish(ctx, logger, result)
	}
	if lookup.Output() == "" {
		result.Kind = KindRollbackUnavailable
		result.Message = noStableMessage(name)
		return o.finish(ctx, logger, result)
	}

	restore := o.dispatch(ctx, "rollback "+name,
		o.docker.Stop(name),
		o.docker.Remove(name),
		o.docker.Run(name, svc.Port, svc.StableTag()),
	)
	switch restore.Outcome() {
	case channel.OutcomeUnreachable:
		return o.finish(ctx, logger, transportFailure(result))
	case channel.OutcomeSucceeded:
	default:
		result.warn("rollback commands finished with status %s", restore.Status)
	}

	result.Kind = KindOK
	result.Message = rolledBackMessage(name)
	result.Image = svc.StableTag()
	return o.finish(ctx, logger, result)
}

func stopWarnings(result *Result, inv channel.Invocation) {
	switch inv.Outcome() {
	case channel.OutcomeSucceeded:
	case channel.OutcomeUnreachable:
		result.warn("target unreachable")
	case channel.OutcomeUnknown:
		result.warn("stop outcome unknown")
	default:
		result.warn("stop commands finished with status %s", inv.Status)
	}
}
