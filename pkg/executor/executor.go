// Package executor implements C4: the fixed six-task dispatcher that
// performs the live cutover once the parameter pipeline has prepared a
// deployment (spec.md §4.4). Each state-changing provider call is
// handed to pkg/tracker to poll until terminal; each wait task is
// handed to pkg/health. Advancing from one task to the next is an O(n)
// traversal over the deployment's fixed task list (maestro.TaskAfter),
// gated by a pause check the control plane (C6) sets between tasks.
package executor

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/maestro-deploy/maestro/pkg/cloud"
	"github.com/maestro-deploy/maestro/pkg/health"
	"github.com/maestro-deploy/maestro/pkg/maestro"
	"github.com/maestro-deploy/maestro/pkg/mmetrics"
	"github.com/maestro-deploy/maestro/pkg/store"
	"github.com/maestro-deploy/maestro/pkg/tracker"
	"github.com/maestro-deploy/maestro/pkg/transport"
	"github.com/maestro-deploy/maestro/pkg/userdata"
)

// PauseCheck reports whether the given triple currently has a
// registered pause, consulted between tasks only (spec.md §4.6).
type PauseCheck func(key maestro.Key) bool

// Executor drives one deployment's fixed task sequence to completion.
type Executor struct {
	facade     cloud.Facade
	tracker    *tracker.Tracker
	store      store.Store
	logger     log.Logger
	checker    health.InstanceHealthChecker
	pauseCheck PauseCheck

	// OnFinished is called once, when the deployment reaches a terminal
	// phase (completed or failed); the control plane uses it to clear
	// the in-progress registry.
	OnFinished func(dep *maestro.Deployment)
}

func New(facade cloud.Facade, trk *tracker.Tracker, st store.Store, logger log.Logger, checker health.InstanceHealthChecker, pauseCheck PauseCheck) *Executor {
	return &Executor{facade: facade, tracker: trk, store: st, logger: logger, checker: checker, pauseCheck: pauseCheck}
}

// Start begins executing dep's first task. The caller is expected to
// have already transitioned dep to PhaseDeployment (the pipeline's
// complete-deployment-preparation step).
func (e *Executor) Start(ctx context.Context, dep *maestro.Deployment) {
	if dep.Start == nil {
		now := time.Now().UTC()
		dep.Start = &now
	}
	if len(dep.Tasks) == 0 {
		e.finishDeployment(ctx, dep, true)
		return
	}
	e.runTask(ctx, dep, dep.Tasks[0])
}

// Resume re-enters execution at a specific pending task, used by the
// control plane's resume (spec.md §4.6) and by process restart.
func (e *Executor) Resume(ctx context.Context, dep *maestro.Deployment, task *maestro.Task) {
	e.runTask(ctx, dep, task)
}

func (e *Executor) runTask(ctx context.Context, dep *maestro.Deployment, task *maestro.Task) {
	now := time.Now().UTC()
	task.Start = &now
	task.Status = maestro.TaskRunning
	if err := e.store.StoreTask(ctx, dep.ID, task); err != nil {
		e.logger.Log("task", task.ID, "err", errors.Wrap(err, "persisting task start"))
	}

	switch task.Action {
	case maestro.ActionCreateASG:
		e.doCreateASG(ctx, dep, task)
	case maestro.ActionWaitInstanceHealth:
		e.doWaitInstanceHealth(ctx, dep, task)
	case maestro.ActionEnableASG:
		e.doEnableASG(ctx, dep, task)
	case maestro.ActionWaitELBHealth:
		e.doWaitELBHealth(ctx, dep, task)
	case maestro.ActionDisableASG:
		e.doDisableASG(ctx, dep, task)
	case maestro.ActionDeleteASG:
		e.doDeleteASG(ctx, dep, task)
	}
}

// -- create-asg / enable-asg / disable-asg / delete-asg --

func (e *Executor) doCreateASG(ctx context.Context, dep *maestro.Deployment, task *maestro.Task) {
	params := dep.NewState.Tyranitar.DeploymentParams
	create := cloud.CreateASGParams{
		ApplicationName:         dep.Application,
		AutoScalingGroupName:    dep.NewState.AutoScalingGroupName,
		LaunchConfigurationName: dep.NewState.LaunchConfigurationName,
		ImageID:                 dep.NewState.ImageDetails.ID,
		InstanceType:            paramString(params, "instance-type", "t1.micro"),
		SecurityGroupIDs:        dep.NewState.SelectedSecurityGroupIDs,
		AvailabilityZones:       dep.NewState.AvailabilityZones,
		VPCZoneIdentifier:       dep.NewState.VPCZoneIdentifier,
		VPCID:                   dep.NewState.VPCID,
		SelectedLoadBalancers:   paramStringSlice(params, "selected-load-balancers"),
		MinSize:                 paramInt(params, "min", 1),
		MaxSize:                 paramInt(params, "max", 1),
		DesiredCapacity:         paramInt(params, "desired-capacity", 1),
		DefaultCooldown:         paramInt(params, "default-cooldown", 10),
		HealthCheckType:         paramString(params, "health-check-type", "EC2"),
		HealthCheckGracePeriod:  paramInt(params, "health-check-grace-period", 600),
		TerminationPolicies:     dep.NewState.TerminationPolicies,
		UserData:                userdata.Encode(dep.NewState.UserData),
		Tags:                    tagParams(dep.NewState.AutoScalingGroupTags),
		BlockDeviceMappings:     blockDeviceParams(dep.NewState.BlockDeviceMappings),
	}
	handle, err := e.facade.CreateASG(ctx, dep.Region, create)
	e.handleCallResult(ctx, dep, task, "create-asg", handle, err)
}

func (e *Executor) doEnableASG(ctx context.Context, dep *maestro.Deployment, task *maestro.Task) {
	handle, err := e.facade.EnableASG(ctx, dep.Region, dep.NewState.AutoScalingGroupName)
	e.handleCallResult(ctx, dep, task, "enable-asg", handle, err)
}

func (e *Executor) doDisableASG(ctx context.Context, dep *maestro.Deployment, task *maestro.Task) {
	if dep.PreviousState == nil {
		e.completeNoOp(ctx, dep, task)
		return
	}
	handle, err := e.facade.DisableASG(ctx, dep.Region, dep.PreviousState.AutoScalingGroupName)
	e.handleCallResult(ctx, dep, task, "disable-asg", handle, err)
}

func (e *Executor) doDeleteASG(ctx context.Context, dep *maestro.Deployment, task *maestro.Task) {
	if dep.PreviousState == nil {
		e.completeNoOp(ctx, dep, task)
		return
	}
	handle, err := e.facade.DeleteASG(ctx, dep.Region, dep.PreviousState.AutoScalingGroupName)
	e.handleCallResult(ctx, dep, task, "delete-asg", handle, err)
}

// handleCallResult applies the remote-call error policy (spec.md §4.4):
// any non-302 status or a missing ASG is fatal and not retried; a
// successful call either resolves synchronously (handle.TerminalStatus
// set) or hands the new remote task to the tracker.
func (e *Executor) handleCallResult(ctx context.Context, dep *maestro.Deployment, task *maestro.Task, operation string, handle cloud.TaskHandle, err error) {
	if err != nil {
		e.failFatal(ctx, dep, task, remoteCallErrorMessage(operation, err))
		return
	}
	if handle.ASGName != "" && task.Action == maestro.ActionCreateASG {
		dep.NewState.AutoScalingGroupName = handle.ASGName
	}
	if handle.TerminalStatus != "" {
		e.onTaskComplete(ctx, dep, task)
		return
	}

	task.Remote = &maestro.Remote{ID: handle.ID, URL: handle.URL}
	if err := e.store.StoreTask(ctx, dep.ID, task); err != nil {
		e.logger.Log("task", task.ID, "err", errors.Wrap(err, "persisting remote task handle"))
	}
	e.tracker.Track(ctx, dep.ID, task, tracker.DefaultMaxDuration, tracker.Callbacks{
		OnComplete: func(depID string, t *maestro.Task) { e.onTaskComplete(ctx, dep, t) },
		OnTimeout: func(depID string, t *maestro.Task) {
			e.failFatal(ctx, dep, t, fmt.Sprintf("%s timed out", operation))
		},
	})
}

func remoteCallErrorMessage(operation string, err error) string {
	var ce *transport.ClassifiedError
	if errors.As(err, &ce) {
		if ce.StatusCode == 404 {
			return "Auto Scaling Group does not exist."
		}
		return fmt.Sprintf("Unexpected status while %s: %d", operation, ce.StatusCode)
	}
	return fmt.Sprintf("%s: %s", operation, err)
}

// -- wait-for-instance-health / wait-for-elb-health --

func (e *Executor) doWaitInstanceHealth(ctx context.Context, dep *maestro.Deployment, task *maestro.Task) {
	instances, err := e.facade.DescribeASGInstances(ctx, dep.Region, dep.NewState.AutoScalingGroupName)
	if err != nil {
		e.failFatal(ctx, dep, task, remoteCallErrorMessage("wait-for-instance-health", err))
		return
	}
	props := dep.NewState.Tyranitar.ApplicationProperties
	port := applicationPropertyInt(props, "service.port", 8080)
	path := applicationPropertyString(props, "service.healthcheck.path", "/healthcheck")
	attempts := paramInt(dep.NewState.Tyranitar.DeploymentParams, "instance-healthy-attempts", 50)

	health.WaitInstances(ctx, e.logger, e.checker, instances, port, path, attempts, health.Callbacks{
		OnComplete: func() { e.onTaskComplete(ctx, dep, task) },
		OnTimeout:  func() { e.failFatal(ctx, dep, task, "instances did not become healthy within budget") },
	})
}

func (e *Executor) doWaitELBHealth(ctx context.Context, dep *maestro.Deployment, task *maestro.Task) {
	params := dep.NewState.Tyranitar.DeploymentParams
	lbNames := paramStringSlice(params, "selected-load-balancers")
	healthCheckType := paramString(params, "health-check-type", "EC2")
	if len(lbNames) == 0 || healthCheckType != "ELB" {
		e.completeNoOp(ctx, dep, task)
		return
	}

	instances, err := e.facade.DescribeASGInstances(ctx, dep.Region, dep.NewState.AutoScalingGroupName)
	if err != nil {
		e.failFatal(ctx, dep, task, remoteCallErrorMessage("wait-for-elb-health", err))
		return
	}
	ids := make([]string, len(instances))
	for i, inst := range instances {
		ids[i] = inst.ID
	}
	attempts := paramInt(params, "load-balancer-healthy-attempts", 50)

	health.WaitELB(ctx, e.logger, e.facade, dep.Region, lbNames, ids, attempts, health.Callbacks{
		OnComplete: func() { e.onTaskComplete(ctx, dep, task) },
		OnTimeout:  func() { e.failFatal(ctx, dep, task, "load balancers did not report all instances healthy within budget") },
	})
}

// -- transitions --

func (e *Executor) completeNoOp(ctx context.Context, dep *maestro.Deployment, task *maestro.Task) {
	e.onTaskComplete(ctx, dep, task)
}

// onTaskComplete implements the transition rule of spec.md §4.4: stamp
// end, mark completed, persist, then locate and start the next task by
// O(n) traversal; if none remains the deployment is finished. The pause
// gate is checked here, between tasks, never within one.
func (e *Executor) onTaskComplete(ctx context.Context, dep *maestro.Deployment, task *maestro.Task) {
	// The create-asg 302 sometimes names the task show page rather than
	// the new ASG's own show page (spec.md §4.4); when that happens the
	// name is never in the Location header at all, only announced in
	// the task's own log once it goes terminal.
	if task.Action == maestro.ActionCreateASG {
		if name, ok := asgNameFromLog(task.Log); ok {
			dep.NewState.AutoScalingGroupName = name
		}
	}

	// The tracker (or a health waiter) may have already stamped End and
	// Status on this same *Task before invoking this callback; restamping
	// here would give the store a second, different End for one task,
	// tripping memstore's monotone-End check for no reason.
	if task.Status != maestro.TaskCompleted {
		now := time.Now().UTC()
		task.End = &now
		task.Status = maestro.TaskCompleted
		if err := e.store.StoreTask(ctx, dep.ID, task); err != nil {
			e.logger.Log("task", task.ID, "err", errors.Wrap(err, "persisting completed task"))
		}
	}
	observeTaskDuration(task, true)

	next := maestro.TaskAfter(dep, task.ID)
	if next == nil {
		e.finishDeployment(ctx, dep, true)
		return
	}

	if e.pauseCheck != nil && e.pauseCheck(maestro.KeyOf(dep)) {
		dep.Status = maestro.StatusPaused
		if err := e.store.StoreDeployment(ctx, dep); err != nil {
			e.logger.Log("deployment", dep.ID, "err", errors.Wrap(err, "persisting paused deployment"))
		}
		return
	}

	e.runTask(ctx, dep, next)
}

// failFatal implements the timeout/fatal half of the transition rule:
// stamp end, mark failed, persist, and do not advance.
func (e *Executor) failFatal(ctx context.Context, dep *maestro.Deployment, task *maestro.Task, cause string) {
	now := time.Now().UTC()
	// As in onTaskComplete: a terminal status already means the tracker
	// stamped End and the real (failed vs. terminated) status itself.
	if task.Status != maestro.TaskFailed && task.Status != maestro.TaskTerminated {
		task.End = &now
		task.Status = maestro.TaskFailed
		if err := e.store.StoreTask(ctx, dep.ID, task); err != nil {
			e.logger.Log("task", task.ID, "err", errors.Wrap(err, "persisting failed task"))
		}
	}
	observeTaskDuration(task, false)

	dep.Phase = maestro.PhaseFailed
	dep.Status = maestro.StatusFailed
	dep.FailureCause = cause
	dep.End = &now
	if err := e.store.StoreDeployment(ctx, dep); err != nil {
		e.logger.Log("deployment", dep.ID, "err", errors.Wrap(err, "persisting failed deployment"))
	}
	e.finishDeployment(ctx, dep, false)
}

func (e *Executor) finishDeployment(ctx context.Context, dep *maestro.Deployment, success bool) {
	if success {
		dep.Phase = maestro.PhaseCompleted
		dep.Status = maestro.StatusCompleted
		now := time.Now().UTC()
		dep.End = &now
		if err := e.store.StoreDeployment(ctx, dep); err != nil {
			e.logger.Log("deployment", dep.ID, "err", errors.Wrap(err, "persisting completed deployment"))
		}
	}
	if dep.Start != nil && dep.End != nil {
		deploymentDuration.With(mmetrics.LabelSuccess, strconv.FormatBool(success)).Observe(dep.End.Sub(*dep.Start).Seconds())
	}
	if e.OnFinished != nil {
		e.OnFinished(dep)
	}
}

func observeTaskDuration(task *maestro.Task, success bool) {
	if task.Start == nil || task.End == nil {
		return
	}
	taskDuration.With(mmetrics.LabelAction, string(task.Action), mmetrics.LabelSuccess, strconv.FormatBool(success)).Observe(task.End.Sub(*task.Start).Seconds())
}

// createASGLogRe matches the Asgard-style task log line that announces
// the group's name when a create-asg call resolved via the async task
// path rather than a synchronous Location redirect (spec.md §4.4).
var createASGLogRe = regexp.MustCompile(`Creating auto scaling group '([^']+)'`)

func asgNameFromLog(log []maestro.LogLine) (string, bool) {
	for _, line := range log {
		if m := createASGLogRe.FindStringSubmatch(line.Message); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func tagParams(tags []maestro.Tag) []cloud.TagParam {
	out := make([]cloud.TagParam, 0, len(tags))
	for _, t := range tags {
		out = append(out, cloud.TagParam{
			Key:               t.Key,
			Value:             t.Value,
			PropagateAtLaunch: t.PropagateAtLaunch,
			ResourceType:      t.ResourceType,
			ResourceID:        t.ResourceID,
		})
	}
	return out
}

func blockDeviceParams(mappings []maestro.BlockDeviceMapping) []cloud.BlockDeviceMappingParam {
	out := make([]cloud.BlockDeviceMappingParam, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, cloud.BlockDeviceMappingParam{
			DeviceName:  m.DeviceName,
			VirtualName: m.VirtualName,
			VolumeSize:  m.VolumeSize,
			VolumeType:  m.VolumeType,
		})
	}
	return out
}
