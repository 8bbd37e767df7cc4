// Package maestro holds the deployment and task records the rest of
// the system operates on. The field set is closed deliberately: a
// dynamic keyword-map would let callers invent new state; nested
// structs with fixed fields is the whole point of this rewrite.
package maestro

import "time"

// Phase is the coarse stage a Deployment is in.
type Phase string

const (
	PhasePreparation Phase = "preparation"
	PhaseDeployment  Phase = "deployment"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
)

// Status is the terminal-or-not outcome of a Deployment.
type Status string

const (
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTerminated Status = "terminated"
	StatusPaused     Status = "paused"
)

// ImageDetails is the parsed form of a machine image's display name,
// "<application>-<version>-<virt-type>"-shaped (see pkg/naming).
type ImageDetails struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Application string `json:"application"`
	Version     string `json:"version"`
	VirtType    string `json:"virtType"`
}

// Onix is the owner/contact/email metadata fetched from the metadata
// service. Named after Asgard's own metadata collaborator.
type Onix struct {
	Owner   string `json:"owner"`
	Contact string `json:"contact"`
	Email   string `json:"email"`
}

// Tag is one auto-scaling-group tag, always propagate-at-launch.
type Tag struct {
	Key               string `json:"key"`
	Value             string `json:"value"`
	PropagateAtLaunch bool   `json:"propagateAtLaunch"`
	ResourceType      string `json:"resourceType"`
	ResourceID        string `json:"resourceId"`
}

// Tyranitar is the trio of configuration documents addressed by hash,
// named after the configuration-service client in the source material.
type Tyranitar struct {
	ApplicationProperties map[string]string `json:"applicationProperties,omitempty"`
	DeploymentParams      map[string]interface{} `json:"deploymentParams,omitempty"`
	LaunchData            string `json:"launchData,omitempty"`
}

// State is the shape shared by NewState and PreviousState: everything
// needed to create, or having been used to create, one ASG.
type State struct {
	Hash                      string       `json:"hash,omitempty"`
	ImageDetails              ImageDetails `json:"imageDetails,omitempty"`
	Onix                      Onix         `json:"onix,omitempty"`
	LaunchConfigurationName   string       `json:"launchConfigurationName,omitempty"`
	AutoScalingGroupName      string       `json:"autoScalingGroupName,omitempty"`
	SelectedSecurityGroupIDs  []string     `json:"selectedSecurityGroupIds,omitempty"`
	SelectedSubnets           []string     `json:"selectedSubnets,omitempty"`
	AvailabilityZones         []string     `json:"availabilityZones,omitempty"`
	VPCZoneIdentifier         string       `json:"vpcZoneIdentifier,omitempty"`
	VPCID                     string       `json:"vpcId,omitempty"`
	BlockDeviceMappings       []BlockDeviceMapping `json:"blockDeviceMappings,omitempty"`
	AutoScalingGroupTags      []Tag        `json:"autoScalingGroupTags,omitempty"`
	UserData                  string       `json:"userData,omitempty"`
	Tyranitar                 Tyranitar    `json:"tyranitar,omitempty"`
	TerminationPolicies       []string     `json:"terminationPolicies,omitempty"`
	SelectedLoadBalancers     []string     `json:"selectedLoadBalancers,omitempty"`
	HealthCheckType           string       `json:"healthCheckType,omitempty"`

	// MinSize/MaxSize/DesiredCapacity record an existing ASG's capacity;
	// populate-previous-state captures these off the predecessor (spec.md
	// §4.3 step 8). The new state's sizing lives in the deployment params
	// instead, since it is read fresh at create-asg time.
	MinSize         int `json:"minSize,omitempty"`
	MaxSize         int `json:"maxSize,omitempty"`
	DesiredCapacity int `json:"desiredCapacity,omitempty"`
}

// BlockDeviceMapping mirrors the cloud provider's launch-configuration
// block device entry.
type BlockDeviceMapping struct {
	DeviceName  string `json:"deviceName"`
	VirtualName string `json:"virtualName,omitempty"`
	VolumeSize  int    `json:"volumeSize,omitempty"`
	VolumeType  string `json:"volumeType,omitempty"`
}

// Deployment is the entity described in spec.md §3.
type Deployment struct {
	ID          string `json:"id"`
	Application string `json:"application"`
	Environment string `json:"environment"`
	Region      string `json:"region"`
	User        string `json:"user"`
	Message     string `json:"message"`

	// RequestedImageID is the machine image identifier the caller
	// supplied; get-image-details resolves it into NewState.ImageDetails.
	RequestedImageID string `json:"requestedImageId"`

	Created time.Time  `json:"created"`
	Start   *time.Time `json:"start,omitempty"`
	End     *time.Time `json:"end,omitempty"`

	Phase  Phase  `json:"phase"`
	Status Status `json:"status"`

	NewState      State  `json:"newState"`
	PreviousState *State `json:"previousState,omitempty"`

	Tasks []*Task `json:"tasks"`

	Rollback bool `json:"rollback"`
	Silent   bool `json:"silent"`

	// FailureCause is set when Phase==PhaseFailed; the pipeline step or
	// executor error that ended the deployment.
	FailureCause string `json:"failureCause,omitempty"`

	// Log is the deployment-level append-only log stream (distinct from
	// each task's own log), spec.md §4.1 append-log.
	Log []LogLine `json:"log,omitempty"`
}

// LogLine is one timestamped entry in an append-only log stream.
type LogLine struct {
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
}

// Action is one of the six fixed task kinds, spec.md §4.4.
type Action string

const (
	ActionCreateASG           Action = "create-asg"
	ActionWaitInstanceHealth  Action = "wait-for-instance-health"
	ActionEnableASG           Action = "enable-asg"
	ActionWaitELBHealth       Action = "wait-for-elb-health"
	ActionDisableASG          Action = "disable-asg"
	ActionDeleteASG           Action = "delete-asg"
)

// TaskSequence is the fixed, ordered list of actions every deployment's
// task list is built from (spec.md invariant 1).
var TaskSequence = []Action{
	ActionCreateASG,
	ActionWaitInstanceHealth,
	ActionEnableASG,
	ActionWaitELBHealth,
	ActionDisableASG,
	ActionDeleteASG,
}

// TaskStatus is the status of one Task; monotone per spec.md invariant 5.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskRunning    TaskStatus = "running"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskTerminated TaskStatus = "terminated"
)

// taskStatusRank gives the monotone ordering used to reject regressions
// in pkg/store.
var taskStatusRank = map[TaskStatus]int{
	TaskPending:    0,
	TaskRunning:    1,
	TaskCompleted:  2,
	TaskFailed:     2,
	TaskTerminated: 2,
}

// Regresses reports whether moving from from to to would violate the
// monotone-status invariant.
func (from TaskStatus) Regresses(to TaskStatus) bool {
	return taskStatusRank[to] < taskStatusRank[from]
}

// Remote is the handle to the external (cloud façade) task that backs a
// state-changing Task, tracked by pkg/tracker.
type Remote struct {
	ID         string            `json:"id"`
	URL        string            `json:"url"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Task is the entity described in spec.md §3.
type Task struct {
	ID     string     `json:"id"`
	Action Action     `json:"action"`
	Status TaskStatus `json:"status"`

	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`

	Remote *Remote `json:"remote,omitempty"`

	// UpdatedAt is the remote task's own last-update time, re-emitted
	// in ISO-8601 UTC from the "YYYY-MM-DD HH:MM:SS UTC" shape the
	// external-task tracker observes (spec.md §4.2).
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`

	Log []LogLine `json:"log"`
}

// NewTaskSequence builds the fixed six pending tasks for a new
// deployment, each with a fresh id.
func NewTaskSequence(newID func() string) []*Task {
	tasks := make([]*Task, 0, len(TaskSequence))
	for _, action := range TaskSequence {
		tasks = append(tasks, &Task{
			ID:     newID(),
			Action: action,
			Status: TaskPending,
			Log:    []LogLine{},
		})
	}
	return tasks
}

// TaskAfter returns the task immediately following the task with id, by
// index in dep.Tasks (spec.md §4.4's "O(n) traversal").
func TaskAfter(dep *Deployment, id string) *Task {
	for i, t := range dep.Tasks {
		if t.ID == id && i+1 < len(dep.Tasks) {
			return dep.Tasks[i+1]
		}
	}
	return nil
}

// TaskByAction returns the first task with the given action.
func TaskByAction(dep *Deployment, action Action) *Task {
	for _, t := range dep.Tasks {
		if t.Action == action {
			return t
		}
	}
	return nil
}

// Key identifies the (application, environment, region) triple the
// control plane enforces at-most-one-in-flight over (spec.md invariant 4).
type Key struct {
	Application string
	Environment string
	Region      string
}

func (k Key) String() string {
	return k.Application + "/" + k.Environment + "/" + k.Region
}

// KeyOf extracts the Key of a Deployment.
func KeyOf(dep *Deployment) Key {
	return Key{Application: dep.Application, Environment: dep.Environment, Region: dep.Region}
}
