// Package cloud defines the interface the core consumes from the cloud
// provider façade (spec.md §1: "the cloud provider façade... specified
// only through the interfaces the core consumes"). It covers both the
// read-only enumeration calls (security groups, subnets, images, load
// balancers) and the state-changing ASG operations, which follow the
// remote-task pattern of spec.md §4.4 and §6: a state-changing call
// returns an HTTP 302 with a Location naming a remote task (or the new
// ASG's own show page), which pkg/tracker polls until terminal.
package cloud

import "context"

// SecurityGroup is the subset of a security group's description the
// pipeline needs to resolve names to ids.
type SecurityGroup struct {
	ID   string
	Name string
}

// Subnet is the subset of a subnet's description populate-subnets needs.
type Subnet struct {
	ID               string
	AvailabilityZone string
	Purpose          string
	VPCID            string
}

// Image is the subset of an image's description get-image-details needs.
type Image struct {
	ID       string
	Name     string
	VirtType string // "paravirtual" or "hvm"
}

// LoadBalancer is the subset of an ELB's description verify-load-balancers
// and wait-for-elb-health need.
type LoadBalancer struct {
	Name      string
	Instances []InstanceHealth
}

// InstanceHealth is one instance's reported state within a load balancer.
type InstanceHealth struct {
	InstanceID string
	State      string // e.g. "InService", "OutOfService"
}

// Instance is the subset of an ASG member instance's description the
// instance-health waiter needs to address it.
type Instance struct {
	ID        string
	PrivateIP string
}

// Size is an ASG's min/max/desired capacity.
type Size struct {
	Min, Max, Desired int
}

// TaskHandle is what a state-changing call hands back: the remote task
// (or, if the operation redirected straight to the new ASG's own show
// page, a handle with no further polling needed — TerminalStatus is set
// in that case).
type TaskHandle struct {
	ID             string
	URL            string
	ASGName        string // extracted from the Location header or the task log, per spec.md §4.4
	TerminalStatus string // "" unless the call resolved synchronously
}

// RemoteTaskStatus is the JSON document the remote task's own url
// serves, polled by pkg/tracker (spec.md §4.2, §6).
type RemoteTaskStatus struct {
	Status          string // "running" | "completed" | "failed" | "terminated"
	Log             []string
	UpdateTime      string // "YYYY-MM-DD HH:MM:SS UTC"
	Operation       string
	DurationString  string
}

// CreateASGParams is the exploded parameter set for create-asg.
type CreateASGParams struct {
	ApplicationName         string
	AutoScalingGroupName    string
	LaunchConfigurationName string
	ImageID                 string
	InstanceType            string
	SecurityGroupIDs        []string
	AvailabilityZones       []string
	VPCZoneIdentifier       string
	SelectedLoadBalancers   []string
	// VPCID, when non-empty, is the VPC the new ASG's subnets belong to:
	// the create-asg form field then becomes
	// "selectedLoadBalancersForVpcId<VPCID>" instead of
	// "selectedLoadBalancers" (spec.md §8's load-balancer key
	// translation).
	VPCID                   string
	MinSize                 int
	MaxSize                 int
	DesiredCapacity         int
	DefaultCooldown         int
	HealthCheckType         string
	HealthCheckGracePeriod  int
	TerminationPolicies     []string
	UserData                string
	Tags                    []TagParam
	BlockDeviceMappings     []BlockDeviceMappingParam
}

// BlockDeviceMappingParam is the exploded form of one block device entry.
type BlockDeviceMappingParam struct {
	DeviceName  string
	VirtualName string
	VolumeSize  int
	VolumeType  string
}

// TagParam is the exploded form of one ASG tag, carrying the three
// attributes Asgard's create-asg form requires per tag alongside the
// key/value pair (spec.md §6 step 23): whether the tag propagates to
// launched instances, and the resource it's attached to.
type TagParam struct {
	Key               string
	Value             string
	PropagateAtLaunch bool
	ResourceType      string
	ResourceID        string
}

// Facade is the full surface the core requires of the cloud provider.
type Facade interface {
	DescribeSecurityGroups(ctx context.Context, region string) ([]SecurityGroup, error)
	DescribeSubnets(ctx context.Context, region, purpose string) ([]Subnet, error)
	DescribeImage(ctx context.Context, region, imageID string) (Image, error)
	DescribeLoadBalancers(ctx context.Context, region string, names []string) ([]LoadBalancer, error)
	DescribeASGInstances(ctx context.Context, region, asgName string) ([]Instance, error)

	// GetLastASGName returns the most recently created ASG name for
	// (application, environment, region), or "" if none exists — the
	// predecessor lookup populate-previous-state needs.
	GetLastASGName(ctx context.Context, application, environment, region string) (string, error)
	// GetASGUserData returns the base64-decoded user-data of an
	// existing ASG's launch configuration, for hash recovery.
	GetASGUserData(ctx context.Context, region, asgName string) (string, error)
	// GetASGImageID returns the image id an existing ASG's launch
	// configuration was built from.
	GetASGImageID(ctx context.Context, region, asgName string) (string, error)
	// GetASGHealthCheckType and GetASGLoadBalancers support
	// populate-previous-state's capture of the predecessor's settings.
	GetASGHealthCheckType(ctx context.Context, region, asgName string) (string, error)
	GetASGLoadBalancers(ctx context.Context, region, asgName string) ([]string, error)
	// GetASGSize returns an existing ASG's min/max/desired capacity, for
	// populate-previous-state's capture of the predecessor's sizing.
	GetASGSize(ctx context.Context, region, asgName string) (Size, error)

	CreateASG(ctx context.Context, region string, params CreateASGParams) (TaskHandle, error)
	EnableASG(ctx context.Context, region, asgName string) (TaskHandle, error)
	DisableASG(ctx context.Context, region, asgName string) (TaskHandle, error)
	DeleteASG(ctx context.Context, region, asgName string) (TaskHandle, error)

	// GetTaskStatus polls a remote task's url (spec.md §4.2/§6).
	GetTaskStatus(ctx context.Context, url string) (RemoteTaskStatus, error)
}
