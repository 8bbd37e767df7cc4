// Package awsfacade is the one concrete binding of cloud.Facade this
// repository ships: enumeration calls (security groups, subnets,
// images, load balancers, ASG instances) go straight to AWS via
// github.com/aws/aws-sdk-go, grounded on registry/aws.go's
// session.Must(session.NewSession(...)) idiom; state-changing calls and
// remote-task polling go to the Asgard-style deployment system's own
// HTTP API, which is what actually implements the task/302 contract of
// spec.md §4.4 and §6 (a real AWS API has no notion of a "task" or a
// redirect to one).
package awsfacade

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/autoscaling"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/elb"
	"github.com/pkg/errors"

	"github.com/maestro-deploy/maestro/pkg/cloud"
	"github.com/maestro-deploy/maestro/pkg/transport"
	"github.com/maestro-deploy/maestro/pkg/userdata"
)

// Facade implements cloud.Facade.
type Facade struct {
	sessions     map[string]*session.Session
	asgardBase   string // base URL of the Asgard-style deployment system
	http         *transport.Client
}

// New builds a Facade whose enumeration calls use the real AWS SDK and
// whose task-oriented calls target asgardBaseURL, e.g.
// "https://asgard.example.internal".
func New(asgardBaseURL string, httpClient *transport.Client) *Facade {
	return &Facade{
		sessions:   map[string]*session.Session{},
		asgardBase: asgardBaseURL,
		http:       httpClient,
	}
}

func (f *Facade) sessionFor(region string) (*session.Session, error) {
	if s, ok := f.sessions[region]; ok {
		return s, nil
	}
	s, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, errors.Wrap(err, "creating AWS session")
	}
	f.sessions[region] = s
	return s, nil
}

func (f *Facade) DescribeSecurityGroups(ctx context.Context, region string) ([]cloud.SecurityGroup, error) {
	sess, err := f.sessionFor(region)
	if err != nil {
		return nil, err
	}
	out, err := ec2.New(sess).DescribeSecurityGroupsWithContext(ctx, &ec2.DescribeSecurityGroupsInput{})
	if err != nil {
		return nil, errors.Wrap(err, "describing security groups")
	}
	groups := make([]cloud.SecurityGroup, 0, len(out.SecurityGroups))
	for _, g := range out.SecurityGroups {
		groups = append(groups, cloud.SecurityGroup{ID: aws.StringValue(g.GroupId), Name: aws.StringValue(g.GroupName)})
	}
	return groups, nil
}

func (f *Facade) DescribeSubnets(ctx context.Context, region, purpose string) ([]cloud.Subnet, error) {
	sess, err := f.sessionFor(region)
	if err != nil {
		return nil, err
	}
	out, err := ec2.New(sess).DescribeSubnetsWithContext(ctx, &ec2.DescribeSubnetsInput{
		Filters: []*ec2.Filter{
			{Name: aws.String("tag:immutable_metadata"), Values: []*string{aws.String(fmt.Sprintf(`*"purpose":"%s"*`, purpose))}},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "describing subnets")
	}
	subnets := make([]cloud.Subnet, 0, len(out.Subnets))
	for _, s := range out.Subnets {
		subnets = append(subnets, cloud.Subnet{
			ID:               aws.StringValue(s.SubnetId),
			AvailabilityZone: aws.StringValue(s.AvailabilityZone),
			Purpose:          purpose,
			VPCID:            aws.StringValue(s.VpcId),
		})
	}
	return subnets, nil
}

var virtTypeOf = map[string]string{"hvm": "hvm", "paravirtual": "paravirtual"}

func (f *Facade) DescribeImage(ctx context.Context, region, imageID string) (cloud.Image, error) {
	sess, err := f.sessionFor(region)
	if err != nil {
		return cloud.Image{}, err
	}
	out, err := ec2.New(sess).DescribeImagesWithContext(ctx, &ec2.DescribeImagesInput{ImageIds: []*string{aws.String(imageID)}})
	if err != nil {
		return cloud.Image{}, errors.Wrap(err, "describing image")
	}
	if len(out.Images) == 0 {
		return cloud.Image{}, errors.Errorf("image %q not found", imageID)
	}
	img := out.Images[0]
	virt := virtTypeOf[aws.StringValue(img.VirtualizationType)]
	return cloud.Image{ID: imageID, Name: aws.StringValue(img.Name), VirtType: virt}, nil
}

func (f *Facade) DescribeLoadBalancers(ctx context.Context, region string, names []string) ([]cloud.LoadBalancer, error) {
	if len(names) == 0 {
		return nil, nil
	}
	sess, err := f.sessionFor(region)
	if err != nil {
		return nil, err
	}
	client := elb.New(sess)
	nameRefs := make([]*string, len(names))
	for i, n := range names {
		nameRefs[i] = aws.String(n)
	}
	out, err := client.DescribeLoadBalancersWithContext(ctx, &elb.DescribeLoadBalancersInput{LoadBalancerNames: nameRefs})
	if err != nil {
		return nil, errors.Wrap(err, "describing load balancers")
	}
	lbs := make([]cloud.LoadBalancer, 0, len(out.LoadBalancerDescriptions))
	for _, d := range out.LoadBalancerDescriptions {
		health, err := client.DescribeInstanceHealthWithContext(ctx, &elb.DescribeInstanceHealthInput{LoadBalancerName: d.LoadBalancerName})
		if err != nil {
			return nil, errors.Wrap(err, "describing instance health")
		}
		var instances []cloud.InstanceHealth
		for _, h := range health.InstanceStates {
			instances = append(instances, cloud.InstanceHealth{InstanceID: aws.StringValue(h.InstanceId), State: aws.StringValue(h.State)})
		}
		lbs = append(lbs, cloud.LoadBalancer{Name: aws.StringValue(d.LoadBalancerName), Instances: instances})
	}
	return lbs, nil
}

func (f *Facade) DescribeASGInstances(ctx context.Context, region, asgName string) ([]cloud.Instance, error) {
	sess, err := f.sessionFor(region)
	if err != nil {
		return nil, err
	}
	out, err := autoscaling.New(sess).DescribeAutoScalingGroupsWithContext(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []*string{aws.String(asgName)},
	})
	if err != nil {
		return nil, errors.Wrap(err, "describing auto scaling group")
	}
	if len(out.AutoScalingGroups) == 0 {
		return nil, cloudASGNotFound(asgName)
	}
	var instanceIDs []*string
	for _, i := range out.AutoScalingGroups[0].Instances {
		instanceIDs = append(instanceIDs, i.InstanceId)
	}
	if len(instanceIDs) == 0 {
		return nil, nil
	}
	described, err := ec2.New(sess).DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{InstanceIds: instanceIDs})
	if err != nil {
		return nil, errors.Wrap(err, "describing instances")
	}
	var instances []cloud.Instance
	for _, r := range described.Reservations {
		for _, i := range r.Instances {
			instances = append(instances, cloud.Instance{ID: aws.StringValue(i.InstanceId), PrivateIP: aws.StringValue(i.PrivateIpAddress)})
		}
	}
	return instances, nil
}

func (f *Facade) GetASGSize(ctx context.Context, region, asgName string) (cloud.Size, error) {
	sess, err := f.sessionFor(region)
	if err != nil {
		return cloud.Size{}, err
	}
	out, err := autoscaling.New(sess).DescribeAutoScalingGroupsWithContext(ctx, &autoscaling.DescribeAutoScalingGroupsInput{AutoScalingGroupNames: []*string{aws.String(asgName)}})
	if err != nil || len(out.AutoScalingGroups) == 0 {
		return cloud.Size{}, cloudASGNotFound(asgName)
	}
	g := out.AutoScalingGroups[0]
	return cloud.Size{Min: int(aws.Int64Value(g.MinSize)), Max: int(aws.Int64Value(g.MaxSize)), Desired: int(aws.Int64Value(g.DesiredCapacity))}, nil
}

func cloudASGNotFound(name string) error {
	return errors.Errorf("Auto Scaling Group does not exist: %s", name)
}

func (f *Facade) GetASGUserData(ctx context.Context, region, asgName string) (string, error) {
	sess, err := f.sessionFor(region)
	if err != nil {
		return "", err
	}
	asg := autoscaling.New(sess)
	groups, err := asg.DescribeAutoScalingGroupsWithContext(ctx, &autoscaling.DescribeAutoScalingGroupsInput{AutoScalingGroupNames: []*string{aws.String(asgName)}})
	if err != nil || len(groups.AutoScalingGroups) == 0 {
		return "", cloudASGNotFound(asgName)
	}
	lcName := groups.AutoScalingGroups[0].LaunchConfigurationName
	lcs, err := asg.DescribeLaunchConfigurationsWithContext(ctx, &autoscaling.DescribeLaunchConfigurationsInput{LaunchConfigurationNames: []*string{lcName}})
	if err != nil || len(lcs.LaunchConfigurations) == 0 {
		return "", errors.Errorf("launch configuration %q not found", aws.StringValue(lcName))
	}
	encoded := aws.StringValue(lcs.LaunchConfigurations[0].UserData)
	if encoded == "" {
		return "", nil
	}
	return userdata.Decode(encoded)
}

func (f *Facade) GetASGImageID(ctx context.Context, region, asgName string) (string, error) {
	sess, err := f.sessionFor(region)
	if err != nil {
		return "", err
	}
	asg := autoscaling.New(sess)
	groups, err := asg.DescribeAutoScalingGroupsWithContext(ctx, &autoscaling.DescribeAutoScalingGroupsInput{AutoScalingGroupNames: []*string{aws.String(asgName)}})
	if err != nil || len(groups.AutoScalingGroups) == 0 {
		return "", cloudASGNotFound(asgName)
	}
	lcs, err := asg.DescribeLaunchConfigurationsWithContext(ctx, &autoscaling.DescribeLaunchConfigurationsInput{LaunchConfigurationNames: []*string{groups.AutoScalingGroups[0].LaunchConfigurationName}})
	if err != nil || len(lcs.LaunchConfigurations) == 0 {
		return "", errors.Errorf("launch configuration not found for %q", asgName)
	}
	return aws.StringValue(lcs.LaunchConfigurations[0].ImageId), nil
}

func (f *Facade) GetASGHealthCheckType(ctx context.Context, region, asgName string) (string, error) {
	sess, err := f.sessionFor(region)
	if err != nil {
		return "", err
	}
	out, err := autoscaling.New(sess).DescribeAutoScalingGroupsWithContext(ctx, &autoscaling.DescribeAutoScalingGroupsInput{AutoScalingGroupNames: []*string{aws.String(asgName)}})
	if err != nil || len(out.AutoScalingGroups) == 0 {
		return "", cloudASGNotFound(asgName)
	}
	return aws.StringValue(out.AutoScalingGroups[0].HealthCheckType), nil
}

func (f *Facade) GetASGLoadBalancers(ctx context.Context, region, asgName string) ([]string, error) {
	sess, err := f.sessionFor(region)
	if err != nil {
		return nil, err
	}
	out, err := autoscaling.New(sess).DescribeAutoScalingGroupsWithContext(ctx, &autoscaling.DescribeAutoScalingGroupsInput{AutoScalingGroupNames: []*string{aws.String(asgName)}})
	if err != nil || len(out.AutoScalingGroups) == 0 {
		return nil, cloudASGNotFound(asgName)
	}
	names := make([]string, 0, len(out.AutoScalingGroups[0].LoadBalancerNames))
	for _, n := range out.AutoScalingGroups[0].LoadBalancerNames {
		names = append(names, aws.StringValue(n))
	}
	return names, nil
}

func (f *Facade) GetLastASGName(ctx context.Context, application, environment, region string) (string, error) {
	sess, err := f.sessionFor(region)
	if err != nil {
		return "", err
	}
	prefix := fmt.Sprintf("%s-%s", application, environment)
	out, err := autoscaling.New(sess).DescribeAutoScalingGroupsWithContext(ctx, &autoscaling.DescribeAutoScalingGroupsInput{})
	if err != nil {
		return "", errors.Wrap(err, "describing auto scaling groups")
	}
	best := ""
	bestVersion := -1
	for _, g := range out.AutoScalingGroups {
		name := aws.StringValue(g.AutoScalingGroupName)
		if len(name) < len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		v := parseVersionSuffix(name)
		if v > bestVersion {
			bestVersion = v
			best = name
		}
	}
	return best, nil
}

func parseVersionSuffix(name string) int {
	m := regexp.MustCompile(`-v(\d{3})$`).FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	v, _ := strconv.Atoi(m[1])
	return v
}

// -- state-changing calls go to the Asgard-style task API --

func (f *Facade) CreateASG(ctx context.Context, region string, params cloud.CreateASGParams) (cloud.TaskHandle, error) {
	form := explodeCreateParams(params)
	location, err := f.http.PostForm(ctx, f.asgardBase+"/"+region+"/cluster/create", form)
	if err != nil {
		return cloud.TaskHandle{}, errors.Wrap(err, "create-asg")
	}
	return handleFromLocation(location, f.asgardBase), nil
}

func (f *Facade) EnableASG(ctx context.Context, region, asgName string) (cloud.TaskHandle, error) {
	return f.postASGAction(ctx, region, asgName, "enable")
}

func (f *Facade) DisableASG(ctx context.Context, region, asgName string) (cloud.TaskHandle, error) {
	return f.postASGAction(ctx, region, asgName, "disable")
}

func (f *Facade) DeleteASG(ctx context.Context, region, asgName string) (cloud.TaskHandle, error) {
	return f.postASGAction(ctx, region, asgName, "delete")
}

func (f *Facade) postASGAction(ctx context.Context, region, asgName, action string) (cloud.TaskHandle, error) {
	location, err := f.http.PostForm(ctx, fmt.Sprintf("%s/%s/cluster/%s/%s", f.asgardBase, region, action, asgName), nil)
	if err != nil {
		return cloud.TaskHandle{}, errors.Wrapf(err, "%s-asg", action)
	}
	return handleFromLocation(location, f.asgardBase), nil
}

func (f *Facade) GetTaskStatus(ctx context.Context, taskURL string) (cloud.RemoteTaskStatus, error) {
	var out cloud.RemoteTaskStatus
	if err := f.http.GetJSON(ctx, taskURL+".json", &out); err != nil {
		return cloud.RemoteTaskStatus{}, err
	}
	return out, nil
}

// handleFromLocation extracts a TaskHandle from a 302's Location
// header, which names either a task show page ("/region/task/show/ID")
// or, when the operation resolved synchronously, the new ASG's own show
// page ("/region/cluster/show/NAME") — spec.md §4.4's two naming
// strategies. The ASG name in the latter case is the last path segment;
// in the former case the caller must scan the task's own log once it is
// fetched (see pkg/executor).
var taskLocationRe = regexp.MustCompile(`/task/show/([^/?]+)`)

func handleFromLocation(location, base string) cloud.TaskHandle {
	if m := taskLocationRe.FindStringSubmatch(location); m != nil {
		return cloud.TaskHandle{ID: m[1], URL: base + location}
	}
	// Resolved synchronously: Location names the new ASG's show page.
	segments := regexp.MustCompile(`/([^/?]+)/?$`).FindStringSubmatch(location)
	name := ""
	if segments != nil {
		name = segments[1]
	}
	return cloud.TaskHandle{ASGName: name, TerminalStatus: "completed"}
}

func explodeCreateParams(p cloud.CreateASGParams) map[string][]string {
	form := map[string][]string{
		"name":                    {p.AutoScalingGroupName},
		"launchConfigName":        {p.LaunchConfigurationName},
		"imageId":                 {p.ImageID},
		"instanceType":            {p.InstanceType},
		"min":                     {strconv.Itoa(p.MinSize)},
		"max":                     {strconv.Itoa(p.MaxSize)},
		"desiredCapacity":         {strconv.Itoa(p.DesiredCapacity)},
		"defaultCooldown":         {strconv.Itoa(p.DefaultCooldown)},
		"healthCheckType":         {p.HealthCheckType},
		"healthCheckGracePeriod":  {strconv.Itoa(p.HealthCheckGracePeriod)},
		"vpcZoneIdentifier":       {p.VPCZoneIdentifier},
		"userData":                {p.UserData},
	}
	if len(p.SecurityGroupIDs) > 0 {
		form["selectedSecurityGroups"] = p.SecurityGroupIDs
	}
	if len(p.AvailabilityZones) > 0 {
		form["availabilityZones"] = p.AvailabilityZones
	}
	if len(p.SelectedLoadBalancers) > 0 {
		key := "selectedLoadBalancers"
		if p.VPCID != "" {
			key = "selectedLoadBalancersForVpcId" + p.VPCID
		}
		form[key] = p.SelectedLoadBalancers
	}
	if len(p.TerminationPolicies) > 0 {
		form["terminationPolicies"] = p.TerminationPolicies
	}
	for i, t := range p.Tags {
		form[fmt.Sprintf("tags[%d].key", i)] = []string{t.Key}
		form[fmt.Sprintf("tags[%d].value", i)] = []string{t.Value}
		form[fmt.Sprintf("tags[%d].propagateAtLaunch", i)] = []string{strconv.FormatBool(t.PropagateAtLaunch)}
		form[fmt.Sprintf("tags[%d].resourceType", i)] = []string{t.ResourceType}
		form[fmt.Sprintf("tags[%d].resourceId", i)] = []string{t.ResourceID}
	}
	for i, b := range p.BlockDeviceMappings {
		form[fmt.Sprintf("blockDeviceMappings[%d].deviceName", i)] = []string{b.DeviceName}
		if b.VirtualName != "" {
			form[fmt.Sprintf("blockDeviceMappings[%d].virtualName", i)] = []string{b.VirtualName}
		}
		if b.VolumeSize != 0 {
			form[fmt.Sprintf("blockDeviceMappings[%d].size", i)] = []string{strconv.Itoa(b.VolumeSize)}
		}
		if b.VolumeType != "" {
			form[fmt.Sprintf("blockDeviceMappings[%d].volumeType", i)] = []string{b.VolumeType}
		}
	}
	return form
}

var _ cloud.Facade = (*Facade)(nil)
