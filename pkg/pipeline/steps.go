package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/maestro-deploy/maestro/pkg/cloud"
	"github.com/maestro-deploy/maestro/pkg/environments"
	"github.com/maestro-deploy/maestro/pkg/maestro"
	"github.com/maestro-deploy/maestro/pkg/merrors"
	"github.com/maestro-deploy/maestro/pkg/naming"
	"github.com/maestro-deploy/maestro/pkg/userdata"
)

// DefaultSteps returns the fixed sequence of spec.md §4.3, in order: its
// 25 numbered steps as 33 Step entries (grouped steps such as the
// validate-* checks are listed one by one).
func DefaultSteps() []Step {
	return []Step{
		{"start-deployment-preparation", startDeploymentPreparation},
		{"validate-region", validateField("region", func(pc *Context) string { return pc.Dep.Region })},
		{"validate-environment", validateField("environment", func(pc *Context) string { return pc.Dep.Environment })},
		{"validate-application", validateField("application", func(pc *Context) string { return pc.Dep.Application })},
		{"validate-user", validateField("user", func(pc *Context) string { return pc.Dep.User })},
		{"validate-image", validateField("image", func(pc *Context) string { return pc.Dep.RequestedImageID })},
		{"validate-message", validateField("message", func(pc *Context) string { return pc.Dep.Message })},
		{"get-metadata", getMetadata},
		{"ensure-hash", ensureHash},
		{"verify-hash", verifyHash},
		{"get-application-properties", getApplicationProperties},
		{"get-deployment-params", getDeploymentParams},
		{"get-launch-data", getLaunchData},
		{"populate-defaults", populateDefaults},
		{"populate-previous-state", populatePreviousState},
		{"populate-previous-application-properties", populatePreviousApplicationProperties},
		{"get-previous-image-details", getPreviousImageDetails},
		{"create-names", createNames},
		{"get-image-details", getImageDetails},
		{"check-instance-type-compatibility", checkInstanceTypeCompatibility},
		{"check-contact-property", checkContactProperty},
		{"check-configuration", checkConfiguration},
		{"add-required-security-groups", addRequiredSecurityGroups},
		{"map-security-group-ids", mapSecurityGroupIDs},
		{"verify-load-balancers", verifyLoadBalancers},
		{"populate-subnets", populateSubnets},
		{"populate-vpc-zone-identifier", populateVPCZoneIdentifier},
		{"populate-availability-zones", populateAvailabilityZones},
		{"populate-termination-policies", populateTerminationPolicies},
		{"create-block-device-mappings", createBlockDeviceMappings},
		{"create-auto-scaling-group-tags", createAutoScalingGroupTags},
		{"generate-user-data", generateUserData},
		{"complete-deployment-preparation", completeDeploymentPreparation},
	}
}

func startDeploymentPreparation(ctx context.Context, pc *Context) Outcome {
	pc.Dep.Phase = maestro.PhasePreparation
	return Success()
}

// validateField builds a step asserting field is non-empty, naming the
// field in the error per spec.md §4.3 step 2.
func validateField(field string, get func(pc *Context) string) func(context.Context, *Context) Outcome {
	return func(ctx context.Context, pc *Context) Outcome {
		if get(pc) == "" {
			return Fail(merrors.MissingFieldError(field))
		}
		return Success()
	}
}

func getMetadata(ctx context.Context, pc *Context) Outcome {
	owner, contact, email, err := pc.Metadata.GetApplicationMetadata(ctx, pc.Dep.Application)
	if err != nil {
		return Fail(err)
	}
	pc.Dep.NewState.Onix = maestro.Onix{Owner: owner, Contact: contact, Email: email}
	return Success()
}

func ensureHash(ctx context.Context, pc *Context) Outcome {
	if pc.Dep.NewState.Hash != "" {
		return Success()
	}
	hash, err := pc.Config.LatestHash(ctx, pc.Dep.Environment, pc.Dep.Application)
	if err != nil {
		return Fail(err)
	}
	pc.Dep.NewState.Hash = hash
	return Success()
}

func verifyHash(ctx context.Context, pc *Context) Outcome {
	ok, err := pc.Config.HashExists(ctx, pc.Dep.Environment, pc.Dep.Application, pc.Dep.NewState.Hash)
	if err != nil {
		return Fail(err)
	}
	if !ok {
		return Fail(merrors.New(merrors.ConfigurationMissing, fmt.Errorf("hash %q not known for %s/%s", pc.Dep.NewState.Hash, pc.Dep.Application, pc.Dep.Environment)))
	}
	return Success()
}

func getApplicationProperties(ctx context.Context, pc *Context) Outcome {
	props, err := pc.Config.ApplicationProperties(ctx, pc.Dep.Environment, pc.Dep.Application, pc.Dep.NewState.Hash)
	if err != nil {
		return Fail(err)
	}
	pc.Dep.NewState.Tyranitar.ApplicationProperties = props
	return Success()
}

func getDeploymentParams(ctx context.Context, pc *Context) Outcome {
	params, err := pc.Config.DeploymentParams(ctx, pc.Dep.Environment, pc.Dep.Application, pc.Dep.NewState.Hash)
	if err != nil {
		return Fail(err)
	}
	pc.Dep.NewState.Tyranitar.DeploymentParams = params
	return Success()
}

func getLaunchData(ctx context.Context, pc *Context) Outcome {
	data, err := pc.Config.LaunchData(ctx, pc.Dep.Environment, pc.Dep.Application, pc.Dep.NewState.Hash)
	if err != nil {
		return Fail(err)
	}
	pc.Dep.NewState.Tyranitar.LaunchData = data
	return Success()
}

func populateDefaults(ctx context.Context, pc *Context) Outcome {
	params := pc.params()
	for key, def := range defaults {
		if _, ok := params[key]; !ok {
			params[key] = def
		}
	}
	params["selected-load-balancers"] = paramStringSlice(params, "selected-load-balancers")
	return Success()
}

func populatePreviousState(ctx context.Context, pc *Context) Outcome {
	dep := pc.Dep
	lastName, err := pc.Facade.GetLastASGName(ctx, dep.Application, dep.Environment, dep.Region)
	if err != nil {
		return Fail(merrors.New(merrors.UpstreamFaultHTTP, err))
	}
	if lastName == "" {
		dep.PreviousState = nil
		return Success()
	}

	size, err := pc.Facade.GetASGSize(ctx, dep.Region, lastName)
	if err != nil {
		return Fail(merrors.New(merrors.UpstreamFaultHTTP, err))
	}
	healthCheckType, err := pc.Facade.GetASGHealthCheckType(ctx, dep.Region, lastName)
	if err != nil {
		return Fail(merrors.New(merrors.UpstreamFaultHTTP, err))
	}
	lbs, err := pc.Facade.GetASGLoadBalancers(ctx, dep.Region, lastName)
	if err != nil {
		return Fail(merrors.New(merrors.UpstreamFaultHTTP, err))
	}
	imageID, err := pc.Facade.GetASGImageID(ctx, dep.Region, lastName)
	if err != nil {
		return Fail(merrors.New(merrors.UpstreamFaultHTTP, err))
	}
	decodedUserData, err := pc.Facade.GetASGUserData(ctx, dep.Region, lastName)
	if err != nil {
		return Fail(merrors.New(merrors.UpstreamFaultHTTP, err))
	}

	dep.PreviousState = &maestro.State{
		AutoScalingGroupName:  lastName,
		ImageDetails:          maestro.ImageDetails{ID: imageID},
		HealthCheckType:       healthCheckType,
		SelectedLoadBalancers: lbs,
		Hash:                  userdata.ExtractHash(decodedUserData),
		UserData:              decodedUserData,
		MinSize:               size.Min,
		MaxSize:               size.Max,
		DesiredCapacity:       size.Desired,
	}
	return Success()
}

// populatePreviousApplicationProperties and getPreviousImageDetails skip
// silently when there is no predecessor (spec.md §4.3 step 9).

func populatePreviousApplicationProperties(ctx context.Context, pc *Context) Outcome {
	dep := pc.Dep
	if dep.PreviousState == nil {
		return Success()
	}
	props, err := pc.Config.ApplicationProperties(ctx, dep.Environment, dep.Application, dep.PreviousState.Hash)
	if err != nil {
		return Fail(err)
	}
	dep.PreviousState.Tyranitar.ApplicationProperties = props
	return Success()
}

func getPreviousImageDetails(ctx context.Context, pc *Context) Outcome {
	dep := pc.Dep
	if dep.PreviousState == nil {
		return Success()
	}
	image, err := pc.Facade.DescribeImage(ctx, dep.Region, dep.PreviousState.ImageDetails.ID)
	if err != nil {
		return Fail(merrors.New(merrors.UpstreamFaultHTTP, err))
	}
	details, ok := naming.ParseImageName(image.Name)
	if !ok {
		return Success()
	}
	dep.PreviousState.ImageDetails = maestro.ImageDetails{
		ID:          image.ID,
		Name:        image.Name,
		Application: details.Application,
		Version:     details.Version,
		VirtType:    details.VirtType,
	}
	return Success()
}

func createNames(ctx context.Context, pc *Context) Outcome {
	dep := pc.Dep
	predecessor := ""
	if dep.PreviousState != nil {
		predecessor = dep.PreviousState.AutoScalingGroupName
	}
	asgName := naming.NextASGName(dep.Application, dep.Environment, predecessor)
	dep.NewState.AutoScalingGroupName = asgName
	dep.NewState.LaunchConfigurationName = naming.LaunchConfigurationName(asgName, pc.Now())
	return Success()
}

func getImageDetails(ctx context.Context, pc *Context) Outcome {
	dep := pc.Dep
	image, err := pc.Facade.DescribeImage(ctx, dep.Region, dep.RequestedImageID)
	if err != nil {
		return Fail(merrors.New(merrors.UpstreamFaultHTTP, err))
	}
	details, ok := naming.ParseImageName(image.Name)
	if !ok {
		return Fail(merrors.New(merrors.MismatchedImage, fmt.Errorf("image name %q does not parse as <application>-<version>-<virt-type>", image.Name)))
	}
	if details.Application != dep.Application {
		return Fail(merrors.New(merrors.MismatchedImage, fmt.Errorf("image %s belongs to application %q, not %q", image.ID, details.Application, dep.Application)))
	}
	dep.NewState.ImageDetails = maestro.ImageDetails{
		ID:          image.ID,
		Name:        image.Name,
		Application: details.Application,
		Version:     details.Version,
		VirtType:    details.VirtType,
	}
	return Success()
}

// paravirtualOnlyFamilies and hvmOnlyFamilies are the policy table
// check-instance-type-compatibility consults: families restricted to one virtualization
// type. Families absent from both sets are assumed compatible with
// either.
var paravirtualOnlyFamilies = map[string]bool{"t1": true, "m1": true, "m2": true, "c1": true}
var hvmOnlyFamilies = map[string]bool{
	"t2": true, "t3": true, "m3": true, "m4": true, "m5": true,
	"c3": true, "c4": true, "c5": true, "r3": true, "r4": true, "r5": true,
	"i2": true, "i3": true, "g2": true, "g3": true, "p2": true, "p3": true,
	"x1": true, "d2": true, "f1": true,
}

func instanceFamily(instanceType string) string {
	if i := strings.IndexByte(instanceType, '.'); i >= 0 {
		return instanceType[:i]
	}
	return instanceType
}

func checkInstanceTypeCompatibility(ctx context.Context, pc *Context) Outcome {
	instanceType := paramString(pc.params(), "instance-type")
	virt := pc.Dep.NewState.ImageDetails.VirtType
	family := instanceFamily(instanceType)
	if hvmOnlyFamilies[family] && virt == "paravirtual" {
		return Fail(merrors.New(merrors.IncompatibleInstanceType, fmt.Errorf("%s requires an hvm image, got paravirtual", instanceType)))
	}
	if paravirtualOnlyFamilies[family] && virt == "hvm" {
		return Fail(merrors.New(merrors.IncompatibleInstanceType, fmt.Errorf("%s requires a paravirtual image, got hvm", instanceType)))
	}
	return Success()
}

func checkContactProperty(ctx context.Context, pc *Context) Outcome {
	if pc.Dep.NewState.Onix.Contact == "" {
		return Fail(merrors.New(merrors.MissingField, fmt.Errorf("owner metadata for %s has no contact", pc.Dep.Application)))
	}
	return Success()
}

func checkConfiguration(ctx context.Context, pc *Context) Outcome {
	if !environments.PolicyChecked[pc.Dep.Environment] {
		return Success()
	}
	allowed, parseFault, err := pc.Policy.Allowed(ctx, pc.Dep.Environment, pc.Dep.Application)
	if err != nil {
		// Allowed already returns a typed *merrors.Error (configuration-
		// missing or upstream-fault-http), the same as every other
		// collaborator call.
		return Fail(err)
	}
	if parseFault {
		return Retry(merrors.New(merrors.ConfigurationUnexpectedResponse, fmt.Errorf("policy response for %s/%s could not be parsed", pc.Dep.Application, pc.Dep.Environment)))
	}
	if !allowed {
		return Fail(merrors.New(merrors.PolicyDenied, fmt.Errorf("%s is not permitted to deploy in %s", pc.Dep.Application, pc.Dep.Environment)))
	}
	return Success()
}

// requiredSecurityGroups is the provider-fixed set every ASG carries
// regardless of the requester's own selection (spec.md §4.3 step 15).
var requiredSecurityGroups = []string{"healthcheck", "nrpe"}

func addRequiredSecurityGroups(ctx context.Context, pc *Context) Outcome {
	params := pc.params()
	selected := paramStringSlice(params, "selected-security-groups")
	for _, required := range requiredSecurityGroups {
		if !containsString(selected, required) {
			selected = append(selected, required)
		}
	}
	params["selected-security-groups"] = selected
	return Success()
}

func mapSecurityGroupIDs(ctx context.Context, pc *Context) Outcome {
	dep := pc.Dep
	selected := paramStringSlice(pc.params(), "selected-security-groups")
	groups, err := pc.Facade.DescribeSecurityGroups(ctx, dep.Region)
	if err != nil {
		return Fail(merrors.New(merrors.UpstreamFaultHTTP, err))
	}
	byName := map[string]string{}
	for _, g := range groups {
		byName[g.Name] = g.ID
	}

	ids := make([]string, 0, len(selected))
	var unresolved []string
	for _, name := range selected {
		if strings.HasPrefix(name, "sg-") {
			ids = append(ids, name)
			continue
		}
		id, ok := byName[name]
		if !ok {
			unresolved = append(unresolved, name)
			continue
		}
		ids = append(ids, id)
	}
	if len(unresolved) > 0 {
		return Fail(merrors.WithPayload(merrors.UnknownSecurityGroups, fmt.Errorf("unresolved security group names"), unresolved...))
	}
	dep.NewState.SelectedSecurityGroupIDs = ids
	return Success()
}

func verifyLoadBalancers(ctx context.Context, pc *Context) Outcome {
	dep := pc.Dep
	requested := paramStringSlice(pc.params(), "selected-load-balancers")
	if len(requested) == 0 {
		return Success()
	}
	found, err := pc.Facade.DescribeLoadBalancers(ctx, dep.Region, requested)
	if err != nil {
		return Fail(merrors.New(merrors.UpstreamFaultHTTP, err))
	}
	foundNames := make([]string, 0, len(found))
	for _, lb := range found {
		foundNames = append(foundNames, lb.Name)
	}
	var missing []string
	for _, name := range requested {
		if !containsString(foundNames, name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Fail(merrors.WithPayload(merrors.MissingLoadBalancers, fmt.Errorf("load balancers not found"), missing...))
	}

	// check-for-deleted-load-balancers: drop any load balancer the
	// predecessor referenced but that no longer exists.
	if dep.PreviousState != nil && len(dep.PreviousState.SelectedLoadBalancers) > 0 {
		kept := make([]string, 0, len(dep.PreviousState.SelectedLoadBalancers))
		for _, name := range dep.PreviousState.SelectedLoadBalancers {
			if containsString(foundNames, name) {
				kept = append(kept, name)
			}
		}
		dep.PreviousState.SelectedLoadBalancers = kept
	}
	return Success()
}

func populateSubnets(ctx context.Context, pc *Context) Outcome {
	dep := pc.Dep
	purpose := paramString(pc.params(), "subnet-purpose")
	zones := paramStringSlice(pc.params(), "selected-zones")

	subnets, err := pc.Facade.DescribeSubnets(ctx, dep.Region, purpose)
	if err != nil {
		return Fail(merrors.New(merrors.UpstreamFaultHTTP, err))
	}
	if len(subnets) == 0 {
		return Fail(merrors.New(merrors.NoSubnets, fmt.Errorf("no subnets with purpose %q in %s", purpose, dep.Region)))
	}

	byZone := map[string]string{}
	for _, s := range subnets {
		byZone[s.AvailabilityZone] = s.ID
	}

	byZoneSubnet := map[string]cloud.Subnet{}
	for _, s := range subnets {
		byZoneSubnet[s.AvailabilityZone] = s
	}

	var ids []string
	var unmatched []string
	for _, zone := range zones {
		az := dep.Region + zone
		id, ok := byZone[az]
		if !ok {
			unmatched = append(unmatched, zone)
			continue
		}
		ids = append(ids, id)
		if dep.NewState.VPCID == "" {
			dep.NewState.VPCID = byZoneSubnet[az].VPCID
		}
	}
	if len(unmatched) > 0 {
		return Fail(merrors.WithPayload(merrors.NoMatchingZones, fmt.Errorf("no subnet for requested zones"), unmatched...))
	}
	dep.NewState.SelectedSubnets = ids
	return Success()
}

func populateVPCZoneIdentifier(ctx context.Context, pc *Context) Outcome {
	pc.Dep.NewState.VPCZoneIdentifier = strings.Join(pc.Dep.NewState.SelectedSubnets, ",")
	return Success()
}

func populateAvailabilityZones(ctx context.Context, pc *Context) Outcome {
	dep := pc.Dep
	zones := paramStringSlice(pc.params(), "selected-zones")
	azs := make([]string, 0, len(zones))
	for _, z := range zones {
		azs = append(azs, dep.Region+z)
	}
	dep.NewState.AvailabilityZones = azs
	return Success()
}

func populateTerminationPolicies(ctx context.Context, pc *Context) Outcome {
	params := pc.params()
	policies := paramStringSlice(params, "termination-policy")
	params["termination-policy"] = policies
	pc.Dep.NewState.TerminationPolicies = policies
	return Success()
}

func createBlockDeviceMappings(ctx context.Context, pc *Context) Outcome {
	params := pc.params()
	rootVolume := paramInt(params, "root-volume")
	if rootVolume == 0 {
		rootVolume = 8
	}
	mappings := []maestro.BlockDeviceMapping{
		{DeviceName: "/dev/sda1", VolumeSize: rootVolume, VolumeType: "gp2"},
	}

	instanceStores := paramInt(params, "instance-stores")
	for i := 0; i < instanceStores; i++ {
		mappings = append(mappings, maestro.BlockDeviceMapping{
			DeviceName:  fmt.Sprintf("/dev/sd%c", 'b'+i),
			VirtualName: fmt.Sprintf("ephemeral%d", i),
		})
	}

	for _, extra := range paramMapSlice(params, "extra-block-devices") {
		mappings = append(mappings, maestro.BlockDeviceMapping{
			DeviceName: fmt.Sprint(extra["device-name"]),
			VolumeSize: paramInt(extra, "size"),
			VolumeType: fmt.Sprint(extra["type"]),
		})
	}

	pc.Dep.NewState.BlockDeviceMappings = mappings
	return Success()
}

func createAutoScalingGroupTags(ctx context.Context, pc *Context) Outcome {
	dep := pc.Dep
	tags := naming.AutoScalingGroupTags(naming.TagsInput{
		Application: dep.Application,
		Contact:     dep.NewState.Onix.Contact,
		DeployedBy:  dep.User,
		Version:     dep.NewState.ImageDetails.Version,
		Environment: dep.Environment,
		ASGName:     dep.NewState.AutoScalingGroupName,
		DeployedOn:  pc.Now(),
	})
	out := make([]maestro.Tag, 0, len(tags))
	for _, t := range tags {
		out = append(out, maestro.Tag{
			Key:               t.Key,
			Value:             t.Value,
			PropagateAtLaunch: true,
			ResourceType:      "auto-scaling-group",
			ResourceID:        dep.NewState.AutoScalingGroupName,
		})
	}
	dep.NewState.AutoScalingGroupTags = out
	return Success()
}

func generateUserData(ctx context.Context, pc *Context) Outcome {
	dep := pc.Dep
	script, err := userdata.Render(userdata.Input{
		Application: dep.Application,
		Environment: dep.Environment,
		Hash:        dep.NewState.Hash,
		ImageID:     dep.NewState.ImageDetails.ID,
		Region:      dep.Region,
		ASGName:     dep.NewState.AutoScalingGroupName,
	})
	if err != nil {
		return Fail(err)
	}
	dep.NewState.UserData = script
	return Success()
}

func completeDeploymentPreparation(ctx context.Context, pc *Context) Outcome {
	pc.Dep.Phase = maestro.PhaseDeployment
	return Success()
}
