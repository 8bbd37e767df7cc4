package awsfacade

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maestro-deploy/maestro/pkg/cloud"
)

func TestExplodeCreateParamsScalarAndSliceFields(t *testing.T) {
	form := explodeCreateParams(cloud.CreateASGParams{
		AutoScalingGroupName:    "helloworld-prod-v001",
		LaunchConfigurationName: "helloworld-prod-v001-20260102030405",
		ImageID:                 "ami-1234",
		InstanceType:            "m5.large",
		MinSize:                 1,
		MaxSize:                 3,
		DesiredCapacity:         2,
		SecurityGroupIDs:        []string{"sg-1", "sg-2"},
		AvailabilityZones:       []string{"us-east-1a", "us-east-1b"},
		SelectedLoadBalancers:   []string{"my-elb"},
		TerminationPolicies:     []string{"OldestInstance"},
	})

	assert.Equal(t, []string{"helloworld-prod-v001"}, form["name"])
	assert.Equal(t, []string{"ami-1234"}, form["imageId"])
	assert.Equal(t, []string{"m5.large"}, form["instanceType"])
	assert.Equal(t, []string{"1"}, form["min"])
	assert.Equal(t, []string{"3"}, form["max"])
	assert.Equal(t, []string{"2"}, form["desiredCapacity"])
	assert.Equal(t, []string{"sg-1", "sg-2"}, form["selectedSecurityGroups"])
	assert.Equal(t, []string{"us-east-1a", "us-east-1b"}, form["availabilityZones"])
	assert.Equal(t, []string{"my-elb"}, form["selectedLoadBalancers"])
	assert.Equal(t, []string{"OldestInstance"}, form["terminationPolicies"])
}

func TestExplodeCreateParamsSelectedLoadBalancersKeySwitchesOnVPCID(t *testing.T) {
	form := explodeCreateParams(cloud.CreateASGParams{
		SelectedLoadBalancers: []string{"my-elb"},
		VPCID:                 "vpc-9",
	})

	assert.Nil(t, form["selectedLoadBalancers"])
	assert.Equal(t, []string{"my-elb"}, form["selectedLoadBalancersForVpcIdvpc-9"])
}

func TestExplodeCreateParamsTagsCarryAllThreeAttributes(t *testing.T) {
	form := explodeCreateParams(cloud.CreateASGParams{
		Tags: []cloud.TagParam{
			{Key: "Application", Value: "helloworld", PropagateAtLaunch: true, ResourceType: "auto-scaling-group", ResourceID: "helloworld-prod-v001"},
			{Key: "Environment", Value: "prod", PropagateAtLaunch: true, ResourceType: "auto-scaling-group", ResourceID: "helloworld-prod-v001"},
		},
	})

	assert.Equal(t, []string{"Application"}, form["tags[0].key"])
	assert.Equal(t, []string{"helloworld"}, form["tags[0].value"])
	assert.Equal(t, []string{"true"}, form["tags[0].propagateAtLaunch"])
	assert.Equal(t, []string{"auto-scaling-group"}, form["tags[0].resourceType"])
	assert.Equal(t, []string{"helloworld-prod-v001"}, form["tags[0].resourceId"])

	assert.Equal(t, []string{"Environment"}, form["tags[1].key"])
	assert.Equal(t, []string{"prod"}, form["tags[1].value"])
}

func TestExplodeCreateParamsBlockDeviceMappings(t *testing.T) {
	form := explodeCreateParams(cloud.CreateASGParams{
		BlockDeviceMappings: []cloud.BlockDeviceMappingParam{
			{DeviceName: "/dev/sda1", VolumeSize: 8, VolumeType: "gp2"},
			{DeviceName: "/dev/sdb", VirtualName: "ephemeral0"},
		},
	})

	assert.Equal(t, []string{"/dev/sda1"}, form["blockDeviceMappings[0].deviceName"])
	assert.Equal(t, []string{"8"}, form["blockDeviceMappings[0].size"])
	assert.Equal(t, []string{"gp2"}, form["blockDeviceMappings[0].volumeType"])
	assert.Nil(t, form["blockDeviceMappings[0].virtualName"])

	assert.Equal(t, []string{"/dev/sdb"}, form["blockDeviceMappings[1].deviceName"])
	assert.Equal(t, []string{"ephemeral0"}, form["blockDeviceMappings[1].virtualName"])
	assert.Nil(t, form["blockDeviceMappings[1].size"])
	assert.Nil(t, form["blockDeviceMappings[1].volumeType"])
}

func TestHandleFromLocationTaskShowPage(t *testing.T) {
	handle := handleFromLocation("/us-east-1/task/show/1234", "https://asgard.example.internal")

	assert.Equal(t, "1234", handle.ID)
	assert.Equal(t, "https://asgard.example.internal/us-east-1/task/show/1234", handle.URL)
	assert.Empty(t, handle.ASGName)
	assert.Empty(t, handle.TerminalStatus)
}

func TestHandleFromLocationClusterShowPageResolvesSynchronously(t *testing.T) {
	handle := handleFromLocation("/us-east-1/cluster/show/helloworld-prod-v001", "https://asgard.example.internal")

	assert.Equal(t, "helloworld-prod-v001", handle.ASGName)
	assert.Equal(t, "completed", handle.TerminalStatus)
	assert.Empty(t, handle.ID)
	assert.Empty(t, handle.URL)
}
