package naming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseNameGrammars(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
		want Details
	}{
		{"helloworld-prod", true, Details{Application: "helloworld", Environment: "prod"}},
		{"helloworld-prod-v003", true, Details{Application: "helloworld", Environment: "prod", Version: 3, HasVersion: true}},
		{"helloworld-prod-v003-20260101120000", true, Details{Application: "helloworld", Environment: "prod", Version: 3, HasVersion: true, Timestamp: "20260101120000"}},
		{"not a name", false, Details{}},
	}
	for _, c := range cases {
		got, ok := ParseName(c.name)
		assert.Equal(t, c.ok, ok, c.name)
		if c.ok {
			assert.Equal(t, c.want, got, c.name)
		}
	}
}

func TestNextASGNameWrapsAndIncrements(t *testing.T) {
	assert.Equal(t, "helloworld-prod-v001", NextASGName("helloworld", "prod", ""))
	assert.Equal(t, "helloworld-prod-v002", NextASGName("helloworld", "prod", "helloworld-prod-v001"))
	// A predecessor for a different application doesn't influence the version.
	assert.Equal(t, "helloworld-prod-v001", NextASGName("helloworld", "prod", "other-prod-v009"))
}

func TestLaunchConfigurationName(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "helloworld-prod-v001-20260102030405", LaunchConfigurationName("helloworld-prod-v001", at))
}

func TestParseImageName(t *testing.T) {
	got, ok := ParseImageName("helloworld-1.2.3-hvm")
	assert.True(t, ok)
	assert.Equal(t, ImageDetails{Application: "helloworld", Version: "1.2.3", VirtType: "hvm"}, got)

	_, ok = ParseImageName("not-an-image-name")
	assert.False(t, ok)
}

func TestAutoScalingGroupTags(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tags := AutoScalingGroupTags(TagsInput{
		Application: "helloworld",
		Contact:     "team@example.com",
		DeployedBy:  "alice",
		Version:     "1.2.3",
		Environment: "prod",
		ASGName:     "helloworld-prod-v001",
		DeployedOn:  at,
	})
	byKey := map[string]string{}
	for _, tag := range tags {
		byKey[tag.Key] = tag.Value
	}
	assert.Equal(t, "helloworld", byKey["Application"])
	assert.Equal(t, "helloworld-1.2.3", byKey["Name"])
	assert.Equal(t, "1.2.3", byKey["Version"])
	assert.Equal(t, at.Format(time.RFC3339), byKey["DeployedOn"])
}
