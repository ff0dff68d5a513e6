package lightgroup

import (
	"testing"

	"relativebrightness/internal/ha"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregated(t *testing.T) {
	unavailable := MemberState{EntityID: "light.gone"}

	tests := []struct {
		name             string
		members          []MemberState
		all              bool
		expectOn         bool
		expectAvailable  bool
		expectBrightness *int
	}{
		{
			name:             "mean of on members truncates",
			members:          []MemberState{onMember("light.a", 50), onMember("light.b", 201), offMember("light.c")},
			expectOn:         true,
			expectAvailable:  true,
			expectBrightness: intPtr(125),
		},
		{
			name:            "all off",
			members:         []MemberState{offMember("light.a"), offMember("light.b")},
			expectAvailable: true,
		},
		{
			name:            "unavailable members are ignored",
			members:         []MemberState{unavailable, offMember("light.a")},
			expectAvailable: true,
		},
		{
			name:    "nothing available",
			members: []MemberState{unavailable},
		},
		{
			// brightness still reflects the on members
			name:             "all mode needs every member on",
			members:          []MemberState{onMember("light.a", 80), offMember("light.b")},
			all:              true,
			expectAvailable:  true,
			expectBrightness: intPtr(80),
		},
		{
			name:             "all mode with every member on",
			members:          []MemberState{onMember("light.a", 80), onMember("light.b", 40), unavailable},
			all:              true,
			expectOn:         true,
			expectAvailable:  true,
			expectBrightness: intPtr(60),
		},
		{
			name:            "on without brightness",
			members:         []MemberState{{EntityID: "light.switch", On: true, Available: true}},
			expectOn:        true,
			expectAvailable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := Aggregated(tt.members, tt.all)
			assert.Equal(t, tt.expectOn, agg.On)
			assert.Equal(t, tt.expectAvailable, agg.Available)
			assert.Equal(t, tt.expectBrightness, agg.Brightness)
		})
	}
}

func TestMemberStates(t *testing.T) {
	states := []*ha.State{
		{EntityID: "light.b", State: ha.StateOn, Attributes: map[string]interface{}{"brightness": 99.6}},
		{EntityID: "light.a", State: ha.StateOff, Attributes: map[string]interface{}{"brightness": 10.0}},
		{EntityID: "light.c", State: ha.StateUnavailable},
		{EntityID: "light.d", State: ha.StateOn},
		nil,
	}

	members := memberStates([]string{"light.a", "light.b", "light.c", "light.d", "light.e"}, states)
	require.Len(t, members, 5)

	assert.Equal(t, MemberState{EntityID: "light.a", Available: true}, members[0])
	assert.Equal(t, MemberState{EntityID: "light.b", On: true, Available: true, Brightness: intPtr(100)}, members[1])
	assert.Equal(t, MemberState{EntityID: "light.c"}, members[2])
	assert.Equal(t, MemberState{EntityID: "light.d", On: true, Available: true}, members[3])
	assert.Equal(t, MemberState{EntityID: "light.e"}, members[4])
}
