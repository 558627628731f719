package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_FollowUp(t *testing.T) {
	testCases := []struct {
		status Status
		next   RequestType
		want   Status
		ok     bool
	}{
		{NeedsCreation, Create, IsCreated, true},
		{NeedsModification, Modify, IsModified, true},
		{NeedsRemoval, Remove, IsRemoved, true},
		{IsMatched, 0, 0, false},
		{Failed, 0, 0, false},
	}
	for _, tc := range testCases {
		t.Run(tc.status.String(), func(t *testing.T) {
			next, want, ok := tc.status.FollowUp()
			assert.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.next, next)
				assert.Equal(t, tc.want, want)
			}
		})
	}
}

func TestNewModifyRequest_CopiesChanges(t *testing.T) {
	changes := []Change{NewCreateFolder("/a"), NewCreateFile("/r/a/f", "/a/f")}
	req := NewModifyRequest(changes)
	changes[0] = NewDeleteFolder("/z")

	assert.Equal(t, Modify, req.Type)
	assert.Equal(t, CreateFolder, req.Changes[0].Kind)
	assert.Equal(t, "/r/a/f", req.Changes[1].Source)
}

func TestTaskResponse_String(t *testing.T) {
	resp := NewTaskResponse(NewQueryRequest(), NeedsModification, []Change{NewDeleteFile("/a/x")}, "")
	assert.Contains(t, resp.String(), "NeedsModification")
	assert.Contains(t, resp.String(), "/a/x")
	assert.True(t, IsModified.Changed())
	assert.False(t, IsMatched.Changed())

	withOut := resp.WithOutputs(map[string]interface{}{"rc": 0})
	assert.Nil(t, resp.Outputs)
	assert.Equal(t, 0, withOut.Outputs["rc"])
}
