package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkItemTypeValid(t *testing.T) {
	for _, typ := range []WorkItemType{WorkItemTypeBug, WorkItemTypeFeature, WorkItemTypeTask, WorkItemTypeResearch} {
		assert.True(t, typ.Valid(), typ)
	}
	assert.False(t, WorkItemType("chore").Valid())
}

func TestWorkItemStatusValid(t *testing.T) {
	for _, status := range []WorkItemStatus{
		WorkItemStatusBacklog, WorkItemStatusReady, WorkItemStatusInProgress,
		WorkItemStatusReview, WorkItemStatusDone,
	} {
		assert.True(t, status.Valid(), status)
	}
	assert.False(t, WorkItemStatus("limbo").Valid())
}

func TestTemplateAccepts(t *testing.T) {
	wildcard := Template{ID: "any", AllowedTypes: []string{TemplateTypeWildcard}}
	assert.True(t, wildcard.Accepts(WorkItemTypeBug))
	assert.True(t, wildcard.Accepts(WorkItemTypeResearch))

	narrow := Template{ID: "bugs", AllowedTypes: []string{"bug", "task"}}
	assert.True(t, narrow.Accepts(WorkItemTypeBug))
	assert.True(t, narrow.Accepts(WorkItemTypeTask))
	assert.False(t, narrow.Accepts(WorkItemTypeFeature))

	empty := Template{ID: "none"}
	assert.False(t, empty.Accepts(WorkItemTypeBug))
}
