package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWouldCreateCycleSelfReference(t *testing.T) {
	assert.True(t, WouldCreateCycle("calc1", "calc1", nil))
}

func TestWouldCreateCycleDirect(t *testing.T) {
	// calc2 already requires calc1; making calc1 require calc2 closes
	// the loop.
	graph := map[string][]string{"calc2": {"calc1"}}
	assert.True(t, WouldCreateCycle("calc1", "calc2", graph))
}

func TestWouldCreateCycleTransitive(t *testing.T) {
	graph := map[string][]string{
		"calc3": {"calc2"},
		"calc2": {"calc1"},
	}
	assert.True(t, WouldCreateCycle("calc1", "calc3", graph))
}

func TestWouldCreateCycleAcyclic(t *testing.T) {
	graph := map[string][]string{
		"calc2": {"calc1"},
		"calc3": {"calc2"},
	}
	assert.False(t, WouldCreateCycle("calc3", "calc1", graph))
}

func TestWouldCreateCycleDiamond(t *testing.T) {
	// Two paths reach the same ancestor; the shared node must not make
	// the edge look cyclic.
	graph := map[string][]string{
		"stats":   {"algebra"},
		"linalg":  {"algebra"},
		"ml":      {"stats", "linalg"},
		"algebra": {},
	}
	assert.False(t, WouldCreateCycle("ml", "stats", graph))
	assert.True(t, WouldCreateCycle("algebra", "ml", graph))
}

func TestWouldCreateCycleUnknownIDs(t *testing.T) {
	graph := map[string][]string{"calc2": {"calc1"}}
	assert.False(t, WouldCreateCycle("calc2", "ghost", graph))
	assert.False(t, WouldCreateCycle("ghost", "calc2", graph))
}

func TestWouldCreateCycleTerminatesOnCorruptGraph(t *testing.T) {
	// A cycle already stored in the graph must not hang the traversal.
	graph := map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}
	assert.False(t, WouldCreateCycle("c", "a", graph))
}

func TestWouldCreateCycleEmptyIDs(t *testing.T) {
	assert.False(t, WouldCreateCycle("", "calc1", nil))
	assert.False(t, WouldCreateCycle("calc1", "", nil))
}
