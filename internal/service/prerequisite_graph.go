package service

// WouldCreateCycle reports whether adding candidateID as a prerequisite
// of courseID would close a cycle in the prerequisite relation. The
// relation is given as an index of course id to its direct prerequisite
// ids; the traversal never touches entity objects.
//
// The edge is cyclic exactly when courseID is already reachable from
// candidateID by following prerequisite edges. A self-reference is
// cyclic by definition. Unknown ids simply have no outgoing edges, so
// the traversal terminates without finding the target.
func WouldCreateCycle(courseID, candidateID string, prerequisites map[string][]string) bool {
	if courseID == "" || candidateID == "" {
		return false
	}
	if courseID == candidateID {
		return true
	}

	// Iterative DFS with a visited set so a pre-existing cycle or
	// diamond in the stored graph cannot loop the traversal.
	visited := make(map[string]struct{})
	stack := []string{candidateID}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == courseID {
			return true
		}
		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}
		stack = append(stack, prerequisites[current]...)
	}
	return false
}
