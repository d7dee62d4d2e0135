package vault

import (
	sdkerrors "cosmossdk.io/errors"
)

// DependencyGraph tracks directed cross-vault claims (vault A holds a
// receipt-like position in vault B). Cycles are rejected at registration
// time: two vaults that are each other's dependency could otherwise lock each
// other out when both attempt concurrent operations. Counterpart valuation
// while the counterpart is mid-operation already degrades to its last known
// ledger value, so acyclicity is the only structural requirement.
type DependencyGraph struct {
	edges map[string]map[string]struct{}
}

// NewDependencyGraph creates an empty dependency graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{edges: make(map[string]map[string]struct{})}
}

// Register adds the edge from -> to, refusing self references and anything
// that would close a cycle.
func (g *DependencyGraph) Register(from, to string) error {
	if from == "" || to == "" {
		return sdkerrors.Wrap(ErrInvalidArgument, "vault ids cannot be empty")
	}
	if from == to {
		return sdkerrors.Wrapf(ErrDependencyCycle, "%s cannot depend on itself", from)
	}
	if g.reachable(to, from) {
		return sdkerrors.Wrapf(ErrDependencyCycle, "%s already depends on %s", to, from)
	}

	if g.edges[from] == nil {
		g.edges[from] = make(map[string]struct{})
	}
	g.edges[from][to] = struct{}{}
	return nil
}

// RegisterDependency records that this vault holds a claim on another vault,
// for example a receipt position used as collateral. Admin only; the edge is
// refused if it would close a cycle.
func (v *Vault) RegisterDependency(cap AdminCap, graph *DependencyGraph, toVaultID string) error {
	if err := v.checkAdmin(cap); err != nil {
		return err
	}
	if graph == nil {
		return sdkerrors.Wrap(ErrInvalidArgument, "dependency graph cannot be nil")
	}
	return graph.Register(v.cfg.ID, toVaultID)
}

// DependsOn reports whether from transitively depends on to.
func (g *DependencyGraph) DependsOn(from, to string) bool {
	return g.reachable(from, to)
}

// reachable walks the graph depth-first looking for target.
func (g *DependencyGraph) reachable(start, target string) bool {
	visited := make(map[string]struct{})
	stack := []string{start}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == target {
			return true
		}
		if _, seen := visited[node]; seen {
			continue
		}
		visited[node] = struct{}{}
		for next := range g.edges[node] {
			stack = append(stack, next)
		}
	}
	return false
}
