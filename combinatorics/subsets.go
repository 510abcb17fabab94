// Package combinatorics provides a subset-generation helper: enumerating
// every k-element subset of a slice in a stable order, the way a query
// planner enumerates join orders.
package combinatorics

// Subsets returns every k-element subset of items, preserving each
// subset's relative order from items. Panics if k is negative or larger
// than len(items). The result has exactly C(len(items), k) entries.
func Subsets[T any](items []T, k int) [][]T {
	n := len(items)
	if k < 0 || k > n {
		panic("combinatorics: Subsets: k out of range")
	}
	var out [][]T
	combo := make([]int, k)
	var rec func(start, depth int)
	rec = func(start, depth int) {
		if depth == k {
			subset := make([]T, k)
			for i, idx := range combo {
				subset[i] = items[idx]
			}
			out = append(out, subset)
			return
		}
		for i := start; i <= n-(k-depth); i++ {
			combo[depth] = i
			rec(i+1, depth+1)
		}
	}
	rec(0, 0)
	return out
}
