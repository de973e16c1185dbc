package core

// ExtractRows drops the first skip rows of grid and returns the rest in order.
// The result shares cell storage with grid; neither is mutated afterwards.
func ExtractRows(grid Grid, skip int) [][]string {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(grid) {
		return [][]string{}
	}
	return grid[skip:]
}
