// Package analyze implements stage two of the WASM transpiler: a
// per-function control-flow summary, a dataflow approximation, a
// complexity score, the call graph between functions, and
// module-level recursion detection. It does not build a module-level
// performance profile.
package analyze

import "github.com/dotlanth/dotvm/pkg/transpile/parse"

// BasicBlock is a straight-line run of instructions bounded by a
// branch, a branch target, or function entry/exit.
type BasicBlock struct {
	Start, End int // instruction indices [Start, End)
}

// FunctionReport is the analysis result for one function.
type FunctionReport struct {
	Index       int
	Blocks      []BasicBlock
	Calls       []uint32 // callee function indices
	Complexity  int      // instruction count weighted by branch density
	LocalWrites map[int64]int // local index -> write count, a crude dataflow approximation
}

// ModuleReport aggregates every function's report plus module-level
// recursion detection.
type ModuleReport struct {
	Functions []FunctionReport
	Recursive map[int]bool // function index -> true if reachable from itself
}

// Analyze builds a ModuleReport for m.
func Analyze(m *parse.Module) ModuleReport {
	report := ModuleReport{Recursive: make(map[int]bool)}

	for i, fn := range m.Functions {
		report.Functions = append(report.Functions, analyzeFunction(i, fn))
	}

	callGraph := make(map[int][]uint32, len(report.Functions))
	for _, fr := range report.Functions {
		callGraph[fr.Index] = fr.Calls
	}
	for i := range report.Functions {
		if reaches(callGraph, i, i, make(map[int]bool)) {
			report.Recursive[i] = true
		}
	}

	return report
}

func analyzeFunction(index int, fn parse.Function) FunctionReport {
	fr := FunctionReport{Index: index, LocalWrites: make(map[int64]int)}

	blockStart := 0
	branchCount := 0
	for i, inst := range fn.Body {
		switch inst.Op {
		case parse.OpBlock, parse.OpLoop, parse.OpIf, parse.OpElse, parse.OpEnd, parse.OpBr, parse.OpBrIf, parse.OpReturn:
			if i > blockStart {
				fr.Blocks = append(fr.Blocks, BasicBlock{Start: blockStart, End: i})
			}
			blockStart = i + 1
			if inst.Op == parse.OpBr || inst.Op == parse.OpBrIf {
				branchCount++
			}
		case parse.OpCall:
			fr.Calls = append(fr.Calls, uint32(inst.Imm))
		case parse.OpLocalSet, parse.OpLocalTee:
			fr.LocalWrites[inst.Imm]++
		}
	}
	if blockStart < len(fn.Body) {
		fr.Blocks = append(fr.Blocks, BasicBlock{Start: blockStart, End: len(fn.Body)})
	}

	// Complexity weights branches higher than straight-line
	// instructions: a function with many branch points is harder for
	// the adapt stage's instruction-set peepholes to reason about than
	// one with the same instruction count and no branches.
	fr.Complexity = len(fn.Body) + branchCount*4

	return fr
}

// reaches reports whether target is reachable from current via the
// call graph, used to flag direct or indirect recursion.
func reaches(graph map[int][]uint32, current, target int, visited map[int]bool) bool {
	if visited[current] {
		return false
	}
	visited[current] = true
	for _, callee := range graph[current] {
		if int(callee) == target {
			return true
		}
		if reaches(graph, int(callee), target, visited) {
			return true
		}
	}
	return false
}
