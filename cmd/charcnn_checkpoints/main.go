// Copyright 2025 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// charcnn_checkpoints reports on a charcnn checkpoint: the model configuration, a summary of its size,
// the hyperparameters and the variables.
//
// It can also clear the momentum optimizer accumulators (-clear_optimizer), to restart training from the
// trained weights, or to ship a smaller checkpoint.
package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/charcnn/charcnn"
	"github.com/gomlx/charcnn/optimizers/momentum"
)

var (
	flagScope = flag.String("scope", "/"+charcnn.ModelScope, "The scope of the checkpoint to inspect. "+
		"Variables outside it, like the optimizer accumulators, are not included in the summary and variables reports.")
	flagModel          = flag.Bool("model", true, "Describe the model configured by the checkpoint hyperparameters.")
	flagSummary        = flag.Bool("summary", false, "Display a summary of the model sizes (for variables under --scope) and the global step.")
	flagParams         = flag.Bool("params", false, "Lists the hyperparameters.")
	flagVars           = flag.Bool("vars", false, "Lists the variables under --scope.")
	flagClearOptimizer = flag.Bool("clear_optimizer", false, "Deletes the momentum accumulators and saves a new checkpoint.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected one checkpoint directory to read from, got %d arguments. See 'charcnn_checkpoints -help'.", len(args))
		os.Exit(1)
	}
	checkpointPath := args[0]
	if *flagClearOptimizer {
		n := ClearOptimizer(checkpointPath)
		fmt.Printf("%d momentum accumulators deleted, new checkpoint saved.\n", n)
	}
	report(checkpointPath)
}

// load the checkpoint into a new context.
func load(checkpointPath string, keep int) (*context.Context, *checkpoints.Handler) {
	ctx := context.New()
	checkpoint := must.M1(checkpoints.Build(ctx).
		Dir(checkpointPath).Keep(keep).Immediate().Done())
	return ctx, checkpoint
}

// ClearOptimizer deletes the momentum accumulators from the checkpoint and saves it. It returns the number of
// deleted variables.
func ClearOptimizer(checkpointPath string) int {
	ctx, checkpoint := load(checkpointPath, -1)
	before := ctx.NumVariables()
	momentum.New().Done().Clear(ctx.In(charcnn.ModelScope))
	numDeleted := before - ctx.NumVariables()
	if numDeleted > 0 {
		must.M(checkpoint.Save())
	}
	return numDeleted
}

func report(checkpointPath string) {
	ctx, _ := load(checkpointPath, -1)
	scopedCtx := ctx
	if *flagScope != "" {
		scopedCtx = ctx.InAbsPath(*flagScope)
	}

	if *flagModel {
		fmt.Println(titleStyle.Render("Model"))
		model := charcnn.FromContext(scopedCtx)
		fmt.Println(model)
		if err := model.Validate(); err != nil {
			fmt.Printf("Invalid configuration: %v\n", err)
		} else {
			fmt.Printf("Output length: %d, flattened dimension: %d\n", model.OutputLength(), model.FlatDim())
		}
	}

	if *flagSummary {
		fmt.Println(titleStyle.Render("Summary"))
		table := newPlainTable(lipgloss.Right, lipgloss.Left)
		for _, row := range summaryRows(checkpointPath, scopedCtx) {
			table.Row(row...)
		}
		fmt.Println(table.Render())
	}

	if *flagParams {
		fmt.Println(titleStyle.Render("Hyperparameters"))
		table := newPlainTable(lipgloss.Left)
		table.Headers("Scope", "Name", "Type", "Value")
		ctx.EnumerateParams(func(scope, key string, value any) {
			table.Row(scope, key, fmt.Sprintf("%T", value), fmt.Sprintf("%v", value))
		})
		fmt.Println(table.Render())
	}

	if *flagVars {
		fmt.Println(titleStyle.Render(fmt.Sprintf("Variables in scope %q", scopedCtx.Scope())))
		table := newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
		table.Headers("Scope", "Name", "Shape", "Size", "Bytes")
		for _, row := range variablesRows(scopedCtx) {
			table.Row(row...)
		}
		fmt.Println(table.Render())
	}
}

// summaryRows returns the checkpoint, scope, global step and size of the variables in scopedCtx.
func summaryRows(checkpointPath string, scopedCtx *context.Context) [][]string {
	var numVars, totalSize int
	var totalMemory uintptr
	scopedCtx.EnumerateVariablesInScope(func(v *context.Variable) {
		numVars++
		totalSize += v.Shape().Size()
		totalMemory += v.Shape().Memory()
	})
	return [][]string{
		{"checkpoint", checkpointPath},
		{"scope", scopedCtx.Scope()},
		{"global_step", humanize.Comma(optimizers.GetGlobalStep(scopedCtx))},
		{"# variables", humanize.Comma(int64(numVars))},
		{"# parameters", humanize.Comma(int64(totalSize))},
		{"# bytes", humanize.Bytes(uint64(totalMemory))},
	}
}

// variablesRows lists the variables in scopedCtx, sorted by scope and name.
func variablesRows(scopedCtx *context.Context) [][]string {
	var rows [][]string
	scopedCtx.EnumerateVariablesInScope(func(v *context.Variable) {
		shape := v.Shape()
		rows = append(rows, []string{
			v.Scope(), v.Name(), shape.String(),
			humanize.Comma(int64(shape.Size())),
			humanize.Bytes(uint64(shape.Memory())),
		})
	})
	slices.SortFunc(rows, func(a, b []string) int {
		if cmp := strings.Compare(a[0], b[0]); cmp != 0 {
			return cmp
		}
		return strings.Compare(a[1], b[1])
	})
	return rows
}
