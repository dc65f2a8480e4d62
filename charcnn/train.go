// Copyright 2025 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package charcnn

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/metrics"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"k8s.io/klog/v2"

	"github.com/gomlx/charcnn/chardata"
	"github.com/gomlx/charcnn/optimizers/expdecay"
	"github.com/gomlx/charcnn/optimizers/momentum"
)

// ModelScope is the context scope under which TrainModel and NewClassifier create the model variables.
const ModelScope = "model"

var (
	// DefaultConvLayers is the "small" model of Zhang et al. (2015).
	DefaultConvLayers = []ConvLayer{
		{256, 7, 3},
		{256, 7, 3},
		{256, 3, NoPooling},
		{256, 3, NoPooling},
		{256, 3, NoPooling},
		{256, 3, 3},
	}

	// DefaultFCLayers is the "small" model of Zhang et al. (2015).
	DefaultFCLayers = []int{1024, 1024}

	// ParamsExcludedFromLoading is the list of parameters (see CreateDefaultContext) that shouldn't be loaded
	// from the checkpoints, and may be overwritten in further training sessions.
	ParamsExcludedFromLoading = []string{
		"train_steps", "num_checkpoints", "validation_fraction",
	}
)

// CreateDefaultContext sets the context with default hyperparameters to use with TrainModel.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		"train_steps":     5000,
		"num_checkpoints": 3,

		// batch_size for training.
		"batch_size": 128,

		// eval_batch_size can be larger than training, it's more efficient.
		"eval_batch_size": 512,

		// Dataset parameters:
		"label_offset":        1,   // Subtracted from the labels in the CSV files, AG News labels start at 1.
		"validation_fraction": 0.1, // Fraction of the training data held out for evaluation, if no test file is given.
		"shuffle_seed":        int64(42),

		// Model:
		ParamEmbeddingDim:  0, // One-hot.
		ParamMaxLen:        1014,
		ParamNumClasses:    0, // If 0, it is set from the training data.
		ParamAlphabetSize:  chardata.DefaultAlphabet.Size(),
		ParamNumBatches:    0, // If 0, it is set to the number of batches in one epoch of the training data.
		ParamNumFilters:    256,
		ParamConvLayers:    EncodeConvLayers(DefaultConvLayers),
		ParamFCLayers:      DefaultFCLayers,
		ParamFCDropoutRate: DefaultFCDropoutRate,

		// Optimizer:
		optimizers.ParamOptimizer:    "momentum",
		optimizers.ParamLearningRate: 0.01,
		momentum.ParamMomentum:       momentum.DefaultMomentum,
		momentum.ParamNesterov:       false,
		expdecay.ParamDecayRate:      expdecay.DefaultDecayRate, // Halved every 3 epochs.
	})
	return ctx
}

// TrainModel with hyperparameters given in ctx, using backend for all computations. The model variables are
// created under ModelScope, and can be used afterward with NewClassifier on the same backend.
//
// trainPath is a CSV file with the training examples (see chardata.LoadCSV). If testPath is empty, a fraction
// ("validation_fraction") of the training examples is held out for evaluation.
//
// If checkpointPath is given and holds a previous checkpoint, its hyperparameters (except those in paramsSet
// and ParamsExcludedFromLoading) and variables are loaded, and training continues from its global step.
func TrainModel(
	backend backends.Backend,
	ctx *context.Context,
	trainPath, testPath, checkpointPath string,
	paramsSet []string,
	evaluateOnEnd bool,
	verbosity int,
) error {
	trainPath = data.ReplaceTildeInDir(trainPath)
	labelOffset := context.GetParamOr(ctx, "label_offset", 0)
	trainExamples, err := chardata.LoadCSVFile(trainPath, labelOffset)
	if err != nil {
		return err
	}
	trainExamples.Shuffle(rand.New(rand.NewSource(context.GetParamOr(ctx, "shuffle_seed", int64(42)))))
	var testExamples *chardata.Examples
	if testPath != "" {
		testExamples, err = chardata.LoadCSVFile(data.ReplaceTildeInDir(testPath), labelOffset)
		if err != nil {
			return err
		}
	} else {
		validationFraction := context.GetParamOr(ctx, "validation_fraction", 0.1)
		trainExamples, testExamples = trainExamples.Split(1.0 - validationFraction)
	}
	klog.V(1).Infof("Loaded %d training examples and %d evaluation examples", trainExamples.Len(), testExamples.Len())

	// Checkpoints loading and saving: loaded hyperparameters take precedence over the defaults.
	var checkpoint *checkpoints.Handler
	if checkpointPath != "" {
		numCheckpointsToKeep := context.GetParamOr(ctx, "num_checkpoints", 3)
		checkpoint, err = checkpoints.Build(ctx).
			DirFromBase(checkpointPath, filepath.Dir(trainPath)).
			Keep(numCheckpointsToKeep).
			ExcludeParams(append(paramsSet, ParamsExcludedFromLoading...)...).
			Done()
		if err != nil {
			return errors.WithMessage(err, "failed to create checkpoint handler")
		}
		fmt.Printf("Checkpoint: %q\n", checkpoint.Dir())
	}

	// Complete the configuration with values derived from the data.
	batchSize := context.GetParamOr(ctx, "batch_size", 0)
	if batchSize <= 0 {
		return errors.Errorf("batch size must be > 0 (maybe it was not set?): %d", batchSize)
	}
	evalBatchSize := context.GetParamOr(ctx, "eval_batch_size", 0)
	if evalBatchSize <= 0 {
		evalBatchSize = batchSize
	}
	if context.GetParamOr(ctx, ParamNumClasses, 0) == 0 {
		ctx.SetParam(ParamNumClasses, max(trainExamples.NumClasses(), testExamples.NumClasses()))
	}
	if context.GetParamOr(ctx, ParamNumBatches, 0) == 0 {
		ctx.SetParam(ParamNumBatches, max(1, trainExamples.Len()/batchSize))
	}
	alphabet := chardata.DefaultAlphabet
	if alphabetSize := context.GetParamOr(ctx, ParamAlphabetSize, 0); alphabetSize != alphabet.Size() {
		return errors.Errorf("hyperparameter %q=%d doesn't match the alphabet size %d",
			ParamAlphabetSize, alphabetSize, alphabet.Size())
	}
	model := FromContext(ctx)
	if err := model.Validate(); err != nil {
		return errors.WithMessage(err, "invalid model configuration")
	}
	if verbosity >= 1 {
		fmt.Println(model)
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}

	// Create datasets used for training and evaluation.
	maxLen := model.Config.MaxLen
	trainDS, err := chardata.NewDataset(backend, "train", trainExamples, alphabet, maxLen)
	if err != nil {
		return err
	}
	trainDS.BatchSize(batchSize, true).Shuffle().Infinite(true)
	var evalDatasets []train.Dataset
	if evaluateOnEnd {
		for _, split := range []struct {
			name     string
			examples *chardata.Examples
		}{{"train-eval", trainExamples}, {"test-eval", testExamples}} {
			if split.examples.Len() == 0 {
				klog.V(1).Infof("No examples for %q, skipping its evaluation", split.name)
				continue
			}
			evalDS, err := chardata.NewDataset(backend, split.name, split.examples, alphabet, maxLen)
			if err != nil {
				return err
			}
			evalDS.BatchSize(evalBatchSize, false)
			evalDatasets = append(evalDatasets, evalDS)
		}
	}

	if verbosity >= 2 {
		fmt.Println(commandline.SprintContextSettings(ctx))
	}

	// Metrics we are interested.
	meanAccuracyMetric := NewMeanAccuracy("Mean Accuracy", "#acc")
	movingAccuracyMetric := NewMovingAverageAccuracy("Moving Average Accuracy", "~acc", 0.01)

	optimizerName := context.GetParamOr(ctx, optimizers.ParamOptimizer, "momentum")
	if _, found := optimizers.KnownOptimizers[optimizerName]; !found {
		return errors.Errorf("hyperparameter %q must take one value from %v, got %q",
			optimizers.ParamOptimizer, maps.Keys(optimizers.KnownOptimizers), optimizerName)
	}
	ctx = ctx.In(ModelScope)
	trainer := train.NewTrainer(backend, ctx, model.ModelGraph,
		LossGraph,
		optimizers.ByName(ctx, optimizerName),
		[]metrics.Interface{movingAccuracyMetric}, // trainMetrics
		[]metrics.Interface{meanAccuracyMetric})   // evalMetrics

	// Use standard training loop.
	loop := train.NewLoop(trainer)
	if verbosity >= 0 {
		commandline.AttachProgressBar(loop) // Attaches a progress bar to the loop.
	}

	// Checkpoint saving: every 3 minutes of training.
	if checkpoint != nil {
		period := time.Minute * 3
		train.PeriodicCallback(loop, period, true, "saving checkpoint", 100,
			func(loop *train.Loop, metrics []*tensors.Tensor) error {
				return checkpoint.Save()
			})
	}

	// Loop for given number of steps.
	numTrainSteps := context.GetParamOr(ctx, "train_steps", 0)
	globalStep := int(optimizers.GetGlobalStep(ctx))
	if globalStep > 0 {
		trainer.SetContext(ctx.Reuse())
	}
	if globalStep < numTrainSteps {
		if _, err := loop.RunSteps(trainDS, numTrainSteps-globalStep); err != nil {
			return errors.WithMessage(err, "failed training")
		}
		if verbosity >= 1 {
			fmt.Printf("\t[Step %d] median train step: %d microseconds\n",
				loop.LoopStep, loop.MedianTrainStepDuration().Microseconds())
			fmt.Println(Summary(ctx))
		}
	} else {
		fmt.Printf("\t - target train_steps=%d already reached. To train further, set a number additional "+
			"to current global step.\n", numTrainSteps)
	}

	// Finally, print an evaluation on train and test datasets.
	if evaluateOnEnd {
		if verbosity >= 1 {
			fmt.Println()
		}
		if err := commandline.ReportEval(trainer, evalDatasets...); err != nil {
			return err
		}
	}
	return nil
}

// Summary returns the number of parameters and the memory used by the variables in ctx.
func Summary(ctx *context.Context) string {
	return fmt.Sprintf("Variables: %d, parameters: %s, memory: %s",
		ctx.NumVariables(), humanize.Comma(int64(ctx.NumParameters())), humanize.Bytes(uint64(ctx.Memory())))
}

var sampleStyle = lipgloss.NewStyle().
	Border(lipgloss.NormalBorder()).
	Padding(1, 4, 1, 4).
	Width(80)

// SprintSample renders n examples as the model sees them: after encoding and decoding with the alphabet,
// truncated to maxLen. Unknown characters are shown as "·".
func SprintSample(examples *chardata.Examples, alphabet *chardata.Alphabet, maxLen, n int) string {
	n = min(n, examples.Len())
	var parts []string
	for ii := range n {
		text := alphabet.Decode(alphabet.Encode(examples.Texts[ii], maxLen), '·')
		parts = append(parts, sampleStyle.Render(
			fmt.Sprintf("[Sample %d - label %d]\n%s\n", ii, examples.Labels[ii], text)))
	}
	return strings.Join(parts, "\n")
}

// PrintSample prints SprintSample to the standard output.
func PrintSample(examples *chardata.Examples, alphabet *chardata.Alphabet, maxLen, n int) {
	fmt.Println(SprintSample(examples, alphabet, maxLen, n))
	fmt.Println()
}
