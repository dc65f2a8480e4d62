// Copyright 2025 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// charcnn trains a character-level convolutional network for text classification on a CSV file of
// labeled texts, like AG News, shaped `label,title,description`.
//
// Any extra arguments are classified with the trained model at the end:
//
//	charcnn -train=~/data/ag_news/train.csv -test=~/data/ag_news/test.csv -checkpoint=ag_news \
//	  -set="train_steps=10000;charcnn_embedding_dim=32" "Stocks rally as oil prices drop"
package main

import (
	"flag"
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/charcnn/charcnn"
	"github.com/gomlx/charcnn/chardata"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagTrain      = flag.String("train", "~/tmp/ag_news/train.csv", "CSV file with the training examples.")
	flagTest       = flag.String("test", "", "CSV file with the test examples. If empty, part of the training examples is held out.")
	flagEval       = flag.Bool("eval", true, "Whether to evaluate the model on the train and test data in the end.")
	flagVerbosity  = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory save and load checkpoints from. If left empty, no checkpoints are created.")
	flagSamples    = flag.Int("samples", 0, "Number of training examples to print, as seen by the model, before training.")
)

func main() {
	ctx := charcnn.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	// Backend handles creation of ML computation graphs, accelerator resources, etc. It is shared by training
	// and classification, since tensors can't be used across backends.
	backend := backends.MustNew()
	err := exceptions.TryCatch[error](func() {
		if *flagSamples > 0 {
			printSamples(ctx, *flagSamples)
		}
		must.M(charcnn.TrainModel(backend, ctx, *flagTrain, *flagTest, *flagCheckpoint, paramsSet, *flagEval, *flagVerbosity))
		if flag.NArg() > 0 {
			classify(backend, ctx, flag.Args())
		}
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

func printSamples(ctx *context.Context, n int) {
	labelOffset := context.GetParamOr(ctx, "label_offset", 0)
	examples := must.M1(chardata.LoadCSVFile(data.ReplaceTildeInDir(*flagTrain), labelOffset))
	maxLen := context.GetParamOr(ctx, charcnn.ParamMaxLen, 1014)
	charcnn.PrintSample(examples, chardata.DefaultAlphabet, maxLen, n)
}

func classify(backend backends.Backend, ctx *context.Context, texts []string) {
	model := charcnn.FromContext(ctx)
	classifier := must.M1(charcnn.NewClassifier(backend, ctx, model, chardata.DefaultAlphabet))
	classes := must.M1(classifier.Classify(texts))
	for ii, text := range texts {
		fmt.Printf("%d\t%q\n", classes[ii], text)
	}
}
