// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cv

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kodiak/pkg/algos/meanmodel"
	"github.com/AleutianAI/kodiak/pkg/builder"
	"github.com/AleutianAI/kodiak/pkg/frame"
	"github.com/AleutianAI/kodiak/pkg/store"
)

func putFrame(t *testing.T, st store.Store, key store.Key, names []string, cols []*frame.Column) *frame.Frame {
	t.Helper()
	f, err := frame.New(names, cols)
	require.NoError(t, err)
	require.NoError(t, st.PutFrame(context.Background(), key, f))
	return f
}

// regressionFrame builds nrows of x in [0, nrows) with y = 2x.
func regressionFrame(t *testing.T, st store.Store, key store.Key, nrows int) *frame.Frame {
	t.Helper()
	xs := make([]float64, nrows)
	ys := make([]float64, nrows)
	for i := range xs {
		xs[i] = float64(i)
		ys[i] = 2 * float64(i)
	}
	return putFrame(t, st, key,
		[]string{"x", "y"},
		[]*frame.Column{frame.NewNumeric(xs), frame.NewNumeric(ys)})
}

func initBuilder(t *testing.T, st store.Store, p builder.Parameters) *builder.Builder {
	t.Helper()
	b := builder.New(meanmodel.New(), p, st)
	b.Init(context.Background(), true)
	require.Equal(t, 0, b.ErrorCount(), b.Log().ValidationErrors())
	return b
}

// recordingAlgo wraps another Algorithm and keeps the prepared run of
// every training it performs. Folds train sequentially, so no locking.
type recordingAlgo struct {
	builder.Algorithm
	runs []*builder.Run
}

func (a *recordingAlgo) Train(ctx context.Context, run *builder.Run) (builder.Model, error) {
	a.runs = append(a.runs, run)
	return a.Algorithm.Train(ctx, run)
}

// TestTrainDispatchesSingleModel verifies cross-validation off means
// one plain training job with no CV bookkeeping in the output.
func TestTrainDispatchesSingleModel(t *testing.T) {
	ctx := context.Background()
	st := store.NewMem()
	regressionFrame(t, st, "train", 10)

	p := builder.DefaultParameters("train")
	p.ResponseColumn = "y"
	p.ModelID = "m-single"

	b := initBuilder(t, st, p)
	j, err := Train(ctx, b)
	require.NoError(t, err)

	res, err := j.Get(ctx)
	require.NoError(t, err)
	m := res.(builder.Model)

	assert.Equal(t, store.Key("m-single"), m.Key())
	assert.Nil(t, m.Output().CrossValidationModels)
	assert.Nil(t, m.Output().CrossValidationMetrics)

	_, err = st.GetBlob(ctx, "m-single")
	assert.NoError(t, err)
}

// TestCrossValidationModulo runs the full 5-fold pipeline end to end
// with the deterministic Modulo scheme on 100 rows.
func TestCrossValidationModulo(t *testing.T) {
	ctx := context.Background()
	st := store.NewMem()
	regressionFrame(t, st, "train", 100)

	p := builder.DefaultParameters("train")
	p.ResponseColumn = "y"
	p.ModelID = "m"
	p.Nfolds = 5
	p.FoldAssignment = builder.FoldModulo

	b := initBuilder(t, st, p)
	j, err := Train(ctx, b)
	require.NoError(t, err)

	res, err := j.Get(ctx)
	require.NoError(t, err)
	m := res.(builder.Model)
	out := m.Output()

	// Five sub-models in fold order plus the main model.
	require.Len(t, out.CrossValidationModels, 5)
	for i, k := range out.CrossValidationModels {
		assert.Equal(t, store.Key(fmt.Sprintf("m_cv_%d", i+1)), k)
		_, err := st.GetBlob(ctx, k)
		assert.NoError(t, err, "fold model %d stored", i+1)
	}

	require.NotNil(t, out.CrossValidationMetrics)
	assert.Equal(t, "5-fold cross-validation on training data", out.CrossValidationMetrics.Description)
	assert.Equal(t, 100.0, out.CrossValidationMetrics.NObs, "every row scored exactly once")
	assert.Greater(t, out.CrossValidationMetrics.MSE, 0.0)

	// The main model is the full-data fit.
	mm := m.(*meanmodel.Model)
	assert.InDelta(t, 99.0, mm.Prediction, 1e-9, "mean of 2x over 0..99")

	// The job's progress spans all six trainings and is torn down.
	assert.Equal(t, int64(6)*meanmodel.New().ProgressUnits(), j.Progress().Total())
	assert.True(t, j.Progress().Closed())
}

// TestCrossValidationCleansUpSplits verifies derived fold frames are
// released unless retention was requested.
func TestCrossValidationCleansUpSplits(t *testing.T) {
	ctx := context.Background()

	run := func(keep bool) []store.Key {
		st := store.NewMem()
		regressionFrame(t, st, "train", 20)

		p := builder.DefaultParameters("train")
		p.ResponseColumn = "y"
		p.ModelID = "m"
		p.Nfolds = 2
		p.FoldAssignment = builder.FoldModulo
		p.KeepCVSplits = keep

		b := initBuilder(t, st, p)
		j, err := Train(ctx, b)
		require.NoError(t, err)
		_, err = j.Get(ctx)
		require.NoError(t, err)

		keys, err := st.List(ctx, "m_cv_")
		require.NoError(t, err)
		return keys
	}

	var frames []store.Key
	for _, k := range run(false) {
		if len(k) > 6 && (k[len(k)-6:] == "_train" || k[len(k)-6:] == "_valid") {
			frames = append(frames, k)
		}
	}
	assert.Empty(t, frames, "fold views deleted by default")

	frames = nil
	for _, k := range run(true) {
		if len(k) > 6 && (k[len(k)-6:] == "_train" || k[len(k)-6:] == "_valid") {
			frames = append(frames, k)
		}
	}
	assert.Len(t, frames, 4, "2 folds x train+valid retained")
}

// TestCrossValidationKeepsPredictions verifies per-fold holdout
// predictions are persisted on request.
func TestCrossValidationKeepsPredictions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMem()
	regressionFrame(t, st, "train", 20)

	p := builder.DefaultParameters("train")
	p.ResponseColumn = "y"
	p.ModelID = "m"
	p.Nfolds = 2
	p.FoldAssignment = builder.FoldModulo
	p.KeepCVPredictions = true

	b := initBuilder(t, st, p)
	j, err := Train(ctx, b)
	require.NoError(t, err)
	res, err := j.Get(ctx)
	require.NoError(t, err)
	out := res.(builder.Model).Output()

	require.Len(t, out.CrossValidationPredictions, 2)
	for i, k := range out.CrossValidationPredictions {
		assert.Equal(t, store.Key(fmt.Sprintf("prediction_m_cv_%d", i+1)), k)
		c, err := st.GetColumn(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, 20, c.Len())
	}
}

// TestFoldColumnDrivesFoldCount verifies a fold column with gapped
// distinct values {0, 1, 2} yields 3 folds without any assignment
// computation.
func TestFoldColumnDrivesFoldCount(t *testing.T) {
	ctx := context.Background()
	st := store.NewMem()
	putFrame(t, st, "train",
		[]string{"x", "y", "f"},
		[]*frame.Column{
			frame.NewNumeric([]float64{1, 2, 3, 4, 5, 6}),
			frame.NewNumeric([]float64{2, 4, 6, 8, 10, 12}),
			frame.NewNumeric([]float64{0, 0, 1, 1, 2, 2}),
		})

	p := builder.DefaultParameters("train")
	p.ResponseColumn = "y"
	p.ModelID = "m"
	p.FoldColumn = "f"

	b := initBuilder(t, st, p)
	j, err := Train(ctx, b)
	require.NoError(t, err)

	res, err := j.Get(ctx)
	require.NoError(t, err)
	out := res.(builder.Model).Output()

	require.Len(t, out.CrossValidationModels, 3)
	assert.Equal(t, "3-fold cross-validation on training data", out.CrossValidationMetrics.Description)
}

// TestFoldColumnStaysSpecialInFoldModels verifies every per-fold model
// sees the declared fold column as a bound special column at the end
// of the frame, never as a leading feature.
func TestFoldColumnStaysSpecialInFoldModels(t *testing.T) {
	ctx := context.Background()
	st := store.NewMem()
	putFrame(t, st, "train",
		[]string{"x", "y", "f"},
		[]*frame.Column{
			frame.NewNumeric([]float64{1, 2, 3, 4, 5, 6}),
			frame.NewNumeric([]float64{2, 4, 6, 8, 10, 12}),
			frame.NewNumeric([]float64{0, 0, 1, 1, 2, 2}),
		})

	p := builder.DefaultParameters("train")
	p.ResponseColumn = "y"
	p.ModelID = "m"
	p.FoldColumn = "f"

	algo := &recordingAlgo{Algorithm: meanmodel.New()}
	b := builder.New(algo, p, st)
	b.Init(ctx, true)
	require.Equal(t, 0, b.ErrorCount(), b.Log().ValidationErrors())

	j, err := Train(ctx, b)
	require.NoError(t, err)
	_, err = j.Get(ctx)
	require.NoError(t, err)

	require.Len(t, algo.runs, 4, "three folds plus the main model")
	for i, run := range algo.runs[:3] {
		assert.Equal(t, []string{"x", "weights", "f", "y"}, run.Train.Names(), "fold %d", i+1)
		require.NotNil(t, run.Fold, "fold %d", i+1)
		assert.Equal(t, 2.0, run.Fold.Max(), "fold %d sees the full assignment range", i+1)
	}
	main := algo.runs[3]
	assert.Equal(t, []string{"x", "f", "y"}, main.Train.Names())
	assert.NotNil(t, main.Fold)
}

// TestDegenerateSplitAborts verifies an unusable split fails the run
// before any main model exists.
func TestDegenerateSplitAborts(t *testing.T) {
	ctx := context.Background()
	st := store.NewMem()
	putFrame(t, st, "train",
		[]string{"x", "w", "y"},
		[]*frame.Column{
			frame.NewNumeric([]float64{1, 2, 3, 4}),
			frame.NewNumeric([]float64{0, 0, 0, 1}),
			frame.NewNumeric([]float64{2, 4, 6, 8}),
		})

	p := builder.DefaultParameters("train")
	p.ResponseColumn = "y"
	p.WeightsColumn = "w"
	p.ModelID = "m"
	p.Nfolds = 4
	p.FoldAssignment = builder.FoldModulo

	b := initBuilder(t, st, p)
	j, err := Train(ctx, b)
	require.NoError(t, err)

	_, err = j.Get(ctx)
	require.ErrorIs(t, err, ErrDegenerateSplit)
	assert.Contains(t, err.Error(), "reduce nfolds")

	// No main model was stored.
	_, err = st.GetBlob(ctx, "m")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// TestRandomAssignmentDeterministic verifies the Random scheme is a
// pure function of row and seed.
func TestRandomAssignmentDeterministic(t *testing.T) {
	for _, seed := range []int64{0, 1, 42} {
		a := defaultFoldHash(17, seed)
		b := defaultFoldHash(17, seed)
		assert.Equal(t, a, b, "seed %d", seed)
	}
	assert.NotEqual(t, defaultFoldHash(17, 1), defaultFoldHash(18, 1),
		"different rows land differently")
}

// TestRandomSchemeReproducible verifies two runs with the same fixed
// seed produce identical aggregated metrics.
func TestRandomSchemeReproducible(t *testing.T) {
	ctx := context.Background()

	run := func() float64 {
		st := store.NewMem()
		regressionFrame(t, st, "train", 50)

		p := builder.DefaultParameters("train")
		p.ResponseColumn = "y"
		p.ModelID = "m"
		p.Nfolds = 3
		p.FoldAssignment = builder.FoldRandom
		p.Seed = 42

		b := initBuilder(t, st, p)
		j, err := Train(ctx, b)
		require.NoError(t, err)
		res, err := j.Get(ctx)
		require.NoError(t, err)
		return res.(builder.Model).Output().CrossValidationMetrics.MSE
	}

	assert.Equal(t, run(), run())
}

// TestWeightMasksPartitionRows verifies each row's weight lands in
// exactly one holdout mask and N-1 training masks.
func TestWeightMasksPartitionRows(t *testing.T) {
	ctx := context.Background()
	st := store.NewMem()
	regressionFrame(t, st, "train", 12)

	p := builder.DefaultParameters("train")
	p.ResponseColumn = "y"
	p.Nfolds = 3
	p.FoldAssignment = builder.FoldModulo

	b := initBuilder(t, st, p)
	rs := newRunState(New(), b)

	foldOf, err := rs.assignFolds(ctx, 3)
	require.NoError(t, err)
	trainW, validW, err := rs.buildWeightMasks(ctx, 3, foldOf)
	require.NoError(t, err)

	for row := 0; row < 12; row++ {
		var held, trained int
		for i := 0; i < 3; i++ {
			if validW[i].At(row) > 0 {
				held++
			}
			if trainW[i].At(row) > 0 {
				trained++
			}
			assert.Equal(t, 0.0, trainW[i].At(row)*validW[i].At(row),
				"row %d fold %d appears in both masks", row, i)
		}
		assert.Equal(t, 1, held, "row %d held out once", row)
		assert.Equal(t, 2, trained, "row %d trains in N-1 folds", row)
	}
}

// TestModuloAssignment verifies fold = row mod N.
func TestModuloAssignment(t *testing.T) {
	ctx := context.Background()
	st := store.NewMem()
	regressionFrame(t, st, "train", 10)

	p := builder.DefaultParameters("train")
	p.ResponseColumn = "y"
	p.Nfolds = 5
	p.FoldAssignment = builder.FoldModulo

	b := initBuilder(t, st, p)
	rs := newRunState(New(), b)

	foldOf, err := rs.assignFolds(ctx, 5)
	require.NoError(t, err)
	for row := 0; row < 10; row++ {
		assert.Equal(t, row%5, foldOf(row))
	}
}

// TestRunRequiresInit verifies the orchestrator's training gate.
func TestRunRequiresInit(t *testing.T) {
	st := store.NewMem()
	p := builder.DefaultParameters("train")
	p.Nfolds = 2
	b := builder.New(meanmodel.New(), p, st)

	_, err := New().Run(context.Background(), b)
	assert.ErrorIs(t, err, builder.ErrInitNotRun)
}

// TestCancellationAbortsRemainingFolds verifies a canceled context
// fails the run without a stored main model.
func TestCancellationAbortsRemainingFolds(t *testing.T) {
	st := store.NewMem()
	regressionFrame(t, st, "train", 20)

	p := builder.DefaultParameters("train")
	p.ResponseColumn = "y"
	p.ModelID = "m"
	p.Nfolds = 2
	p.FoldAssignment = builder.FoldModulo

	b := initBuilder(t, st, p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j, err := Train(ctx, b)
	require.NoError(t, err)

	_, err = j.Get(context.Background())
	require.Error(t, err)

	_, err = st.GetBlob(context.Background(), "m")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
