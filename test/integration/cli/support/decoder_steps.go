package support

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/ctcbeam/internal/beamsearch"
)

func (testCtx *TestContext) theAlphabet(symbols string) error {
	testCtx.Alphabet = nil
	for _, r := range symbols {
		testCtx.Alphabet = append(testCtx.Alphabet, string(r))
	}
	return nil
}

func (testCtx *TestContext) theProbabilityMatrix(doc *godog.DocString) error {
	testCtx.Frames = nil
	if err := json.Unmarshal([]byte(doc.Content), &testCtx.Frames); err != nil {
		return fmt.Errorf("invalid probability matrix: %w", err)
	}
	return nil
}

// positionalConstraints parses entries separated by "|"; every character of
// an entry is one allowed symbol and an empty entry leaves the position open.
func (testCtx *TestContext) positionalConstraints(list string) error {
	entries := strings.Split(list, "|")
	testCtx.Constraints = make(beamsearch.Constraints, len(entries))
	for k, entry := range entries {
		for _, r := range entry {
			testCtx.Constraints[k] = append(testCtx.Constraints[k], string(r))
		}
	}
	return nil
}

func (testCtx *TestContext) iDecodeWith(beamWidth, topK int) error {
	testCtx.Predictions, testCtx.DecodeErr = beamsearch.Decode(
		testCtx.Frames, testCtx.Alphabet, beamWidth, topK, testCtx.Constraints)
	return nil
}

func (testCtx *TestContext) decodingShouldSucceedWithPredictions(n int) error {
	if testCtx.DecodeErr != nil {
		return fmt.Errorf("decode failed: %w", testCtx.DecodeErr)
	}
	if len(testCtx.Predictions) != n {
		return fmt.Errorf("expected %d predictions, got %d: %+v", n, len(testCtx.Predictions), testCtx.Predictions)
	}
	return nil
}

func (testCtx *TestContext) predictionShouldBe(rank int, text string, probability float64) error {
	if rank < 1 || rank > len(testCtx.Predictions) {
		return fmt.Errorf("no prediction at rank %d (have %d)", rank, len(testCtx.Predictions))
	}
	p := testCtx.Predictions[rank-1]
	if p.Text != text {
		return fmt.Errorf("prediction %d is %q, expected %q", rank, p.Text, text)
	}
	if math.Abs(p.Probability-probability) > 1e-5 {
		return fmt.Errorf("prediction %d has probability %v, expected %v", rank, p.Probability, probability)
	}
	return nil
}

func (testCtx *TestContext) noPredictionShouldContain(symbol string) error {
	for _, p := range testCtx.Predictions {
		if strings.Contains(p.Text, symbol) {
			return fmt.Errorf("prediction %q contains %q", p.Text, symbol)
		}
	}
	return nil
}

var decodeErrors = map[string]error{
	"empty alphabet":            beamsearch.ErrEmptyAlphabet,
	"duplicate symbol":          beamsearch.ErrDuplicateSymbol,
	"invalid beam width":        beamsearch.ErrInvalidBeamWidth,
	"invalid topk":              beamsearch.ErrInvalidTopK,
	"frame shape":               beamsearch.ErrFrameShape,
	"unknown constraint symbol": beamsearch.ErrUnknownConstraintSymbol,
}

func (testCtx *TestContext) decodingShouldFailWith(kind string) error {
	want, ok := decodeErrors[kind]
	if !ok {
		return fmt.Errorf("unknown error kind %q", kind)
	}
	if !errors.Is(testCtx.DecodeErr, want) {
		return fmt.Errorf("expected %v, got %v", want, testCtx.DecodeErr)
	}
	if !errors.Is(testCtx.DecodeErr, beamsearch.ErrInvalidArgument) {
		return fmt.Errorf("%v does not wrap ErrInvalidArgument", testCtx.DecodeErr)
	}
	return nil
}

// RegisterDecoderSteps registers steps that call the decoder directly.
func (testCtx *TestContext) RegisterDecoderSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the alphabet "([^"]*)"$`, testCtx.theAlphabet)
	sc.Step(`^the probability matrix:$`, testCtx.theProbabilityMatrix)
	sc.Step(`^the positional constraints "([^"]*)"$`, testCtx.positionalConstraints)
	sc.Step(`^I decode with beam width (-?\d+) and topk (-?\d+)$`, testCtx.iDecodeWith)
	sc.Step(`^decoding should succeed with (\d+) predictions?$`, testCtx.decodingShouldSucceedWithPredictions)
	sc.Step(`^prediction (\d+) should be "([^"]*)" with probability ([0-9.]+)$`, testCtx.predictionShouldBe)
	sc.Step(`^no prediction should contain "([^"]*)"$`, testCtx.noPredictionShouldContain)
	sc.Step(`^decoding should fail with "([^"]*)"$`, testCtx.decodingShouldFailWith)
}
