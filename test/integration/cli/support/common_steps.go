package support

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/ctcbeam/cmd/ctcbeam/cmd"
)

// aFileContaining writes a file into the scenario's temporary directory.
func (testCtx *TestContext) aFileContaining(name string, content *godog.DocString) error {
	path := testCtx.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content.Content+"\n"), 0o600)
}

// theEnvironmentVariableIsSetTo sets a variable until the scenario ends.
func (testCtx *TestContext) theEnvironmentVariableIsSetTo(name, value string) error {
	testCtx.EnvVars[name] = value
	return os.Setenv(name, value)
}

// iRunCommand executes the ctcbeam command line in-process.
func (testCtx *TestContext) iRunCommand(command string) error {
	return testCtx.run(command, "")
}

func (testCtx *TestContext) iRunCommandWithStdin(command string, stdin *godog.DocString) error {
	return testCtx.run(command, stdin.Content)
}

func (testCtx *TestContext) run(command, stdin string) error {
	command = testCtx.substitute(command)
	testCtx.LastCommand = command

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}
	if parts[0] == "ctcbeam" {
		parts = parts[1:]
	}

	cmd.ResetConfig()
	root := cmd.NewRootCommand()

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(parts)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	testCtx.LastError = root.ExecuteContext(ctx)
	testCtx.LastOutput = stdout.String()
	testCtx.LastStderr = stderr.String()
	return nil
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastError != nil {
		return fmt.Errorf("command %q failed: %w\nOutput: %s\nStderr: %s",
			testCtx.LastCommand, testCtx.LastError, testCtx.LastOutput, testCtx.LastStderr)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastError == nil {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(expected string) error {
	if !strings.Contains(testCtx.LastOutput, expected) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expected, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(unexpected string) error {
	if strings.Contains(testCtx.LastOutput, unexpected) {
		return fmt.Errorf("output contains '%s'\nActual output: %s", unexpected, testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldBe compares the output line by line. Cells in the feature
// files are separated by "|" and stand for tabs; trailing blanks are ignored.
func (testCtx *TestContext) theOutputShouldBe(expected *godog.DocString) error {
	var wantLines []string
	for _, line := range strings.Split(strings.TrimSpace(expected.Content), "\n") {
		cells := strings.Split(line, "|")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		wantLines = append(wantLines, strings.TrimRight(strings.Join(cells, "\t"), " \t"))
	}
	var gotLines []string
	for _, line := range strings.Split(strings.TrimRight(testCtx.LastOutput, "\n"), "\n") {
		gotLines = append(gotLines, strings.TrimRight(line, " \t"))
	}
	want, got := strings.Join(wantLines, "\n"), strings.Join(gotLines, "\n")
	if got != want {
		return fmt.Errorf("unexpected output\nwant:\n%s\ngot:\n%s", want, got)
	}
	return nil
}

func (testCtx *TestContext) theStderrShouldContain(expected string) error {
	if !strings.Contains(testCtx.LastStderr, expected) {
		return fmt.Errorf("stderr does not contain '%s'\nActual stderr: %s", expected, testCtx.LastStderr)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	var js json.RawMessage
	if err := json.Unmarshal([]byte(testCtx.LastOutput), &js); err != nil {
		return fmt.Errorf("output is not valid JSON: %w\nOutput: %s", err, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldBeValidCSVWithRows(rows int) error {
	records, err := csv.NewReader(strings.NewReader(testCtx.LastOutput)).ReadAll()
	if err != nil {
		return fmt.Errorf("output is not valid CSV: %w", err)
	}
	if len(records) != rows {
		return fmt.Errorf("expected %d CSV rows, got %d\nOutput: %s", rows, len(records), testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theJSONFieldShouldEqual(path, expected string) error {
	return jsonFieldShouldEqual(testCtx.LastOutput, path, expected)
}

func (testCtx *TestContext) theJSONFieldShouldBeNear(path string, expected float64) error {
	return jsonFieldShouldBeNear(testCtx.LastOutput, path, expected, 1e-5)
}

func (testCtx *TestContext) theErrorShouldMention(expected string) error {
	if testCtx.LastError == nil {
		return errors.New("no error occurred")
	}
	if !strings.Contains(testCtx.LastError.Error(), expected) {
		return fmt.Errorf("error does not mention '%s': %v", expected, testCtx.LastError)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldExist(name string) error {
	if _, err := os.Stat(testCtx.Path(name)); err != nil {
		return fmt.Errorf("file %s does not exist: %w", name, err)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldContain(name, expected string) error {
	data, err := os.ReadFile(testCtx.Path(name))
	if err != nil {
		return err
	}
	if !strings.Contains(string(data), expected) {
		return fmt.Errorf("file %s does not contain '%s'\nContent: %s", name, expected, data)
	}
	return nil
}

// RegisterCommonSteps registers file, command and output steps.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	// Setup steps
	sc.Step(`^a file "([^"]*)" containing:$`, testCtx.aFileContaining)
	sc.Step(`^the environment variable "([^"]*)" is set to "([^"]*)"$`, testCtx.theEnvironmentVariableIsSetTo)

	// Command execution steps
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^I run "([^"]*)" with stdin:$`, testCtx.iRunCommandWithStdin)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)

	// Output verification steps
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the output should be:$`, testCtx.theOutputShouldBe)
	sc.Step(`^stderr should contain "([^"]*)"$`, testCtx.theStderrShouldContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the output should be CSV with (\d+) rows$`, testCtx.theOutputShouldBeValidCSVWithRows)
	sc.Step(`^the JSON field "([^"]*)" should equal "([^"]*)"$`, testCtx.theJSONFieldShouldEqual)
	sc.Step(`^the JSON field "([^"]*)" should be about ([0-9.]+)$`, testCtx.theJSONFieldShouldBeNear)

	// Error steps
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)

	// File steps
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the file "([^"]*)" should contain "([^"]*)"$`, testCtx.theFileShouldContain)
}
