package pathloss

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultExecTimeout bounds a single provider invocation.
const DefaultExecTimeout = 30 * time.Second

// ErrNoOutput is returned when the provider binary exits without printing a result line.
var ErrNoOutput = errors.New("provider produced no output")

// ExecConfig describes an external diffraction binary. Args may contain the
// placeholders {lat1}, {lon1}, {lat2}, {lon2}, {h1}, {h2}, {freq}, {pol} and
// {model}, which are substituted per request. The binary must print one line
// of the form "loss80,loss99,status" to stdout.
type ExecConfig struct {
	Path    string        `yaml:"path"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"-"`
}

// Validate checks the configuration
func (c *ExecConfig) Validate() error {
	if c.Path == "" {
		return NewConfigError("pathloss: provider path is required")
	}
	if c.Timeout < 0 {
		return NewConfigError(fmt.Sprintf("pathloss: timeout must not be negative: %s", c.Timeout))
	}
	return nil
}

// BuildArgs returns the argument list for a request.
func (c *ExecConfig) BuildArgs(req Request) []string {
	r := strings.NewReplacer(
		"{lat1}", formatFloat(req.From.Latitude),
		"{lon1}", formatFloat(req.From.Longitude),
		"{lat2}", formatFloat(req.To.Latitude),
		"{lon2}", formatFloat(req.To.Longitude),
		"{h1}", formatFloat(req.HeightFrom),
		"{h2}", formatFloat(req.HeightTo),
		"{freq}", formatFloat(req.FrequencyGHz),
		"{pol}", req.Polarization.String(),
		"{model}", req.Model.String(),
	)

	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = r.Replace(a)
	}
	return args
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WithExecLogger sets the logger for the exec provider
func WithExecLogger(logger *slog.Logger) func(p *ExecProvider) {
	return func(p *ExecProvider) {
		p.logger = logger.With(slog.String("provider", p.binPath))
	}
}

// ExecProvider runs an external diffraction binary for every request.
type ExecProvider struct {
	binPath string
	config  ExecConfig
	logger  *slog.Logger
}

// NewExecProvider locates the binary and creates a new ExecProvider with a discard logger
func NewExecProvider(config ExecConfig, options ...func(p *ExecProvider)) (*ExecProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultExecTimeout
	}

	binPath, err := findBinary(config.Path)
	if err != nil {
		return nil, err
	}

	p := ExecProvider{
		binPath: binPath,
		config:  config,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&p)
	}

	return &p, nil
}

func findBinary(path string) (string, error) {
	binPath, err := exec.LookPath(path)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", NewRuntimeError(fmt.Sprintf("pathloss: `%s` not found in PATH: %s", path, err))
		}
		return "", NewRuntimeError(fmt.Sprintf("pathloss: failed to locate binary: %s", err))
	}
	return binPath, nil
}

// ComputeOrLookup runs the binary once and parses its result line.
func (p *ExecProvider) ComputeOrLookup(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binPath, p.config.BuildArgs(req)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Response{}, fmt.Errorf("error creating stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Response{}, fmt.Errorf("error creating stderr pipe: %w", err)
	}

	if err = cmd.Start(); err != nil {
		return Response{}, fmt.Errorf("error starting command: %w", err)
	}

	type result struct {
		resp Response
		err  error
	}

	parsed := make(chan result, 1)
	stderrDone := make(chan error, 1)

	go func() {
		resp, err := p.handleStdout(stdout)
		parsed <- result{resp, err}
	}()
	go func() {
		stderrDone <- p.handleStderr(stderr)
	}()

	out := <-parsed
	errs := []error{out.err, <-stderrDone}

	if err = cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		errs = append(errs, fmt.Errorf("command exited with error: %w", err))
	}

	if err = errors.Join(errs...); err != nil {
		return Response{}, err
	}
	return out.resp, nil
}

// handleStdout reads stdout and parses the first non-empty line. Remaining
// output is drained so the process never blocks on a full pipe.
func (p *ExecProvider) handleStdout(stdout io.Reader) (Response, error) {
	var (
		resp  Response
		err   error
		found bool
	)

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || found {
			continue
		}

		found = true
		if resp, err = parseLine(line); err != nil {
			p.logger.Warn(fmt.Sprintf("error parsing provider output: %s", err.Error()), slog.String("line", line))
		}
	}
	if scanErr := scanner.Err(); scanErr != nil && !errors.Is(scanErr, io.EOF) && !errors.Is(scanErr, fs.ErrClosed) {
		return Response{}, fmt.Errorf("error reading stdout: %w", scanErr)
	}

	if !found {
		return Response{}, ErrNoOutput
	}
	return resp, err
}

// handleStderr reads from stderr and logs it.
func (p *ExecProvider) handleStderr(stderr io.Reader) error {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		p.logger.Warn(fmt.Sprintf("%s >> %s", p.config.Path, line))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		return fmt.Errorf("error reading stderr: %w", err)
	}

	return nil
}

// parseLine parses "loss80,loss99,status".
func parseLine(line string) (Response, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return Response{}, fmt.Errorf("invalid provider output: expected 3 fields, got %d", len(fields))
	}

	loss80, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return Response{}, fmt.Errorf("invalid 80%% loss: %w", err)
	}

	loss99, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return Response{}, fmt.Errorf("invalid 99%% loss: %w", err)
	}

	status, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return Response{}, fmt.Errorf("invalid status: %w", err)
	}
	if status < 0 {
		return Response{}, fmt.Errorf("invalid status: %d", status)
	}

	return Response{Loss80: loss80, Loss99: loss99, Status: status}, nil
}
