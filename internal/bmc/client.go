package bmc

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/bmcmon/internal/errors"
	"codeberg.org/mutker/bmcmon/internal/logger"
)

const defaultCommandTimeout = 30 * time.Second

// commandRunner executes a command and returns stdout and stderr. Tests
// substitute this to avoid spawning ipmitool.
type commandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()

	return outBuf.Bytes(), errBuf.Bytes(), err
}

type ipmiClient struct {
	target  Target
	timeout time.Duration
	run     commandRunner
}

// Option configures an ipmitool client.
type Option func(*ipmiClient)

// WithTimeout bounds each ipmitool invocation.
func WithTimeout(d time.Duration) Option {
	return func(c *ipmiClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func withRunner(run commandRunner) Option {
	return func(c *ipmiClient) {
		if run != nil {
			c.run = run
		}
	}
}

// NewClient builds an ipmitool-backed client for one BMC target.
func NewClient(target Target, opts ...Option) Client {
	c := &ipmiClient{
		target:  target,
		timeout: defaultCommandTimeout,
		run:     execRunner,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *ipmiClient) command(ctx context.Context, rawArgs ...string) (string, error) {
	errFactory := errors.New()

	args := []string{
		"-I", "lanplus",
		"-H", c.target.Host,
		"-U", c.target.Username,
		"-P", c.target.Password,
	}
	if c.target.Port != 0 {
		args = append(args, "-p", strconv.Itoa(c.target.Port))
	}
	args = append(args, rawArgs...)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stdout, stderr, err := c.run(ctx, "ipmitool", args...)
	if err != nil {
		if ctx.Err() != nil {
			return "", errFactory.WithData(errors.ErrTimeout, c.target.Host)
		}

		return "", classifyFailure(strings.TrimSpace(string(stderr)), err)
	}

	return strings.TrimSpace(string(stdout)), nil
}

// classifyFailure maps ipmitool stderr onto the error taxonomy. The tool
// reports both network and credential problems through its exit status, so
// the text is the only signal available.
func classifyFailure(stderr string, cause error) error {
	errFactory := errors.New()

	msg := stderr
	if msg == "" {
		msg = cause.Error()
	}
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "unable to establish"),
		strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "no route to host"),
		strings.Contains(lower, "timeout"):
		return errFactory.WithMessage(errors.ErrTransport, msg)
	case strings.Contains(lower, "authentication"),
		strings.Contains(lower, "invalid user name"),
		strings.Contains(lower, "password invalid"),
		strings.Contains(lower, "rakp"):
		return errFactory.WithMessage(errors.ErrAuth, msg)
	default:
		return errFactory.WithMessage(ErrCommandFailed, msg).WithData(cause.Error())
	}
}

// secondaryQuery runs an optional sensor read. Boards commonly lack these SDR
// types, so a command-level failure reads as condition-absent empty output.
// Transport and auth failures still propagate.
func (c *ipmiClient) secondaryQuery(ctx context.Context, rawArgs ...string) (string, error) {
	out, err := c.command(ctx, rawArgs...)
	if err == nil {
		return out, nil
	}
	if errors.IsTransport(err) || errors.IsAuth(err) {
		return "", err
	}

	logger.Debug().Err(err).Str("host", c.target.Host).Msg("Optional sensor query failed")

	return "", nil
}

func (c *ipmiClient) QueryTemperatures(ctx context.Context) (string, error) {
	return c.command(ctx, "sdr", "type", "Temperature")
}

func (c *ipmiClient) QueryFans(ctx context.Context) (string, error) {
	return c.command(ctx, "sdr", "type", "Fan")
}

func (c *ipmiClient) QueryMemory(ctx context.Context) (string, error) {
	return c.secondaryQuery(ctx, "sdr", "type", "Memory")
}

func (c *ipmiClient) QueryPowerSupplies(ctx context.Context) (string, error) {
	return c.secondaryQuery(ctx, "sdr", "type", "Power Supply")
}

func (c *ipmiClient) QueryIntrusion(ctx context.Context) (string, error) {
	out, err := c.command(ctx, "sdr", "type", "Physical Security")
	if err == nil {
		return out, nil
	}
	if errors.IsTransport(err) || errors.IsAuth(err) {
		return "", err
	}

	// Some boards expose intrusion only as a named sensor.
	return c.secondaryQuery(ctx, "sdr", "get", "Chassis Intrusion")
}

func (c *ipmiClient) QueryVoltages(ctx context.Context) (string, error) {
	return c.secondaryQuery(ctx, "sdr", "type", "Voltage")
}

func (c *ipmiClient) QueryRecentEvents(ctx context.Context, limit int) (string, error) {
	if limit <= 0 {
		limit = 10
	}

	return c.secondaryQuery(ctx, "sel", "elist", "-c", strconv.Itoa(limit))
}

func (c *ipmiClient) SetFanSpeed(ctx context.Context, targetRPM int, fanIdentifier string) error {
	raw, err := BuildFanCommand(c.target.Vendor, targetRPM, fanIdentifier)
	if err != nil {
		return err
	}

	logger.Debug().
		Str("host", c.target.Host).
		Int("target_rpm", targetRPM).
		Str("fan", fanIdentifier).
		Str("raw", raw).
		Msg("Applying fan speed command")

	args := append([]string{"raw"}, strings.Fields(raw)...)
	_, err = c.command(ctx, args...)

	return err
}

// ApplyOptimalFloor issues the Supermicro stock command that drops fans to
// their optimal-mode floor.
func ApplyOptimalFloor(ctx context.Context, c Client) error {
	ipmi, ok := c.(*ipmiClient)
	if !ok {
		return errors.New().New(errors.ErrNotImplemented)
	}

	args := append([]string{"raw"}, strings.Fields(SupermicroOptimalFloorCommand)...)
	_, err := ipmi.command(ctx, args...)

	return err
}
