package cluster

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// runner executes an external tool and returns its stdout. Swappable in tests.
type runner func(ctx context.Context, name string, args ...string) (string, error)

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// ExecCluster talks to the resource manager through its command-line tools.
// This is the production backend: the attribute store and the voting
// interface both live in the cluster manager, reached via attrTool and
// crmTool respectively.
type ExecCluster struct {
	attrTool string
	crmTool  string
	node     string
	run      runner
}

// NewExecCluster creates the exec-backed cluster view for this node.
func NewExecCluster(attrTool, crmTool, node string) *ExecCluster {
	return &ExecCluster{
		attrTool: attrTool,
		crmTool:  crmTool,
		node:     node,
		run:      runCommand,
	}
}

// GetAttribute reads the named attribute; an unset attribute reads as 0.
func (c *ExecCluster) GetAttribute(ctx context.Context, name string) (uint64, error) {
	out, err := c.run(ctx, c.attrTool, "get", name, "--lifetime", "forever")
	if err != nil {
		// The tool reports unset attributes as an error; treat that as the default.
		if strings.Contains(err.Error(), "not found") {
			return 0, nil
		}
		return 0, err
	}
	if out == "" {
		return 0, nil
	}
	value, err := strconv.ParseUint(out, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected attribute value %q for %s: %w", out, name, err)
	}
	return value, nil
}

// SetAttribute writes the named attribute with forever lifetime.
func (c *ExecCluster) SetAttribute(ctx context.Context, name string, value uint64) error {
	_, err := c.run(ctx, c.attrTool, "set", name, strconv.FormatUint(value, 10), "--lifetime", "forever")
	return err
}

// SetVoteScore sets this node's promotion weight, persisted across reboot.
func (c *ExecCluster) SetVoteScore(ctx context.Context, resource string, score int) error {
	_, err := c.run(ctx, c.crmTool, "score", resource, c.node, strconv.Itoa(score), "--persistent")
	return err
}

// Leader returns the node recorded as current leader, empty when none.
func (c *ExecCluster) Leader(ctx context.Context, resource string) (string, error) {
	out, err := c.run(ctx, c.crmTool, "leader", resource)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

// TransitionPending asks the manager whether a transition is in flight.
func (c *ExecCluster) TransitionPending(ctx context.Context) (bool, error) {
	out, err := c.run(ctx, c.crmTool, "transition-state")
	if err != nil {
		return false, err
	}
	return out == "pending", nil
}

// ClearErrors clears the resource's failure records on this node.
func (c *ExecCluster) ClearErrors(ctx context.Context, resource string) error {
	_, err := c.run(ctx, c.crmTool, "cleanup", resource, "--node", c.node)
	return err
}

// Close is a no-op for the exec backend.
func (c *ExecCluster) Close() error {
	return nil
}
