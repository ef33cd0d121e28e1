package check

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/roach88/contractsync/internal/record"
)

const timeSuffix = "_time"

// CommandChecker runs an external program once per contract. The program
// reads 0x-prefixed hex bytecode on stdin, receives the address as its last
// argument, and prints one JSON object on stdout:
//
//	{"suicidal": false, "suicide_time": 0.42, "prodigal": true}
//
// Boolean members become flags. Numeric members whose name ends in "_time"
// are durations in seconds.
type CommandChecker struct {
	Path string
	Args []string
}

func (c CommandChecker) String() string {
	return "command " + c.Path
}

func (c CommandChecker) Check(ctx context.Context, bytecode []byte, address string) (Report, error) {
	args := append(append([]string(nil), c.Args...), address)
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Stdin = strings.NewReader(record.EncodeBytecode(bytecode))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return Report{}, fmt.Errorf("checker %s on %s: %w: %s", c.Path, address, err, msg)
		}
		return Report{}, fmt.Errorf("checker %s on %s: %w", c.Path, address, err)
	}

	report, err := ParseReport(stdout.Bytes())
	if err != nil {
		return Report{}, fmt.Errorf("checker %s on %s: %w", c.Path, address, err)
	}
	return report, nil
}

// ParseReport decodes a checker's JSON output.
func ParseReport(data []byte) (Report, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Report{}, fmt.Errorf("parse report: %w", err)
	}

	report := Report{
		Flags:   make(map[string]bool),
		Timings: make(map[string]time.Duration),
	}
	for name, value := range raw {
		if strings.HasSuffix(name, timeSuffix) {
			var secs float64
			if err := json.Unmarshal(value, &secs); err != nil {
				return Report{}, fmt.Errorf("parse report: %s is not a number", name)
			}
			report.Timings[name] = time.Duration(secs * float64(time.Second))
			continue
		}

		var set bool
		if err := json.Unmarshal(value, &set); err != nil {
			return Report{}, fmt.Errorf("parse report: %s is not a boolean", name)
		}
		report.Flags[name] = set
	}
	return report, nil
}
