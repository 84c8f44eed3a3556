package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func runJobsLogs(cmd *cobra.Command, args []string) error {
	stream, _ := cmd.Flags().GetString("stream")
	stream = strings.TrimSpace(strings.ToLower(stream))
	if stream == "" {
		stream = "stdout"
	}

	tailN, _ := cmd.Flags().GetInt("tail")
	if tailN < 0 {
		tailN = 0
	}

	follow, _ := cmd.Flags().GetBool("follow")

	store, err := jobsStore(cmd)
	if err != nil {
		return err
	}

	resolvedID, err := store.Resolve(args[0])
	if err != nil {
		return err
	}
	rec, err := store.Get(resolvedID)
	if err != nil {
		return err
	}

	stdoutPath := rec.StdoutPath
	stderrPath := rec.StderrPath
	if stdoutPath == "" && stderrPath == "" {
		return fmt.Errorf("job %s has no captured logs (only background jobs do)", rec.JobID)
	}

	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	switch stream {
	case "stdout":
		if follow {
			return followLog(ctx, out, stdoutPath)
		}
		return printLogTail(out, stdoutPath, tailN)
	case "stderr":
		if follow {
			return followLog(ctx, out, stderrPath)
		}
		return printLogTail(out, stderrPath, tailN)
	case "both":
		if follow {
			return fmt.Errorf("--follow needs a single --stream")
		}
		if err := printLogTail(out, stdoutPath, tailN); err != nil {
			return err
		}
		return printLogTail(out, stderrPath, tailN)
	default:
		return fmt.Errorf("invalid --stream %q (expected stdout, stderr, or both)", stream)
	}
}

func printLogTail(out io.Writer, path string, tailN int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if tailN <= 0 {
		_, err := io.Copy(out, f)
		return err
	}

	lines, err := tailLines(f, tailN)
	if err != nil {
		return err
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(out, line)
	}
	return nil
}

func tailLines(r io.Reader, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	scanner := bufio.NewScanner(r)
	buf := make([]string, 0, n)

	for scanner.Scan() {
		line := scanner.Text()
		if len(buf) < n {
			buf = append(buf, line)
			continue
		}
		copy(buf, buf[1:])
		buf[n-1] = line
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return buf, nil
}

// followLog copies path to out and keeps polling for appended lines until
// ctx is done.
func followLog(ctx context.Context, out io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			_, _ = io.WriteString(out, line)
		}
		if err == nil {
			continue
		}
		if err != io.EOF {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(250 * time.Millisecond):
		}
	}
}
