package runs

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/openctemio/qualitygate/pkg/domain/execution"
	"github.com/openctemio/qualitygate/pkg/domain/run"
	"github.com/openctemio/qualitygate/pkg/domain/shared"
)

// Severity classifies a log line.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// errorMarkers are matched case-insensitively against log content.
var errorMarkers = []string{
	"level=error",
	"level=fatal",
	`"level":"error"`,
	`"level":"fatal"`,
}

// classify returns the severity of a log line.
func classify(content string) Severity {
	lower := strings.ToLower(content)
	for _, marker := range errorMarkers {
		if strings.Contains(lower, marker) {
			return SeverityError
		}
	}
	return SeverityInfo
}

// LogLine is one line of container output.
type LogLine struct {
	Container execution.Container
	Pod       string
	Content   string
	Severity  Severity
}

type logEnvelope struct {
	Result *struct {
		Content string `json:"content"`
		PodName string `json:"podName"`
	} `json:"result"`
}

// ParseLogStream parses the NDJSON log stream of a container. Lines that are
// not a log envelope carrying content and a pod name are skipped.
func ParseLogStream(container execution.Container, stream string) []LogLine {
	var lines []LogLine
	sc := bufio.NewScanner(strings.NewReader(stream))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || raw[0] != '{' {
			continue
		}
		var env logEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		if env.Result == nil || env.Result.PodName == "" || env.Result.Content == "" {
			continue
		}
		lines = append(lines, LogLine{
			Container: container,
			Pod:       env.Result.PodName,
			Content:   env.Result.Content,
			Severity:  classify(env.Result.Content),
		})
	}
	return lines
}

// parsePlainLog splits an archived combined log into main container lines.
func parsePlainLog(text string) []LogLine {
	var lines []LogLine
	for _, raw := range strings.Split(text, "\n") {
		content := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(content) == "" {
			continue
		}
		lines = append(lines, LogLine{
			Container: execution.ContainerMain,
			Content:   content,
			Severity:  classify(content),
		})
	}
	return lines
}

// RunLogs holds the parsed output of a run by container.
type RunLogs map[execution.Container][]LogLine

// Main returns the content of every main container line.
func (l RunLogs) Main() []string {
	return contents(l[execution.ContainerMain], func(LogLine) bool { return true })
}

// MainInfo returns the content of main container lines classified as info.
func (l RunLogs) MainInfo() []string {
	return contents(l[execution.ContainerMain], func(line LogLine) bool { return line.Severity == SeverityInfo })
}

// InfrastructureErrors returns init and wait lines classified as errors.
func (l RunLogs) InfrastructureErrors() []LogLine {
	var out []LogLine
	for _, c := range execution.Containers() {
		if !c.IsInfrastructure() {
			continue
		}
		for _, line := range l[c] {
			if line.Severity == SeverityError {
				out = append(out, line)
			}
		}
	}
	return out
}

func contents(lines []LogLine, keep func(LogLine) bool) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if keep(line) {
			out = append(out, line.Content)
		}
	}
	return out
}

// collectLogs fetches the logs of every container concurrently. A failed
// fetch counts as an empty log. When the main container log is empty the
// combined log archived in blob storage is used instead.
func (r *Reconciler) collectLogs(ctx context.Context, job run.JobRef) RunLogs {
	containers := execution.Containers()
	results := make([][]LogLine, len(containers))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range containers {
		g.Go(func() error {
			text, ok, err := r.Executor.GetLogs(gctx, job.Name, job.Namespace, c)
			if err != nil {
				r.logger.Warn("failed to fetch container logs",
					"job_name", job.Name, "container", c.String(), "error", err)
				return nil
			}
			if ok {
				results[i] = ParseLogStream(c, text)
			}
			return nil
		})
	}
	_ = g.Wait()

	logs := make(RunLogs, len(containers))
	for i, c := range containers {
		logs[c] = results[i]
	}

	if len(logs[execution.ContainerMain]) == 0 {
		data, err := r.Blobs.DownloadLogs(ctx, job.Name)
		switch {
		case err == nil:
			logs[execution.ContainerMain] = parsePlainLog(string(data))
		case shared.IsNotFound(err):
			r.logger.Debug("no archived log for job", "job_name", job.Name)
		default:
			r.logger.Warn("failed to download archived log", "job_name", job.Name, "error", err)
		}
	}
	return logs
}
