package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/grovetools/meetbot/cli"
	"github.com/grovetools/meetbot/logging"
	"github.com/grovetools/meetbot/pkg/paths"
	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

// logFileRe matches <component>-<YYYY-MM-DD>.log.
var logFileRe = regexp.MustCompile(`^(.+)-(\d{4}-\d{2}-\d{2})\.log$`)

var (
	componentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	errorLineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnLineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// TailedLine is one log line with the component it came from.
type TailedLine struct {
	Component string
	Line      string
}

// NewLogsCmd creates the `logs` command.
func NewLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show meetbot log files",
		Long: `Prints the most recent log file of each component from the meetbot log
directory. Use -f to keep following them while a session runs.

Examples:
  # Follow every component
  meetbot logs -f

  # The last 50 lines of the browser console
  meetbot logs --component browser --tail 50
`,
		RunE: runLogsE,
	}

	cmd.Flags().StringSlice("component", nil, "Only show these components (comma-separated)")
	cmd.Flags().BoolP("follow", "f", false, "Follow log output")
	cmd.Flags().Int("tail", -1, "Number of lines to show from the end of each file (default: all)")

	return cmd
}

func runLogsE(cmd *cobra.Command, args []string) error {
	components, _ := cmd.Flags().GetStringSlice("component")
	follow, _ := cmd.Flags().GetBool("follow")
	tailLines, _ := cmd.Flags().GetInt("tail")
	out := cmd.OutOrStdout()

	files := map[string]string{}
	var logCfg logging.Config
	if cfg, err := cli.LoadConfig(cmd); err == nil {
		_ = cfg.UnmarshalExtension("logging", &logCfg)
	}
	if logCfg.File.Disabled {
		fmt.Fprintln(out, "File logging is disabled")
		return nil
	}
	if logCfg.File.Path != "" {
		// Every component shares the configured file.
		files["all"] = logging.LogFilePath("", logCfg, time.Now())
	} else {
		found, err := latestLogFiles(paths.LogDir(), components)
		if err != nil {
			return err
		}
		files = found
	}
	if len(files) == 0 {
		fmt.Fprintf(out, "No log files in %s\n", paths.LogDir())
		return nil
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		lines, err := lastLines(files[name], tailLines)
		if err != nil {
			return err
		}
		for _, line := range lines {
			printLogLine(out, TailedLine{Component: name, Line: line})
		}
	}
	if !follow {
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	lineChan := make(chan TailedLine, 100)
	var wg sync.WaitGroup
	for _, name := range names {
		t, err := tail.TailFile(files[name], tail.Config{
			Follow:   true,
			ReOpen:   true,
			Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
			Logger:   tail.DiscardingLogger,
		})
		if err != nil {
			return fmt.Errorf("failed to follow %s: %w", files[name], err)
		}
		wg.Add(1)
		go func(component string, t *tail.Tail) {
			defer wg.Done()
			defer t.Cleanup()
			for {
				select {
				case line, ok := <-t.Lines:
					if !ok {
						return
					}
					if line.Err != nil {
						continue
					}
					lineChan <- TailedLine{Component: component, Line: line.Text}
				case <-ctx.Done():
					_ = t.Stop()
					return
				}
			}
		}(name, t)
	}
	go func() {
		wg.Wait()
		close(lineChan)
	}()

	for line := range lineChan {
		printLogLine(out, line)
	}
	return nil
}

// latestLogFiles returns the newest log file of each component in dir.
// An empty filter keeps every component.
func latestLogFiles(dir string, filter []string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}

	wanted := make(map[string]bool, len(filter))
	for _, c := range filter {
		wanted[c] = true
	}

	latest := map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := logFileRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		component := m[1]
		if len(wanted) > 0 && !wanted[component] {
			continue
		}
		// Dates sort lexically.
		if prev, ok := latest[component]; !ok || entry.Name() > filepath.Base(prev) {
			latest[component] = filepath.Join(dir, entry.Name())
		}
	}
	return latest, nil
}

// lastLines returns the last n non-empty lines of a file; n < 0 returns all of them.
func lastLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if n >= 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// printLogLine prefixes a line with its component. JSON lines are flattened.
func printLogLine(out io.Writer, tl TailedLine) {
	prefix := componentStyle.Render(fmt.Sprintf("[%s]", tl.Component))

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(tl.Line), &entry); err != nil {
		fmt.Fprintf(out, "%s %s\n", prefix, styleByLevel(textLevel(tl.Line), tl.Line))
		return
	}

	level, _ := entry["level"].(string)
	msg, _ := entry["msg"].(string)
	ts, _ := entry["time"].(string)

	keys := make([]string, 0, len(entry))
	for k := range entry {
		if k != "time" && k != "level" && k != "msg" && k != "component" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, fmt.Sprintf("%s=%v", k, entry[k]))
	}

	text := fmt.Sprintf("%s %s %s %s", ts, strings.ToUpper(level), msg, strings.Join(fields, " "))
	fmt.Fprintf(out, "%s %s\n", prefix, styleByLevel(level, strings.TrimSpace(text)))
}

// textLevel extracts the level from a line written by logging.TextFormatter.
func textLevel(line string) string {
	for _, level := range []string{"error", "fatal", "panic", "warning"} {
		if strings.Contains(line, "["+strings.ToUpper(level)+"]") {
			return level
		}
	}
	return ""
}

func styleByLevel(level, text string) string {
	switch strings.ToLower(level) {
	case "error", "fatal", "panic":
		return errorLineStyle.Render(text)
	case "warning", "warn":
		return warnLineStyle.Render(text)
	default:
		return text
	}
}
