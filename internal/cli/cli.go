// Package cli implements the interactive shell and the one-shot
// execution modes of the command-line client.  Commands are routed
// through the cluster by key, or fanned out to every host with the
// fanout flag.
package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/term"

	"shardpipe/internal/client"
	"shardpipe/internal/cluster"
	"shardpipe/internal/promise"
	"shardpipe/internal/resp"
	"shardpipe/internal/router"
)

// Config selects the execution mode of one CLI run.
type Config struct {
	Timeout time.Duration
	Raw     bool
	Fanout  bool
	Eval    string
	File    string
	Pipe    bool
}

// executor turns one parsed command line into formatted output.
type executor struct {
	rc      *client.RoutingClient
	fanout  bool
	raw     bool
	timeout time.Duration
}

// Run connects the CLI to the cluster and dispatches on mode: eval
// string, trailing args, command file, stdin pipe, or the interactive
// shell.
func Run(c *cluster.Cluster, cfg *Config, args []string) error {
	e := &executor{
		rc:      c.RoutingClient(false),
		fanout:  cfg.Fanout,
		raw:     cfg.Raw,
		timeout: cfg.Timeout,
	}

	switch {
	case cfg.Eval != "":
		return e.runLine(cfg.Eval, os.Stdout)
	case len(args) > 0:
		return e.runLine(strings.Join(args, " "), os.Stdout)
	case cfg.File != "":
		return e.runFile(cfg.File)
	case cfg.Pipe:
		return e.runScript(os.Stdin, "stdin")
	default:
		return e.runInteractive(c)
	}
}

func (e *executor) runLine(line string, out io.Writer) error {
	name, args, err := tokenize(line)
	if err != nil {
		return err
	}
	if name == "" {
		return nil
	}
	fmt.Fprintln(out, e.execute(name, args))
	return nil
}

func (e *executor) runFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cli: open script %s: %w", path, err)
	}
	defer f.Close()
	return e.runScript(f, path)
}

// runScript executes one command per line, skipping blanks and #
// comments.  A bad line is reported and skipped; execution continues.
func (e *executor) runScript(r io.Reader, origin string) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, args, err := tokenize(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s:%d: %v\n", origin, lineNum, err)
			continue
		}
		fmt.Println(e.execute(name, args))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("cli: read %s: %w", origin, err)
	}
	return nil
}

// execute runs one command and renders the reply.  Errors become
// display strings rather than aborting the run, like any shell.
func (e *executor) execute(name string, args []string) string {
	if e.fanout {
		return e.executeFanout(name, args)
	}
	v, err := e.rc.Execute(name, args...)
	if err != nil {
		return formatError(err)
	}
	return formatValue(v, e.raw)
}

func (e *executor) executeFanout(name string, args []string) string {
	var p *promise.Promise[map[router.HostID]resp.Value]
	err := e.rc.FanoutAll(client.WithTimeout(e.timeout)).Run(func(f *client.FanoutClient) error {
		var err error
		p, err = f.Execute(name, args...)
		return err
	})
	if err != nil {
		return formatError(err)
	}
	results, err := p.Value()
	if err != nil {
		return formatError(err)
	}

	ids := make([]router.HostID, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "host %d: %s", id, formatValue(results[id], e.raw))
	}
	return b.String()
}

func formatError(err error) string {
	var replyErr *client.ReplyError
	if errors.As(err, &replyErr) {
		return "(error) " + replyErr.Message
	}
	return "(error) " + err.Error()
}

// formatValue renders a reply the way redis-cli does: typed prefixes in
// pretty mode, payload only in raw mode.
func formatValue(v resp.Value, raw bool) string {
	if raw {
		return formatRaw(v)
	}
	switch v.Type {
	case resp.SimpleString:
		return v.Str
	case resp.Error:
		return "(error) " + v.Str
	case resp.Integer:
		return fmt.Sprintf("(integer) %d", v.Int)
	case resp.BulkString:
		if v.IsNull {
			return "(nil)"
		}
		return fmt.Sprintf("%q", v.Str)
	case resp.Array:
		if v.IsNull {
			return "(nil)"
		}
		if len(v.Array) == 0 {
			return "(empty array)"
		}
		var b strings.Builder
		for i, elem := range v.Array {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%d) %s", i+1, formatValue(elem, false))
		}
		return b.String()
	}
	return "(unknown)"
}

func formatRaw(v resp.Value) string {
	switch v.Type {
	case resp.Integer:
		return fmt.Sprintf("%d", v.Int)
	case resp.Array:
		parts := make([]string, len(v.Array))
		for i, elem := range v.Array {
			parts[i] = formatRaw(elem)
		}
		return strings.Join(parts, "\n")
	default:
		return v.Str
	}
}

// tokenize splits a command line into name and arguments.  Single and
// double quotes group words; there is no escape processing beyond that.
func tokenize(line string) (string, []string, error) {
	var tokens []string
	var cur strings.Builder
	var quote byte
	inToken := false

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			} else {
				cur.WriteByte(ch)
			}
		case ch == '\'' || ch == '"':
			quote = ch
			inToken = true
		case ch == ' ' || ch == '\t':
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteByte(ch)
			inToken = true
		}
	}
	if quote != 0 {
		return "", nil, fmt.Errorf("cli: unterminated quote")
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	if len(tokens) == 0 {
		return "", nil, nil
	}
	args := tokens[1:]
	if len(args) == 0 {
		args = nil
	}
	return strings.ToUpper(tokens[0]), args, nil
}

const prompt = "shardpipe> "

func (e *executor) runInteractive(c *cluster.Cluster) error {
	fmt.Printf("shardpipe cli\n")
	fmt.Printf("Connected to %d hosts\n", len(c.Hosts()))
	if e.fanout {
		fmt.Printf("Fanout mode: every command goes to all hosts\n")
	}
	fmt.Printf("Type 'help' for commands, 'quit' to exit\n\n")

	history := newHistory(100)

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		// No raw mode (not a terminal, most likely): plain line reads,
		// no arrow-key history.
		return e.interactiveLoop(bufio.NewReader(os.Stdin), history, false)
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)
	return e.interactiveLoop(bufio.NewReader(os.Stdin), history, true)
}

func (e *executor) interactiveLoop(reader *bufio.Reader, history *history, rawTerm bool) error {
	for {
		fmt.Print(prompt)

		var input string
		var err error
		if rawTerm {
			input, err = readLineWithHistory(reader, history)
		} else {
			input, err = reader.ReadString('\n')
		}
		if err != nil {
			if err == io.EOF {
				fmt.Println()
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		switch input {
		case "":
			continue
		case "quit", "exit":
			fmt.Print("\r\n")
			return nil
		case "help":
			printHelp()
			continue
		case "clear":
			fmt.Print("\033[H\033[2J")
			continue
		}

		history.add(input)
		name, args, err := tokenize(input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\r%v\r\n", err)
			continue
		}
		out := e.execute(name, args)
		if rawTerm {
			out = strings.ReplaceAll(out, "\n", "\r\n")
		}
		fmt.Print("\r" + out + "\r\n")
	}
}

// history keeps the last maxSize distinct-in-a-row commands.
type history struct {
	commands []string
	position int
	maxSize  int
}

func newHistory(maxSize int) *history {
	return &history{commands: make([]string, 0, maxSize), maxSize: maxSize}
}

func (h *history) len() int { return len(h.commands) }

func (h *history) add(command string) {
	if command == "" || (len(h.commands) > 0 && h.commands[len(h.commands)-1] == command) {
		return
	}
	h.commands = append(h.commands, command)
	if len(h.commands) > h.maxSize {
		h.commands = h.commands[1:]
	}
	h.position = len(h.commands)
}

func (h *history) previous() string {
	if len(h.commands) == 0 {
		return ""
	}
	if h.position >= len(h.commands) {
		h.position = len(h.commands) - 1
		return h.commands[h.position]
	}
	if h.position > 0 {
		h.position--
		return h.commands[h.position]
	}
	return ""
}

func (h *history) next() string {
	if len(h.commands) == 0 {
		return ""
	}
	if h.position < len(h.commands)-1 {
		h.position++
		return h.commands[h.position]
	}
	h.position = len(h.commands)
	return ""
}

// readLineWithHistory reads one line in raw terminal mode with arrow
// key navigation over the history.
func readLineWithHistory(reader *bufio.Reader, history *history) (string, error) {
	var input strings.Builder
	cursorPos := 0

	redraw := func(s string) {
		fmt.Print("\r\033[K" + prompt + s)
		input.Reset()
		input.WriteString(s)
		cursorPos = len(s)
	}

	for {
		ch, err := reader.ReadByte()
		if err != nil {
			return "", err
		}

		if ch == 27 { // ESC sequence
			second, err := reader.ReadByte()
			if err != nil {
				return "", err
			}
			if second != '[' {
				continue
			}
			third, err := reader.ReadByte()
			if err != nil {
				return "", err
			}
			switch third {
			case 'A': // up
				if prev := history.previous(); prev != "" {
					redraw(prev)
				}
			case 'B': // down
				redraw(history.next())
			case 'C': // right
				if cursorPos < input.Len() {
					cursorPos++
					fmt.Print("\033[C")
				}
			case 'D': // left
				if cursorPos > 0 {
					cursorPos--
					fmt.Print("\033[D")
				}
			}
			continue
		}

		switch {
		case ch == 127: // backspace
			if cursorPos > 0 {
				current := input.String()
				rest := current[:cursorPos-1] + current[cursorPos:]
				input.Reset()
				input.WriteString(rest)
				cursorPos--
				fmt.Print("\b \b")
			}
		case ch == 3: // Ctrl+C
			fmt.Print("\r\nUse 'quit' or 'exit' to leave\r\n" + prompt)
			input.Reset()
			cursorPos = 0
		case ch == 10 || ch == 13: // enter
			fmt.Print("\r\n")
			return input.String(), nil
		case ch >= 32 && ch <= 126:
			current := input.String()
			next := current[:cursorPos] + string(ch) + current[cursorPos:]
			input.Reset()
			input.WriteString(next)
			cursorPos++
			fmt.Print(string(ch))
		}
	}
}

func printHelp() {
	fmt.Println("\rShell commands:\r")
	fmt.Println("\r  help         - show this help\r")
	fmt.Println("\r  quit, exit   - leave the shell\r")
	fmt.Println("\r  clear        - clear the screen\r")
	fmt.Println("\r\r")
	fmt.Println("\rEverything else is sent to the cluster.  Keyed commands\r")
	fmt.Println("\rroute to the host owning their first argument; commands\r")
	fmt.Println("\rwithout a key need --fanout.\r")
	fmt.Println("\r")
}
