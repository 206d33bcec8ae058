package console

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"

	"github.com/chzyer/readline"
	"golang.org/x/term"
)

const defaultPrompt = "runtime> "

type promptInput interface {
	Read() (string, error)
	Close() error
}

type inputEvent struct {
	line string
	err  error
}

// newPromptInput uses readline on a terminal and a plain line reader otherwise.
func newPromptInput(in io.Reader, out *printer, historyFile string) promptInput {
	if rl, err := newReadlineInput(in, out.w, historyFile); err == nil {
		return rl
	}
	return &stdioInput{in: bufio.NewReader(in), out: out}
}

type readlineInput struct {
	rl *readline.Instance
}

func newReadlineInput(in io.Reader, out io.Writer, historyFile string) (*readlineInput, error) {
	inFile, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(inFile.Fd())) {
		return nil, errors.New("stdin is not terminal")
	}
	outFile, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(outFile.Fd())) {
		return nil, errors.New("stdout is not terminal")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          defaultPrompt,
		HistoryFile:     historyFile,
		HistoryLimit:    200,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("clear"),
			readline.PcItem("show"),
			readline.PcItem("dismiss"),
			readline.PcItem("autotrack"),
			readline.PcItem("track"),
			readline.PcItem("cached"),
			readline.PcItem("version"),
			readline.PcItem("refresh"),
			readline.PcItem("call"),
			readline.PcItem("policy",
				readline.PcItem("save", readline.PcItem("yes"), readline.PcItem("no"), readline.PcItem("silent"), readline.PcItem("unimplemented")),
				readline.PcItem("show", readline.PcItem("yes"), readline.PcItem("no"), readline.PcItem("silent"), readline.PcItem("unimplemented")),
			),
			readline.PcItem("status"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
		Stdin:  inFile,
		Stdout: out,
		Stderr: out,
	})
	if err != nil {
		return nil, err
	}
	return &readlineInput{rl: rl}, nil
}

func (r *readlineInput) Read() (string, error) {
	line, err := r.rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", err
	}
	return line, nil
}

func (r *readlineInput) Close() error {
	return r.rl.Close()
}

type stdioInput struct {
	in  *bufio.Reader
	out *printer
}

func (s *stdioInput) Read() (string, error) {
	s.out.printf("%s", defaultPrompt)
	line, err := s.in.ReadString('\n')
	if err != nil {
		if len(line) > 0 {
			return line, nil
		}
		return "", err
	}
	return line, nil
}

func (s *stdioInput) Close() error {
	return nil
}

// readInputLoop forwards lines until a read fails or ctx is done.
func readInputLoop(ctx context.Context, input promptInput, out chan<- inputEvent) {
	defer close(out)
	for {
		line, err := input.Read()
		select {
		case out <- inputEvent{line: line, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}
