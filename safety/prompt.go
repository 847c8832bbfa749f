package safety

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Prompter asks the operator a question and returns the answer. It returns
// io.EOF once input is closed; callers treat that as an abort.
type Prompter interface {
	Ask(prompt string) (string, error)
}

// LinePrompter reads one line per question. It blocks until a line or EOF
// arrives; there is no timeout.
type LinePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewLinePrompter prompts on out and reads answers from in.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: bufio.NewReader(in), out: out}
}

// Ask prints prompt and returns the line typed, without its line ending.
func (p *LinePrompter) Ask(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	if err != nil {
		fmt.Fprintln(p.out)
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
