package repl

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// PlainReader 最简行输入：自行回显提示符，无历史与编辑
// PlainReader is the LineReader of last resort: it echoes the prompt
// itself and reads buffered lines, with no history or editing.
type PlainReader struct {
	in  *bufio.Reader
	out io.Writer
}

func NewPlainReader(in io.Reader, out io.Writer) *PlainReader {
	return &PlainReader{in: bufio.NewReader(in), out: out}
}

func (p *PlainReader) ReadLine(prompt string) (string, error) {
	if p.out != nil {
		fmt.Fprint(p.out, prompt)
	}
	line, err := p.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *PlainReader) Close() error { return nil }
