// Package program reads ".maq" program images: a header field giving the
// intended load virtual address, followed by the body's instruction/data
// words. The image carries no length field; its length is the number of
// body words. Grounded on the teacher's emu/assemble text-record scanning
// style (bufio.Scanner, whitespace-separated fields, '#' comments),
// adapted to the plain decimal word stream this kernel's loader expects
// instead of assembler mnemonics.
package program

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Image is a program ready to be laid down on disk: a virtual load
// address and the sequence of words that follow it.
type Image struct {
	LoadAddr int
	Words    []int
}

// End returns the last virtual address occupied by the image.
func (img *Image) End() int {
	return img.LoadAddr + len(img.Words) - 1
}

// Read parses a ".maq" image from r. The format is line-oriented: '#'
// starts a comment to end of line, the first non-comment line holds the
// load address, and every field after that (across any number of lines)
// is one more word of the image body.
func Read(r io.Reader) (*Image, error) {
	scanner := bufio.NewScanner(r)
	var fields []string
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields = append(fields, strings.Fields(line)...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("program: read: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("program: empty image")
	}

	loadAddr, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("program: invalid load address %q: %w", fields[0], err)
	}

	words := make([]int, 0, len(fields)-1)
	for _, f := range fields[1:] {
		w, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("program: invalid word %q: %w", f, err)
		}
		words = append(words, w)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("program: image has no body words")
	}
	return &Image{LoadAddr: loadAddr, Words: words}, nil
}

// Load opens name and parses it as a ".maq" image.
func Load(name string) (*Image, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("program: open %s: %w", name, err)
	}
	defer f.Close()
	return Read(f)
}
